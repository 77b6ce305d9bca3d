package features

import "ml-feature-reconciler/internal/domain"

const (
	weightPrice     = 15
	weightVolume    = 15
	weightOHLC      = 10
	weightIndicator = 10
	weightSentiment = 10
	maxQualityScore = 100
)

// QualityScore weights the presence of core columns into a 0..100 score.
func QualityScore(row *domain.FeatureRow) float64 {
	if row == nil {
		return 0
	}
	score := 0
	if row.CurrentPrice != nil {
		score += weightPrice
	}
	if row.Volume24h != nil {
		score += weightVolume
	}
	if row.OpenPrice != nil && row.HighPrice != nil && row.LowPrice != nil && row.ClosePrice != nil {
		score += weightOHLC
	}
	for _, v := range []*float64{row.RSI14, row.SMA20, row.EMA12, row.MACD} {
		if v != nil {
			score += weightIndicator
		}
	}
	if positive(row.CryptoSentimentCount) || positive(row.GeneralSentimentCount) {
		score += weightSentiment
	}
	if positive(row.SocialPostCount) {
		score += weightSentiment
	}
	if score > maxQualityScore {
		score = maxQualityScore
	}
	return float64(score)
}

func positive(v *int64) bool {
	return v != nil && *v > 0
}
