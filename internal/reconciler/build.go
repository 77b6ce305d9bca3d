package reconciler

import (
	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/features"
)

// buildCandidate assembles the row the sources currently support for one hour.
// Daily sources (OHLC, technical, macro, on-chain) apply to every hour of
// their UTC day; sentiment and social aggregates are per hour.
func buildCandidate(symbol string, tick domain.PriceTick, key domain.HourKey, batch domain.SourceBatch) *domain.FeatureRow {
	row := &domain.FeatureRow{
		Symbol:            symbol,
		PriceDate:         domain.StartOfDay(tick.Timestamp),
		PriceHour:         key.Hour,
		CurrentPrice:      tick.Price,
		Volume24h:         tick.Volume,
		MarketCap:         tick.MarketCap,
		PriceChange24hPct: tick.Change24hPct,
	}

	if bar, ok := batch.OHLC[key.Day]; ok {
		row.OpenPrice = bar.Open
		row.HighPrice = bar.High
		row.LowPrice = bar.Low
		row.ClosePrice = bar.Close
		row.OHLCVolume = bar.Volume
	}

	if ta, ok := batch.Technical[key.Day]; ok {
		row.RSI14 = ta.RSI14
		row.SMA20 = ta.SMA20
		row.SMA50 = ta.SMA50
		row.EMA12 = ta.EMA12
		row.EMA26 = ta.EMA26
		row.MACD = ta.MACD
		row.MACDSignal = ta.MACDSignal
		row.MACDHistogram = ta.MACDHistogram
		row.BBUpper = ta.BBUpper
		row.BBMiddle = ta.BBMiddle
		row.BBLower = ta.BBLower
		row.StochK = ta.StochK
		row.StochD = ta.StochD
		row.ATR14 = ta.ATR14
		row.VWAP = ta.VWAP
	}

	if macro, ok := batch.Macro[key.Day]; ok {
		for column, value := range macro.Values {
			if !features.IsMacroColumn(column) {
				continue
			}
			if f, ok := features.Lookup(column); ok {
				f.SetFloat(row, value)
			}
		}
	}

	if s, ok := batch.CoinSentiment[key]; ok && s.Count > 0 {
		row.CryptoSentimentCount = int64Ptr(s.Count)
		row.AvgCryptoBERTScore = s.CryptoBERT
		row.AvgVaderScore = s.Vader
		row.AvgTextBlobScore = s.TextBlob
		row.AvgKeywordScore = s.Keyword
	}

	if s, ok := batch.GeneralSentiment[key]; ok && s.Count > 0 {
		row.GeneralSentimentCount = int64Ptr(s.Count)
		row.GeneralCryptoBERTScore = s.CryptoBERT
		row.GeneralVaderScore = s.Vader
		row.GeneralTextBlobScore = s.TextBlob
		row.GeneralKeywordScore = s.Keyword
	}

	if s, ok := batch.StockSentiment[key]; ok && s.Count > 0 {
		row.StockSentimentCount = int64Ptr(s.Count)
		row.AvgFinBERTScore = s.FinBERT
		row.AvgFearGreedScore = s.FearGreed
		row.AvgVolatilityScore = s.Volatility
		row.AvgRiskAppetiteScore = s.RiskAppetite
		row.AvgCryptoCorrelationScore = s.CryptoCorrelation
	}

	if s, ok := batch.Social[key]; ok && s.PostCount > 0 {
		row.SocialPostCount = int64Ptr(s.PostCount)
		row.SocialAvgSentiment = s.AvgSentiment
		row.SocialAvgConfidence = s.AvgConfidence
		row.SocialUniqueAuthors = int64Ptr(s.UniqueAuthors)
	}

	if oc, ok := batch.OnChain[key.Day]; ok {
		row.ActiveAddresses24h = oc.ActiveAddresses24h
		row.TransactionCount24h = oc.TransactionCount24h
		row.ExchangeNetFlow24h = oc.ExchangeNetFlow24h
		row.PriceVolatility7d = oc.PriceVolatility7d
	}

	return row
}

func int64Ptr(v int64) *int64 { return &v }
