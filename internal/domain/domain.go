package domain

import "time"

// FeatureRow is one hourly record of ml_features_materialized.
type FeatureRow struct {
	Symbol    string    `json:"symbol"`
	PriceDate time.Time `json:"price_date"`
	PriceHour int       `json:"price_hour"`

	CurrentPrice      *float64 `json:"current_price,omitempty"`
	Volume24h         *float64 `json:"volume_24h,omitempty"`
	MarketCap         *float64 `json:"market_cap,omitempty"`
	PriceChange24hPct *float64 `json:"price_change_percentage_24h,omitempty"`

	OpenPrice  *float64 `json:"open_price,omitempty"`
	HighPrice  *float64 `json:"high_price,omitempty"`
	LowPrice   *float64 `json:"low_price,omitempty"`
	ClosePrice *float64 `json:"close_price,omitempty"`
	OHLCVolume *float64 `json:"ohlc_volume,omitempty"`

	RSI14         *float64 `json:"rsi_14,omitempty"`
	SMA20         *float64 `json:"sma_20,omitempty"`
	SMA50         *float64 `json:"sma_50,omitempty"`
	EMA12         *float64 `json:"ema_12,omitempty"`
	EMA26         *float64 `json:"ema_26,omitempty"`
	MACD          *float64 `json:"macd,omitempty"`
	MACDSignal    *float64 `json:"macd_signal,omitempty"`
	MACDHistogram *float64 `json:"macd_histogram,omitempty"`
	BBUpper       *float64 `json:"bb_upper,omitempty"`
	BBMiddle      *float64 `json:"bb_middle,omitempty"`
	BBLower       *float64 `json:"bb_lower,omitempty"`
	StochK        *float64 `json:"stoch_k,omitempty"`
	StochD        *float64 `json:"stoch_d,omitempty"`
	ATR14         *float64 `json:"atr_14,omitempty"`
	VWAP          *float64 `json:"vwap,omitempty"`

	VIX          *float64 `json:"vix,omitempty"`
	SPX          *float64 `json:"spx,omitempty"`
	DXY          *float64 `json:"dxy,omitempty"`
	Treasury10Y  *float64 `json:"treasury_10y,omitempty"`
	Treasury2Y   *float64 `json:"treasury_2y,omitempty"`
	FedFundsRate *float64 `json:"fed_funds_rate,omitempty"`

	CryptoSentimentCount *int64   `json:"crypto_sentiment_count,omitempty"`
	AvgCryptoBERTScore   *float64 `json:"avg_cryptobert_score,omitempty"`
	AvgVaderScore        *float64 `json:"avg_vader_score,omitempty"`
	AvgTextBlobScore     *float64 `json:"avg_textblob_score,omitempty"`
	AvgKeywordScore      *float64 `json:"avg_keyword_score,omitempty"`

	GeneralSentimentCount  *int64   `json:"general_sentiment_count,omitempty"`
	GeneralCryptoBERTScore *float64 `json:"general_cryptobert_score,omitempty"`
	GeneralVaderScore      *float64 `json:"general_vader_score,omitempty"`
	GeneralTextBlobScore   *float64 `json:"general_textblob_score,omitempty"`
	GeneralKeywordScore    *float64 `json:"general_keyword_score,omitempty"`

	StockSentimentCount       *int64   `json:"stock_sentiment_count,omitempty"`
	AvgFinBERTScore           *float64 `json:"avg_finbert_score,omitempty"`
	AvgFearGreedScore         *float64 `json:"avg_fear_greed_score,omitempty"`
	AvgVolatilityScore        *float64 `json:"avg_volatility_score,omitempty"`
	AvgRiskAppetiteScore      *float64 `json:"avg_risk_appetite_score,omitempty"`
	AvgCryptoCorrelationScore *float64 `json:"avg_crypto_correlation_score,omitempty"`

	SocialPostCount     *int64   `json:"social_post_count,omitempty"`
	SocialAvgSentiment  *float64 `json:"social_avg_sentiment,omitempty"`
	SocialAvgConfidence *float64 `json:"social_avg_confidence,omitempty"`
	SocialUniqueAuthors *int64   `json:"social_unique_authors,omitempty"`

	ActiveAddresses24h  *int64   `json:"active_addresses_24h,omitempty"`
	TransactionCount24h *int64   `json:"transaction_count_24h,omitempty"`
	ExchangeNetFlow24h  *float64 `json:"exchange_net_flow_24h,omitempty"`
	PriceVolatility7d   *float64 `json:"price_volatility_7d,omitempty"`

	DataQualityScore float64    `json:"data_quality_score"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Timestamp returns the start of the row's hour.
func (r FeatureRow) Timestamp() time.Time {
	return r.PriceDate.UTC().Add(time.Duration(r.PriceHour) * time.Hour)
}

// Key identifies the row's (date, hour) slot.
func (r FeatureRow) Key() HourKey {
	return HourKey{Day: DayKey(r.PriceDate), Hour: r.PriceHour}
}

// HourKey identifies one (date, hour) bucket.
type HourKey struct {
	Day  string
	Hour int
}

// NewHourKey buckets t into its UTC (date, hour).
func NewHourKey(t time.Time) HourKey {
	t = t.UTC()
	return HourKey{Day: DayKey(t), Hour: t.Hour()}
}

// DayKey formats the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PriceTick is one row of price_data.
type PriceTick struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	Price        *float64  `json:"current_price"`
	Volume       *float64  `json:"volume,omitempty"`
	MarketCap    *float64  `json:"market_cap,omitempty"`
	Change24hPct *float64  `json:"price_change_24h,omitempty"`
}

// OHLCBar is the daily bar from ohlc_data.
type OHLCBar struct {
	Symbol    string
	Timestamp time.Time
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	Volume    *float64
}

// TechnicalSnapshot is the latest technical_indicators row of a day.
type TechnicalSnapshot struct {
	Symbol        string
	Timestamp     time.Time
	RSI14         *float64
	SMA20         *float64
	SMA50         *float64
	EMA12         *float64
	EMA26         *float64
	MACD          *float64
	MACDSignal    *float64
	MACDHistogram *float64
	BBUpper       *float64
	BBMiddle      *float64
	BBLower       *float64
	StochK        *float64
	StochD        *float64
	ATR14         *float64
	VWAP          *float64
}

// MacroSnapshot holds one day of macro indicators keyed by feature column.
type MacroSnapshot struct {
	Date   time.Time
	Values map[string]float64
}

// SentimentAggregate is COUNT/AVG over crypto_sentiment_data for an hour.
type SentimentAggregate struct {
	Count      int64
	CryptoBERT *float64
	Vader      *float64
	TextBlob   *float64
	Keyword    *float64
}

// StockSentimentAggregate is COUNT/AVG over stock_sentiment_data for an hour.
type StockSentimentAggregate struct {
	Count             int64
	FinBERT           *float64
	FearGreed         *float64
	Volatility        *float64
	RiskAppetite      *float64
	CryptoCorrelation *float64
}

// SocialAggregate is COUNT/AVG over social_sentiment_data for an hour.
type SocialAggregate struct {
	PostCount     int64
	AvgSentiment  *float64
	AvgConfidence *float64
	UniqueAuthors int64
}

// OnChainSnapshot is the latest crypto_onchain_data row of a day.
type OnChainSnapshot struct {
	Symbol              string
	Timestamp           time.Time
	ActiveAddresses24h  *int64
	TransactionCount24h *int64
	ExchangeNetFlow24h  *float64
	PriceVolatility7d   *float64
}

// SourceBatch holds every lookup needed to reconcile one symbol's window.
type SourceBatch struct {
	Technical        map[string]TechnicalSnapshot
	Macro            map[string]MacroSnapshot
	OnChain          map[string]OnChainSnapshot
	OHLC             map[string]OHLCBar
	CoinSentiment    map[HourKey]SentimentAggregate
	GeneralSentiment map[HourKey]SentimentAggregate
	StockSentiment   map[HourKey]StockSentimentAggregate
	Social           map[HourKey]SocialAggregate
}

// CompletenessReport summarises materialized coverage for one symbol.
type CompletenessReport struct {
	Symbol          string  `json:"symbol"`
	ExpectedHours   int     `json:"expected_hours"`
	RowsPresent     int     `json:"rows_present"`
	RowsWithData    int     `json:"rows_with_data"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	CompletenessPct float64 `json:"completeness_pct"`
}

// BatchRequest scopes the per-symbol source lookups of one reconcile window.
// From is inclusive and To exclusive.
type BatchRequest struct {
	Symbol     string
	MatchTerms []string
	// MacroColumns maps macro indicator names to feature columns.
	MacroColumns map[string]string
	From         time.Time
	To           time.Time
}
