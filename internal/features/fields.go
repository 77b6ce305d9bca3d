// Package features defines the materialized feature columns and the pure
// merge rules applied when reconciling a candidate row into an existing one.
package features

import (
	"slices"

	"ml-feature-reconciler/internal/domain"
)

// Mode controls whether an existing value may be replaced.
type Mode int

const (
	// FillOnly columns are written only while the stored value is null.
	FillOnly Mode = iota
	// Mutable columns take the latest non-null source value.
	Mutable
)

func (m Mode) String() string {
	if m == Mutable {
		return "mutable"
	}
	return "fill-only"
}

// Field is one nullable column of ml_features_materialized.
type Field struct {
	Column string
	Mode   Mode

	float func(*domain.FeatureRow) **float64
	int   func(*domain.FeatureRow) **int64
}

func floatField(column string, mode Mode, ref func(*domain.FeatureRow) **float64) Field {
	return Field{Column: column, Mode: mode, float: ref}
}

func intField(column string, mode Mode, ref func(*domain.FeatureRow) **int64) Field {
	return Field{Column: column, Mode: mode, int: ref}
}

// IsSet reports whether row holds a value for the column.
func (f Field) IsSet(row *domain.FeatureRow) bool {
	if row == nil {
		return false
	}
	if f.float != nil {
		return *f.float(row) != nil
	}
	return *f.int(row) != nil
}

// Value returns the column value as float64/int64, or nil.
func (f Field) Value(row *domain.FeatureRow) any {
	if !f.IsSet(row) {
		return nil
	}
	if f.float != nil {
		return **f.float(row)
	}
	return **f.int(row)
}

// ScanTarget returns a pointer suitable for pgx Scan into the row's column.
func (f Field) ScanTarget(row *domain.FeatureRow) any {
	if f.float != nil {
		return f.float(row)
	}
	return f.int(row)
}

func (f Field) equal(a, b *domain.FeatureRow) bool {
	if f.IsSet(a) != f.IsSet(b) {
		return false
	}
	if !f.IsSet(a) {
		return true
	}
	return f.Value(a) == f.Value(b)
}

// copyValue stores a copy of src's value into dst.
func (f Field) copyValue(dst, src *domain.FeatureRow) {
	if f.float != nil {
		if v := *f.float(src); v != nil {
			val := *v
			*f.float(dst) = &val
		} else {
			*f.float(dst) = nil
		}
		return
	}
	if v := *f.int(src); v != nil {
		val := *v
		*f.int(dst) = &val
	} else {
		*f.int(dst) = nil
	}
}

// Fields lists every feature column in table order.
var Fields = []Field{
	floatField("current_price", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.CurrentPrice }),
	floatField("volume_24h", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.Volume24h }),
	floatField("market_cap", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.MarketCap }),
	floatField("price_change_percentage_24h", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.PriceChange24hPct }),

	floatField("open_price", Mutable, func(r *domain.FeatureRow) **float64 { return &r.OpenPrice }),
	floatField("high_price", Mutable, func(r *domain.FeatureRow) **float64 { return &r.HighPrice }),
	floatField("low_price", Mutable, func(r *domain.FeatureRow) **float64 { return &r.LowPrice }),
	floatField("close_price", Mutable, func(r *domain.FeatureRow) **float64 { return &r.ClosePrice }),
	floatField("ohlc_volume", Mutable, func(r *domain.FeatureRow) **float64 { return &r.OHLCVolume }),

	floatField("rsi_14", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.RSI14 }),
	floatField("sma_20", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.SMA20 }),
	floatField("sma_50", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.SMA50 }),
	floatField("ema_12", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.EMA12 }),
	floatField("ema_26", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.EMA26 }),
	floatField("macd", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.MACD }),
	floatField("macd_signal", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.MACDSignal }),
	floatField("macd_histogram", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.MACDHistogram }),
	floatField("bb_upper", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.BBUpper }),
	floatField("bb_middle", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.BBMiddle }),
	floatField("bb_lower", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.BBLower }),
	floatField("stoch_k", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.StochK }),
	floatField("stoch_d", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.StochD }),
	floatField("atr_14", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.ATR14 }),
	floatField("vwap", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.VWAP }),

	floatField("vix", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.VIX }),
	floatField("spx", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.SPX }),
	floatField("dxy", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.DXY }),
	floatField("treasury_10y", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.Treasury10Y }),
	floatField("treasury_2y", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.Treasury2Y }),
	floatField("fed_funds_rate", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.FedFundsRate }),

	intField("crypto_sentiment_count", FillOnly, func(r *domain.FeatureRow) **int64 { return &r.CryptoSentimentCount }),
	floatField("avg_cryptobert_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgCryptoBERTScore }),
	floatField("avg_vader_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgVaderScore }),
	floatField("avg_textblob_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgTextBlobScore }),
	floatField("avg_keyword_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgKeywordScore }),

	intField("general_sentiment_count", FillOnly, func(r *domain.FeatureRow) **int64 { return &r.GeneralSentimentCount }),
	floatField("general_cryptobert_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.GeneralCryptoBERTScore }),
	floatField("general_vader_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.GeneralVaderScore }),
	floatField("general_textblob_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.GeneralTextBlobScore }),
	floatField("general_keyword_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.GeneralKeywordScore }),

	intField("stock_sentiment_count", FillOnly, func(r *domain.FeatureRow) **int64 { return &r.StockSentimentCount }),
	floatField("avg_finbert_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgFinBERTScore }),
	floatField("avg_fear_greed_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgFearGreedScore }),
	floatField("avg_volatility_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgVolatilityScore }),
	floatField("avg_risk_appetite_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgRiskAppetiteScore }),
	floatField("avg_crypto_correlation_score", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.AvgCryptoCorrelationScore }),

	intField("social_post_count", Mutable, func(r *domain.FeatureRow) **int64 { return &r.SocialPostCount }),
	floatField("social_avg_sentiment", Mutable, func(r *domain.FeatureRow) **float64 { return &r.SocialAvgSentiment }),
	floatField("social_avg_confidence", Mutable, func(r *domain.FeatureRow) **float64 { return &r.SocialAvgConfidence }),
	intField("social_unique_authors", Mutable, func(r *domain.FeatureRow) **int64 { return &r.SocialUniqueAuthors }),

	intField("active_addresses_24h", FillOnly, func(r *domain.FeatureRow) **int64 { return &r.ActiveAddresses24h }),
	intField("transaction_count_24h", FillOnly, func(r *domain.FeatureRow) **int64 { return &r.TransactionCount24h }),
	floatField("exchange_net_flow_24h", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.ExchangeNetFlow24h }),
	floatField("price_volatility_7d", FillOnly, func(r *domain.FeatureRow) **float64 { return &r.PriceVolatility7d }),
}

var byColumn = func() map[string]Field {
	m := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		m[f.Column] = f
	}
	return m
}()

// Lookup returns the field registered under column.
func Lookup(column string) (Field, bool) {
	f, ok := byColumn[column]
	return f, ok
}

// MacroColumns are the only columns a macro indicator may populate.
var MacroColumns = []string{"vix", "spx", "dxy", "treasury_10y", "treasury_2y", "fed_funds_rate"}

func IsMacroColumn(column string) bool {
	return slices.Contains(MacroColumns, column)
}

// Columns returns the column names of fields in order.
func Columns(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Column
	}
	return out
}

// SetFloat stores v into a float column. It reports false for count columns.
func (f Field) SetFloat(row *domain.FeatureRow, v float64) bool {
	if f.float == nil || row == nil {
		return false
	}
	*f.float(row) = &v
	return true
}
