package domain

import "time"

// Candle represents a single OHLCV candle for an asset at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// PriceSnapshot is the provider's latest quote for an asset.
type PriceSnapshot struct {
	Symbol          string  `json:"symbol"`
	PriceUSD        float64 `json:"price_usd"`
	Volume24h       float64 `json:"volume_24h"`
	MarketCap       float64 `json:"market_cap"`
	Change24hPct    float64 `json:"change_24h_pct"`
	LastUpdatedUnix int64   `json:"last_updated_unix"`
}

// Tick converts the snapshot to a price_data row. Zero values are stored as null.
func (s PriceSnapshot) Tick(at time.Time) PriceTick {
	tick := PriceTick{Symbol: s.Symbol, Timestamp: at.UTC()}
	if s.PriceUSD > 0 {
		v := s.PriceUSD
		tick.Price = &v
	}
	if s.Volume24h > 0 {
		v := s.Volume24h
		tick.Volume = &v
	}
	if s.MarketCap > 0 {
		v := s.MarketCap
		tick.MarketCap = &v
	}
	if s.Change24hPct != 0 {
		v := s.Change24hPct
		tick.Change24hPct = &v
	}
	return tick
}
