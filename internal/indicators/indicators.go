// Package indicators derives technical_indicators rows from hourly candles.
package indicators

import (
	"math"

	"ml-feature-reconciler/internal/domain"

	"github.com/markcheno/go-talib"
)

const vwapWindow = 24

// Index of the first valid output for each indicator. ta-lib zero-fills the
// warm-up region, so values before these are discarded.
const (
	warmRSI   = 14
	warmSMA20 = 19
	warmSMA50 = 49
	warmEMA12 = 11
	warmEMA26 = 25
	warmMACD  = 33 // slow-1 + signal-1
	warmBB    = 19
	warmStoch = 17 // fastK-1 + slowK-1 + slowD-1
	warmATR   = 14
	warmVWAP  = vwapWindow - 1
)

// series holds the candle columns in chronological order.
type series struct {
	high, low, close, volume []float64
}

func prepare(candles []*domain.Candle) series {
	s := series{
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.high[i] = c.High
		s.low[i] = c.Low
		s.close[i] = c.Close
		s.volume[i] = c.Volume
	}
	return s
}

// Compute returns one snapshot per candle once at least EMA(12) is warmed up.
// Candles must be sorted oldest first. Indicators still inside their warm-up
// window are left nil.
func Compute(candles []*domain.Candle) []domain.TechnicalSnapshot {
	n := len(candles)
	if n <= warmEMA12 {
		return nil
	}
	s := prepare(candles)

	var (
		rsi, sma20, sma50, ema12, ema26 []float64
		macd, macdSignal, macdHist      []float64
		bbUpper, bbMiddle, bbLower      []float64
		stochK, stochD, atr             []float64
	)
	ema12 = talib.Ema(s.close, 12)
	if n > warmRSI {
		rsi = talib.Rsi(s.close, 14)
		atr = talib.Atr(s.high, s.low, s.close, 14)
	}
	if n > warmSMA20 {
		sma20 = talib.Sma(s.close, 20)
		bbUpper, bbMiddle, bbLower = talib.BBands(s.close, 20, 2.0, 2.0, talib.SMA)
	}
	if n > warmStoch {
		stochK, stochD = talib.Stoch(s.high, s.low, s.close, 14, 3, talib.SMA, 3, talib.SMA)
	}
	if n > warmEMA26 {
		ema26 = talib.Ema(s.close, 26)
	}
	if n > warmMACD {
		macd, macdSignal, macdHist = talib.Macd(s.close, 12, 26, 9)
	}
	if n > warmSMA50 {
		sma50 = talib.Sma(s.close, 50)
	}
	vwap := rollingVWAP(s, vwapWindow)

	out := make([]domain.TechnicalSnapshot, 0, n-warmEMA12)
	for i := warmEMA12; i < n; i++ {
		out = append(out, domain.TechnicalSnapshot{
			Symbol:        candles[i].Symbol,
			Timestamp:     candles[i].OpenTime.UTC(),
			RSI14:         at(rsi, i, warmRSI),
			SMA20:         at(sma20, i, warmSMA20),
			SMA50:         at(sma50, i, warmSMA50),
			EMA12:         at(ema12, i, warmEMA12),
			EMA26:         at(ema26, i, warmEMA26),
			MACD:          at(macd, i, warmMACD),
			MACDSignal:    at(macdSignal, i, warmMACD),
			MACDHistogram: at(macdHist, i, warmMACD),
			BBUpper:       at(bbUpper, i, warmBB),
			BBMiddle:      at(bbMiddle, i, warmBB),
			BBLower:       at(bbLower, i, warmBB),
			StochK:        at(stochK, i, warmStoch),
			StochD:        at(stochD, i, warmStoch),
			ATR14:         at(atr, i, warmATR),
			VWAP:          at(vwap, i, warmVWAP),
		})
	}
	return out
}

// rollingVWAP uses the typical price over the trailing window. Windows without
// volume yield NaN.
func rollingVWAP(s series, window int) []float64 {
	out := make([]float64, len(s.close))
	var pv, vol float64
	for i := range s.close {
		typical := (s.high[i] + s.low[i] + s.close[i]) / 3
		pv += typical * s.volume[i]
		vol += s.volume[i]
		if i >= window {
			j := i - window
			pv -= (s.high[j] + s.low[j] + s.close[j]) / 3 * s.volume[j]
			vol -= s.volume[j]
		}
		if vol > 0 {
			out[i] = pv / vol
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func at(values []float64, i, warm int) *float64 {
	if i < warm || i >= len(values) {
		return nil
	}
	v := values[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
