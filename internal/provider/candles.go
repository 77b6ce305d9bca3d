package provider

import (
	"math"
	"sort"
	"time"

	"ml-feature-reconciler/internal/domain"
)

var candleWidths = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// chartPoint is one [unix_ms, value] pair of a market_chart series.
type chartPoint struct {
	at    time.Time
	value float64
}

func parseSeries(raw [][]float64) []chartPoint {
	out := make([]chartPoint, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		out = append(out, chartPoint{at: time.UnixMilli(int64(pair[0])).UTC(), value: pair[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// aggregateCandles folds a price series into candles of the given interval.
// Each candle takes the volume sample nearest to its close time.
func aggregateCandles(symbol, interval string, prices, volumes [][]float64) []*domain.Candle {
	width, ok := candleWidths[interval]
	if !ok {
		return nil
	}
	series := parseSeries(prices)
	if len(series) == 0 {
		return nil
	}

	var (
		out []*domain.Candle
		cur *domain.Candle
	)
	for _, p := range series {
		openTime := p.at.Truncate(width)
		if cur == nil || !cur.OpenTime.Equal(openTime) {
			cur = &domain.Candle{
				Symbol:   symbol,
				Interval: interval,
				OpenTime: openTime,
				Open:     p.value,
				High:     p.value,
				Low:      p.value,
				Close:    p.value,
			}
			out = append(out, cur)
			continue
		}
		cur.High = math.Max(cur.High, p.value)
		cur.Low = math.Min(cur.Low, p.value)
		cur.Close = p.value
	}

	vols := parseSeries(volumes)
	for _, c := range out {
		c.Volume = nearestValue(vols, c.OpenTime.Add(width))
	}
	return out
}

// nearestValue returns the value of the sorted series point closest to at.
// Ties go to the earlier point.
func nearestValue(series []chartPoint, at time.Time) float64 {
	if len(series) == 0 {
		return 0
	}
	i := sort.Search(len(series), func(i int) bool { return !series[i].at.Before(at) })
	best := -1
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(series) {
			continue
		}
		if best < 0 || absDuration(series[j].at.Sub(at)) < absDuration(series[best].at.Sub(at)) {
			best = j
		}
	}
	return series[best].value
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
