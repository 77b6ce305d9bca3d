package features

import (
	"math"
	"time"

	"ml-feature-reconciler/internal/domain"

	"github.com/shopspring/decimal"
)

// ChangeOptions bounds the derived 24h change.
type ChangeOptions struct {
	Tolerance time.Duration
	MaxAbsPct float64
}

// DefaultChangeOptions matches the collector defaults: ±1h lookback, 1000% cap.
var DefaultChangeOptions = ChangeOptions{Tolerance: time.Hour, MaxAbsPct: 1000}

// Change24h derives the 24h change of current from history. It returns nil when
// no tick lies within tolerance of current-24h, the prior price is not positive,
// or the magnitude exceeds MaxAbsPct. The result is rounded to 6 decimals.
func Change24h(current domain.PriceTick, history []domain.PriceTick, opts ChangeOptions) *float64 {
	if current.Price == nil {
		return nil
	}
	prior, ok := closestTick(history, current.Timestamp.Add(-24*time.Hour), opts.Tolerance)
	if !ok || prior.Price == nil || *prior.Price <= 0 {
		return nil
	}

	cur := decimal.NewFromFloat(*current.Price)
	prev := decimal.NewFromFloat(*prior.Price)
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(6)

	value, _ := pct.Float64()
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	if opts.MaxAbsPct > 0 && math.Abs(value) > opts.MaxAbsPct {
		return nil
	}
	return &value
}

func closestTick(history []domain.PriceTick, target time.Time, tolerance time.Duration) (domain.PriceTick, bool) {
	var best domain.PriceTick
	bestDiff := time.Duration(math.MaxInt64)
	found := false
	for _, tick := range history {
		if tick.Price == nil {
			continue
		}
		diff := tick.Timestamp.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			continue
		}
		if diff < bestDiff {
			best, bestDiff, found = tick, diff, true
		}
	}
	return best, found
}
