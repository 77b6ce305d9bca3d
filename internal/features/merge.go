package features

import "ml-feature-reconciler/internal/domain"

// Merge returns the fields of candidate that should be written over existing.
// A nil existing row stages every populated candidate field. A null candidate
// value never clears a stored one, whatever the field's mode.
func Merge(existing *domain.FeatureRow, candidate *domain.FeatureRow) []Field {
	staged := make([]Field, 0, 8)
	for _, f := range Fields {
		if !f.IsSet(candidate) {
			continue
		}
		if existing == nil || !f.IsSet(existing) {
			staged = append(staged, f)
			continue
		}
		if f.Mode == Mutable && !f.equal(existing, candidate) {
			staged = append(staged, f)
		}
	}
	return staged
}

// Apply copies the staged fields from src into dst.
func Apply(dst, src *domain.FeatureRow, staged []Field) {
	for _, f := range staged {
		f.copyValue(dst, src)
	}
}
