package norms

import (
	"fmt"
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
)

// Fallback bracket when the profile carries no age at all.
const defaultBracket = domain.Bracket40to59

// Normalizer maps raw metrics to age-adjusted [0,100] scores against a
// norm set. One Normalizer is built per submission so every metric of the
// submission is scored against the same calibration snapshot.
type Normalizer struct {
	set     *domain.NormSet
	bracket domain.AgeBracket
	warns   []domain.Warning
}

// NewNormalizer resolves the age bracket once for a submission.
// A missing age falls back to the middle bracket and an out-of-table age
// clamps to the nearest bracket; both attach a calibration warning, never
// an error.
func (s *Store) NewNormalizer(age *int) *Normalizer {
	n := &Normalizer{set: s.Current()}
	if age == nil {
		n.bracket = defaultBracket
		n.warns = append(n.warns, domain.Warning{
			Code:    domain.WarnCalibration,
			Message: "age missing: normalized against the 40-59 bracket",
		})
		return n
	}
	bracket, clamped := domain.BracketForAge(*age)
	n.bracket = bracket
	if clamped {
		n.warns = append(n.warns, domain.Warning{
			Code:    domain.WarnCalibration,
			Message: fmt.Sprintf("age %d outside tabulated brackets: clamped to %s", *age, bracket),
		})
	}
	return n
}

// Warnings returns the calibration warnings accumulated so far.
func (n *Normalizer) Warnings() []domain.Warning {
	return n.warns
}

// MetricScore converts one raw metric to a [0,100] score:
// Z = (X - mean) / std, negated for lower-is-better metrics, then
// score = clamp(50 + 15Z, 0, 100). A raw value exactly at the bracket
// mean scores 50. Absent metrics stay absent.
func (n *Normalizer) MetricScore(mt domain.MetricType, m domain.Metric) domain.Metric {
	if !m.Valid {
		return domain.Absent
	}
	byBracket, ok := n.set.Metrics[mt]
	if !ok {
		n.warns = append(n.warns, domain.Warning{
			Code:    domain.WarnCalibration,
			Message: fmt.Sprintf("no norms for metric %s: metric skipped", mt),
		})
		return domain.Absent
	}
	norm := byBracket[n.bracket]
	if norm.StdDev <= 0 {
		return domain.Absent
	}

	z := (m.Value - norm.Mean) / norm.StdDev
	if norm.LowerBetter {
		z = -z
	}
	return domain.Present(Clamp(50+z*15, 0, 100))
}

// DomainScore averages the present metric scores of one domain.
// An unmeasured domain stays absent.
func (n *Normalizer) DomainScore(fv *domain.FeatureVector, d domain.TestDomain) domain.Metric {
	var sum float64
	var count int
	for _, f := range fv.DomainFeatures(d) {
		score := n.MetricScore(f.Type, f.Value)
		if score.Valid {
			sum += score.Value
			count++
		}
	}
	if count == 0 {
		return domain.Absent
	}
	return domain.Present(sum / float64(count))
}

// AdjustMemory applies the cognitive-reserve education correction:
// adjusted = clamp(memory + beta*100, 0, 100). Education levels outside
// the 5-level table fall back to no correction with a calibration warning.
func (n *Normalizer) AdjustMemory(memory domain.Metric, educationLevel *int) domain.Metric {
	if !memory.Valid {
		return domain.Absent
	}
	if educationLevel == nil {
		return memory
	}
	beta, ok := n.set.EducationBeta[*educationLevel]
	if !ok {
		n.warns = append(n.warns, domain.Warning{
			Code:    domain.WarnCalibration,
			Message: fmt.Sprintf("education level %d outside tabulated range: no correction applied", *educationLevel),
		})
		return memory
	}
	return domain.Present(Clamp(memory.Value+beta*100, 0, 100))
}

// AgeFactor returns the composite leniency multiplier for the profile age.
func (n *Normalizer) AgeFactor(age *int) float64 {
	if age == nil {
		return 1.0
	}
	factor, clamped := n.set.AgeFactor(*age)
	if clamped {
		n.warns = append(n.warns, domain.Warning{
			Code:    domain.WarnCalibration,
			Message: fmt.Sprintf("age %d below leniency table: factor clamped to %.2f", *age, factor),
		})
	}
	return factor
}

// Clamp bounds v into [lo, hi] and squashes non-finite values to lo.
// Every pipeline stage clamps its output so NaN and Inf never propagate.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
