// Package confidence computes confidence intervals and the fatigue-aware
// data-quality score.
package confidence

import (
	"fmt"
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/norms"
)

// Retest threshold: below this confidence a retake is recommended.
const retestThreshold = 0.75

// Interval is a symmetric confidence band around a point probability.
type Interval struct {
	Lower  float64
	Upper  float64
	HalfCI float64
}

// Label renders the interval for display.
func (i Interval) Label() string {
	return fmt.Sprintf("%.1f%% - %.1f%%", i.Lower*100, i.Upper*100)
}

// IntervalFor computes the confidence band for a probability:
// half = 0.04 + max(0, 0.03 - |p-0.5|*0.06), clamped into [0,1].
// The band is widest at p=0.5 and narrows toward the extremes, and it
// always contains the point estimate.
func IntervalFor(p float64) Interval {
	p = norms.Clamp(p, 0, 1)
	half := 0.04 + math.Max(0, 0.03-math.Abs(p-0.5)*0.06)
	return Interval{
		Lower:  norms.Clamp(p-half, 0, 1),
		Upper:  norms.Clamp(p+half, 0, 1),
		HalfCI: half,
	}
}

// Fatigue is the session data-quality outcome.
type Fatigue struct {
	Confidence      float64
	RecommendRetest bool
	RetestMessage   string
}

// Score computes confidence = 1 - missingRatio - sum(penalty_i * flag_i)
// over the active fatigue penalty table. Low confidence recommends a
// retest but never blocks the result.
func Score(set *domain.NormSet, flags domain.FatigueFlags, missingRatio float64) Fatigue {
	c := 1.0 - norms.Clamp(missingRatio, 0, 1)
	for name, active := range flags.Set() {
		if active {
			c -= set.FatiguePenalty[name]
		}
	}
	c = norms.Clamp(c, 0, 1)

	f := Fatigue{Confidence: c}
	if c < retestThreshold {
		f.RecommendRetest = true
		f.RetestMessage = fmt.Sprintf(
			"Session confidence is %.0f%%. Fatigue or missing tests may have affected the "+
				"results; consider retaking the assessment when rested.", c*100)
	}
	return f
}

// MissingRatio is the share of the five domains left unmeasured.
func MissingRatio(scores domain.DomainScores) float64 {
	var missing int
	for _, d := range domain.AllDomains {
		if !scores.Get(d).Valid {
			missing++
		}
	}
	return float64(missing) / float64(len(domain.AllDomains))
}
