// Package composite folds per-domain scores into a single age-adjusted
// risk score and the hybrid probability blend.
package composite

import (
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/norms"
)

// Hybrid blend coefficients: the clinically adjusted probability dominates,
// the raw model output anchors the blend against over-correction.
const (
	hybridAdjustedWeight = 0.6
	hybridRawWeight      = 0.4
)

// Result is the composite scoring outcome.
type Result struct {
	HealthScore float64
	RiskScore   float64
	Tier        string
	AgeFactor   float64
}

// Score computes the weighted health score over present domains, applies
// the age leniency factor, and inverts to a 0-100 risk score. Weights of
// absent domains are redistributed proportionally across the present ones;
// with no domains present the risk is reported as the ambiguous midpoint.
func Score(set *domain.NormSet, scores domain.DomainScores, ageFactor float64) Result {
	factor := ageFactor
	if factor <= 0 {
		factor = 1.0
	}

	var weighted, weightTotal float64
	for _, d := range domain.AllDomains {
		s := scores.Get(d)
		if !s.Valid {
			continue
		}
		w := set.Weights.Weight(d)
		weighted += w * s.Value
		weightTotal += w
	}

	r := Result{AgeFactor: factor}
	if weightTotal <= 0 {
		r.HealthScore = 50
		r.RiskScore = 50
		r.Tier = domain.CompositeTier(r.RiskScore)
		return r
	}

	r.HealthScore = weighted / weightTotal
	r.RiskScore = 100 - math.Min(100, r.HealthScore*factor)
	r.RiskScore = norms.Clamp(r.RiskScore, 0, 100)
	r.Tier = domain.CompositeTier(r.RiskScore)
	return r
}

// HybridRisk blends the clinically adjusted concern probability with the
// raw model signal: 0.6*adjusted + 0.4*raw.
func HybridRisk(adjusted, raw float64) float64 {
	return norms.Clamp(hybridAdjustedWeight*adjusted+hybridRawWeight*raw, 0, 1)
}
