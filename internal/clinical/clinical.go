// Package clinical applies medical-history adjustment to model probabilities.
package clinical

import (
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
)

// Adjusted probabilities never exceed this ceiling; a screening signal is
// not a diagnosis.
const probabilityCap = 0.95

// Adjust scales a base probability by the subject's reported conditions:
// p_final = min(cap, p * (1 + sum(gamma_i * c_i))). Unknown condition keys
// in the flag set are ignored; gammas come from the active norm set so a
// recalibration can retune them without a rebuild.
func Adjust(set *domain.NormSet, p float64, conditions domain.ConditionFlags) float64 {
	factor := 1.0
	for name, active := range conditions.Set() {
		if active {
			factor += set.ConditionGamma[name]
		}
	}
	return math.Min(probabilityCap, math.Max(0, p*factor))
}

// AdjustAll applies the condition adjustment to every disease model output,
// keeping the raw values alongside for model comparison.
func AdjustAll(set *domain.NormSet, raw domain.DiseaseRisks, conditions domain.ConditionFlags) domain.DiseaseRisks {
	out := raw
	out.Alzheimers = Adjust(set, raw.RawAlzheimers, conditions)
	out.Dementia = Adjust(set, raw.RawDementia, conditions)
	out.Parkinsons = Adjust(set, raw.RawParkinsons, conditions)
	return out
}
