// Package risk implements the closed-form logistic risk models.
package risk

import (
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/norms"
)

// Probability computes one logistic model over the domain health scores.
// Each domain contributes a risk ratio r = (100 - score) / 100; the logit
// is intercept + scale * sum(beta_d * r_d). Betas over absent optional
// domains are renormalized so a skipped motor test does not silently read
// as a perfect one.
func Probability(model domain.LogisticModel, scores domain.DomainScores) float64 {
	var weighted, betaPresent, betaTotal float64

	for _, d := range domain.AllDomains {
		beta := model.Beta(d)
		if beta == 0 {
			continue
		}
		betaTotal += beta
		score := scores.Get(d)
		if !score.Valid {
			continue
		}
		betaPresent += beta
		r := (100 - norms.Clamp(score.Value, 0, 100)) / 100
		weighted += beta * r
	}

	if betaPresent <= 0 {
		// No scored domain feeds this model; report the intercept baseline.
		return sigmoid(model.Intercept)
	}
	if betaPresent < betaTotal {
		weighted *= betaTotal / betaPresent
	}

	logit := model.Intercept + model.Scale*weighted
	return norms.Clamp(sigmoid(logit), 0, 1)
}

// DiseaseProbabilities runs the three per-disease models. The outputs are
// the raw (pre-clinical-adjustment) probabilities.
func DiseaseProbabilities(set *domain.NormSet, scores domain.DomainScores) (alzheimers, dementia, parkinsons float64) {
	alzheimers = Probability(set.Logistic[domain.ModelAlzheimers], scores)
	dementia = Probability(set.Logistic[domain.ModelDementia], scores)
	parkinsons = Probability(set.Logistic[domain.ModelParkinsons], scores)
	return alzheimers, dementia, parkinsons
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
