package risk

import (
	"math"
	"testing"

	"github.com/opensense-health/kestrel/internal/domain"
)

func allScores(v float64) domain.DomainScores {
	m := domain.Present(v)
	return domain.DomainScores{Speech: m, Memory: m, Reaction: m, Executive: m, Motor: m}
}

func TestProbability(t *testing.T) {
	set := domain.DefaultNormSet()
	concern := set.Logistic[domain.ModelConcern]

	t.Run("PerfectScoresHitIntercept", func(t *testing.T) {
		// All risk ratios zero: the logit collapses to the intercept.
		got := Probability(concern, allScores(100))
		want := 1 / (1 + math.Exp(1.5))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("p = %.4f, want %.4f", got, want)
		}
	})

	t.Run("AverageScores", func(t *testing.T) {
		// r = 0.5 for every domain, betas sum to 1: logit = -1.5 + 4*0.5.
		got := Probability(concern, allScores(50))
		want := 1 / (1 + math.Exp(-0.5))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("p = %.4f, want %.4f", got, want)
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		prev := -1.0
		for score := 100.0; score >= 0; score -= 10 {
			p := Probability(concern, allScores(score))
			if p < prev {
				t.Fatalf("probability decreased as scores worsened at score %.0f", score)
			}
			prev = p
		}
	})

	t.Run("Bounded", func(t *testing.T) {
		for _, score := range []float64{0, 25, 50, 75, 100} {
			p := Probability(concern, allScores(score))
			if p < 0 || p > 1 {
				t.Errorf("p = %.4f out of [0,1] at score %.0f", p, score)
			}
		}
	})

	t.Run("AbsentOptionalDomainRenormalizes", func(t *testing.T) {
		parkinsons := set.Logistic[domain.ModelParkinsons]
		full := allScores(50)
		partial := full
		partial.Motor = domain.Absent

		// Uniform scores: renormalized betas must reproduce the full-vector
		// probability instead of treating the absent motor test as perfect.
		pFull := Probability(parkinsons, full)
		pPartial := Probability(parkinsons, partial)
		if math.Abs(pFull-pPartial) > 1e-9 {
			t.Errorf("renormalized p = %.4f, want %.4f", pPartial, pFull)
		}
	})

	t.Run("NoScoredDomains", func(t *testing.T) {
		got := Probability(concern, domain.DomainScores{})
		want := 1 / (1 + math.Exp(1.5))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("baseline p = %.4f, want intercept-only %.4f", got, want)
		}
	})

	t.Run("AdjustedMemoryPreferred", func(t *testing.T) {
		scores := allScores(50)
		scores.AdjustedMemory = domain.Present(100)
		pAdj := Probability(concern, scores)
		pRaw := Probability(concern, allScores(50))
		if pAdj >= pRaw {
			t.Error("education-adjusted memory must feed the model")
		}
	})
}

func TestDiseaseProbabilities(t *testing.T) {
	set := domain.DefaultNormSet()

	alz, dem, park := DiseaseProbabilities(set, allScores(50))
	for name, p := range map[string]float64{"alzheimers": alz, "dementia": dem, "parkinsons": park} {
		if p < 0 || p > 1 {
			t.Errorf("%s p = %.4f out of [0,1]", name, p)
		}
	}

	// Lower intercepts keep the disease models below the concern model at
	// identical inputs.
	concern := Probability(set.Logistic[domain.ModelConcern], allScores(50))
	if alz >= concern || park >= concern {
		t.Error("disease models must sit below the concern model at equal scores")
	}
}
