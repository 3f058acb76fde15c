package explain

import (
	"math"
	"testing"
	"time"

	"github.com/opensense-health/kestrel/internal/domain"
)

func testScores() domain.DomainScores {
	return domain.DomainScores{
		Speech:    domain.Present(80),
		Memory:    domain.Present(70),
		Reaction:  domain.Present(90),
		Executive: domain.Present(85),
		Motor:     domain.Present(95),
	}
}

func TestImportance(t *testing.T) {
	set := domain.DefaultNormSet()

	t.Run("SumsToHundred", func(t *testing.T) {
		got := Importance(set, testScores(), domain.FeatureVector{})
		var sum float64
		for _, c := range got {
			sum += c.ContributionPct
		}
		if math.Abs(sum-100) > 0.5 {
			t.Errorf("contributions sum to %.2f, want 100 +-0.5", sum)
		}
	})

	t.Run("WorstWeightedDomainLeads", func(t *testing.T) {
		got := Importance(set, testScores(), domain.FeatureVector{})
		if len(got) == 0 {
			t.Fatal("expected contributions")
		}
		// Memory: 0.30 * 30 = 9 of a 19 total.
		if got[0].Domain != domain.DomainMemory.String() {
			t.Errorf("top contributor = %s, want memory", got[0].Domain)
		}
		if math.Abs(got[0].ContributionPct-9.0/19.0*100) > 0.1 {
			t.Errorf("top contribution = %.2f%%, want %.2f%%", got[0].ContributionPct, 9.0/19.0*100)
		}
	})

	t.Run("SortedDescending", func(t *testing.T) {
		got := Importance(set, testScores(), domain.FeatureVector{})
		for i := 1; i < len(got); i++ {
			if got[i].ContributionPct > got[i-1].ContributionPct {
				t.Errorf("contributions not sorted at index %d", i)
			}
		}
	})

	t.Run("AbsentDomainsSkipped", func(t *testing.T) {
		scores := testScores()
		scores.Motor = domain.Absent
		got := Importance(set, scores, domain.FeatureVector{})
		for _, c := range got {
			if c.Domain == domain.DomainMotor.String() {
				t.Error("absent domain must not appear in the breakdown")
			}
		}
	})

	t.Run("PerfectScoresContributeNothing", func(t *testing.T) {
		perfect := domain.DomainScores{
			Speech: domain.Present(100), Memory: domain.Present(100), Reaction: domain.Present(100),
			Executive: domain.Present(100), Motor: domain.Present(100),
		}
		got := Importance(set, perfect, domain.FeatureVector{})
		for _, c := range got {
			if c.ContributionPct != 0 {
				t.Errorf("%s contributed %.2f%% to a perfect result", c.Domain, c.ContributionPct)
			}
		}
	})

	t.Run("CarriesWorstRawMetric", func(t *testing.T) {
		var fv domain.FeatureVector
		fv.WordRecallAccuracy = domain.Present(55)
		fv.RecognitionAccuracy = domain.Present(90)
		got := Importance(set, testScores(), fv)
		for _, c := range got {
			if c.Domain == domain.DomainMemory.String() {
				if c.RawMetric != string(domain.MetricWordRecallAccuracy) {
					t.Errorf("raw metric = %s, want the lowest memory feature", c.RawMetric)
				}
				if !c.RawValue.Valid || c.RawValue.Value != 55 {
					t.Errorf("raw value = %v, want 55", c.RawValue)
				}
				return
			}
		}
		t.Fatal("memory contribution missing")
	})
}

func history(scores ...float64) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, len(scores))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range scores {
		out[i] = domain.HistoryEntry{
			AssessmentID:       "past",
			CompositeRiskScore: s,
			Timestamp:          base.AddDate(0, 0, i*7),
		}
	}
	return out
}

func TestDetectAnomaly(t *testing.T) {
	t.Run("InsufficientHistory", func(t *testing.T) {
		if got := DetectAnomaly(nil, 40); got.Alert != domain.AnomalyNone {
			t.Errorf("alert = %s, want none with no history", got.Alert)
		}
		if got := DetectAnomaly(history(30), 40); got.Alert != domain.AnomalyNone {
			t.Errorf("alert = %s, want none with one prior session", got.Alert)
		}
	})

	t.Run("StableTrend", func(t *testing.T) {
		got := DetectAnomaly(history(30, 31, 32, 31, 32), 32)
		if got.Alert != domain.AnomalyNone {
			t.Errorf("alert = %s, want none for an ordinary delta", got.Alert)
		}
	})

	t.Run("SuddenDrop", func(t *testing.T) {
		got := DetectAnomaly(history(30, 31, 32, 31, 32), 45)
		if got.Alert != domain.AnomalySuddenDrop {
			t.Errorf("alert = %s, want sudden_drop", got.Alert)
		}
		if got.Details == "" {
			t.Error("anomaly must carry details")
		}
	})

	t.Run("SuddenImprovement", func(t *testing.T) {
		got := DetectAnomaly(history(60, 61, 59, 60, 61), 40)
		if got.Alert != domain.AnomalyImprovement {
			t.Errorf("alert = %s, want sudden_improvement", got.Alert)
		}
	})

	t.Run("FlatHistory", func(t *testing.T) {
		got := DetectAnomaly(history(50, 50, 50), 55)
		if got.Alert != domain.AnomalyNone {
			t.Errorf("alert = %s, flat history must never flag", got.Alert)
		}
	})
}
