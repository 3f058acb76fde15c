package norms

import (
	"math"
	"testing"

	"github.com/opensense-health/kestrel/internal/domain"
)

func intPtr(v int) *int { return &v }

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(domain.DefaultNormSet())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestMetricScore(t *testing.T) {
	s := testStore(t)

	t.Run("AtBracketMean", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(30))
		got := n.MetricScore(domain.MetricWordsPerMinute, domain.Present(150))
		if !got.Valid || math.Abs(got.Value-50) > 1e-9 {
			t.Errorf("score at bracket mean = %v, want exactly 50", got)
		}
	})

	t.Run("TwoSigmaAbove", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(30))
		// 150 + 2*25 for the 20-39 bracket.
		got := n.MetricScore(domain.MetricWordsPerMinute, domain.Present(200))
		if math.Abs(got.Value-80) > 1e-9 {
			t.Errorf("score = %.2f, want 80 at +2 sigma", got.Value)
		}
	})

	t.Run("LowerBetterInverts", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(30))
		// Pause ratio 0.18 + 2*0.06: worse performance, below-average score.
		got := n.MetricScore(domain.MetricPauseRatio, domain.Present(0.30))
		if math.Abs(got.Value-20) > 1e-9 {
			t.Errorf("score = %.2f, want 20 at +2 sigma of a lower-is-better metric", got.Value)
		}
	})

	t.Run("ClampedToRange", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(30))
		got := n.MetricScore(domain.MetricWordsPerMinute, domain.Present(400))
		if got.Value != 100 {
			t.Errorf("score = %.2f, want clamped to 100", got.Value)
		}
		got = n.MetricScore(domain.MetricWordsPerMinute, domain.Present(0))
		if got.Value != 0 {
			t.Errorf("score = %.2f, want clamped to 0", got.Value)
		}
	})

	t.Run("AbsentStaysAbsent", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(30))
		if got := n.MetricScore(domain.MetricWordsPerMinute, domain.Absent); got.Valid {
			t.Errorf("absent metric scored %v, want absent", got)
		}
	})

	t.Run("BracketSelection", func(t *testing.T) {
		young := s.NewNormalizer(intPtr(30))
		old := s.NewNormalizer(intPtr(70))
		// 125 wpm is average for 60-75 but a full sigma below for 20-39.
		if got := old.MetricScore(domain.MetricWordsPerMinute, domain.Present(125)); math.Abs(got.Value-50) > 1e-9 {
			t.Errorf("60-75 bracket score = %.2f, want 50", got.Value)
		}
		if got := young.MetricScore(domain.MetricWordsPerMinute, domain.Present(125)); got.Value >= 50 {
			t.Errorf("20-39 bracket score = %.2f, want below 50", got.Value)
		}
	})
}

func TestNormalizerAgeHandling(t *testing.T) {
	s := testStore(t)

	t.Run("MissingAgeFallsBack", func(t *testing.T) {
		n := s.NewNormalizer(nil)
		if len(n.Warnings()) != 1 {
			t.Fatalf("expected one calibration warning, got %v", n.Warnings())
		}
		if n.Warnings()[0].Code != domain.WarnCalibration {
			t.Errorf("warning code = %s, want calibration", n.Warnings()[0].Code)
		}
		// Falls back to the 40-59 norms.
		if got := n.MetricScore(domain.MetricWordsPerMinute, domain.Present(140)); math.Abs(got.Value-50) > 1e-9 {
			t.Errorf("fallback bracket score = %.2f, want 50", got.Value)
		}
	})

	t.Run("UnderageClamps", func(t *testing.T) {
		n := s.NewNormalizer(intPtr(16))
		if len(n.Warnings()) != 1 {
			t.Fatalf("expected one calibration warning, got %v", n.Warnings())
		}
		if got := n.MetricScore(domain.MetricWordsPerMinute, domain.Present(150)); math.Abs(got.Value-50) > 1e-9 {
			t.Errorf("clamped bracket score = %.2f, want 50 against the 20-39 norms", got.Value)
		}
	})
}

func TestAdjustMemory(t *testing.T) {
	s := testStore(t)
	n := s.NewNormalizer(intPtr(30))

	cases := []struct {
		name      string
		memory    domain.Metric
		education *int
		want      float64
	}{
		{"LowEducationBoost", domain.Present(70), intPtr(1), 75},
		{"MidEducationNeutral", domain.Present(70), intPtr(3), 70},
		{"HighEducationPenalty", domain.Present(70), intPtr(5), 68},
		{"BoostClampsAt100", domain.Present(98), intPtr(1), 100},
		{"NoEducation", domain.Present(70), nil, 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := n.AdjustMemory(tc.memory, tc.education)
			if !got.Valid || math.Abs(got.Value-tc.want) > 1e-9 {
				t.Errorf("adjusted memory = %v, want %.1f", got, tc.want)
			}
		})
	}

	t.Run("OutOfTableEducation", func(t *testing.T) {
		before := len(n.Warnings())
		got := n.AdjustMemory(domain.Present(70), intPtr(9))
		if got.Value != 70 {
			t.Errorf("unknown education level must not correct, got %.1f", got.Value)
		}
		if len(n.Warnings()) != before+1 {
			t.Error("unknown education level must attach a calibration warning")
		}
	})

	t.Run("AbsentMemory", func(t *testing.T) {
		if got := n.AdjustMemory(domain.Absent, intPtr(1)); got.Valid {
			t.Error("absent memory must stay absent")
		}
	})
}

func TestAgeFactorMonotonic(t *testing.T) {
	set := domain.DefaultNormSet()
	prev := 0.0
	for _, age := range []int{25, 45, 60, 70, 90} {
		f, _ := set.AgeFactor(age)
		if f < prev {
			t.Fatalf("age factor decreased at age %d: %.2f < %.2f", age, f, prev)
		}
		prev = f
	}
	if first, _ := set.AgeFactor(25); first != 1.00 {
		t.Errorf("factor at 25 = %.2f, want 1.00", first)
	}
	if last, _ := set.AgeFactor(90); last != 1.30 {
		t.Errorf("factor at 90 = %.2f, want 1.30", last)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(math.NaN(), 0, 100); got != 0 {
		t.Errorf("Clamp(NaN) = %v, want 0", got)
	}
	if got := Clamp(math.Inf(1), 0, 100); got != 0 {
		t.Errorf("Clamp(+Inf) = %v, want 0", got)
	}
	if got := Clamp(150, 0, 100); got != 100 {
		t.Errorf("Clamp(150) = %v, want 100", got)
	}
	if got := Clamp(-5, 0, 100); got != 0 {
		t.Errorf("Clamp(-5) = %v, want 0", got)
	}
}
