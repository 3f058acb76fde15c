// Package features turns raw per-domain measurements into the fixed
// 18-dimensional feature vector consumed by the scoring pipeline.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensense-health/kestrel/internal/domain"
)

// ErrIncompleteAssessment is returned when a mandatory domain (speech,
// memory, reaction) is entirely absent from a submission. This is the only
// fatal input condition; everything else degrades to warnings.
var ErrIncompleteAssessment = errors.New("incomplete assessment: mandatory domain missing")

// Reaction times above this are counted as attention lapses.
const lapseThresholdMs = 500.0

// Extract builds the feature vector from raw measurements. Missing raw
// fields propagate as absent metrics; the extractor never substitutes
// plausible-looking defaults. Out-of-range values are clamped with a
// validation warning rather than rejected.
func Extract(m *domain.Measurements) (domain.FeatureVector, []domain.Warning, error) {
	var fv domain.FeatureVector
	var warns []domain.Warning

	if m == nil {
		return fv, nil, fmt.Errorf("%w: no measurements", ErrIncompleteAssessment)
	}

	if s := m.Speech; s != nil {
		fv.WordsPerMinute = clampMetric(domain.FromPtr(s.WordsPerMinute), 0, 400, "wordsPerMinute", &warns)
		fv.PauseRatio = clampMetric(domain.FromPtr(s.PauseRatio), 0, 1, "pauseRatio", &warns)
		fv.WordFindingDelay = clampMetric(domain.FromPtr(s.WordFindingDelay), 0, 30, "wordFindingDelay", &warns)
		fv.ArticulationClarity = clampMetric(domain.FromPtr(s.ArticulationClarity), 0, 100, "articulationClarity", &warns)
		fv.LexicalDiversity = clampMetric(domain.FromPtr(s.LexicalDiversity), 0, 1, "lexicalDiversity", &warns)
	}

	if mem := m.Memory; mem != nil {
		fv.WordRecallAccuracy = clampMetric(domain.FromPtr(mem.WordRecallAccuracy), 0, 100, "wordRecallAccuracy", &warns)
		fv.PatternAccuracy = clampMetric(domain.FromPtr(mem.PatternAccuracy), 0, 100, "patternAccuracy", &warns)
		fv.DelayedRecallAccuracy = clampMetric(domain.FromPtr(mem.DelayedRecallAccuracy), 0, 100, "delayedRecallAccuracy", &warns)
		fv.RecognitionAccuracy = clampMetric(domain.FromPtr(mem.RecognitionAccuracy), 0, 100, "recognitionAccuracy", &warns)
		fv.IntrusionErrors = clampMetric(domain.FromPtr(mem.IntrusionErrors), 0, 50, "intrusionErrors", &warns)
	}

	if r := m.Reaction; r != nil && len(r.Times) > 0 {
		times, dropped := sanitizeTimes(r.Times)
		if dropped > 0 {
			warns = append(warns, domain.Warning{
				Code:    domain.WarnValidation,
				Message: fmt.Sprintf("reaction: dropped %d non-positive samples", dropped),
			})
		}
		if len(times) > 0 {
			fv.MeanRT = domain.Present(mean(times))
			fv.StdRT = domain.Present(stddev(times))
			fv.RTDrift = domain.Present(drift(times))
			fv.MinRT = domain.Present(minOf(times))
			fv.LapseRate = domain.Present(lapseRate(times))
		}
	}

	if st := m.Stroop; st != nil {
		fv.StroopErrorRate = clampMetric(domain.FromPtr(st.ErrorRate), 0, 1, "stroop.errorRate", &warns)
		fv.StroopInterference = clampMetric(domain.FromPtr(st.InterferenceCost), 0, 5000, "stroop.interferenceCostMs", &warns)
	}

	if t := m.Tap; t != nil {
		switch {
		case len(t.IntervalsMs) > 1:
			fv.TapIntervalStd = domain.Present(stddev(t.IntervalsMs))
		case t.IntervalStd != nil:
			fv.TapIntervalStd = clampMetric(domain.FromPtr(t.IntervalStd), 0, 1000, "tap.intervalStdMs", &warns)
		}
	}

	for _, d := range domain.AllDomains {
		if d.Mandatory() && !fv.DomainPresent(d) {
			return fv, warns, fmt.Errorf("%w: %s", ErrIncompleteAssessment, d)
		}
	}

	return fv, warns, nil
}

// clampMetric clamps a present metric into [lo, hi], recording a warning
// when the raw value was out of range. Absent values pass through.
func clampMetric(m domain.Metric, lo, hi float64, field string, warns *[]domain.Warning) domain.Metric {
	if !m.Valid {
		return m
	}
	v := m.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		*warns = append(*warns, domain.Warning{
			Code:    domain.WarnValidation,
			Message: fmt.Sprintf("%s: non-finite value discarded", field),
		})
		return domain.Absent
	}
	if v < lo || v > hi {
		*warns = append(*warns, domain.Warning{
			Code:    domain.WarnValidation,
			Message: fmt.Sprintf("%s: %.4g clamped to [%.4g, %.4g]", field, v, lo, hi),
		})
		v = math.Min(hi, math.Max(lo, v))
	}
	return domain.Present(v)
}

func sanitizeTimes(times []float64) (clean []float64, dropped int) {
	clean = make([]float64, 0, len(times))
	for _, t := range times {
		if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			dropped++
			continue
		}
		clean = append(clean, t)
	}
	return clean, dropped
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// drift is the second-half mean minus the first-half mean: positive drift
// means the subject slowed down over the session.
func drift(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	half := len(xs) / 2
	return mean(xs[half:]) - mean(xs[:half])
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func lapseRate(xs []float64) float64 {
	var lapses int
	for _, x := range xs {
		if x >= lapseThresholdMs {
			lapses++
		}
	}
	return float64(lapses) / float64(len(xs))
}
