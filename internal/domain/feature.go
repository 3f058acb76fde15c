// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Metric is an explicitly optional measurement value.
// Absence is always represented as Valid=false, never as a zero score,
// so callers cannot mistake missing data for a measured zero.
type Metric struct {
	Value float64
	Valid bool
}

// Present wraps a measured value.
func Present(v float64) Metric {
	return Metric{Value: v, Valid: true}
}

// Absent is the missing-value marker.
var Absent = Metric{}

// FromPtr converts an optional JSON field to a Metric.
func FromPtr(p *float64) Metric {
	if p == nil {
		return Absent
	}
	return Present(*p)
}

// MarshalJSON encodes absent metrics as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON decodes null as absent.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Absent
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Present(v)
	return nil
}

func (m Metric) String() string {
	if !m.Valid {
		return "absent"
	}
	return fmt.Sprintf("%.4g", m.Value)
}

// TestDomain identifies one of the five behavioral test domains.
type TestDomain int

const (
	DomainSpeech TestDomain = iota
	DomainMemory
	DomainReaction
	DomainExecutive
	DomainMotor
)

// AllDomains lists the five domains in canonical order.
var AllDomains = [5]TestDomain{DomainSpeech, DomainMemory, DomainReaction, DomainExecutive, DomainMotor}

func (d TestDomain) String() string {
	switch d {
	case DomainSpeech:
		return "speech"
	case DomainMemory:
		return "memory"
	case DomainReaction:
		return "reaction"
	case DomainExecutive:
		return "executive"
	case DomainMotor:
		return "motor"
	default:
		return "unknown"
	}
}

// Mandatory reports whether a fully absent domain aborts the submission.
// Speech, memory and reaction feed the logistic risk engine and cannot
// be skipped; executive and motor degrade gracefully.
func (d TestDomain) Mandatory() bool {
	switch d {
	case DomainSpeech, DomainMemory, DomainReaction:
		return true
	default:
		return false
	}
}

// MetricType names one of the 18 feature-vector fields.
type MetricType string

// The fixed 18-metric feature set: 5 speech + 5 memory + 5 reaction +
// 2 executive + 1 motor.
const (
	MetricWordsPerMinute      MetricType = "words_per_minute"
	MetricPauseRatio          MetricType = "pause_ratio"
	MetricWordFindingDelay    MetricType = "word_finding_delay"
	MetricArticulationClarity MetricType = "articulation_clarity"
	MetricLexicalDiversity    MetricType = "lexical_diversity"

	MetricWordRecallAccuracy    MetricType = "word_recall_accuracy"
	MetricPatternAccuracy       MetricType = "pattern_accuracy"
	MetricDelayedRecallAccuracy MetricType = "delayed_recall_accuracy"
	MetricRecognitionAccuracy   MetricType = "recognition_accuracy"
	MetricIntrusionErrors       MetricType = "intrusion_errors"

	MetricMeanRT    MetricType = "mean_rt"
	MetricStdRT     MetricType = "std_rt"
	MetricRTDrift   MetricType = "rt_drift"
	MetricMinRT     MetricType = "min_rt"
	MetricLapseRate MetricType = "lapse_rate"

	MetricStroopErrorRate    MetricType = "stroop_error_rate"
	MetricStroopInterference MetricType = "stroop_interference_cost"

	MetricTapIntervalStd MetricType = "tap_interval_std"
)

// FeatureVector is the fixed 18-dimensional feature set extracted from
// the raw measurements. The field set never changes; missing domain data
// shows up as absent metrics, never as zeros.
type FeatureVector struct {
	WordsPerMinute      Metric `json:"words_per_minute"`
	PauseRatio          Metric `json:"pause_ratio"`
	WordFindingDelay    Metric `json:"word_finding_delay"`
	ArticulationClarity Metric `json:"articulation_clarity"`
	LexicalDiversity    Metric `json:"lexical_diversity"`

	WordRecallAccuracy    Metric `json:"word_recall_accuracy"`
	PatternAccuracy       Metric `json:"pattern_accuracy"`
	DelayedRecallAccuracy Metric `json:"delayed_recall_accuracy"`
	RecognitionAccuracy   Metric `json:"recognition_accuracy"`
	IntrusionErrors       Metric `json:"intrusion_errors"`

	MeanRT    Metric `json:"mean_rt"`
	StdRT     Metric `json:"std_rt"`
	RTDrift   Metric `json:"rt_drift"`
	MinRT     Metric `json:"min_rt"`
	LapseRate Metric `json:"lapse_rate"`

	StroopErrorRate    Metric `json:"stroop_error_rate"`
	StroopInterference Metric `json:"stroop_interference_cost"`

	TapIntervalStd Metric `json:"tap_interval_std"`
}

// Feature pairs a metric type with its value and owning domain.
type Feature struct {
	Type   MetricType
	Domain TestDomain
	Value  Metric
}

// Features returns all 18 features in canonical order.
func (fv *FeatureVector) Features() []Feature {
	return []Feature{
		{MetricWordsPerMinute, DomainSpeech, fv.WordsPerMinute},
		{MetricPauseRatio, DomainSpeech, fv.PauseRatio},
		{MetricWordFindingDelay, DomainSpeech, fv.WordFindingDelay},
		{MetricArticulationClarity, DomainSpeech, fv.ArticulationClarity},
		{MetricLexicalDiversity, DomainSpeech, fv.LexicalDiversity},

		{MetricWordRecallAccuracy, DomainMemory, fv.WordRecallAccuracy},
		{MetricPatternAccuracy, DomainMemory, fv.PatternAccuracy},
		{MetricDelayedRecallAccuracy, DomainMemory, fv.DelayedRecallAccuracy},
		{MetricRecognitionAccuracy, DomainMemory, fv.RecognitionAccuracy},
		{MetricIntrusionErrors, DomainMemory, fv.IntrusionErrors},

		{MetricMeanRT, DomainReaction, fv.MeanRT},
		{MetricStdRT, DomainReaction, fv.StdRT},
		{MetricRTDrift, DomainReaction, fv.RTDrift},
		{MetricMinRT, DomainReaction, fv.MinRT},
		{MetricLapseRate, DomainReaction, fv.LapseRate},

		{MetricStroopErrorRate, DomainExecutive, fv.StroopErrorRate},
		{MetricStroopInterference, DomainExecutive, fv.StroopInterference},

		{MetricTapIntervalStd, DomainMotor, fv.TapIntervalStd},
	}
}

// DomainFeatures returns the features belonging to one domain.
func (fv *FeatureVector) DomainFeatures(d TestDomain) []Feature {
	var out []Feature
	for _, f := range fv.Features() {
		if f.Domain == d {
			out = append(out, f)
		}
	}
	return out
}

// DomainPresent reports whether any metric of the domain was measured.
func (fv *FeatureVector) DomainPresent(d TestDomain) bool {
	for _, f := range fv.DomainFeatures(d) {
		if f.Value.Valid {
			return true
		}
	}
	return false
}
