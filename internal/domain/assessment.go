package domain

import (
	"time"
)

// AssessmentState tracks a submission through its lifecycle.
// Transitions only move forward: collecting -> complete -> scored ->
// persisted. A retake always starts a fresh submission.
type AssessmentState string

const (
	StateCollecting AssessmentState = "collecting"
	StateComplete   AssessmentState = "complete"
	StateScored     AssessmentState = "scored"
	StatePersisted  AssessmentState = "persisted"
)

// CanTransition reports whether s may advance to next.
func (s AssessmentState) CanTransition(next AssessmentState) bool {
	order := map[AssessmentState]int{
		StateCollecting: 0,
		StateComplete:   1,
		StateScored:     2,
		StatePersisted:  3,
	}
	a, okA := order[s]
	b, okB := order[next]
	return okA && okB && b == a+1
}

// Composite risk tiers mapped from the 0-100 composite score.
const (
	TierLow      = "Low"
	TierMild     = "Mild Concern"
	TierModerate = "Moderate Risk"
	TierHigh     = "High Risk"
)

// CompositeTier maps a composite risk score to its tier.
func CompositeTier(risk float64) string {
	switch {
	case risk < 50:
		return TierLow
	case risk < 70:
		return TierMild
	case risk < 85:
		return TierModerate
	default:
		return TierHigh
	}
}

// Non-diagnostic probability labels. The wording is deliberate: Kestrel
// reports screening signals, never diagnoses.
const (
	LabelNormal      = "within normal range"
	LabelMild        = "mild concern"
	LabelElevated    = "elevated indicators"
	LabelSignificant = "significant indicators - clinical evaluation advised"
)

// ProbabilityLabel maps a [0,1] probability to a non-diagnostic label.
func ProbabilityLabel(p float64) string {
	switch {
	case p < 0.25:
		return LabelNormal
	case p < 0.50:
		return LabelMild
	case p < 0.70:
		return LabelElevated
	default:
		return LabelSignificant
	}
}

// AnomalyAlert flags a deviation from the subject's own historical trend.
type AnomalyAlert string

const (
	AnomalyNone        AnomalyAlert = "none"
	AnomalySuddenDrop  AnomalyAlert = "sudden_drop"
	AnomalyImprovement AnomalyAlert = "sudden_improvement"
)

// Warning is a non-fatal irregularity attached to a result.
type Warning struct {
	Code    string `json:"code"` // "validation" or "calibration"
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnValidation  = "validation"
	WarnCalibration = "calibration"
)

// DomainScores holds the normalized [0,100] health score per domain.
// Optional domains stay absent when unmeasured.
type DomainScores struct {
	Speech    Metric `json:"speech_score"`
	Memory    Metric `json:"memory_score"`
	Reaction  Metric `json:"reaction_score"`
	Executive Metric `json:"executive_score"`
	Motor     Metric `json:"motor_score"`

	// Memory after the cognitive-reserve education correction. This is the
	// value the logistic and composite layers consume.
	AdjustedMemory Metric `json:"adjusted_memory_score"`
}

// Get returns the score for a domain, preferring the education-adjusted
// memory score.
func (s DomainScores) Get(d TestDomain) Metric {
	switch d {
	case DomainSpeech:
		return s.Speech
	case DomainMemory:
		if s.AdjustedMemory.Valid {
			return s.AdjustedMemory
		}
		return s.Memory
	case DomainReaction:
		return s.Reaction
	case DomainExecutive:
		return s.Executive
	case DomainMotor:
		return s.Motor
	default:
		return Absent
	}
}

// DiseaseRisks carries the per-disease probability estimates. Raw values
// are the pure logistic outputs before clinical condition multipliers.
type DiseaseRisks struct {
	Alzheimers float64 `json:"alzheimers_risk"`
	Dementia   float64 `json:"dementia_risk"`
	Parkinsons float64 `json:"parkinsons_risk"`

	RawAlzheimers float64 `json:"raw_alzheimers_risk"`
	RawDementia   float64 `json:"raw_dementia_risk"`
	RawParkinsons float64 `json:"raw_parkinsons_risk"`

	Labels DiseaseLabels `json:"risk_levels"`
}

// DiseaseLabels maps each per-disease probability to its label.
type DiseaseLabels struct {
	Alzheimers string `json:"alzheimers"`
	Dementia   string `json:"dementia"`
	Parkinsons string `json:"parkinsons"`
}

// FeatureContribution is one entry of the explainability breakdown.
type FeatureContribution struct {
	Domain          string  `json:"domain"`
	ContributionPct float64 `json:"contribution_pct"`
	Score           float64 `json:"score"`
	RawMetric       string  `json:"raw_metric"`
	RawValue        Metric  `json:"raw_value"`
}

// Assessment is the complete, immutable result of one submission.
// Created exactly once per submission; a retake produces a new Assessment.
type Assessment struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	SubjectID string          `json:"subjectId"`
	State     AssessmentState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`

	Scores DomainScores `json:"scores"`

	// Composite 0-100 scale. The composite tier drives the user-facing badge.
	CompositeRiskScore float64 `json:"composite_risk_score"`
	CompositeRiskLevel string  `json:"composite_risk_level"`
	AgeFactor          float64 `json:"age_factor"`

	// Calibrated probability of concern with its confidence interval.
	ConcernProbability float64 `json:"concern_probability"`
	ConcernLabel       string  `json:"concern_label"`
	CILower            float64 `json:"ci_lower"`
	CIUpper            float64 `json:"ci_upper"`
	CILabel            string  `json:"ci_label"`

	Diseases DiseaseRisks `json:"diseases"`

	// Hybrid blend of adjusted and raw model signal, with its own CI.
	HybridRisk       float64 `json:"hybrid_risk"`
	ConfidenceLower  float64 `json:"confidence_lower"`
	ConfidenceUpper  float64 `json:"confidence_upper"`
	ModelUncertainty float64 `json:"model_uncertainty"`

	// Fatigue-aware confidence in this session's data.
	Confidence      float64 `json:"confidence"`
	RecommendRetest bool    `json:"recommend_retest"`
	RetestMessage   string  `json:"retest_message,omitempty"`

	FeatureImportance []FeatureContribution `json:"feature_importance"`

	AnomalyAlert   AnomalyAlert `json:"anomaly_alert"`
	AnomalyDetails string       `json:"anomaly_details,omitempty"`

	// Coefficient of variation of reaction times (std_rt / mean_rt).
	AttentionVariabilityIndex float64 `json:"attention_variability_index"`

	Warnings []Warning `json:"warnings,omitempty"`

	EngineVersion string `json:"engine_version"`
	Disclaimer    string `json:"disclaimer"`
}

// Disclaimer attached to every assessment. Kestrel's coefficients are
// hand-tuned screening heuristics, not clinically validated models.
const Disclaimer = "This screening tool does not provide a medical diagnosis. " +
	"Scores are early risk signals from non-validated heuristics and must be " +
	"interpreted by a qualified clinician."

// HistoryEntry is the compact longitudinal record kept per subject for
// trend and anomaly comparison. History is append-only and time-ordered.
type HistoryEntry struct {
	AssessmentID       string    `json:"assessmentId"`
	CompositeRiskScore float64   `json:"compositeRiskScore"`
	ConcernProbability float64   `json:"concernProbability"`
	Timestamp          time.Time `json:"timestamp"`
}

// HistoryOf compacts an assessment into its longitudinal record.
func HistoryOf(a *Assessment) HistoryEntry {
	return HistoryEntry{
		AssessmentID:       a.ID,
		CompositeRiskScore: a.CompositeRiskScore,
		ConcernProbability: a.ConcernProbability,
		Timestamp:          a.Timestamp,
	}
}
