package domain

import "time"

// AlertRule is a clinician-configurable follow-up rule evaluated over a
// scored assessment. The expression is a CEL predicate over the flat
// result fields (composite_risk_score, concern_probability, hybrid_risk,
// confidence, anomaly_alert, per-disease risks, per-domain scores).
type AlertRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL boolean predicate, e.g.
	// "composite_risk_score >= 85.0 || anomaly_alert == 'sudden_drop'"
	Expression string `json:"expression"`

	// Severity of the triggered alert
	Severity string `json:"severity"`

	// Message shown to the care team when the rule fires
	Message string `json:"message"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	// Audit timestamps
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Alert severities.
const (
	SeverityNotice   = "notice"
	SeverityFollowup = "followup"
	SeverityUrgent   = "urgent"
)

// AlertResult is the outcome of evaluating one rule against an assessment.
type AlertResult struct {
	RuleID       string `json:"ruleId"`
	TenantID     string `json:"tenantId"`
	AssessmentID string `json:"assessmentId"`
	Triggered    bool   `json:"triggered"`
	Severity     string `json:"severity,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	ProcessMs    int64  `json:"processMs"`
}
