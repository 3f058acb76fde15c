package alerts

import "github.com/opensense-health/kestrel/internal/domain"

// BuiltinRules are the default follow-up rules seeded into a fresh
// deployment. Clinics override or disable them through the alert-rule API.
func BuiltinRules() []*domain.AlertRule {
	return []*domain.AlertRule{
		{
			ID:          "builtin-high-risk",
			Name:        "High composite risk",
			Description: "Composite score in the High Risk tier",
			Version:     "1.0",
			Expression:  "composite_risk_score >= 85.0",
			Severity:    domain.SeverityUrgent,
			Message:     "Composite risk is in the High Risk tier; schedule a clinical review.",
			Enabled:     true,
		},
		{
			ID:          "builtin-sudden-drop",
			Name:        "Sudden decline",
			Description: "Latest session deviates sharply from the subject's own trend",
			Version:     "1.0",
			Expression:  "anomaly_alert == 'sudden_drop'",
			Severity:    domain.SeverityFollowup,
			Message:     "Scores dropped unusually fast against the subject's history.",
			Enabled:     true,
		},
		{
			ID:          "builtin-elevated-concern",
			Name:        "Elevated concern probability",
			Description: "Concern model output above the elevated threshold with usable data",
			Version:     "1.0",
			Expression:  "concern_probability >= 0.70 && confidence >= 0.75",
			Severity:    domain.SeverityFollowup,
			Message:     "Concern probability is elevated on a confident session.",
			Enabled:     true,
		},
		{
			ID:          "builtin-low-confidence",
			Name:        "Low session confidence",
			Description: "Fatigue or missing tests degraded the session",
			Version:     "1.0",
			Expression:  "recommend_retest",
			Severity:    domain.SeverityNotice,
			Message:     "Session quality was low; a retest has been recommended.",
			Enabled:     true,
		},
	}
}
