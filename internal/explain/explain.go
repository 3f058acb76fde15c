// Package explain produces the feature-importance breakdown and the
// longitudinal anomaly check against a subject's own history.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensense-health/kestrel/internal/domain"
)

// Contributions beyond this rank are dropped from the report.
const maxContributors = 6

// anomalyZThreshold flags a session delta as unusual relative to the
// subject's own trend.
const anomalyZThreshold = 2.0

// Importance ranks domains by how much each pulled the risk score up:
// contribution_d = weight_d * (100 - score_d), normalized to percentages
// summing to 100. Absent domains contribute nothing. Each entry carries the
// domain's worst raw metric so a reviewer can see what drove it.
func Importance(set *domain.NormSet, scores domain.DomainScores, fv domain.FeatureVector) []domain.FeatureContribution {
	raw := make([]domain.FeatureContribution, 0, len(domain.AllDomains))
	var total float64
	for _, d := range domain.AllDomains {
		s := scores.Get(d)
		if !s.Valid {
			continue
		}
		c := set.Weights.Weight(d) * (100 - s.Value)
		metric, value := worstMetric(fv, d)
		raw = append(raw, domain.FeatureContribution{
			Domain:          d.String(),
			ContributionPct: c,
			Score:           s.Value,
			RawMetric:       metric,
			RawValue:        value,
		})
		total += c
	}
	if total <= 0 {
		// All domains perfect or absent: nothing contributed to risk.
		for i := range raw {
			raw[i].ContributionPct = 0
		}
		return truncate(raw)
	}
	for i := range raw {
		raw[i].ContributionPct = raw[i].ContributionPct / total * 100
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].ContributionPct > raw[j].ContributionPct
	})
	return truncate(raw)
}

func truncate(cs []domain.FeatureContribution) []domain.FeatureContribution {
	if len(cs) > maxContributors {
		cs = cs[:maxContributors]
	}
	return cs
}

// worstMetric picks the domain feature with the lowest present value as
// the representative raw signal.
func worstMetric(fv domain.FeatureVector, d domain.TestDomain) (string, domain.Metric) {
	var name string
	best := math.Inf(1)
	for _, f := range fv.DomainFeatures(d) {
		if f.Value.Valid && f.Value.Value < best {
			name = string(f.Type)
			best = f.Value.Value
		}
	}
	if name == "" {
		return "", domain.Absent
	}
	return name, domain.Present(best)
}

// Anomaly is the trend-deviation outcome for the latest session.
type Anomaly struct {
	Alert   domain.AnomalyAlert
	Details string
}

// DetectAnomaly compares the latest composite score against the subject's
// prior sessions. It computes the mean and std of consecutive-session
// deltas, then z-scores the latest delta; magnitudes past the threshold
// flag a sudden drop or improvement. Fewer than two prior sessions is
// insufficient history, never an error.
func DetectAnomaly(history []domain.HistoryEntry, latest float64) Anomaly {
	none := Anomaly{Alert: domain.AnomalyNone}
	if len(history) < 2 {
		return none
	}

	deltas := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		deltas = append(deltas, history[i].CompositeRiskScore-history[i-1].CompositeRiskScore)
	}
	latestDelta := latest - history[len(history)-1].CompositeRiskScore

	mean := 0.0
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))

	variance := 0.0
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	std := math.Sqrt(variance / float64(len(deltas)))
	if std == 0 || math.IsNaN(std) {
		// Flat history: any movement at all is relative, not anomalous.
		return none
	}

	z := (latestDelta - mean) / std
	if math.Abs(z) <= anomalyZThreshold {
		return none
	}
	a := Anomaly{
		Details: fmt.Sprintf("latest score change %+.1f deviates %.1f std from the subject's typical session-to-session change (%+.1f ± %.1f)",
			latestDelta, math.Abs(z), mean, std),
	}
	if latestDelta > 0 {
		// Risk went up unusually fast.
		a.Alert = domain.AnomalySuddenDrop
	} else {
		a.Alert = domain.AnomalyImprovement
	}
	return a
}
