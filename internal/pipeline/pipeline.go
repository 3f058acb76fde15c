// Package pipeline implements the full scoring pipeline: raw measurements
// in, a complete scored Assessment out. The pipeline is a pure function of
// (measurements, profile, history, norm set); all shared state lives in the
// hot-swappable norm store, so submissions score fully in parallel.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensense-health/kestrel/internal/clinical"
	"github.com/opensense-health/kestrel/internal/composite"
	"github.com/opensense-health/kestrel/internal/confidence"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/explain"
	"github.com/opensense-health/kestrel/internal/features"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/risk"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "kestrel-1.0"

// Digit-span blend: the span score replaces a fifth of the memory score.
var spanScores = map[int]float64{4: 40, 5: 60, 6: 75, 7: 85, 8: 92}

const (
	spanFloor        = 20.0
	spanCeil         = 100.0
	spanWeight       = 0.20
	fluencyWeight    = 0.15
	fluencyBaseline  = 8
	fluencyPerWord   = 8.0
	fluencyMidpoint  = 50.0
)

// Processor runs the scoring pipeline against the active norm set.
type Processor struct {
	store *norms.Store
}

// NewProcessor builds a processor bound to a norm store.
func NewProcessor(store *norms.Store) *Processor {
	return &Processor{store: store}
}

// Input carries one submission plus its longitudinal context.
type Input struct {
	TenantID   string
	SubjectID  string
	Submission *domain.Submission

	// History is the subject's prior assessments, oldest first. It is read
	// only; the caller appends the new result after scoring.
	History []domain.HistoryEntry

	// Timestamp and ID are injectable so replays and tests are
	// reproducible. Zero values are filled in.
	Timestamp time.Time
	ID        string
}

// Process runs the full pipeline. The only fatal condition is a mandatory
// domain being entirely absent; every other irregularity degrades to a
// warning on the result.
func (p *Processor) Process(ctx context.Context, in *Input) (*domain.Assessment, error) {
	// A submission enters still collecting; successful extraction means
	// every mandatory domain is present and it advances to complete.
	state := domain.StateCollecting
	fv, warns, err := features.Extract(&in.Submission.Measurements)
	if err != nil {
		return nil, err
	}
	state = domain.StateComplete

	set := p.store.Current()
	profile := in.Submission.Profile
	n := p.store.NewNormalizer(profile.Age)

	scores := domain.DomainScores{
		Speech:    n.DomainScore(&fv, domain.DomainSpeech),
		Memory:    n.DomainScore(&fv, domain.DomainMemory),
		Reaction:  n.DomainScore(&fv, domain.DomainReaction),
		Executive: n.DomainScore(&fv, domain.DomainExecutive),
		Motor:     n.DomainScore(&fv, domain.DomainMotor),
	}
	scores.Memory = blendSupplements(scores.Memory, in.Submission.Measurements.DigitSpan, in.Submission.Measurements.Fluency)
	scores.AdjustedMemory = n.AdjustMemory(scores.Memory, profile.EducationLevel)

	// Concern model with its confidence interval.
	pBase := risk.Probability(set.Logistic[domain.ModelConcern], scores)
	pFinal := clinical.Adjust(set, pBase, profile.Conditions)
	ci := confidence.IntervalFor(pFinal)

	// Per-disease variants, raw then clinically adjusted.
	var diseases domain.DiseaseRisks
	diseases.RawAlzheimers, diseases.RawDementia, diseases.RawParkinsons = risk.DiseaseProbabilities(set, scores)
	diseases = clinical.AdjustAll(set, diseases, profile.Conditions)
	diseases.Labels = domain.DiseaseLabels{
		Alzheimers: domain.ProbabilityLabel(diseases.Alzheimers),
		Dementia:   domain.ProbabilityLabel(diseases.Dementia),
		Parkinsons: domain.ProbabilityLabel(diseases.Parkinsons),
	}

	comp := composite.Score(set, scores, n.AgeFactor(profile.Age))

	// Hybrid blends the adjusted concern signal with the strongest raw
	// (pre-adjustment) disease model output.
	rawML := math.Max(diseases.RawAlzheimers, math.Max(diseases.RawDementia, diseases.RawParkinsons))
	hybrid := composite.HybridRisk(pFinal, rawML)
	hybridCI := confidence.IntervalFor(hybrid)

	fatigue := confidence.Score(set, profile.Fatigue, confidence.MissingRatio(scores))
	anomaly := explain.DetectAnomaly(in.History, comp.RiskScore)

	if !state.CanTransition(domain.StateScored) {
		return nil, fmt.Errorf("submission in state %q cannot be scored", state)
	}

	a := &domain.Assessment{
		ID:        in.ID,
		TenantID:  in.TenantID,
		SubjectID: in.SubjectID,
		State:     domain.StateScored,
		Timestamp: in.Timestamp,

		Scores: scores,

		CompositeRiskScore: round2(comp.RiskScore),
		CompositeRiskLevel: comp.Tier,
		AgeFactor:          comp.AgeFactor,

		ConcernProbability: round4(pFinal),
		ConcernLabel:       domain.ProbabilityLabel(pFinal),
		CILower:            round4(ci.Lower),
		CIUpper:            round4(ci.Upper),
		CILabel:            ci.Label(),

		Diseases: roundDiseases(diseases),

		HybridRisk:       round4(hybrid),
		ConfidenceLower:  round4(hybridCI.Lower),
		ConfidenceUpper:  round4(hybridCI.Upper),
		ModelUncertainty: round4(hybridCI.HalfCI),

		Confidence:      round4(fatigue.Confidence),
		RecommendRetest: fatigue.RecommendRetest,
		RetestMessage:   fatigue.RetestMessage,

		FeatureImportance: explain.Importance(set, scores, fv),

		AnomalyAlert:   anomaly.Alert,
		AnomalyDetails: anomaly.Details,

		AttentionVariabilityIndex: attentionVariability(fv),

		EngineVersion: EngineVersion,
		Disclaimer:    domain.Disclaimer,
	}
	a.Warnings = append(warns, n.Warnings()...)
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return a, nil
}

// blendSupplements folds the optional digit-span and verbal-fluency tests
// into the memory score. Both tests are shallow signals, so they move the
// score without ever dominating it. A zero-valued result means the test
// was not attempted, not a score of zero, so it leaves memory untouched.
func blendSupplements(memory domain.Metric, span *domain.DigitSpan, fluency *domain.VerbalFluency) domain.Metric {
	if !memory.Valid {
		return memory
	}
	v := memory.Value
	if span != nil && span.MaxForwardSpan > 0 {
		v = (1-spanWeight)*v + spanWeight*spanScore(span.MaxForwardSpan)
	}
	if fluency != nil && fluency.WordCount > 0 {
		fs := norms.Clamp(float64(fluency.WordCount-fluencyBaseline)*fluencyPerWord+fluencyMidpoint, 0, 100)
		v = (1-fluencyWeight)*v + fluencyWeight*fs
	}
	return domain.Present(norms.Clamp(v, 0, 100))
}

func spanScore(span int) float64 {
	if span >= 9 {
		return spanCeil
	}
	if s, ok := spanScores[span]; ok {
		return s
	}
	return spanFloor
}

// attentionVariability is the coefficient of variation of reaction times.
func attentionVariability(fv domain.FeatureVector) float64 {
	if !fv.StdRT.Valid || !fv.MeanRT.Valid || fv.MeanRT.Value <= 0 {
		return 0
	}
	return round4(fv.StdRT.Value / fv.MeanRT.Value)
}

func roundDiseases(d domain.DiseaseRisks) domain.DiseaseRisks {
	d.Alzheimers = round4(d.Alzheimers)
	d.Dementia = round4(d.Dementia)
	d.Parkinsons = round4(d.Parkinsons)
	d.RawAlzheimers = round4(d.RawAlzheimers)
	d.RawDementia = round4(d.RawDementia)
	d.RawParkinsons = round4(d.RawParkinsons)
	return d
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
