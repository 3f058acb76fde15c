package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/bus"
	"github.com/opensense-health/kestrel/internal/cache"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/pipeline"
	"github.com/opensense-health/kestrel/internal/repository"
)

type testEnv struct {
	worker  *Worker
	bus     *bus.ChannelBus
	repo    domain.Repository
	history *history.Service
}

func setupWorker(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	t.Cleanup(func() { c.Close() })

	engine, err := alerts.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create alert engine: %v", err)
	}
	if err := engine.LoadRules(alerts.BuiltinRules()); err != nil {
		t.Fatalf("failed to load builtin rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	store, err := norms.NewStore(domain.DefaultNormSet())
	if err != nil {
		t.Fatalf("failed to create norm store: %v", err)
	}

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	histSvc := history.NewService(repo, c)
	w := NewWorker(b, engine, pipeline.NewProcessor(store), histSvc)
	t.Cleanup(func() { w.Stop() })

	return &testEnv{worker: w, bus: b, repo: repo, history: histSvc}
}

func ptr(v float64) *float64 { return &v }
func intPtr(v int) *int      { return &v }

func testSubmission(subjectID string) *domain.Submission {
	return &domain.Submission{
		SubjectID: subjectID,
		Measurements: domain.Measurements{
			Speech: &domain.SpeechSample{
				WordsPerMinute:      ptr(150),
				PauseRatio:          ptr(0.18),
				WordFindingDelay:    ptr(0.8),
				ArticulationClarity: ptr(92),
				LexicalDiversity:    ptr(0.52),
			},
			Memory: &domain.MemoryResults{
				WordRecallAccuracy:    ptr(82),
				PatternAccuracy:       ptr(80),
				DelayedRecallAccuracy: ptr(75),
				RecognitionAccuracy:   ptr(90),
				IntrusionErrors:       ptr(1.2),
			},
			Reaction: &domain.ReactionSample{
				Times: []float64{260, 285, 310, 335, 360},
			},
			Stroop: &domain.StroopResults{
				ErrorRate:        ptr(0.06),
				InterferenceCost: ptr(95),
			},
			Tap: &domain.TapTest{IntervalStd: ptr(22)},
		},
		Profile: domain.SubjectProfile{
			Age:            intPtr(30),
			EducationLevel: intPtr(3),
		},
	}
}

// waitFor polls until the condition becomes true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWorkerScoresSubmission(t *testing.T) {
	env := setupWorker(t)
	ctx := context.Background()
	tenantID := "clinic-001"

	if err := env.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Capture the scored event.
	scored := make(chan *domain.Assessment, 1)
	_, err := env.bus.Subscribe(ctx, tenantID, domain.TopicAssessmentScored, func(ctx context.Context, msg *domain.Message) error {
		ev, err := domain.DecodeScoredEvent(msg.Payload)
		if err != nil {
			return err
		}
		select {
		case scored <- ev.Assessment:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload, _ := (&domain.SubmissionEvent{
		TenantID:   tenantID,
		Submission: testSubmission("subj-001"),
	}).Encode()
	if err := env.bus.Publish(ctx, tenantID, domain.TopicSubmissionReceived, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var assessment *domain.Assessment
	select {
	case assessment = <-scored:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scored event")
	}

	if assessment.SubjectID != "subj-001" {
		t.Errorf("subjectID = %s", assessment.SubjectID)
	}
	if assessment.CompositeRiskScore < 0 || assessment.CompositeRiskScore > 100 {
		t.Errorf("composite = %.2f, out of range", assessment.CompositeRiskScore)
	}

	// The assessment must also land in the repository.
	ok := waitFor(t, 2*time.Second, func() bool {
		_, err := env.repo.GetAssessment(ctx, tenantID, assessment.ID)
		return err == nil
	})
	if !ok {
		t.Error("assessment was not persisted")
	}

	entries, err := env.history.Load(ctx, tenantID, "subj-001")
	if err != nil {
		t.Fatalf("Load history: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history has %d entries, want 1", len(entries))
	}
}

func TestWorkerPublishesAlerts(t *testing.T) {
	env := setupWorker(t)
	ctx := context.Background()
	tenantID := "clinic-002"

	if err := env.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	alertCh := make(chan *domain.AlertEvent, 8)
	_, err := env.bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		ev, err := domain.DecodeAlertEvent(msg.Payload)
		if err != nil {
			return err
		}
		alertCh <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// A collapsed submission drives every score down far enough to trip
	// the builtin elevated-concern rule.
	sub := testSubmission("subj-002")
	sub.Measurements.Speech = &domain.SpeechSample{
		WordsPerMinute:      ptr(60),
		PauseRatio:          ptr(0.65),
		WordFindingDelay:    ptr(4.5),
		ArticulationClarity: ptr(40),
		LexicalDiversity:    ptr(0.15),
	}
	sub.Measurements.Memory = &domain.MemoryResults{
		WordRecallAccuracy:    ptr(20),
		PatternAccuracy:       ptr(18),
		DelayedRecallAccuracy: ptr(12),
		RecognitionAccuracy:   ptr(30),
		IntrusionErrors:       ptr(9),
	}
	sub.Measurements.Reaction = &domain.ReactionSample{
		Times: []float64{650, 780, 910, 1050, 1200},
	}
	sub.Measurements.Stroop = &domain.StroopResults{
		ErrorRate:        ptr(0.45),
		InterferenceCost: ptr(420),
	}
	sub.Measurements.Tap = &domain.TapTest{IntervalStd: ptr(95)}

	payload, _ := (&domain.SubmissionEvent{
		TenantID:   tenantID,
		Submission: sub,
	}).Encode()
	if err := env.bus.Publish(ctx, tenantID, domain.TopicSubmissionReceived, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-alertCh:
		if !ev.Result.Triggered {
			t.Errorf("published alert not triggered: %+v", ev.Result)
		}
		if ev.Result.Severity == "" {
			t.Error("alert has no severity")
		}
		if ev.SubjectID != "subj-002" {
			t.Errorf("alert subject = %q, want subj-002", ev.SubjectID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for alert")
	}
}

func TestWorkerIgnoresMalformedMessages(t *testing.T) {
	env := setupWorker(t)
	ctx := context.Background()
	tenantID := "clinic-003"

	if err := env.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Missing subject: the worker must drop it without scoring anything.
	payload, _ := (&domain.SubmissionEvent{TenantID: tenantID}).Encode()
	if err := env.bus.Publish(ctx, tenantID, domain.TopicSubmissionReceived, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	entries, err := env.history.Load(ctx, tenantID, "")
	if err == nil && len(entries) != 0 {
		t.Errorf("malformed message produced history: %v", entries)
	}
}

func TestWorkerStats(t *testing.T) {
	env := setupWorker(t)

	if err := env.worker.Start(Config{TenantIDs: []string{"clinic-001", "clinic-002"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stats := env.worker.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("subscriptions = %d, want 2", stats.SubscriptionCount)
	}

	if err := env.worker.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if env.worker.GetStats().SubscriptionCount != 0 {
		t.Error("subscriptions remain after stop")
	}
}
