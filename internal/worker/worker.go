// Package worker provides async submission processing for the Pro tier.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/pipeline"
)

// DefaultVelocityWindow bounds the sessions_in_window counter fed to the
// alert engine.
const DefaultVelocityWindow = 24 * time.Hour

// Worker scores screening submissions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	engine    *alerts.Engine
	processor *pipeline.Processor
	history   *history.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of clinics to process (empty = all via the
	// global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, engine *alerts.Engine, processor *pipeline.Processor, histSvc *history.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		engine:    engine,
		processor: processor,
		history:   histSvc,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing submissions for the given clinics.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all clinics (for
// testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicSubmissionReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific clinic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSubmissionReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSubmissionReceived,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSubmission(ctx, msg.TenantID, msg)
}

// processSubmission runs a submission through the full scoring pipeline,
// persists the result and publishes the scored event plus any triggered
// alerts.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	event, err := domain.DecodeSubmissionEvent(msg.Payload)
	if err != nil {
		slog.Error("failed to parse submission event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use event tenant if provided
	if event.TenantID != "" {
		tenantID = event.TenantID
	}

	if event.Submission == nil || event.Submission.SubjectID == "" {
		slog.Error("submission event missing subject",
			"message_id", msg.ID,
		)
		return nil // malformed events are not retryable
	}
	subjectID := event.Submission.SubjectID

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing submission",
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	var entries []domain.HistoryEntry
	if w.history != nil {
		var err error
		entries, err = w.history.Load(ctx, tenantID, subjectID)
		if err != nil {
			slog.Warn("failed to load subject history", "error", err)
			entries = nil
		}
	}

	assessment, err := w.processor.Process(ctx, &pipeline.Input{
		TenantID:   tenantID,
		SubjectID:  subjectID,
		Submission: event.Submission,
		History:    entries,
	})
	if err != nil {
		slog.Error("scoring failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	var sessions int64
	if w.history != nil {
		if err := w.history.Record(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to persist assessment",
				"id", assessment.ID,
				"error", err,
			)
		}
		sessions, err = w.history.SessionsInWindow(ctx, tenantID, subjectID, DefaultVelocityWindow)
		if err != nil {
			slog.Warn("failed to count sessions in window", "error", err)
		}
	}

	resultPayload, _ := (&domain.ScoredEvent{TraceID: traceID, Assessment: assessment}).Encode()
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessmentScored, resultPayload); err != nil {
		slog.Error("failed to publish scored event",
			"id", assessment.ID,
			"error", err,
		)
	}

	if w.engine != nil {
		results, err := w.engine.EvaluateAll(ctx, &alerts.EvaluateInput{
			TenantID:         tenantID,
			Assessment:       assessment,
			SessionsInWindow: sessions,
		})
		if err != nil {
			slog.Error("alert evaluation failed",
				"id", assessment.ID,
				"error", err,
			)
		} else {
			for _, triggered := range alerts.Triggered(results) {
				payload, _ := (&domain.AlertEvent{
					AssessmentID: assessment.ID,
					SubjectID:    subjectID,
					Result:       triggered,
				}).Encode()
				if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
					slog.Error("failed to publish alert",
						"rule_id", triggered.RuleID,
						"error", err,
					)
				}
			}
		}
	}

	slog.Info("submission processed",
		"tenant_id", tenantID,
		"assessment_id", assessment.ID,
		"composite_risk", assessment.CompositeRiskScore,
		"tier", assessment.CompositeRiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
