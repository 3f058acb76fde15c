package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/features"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/pipeline"
	"github.com/opensense-health/kestrel/internal/repository"
)

// GlobalTenantID scopes alert rules that apply to every clinic.
const GlobalTenantID = "*"

// DefaultVelocityWindow is the retest-velocity counting window feeding the
// sessions_in_window alert variable.
const DefaultVelocityWindow = 24 * time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *alerts.Engine
	store     *norms.Store
	processor *pipeline.Processor
	history   *history.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *alerts.Engine, store *norms.Store, processor *pipeline.Processor, histSvc *history.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		store:     store,
		processor: processor,
		history:   histSvc,
		version:   version,
	}
}

// ScoreResponse is the response for POST /assessments.
type ScoreResponse struct {
	Assessment *domain.Assessment   `json:"assessment"`
	Alerts     []domain.AlertResult `json:"alerts,omitempty"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /assessments: one screening submission in, one
// immutable scored assessment out.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if sub.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}

	// Longitudinal context. Losing history degrades anomaly detection but
	// never blocks scoring.
	var entries []domain.HistoryEntry
	if h.history != nil {
		var err error
		entries, err = h.history.Load(ctx, tenantID, sub.SubjectID)
		if err != nil {
			slog.Warn("failed to load subject history", "error", err)
			entries = nil
		}
	}

	assessment, err := h.processor.Process(ctx, &pipeline.Input{
		TenantID:   tenantID,
		SubjectID:  sub.SubjectID,
		Submission: &sub,
		History:    entries,
	})
	if err != nil {
		if errors.Is(err, features.ErrIncompleteAssessment) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	if h.history != nil {
		if err := h.history.Record(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to persist assessment", "id", assessment.ID, "error", err)
		}
	}

	var sessions int64
	if h.history != nil {
		sessions, err = h.history.SessionsInWindow(ctx, tenantID, sub.SubjectID, DefaultVelocityWindow)
		if err != nil {
			slog.Warn("failed to count sessions in window", "error", err)
		}
	}

	var triggered []domain.AlertResult
	if h.engine != nil {
		results, err := h.engine.EvaluateAll(ctx, &alerts.EvaluateInput{
			TenantID:         tenantID,
			Assessment:       assessment,
			SessionsInWindow: sessions,
		})
		if err != nil {
			slog.Error("alert evaluation failed", "error", err)
		} else {
			triggered = alerts.Triggered(results)
		}
	}

	if h.bus != nil {
		if payload, err := (&domain.ScoredEvent{TraceID: traceID, Assessment: assessment}).Encode(); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessmentScored, payload); err != nil {
				slog.Warn("failed to publish scored event", "error", err)
			}
		}
	}

	resp := ScoreResponse{
		Assessment: assessment,
		Alerts:     triggered,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListSubjectAssessments returns a subject's assessments, oldest first.
// An optional ?since=RFC3339 query bounds the range; the default is the
// trend lookback window.
func (h *Handler) ListSubjectAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "id")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().Add(-history.DefaultLookback)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}

	list, err := h.repo.ListAssessmentsBySubject(ctx, tenantID, subjectID, since)
	if err != nil {
		slog.Error("failed to list assessments", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list assessments",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": list,
		"count":       len(list),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetNorms returns the active calibration set.
func (h *Handler) GetNorms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Current())
}

// UpdateNorms installs a new calibration set: validate, persist, swap.
// Calibration is deployment-wide, so persistence uses the global scope.
// The swap is atomic; in-flight scoring finishes on the old set.
func (h *Handler) UpdateNorms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var set domain.NormSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := norms.Validate(&set); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid norm set: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveNormSet(ctx, GlobalTenantID, &set); err != nil {
			slog.Error("failed to save norm set", "version", set.Version, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save norm set",
			})
			return
		}
	}

	if err := h.store.Swap(&set); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to activate norm set: " + err.Error(),
		})
		return
	}

	slog.Info("norm set activated", "version", set.Version)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "norm set activated",
		"version": set.Version,
	})
}

// ReloadNorms re-activates the persisted norm set. Falls back to the
// built-in calibration when none is stored.
func (h *Handler) ReloadNorms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	set, err := h.repo.GetActiveNormSet(ctx, GlobalTenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			set = domain.DefaultNormSet()
		} else {
			slog.Error("failed to load norm set", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load norm set",
			})
			return
		}
	}

	if err := h.store.Swap(set); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to activate norm set: " + err.Error(),
		})
		return
	}

	slog.Info("norm set reloaded", "version", set.Version)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "norm set reloaded",
		"version": set.Version,
	})
}

// ListAlertRules returns all rules loaded in the engine.
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetAlertRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateAlertRuleRequest is the request body for creating an alert rule.
type CreateAlertRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	Enabled     bool   `json:"enabled"`
}

// CreateAlertRule validates a rule's CEL expression, persists it globally
// and loads it into the engine.
func (h *Handler) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	switch req.Severity {
	case domain.SeverityNotice, domain.SeverityFollowup, domain.SeverityUrgent:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("severity must be one of %s, %s, %s",
				domain.SeverityNotice, domain.SeverityFollowup, domain.SeverityUrgent),
		})
		return
	}

	rule := &domain.AlertRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    req.Severity,
		Message:     req.Message,
		Enabled:     req.Enabled,
	}

	// Compile before persisting so a bad expression never lands in the DB.
	if err := h.engine.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveAlertRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save alert rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save alert rule",
			})
			return
		}
	}

	slog.Info("alert rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// DeleteAlertRule soft-deletes a rule and reloads the engine.
func (h *Handler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteAlertRule(ctx, GlobalTenantID, ruleID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to delete alert rule", "id", ruleID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	if err := h.reloadEngineRules(ctx); err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("alert rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted and engine reloaded",
	})
}

// ReloadAlertRules reloads persisted rules plus builtins into the engine.
func (h *Handler) ReloadAlertRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.reloadEngineRules(ctx); err != nil {
		slog.Error("failed to reload alert rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload alert rules: " + err.Error(),
		})
		return
	}

	count := h.engine.RulesCount()
	slog.Info("alert rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "alert rules reloaded",
		"count":   count,
	})
}

// reloadEngineRules replaces the engine's rule set with builtins plus the
// persisted global rules.
func (h *Handler) reloadEngineRules(ctx context.Context) error {
	stored, err := h.repo.ListAlertRules(ctx, GlobalTenantID)
	if err != nil {
		return err
	}
	return h.engine.ReloadRules(append(alerts.BuiltinRules(), stored...))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
