package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opensense-health/kestrel/internal/alerts"
	"github.com/opensense-health/kestrel/internal/cache"
	"github.com/opensense-health/kestrel/internal/domain"
	"github.com/opensense-health/kestrel/internal/history"
	"github.com/opensense-health/kestrel/internal/norms"
	"github.com/opensense-health/kestrel/internal/pipeline"
	"github.com/opensense-health/kestrel/internal/repository"
)

// createTestServer wires a server against a temp sqlite repository and an
// in-memory cache.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	tmpFile, err := os.CreateTemp("", "kestrel-api-test-*.db")
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

	processor := pipeline.NewProcessor(store)
	histSvc := history.NewService(repo, c)

	return NewServer(cfg, repo, c, nil, engine, store, processor, histSvc, "test-v1")
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

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "clinic-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScoring", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/assessments", testSubmission("subj-001"))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Assessment == nil {
			t.Fatal("response has no assessment")
		}
		if resp.Assessment.ID == "" {
			t.Error("assessment ID not generated")
		}
		if resp.Assessment.CompositeRiskScore < 0 || resp.Assessment.CompositeRiskScore > 100 {
			t.Errorf("composite = %.2f, out of range", resp.Assessment.CompositeRiskScore)
		}
		if resp.Assessment.CompositeRiskLevel == "" {
			t.Error("composite tier missing")
		}
		if resp.Assessment.Disclaimer == "" {
			t.Error("disclaimer missing")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("version = %s", resp.Metadata.Version)
		}
	})

	t.Run("MissingTenantHeader", func(t *testing.T) {
		body, _ := json.Marshal(testSubmission("subj-001"))
		req := httptest.NewRequest(http.MethodPost, "/assessments", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingSubjectID", func(t *testing.T) {
		sub := testSubmission("")
		rr := doRequest(t, server, http.MethodPost, "/assessments", sub)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("IncompleteSubmission", func(t *testing.T) {
		sub := testSubmission("subj-002")
		sub.Measurements.Memory = nil
		rr := doRequest(t, server, http.MethodPost, "/assessments", sub)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assessments", bytes.NewBufferString("{not json"))
		req.Header.Set("X-Tenant-ID", "clinic-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAssessmentRetrieval(t *testing.T) {
	server := createTestServer(t)

	// Score twice so list retrieval has something to return.
	var ids []string
	for i := 0; i < 2; i++ {
		rr := doRequest(t, server, http.MethodPost, "/assessments", testSubmission("subj-010"))
		if rr.Code != http.StatusOK {
			t.Fatalf("scoring failed: %d %s", rr.Code, rr.Body.String())
		}
		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		ids = append(ids, resp.Assessment.ID)
	}

	t.Run("GetByID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/assessments/"+ids[0], nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var a domain.Assessment
		if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
			t.Fatalf("failed to decode assessment: %v", err)
		}
		if a.ID != ids[0] {
			t.Errorf("id = %s, want %s", a.ID, ids[0])
		}
		if a.State != domain.StatePersisted {
			t.Errorf("state = %s, want persisted", a.State)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/assessments/nonexistent", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListBySubject", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/subjects/subj-010/assessments", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Assessments []*domain.Assessment `json:"assessments"`
			Count       int                  `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Count != 2 {
			t.Errorf("count = %d, want 2", resp.Count)
		}
	})

	t.Run("ListBadSince", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/subjects/subj-010/assessments?since=yesterday", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("status = %s", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestNormEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("GetActive", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/norms", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var set domain.NormSet
		if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
			t.Fatalf("failed to decode norm set: %v", err)
		}
		if set.Version == "" {
			t.Error("norm set has no version")
		}
	})

	t.Run("UpdateActivates", func(t *testing.T) {
		set := domain.DefaultNormSet()
		set.Version = "test-2026.1"
		rr := doRequest(t, server, http.MethodPut, "/norms", set)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/norms", nil)
		var got domain.NormSet
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.Version != "test-2026.1" {
			t.Errorf("active version = %s, want test-2026.1", got.Version)
		}
	})

	t.Run("RejectInvalid", func(t *testing.T) {
		set := domain.DefaultNormSet()
		set.Version = ""
		rr := doRequest(t, server, http.MethodPut, "/norms", set)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/norms/reload", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestAlertRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/alert-rules", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []*domain.AlertRule `json:"rules"`
			Count int                 `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Count == 0 {
			t.Error("expected builtin rules to be loaded")
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		req := CreateAlertRuleRequest{
			ID:         "custom-001",
			Name:       "Moderate risk follow-up",
			Expression: "composite_risk_score >= 70.0",
			Severity:   domain.SeverityFollowup,
			Message:    "Schedule a follow-up call.",
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/alert-rules", req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/alert-rules/custom-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rule domain.AlertRule
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("failed to decode rule: %v", err)
		}
		if rule.Expression != req.Expression {
			t.Errorf("expression = %s", rule.Expression)
		}
	})

	t.Run("RejectNonBoolean", func(t *testing.T) {
		req := CreateAlertRuleRequest{
			ID:         "bad-001",
			Name:       "Bad rule",
			Expression: "composite_risk_score + 1.0",
			Severity:   domain.SeverityNotice,
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/alert-rules", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectBadSeverity", func(t *testing.T) {
		req := CreateAlertRuleRequest{
			ID:         "bad-002",
			Name:       "Bad severity",
			Expression: "composite_risk_score >= 50.0",
			Severity:   "critical",
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/alert-rules", req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeleteReloads", func(t *testing.T) {
		req := CreateAlertRuleRequest{
			ID:         "custom-002",
			Name:       "Temporary rule",
			Expression: "hybrid_risk >= 0.9",
			Severity:   domain.SeverityNotice,
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/alert-rules", req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create failed: %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodDelete, "/alert-rules/custom-002", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/alert-rules/custom-002", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodDelete, "/alert-rules/ghost", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/alert-rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestAnomalyAcrossSubmissions(t *testing.T) {
	server := createTestServer(t)

	// Build a mildly fluctuating baseline, then submit a collapsed session.
	// The scored result must flag the drop against the subject's own
	// history. The baseline must not be perfectly flat or the detector
	// treats any movement as relative.
	for _, recall := range []float64{82, 80, 84} {
		sub := testSubmission("subj-020")
		sub.Measurements.Memory.WordRecallAccuracy = ptr(recall)
		rr := doRequest(t, server, http.MethodPost, "/assessments", sub)
		if rr.Code != http.StatusOK {
			t.Fatalf("baseline failed: %d %s", rr.Code, rr.Body.String())
		}
	}

	degraded := testSubmission("subj-020")
	degraded.Measurements.Speech = &domain.SpeechSample{
		WordsPerMinute:      ptr(75),
		PauseRatio:          ptr(0.55),
		WordFindingDelay:    ptr(3.5),
		ArticulationClarity: ptr(55),
		LexicalDiversity:    ptr(0.2),
	}
	degraded.Measurements.Memory = &domain.MemoryResults{
		WordRecallAccuracy:    ptr(35),
		PatternAccuracy:       ptr(30),
		DelayedRecallAccuracy: ptr(25),
		RecognitionAccuracy:   ptr(45),
		IntrusionErrors:       ptr(6),
	}
	degraded.Measurements.Reaction = &domain.ReactionSample{
		Times: []float64{520, 610, 700, 830, 960},
	}

	rr := doRequest(t, server, http.MethodPost, "/assessments", degraded)
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded submission failed: %d %s", rr.Code, rr.Body.String())
	}

	var resp ScoreResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Assessment.AnomalyAlert != domain.AnomalySuddenDrop {
		t.Errorf("anomaly = %s, want %s (details: %s)",
			resp.Assessment.AnomalyAlert, domain.AnomalySuddenDrop, resp.Assessment.AnomalyDetails)
	}

	// The builtin sudden-drop rule should be among the triggered alerts.
	found := false
	for _, a := range resp.Alerts {
		if a.RuleID == "builtin-sudden-drop" {
			found = true
		}
	}
	if !found {
		t.Errorf("builtin-sudden-drop not triggered: %v", resp.Alerts)
	}
}

func TestTenantIsolationAcrossAPI(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(t, server, http.MethodPost, "/assessments", testSubmission("subj-030"))
	if rr.Code != http.StatusOK {
		t.Fatalf("scoring failed: %d", rr.Code)
	}
	var resp ScoreResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/assessments/%s", resp.Assessment.ID), nil)
	req.Header.Set("X-Tenant-ID", "clinic-999")
	other := httptest.NewRecorder()
	server.Router().ServeHTTP(other, req)

	if other.Code != http.StatusNotFound {
		t.Errorf("cross-tenant read returned %d, want 404", other.Code)
	}
}
