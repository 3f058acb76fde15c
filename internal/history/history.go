// Package history manages per-subject assessment history: the append-only
// longitudinal record the anomaly detector compares against.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensense-health/kestrel/internal/domain"
)

// Snapshot TTL. History changes only when a subject completes a session,
// so a short TTL keeps the trend lookups cheap without staleness risk.
const snapshotTTL = 5 * time.Minute

// DefaultLookback bounds how far back trend comparison reaches.
const DefaultLookback = 365 * 24 * time.Hour

// Service serializes per-subject appends and caches history snapshots.
// Appends for the same subject take a keyed lock so concurrent sessions
// cannot produce lost updates or out-of-order anomaly baselines; different
// subjects never contend.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		locks: make(map[string]*sync.Mutex),
	}
}

// subjectLock returns the append lock for one tenant+subject pair.
func (s *Service) subjectLock(tenantID, subjectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "/" + subjectID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Load returns a subject's history, oldest first. The cached snapshot is
// tried first; a miss falls through to the repository and repopulates the
// cache.
func (s *Service) Load(ctx context.Context, tenantID, subjectID string) ([]domain.HistoryEntry, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("tenantID and subjectID are required")
	}

	if s.cache != nil {
		entries, err := s.cache.GetHistory(ctx, tenantID, subjectID)
		if err == nil && entries != nil {
			return entries, nil
		}
	}

	entries, err := s.loadFromRepo(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(entries) > 0 {
		// Best effort; scoring proceeds even when the cache is down.
		_ = s.cache.SetHistory(ctx, tenantID, subjectID, entries, snapshotTTL)
	}

	return entries, nil
}

// Record persists a scored assessment and appends it to the subject's
// history snapshot. The whole operation holds the subject's append lock.
func (s *Service) Record(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if a == nil {
		return fmt.Errorf("assessment is required")
	}

	lock := s.subjectLock(tenantID, a.SubjectID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.SaveAssessment(ctx, tenantID, a); err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}

	if s.cache != nil {
		entries, err := s.cache.GetHistory(ctx, tenantID, a.SubjectID)
		if err == nil && entries != nil {
			entries = append(entries, domain.HistoryOf(a))
			_ = s.cache.SetHistory(ctx, tenantID, a.SubjectID, entries, snapshotTTL)
		} else {
			_ = s.cache.Delete(ctx, tenantID, historyKey(a.SubjectID))
		}
	}

	return nil
}

// SessionsInWindow counts this submission against the subject's
// retest-velocity window and returns the running total. Feeds the
// sessions_in_window alert variable.
func (s *Service) SessionsInWindow(ctx context.Context, tenantID, subjectID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "sessions:"+subjectID, window)
}

func (s *Service) loadFromRepo(ctx context.Context, tenantID, subjectID string) ([]domain.HistoryEntry, error) {
	since := time.Now().Add(-DefaultLookback)
	assessments, err := s.repo.ListAssessmentsBySubject(ctx, tenantID, subjectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(assessments))
	for _, a := range assessments {
		entries = append(entries, domain.HistoryOf(a))
	}
	return entries, nil
}

func historyKey(subjectID string) string {
	return "history:" + subjectID
}
