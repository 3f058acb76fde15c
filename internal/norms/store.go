// Package norms holds the clinical norms store and the age-adjusted
// normalization layer.
package norms

import (
	"fmt"
	"sync"

	"github.com/opensense-health/kestrel/internal/domain"
)

// Store holds the active calibration table set. The set itself is
// immutable; recalibration swaps the whole pointer, so readers never see a
// partially updated table. This is what makes the scoring pipeline safe to
// run fully in parallel.
type Store struct {
	mu  sync.RWMutex
	set *domain.NormSet
}

// NewStore creates a store around an initial norm set.
func NewStore(set *domain.NormSet) (*Store, error) {
	if err := Validate(set); err != nil {
		return nil, err
	}
	return &Store{set: set}, nil
}

// Current returns the active norm set. Callers must treat it as read-only.
func (s *Store) Current() *domain.NormSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Swap replaces the active norm set atomically (hot recalibration).
func (s *Store) Swap(set *domain.NormSet) error {
	if err := Validate(set); err != nil {
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

// Version returns the active calibration version.
func (s *Store) Version() string {
	return s.Current().Version
}

// Validate checks the structural invariants of a norm set before it is
// allowed to serve scoring traffic.
func Validate(set *domain.NormSet) error {
	if set == nil {
		return fmt.Errorf("norm set is required")
	}
	if set.Version == "" {
		return fmt.Errorf("norm set version is required")
	}

	brackets := []domain.AgeBracket{
		domain.Bracket20to39, domain.Bracket40to59,
		domain.Bracket60to75, domain.Bracket75plus,
	}
	for mt, byBracket := range set.Metrics {
		for _, b := range brackets {
			n, ok := byBracket[b]
			if !ok {
				return fmt.Errorf("metric %s: missing bracket %s", mt, b)
			}
			if n.StdDev <= 0 {
				return fmt.Errorf("metric %s bracket %s: std dev must be positive", mt, b)
			}
		}
	}

	var weightSum float64
	for _, d := range domain.AllDomains {
		weightSum += set.Weights.Weight(d)
	}
	if weightSum < 0.99 || weightSum > 1.01 {
		return fmt.Errorf("composite weights sum to %.4f, want 1.00", weightSum)
	}

	// Age leniency must be ordered and monotonically non-decreasing.
	prev := 0.0
	for i, band := range set.AgeLeniency {
		if band.Factor < prev {
			return fmt.Errorf("age leniency band %d: factor %.2f decreases", i, band.Factor)
		}
		prev = band.Factor
	}

	for name, model := range set.Logistic {
		if model.Scale <= 0 {
			return fmt.Errorf("logistic model %s: scale must be positive", name)
		}
	}

	return nil
}
