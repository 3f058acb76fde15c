package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation
// (a tenant is a clinic or study site).
type Repository interface {
	// Assessment operations. Assessments are append-only: saved once,
	// never updated. A retake produces a new assessment.
	SaveAssessment(ctx context.Context, tenantID string, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*Assessment, error)

	// ListAssessmentsBySubject returns a subject's assessments since a
	// point in time, oldest first, for trend and anomaly comparison.
	ListAssessmentsBySubject(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]*Assessment, error)

	// Norm set operations (versioned calibration tables)
	SaveNormSet(ctx context.Context, tenantID string, set *NormSet) error
	GetActiveNormSet(ctx context.Context, tenantID string) (*NormSet, error)

	// Alert rule operations
	SaveAlertRule(ctx context.Context, tenantID string, rule *AlertRule) error
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
