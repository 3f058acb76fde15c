// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensense-health/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAssessment stores a scored assessment with tenant isolation.
// Assessments are append-only; inserting an existing ID is an error.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment with ID is required", ErrInvalidInput)
	}
	// Persisting advances the lifecycle; only a scored assessment may
	// move to persisted.
	if !a.State.CanTransition(domain.StatePersisted) {
		return fmt.Errorf("%w: assessment in state %q cannot be persisted", ErrInvalidInput, a.State)
	}

	result, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, subject_id, state,
			composite_risk_score, composite_risk_level,
			concern_probability, confidence, anomaly_alert,
			engine_version, timestamp, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.SubjectID, string(domain.StatePersisted),
		a.CompositeRiskScore, a.CompositeRiskLevel,
		a.ConcernProbability, a.Confidence, string(a.AnomalyAlert),
		a.EngineVersion, a.Timestamp, string(result),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT result FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	var result string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(&result)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return decodeAssessment(result)
}

// ListAssessmentsBySubject retrieves a subject's assessments since a point
// in time, oldest first, for trend and anomaly comparison.
func (r *SQLRepository) ListAssessmentsBySubject(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT result FROM assessments
		WHERE tenant_id = ?
		  AND subject_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.Assessment
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		a, err := decodeAssessment(result)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// SaveNormSet stores a calibration table set and makes it the tenant's
// active version. Activation is transactional so scoring traffic never
// observes a tenant with zero or two active sets.
func (r *SQLRepository) SaveNormSet(ctx context.Context, tenantID string, set *domain.NormSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if set == nil || set.Version == "" {
		return fmt.Errorf("%w: versioned norm set is required", ErrInvalidInput)
	}

	tables, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode norm set: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deactivate := `UPDATE norm_sets SET active = 0 WHERE tenant_id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(deactivate), tenantID); err != nil {
		return err
	}

	upsert := `
		INSERT INTO norm_sets (version, tenant_id, tables_json, active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(version, tenant_id) DO UPDATE SET
			tables_json = excluded.tables_json,
			active = 1
	`
	if _, err := tx.ExecContext(ctx, r.rebind(upsert),
		set.Version, tenantID, string(tables), time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetActiveNormSet retrieves the tenant's active calibration tables.
func (r *SQLRepository) GetActiveNormSet(ctx context.Context, tenantID string) (*domain.NormSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tables_json FROM norm_sets
		WHERE tenant_id = ? AND active = 1
		LIMIT 1
	`

	var tables string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&tables)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var set domain.NormSet
	if err := json.Unmarshal([]byte(tables), &set); err != nil {
		return nil, fmt.Errorf("failed to parse norm set: %w", err)
	}
	return &set, nil
}

// SaveAlertRule stores an alert rule with tenant isolation.
func (r *SQLRepository) SaveAlertRule(ctx context.Context, tenantID string, rule *domain.AlertRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: alert rule with ID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO alert_rules (
			id, tenant_id, name, description, version, expression, severity, message, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			severity = excluded.severity,
			message = excluded.message,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Severity, rule.Message, enabled,
		now, now,
	)
	return err
}

// ListAlertRules retrieves all active alert rules for a tenant.
func (r *SQLRepository) ListAlertRules(ctx context.Context, tenantID string) ([]*domain.AlertRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, message, enabled, created_at, updated_at
		FROM alert_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		var rule domain.AlertRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Severity, &rule.Message, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteAlertRule soft-deletes an alert rule by setting enabled = 0.
func (r *SQLRepository) DeleteAlertRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE alert_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func decodeAssessment(result string) (*domain.Assessment, error) {
	var a domain.Assessment
	if err := json.Unmarshal([]byte(result), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment: %w", err)
	}
	a.State = domain.StatePersisted
	return &a, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
