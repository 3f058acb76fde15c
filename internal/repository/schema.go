package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Assessments are append-only: one row per scored submission, never
// updated. The full result object is stored as JSON alongside the queryable
// columns used for history and trend lookups.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    state TEXT NOT NULL,
    composite_risk_score REAL NOT NULL,
    composite_risk_level TEXT NOT NULL,
    concern_probability REAL NOT NULL,
    confidence REAL NOT NULL,
    anomaly_alert TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_subject ON assessments(tenant_id, subject_id);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(tenant_id, subject_id, timestamp);
`

// Norm sets are versioned calibration tables. At most one row per tenant
// is active; activation flips flags inside a transaction.
const schemaNormSets = `
CREATE TABLE IF NOT EXISTS norm_sets (
    version TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    tables_json TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (version, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_norm_sets_tenant ON norm_sets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_norm_sets_active ON norm_sets(tenant_id, active);
`

const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAssessments,
		schemaNormSets,
		schemaAlertRules,
	}
}
