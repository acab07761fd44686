package repository

// Schema definitions for the claimwatch database.
// Compatible with both SQLite and PostgreSQL.

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    analysis_id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    document_type TEXT NOT NULL,
    patient_name TEXT,
    hospital_name TEXT,
    lab_name TEXT,
    total_amount REAL,
    bill_number TEXT,
    service_date TIMESTAMP,
    uploaded_by TEXT,
    uploaded_at TIMESTAMP,
    analyzed_at TIMESTAMP NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    activity_types TEXT,
    processing_ms INTEGER NOT NULL,
    result TEXT
);

CREATE INDEX IF NOT EXISTS idx_analyses_document ON analyses(document_id);
CREATE INDEX IF NOT EXISTS idx_analyses_patient ON analyses(patient_name);
CREATE INDEX IF NOT EXISTS idx_analyses_uploader ON analyses(uploaded_by);
CREATE INDEX IF NOT EXISTS idx_analyses_analyzed ON analyses(analyzed_at);
`

const schemaFingerprints = `
CREATE TABLE IF NOT EXISTS fingerprints (
    document_id TEXT NOT NULL,
    structural TEXT NOT NULL,
    content TEXT NOT NULL,
    visual TEXT NOT NULL,
    metadata TEXT NOT NULL,
    similarity REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_document ON fingerprints(document_id);
CREATE INDEX IF NOT EXISTS idx_fingerprints_content ON fingerprints(content);
`

const schemaBlacklist = `
CREATE TABLE IF NOT EXISTS blacklist (
    entity TEXT PRIMARY KEY,
    added_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0.5,
    threshold REAL NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
		schemaFingerprints,
		schemaBlacklist,
		schemaRuleConfigs,
	}
}
