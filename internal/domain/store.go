package domain

import (
	"context"
	"time"
)

// AnalysisRecord is one append-only history entry, written after a
// detection result is fully computed. It snapshots the extracted fields
// the cross-document rules read, so rules never touch raw extractedData
// from other submissions.
type AnalysisRecord struct {
	AnalysisID   string       `json:"analysisId"`
	DocumentID   string       `json:"documentId"`
	DocumentType DocumentType `json:"documentType"`

	PatientName  string     `json:"patientName,omitempty"`
	HospitalName string     `json:"hospitalName,omitempty"`
	LabName      string     `json:"labName,omitempty"`
	TotalAmount  float64    `json:"totalAmount,omitempty"`
	BillNumber   string     `json:"billNumber,omitempty"`
	ServiceDate  *time.Time `json:"serviceDate,omitempty"`

	UploadedBy string    `json:"uploadedBy,omitempty"`
	UploadedAt time.Time `json:"uploadedAt,omitempty"`
	AnalyzedAt time.Time `json:"analyzedAt"`

	RiskScore     float64        `json:"riskScore"`
	RiskLevel     RiskLevel      `json:"riskLevel"`
	ActivityTypes []ActivityType `json:"activityTypes,omitempty"`
	ProcessingMs  int64          `json:"processingMs"`

	// Result is the full detection result, retained for audit retrieval.
	Result *FraudDetectionResult `json:"result,omitempty"`
}

// Store is the persistence boundary of the engine: per-document analysis
// history, the fingerprint registry, the blacklist set, and the
// operator-defined rule configurations. All engine mutation goes through
// this interface, never through direct map access.
type Store interface {
	// Analysis history (append-only; entries are never mutated or removed).
	RecordAnalysis(ctx context.Context, rec *AnalysisRecord) error
	Analyses(ctx context.Context) ([]*AnalysisRecord, error)
	AnalysesByDocument(ctx context.Context, documentID string) ([]*AnalysisRecord, error)
	GetAnalysis(ctx context.Context, analysisID string) (*AnalysisRecord, error)

	// Fingerprint registry.
	SaveFingerprint(ctx context.Context, fp *DocumentFingerprint) error
	Fingerprints(ctx context.Context) ([]*DocumentFingerprint, error)

	// Blacklist; names are stored lower-cased.
	AddBlacklistEntity(ctx context.Context, name string) error
	RemoveBlacklistEntity(ctx context.Context, name string) error
	IsBlacklisted(ctx context.Context, name string) (bool, error)
	BlacklistEntities(ctx context.Context) ([]string, error)

	// Operator-defined expression rules.
	SaveRuleConfig(ctx context.Context, cfg *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Statistics is a pure reduction over the full history; an empty
	// history yields a zero summary.
	Statistics(ctx context.Context) (*Statistics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the storage driver: "memory", "sqlite" or "postgres"
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
