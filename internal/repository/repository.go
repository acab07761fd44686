// Package repository provides the SQL-backed analysis store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/history"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
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

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// RecordAnalysis appends a history entry.
func (s *SQLStore) RecordAnalysis(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil || rec.AnalysisID == "" {
		return fmt.Errorf("%w: analysis id is required", ErrInvalidInput)
	}

	activityTypes, _ := json.Marshal(rec.ActivityTypes)
	result, _ := json.Marshal(rec.Result)

	query := `
		INSERT INTO analyses (
			analysis_id, document_id, document_type, patient_name,
			hospital_name, lab_name, total_amount, bill_number,
			service_date, uploaded_by, uploaded_at, analyzed_at,
			risk_score, risk_level, activity_types, processing_ms, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.AnalysisID, rec.DocumentID, rec.DocumentType,
		rec.PatientName, rec.HospitalName, rec.LabName,
		rec.TotalAmount, rec.BillNumber,
		nullableTime(rec.ServiceDate), rec.UploadedBy, rec.UploadedAt, rec.AnalyzedAt,
		rec.RiskScore, rec.RiskLevel, string(activityTypes), rec.ProcessingMs,
		string(result),
	)
	return err
}

// Analyses returns the full history in arrival order.
func (s *SQLStore) Analyses(ctx context.Context) ([]*domain.AnalysisRecord, error) {
	query := analysisSelect + ` ORDER BY analyzed_at ASC`
	return s.queryAnalyses(ctx, query)
}

// AnalysesByDocument returns all entries recorded for a document id.
func (s *SQLStore) AnalysesByDocument(ctx context.Context, documentID string) ([]*domain.AnalysisRecord, error) {
	query := analysisSelect + ` WHERE document_id = ? ORDER BY analyzed_at ASC`
	return s.queryAnalyses(ctx, query, documentID)
}

// GetAnalysis retrieves one history entry by analysis id.
func (s *SQLStore) GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error) {
	query := analysisSelect + ` WHERE analysis_id = ?`

	rec, err := scanAnalysis(s.db.QueryRowContext(ctx, s.rebind(query), analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const analysisSelect = `
	SELECT analysis_id, document_id, document_type, patient_name,
		   hospital_name, lab_name, total_amount, bill_number,
		   service_date, uploaded_by, uploaded_at, analyzed_at,
		   risk_score, risk_level, activity_types, processing_ms, result
	FROM analyses
`

func (s *SQLStore) queryAnalyses(ctx context.Context, query string, args ...any) ([]*domain.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	var serviceDate sql.NullTime
	var activityTypes, result string

	if err := row.Scan(
		&rec.AnalysisID, &rec.DocumentID, &rec.DocumentType,
		&rec.PatientName, &rec.HospitalName, &rec.LabName,
		&rec.TotalAmount, &rec.BillNumber,
		&serviceDate, &rec.UploadedBy, &rec.UploadedAt, &rec.AnalyzedAt,
		&rec.RiskScore, &rec.RiskLevel, &activityTypes, &rec.ProcessingMs,
		&result,
	); err != nil {
		return nil, err
	}

	if serviceDate.Valid {
		t := serviceDate.Time
		rec.ServiceDate = &t
	}
	if activityTypes != "" && activityTypes != "null" {
		json.Unmarshal([]byte(activityTypes), &rec.ActivityTypes)
	}
	if result != "" && result != "null" {
		json.Unmarshal([]byte(result), &rec.Result)
	}

	return &rec, nil
}

// SaveFingerprint registers a document fingerprint.
func (s *SQLStore) SaveFingerprint(ctx context.Context, fp *domain.DocumentFingerprint) error {
	if fp == nil || fp.DocumentID == "" {
		return fmt.Errorf("%w: fingerprint document id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fingerprints (
			document_id, structural, content, visual, metadata, similarity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		fp.DocumentID, fp.Structural, fp.Content, fp.Visual, fp.Metadata,
		fp.Similarity, fp.CreatedAt,
	)
	return err
}

// Fingerprints returns every stored fingerprint in registration order.
func (s *SQLStore) Fingerprints(ctx context.Context) ([]*domain.DocumentFingerprint, error) {
	query := `
		SELECT document_id, structural, content, visual, metadata, similarity, created_at
		FROM fingerprints
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []*domain.DocumentFingerprint
	for rows.Next() {
		var fp domain.DocumentFingerprint
		if err := rows.Scan(
			&fp.DocumentID, &fp.Structural, &fp.Content, &fp.Visual,
			&fp.Metadata, &fp.Similarity, &fp.CreatedAt,
		); err != nil {
			return nil, err
		}
		fps = append(fps, &fp)
	}
	return fps, rows.Err()
}

// AddBlacklistEntity adds a lower-cased entity name to the blacklist.
// Adding an existing name is a no-op.
func (s *SQLStore) AddBlacklistEntity(ctx context.Context, name string) error {
	query := `
		INSERT INTO blacklist (entity, added_at) VALUES (?, ?)
		ON CONFLICT(entity) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		normalizeEntity(name), time.Now().UTC(),
	)
	return err
}

// RemoveBlacklistEntity removes an entity; unknown names are a no-op.
func (s *SQLStore) RemoveBlacklistEntity(ctx context.Context, name string) error {
	query := `DELETE FROM blacklist WHERE entity = ?`
	_, err := s.db.ExecContext(ctx, s.rebind(query), normalizeEntity(name))
	return err
}

// IsBlacklisted reports blacklist membership, case-insensitively.
func (s *SQLStore) IsBlacklisted(ctx context.Context, name string) (bool, error) {
	query := `SELECT COUNT(*) FROM blacklist WHERE entity = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), normalizeEntity(name)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// BlacklistEntities returns the blacklist, sorted for stable output.
func (s *SQLStore) BlacklistEntities(ctx context.Context) ([]string, error) {
	query := `SELECT entity FROM blacklist ORDER BY entity`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// SaveRuleConfig stores an operator-defined expression rule, replacing
// any previous version of the same id.
func (s *SQLStore) SaveRuleConfig(ctx context.Context, cfg *domain.RuleConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("%w: rule config id is required", ErrInvalidInput)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, category, expression, weight, threshold, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			expression = excluded.expression,
			weight = excluded.weight,
			threshold = excluded.threshold,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		cfg.ID, cfg.Name, cfg.Description, cfg.Category,
		cfg.Expression, cfg.Weight, cfg.Threshold, enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves all stored expression rules sorted by id.
func (s *SQLStore) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, category, expression, weight, threshold, enabled
		FROM rule_configs
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Category,
			&cfg.Expression, &cfg.Weight, &cfg.Threshold, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// Statistics reduces the stored history into a summary using the same
// reduction as the in-memory store.
func (s *SQLStore) Statistics(ctx context.Context) (*domain.Statistics, error) {
	analyses, err := s.Analyses(ctx)
	if err != nil {
		return nil, err
	}
	return history.Reduce(analyses), nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
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

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func normalizeEntity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
