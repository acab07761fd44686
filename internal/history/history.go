// Package history provides the in-memory Store used by the community
// tier and by tests. It keeps the append-only analysis log, the
// fingerprint registry, the blacklist set, and operator rule configs
// behind a single mutex.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MemoryStore implements domain.Store with in-process maps.
type MemoryStore struct {
	mu           sync.RWMutex
	analyses     []*domain.AnalysisRecord // append-only, in arrival order
	byAnalysisID map[string]*domain.AnalysisRecord
	byDocumentID map[string][]*domain.AnalysisRecord
	fingerprints []*domain.DocumentFingerprint
	blacklist    map[string]struct{}
	ruleConfigs  map[string]*domain.RuleConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAnalysisID: make(map[string]*domain.AnalysisRecord),
		byDocumentID: make(map[string][]*domain.AnalysisRecord),
		blacklist:    make(map[string]struct{}),
		ruleConfigs:  make(map[string]*domain.RuleConfig),
	}
}

// RecordAnalysis appends a history entry. Prior entries are never
// mutated or removed.
func (s *MemoryStore) RecordAnalysis(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil || rec.AnalysisID == "" {
		return errors.New("analysis id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.analyses = append(s.analyses, rec)
	s.byAnalysisID[rec.AnalysisID] = rec
	s.byDocumentID[rec.DocumentID] = append(s.byDocumentID[rec.DocumentID], rec)
	return nil
}

// Analyses returns the flattened history in arrival order.
func (s *MemoryStore) Analyses(ctx context.Context) ([]*domain.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.AnalysisRecord, len(s.analyses))
	copy(out, s.analyses)
	return out, nil
}

// AnalysesByDocument returns all entries recorded for a document id.
func (s *MemoryStore) AnalysesByDocument(ctx context.Context, documentID string) ([]*domain.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.byDocumentID[documentID]
	out := make([]*domain.AnalysisRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// GetAnalysis retrieves one history entry by analysis id.
func (s *MemoryStore) GetAnalysis(ctx context.Context, analysisID string) (*domain.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byAnalysisID[analysisID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// SaveFingerprint registers a document fingerprint.
func (s *MemoryStore) SaveFingerprint(ctx context.Context, fp *domain.DocumentFingerprint) error {
	if fp == nil || fp.DocumentID == "" {
		return errors.New("fingerprint document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fingerprints = append(s.fingerprints, fp)
	return nil
}

// Fingerprints returns every stored fingerprint.
func (s *MemoryStore) Fingerprints(ctx context.Context) ([]*domain.DocumentFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DocumentFingerprint, len(s.fingerprints))
	copy(out, s.fingerprints)
	return out, nil
}

// AddBlacklistEntity adds a lower-cased entity name to the blacklist.
func (s *MemoryStore) AddBlacklistEntity(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[normalizeEntity(name)] = struct{}{}
	return nil
}

// RemoveBlacklistEntity removes an entity; unknown names are a no-op.
func (s *MemoryStore) RemoveBlacklistEntity(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, normalizeEntity(name))
	return nil
}

// IsBlacklisted reports blacklist membership, case-insensitively.
func (s *MemoryStore) IsBlacklisted(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[normalizeEntity(name)]
	return ok, nil
}

// BlacklistEntities returns the blacklist, sorted for stable output.
func (s *MemoryStore) BlacklistEntities(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.blacklist))
	for name := range s.blacklist {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// SaveRuleConfig stores an operator-defined expression rule.
func (s *MemoryStore) SaveRuleConfig(ctx context.Context, cfg *domain.RuleConfig) error {
	if cfg == nil || cfg.ID == "" {
		return errors.New("rule config id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.ruleConfigs[cfg.ID] = &copied
	return nil
}

// ListRuleConfigs returns stored rule configs sorted by id.
func (s *MemoryStore) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(s.ruleConfigs))
	for _, cfg := range s.ruleConfigs {
		copied := *cfg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Statistics reduces the full history into a summary. An empty history
// yields a zero summary, never an error.
func (s *MemoryStore) Statistics(ctx context.Context) (*domain.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Reduce(s.analyses), nil
}

// Reduce computes summary statistics over a history slice. Shared with
// the SQL store so both backends aggregate identically.
func Reduce(analyses []*domain.AnalysisRecord) *domain.Statistics {
	stats := &domain.Statistics{
		RiskLevelCounts: make(map[domain.RiskLevel]int),
		ActivityCounts:  make(map[domain.ActivityType]int),
	}

	if len(analyses) == 0 {
		return stats
	}

	var scoreSum float64
	var processingSum int64
	for _, rec := range analyses {
		stats.TotalAnalyses++
		stats.RiskLevelCounts[rec.RiskLevel]++
		scoreSum += rec.RiskScore
		processingSum += rec.ProcessingMs
		for _, t := range rec.ActivityTypes {
			stats.ActivityCounts[t]++
		}
	}

	stats.AverageRiskScore = scoreSum / float64(stats.TotalAnalyses)
	stats.AverageProcessingMs = float64(processingSum) / float64(stats.TotalAnalyses)
	return stats
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close clears all state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.analyses = nil
	s.byAnalysisID = make(map[string]*domain.AnalysisRecord)
	s.byDocumentID = make(map[string][]*domain.AnalysisRecord)
	s.fingerprints = nil
	s.blacklist = make(map[string]struct{})
	s.ruleConfigs = make(map[string]*domain.RuleConfig)
	return nil
}

func normalizeEntity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
