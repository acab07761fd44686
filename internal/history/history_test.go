package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
)

func TestMemoryStoreAnalyses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec1 := &domain.AnalysisRecord{
		AnalysisID: "a-1",
		DocumentID: "doc-1",
		RiskScore:  10,
		RiskLevel:  domain.RiskLow,
		AnalyzedAt: time.Now().UTC(),
	}
	rec2 := &domain.AnalysisRecord{
		AnalysisID: "a-2",
		DocumentID: "doc-1",
		RiskScore:  60,
		RiskLevel:  domain.RiskHigh,
		AnalyzedAt: time.Now().UTC(),
	}

	if err := store.RecordAnalysis(ctx, rec1); err != nil {
		t.Fatalf("RecordAnalysis failed: %v", err)
	}
	if err := store.RecordAnalysis(ctx, rec2); err != nil {
		t.Fatalf("RecordAnalysis failed: %v", err)
	}

	t.Run("ArrivalOrder", func(t *testing.T) {
		all, err := store.Analyses(ctx)
		if err != nil {
			t.Fatalf("Analyses failed: %v", err)
		}
		if len(all) != 2 || all[0].AnalysisID != "a-1" || all[1].AnalysisID != "a-2" {
			t.Errorf("history not in arrival order: %+v", all)
		}
	})

	t.Run("ByDocument", func(t *testing.T) {
		recs, err := store.AnalysesByDocument(ctx, "doc-1")
		if err != nil {
			t.Fatalf("AnalysesByDocument failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("expected 2 records for doc-1, got %d", len(recs))
		}

		recs, _ = store.AnalysesByDocument(ctx, "unknown")
		if len(recs) != 0 {
			t.Errorf("expected no records for unknown document, got %d", len(recs))
		}
	})

	t.Run("GetAnalysis", func(t *testing.T) {
		rec, err := store.GetAnalysis(ctx, "a-2")
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if rec.RiskScore != 60 {
			t.Errorf("expected score 60, got %v", rec.RiskScore)
		}

		_, err = store.GetAnalysis(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RequiresAnalysisID", func(t *testing.T) {
		if err := store.RecordAnalysis(ctx, &domain.AnalysisRecord{}); err == nil {
			t.Error("expected error for missing analysis id")
		}
	})
}

func TestMemoryStoreBlacklist(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.AddBlacklistEntity(ctx, "  Nguyen Van A  "); err != nil {
		t.Fatalf("AddBlacklistEntity failed: %v", err)
	}

	t.Run("CaseInsensitive", func(t *testing.T) {
		listed, err := store.IsBlacklisted(ctx, "NGUYEN VAN A")
		if err != nil {
			t.Fatalf("IsBlacklisted failed: %v", err)
		}
		if !listed {
			t.Error("lookup must be case-insensitive")
		}
	})

	t.Run("StoredLowerCased", func(t *testing.T) {
		entities, _ := store.BlacklistEntities(ctx)
		if len(entities) != 1 || entities[0] != "nguyen van a" {
			t.Errorf("expected lower-cased entity, got %v", entities)
		}
	})

	t.Run("RemoveUnknownIsNoop", func(t *testing.T) {
		if err := store.RemoveBlacklistEntity(ctx, "not listed"); err != nil {
			t.Errorf("removing unknown entity must not error: %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		_ = store.RemoveBlacklistEntity(ctx, "nguyen van a")
		listed, _ := store.IsBlacklisted(ctx, "nguyen van a")
		if listed {
			t.Error("entity still listed after removal")
		}
	})
}

func TestMemoryStoreRuleConfigs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cfg := &domain.RuleConfig{
		ID:         "vip-hospital",
		Name:       "VIP hospital watch",
		Expression: `hospital_name == "vip clinic"`,
		Weight:     0.5,
		Enabled:    true,
	}
	if err := store.SaveRuleConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	cfg.Weight = 0.9

	configs, err := store.ListRuleConfigs(ctx)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	if configs[0].Weight != 0.5 {
		t.Errorf("stored config mutated through caller pointer: %v", configs[0].Weight)
	}
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("EmptyHistory", func(t *testing.T) {
		stats, err := store.Statistics(ctx)
		if err != nil {
			t.Fatalf("Statistics failed: %v", err)
		}
		if stats.TotalAnalyses != 0 || stats.AverageRiskScore != 0 {
			t.Errorf("expected zero summary for empty history, got %+v", stats)
		}
		if stats.RiskLevelCounts == nil || stats.ActivityCounts == nil {
			t.Error("summary maps must be non-nil")
		}
	})

	t.Run("Reduction", func(t *testing.T) {
		_ = store.RecordAnalysis(ctx, &domain.AnalysisRecord{
			AnalysisID:    "a-1",
			RiskScore:     20,
			RiskLevel:     domain.RiskLow,
			ProcessingMs:  4,
			ActivityTypes: []domain.ActivityType{domain.ActivityDuplicateDocument},
		})
		_ = store.RecordAnalysis(ctx, &domain.AnalysisRecord{
			AnalysisID:    "a-2",
			RiskScore:     80,
			RiskLevel:     domain.RiskCritical,
			ProcessingMs:  6,
			ActivityTypes: []domain.ActivityType{domain.ActivityDuplicateDocument, domain.ActivityVelocityAbuse},
		})

		stats, err := store.Statistics(ctx)
		if err != nil {
			t.Fatalf("Statistics failed: %v", err)
		}
		if stats.TotalAnalyses != 2 {
			t.Errorf("expected 2 analyses, got %d", stats.TotalAnalyses)
		}
		if stats.AverageRiskScore != 50 {
			t.Errorf("expected average 50, got %v", stats.AverageRiskScore)
		}
		if stats.AverageProcessingMs != 5 {
			t.Errorf("expected average 5ms, got %v", stats.AverageProcessingMs)
		}
		if stats.RiskLevelCounts[domain.RiskLow] != 1 || stats.RiskLevelCounts[domain.RiskCritical] != 1 {
			t.Errorf("unexpected level counts: %v", stats.RiskLevelCounts)
		}
		if stats.ActivityCounts[domain.ActivityDuplicateDocument] != 2 {
			t.Errorf("unexpected activity counts: %v", stats.ActivityCounts)
		}
	})
}
