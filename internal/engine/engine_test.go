package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/claimwatch/claimwatch/internal/bus"
	"github.com/claimwatch/claimwatch/internal/cache"
	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/history"
	"github.com/claimwatch/claimwatch/internal/rules"
)

func newTestEngine(t *testing.T) (*Engine, domain.EventBus) {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	eng, err := New(context.Background(), Options{
		Store:    history.NewMemoryStore(),
		Cache:    cache.NewLRUCache(1000),
		EventBus: eventBus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng, eventBus
}

func cleanBill(docID, patient, hospital, billNumber string, amount float64) *domain.ClaimDocument {
	billDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return &domain.ClaimDocument{
		Bytes: []byte("scan of " + billNumber),
		Extracted: &domain.ExtractedData{
			DocumentType: domain.DocTypeMedicalBill,
			PatientName:  patient,
			HospitalName: hospital,
			BillNumber:   billNumber,
			TotalAmount:  amount,
			BillDate:     &billDate,
		},
		Meta: &domain.Metadata{DocumentID: docID},
	}
}

func hasActivity(result *domain.FraudDetectionResult, typ domain.ActivityType) bool {
	for _, act := range result.SuspiciousActivities {
		if act.Type == typ {
			return true
		}
	}
	return false
}

func TestDetectFraud(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanDocument", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}

		if result.AnalysisID == "" {
			t.Error("analysis id must be assigned")
		}
		if result.RiskLevel != domain.RiskLow {
			t.Errorf("clean document must classify low, got %s at %v", result.RiskLevel, result.RiskScore)
		}
		if len(result.SuspiciousActivities) != 0 {
			t.Errorf("clean document must have no activities, got %v", result.SuspiciousActivities)
		}
		if result.RulesEvaluated != 6 {
			t.Errorf("expected 6 builtin rules evaluated, got %d", result.RulesEvaluated)
		}
		if result.EngineVersion != EngineVersion {
			t.Errorf("engine version not stamped: %q", result.EngineVersion)
		}
	})

	t.Run("InvalidDocument", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		_, err := eng.DetectFraud(ctx, &domain.ClaimDocument{Meta: &domain.Metadata{DocumentID: "doc-1"}})
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("DuplicateResubmission", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		first, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}

		second, err := eng.DetectFraud(ctx, cleanBill("doc-2", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}

		if !hasActivity(second, domain.ActivityDuplicateDocument) {
			t.Error("identical resubmission must report duplicate_document")
		}
		if second.RiskScore <= first.RiskScore {
			t.Errorf("resubmission must score above the original: %v vs %v", second.RiskScore, first.RiskScore)
		}
	})

	t.Run("BlacklistedPatient", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		if err := eng.AddToBlacklist(ctx, "Tran Thi B"); err != nil {
			t.Fatalf("AddToBlacklist failed: %v", err)
		}

		result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Tran Thi B", "Cho Ray Hospital", "CR123456", 2_345_600))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}
		if !hasActivity(result, domain.ActivityIdentityMismatch) {
			t.Error("blacklisted patient must report identity_mismatch")
		}
	})

	t.Run("HistoryRecorded", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}

		rec, err := eng.GetAnalysis(ctx, result.AnalysisID)
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if rec.DocumentID != "doc-1" || rec.RiskScore != result.RiskScore {
			t.Errorf("recorded analysis does not match the result: %+v", rec)
		}
		if rec.Result == nil || rec.Result.AnalysisID != result.AnalysisID {
			t.Error("full result must be stored for audit retrieval")
		}
	})

	t.Run("DisableRule", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		// 5,000,000 is a flaggable round amount.
		flagged, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 5_000_000))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}
		if flagged.RiskScore == 0 {
			t.Fatal("round amount should have scored above zero")
		}

		eng.DisableRule(ctx, rules.RuleAmountManipulation)

		// Different patient, hospital, and bill so nothing else fires.
		quiet, err := eng.DetectFraud(ctx, cleanBill("doc-2", "Tran Thi B", "Cho Ray Hospital", "CR234567", 7_000_000))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}
		if quiet.RiskScore != 0 {
			t.Errorf("disabled rule must not contribute, got score %v", quiet.RiskScore)
		}
		if quiet.RulesEvaluated != 5 {
			t.Errorf("expected 5 rules evaluated after disable, got %d", quiet.RulesEvaluated)
		}
	})

	t.Run("CompletionEvent", func(t *testing.T) {
		eng, eventBus := newTestEngine(t)

		var wg sync.WaitGroup
		wg.Add(1)
		var event domain.AnalysisCompletedEvent

		_, err := eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.Errorf("bad event payload: %v", err)
			}
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for completion event")
		}

		if event.AnalysisID != result.AnalysisID || event.DocumentID != "doc-1" {
			t.Errorf("event does not match the result: %+v", event)
		}
	})
}

func TestDetectBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("InOrderResults", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		docs := []domain.BatchDocument{
			{
				Bytes:     []byte("scan one"),
				Extracted: cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500).Extracted,
				Meta:      &domain.Metadata{DocumentID: "doc-1"},
			},
			{
				Bytes:     []byte("scan two"),
				Extracted: cleanBill("doc-2", "Tran Thi B", "Cho Ray Hospital", "CR234567", 2_345_600).Extracted,
				Meta:      &domain.Metadata{DocumentID: "doc-2"},
			},
			{
				Bytes:     []byte("scan three"),
				Extracted: cleanBill("doc-3", "Le Van C", "Viet Duc Hospital", "VD345678", 3_456_700).Extracted,
				Meta:      &domain.Metadata{DocumentID: "doc-3"},
			},
		}

		results, err := eng.DetectBatch(ctx, docs)
		if err != nil {
			t.Fatalf("DetectBatch failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}
		for i, want := range []string{"doc-1", "doc-2", "doc-3"} {
			if results[i].DocumentID != want {
				t.Errorf("result %d out of order: got %s, want %s", i, results[i].DocumentID, want)
			}
		}
	})

	t.Run("StrictFailure", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		docs := []domain.BatchDocument{
			{
				Bytes:     []byte("scan one"),
				Extracted: cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500).Extracted,
				Meta:      &domain.Metadata{DocumentID: "doc-1"},
			},
			{
				// No extracted data: the whole batch fails.
				Meta: &domain.Metadata{DocumentID: "doc-2"},
			},
		}

		_, err := eng.DetectBatch(ctx, docs)
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument through the batch error, got %v", err)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		eng, _ := newTestEngine(t)

		results, err := eng.DetectBatch(ctx, nil)
		if err != nil || results != nil {
			t.Errorf("empty batch is a no-op, got %v %v", results, err)
		}
	})

	t.Run("CompletionEvent", func(t *testing.T) {
		eng, eventBus := newTestEngine(t)

		var wg sync.WaitGroup
		wg.Add(1)
		var event domain.BatchCompletedEvent

		_, _ = eventBus.Subscribe(ctx, domain.TopicBatchCompleted, func(ctx context.Context, msg *domain.Message) error {
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.Errorf("bad event payload: %v", err)
			}
			wg.Done()
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		docs := []domain.BatchDocument{
			{
				Bytes:     []byte("scan one"),
				Extracted: cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500).Extracted,
				Meta:      &domain.Metadata{DocumentID: "doc-1"},
			},
		}
		if _, err := eng.DetectBatch(ctx, docs); err != nil {
			t.Fatalf("DetectBatch failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for batch event")
		}

		if event.TotalDocuments != 1 {
			t.Errorf("expected 1 total document, got %d", event.TotalDocuments)
		}
	})
}

func TestExpressionRulesAndThresholds(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	// Isolate scoring to the expression rule.
	for _, id := range []string{
		rules.RuleDuplicateDocument,
		rules.RuleAmountManipulation,
		rules.RuleDateManipulation,
		rules.RuleIdentity,
		rules.RuleDocumentStructure,
		rules.RuleBehavioral,
	} {
		eng.DisableRule(ctx, id)
	}

	err := eng.AddExpressionRule(ctx, &domain.RuleConfig{
		ID:         "always-on",
		Name:       "Always on",
		Expression: `total_amount > 0.0`,
		Weight:     0.4,
		Threshold:  0,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("AddExpressionRule failed: %v", err)
	}

	// Lone 0.4-weight firing rule: 0.4*100*0.4 / 0.4 = 40.
	first, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
	if err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}
	if first.RiskScore != 40 {
		t.Fatalf("expected score 40, got %v", first.RiskScore)
	}
	if first.RiskLevel != domain.RiskMedium {
		t.Errorf("40 is medium under the default cuts, got %s", first.RiskLevel)
	}

	// Lowering the high-tier cut reclassifies subsequent analyses only.
	medium := 30.0
	thresholds := eng.UpdateRiskThresholds(ctx, domain.ThresholdUpdate{Medium: &medium})
	if thresholds.Medium != 30 {
		t.Fatalf("expected medium cut 30, got %v", thresholds.Medium)
	}

	second, err := eng.DetectFraud(ctx, cleanBill("doc-2", "Tran Thi B", "Cho Ray Hospital", "CR234567", 2_345_600))
	if err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}
	if second.RiskLevel != domain.RiskHigh {
		t.Errorf("40 is high under the updated cuts, got %s", second.RiskLevel)
	}

	// The earlier record keeps its original classification.
	rec, err := eng.GetAnalysis(ctx, first.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if rec.RiskLevel != domain.RiskMedium {
		t.Errorf("recorded results are never reclassified, got %s", rec.RiskLevel)
	}

	// Persisted config survives for reload.
	if err := eng.ReloadRules(ctx); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	found := false
	for _, rule := range eng.Rules() {
		if rule.ID == "always-on" {
			found = true
		}
	}
	if !found {
		t.Error("expression rule missing after reload")
	}
}

func TestAddRule(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	err := eng.AddRule(ctx, &domain.FraudRule{
		ID:      "manual-watch",
		Name:    "Manual watch",
		Weight:  0.5,
		Enabled: true,
		Check: func(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
			return []domain.FraudIndicator{{
				Name:     "manual-watch",
				Exceeded: true,
				Weight:   0.5,
			}}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	if len(eng.Rules()) != 7 {
		t.Fatalf("expected 7 rules after AddRule, got %d", len(eng.Rules()))
	}

	result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
	if err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}
	found := false
	for _, ind := range result.Indicators {
		if ind.Name == "manual-watch" && ind.Exceeded {
			found = true
		}
	}
	if !found {
		t.Error("native check rule registered after construction did not fire")
	}

	if err := eng.AddRule(ctx, &domain.FraudRule{ID: "no-check"}); err == nil {
		t.Error("expected registry validation to surface through AddRule")
	}
}

func TestMultipleHospitalsAcrossSubmissions(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	hospitals := []string{
		"Bach Mai Hospital",
		"Cho Ray Hospital",
		"Viet Duc Hospital",
		"Hue Central Hospital",
	}

	var last *domain.FraudDetectionResult
	for i, hospital := range hospitals {
		doc := cleanBill(
			fmt.Sprintf("doc-%d", i+1),
			"Nguyen Van A",
			hospital,
			fmt.Sprintf("BM10000%d", i+1),
			1_111_000+float64(i)*10_000,
		)
		result, err := eng.DetectFraud(ctx, doc)
		if err != nil {
			t.Fatalf("DetectFraud %d failed: %v", i+1, err)
		}
		last = result

		if i < 3 && hasActivity(result, domain.ActivityProviderShopping) {
			t.Errorf("submission %d must not flag provider shopping yet", i+1)
		}
	}

	var ind *domain.FraudIndicator
	for i := range last.Indicators {
		if last.Indicators[i].Name == domain.IndicatorMultipleHospitals {
			ind = &last.Indicators[i]
		}
	}
	if ind == nil || !ind.Exceeded {
		t.Fatal("fourth hospital inside the window must flag multiple_hospitals")
	}
	if ind.Value != 4 {
		t.Errorf("expected hospital count 4, got %v", ind.Value)
	}
}

func TestDeterministicOutcome(t *testing.T) {
	ctx := context.Background()

	// Round amount and malformed bill number on a fresh engine each time.
	run := func(t *testing.T) *domain.FraudDetectionResult {
		eng, _ := newTestEngine(t)
		result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "bm123456", 5_000_000))
		if err != nil {
			t.Fatalf("DetectFraud failed: %v", err)
		}
		return result
	}

	first := run(t)
	second := run(t)

	if first.RiskScore != second.RiskScore {
		t.Errorf("identical inputs must score identically: %v vs %v", first.RiskScore, second.RiskScore)
	}
	if len(first.Indicators) != len(second.Indicators) {
		t.Fatalf("indicator sets differ in size: %d vs %d", len(first.Indicators), len(second.Indicators))
	}
	for i := range first.Indicators {
		a, b := first.Indicators[i], second.Indicators[i]
		if a.Name != b.Name || a.Exceeded != b.Exceeded {
			t.Errorf("indicator %d differs: %s/%v vs %s/%v", i, a.Name, a.Exceeded, b.Name, b.Exceeded)
		}
	}
}

func TestAnalysisReadThroughCache(t *testing.T) {
	ctx := context.Background()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })
	store := history.NewMemoryStore()
	lru := cache.NewLRUCache(100)

	eng, err := New(ctx, Options{Store: store, Cache: lru, EventBus: eventBus})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500))
	if err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}

	if _, err := eng.GetAnalysis(ctx, result.AnalysisID); err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if size, _ := lru.Stats(); size != 1 {
		t.Errorf("expected the record cached after retrieval, cache size %d", size)
	}

	// With the store gone the cached copy still serves reads.
	store.Close()
	rec, err := eng.GetAnalysis(ctx, result.AnalysisID)
	if err != nil {
		t.Fatalf("cached retrieval failed: %v", err)
	}
	if rec.AnalysisID != result.AnalysisID {
		t.Errorf("wrong record from cache: %s", rec.AnalysisID)
	}
}

func TestStatisticsSummary(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	if _, err := eng.DetectFraud(ctx, cleanBill("doc-1", "Nguyen Van A", "Bach Mai Hospital", "BM123456", 1_234_500)); err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}
	if _, err := eng.DetectFraud(ctx, cleanBill("doc-2", "Tran Thi B", "Cho Ray Hospital", "CR234567", 2_345_600)); err != nil {
		t.Fatalf("DetectFraud failed: %v", err)
	}

	stats, err := eng.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalAnalyses != 2 {
		t.Errorf("expected 2 analyses, got %d", stats.TotalAnalyses)
	}
	if stats.RiskLevelCounts[domain.RiskLow] != 2 {
		t.Errorf("expected 2 low-risk analyses, got %v", stats.RiskLevelCounts)
	}
}
