package rules

import (
	"context"
	"testing"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
)

func TestValidateExpression(t *testing.T) {
	e := NewEngine()

	t.Run("Valid", func(t *testing.T) {
		for _, expr := range []string{
			`total_amount > 10000000.0`,
			`patient_name == "nguyen van a" && has_signature`,
			`history_count`,
		} {
			if err := e.ValidateExpression(expr); err != nil {
				t.Errorf("expected %q to compile, got %v", expr, err)
			}
		}
	})

	t.Run("CompileFailure", func(t *testing.T) {
		if err := e.ValidateExpression(`total_amount >`); err == nil {
			t.Error("expected compile error for malformed expression")
		}
		if err := e.ValidateExpression(`unknown_variable > 5`); err == nil {
			t.Error("expected compile error for unknown variable")
		}
	})

	t.Run("WrongOutputType", func(t *testing.T) {
		if err := e.ValidateExpression(`patient_name`); err == nil {
			t.Error("string-valued expressions must be rejected")
		}
	})
}

func TestAddExpressionRule(t *testing.T) {
	ctx := context.Background()
	billDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	doc := &domain.ClaimDocument{
		Extracted: &domain.ExtractedData{
			DocumentType: domain.DocTypeMedicalBill,
			PatientName:  "Nguyen Van A",
			HospitalName: "Bach Mai Hospital",
			BillNumber:   "BM123456",
			TotalAmount:  25_000_000,
			BillDate:     &billDate,
		},
		Meta: &domain.Metadata{DocumentID: "doc-1", UploadedBy: "user-1"},
	}

	t.Run("FiresAboveThreshold", func(t *testing.T) {
		e := NewEngine()
		err := e.AddExpressionRule(&domain.RuleConfig{
			ID:         "high-value-claim",
			Name:       "High value claim",
			Expression: `total_amount > 20000000.0`,
			Weight:     0.5,
			Threshold:  0,
			Enabled:    true,
		})
		if err != nil {
			t.Fatalf("AddExpressionRule failed: %v", err)
		}

		out := e.EvaluateAll(ctx, doc, nil)
		ind := exceeded(out.Indicators, "high-value-claim")
		if ind == nil {
			t.Fatal("expression rule did not fire; indicator named after the rule id expected")
		}
		if out.RiskScore != 50 {
			t.Errorf("expected score 50 for a lone 0.5-weight firing rule, got %v", out.RiskScore)
		}
	})

	t.Run("SilentBelowThreshold", func(t *testing.T) {
		e := NewEngine()
		_ = e.AddExpressionRule(&domain.RuleConfig{
			ID:         "quiet",
			Expression: `total_amount > 90000000.0`,
			Weight:     0.5,
			Enabled:    true,
		})

		out := e.EvaluateAll(ctx, doc, nil)
		if len(out.Indicators) != 0 {
			t.Errorf("non-firing expression rule must yield no indicators, got %v", out.Indicators)
		}
		if out.RiskScore != 0 {
			t.Errorf("expected zero score, got %v", out.RiskScore)
		}
	})

	t.Run("ActivationVariables", func(t *testing.T) {
		e := NewEngine()
		// patient_name is lower-cased before binding.
		_ = e.AddExpressionRule(&domain.RuleConfig{
			ID:         "name-check",
			Expression: `patient_name == "nguyen van a"`,
			Weight:     0.3,
			Enabled:    true,
		})
		_ = e.AddExpressionRule(&domain.RuleConfig{
			ID:         "repeat-uploader",
			Expression: `history_count >= 2 && uploader_history_count >= 1`,
			Weight:     0.3,
			Enabled:    true,
		})

		hist := []*domain.AnalysisRecord{
			{AnalysisID: "a-1", UploadedBy: "user-1"},
			{AnalysisID: "a-2", UploadedBy: "someone-else"},
		}

		out := e.EvaluateAll(ctx, doc, hist)
		if exceeded(out.Indicators, "name-check") == nil {
			t.Error("patient_name binding must be lower-cased")
		}
		if exceeded(out.Indicators, "repeat-uploader") == nil {
			t.Error("history_count and uploader_history_count bindings missing")
		}
	})

	t.Run("RejectsBadExpression", func(t *testing.T) {
		e := NewEngine()
		err := e.AddExpressionRule(&domain.RuleConfig{
			ID:         "broken",
			Expression: `this is not CEL`,
			Weight:     0.5,
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected compile error surfaced from AddExpressionRule")
		}
		if len(e.Rules()) != 0 {
			t.Error("broken rule must not enter the catalog")
		}
	})

	t.Run("HotSwapExistingID", func(t *testing.T) {
		e := NewEngine()
		_ = e.AddExpressionRule(&domain.RuleConfig{
			ID:         "swap",
			Expression: `total_amount > 90000000.0`,
			Weight:     0.5,
			Enabled:    true,
		})
		_ = e.AddExpressionRule(&domain.RuleConfig{
			ID:         "swap",
			Expression: `total_amount > 20000000.0`,
			Weight:     0.5,
			Enabled:    true,
		})

		if len(e.Rules()) != 1 {
			t.Fatalf("expected 1 rule after hot swap, got %d", len(e.Rules()))
		}
		out := e.EvaluateAll(ctx, doc, nil)
		if exceeded(out.Indicators, "swap") == nil {
			t.Error("swapped-in expression must be the one evaluated")
		}
	})
}
