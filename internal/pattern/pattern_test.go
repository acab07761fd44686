package pattern

import (
	"testing"

	"github.com/claimwatch/claimwatch/internal/domain"
)

func TestMatcher(t *testing.T) {
	m := NewMatcher()

	t.Run("CanonicalPatternsPreloaded", func(t *testing.T) {
		patterns := m.Patterns()
		if len(patterns) != 3 {
			t.Fatalf("expected 3 canonical patterns, got %d", len(patterns))
		}
		if patterns[0].ID != "fake-prescription" {
			t.Errorf("expected fake-prescription first, got %s", patterns[0].ID)
		}
	})

	t.Run("FullMatch", func(t *testing.T) {
		activities := m.Match([]string{
			domain.IndicatorRoundAmount,
			domain.IndicatorAmountDeviation,
			domain.IndicatorInvalidBillNumber,
		})

		if len(activities) != 1 {
			t.Fatalf("expected 1 matched pattern, got %d", len(activities))
		}

		act := activities[0]
		if act.Type != domain.ActivityUnusualPattern {
			t.Errorf("expected unusual_pattern, got %s", act.Type)
		}
		if act.Indicator != "inflated-bill" {
			t.Errorf("expected inflated-bill, got %s", act.Indicator)
		}
		if act.Confidence != 1.0 {
			t.Errorf("expected confidence 1.0, got %v", act.Confidence)
		}
		if act.RiskContribution != 90 {
			t.Errorf("expected contribution 90, got %v", act.RiskContribution)
		}
	})

	t.Run("PartialMatchAboveThreshold", func(t *testing.T) {
		// 2 of 3 indicators: ratio 0.667, above the 0.6 cut.
		activities := m.Match([]string{
			domain.IndicatorRoundAmount,
			domain.IndicatorAmountDeviation,
		})

		if len(activities) != 1 {
			t.Fatalf("expected 1 matched pattern, got %d", len(activities))
		}

		act := activities[0]
		ratio := 2.0 / 3.0
		if diff := act.Confidence - ratio; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected confidence %v, got %v", ratio, act.Confidence)
		}
		if diff := act.RiskContribution - 90*ratio; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected contribution scaled by ratio, got %v", act.RiskContribution)
		}
	})

	t.Run("BelowThresholdNoMatch", func(t *testing.T) {
		// 1 of 3 indicators: ratio 0.333, below the cut.
		activities := m.Match([]string{domain.IndicatorRoundAmount})
		if len(activities) != 0 {
			t.Errorf("expected no matches, got %d", len(activities))
		}
	})

	t.Run("MultiplePatternsCanFire", func(t *testing.T) {
		// duplicate_document participates in both fake-prescription and
		// identity-fraud.
		activities := m.Match([]string{
			domain.IndicatorMissingFields,
			domain.IndicatorDuplicateDocument,
			domain.IndicatorBlacklistedPatient,
			domain.IndicatorMultipleHospitals,
		})

		if len(activities) != 2 {
			t.Fatalf("expected 2 matched patterns, got %d", len(activities))
		}
		if activities[0].Indicator != "fake-prescription" || activities[1].Indicator != "identity-fraud" {
			t.Errorf("unexpected matches: %s, %s", activities[0].Indicator, activities[1].Indicator)
		}
	})

	t.Run("RegisterCustomPattern", func(t *testing.T) {
		m.Register(&domain.FraudPattern{
			ID:         "lab-mill",
			Name:       "Lab mill",
			Indicators: []string{domain.IndicatorWeekendLabResult, domain.IndicatorRapidSubmissions},
			RiskScore:  70,
		})

		activities := m.Match([]string{
			domain.IndicatorWeekendLabResult,
			domain.IndicatorRapidSubmissions,
		})

		found := false
		for _, act := range activities {
			if act.Indicator == "lab-mill" {
				found = true
				if act.RiskContribution != 70 {
					t.Errorf("expected contribution 70, got %v", act.RiskContribution)
				}
			}
		}
		if !found {
			t.Error("custom pattern did not match")
		}
	})
}
