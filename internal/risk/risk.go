// Package risk maps normalized risk scores to tiers and generates
// tier- and activity-specific remediation recommendations.
package risk

import (
	"fmt"
	"sync"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// Classifier holds the shared, runtime-mutable risk thresholds.
// Threshold updates apply to subsequent classifications only.
type Classifier struct {
	mu         sync.RWMutex
	thresholds domain.RiskThresholds
}

// NewClassifier creates a classifier with the default thresholds.
func NewClassifier() *Classifier {
	return &Classifier{thresholds: domain.DefaultRiskThresholds()}
}

// Classify maps a risk score to its tier under the current thresholds.
func (c *Classifier) Classify(score float64) domain.RiskLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds.Classify(score)
}

// Thresholds returns the current cut points.
func (c *Classifier) Thresholds() domain.RiskThresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// Update applies a partial threshold update and returns the resulting
// configuration.
func (c *Classifier) Update(update domain.ThresholdUpdate) domain.RiskThresholds {
	c.mu.Lock()
	defer c.mu.Unlock()

	if update.Low != nil {
		c.thresholds.Low = *update.Low
	}
	if update.Medium != nil {
		c.thresholds.Medium = *update.Medium
	}
	if update.High != nil {
		c.thresholds.High = *update.High
	}
	if update.Critical != nil {
		c.thresholds.Critical = *update.Critical
	}
	return c.thresholds
}

// ActivityFromIndicator derives a suspicious activity from an exceeded
// indicator using the fixed indicator-to-activity and weight-to-severity
// mappings.
func ActivityFromIndicator(ind domain.FraudIndicator) domain.SuspiciousActivity {
	return domain.SuspiciousActivity{
		Type:             domain.ActivityTypeForIndicator(ind.Name),
		Severity:         domain.SeverityForWeight(ind.Weight),
		Description:      describeIndicator(ind),
		Confidence:       ind.Weight,
		RiskContribution: ind.Weight * 100,
		Indicator:        ind.Name,
	}
}

func describeIndicator(ind domain.FraudIndicator) string {
	switch ind.Name {
	case domain.IndicatorDuplicateDocument:
		return "document fingerprint matches a previously submitted document"
	case domain.IndicatorRoundAmount:
		return fmt.Sprintf("bill amount %v is a suspiciously round figure", ind.Value)
	case domain.IndicatorAmountDeviation:
		return "bill amount deviates sharply from the provider's historical average"
	case domain.IndicatorFutureServiceDate:
		return "service date lies in the future"
	case domain.IndicatorSameDayDocuments:
		return fmt.Sprintf("%v other documents share the same service day", ind.Value)
	case domain.IndicatorWeekendLabResult:
		return "lab result dated on a weekend"
	case domain.IndicatorBlacklistedPatient:
		return fmt.Sprintf("patient %q is blacklisted", ind.Value)
	case domain.IndicatorMultipleHospitals:
		return fmt.Sprintf("patient appeared at %v distinct hospitals within 7 days", ind.Value)
	case domain.IndicatorMissingFields:
		return fmt.Sprintf("%v required fields are missing for this document type", ind.Value)
	case domain.IndicatorInvalidBillNumber:
		return fmt.Sprintf("bill number %q does not match the expected format", ind.Value)
	case domain.IndicatorRapidSubmissions:
		return fmt.Sprintf("uploader submitted %v documents within 24 hours", ind.Value)
	case domain.IndicatorOffHoursSubmissions:
		return "majority of the uploader's submissions occur outside business hours"
	default:
		return fmt.Sprintf("rule %s exceeded its threshold", ind.Name)
	}
}

// Recommendations produces the remediation list for a result: a fixed
// per-tier set first, then activity-keyed additions. Entries are
// additive and deliberately not deduplicated so the audit trail stays
// complete.
func (c *Classifier) Recommendations(score float64, level domain.RiskLevel, activities []domain.SuspiciousActivity) []domain.FraudRecommendation {
	c.mu.RLock()
	escalate := c.thresholds.Escalate(score)
	c.mu.RUnlock()

	var recs []domain.FraudRecommendation

	switch level {
	case domain.RiskCritical:
		flagPriority := domain.PriorityHigh
		if escalate {
			flagPriority = domain.PriorityUrgent
		}
		recs = append(recs,
			domain.FraudRecommendation{
				Action:      "manual_review",
				Priority:    domain.PriorityUrgent,
				Description: "immediate manual review by a fraud analyst",
			},
			domain.FraudRecommendation{
				Action:      "flag_account",
				Priority:    flagPriority,
				Description: "flag the uploader's account pending investigation",
			},
		)
	case domain.RiskHigh:
		recs = append(recs,
			domain.FraudRecommendation{
				Action:      "manual_verification",
				Priority:    domain.PriorityHigh,
				Description: "verify the document manually before payout",
			},
			domain.FraudRecommendation{
				Action:      "request_documentation",
				Priority:    domain.PriorityHigh,
				Description: "request supporting documentation from the claimant",
			},
		)
	case domain.RiskMedium:
		recs = append(recs,
			domain.FraudRecommendation{
				Action:      "enhanced_monitoring",
				Priority:    domain.PriorityMedium,
				Description: "monitor subsequent submissions from this claimant",
			},
			domain.FraudRecommendation{
				Action:      "automated_recheck",
				Priority:    domain.PriorityMedium,
				Description: "re-run analysis after the next related submission",
				Automated:   true,
			},
		)
	default:
		recs = append(recs, domain.FraudRecommendation{
			Action:      "routine_processing",
			Priority:    domain.PriorityRoutine,
			Description: "proceed with routine claim processing",
			Automated:   true,
		})
	}

	for _, act := range activities {
		switch act.Type {
		case domain.ActivityDuplicateDocument:
			recs = append(recs, domain.FraudRecommendation{
				Action:      "investigate_duplicate",
				Priority:    domain.PriorityHigh,
				Description: "locate and compare the matching prior submission",
			})
		case domain.ActivityIdentityMismatch:
			recs = append(recs, domain.FraudRecommendation{
				Action:      "verify_identity",
				Priority:    domain.PriorityHigh,
				Description: "verify the patient's identity against the policy record",
			})
		case domain.ActivityAmountManipulation:
			recs = append(recs, domain.FraudRecommendation{
				Action:      "verify_amount",
				Priority:    domain.PriorityHigh,
				Description: "confirm the billed amount with the provider",
			})
		}
	}

	return recs
}

// Confidence derives the overall result confidence from the indicator
// set: the mean weight of exceeded indicators, or a high baseline when
// nothing fired.
func Confidence(indicators []domain.FraudIndicator) float64 {
	var sum float64
	var n int
	for _, ind := range indicators {
		if ind.Exceeded {
			sum += ind.Weight
			n++
		}
	}
	if n == 0 {
		return 0.95
	}

	conf := sum / float64(n)
	if conf < 0.5 {
		conf = 0.5
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
