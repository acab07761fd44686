package domain

import (
	"time"
)

// RiskLevel is one of the four terminal risk tiers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskThresholds partitions the [0,100] risk-score axis into the four
// tiers. Each cut point is the inclusive lower bound of the next tier:
// a score of exactly Low classifies as medium, a score of exactly High
// classifies as critical. Critical marks the escalation cut used by the
// recommendation generator.
type RiskThresholds struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// DefaultRiskThresholds returns the documented default cut points.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Low: 25, Medium: 50, High: 75, Critical: 90}
}

// Classify maps a risk score to its tier. Boundaries are inclusive-lower:
// score >= High is critical, >= Medium is high, >= Low is medium.
func (t RiskThresholds) Classify(score float64) RiskLevel {
	switch {
	case score >= t.High:
		return RiskCritical
	case score >= t.Medium:
		return RiskHigh
	case score >= t.Low:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Escalate reports whether a score is past the critical escalation cut.
func (t RiskThresholds) Escalate(score float64) bool {
	return score >= t.Critical
}

// ThresholdUpdate is a partial update to the risk thresholds. Nil fields
// leave the current value unchanged.
type ThresholdUpdate struct {
	Low      *float64 `json:"low,omitempty"`
	Medium   *float64 `json:"medium,omitempty"`
	High     *float64 `json:"high,omitempty"`
	Critical *float64 `json:"critical,omitempty"`
}

// RecommendationPriority orders remediation recommendations.
type RecommendationPriority string

const (
	PriorityUrgent  RecommendationPriority = "urgent"
	PriorityHigh    RecommendationPriority = "high"
	PriorityMedium  RecommendationPriority = "medium"
	PriorityRoutine RecommendationPriority = "routine"
)

// FraudRecommendation is a remediation step for a detection result.
// Recommendations are additive and intentionally not deduplicated:
// repeated entries preserve the full audit trail when several activities
// trigger the same action.
type FraudRecommendation struct {
	Action      string                 `json:"action"`
	Priority    RecommendationPriority `json:"priority"`
	Description string                 `json:"description"`
	Automated   bool                   `json:"automated"`
}

// FraudDetectionResult is the complete outcome of one analysis.
type FraudDetectionResult struct {
	AnalysisID string    `json:"analysisId"`
	DocumentID string    `json:"documentId"`
	AnalyzedAt time.Time `json:"analyzedAt"`

	RiskScore float64   `json:"riskScore"` // 0 to 100
	RiskLevel RiskLevel `json:"riskLevel"`

	SuspiciousActivities []SuspiciousActivity  `json:"suspiciousActivities"`
	Indicators           []FraudIndicator      `json:"indicators"`
	Recommendations      []FraudRecommendation `json:"recommendations"`

	Confidence float64 `json:"confidence"`

	// Processing metadata
	ProcessingMs   int64  `json:"processingMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Statistics is the read-side reduction over the full analysis history.
// An empty history yields a zero-valued summary, never an error.
type Statistics struct {
	TotalAnalyses       int                  `json:"totalAnalyses"`
	RiskLevelCounts     map[RiskLevel]int    `json:"riskLevelCounts"`
	AverageRiskScore    float64              `json:"averageRiskScore"`
	ActivityCounts      map[ActivityType]int `json:"activityCounts"`
	AverageProcessingMs float64              `json:"averageProcessingMs"`
}
