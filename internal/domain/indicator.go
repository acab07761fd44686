package domain

// RuleCategory groups fraud rules by the aspect of a claim they inspect.
type RuleCategory string

const (
	CategoryDocumentAuthenticity RuleCategory = "document-authenticity"
	CategoryDataIntegrity        RuleCategory = "data-integrity"
	CategoryBehavioral           RuleCategory = "behavioral"
	CategoryPattern              RuleCategory = "pattern"
	CategoryIdentity             RuleCategory = "identity-verification"
	CategoryAmount               RuleCategory = "amount"
	CategoryTemporal             RuleCategory = "temporal"
	CategoryCrossReference       RuleCategory = "cross-reference"
)

// FraudIndicator is a single rule's evidentiary signal. Indicators are
// immutable once produced and only ever embedded in a detection result.
type FraudIndicator struct {
	Category  RuleCategory `json:"category"`
	Name      string       `json:"name"`
	Value     any          `json:"value"`
	Threshold any          `json:"threshold"`
	Exceeded  bool         `json:"exceeded"`
	Weight    float64      `json:"weight"` // 0.0 to 1.0
}

// Canonical indicator names produced by the built-in rules.
const (
	IndicatorDuplicateDocument   = "duplicate_document"
	IndicatorRoundAmount         = "suspicious_round_amount"
	IndicatorAmountDeviation     = "amount_deviation"
	IndicatorFutureServiceDate   = "future_service_date"
	IndicatorSameDayDocuments    = "same_day_documents"
	IndicatorWeekendLabResult    = "weekend_lab_result"
	IndicatorBlacklistedPatient  = "blacklisted_patient"
	IndicatorMultipleHospitals   = "multiple_hospitals"
	IndicatorMissingFields       = "missing_required_fields"
	IndicatorInvalidBillNumber   = "invalid_bill_number"
	IndicatorRapidSubmissions    = "rapid_submissions"
	IndicatorOffHoursSubmissions = "off_hours_submissions"
)

// ActivityType enumerates the kinds of suspicious activity the engine
// reports to human reviewers.
type ActivityType string

const (
	ActivityDuplicateDocument  ActivityType = "duplicate_document"
	ActivityAmountManipulation ActivityType = "amount_manipulation"
	ActivityDateManipulation   ActivityType = "date_manipulation"
	ActivityIdentityMismatch   ActivityType = "identity_mismatch"
	ActivityProviderShopping   ActivityType = "provider_shopping"
	ActivityMissingInformation ActivityType = "missing_information"
	ActivityInvalidReference   ActivityType = "invalid_reference"
	ActivityVelocityAbuse      ActivityType = "velocity_abuse"
	ActivityOffHours           ActivityType = "off_hours_activity"
	ActivityStructuralAnomaly  ActivityType = "structural_anomaly"
	ActivityUnusualPattern     ActivityType = "unusual_pattern"
)

// Severity of a suspicious activity, derived from indicator weight.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForWeight maps an indicator weight to a severity band.
func SeverityForWeight(weight float64) Severity {
	switch {
	case weight >= 0.7:
		return SeverityCritical
	case weight >= 0.5:
		return SeverityHigh
	case weight >= 0.3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SuspiciousActivity is a human-facing finding derived from one or more
// exceeded indicators.
type SuspiciousActivity struct {
	Type             ActivityType `json:"type"`
	Severity         Severity     `json:"severity"`
	Description      string       `json:"description"`
	Confidence       float64      `json:"confidence"`
	RiskContribution float64      `json:"riskContribution"`
	Indicator        string       `json:"indicator,omitempty"`
}

// activityTypes maps canonical indicator names to activity types.
var activityTypes = map[string]ActivityType{
	IndicatorDuplicateDocument:   ActivityDuplicateDocument,
	IndicatorRoundAmount:         ActivityAmountManipulation,
	IndicatorAmountDeviation:     ActivityAmountManipulation,
	IndicatorFutureServiceDate:   ActivityDateManipulation,
	IndicatorSameDayDocuments:    ActivityDateManipulation,
	IndicatorWeekendLabResult:    ActivityDateManipulation,
	IndicatorBlacklistedPatient:  ActivityIdentityMismatch,
	IndicatorMultipleHospitals:   ActivityProviderShopping,
	IndicatorMissingFields:       ActivityMissingInformation,
	IndicatorInvalidBillNumber:   ActivityInvalidReference,
	IndicatorRapidSubmissions:    ActivityVelocityAbuse,
	IndicatorOffHoursSubmissions: ActivityOffHours,
}

// ActivityTypeForIndicator resolves the activity type an exceeded
// indicator maps to. Indicators without a canonical mapping (custom
// expression rules) report as structural_anomaly.
func ActivityTypeForIndicator(name string) ActivityType {
	if t, ok := activityTypes[name]; ok {
		return t
	}
	return ActivityStructuralAnomaly
}
