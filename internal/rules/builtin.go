package rules

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/fingerprint"
)

// Deps are the collaborators the built-in rules close over. Rules only
// ever read the blacklist and fingerprint registry; history is handed to
// them per call by the executor.
type Deps struct {
	Store  domain.Store
	Cache  domain.Cache
	Prints *fingerprint.Index
}

// Built-in rule identifiers.
const (
	RuleDuplicateDocument  = "duplicate-document"
	RuleAmountManipulation = "amount-manipulation"
	RuleDateManipulation   = "date-manipulation"
	RuleIdentity           = "identity-verification"
	RuleDocumentStructure  = "document-structure"
	RuleBehavioral         = "behavioral-pattern"
)

var billNumberPattern = regexp.MustCompile(`^[A-Z]{2,4}[0-9]{6,12}$`)

// BuiltinRules returns the six canonical fraud rules in their canonical
// execution order.
func BuiltinRules(deps Deps) []*domain.FraudRule {
	return []*domain.FraudRule{
		{
			ID:          RuleDuplicateDocument,
			Name:        "Duplicate document",
			Description: "Compares the document fingerprint against all prior submissions",
			Category:    domain.CategoryDocumentAuthenticity,
			Weight:      0.9,
			Threshold:   0.9,
			Enabled:     true,
			Check:       duplicateDocumentCheck(deps),
		},
		{
			ID:          RuleAmountManipulation,
			Name:        "Amount manipulation",
			Description: "Flags suspiciously round amounts and deviations from the provider's historical average",
			Category:    domain.CategoryAmount,
			Weight:      0.7,
			Threshold:   5.0,
			Enabled:     true,
			Check:       amountManipulationCheck,
		},
		{
			ID:          RuleDateManipulation,
			Name:        "Date manipulation",
			Description: "Flags future service dates and same-day submission clusters",
			Category:    domain.CategoryTemporal,
			Weight:      0.6,
			Threshold:   3,
			Enabled:     true,
			Check:       dateManipulationCheck,
		},
		{
			ID:          RuleIdentity,
			Name:        "Identity verification",
			Description: "Checks the blacklist and multi-hospital patient movement",
			Category:    domain.CategoryIdentity,
			Weight:      0.8,
			Threshold:   3,
			Enabled:     true,
			Check:       identityCheck(deps),
		},
		{
			ID:          RuleDocumentStructure,
			Name:        "Document structure",
			Description: "Validates type-specific required fields and reference formats",
			Category:    domain.CategoryDataIntegrity,
			Weight:      0.5,
			Threshold:   1,
			Enabled:     true,
			Check:       documentStructureCheck,
		},
		{
			ID:          RuleBehavioral,
			Name:        "Behavioral pattern",
			Description: "Flags rapid and off-hours submission behavior per uploader",
			Category:    domain.CategoryBehavioral,
			Weight:      0.6,
			Threshold:   10,
			Enabled:     true,
			Check:       behavioralCheck(deps),
		},
	}
}

// duplicateDocumentCheck fingerprints the document and compares it
// against every stored fingerprint. Registration happens inside the
// index's compare-and-insert critical section, after all comparisons.
func duplicateDocumentCheck(deps Deps) domain.CheckFunc {
	const similarityThreshold = 0.9

	return func(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
		fp := fingerprint.Generate(doc.Bytes, doc.Extracted)

		matchID, best, err := deps.Prints.CompareAndRegister(ctx, doc.Meta.DocumentID, fp)
		if err != nil {
			return nil, fmt.Errorf("fingerprint comparison: %w", err)
		}

		ind := domain.FraudIndicator{
			Category:  domain.CategoryDocumentAuthenticity,
			Name:      domain.IndicatorDuplicateDocument,
			Value:     best,
			Threshold: similarityThreshold,
			Exceeded:  best > similarityThreshold,
			Weight:    0.9,
		}
		if ind.Exceeded && matchID != "" {
			ind.Value = map[string]any{"similarity": best, "matchedDocumentId": matchID}
		}
		return []domain.FraudIndicator{ind}, nil
	}
}

// amountManipulationCheck flags round high amounts and amounts far from
// the submitting provider's historical average.
func amountManipulationCheck(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
	amount := doc.Extracted.TotalAmount
	if amount <= 0 {
		return nil, nil
	}

	var indicators []domain.FraudIndicator

	if amount >= 1_000_000 && math.Mod(amount, 1_000_000) == 0 {
		indicators = append(indicators, domain.FraudIndicator{
			Category:  domain.CategoryAmount,
			Name:      domain.IndicatorRoundAmount,
			Value:     amount,
			Threshold: 1_000_000.0,
			Exceeded:  true,
			Weight:    0.6,
		})
	}

	hospital := strings.ToLower(strings.TrimSpace(doc.Extracted.HospitalName))
	if hospital != "" {
		var sum float64
		var n int
		for _, rec := range history {
			if rec.TotalAmount > 0 && strings.ToLower(rec.HospitalName) == hospital {
				sum += rec.TotalAmount
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			ratio := amount / avg
			if ratio > 5 || ratio < 0.2 {
				indicators = append(indicators, domain.FraudIndicator{
					Category:  domain.CategoryAmount,
					Name:      domain.IndicatorAmountDeviation,
					Value:     ratio,
					Threshold: 5.0,
					Exceeded:  true,
					Weight:    0.7,
				})
			}
		}
	}

	return indicators, nil
}

// dateManipulationCheck flags future service dates, clusters of
// documents on the same calendar day, and (informationally) weekend lab
// results.
func dateManipulationCheck(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
	serviceDate := doc.Extracted.ServiceDate()
	if serviceDate == nil {
		return nil, nil
	}

	var indicators []domain.FraudIndicator
	now := time.Now()

	if serviceDate.After(now) {
		indicators = append(indicators, domain.FraudIndicator{
			Category:  domain.CategoryTemporal,
			Name:      domain.IndicatorFutureServiceDate,
			Value:     serviceDate.Format(time.RFC3339),
			Threshold: now.Format(time.RFC3339),
			Exceeded:  true,
			Weight:    0.8,
		})
	}

	sameDay := 0
	for _, rec := range history {
		if rec.ServiceDate != nil && sameCalendarDay(*rec.ServiceDate, *serviceDate) {
			sameDay++
		}
	}
	if sameDay > 3 {
		indicators = append(indicators, domain.FraudIndicator{
			Category:  domain.CategoryTemporal,
			Name:      domain.IndicatorSameDayDocuments,
			Value:     sameDay,
			Threshold: 3,
			Exceeded:  true,
			Weight:    0.5,
		})
	}

	if doc.Extracted.DocumentType == domain.DocTypeLabResult {
		if wd := serviceDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			// Informational only: weekend lab work is unusual but legal.
			indicators = append(indicators, domain.FraudIndicator{
				Category:  domain.CategoryTemporal,
				Name:      domain.IndicatorWeekendLabResult,
				Value:     wd.String(),
				Threshold: nil,
				Exceeded:  false,
				Weight:    0.2,
			})
		}
	}

	return indicators, nil
}

// identityCheck flags blacklisted patients and patients moving across
// too many hospitals inside a trailing seven-day window.
func identityCheck(deps Deps) domain.CheckFunc {
	const hospitalLimit = 3
	const window = 7 * 24 * time.Hour

	return func(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
		patient := strings.ToLower(strings.TrimSpace(doc.Extracted.PatientName))
		if patient == "" {
			return nil, nil
		}

		var indicators []domain.FraudIndicator

		listed, err := deps.Store.IsBlacklisted(ctx, patient)
		if err != nil {
			return nil, fmt.Errorf("blacklist lookup: %w", err)
		}
		if listed {
			indicators = append(indicators, domain.FraudIndicator{
				Category:  domain.CategoryIdentity,
				Name:      domain.IndicatorBlacklistedPatient,
				Value:     patient,
				Threshold: nil,
				Exceeded:  true,
				Weight:    0.95,
			})
		}

		cutoff := time.Now().Add(-window)
		hospitals := make(map[string]struct{})
		if h := strings.ToLower(strings.TrimSpace(doc.Extracted.HospitalName)); h != "" {
			hospitals[h] = struct{}{}
		}
		for _, rec := range history {
			if strings.ToLower(rec.PatientName) != patient || rec.AnalyzedAt.Before(cutoff) {
				continue
			}
			if h := strings.ToLower(rec.HospitalName); h != "" {
				hospitals[h] = struct{}{}
			}
		}
		if len(hospitals) > hospitalLimit {
			indicators = append(indicators, domain.FraudIndicator{
				Category:  domain.CategoryIdentity,
				Name:      domain.IndicatorMultipleHospitals,
				Value:     len(hospitals),
				Threshold: hospitalLimit,
				Exceeded:  true,
				Weight:    0.7,
			})
		}

		return indicators, nil
	}
}

// missingFields returns the per-type required extraction fields absent
// from the document.
func missingFields(ex *domain.ExtractedData) []string {
	var missing []string
	require := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}

	switch ex.DocumentType {
	case domain.DocTypeMedicalBill:
		require("hospitalName", ex.HospitalName != "")
		require("billNumber", ex.BillNumber != "")
		require("billDate", ex.BillDate != nil)
		require("patientName", ex.PatientName != "")
		require("totalAmount", ex.TotalAmount != 0)
	case domain.DocTypePrescription:
		require("doctorName", ex.DoctorName != "")
		require("patientName", ex.PatientName != "")
		require("prescriptionDate", ex.PrescriptionDate != nil)
		require("medications", len(ex.Medications) > 0)
	case domain.DocTypeLabResult:
		require("labName", ex.LabName != "")
		require("patientName", ex.PatientName != "")
		require("testDate", ex.TestDate != nil)
		require("results", len(ex.Results) > 0)
	}
	return missing
}

// documentStructureCheck validates type-specific required fields and the
// bill number format.
func documentStructureCheck(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
	var indicators []domain.FraudIndicator

	if missing := missingFields(doc.Extracted); len(missing) > 0 {
		indicators = append(indicators, domain.FraudIndicator{
			Category:  domain.CategoryDataIntegrity,
			Name:      domain.IndicatorMissingFields,
			Value:     len(missing),
			Threshold: 0,
			Exceeded:  true,
			Weight:    0.6,
		})
	}

	if doc.Extracted.DocumentType == domain.DocTypeMedicalBill &&
		doc.Extracted.BillNumber != "" &&
		!billNumberPattern.MatchString(doc.Extracted.BillNumber) {
		indicators = append(indicators, domain.FraudIndicator{
			Category:  domain.CategoryDataIntegrity,
			Name:      domain.IndicatorInvalidBillNumber,
			Value:     doc.Extracted.BillNumber,
			Threshold: billNumberPattern.String(),
			Exceeded:  true,
			Weight:    0.5,
		})
	}

	return indicators, nil
}

// behavioralCheck flags uploaders submitting too fast or predominantly
// outside business hours. The 24h submission count prefers the cache's
// windowed counter and falls back to a history scan.
func behavioralCheck(deps Deps) domain.CheckFunc {
	const rapidLimit = 10
	const offHoursRatio = 0.7
	const minPriorSubmissions = 5

	return func(ctx context.Context, doc *domain.ClaimDocument, history []*domain.AnalysisRecord) ([]domain.FraudIndicator, error) {
		uploader := doc.Meta.UploadedBy
		if uploader == "" {
			return nil, nil
		}

		var indicators []domain.FraudIndicator

		recent := int64(0)
		counted := false
		if deps.Cache != nil {
			if n, err := deps.Cache.IncrementCounter(ctx, "uploader:"+uploader, 24*time.Hour); err == nil {
				recent = n
				counted = true
			}
		}
		if !counted {
			cutoff := time.Now().Add(-24 * time.Hour)
			for _, rec := range history {
				if rec.UploadedBy == uploader && rec.UploadedAt.After(cutoff) {
					recent++
				}
			}
			recent++ // current submission
		}
		if recent > rapidLimit {
			indicators = append(indicators, domain.FraudIndicator{
				Category:  domain.CategoryBehavioral,
				Name:      domain.IndicatorRapidSubmissions,
				Value:     recent,
				Threshold: rapidLimit,
				Exceeded:  true,
				Weight:    0.65,
			})
		}

		var prior, offHours int
		for _, rec := range history {
			if rec.UploadedBy != uploader {
				continue
			}
			prior++
			if h := rec.UploadedAt.Hour(); h < 6 || h >= 22 {
				offHours++
			}
		}
		if prior >= minPriorSubmissions {
			ratio := float64(offHours) / float64(prior)
			if ratio > offHoursRatio {
				indicators = append(indicators, domain.FraudIndicator{
					Category:  domain.CategoryBehavioral,
					Name:      domain.IndicatorOffHoursSubmissions,
					Value:     ratio,
					Threshold: offHoursRatio,
					Exceeded:  true,
					Weight:    0.4,
				})
			}
		}

		return indicators, nil
	}
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
