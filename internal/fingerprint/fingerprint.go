// Package fingerprint derives multi-facet identity fingerprints for
// claim documents and performs duplicate comparison against the stored
// registry.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// visualSampleSize is the number of leading document bytes hashed into
// the visual facet.
const visualSampleSize = 1024

// Generate derives a fingerprint from the raw document bytes and the
// extracted fields. It is a pure function; registration in the shared
// registry is a separate step performed by the Index.
func Generate(docBytes []byte, ex *domain.ExtractedData) *domain.DocumentFingerprint {
	return &domain.DocumentFingerprint{
		Structural: structuralHash(ex),
		Content:    contentHash(ex),
		Visual:     visualHash(docBytes),
		Metadata:   metadataHash(ex),
		CreatedAt:  time.Now().UTC(),
	}
}

// Similarity is the weighted count of exact facet matches between two
// fingerprints, normalized by the total facet weight. Facet equality is
// binary: a near-duplicate with one reformatted field scores zero on
// that facet.
func Similarity(a, b *domain.DocumentFingerprint) float64 {
	var score, total float64

	compare := func(x, y string, weight float64) {
		total += weight
		if x == y {
			score += weight
		}
	}

	compare(a.Structural, b.Structural, domain.FacetWeightStructural)
	compare(a.Content, b.Content, domain.FacetWeightContent)
	compare(a.Visual, b.Visual, domain.FacetWeightVisual)
	compare(a.Metadata, b.Metadata, domain.FacetWeightMetadata)

	if total == 0 {
		return 0
	}
	return score / total
}

// structuralHash digests the shape of the extracted data: which fields
// are present, independent of their values.
func structuralHash(ex *domain.ExtractedData) string {
	fields := make([]string, 0, 12)
	add := func(name string, present bool) {
		if present {
			fields = append(fields, name)
		}
	}

	add("documentType", ex.DocumentType != "")
	add("patientName", ex.PatientName != "")
	add("hospitalName", ex.HospitalName != "")
	add("doctorName", ex.DoctorName != "")
	add("labName", ex.LabName != "")
	add("totalAmount", ex.TotalAmount != 0)
	add("billNumber", ex.BillNumber != "")
	add("serviceDate", ex.ServiceDate() != nil)
	add("medications", len(ex.Medications) > 0)
	add("results", len(ex.Results) > 0)
	add("signature", ex.Signature != "")
	add("language", ex.Language != "")

	sort.Strings(fields)
	return digest(strings.Join(fields, "|"))
}

// contentHash digests the normalized textual content of the extraction.
func contentHash(ex *domain.ExtractedData) string {
	parts := []string{
		normalize(ex.PatientName),
		normalize(ex.HospitalName),
		normalize(ex.DoctorName),
		normalize(ex.LabName),
		normalize(ex.BillNumber),
		fmt.Sprintf("%.2f", ex.TotalAmount),
	}
	for _, m := range ex.Medications {
		parts = append(parts, normalize(m))
	}
	for _, r := range ex.Results {
		parts = append(parts, normalize(r))
	}
	if d := ex.ServiceDate(); d != nil {
		parts = append(parts, d.UTC().Format("2006-01-02"))
	}
	return digest(strings.Join(parts, "\n"))
}

// visualHash digests a leading byte sample of the raw document.
func visualHash(docBytes []byte) string {
	sample := docBytes
	if len(sample) > visualSampleSize {
		sample = sample[:visualSampleSize]
	}
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

// metadataHash digests document-type and locale features.
func metadataHash(ex *domain.ExtractedData) string {
	return digest(fmt.Sprintf("%s|%s|logo=%t|signed=%t",
		ex.DocumentType, normalize(ex.Language), ex.HasLogo, ex.Signature != ""))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// normalize lower-cases and collapses interior whitespace so that OCR
// spacing variance does not change the content facet.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
