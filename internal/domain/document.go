// Package domain defines the core interfaces and types for claimwatch.
package domain

import (
	"time"
)

// DocumentType identifies the kind of claim document being analyzed.
type DocumentType string

const (
	DocTypeMedicalBill  DocumentType = "medical_bill"
	DocTypePrescription DocumentType = "prescription"
	DocTypeLabResult    DocumentType = "lab_result"
)

// ExtractedData holds the structured fields produced by the upstream
// OCR/field-extraction pipeline. The schema is closed per document type:
// bill fields are only meaningful for medical_bill, lab fields for
// lab_result, and so on.
type ExtractedData struct {
	DocumentType DocumentType `json:"documentType"`

	PatientName  string `json:"patientName,omitempty"`
	HospitalName string `json:"hospitalName,omitempty"`
	DoctorName   string `json:"doctorName,omitempty"`
	LabName      string `json:"labName,omitempty"`

	TotalAmount float64 `json:"totalAmount,omitempty"`
	BillNumber  string  `json:"billNumber,omitempty"`

	// Service dates, one per document type.
	BillDate         *time.Time `json:"billDate,omitempty"`
	PrescriptionDate *time.Time `json:"prescriptionDate,omitempty"`
	TestDate         *time.Time `json:"testDate,omitempty"`

	Medications []string `json:"medications,omitempty"`
	Results     []string `json:"results,omitempty"`

	Signature string `json:"signature,omitempty"`
	HasLogo   bool   `json:"hasLogo,omitempty"`
	Language  string `json:"language,omitempty"`
}

// ServiceDate returns the type-specific service date, or nil if the
// extractor did not produce one.
func (e *ExtractedData) ServiceDate() *time.Time {
	switch e.DocumentType {
	case DocTypeMedicalBill:
		return e.BillDate
	case DocTypePrescription:
		return e.PrescriptionDate
	case DocTypeLabResult:
		return e.TestDate
	}
	return nil
}

// Metadata is supplied by the claim submission service alongside the
// document itself.
type Metadata struct {
	DocumentID string    `json:"documentId,omitempty"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	UploadedAt time.Time `json:"uploadedAt,omitempty"`
}

// ClaimDocument bundles everything the engine receives for one analysis.
type ClaimDocument struct {
	Bytes     []byte
	Extracted *ExtractedData
	Meta      *Metadata
}

// BatchDocument is one entry of a batch analysis request.
type BatchDocument struct {
	Bytes     []byte         `json:"documentBytes"`
	Extracted *ExtractedData `json:"extractedData"`
	Meta      *Metadata      `json:"metadata,omitempty"`
}
