package domain

import (
	"time"
)

// DocumentFingerprint is a four-facet identity digest used for duplicate
// detection. Each facet is a fixed-length hex digest; facet comparison
// is exact-match, so similarity is a weighted count of matching facets
// rather than a continuous distance.
type DocumentFingerprint struct {
	DocumentID string    `json:"documentId"`
	Structural string    `json:"structural"` // field-shape hash
	Content    string    `json:"content"`    // normalized extracted text hash
	Visual     string    `json:"visual"`     // leading byte sample hash
	Metadata   string    `json:"metadata"`   // document-type/locale feature hash
	Similarity float64   `json:"similarity,omitempty"` // filled at comparison time
	CreatedAt  time.Time `json:"createdAt"`
}

// Facet weights for fingerprint similarity. All four facets are always
// present, so the weights sum to the normalization factor 1.0.
const (
	FacetWeightStructural = 0.3
	FacetWeightContent    = 0.4
	FacetWeightVisual     = 0.2
	FacetWeightMetadata   = 0.1
)
