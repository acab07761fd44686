package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/history"
)

func billData(patient, hospital, billNumber string, amount float64, date time.Time) *domain.ExtractedData {
	return &domain.ExtractedData{
		DocumentType: domain.DocTypeMedicalBill,
		PatientName:  patient,
		HospitalName: hospital,
		BillNumber:   billNumber,
		TotalAmount:  amount,
		BillDate:     &date,
		Language:     "vi",
	}
}

func TestGenerate(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("Deterministic", func(t *testing.T) {
		docBytes := []byte("scanned bill content")
		ex := billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date)

		a := Generate(docBytes, ex)
		b := Generate(docBytes, ex)

		if a.Structural != b.Structural || a.Content != b.Content ||
			a.Visual != b.Visual || a.Metadata != b.Metadata {
			t.Error("identical inputs must produce identical facets")
		}
	})

	t.Run("ContentNormalization", func(t *testing.T) {
		a := Generate(nil, billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date))
		b := Generate(nil, billData("NGUYEN  VAN  A", "bach mai   hospital", "BM123456", 1500000, date))

		if a.Content != b.Content {
			t.Error("case and spacing variance must not change the content facet")
		}
	})

	t.Run("StructuralIgnoresValues", func(t *testing.T) {
		a := Generate(nil, billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date))
		b := Generate(nil, billData("Tran Thi B", "Cho Ray Hospital", "CR654321", 2750000, date))

		if a.Structural != b.Structural {
			t.Error("same field shape must produce the same structural facet")
		}
		if a.Content == b.Content {
			t.Error("different values must produce different content facets")
		}
	})
}

func TestSimilarity(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("IdenticalIsOne", func(t *testing.T) {
		docBytes := []byte("scan")
		ex := billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date)

		s := Similarity(Generate(docBytes, ex), Generate(docBytes, ex))
		if s != 1.0 {
			t.Errorf("expected similarity 1.0, got %v", s)
		}
	})

	t.Run("FacetMatchingIsBinary", func(t *testing.T) {
		a := Generate([]byte("scan"), billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date))
		// Same shape and same raw bytes, different values: structural,
		// visual, and metadata match but content does not.
		b := Generate([]byte("scan"), billData("Tran Thi B", "Cho Ray Hospital", "CR654321", 2750000, date))

		s := Similarity(a, b)
		want := domain.FacetWeightStructural + domain.FacetWeightVisual + domain.FacetWeightMetadata
		if diff := s - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected similarity %v, got %v", want, s)
		}
	})
}

func TestIndexCompareAndRegister(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	store := history.NewMemoryStore()
	ix := NewIndex(store)

	docBytes := []byte("scanned bill")
	ex := billData("Nguyen Van A", "Bach Mai Hospital", "BM123456", 1500000, date)

	// First submission has nothing to match.
	matchID, best, err := ix.CompareAndRegister(ctx, "doc-1", Generate(docBytes, ex))
	if err != nil {
		t.Fatalf("CompareAndRegister failed: %v", err)
	}
	if matchID != "" || best != 0 {
		t.Errorf("first document should match nothing, got %q %v", matchID, best)
	}

	// Identical resubmission matches the first copy exactly.
	matchID, best, err = ix.CompareAndRegister(ctx, "doc-2", Generate(docBytes, ex))
	if err != nil {
		t.Fatalf("CompareAndRegister failed: %v", err)
	}
	if matchID != "doc-1" {
		t.Errorf("expected match against doc-1, got %q", matchID)
	}
	if best != 1.0 {
		t.Errorf("expected similarity 1.0, got %v", best)
	}

	// Both fingerprints are registered.
	fps, err := store.Fingerprints(ctx)
	if err != nil {
		t.Fatalf("Fingerprints failed: %v", err)
	}
	if len(fps) != 2 {
		t.Fatalf("expected 2 registered fingerprints, got %d", len(fps))
	}
	if fps[1].DocumentID != "doc-2" || fps[1].Similarity != 1.0 {
		t.Errorf("second fingerprint should record its best similarity, got %+v", fps[1])
	}
}
