package fingerprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/claimwatch/claimwatch/internal/domain"
)

// Index performs duplicate comparison against the stored fingerprint
// registry. Compare-and-register is a single critical section:
// registration happens only after all comparisons for the current
// document complete, so two concurrent analyses of similar documents
// cannot observe each other's partially registered fingerprints.
type Index struct {
	mu    sync.Mutex
	store domain.Store
}

// NewIndex creates a fingerprint index backed by the given store.
func NewIndex(store domain.Store) *Index {
	return &Index{store: store}
}

// CompareAndRegister compares fp against every stored fingerprint,
// registers fp under documentID, and returns the best similarity score
// together with the document it matched. A resubmission compares against
// its own earlier copy and reports it as a duplicate.
func (ix *Index) CompareAndRegister(ctx context.Context, documentID string, fp *domain.DocumentFingerprint) (bestID string, best float64, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	stored, err := ix.store.Fingerprints(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("list fingerprints: %w", err)
	}

	for _, prior := range stored {
		s := Similarity(fp, prior)
		if s > best {
			best = s
			bestID = prior.DocumentID
		}
	}

	fp.DocumentID = documentID
	fp.Similarity = best
	if err := ix.store.SaveFingerprint(ctx, fp); err != nil {
		return "", 0, fmt.Errorf("save fingerprint: %w", err)
	}

	return bestID, best, nil
}
