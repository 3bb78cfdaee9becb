package reconcile

import (
	"context"
	"sort"

	"github.com/vaani-labs/voicemetrics/pkg/store"
)

// Scanner discovers sync candidates in the ephemeral store. A candidate is
// any call id present in either the metrics snapshot namespace or the
// transcript namespace; a call with transcripts but no metrics (or the other
// way round) must still be synced, so the scanner takes the union.
type Scanner struct {
	store store.EphemeralStore
}

func NewScanner(st store.EphemeralStore) *Scanner {
	return &Scanner{store: st}
}

// Candidates returns the sorted union of call ids found in both namespaces.
// An empty store yields an empty slice.
func (s *Scanner) Candidates(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	callKeys, err := s.store.ListKeys(ctx, store.CallKeyPattern)
	if err != nil {
		return nil, Transient(err)
	}
	for _, key := range callKeys {
		if id := store.CallIDFromKey(key); id != "" {
			seen[id] = struct{}{}
		}
	}

	transcriptKeys, err := s.store.ListKeys(ctx, store.TranscriptKeyPattern)
	if err != nil {
		return nil, Transient(err)
	}
	for _, key := range transcriptKeys {
		if id := store.RoomIDFromKey(key); id != "" {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
