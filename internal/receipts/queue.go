package receipts

import (
	"context"

	"surfacesync/pkg/models"
)

// Queue is multi-writer, single-drainer. Every Append creates its own
// record, so writers never read-modify-write shared data.
type Queue interface {
	Append(ctx context.Context, record models.ReceiptRecord) error
	SnapshotAndDrain(ctx context.Context) (*Snapshot, error)
	Len(ctx context.Context) (int, error)
}

// Snapshot holds the records present when it was taken. Cleanup only ever
// touches those records; anything appended later survives it.
type Snapshot struct {
	Records []models.ReceiptRecord
	Corrupt int

	cleanup func(ctx context.Context, committed map[string]struct{}) (int, error)
}

// MessageIDs returns the distinct message ids of the snapshot.
func (s *Snapshot) MessageIDs() []string {
	return models.DistinctMessageIDs(s.Records)
}

// Cleanup deletes the snapshot records whose message id is in committed and
// reports how many were removed.
func (s *Snapshot) Cleanup(ctx context.Context, committed map[string]struct{}) (int, error) {
	if s == nil || s.cleanup == nil || len(committed) == 0 {
		return 0, nil
	}
	return s.cleanup(ctx, committed)
}

// IDSet builds the committed set passed to Cleanup.
func IDSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
