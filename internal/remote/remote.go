package remote

import (
	"context"

	"surfacesync/internal/reconcile"
	"surfacesync/pkg/models"
)

// SystemOfRecord is the remote database that owns message documents and the
// per-recipient surface state.
type SystemOfRecord interface {
	// MarkConsumed is idempotent. Per-id failures are reported as
	// *reconcile.PartialCommitError.
	MarkConsumed(ctx context.Context, messageIDs []string) error
	PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error
	Name() string
}

// CommitFunc adapts a SystemOfRecord to the reconciliation engine.
func CommitFunc(r SystemOfRecord) reconcile.CommitFunc {
	return r.MarkConsumed
}

// Noop acknowledges everything. It backs local-only deployments with no
// system of record configured.
type Noop struct{}

func (Noop) MarkConsumed(ctx context.Context, messageIDs []string) error { return nil }

func (Noop) PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error {
	return nil
}

func (Noop) Name() string { return "none" }
