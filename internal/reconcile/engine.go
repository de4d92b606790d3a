package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/internal/receipts"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/logging"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/tracing"
)

// CommitFunc marks messageIDs consumed in the system of record. It must be
// idempotent. Returning *PartialCommitError reports per-id outcomes; any
// other error means nothing in the batch was committed.
type CommitFunc func(ctx context.Context, messageIDs []string) error

type PartialCommitError struct {
	Committed []string
	Failed    []string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: %d committed, %d failed: %v", len(e.Committed), len(e.Failed), e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

type Result struct {
	RunID     string
	Records   int
	Distinct  int
	Committed int
	Failed    int
	Removed   int
	Corrupt   int
	Duration  time.Duration
}

// Engine drains the receipt queue into the system of record. Runs are
// serialized; a second caller waits for the first to finish.
type Engine struct {
	queue         receipts.Queue
	batchSize     int
	commitTimeout time.Duration
	logger        logger.Logger

	mu sync.Mutex
}

func NewEngine(queue receipts.Queue, cfg config.ReconcileConfig, log logger.Logger) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Engine{
		queue:         queue,
		batchSize:     batchSize,
		commitTimeout: cfg.CommitTimeout,
		logger:        log,
	}
}

// RunOnce commits the distinct message ids of one queue snapshot, batch by
// batch, and removes only the records whose ids were committed.
func (e *Engine) RunOnce(ctx context.Context, commit CommitFunc) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	result := Result{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, result.RunID)

	ctx, span := tracing.StartSpan(ctx, "reconcile", "run_once")
	var runErr error
	defer func() { tracing.EndSpan(span, runErr) }()

	snap, err := e.queue.SnapshotAndDrain(ctx)
	if err != nil {
		runErr = fmt.Errorf("snapshot receipt queue: %w", err)
		metrics.ObserveReconcile("error", 0, 0, time.Since(start))
		return result, runErr
	}

	ids := snap.MessageIDs()
	result.Records = len(snap.Records)
	result.Distinct = len(ids)
	result.Corrupt = snap.Corrupt

	var errs []error
	for offset := 0; offset < len(ids); offset += e.batchSize {
		if err := ctx.Err(); err != nil {
			result.Failed += len(ids) - offset
			errs = append(errs, err)
			break
		}

		end := min(offset+e.batchSize, len(ids))
		batch := ids[offset:end]

		committed, err := e.commitBatch(ctx, commit, batch)
		result.Committed += len(committed)
		result.Failed += len(batch) - len(committed)
		if err != nil {
			errs = append(errs, err)
			e.logger.WarnwCtx(ctx, "Receipt batch not fully committed",
				"batch_size", len(batch),
				"committed", len(committed),
				"error", err,
			)
		}

		if len(committed) == 0 {
			continue
		}
		removed, err := snap.Cleanup(ctx, receipts.IDSet(committed...))
		result.Removed += removed
		if err != nil {
			errs = append(errs, err)
			e.logger.ErrorwCtx(ctx, "Failed to remove committed receipts", "error", err)
		}
	}

	result.Duration = time.Since(start)

	status := "ok"
	if len(errs) > 0 {
		status = "partial"
		if result.Committed == 0 {
			status = "error"
		}
		runErr = apperrors.ErrCommitFailed.WithCause(errors.Join(errs...))
	}
	metrics.ObserveReconcile(status, result.Committed, result.Failed, result.Duration)

	if result.Distinct > 0 || result.Corrupt > 0 {
		e.logger.InfowCtx(ctx, "Reconciliation run finished",
			"status", status,
			"records", result.Records,
			"distinct", result.Distinct,
			"committed", result.Committed,
			"failed", result.Failed,
			"removed", result.Removed,
			"corrupt", result.Corrupt,
			"duration_ms", result.Duration.Milliseconds(),
		)
	}

	return result, runErr
}

// commitBatch returns the ids of batch that are known to be committed.
func (e *Engine) commitBatch(ctx context.Context, commit CommitFunc, batch []string) ([]string, error) {
	if e.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commitTimeout)
		defer cancel()
	}

	err := apperrors.Guard(func() error {
		return commit(ctx, batch)
	})
	if err == nil {
		return batch, nil
	}

	var partial *PartialCommitError
	if errors.As(err, &partial) {
		inBatch := receipts.IDSet(batch...)
		committed := make([]string, 0, len(partial.Committed))
		for _, id := range partial.Committed {
			if _, ok := inBatch[id]; ok {
				committed = append(committed, id)
				delete(inBatch, id)
			}
		}
		return committed, err
	}

	return nil, err
}
