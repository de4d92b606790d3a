package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/internal/receipts"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/models"
)

func newQueue(t *testing.T, ids ...string) *receipts.DirQueue {
	t.Helper()
	q, err := receipts.NewDirQueue(t.TempDir(), time.Hour, logger.NopLogger())
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, q.Append(context.Background(), models.ReceiptRecord{MessageID: id, ConsumedAtMillis: 1700000000000}))
	}
	return q
}

func receiptFor(id string) models.ReceiptRecord {
	return models.ReceiptRecord{MessageID: id, ConsumedAtMillis: 1700000000000}
}

func remaining(t *testing.T, q receipts.Queue) []string {
	t.Helper()
	snap, err := q.SnapshotAndDrain(context.Background())
	require.NoError(t, err)
	ids := snap.MessageIDs()
	sort.Strings(ids)
	return ids
}

func newEngine(q receipts.Queue, batchSize int) *Engine {
	return NewEngine(q, config.ReconcileConfig{BatchSize: batchSize, CommitTimeout: time.Second}, logger.NopLogger())
}

type remoteRecord struct {
	mu       sync.Mutex
	consumed map[string]int
	reject   map[string]bool
	calls    [][]string
	failAll  error
}

func (r *remoteRecord) commit(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), ids...))
	if r.failAll != nil {
		return r.failAll
	}
	if r.consumed == nil {
		r.consumed = map[string]int{}
	}
	var ok, failed []string
	for _, id := range ids {
		if r.reject[id] {
			failed = append(failed, id)
			continue
		}
		r.consumed[id]++
		ok = append(ok, id)
	}
	if len(failed) > 0 {
		return &PartialCommitError{Committed: ok, Failed: failed, Err: errors.New("remote rejected")}
	}
	return nil
}

func TestRunOnce_CommitsAndCleansUp(t *testing.T) {
	q := newQueue(t, "m1", "m2", "m1")
	remote := &remoteRecord{}

	result, err := newEngine(q, 100).RunOnce(context.Background(), remote.commit)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 2, result.Distinct)
	assert.Equal(t, 2, result.Committed)
	assert.Equal(t, 3, result.Removed)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, remaining(t, q))

	require.Len(t, remote.calls, 1)
	assert.ElementsMatch(t, []string{"m1", "m2"}, remote.calls[0])
}

func TestRunOnce_EmptyQueueDoesNotCommit(t *testing.T) {
	remote := &remoteRecord{}
	result, err := newEngine(newQueue(t), 100).RunOnce(context.Background(), remote.commit)
	require.NoError(t, err)
	assert.Zero(t, result.Distinct)
	assert.Empty(t, remote.calls)
}

func TestRunOnce_CommitFailureKeepsEverything(t *testing.T) {
	q := newQueue(t, "m1", "m2")
	remote := &remoteRecord{failAll: errors.New("network unreachable")}

	result, err := newEngine(q, 100).RunOnce(context.Background(), remote.commit)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCommitFailed.Code))
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.Removed)
	assert.Equal(t, []string{"m1", "m2"}, remaining(t, q))

	remote.failAll = nil
	_, err = newEngine(q, 100).RunOnce(context.Background(), remote.commit)
	require.NoError(t, err)
	assert.Empty(t, remaining(t, q))
}

func TestRunOnce_PartialCommit(t *testing.T) {
	q := newQueue(t, "m1", "m2", "m3")
	remote := &remoteRecord{reject: map[string]bool{"m3": true}}

	result, err := newEngine(q, 100).RunOnce(context.Background(), remote.commit)
	require.Error(t, err)

	var partial *PartialCommitError
	assert.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, result.Committed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"m3"}, remaining(t, q))
}

func TestRunOnce_PartialCommitIgnoresIDsOutsideBatch(t *testing.T) {
	q := newQueue(t, "m1", "m2")
	commit := func(ctx context.Context, ids []string) error {
		return &PartialCommitError{Committed: []string{"m1", "unknown"}, Failed: []string{"m2"}}
	}

	result, err := newEngine(q, 100).RunOnce(context.Background(), commit)
	require.Error(t, err)
	assert.Equal(t, 1, result.Committed)
	assert.Equal(t, []string{"m2"}, remaining(t, q))
}

func TestRunOnce_Batches(t *testing.T) {
	q := newQueue(t, "a", "b", "c", "d", "e")
	calls := 0
	commit := func(ctx context.Context, ids []string) error {
		calls++
		assert.LessOrEqual(t, len(ids), 2)
		if calls == 2 {
			return errors.New("second batch fails")
		}
		return nil
	}

	result, err := newEngine(q, 2).RunOnce(context.Background(), commit)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Committed)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, remaining(t, q), 2)
}

func TestRunOnce_AppendDuringCommitSurvives(t *testing.T) {
	q := newQueue(t, "m1")
	commit := func(ctx context.Context, ids []string) error {
		return q.Append(ctx, models.ReceiptRecord{MessageID: "m2", ConsumedAtMillis: 1700000000001})
	}

	_, err := newEngine(q, 100).RunOnce(context.Background(), commit)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, remaining(t, q))
}

func TestRunOnce_PanickingCommitIsContained(t *testing.T) {
	q := newQueue(t, "m1")
	commit := func(ctx context.Context, ids []string) error {
		panic("remote client bug")
	}

	_, err := newEngine(q, 100).RunOnce(context.Background(), commit)
	require.Error(t, err)
	assert.Equal(t, []string{"m1"}, remaining(t, q))
}

func TestRunOnce_CommitTimeout(t *testing.T) {
	q := newQueue(t, "m1")
	engine := NewEngine(q, config.ReconcileConfig{BatchSize: 10, CommitTimeout: 50 * time.Millisecond}, logger.NopLogger())
	commit := func(ctx context.Context, ids []string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	_, err := engine.RunOnce(context.Background(), commit)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"m1"}, remaining(t, q))
}

func TestRunOnce_RunsAreSerialized(t *testing.T) {
	q := newQueue(t, "m1", "m2", "m3")
	engine := newEngine(q, 100)

	var inFlight, maxInFlight int32
	var committed sync.Map
	commit := func(ctx context.Context, ids []string) error {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		for _, id := range ids {
			committed.Store(id, true)
		}
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RunOnce(context.Background(), commit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Empty(t, remaining(t, q))
}
