package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
)

func TestScheduler_RunsOnStartAndOnSchedule(t *testing.T) {
	q := newQueue(t, "m1")
	var calls int32
	commit := func(ctx context.Context, ids []string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	cfg := config.ReconcileConfig{Schedule: "@every 1s", RunOnStart: true, BatchSize: 10}
	s := NewScheduler(NewEngine(q, cfg, logger.NopLogger()), commit, cfg, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(remaining(t, q)) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, q.Append(context.Background(), receiptFor("m2")))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	cfg := config.ReconcileConfig{Schedule: "whenever"}
	s := NewScheduler(NewEngine(newQueue(t), cfg, logger.NopLogger()), func(context.Context, []string) error { return nil }, cfg, logger.NopLogger())

	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestScheduler_TriggerAfterCancel(t *testing.T) {
	cfg := config.ReconcileConfig{Schedule: "@every 1h"}
	s := NewScheduler(NewEngine(newQueue(t, "m1"), cfg, logger.NopLogger()), func(context.Context, []string) error { return nil }, cfg, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Trigger(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
