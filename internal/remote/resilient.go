package remote

import (
	"context"
	"errors"
	"time"

	"surfacesync/internal/logger"
	"surfacesync/internal/reconcile"
	"surfacesync/pkg/circuitbreaker"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
	"surfacesync/pkg/retry"
)

// Resilient adds a per-call timeout, retries and an optional circuit
// breaker around a SystemOfRecord.
type Resilient struct {
	inner   SystemOfRecord
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
	timeout time.Duration
	logger  logger.Logger
}

func NewResilient(inner SystemOfRecord, policy retry.Policy, breaker *circuitbreaker.Wrapper, timeout time.Duration, log logger.Logger) *Resilient {
	return &Resilient{
		inner:   inner,
		policy:  policy,
		breaker: breaker,
		timeout: timeout,
		logger:  log,
	}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) MarkConsumed(ctx context.Context, messageIDs []string) error {
	return r.do(ctx, "mark_consumed", func(ctx context.Context) error {
		err := r.inner.MarkConsumed(ctx, messageIDs)
		var partial *reconcile.PartialCommitError
		if errors.As(err, &partial) {
			// The remote answered; retrying the whole batch would not help.
			return retry.NewFatalError(err)
		}
		return err
	})
}

func (r *Resilient) PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error {
	return r.do(ctx, "put_surface_state", func(ctx context.Context) error {
		return r.inner.PutSurfaceState(ctx, recipientID, snapshot)
	})
}

func (r *Resilient) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()

	call := func(ctx context.Context) error {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return fn(ctx)
	}

	err := retry.RetryWithCallback(ctx, r.policy, func() error {
		if r.breaker == nil {
			return call(ctx)
		}
		return r.breaker.Do(ctx, call)
	}, func(attempt int, err error, next time.Duration) {
		r.logger.WarnwCtx(ctx, "Remote operation failed, retrying",
			"backend", r.inner.Name(),
			"operation", operation,
			"attempt", attempt,
			"next_delay", next.String(),
			"error", err,
		)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveRemoteOperation(r.inner.Name(), operation, status, time.Since(start))
	return err
}
