package sharedstate

import (
	"context"
	"errors"
	"time"

	"surfacesync/internal/logger"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/metrics"
)

var ErrInvalidValue = errors.New("invalid shared state value")

// Store is the state visible to surface processes. Publish replaces a scope
// as a unit: a reader sees either every field of the previous publish or
// every field of the new one.
type Store interface {
	Publish(ctx context.Context, scope string, fields Fields) error
	ReadAll(ctx context.Context, scope string) (Fields, error)
	Clear(ctx context.Context, scope string) error
	Scopes(ctx context.Context) ([]string, error)
}

// ClearAll drops every scope, used on sign-out.
func ClearAll(ctx context.Context, s Store) error {
	scopes, err := s.Scopes(ctx)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if err := s.Clear(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(fields Fields) error {
	for name, v := range fields {
		if name == "" {
			return ErrInvalidValue
		}
		if err := v.validate(); err != nil {
			return errors.Join(ErrInvalidValue, err)
		}
	}
	return nil
}

func storeWriteError(scope string, err error) error {
	return apperrors.ErrStoreWrite.WithCause(err).WithDetail("scope", scope)
}

// instrumented records publish outcomes and logs failures.
type instrumented struct {
	Store
	logger logger.Logger
}

func WithMetrics(s Store, log logger.Logger) Store {
	return &instrumented{Store: s, logger: log}
}

func (s *instrumented) Publish(ctx context.Context, scope string, fields Fields) error {
	start := time.Now()
	err := s.Store.Publish(ctx, scope, fields)
	if err != nil {
		metrics.IncStatePublish(ScopeKind(scope), "error")
		s.logger.ErrorwCtx(ctx, "Shared state publish failed",
			"scope", scope,
			"fields", len(fields),
			"error", err,
		)
		return err
	}
	metrics.IncStatePublish(ScopeKind(scope), "ok")
	s.logger.DebugwCtx(ctx, "Shared state published",
		"scope", scope,
		"fields", len(fields),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
