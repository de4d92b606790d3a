package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/internal/reconcile"
	"surfacesync/pkg/circuitbreaker"
	"surfacesync/pkg/models"
	"surfacesync/pkg/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestHTTPRecord_MarkConsumed(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       bool
		wantPartial   []string
		wantRetryable bool
	}{
		{name: "all committed", status: http.StatusOK, body: `{}`},
		{
			name:        "partial",
			status:      http.StatusMultiStatus,
			body:        `{"committed":["m1","m2"],"failed":["m3"]}`,
			wantErr:     true,
			wantPartial: []string{"m1", "m2"},
		},
		{name: "server error", status: http.StatusBadGateway, wantErr: true, wantRetryable: true},
		{name: "rejected", status: http.StatusUnprocessableEntity, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got consumedRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/messages/consumed", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			rec := NewHTTPRecord(config.HTTPRemote{BaseURL: server.URL, Token: "secret"}, time.Second)
			err := rec.MarkConsumed(context.Background(), []string{"m1", "m2", "m3"})

			assert.Equal(t, []string{"m1", "m2", "m3"}, got.MessageIDs)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var partial *reconcile.PartialCommitError
			if tt.wantPartial != nil {
				require.ErrorAs(t, err, &partial)
				assert.Equal(t, tt.wantPartial, partial.Committed)
				return
			}
			assert.False(t, errors.As(err, &partial))

			var fatal retry.FatalError
			assert.Equal(t, !tt.wantRetryable, errors.As(err, &fatal))
		})
	}
}

func TestHTTPRecord_PutSurfaceState(t *testing.T) {
	var got models.SurfaceStateSnapshot
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	rec := NewHTTPRecord(config.HTTPRemote{BaseURL: server.URL}, time.Second)
	snap := models.SurfaceStateSnapshot{MessageID: "m1", ImageRef: "https://cdn.example.com/a.jpg"}
	require.NoError(t, rec.PutSurfaceState(context.Background(), "user-7", snap))

	assert.Equal(t, "/v1/recipients/user-7/surface-state", path)
	assert.Equal(t, snap, got)
}

type flakyRecord struct {
	calls    int32
	failures int32
	err      error
}

func (f *flakyRecord) MarkConsumed(ctx context.Context, ids []string) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyRecord) PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error {
	return f.MarkConsumed(ctx, nil)
}

func (f *flakyRecord) Name() string { return "flaky" }

func TestResilient_RetriesTransientFailures(t *testing.T) {
	inner := &flakyRecord{failures: 2, err: errors.New("connection reset")}
	r := NewResilient(inner, fastPolicy(3), nil, time.Second, logger.NopLogger())

	require.NoError(t, r.MarkConsumed(context.Background(), []string{"m1"}))
	assert.Equal(t, int32(3), inner.calls)
}

func TestResilient_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyRecord{failures: 10, err: errors.New("connection reset")}
	r := NewResilient(inner, fastPolicy(3), nil, time.Second, logger.NopLogger())

	require.Error(t, r.PutSurfaceState(context.Background(), "u1", models.SurfaceStateSnapshot{}))
	assert.Equal(t, int32(3), inner.calls)
}

func TestResilient_PartialCommitIsNotRetried(t *testing.T) {
	partial := &reconcile.PartialCommitError{Committed: []string{"m1"}, Failed: []string{"m2"}, Err: errors.New("rejected")}
	inner := &flakyRecord{failures: 10, err: partial}
	r := NewResilient(inner, fastPolicy(5), nil, time.Second, logger.NopLogger())

	err := r.MarkConsumed(context.Background(), []string{"m1", "m2"})
	var got *reconcile.PartialCommitError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, []string{"m1"}, got.Committed)
	assert.Equal(t, int32(1), inner.calls)
}

func TestResilient_OpenBreakerShortCircuits(t *testing.T) {
	inner := &flakyRecord{failures: 100, err: errors.New("down")}
	cfg := circuitbreaker.DefaultConfig("remote-test")
	cfg.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 }
	breaker := circuitbreaker.NewWrapper(cfg)
	r := NewResilient(inner, fastPolicy(1), breaker, time.Second, logger.NopLogger())

	for i := 0; i < 5; i++ {
		_ = r.MarkConsumed(context.Background(), []string{"m1"})
	}
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, int32(2), inner.calls)
}

func TestResilient_AppliesTimeout(t *testing.T) {
	slow := &slowRecord{}
	r := NewResilient(slow, fastPolicy(1), nil, 20*time.Millisecond, logger.NopLogger())

	err := r.MarkConsumed(context.Background(), []string{"m1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type slowRecord struct{ Noop }

func (slowRecord) MarkConsumed(ctx context.Context, ids []string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNew(t *testing.T) {
	r, err := New(config.RemoteConfig{Backend: "none"}, config.CircuitBreakerConfig{}, nil, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, "none", r.Name())
	assert.NoError(t, CommitFunc(r)(context.Background(), []string{"m1"}))

	r, err = New(config.RemoteConfig{Backend: "http", HTTP: config.HTTPRemote{BaseURL: "http://localhost"}}, config.CircuitBreakerConfig{Enabled: true}, nil, logger.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, "http", r.Name())

	_, err = New(config.RemoteConfig{Backend: "mongodb"}, config.CircuitBreakerConfig{}, nil, logger.NopLogger())
	assert.Error(t, err)

	_, err = New(config.RemoteConfig{Backend: "ftp"}, config.CircuitBreakerConfig{}, nil, logger.NopLogger())
	assert.Error(t, err)
}
