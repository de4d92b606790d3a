package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesCodeAcrossCopies(t *testing.T) {
	err := ErrFetchFailed.WithCause(errors.New("timeout")).WithDetail("role", "primary-image")
	wrapped := fmt.Errorf("dispatch: %w", err)

	assert.ErrorIs(t, wrapped, ErrFetchFailed)
	assert.NotErrorIs(t, wrapped, ErrCommitFailed)
	assert.True(t, HasCode(wrapped, "FETCH_FAILED"))
}

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrStoreWrite.WithDetail("scope", "hero")
	assert.Empty(t, ErrStoreWrite.Details)
}

func TestError_Retryability(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{"commit failures retry", ErrCommitFailed, true},
		{"store writes retry", ErrStoreWrite, true},
		{"invalid payload is fatal", ErrInvalidPayload, false},
		{"corrupt record is fatal", ErrCorruptRecord, false},
		{"explicit fatal", ErrCommitFailed.AsFatal(), false},
		{"explicit retryable", ErrValidation.AsRetryable(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
			assert.Equal(t, !tt.retryable, tt.err.IsFatal())
		})
	}
}

func TestToErrorResponse(t *testing.T) {
	err := ErrInvalidPayload.WithMessage("messageId is required").WithDetail("field", "messageId")

	resp := ToErrorResponse(err)
	assert.Equal(t, "messageId is required", resp["error"])
	assert.Equal(t, "INVALID_PAYLOAD", resp["error_code"])
	assert.Equal(t, map[string]interface{}{"field": "messageId"}, resp["details"])
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(err))

	plain := ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain["error_code"])
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("boom")))
}

func TestGuard_RecoversPanic(t *testing.T) {
	err := Guard(func() error {
		panic("surface exploded")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
}
