package mediacache

import (
	"fmt"

	apperrors "surfacesync/pkg/errors"
)

type FetchReason string

const (
	ReasonTimeout   FetchReason = "timeout"
	ReasonStatus    FetchReason = "status"
	ReasonTransport FetchReason = "transport"
	ReasonTooLarge  FetchReason = "too_large"
	ReasonDecode    FetchReason = "decode"
	ReasonStore     FetchReason = "store"
)

// FetchError reports why an asset could not be cached. Callers fall back to
// the source URL; nothing was published for the key.
type FetchError struct {
	Reason FetchReason
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Reason, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrFetchFailed}
	}
	return []error{apperrors.ErrFetchFailed, e.Err}
}
