package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"surfacesync/internal/config"
	"surfacesync/internal/reconcile"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/models"
	"surfacesync/pkg/retry"
)

type consumedRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type consumedResponse struct {
	Committed []string `json:"committed"`
	Failed    []string `json:"failed"`
}

// HTTPRecord talks to a system of record that exposes a REST API.
//
//	POST /v1/messages/consumed            {"messageIds": [...]}
//	PUT  /v1/recipients/{id}/surface-state <snapshot>
//
// A 207 response lists per-id outcomes.
type HTTPRecord struct {
	client *resty.Client
}

func NewHTTPRecord(cfg config.HTTPRemote, timeout time.Duration) *HTTPRecord {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPRecord{client: client}
}

func (r *HTTPRecord) Name() string { return "http" }

func (r *HTTPRecord) MarkConsumed(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	var out consumedResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(consumedRequest{MessageIDs: messageIDs}).
		SetResult(&out).
		Post("/v1/messages/consumed")
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusMultiStatus:
		return &reconcile.PartialCommitError{
			Committed: out.Committed,
			Failed:    out.Failed,
			Err:       fmt.Errorf("remote rejected %d of %d ids", len(out.Failed), len(messageIDs)),
		}
	case resp.IsSuccess():
		return nil
	default:
		return statusError("mark consumed", resp)
	}
}

func (r *HTTPRecord) PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("recipient", recipientID).
		SetBody(snapshot).
		Put("/v1/recipients/{recipient}/surface-state")
	if err != nil {
		return fmt.Errorf("put surface state: %w", err)
	}
	if !resp.IsSuccess() {
		return statusError("put surface state", resp)
	}
	return nil
}

// statusError makes 4xx responses fatal so they are not retried; 5xx and 429
// stay retryable.
func statusError(op string, resp *resty.Response) error {
	err := fmt.Errorf("%s: remote returned %d", op, resp.StatusCode())
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
		return retry.NewFatalError(apperrors.ErrCommitFailed.WithCause(err).WithDetail("status", resp.StatusCode()))
	}
	return err
}
