package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Asset is a downloaded, not yet transformed, resource.
type Asset struct {
	Data        []byte
	ContentType string
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (Asset, error)
}

// HTTPFetcher downloads into a buffer capped at maxBytes. The client timeout
// is a hard ceiling independent of the caller's context.
type HTTPFetcher struct {
	client   *resty.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("Accept", "image/*, audio/*, video/*;q=0.9, */*;q=0.5")
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (Asset, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(sourceURL)
	if err != nil {
		return Asset{}, classifyTransportError(sourceURL, err)
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return Asset{}, &FetchError{Reason: ReasonStatus, URL: sourceURL, Status: resp.StatusCode()}
	}

	if cl := resp.RawResponse.ContentLength; cl > f.maxBytes {
		return Asset{}, &FetchError{Reason: ReasonTooLarge, URL: sourceURL, Err: fmt.Errorf("content length %d exceeds %d", cl, f.maxBytes)}
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return Asset{}, classifyTransportError(sourceURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return Asset{}, &FetchError{Reason: ReasonTooLarge, URL: sourceURL, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}

	return Asset{Data: data, ContentType: resp.Header().Get("Content-Type")}, nil
}

func classifyTransportError(sourceURL string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Reason: ReasonTimeout, URL: sourceURL, Err: err}
	}
	return &FetchError{Reason: ReasonTransport, URL: sourceURL, Err: err}
}
