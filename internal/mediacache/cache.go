package mediacache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
	"surfacesync/pkg/tracing"
)

// Cache fetches remote media, bounds it and stores it under a stable key.
// Calls for different keys may run concurrently; for the same key the last
// completed call wins.
type Cache struct {
	fetcher     Fetcher
	transformer *Transformer
	store       BlobStore
	mirror      Mirror
	timeout     time.Duration
	logger      logger.Logger
	now         func() time.Time
}

type Option func(*Cache)

func WithFetcher(f Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

func NewCache(cfg config.MediaConfig, store BlobStore, log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		fetcher:     NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxBytes),
		transformer: NewTransformer(cfg.MaxSourcePixels, cfg.JPEGQuality),
		store:       store,
		timeout:     cfg.FetchTimeout,
		logger:      log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAndCache downloads sourceURL, transforms it and publishes it under
// key. On any failure nothing is published and a *FetchError is returned.
func (c *Cache) FetchAndCache(ctx context.Context, sourceURL, key string, maxDimensionPx int) (models.CachedMediaEntry, error) {
	ctx, span := tracing.GetTracer("mediacache").Start(ctx, "mediacache.fetch_and_cache")
	defer span.End()

	role := roleOf(key)
	start := time.Now()

	entry, err := c.fetchAndCache(ctx, sourceURL, key, maxDimensionPx)
	if err != nil {
		status := "error"
		var fe *FetchError
		if errors.As(err, &fe) {
			status = string(fe.Reason)
		}
		metrics.ObserveMediaFetch(role, status, time.Since(start))
		span.RecordError(err)
		c.logger.WarnwCtx(ctx, "Media fetch failed",
			"key", key,
			"source_url", sourceURL,
			"error", err,
		)
		return models.CachedMediaEntry{}, err
	}

	metrics.ObserveMediaFetch(role, "ok", time.Since(start))
	metrics.MediaStoredBytes.Observe(float64(entry.ByteSize))
	return entry, nil
}

func (c *Cache) fetchAndCache(ctx context.Context, sourceURL, key string, maxDimensionPx int) (models.CachedMediaEntry, error) {
	if sourceURL == "" {
		return models.CachedMediaEntry{}, &FetchError{Reason: ReasonTransport, URL: sourceURL, Err: errors.New("empty source URL")}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	asset, err := c.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return models.CachedMediaEntry{}, err
	}

	out, err := c.transformer.Transform(asset, maxDimensionPx)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.URL == "" {
			fe.URL = sourceURL
		}
		return models.CachedMediaEntry{}, err
	}

	entry, err := c.store.Put(ctx, models.CachedMediaEntry{
		Key:               key,
		SourceURL:         sourceURL,
		ContentType:       out.ContentType,
		TransformedWidth:  out.Width,
		TransformedHeight: out.Height,
		CachedAt:          c.now().UTC(),
	}, out.Data)
	if err != nil {
		return models.CachedMediaEntry{}, &FetchError{Reason: ReasonStore, URL: sourceURL, Err: err}
	}

	if c.mirror != nil {
		if err := c.mirror.Put(ctx, entry, out.Data); err != nil {
			c.logger.WarnwCtx(ctx, "Media mirror upload failed",
				"key", key,
				"error", err,
			)
		}
	}

	return entry, nil
}

func (c *Cache) Lookup(ctx context.Context, key string) (models.CachedMediaEntry, error) {
	return c.store.Lookup(ctx, key)
}

func (c *Cache) Open(ctx context.Context, key string) ([]byte, models.CachedMediaEntry, error) {
	return c.store.Open(ctx, key)
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	if c.mirror != nil {
		if err := c.mirror.Remove(ctx, key); err != nil {
			c.logger.WarnwCtx(ctx, "Media mirror delete failed", "key", key, "error", err)
		}
	}
	return nil
}

// Clear drops every local entry. Mirrored copies are left to bucket lifecycle rules.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear media cache: %w", err)
	}
	return nil
}

func roleOf(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return "unknown"
}
