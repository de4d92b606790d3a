package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	"surfacesync/pkg/circuitbreaker"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
)

// Deduplicator remembers payloads that were fully handled. A payload is a
// repeat when both its messageId and its fingerprint match.
type Deduplicator interface {
	Seen(ctx context.Context, p models.PushPayload) (bool, error)
	Remember(ctx context.Context, p models.PushPayload) error
	Size(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

func dedupKey(p models.PushPayload) string {
	return p.MessageID + ":" + p.Fingerprint()
}

func NewDeduplicator(cfg config.DedupConfig, cbCfg config.CircuitBreakerConfig, client redis.UniversalClient, log logger.Logger) (Deduplicator, error) {
	switch cfg.Backend {
	case "", constants.BackendMemory:
		return NewMemoryDeduplicator(cfg.TTL), nil
	case constants.BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis dedup backend requires a redis client")
		}
		var breaker *circuitbreaker.Wrapper
		if cbCfg.Enabled {
			breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("redis-dedup", cbCfg))
		}
		return NewRedisDeduplicator(client, constants.CacheKeyPrefixDedup, cfg.TTL, breaker, cfg.OnRedisError != "reject", log), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend: %s", cfg.Backend)
	}
}

type MemoryDeduplicator struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTL
	}
	return &MemoryDeduplicator{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

func (m *MemoryDeduplicator) Seen(ctx context.Context, p models.PushPayload) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(p)
	expires, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(expires) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryDeduplicator) Remember(ctx context.Context, p models.PushPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, k)
		}
	}
	m.entries[dedupKey(p)] = now.Add(m.ttl)
	metrics.SetDedupCacheSize(len(m.entries))
	return nil
}

func (m *MemoryDeduplicator) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryDeduplicator) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]time.Time)
	m.mu.Unlock()
	metrics.SetDedupCacheSize(0)
	return nil
}

// RedisDeduplicator shares dedup state between replicas. When redis fails
// Seen either lets the payload through (allowOnError) or returns the error.
type RedisDeduplicator struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	breaker      *circuitbreaker.Wrapper
	allowOnError bool
	logger       logger.Logger
}

func NewRedisDeduplicator(client redis.UniversalClient, prefix string, ttl time.Duration, breaker *circuitbreaker.Wrapper, allowOnError bool, log logger.Logger) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTL
	}
	return &RedisDeduplicator{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		breaker:      breaker,
		allowOnError: allowOnError,
		logger:       log,
	}
}

func (r *RedisDeduplicator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.breaker == nil {
		return fn(ctx)
	}
	err := r.breaker.Do(ctx, fn)
	if err != nil && r.breaker.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
	}
	return err
}

func (r *RedisDeduplicator) Seen(ctx context.Context, p models.PushPayload) (bool, error) {
	var n int64
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.client.Exists(ctx, r.prefix+dedupKey(p)).Result()
		return err
	})
	if err != nil {
		if r.allowOnError {
			r.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing payload (fallback: allow)",
				"error", err,
			)
			return false, nil
		}
		return false, fmt.Errorf("redis error during dedup check for message %s: %w", p.MessageID, err)
	}
	return n > 0, nil
}

func (r *RedisDeduplicator) Remember(ctx context.Context, p models.PushPayload) error {
	return r.do(ctx, func(ctx context.Context) error {
		if err := r.client.Set(ctx, r.prefix+dedupKey(p), time.Now().UnixMilli(), r.ttl).Err(); err != nil {
			return fmt.Errorf("redis SET failed: %w", err)
		}
		return nil
	})
}

func (r *RedisDeduplicator) Size(ctx context.Context) (int, error) {
	count := 0
	err := r.do(ctx, func(ctx context.Context) error {
		count = 0
		iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			count++
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.SetDedupCacheSize(count)
	return count, nil
}

func (r *RedisDeduplicator) Reset(ctx context.Context) error {
	return r.do(ctx, func(ctx context.Context) error {
		iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("redis DEL failed: %w", err)
			}
		}
		return iter.Err()
	})
}
