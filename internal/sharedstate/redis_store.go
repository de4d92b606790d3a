package sharedstate

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each scope in one hash. Publish deletes and refills the
// hash inside MULTI/EXEC so readers never observe a half-written scope.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(scope string) string {
	return s.keyPrefix + scope
}

func (s *RedisStore) Publish(ctx context.Context, scope string, fields Fields) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := validateFields(fields); err != nil {
		return err
	}

	values := make(map[string]interface{}, len(fields))
	for name, v := range fields {
		encoded, err := json.Marshal(v)
		if err != nil {
			return storeWriteError(scope, err)
		}
		values[name] = encoded
	}

	key := s.key(scope)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return storeWriteError(scope, fmt.Errorf("redis publish failed: %w", err))
	}
	return nil
}

func (s *RedisStore) ReadAll(ctx context.Context, scope string) (Fields, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, s.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGetAll failed: %w", err)
	}

	fields := make(Fields, len(raw))
	for name, encoded := range raw {
		var v Value
		if err := json.Unmarshal([]byte(encoded), &v); err != nil {
			return nil, fmt.Errorf("decode field %s of scope %s: %w", name, scope, err)
		}
		fields[name] = v
	}
	return fields, nil
}

func (s *RedisStore) Clear(ctx context.Context, scope string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return storeWriteError(scope, fmt.Errorf("redis Del failed: %w", err))
	}
	return nil
}

func (s *RedisStore) Scopes(ctx context.Context) ([]string, error) {
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	var scopes []string
	for iter.Next(ctx) {
		scopes = append(scopes, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return scopes, nil
}
