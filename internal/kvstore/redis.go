package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store[struct{}] = (*Redis[struct{}])(nil)

// Redis stores JSON-encoded values under "<prefix>:<key>" so that several
// server processes can share challenges and sessions.
//
// maxAge, when positive, is set as the Redis TTL on every Put. It is a
// backstop for entries whose owner process died before its sweep ran; the
// sweep remains the authoritative expiry.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	maxAge time.Duration
}

// NewRedis wraps an existing client. Several stores may share one client as
// long as their prefixes differ.
func NewRedis[V any](client *redis.Client, prefix string, maxAge time.Duration) *Redis[V] {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "promptforge"
	}
	return &Redis[V]{client: client, prefix: prefix, maxAge: maxAge}
}

func (r *Redis[V]) key(k string) string {
	return r.prefix + ":" + k
}

func (r *Redis[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encoding %s: %w", key, err)
	}
	ttl := r.maxAge
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	var v V
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("kvstore: redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("kvstore: decoding %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("kvstore: redis del %s: %w", key, err)
	}
	return nil
}

// Sweep walks the prefix with SCAN (never KEYS, which blocks the server) and
// deletes matching entries. Undecodable entries are deleted as well.
func (r *Redis[V]) Sweep(ctx context.Context, expired func(V) bool) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		raw, err := r.client.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired or deleted between SCAN and GET
		}
		if err != nil {
			return removed, fmt.Errorf("kvstore: redis get %s: %w", fullKey, err)
		}
		var v V
		if err := json.Unmarshal(raw, &v); err == nil && !expired(v) {
			continue
		}
		n, err := r.client.Del(ctx, fullKey).Result()
		if err != nil {
			return removed, fmt.Errorf("kvstore: redis del %s: %w", fullKey, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("kvstore: redis scan %s: %w", r.prefix, err)
	}
	return removed, nil
}
