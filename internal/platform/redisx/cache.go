package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores JSON documents under a key format with a fixed TTL.
type JSONCache[T any] struct {
	kv     KV
	format string
	ttl    time.Duration
}

// NewJSONCache builds a cache; format must contain one %s verb.
func NewJSONCache[T any](kv KV, format string, ttl time.Duration) *JSONCache[T] {
	return &JSONCache[T]{kv: kv, format: format, ttl: ttl}
}

// Get returns the cached value and whether it was present.
func (c *JSONCache[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	raw, err := c.kv.Get(ctx, fmt.Sprintf(c.format, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redisx: cache get: %w", err)
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("redisx: cache decode: %w", err)
	}
	return value, true, nil
}

// Set stores value.
func (c *JSONCache[T]) Set(ctx context.Context, id string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisx: cache encode: %w", err)
	}
	if err := c.kv.Set(ctx, fmt.Sprintf(c.format, id), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redisx: cache set: %w", err)
	}
	return nil
}
