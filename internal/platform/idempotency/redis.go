package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mercadoparceiro/api/internal/platform/redisx"
)

// RedisStore keeps records in Redis; expiry is delegated to key TTLs.
type RedisStore struct {
	kv redisx.KV
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(kv redisx.KV) *RedisStore {
	return &RedisStore{kv: kv}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	rec := pendingRecord(fingerprint, now, ttl)
	raw, err := json.Marshal(rec)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}
	redisKey := s.redisKey(key)
	// SETNX is the reservation; the loser reads the winner's record
	created, err := s.kv.SetNX(ctx, redisKey, raw, effectiveTTL(ttl)).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}

	existing, found, err := s.load(ctx, redisKey)
	if err != nil {
		return Reservation{}, err
	}
	if !found {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	return existing.reservation(fingerprint)
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	redisKey := s.redisKey(key)
	existing, found, err := s.load(ctx, redisKey)
	if err != nil {
		return err
	}
	if found && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	raw, err := json.Marshal(existing.complete(fingerprint, resp, now, ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.kv.Set(ctx, redisKey, raw, effectiveTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.kv.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf(redisx.KeyIdempotency, hashKey(key))
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, bool, error) {
	raw, err := s.kv.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}
