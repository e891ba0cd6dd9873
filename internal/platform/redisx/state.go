package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps short-lived OAuth state tokens bound to a partner.
type StateStore struct {
	kv  KV
	ttl time.Duration
}

// NewStateStore builds a store; ttl <= 0 uses TTLOAuthState.
func NewStateStore(kv KV, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = TTLOAuthState
	}
	return &StateStore{kv: kv, ttl: ttl}
}

// Save binds state to partnerID.
func (s *StateStore) Save(ctx context.Context, state, partnerID string) error {
	ok, err := s.kv.SetNX(ctx, fmt.Sprintf(KeyOAuthState, state), partnerID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redisx: save state: %w", err)
	}
	if !ok {
		return errors.New("redisx: state already exists")
	}
	return nil
}

// Consume returns the partner bound to state and deletes it. The boolean is
// false when the state is unknown, expired or already used.
func (s *StateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	partnerID, err := s.kv.GetDel(ctx, fmt.Sprintf(KeyOAuthState, state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisx: consume state: %w", err)
	}
	return partnerID, true, nil
}
