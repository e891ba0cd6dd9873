package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process Store used when Redis is unreachable.
// Expired records linger until CleanupExpired runs from the job scheduler.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok && now.Before(rec.ExpiresAt) {
		return rec.reservation(fingerprint)
	}
	rec := pendingRecord(fingerprint, now, ttl)
	s.records[id] = rec
	return Reservation{State: ReservationStateNew, Record: rec}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if ok && rec.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = rec.complete(fingerprint, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	delete(s.records, hashKey(key))
	s.mu.Unlock()
	return nil
}

// CleanupExpired drops up to limit expired records; limit <= 0 means all.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
