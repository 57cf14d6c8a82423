package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Expired records are swept lazily on Reserve.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)
	id := storageKey(key)
	if record, ok := s.records[id]; ok {
		return reservationFor(record, fingerprint)
	}
	record := newPendingRecord(key, fingerprint, now, ttl)
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = newPendingRecord(key, fingerprint, now, ttl)
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, storageKey(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for id, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, id)
		}
	}
}
