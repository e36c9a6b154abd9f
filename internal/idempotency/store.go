// Package idempotency answers "have I seen this event_id within the dedup
// window?" with a single atomic check-and-set, so two concurrent submissions
// of the same event can never both be admitted.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store is the deduplication contract. Owned exclusively by the webhook
// receiver; the batch consumer never reads it.
type Store interface {
	// MarkIfNew atomically records the event_id unless it is already present,
	// returning true when the id was newly inserted. The entry expires after
	// ttl.
	MarkIfNew(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// Forget removes the event_id so a later submission is admitted again.
	// Used to roll back admission when enqueueing fails after the mark.
	Forget(ctx context.Context, eventID string) error

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
}

// MemoryStore is a mutex-guarded in-process Store for tests and local runs
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time

	// now is swappable so expiry can be tested without sleeping
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) MarkIfNew(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.seen[eventID]; ok && expiry.After(now) {
		return false, nil
	}

	s.seen[eventID] = now.Add(ttl)
	s.sweepLocked(now)
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// sweepLocked drops expired entries. Caller must hold the mutex.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, expiry := range s.seen {
		if !expiry.After(now) {
			delete(s.seen, id)
		}
	}
}
