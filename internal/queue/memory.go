package queue

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/saaslytics/ingest-svc/internal/models"
)

// MemoryQueue is an in-process Queue implementation guarded by a mutex.
// It backs tests and local runs without a Redis instance while keeping the
// same semantics as the Redis implementation: FIFO order, bounded atomic
// claims, and entries living in exactly one list at a time.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    [][]byte
	inFlight   [][]byte
	deadLetter [][]byte
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, event *models.Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, payload)
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, max int) ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.pending) {
		n = len(q.pending)
	}

	batch := make([]Delivery, 0, n)
	for i := 0; i < n; i++ {
		payload := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight = append(q.inFlight, payload)

		event, err := decodeEvent(payload)
		if err != nil {
			q.removeLocked(&q.inFlight, payload)
			q.deadLetter = append(q.deadLetter, payload)
			continue
		}

		batch = append(batch, Delivery{Event: event, Payload: payload})
	}

	return batch, nil
}

func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(&q.inFlight, d.Payload) {
		return fmt.Errorf("event %s not in flight", d.Event.EventID)
	}
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, d Delivery) error {
	payload, err := encodeEvent(d.Event)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(&q.inFlight, d.Payload) {
		return fmt.Errorf("event %s not in flight", d.Event.EventID)
	}
	q.deadLetter = append(q.deadLetter, payload)
	return nil
}

func (q *MemoryQueue) Requeue(_ context.Context, d Delivery) error {
	payload, err := encodeEvent(d.Event)
	if err != nil {
		return fmt.Errorf("failed to encode requeued event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(&q.inFlight, d.Payload) {
		return fmt.Errorf("event %s not in flight", d.Event.EventID)
	}
	q.pending = append(q.pending, payload)
	return nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) AllDepths(_ context.Context) (Depths, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Depths{
		Pending:    int64(len(q.pending)),
		InFlight:   int64(len(q.inFlight)),
		DeadLetter: int64(len(q.deadLetter)),
	}, nil
}

func (q *MemoryQueue) Ping(_ context.Context) error {
	return nil
}

// DeadLettered returns decoded copies of the dead-letter queue, oldest first.
// Inspection hook for operators and tests.
func (q *MemoryQueue) DeadLettered() []*models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := make([]*models.Event, 0, len(q.deadLetter))
	for _, payload := range q.deadLetter {
		if event, err := decodeEvent(payload); err == nil {
			events = append(events, event)
		}
	}
	return events
}

// removeLocked removes the first entry equal to payload from the given list.
// Caller must hold the mutex.
func (q *MemoryQueue) removeLocked(list *[][]byte, payload []byte) bool {
	for i, entry := range *list {
		if bytes.Equal(entry, payload) {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}
