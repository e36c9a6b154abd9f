package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaslytics/ingest-svc/internal/models"
)

func newEvent(id string) *models.Event {
	return &models.Event{
		EventID:   id,
		EventType: string(models.UsageTracked),
		Timestamp: "2025-01-01T00:00:00Z",
	}
}

func pushN(t *testing.T, q Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(context.Background(), newEvent(fmt.Sprintf("evt_%d", i))))
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 3)

	batch, err := q.Claim(ctx, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, "evt_0", batch[0].Event.EventID)
	assert.Equal(t, "evt_1", batch[1].Event.EventID)
	assert.Equal(t, "evt_2", batch[2].Event.EventID)
}

func TestMemoryQueueClaimBound(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 10)

	// 10 events with a batch size of 4 drain in 3 claims: 4, 4, 2
	sizes := []int{}
	for {
		batch, err := q.Claim(ctx, 4)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		sizes = append(sizes, len(batch))
		for _, d := range batch {
			require.NoError(t, q.Ack(ctx, d))
		}
	}

	assert.Equal(t, []int{4, 4, 2}, sizes)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestMemoryQueueClaimMovesToInFlight(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 2)

	batch, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// A claimed-but-unacked event stays visible in the in-flight queue
	depths, err := q.AllDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{Pending: 1, InFlight: 1, DeadLetter: 0}, depths)
}

func TestMemoryQueueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 1)

	batch, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, batch[0]))

	depths, err := q.AllDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{}, depths)

	// Double ack is an error, the entry is gone
	assert.Error(t, q.Ack(ctx, batch[0]))
}

func TestMemoryQueueDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 1)

	batch, err := q.Claim(ctx, 1)
	require.NoError(t, err)

	d := batch[0]
	d.Event.MarkFailed("max_retries_exceeded: boom", time.Now())
	require.NoError(t, q.DeadLetter(ctx, d))

	depths, err := q.AllDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{Pending: 0, InFlight: 0, DeadLetter: 1}, depths)

	dead := q.DeadLettered()
	require.Len(t, dead, 1)
	assert.Equal(t, "evt_0", dead[0].EventID)
	assert.Equal(t, "max_retries_exceeded: boom", dead[0].FailureReason)
	assert.NotEmpty(t, dead[0].FailedAt)
}

func TestMemoryQueueRequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	pushN(t, q, 2)

	batch, err := q.Claim(ctx, 1)
	require.NoError(t, err)

	// The wire attempt counter survives the round trip
	d := batch[0]
	d.Event.Attempts = 2
	require.NoError(t, q.Requeue(ctx, d))

	depths, err := q.AllDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depths{Pending: 2, InFlight: 0, DeadLetter: 0}, depths)

	// Requeued entry lands at the back of the pending queue
	batch, err = q.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "evt_1", batch[0].Event.EventID)
	assert.Equal(t, "evt_0", batch[1].Event.EventID)
	assert.Equal(t, 2, batch[1].Event.Attempts)
}

func TestMemoryQueueClaimEmpty(t *testing.T) {
	q := NewMemoryQueue()

	batch, err := q.Claim(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestMemoryQueueConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	const total = 200
	pushN(t, q, total)

	// Competing consumers must never claim the same entry twice
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)
	workerErrs := make(chan error, 8)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.Claim(ctx, 7)
				if err != nil {
					workerErrs <- err
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, d := range batch {
					seen[d.Event.EventID]++
				}
				mu.Unlock()
				for _, d := range batch {
					if err := q.Ack(ctx, d); err != nil {
						workerErrs <- err
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(workerErrs)

	for err := range workerErrs {
		require.NoError(t, err)
	}

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "event %s claimed more than once", id)
	}
}
