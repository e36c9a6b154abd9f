// Package queue provides the durable FIFO store backing the event pipeline.
//
// Three lists make up the store: the pending queue of events awaiting
// processing, the in-flight queue of events claimed by a consumer but not yet
// acknowledged, and the dead-letter queue of events that exhausted their retry
// budget. An event lives in at most one list at any time; every mutation that
// moves an entry between lists is a single atomic operation.
package queue

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/saaslytics/ingest-svc/internal/models"
)

// Delivery is a claimed queue entry. Payload holds the exact bytes the entry
// was claimed with, so Ack, DeadLetter and Requeue can remove precisely that
// entry from the in-flight queue regardless of how the decoded event is
// mutated during processing.
type Delivery struct {
	Event   *models.Event
	Payload []byte
}

// Depths reports the length of each queue
type Depths struct {
	Pending    int64 `json:"pending"`
	InFlight   int64 `json:"in_flight"`
	DeadLetter int64 `json:"dead_letter"`
}

// Queue is the pluggable FIFO store contract. Implementations must be safe
// for concurrent producers and consumers; two consumers can never claim the
// same entry.
type Queue interface {
	// Push appends an event to the pending queue
	Push(ctx context.Context, event *models.Event) error

	// Claim atomically moves up to max events from the pending queue to the
	// in-flight queue, in FIFO order. An empty pending queue yields an empty
	// batch, not an error.
	Claim(ctx context.Context, max int) ([]Delivery, error)

	// Ack removes a claimed entry from the in-flight queue
	Ack(ctx context.Context, d Delivery) error

	// DeadLetter atomically appends the delivery's event (with its failure
	// fields populated) to the dead-letter queue and removes the claimed
	// entry from the in-flight queue.
	DeadLetter(ctx context.Context, d Delivery) error

	// Requeue atomically moves a claimed entry back to the tail of the
	// pending queue, re-serializing the event so wire-carried state such as
	// the attempt counter survives the round trip.
	Requeue(ctx context.Context, d Delivery) error

	// Depth returns the pending queue length
	Depth(ctx context.Context) (int64, error)

	// AllDepths returns the length of all three queues
	AllDepths(ctx context.Context) (Depths, error)

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
}

func encodeEvent(event *models.Event) ([]byte, error) {
	return json.Marshal(event)
}

func decodeEvent(payload []byte) (*models.Event, error) {
	event := &models.Event{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}
	return event, nil
}
