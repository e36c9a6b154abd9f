package models

import (
	"time"
)

// Event is the unit of work flowing through the pipeline.
// EventID is the producer-supplied deduplication key; ReceivedAt is assigned
// by the receiver exactly once at ingestion and never mutated afterward.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Set by the receiver at ingestion
	ReceivedAt string `json:"received_at,omitempty"`

	// Retry counter carried on the wire when the requeue-on-retry strategy
	// sends an event back to the pending queue
	Attempts int `json:"attempts,omitempty"`

	// Set only when the event is moved to the dead-letter queue
	FailedAt      string `json:"failed_at,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// requiredFields are the fields a producer must supply for an event to be accepted
var requiredFields = []string{"event_id", "event_type", "timestamp"}

// Validate returns the list of missing required field names.
// An empty slice means the event is structurally valid.
func (e *Event) Validate() []string {
	missing := make([]string, 0, len(requiredFields))

	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.Timestamp == "" {
		missing = append(missing, "timestamp")
	}

	return missing
}

// MarkReceived stamps the server-side ingestion time. The timestamp is set
// only on first call so replayed entries keep their original ingestion time.
func (e *Event) MarkReceived(now time.Time) {
	if e.ReceivedAt == "" {
		e.ReceivedAt = now.UTC().Format(time.RFC3339Nano)
	}
}

// MarkFailed stamps the dead-letter metadata
func (e *Event) MarkFailed(reason string, now time.Time) {
	e.FailedAt = now.UTC().Format(time.RFC3339Nano)
	e.FailureReason = reason
}

// IngestLatency returns the duration between ingestion and now.
// Returns false if the event carries no parseable received_at.
func (e *Event) IngestLatency(now time.Time) (time.Duration, bool) {
	if e.ReceivedAt == "" {
		return 0, false
	}
	receivedAt, err := time.Parse(time.RFC3339Nano, e.ReceivedAt)
	if err != nil {
		return 0, false
	}
	return now.Sub(receivedAt), true
}
