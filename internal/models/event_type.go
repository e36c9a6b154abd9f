package models

import (
	"fmt"
	"strings"
)

// EventType represents the type of an ingested telemetry event
type EventType string

const (
	UserSignup          EventType = "user_signup"
	SubscriptionCreated EventType = "subscription_created"
	UsageTracked        EventType = "usage_tracked"
)

// ParseEventType parses a string into an EventType
// Returns an error if the event type is unknown
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	validTypes := []EventType{
		UserSignup,
		SubscriptionCreated,
		UsageTracked,
	}

	for _, eventType := range validTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown event type: %s", name)
}
