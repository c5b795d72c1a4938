// Package events publishes domain events of the webapp to a Redis stream.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of domain event.
type Type string

// Event types.
const (
	// TypeUserCreated is published after a user has been stored.
	TypeUserCreated Type = "user.created"
)

// String returns the string representation of the event type.
func (t Type) String() string {
	return string(t)
}

// Event is a domain event appended to the event stream.
type Event struct {
	// ID is the unique event identifier (UUID v4)
	ID string `json:"id"`

	// Type is the event type
	Type Type `json:"type"`

	// SubjectID is the ID of the entity the event is about
	SubjectID string `json:"subjectId"`

	// CorrelationID links the event to the request that caused it
	CorrelationID string `json:"correlationId,omitempty"`

	// Data is the event payload
	Data any `json:"data,omitempty"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType Type, subjectID, correlationID string, data any) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		SubjectID:     subjectID,
		CorrelationID: correlationID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}
