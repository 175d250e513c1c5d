package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the attempt lifecycle. Exactly one event is
// published per terminal or overdue transition, after the transaction
// committed.
const (
	TypeAttemptSubmitted     = "attempt.submitted"
	TypeAttemptBecameOverdue = "attempt.became_overdue"
	TypeAttemptAbandoned     = "attempt.abandoned"
)

const (
	eventSource  = "quiz-delivery-service"
	eventVersion = "1.0"
)

// AttemptEvent is the payload published to the event bus for attempt state
// transitions.
type AttemptEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	AttemptID    uint   `json:"attempt_id"`
	AssessmentID uint   `json:"assessment_id"`
	UserID       string `json:"user_id"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewAttemptEvent builds an event envelope for one attempt transition.
func NewAttemptEvent(eventType string, attemptID, assessmentID uint, userID string, occurredAt time.Time) *AttemptEvent {
	return &AttemptEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Source:       eventSource,
		Version:      eventVersion,
		Timestamp:    occurredAt,
		AttemptID:    attemptID,
		AssessmentID: assessmentID,
		UserID:       userID,
	}
}
