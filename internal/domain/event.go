package domain

import "time"

// EventType classifies domain events.
type EventType string

const (
	EventNarrativeAdvanced   EventType = "narrative.advanced"
	EventCurrencyChanged     EventType = "currency.changed"
	EventAccessChanged       EventType = "access.changed"
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is a fact about something that already happened. Events are
// post-commit notifications; they never request work synchronously and a
// subscriber failure never affects the publishing workflow. All events
// emitted by one workflow execution share a correlation id.
type Event struct {
	Type          EventType      `json:"type"`
	UserID        int64          `json:"user_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
