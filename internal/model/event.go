package model

import (
	"time"

	"github.com/google/uuid"
)

// NoURL marks an event without a detail URL.
const NoURL = ""

// Event is a single calendar occurrence for the current day.
type Event struct {
	ID        string
	Summary   string
	StartTime string // HH:MM in the configured location
	Start     time.Time
	DetailURL string
}

// HasDetailURL reports whether the event carries a detail URL.
func (e Event) HasDetailURL() bool {
	return e.DetailURL != NoURL
}

// ReminderJob is a pending one-shot reminder for an event.
type ReminderJob struct {
	ID     uuid.UUID
	Event  Event
	FireAt time.Time
}
