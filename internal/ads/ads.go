package ads

import "time"

// Status is the campaign state of an advertisement.
//
// Transitions:
//
//	pending → broadcasting → {completed, partially_completed, failed}
//
// A terminal status may re-enter broadcasting, but only via an explicit
// operator re-trigger. All writers go through the store's guarded
// transition, never through a blind save.
type Status string

const (
	StatusPending            Status = "pending"
	StatusBroadcasting       Status = "broadcasting"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// Terminal reports whether the status ends a broadcast attempt.
// CompletedAt must be set exactly when a terminal status is entered.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBroadcasting, StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// Advertisement is a priced message an operator pushes through a set of bots.
type Advertisement struct {
	ID           int64
	UserID       int64
	Title        string
	Content      string
	Media        []MediaRef
	Price        float64
	TargetBots   []int64
	Status       Status
	CreatedAt    time.Time
	ScheduledFor *time.Time
	CompletedAt  *time.Time
}

// HasMedia reports whether the advertisement dispatches as media messages
// (body text as caption) instead of a plain text message.
func (a *Advertisement) HasMedia() bool { return len(a.Media) > 0 }
