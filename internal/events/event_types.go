package events

import "time"

// EventType enumerates account lifecycle event identifiers.
type EventType string

const (
	EventAccountRegistered      EventType = "account_registered"
	EventConfirmationRequested  EventType = "confirmation_requested"
	EventEmailConfirmed         EventType = "email_confirmed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
)

// AllEventTypes lists every account event, for subscribers that want the
// full stream.
func AllEventTypes() []EventType {
	return []EventType{
		EventAccountRegistered,
		EventConfirmationRequested,
		EventEmailConfirmed,
		EventPasswordResetRequested,
		EventPasswordResetCompleted,
	}
}

// Event represents an account lifecycle event emitted by services. Tokens
// never ride on events; only the fact that one was issued or consumed.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}
