package domain

import (
	"fmt"
	"time"
)

// Status represents lifecycle states for an account. It is a closed set:
// anything outside the four declared values is rejected wherever a Status
// is parsed or checked.
type Status string

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
	StatusSuspended   Status = "suspended"
	StatusRemoved     Status = "removed"
)

// ParseStatus converts a stored value into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusUnconfirmed, StatusConfirmed, StatusSuspended, StatusRemoved:
		return s, nil
	default:
		return "", fmt.Errorf("unknown account status %q", raw)
	}
}

// Valid reports whether the status is one of the declared values.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Accounts start unconfirmed, move to confirmed once, and may then be
// suspended or removed administratively. Nothing returns to unconfirmed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusUnconfirmed:
		return next == StatusConfirmed
	case StatusConfirmed:
		return next == StatusSuspended || next == StatusRemoved
	case StatusSuspended, StatusRemoved:
		return false
	default:
		return false
	}
}

// User is the domain model for an account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Status       Status

	// Token/expiry pairs are set and cleared together. A token is never
	// valid without its expiry.
	ConfirmEmailToken   *string
	ConfirmEmailExpire  *time.Time
	ResetPasswordToken  *string
	ResetPasswordExpire *time.Time

	GithubUsername *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the user to next if the lifecycle allows it.
func (u *User) Transition(next Status) error {
	if !next.Valid() {
		return fmt.Errorf("unknown account status %q", next)
	}
	if !u.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s", u.Status, next)
	}
	u.Status = next
	return nil
}

// CanAuthenticate applies the login gate. Only confirmed accounts may
// authenticate; every other status yields a distinct user-facing message.
// The switch is exhaustive so an unrecognized status never passes.
func (u *User) CanAuthenticate() (string, bool) {
	switch u.Status {
	case StatusConfirmed:
		return "", true
	case StatusUnconfirmed:
		return "Email not confirmed. Please contact system admin.", false
	case StatusSuspended:
		return "User account is suspended. Please contact system admin.", false
	case StatusRemoved:
		return "User account is removed. Please contact system admin.", false
	default:
		return "User account is not usable. Please contact system admin.", false
	}
}
