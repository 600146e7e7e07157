package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidEmail is returned when a string is not a plain email address.
var ErrInvalidEmail = errors.New("invalid email address")

// EmailAddress is a syntactically valid, canonicalized email address.
// The zero value is not usable; construct one through NewEmailAddress.
type EmailAddress struct {
	address string
}

// NewEmailAddress validates raw and produces the canonical form. Only bare
// addresses are accepted; display-name forms like "Bob <bob@example.com>"
// are rejected. Canonicalization lowercases the domain part so the same
// address always compares and stores identically.
func NewEmailAddress(raw string) (EmailAddress, error) {
	parsed, err := mail.ParseAddress(raw)
	if err != nil || parsed.Address != raw {
		return EmailAddress{}, ErrInvalidEmail
	}

	at := strings.LastIndex(raw, "@")
	canonical := raw[:at+1] + strings.ToLower(raw[at+1:])
	return EmailAddress{address: canonical}, nil
}

// String renders the canonical address. Every store read and write goes
// through this form.
func (e EmailAddress) String() string {
	return e.address
}

// Equal compares canonical forms.
func (e EmailAddress) Equal(other EmailAddress) bool {
	return e.address == other.address
}
