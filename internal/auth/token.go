package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// tokenBytes gives 160 bits of entropy, rendered as 40 hex characters.
const tokenBytes = 20

// Verdict is the outcome of verifying a presented account token against
// the stored token/expiry pair.
type Verdict int

const (
	TokenValid Verdict = iota
	TokenExpired
	TokenMismatch
)

// TokenIssuer generates opaque single-use account tokens (email
// confirmation, password reset) with a fixed time-to-live.
type TokenIssuer struct {
	ttl time.Duration
}

// NewTokenIssuer builds an issuer. A non-positive TTL falls back to one hour.
func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{ttl: ttl}
}

// Issue generates a fresh token from a cryptographically secure source and
// its expiry deadline.
func (i *TokenIssuer) Issue() (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	return hex.EncodeToString(buf), time.Now().Add(i.ttl), nil
}

// VerifyToken checks a presented token against the stored pair. The full
// strings are compared in constant time; a matching token that has reached
// its deadline is reported expired, not mismatched. On TokenValid the
// caller must clear the stored pair together with the dependent mutation
// so the token cannot verify twice.
func VerifyToken(stored string, expiresAt time.Time, presented string, now time.Time) Verdict {
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return TokenMismatch
	}
	if !expiresAt.After(now) {
		return TokenExpired
	}
	return TokenValid
}
