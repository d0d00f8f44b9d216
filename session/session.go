// Package session implements the operator login, the session store and the
// per-request session plus CSRF validation.
package session

import (
	"errors"
	"log/slog"
	"time"
)

// ErrUnauthorized is returned for every authentication failure. Callers
// cannot tell a wrong password from an unknown session or a CSRF mismatch.
var ErrUnauthorized = errors.New("unauthorized")

const (
	DefaultLifetime = 8 * time.Hour
	// tokenBytes is the entropy of both the session ID and the CSRF token.
	tokenBytes = 32
)

// Session is the server-side state of one authenticated browser. The ID and
// CSRF token are bound to each other for the whole lifetime.
type Session struct {
	ID        string    `json:"-"`
	CSRFToken string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the absolute lifetime has elapsed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// LogValue keeps tokens out of logs.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("created_at", s.CreatedAt),
		slog.Time("expires_at", s.ExpiresAt),
	)
}
