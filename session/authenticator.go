package session

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/jmcleod/bankgate/internal/util"
)

// Authenticator issues, validates and revokes sessions.
type Authenticator struct {
	store    Store
	operator *Operator
	lifetime time.Duration
	now      func() time.Time
}

type Option func(*Authenticator)

func WithLifetime(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.lifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func NewAuthenticator(store Store, operator *Operator, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:    store,
		operator: operator,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) Lifetime() time.Duration { return a.lifetime }

// LoginEnabled reports whether an operator password is configured.
func (a *Authenticator) LoginEnabled() bool { return a.operator.Enabled() }

// Login verifies the operator credential and creates a new session.
func (a *Authenticator) Login(username, password string) (Session, error) {
	if !a.operator.Verify(username, password) {
		return Session{}, ErrUnauthorized
	}
	id, err := util.RandomToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generating session id: %w", err)
	}
	csrf, err := util.RandomToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generating csrf token: %w", err)
	}
	now := a.now()
	sess := Session{
		ID:        id,
		CSRFToken: csrf,
		CreatedAt: now,
		ExpiresAt: now.Add(a.lifetime),
	}
	a.store.Put(sess)
	return sess, nil
}

// Validate admits a request only when sessionID names a live session and
// csrfToken is the token bound to it.
func (a *Authenticator) Validate(sessionID, csrfToken string) (Session, error) {
	if sessionID == "" || csrfToken == "" {
		return Session{}, ErrUnauthorized
	}
	sess, ok := a.store.Get(sessionID)
	if !ok {
		return Session{}, ErrUnauthorized
	}
	if sess.Expired(a.now()) {
		a.store.Delete(sessionID)
		return Session{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(sess.CSRFToken)) != 1 {
		return Session{}, ErrUnauthorized
	}
	return sess, nil
}

// Logout revokes the session. Unknown IDs are ignored.
func (a *Authenticator) Logout(sessionID string) {
	if sessionID == "" {
		return
	}
	a.store.Delete(sessionID)
}

// ActiveSessions returns the number of stored sessions.
func (a *Authenticator) ActiveSessions() int { return a.store.Len() }
