package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/bankgate/session"
)

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)

	if !a.sessions.LoginEnabled() {
		a.audit.log(AuditLoginDisabled, r, clientIP, "no operator password configured")
		writeError(w, http.StatusUnauthorized, errUnauthorized, "login is disabled")
		return
	}
	if blocked, retryAfter := a.lockout.Check(clientIP); blocked {
		a.metrics.rateLimited("login")
		a.audit.log(AuditLoginRateLimited, r, clientIP, "locked out")
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return
	}

	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errBadRequest, "username and password are required")
		return
	}

	sess, err := a.sessions.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			a.lockout.RecordFailure(clientIP)
			a.audit.log(AuditLoginFailure, r, clientIP, "invalid credentials")
			writeError(w, http.StatusUnauthorized, errUnauthorized, "invalid credentials")
			return
		}
		a.mapError(w, r, err)
		return
	}

	a.lockout.RecordSuccess(clientIP)
	a.writeSessionCookie(w, r, sess.ID, sess.ExpiresAt)
	a.audit.log(AuditLoginSuccess, r, clientIP, "")
	writeJSON(w, http.StatusOK, LoginResponse{
		CSRFToken: sess.CSRFToken,
		ExpiresAt: sess.ExpiresAt.UTC(),
	})
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := sessionFromContext(r.Context()); ok {
		a.sessions.Logout(sess.ID)
	}
	a.clearSessionCookie(w, r)
	a.audit.log(AuditLogout, r, a.extractClientIP(r), "")
	w.WriteHeader(http.StatusNoContent)
}
