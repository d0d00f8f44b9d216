package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmcleod/bankgate/banking"
	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/secret"
	"github.com/jmcleod/bankgate/session"
)

// Error categories returned in ErrorResponse.Error.
const (
	errUnauthorized        = "unauthorized"
	errRateLimited         = "rate_limited"
	errSecretUnavailable   = "secret_unavailable"
	errUpstreamRejected    = "upstream_rejected"
	errUpstreamUnavailable = "upstream_unavailable"
	errBadRequest          = "bad_request"
	errInternal            = "internal"
)

const maxAuthBodySize = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, category, msg string) {
	writeJSON(w, status, ErrorResponse{Error: category, Message: msg})
}

// mapError logs err in full and answers with its category and a generic
// message. Upstream bodies never reach the client.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	status, category, msg := classify(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path,
		"status", status,
		"category", category,
		"error", err,
	)
	writeError(w, status, category, msg)
}

func classify(err error) (status int, category, msg string) {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized, errUnauthorized, "authentication required"
	case errors.Is(err, ledger.ErrInvalidDays):
		return http.StatusBadRequest, errBadRequest, "days must be between 1 and 730"
	case errors.Is(err, secret.ErrSecretUnavailable):
		return http.StatusServiceUnavailable, errSecretUnavailable, "banking credential is unavailable"
	case errors.Is(err, banking.ErrUpstreamRejected):
		return http.StatusBadGateway, errUpstreamRejected, "the banking API rejected the request"
	case errors.Is(err, banking.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errUpstreamUnavailable, "the banking API is unavailable"
	default:
		return http.StatusInternalServerError, errInternal, "internal error"
	}
}

// decodeJSON reads a size-limited JSON body into T, writing a 400 on
// failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid request body")
		return v, false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}
