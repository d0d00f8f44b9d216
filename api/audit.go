package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/bankgate/storage"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLoginDisabled    AuditEvent = "login_disabled"
	AuditLogout           AuditEvent = "logout"
	AuditReinitialize     AuditEvent = "credential_reinitialized"
	AuditDemoServed       AuditEvent = "demo_served"
)

// auditLogger writes structured audit events and, when a repository is
// configured, keeps them in the audit trail.
type auditLogger struct {
	logger  *slog.Logger
	trail   *auditTrail
	metrics *Metrics
	spikes  *loginSpikeDetector
}

func newAuditLogger(logger *slog.Logger, repo storage.Repository, metrics *Metrics) *auditLogger {
	al := &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
	}
	if repo != nil {
		al.trail = newAuditTrail(repo)
	}
	return al
}

// log writes a structured audit log entry. clientIP identifies the caller;
// no credential or token ever goes into an audit entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, clientIP, reason string) {
	now := time.Now().UTC()
	attrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("client_ip", clientIP),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", attrs...)

	if al.trail != nil {
		if err := al.trail.append(event, clientIP, reason, now); err != nil {
			al.logger.Warn("audit trail write failed", "event", string(event), "error", err)
		}
	}
	switch event {
	case AuditLoginSuccess:
		al.metrics.loginAttempt("success")
	case AuditLoginFailure:
		al.metrics.loginAttempt("failure")
		al.spikes.recordFailure()
	case AuditLoginRateLimited:
		al.metrics.loginAttempt("locked_out")
	}
}
