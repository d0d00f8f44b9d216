package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/sony/gobreaker"

	"github.com/jmcleod/bankgate/history"
	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/ratelimit"
	"github.com/jmcleod/bankgate/secret"
	"github.com/jmcleod/bankgate/session"
	"github.com/jmcleod/bankgate/storage"
)

// SecretManager is the part of the secret resolver the API drives.
type SecretManager interface {
	Invalidate()
	Status() secret.Status
}

// BreakerStater is implemented by every client guarded by a circuit breaker.
type BreakerStater interface {
	BreakerState() gobreaker.State
}

// Deps are the stateful components the API composes. Sessions, Limiter,
// Secrets and Ledger are required.
type Deps struct {
	Sessions *session.Authenticator
	Limiter  *ratelimit.Limiter
	Lockout  *ratelimit.Lockout
	Secrets  SecretManager
	Ledger   *ledger.Service
	History  *history.Store
	// Repo stores the audit trail. Without it audit events are only logged.
	Repo     storage.Repository
	Breakers map[string]BreakerStater
	Metrics  *Metrics
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions *session.Authenticator
	limiter  *ratelimit.Limiter
	lockout  *ratelimit.Lockout
	secrets  SecretManager
	ledger   *ledger.Service
	history  *history.Store
	breakers map[string]BreakerStater
	metrics  *Metrics
	audit    *auditLogger
	logger   *slog.Logger

	allowedOrigins map[string]bool
	trustedProxies []netip.Prefix
	cookieInsecure bool
	demoFallback   bool
	alertFn        AlertFunc
	version        string
	now            func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for requests and audit events.
// If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithAllowedOrigins sets the CORS allow list. Origins are compared
// exactly; "*" is not supported.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		a.allowedOrigins = make(map[string]bool, len(origins))
		for _, o := range origins {
			if o != "" && o != "*" {
				a.allowedOrigins[o] = true
			}
		}
	}
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// honored when determining the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithCookieInsecure drops the Secure attribute from session cookies. Only
// for plain-HTTP development setups.
func WithCookieInsecure(insecure bool) Option {
	return func(a *API) { a.cookieInsecure = insecure }
}

// WithDemoFallback serves labeled demo data when the banking credential
// cannot be resolved.
func WithDemoFallback(enabled bool) Option {
	return func(a *API) { a.demoFallback = enabled }
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API instance.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		lockout:  deps.Lockout,
		secrets:  deps.Secrets,
		ledger:   deps.Ledger,
		history:  deps.History,
		breakers: deps.Breakers,
		metrics:  deps.Metrics,
		version:  "dev",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.lockout == nil {
		a.lockout = ratelimit.NewLockout()
	}
	a.audit = newAuditLogger(a.logger, deps.Repo, a.metrics)
	a.audit.spikes = newLoginSpikeDetector(a.alertFn, a.now)
	return a
}

// Router returns a chi.Router with all API routes mounted. The router is
// meant to be mounted under /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.SecurityHeaders)
	r.Use(a.CORS)
	r.Use(a.RequestLogger)

	r.Get("/health", a.Health)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(a.RateLimit)
		r.Post("/auth/login", a.Login)
		r.Get("/demo-data", a.DemoData)

		r.Group(func(r chi.Router) {
			r.Use(a.AuthMiddleware)
			r.Post("/auth/logout", a.Logout)
			r.Get("/transactions", a.Transactions)
			r.Get("/accounts", a.Accounts)
			r.Get("/statistics", a.Statistics)
			r.Get("/history", a.History)
			r.Post("/admin/reinitialize", a.Reinitialize)
			r.Get("/admin/status", a.Status)
			r.Get("/admin/audit", a.AuditLog)
		})
	})

	return r
}
