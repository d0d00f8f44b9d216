package api

import (
	"time"

	"github.com/jmcleod/bankgate/history"
	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/secret"
)

const (
	dataSourceLive = "live"
	dataSourceDemo = "demo"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the CSRF token the client must echo in the
// X-CSRF-Token header of every authenticated request.
type LoginResponse struct {
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TransactionsResponse is returned from GET /transactions and GET /demo-data.
type TransactionsResponse struct {
	DataSource   string               `json:"data_source"`
	Reason       string               `json:"reason,omitempty"`
	Cached       bool                 `json:"cached"`
	Days         int                  `json:"days"`
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	Count        int                  `json:"count"`
	Transactions []ledger.Transaction `json:"transactions"`
}

type AccountsResponse struct {
	Cached   bool             `json:"cached"`
	Accounts []ledger.Account `json:"accounts"`
}

type StatisticsResponse struct {
	DataSource string            `json:"data_source"`
	Reason     string            `json:"reason,omitempty"`
	Cached     bool              `json:"cached"`
	Statistics ledger.Statistics `json:"statistics"`
}

type HistoryResponse struct {
	Records []history.Record `json:"records"`
	PaginationMeta
}

type StatusResponse struct {
	Secret         secret.Status     `json:"secret"`
	Caches         map[string]int    `json:"caches"`
	ActiveSessions int               `json:"active_sessions"`
	RateLimitKeys  int               `json:"rate_limit_keys"`
	Breakers       map[string]string `json:"breakers"`
	DemoFallback   bool              `json:"demo_fallback"`
	LoginEnabled   bool              `json:"login_enabled"`
}

type AuditListResponse struct {
	Entries []AuditEntry `json:"entries"`
	PaginationMeta
}

type ReinitializeResponse struct {
	Status string `json:"status"`
}
