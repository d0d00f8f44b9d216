package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jmcleod/bankgate/banking"
	"github.com/jmcleod/bankgate/history"
	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/secret"
)

const demoReasonSecret = "secret_unavailable"

// Health handles GET /health. It reveals nothing about configuration.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   a.version,
		Timestamp: a.now().UTC(),
	})
}

// parseDays reads the days query parameter: default 90, valid 1..730.
func parseDays(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return ledger.DefaultDays, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > ledger.MaxDays {
		return 0, false
	}
	return n, true
}

func parseBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func writeBadDays(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, errBadRequest, "days must be between 1 and 730")
}

// demoAllowed reports whether err may be answered with demo data.
func (a *API) demoAllowed(err error) bool {
	return a.demoFallback && errors.Is(err, secret.ErrSecretUnavailable)
}

// Transactions handles GET /transactions.
func (a *API) Transactions(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(r)
	if !ok {
		writeBadDays(w)
		return
	}
	q := ledger.Query{
		Days:      days,
		AccountID: r.URL.Query().Get("account_id"),
		Refresh:   parseBool(r, "refresh"),
	}
	res, err := a.ledger.Transactions(r.Context(), q)
	if err != nil {
		if a.demoAllowed(err) {
			a.logger.Warn("serving demo transactions", "reason", demoReasonSecret)
			a.audit.log(AuditDemoServed, r, a.extractClientIP(r), demoReasonSecret)
			a.writeDemo(w, days, demoReasonSecret)
			return
		}
		a.mapError(w, r, err)
		return
	}
	txs := res.Transactions
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{
		DataSource:   dataSourceLive,
		Cached:       res.Cached,
		Days:         days,
		From:         res.From,
		To:           res.To,
		Count:        len(txs),
		Transactions: txs,
	})
}

func (a *API) writeDemo(w http.ResponseWriter, days int, reason string) {
	now := a.now().UTC()
	txs := ledger.Demo(now, days, uint64(now.UnixNano()))
	r := banking.LastDays(now, days)
	writeJSON(w, http.StatusOK, TransactionsResponse{
		DataSource:   dataSourceDemo,
		Reason:       reason,
		Days:         days,
		From:         r.From,
		To:           r.To,
		Count:        len(txs),
		Transactions: txs,
	})
}

// DemoData handles GET /demo-data. It needs no session but is rate
// limited like every other route.
func (a *API) DemoData(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(r)
	if !ok {
		writeBadDays(w)
		return
	}
	a.writeDemo(w, days, "")
}

// Accounts handles GET /accounts.
func (a *API) Accounts(w http.ResponseWriter, r *http.Request) {
	accts, cached, err := a.ledger.Accounts(r.Context(), parseBool(r, "refresh"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if accts == nil {
		accts = []ledger.Account{}
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Cached: cached, Accounts: accts})
}

// Statistics handles GET /statistics.
func (a *API) Statistics(w http.ResponseWriter, r *http.Request) {
	days, ok := parseDays(r)
	if !ok {
		writeBadDays(w)
		return
	}
	st, cached, err := a.ledger.Statistics(r.Context(), days, parseBool(r, "refresh"))
	if err != nil {
		if a.demoAllowed(err) {
			a.audit.log(AuditDemoServed, r, a.extractClientIP(r), demoReasonSecret)
			now := a.now().UTC()
			writeJSON(w, http.StatusOK, StatisticsResponse{
				DataSource: dataSourceDemo,
				Reason:     demoReasonSecret,
				Statistics: ledger.Summarize(ledger.Demo(now, days, uint64(now.UnixNano())), days),
			})
			return
		}
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatisticsResponse{
		DataSource: dataSourceLive,
		Cached:     cached,
		Statistics: st,
	})
}

// History handles GET /history.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	if a.history == nil {
		writeJSON(w, http.StatusOK, HistoryResponse{
			Records:        []history.Record{},
			PaginationMeta: paginationMeta(0, limit, offset, 0),
		})
		return
	}
	page, err := a.history.List(limit, offset)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Records:        page.Records,
		PaginationMeta: paginationMeta(page.Total, page.Limit, page.Offset, len(page.Records)),
	})
}

// Reinitialize handles POST /admin/reinitialize. The banking credential is
// re-resolved on next use and every cached aggregate is dropped.
func (a *API) Reinitialize(w http.ResponseWriter, r *http.Request) {
	a.secrets.Invalidate()
	a.ledger.Purge()
	a.audit.log(AuditReinitialize, r, a.extractClientIP(r), "")
	writeJSON(w, http.StatusOK, ReinitializeResponse{Status: "reinitialized"})
}

// Status handles GET /admin/status. It reports where the credential came
// from, never the credential.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]string, len(a.breakers))
	for name, b := range a.breakers {
		breakers[name] = b.BreakerState().String()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Secret:         a.secrets.Status(),
		Caches:         a.ledger.CacheSizes(),
		ActiveSessions: a.sessions.ActiveSessions(),
		RateLimitKeys:  a.limiter.Len(),
		Breakers:       breakers,
		DemoFallback:   a.demoFallback,
		LoginEnabled:   a.sessions.LoginEnabled(),
	})
}

// AuditLog handles GET /admin/audit.
func (a *API) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	var entries []AuditEntry
	if a.audit.trail != nil {
		var err error
		entries, err = a.audit.trail.list()
		if err != nil {
			a.mapError(w, r, err)
			return
		}
	}
	start, end, meta := paginateSlice(len(entries), limit, offset)
	page := entries[start:end]
	if page == nil {
		page = []AuditEntry{}
	}
	writeJSON(w, http.StatusOK, AuditListResponse{Entries: page, PaginationMeta: meta})
}
