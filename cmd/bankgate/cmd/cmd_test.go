package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/bankgate/history"
	"github.com/jmcleod/bankgate/internal/config"
	"github.com/jmcleod/bankgate/internal/logging"
	"github.com/jmcleod/bankgate/ledger"
	bboltstorage "github.com/jmcleod/bankgate/storage/bbolt"
)

func TestFlagOverridesOnlyChangedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("listen", ":5000", "")
	fs.String("data-dir", "./data", "")
	fs.Bool("demo-fallback", false, "")
	fs.String("unrelated", "", "")
	require.NoError(t, fs.Parse([]string{"--data-dir", "/tmp/bg", "--demo-fallback", "--unrelated", "x"}))

	got := flagOverrides(fs)
	assert.Equal(t, map[string]any{
		"data_dir":      "/tmp/bg",
		"demo.fallback": "true",
	}, got)
}

func seedHistory(t *testing.T, path string) {
	t.Helper()
	repo, err := bboltstorage.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer repo.Close()

	eur := int64(-7500)
	day := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	_, err = history.New(repo).Append(context.Background(), []ledger.Transaction{
		{ID: "101", AccountName: "Main", Date: day, Amount: -7500, Currency: "EUR", AmountEUR: &eur,
			Category: ledger.CategoryGroceries, Counterparty: "Albert Heijn"},
		{ID: "102", AccountName: "Main", Date: day.Add(-24 * time.Hour), Amount: -10000, Currency: "USD",
			FXUnavailable: true, Category: ledger.CategoryOther, Counterparty: "Acme Inc"},
	})
	require.NoError(t, err)
}

func TestListHistoryTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), historyFile)
	seedHistory(t, path)

	var out bytes.Buffer
	require.NoError(t, listHistory(&out, path, 10, 0, false))

	s := out.String()
	assert.Contains(t, s, "DATE")
	assert.Contains(t, s, "2024-04-02")
	assert.Contains(t, s, "-75.00 EUR")
	assert.Contains(t, s, "Albert Heijn")
	assert.Contains(t, s, "n/a")
	assert.Contains(t, s, "2 of 2 records")
}

func TestListHistoryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), historyFile)
	seedHistory(t, path)

	var out bytes.Buffer
	require.NoError(t, listHistory(&out, path, 1, 1, true))

	var page history.Page
	require.NoError(t, json.Unmarshal(out.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "102", page.Records[0].ID)
}

func TestListHistoryMissingFile(t *testing.T) {
	err := listHistory(&bytes.Buffer{}, filepath.Join(t.TempDir(), "nope.db"), 10, 0, false)
	assert.Error(t, err)
}

func TestBuildHandlerServesHealthAndMetrics(t *testing.T) {
	cfg, err := config.Load("", map[string]any{
		"data_dir":          t.TempDir(),
		"operator.password": "operator-pass",
		"secret.fallback":   "api-key",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, cleanup, err := buildHandler(ctx, cfg, logging.New(logging.Config{Output: &bytes.Buffer{}}))
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bankgate_circuit_state{breaker="banking"}`)
	assert.Contains(t, rec.Body.String(), "bankgate_active_sessions")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
