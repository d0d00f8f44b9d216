// Package ledger turns upstream payments into normalized EUR transactions
// and derives the dashboard aggregates from them.
package ledger

import "time"

// Transaction is a normalized payment. Amount is in minor units of
// Currency; AmountEUR is nil when no EUR rate could be established.
type Transaction struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	AccountName   string    `json:"account_name,omitempty"`
	Date          time.Time `json:"date"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	AmountEUR     *int64    `json:"amount_eur"`
	FXRate        string    `json:"fx_rate,omitempty"`
	FXRateDate    string    `json:"fx_rate_date,omitempty"`
	FXUnavailable bool      `json:"fx_unavailable,omitempty"`
	Category      string    `json:"category"`
	Merchant      string    `json:"merchant,omitempty"`
	Counterparty  string    `json:"counterparty"`
	Description   string    `json:"description"`
	Type          string    `json:"type,omitempty"`
}

// EUR returns the EUR amount and whether it is known.
func (t Transaction) EUR() (int64, bool) {
	if t.AmountEUR == nil {
		return 0, false
	}
	return *t.AmountEUR, true
}

// Account is an upstream account with its balance converted to EUR.
type Account struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	Balance       int64  `json:"balance"`
	Currency      string `json:"currency"`
	BalanceEUR    *int64 `json:"balance_eur"`
	FXUnavailable bool   `json:"fx_unavailable,omitempty"`
}

func eurPtr(v int64) *int64 { return &v }
