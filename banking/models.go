package banking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ID accepts both JSON strings and numbers; upstream payment IDs are numeric.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Amount is a decimal string plus ISO 4217 code, as sent upstream.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Account struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
	Balance     Amount `json:"balance"`
	Status      string `json:"status"`
}

type Counterparty struct {
	DisplayName string `json:"display_name"`
}

type Payment struct {
	ID                ID           `json:"id"`
	Created           Timestamp    `json:"created"`
	Amount            Amount       `json:"amount"`
	Description       string       `json:"description"`
	Counterparty      Counterparty `json:"counterparty"`
	MerchantReference string       `json:"merchant_reference"`
	Type              string       `json:"type"`
}

// Timestamp parses RFC 3339 as well as the "2006-01-02 15:04:05.000000"
// form the banking API uses, which is UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Time.UTC().Format(time.RFC3339Nano))
}

// DateRange is inclusive at both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// LastDays is the range covering the days before now, starting at midnight UTC.
func LastDays(now time.Time, days int) DateRange {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
	return DateRange{From: start, To: now}
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Page is one upstream page of payments for one account, already limited
// to the requested range.
type Page struct {
	AccountID   string
	AccountName string
	Number      int
	Payments    []Payment
}

type accountList struct {
	Data []Account `json:"data"`
}

type paymentList struct {
	Data       []Payment `json:"data"`
	Pagination struct {
		OlderCursor string `json:"older_cursor"`
	} `json:"pagination"`
}
