package ledger

import "github.com/shopspring/decimal"

// Statistics are EUR aggregates over a period. Money values are minor units.
// Transactions without an EUR amount are counted in Excluded and left out
// of every sum.
type Statistics struct {
	PeriodDays        int              `json:"period_days"`
	TotalTransactions int              `json:"total_transactions"`
	Income            int64            `json:"income"`
	Expenses          int64            `json:"expenses"`
	NetSavings        int64            `json:"net_savings"`
	SavingsRate       float64          `json:"savings_rate"`
	Categories        map[string]int64 `json:"categories"`
	AvgDailyExpenses  int64            `json:"avg_daily_expenses"`
	Excluded          int              `json:"excluded"`
}

// Summarize computes Statistics for txs over a period of days.
func Summarize(txs []Transaction, days int) Statistics {
	st := Statistics{
		PeriodDays:        days,
		TotalTransactions: len(txs),
		Categories:        map[string]int64{},
	}
	for _, tx := range txs {
		eur, ok := tx.EUR()
		if !ok {
			st.Excluded++
			continue
		}
		switch {
		case eur > 0:
			st.Income += eur
		case eur < 0:
			st.Expenses -= eur
			st.Categories[tx.Category] -= eur
		}
	}
	st.NetSavings = st.Income - st.Expenses

	if st.Income > 0 {
		rate := decimal.NewFromInt(st.NetSavings).
			Div(decimal.NewFromInt(st.Income)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		st.SavingsRate = rate.InexactFloat64()
	}
	if days > 0 {
		st.AvgDailyExpenses = decimal.NewFromInt(st.Expenses).
			Div(decimal.NewFromInt(int64(days))).
			RoundBank(0).
			IntPart()
	}
	return st
}
