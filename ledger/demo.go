package ledger

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/jmcleod/bankgate/fx"
	"github.com/jmcleod/bankgate/internal/uuid"
)

const (
	DemoAccountID   = "demo"
	demoAccountName = "Demo account"
	demoRent        = -85000
	demoSalary      = 280000
	demoEmployer    = "Werkgever B.V."
)

var demoMerchants = []struct {
	category  string
	merchants []string
}{
	{CategoryGroceries, []string{"Albert Heijn", "Jumbo", "Lidl"}},
	{CategoryDining, []string{"Starbucks", "Restaurant Plaza"}},
	{CategoryTransport, []string{"NS", "Shell"}},
	{CategoryHousing, []string{"Verhuurder B.V."}},
	{CategoryShopping, []string{"Bol.com", "Coolblue"}},
	{CategoryEntertainment, []string{"Netflix", "Spotify"}},
}

// Demo generates synthetic EUR transactions for the days before now:
// about three expenses per day plus a salary every 30 days. Output,
// including the IDs, depends only on seed and now.
func Demo(now time.Time, days int, seed uint64) []Transaction {
	if days <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	now = now.UTC()

	idPrefix := []string{DemoAccountID, strconv.FormatUint(seed, 10), strconv.FormatInt(now.Unix(), 10)}
	id := func(n int) string {
		return uuid.Derive(append(idPrefix, strconv.Itoa(n))...)
	}

	out := make([]Transaction, 0, days*3+days/30)
	for i := range days * 3 {
		group := demoMerchants[rng.IntN(len(demoMerchants))]
		merchant := group.merchants[rng.IntN(len(group.merchants))]
		amount := int64(demoRent)
		if group.category != CategoryHousing {
			amount = -int64(10+rng.IntN(91)) * 100
		}
		date := now.Add(-time.Duration(rng.Int64N(int64(days) * int64(24*time.Hour))))
		out = append(out, demoTransaction(id(i), date, amount, group.category, merchant, group.category+" - "+merchant))
	}
	for i := range days / 30 {
		date := now.AddDate(0, 0, -i*30)
		out = append(out, demoTransaction(id(days*3+i), date, demoSalary, CategorySalary, demoEmployer, "Salary"))
	}
	sortByDateDesc(out)
	return out
}

func demoTransaction(id string, date time.Time, amount int64, category, merchant, description string) Transaction {
	return Transaction{
		ID:           id,
		AccountID:    DemoAccountID,
		AccountName:  demoAccountName,
		Date:         date.Truncate(time.Second),
		Amount:       amount,
		Currency:     fx.EUR,
		AmountEUR:    eurPtr(amount),
		FXRate:       "1",
		Category:     category,
		Merchant:     merchant,
		Counterparty: merchant,
		Description:  description,
		Type:         "DEMO",
	}
}
