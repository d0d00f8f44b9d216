package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jmcleod/bankgate/banking"
	"github.com/jmcleod/bankgate/fx"
)

// Converter is the FX dependency of the normalizer.
type Converter interface {
	Convert(ctx context.Context, amount fx.Money, on time.Time) (int64, fx.Rate, error)
}

// Normalizer maps upstream payments onto Transactions.
type Normalizer struct {
	conv   Converter
	logger *slog.Logger
}

func NewNormalizer(conv Converter, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{conv: conv, logger: logger}
}

// Page converts every payment in p. Payments with unparseable amounts are
// skipped and logged. A missing FX rate flags the transaction instead of
// failing the page; any other conversion error aborts.
func (n *Normalizer) Page(ctx context.Context, p banking.Page) ([]Transaction, error) {
	out := make([]Transaction, 0, len(p.Payments))
	for _, pay := range p.Payments {
		tx, ok, err := n.payment(ctx, p, pay)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (n *Normalizer) payment(ctx context.Context, p banking.Page, pay banking.Payment) (Transaction, bool, error) {
	currency, err := fx.NormalizeCurrency(pay.Amount.Currency)
	if err != nil {
		n.logger.Warn("skipping payment with invalid currency", "payment_id", string(pay.ID), "account_id", p.AccountID)
		return Transaction{}, false, nil
	}
	minor, err := fx.ParseMinor(pay.Amount.Value, currency)
	if err != nil {
		n.logger.Warn("skipping payment with invalid amount", "payment_id", string(pay.ID), "account_id", p.AccountID)
		return Transaction{}, false, nil
	}

	counterparty := strings.TrimSpace(pay.Counterparty.DisplayName)
	if counterparty == "" {
		counterparty = "Unknown"
	}
	tx := Transaction{
		ID:           string(pay.ID),
		AccountID:    p.AccountID,
		AccountName:  p.AccountName,
		Date:         pay.Created.UTC(),
		Amount:       minor,
		Currency:     currency,
		Category:     Categorize(pay.Description, pay.Counterparty.DisplayName),
		Merchant:     pay.MerchantReference,
		Counterparty: counterparty,
		Description:  pay.Description,
		Type:         pay.Type,
	}

	eur, rate, err := n.conv.Convert(ctx, fx.Money{Minor: minor, Currency: currency}, tx.Date)
	switch {
	case err == nil:
		tx.AmountEUR = eurPtr(eur)
		tx.FXRate = rate.Value.String()
		tx.FXRateDate = rate.AsOf
	case errors.Is(err, fx.ErrConversionUnavailable):
		tx.FXUnavailable = true
		n.logger.Warn("fx rate unavailable",
			"payment_id", tx.ID,
			"currency", currency,
			"date", fx.Day(tx.Date),
		)
	default:
		return Transaction{}, false, err
	}
	return tx, true, nil
}

// Account converts an upstream account's balance.
func (n *Normalizer) Account(ctx context.Context, a banking.Account, now time.Time) (Account, error) {
	currency := a.Balance.Currency
	if currency == "" {
		currency = a.Currency
	}
	out := Account{ID: string(a.ID), Description: a.Description, Status: a.Status}
	currency, err := fx.NormalizeCurrency(currency)
	if err != nil {
		out.FXUnavailable = true
		return out, nil
	}
	out.Currency = currency
	minor, err := fx.ParseMinor(a.Balance.Value, currency)
	if err != nil {
		out.FXUnavailable = true
		return out, nil
	}
	out.Balance = minor

	eur, _, err := n.conv.Convert(ctx, fx.Money{Minor: minor, Currency: currency}, now)
	switch {
	case err == nil:
		out.BalanceEUR = eurPtr(eur)
	case errors.Is(err, fx.ErrConversionUnavailable):
		out.FXUnavailable = true
	default:
		return Account{}, err
	}
	return out, nil
}
