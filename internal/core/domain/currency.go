package domain

import (
	"strings"

	"sweepstakes-wallet/pkg/apperror"
)

// Currency is one of the two virtual currencies held in every wallet.
type Currency string

const (
	// CurrencyGold is purchased play currency. It can never be redeemed.
	CurrencyGold Currency = "GOLD"
	// CurrencySweeps is promotional or AMOE currency, redeemable for prizes.
	CurrencySweeps Currency = "SWEEPS"
)

// Currencies lists every supported currency in a stable order.
var Currencies = []Currency{CurrencyGold, CurrencySweeps}

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	return c == CurrencyGold || c == CurrencySweeps
}

// Withdrawable reports whether balances in c may leave the platform.
func (c Currency) Withdrawable() bool {
	return c == CurrencySweeps
}

// ParseCurrency accepts the currency code case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperror.ErrInvalidOperation("unsupported currency " + s)
	}
	return c, nil
}
