// Package currency parses caller amounts and normalizes them to USD, the
// only unit the ledger stores.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const USD = "USD"

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// ParseAmount parses a decimal string such as "100" or "12.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// Format renders an amount the way responses carry it: two fixed decimals.
func Format(d decimal.Decimal) string { return d.StringFixed(2) }

// Converter holds USD rates: one unit of the currency is worth rate USD.
type Converter struct {
	rates map[string]decimal.Decimal
}

func NewConverter(rates map[string]decimal.Decimal) *Converter {
	c := &Converter{rates: map[string]decimal.Decimal{USD: decimal.NewFromInt(1)}}
	for cur, r := range rates {
		c.rates[strings.ToUpper(strings.TrimSpace(cur))] = r
	}
	return c
}

// ParseRates reads "EUR=1.08,GBP=1.27". An empty string yields no rates.
func ParseRates(spec string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cur, rate, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("rate %q: want CUR=rate", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("rate %q: must be a positive number", part)
		}
		out[strings.ToUpper(strings.TrimSpace(cur))] = d
	}
	return out, nil
}

// ToUSD converts amount in currency cur to USD.
func (c *Converter) ToUSD(amount decimal.Decimal, cur string) (decimal.Decimal, error) {
	rate, ok := c.rates[strings.ToUpper(strings.TrimSpace(cur))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCurrency, cur)
	}
	return amount.Mul(rate), nil
}

func (c *Converter) Supports(cur string) bool {
	_, ok := c.rates[strings.ToUpper(strings.TrimSpace(cur))]
	return ok
}
