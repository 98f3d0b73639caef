// Package core provides amount parsing and direction handling.
//
// Amounts are signed decimals: expenses negative, inflows positive. The
// direction is enforced at ingestion by NormalizeDirection, never by storage.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for stored amounts.
const AmountScale = 2

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses the amount notations statement parsers emit.
//
// Examples:
//
//	ParseAmount("-45.23")     -> -45.23
//	ParseAmount("$1,234.50")  -> 1234.50
//	ParseAmount("(12.00)")    -> -12.00
//	ParseAmount("12.00 CR")   -> 12.00
//	ParseAmount("12.00 DR")   -> -12.00
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "CR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if s == "" || s == "-" || s == "+" {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if negative {
		d = d.Abs().Neg()
	}
	return d.Round(AmountScale), nil
}

// NormalizeDirection applies the sign convention for a transaction kind:
// expenses and fees are outflows, income and interest are inflows. Payments
// and transfers keep the sign the parser reported.
func NormalizeDirection(kind TransactionKind, amount decimal.Decimal) decimal.Decimal {
	switch kind {
	case KindExpense, KindFee:
		return amount.Abs().Neg()
	case KindIncome, KindInterest:
		return amount.Abs()
	}
	return amount
}

// AmountKey is the canonical text form used in the transaction uniqueness key.
func AmountKey(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}

// ExpenseMagnitude is the amount seen as money spent: positive for outflows.
// Rule amount ranges are evaluated against it.
func ExpenseMagnitude(amount decimal.Decimal) decimal.Decimal {
	return amount.Neg()
}
