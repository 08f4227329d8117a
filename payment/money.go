package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the fixed decimal precision amounts are normalized
// to: 1 currency unit = 10^6 minor units.
const AmountDecimals = 6

// CurrencySymbol prefixes every wire amount.
const CurrencySymbol = "$"

// ParseAmount converts a decimal currency string like "$5.00" into
// integer minor units at AmountDecimals precision ("$5.00" -> 5_000_000).
// Amounts must be non-negative and carry at most AmountDecimals decimal
// places.
func ParseAmount(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, CurrencySymbol)
	if trimmed == "" {
		return 0, fmt.Errorf("payment: empty amount %q", s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("payment: invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("payment: negative amount %q", s)
	}
	shifted := d.Shift(AmountDecimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("payment: amount %q has more than %d decimal places", s, AmountDecimals)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("payment: amount %q overflows", s)
	}
	return shifted.IntPart(), nil
}

// FormatAmount renders minor units back to the wire form. Canonical
// two-decimal inputs round-trip exactly: FormatAmount(ParseAmount("$5.00"))
// is "$5.00". Finer-grained amounts keep their full precision.
func FormatAmount(minor int64) string {
	d := decimal.New(minor, -AmountDecimals)
	if d.Round(2).Equal(d) {
		return CurrencySymbol + d.StringFixed(2)
	}
	return CurrencySymbol + d.String()
}
