package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency symbol placements understood by Price.
const (
	PositionLeft       = "left"
	PositionRight      = "right"
	PositionLeftSpace  = "left_space"
	PositionRightSpace = "right_space"
)

// PriceFormat carries the shop's currency display rules.
type PriceFormat struct {
	Decimals          int
	DecimalSeparator  string
	ThousandSeparator string
	Symbol            string
	Position          string
}

// Price renders amount using the shop rules.
// Example: Price(1234.56, {2, ".", ",", "$", "left"}) => "$1,234.56"
func Price(amount decimal.Decimal, f PriceFormat) string {
	decimals := f.Decimals
	if decimals < 0 {
		decimals = 0
	}
	fixed := amount.Abs().StringFixed(int32(decimals))

	head, tail, hasTail := strings.Cut(fixed, ".")
	number := thousandSep(head, f.ThousandSeparator)
	if hasTail {
		number += f.DecimalSeparator + tail
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}

	switch f.Position {
	case PositionRight:
		return sign + number + f.Symbol
	case PositionLeftSpace:
		return sign + f.Symbol + " " + number
	case PositionRightSpace:
		return sign + number + " " + f.Symbol
	default:
		return sign + f.Symbol + number
	}
}

// PriceFloat is Price for float inputs.
func PriceFloat(amount float64, f PriceFormat) string {
	return Price(decimal.NewFromFloat(amount), f)
}

// thousandSep groups an unsigned digit string by three from the right.
func thousandSep(digits, sep string) string {
	if sep == "" || len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	for i, c := range digits {
		if i != 0 && (len(digits)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(c)
	}
	return b.String()
}
