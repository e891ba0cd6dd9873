package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// AmountToleranceCents is the largest accepted difference between a stored total
// and the sum of its line items.
const AmountToleranceCents int64 = 1

// DefaultCurrency is used when an order does not specify one.
const DefaultCurrency = "BRL"

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// AmountsMatch reports whether two cent amounts agree within the tolerance.
func AmountsMatch(a, b int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= AmountToleranceCents
}

// CentsToDecimal converts integer cents to the decimal unit used by provider APIs.
func CentsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

// DecimalToCents rounds a decimal amount to the nearest cent.
func DecimalToCents(value float64) int64 {
	if value < 0 {
		return -DecimalToCents(-value)
	}
	return int64(value*100 + 0.5)
}

// FormatBRL renders cents as a pt-BR currency string such as "R$ 1.234,50".
func FormatBRL(cents int64) string {
	return brPrinter.Sprintf("R$ %v", number.Decimal(CentsToDecimal(cents), number.Scale(2)))
}
