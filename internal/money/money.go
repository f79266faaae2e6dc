// Package money renders minor-unit amounts for API responses.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"JPY": true, "KRW": true, "XAF": true, "XOF": true, "CLP": true, "VND": true,
}

// Exponent returns the number of minor-unit digits of currency.
func Exponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// Format renders minor units as a fixed-point string, e.g. 2050 USD -> "20.50".
func Format(minor int64, currency string) string {
	exp := Exponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

// Amount is the JSON shape of a monetary value.
type Amount struct {
	Minor    int64  `json:"minor"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

// NewAmount builds the response shape for minor units of currency.
func NewAmount(minor int64, currency string) Amount {
	return Amount{Minor: minor, Display: Format(minor, currency), Currency: strings.ToUpper(currency)}
}
