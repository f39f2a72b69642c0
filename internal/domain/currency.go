package domain

import "strings"

var minorUnits = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"OMR": 3,
	"PYG": 0,
	"VND": 0,
}

// CurrencyPrecision returns the number of minor-unit digits for an ISO-4217 code.
func CurrencyPrecision(currency string) int32 {
	if places, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return places
	}
	return 2
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency reports whether currency looks like an ISO-4217 alpha code.
func ValidCurrency(currency string) bool {
	code := NormalizeCurrency(currency)
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
