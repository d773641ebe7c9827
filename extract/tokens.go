// Package extract turns the positioned text of a daily bulletin PDF
// back into rate rows. The PDF has no table structure to read, only
// tokens with coordinates, so the table is reconstructed by counting:
// currencies and numeric values are collected in reading order and the
// values are dealt out evenly across the currencies.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyRe matches a decoded currency label: a three-letter ISO code,
// optionally a pair like "USD/ZWG".
var currencyRe = regexp.MustCompile(`^[A-Z]{3}(/[A-Z]+)?$`)

// ignoreRe matches table furniture that would otherwise look like a
// currency code. Checked against the raw, still URL-encoded token: in
// encoded pair labels such as "USD%2FZWG" the percent escape glues the
// words together, so headers match but pair labels don't.
var ignoreRe = regexp.MustCompile(`(?i)\b(BID|ASK|ZWG)\b`)

// DecodeText URL-decodes a token, returning the raw text unchanged when
// it is not valid percent-encoding.
func DecodeText(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// CurrencyCode reports whether a raw token is a currency label and
// returns its decoded form.
func CurrencyCode(raw string) (string, bool) {
	if strings.ContainsAny(raw, " \t\n") || strings.Contains(raw, "%20") {
		return "", false
	}
	if ignoreRe.MatchString(raw) {
		return "", false
	}
	decoded := DecodeText(raw)
	if !currencyRe.MatchString(decoded) {
		return "", false
	}
	return decoded, true
}

// ParseRate parses a raw token as a rate value. Thousands separators
// are stripped; zero and non-numeric tokens are rejected.
func ParseRate(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(DecodeText(raw), ",", "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil || value.IsZero() {
		return decimal.Zero, false
	}
	return value, true
}
