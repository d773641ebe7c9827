package extract

import (
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zimrates/rbzfx/models"
)

// valuesPerRow is the number of columns a complete bulletin row
// carries: bid, ask and mid against USD, then the same three in ZWG.
const valuesPerRow = 6

// MalformedError reports a bulletin whose numeric values cannot be
// split evenly across the detected currencies, which means the page
// layout changed or a token was misread.
type MalformedError struct {
	Currencies int
	Values     int
}

func (e MalformedError) Error() string {
	return fmt.Sprintf("malformed bulletin: %d values do not divide across %d currencies", e.Values, e.Currencies)
}

// Reconstruct rebuilds the rate table for date from positioned PDF
// tokens. Two independent passes collect currency labels and numeric
// values in reading order; the values are then chunked per currency by
// count. Chunk sizes beyond valuesPerRow are tolerated (extra columns
// are ignored), shorter chunks are skipped with a warning.
func Reconstruct(tokens []models.PositionedToken, date civil.Date) (map[string]models.RateRow, error) {
	var currencies []string
	for _, token := range tokens {
		if code, ok := CurrencyCode(token.Text); ok {
			currencies = append(currencies, code)
		}
	}

	var values []decimal.Decimal
	for _, token := range tokens {
		if value, ok := ParseRate(token.Text); ok {
			values = append(values, value)
		}
	}

	if len(currencies) == 0 {
		return nil, MalformedError{Currencies: 0, Values: len(values)}
	}
	if len(values)%len(currencies) != 0 {
		return nil, MalformedError{Currencies: len(currencies), Values: len(values)}
	}

	perCurrency := len(values) / len(currencies)
	// Currencies with no values at all is layout drift, not a partial
	// bulletin; fail loudly rather than skipping every currency.
	if perCurrency == 0 {
		return nil, MalformedError{Currencies: len(currencies), Values: len(values)}
	}
	rows := make(map[string]models.RateRow, len(currencies))
	for i, currency := range currencies {
		chunk := values[i*perCurrency : (i+1)*perCurrency]
		if len(chunk) < valuesPerRow {
			slog.Warn("skipping currency with incomplete rate row",
				slog.String("currency", currency),
				slog.Int("values", len(chunk)),
			)
			continue
		}
		rows[currency] = models.RateRow{
			Currency: currency,
			Bid:      chunk[0],
			Ask:      chunk[1],
			Mid:      chunk[2],
			BidZWG:   chunk[3],
			AskZWG:   chunk[4],
			MidZWG:   chunk[5],
			Date:     date,
		}
	}
	return rows, nil
}
