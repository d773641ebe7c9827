// Package models defines data structures for the bulletin scraper.
package models

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// PositionedToken is one visual text fragment on a PDF page, as emitted
// by the PDF text layer. Tokens arrive in emission order, which is not
// guaranteed to be reading order.
type PositionedToken struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Width float64 `json:"width"`
	Text  string  `json:"text"`
}

// RateRow holds the six quoted values for one currency on one bulletin
// date: the foreign-pair bid/ask/mid followed by the ZWG-denominated
// bid/ask/mid.
type RateRow struct {
	Currency string          `csv:"currency" json:"currency"`
	Bid      decimal.Decimal `csv:"bid" json:"bid"`
	Ask      decimal.Decimal `csv:"ask" json:"ask"`
	Mid      decimal.Decimal `csv:"mid_rate" json:"mid_rate"`
	BidZWG   decimal.Decimal `csv:"bid_zwg" json:"bid_zwg"`
	AskZWG   decimal.Decimal `csv:"ask_zwg" json:"ask_zwg"`
	MidZWG   decimal.Decimal `csv:"mid_zwg" json:"mid_zwg"`
	Date     civil.Date      `csv:"date" json:"date"`
}

// ExtractionResult is the outcome of a single day's extraction. Either
// Rows is populated (success) or Reason carries the failure message.
// The orchestrator always returns one of the two; it never lets an
// error escape to the caller.
type ExtractionResult struct {
	Date   civil.Date         `json:"date"`
	Rows   map[string]RateRow `json:"rows,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// OK reports whether the extraction produced rows.
func (r ExtractionResult) OK() bool { return r.Reason == "" }

// Success builds a successful result for date.
func Success(date civil.Date, rows map[string]RateRow) ExtractionResult {
	return ExtractionResult{Date: date, Rows: rows}
}

// Failure builds a failed result for date.
func Failure(date civil.Date, reason string) ExtractionResult {
	return ExtractionResult{Date: date, Reason: reason}
}

// MonthKey is the cache key for a month page URL, e.g. "2-2017".
func MonthKey(month, year int) string {
	return fmt.Sprintf("%d-%d", month, year)
}
