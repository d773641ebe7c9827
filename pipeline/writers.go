package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zimrates/rbzfx/config"
	"github.com/zimrates/rbzfx/models"
)

// Writer persists extracted rate rows.
type Writer interface {
	Write(rows []models.RateRow) error
}

var csvHeader = []string{"currency", "bid", "ask", "mid_rate", "bid_zwg", "ask_zwg", "mid_zwg", "date"}

// CSVWriter writes rows as CSV, one file per run.
type CSVWriter struct {
	Path string
}

func (w *CSVWriter) Write(rows []models.RateRow) error {
	f, err := createOutput(w.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Currency,
			row.Bid.String(),
			row.Ask.String(),
			row.Mid.String(),
			row.BidZWG.String(),
			row.AskZWG.String(),
			row.MidZWG.String(),
			row.Date.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSONWriter writes rows as an indented JSON array.
type JSONWriter struct {
	Path string
}

func (w *JSONWriter) Write(rows []models.RateRow) error {
	f, err := createOutput(w.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}

// ForFormat builds the writer the configuration asks for. The dual
// format writes sibling .csv and .json files next to the configured
// output path.
func ForFormat(cfg *config.Config) (Writer, error) {
	switch cfg.OutputFormat {
	case "csv":
		return &CSVWriter{Path: cfg.OutputFile}, nil
	case "json":
		return &JSONWriter{Path: cfg.OutputFile}, nil
	case "dual":
		stem := strings.TrimSuffix(cfg.OutputFile, filepath.Ext(cfg.OutputFile))
		return NewDualWriter(
			&CSVWriter{Path: stem + ".csv"},
			&JSONWriter{Path: stem + ".json"},
		), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.OutputFormat)
	}
}

// Rows flattens successful results into rows ordered by date, then
// currency, which keeps output files and database inserts
// chronological.
func Rows(results []models.ExtractionResult) []models.RateRow {
	var rows []models.RateRow
	for _, result := range results {
		if !result.OK() {
			continue
		}
		for _, row := range result.Rows {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].Currency < rows[j].Currency
	})
	return rows
}

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}
