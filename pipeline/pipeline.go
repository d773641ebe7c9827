// Package pipeline orchestrates single-day and multi-day extractions:
// resolve the bulletin URL, download the PDF, read its tokens and
// reconstruct the rate table. One day's chain runs under a wall-clock
// budget and always yields a result, never an error; batches run the
// days strictly one after another, since the upstream site throttles
// concurrent clients.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"

	"github.com/zimrates/rbzfx/config"
	"github.com/zimrates/rbzfx/extract"
	"github.com/zimrates/rbzfx/fetch"
	"github.com/zimrates/rbzfx/models"
)

// Resolver locates archive pages and bulletin links.
type Resolver interface {
	MonthPageURL(ctx context.Context, month time.Month, year int) (string, error)
	DailyPDFURL(ctx context.Context, monthURL string, date civil.Date) (string, error)
}

// Downloader fetches a bulletin PDF to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// Runner drives extractions end to end.
type Runner struct {
	cfg      *config.Config
	resolver Resolver
	download Downloader
	source   extract.TokenSource
	metrics  *fetch.Metrics
}

// New assembles a runner from its collaborators. metrics may be nil.
func New(cfg *config.Config, resolver Resolver, download Downloader, source extract.TokenSource, metrics *fetch.Metrics) *Runner {
	return &Runner{cfg: cfg, resolver: resolver, download: download, source: source, metrics: metrics}
}

// Extract runs the full chain for one date under the extraction
// timeout. Failures of any step, including the timeout itself, are
// folded into the result's Reason; the caller never sees an error.
func (r *Runner) Extract(ctx context.Context, date civil.Date) models.ExtractionResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ExtractionTimeout)
	defer cancel()

	results := make(chan models.ExtractionResult, 1)
	go func() {
		results <- r.extractDay(ctx, date)
	}()

	var result models.ExtractionResult
	select {
	case result = <-results:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = models.Failure(date, fmt.Sprintf("extraction timed out after %s", r.cfg.ExtractionTimeout))
		} else {
			result = models.Failure(date, ctx.Err().Error())
		}
	}

	if result.OK() {
		r.metrics.IncExtraction("success")
		slog.Info("extraction succeeded",
			slog.String("date", date.String()),
			slog.Int("currencies", len(result.Rows)),
		)
	} else {
		r.metrics.IncExtraction("failure")
		slog.Warn("extraction failed",
			slog.String("date", date.String()),
			slog.String("reason", result.Reason),
		)
	}
	return result
}

// RunBatch extracts every date from first to last inclusive, in
// ascending order, one day at a time. Each day's outcome lands in the
// returned slice in date order; a failed day never stops the batch.
func (r *Runner) RunBatch(ctx context.Context, first, last civil.Date) []models.ExtractionResult {
	var results []models.ExtractionResult
	for date := first; !date.After(last); date = date.AddDays(1) {
		results = append(results, r.Extract(ctx, date))
	}
	return results
}

func (r *Runner) extractDay(ctx context.Context, date civil.Date) models.ExtractionResult {
	monthURL, err := r.resolver.MonthPageURL(ctx, date.Month, date.Year)
	if err != nil {
		return models.Failure(date, fmt.Sprintf("resolve month page: %v", err))
	}

	pdfURL, err := r.resolver.DailyPDFURL(ctx, monthURL, date)
	if err != nil {
		return models.Failure(date, fmt.Sprintf("resolve daily bulletin: %v", err))
	}

	path, err := r.fetchPDF(ctx, pdfURL, date)
	if err != nil {
		return models.Failure(date, fmt.Sprintf("download bulletin: %v", err))
	}
	if !r.cfg.KeepDownloads {
		defer os.Remove(path)
	}

	tokens, err := r.source.Tokens(ctx, path)
	if err != nil {
		return models.Failure(date, fmt.Sprintf("read bulletin tokens: %v", err))
	}

	rows, err := extract.Reconstruct(tokens, date)
	if err != nil {
		return models.Failure(date, fmt.Sprintf("reconstruct rate table: %v", err))
	}
	if len(rows) == 0 {
		return models.Failure(date, "bulletin produced no complete rate rows")
	}
	return models.Success(date, rows)
}

// fetchPDF downloads the bulletin unless a previous run already left it
// on disk and downloads are kept.
func (r *Runner) fetchPDF(ctx context.Context, pdfURL string, date civil.Date) (string, error) {
	dest := filepath.Join(r.cfg.PDFDir, fmt.Sprintf("rates_%s.pdf", date.String()))

	if r.cfg.KeepDownloads {
		if _, err := os.Stat(dest); err == nil {
			slog.Debug("reusing downloaded bulletin", slog.String("path", dest))
			return dest, nil
		}
	}
	if err := r.download.Download(ctx, pdfURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}
