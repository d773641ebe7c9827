// Package resolver locates the daily bulletin PDF for a given date. The
// upstream site publishes one archive page listing month pages, and each
// month page lists one PDF link per business day. Resolution is a
// two-step lookup: month key to month page URL (cached), then day number
// to PDF link within that page.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/zimrates/rbzfx/config"
	"github.com/zimrates/rbzfx/models"
)

// Fetcher is the HTTP surface the resolver needs. *fetch.Client
// satisfies it; tests substitute canned fixtures.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	PostForm(ctx context.Context, url, body string) ([]byte, error)
}

// NotFoundError reports that the archive or a month page holds no entry
// for the requested month or day.
type NotFoundError struct {
	What string
	Key  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no %s found for %s", e.What, e.Key)
}

// Resolver navigates the bulletin archive.
type Resolver struct {
	cfg     *config.Config
	fetcher Fetcher
	cache   Cache
}

// New builds a resolver over the given fetcher and month cache.
func New(cfg *config.Config, fetcher Fetcher, cache Cache) *Resolver {
	return &Resolver{cfg: cfg, fetcher: fetcher, cache: cache}
}

// MonthPageURL resolves the archive page URL for a month. Results are
// cached under the "{month}-{year}" key; a hit skips the archive fetch
// entirely.
func (r *Resolver) MonthPageURL(ctx context.Context, month time.Month, year int) (string, error) {
	key := models.MonthKey(int(month), year)

	if cached, ok, err := r.cache.Get(ctx, key); err != nil {
		return "", fmt.Errorf("month cache lookup: %w", err)
	} else if ok {
		slog.Debug("month page cache hit", slog.String("month", key))
		return cached, nil
	}

	body, err := r.fetcher.PostForm(ctx, r.cfg.ArchiveURL(), r.cfg.ArchiveQuery)
	if err != nil {
		return "", fmt.Errorf("fetch archive page: %w", err)
	}

	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse archive page: %w", err)
	}

	headings := htmlquery.Find(doc, "//div[contains(@class,'page-header')]//h2//a")
	if len(headings) == 0 {
		return "", fmt.Errorf("archive page has no month headings, layout may have changed")
	}

	for _, heading := range headings {
		label := strings.TrimSpace(htmlquery.InnerText(heading))
		headingMonth, headingYear, ok := parseHeading(label)
		if !ok {
			slog.Warn("skipping unparseable archive heading", slog.String("heading", label))
			continue
		}
		if headingMonth != month || headingYear != year {
			continue
		}

		resolved, err := r.absolute(htmlquery.SelectAttr(heading, "href"))
		if err != nil {
			return "", fmt.Errorf("resolve month page link: %w", err)
		}
		if err := r.cache.Put(ctx, key, resolved); err != nil {
			slog.Warn("caching month page failed", slog.String("month", key), slog.Any("error", err))
		}
		return resolved, nil
	}

	return "", NotFoundError{What: "month page", Key: key}
}

// DailyPDFURL finds the bulletin PDF link for date on its month page.
// Weekends and holidays have no bulletin, so when the exact day is
// missing the search walks backwards one day at a time, up to the
// configured fallback budget and never below day 1. The month page is
// fetched once and rescanned per candidate day.
func (r *Resolver) DailyPDFURL(ctx context.Context, monthURL string, date civil.Date) (string, error) {
	body, err := r.fetcher.Get(ctx, monthURL)
	if err != nil {
		return "", fmt.Errorf("fetch month page: %w", err)
	}

	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse month page: %w", err)
	}

	lowest := date.Day - r.cfg.DayFallback
	if lowest < 1 {
		lowest = 1
	}
	for day := date.Day; day >= lowest; day-- {
		href, ok := findDayLink(doc, day)
		if !ok {
			continue
		}
		if day != date.Day {
			slog.Warn("bulletin missing for requested day, using earlier one",
				slog.String("date", date.String()),
				slog.Int("used_day", day),
			)
		}
		return r.absolute(href)
	}

	return "", NotFoundError{What: "daily bulletin", Key: date.String()}
}

// WarmCache preloads the month cache, typically from rows persisted by
// a previous run.
func (r *Resolver) WarmCache(ctx context.Context, entries map[string]string) error {
	for key, url := range entries {
		if err := r.cache.Put(ctx, key, url); err != nil {
			return fmt.Errorf("warm cache entry %s: %w", key, err)
		}
	}
	return nil
}

// headingRe matches archive heading text like "February 2017".
var headingRe = regexp.MustCompile(`^([A-Za-z]+)\s+(\d{4})$`)

var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// parseHeading reads a month and year from an archive heading. Month
// names match case-insensitively, since the site has been inconsistent
// about capitalisation over the years.
func parseHeading(label string) (time.Month, int, bool) {
	groups := headingRe.FindStringSubmatch(label)
	if groups == nil {
		return 0, 0, false
	}
	month, ok := monthsByName[strings.ToLower(groups[1])]
	if !ok {
		return 0, 0, false
	}
	year, err := strconv.Atoi(groups[2])
	if err != nil {
		return 0, 0, false
	}
	return month, year, true
}

// findDayLink scans the month page table for a row whose first cell is
// the day number and whose second cell links a PDF.
func findDayLink(doc *html.Node, day int) (string, bool) {
	want := strconv.Itoa(day)
	for _, row := range htmlquery.Find(doc, "//tbody//tr") {
		cells := htmlquery.Find(row, "./td")
		if len(cells) < 2 {
			continue
		}
		if strings.TrimSpace(htmlquery.InnerText(cells[0])) != want {
			continue
		}
		link := htmlquery.FindOne(cells[1], ".//a")
		if link == nil {
			continue
		}
		href := htmlquery.SelectAttr(link, "href")
		if !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			continue
		}
		return href, true
	}
	return "", false
}

// absolute resolves href against the configured base URL, since the
// site links month pages and PDFs with site-relative paths.
func (r *Resolver) absolute(href string) (string, error) {
	base, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
