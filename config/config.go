// Package config holds runtime configuration for the scraper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL      string // site origin, relative links resolve against it
	RatesPath    string // path of the exchange-rates archive index
	ArchiveQuery string // POST body requesting the unpaginated archive listing

	Timeout           time.Duration // per-request budget, fatal on expiry
	ExtractionTimeout time.Duration // wall-clock budget for one day's chain
	MaxRetries        int           // DNS-failure retries per request
	RetryBackoff      time.Duration // base backoff, doubled per attempt
	RetryJitter       time.Duration // random addition per backoff step
	DayFallback       int           // how many prior days to try for missing bulletins

	PDFDir        string // where downloaded bulletins land
	KeepDownloads bool   // skip re-downloading an existing bulletin
	FixtureTokens string // JSON token dump; replaces the live PDF token source
	CacheSize     int    // month-URL entries kept by the in-memory cache

	OutputFile   string
	OutputFormat string // csv, json, or dual
	DatabaseURL  string // optional; enables the Postgres store
	MetricsAddr  string // optional Prometheus listen address
	Schedule     string // cron spec for schedule mode
	Verbose      bool
}

// DefaultConfig returns the defaults for the RBZ archive.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://www.rbz.co.zw",
		RatesPath:         "/index.php/research/markets/exchange-rates",
		ArchiveQuery:      "filter-search=&month=&year=&limit=0&view=archive&option=com_content&limitstart=0",
		Timeout:           10 * time.Second,
		ExtractionTimeout: 20 * time.Second,
		MaxRetries:        5,
		RetryBackoff:      time.Second,
		RetryJitter:       time.Second,
		DayFallback:       4,
		PDFDir:            "downloads",
		KeepDownloads:     true,
		CacheSize:         256,
		OutputFile:        "output/rates.csv",
		OutputFormat:      "csv",
		Schedule:          "30 8 * * 1-5",
	}
}

// ArchiveURL is the absolute URL of the archive index page.
func (c *Config) ArchiveURL() string {
	return c.BaseURL + c.RatesPath
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.RatesPath == "" {
		return fmt.Errorf("rates path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryJitter < 0 {
		return fmt.Errorf("retry jitter cannot be negative")
	}
	if c.DayFallback < 0 {
		return fmt.Errorf("day fallback cannot be negative")
	}
	if c.PDFDir == "" {
		return fmt.Errorf("pdf dir cannot be empty")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}

// EnvString reads an environment variable, reporting whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	return value, ok
}

// EnvInt reads an integer environment variable.
func EnvInt(key string) (int, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, true, nil
}
