package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/zimrates/rbzfx/config"
	"github.com/zimrates/rbzfx/extract"
	"github.com/zimrates/rbzfx/fetch"
	"github.com/zimrates/rbzfx/models"
	"github.com/zimrates/rbzfx/pipeline"
	"github.com/zimrates/rbzfx/resolver"
	"github.com/zimrates/rbzfx/store"
)

func main() {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	baseURLDefault := defaultCfg.BaseURL
	if value, ok := config.EnvString("RBZFX_BASE_URL"); ok {
		baseURLDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("RBZFX_OUTPUT"); ok {
		outputDefault = value
	}
	databaseDefault := ""
	if value, ok := config.EnvString("RBZFX_DATABASE_URL"); ok {
		databaseDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("RBZFX_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	retriesDefault := defaultCfg.MaxRetries
	if value, ok, err := config.EnvInt("RBZFX_MAX_RETRIES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid RBZFX_MAX_RETRIES: %v\n", err)
		os.Exit(1)
	} else if ok {
		retriesDefault = value
	}

	mode := flag.String("mode", "latest", "Run mode: latest, batch, or schedule")
	date := flag.String("date", "", "Bulletin date (YYYY-MM-DD, defaults to today)")
	from := flag.String("from", "", "First date of a batch run (YYYY-MM-DD)")
	to := flag.String("to", "", "Last date of a batch run (YYYY-MM-DD)")
	baseURL := flag.String("base-url", baseURLDefault, "Site origin to scrape")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	databaseURL := flag.String("database-url", databaseDefault, "Postgres DSN (empty disables persistence)")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	pdfDir := flag.String("pdf-dir", defaultCfg.PDFDir, "Directory for downloaded bulletins")
	keepDownloads := flag.Bool("keep-downloads", defaultCfg.KeepDownloads, "Keep downloaded bulletins for reuse")
	maxRetries := flag.Int("max-retries", retriesDefault, "DNS-failure retries per request")
	dayFallback := flag.Int("day-fallback", defaultCfg.DayFallback, "Prior days to try when a bulletin is missing")
	fixtureTokens := flag.String("fixture-tokens", "", "JSON token dump replacing the live PDF reader")
	schedule := flag.String("cron", defaultCfg.Schedule, "Cron spec for schedule mode")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.DatabaseURL = *databaseURL
	cfg.MetricsAddr = *metricsAddr
	cfg.PDFDir = *pdfDir
	cfg.KeepDownloads = *keepDownloads
	cfg.MaxRetries = *maxRetries
	cfg.DayFallback = *dayFallback
	cfg.FixtureTokens = *fixtureTokens
	cfg.Schedule = *schedule
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	first, last, err := resolveDates(*mode, *date, *from, *to)
	if err != nil {
		slog.Error("invalid date selection", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := fetch.NewMetrics()
	client, err := fetch.NewClient(cfg, metrics)
	if err != nil {
		slog.Error("initialising http client", slog.Any("error", err))
		os.Exit(1)
	}

	cache, st, closeStore, err := buildCache(ctx, cfg)
	if err != nil {
		slog.Error("initialising store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	res := resolver.New(cfg, client, cache)
	if st != nil {
		if urls, err := st.MonthURLs(ctx); err != nil {
			slog.Warn("warming month cache failed", slog.Any("error", err))
		} else if err := res.WarmCache(ctx, urls); err != nil {
			slog.Warn("warming month cache failed", slog.Any("error", err))
		}
	}

	var source extract.TokenSource = extract.PDFSource{}
	if cfg.FixtureTokens != "" {
		source = extract.FixtureSource{Path: cfg.FixtureTokens}
		slog.Info("using fixture token source", slog.String("path", cfg.FixtureTokens))
	}

	writer, err := pipeline.ForFormat(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	runner := pipeline.New(cfg, res, client, source, metrics)

	metricsServer := startMetricsServer(cfg, metrics)

	var exitCode int
	switch *mode {
	case "latest", "batch":
		exitCode = runOnce(ctx, runner, writer, st, first, last)
	case "schedule":
		exitCode = runSchedule(ctx, cfg, runner, writer, st)
	default:
		slog.Error("unknown mode", slog.String("mode", *mode))
		exitCode = 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	os.Exit(exitCode)
}

// resolveDates maps the mode and date flags to an inclusive range.
func resolveDates(mode, date, from, to string) (civil.Date, civil.Date, error) {
	switch mode {
	case "batch":
		if from == "" || to == "" {
			return civil.Date{}, civil.Date{}, fmt.Errorf("batch mode needs -from and -to")
		}
		first, err := civil.ParseDate(from)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("parse -from: %w", err)
		}
		last, err := civil.ParseDate(to)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("parse -to: %w", err)
		}
		if last.Before(first) {
			return civil.Date{}, civil.Date{}, fmt.Errorf("-to %s precedes -from %s", last, first)
		}
		return first, last, nil
	default:
		day := civil.DateOf(time.Now())
		if date != "" {
			parsed, err := civil.ParseDate(date)
			if err != nil {
				return civil.Date{}, civil.Date{}, fmt.Errorf("parse -date: %w", err)
			}
			day = parsed
		}
		return day, day, nil
	}
}

// buildCache picks the month cache: Postgres-backed when a DSN is
// configured, in-memory otherwise.
func buildCache(ctx context.Context, cfg *config.Config) (resolver.Cache, *store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		cache, err := resolver.NewMemoryCache(cfg.CacheSize)
		if err != nil {
			return nil, nil, nil, err
		}
		return cache, nil, func() {}, nil
	}

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	slog.Info("postgres store enabled")
	return st, st, pool.Close, nil
}

func startMetricsServer(cfg *config.Config, metrics *fetch.Metrics) *http.Server {
	if cfg.MetricsAddr == "" {
		return nil
	}
	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	return server
}

// runOnce extracts the date range, writes the output files and
// persists to the store when one is configured. Returns the process
// exit code: non-zero only when every day failed.
func runOnce(ctx context.Context, runner *pipeline.Runner, writer pipeline.Writer, st *store.Store, first, last civil.Date) int {
	startTime := time.Now()
	results := runner.RunBatch(ctx, first, last)
	rows := pipeline.Rows(results)

	if len(rows) > 0 {
		if err := writer.Write(rows); err != nil {
			slog.Error("writing output failed", slog.Any("error", err))
			return 1
		}
		if st != nil {
			inserted, err := st.SaveRates(ctx, rows)
			if err != nil {
				slog.Error("persisting rates failed", slog.Any("error", err))
				return 1
			}
			slog.Info("rates persisted", slog.Int("inserted", inserted))
		}
	}

	printSummary(results, time.Since(startTime))

	for _, result := range results {
		if result.OK() {
			return 0
		}
	}
	return 1
}

// runSchedule extracts the current day's bulletin on the configured
// cron spec until the process is signalled to stop.
func runSchedule(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, writer pipeline.Writer, st *store.Store) int {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Schedule, func() {
		today := civil.DateOf(time.Now())
		runOnce(ctx, runner, writer, st, today, today)
	})
	if err != nil {
		slog.Error("invalid cron spec", slog.String("cron", cfg.Schedule), slog.Any("error", err))
		return 1
	}

	scheduler.Start()
	slog.Info("scheduler running", slog.String("cron", cfg.Schedule))
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping scheduler")
	<-scheduler.Stop().Done()
	return 0
}

func printSummary(results []models.ExtractionResult, duration time.Duration) {
	succeeded := 0
	for _, result := range results {
		if result.OK() {
			succeeded++
		}
	}

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Extraction complete")
	fmt.Printf("  Days requested: %d\n", len(results))
	fmt.Printf("  Succeeded:      %d\n", succeeded)
	fmt.Printf("  Failed:         %d\n", len(results)-succeeded)
	for _, result := range results {
		if !result.OK() {
			fmt.Printf("    %s: %s\n", result.Date, result.Reason)
		}
	}
	fmt.Printf("  Duration:       %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
