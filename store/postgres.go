// Package store persists extracted rates and resolved month URLs in
// Postgres. The month-URL table doubles as a durable version of the
// resolver's in-memory cache, so cold starts skip the archive fetch for
// months already seen.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zimrates/rbzfx/models"
)

// DB is the pgx surface the store needs. *pgxpool.Pool satisfies it;
// tests substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a Postgres connection pool.
type Store struct {
	db DB
}

// New builds a store over db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS monthly_exchange_rates_urls (
			month_key  text PRIMARY KEY,
			url        text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_rates (
			id            serial PRIMARY KEY,
			currency      text NOT NULL,
			bid           numeric NOT NULL,
			ask           numeric NOT NULL,
			mid_rate      numeric NOT NULL,
			bid_zwg       numeric NOT NULL,
			ask_zwg       numeric NOT NULL,
			mid_zwg       numeric NOT NULL,
			created_at    date NOT NULL,
			previous_rate integer REFERENCES exchange_rates (id),
			UNIQUE (currency, created_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Get implements the resolver's month cache lookup.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var url string
	err := s.db.QueryRow(ctx,
		`SELECT url FROM monthly_exchange_rates_urls WHERE month_key = $1`, key,
	).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load month url %s: %w", key, err)
	}
	return url, true, nil
}

// Put implements the resolver's month cache insert. Re-resolving a
// month is harmless, so conflicts are ignored.
func (s *Store) Put(ctx context.Context, key, url string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO monthly_exchange_rates_urls (month_key, url)
		 VALUES ($1, $2)
		 ON CONFLICT (month_key) DO NOTHING`, key, url)
	if err != nil {
		return fmt.Errorf("save month url %s: %w", key, err)
	}
	return nil
}

// MonthURLs loads every persisted month URL, keyed for cache warming.
func (s *Store) MonthURLs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT month_key, url FROM monthly_exchange_rates_urls`)
	if err != nil {
		return nil, fmt.Errorf("load month urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]string)
	for rows.Next() {
		var key, url string
		if err := rows.Scan(&key, &url); err != nil {
			return nil, fmt.Errorf("scan month url: %w", err)
		}
		urls[key] = url
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate month urls: %w", err)
	}
	return urls, nil
}

// SaveRates inserts rows chronologically and links each one to the
// currency's latest earlier row, forming a per-currency chain. A row
// already present for its currency and date is left untouched. Returns
// how many rows were actually inserted.
func (s *Store) SaveRates(ctx context.Context, rateRows []models.RateRow) (int, error) {
	ordered := make([]models.RateRow, len(rateRows))
	copy(ordered, rateRows)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].Currency < ordered[j].Currency
	})

	inserted := 0
	for _, row := range ordered {
		day := row.Date.In(time.UTC)

		var previous any
		var previousID int
		err := s.db.QueryRow(ctx,
			`SELECT id FROM exchange_rates
			 WHERE currency = $1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1`, row.Currency, day,
		).Scan(&previousID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			previous = nil
		case err != nil:
			return inserted, fmt.Errorf("find previous rate for %s: %w", row.Currency, err)
		default:
			previous = previousID
		}

		tag, err := s.db.Exec(ctx,
			`INSERT INTO exchange_rates
			 (currency, bid, ask, mid_rate, bid_zwg, ask_zwg, mid_zwg, created_at, previous_rate)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (currency, created_at) DO NOTHING`,
			row.Currency,
			row.Bid.String(),
			row.Ask.String(),
			row.Mid.String(),
			row.BidZWG.String(),
			row.AskZWG.String(),
			row.MidZWG.String(),
			day,
			previous,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert rate %s %s: %w", row.Currency, row.Date, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
