package store

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/zimrates/rbzfx/models"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func rateRow(currency string, date civil.Date) models.RateRow {
	return models.RateRow{
		Currency: currency,
		Bid:      decimal.RequireFromString("1.2215"),
		Ask:      decimal.RequireFromString("1.2264"),
		Mid:      decimal.RequireFromString("1.2240"),
		BidZWG:   decimal.RequireFromString("32.9934"),
		AskZWG:   decimal.RequireFromString("33.1258"),
		MidZWG:   decimal.RequireFromString("33.0596"),
		Date:     date,
	}
}

func TestGetHit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT url FROM monthly_exchange_rates_urls`).
		WithArgs("2-2017").
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://www.rbz.co.zw/feb-2017"))

	url, ok, err := store.Get(context.Background(), "2-2017")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || url != "https://www.rbz.co.zw/feb-2017" {
		t.Fatalf("Get = (%q, %v)", url, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetMiss(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT url FROM monthly_exchange_rates_urls`).
		WithArgs("7-2019").
		WillReturnError(pgx.ErrNoRows)

	url, ok, err := store.Get(context.Background(), "7-2019")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || url != "" {
		t.Fatalf("expected miss, got (%q, %v)", url, ok)
	}
}

func TestPutIgnoresConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO monthly_exchange_rates_urls`).
		WithArgs("2-2017", "https://www.rbz.co.zw/feb-2017").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	if err := store.Put(context.Background(), "2-2017", "https://www.rbz.co.zw/feb-2017"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMonthURLs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT month_key, url FROM monthly_exchange_rates_urls`).
		WillReturnRows(pgxmock.NewRows([]string{"month_key", "url"}).
			AddRow("1-2017", "https://www.rbz.co.zw/jan-2017").
			AddRow("2-2017", "https://www.rbz.co.zw/feb-2017"))

	urls, err := store.MonthURLs(context.Background())
	if err != nil {
		t.Fatalf("MonthURLs: %v", err)
	}
	if len(urls) != 2 || urls["2-2017"] != "https://www.rbz.co.zw/feb-2017" {
		t.Fatalf("MonthURLs = %v", urls)
	}
}

func TestSaveRatesLinksPreviousRate(t *testing.T) {
	store, mock := newMockStore(t)

	day1 := civil.Date{Year: 2017, Month: time.February, Day: 16}
	day2 := civil.Date{Year: 2017, Month: time.February, Day: 17}

	// First GBP row has no predecessor.
	mock.ExpectQuery(`SELECT id FROM exchange_rates`).
		WithArgs("GBP", day1.In(time.UTC)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO exchange_rates`).
		WithArgs("GBP", "1.2215", "1.2264", "1.2240", "32.9934", "33.1258", "33.0596", day1.In(time.UTC), nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Second GBP row chains to the first.
	mock.ExpectQuery(`SELECT id FROM exchange_rates`).
		WithArgs("GBP", day2.In(time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO exchange_rates`).
		WithArgs("GBP", "1.2215", "1.2264", "1.2240", "32.9934", "33.1258", "33.0596", day2.In(time.UTC), 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Rows arrive newest first; SaveRates must insert oldest first so
	// the chain links resolve.
	inserted, err := store.SaveRates(context.Background(), []models.RateRow{
		rateRow("GBP", day2),
		rateRow("GBP", day1),
	})
	if err != nil {
		t.Fatalf("SaveRates: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveRatesSkipsExistingDays(t *testing.T) {
	store, mock := newMockStore(t)
	day := civil.Date{Year: 2017, Month: time.February, Day: 17}

	mock.ExpectQuery(`SELECT id FROM exchange_rates`).
		WithArgs("GBP", day.In(time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO exchange_rates`).
		WithArgs("GBP", "1.2215", "1.2264", "1.2240", "32.9934", "33.1258", "33.0596", day.In(time.UTC), 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.SaveRates(context.Background(), []models.RateRow{rateRow("GBP", day)})
	if err != nil {
		t.Fatalf("SaveRates: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("inserted = %d, want 0", inserted)
	}
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS monthly_exchange_rates_urls`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS exchange_rates`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
