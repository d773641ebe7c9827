package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/zimrates/rbzfx/config"
)

type stubFetcher struct {
	getBody   []byte
	getErr    error
	getCalls  int
	postBody  []byte
	postErr   error
	postCalls int
	lastForm  string
}

func (s *stubFetcher) Get(_ context.Context, _ string) ([]byte, error) {
	s.getCalls++
	return s.getBody, s.getErr
}

func (s *stubFetcher) PostForm(_ context.Context, _ string, body string) ([]byte, error) {
	s.postCalls++
	s.lastForm = body
	return s.postBody, s.postErr
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func newTestResolver(t *testing.T, fetcher *stubFetcher) (*Resolver, *MemoryCache) {
	t.Helper()
	cache, err := NewMemoryCache(16)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	return New(config.DefaultConfig(), fetcher, cache), cache
}

func TestMonthPageURLResolvesHeading(t *testing.T) {
	fetcher := &stubFetcher{postBody: loadFixture(t, "exchange-rates.html")}
	r, cache := newTestResolver(t, fetcher)

	got, err := r.MonthPageURL(context.Background(), time.February, 2017)
	if err != nil {
		t.Fatalf("MonthPageURL: %v", err)
	}
	want := "https://www.rbz.co.zw/index.php/research/markets/exchange-rates/2017/february-2017"
	if got != want {
		t.Fatalf("MonthPageURL = %q, want %q", got, want)
	}
	if fetcher.lastForm != config.DefaultConfig().ArchiveQuery {
		t.Fatalf("archive query = %q", fetcher.lastForm)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected resolved month to be cached, cache len = %d", cache.Len())
	}
}

func TestMonthPageURLCacheHitSkipsFetch(t *testing.T) {
	fetcher := &stubFetcher{postErr: errors.New("archive should not be fetched")}
	r, cache := newTestResolver(t, fetcher)

	cached := "https://www.rbz.co.zw/index.php/research/markets/exchange-rates/2017/february-2017"
	if err := cache.Put(context.Background(), "2-2017", cached); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := r.MonthPageURL(context.Background(), time.February, 2017)
	if err != nil {
		t.Fatalf("MonthPageURL: %v", err)
	}
	if got != cached {
		t.Fatalf("MonthPageURL = %q, want cached %q", got, cached)
	}
	if fetcher.postCalls != 0 {
		t.Fatalf("expected no archive fetch on cache hit, got %d", fetcher.postCalls)
	}
}

func TestMonthPageURLMatchesHeadingCaseInsensitively(t *testing.T) {
	fetcher := &stubFetcher{postBody: loadFixture(t, "exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	got, err := r.MonthPageURL(context.Background(), time.March, 2017)
	if err != nil {
		t.Fatalf("MonthPageURL: %v", err)
	}
	want := "https://www.rbz.co.zw/index.php/research/markets/exchange-rates/2017/march-2017"
	if got != want {
		t.Fatalf("MonthPageURL = %q, want %q", got, want)
	}
}

func TestMonthPageURLMissingMonth(t *testing.T) {
	fetcher := &stubFetcher{postBody: loadFixture(t, "exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	_, err := r.MonthPageURL(context.Background(), time.July, 2019)

	var notFound NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Key != "7-2019" {
		t.Fatalf("not-found key = %q", notFound.Key)
	}
}

func TestMonthPageURLNoHeadings(t *testing.T) {
	fetcher := &stubFetcher{postBody: []byte("<html><body><p>maintenance</p></body></html>")}
	r, _ := newTestResolver(t, fetcher)

	if _, err := r.MonthPageURL(context.Background(), time.February, 2017); err == nil {
		t.Fatalf("expected error for archive page without headings")
	}
}

func TestDailyPDFURLExactDay(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	for _, day := range []int{17, 18} {
		got, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: day})
		if err != nil {
			t.Fatalf("DailyPDFURL(day %d): %v", day, err)
		}
		want := fmt.Sprintf("https://www.rbz.co.zw/documents/daily-exchange-rates/rates_%d_february_2017.pdf", day)
		if got != want {
			t.Fatalf("DailyPDFURL = %q, want %q", got, want)
		}
	}
}

func TestDailyPDFURLFallsBackAcrossGap(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	got, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: 24})
	if err != nil {
		t.Fatalf("DailyPDFURL: %v", err)
	}
	want := "https://www.rbz.co.zw/documents/daily-exchange-rates/rates_23_february_2017.pdf"
	if got != want {
		t.Fatalf("DailyPDFURL = %q, want %q", got, want)
	}
}

func TestDailyPDFURLFallsBackToEarlierDay(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	// 22, 21 and 20 are absent; the search lands on the 19th.
	got, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: 22})
	if err != nil {
		t.Fatalf("DailyPDFURL: %v", err)
	}
	want := "https://www.rbz.co.zw/documents/daily-exchange-rates/rates_19_february_2017.pdf"
	if got != want {
		t.Fatalf("DailyPDFURL = %q, want %q", got, want)
	}
	if fetcher.getCalls != 1 {
		t.Fatalf("fallback search must reuse one fetched page, got %d fetches", fetcher.getCalls)
	}
}

func TestDailyPDFURLSkipsNonPDFLinks(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	// Day 27 links an HTML notice, not a bulletin; the search continues
	// past it to the 23rd.
	got, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: 27})
	if err != nil {
		t.Fatalf("DailyPDFURL: %v", err)
	}
	want := "https://www.rbz.co.zw/documents/daily-exchange-rates/rates_23_february_2017.pdf"
	if got != want {
		t.Fatalf("DailyPDFURL = %q, want %q", got, want)
	}
}

func TestDailyPDFURLFallbackExhausted(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	_, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: 13})

	var notFound NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDailyPDFURLNeverSearchesBelowDayOne(t *testing.T) {
	fetcher := &stubFetcher{getBody: loadFixture(t, "daily-exchange-rates.html")}
	r, _ := newTestResolver(t, fetcher)

	got, err := r.DailyPDFURL(context.Background(), "https://www.rbz.co.zw/month", civil.Date{Year: 2017, Month: time.February, Day: 1})
	if err != nil {
		t.Fatalf("DailyPDFURL: %v", err)
	}
	want := "https://www.rbz.co.zw/documents/daily-exchange-rates/rates_01_february_2017.pdf"
	if got != want {
		t.Fatalf("DailyPDFURL = %q, want %q", got, want)
	}
}

func TestWarmCache(t *testing.T) {
	fetcher := &stubFetcher{postErr: errors.New("archive should not be fetched")}
	r, _ := newTestResolver(t, fetcher)

	entries := map[string]string{
		"2-2017": "https://www.rbz.co.zw/feb-2017",
		"1-2017": "https://www.rbz.co.zw/jan-2017",
	}
	if err := r.WarmCache(context.Background(), entries); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}

	got, err := r.MonthPageURL(context.Background(), time.January, 2017)
	if err != nil {
		t.Fatalf("MonthPageURL: %v", err)
	}
	if got != "https://www.rbz.co.zw/jan-2017" {
		t.Fatalf("MonthPageURL = %q", got)
	}
}
