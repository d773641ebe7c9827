// Package fetch performs outbound HTTP against the bulletin archive:
// synchronous page fetches, PDF downloads, disguised request headers,
// and DNS-failure retries with exponential backoff.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/zimrates/rbzfx/config"
)

// Client issues requests through per-call clones of a shared colly
// collector, so each request gets fresh callbacks and a fresh
// fingerprint while reusing one transport.
type Client struct {
	cfg         *config.Config
	base        *colly.Collector
	metrics     *Metrics
	shouldRetry ShouldRetryFunc
	backoff     BackoffFunc
}

// NewClient builds a client configured from cfg.
func NewClient(cfg *config.Config, metrics *Metrics) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// The upstream serves an incomplete certificate chain; verification
		// is disabled for this client only. Accepted risk, the data is public.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	})

	return &Client{
		cfg:         cfg,
		base:        collector,
		metrics:     metrics,
		shouldRetry: IsTransient,
		backoff:     ExpBackoff(cfg.RetryBackoff, cfg.RetryJitter),
	}, nil
}

// WithTransport swaps the underlying transport. Tests inject an
// httpmock transport here.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.base.WithTransport(rt)
}

// Get fetches rawURL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.fetch(ctx, http.MethodGet, rawURL, "")
}

// PostForm sends a form-encoded POST body to rawURL and returns the
// response body.
func (c *Client) PostForm(ctx context.Context, rawURL, body string) ([]byte, error) {
	return c.fetch(ctx, http.MethodPost, rawURL, body)
}

// Download fetches rawURL and writes the body to dest, creating parent
// directories as needed. A partial file is removed on any error so a
// truncated download is never mistaken for a complete one. The body is
// buffered in memory before the write, not streamed: the collector
// buffers responses anyway, and bulletins are single-page PDFs.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(body)); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("close %s: %w", dest, err)
	}

	slog.Debug("downloaded file", slog.String("url", rawURL), slog.String("dest", dest))
	return nil
}

func (c *Client) fetch(ctx context.Context, method, rawURL, body string) ([]byte, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	var payload []byte
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			c.metrics.IncRetries()
		}
		c.metrics.IncRequest(method)

		collector := c.base.Clone()
		fp := newFingerprint(target)
		collector.OnRequest(func(r *colly.Request) {
			fp.apply(r.Headers)
			if method == http.MethodPost {
				r.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		})

		var status int
		var reqErr error
		collector.OnResponse(func(r *colly.Response) {
			payload = r.Body
			status = r.StatusCode
		})
		collector.OnError(func(r *colly.Response, err error) {
			if r != nil {
				status = r.StatusCode
			}
			reqErr = err
		})

		start := time.Now()
		var visitErr error
		if method == http.MethodPost {
			visitErr = collector.PostRaw(rawURL, []byte(body))
		} else {
			visitErr = collector.Visit(rawURL)
		}
		c.metrics.ObserveDuration(time.Since(start))

		if reqErr == nil {
			reqErr = visitErr
		}
		if reqErr != nil {
			classified := Classify(reqErr, status, rawURL)
			c.metrics.IncError(Label(classified))
			return classified
		}
		return nil
	}

	if err := Do(ctx, c.cfg.MaxRetries, c.shouldRetry, c.backoff, op); err != nil {
		return nil, err
	}
	return payload, nil
}
