package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTransient indicates a DNS-resolution class failure. This is the
// only error class the retry decorator acts on.
type ErrTransient struct {
	Err error
}

func (e ErrTransient) Error() string {
	return fmt.Errorf("transient network: %w", e.Err).Error()
}

func (e ErrTransient) Unwrap() error {
	return e.Err
}

// ErrStatus indicates a non-2xx response. Never retried; the status
// code travels with the error so callers can report it verbatim.
type ErrStatus struct {
	Code int
	URL  string
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Code, e.URL)
}

// ErrTimeout indicates the per-request budget was exceeded. Fatal for
// that call, never retried.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// Classify wraps a raw transport error into the taxonomy. A non-zero
// status wins over the transport error since colly reports both.
func Classify(err error, statusCode int, url string) error {
	if statusCode >= 400 {
		return ErrStatus{Code: statusCode, URL: url}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrTransient{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}

	return err
}

// IsTransient reports whether err belongs to the retryable DNS class.
func IsTransient(err error) bool {
	var transient ErrTransient
	if errors.As(err, &transient) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Label maps an error to its metrics label.
func Label(err error) string {
	if err == nil {
		return "unknown"
	}
	var transient ErrTransient
	if errors.As(err, &transient) {
		return "transient_network"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	return "other"
}
