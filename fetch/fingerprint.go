package fetch

import (
	"math/rand"
	"net/http"
	"net/url"
)

// The upstream applies bot mitigation, so every request carries a
// plausible browser fingerprint. Regenerated per request rather than
// cached, so repeat requests do not share a correlatable signature.

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.2420.81",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-ZW,en;q=0.9,en-GB;q=0.8",
	"en,en-US;q=0.8",
}

type fingerprint struct {
	userAgent      string
	acceptLanguage string
	referer        string
}

// newFingerprint builds a randomized fingerprint for one request to
// target. The Referer is the target's own origin, which is what a
// browser navigating the site would send.
func newFingerprint(target *url.URL) fingerprint {
	return fingerprint{
		userAgent:      userAgents[rand.Intn(len(userAgents))],
		acceptLanguage: acceptLanguages[rand.Intn(len(acceptLanguages))],
		referer:        target.Scheme + "://" + target.Host + "/",
	}
}

func (f fingerprint) apply(headers *http.Header) {
	headers.Set("User-Agent", f.userAgent)
	headers.Set("Accept-Language", f.acceptLanguage)
	headers.Set("Referer", f.referer)
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
}
