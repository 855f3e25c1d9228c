package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrRateLimited = errors.New("rate limited by remote site")
	ErrBlocked     = errors.New("blocked by remote site")
	ErrNotHTML     = errors.New("response is not an HTML document")
)

// Fetcher turns a URL into a parsed document. Retries, proxies and
// politeness delays are the fetcher's business; callers see one result.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
	Close() error
}

// TransportError is any failure to obtain a document for URL. StatusCode is
// zero when no response was received.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	Timeout         time.Duration
	UserAgents      []string
	ConcurrentLimit int
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		Timeout:         30 * time.Second,
		UserAgents:      defaultUserAgents,
		ConcurrentLimit: 4,
	}
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
}
