package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/ratelimit"
)

// HTTPFetcher fetches pages with plain GET requests.
type HTTPFetcher struct {
	client  *http.Client
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
	next    atomic.Uint64
}

// NewHTTPFetcher builds a fetcher. limiter and proxyFunc may be nil.
func NewHTTPFetcher(opts Options, limiter ratelimit.RateLimiter, proxyFunc ProxyFunc, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyFunc != nil {
		transport.Proxy = proxyFunc
	} else {
		transport.Proxy = nil
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "http_fetcher"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.opts.RetryDelay * time.Duration(attempt)
			f.logger.Debug("retrying request", "url", url, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &TransportError{URL: url, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		doc, err := f.fetchOnce(ctx, url)
		if err == nil {
			f.recordSuccess()
			return doc, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		f.recordError()
	}

	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*goquery.Document, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: ErrRateLimited}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: ErrBlocked}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil &&
			mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			io.Copy(io.Discard, resp.Body)
			return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: ErrNotHTML}
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}
	doc.Url = resp.Request.URL

	return doc, nil
}

func (f *HTTPFetcher) userAgent() string {
	n := f.next.Add(1) - 1
	return f.opts.UserAgents[n%uint64(len(f.opts.UserAgents))]
}

func (f *HTTPFetcher) recordSuccess() {
	if fb, ok := f.limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess()
	}
}

func (f *HTTPFetcher) recordError() {
	if fb, ok := f.limiter.(ratelimit.Feedback); ok {
		fb.RecordError()
	}
}

func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// retryable reports whether another attempt may succeed: network failures,
// 429 and 5xx.
func retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch {
	case te.StatusCode == 0:
		return true
	case te.StatusCode == http.StatusTooManyRequests:
		return true
	case te.StatusCode >= 500:
		return true
	default:
		return false
	}
}
