package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/browser"
	"github.com/maltedev/trustpilot-scraper/internal/ratelimit"
)

// renderer is the part of browser.Browser the fetcher needs.
type renderer interface {
	Render(url string, maxRetries int) (string, int, error)
	Close() error
}

// BrowserFetcher renders pages in headless Chromium before parsing them.
type BrowserFetcher struct {
	browser renderer
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
}

// NewBrowserFetcher creates a fetcher rendering pages in b.
func NewBrowserFetcher(b *browser.Browser, opts Options, limiter ratelimit.RateLimiter, logger *slog.Logger) *BrowserFetcher {
	return newBrowserFetcher(b, opts, limiter, logger)
}

func newBrowserFetcher(r renderer, opts Options, limiter ratelimit.RateLimiter, logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{
		browser: r,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "browser_fetcher"),
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: rawURL, Err: err}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	retries := f.opts.MaxRetries + 1
	html, status, err := f.browser.Render(rawURL, retries)
	if err != nil {
		f.recordError()
		return nil, &TransportError{URL: rawURL, StatusCode: status, Err: err}
	}

	switch {
	case status == 429:
		f.recordError()
		return nil, &TransportError{URL: rawURL, StatusCode: status, Err: ErrRateLimited}
	case status == 403:
		return nil, &TransportError{URL: rawURL, StatusCode: status, Err: ErrBlocked}
	case status >= 400:
		return nil, &TransportError{URL: rawURL, StatusCode: status, Err: fmt.Errorf("unexpected status %d", status)}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &TransportError{URL: rawURL, StatusCode: status, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}
	if u, err := url.Parse(rawURL); err == nil {
		doc.Url = u
	}

	f.recordSuccess()
	f.logger.Debug("rendered page", "url", rawURL, "status", status, "bytes", len(html))
	return doc, nil
}

func (f *BrowserFetcher) recordSuccess() {
	if fb, ok := f.limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess()
	}
}

func (f *BrowserFetcher) recordError() {
	if fb, ok := f.limiter.(ratelimit.Feedback); ok {
		fb.RecordError()
	}
}

func (f *BrowserFetcher) Close() error {
	return f.browser.Close()
}
