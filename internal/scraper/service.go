package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/trustpilot-scraper/internal/browser"
	"github.com/maltedev/trustpilot-scraper/internal/config"
	"github.com/maltedev/trustpilot-scraper/internal/events"
	"github.com/maltedev/trustpilot-scraper/internal/metrics"
	"github.com/maltedev/trustpilot-scraper/internal/parser"
	"github.com/maltedev/trustpilot-scraper/internal/pipeline"
	"github.com/maltedev/trustpilot-scraper/internal/ratelimit"
	"github.com/maltedev/trustpilot-scraper/internal/storage"
)

// Service assembles and runs complete crawls from configuration.
type Service struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	publisher *events.Publisher
	logger    *slog.Logger

	// newFetcher is replaced in tests.
	newFetcher func(limiter ratelimit.RateLimiter) (Fetcher, error)
}

// RunOptions selects what a single run crawls. Empty fields fall back to
// the configuration.
type RunOptions struct {
	RunID   string
	Country string
	Output  string
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Country  string
	Output   string
	Stats    Stats
	Summary  pipeline.Report
	Duration time.Duration
}

// NewService builds a crawl service. publisher is nil when persistence is
// disabled; m may be nil.
func NewService(cfg *config.Config, m *metrics.Metrics, publisher *events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:       cfg,
		metrics:   m,
		publisher: publisher,
		logger:    logger.With("component", "scraper"),
	}
	s.newFetcher = s.configuredFetcher
	return s
}

// RunCountry crawls one country end to end: categories, listings, profiles,
// then the pipeline. The export is finalized even when ctx is cancelled so
// partial runs keep what they collected.
func (s *Service) RunCountry(ctx context.Context, opts RunOptions) (*Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Country == "" {
		opts.Country = s.cfg.Crawl.Country
	}
	opts.Country = strings.ToUpper(opts.Country)
	if opts.Output == "" {
		opts.Output = s.cfg.Crawl.OutputFor(opts.Country)
	}

	logger := s.logger.With("run_id", opts.RunID, "country", opts.Country)

	p, err := parser.NewTrustpilotParser(parser.Options{
		BaseURL:       s.cfg.Crawl.BaseURL,
		SiteDomain:    s.cfg.Crawl.SiteDomain,
		Country:       opts.Country,
		CategoryLimit: s.cfg.Crawl.CategoryLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Mode:              s.cfg.Scraper.RateLimitMode,
		MinDelay:          s.cfg.Scraper.RateLimitMin,
		MaxDelay:          s.cfg.Scraper.RateLimitMax,
		RequestsPerSecond: s.cfg.Scraper.RequestsPerSecond,
		Burst:             s.cfg.Scraper.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	fetcher, err := s.newFetcher(limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("failed to close fetcher", "error", err)
		}
	}()

	export, err := storage.NewExport(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}

	summary := pipeline.NewSummary(logger)
	stages := []pipeline.Stage{pipeline.NewDuplicateFilter(), summary, export}
	if s.publisher != nil {
		stages = append(stages, s.publisher.ForRun(opts.RunID))
	}
	chain := pipeline.NewChain(logger, s.metrics, stages...)

	crawler := NewCrawler(fetcher, p, chain, CrawlerOptions{
		Concurrency: s.cfg.Scraper.ConcurrentLimit,
		Metrics:     s.metrics,
	}, logger)

	logger.Info("starting crawl", "start_url", p.StartURL(), "output", opts.Output)

	started := time.Now()
	stats, runErr := crawler.Run(ctx, p.StartTask())
	closeErr := chain.Close(context.WithoutCancel(ctx))

	result := &Result{
		RunID:    opts.RunID,
		Country:  opts.Country,
		Output:   opts.Output,
		Stats:    stats,
		Summary:  summary.Report(),
		Duration: time.Since(started),
	}

	logger.Info("crawl finished",
		"records", stats.Records,
		"failures", stats.Failures(),
		"duration", result.Duration)

	return result, errors.Join(runErr, closeErr)
}

func (s *Service) configuredFetcher(limiter ratelimit.RateLimiter) (Fetcher, error) {
	opts := s.fetcherOptions()

	proxies := ProxyConfig{
		Explicit:   s.cfg.Scraper.Proxy,
		List:       s.cfg.Scraper.ProxyList,
		File:       s.cfg.Scraper.ProxyFile,
		HTTPSProxy: s.cfg.Scraper.HTTPSProxy,
		HTTPProxy:  s.cfg.Scraper.HTTPProxy,
	}

	switch s.cfg.Scraper.FetchMode {
	case config.FetchModeBrowser:
		bopts := browser.DefaultOptions()
		bopts.Headless = s.cfg.Browser.Headless
		bopts.Timeout = s.cfg.Browser.Timeout
		bopts.ViewportWidth = s.cfg.Browser.ViewportWidth
		bopts.ViewportHeight = s.cfg.Browser.ViewportHeight
		bopts.AcceptLanguage = s.cfg.Browser.AcceptLanguage
		bopts.Locale = s.cfg.Browser.Locale
		bopts.ProxyServer = s.cfg.Scraper.Proxy
		if len(opts.UserAgents) > 0 {
			bopts.UserAgent = opts.UserAgents[0]
		}

		b, err := browser.New(bopts, s.logger)
		if err != nil {
			return nil, err
		}
		return NewBrowserFetcher(b, opts, limiter, s.logger), nil
	default:
		proxyFunc, err := proxies.ProxyFunc()
		if err != nil {
			return nil, err
		}
		s.logger.Info("using proxy mode", "mode", proxies.Describe())
		return NewHTTPFetcher(opts, limiter, proxyFunc, s.logger), nil
	}
}

func (s *Service) fetcherOptions() Options {
	opts := DefaultOptions()
	opts.MaxRetries = s.cfg.Scraper.MaxRetries
	opts.RetryDelay = s.cfg.Scraper.RetryDelay
	opts.Timeout = s.cfg.Scraper.Timeout
	opts.ConcurrentLimit = s.cfg.Scraper.ConcurrentLimit
	if len(s.cfg.Scraper.UserAgents) > 0 {
		opts.UserAgents = s.cfg.Scraper.UserAgents
	}
	return opts
}
