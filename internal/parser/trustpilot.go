package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

const (
	DefaultBaseURL       = "https://www.trustpilot.com"
	DefaultSiteDomain    = "trustpilot.com"
	DefaultCategoryLimit = 2
)

// Options configures a TrustpilotParser. Zero values fall back to defaults,
// except CategoryLimit where a negative value disables the limit.
type Options struct {
	BaseURL       string
	SiteDomain    string
	Country       string
	CategoryLimit int
}

// TrustpilotParser walks category index pages, paginated listing pages and
// company profile pages of the review site.
type TrustpilotParser struct {
	baseURL       *url.URL
	siteDomain    string
	country       string
	categoryLimit int
	logger        *slog.Logger
}

// NewTrustpilotParser creates a parser for opts.Country rooted at opts.BaseURL.
func NewTrustpilotParser(opts Options, logger *slog.Logger) (*TrustpilotParser, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.SiteDomain == "" {
		opts.SiteDomain = DefaultSiteDomain
	}
	if opts.CategoryLimit == 0 {
		opts.CategoryLimit = DefaultCategoryLimit
	}

	country := strings.ToUpper(strings.TrimSpace(opts.Country))
	if country == "" {
		return nil, fmt.Errorf("country code is required")
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseURL)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TrustpilotParser{
		baseURL:       base,
		siteDomain:    strings.ToLower(opts.SiteDomain),
		country:       country,
		categoryLimit: opts.CategoryLimit,
		logger:        logger.With("component", "parser", "country", country),
	}, nil
}

// Country returns the upper-case country code the parser was created for.
func (p *TrustpilotParser) Country() string {
	return p.country
}

// StartURL is the category index page every crawl begins with.
func (p *TrustpilotParser) StartURL() string {
	u := *p.baseURL
	u.Path = "/categories"
	u.RawQuery = url.Values{countryParam: {p.country}}.Encode()
	return u.String()
}

// StartTask is the seed task for the crawl frontier.
func (p *TrustpilotParser) StartTask() models.CrawlTask {
	return models.NewCrawlTask(p.StartURL(), models.CategoryPage, models.CarriedContext{})
}

// WithCountryParam applies the country normalization used for every
// category and listing URL this parser emits.
func (p *TrustpilotParser) WithCountryParam(rawURL string) (string, error) {
	return AddCountryParam(p.baseURL, rawURL, p.country)
}

// Parse routes a fetched document to the parse step named by the task's
// handler tag.
func (p *TrustpilotParser) Parse(task models.CrawlTask, doc *goquery.Document) (*Result, error) {
	switch task.Handler {
	case models.CategoryPage:
		tasks, err := p.ParseCategories(doc, task.URL)
		if err != nil {
			return nil, err
		}
		return &Result{Tasks: tasks}, nil

	case models.ListingPage:
		tasks, err := p.ParseListing(doc, task.URL, task.Context)
		if err != nil {
			return nil, err
		}
		return &Result{Tasks: tasks}, nil

	case models.ProfilePage:
		record, err := p.ParseProfile(doc, task.URL, task.Context)
		if err != nil {
			return nil, err
		}
		return &Result{Record: record}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, task.Handler)
	}
}
