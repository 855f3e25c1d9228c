package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/trustpilot-scraper/internal/models"
	"github.com/maltedev/trustpilot-scraper/internal/parser"
	"github.com/maltedev/trustpilot-scraper/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu      sync.Mutex
	records []*models.CompanyRecord
}

func (s *collectingSink) Name() string { return "collect" }

func (s *collectingSink) Process(_ context.Context, rec *models.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *collectingSink) byName() map[string]*models.CompanyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.CompanyRecord, len(s.records))
	for _, rec := range s.records {
		out[rec.CompanyName] = rec
	}
	return out
}

func card(heading string, links ...string) string {
	html := `<div class="CDS_Card_card__x"><h2>` + heading + `</h2><ul>`
	for _, link := range links {
		html += `<li><a href="` + link + `">x</a></li>`
	}
	return html + `</ul></div>`
}

func profile(name, score, reviews string) string {
	html := `<h1><span class="title_displayName__a">` + name + `</span></h1>`
	if score != "" {
		html += `<p class="trustScore_x">` + score + `</p>`
	}
	return html + `<span class="reviewsAndRating_y">Reviews<!-- --> ` + reviews + `</span>
<ul class="itemsColumn_z"><li><a href="mailto:info@` + name + `.test">mail</a></li><li><a href="/review/other">internal</a></li></ul>`
}

// reviewSite serves a tiny copy of the review site.
func reviewSite(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			assert.Equal(t, "DE", r.URL.Query().Get("country"))
			fmt.Fprint(w, card("Home & Garden", "/categories/furniture", "/categories/garden")+
				card("Money", "/categories/bank")+
				card("Travel", "/categories/hotels"))
		case "/categories/furniture":
			if r.URL.Query().Get("page") == "2" {
				fmt.Fprint(w, `<a href="/review/www.ikea.com">IKEA</a><a href="/review/www.otto.de">Otto</a>`)
				return
			}
			fmt.Fprint(w, `<a href="/review/www.ikea.com">IKEA</a><a href="/review/www.wayfair.de">Wayfair</a>
<a rel="next" href="/categories/furniture?page=2">next</a>`)
		case "/categories/garden":
			fmt.Fprint(w, `<a href="/review/broken.example">Broken</a>`)
		case "/categories/bank":
			w.WriteHeader(http.StatusInternalServerError)
		case "/review/www.ikea.com":
			fmt.Fprint(w, profile("ikea", "4.2", "1,234"))
		case "/review/www.wayfair.de":
			fmt.Fprint(w, profile("wayfair", "", "56"))
		case "/review/www.otto.de":
			fmt.Fprint(w, profile("otto", "3.9", "7"))
		case "/review/broken.example":
			fmt.Fprint(w, `<p>no heading here</p>`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestCrawlerRunsFullCrawl(t *testing.T) {
	srv := reviewSite(t)
	defer srv.Close()

	p, err := parser.NewTrustpilotParser(parser.Options{BaseURL: srv.URL, SiteDomain: "127.0.0.1", Country: "de"}, discardLogger)
	require.NoError(t, err)

	opts := testOptions()
	opts.MaxRetries = 1
	fetcher := NewHTTPFetcher(opts, nil, nil, discardLogger)

	sink := &collectingSink{}
	summary := pipeline.NewSummary(discardLogger)
	chain := pipeline.NewChain(discardLogger, nil, pipeline.NewDuplicateFilter(), summary, sink)

	crawler := NewCrawler(fetcher, p, chain, CrawlerOptions{Concurrency: 3}, discardLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := crawler.Run(ctx, p.StartTask())
	require.NoError(t, err)

	records := sink.byName()
	require.Len(t, records, 3)

	ikea := records["ikea"]
	require.NotNil(t, ikea)
	assert.Equal(t, "home_garden", *ikea.Category)
	assert.Equal(t, "furniture", *ikea.Subcategory)
	assert.Equal(t, "4.2", *ikea.AvgReviewScore)
	assert.Equal(t, "1234", ikea.ReviewCount)
	assert.Equal(t, "info@ikea.test", *ikea.Email)
	assert.Nil(t, ikea.Website)
	assert.Equal(t, "DE", ikea.Country)
	assert.Equal(t, srv.URL+"/review/www.ikea.com", ikea.TrustpilotURL)

	assert.Nil(t, records["wayfair"].AvgReviewScore)

	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 1, stats.PagesFetched["category_page"])
	assert.Equal(t, 3, stats.PagesFetched["listing_page"])
	assert.Equal(t, 4, stats.PagesFetched["profile_page"])
	assert.Equal(t, 1, stats.FetchFailures["listing_page"])
	assert.Equal(t, 1, stats.ExtractionFailures["profile_page"])
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 4, stats.TasksEmitted["listing_page"])
	assert.Equal(t, 4, stats.TasksEmitted["profile_page"])
	assert.Equal(t, 2, stats.Failures())
	assert.False(t, stats.FinishedAt.Before(stats.StartedAt))

	report := summary.Report()
	assert.Equal(t, []string{"home_garden"}, report.Categories)
	assert.Equal(t, []string{"furniture"}, report.Subcategories)
}

// scriptedFetcher serves canned documents and can block until released.
type scriptedFetcher struct {
	pages   map[string]string
	block   chan struct{}
	mu      sync.Mutex
	fetched []string
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &TransportError{URL: url, Err: ctx.Err()}
		}
	}

	html, ok := f.pages[url]
	if !ok {
		return nil, &TransportError{URL: url, StatusCode: 404, Err: fmt.Errorf("not found")}
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *scriptedFetcher) Close() error { return nil }

func TestCrawlerSeedFailureEndsRun(t *testing.T) {
	p, err := parser.NewTrustpilotParser(parser.Options{Country: "DE"}, discardLogger)
	require.NoError(t, err)

	fetcher := &scriptedFetcher{pages: map[string]string{}}
	crawler := NewCrawler(fetcher, p, nil, CrawlerOptions{Concurrency: 2}, discardLogger)

	stats, err := crawler.Run(context.Background(), p.StartTask())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)
	assert.Equal(t, 1, stats.FetchFailures["category_page"])
	assert.Equal(t, []string{"https://www.trustpilot.com/categories?country=DE"}, fetcher.fetched)
}

func TestCrawlerWithoutSeedsReturnsImmediately(t *testing.T) {
	p, err := parser.NewTrustpilotParser(parser.Options{Country: "DE"}, discardLogger)
	require.NoError(t, err)

	crawler := NewCrawler(&scriptedFetcher{}, p, nil, CrawlerOptions{}, discardLogger)
	stats, err := crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)
}

func TestCrawlerStopsOnCancel(t *testing.T) {
	p, err := parser.NewTrustpilotParser(parser.Options{Country: "DE"}, discardLogger)
	require.NoError(t, err)

	fetcher := &scriptedFetcher{
		pages: map[string]string{},
		block: make(chan struct{}),
	}
	crawler := NewCrawler(fetcher, p, nil, CrawlerOptions{Concurrency: 2}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := crawler.Run(ctx, p.StartTask())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
		stats := crawler.Stats()
		assert.Equal(t, 1, stats.FetchFailures["category_page"])
	case <-time.After(2 * time.Second):
		t.Fatal("crawler did not stop after cancellation")
	}
}

func TestCrawlerCountsDroppedRecords(t *testing.T) {
	p, err := parser.NewTrustpilotParser(parser.Options{Country: "DE"}, discardLogger)
	require.NoError(t, err)

	start := p.StartURL()
	listing := "https://www.trustpilot.com/categories/hotels?country=DE"
	fetcher := &scriptedFetcher{pages: map[string]string{
		start:   card("Travel", "/categories/hotels"),
		listing: `<a href="/review/a.test">a</a><a href="/review/a.test/">a again</a>`,
		"https://www.trustpilot.com/review/a.test":  profile("a", "", "1"),
		"https://www.trustpilot.com/review/a.test/": profile("a", "", "1"),
	}}

	chain := pipeline.NewChain(discardLogger, nil, pipeline.NewDuplicateFilter())
	crawler := NewCrawler(fetcher, p, chain, CrawlerOptions{Concurrency: 1}, discardLogger)

	stats, err := crawler.Run(context.Background(), p.StartTask())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 1, stats.RecordsDropped)

	sort.Strings(fetcher.fetched)
	assert.Len(t, fetcher.fetched, 4)
}
