package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/trustpilot-scraper/internal/metrics"
	"github.com/maltedev/trustpilot-scraper/internal/models"
	"github.com/maltedev/trustpilot-scraper/internal/parser"
	"github.com/maltedev/trustpilot-scraper/internal/pipeline"
	"github.com/maltedev/trustpilot-scraper/internal/queue"
	"golang.org/x/sync/errgroup"
)

// RecordSink receives every extracted record. Process may be called from
// several workers at once.
type RecordSink interface {
	Process(ctx context.Context, record *models.CompanyRecord) error
}

type CrawlerOptions struct {
	Concurrency int
	Metrics     *metrics.Metrics
}

// Stats summarises one crawl. Maps are keyed by page role.
type Stats struct {
	PagesFetched       map[string]int `json:"pages_fetched"`
	FetchFailures      map[string]int `json:"fetch_failures"`
	ExtractionFailures map[string]int `json:"extraction_failures"`
	TasksEmitted       map[string]int `json:"tasks_emitted"`
	Duplicates         int            `json:"duplicates"`
	Records            int            `json:"records"`
	RecordsDropped     int            `json:"records_dropped"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at,omitempty"`
}

func newStats() Stats {
	return Stats{
		PagesFetched:       make(map[string]int),
		FetchFailures:      make(map[string]int),
		ExtractionFailures: make(map[string]int),
		TasksEmitted:       make(map[string]int),
	}
}

func (s Stats) clone() Stats {
	out := s
	out.PagesFetched = cloneCounts(s.PagesFetched)
	out.FetchFailures = cloneCounts(s.FetchFailures)
	out.ExtractionFailures = cloneCounts(s.ExtractionFailures)
	out.TasksEmitted = cloneCounts(s.TasksEmitted)
	return out
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Failures is the total of fetch and extraction failures.
func (s Stats) Failures() int {
	total := 0
	for _, n := range s.FetchFailures {
		total += n
	}
	for _, n := range s.ExtractionFailures {
		total += n
	}
	return total
}

// Crawler drains a frontier of CrawlTasks: fetch, parse by handler tag,
// schedule follow-ups, hand records to the sink. One Crawler runs one crawl
// at a time.
type Crawler struct {
	fetcher     Fetcher
	parser      parser.Parser
	sink        RecordSink
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewCrawler creates a crawler that fetches with fetcher, parses with p and
// hands every record to sink.
func NewCrawler(fetcher Fetcher, p parser.Parser, sink RecordSink, opts CrawlerOptions, logger *slog.Logger) *Crawler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetcher:     fetcher,
		parser:      p,
		sink:        sink,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "crawler"),
		stats:       newStats(),
	}
}

// Run crawls from seeds until the frontier is empty and no task is in
// flight, or ctx is cancelled. Per-page failures are counted, never returned.
func (c *Crawler) Run(ctx context.Context, seeds ...models.CrawlTask) (Stats, error) {
	c.mu.Lock()
	c.stats = newStats()
	c.stats.StartedAt = time.Now()
	c.mu.Unlock()

	frontier := queue.NewInMemoryQueue()

	// pending counts tasks pushed and not yet finished; the frontier closes
	// when it reaches zero.
	var pending atomic.Int64
	for _, seed := range seeds {
		pending.Add(1)
		if _, err := frontier.Push(seed); err != nil {
			pending.Add(-1)
			c.logger.Warn("seed not scheduled", "url", seed.URL, "error", err)
		}
	}
	if pending.Load() == 0 {
		frontier.Close()
	}

	c.logger.Info("crawl started", "seeds", len(seeds), "concurrency", c.concurrency)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	var runErr error
	for {
		task, err := frontier.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) {
				runErr = err
			}
			break
		}
		c.metrics.SetFrontierDepth(frontier.Size())

		g.Go(func() error {
			c.process(ctx, frontier, &pending, task.Crawl)
			if pending.Add(-1) == 0 {
				frontier.Close()
			}
			return nil
		})
	}
	g.Wait()
	frontier.Close()
	c.metrics.SetFrontierDepth(0)

	c.mu.Lock()
	c.stats.FinishedAt = time.Now()
	stats := c.stats.clone()
	c.mu.Unlock()

	c.logger.Info("crawl finished",
		"records", stats.Records,
		"failures", stats.Failures(),
		"duplicates", stats.Duplicates,
		"duration", stats.FinishedAt.Sub(stats.StartedAt),
		"error", runErr,
	)

	return stats, runErr
}

// Stats returns a snapshot of the current or last run.
func (c *Crawler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.clone()
}

func (c *Crawler) process(ctx context.Context, frontier queue.Queue, pending *atomic.Int64, task models.CrawlTask) {
	role := task.Handler.String()

	start := time.Now()
	doc, err := c.fetcher.Fetch(ctx, task.URL)
	c.metrics.RecordFetch(role, time.Since(start), err)
	if err != nil {
		c.count(func(s *Stats) { s.FetchFailures[role]++ })
		c.logger.Warn("failed to fetch page", "url", task.URL, "role", role, "error", err)
		return
	}
	c.count(func(s *Stats) { s.PagesFetched[role]++ })

	result, err := c.parser.Parse(task, doc)
	if err != nil {
		c.count(func(s *Stats) { s.ExtractionFailures[role]++ })
		c.metrics.RecordExtractionFailure(role)
		c.logger.Error("failed to parse page", "url", task.URL, "role", role, "error", err)
		return
	}

	for _, next := range result.Tasks {
		pending.Add(1)
		if _, err := frontier.Push(next); err != nil {
			pending.Add(-1)
			if errors.Is(err, queue.ErrDuplicate) {
				c.count(func(s *Stats) { s.Duplicates++ })
				c.logger.Debug("skipping already scheduled url", "url", next.URL)
				continue
			}
			c.logger.Warn("failed to schedule task", "url", next.URL, "error", err)
			continue
		}
		nextRole := next.Handler.String()
		c.count(func(s *Stats) { s.TasksEmitted[nextRole]++ })
		c.metrics.RecordTask(nextRole)
	}

	if result.Record == nil {
		return
	}

	c.count(func(s *Stats) { s.Records++ })
	c.metrics.RecordRecord()

	if c.sink == nil {
		return
	}
	if err := c.sink.Process(ctx, result.Record); err != nil {
		c.count(func(s *Stats) { s.RecordsDropped++ })
		if errors.Is(err, pipeline.ErrDrop) {
			c.logger.Debug("record dropped", "url", task.URL, "reason", err)
			return
		}
		c.logger.Error("failed to process record", "url", task.URL, "error", err)
	}
}

func (c *Crawler) count(update func(*Stats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
