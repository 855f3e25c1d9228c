package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/trustpilot-scraper/internal/metrics"
	"github.com/maltedev/trustpilot-scraper/internal/pipeline"
	"github.com/maltedev/trustpilot-scraper/internal/scraper"
	"github.com/robfig/cron/v3"
)

const (
	listLimit           = 100
	defaultPollInterval = 10 * time.Second
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrInvalidCountry = errors.New("country must be a two-letter code")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// Runner executes one crawl. *scraper.Service satisfies it.
type Runner interface {
	RunCountry(ctx context.Context, opts scraper.RunOptions) (*scraper.Result, error)
}

// Run represents a crawl of one country.
type Run struct {
	ID          string           `json:"id"`
	Country     string           `json:"country"`
	Trigger     Trigger          `json:"trigger"`
	Status      Status           `json:"status"`
	Output      string           `json:"output,omitempty"`
	Stats       *RunStats        `json:"stats,omitempty"`
	Summary     *pipeline.Report `json:"summary,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// RunStats are the crawler counters of a finished run.
type RunStats struct {
	PagesFetched       map[string]int `json:"pages_fetched"`
	FetchFailures      map[string]int `json:"fetch_failures"`
	ExtractionFailures map[string]int `json:"extraction_failures"`
	TasksEmitted       map[string]int `json:"tasks_emitted"`
	Duplicates         int            `json:"duplicates"`
	Records            int            `json:"records"`
	RecordsDropped     int            `json:"records_dropped"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

// Stats aggregates the run registry.
type Stats struct {
	TotalRuns     int     `json:"total_runs"`
	PendingRuns   int     `json:"pending_runs"`
	RunningRuns   int     `json:"running_runs"`
	CompletedRuns int     `json:"completed_runs"`
	FailedRuns    int     `json:"failed_runs"`
	TotalRecords  int     `json:"total_records"`
	SuccessRate   float64 `json:"success_rate"`
}

type Manager struct {
	runner       Runner
	metrics      *metrics.Metrics
	logger       *slog.Logger
	pollInterval time.Duration

	mu   sync.RWMutex
	runs map[string]*Run
	seq  map[string]int
	next int

	wake chan struct{}
	cron *cron.Cron
}

// NewManager creates a run manager. Runs are executed by StartWorker.
func NewManager(runner Runner, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:       runner,
		metrics:      m,
		logger:       logger.With("component", "job_manager"),
		pollInterval: defaultPollInterval,
		runs:         make(map[string]*Run),
		seq:          make(map[string]int),
		wake:         make(chan struct{}, 1),
	}
}

// CreateRun registers a pending crawl of country and wakes the worker.
func (m *Manager) CreateRun(ctx context.Context, country string, trigger Trigger) (*Run, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !validCountry(country) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCountry, country)
	}
	if trigger == "" {
		trigger = TriggerAPI
	}

	run := &Run{
		ID:        uuid.New().String(),
		Country:   country,
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.seq[run.ID] = m.next
	m.next++
	snapshot := run.clone()
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}

	m.logger.Info("run created", "id", run.ID, "country", country, "trigger", trigger)
	return snapshot, nil
}

func (m *Manager) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.clone(), nil
}

// ListRuns returns the newest runs first, at most 100.
func (m *Manager) ListRuns(_ context.Context) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return m.seq[runs[i].ID] > m.seq[runs[j].ID]
	})
	if len(runs) > listLimit {
		runs = runs[:listLimit]
	}

	out := make([]*Run, len(runs))
	for i, run := range runs {
		out[i] = run.clone()
	}
	return out, nil
}

func (m *Manager) GetStats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalRuns: len(m.runs)}
	for _, run := range m.runs {
		switch run.Status {
		case StatusPending:
			stats.PendingRuns++
		case StatusRunning:
			stats.RunningRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		}
		if run.Stats != nil {
			stats.TotalRecords += run.Stats.Records
		}
	}

	if finished := stats.CompletedRuns + stats.FailedRuns; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(finished) * 100
	}
	return stats, nil
}

// hasActiveRun reports whether country already has a pending or running run.
func (m *Manager) hasActiveRun(country string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.runs {
		if run.Country == country && (run.Status == StatusPending || run.Status == StatusRunning) {
			return true
		}
	}
	return false
}

func (r *Run) clone() *Run {
	c := *r
	if r.Stats != nil {
		stats := *r.Stats
		c.Stats = &stats
	}
	if r.Summary != nil {
		summary := *r.Summary
		c.Summary = &summary
	}
	return &c
}

func newRunStats(s scraper.Stats) *RunStats {
	stats := &RunStats{
		PagesFetched:       s.PagesFetched,
		FetchFailures:      s.FetchFailures,
		ExtractionFailures: s.ExtractionFailures,
		TasksEmitted:       s.TasksEmitted,
		Duplicates:         s.Duplicates,
		Records:            s.Records,
		RecordsDropped:     s.RecordsDropped,
	}
	if !s.FinishedAt.IsZero() {
		stats.DurationSeconds = s.FinishedAt.Sub(s.StartedAt).Seconds()
	}
	return stats
}

func validCountry(country string) bool {
	if len(country) != 2 {
		return false
	}
	for _, r := range country {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
