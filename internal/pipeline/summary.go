package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

// Summary collects the categories and subcategories seen during a run.
type Summary struct {
	mu            sync.Mutex
	categories    map[string]struct{}
	subcategories map[string]struct{}
	perCategory   map[string]int
	records       int
	logger        *slog.Logger
}

// Report is a sorted view of a Summary.
type Report struct {
	Records           int            `json:"records"`
	Categories        []string       `json:"categories"`
	Subcategories     []string       `json:"subcategories"`
	RecordsByCategory map[string]int `json:"records_by_category"`
}

// NewSummary creates a new summary stage.
func NewSummary(logger *slog.Logger) *Summary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summary{
		categories:    make(map[string]struct{}),
		subcategories: make(map[string]struct{}),
		perCategory:   make(map[string]int),
		logger:        logger.With("component", "summary"),
	}
}

func (s *Summary) Name() string { return "summary" }

func (s *Summary) Process(_ context.Context, record *models.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records++
	if category := models.Deref(record.Category); category != "" {
		s.categories[category] = struct{}{}
		s.perCategory[category]++
	}
	if subcategory := models.Deref(record.Subcategory); subcategory != "" {
		s.subcategories[subcategory] = struct{}{}
	}
	return nil
}

func (s *Summary) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	perCategory := make(map[string]int, len(s.perCategory))
	for k, v := range s.perCategory {
		perCategory[k] = v
	}

	return Report{
		Records:           s.records,
		Categories:        sortedKeys(s.categories),
		Subcategories:     sortedKeys(s.subcategories),
		RecordsByCategory: perCategory,
	}
}

// Close logs the final report.
func (s *Summary) Close(_ context.Context) error {
	report := s.Report()
	s.logger.Info("SCRAPING SUMMARY",
		"records", report.Records,
		"categories", report.Categories,
		"subcategories", report.Subcategories,
	)
	return nil
}

// Render writes the report as a table.
func (r Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Scraping summary")
	t.AppendHeader(table.Row{"Category", "Records"})
	for _, category := range r.Categories {
		t.AppendRow(table.Row{category, r.RecordsByCategory[category]})
	}
	t.AppendFooter(table.Row{"Total", r.Records})
	t.Render()

	if len(r.Subcategories) == 0 {
		return
	}

	st := table.NewWriter()
	st.SetOutputMirror(w)
	st.SetStyle(table.StyleRounded)
	st.AppendHeader(table.Row{"#", "Subcategory"})
	for i, sub := range r.Subcategories {
		st.AppendRow(table.Row{strconv.Itoa(i + 1), sub})
	}
	st.Render()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
