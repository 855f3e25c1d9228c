package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/maltedev/trustpilot-scraper/internal/models"
)

// DuplicateFilter drops records whose profile URL was already seen.
type DuplicateFilter struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDuplicateFilter creates a new duplicate filter.
func NewDuplicateFilter() *DuplicateFilter {
	return &DuplicateFilter{seen: make(map[string]struct{})}
}

func (f *DuplicateFilter) Name() string { return "duplicate_filter" }

func (f *DuplicateFilter) Process(_ context.Context, record *models.CompanyRecord) error {
	key := CanonicalURL(record.TrustpilotURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	f.seen[key] = struct{}{}
	return nil
}

// Seen is the number of distinct records let through.
func (f *DuplicateFilter) Seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// CanonicalURL trims whitespace and trailing slashes.
func CanonicalURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
