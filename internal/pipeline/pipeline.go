package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/trustpilot-scraper/internal/metrics"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

var (
	// ErrDrop marks a record a stage has rejected on purpose. Later stages
	// do not see it.
	ErrDrop      = errors.New("record dropped")
	ErrDuplicate = fmt.Errorf("%w: duplicate", ErrDrop)
)

// Stage is one step of the item pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, record *models.CompanyRecord) error
}

// Closer is implemented by stages that hold resources until the run ends.
type Closer interface {
	Close(ctx context.Context) error
}

// Chain runs stages in order. It is safe for concurrent use as long as each
// stage is.
type Chain struct {
	stages  []Stage
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewChain creates a chain running stages in order.
func NewChain(logger *slog.Logger, m *metrics.Metrics, stages ...Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		stages:  stages,
		metrics: m,
		logger:  logger.With("component", "pipeline"),
	}
}

func (c *Chain) Process(ctx context.Context, record *models.CompanyRecord) error {
	for _, stage := range c.stages {
		if err := stage.Process(ctx, record); err != nil {
			if errors.Is(err, ErrDrop) {
				c.metrics.RecordDrop(stage.Name())
				return err
			}
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// Close closes every stage that implements Closer, in order, and returns
// all errors joined.
func (c *Chain) Close(ctx context.Context) error {
	var errs []error
	for _, stage := range c.stages {
		closer, ok := stage.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(ctx); err != nil {
			c.logger.Error("failed to close stage", "stage", stage.Name(), "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", stage.Name(), err))
		}
	}
	return errors.Join(errs...)
}
