package jobs

import (
	"context"
	"time"

	"github.com/maltedev/trustpilot-scraper/internal/scraper"
)

// StartWorker executes pending runs one at a time until ctx is done. It
// wakes on CreateRun and on every poll tick.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.processPending(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

func (m *Manager) processPending(ctx context.Context) {
	for ctx.Err() == nil {
		run := m.claimNext()
		if run == nil {
			return
		}
		m.execute(ctx, run)
	}
}

// claimNext marks the oldest pending run as running and returns a snapshot.
func (m *Manager) claimNext() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *Run
	for _, run := range m.runs {
		if run.Status != StatusPending {
			continue
		}
		if next == nil || m.seq[run.ID] < m.seq[next.ID] {
			next = run
		}
	}
	if next == nil {
		return nil
	}

	now := time.Now()
	next.Status = StatusRunning
	next.StartedAt = &now
	return next.clone()
}

func (m *Manager) execute(ctx context.Context, run *Run) {
	m.logger.Info("processing run", "id", run.ID, "country", run.Country)
	m.metrics.RunStarted()

	result, err := m.runner.RunCountry(ctx, scraper.RunOptions{
		RunID:   run.ID,
		Country: run.Country,
	})

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		m.logger.Error("run failed", "id", run.ID, "error", err)
	} else {
		m.logger.Info("run completed", "id", run.ID, "records", result.Stats.Records)
	}

	m.finish(run.ID, status, result, err)
	m.metrics.RunFinished(string(status))
}

func (m *Manager) finish(runID string, status Status, result *scraper.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return
	}

	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	if err != nil {
		run.Error = err.Error()
	}
	if result != nil {
		run.Output = result.Output
		run.Stats = newRunStats(result.Stats)
		summary := result.Summary
		run.Summary = &summary
	}
}
