package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Schedule enqueues a run for every country each time the cron expression
// fires. A country that still has a pending or running run is skipped for
// that tick.
func (m *Manager) Schedule(expr string, countries []string) error {
	if len(countries) == 0 {
		return fmt.Errorf("no countries to schedule")
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(expr, func() { m.enqueueScheduled(countries) }); err != nil {
		return fmt.Errorf("failed to parse cron expression: %w", err)
	}

	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		return fmt.Errorf("schedule already running")
	}
	m.cron = c
	m.mu.Unlock()

	c.Start()
	m.logger.Info("schedule started", "schedule", expr, "countries", countries)
	return nil
}

func (m *Manager) enqueueScheduled(countries []string) {
	for _, country := range countries {
		country = strings.ToUpper(strings.TrimSpace(country))
		if m.hasActiveRun(country) {
			m.logger.Info("skipping scheduled run, previous run still active", "country", country)
			continue
		}
		if _, err := m.CreateRun(context.Background(), country, TriggerSchedule); err != nil {
			m.logger.Error("failed to enqueue scheduled run", "country", country, "error", err)
		}
	}
}

// Stop halts the schedule and waits for a firing tick to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		m.logger.Info("schedule stopped")
	}
}
