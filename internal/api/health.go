// Package api serves the event search endpoint and health reporting.
package api

import (
	"context"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/infra/storage"
)

// SystemStatus represents the overall health state of the service.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// LastRunSource exposes the most recent sync report.
type LastRunSource interface {
	LastRun(ctx context.Context) (*domain.RunReport, error)
}

// HealthReport contains the full service health report.
type HealthReport struct {
	SystemStatus SystemStatus      `json:"system_status"`
	Store        string            `json:"store"`
	Events       int               `json:"events"`
	LastRun      *domain.RunReport `json:"last_run"`
}

// Monitor aggregates store and sync health.
type Monitor struct {
	store  storage.Pinger
	events storage.EventRepository
	runs   LastRunSource
}

func NewMonitor(store storage.Pinger, events storage.EventRepository, runs LastRunSource) *Monitor {
	return &Monitor{
		store:  store,
		events: events,
		runs:   runs,
	}
}

// CheckHealth reports critical when the store is unreachable and degraded
// when the last sync failed.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Store:        "ok",
	}

	if m.store != nil {
		if err := m.store.Health(ctx); err != nil {
			report.SystemStatus = StatusCritical
			report.Store = err.Error()
			return report
		}
	}

	if m.events != nil {
		if n, err := m.events.Count(ctx); err == nil {
			report.Events = n
		}
	}

	if m.runs != nil {
		if last, err := m.runs.LastRun(ctx); err == nil && last != nil {
			report.LastRun = last
			if last.State == domain.RunStateFailed {
				report.SystemStatus = StatusDegraded
			}
		}
	}
	return report
}
