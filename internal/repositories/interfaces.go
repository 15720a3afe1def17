package repositories

import (
	"context"
	"time"

	"github.com/cleanline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Sessions() WizardSessionRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// WizardSessionRepository stores wizard session snapshots so an interrupted order can be resumed.
type WizardSessionRepository interface {
	Save(ctx context.Context, session domain.WizardSession, expiresAt time.Time) error
	// Get returns a NotFound RepositoryError for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (domain.WizardSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// CatalogRepository loads the reference catalog sessions are priced against.
type CatalogRepository interface {
	Load(ctx context.Context) (domain.Catalog, error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository probes the dependencies the readiness endpoint reports on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
