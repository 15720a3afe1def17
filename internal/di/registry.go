package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanline/api/internal/platform/config"
	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/repositories"
	filerepo "github.com/cleanline/api/internal/repositories/file"
	firestorerepo "github.com/cleanline/api/internal/repositories/firestore"
	memoryrepo "github.com/cleanline/api/internal/repositories/memory"
)

const (
	healthFirestore = "firestore"
	healthCatalog   = "catalog"
	healthPubSub    = "pubsub"
)

// registry implements repositories.Registry over the backends selected by configuration.
type registry struct {
	provider *pfirestore.Provider

	sessions repositories.WizardSessionRepository
	catalog  repositories.CatalogRepository
	counters repositories.CounterRepository
	health   repositories.HealthRepository

	// memorySessions is set when snapshots live in process memory and need purging.
	memorySessions *memoryrepo.SessionRepository
}

var _ repositories.Registry = (*registry)(nil)

func newRegistry(cfg config.Config, provider *pfirestore.Provider, clock func() time.Time) (*registry, error) {
	reg := &registry{provider: provider}

	switch cfg.Sessions.Backend {
	case config.SessionBackendMemory:
		sessions := memoryrepo.NewSessionRepository(clock)
		reg.sessions = sessions
		reg.memorySessions = sessions
		reg.counters = memoryrepo.NewCounterRepository()
	case config.SessionBackendFirestore:
		if provider == nil {
			return nil, errors.New("firestore session backend requires a firestore provider")
		}
		sessions, err := firestorerepo.NewSessionRepository(provider, firestorerepo.WithSessionClock(clock))
		if err != nil {
			return nil, fmt.Errorf("build session repository: %w", err)
		}
		counters, err := firestorerepo.NewCounterRepository(provider, firestorerepo.WithCounterClock(clock))
		if err != nil {
			return nil, fmt.Errorf("build counter repository: %w", err)
		}
		reg.sessions = sessions
		reg.counters = counters
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Sessions.Backend)
	}

	switch cfg.Catalog.Source {
	case config.CatalogSourceFile:
		catalog, err := filerepo.NewCatalogRepository(cfg.Catalog.FilePath)
		if err != nil {
			return nil, fmt.Errorf("build catalog repository: %w", err)
		}
		reg.catalog = catalog
	case config.CatalogSourceFirestore:
		if provider == nil {
			return nil, errors.New("firestore catalog source requires a firestore provider")
		}
		catalog, err := firestorerepo.NewCatalogRepository(provider, cfg.Catalog.Document)
		if err != nil {
			return nil, fmt.Errorf("build catalog repository: %w", err)
		}
		reg.catalog = catalog
	default:
		return nil, fmt.Errorf("unsupported catalog source %q", cfg.Catalog.Source)
	}

	return reg, nil
}

// attachHealth installs the readiness checks once the probed collaborators exist.
func (r *registry) attachHealth(checks []repositories.DependencyCheck, clock func() time.Time) error {
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(clock))
	if err != nil {
		return err
	}
	r.health = health
	return nil
}

func (r *registry) Sessions() repositories.WizardSessionRepository { return r.sessions }

func (r *registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *registry) Counters() repositories.CounterRepository { return r.counters }

func (r *registry) Health() repositories.HealthRepository { return r.health }

// purgeSessions drops expired in-memory snapshots. Firestore expiry is enforced on read.
func (r *registry) purgeSessions(now time.Time) int {
	if r.memorySessions == nil {
		return 0
	}
	return r.memorySessions.Purge(now)
}

func (r *registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
