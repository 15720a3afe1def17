package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository issues receipt sequence values inside Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

// CounterRepositoryOption customises the repository.
type CounterRepositoryOption func(*CounterRepository)

// WithCounterClock overrides the clock stamped into updatedAt.
func WithCounterClock(clock func() time.Time) CounterRepositoryOption {
	return func(r *CounterRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, opts ...CounterRepositoryOption) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	repo := &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Next increments the counter and returns the new value. A missing counter starts at its first step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := repositories.NormalizeCounterID(counterID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		now := r.clock().UTC()

		doc, exists, err := pfirestore.GetInTx[counterDocument](tx, ref)
		if err != nil {
			return fmt.Errorf("firestore counters read %s: %w", id, err)
		}

		value, applied, err := repositories.NextCounterValue(id, doc.CurrentValue, doc.Step, doc.MaxValue, step)
		if err != nil {
			return err
		}
		doc.CurrentValue = value
		doc.Step = applied
		doc.UpdatedAt = now
		if !exists {
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
		} else if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

// Configure stores step and max value. An initial value only raises the counter, it never rewinds it.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id, err := repositories.NormalizeCounterID(counterID)
	if err != nil {
		return err
	}
	if cfg.Step < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", cfg.Step), nil)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc, exists, err := pfirestore.GetInTx[counterDocument](tx, ref)
		if err != nil {
			return fmt.Errorf("firestore counters read %s: %w", id, err)
		}

		if cfg.Step > 0 {
			doc.Step = cfg.Step
		}
		if cfg.MaxValue != nil {
			maxValue := *cfg.MaxValue
			doc.MaxValue = &maxValue
		}
		if cfg.InitialValue != nil && (!exists || doc.CurrentValue < *cfg.InitialValue) {
			doc.CurrentValue = *cfg.InitialValue
		}
		doc.UpdatedAt = r.clock().UTC()
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
