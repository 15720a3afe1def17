package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cleanline/api/internal/repositories"
)

type counterState struct {
	current  int64
	step     int64
	maxValue *int64
}

// CounterRepository issues sequence values from a mutex guarded map.
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]*counterState
}

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]*counterState)}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := repositories.NormalizeCounterID(counterID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.counters[id]
	if state == nil {
		state = &counterState{}
	}
	next, applied, err := repositories.NextCounterValue(id, state.current, state.step, state.maxValue, step)
	if err != nil {
		return 0, err
	}
	state.current = next
	state.step = applied
	r.counters[id] = state
	return next, nil
}

// Configure mirrors the Firestore semantics: the initial value never rewinds an existing counter.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := repositories.NormalizeCounterID(counterID)
	if err != nil {
		return err
	}
	if cfg.Step < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", cfg.Step), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.counters[id]
	if !exists {
		state = &counterState{}
		r.counters[id] = state
	}
	if cfg.Step > 0 {
		state.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		maxValue := *cfg.MaxValue
		state.maxValue = &maxValue
	}
	if cfg.InitialValue != nil && (!exists || state.current < *cfg.InitialValue) {
		state.current = *cfg.InitialValue
	}
	return nil
}
