package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cleanline/api/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextCalls      []counterCall
	configureCalls []configureCall
}

type counterCall struct {
	ID   string
	Step int64
}

type configureCall struct {
	ID  string
	Cfg repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, configureCall{ID: counterID, Cfg: cfg})
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextFormatsAndConfiguresOnce(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 42, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	ctx := context.Background()
	opts := CounterGenerationOptions{Step: 5, Prefix: "TAG-", PadLength: 4}
	for i := 0; i < 2; i++ {
		value, err := svc.Next(ctx, "tags", "global", opts)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if value.Value != 42 || value.Formatted != "TAG-0042" {
			t.Fatalf("unexpected value %#v", value)
		}
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected configure called once, got %d", len(repo.configureCalls))
	}
	if repo.configureCalls[0].Cfg.Step != 5 {
		t.Fatalf("expected configure step 5, got %d", repo.configureCalls[0].Cfg.Step)
	}
	if len(repo.nextCalls) != 2 || repo.nextCalls[0].ID != "tags:global" {
		t.Fatalf("unexpected next calls %#v", repo.nextCalls)
	}
}

func TestCounterServiceRejectsInvalidInput(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{Repository: &stubCounterRepository{}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Next(ctx, " ", "name", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for empty scope, got %v", err)
	}
	if _, err := svc.Next(ctx, "scope", "name", CounterGenerationOptions{Step: -1}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for negative step, got %v", err)
	}
	if _, err := svc.NextReceiptNumber(ctx, "  "); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input for empty branch, got %v", err)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "limit", nil)
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	_, err = svc.Next(context.Background(), "test", "limit", CounterGenerationOptions{})
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestCounterServiceNextReceiptNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{
		Repository:    repo,
		ReceiptPrefix: "cl",
		Clock: func() time.Time {
			return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	result, err := svc.NextReceiptNumber(context.Background(), " north hub ")
	if err != nil {
		t.Fatalf("next receipt number: %v", err)
	}
	if result != "CL-NORTH-HUB-2026-000007" {
		t.Fatalf("unexpected receipt number %s", result)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nextCalls) != 1 {
		t.Fatalf("expected one next call, got %d", len(repo.nextCalls))
	}
	if repo.nextCalls[0].ID != "receipts:NORTH-HUB-2026" {
		t.Fatalf("unexpected counter id %s", repo.nextCalls[0].ID)
	}
	if len(repo.configureCalls) != 0 {
		t.Fatalf("receipt counters should use repository defaults, got %d configure calls", len(repo.configureCalls))
	}
}
