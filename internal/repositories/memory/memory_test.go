package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

func TestSessionRepositoryLifecycle(t *testing.T) {
	now := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(func() time.Time { return now })
	ctx := context.Background()

	session := domain.WizardSession{
		ID:           "s-1",
		CurrentStage: domain.StageClientSelection,
		Mode:         domain.ModeNormal{},
		Client:       &domain.ClientRef{ID: "c-1", DisplayName: "Ada"},
	}
	require.NoError(t, repo.Save(ctx, session, now.Add(time.Hour)))

	session.Client.DisplayName = "changed after save"
	got, err := repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Client.DisplayName)

	got.Client.DisplayName = "changed after get"
	again, err := repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Client.DisplayName)

	require.NoError(t, repo.Delete(ctx, "s-1"))
	_, err = repo.Get(ctx, "s-1")
	requireNotFound(t, err)
	require.NoError(t, repo.Delete(ctx, "s-1"))
}

func TestSessionRepositoryExpiry(t *testing.T) {
	now := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, domain.WizardSession{ID: "old", CurrentStage: domain.StageClientSelection}, now.Add(time.Minute)))
	require.NoError(t, repo.Save(ctx, domain.WizardSession{ID: "new", CurrentStage: domain.StageClientSelection}, now.Add(time.Hour)))

	now = now.Add(time.Minute)
	_, err := repo.Get(ctx, "old")
	requireNotFound(t, err)
	_, err = repo.Get(ctx, "new")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.Purge(now))
	assert.Equal(t, 1, repo.Len())
}

func TestSessionRepositoryRejectsStaleSnapshot(t *testing.T) {
	now := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(func() time.Time { return now })
	ctx := context.Background()

	current := domain.WizardSession{ID: "s-1", CurrentStage: domain.StageItemManager, UpdatedAt: now}
	require.NoError(t, repo.Save(ctx, current, now.Add(time.Hour)))
	require.NoError(t, repo.Save(ctx, current, now.Add(time.Hour)), "same timestamp is not stale")

	stale := domain.WizardSession{ID: "s-1", CurrentStage: domain.StageClientSelection, UpdatedAt: now.Add(-time.Second)}
	err := repo.Save(ctx, stale, now.Add(time.Hour))
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())

	got, err := repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageItemManager, got.CurrentStage)
}

func TestSessionRepositoryRejectsBlankID(t *testing.T) {
	repo := NewSessionRepository(nil)
	assert.Error(t, repo.Save(context.Background(), domain.WizardSession{}, time.Time{}))
}

func TestSessionRepositoryHonoursCancelledContext(t *testing.T) {
	repo := NewSessionRepository(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.Get(ctx, "s-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCounterRepositoryConcurrentNext(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	const workers = 32
	seen := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := repo.Next(ctx, "receipts:WAW-2026", 1)
			assert.NoError(t, err)
			seen <- value
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{}, workers)
	for value := range seen {
		unique[value] = struct{}{}
		assert.GreaterOrEqual(t, value, int64(1))
		assert.LessOrEqual(t, value, int64(workers))
	}
	assert.Len(t, unique, workers)
}

func TestCounterRepositoryBoundsAndConfiguration(t *testing.T) {
	repo := NewCounterRepository()
	ctx := context.Background()

	maxValue := int64(12)
	start := int64(10)
	require.NoError(t, repo.Configure(ctx, "bounded", repositories.CounterConfig{Step: 2, MaxValue: &maxValue, InitialValue: &start}))

	value, err := repo.Next(ctx, "bounded", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), value)

	_, err = repo.Next(ctx, "bounded", 0)
	assert.True(t, repositories.IsCounterExhausted(err))

	rewind := int64(0)
	require.NoError(t, repo.Configure(ctx, "bounded", repositories.CounterConfig{InitialValue: &rewind}))
	_, err = repo.Next(ctx, "bounded", 0)
	assert.True(t, repositories.IsCounterExhausted(err), "initial value must not rewind an existing counter")

	_, err = repo.Next(ctx, "  ", 1)
	var counterErr *repositories.CounterError
	require.ErrorAs(t, err, &counterErr)
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)

	_, err = repo.Next(ctx, "other", -1)
	require.ErrorAs(t, err, &counterErr)
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsNotFound(), "expected not found, got %v", err)
}
