package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanline/api/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(ctx context.Context) error {
			select {
			case <-time.After(5 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		{Name: "storage", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Len(t, report.Checks, 2)
	for name, check := range report.Checks {
		assert.Equal(t, domain.HealthStatusOK, check.Status, name)
		assert.Equal(t, now, check.CheckedAt, name)
	}
	assert.Equal(t, now, report.GeneratedAt)
}

func TestDependencyHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	boom := errors.New("boom")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return boom }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, domain.HealthStatusDegraded, report.Checks["pubsub"].Status)
	assert.Equal(t, boom.Error(), report.Checks["pubsub"].Error)
}

func TestDependencyHealthRepositoryCriticalFailure(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: func(context.Context) error { return errors.New("unreachable") }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusError, report.Status)
}

func TestDependencyHealthRepositoryCollectTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "secrets", Critical: true, Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusError, report.Status)
	check := report.Checks["secrets"]
	assert.Equal(t, domain.HealthStatusError, check.Status)
	assert.Equal(t, "timeout", check.Detail)
}

func TestNewDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	_, err := NewDependencyHealthRepository(nil)
	assert.Error(t, err)

	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: " "}})
	assert.Error(t, err)

	ok := func(context.Context) error { return nil }
	_, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "a", Check: ok}, {Name: "a", Check: ok}})
	assert.Error(t, err)
}
