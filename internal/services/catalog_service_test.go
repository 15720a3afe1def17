package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

type stubCatalogRepository struct {
	loadFn func(context.Context) (domain.Catalog, error)
	calls  int
}

func (s *stubCatalogRepository) Load(ctx context.Context) (domain.Catalog, error) {
	s.calls++
	if s.loadFn != nil {
		return s.loadFn(ctx)
	}
	return testCatalog(), nil
}

func TestNewCatalogService(t *testing.T) {
	if _, err := NewCatalogService(CatalogServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestCatalogServiceCachesWithinTTL(t *testing.T) {
	now := fixedNow
	repo := &stubCatalogRepository{}
	svc, err := NewCatalogService(CatalogServiceDeps{
		Repository: repo,
		TTL:        time.Minute,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Current(context.Background()); err != nil {
			t.Fatalf("Current error: %v", err)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("expected one load within ttl, got %d", repo.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.Current(context.Background()); err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d", repo.calls)
	}
}

func TestCatalogServiceServesStaleOnFailure(t *testing.T) {
	now := fixedNow
	failing := false
	repo := &stubCatalogRepository{
		loadFn: func(context.Context) (domain.Catalog, error) {
			if failing {
				return domain.Catalog{}, errors.New("backend down")
			}
			return testCatalog(), nil
		},
	}
	var events []string
	svc, err := NewCatalogService(CatalogServiceDeps{
		Repository: repo,
		TTL:        time.Minute,
		Clock:      func() time.Time { return now },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Current(context.Background()); err != nil {
		t.Fatalf("Current error: %v", err)
	}

	failing = true
	now = now.Add(time.Hour)
	catalog, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("expected stale catalog, got error %v", err)
	}
	if catalog.Version != "v1" {
		t.Fatalf("expected cached version v1, got %s", catalog.Version)
	}
	if events[len(events)-1] != catalogLoggerEventStale {
		t.Fatalf("expected stale event, got %v", events)
	}

	if _, err := svc.Refresh(context.Background()); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected explicit refresh to surface ErrCatalogUnavailable, got %v", err)
	}
}

func TestCatalogServiceUnavailableWithoutCache(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "backend error", err: errors.New("dial timeout")},
		{name: "not found", err: repositories.NewStoreError("catalog.load", repositories.ErrorKindNotFound, errors.New("missing"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubCatalogRepository{loadFn: func(context.Context) (domain.Catalog, error) {
				return domain.Catalog{}, tc.err
			}}
			svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := svc.Current(context.Background()); !errors.Is(err, ErrCatalogUnavailable) {
				t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
			}
		})
	}
}

func TestCatalogServiceRejectsInvalidCatalog(t *testing.T) {
	invalid := false
	repo := &stubCatalogRepository{loadFn: func(context.Context) (domain.Catalog, error) {
		c := testCatalog()
		if invalid {
			c.Version = "v2"
			c.Items = append(c.Items, domain.CatalogItem{ID: "ghost", CategoryID: "missing", Unit: domain.UnitPiece})
		}
		return c, nil
	}}
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	invalid = true
	if _, err := svc.Refresh(context.Background()); !errors.Is(err, ErrCatalogInvalid) {
		t.Fatalf("expected ErrCatalogInvalid, got %v", err)
	}
	current, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if current.Version != "v1" {
		t.Fatalf("expected previous catalog to be kept, got %s", current.Version)
	}
}

func TestValidateCatalogReportsAllProblems(t *testing.T) {
	c := testCatalog()
	c.Version = ""
	c.Categories = append(c.Categories, domain.Category{ID: "outerwear"})
	c.Items = append(c.Items, domain.CatalogItem{ID: "rug", CategoryID: "rugs", Unit: "yard", UnitPrice: dec("-1")})
	c.Modifiers.Urgencies = append(c.Modifiers.Urgencies, domain.Modifier{ID: "rush", Effect: domain.EffectPercentage, Default: true})
	c.Modifiers.Discounts = append(c.Modifiers.Discounts, domain.Modifier{ID: "odd", Effect: domain.EffectCompoundingPercentage})
	c.Modifiers.ItemModifiers = append(c.Modifiers.ItemModifiers, domain.Modifier{
		ID: "bounded", Effect: domain.EffectFixed, Value: dec("5"), MinValue: decPtr("10"), MaxValue: decPtr("1"),
	})

	err := ValidateCatalog(c)
	if !errors.Is(err, ErrCatalogInvalid) {
		t.Fatalf("expected ErrCatalogInvalid, got %v", err)
	}
	for _, want := range []string{
		"version is required",
		`category "outerwear" is defined twice`,
		`catalog item "rug" references unknown category "rugs"`,
		`catalog item "rug" has unknown unit "yard"`,
		`catalog item "rug" has a negative price`,
		"at most one urgency can be the default, found 2",
		`discount "odd" has unsupported effect "compounding_percentage"`,
		`item modifier "bounded" has min value above max value`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	if err := ValidateCatalog(testCatalog()); err != nil {
		t.Fatalf("expected fixture catalog to validate, got %v", err)
	}
}
