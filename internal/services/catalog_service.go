package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

const (
	defaultCatalogTTL = 5 * time.Minute

	catalogLoggerEventRefreshed = "catalog.refreshed"
	catalogLoggerEventStale     = "catalog.stale_served"
	catalogLoggerEventInvalid   = "catalog.invalid"
)

var (
	// ErrCatalogUnavailable indicates no catalog could be loaded.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
	// ErrCatalogInvalid indicates the loaded catalog is internally inconsistent.
	ErrCatalogInvalid = errors.New("catalog: invalid")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Repository repositories.CatalogRepository
	TTL        time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo   repositories.CatalogRepository
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	current  domain.Catalog
	loaded   bool
	loadedAt time.Time
}

// NewCatalogService constructs a caching catalog service over the repository.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("catalog service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &catalogService{
		repo:   deps.Repository,
		ttl:    ttl,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Current returns the cached catalog while it is fresh. When a refresh fails the last good catalog keeps being served.
func (s *catalogService) Current(ctx context.Context) (domain.Catalog, error) {
	s.mu.RLock()
	catalog, loaded, loadedAt := s.current, s.loaded, s.loadedAt
	s.mu.RUnlock()

	if loaded && s.clock().Sub(loadedAt) < s.ttl {
		return catalog, nil
	}

	refreshed, err := s.Refresh(ctx)
	if err == nil {
		return refreshed, nil
	}
	if loaded {
		s.logger(ctx, catalogLoggerEventStale, map[string]any{
			"version": catalog.Version,
			"error":   err.Error(),
		})
		return catalog, nil
	}
	return domain.Catalog{}, err
}

// Refresh reloads the catalog from the repository and replaces the cache when it validates.
func (s *catalogService) Refresh(ctx context.Context) (domain.Catalog, error) {
	catalog, err := s.repo.Load(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Catalog{}, fmt.Errorf("%w: no catalog published", ErrCatalogUnavailable)
		}
		return domain.Catalog{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if err := ValidateCatalog(catalog); err != nil {
		s.logger(ctx, catalogLoggerEventInvalid, map[string]any{
			"version": catalog.Version,
			"error":   err.Error(),
		})
		return domain.Catalog{}, err
	}

	now := s.clock()
	s.mu.Lock()
	s.current = catalog
	s.loaded = true
	s.loadedAt = now
	s.mu.Unlock()

	s.logger(ctx, catalogLoggerEventRefreshed, map[string]any{
		"version":    catalog.Version,
		"categories": len(catalog.Categories),
		"items":      len(catalog.Items),
	})
	return catalog, nil
}

// ValidateCatalog checks references and modifier definitions. All problems are reported together.
func ValidateCatalog(c domain.Catalog) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Version) == "" {
		add("version is required")
	}
	if strings.TrimSpace(c.Currency) == "" {
		add("currency is required")
	}
	if c.MaxPhotosPerItem < 0 {
		add("max photos per item must not be negative")
	}

	categories := make(map[string]struct{}, len(c.Categories))
	for _, category := range c.Categories {
		id := strings.TrimSpace(category.ID)
		if id == "" {
			add("category id is required")
			continue
		}
		if _, dup := categories[id]; dup {
			add("category %q is defined twice", id)
		}
		categories[id] = struct{}{}
		if category.ProcessingDays < 0 {
			add("category %q has negative processing days", id)
		}
	}

	items := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			add("catalog item id is required")
			continue
		}
		if _, dup := items[id]; dup {
			add("catalog item %q is defined twice", id)
		}
		items[id] = struct{}{}
		if _, ok := categories[item.CategoryID]; !ok {
			add("catalog item %q references unknown category %q", id, item.CategoryID)
		}
		if !item.Unit.Valid() {
			add("catalog item %q has unknown unit %q", id, item.Unit)
		}
		if item.UnitPrice.IsNegative() {
			add("catalog item %q has a negative price", id)
		}
	}

	checkModifiers := func(kind string, list []domain.Modifier, allowed ...domain.ModifierEffect) int {
		defaults := 0
		seen := make(map[string]struct{}, len(list))
		for _, m := range list {
			id := strings.TrimSpace(m.ID)
			if id == "" {
				add("%s id is required", kind)
				continue
			}
			if _, dup := seen[id]; dup {
				add("%s %q is defined twice", kind, id)
			}
			seen[id] = struct{}{}
			if !effectAllowed(m.Effect, allowed) {
				add("%s %q has unsupported effect %q", kind, id, m.Effect)
			}
			if m.MinValue != nil && m.MaxValue != nil && m.MinValue.GreaterThan(*m.MaxValue) {
				add("%s %q has min value above max value", kind, id)
			}
			if !m.Adjustable && !m.WithinBounds(m.Value) {
				add("%s %q default value is out of bounds", kind, id)
			}
			for _, ref := range append(append([]string(nil), m.ApplicableCategories...), m.ExcludedCategories...) {
				if _, ok := categories[ref]; !ok {
					add("%s %q references unknown category %q", kind, id, ref)
				}
			}
			if m.Default {
				defaults++
			}
		}
		return defaults
	}

	if defaults := checkModifiers("urgency", c.Modifiers.Urgencies, domain.EffectPercentage, domain.EffectFixed); defaults > 1 {
		add("at most one urgency can be the default, found %d", defaults)
	}
	checkModifiers("discount", c.Modifiers.Discounts, domain.EffectPercentage, domain.EffectFixed)
	checkModifiers("item modifier", c.Modifiers.ItemModifiers, domain.EffectPercentage, domain.EffectFixed, domain.EffectCompoundingPercentage)
	for _, ref := range c.Modifiers.DiscountExcludedCategories {
		if _, ok := categories[ref]; !ok {
			add("discount exclusion references unknown category %q", ref)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrCatalogInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func effectAllowed(effect domain.ModifierEffect, allowed []domain.ModifierEffect) bool {
	for _, candidate := range allowed {
		if candidate == effect {
			return true
		}
	}
	return false
}
