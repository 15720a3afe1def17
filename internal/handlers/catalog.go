package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/platform/httpx"
	"github.com/cleanline/api/internal/services"
)

// CatalogHandlers serves the price list and modifier catalog used by the intake counter.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs the catalog endpoints.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCatalog)
	r.Post("/refresh", h.refreshCatalog)
}

func (h *CatalogHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	catalog, err := h.catalog.Current(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCatalogPayload(catalog))
}

func (h *CatalogHandlers) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	catalog, err := h.catalog.Refresh(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCatalogPayload(catalog))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_invalid", err.Error(), http.StatusInternalServerError))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to load catalog", http.StatusInternalServerError))
	}
}

type catalogPayload struct {
	Version          string               `json:"version"`
	Currency         string               `json:"currency"`
	Categories       []categoryPayload    `json:"categories"`
	Items            []catalogItemPayload `json:"items"`
	Urgencies        []modifierPayload    `json:"urgencies"`
	Discounts        []modifierPayload    `json:"discounts"`
	ItemModifiers    []modifierPayload    `json:"item_modifiers"`
	DiscountExcluded []string             `json:"discount_excluded_categories"`
	MaxPhotosPerItem int                  `json:"max_photos_per_item"`
	UpdatedAt        *time.Time           `json:"updated_at,omitempty"`
}

type categoryPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ProcessingDays int    `json:"processing_days"`
	RequiresFiller bool   `json:"requires_filler,omitempty"`
}

type catalogItemPayload struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	UnitPrice  string `json:"unit_price"`
	Unit       string `json:"unit"`
}

type modifierPayload struct {
	ID                   string   `json:"id"`
	Code                 string   `json:"code,omitempty"`
	Name                 string   `json:"name"`
	Effect               string   `json:"effect"`
	Value                string   `json:"value"`
	Order                int      `json:"order,omitempty"`
	PerUnit              bool     `json:"per_unit,omitempty"`
	Adjustable           bool     `json:"adjustable,omitempty"`
	MinValue             *string  `json:"min_value,omitempty"`
	MaxValue             *string  `json:"max_value,omitempty"`
	ApplicableCategories []string `json:"applicable_categories,omitempty"`
	ExcludedCategories   []string `json:"excluded_categories,omitempty"`
	Default              bool     `json:"default,omitempty"`
	TurnaroundHours      int      `json:"turnaround_hours,omitempty"`
}

func buildCatalogPayload(catalog domain.Catalog) catalogPayload {
	payload := catalogPayload{
		Version:          catalog.Version,
		Currency:         catalog.Currency,
		Categories:       make([]categoryPayload, 0, len(catalog.Categories)),
		Items:            make([]catalogItemPayload, 0, len(catalog.Items)),
		Urgencies:        buildModifierPayloads(catalog.Modifiers.Urgencies),
		Discounts:        buildModifierPayloads(catalog.Modifiers.Discounts),
		ItemModifiers:    buildModifierPayloads(catalog.Modifiers.ItemModifiers),
		DiscountExcluded: nonNilStrings(catalog.Modifiers.DiscountExcludedCategories),
		MaxPhotosPerItem: catalog.PhotoLimit(),
	}
	if !catalog.UpdatedAt.IsZero() {
		updated := catalog.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	for _, c := range catalog.Categories {
		payload.Categories = append(payload.Categories, categoryPayload{
			ID:             c.ID,
			Name:           c.Name,
			ProcessingDays: c.ProcessingDays,
			RequiresFiller: c.RequiresFiller,
		})
	}
	for _, item := range catalog.Items {
		payload.Items = append(payload.Items, catalogItemPayload{
			ID:         item.ID,
			CategoryID: item.CategoryID,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice.String(),
			Unit:       string(item.Unit),
		})
	}
	return payload
}

func buildModifierPayloads(modifiers []domain.Modifier) []modifierPayload {
	out := make([]modifierPayload, 0, len(modifiers))
	for _, m := range modifiers {
		out = append(out, modifierPayload{
			ID:                   m.ID,
			Code:                 m.Code,
			Name:                 m.Name,
			Effect:               string(m.Effect),
			Value:                m.Value.String(),
			Order:                m.Order,
			PerUnit:              m.PerUnit,
			Adjustable:           m.Adjustable,
			MinValue:             decimalPtrString(m.MinValue),
			MaxValue:             decimalPtrString(m.MaxValue),
			ApplicableCategories: m.ApplicableCategories,
			ExcludedCategories:   m.ExcludedCategories,
			Default:              m.Default,
			TurnaroundHours:      m.TurnaroundHours,
		})
	}
	return out
}
