package repositories

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

// CatalogDocument is the published catalog layout shared by the Firestore document and the YAML file.
// Money and percentages are decimal strings.
type CatalogDocument struct {
	Version                    string             `yaml:"version" firestore:"version"`
	Currency                   string             `yaml:"currency" firestore:"currency"`
	MaxPhotosPerItem           int                `yaml:"maxPhotosPerItem" firestore:"maxPhotosPerItem"`
	Categories                 []CategoryDocument `yaml:"categories" firestore:"categories"`
	Items                      []ItemDocument     `yaml:"items" firestore:"items"`
	Urgencies                  []ModifierDocument `yaml:"urgencies" firestore:"urgencies"`
	Discounts                  []ModifierDocument `yaml:"discounts" firestore:"discounts"`
	ItemModifiers              []ModifierDocument `yaml:"itemModifiers" firestore:"itemModifiers"`
	DiscountExcludedCategories []string           `yaml:"discountExcludedCategories" firestore:"discountExcludedCategories"`
	UpdatedAt                  time.Time          `yaml:"updatedAt" firestore:"updatedAt"`
}

type CategoryDocument struct {
	ID             string `yaml:"id" firestore:"id"`
	Name           string `yaml:"name" firestore:"name"`
	ProcessingDays int    `yaml:"processingDays" firestore:"processingDays"`
	RequiresFiller bool   `yaml:"requiresFiller" firestore:"requiresFiller"`
}

type ItemDocument struct {
	ID         string `yaml:"id" firestore:"id"`
	CategoryID string `yaml:"category" firestore:"categoryId"`
	Name       string `yaml:"name" firestore:"name"`
	UnitPrice  string `yaml:"price" firestore:"unitPrice"`
	Unit       string `yaml:"unit" firestore:"unit"`
}

type ModifierDocument struct {
	ID                   string   `yaml:"id" firestore:"id"`
	Code                 string   `yaml:"code" firestore:"code"`
	Name                 string   `yaml:"name" firestore:"name"`
	Effect               string   `yaml:"effect" firestore:"effect"`
	Value                string   `yaml:"value" firestore:"value"`
	Order                int      `yaml:"order" firestore:"order"`
	PerUnit              bool     `yaml:"perUnit" firestore:"perUnit"`
	Adjustable           bool     `yaml:"adjustable" firestore:"adjustable"`
	MinValue             string   `yaml:"min" firestore:"minValue"`
	MaxValue             string   `yaml:"max" firestore:"maxValue"`
	ApplicableCategories []string `yaml:"categories" firestore:"applicableCategories"`
	ExcludedCategories   []string `yaml:"excludedCategories" firestore:"excludedCategories"`
	Default              bool     `yaml:"default" firestore:"default"`
	TurnaroundHours      int      `yaml:"turnaroundHours" firestore:"turnaroundHours"`
}

// ToDomain converts the document. Cross references are left to catalog validation; only
// unparsable numbers fail here.
func (d CatalogDocument) ToDomain() (domain.Catalog, error) {
	catalog := domain.Catalog{
		Version:          strings.TrimSpace(d.Version),
		Currency:         strings.ToUpper(strings.TrimSpace(d.Currency)),
		MaxPhotosPerItem: d.MaxPhotosPerItem,
		UpdatedAt:        d.UpdatedAt.UTC(),
		Modifiers: domain.ModifierCatalog{
			DiscountExcludedCategories: trimAll(d.DiscountExcludedCategories),
		},
	}

	for _, c := range d.Categories {
		catalog.Categories = append(catalog.Categories, domain.Category{
			ID:             strings.TrimSpace(c.ID),
			Name:           strings.TrimSpace(c.Name),
			ProcessingDays: c.ProcessingDays,
			RequiresFiller: c.RequiresFiller,
		})
	}
	for _, item := range d.Items {
		price, err := parseDecimal(item.UnitPrice)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("catalog item %q price: %w", item.ID, err)
		}
		catalog.Items = append(catalog.Items, domain.CatalogItem{
			ID:         strings.TrimSpace(item.ID),
			CategoryID: strings.TrimSpace(item.CategoryID),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  price,
			Unit:       domain.UnitOfMeasure(strings.ToLower(strings.TrimSpace(item.Unit))),
		})
	}

	var err error
	if catalog.Modifiers.Urgencies, err = convertModifiers(domain.ModifierKindUrgency, d.Urgencies); err != nil {
		return domain.Catalog{}, err
	}
	if catalog.Modifiers.Discounts, err = convertModifiers(domain.ModifierKindDiscount, d.Discounts); err != nil {
		return domain.Catalog{}, err
	}
	if catalog.Modifiers.ItemModifiers, err = convertModifiers(domain.ModifierKindItem, d.ItemModifiers); err != nil {
		return domain.Catalog{}, err
	}
	return catalog, nil
}

func convertModifiers(kind domain.ModifierKind, docs []ModifierDocument) ([]domain.Modifier, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]domain.Modifier, 0, len(docs))
	for _, doc := range docs {
		value, err := parseDecimal(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("%s modifier %q value: %w", kind, doc.ID, err)
		}
		m := domain.Modifier{
			ID:                   strings.TrimSpace(doc.ID),
			Code:                 strings.TrimSpace(doc.Code),
			Name:                 strings.TrimSpace(doc.Name),
			Kind:                 kind,
			Effect:               domain.ModifierEffect(strings.ToLower(strings.TrimSpace(doc.Effect))),
			Value:                value,
			Order:                doc.Order,
			PerUnit:              doc.PerUnit,
			Adjustable:           doc.Adjustable,
			ApplicableCategories: trimAll(doc.ApplicableCategories),
			ExcludedCategories:   trimAll(doc.ExcludedCategories),
			Default:              doc.Default,
			TurnaroundHours:      doc.TurnaroundHours,
		}
		if m.MinValue, err = parseOptionalDecimal(doc.MinValue); err != nil {
			return nil, fmt.Errorf("%s modifier %q min: %w", kind, doc.ID, err)
		}
		if m.MaxValue, err = parseOptionalDecimal(doc.MaxValue); err != nil {
			return nil, fmt.Errorf("%s modifier %q max: %w", kind, doc.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func parseOptionalDecimal(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	value, err := parseDecimal(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
