package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnitOfMeasure describes how a catalog item quantity is counted.
type UnitOfMeasure string

const (
	UnitPiece       UnitOfMeasure = "piece"
	UnitPair        UnitOfMeasure = "pair"
	UnitKilogram    UnitOfMeasure = "kg"
	UnitSquareMeter UnitOfMeasure = "sqm"
)

// AllowsFractional reports whether quantities may contain a fractional part (weight or area units).
func (u UnitOfMeasure) AllowsFractional() bool {
	switch u {
	case UnitKilogram, UnitSquareMeter:
		return true
	default:
		return false
	}
}

// Valid reports whether the unit is one of the known units.
func (u UnitOfMeasure) Valid() bool {
	switch u {
	case UnitPiece, UnitPair, UnitKilogram, UnitSquareMeter:
		return true
	default:
		return false
	}
}

// ModifierKind groups modifiers by where they apply.
type ModifierKind string

const (
	ModifierKindUrgency  ModifierKind = "urgency"
	ModifierKindDiscount ModifierKind = "discount"
	ModifierKindItem     ModifierKind = "item"
)

// ModifierEffect declares how a modifier value turns into an amount.
type ModifierEffect string

const (
	// EffectPercentage applies Value percent to the declared base (item base price or order subtotal).
	EffectPercentage ModifierEffect = "percentage"
	// EffectFixed adds Value as an amount in major currency units.
	EffectFixed ModifierEffect = "fixed"
	// EffectCompoundingPercentage applies Value percent to the running item subtotal after earlier modifiers.
	EffectCompoundingPercentage ModifierEffect = "compounding_percentage"
)

// Valid reports whether the effect is known.
func (e ModifierEffect) Valid() bool {
	switch e {
	case EffectPercentage, EffectFixed, EffectCompoundingPercentage:
		return true
	default:
		return false
	}
}

// Category groups catalog items that share processing rules.
type Category struct {
	ID             string
	Name           string
	ProcessingDays int
	RequiresFiller bool
}

// CatalogItem is one price-list entry.
type CatalogItem struct {
	ID         string
	CategoryID string
	Name       string
	UnitPrice  decimal.Decimal
	Unit       UnitOfMeasure
}

// Modifier is a catalog-defined price adjustment.
type Modifier struct {
	ID     string
	Code   string
	Name   string
	Kind   ModifierKind
	Effect ModifierEffect
	Value  decimal.Decimal
	// Order is the catalog-declared application order for item modifiers.
	Order int
	// PerUnit multiplies fixed amounts by the item quantity.
	PerUnit bool
	// Adjustable modifiers accept an operator supplied value within MinValue..MaxValue.
	Adjustable bool
	MinValue   *decimal.Decimal
	MaxValue   *decimal.Decimal
	// ApplicableCategories restricts item modifiers; empty means every category.
	ApplicableCategories []string
	// ExcludedCategories lists categories a discount never applies to, on top of the catalog-wide list.
	ExcludedCategories []string
	// Default marks the baseline urgency level used when the operator never chooses one.
	Default bool
	// TurnaroundHours shortens the estimated ready date for urgency levels; zero keeps category processing days.
	TurnaroundHours int
}

// AppliesTo reports whether the modifier may be selected for items of the category.
func (m Modifier) AppliesTo(categoryID string) bool {
	if len(m.ApplicableCategories) == 0 {
		return true
	}
	return containsFold(m.ApplicableCategories, categoryID)
}

// WithinBounds reports whether an operator supplied value respects the declared bounds.
func (m Modifier) WithinBounds(value decimal.Decimal) bool {
	if m.MinValue != nil && value.LessThan(*m.MinValue) {
		return false
	}
	if m.MaxValue != nil && value.GreaterThan(*m.MaxValue) {
		return false
	}
	return true
}

// EffectiveValue resolves the value used for pricing given an optional override.
func (m Modifier) EffectiveValue(override *decimal.Decimal) decimal.Decimal {
	if override != nil && m.Adjustable {
		return *override
	}
	return m.Value
}

// ModifierCatalog bundles every modifier definition the wizard can apply.
type ModifierCatalog struct {
	Urgencies     []Modifier
	Discounts     []Modifier
	ItemModifiers []Modifier
	// DiscountExcludedCategories are never eligible for any discount.
	DiscountExcludedCategories []string
}

// Catalog is the read-only price list and modifier catalog snapshot consumed by the wizard.
type Catalog struct {
	Version          string
	Currency         string
	Categories       []Category
	Items            []CatalogItem
	Modifiers        ModifierCatalog
	MaxPhotosPerItem int
	UpdatedAt        time.Time
}

// Category looks up a category by id.
func (c Catalog) Category(id string) (Category, bool) {
	for _, category := range c.Categories {
		if category.ID == id {
			return category, true
		}
	}
	return Category{}, false
}

// Item looks up a price-list entry by id.
func (c Catalog) Item(id string) (CatalogItem, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}
	return CatalogItem{}, false
}

// Urgency looks up an urgency level by id.
func (c Catalog) Urgency(id string) (Modifier, bool) {
	return findModifier(c.Modifiers.Urgencies, id)
}

// Discount looks up a discount type by id.
func (c Catalog) Discount(id string) (Modifier, bool) {
	return findModifier(c.Modifiers.Discounts, id)
}

// ItemModifier looks up an item-level modifier by id.
func (c Catalog) ItemModifier(id string) (Modifier, bool) {
	return findModifier(c.Modifiers.ItemModifiers, id)
}

// DefaultUrgency returns the standard urgency baseline.
func (c Catalog) DefaultUrgency() (Modifier, bool) {
	for _, m := range c.Modifiers.Urgencies {
		if m.Default {
			return m, true
		}
	}
	return Modifier{}, false
}

// ResolveUrgency returns the selected urgency or the catalog default when none was chosen.
func (c Catalog) ResolveUrgency(id string) (Modifier, bool) {
	if strings.TrimSpace(id) == "" {
		return c.DefaultUrgency()
	}
	return c.Urgency(id)
}

// DiscountExcluded reports whether items of the category are excluded from the given discount.
func (c Catalog) DiscountExcluded(categoryID string, discount Modifier) bool {
	if containsFold(c.Modifiers.DiscountExcludedCategories, categoryID) {
		return true
	}
	return containsFold(discount.ExcludedCategories, categoryID)
}

// PhotoLimit returns the per-item photo limit.
func (c Catalog) PhotoLimit() int {
	if c.MaxPhotosPerItem > 0 {
		return c.MaxPhotosPerItem
	}
	return DefaultMaxPhotosPerItem
}

// DefaultMaxPhotosPerItem applies when the catalog does not declare a limit.
const DefaultMaxPhotosPerItem = 5

func findModifier(list []Modifier, id string) (Modifier, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Modifier{}, false
	}
	for _, m := range list {
		if m.ID == id {
			return m, true
		}
	}
	return Modifier{}, false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
