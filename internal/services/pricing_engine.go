package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

const maxMinorUnits = 4

// OrderPricingEngine turns item drafts and order modifiers into breakdowns and totals.
// It holds no state beyond its currency settings and never mutates its inputs.
type OrderPricingEngine struct {
	currency   string
	minorUnits int32
}

// OrderPricingEngineConfig configures the currency used for the final rounding step.
type OrderPricingEngineConfig struct {
	Currency   string
	MinorUnits int32
}

// NewOrderPricingEngine validates the configuration and constructs the engine.
func NewOrderPricingEngine(cfg OrderPricingEngineConfig) (*OrderPricingEngine, error) {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		return nil, errors.New("order pricing engine: currency is required")
	}
	if cfg.MinorUnits < 0 || cfg.MinorUnits > maxMinorUnits {
		return nil, fmt.Errorf("order pricing engine: minor units must be between 0 and %d", maxMinorUnits)
	}
	return &OrderPricingEngine{
		currency:   currency,
		minorUnits: cfg.MinorUnits,
	}, nil
}

// Currency returns the ISO currency code totals are expressed in.
func (e *OrderPricingEngine) Currency() string { return e.currency }

// MinorUnits returns the number of decimal places the final total is rounded to.
func (e *OrderPricingEngine) MinorUnits() int32 { return e.minorUnits }

// PriceItem computes the breakdown for one item against the current catalog.
func (e *OrderPricingEngine) PriceItem(item domain.OrderItemDraft, catalog domain.Catalog) (domain.PriceBreakdown, error) {
	entry, ok := catalog.Item(strings.TrimSpace(item.CatalogItemID))
	if !ok {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: unknown catalog item %q", ErrPricingInvalidInput, item.CatalogItemID)
	}
	if item.CategoryID != "" && entry.CategoryID != item.CategoryID {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: catalog item %q does not belong to category %q", ErrPricingInvalidInput, entry.ID, item.CategoryID)
	}
	if !item.Quantity.IsPositive() {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: quantity must be positive", ErrPricingInvalidInput)
	}
	if !entry.Unit.AllowsFractional() && !item.Quantity.IsInteger() {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: quantity for unit %q must be a whole number", ErrPricingInvalidInput, entry.Unit)
	}
	if entry.UnitPrice.IsNegative() {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: catalog item %q has a negative price", ErrPricingInvalidInput, entry.ID)
	}

	selected, err := orderedItemModifiers(item.SelectedModifiers, entry.CategoryID, catalog)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	base := entry.UnitPrice.Mul(item.Quantity)
	running := base
	modifiersTotal := decimal.Zero
	applications := make([]domain.ModifierApplication, 0, len(selected))
	for _, sel := range selected {
		value := sel.def.EffectiveValue(sel.override)
		var amount decimal.Decimal
		switch sel.def.Effect {
		case domain.EffectPercentage:
			amount = base.Mul(percent(value))
		case domain.EffectCompoundingPercentage:
			amount = running.Mul(percent(value))
		case domain.EffectFixed:
			amount = value
			if sel.def.PerUnit {
				amount = value.Mul(item.Quantity)
			}
		default:
			return domain.PriceBreakdown{}, fmt.Errorf("%w: modifier %q has unsupported effect %q", ErrPricingInvalidInput, sel.def.ID, sel.def.Effect)
		}
		running = running.Add(amount)
		modifiersTotal = modifiersTotal.Add(amount)
		applications = append(applications, domain.ModifierApplication{
			ModifierID: sel.def.ID,
			Code:       sel.def.Code,
			Name:       sel.def.Name,
			Effect:     sel.def.Effect,
			Value:      value,
			Amount:     amount,
		})
	}

	final := base.Add(modifiersTotal)
	clamped := false
	if final.IsNegative() {
		final = decimal.Zero
		clamped = true
	}

	return domain.PriceBreakdown{
		UnitPrice:      entry.UnitPrice,
		Quantity:       item.Quantity,
		BasePrice:      base,
		Modifiers:      applications,
		ModifiersTotal: modifiersTotal,
		FinalPrice:     final,
		Clamped:        clamped,
	}, nil
}

// PriceOrderInput captures everything order totals depend on.
type PriceOrderInput struct {
	Items     []domain.OrderItemDraft
	Modifiers domain.OrderModifiers
	Payment   domain.PaymentInfo
	Catalog   domain.Catalog
}

// PriceOrder aggregates committed item breakdowns with urgency and discount.
// When any item lacks a breakdown the result is marked incomplete and an *IncompletePricingError is returned.
func (e *OrderPricingEngine) PriceOrder(in PriceOrderInput) (domain.PricingResult, error) {
	var missing []string
	for _, item := range in.Items {
		if item.PriceBreakdown == nil {
			missing = append(missing, item.ID)
		}
	}
	if len(missing) > 0 {
		return domain.PricingResult{
			Complete:       false,
			MissingItemIDs: missing,
			Totals:         domain.OrderTotals{Currency: e.currency},
		}, &IncompletePricingError{MissingItemIDs: append([]string(nil), missing...)}
	}

	urgency, hasUrgency, err := resolveUrgency(in.Catalog, in.Modifiers.UrgencyID)
	if err != nil {
		return domain.PricingResult{}, err
	}
	discount, discountValue, hasDiscount, err := resolveDiscount(in.Catalog, in.Modifiers.Discount)
	if err != nil {
		return domain.PricingResult{}, err
	}

	subtotal := decimal.Zero
	modifiersTotal := decimal.Zero
	excluded := decimal.Zero
	for _, item := range in.Items {
		breakdown := item.PriceBreakdown
		subtotal = subtotal.Add(breakdown.FinalPrice)
		modifiersTotal = modifiersTotal.Add(breakdown.ModifiersTotal)
		// discount is the zero modifier when none is chosen, leaving only the catalog-wide exclusions.
		if in.Catalog.DiscountExcluded(item.CategoryID, discount) {
			excluded = excluded.Add(breakdown.FinalPrice)
		}
	}

	surcharge := decimal.Zero
	if hasUrgency {
		switch urgency.Effect {
		case domain.EffectPercentage:
			surcharge = subtotal.Mul(percent(urgency.Value))
		case domain.EffectFixed:
			if subtotal.IsPositive() {
				surcharge = urgency.Value
			}
		default:
			return domain.PricingResult{}, fmt.Errorf("%w: urgency %q has unsupported effect %q", ErrPricingInvalidInput, urgency.ID, urgency.Effect)
		}
	}

	applicable := subtotal.Sub(excluded)
	discountAmount := decimal.Zero
	if hasDiscount {
		switch discount.Effect {
		case domain.EffectPercentage:
			discountAmount = applicable.Mul(percent(discountValue))
		case domain.EffectFixed:
			discountAmount = decimal.Min(discountValue, applicable)
		default:
			return domain.PricingResult{}, fmt.Errorf("%w: discount %q has unsupported effect %q", ErrPricingInvalidInput, discount.ID, discount.Effect)
		}
		if discountAmount.IsNegative() {
			discountAmount = decimal.Zero
		}
	}

	final := subtotal.Add(surcharge).Sub(discountAmount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	final = roundHalfUp(final, e.minorUnits)

	prepaid := in.Payment.Prepaid
	balance := final.Sub(prepaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	return domain.PricingResult{
		Complete: true,
		Totals: domain.OrderTotals{
			Currency:                 e.currency,
			ItemsSubtotal:            subtotal,
			ModifiersTotal:           modifiersTotal,
			UrgencySurcharge:         surcharge,
			DiscountApplicableAmount: applicable,
			DiscountAmount:           discountAmount,
			FinalTotal:               final,
			Prepaid:                  prepaid,
			BalanceDue:               balance,
		},
	}, nil
}

type selectedModifier struct {
	def      domain.Modifier
	override *decimal.Decimal
}

func orderedItemModifiers(selections []domain.ModifierSelection, categoryID string, catalog domain.Catalog) ([]selectedModifier, error) {
	if len(selections) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(selections))
	out := make([]selectedModifier, 0, len(selections))
	for _, sel := range selections {
		id := strings.TrimSpace(sel.ModifierID)
		def, ok := catalog.ItemModifier(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown item modifier %q", ErrPricingInvalidInput, sel.ModifierID)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: item modifier %q selected twice", ErrPricingInvalidInput, id)
		}
		seen[id] = struct{}{}
		if !def.AppliesTo(categoryID) {
			return nil, fmt.Errorf("%w: item modifier %q does not apply to category %q", ErrPricingInvalidInput, id, categoryID)
		}
		if err := checkOverride(def, sel.Value); err != nil {
			return nil, err
		}
		out = append(out, selectedModifier{def: def, override: sel.Value})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].def.Order != out[j].def.Order {
			return out[i].def.Order < out[j].def.Order
		}
		return out[i].def.ID < out[j].def.ID
	})
	return out, nil
}

func resolveUrgency(catalog domain.Catalog, id string) (domain.Modifier, bool, error) {
	if strings.TrimSpace(id) == "" {
		def, ok := catalog.DefaultUrgency()
		return def, ok, nil
	}
	def, ok := catalog.Urgency(id)
	if !ok {
		return domain.Modifier{}, false, fmt.Errorf("%w: unknown urgency %q", ErrPricingInvalidInput, id)
	}
	return def, true, nil
}

func resolveDiscount(catalog domain.Catalog, sel *domain.DiscountSelection) (domain.Modifier, decimal.Decimal, bool, error) {
	if sel == nil {
		return domain.Modifier{}, decimal.Zero, false, nil
	}
	def, ok := catalog.Discount(sel.DiscountID)
	if !ok {
		return domain.Modifier{}, decimal.Zero, false, fmt.Errorf("%w: unknown discount %q", ErrPricingInvalidInput, sel.DiscountID)
	}
	if err := checkOverride(def, sel.Value); err != nil {
		return domain.Modifier{}, decimal.Zero, false, err
	}
	return def, def.EffectiveValue(sel.Value), true, nil
}

func checkOverride(def domain.Modifier, value *decimal.Decimal) error {
	if value == nil {
		return nil
	}
	if !def.Adjustable {
		return fmt.Errorf("%w: modifier %q does not accept a custom value", ErrPricingInvalidInput, def.ID)
	}
	if !def.WithinBounds(*value) {
		return fmt.Errorf("%w: value %s for modifier %q is out of bounds", ErrPricingInvalidInput, value.String(), def.ID)
	}
	return nil
}

// percent converts percentage points into a multiplier without a division step.
func percent(points decimal.Decimal) decimal.Decimal {
	return points.Shift(-2)
}

// roundHalfUp rounds non-negative amounts half up to the given number of places.
func roundHalfUp(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Round(places)
}
