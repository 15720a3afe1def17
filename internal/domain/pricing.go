package domain

import "github.com/shopspring/decimal"

// ModifierSelection references a catalog modifier chosen by the operator.
// Value overrides the catalog value for adjustable modifiers only.
type ModifierSelection struct {
	ModifierID string
	Value      *decimal.Decimal
}

// Clone returns a deep copy of the selection.
func (s ModifierSelection) Clone() ModifierSelection {
	out := ModifierSelection{ModifierID: s.ModifierID}
	if s.Value != nil {
		v := *s.Value
		out.Value = &v
	}
	return out
}

// ModifierApplication records the effect of one modifier at the time it was applied.
type ModifierApplication struct {
	ModifierID string
	Code       string
	Name       string
	Effect     ModifierEffect
	// Value is the percentage points or fixed amount used.
	Value decimal.Decimal
	// Amount is the signed amount the modifier contributed.
	Amount decimal.Decimal
}

// PriceBreakdown is the itemised price of one order item. Amounts are unrounded.
type PriceBreakdown struct {
	UnitPrice      decimal.Decimal
	Quantity       decimal.Decimal
	BasePrice      decimal.Decimal
	Modifiers      []ModifierApplication
	ModifiersTotal decimal.Decimal
	FinalPrice     decimal.Decimal
	// Clamped is set when modifiers would have driven the price below zero.
	Clamped bool
}

// Clone returns a deep copy of the breakdown.
func (b PriceBreakdown) Clone() PriceBreakdown {
	out := b
	if b.Modifiers != nil {
		out.Modifiers = append([]ModifierApplication{}, b.Modifiers...)
	}
	return out
}

// OrderTotals is derived from the committed items and order modifiers and is never edited directly.
// Every field except FinalTotal and BalanceDue is kept at full precision.
// ModifiersTotal sums the items' breakdown ModifiersTotal. A clamped item contributes its full modifier
// amount, so ItemsSubtotal can exceed the base prices plus ModifiersTotal.
type OrderTotals struct {
	Currency                 string
	ItemsSubtotal            decimal.Decimal
	ModifiersTotal           decimal.Decimal
	UrgencySurcharge         decimal.Decimal
	DiscountApplicableAmount decimal.Decimal
	DiscountAmount           decimal.Decimal
	FinalTotal               decimal.Decimal
	Prepaid                  decimal.Decimal
	BalanceDue               decimal.Decimal
}

// PricingResult wraps totals with a completeness marker. When Complete is false the totals must not be shown.
type PricingResult struct {
	Complete       bool
	MissingItemIDs []string
	Totals         OrderTotals
}

// Clone returns a deep copy of the result.
func (r PricingResult) Clone() PricingResult {
	out := r
	if r.MissingItemIDs != nil {
		out.MissingItemIDs = append([]string{}, r.MissingItemIDs...)
	}
	return out
}
