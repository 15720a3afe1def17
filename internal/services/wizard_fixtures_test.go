package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func intPtr(v int) *int { return &v }

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Version:  "v1",
		Currency: "EUR",
		Categories: []domain.Category{
			{ID: "outerwear", Name: "Outerwear", ProcessingDays: 3},
			{ID: "duvets", Name: "Duvets", ProcessingDays: 5, RequiresFiller: true},
			{ID: "suits", Name: "Suits", ProcessingDays: 4},
			{ID: "pressing", Name: "Pressing", ProcessingDays: 1},
			{ID: "dyeing", Name: "Dyeing", ProcessingDays: 7},
			{ID: "laundry", Name: "Laundry", ProcessingDays: 2},
		},
		Items: []domain.CatalogItem{
			{ID: "coat", CategoryID: "outerwear", Name: "Coat", UnitPrice: dec("100"), Unit: domain.UnitPiece},
			{ID: "scarf", CategoryID: "outerwear", Name: "Scarf", UnitPrice: dec("10.005"), Unit: domain.UnitPiece},
			{ID: "duvet", CategoryID: "duvets", Name: "Duvet", UnitPrice: dec("80"), Unit: domain.UnitPiece},
			{ID: "jacket", CategoryID: "suits", Name: "Suit jacket", UnitPrice: dec("150"), Unit: domain.UnitPiece},
			{ID: "press-shirt", CategoryID: "pressing", Name: "Shirt pressing", UnitPrice: dec("50"), Unit: domain.UnitPiece},
			{ID: "dye-dress", CategoryID: "dyeing", Name: "Dress dyeing", UnitPrice: dec("60"), Unit: domain.UnitPiece},
			{ID: "laundry-kg", CategoryID: "laundry", Name: "Laundry by weight", UnitPrice: dec("4.5"), Unit: domain.UnitKilogram},
		},
		Modifiers: domain.ModifierCatalog{
			Urgencies: []domain.Modifier{
				{ID: "standard", Code: "STD", Name: "Standard", Kind: domain.ModifierKindUrgency, Effect: domain.EffectPercentage, Value: dec("0"), Default: true},
				{ID: "express", Code: "EXP", Name: "Express", Kind: domain.ModifierKindUrgency, Effect: domain.EffectPercentage, Value: dec("20"), TurnaroundHours: 24},
				{ID: "same-day", Code: "SD", Name: "Same day", Kind: domain.ModifierKindUrgency, Effect: domain.EffectFixed, Value: dec("30"), TurnaroundHours: 8},
			},
			Discounts: []domain.Modifier{
				{ID: "none", Code: "NONE", Name: "No discount", Kind: domain.ModifierKindDiscount, Effect: domain.EffectPercentage, Value: dec("0")},
				{ID: "loyalty10", Code: "LOY10", Name: "Loyalty 10%", Kind: domain.ModifierKindDiscount, Effect: domain.EffectPercentage, Value: dec("10")},
				{ID: "custom", Code: "CUST", Name: "Custom", Kind: domain.ModifierKindDiscount, Effect: domain.EffectPercentage, Value: dec("5"), Adjustable: true, MinValue: decPtr("0"), MaxValue: decPtr("50")},
				{ID: "voucher50", Code: "V50", Name: "Voucher 50", Kind: domain.ModifierKindDiscount, Effect: domain.EffectFixed, Value: dec("50")},
				{ID: "employee", Code: "EMP", Name: "Employee", Kind: domain.ModifierKindDiscount, Effect: domain.EffectPercentage, Value: dec("20"), ExcludedCategories: []string{"suits"}},
			},
			ItemModifiers: []domain.Modifier{
				{ID: "child", Code: "CHD", Name: "Child size", Kind: domain.ModifierKindItem, Effect: domain.EffectPercentage, Value: dec("-30"), Order: 5},
				{ID: "delicate", Code: "DEL", Name: "Delicate", Kind: domain.ModifierKindItem, Effect: domain.EffectPercentage, Value: dec("30"), Order: 10},
				{ID: "heavy-soil", Code: "HVY", Name: "Heavy soiling", Kind: domain.ModifierKindItem, Effect: domain.EffectCompoundingPercentage, Value: dec("50"), Order: 20},
				{ID: "express-stain", Code: "STN", Name: "Stain treatment", Kind: domain.ModifierKindItem, Effect: domain.EffectFixed, Value: dec("25"), Order: 30},
				{ID: "buttons", Code: "BTN", Name: "Button care", Kind: domain.ModifierKindItem, Effect: domain.EffectFixed, Value: dec("5"), PerUnit: true, Order: 40, ApplicableCategories: []string{"outerwear"}},
				{ID: "goodwill", Code: "GW", Name: "Goodwill", Kind: domain.ModifierKindItem, Effect: domain.EffectFixed, Value: dec("-150"), Order: 50},
				{ID: "manual", Code: "MAN", Name: "Manual adjustment", Kind: domain.ModifierKindItem, Effect: domain.EffectFixed, Value: dec("0"), Adjustable: true, MinValue: decPtr("-100"), MaxValue: decPtr("100"), Order: 60},
			},
			DiscountExcludedCategories: []string{"pressing", "dyeing"},
		},
		MaxPhotosPerItem: 3,
	}
}

func newTestPricingEngine(t *testing.T) *OrderPricingEngine {
	t.Helper()
	engine, err := NewOrderPricingEngine(OrderPricingEngineConfig{Currency: "EUR", MinorUnits: 2})
	if err != nil {
		t.Fatalf("NewOrderPricingEngine error: %v", err)
	}
	return engine
}

// sequentialIDs returns a generator producing id-1, id-2, ...
func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(OrchestratorDeps{
		Pricing: newTestPricingEngine(t),
		Catalog: testCatalog(),
		Clock:   func() time.Time { return fixedNow },
		NewID:   sequentialIDs("id"),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator error: %v", err)
	}
	return orch
}

// pricedDraft builds a committed-looking item priced by the engine.
func pricedDraft(t *testing.T, engine *OrderPricingEngine, id, catalogItemID, quantity string, modifiers ...string) domain.OrderItemDraft {
	t.Helper()
	catalog := testCatalog()
	entry, ok := catalog.Item(catalogItemID)
	if !ok {
		t.Fatalf("unknown catalog item %s", catalogItemID)
	}
	item := domain.OrderItemDraft{
		ID:            id,
		CategoryID:    entry.CategoryID,
		CatalogItemID: entry.ID,
		Name:          entry.Name,
		Quantity:      dec(quantity),
		UnitOfMeasure: entry.Unit,
		UnitPrice:     entry.UnitPrice,
		Characteristics: domain.ItemCharacteristics{
			Material:  "wool",
			Color:     "navy",
			Filler:    "down",
			WearLevel: intPtr(10),
		},
	}
	for _, m := range modifiers {
		item.SelectedModifiers = append(item.SelectedModifiers, domain.ModifierSelection{ModifierID: m})
	}
	breakdown, err := engine.PriceItem(item, catalog)
	if err != nil {
		t.Fatalf("PriceItem(%s) error: %v", id, err)
	}
	item.PriceBreakdown = &breakdown
	return item
}

// toItemManager drives a fresh orchestrator to the item manager stage.
func toItemManager(t *testing.T, orch *Orchestrator) {
	t.Helper()
	if err := orch.SelectClient(domain.ClientRef{ID: "C1", DisplayName: "Ada"}); err != nil {
		t.Fatalf("SelectClient error: %v", err)
	}
	if _, err := orch.Advance(); err != nil {
		t.Fatalf("Advance to branch error: %v", err)
	}
	if err := orch.SelectBranch(domain.BranchRef{ID: "B1", Code: "north"}); err != nil {
		t.Fatalf("SelectBranch error: %v", err)
	}
	if _, err := orch.Advance(); err != nil {
		t.Fatalf("Advance to items error: %v", err)
	}
}

// addItem runs the full sub-wizard for one catalog item and commits it.
func addItem(t *testing.T, orch *Orchestrator, catalogItemID, quantity string, modifiers ...string) domain.OrderItemDraft {
	t.Helper()
	if _, err := orch.StartEditing(""); err != nil {
		t.Fatalf("StartEditing error: %v", err)
	}
	entry, _ := orch.Catalog().Item(catalogItemID)
	if err := orch.UpdateIdentity(ItemIdentityInput{CategoryID: entry.CategoryID, CatalogItemID: catalogItemID, Quantity: dec(quantity)}); err != nil {
		t.Fatalf("UpdateIdentity error: %v", err)
	}
	advanceItem(t, orch)
	if err := orch.UpdateCharacteristics(ItemCharacteristicsInput{Material: "wool", Color: "navy", Filler: "down", WearLevel: intPtr(10)}); err != nil {
		t.Fatalf("UpdateCharacteristics error: %v", err)
	}
	advanceItem(t, orch)
	advanceItem(t, orch)
	if len(modifiers) > 0 {
		selections := make([]domain.ModifierSelection, 0, len(modifiers))
		for _, m := range modifiers {
			selections = append(selections, domain.ModifierSelection{ModifierID: m})
		}
		if err := orch.SelectItemModifiers(selections); err != nil {
			t.Fatalf("SelectItemModifiers error: %v", err)
		}
	}
	advanceItem(t, orch)
	item, err := orch.CompleteEditing()
	if err != nil {
		t.Fatalf("CompleteEditing error: %v", err)
	}
	return item
}

func advanceItem(t *testing.T, orch *Orchestrator) {
	t.Helper()
	if _, err := orch.AdvanceSubStep(); err != nil {
		t.Fatalf("AdvanceSubStep error: %v", err)
	}
}

// toConfirmation adds one coat and drives the orchestrator to confirmation.
func toConfirmation(t *testing.T, orch *Orchestrator) {
	t.Helper()
	toItemManager(t, orch)
	addItem(t, orch, "coat", "2")
	if _, err := orch.Advance(); err != nil {
		t.Fatalf("Advance to parameters error: %v", err)
	}
	if err := orch.SetDiscount(domain.DiscountSelection{DiscountID: "none"}); err != nil {
		t.Fatalf("SetDiscount error: %v", err)
	}
	if _, err := orch.Advance(); err != nil {
		t.Fatalf("Advance to confirmation error: %v", err)
	}
}
