package services

import (
	"strings"
	"testing"
	"time"

	"github.com/cleanline/api/internal/domain"
)

func hasMessage(messages []string, fragment string) bool {
	for _, m := range messages {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

func TestValidateStageClientAndBranch(t *testing.T) {
	catalog := testCatalog()
	snap := ValidationSnapshot{Catalog: catalog, Now: fixedNow}

	result := ValidateStage(domain.StageClientSelection, snap)
	if result.Valid || !hasMessage(result.BlockingErrors, "client must be selected") {
		t.Fatalf("expected missing client error, got %#v", result)
	}

	past := fixedNow.Add(-time.Hour)
	snap.Session = domain.WizardSession{
		Client:    &domain.ClientRef{ID: "C1"},
		OrderInfo: domain.OrderInfo{TagNumber: "bad tag!", RequestedReadyAt: &past},
	}
	result = ValidateStage(domain.StageBranchAndOrderInfo, snap)
	if result.Valid {
		t.Fatalf("expected branch stage to be invalid")
	}
	for _, fragment := range []string{"branch must be selected", "tag number", "in the past"} {
		if !hasMessage(result.BlockingErrors, fragment) {
			t.Fatalf("expected %q in %v", fragment, result.BlockingErrors)
		}
	}

	snap.Session.Branch = &domain.BranchRef{ID: "B1"}
	snap.Session.OrderInfo = domain.OrderInfo{TagNumber: "A-102"}
	if result := ValidateStage(domain.StageBranchAndOrderInfo, snap); !result.Valid {
		t.Fatalf("expected valid branch stage, got %v", result.BlockingErrors)
	}
}

func TestValidateItemManagerComposesItemValidity(t *testing.T) {
	engine := newTestPricingEngine(t)
	catalog := testCatalog()

	empty := ValidateStage(domain.StageItemManager, ValidationSnapshot{Catalog: catalog})
	if empty.Valid || len(empty.BlockingErrors) == 0 {
		t.Fatalf("expected empty order to be rejected with errors")
	}

	good := pricedDraft(t, engine, "i1", "coat", "1")
	bad := pricedDraft(t, engine, "i2", "duvet", "1")
	bad.Characteristics.Filler = ""
	snap := ValidationSnapshot{
		Session: domain.WizardSession{Items: domain.NewItemList(good, bad)},
		Catalog: catalog,
	}
	result := ValidateStage(domain.StageItemManager, snap)
	if result.Valid {
		t.Fatalf("expected invalid item to block the stage")
	}
	if !hasMessage(result.BlockingErrors, "item 2 (Duvet): filler is required") {
		t.Fatalf("expected prefixed filler error, got %v", result.BlockingErrors)
	}

	snap.Session.Items = domain.NewItemList(good)
	snap.Session.Mode = domain.ModeEditingItem{ItemID: "i9", SubStep: domain.SubStepIdentity}
	result = ValidateStage(domain.StageItemManager, snap)
	if result.Valid || !hasMessage(result.BlockingErrors, "still being edited") {
		t.Fatalf("expected mid-edit rejection, got %#v", result)
	}
}

func TestValidateOrderParameters(t *testing.T) {
	engine := newTestPricingEngine(t)
	catalog := testCatalog()
	item := pricedDraft(t, engine, "i1", "coat", "1")
	session := domain.WizardSession{
		Items:  domain.NewItemList(item),
		Totals: domain.PricingResult{Complete: true, Totals: domain.OrderTotals{ItemsSubtotal: dec("100"), DiscountApplicableAmount: dec("100"), FinalTotal: dec("100")}},
	}

	result := ValidateStage(domain.StageOrderParameters, ValidationSnapshot{Session: session, Catalog: catalog})
	if result.Valid || !hasMessage(result.BlockingErrors, "discount must be selected") {
		t.Fatalf("expected missing discount error, got %#v", result)
	}
	if hasMessage(result.BlockingErrors, "urgency") {
		t.Fatalf("missing urgency must default, got %v", result.BlockingErrors)
	}

	session.OrderModifiers.Discount = &domain.DiscountSelection{DiscountID: "none"}
	if result := ValidateStage(domain.StageOrderParameters, ValidationSnapshot{Session: session, Catalog: catalog}); !result.Valid {
		t.Fatalf("expected valid parameters, got %v", result.BlockingErrors)
	}

	session.Payment = domain.PaymentInfo{Prepaid: dec("150")}
	result = ValidateStage(domain.StageOrderParameters, ValidationSnapshot{Session: session, Catalog: catalog})
	if !hasMessage(result.BlockingErrors, "payment method is required") || !hasMessage(result.BlockingErrors, "exceeds the order total") {
		t.Fatalf("expected payment errors, got %v", result.BlockingErrors)
	}

	session.Payment = domain.PaymentInfo{}
	session.OrderModifiers.Discount = &domain.DiscountSelection{DiscountID: "custom", Value: decPtr("75")}
	result = ValidateStage(domain.StageOrderParameters, ValidationSnapshot{Session: session, Catalog: catalog})
	if !hasMessage(result.BlockingErrors, "value must be between 0 and 50") {
		t.Fatalf("expected bounds error, got %v", result.BlockingErrors)
	}

	session.OrderModifiers.Discount = &domain.DiscountSelection{DiscountID: "loyalty10", Value: decPtr("5")}
	result = ValidateStage(domain.StageOrderParameters, ValidationSnapshot{Session: session, Catalog: catalog})
	if !hasMessage(result.BlockingErrors, "does not accept a custom value") {
		t.Fatalf("expected non adjustable error, got %v", result.BlockingErrors)
	}
}

func TestValidateConfirmationRequiresTerms(t *testing.T) {
	session := domain.WizardSession{
		Items:  domain.NewItemList(domain.OrderItemDraft{ID: "i1"}),
		Totals: domain.PricingResult{Complete: true},
	}
	result := ValidateStage(domain.StageConfirmation, ValidationSnapshot{Session: session, Catalog: testCatalog()})
	if result.Valid || !hasMessage(result.BlockingErrors, "terms must be accepted") {
		t.Fatalf("expected terms error, got %#v", result)
	}
	session.TermsAccepted = true
	if result := ValidateStage(domain.StageConfirmation, ValidationSnapshot{Session: session, Catalog: testCatalog()}); !result.Valid {
		t.Fatalf("expected valid confirmation, got %v", result.BlockingErrors)
	}
}

func TestValidateSubSteps(t *testing.T) {
	catalog := testCatalog()
	cases := []struct {
		name     string
		step     domain.SubStep
		item     domain.OrderItemDraft
		valid    bool
		fragment string
	}{
		{name: "identity missing", step: domain.SubStepIdentity, item: domain.OrderItemDraft{}, fragment: "category is required"},
		{name: "identity mismatch", step: domain.SubStepIdentity, item: domain.OrderItemDraft{CategoryID: "suits", CatalogItemID: "coat", Quantity: dec("1")}, fragment: "does not belong"},
		{name: "identity fractional", step: domain.SubStepIdentity, item: domain.OrderItemDraft{CategoryID: "outerwear", CatalogItemID: "coat", Quantity: dec("0.5")}, fragment: "whole number"},
		{name: "identity weight", step: domain.SubStepIdentity, item: domain.OrderItemDraft{CategoryID: "laundry", CatalogItemID: "laundry-kg", Quantity: dec("0.5")}, valid: true},
		{name: "characteristics missing", step: domain.SubStepCharacteristics, item: domain.OrderItemDraft{}, fragment: "material is required"},
		{name: "characteristics wear", step: domain.SubStepCharacteristics, item: domain.OrderItemDraft{Characteristics: domain.ItemCharacteristics{Material: "wool", Color: "red", WearLevel: intPtr(20)}}, fragment: "wear level"},
		{name: "characteristics filler", step: domain.SubStepCharacteristics, item: domain.OrderItemDraft{CategoryID: "duvets", Characteristics: domain.ItemCharacteristics{Material: "cotton", Color: "white"}}, fragment: "filler is required"},
		{name: "condition waiver", step: domain.SubStepCondition, item: domain.OrderItemDraft{Condition: domain.ItemCondition{NoWarranty: true}}, fragment: "reason is required"},
		{name: "condition ok", step: domain.SubStepCondition, item: domain.OrderItemDraft{Condition: domain.ItemCondition{NoWarranty: true, NoWarrantyReason: "fragile lining"}}, valid: true},
		{name: "pricing missing breakdown", step: domain.SubStepPricing, item: domain.OrderItemDraft{CategoryID: "outerwear"}, fragment: "price could not be calculated"},
		{name: "photos over limit", step: domain.SubStepPhotos, item: domain.OrderItemDraft{Photos: make([]domain.PhotoRef, 4)}, fragment: "at most 3 photos"},
		{name: "photos optional", step: domain.SubStepPhotos, item: domain.OrderItemDraft{}, valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidateSubStep(tc.step, tc.item, catalog)
			if result.Valid != tc.valid {
				t.Fatalf("expected valid=%v, got %#v", tc.valid, result)
			}
			if !tc.valid && !hasMessage(result.BlockingErrors, tc.fragment) {
				t.Fatalf("expected %q in %v", tc.fragment, result.BlockingErrors)
			}
			if !result.Valid && len(result.BlockingErrors) == 0 {
				t.Fatalf("invalid result without blocking errors")
			}
		})
	}
}

func TestValidatePhotosWarnsWhenEmpty(t *testing.T) {
	result := ValidateSubStep(domain.SubStepPhotos, domain.OrderItemDraft{}, testCatalog())
	if !hasMessage(result.Warnings, "no photos") {
		t.Fatalf("expected warning, got %#v", result)
	}
}
