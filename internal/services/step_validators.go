package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

var (
	tagNumberPattern  = regexp.MustCompile(`^[A-Za-z0-9-]{1,20}$`)
	allowedWearLevels = []int{0, 10, 30, 50, 75}
)

const largeQuantityWarning = 50

// ValidationSnapshot is the read-only view a stage validator inspects.
type ValidationSnapshot struct {
	Session domain.WizardSession
	Catalog domain.Catalog
	Now     time.Time
}

type stageValidator func(ValidationSnapshot) domain.StepValidationResult

type subStepValidator func(domain.OrderItemDraft, domain.Catalog) domain.StepValidationResult

var (
	stageValidators = map[domain.Stage]stageValidator{
		domain.StageClientSelection:    validateClientSelection,
		domain.StageBranchAndOrderInfo: validateBranchAndOrderInfo,
		domain.StageItemManager:        validateItemManager,
		domain.StageOrderParameters:    validateOrderParameters,
		domain.StageConfirmation:       validateConfirmation,
	}
	subStepValidators = map[domain.SubStep]subStepValidator{
		domain.SubStepIdentity:        validateIdentity,
		domain.SubStepCharacteristics: validateCharacteristics,
		domain.SubStepCondition:       validateCondition,
		domain.SubStepPricing:         validatePricing,
		domain.SubStepPhotos:          validatePhotos,
	}
)

// ValidateStage runs the validator guarding the transition out of stage.
func ValidateStage(stage domain.Stage, snap ValidationSnapshot) domain.StepValidationResult {
	validator, ok := stageValidators[stage]
	if !ok {
		var b resultBuilder
		b.fail("stage %q cannot be advanced", stage)
		return b.result()
	}
	return validator(snap)
}

// ValidateSubStep runs the validator guarding the transition out of an item sub-step.
func ValidateSubStep(step domain.SubStep, item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	validator, ok := subStepValidators[step]
	if !ok {
		var b resultBuilder
		b.fail("item step %q is unknown", step)
		return b.result()
	}
	return validator(item, catalog)
}

// ValidateItem is the AND of every sub-step validator for one item.
func ValidateItem(item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	for _, step := range domain.SubSteps {
		b.merge("", ValidateSubStep(step, item, catalog))
	}
	return b.result()
}

func validateClientSelection(snap ValidationSnapshot) domain.StepValidationResult {
	var b resultBuilder
	if snap.Session.Client == nil || strings.TrimSpace(snap.Session.Client.ID) == "" {
		b.fail("client must be selected")
	}
	return b.result()
}

func validateBranchAndOrderInfo(snap ValidationSnapshot) domain.StepValidationResult {
	var b resultBuilder
	s := snap.Session
	if s.Client == nil || strings.TrimSpace(s.Client.ID) == "" {
		b.fail("client must be selected")
	}
	if s.Branch == nil || strings.TrimSpace(s.Branch.ID) == "" {
		b.fail("branch must be selected")
	}
	if tag := strings.TrimSpace(s.OrderInfo.TagNumber); tag != "" && !tagNumberPattern.MatchString(tag) {
		b.fail("tag number must be 1-20 letters, digits or dashes")
	}
	if ready := s.OrderInfo.RequestedReadyAt; ready != nil && !snap.Now.IsZero() && ready.Before(snap.Now) {
		b.fail("requested ready date is in the past")
	}
	return b.result()
}

func validateItemManager(snap ValidationSnapshot) domain.StepValidationResult {
	var b resultBuilder
	s := snap.Session
	if editing, ok := s.Editing(); ok {
		b.fail("item %s is still being edited; complete or cancel it first", editing.ItemID)
	}
	if s.Items.Len() == 0 {
		b.fail("at least one item must be added")
	}
	for i, item := range s.Items.All() {
		b.merge(itemLabel(i, item), ValidateItem(item, snap.Catalog))
	}
	return b.result()
}

func validateOrderParameters(snap ValidationSnapshot) domain.StepValidationResult {
	var b resultBuilder
	s := snap.Session

	urgencyID := strings.TrimSpace(s.OrderModifiers.UrgencyID)
	urgency, ok := snap.Catalog.ResolveUrgency(urgencyID)
	switch {
	case !ok && urgencyID != "":
		b.fail("urgency %q is not available", urgencyID)
	case !ok:
		b.fail("urgency must be selected")
	}

	discount := s.OrderModifiers.Discount
	if discount == nil {
		b.fail("discount must be selected")
	} else if def, found := snap.Catalog.Discount(discount.DiscountID); !found {
		b.fail("discount %q is not available", discount.DiscountID)
	} else if discount.Value != nil && !def.Adjustable {
		b.fail("discount %s does not accept a custom value", def.Name)
	} else if discount.Value != nil && !def.WithinBounds(*discount.Value) {
		b.fail("discount %s: value must be between %s and %s", def.Name, boundString(def.MinValue), boundString(def.MaxValue))
	}

	if !s.Totals.Complete {
		b.fail("order total is incomplete")
	}

	payment := s.Payment
	if !payment.Method.Valid() {
		b.fail("payment method %q is not supported", payment.Method)
	}
	if payment.Prepaid.IsNegative() {
		b.fail("prepaid amount cannot be negative")
	}
	if payment.Prepaid.IsPositive() && payment.Method == domain.PaymentMethodNone {
		b.fail("payment method is required when a prepayment is taken")
	}
	if s.Totals.Complete && payment.Prepaid.GreaterThan(s.Totals.Totals.FinalTotal) {
		b.fail("prepaid amount exceeds the order total")
	}

	if discount != nil && s.Totals.Complete && s.Totals.Totals.DiscountApplicableAmount.IsZero() && s.Totals.Totals.ItemsSubtotal.IsPositive() {
		if def, found := snap.Catalog.Discount(discount.DiscountID); found && !def.Value.IsZero() {
			b.warn("discount has no effect because every item is excluded from it")
		}
	}
	if ready := s.OrderInfo.RequestedReadyAt; ready != nil && s.EstimatedReadyAt != nil && ready.Before(*s.EstimatedReadyAt) {
		if ok && urgency.TurnaroundHours == 0 {
			b.warn("requested ready date is earlier than the estimated ready date; consider an urgent level")
		} else {
			b.warn("requested ready date is earlier than the estimated ready date")
		}
	}
	return b.result()
}

func validateConfirmation(snap ValidationSnapshot) domain.StepValidationResult {
	var b resultBuilder
	s := snap.Session
	if !s.TermsAccepted {
		b.fail("terms must be accepted")
	}
	if !s.Totals.Complete {
		b.fail("order total is incomplete")
	}
	if s.Items.Len() == 0 {
		b.fail("order has no items")
	}
	return b.result()
}

func validateIdentity(item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	categoryID := strings.TrimSpace(item.CategoryID)
	if categoryID == "" {
		b.fail("category is required")
	} else if _, ok := catalog.Category(categoryID); !ok {
		b.fail("category %q is not in the catalog", categoryID)
	}

	catalogItemID := strings.TrimSpace(item.CatalogItemID)
	entry, hasEntry := catalog.Item(catalogItemID)
	switch {
	case catalogItemID == "":
		b.fail("catalog item is required")
	case !hasEntry:
		b.fail("catalog item %q is not in the catalog", catalogItemID)
	case categoryID != "" && entry.CategoryID != categoryID:
		b.fail("catalog item %q does not belong to category %q", catalogItemID, categoryID)
	}

	if !item.Quantity.IsPositive() {
		b.fail("quantity must be positive")
	} else if hasEntry && !entry.Unit.AllowsFractional() && !item.Quantity.IsInteger() {
		b.fail("quantity must be a whole number of %s", entry.Unit)
	} else if item.Quantity.IntPart() > largeQuantityWarning {
		b.warn("quantity %s is unusually large", item.Quantity.String())
	}
	return b.result()
}

func validateCharacteristics(item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	c := item.Characteristics
	if strings.TrimSpace(c.Material) == "" {
		b.fail("material is required")
	}
	if strings.TrimSpace(c.Color) == "" {
		b.fail("color is required")
	}
	if category, ok := catalog.Category(item.CategoryID); ok && category.RequiresFiller && strings.TrimSpace(c.Filler) == "" {
		b.fail("filler is required for %s", category.Name)
	}
	if c.WearLevel == nil {
		b.warn("wear level not recorded")
	} else if !containsInt(allowedWearLevels, *c.WearLevel) {
		b.fail("wear level must be one of 0, 10, 30, 50 or 75 percent")
	}
	return b.result()
}

func validateCondition(item domain.OrderItemDraft, _ domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	c := item.Condition
	if c.NoWarranty && strings.TrimSpace(c.NoWarrantyReason) == "" {
		b.fail("a reason is required when the item is accepted without warranty")
	}
	if !c.NoWarranty && strings.TrimSpace(c.NoWarrantyReason) != "" {
		b.warn("no-warranty reason is recorded but the item is accepted with warranty")
	}
	if len(c.Stains) > 0 {
		b.warn("stain removal is not guaranteed")
	}
	if len(c.Defects) > 0 && !c.NoWarranty {
		b.warn("defects recorded without a no-warranty waiver")
	}
	return b.result()
}

func validatePricing(item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	seen := make(map[string]struct{}, len(item.SelectedModifiers))
	for _, sel := range item.SelectedModifiers {
		id := strings.TrimSpace(sel.ModifierID)
		def, ok := catalog.ItemModifier(id)
		if !ok {
			b.fail("modifier %q is not available", sel.ModifierID)
			continue
		}
		if _, dup := seen[id]; dup {
			b.fail("modifier %s is selected more than once", def.Name)
			continue
		}
		seen[id] = struct{}{}
		if !def.AppliesTo(item.CategoryID) {
			b.fail("modifier %s does not apply to this category", def.Name)
		}
		if sel.Value != nil && !def.Adjustable {
			b.fail("modifier %s does not accept a custom value", def.Name)
		} else if sel.Value != nil && !def.WithinBounds(*sel.Value) {
			b.fail("modifier %s: value must be between %s and %s", def.Name, boundString(def.MinValue), boundString(def.MaxValue))
		}
	}
	if item.PriceBreakdown == nil {
		b.fail("price could not be calculated")
	} else if item.PriceBreakdown.Clamped {
		b.warn("modifiers reduce the price below zero; the item is priced at zero")
	}
	return b.result()
}

func validatePhotos(item domain.OrderItemDraft, catalog domain.Catalog) domain.StepValidationResult {
	var b resultBuilder
	limit := catalog.PhotoLimit()
	if len(item.Photos) > limit {
		b.fail("at most %d photos can be attached", limit)
	}
	if len(item.Photos) == 0 {
		b.warn("no photos attached")
	}
	return b.result()
}

type resultBuilder struct {
	errs  []string
	warns []string
}

func (b *resultBuilder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
}

func (b *resultBuilder) warn(format string, args ...any) {
	b.warns = append(b.warns, fmt.Sprintf(format, args...))
}

func (b *resultBuilder) merge(prefix string, r domain.StepValidationResult) {
	for _, msg := range r.BlockingErrors {
		b.errs = append(b.errs, prefixed(prefix, msg))
	}
	for _, msg := range r.Warnings {
		b.warns = append(b.warns, prefixed(prefix, msg))
	}
}

func (b *resultBuilder) result() domain.StepValidationResult {
	return domain.StepValidationResult{
		Valid:          len(b.errs) == 0,
		BlockingErrors: b.errs,
		Warnings:       b.warns,
	}
}

func prefixed(prefix, msg string) string {
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

func itemLabel(index int, item domain.OrderItemDraft) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return fmt.Sprintf("item %d (%s)", index+1, name)
	}
	return fmt.Sprintf("item %d", index+1)
}

func boundString(v *decimal.Decimal) string {
	if v == nil {
		return "any"
	}
	return v.String()
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
