package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

// ItemSubWizard drives the nested Identity → Characteristics → Condition → Pricing → Photos flow
// for the single item held in ModeEditingItem. It only touches the session it is handed.
type ItemSubWizard struct {
	pricing *OrderPricingEngine
	newID   func() string
}

// ItemIdentityInput sets what the item is and how much of it there is.
type ItemIdentityInput struct {
	CategoryID    string
	CatalogItemID string
	Quantity      decimal.Decimal
}

// ItemConditionInput records stains, defects and warranty waivers.
type ItemConditionInput = domain.ItemCondition

// ItemCharacteristicsInput records material, color, filler and wear.
type ItemCharacteristicsInput = domain.ItemCharacteristics

func newItemSubWizard(pricing *OrderPricingEngine, newID func() string) *ItemSubWizard {
	return &ItemSubWizard{pricing: pricing, newID: newID}
}

// Start opens a new draft when existingID is empty, otherwise a copy of the committed item.
func (w *ItemSubWizard) Start(s *domain.WizardSession, existingID string) (string, error) {
	if s.CurrentStage != domain.StageItemManager {
		return "", illegalTransition(string(s.CurrentStage), "start_item", "items can only be edited in the item manager")
	}
	if editing, ok := s.Editing(); ok {
		return "", illegalTransition(string(s.CurrentStage), "start_item", fmt.Sprintf("item %s is already being edited", editing.ItemID))
	}

	existingID = strings.TrimSpace(existingID)
	if existingID == "" {
		id := w.newID()
		s.Mode = domain.ModeEditingItem{
			ItemID:  id,
			SubStep: domain.SubStepIdentity,
			IsNew:   true,
			Draft: domain.OrderItemDraft{
				ID:       id,
				Quantity: decimal.NewFromInt(1),
			},
		}
		return id, nil
	}

	committed, ok := s.Items.Get(existingID)
	if !ok {
		return "", fmt.Errorf("%w: item %q not found", ErrWizardInvalidInput, existingID)
	}
	original := committed.Clone()
	s.Mode = domain.ModeEditingItem{
		ItemID:   existingID,
		SubStep:  domain.SubStepIdentity,
		Draft:    committed,
		Original: &original,
	}
	return existingID, nil
}

// Advance validates the current sub-step and moves to the next one. Entering Pricing re-prices the draft.
func (w *ItemSubWizard) Advance(s *domain.WizardSession, catalog domain.Catalog) (domain.StepValidationResult, error) {
	editing, ok := s.Editing()
	if !ok {
		return domain.StepValidationResult{}, illegalTransition(string(s.CurrentStage), "advance_item", "no item is being edited")
	}
	next, ok := editing.SubStep.Next()
	if !ok {
		return domain.StepValidationResult{}, illegalTransition(string(editing.SubStep), "advance_item", "photos is the last step; complete the item instead")
	}

	draft := editing.Draft.Clone()
	if editing.SubStep == domain.SubStepPricing {
		w.reprice(&draft, catalog)
	}
	result := ValidateSubStep(editing.SubStep, draft, catalog)
	if !result.Valid {
		return result, newValidationError(fmt.Sprintf("item %s", editing.SubStep), result)
	}

	if next == domain.SubStepPricing {
		w.reprice(&draft, catalog)
	}
	editing.Draft = draft
	editing.SubStep = next
	s.Mode = editing
	return result, nil
}

// Retreat moves back one sub-step without discarding entered data.
func (w *ItemSubWizard) Retreat(s *domain.WizardSession) error {
	editing, ok := s.Editing()
	if !ok {
		return illegalTransition(string(s.CurrentStage), "retreat_item", "no item is being edited")
	}
	prev, ok := editing.SubStep.Previous()
	if !ok {
		return illegalTransition(string(editing.SubStep), "retreat_item", "identity is the first step")
	}
	editing.SubStep = prev
	s.Mode = editing
	return nil
}

// Complete commits the draft from the Photos step. Every sub-step must still validate.
func (w *ItemSubWizard) Complete(s *domain.WizardSession, catalog domain.Catalog) (domain.OrderItemDraft, error) {
	editing, ok := s.Editing()
	if !ok {
		return domain.OrderItemDraft{}, illegalTransition(string(s.CurrentStage), "complete_item", "no item is being edited")
	}
	if editing.SubStep != domain.SubStepPhotos {
		return domain.OrderItemDraft{}, illegalTransition(string(editing.SubStep), "complete_item", "items can only be completed from the photos step")
	}

	draft := editing.Draft.Clone()
	w.reprice(&draft, catalog)
	result := ValidateItem(draft, catalog)
	if !result.Valid {
		return domain.OrderItemDraft{}, newValidationError("item", result)
	}

	s.Items = s.Items.Put(draft)
	s.Mode = domain.ModeNormal{}
	return draft, nil
}

// Cancel drops uncommitted changes. A committed item is left exactly as it was.
func (w *ItemSubWizard) Cancel(s *domain.WizardSession) error {
	if _, ok := s.Editing(); !ok {
		return illegalTransition(string(s.CurrentStage), "cancel_item", "no item is being edited")
	}
	s.Mode = domain.ModeNormal{}
	return nil
}

// UpdateIdentity sets category, catalog item and quantity. Unit and price come from the catalog.
func (w *ItemSubWizard) UpdateIdentity(s *domain.WizardSession, catalog domain.Catalog, in ItemIdentityInput) error {
	return w.mutate(s, catalog, domain.SubStepIdentity, "update_identity", func(d *domain.OrderItemDraft) error {
		d.CategoryID = strings.TrimSpace(in.CategoryID)
		d.CatalogItemID = strings.TrimSpace(in.CatalogItemID)
		d.Quantity = in.Quantity
		if entry, ok := catalog.Item(d.CatalogItemID); ok {
			d.Name = entry.Name
			d.UnitOfMeasure = entry.Unit
			d.UnitPrice = entry.UnitPrice
			if d.CategoryID == "" {
				d.CategoryID = entry.CategoryID
			}
		} else {
			d.Name = ""
			d.UnitOfMeasure = ""
			d.UnitPrice = decimal.Zero
		}
		return nil
	})
}

// UpdateCharacteristics replaces the characteristic fields.
func (w *ItemSubWizard) UpdateCharacteristics(s *domain.WizardSession, catalog domain.Catalog, in ItemCharacteristicsInput) error {
	return w.mutate(s, catalog, domain.SubStepCharacteristics, "update_characteristics", func(d *domain.OrderItemDraft) error {
		d.Characteristics = domain.ItemCharacteristics{
			Material: strings.TrimSpace(in.Material),
			Color:    strings.TrimSpace(in.Color),
			Filler:   strings.TrimSpace(in.Filler),
		}
		if in.WearLevel != nil {
			level := *in.WearLevel
			d.Characteristics.WearLevel = &level
		}
		return nil
	})
}

// UpdateCondition replaces the condition fields.
func (w *ItemSubWizard) UpdateCondition(s *domain.WizardSession, catalog domain.Catalog, in ItemConditionInput) error {
	return w.mutate(s, catalog, domain.SubStepCondition, "update_condition", func(d *domain.OrderItemDraft) error {
		d.Condition = domain.ItemCondition{
			Stains:           normalizeList(in.Stains),
			Defects:          normalizeList(in.Defects),
			NoWarranty:       in.NoWarranty,
			NoWarrantyReason: strings.TrimSpace(in.NoWarrantyReason),
			Notes:            strings.TrimSpace(in.Notes),
		}
		return nil
	})
}

// SelectModifiers replaces the item modifier selection.
func (w *ItemSubWizard) SelectModifiers(s *domain.WizardSession, catalog domain.Catalog, selections []domain.ModifierSelection) error {
	return w.mutate(s, catalog, domain.SubStepPricing, "select_modifiers", func(d *domain.OrderItemDraft) error {
		if len(selections) == 0 {
			d.SelectedModifiers = nil
			return nil
		}
		out := make([]domain.ModifierSelection, 0, len(selections))
		for _, sel := range selections {
			sel = sel.Clone()
			sel.ModifierID = strings.TrimSpace(sel.ModifierID)
			if sel.ModifierID == "" {
				return fmt.Errorf("%w: modifier id is required", ErrWizardInvalidInput)
			}
			if _, ok := catalog.ItemModifier(sel.ModifierID); !ok {
				return fmt.Errorf("%w: unknown modifier %q", ErrWizardInvalidInput, sel.ModifierID)
			}
			out = append(out, sel)
		}
		d.SelectedModifiers = out
		return nil
	})
}

// AttachPhoto adds an uploaded photo to the draft.
func (w *ItemSubWizard) AttachPhoto(s *domain.WizardSession, catalog domain.Catalog, photo domain.PhotoRef) error {
	return w.mutate(s, catalog, domain.SubStepPhotos, "attach_photo", func(d *domain.OrderItemDraft) error {
		if strings.TrimSpace(photo.ID) == "" || strings.TrimSpace(photo.ObjectPath) == "" {
			return fmt.Errorf("%w: photo id and object path are required", ErrWizardInvalidInput)
		}
		for _, existing := range d.Photos {
			if existing.ID == photo.ID {
				return fmt.Errorf("%w: photo %q already attached", ErrWizardInvalidInput, photo.ID)
			}
		}
		if len(d.Photos) >= catalog.PhotoLimit() {
			return fmt.Errorf("%w: at most %d photos can be attached", ErrWizardInvalidInput, catalog.PhotoLimit())
		}
		d.Photos = append(d.Photos, photo)
		return nil
	})
}

// RemovePhoto detaches a photo from the draft.
func (w *ItemSubWizard) RemovePhoto(s *domain.WizardSession, catalog domain.Catalog, photoID string) error {
	return w.mutate(s, catalog, domain.SubStepPhotos, "remove_photo", func(d *domain.OrderItemDraft) error {
		for i, existing := range d.Photos {
			if existing.ID == photoID {
				d.Photos = append(d.Photos[:i:i], d.Photos[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: photo %q not attached", ErrWizardInvalidInput, photoID)
	})
}

func (w *ItemSubWizard) mutate(s *domain.WizardSession, catalog domain.Catalog, step domain.SubStep, op string, fn func(*domain.OrderItemDraft) error) error {
	editing, ok := s.Editing()
	if !ok {
		return illegalTransition(string(s.CurrentStage), op, "no item is being edited")
	}
	if editing.SubStep != step {
		return illegalTransition(string(editing.SubStep), op, fmt.Sprintf("only allowed on the %s step", step))
	}
	draft := editing.Draft.Clone()
	if err := fn(&draft); err != nil {
		return err
	}
	w.reprice(&draft, catalog)
	editing.Draft = draft
	s.Mode = editing
	return nil
}

// reprice refreshes the draft breakdown, clearing it when the draft cannot be priced yet.
func (w *ItemSubWizard) reprice(d *domain.OrderItemDraft, catalog domain.Catalog) {
	breakdown, err := w.pricing.PriceItem(*d, catalog)
	if err != nil {
		d.PriceBreakdown = nil
		return
	}
	d.PriceBreakdown = &breakdown
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
