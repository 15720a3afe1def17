package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cleanline/api/internal/domain"
)

// OrchestratorDeps wires the collaborators an orchestrator needs.
type OrchestratorDeps struct {
	Pricing *OrderPricingEngine
	Catalog domain.Catalog
	Clock   func() time.Time
	NewID   func() string
}

// Orchestrator owns one WizardSession and is the only writer of it. It is not safe for concurrent use;
// WizardService serialises intents per session.
type Orchestrator struct {
	session domain.WizardSession
	catalog domain.Catalog
	pricing *OrderPricingEngine
	items   *ItemSubWizard
	clock   func() time.Time
	newID   func() string
}

// NewOrchestrator starts a fresh session at client selection.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	o, err := newOrchestrator(deps)
	if err != nil {
		return nil, err
	}
	o.session = o.freshSession()
	return o, nil
}

// RestoreOrchestrator resumes a previously persisted session.
func RestoreOrchestrator(deps OrchestratorDeps, session domain.WizardSession) (*Orchestrator, error) {
	o, err := newOrchestrator(deps)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("wizard orchestrator: session id is required")
	}
	if !session.CurrentStage.Valid() {
		return nil, fmt.Errorf("wizard orchestrator: unknown stage %q", session.CurrentStage)
	}
	restored := session.Clone()
	if editing, ok := restored.Editing(); ok {
		if editing.SubStep.Index() < 0 {
			return nil, fmt.Errorf("wizard orchestrator: unknown item step %q", editing.SubStep)
		}
	} else {
		restored.Mode = domain.ModeNormal{}
	}
	o.session = restored
	return o, nil
}

func newOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.Pricing == nil {
		return nil, errors.New("wizard orchestrator: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Orchestrator{
		catalog: deps.Catalog,
		pricing: deps.Pricing,
		items:   newItemSubWizard(deps.Pricing, newID),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

func (o *Orchestrator) freshSession() domain.WizardSession {
	now := o.clock()
	s := domain.WizardSession{
		ID:             o.newID(),
		CurrentStage:   domain.StageClientSelection,
		Mode:           domain.ModeNormal{},
		CatalogVersion: o.catalog.Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.session = s
	o.recompute()
	return o.session
}

// Session returns a deep copy of the session with the active step's validation filled in.
func (o *Orchestrator) Session() domain.WizardSession {
	out := o.session.Clone()
	out.Validation = o.currentValidation()
	return out
}

// Catalog returns the catalog the session is currently priced against.
func (o *Orchestrator) Catalog() domain.Catalog { return o.catalog }

// Validate runs the validator of the active stage or item sub-step.
func (o *Orchestrator) Validate() domain.StepValidationResult {
	return o.currentValidation()
}

func (o *Orchestrator) currentValidation() domain.StepValidationResult {
	if editing, ok := o.session.Editing(); ok {
		return ValidateSubStep(editing.SubStep, editing.Draft, o.catalog)
	}
	if o.session.CurrentStage == domain.StageCompleted {
		return domain.StepValidationResult{Valid: true}
	}
	return ValidateStage(o.session.CurrentStage, o.snapshot())
}

func (o *Orchestrator) snapshot() ValidationSnapshot {
	return ValidationSnapshot{Session: o.session, Catalog: o.catalog, Now: o.clock()}
}

// Navigation reports which top-level moves are currently possible.
func (o *Orchestrator) Navigation() domain.Navigation {
	s := o.session
	_, editing := s.Editing()
	if s.Cancelled || editing || s.CurrentStage == domain.StageCompleted {
		return domain.Navigation{}
	}
	nav := domain.Navigation{
		CanAdvance: ValidateStage(s.CurrentStage, o.snapshot()).Valid,
		CanRetreat: s.CurrentStage.Index() > 0,
	}
	current := s.CurrentStage.Index()
	for _, stage := range domain.Stages {
		if stage == domain.StageCompleted || stage == s.CurrentStage {
			continue
		}
		if o.jumpAllowed(stage) == nil && (stage.Index() < current || o.forwardPathValid(stage)) {
			nav.JumpTargets = append(nav.JumpTargets, stage)
		}
	}
	return nav
}

// Advance validates the current stage and moves to the next one.
func (o *Orchestrator) Advance() (domain.StepValidationResult, error) {
	if err := o.requireActive("advance"); err != nil {
		return domain.StepValidationResult{}, err
	}
	from := o.session.CurrentStage
	next, ok := from.Next()
	if !ok {
		return domain.StepValidationResult{}, illegalTransition(string(from), "advance", "the order is already completed")
	}
	result := ValidateStage(from, o.snapshot())
	if !result.Valid {
		return result, newValidationError(string(from), result)
	}

	o.session.CompletedStages = o.session.CompletedStages.Add(from)
	o.session.CurrentStage = next
	if next == domain.StageCompleted {
		now := o.clock()
		o.session.CompletedAt = &now
	}
	o.touch()
	return result, nil
}

// Retreat moves to the previous stage keeping all collected data.
func (o *Orchestrator) Retreat() error {
	if err := o.requireActive("retreat"); err != nil {
		return err
	}
	from := o.session.CurrentStage
	if from == domain.StageCompleted {
		return illegalTransition(string(from), "retreat", "a completed order cannot be reopened")
	}
	if editing, ok := o.session.Editing(); ok {
		return illegalTransition(string(from), "retreat", fmt.Sprintf("item %s is being edited", editing.ItemID))
	}
	prev, ok := from.Previous()
	if !ok {
		return illegalTransition(string(from), "retreat", "already at the first stage")
	}
	o.session.CurrentStage = prev
	o.touch()
	return nil
}

// JumpTo moves to any stage up to one past the furthest completed stage.
// Forward jumps must pass every stage validator on the way.
func (o *Orchestrator) JumpTo(stage domain.Stage) error {
	if err := o.requireActive("jump"); err != nil {
		return err
	}
	if err := o.jumpAllowed(stage); err != nil {
		return err
	}
	from := o.session.CurrentStage
	if stage == from {
		return nil
	}
	if stage.Index() > from.Index() {
		for _, intermediate := range domain.Stages[from.Index():stage.Index()] {
			result := ValidateStage(intermediate, o.snapshot())
			if !result.Valid {
				return newValidationError(string(intermediate), result)
			}
		}
		for _, intermediate := range domain.Stages[from.Index():stage.Index()] {
			o.session.CompletedStages = o.session.CompletedStages.Add(intermediate)
		}
	}
	o.session.CurrentStage = stage
	o.touch()
	return nil
}

func (o *Orchestrator) jumpAllowed(stage domain.Stage) error {
	from := o.session.CurrentStage
	if !stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrWizardInvalidInput, stage)
	}
	if from == domain.StageCompleted {
		return illegalTransition(string(from), "jump", "a completed order cannot be reopened")
	}
	if stage == domain.StageCompleted {
		return illegalTransition(string(from), "jump", "completion requires advancing from confirmation")
	}
	if editing, ok := o.session.Editing(); ok {
		return illegalTransition(string(from), "jump", fmt.Sprintf("item %s is being edited", editing.ItemID))
	}
	if limit := o.session.CompletedStages.Highest() + 1; stage.Index() > limit && stage.Index() > from.Index() {
		return illegalTransition(string(from), "jump", fmt.Sprintf("%s has not been reached yet", stage))
	}
	return nil
}

func (o *Orchestrator) forwardPathValid(stage domain.Stage) bool {
	from := o.session.CurrentStage.Index()
	for _, intermediate := range domain.Stages[from:stage.Index()] {
		if !ValidateStage(intermediate, o.snapshot()).Valid {
			return false
		}
	}
	return true
}

// Cancel ends the session. Cancelling again is a no-op.
func (o *Orchestrator) Cancel(reason string) error {
	if o.session.Cancelled {
		return nil
	}
	if o.session.CurrentStage == domain.StageCompleted {
		return illegalTransition(string(o.session.CurrentStage), "cancel", "a completed order cannot be cancelled")
	}
	o.session.Cancelled = true
	o.session.CancelReason = strings.TrimSpace(reason)
	o.session.Mode = domain.ModeNormal{}
	o.touch()
	return nil
}

// Reset replaces the session with a fresh one at client selection.
func (o *Orchestrator) Reset() domain.WizardSession {
	o.freshSession()
	return o.Session()
}

// SelectClient records the client reference.
func (o *Orchestrator) SelectClient(client domain.ClientRef) error {
	if err := o.requireStage("select_client", domain.StageClientSelection); err != nil {
		return err
	}
	client.ID = strings.TrimSpace(client.ID)
	if client.ID == "" {
		return fmt.Errorf("%w: client id is required", ErrWizardInvalidInput)
	}
	client.DisplayName = strings.TrimSpace(client.DisplayName)
	client.Phone = strings.TrimSpace(client.Phone)
	o.session.Client = &client
	o.touch()
	return nil
}

// SelectBranch records the receiving branch.
func (o *Orchestrator) SelectBranch(branch domain.BranchRef) error {
	if err := o.requireStage("select_branch", domain.StageBranchAndOrderInfo); err != nil {
		return err
	}
	branch.ID = strings.TrimSpace(branch.ID)
	if branch.ID == "" {
		return fmt.Errorf("%w: branch id is required", ErrWizardInvalidInput)
	}
	branch.Code = strings.ToUpper(strings.TrimSpace(branch.Code))
	branch.DisplayName = strings.TrimSpace(branch.DisplayName)
	o.session.Branch = &branch
	o.touch()
	return nil
}

// SetOrderInfo replaces tag number, notes and requested ready date.
func (o *Orchestrator) SetOrderInfo(info domain.OrderInfo) error {
	if err := o.requireStage("set_order_info", domain.StageBranchAndOrderInfo); err != nil {
		return err
	}
	out := domain.OrderInfo{
		TagNumber: strings.TrimSpace(info.TagNumber),
		Notes:     strings.TrimSpace(info.Notes),
	}
	if info.RequestedReadyAt != nil {
		t := info.RequestedReadyAt.UTC()
		out.RequestedReadyAt = &t
	}
	o.session.OrderInfo = out
	o.touch()
	return nil
}

// SetUrgency selects an urgency level. An empty id falls back to the catalog default.
func (o *Orchestrator) SetUrgency(urgencyID string) error {
	if err := o.requireStage("set_urgency", domain.StageOrderParameters); err != nil {
		return err
	}
	urgencyID = strings.TrimSpace(urgencyID)
	if urgencyID != "" {
		if _, ok := o.catalog.Urgency(urgencyID); !ok {
			return fmt.Errorf("%w: unknown urgency %q", ErrWizardInvalidInput, urgencyID)
		}
	}
	o.session.OrderModifiers.UrgencyID = urgencyID
	o.recompute()
	o.touch()
	return nil
}

// SetDiscount selects a discount type, with an optional custom value for adjustable ones.
func (o *Orchestrator) SetDiscount(sel domain.DiscountSelection) error {
	if err := o.requireStage("set_discount", domain.StageOrderParameters); err != nil {
		return err
	}
	sel.DiscountID = strings.TrimSpace(sel.DiscountID)
	def, ok := o.catalog.Discount(sel.DiscountID)
	if !ok {
		return fmt.Errorf("%w: unknown discount %q", ErrWizardInvalidInput, sel.DiscountID)
	}
	if err := checkOverride(def, sel.Value); err != nil {
		return fmt.Errorf("%w: %s", ErrWizardInvalidInput, strings.TrimPrefix(err.Error(), ErrPricingInvalidInput.Error()+": "))
	}
	if sel.Value != nil {
		v := *sel.Value
		sel.Value = &v
	}
	o.session.OrderModifiers.Discount = &sel
	o.recompute()
	o.touch()
	return nil
}

// SetPayment records the prepayment method and amount.
func (o *Orchestrator) SetPayment(payment domain.PaymentInfo) error {
	if err := o.requireStage("set_payment", domain.StageOrderParameters); err != nil {
		return err
	}
	if !payment.Method.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrWizardInvalidInput, payment.Method)
	}
	if payment.Prepaid.IsNegative() {
		return fmt.Errorf("%w: prepaid amount cannot be negative", ErrWizardInvalidInput)
	}
	o.session.Payment = payment
	o.recompute()
	o.touch()
	return nil
}

// AcceptTerms toggles the operator's confirmation that the client accepted the terms.
func (o *Orchestrator) AcceptTerms(accepted bool) error {
	if err := o.requireStage("accept_terms", domain.StageConfirmation); err != nil {
		return err
	}
	o.session.TermsAccepted = accepted
	o.touch()
	return nil
}

// AssignReceiptNumber stores the number printed on the receipt. Only legal before completion.
func (o *Orchestrator) AssignReceiptNumber(number string) error {
	if err := o.requireStage("assign_receipt_number", domain.StageConfirmation); err != nil {
		return err
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("%w: receipt number is required", ErrWizardInvalidInput)
	}
	o.session.ReceiptNumber = number
	o.touch()
	return nil
}

// StartEditing opens the item sub-wizard for a new item or an existing one.
func (o *Orchestrator) StartEditing(existingID string) (string, error) {
	if err := o.requireStage("start_item", domain.StageItemManager); err != nil {
		return "", err
	}
	id, err := o.items.Start(&o.session, existingID)
	if err != nil {
		return "", err
	}
	o.touch()
	return id, nil
}

// AdvanceSubStep validates the active item step and moves forward.
func (o *Orchestrator) AdvanceSubStep() (domain.StepValidationResult, error) {
	if err := o.requireStage("advance_item", domain.StageItemManager); err != nil {
		return domain.StepValidationResult{}, err
	}
	result, err := o.items.Advance(&o.session, o.catalog)
	if err != nil {
		return result, err
	}
	o.touch()
	return result, nil
}

// RetreatSubStep moves the item sub-wizard back one step.
func (o *Orchestrator) RetreatSubStep() error {
	return o.itemOp("retreat_item", func() error { return o.items.Retreat(&o.session) })
}

// CompleteEditing commits the draft and recomputes totals before returning.
func (o *Orchestrator) CompleteEditing() (domain.OrderItemDraft, error) {
	if err := o.requireStage("complete_item", domain.StageItemManager); err != nil {
		return domain.OrderItemDraft{}, err
	}
	item, err := o.items.Complete(&o.session, o.catalog)
	if err != nil {
		return domain.OrderItemDraft{}, err
	}
	o.recompute()
	o.touch()
	return item, nil
}

// CancelEditing discards the uncommitted draft.
func (o *Orchestrator) CancelEditing() error {
	return o.itemOp("cancel_item", func() error { return o.items.Cancel(&o.session) })
}

// UpdateIdentity edits the identity section of the active draft.
func (o *Orchestrator) UpdateIdentity(in ItemIdentityInput) error {
	return o.itemOp("update_identity", func() error { return o.items.UpdateIdentity(&o.session, o.catalog, in) })
}

// UpdateCharacteristics edits the characteristics section of the active draft.
func (o *Orchestrator) UpdateCharacteristics(in ItemCharacteristicsInput) error {
	return o.itemOp("update_characteristics", func() error { return o.items.UpdateCharacteristics(&o.session, o.catalog, in) })
}

// UpdateCondition edits the condition section of the active draft.
func (o *Orchestrator) UpdateCondition(in ItemConditionInput) error {
	return o.itemOp("update_condition", func() error { return o.items.UpdateCondition(&o.session, o.catalog, in) })
}

// SelectItemModifiers replaces the modifiers chosen for the active draft.
func (o *Orchestrator) SelectItemModifiers(selections []domain.ModifierSelection) error {
	return o.itemOp("select_modifiers", func() error { return o.items.SelectModifiers(&o.session, o.catalog, selections) })
}

// AttachPhoto adds a photo to the active draft.
func (o *Orchestrator) AttachPhoto(photo domain.PhotoRef) error {
	if photo.AttachedAt.IsZero() {
		photo.AttachedAt = o.clock()
	}
	return o.itemOp("attach_photo", func() error { return o.items.AttachPhoto(&o.session, o.catalog, photo) })
}

// RemovePhoto detaches a photo from the active draft.
func (o *Orchestrator) RemovePhoto(photoID string) error {
	return o.itemOp("remove_photo", func() error { return o.items.RemovePhoto(&o.session, o.catalog, photoID) })
}

// DeleteItem removes a committed item. Deleting the item being edited cancels the edit first.
func (o *Orchestrator) DeleteItem(itemID string) error {
	if err := o.requireStage("delete_item", domain.StageItemManager); err != nil {
		return err
	}
	itemID = strings.TrimSpace(itemID)
	editing, isEditing := o.session.Editing()
	if isEditing && editing.ItemID == itemID {
		if err := o.items.Cancel(&o.session); err != nil {
			return err
		}
		if editing.IsNew {
			o.touch()
			return nil
		}
	}
	if !o.session.Items.Has(itemID) {
		return fmt.Errorf("%w: item %q not found", ErrWizardInvalidInput, itemID)
	}
	o.session.Items = o.session.Items.Remove(itemID)
	o.recompute()
	o.touch()
	return nil
}

// RefreshCatalog swaps in a newer catalog and re-prices every item against it.
// Items the new catalog cannot price lose their breakdown and block advancement.
func (o *Orchestrator) RefreshCatalog(catalog domain.Catalog) {
	o.catalog = catalog
	o.session.CatalogVersion = catalog.Version
	if o.session.CurrentStage == domain.StageCompleted {
		return
	}

	items := o.session.Items
	for _, item := range o.session.Items.All() {
		items = items.Put(o.repriced(item))
	}
	o.session.Items = items
	if editing, ok := o.session.Editing(); ok {
		editing.Draft = o.repriced(editing.Draft)
		o.session.Mode = editing
	}
	o.recompute()
}

func (o *Orchestrator) repriced(item domain.OrderItemDraft) domain.OrderItemDraft {
	out := item.Clone()
	if entry, ok := o.catalog.Item(out.CatalogItemID); ok {
		out.Name = entry.Name
		out.UnitOfMeasure = entry.Unit
		out.UnitPrice = entry.UnitPrice
	}
	breakdown, err := o.pricing.PriceItem(out, o.catalog)
	if err != nil {
		out.PriceBreakdown = nil
		return out
	}
	out.PriceBreakdown = &breakdown
	return out
}

func (o *Orchestrator) itemOp(op string, fn func() error) error {
	if err := o.requireStage(op, domain.StageItemManager); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	o.touch()
	return nil
}

func (o *Orchestrator) requireActive(op string) error {
	if o.session.Cancelled {
		return fmt.Errorf("%w: %s rejected", ErrSessionCancelled, op)
	}
	return nil
}

func (o *Orchestrator) requireStage(op string, stage domain.Stage) error {
	if err := o.requireActive(op); err != nil {
		return err
	}
	if o.session.CurrentStage != stage {
		return illegalTransition(string(o.session.CurrentStage), op, fmt.Sprintf("only allowed during %s", stage))
	}
	return nil
}

// recompute is the single place totals are derived. The new result replaces the old one in one assignment.
func (o *Orchestrator) recompute() {
	result, err := o.pricing.PriceOrder(PriceOrderInput{
		Items:     o.session.Items.All(),
		Modifiers: o.session.OrderModifiers,
		Payment:   o.session.Payment,
		Catalog:   o.catalog,
	})
	if err != nil && !errors.Is(err, ErrIncompletePricing) {
		result = domain.PricingResult{Totals: domain.OrderTotals{Currency: o.pricing.Currency()}}
	}
	o.session.Totals = result
	o.session.EstimatedReadyAt = o.estimateReadyAt()
}

func (o *Orchestrator) estimateReadyAt() *time.Time {
	if o.session.Items.Len() == 0 {
		return nil
	}
	now := o.clock()
	if urgency, ok := o.catalog.ResolveUrgency(o.session.OrderModifiers.UrgencyID); ok && urgency.TurnaroundHours > 0 {
		ready := now.Add(time.Duration(urgency.TurnaroundHours) * time.Hour)
		return &ready
	}
	days := 0
	for _, item := range o.session.Items.All() {
		if category, ok := o.catalog.Category(item.CategoryID); ok && category.ProcessingDays > days {
			days = category.ProcessingDays
		}
	}
	ready := now.AddDate(0, 0, days)
	return &ready
}

func (o *Orchestrator) touch() {
	o.session.UpdatedAt = o.clock()
}

// Total returns the final total as a float for metrics. Zero when pricing is incomplete.
func (o *Orchestrator) Total() float64 {
	if !o.session.Totals.Complete {
		return 0
	}
	return o.session.Totals.Totals.FinalTotal.InexactFloat64()
}

// clone returns an independent orchestrator over a deep copy of the session.
func (o *Orchestrator) clone() *Orchestrator {
	c := *o
	c.session = o.session.Clone()
	return &c
}
