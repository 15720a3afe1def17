package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is one top-level step of the order wizard.
type Stage string

const (
	StageClientSelection    Stage = "client_selection"
	StageBranchAndOrderInfo Stage = "branch_and_order_info"
	StageItemManager        Stage = "item_manager"
	StageOrderParameters    Stage = "order_parameters"
	StageConfirmation       Stage = "confirmation"
	StageCompleted          Stage = "completed"
)

// Stages lists the wizard stages in their fixed linear order.
var Stages = []Stage{
	StageClientSelection,
	StageBranchAndOrderInfo,
	StageItemManager,
	StageOrderParameters,
	StageConfirmation,
	StageCompleted,
}

// Index returns the position of the stage in the linear order, or -1 when unknown.
func (s Stage) Index() int {
	for i, candidate := range Stages {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether the stage is known.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the following stage.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(Stages) {
		return "", false
	}
	return Stages[idx+1], true
}

// Previous returns the preceding stage.
func (s Stage) Previous() (Stage, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return Stages[idx-1], true
}

// SubStep is one step of the item sub-wizard.
type SubStep string

const (
	SubStepIdentity        SubStep = "identity"
	SubStepCharacteristics SubStep = "characteristics"
	SubStepCondition       SubStep = "condition"
	SubStepPricing         SubStep = "pricing"
	SubStepPhotos          SubStep = "photos"
)

// SubSteps lists the item sub-wizard steps in order. Photos is the completion gate.
var SubSteps = []SubStep{
	SubStepIdentity,
	SubStepCharacteristics,
	SubStepCondition,
	SubStepPricing,
	SubStepPhotos,
}

// Index returns the position of the sub-step, or -1 when unknown.
func (s SubStep) Index() int {
	for i, candidate := range SubSteps {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Next returns the following sub-step.
func (s SubStep) Next() (SubStep, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(SubSteps) {
		return "", false
	}
	return SubSteps[idx+1], true
}

// Previous returns the preceding sub-step.
func (s SubStep) Previous() (SubStep, bool) {
	idx := s.Index()
	if idx <= 0 {
		return "", false
	}
	return SubSteps[idx-1], true
}

// Mode is the hierarchical state of the wizard: either ModeNormal or ModeEditingItem.
type Mode interface {
	isWizardMode()
}

// ModeNormal means no item is being edited.
type ModeNormal struct{}

func (ModeNormal) isWizardMode() {}

// ModeEditingItem means exactly one item draft is open in the sub-wizard.
type ModeEditingItem struct {
	ItemID  string
	SubStep SubStep
	IsNew   bool
	// Draft holds the uncommitted changes.
	Draft OrderItemDraft
	// Original is the committed item being edited; nil for new items.
	Original *OrderItemDraft
}

func (ModeEditingItem) isWizardMode() {}

// ClientRef is an opaque reference to a selected client.
type ClientRef struct {
	ID          string
	DisplayName string
	Phone       string
}

// BranchRef is an opaque reference to the receiving branch.
type BranchRef struct {
	ID          string
	Code        string
	DisplayName string
}

// OrderInfo carries the basic order fields collected with the branch.
type OrderInfo struct {
	TagNumber        string
	Notes            string
	RequestedReadyAt *time.Time
}

// DiscountSelection references the chosen discount type.
type DiscountSelection struct {
	DiscountID string
	Value      *decimal.Decimal
}

// OrderModifiers carries order-level urgency and discount choices.
// An empty UrgencyID resolves to the catalog default urgency.
type OrderModifiers struct {
	UrgencyID string
	Discount  *DiscountSelection
}

// PaymentMethod enumerates the ways a prepayment can be taken at the counter.
type PaymentMethod string

const (
	PaymentMethodNone     PaymentMethod = ""
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// Valid reports whether the method is known.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodNone, PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer:
		return true
	default:
		return false
	}
}

// PaymentInfo records a prepayment taken when the order is received.
type PaymentInfo struct {
	Method  PaymentMethod
	Prepaid decimal.Decimal
}

// ItemCharacteristics describe the garment itself.
type ItemCharacteristics struct {
	Material  string
	Color     string
	Filler    string
	WearLevel *int
}

// ItemCondition records stains, defects and warranty waivers.
type ItemCondition struct {
	Stains           []string
	Defects          []string
	NoWarranty       bool
	NoWarrantyReason string
	Notes            string
}

// PhotoRef points at an uploaded item photo.
type PhotoRef struct {
	ID          string
	ObjectPath  string
	ContentType string
	AttachedAt  time.Time
}

// OrderItemDraft is one garment under configuration.
type OrderItemDraft struct {
	ID                string
	CategoryID        string
	CatalogItemID     string
	Name              string
	Quantity          decimal.Decimal
	UnitOfMeasure     UnitOfMeasure
	UnitPrice         decimal.Decimal
	Characteristics   ItemCharacteristics
	Condition         ItemCondition
	SelectedModifiers []ModifierSelection
	Photos            []PhotoRef
	PriceBreakdown    *PriceBreakdown
}

// Clone returns a deep copy of the draft. Nil and empty slices are preserved as-is.
func (d OrderItemDraft) Clone() OrderItemDraft {
	out := d
	if d.Characteristics.WearLevel != nil {
		v := *d.Characteristics.WearLevel
		out.Characteristics.WearLevel = &v
	}
	if d.Condition.Stains != nil {
		out.Condition.Stains = append([]string{}, d.Condition.Stains...)
	}
	if d.Condition.Defects != nil {
		out.Condition.Defects = append([]string{}, d.Condition.Defects...)
	}
	if d.SelectedModifiers != nil {
		out.SelectedModifiers = make([]ModifierSelection, len(d.SelectedModifiers))
		for i, sel := range d.SelectedModifiers {
			out.SelectedModifiers[i] = sel.Clone()
		}
	}
	if d.Photos != nil {
		out.Photos = append([]PhotoRef{}, d.Photos...)
	}
	if d.PriceBreakdown != nil {
		b := d.PriceBreakdown.Clone()
		out.PriceBreakdown = &b
	}
	return out
}

// StepValidationResult is produced by a validator for one stage or sub-step.
type StepValidationResult struct {
	Valid          bool
	BlockingErrors []string
	Warnings       []string
}

// Navigation lists the affordances the presentation layer may offer.
type Navigation struct {
	CanAdvance  bool
	CanRetreat  bool
	JumpTargets []Stage
}

// WizardSession is the aggregate for one order-creation attempt.
type WizardSession struct {
	ID              string
	CurrentStage    Stage
	Mode            Mode
	Client          *ClientRef
	Branch          *BranchRef
	OrderInfo       OrderInfo
	Items           ItemList
	OrderModifiers  OrderModifiers
	Payment         PaymentInfo
	TermsAccepted   bool
	Totals          PricingResult
	CompletedStages StageSet
	// Validation is the transient result of the latest validation pass.
	Validation       StepValidationResult
	EstimatedReadyAt *time.Time
	ReceiptNumber    string
	CatalogVersion   string
	Cancelled        bool
	CancelReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Editing returns the active item edit, if any.
func (s WizardSession) Editing() (ModeEditingItem, bool) {
	editing, ok := s.Mode.(ModeEditingItem)
	return editing, ok
}

// CurrentItemSubStep returns the sub-step while an item is being edited.
func (s WizardSession) CurrentItemSubStep() (SubStep, bool) {
	editing, ok := s.Editing()
	if !ok {
		return "", false
	}
	return editing.SubStep, true
}

// Clone returns a deep copy suitable for handing to readers outside the orchestrator.
func (s WizardSession) Clone() WizardSession {
	out := s
	if s.Client != nil {
		c := *s.Client
		out.Client = &c
	}
	if s.Branch != nil {
		b := *s.Branch
		out.Branch = &b
	}
	if s.OrderInfo.RequestedReadyAt != nil {
		t := *s.OrderInfo.RequestedReadyAt
		out.OrderInfo.RequestedReadyAt = &t
	}
	if s.OrderModifiers.Discount != nil {
		d := *s.OrderModifiers.Discount
		if d.Value != nil {
			v := *d.Value
			d.Value = &v
		}
		out.OrderModifiers.Discount = &d
	}
	switch mode := s.Mode.(type) {
	case ModeEditingItem:
		mode.Draft = mode.Draft.Clone()
		if mode.Original != nil {
			orig := mode.Original.Clone()
			mode.Original = &orig
		}
		out.Mode = mode
	default:
		out.Mode = ModeNormal{}
	}
	out.Items = s.Items.Clone()
	out.Totals = s.Totals.Clone()
	out.CompletedStages = s.CompletedStages.Clone()
	out.Validation = StepValidationResult{
		Valid:          s.Validation.Valid,
		BlockingErrors: append([]string(nil), s.Validation.BlockingErrors...),
		Warnings:       append([]string(nil), s.Validation.Warnings...),
	}
	if s.EstimatedReadyAt != nil {
		t := *s.EstimatedReadyAt
		out.EstimatedReadyAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// StageSet is an ordered set of stages.
type StageSet []Stage

// Has reports whether the stage is in the set.
func (s StageSet) Has(stage Stage) bool {
	for _, candidate := range s {
		if candidate == stage {
			return true
		}
	}
	return false
}

// Add returns the set with stage included, keeping stage order.
func (s StageSet) Add(stage Stage) StageSet {
	if s.Has(stage) || !stage.Valid() {
		return s
	}
	out := append(StageSet{}, s...)
	out = append(out, stage)
	for i := len(out) - 1; i > 0 && out[i].Index() < out[i-1].Index(); i-- {
		out[i], out[i-1] = out[i-1], out[i]
	}
	return out
}

// Highest returns the furthest completed stage index, or -1 when empty.
func (s StageSet) Highest() int {
	highest := -1
	for _, stage := range s {
		if idx := stage.Index(); idx > highest {
			highest = idx
		}
	}
	return highest
}

// Clone returns a copy of the set.
func (s StageSet) Clone() StageSet {
	if s == nil {
		return nil
	}
	return append(StageSet{}, s...)
}
