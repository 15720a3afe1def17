package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
)

// SessionSnapshotVersion is bumped whenever the stored snapshot layout changes incompatibly.
const SessionSnapshotVersion = 1

const (
	modeKindNormal  = "normal"
	modeKindEditing = "editing_item"
)

// ErrSnapshotVersion is returned for snapshots written by an incompatible build.
var ErrSnapshotVersion = errors.New("session snapshot: unsupported version")

type sessionSnapshot struct {
	Version          int                `json:"version"`
	ID               string             `json:"id"`
	CurrentStage     domain.Stage       `json:"currentStage"`
	Mode             modeSnapshot       `json:"mode"`
	Client           *clientSnapshot    `json:"client"`
	Branch           *branchSnapshot    `json:"branch"`
	OrderInfo        orderInfoSnapshot  `json:"orderInfo"`
	Items            []itemSnapshot     `json:"items"`
	UrgencyID        string             `json:"urgencyId,omitempty"`
	Discount         *discountSnapshot  `json:"discount"`
	Payment          paymentSnapshot    `json:"payment"`
	TermsAccepted    bool               `json:"termsAccepted"`
	Totals           pricingSnapshot    `json:"totals"`
	CompletedStages  []domain.Stage     `json:"completedStages"`
	Validation       validationSnapshot `json:"validation"`
	EstimatedReadyAt *time.Time         `json:"estimatedReadyAt,omitempty"`
	ReceiptNumber    string             `json:"receiptNumber,omitempty"`
	CatalogVersion   string             `json:"catalogVersion"`
	Cancelled        bool               `json:"cancelled"`
	CancelReason     string             `json:"cancelReason,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
}

type modeSnapshot struct {
	Kind     string         `json:"kind"`
	ItemID   string         `json:"itemId,omitempty"`
	SubStep  domain.SubStep `json:"subStep,omitempty"`
	IsNew    bool           `json:"isNew,omitempty"`
	Draft    *itemSnapshot  `json:"draft,omitempty"`
	Original *itemSnapshot  `json:"original,omitempty"`
}

type clientSnapshot struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
}

type branchSnapshot struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	DisplayName string `json:"displayName"`
}

type orderInfoSnapshot struct {
	TagNumber        string     `json:"tagNumber,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	RequestedReadyAt *time.Time `json:"requestedReadyAt,omitempty"`
}

type discountSnapshot struct {
	DiscountID string           `json:"discountId"`
	Value      *decimal.Decimal `json:"value,omitempty"`
}

type paymentSnapshot struct {
	Method  domain.PaymentMethod `json:"method,omitempty"`
	Prepaid decimal.Decimal      `json:"prepaid"`
}

type selectionSnapshot struct {
	ModifierID string           `json:"modifierId"`
	Value      *decimal.Decimal `json:"value,omitempty"`
}

type photoSnapshot struct {
	ID          string    `json:"id"`
	ObjectPath  string    `json:"objectPath"`
	ContentType string    `json:"contentType,omitempty"`
	AttachedAt  time.Time `json:"attachedAt"`
}

type itemSnapshot struct {
	ID                string               `json:"id"`
	CategoryID        string               `json:"categoryId"`
	CatalogItemID     string               `json:"catalogItemId"`
	Name              string               `json:"name"`
	Quantity          decimal.Decimal      `json:"quantity"`
	Unit              domain.UnitOfMeasure `json:"unit"`
	UnitPrice         decimal.Decimal      `json:"unitPrice"`
	Material          string               `json:"material,omitempty"`
	Color             string               `json:"color,omitempty"`
	Filler            string               `json:"filler,omitempty"`
	WearLevel         *int                 `json:"wearLevel,omitempty"`
	Stains            []string             `json:"stains"`
	Defects           []string             `json:"defects"`
	NoWarranty        bool                 `json:"noWarranty,omitempty"`
	NoWarrantyReason  string               `json:"noWarrantyReason,omitempty"`
	ConditionNotes    string               `json:"conditionNotes,omitempty"`
	SelectedModifiers []selectionSnapshot  `json:"selectedModifiers"`
	Photos            []photoSnapshot      `json:"photos"`
	PriceBreakdown    *breakdownSnapshot   `json:"priceBreakdown,omitempty"`
}

type applicationSnapshot struct {
	ModifierID string                `json:"modifierId"`
	Code       string                `json:"code,omitempty"`
	Name       string                `json:"name,omitempty"`
	Effect     domain.ModifierEffect `json:"effect"`
	Value      decimal.Decimal       `json:"value"`
	Amount     decimal.Decimal       `json:"amount"`
}

type breakdownSnapshot struct {
	UnitPrice      decimal.Decimal       `json:"unitPrice"`
	Quantity       decimal.Decimal       `json:"quantity"`
	BasePrice      decimal.Decimal       `json:"basePrice"`
	Modifiers      []applicationSnapshot `json:"modifiers"`
	ModifiersTotal decimal.Decimal       `json:"modifiersTotal"`
	FinalPrice     decimal.Decimal       `json:"finalPrice"`
	Clamped        bool                  `json:"clamped,omitempty"`
}

type pricingSnapshot struct {
	Complete                 bool            `json:"complete"`
	MissingItemIDs           []string        `json:"missingItemIds"`
	Currency                 string          `json:"currency"`
	ItemsSubtotal            decimal.Decimal `json:"itemsSubtotal"`
	ModifiersTotal           decimal.Decimal `json:"modifiersTotal"`
	UrgencySurcharge         decimal.Decimal `json:"urgencySurcharge"`
	DiscountApplicableAmount decimal.Decimal `json:"discountApplicableAmount"`
	DiscountAmount           decimal.Decimal `json:"discountAmount"`
	FinalTotal               decimal.Decimal `json:"finalTotal"`
	Prepaid                  decimal.Decimal `json:"prepaid"`
	BalanceDue               decimal.Decimal `json:"balanceDue"`
}

type validationSnapshot struct {
	Valid          bool     `json:"valid"`
	BlockingErrors []string `json:"blockingErrors"`
	Warnings       []string `json:"warnings"`
}

// EncodeSessionSnapshot serialises a wizard session into the stored JSON layout.
func EncodeSessionSnapshot(session domain.WizardSession) ([]byte, error) {
	snap := sessionSnapshot{
		Version:          SessionSnapshotVersion,
		ID:               session.ID,
		CurrentStage:     session.CurrentStage,
		Mode:             encodeMode(session.Mode),
		OrderInfo:        orderInfoSnapshot(session.OrderInfo),
		UrgencyID:        session.OrderModifiers.UrgencyID,
		Payment:          paymentSnapshot(session.Payment),
		TermsAccepted:    session.TermsAccepted,
		Totals:           encodePricing(session.Totals),
		CompletedStages:  []domain.Stage(session.CompletedStages),
		Validation:       validationSnapshot(session.Validation),
		EstimatedReadyAt: session.EstimatedReadyAt,
		ReceiptNumber:    session.ReceiptNumber,
		CatalogVersion:   session.CatalogVersion,
		Cancelled:        session.Cancelled,
		CancelReason:     session.CancelReason,
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
		CompletedAt:      session.CompletedAt,
	}
	if session.Client != nil {
		c := clientSnapshot(*session.Client)
		snap.Client = &c
	}
	if session.Branch != nil {
		b := branchSnapshot(*session.Branch)
		snap.Branch = &b
	}
	if session.OrderModifiers.Discount != nil {
		d := discountSnapshot(*session.OrderModifiers.Discount)
		snap.Discount = &d
	}
	items := session.Items.All()
	snap.Items = make([]itemSnapshot, 0, len(items))
	for _, item := range items {
		snap.Items = append(snap.Items, encodeItem(item))
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("session snapshot: encode %s: %w", session.ID, err)
	}
	return data, nil
}

// DecodeSessionSnapshot restores a session written by EncodeSessionSnapshot.
func DecodeSessionSnapshot(data []byte) (domain.WizardSession, error) {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.WizardSession{}, fmt.Errorf("session snapshot: decode: %w", err)
	}
	if snap.Version != SessionSnapshotVersion {
		return domain.WizardSession{}, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	if !snap.CurrentStage.Valid() {
		return domain.WizardSession{}, fmt.Errorf("session snapshot: unknown stage %q", snap.CurrentStage)
	}
	mode, err := decodeMode(snap.Mode)
	if err != nil {
		return domain.WizardSession{}, err
	}

	session := domain.WizardSession{
		ID:           snap.ID,
		CurrentStage: snap.CurrentStage,
		Mode:         mode,
		OrderInfo:    domain.OrderInfo(snap.OrderInfo),
		OrderModifiers: domain.OrderModifiers{
			UrgencyID: snap.UrgencyID,
		},
		Payment:          domain.PaymentInfo(snap.Payment),
		TermsAccepted:    snap.TermsAccepted,
		Totals:           decodePricing(snap.Totals),
		CompletedStages:  domain.StageSet(snap.CompletedStages),
		Validation:       domain.StepValidationResult(snap.Validation),
		EstimatedReadyAt: snap.EstimatedReadyAt,
		ReceiptNumber:    snap.ReceiptNumber,
		CatalogVersion:   snap.CatalogVersion,
		Cancelled:        snap.Cancelled,
		CancelReason:     snap.CancelReason,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
		CompletedAt:      snap.CompletedAt,
	}
	if snap.Client != nil {
		c := domain.ClientRef(*snap.Client)
		session.Client = &c
	}
	if snap.Branch != nil {
		b := domain.BranchRef(*snap.Branch)
		session.Branch = &b
	}
	if snap.Discount != nil {
		d := domain.DiscountSelection(*snap.Discount)
		session.OrderModifiers.Discount = &d
	}
	items := make([]domain.OrderItemDraft, 0, len(snap.Items))
	for _, item := range snap.Items {
		items = append(items, decodeItem(item))
	}
	session.Items = domain.NewItemList(items...)
	return session, nil
}

func encodeMode(mode domain.Mode) modeSnapshot {
	editing, ok := mode.(domain.ModeEditingItem)
	if !ok {
		return modeSnapshot{Kind: modeKindNormal}
	}
	draft := encodeItem(editing.Draft)
	out := modeSnapshot{
		Kind:    modeKindEditing,
		ItemID:  editing.ItemID,
		SubStep: editing.SubStep,
		IsNew:   editing.IsNew,
		Draft:   &draft,
	}
	if editing.Original != nil {
		original := encodeItem(*editing.Original)
		out.Original = &original
	}
	return out
}

func decodeMode(snap modeSnapshot) (domain.Mode, error) {
	switch snap.Kind {
	case "", modeKindNormal:
		return domain.ModeNormal{}, nil
	case modeKindEditing:
		if snap.Draft == nil {
			return nil, errors.New("session snapshot: editing mode without draft")
		}
		if snap.SubStep.Index() < 0 {
			return nil, fmt.Errorf("session snapshot: unknown sub-step %q", snap.SubStep)
		}
		editing := domain.ModeEditingItem{
			ItemID:  snap.ItemID,
			SubStep: snap.SubStep,
			IsNew:   snap.IsNew,
			Draft:   decodeItem(*snap.Draft),
		}
		if snap.Original != nil {
			original := decodeItem(*snap.Original)
			editing.Original = &original
		}
		return editing, nil
	default:
		return nil, fmt.Errorf("session snapshot: unknown mode %q", snap.Kind)
	}
}

func encodeItem(item domain.OrderItemDraft) itemSnapshot {
	out := itemSnapshot{
		ID:               item.ID,
		CategoryID:       item.CategoryID,
		CatalogItemID:    item.CatalogItemID,
		Name:             item.Name,
		Quantity:         item.Quantity,
		Unit:             item.UnitOfMeasure,
		UnitPrice:        item.UnitPrice,
		Material:         item.Characteristics.Material,
		Color:            item.Characteristics.Color,
		Filler:           item.Characteristics.Filler,
		WearLevel:        item.Characteristics.WearLevel,
		Stains:           item.Condition.Stains,
		Defects:          item.Condition.Defects,
		NoWarranty:       item.Condition.NoWarranty,
		NoWarrantyReason: item.Condition.NoWarrantyReason,
		ConditionNotes:   item.Condition.Notes,
	}
	if item.SelectedModifiers != nil {
		out.SelectedModifiers = make([]selectionSnapshot, 0, len(item.SelectedModifiers))
		for _, sel := range item.SelectedModifiers {
			out.SelectedModifiers = append(out.SelectedModifiers, selectionSnapshot(sel))
		}
	}
	if item.Photos != nil {
		out.Photos = make([]photoSnapshot, 0, len(item.Photos))
		for _, photo := range item.Photos {
			out.Photos = append(out.Photos, photoSnapshot(photo))
		}
	}
	if item.PriceBreakdown != nil {
		b := item.PriceBreakdown
		breakdown := breakdownSnapshot{
			UnitPrice:      b.UnitPrice,
			Quantity:       b.Quantity,
			BasePrice:      b.BasePrice,
			ModifiersTotal: b.ModifiersTotal,
			FinalPrice:     b.FinalPrice,
			Clamped:        b.Clamped,
		}
		if b.Modifiers != nil {
			breakdown.Modifiers = make([]applicationSnapshot, 0, len(b.Modifiers))
			for _, m := range b.Modifiers {
				breakdown.Modifiers = append(breakdown.Modifiers, applicationSnapshot(m))
			}
		}
		out.PriceBreakdown = &breakdown
	}
	return out
}

func decodeItem(snap itemSnapshot) domain.OrderItemDraft {
	out := domain.OrderItemDraft{
		ID:            snap.ID,
		CategoryID:    snap.CategoryID,
		CatalogItemID: snap.CatalogItemID,
		Name:          snap.Name,
		Quantity:      snap.Quantity,
		UnitOfMeasure: snap.Unit,
		UnitPrice:     snap.UnitPrice,
		Characteristics: domain.ItemCharacteristics{
			Material:  snap.Material,
			Color:     snap.Color,
			Filler:    snap.Filler,
			WearLevel: snap.WearLevel,
		},
		Condition: domain.ItemCondition{
			Stains:           snap.Stains,
			Defects:          snap.Defects,
			NoWarranty:       snap.NoWarranty,
			NoWarrantyReason: snap.NoWarrantyReason,
			Notes:            snap.ConditionNotes,
		},
	}
	if snap.SelectedModifiers != nil {
		out.SelectedModifiers = make([]domain.ModifierSelection, 0, len(snap.SelectedModifiers))
		for _, sel := range snap.SelectedModifiers {
			out.SelectedModifiers = append(out.SelectedModifiers, domain.ModifierSelection(sel))
		}
	}
	if snap.Photos != nil {
		out.Photos = make([]domain.PhotoRef, 0, len(snap.Photos))
		for _, photo := range snap.Photos {
			out.Photos = append(out.Photos, domain.PhotoRef(photo))
		}
	}
	if snap.PriceBreakdown != nil {
		b := snap.PriceBreakdown
		breakdown := domain.PriceBreakdown{
			UnitPrice:      b.UnitPrice,
			Quantity:       b.Quantity,
			BasePrice:      b.BasePrice,
			ModifiersTotal: b.ModifiersTotal,
			FinalPrice:     b.FinalPrice,
			Clamped:        b.Clamped,
		}
		if b.Modifiers != nil {
			breakdown.Modifiers = make([]domain.ModifierApplication, 0, len(b.Modifiers))
			for _, m := range b.Modifiers {
				breakdown.Modifiers = append(breakdown.Modifiers, domain.ModifierApplication(m))
			}
		}
		out.PriceBreakdown = &breakdown
	}
	return out
}

func encodePricing(result domain.PricingResult) pricingSnapshot {
	t := result.Totals
	return pricingSnapshot{
		Complete:                 result.Complete,
		MissingItemIDs:           result.MissingItemIDs,
		Currency:                 t.Currency,
		ItemsSubtotal:            t.ItemsSubtotal,
		ModifiersTotal:           t.ModifiersTotal,
		UrgencySurcharge:         t.UrgencySurcharge,
		DiscountApplicableAmount: t.DiscountApplicableAmount,
		DiscountAmount:           t.DiscountAmount,
		FinalTotal:               t.FinalTotal,
		Prepaid:                  t.Prepaid,
		BalanceDue:               t.BalanceDue,
	}
}

func decodePricing(snap pricingSnapshot) domain.PricingResult {
	return domain.PricingResult{
		Complete:       snap.Complete,
		MissingItemIDs: snap.MissingItemIDs,
		Totals: domain.OrderTotals{
			Currency:                 snap.Currency,
			ItemsSubtotal:            snap.ItemsSubtotal,
			ModifiersTotal:           snap.ModifiersTotal,
			UrgencySurcharge:         snap.UrgencySurcharge,
			DiscountApplicableAmount: snap.DiscountApplicableAmount,
			DiscountAmount:           snap.DiscountAmount,
			FinalTotal:               snap.FinalTotal,
			Prepaid:                  snap.Prepaid,
			BalanceDue:               snap.BalanceDue,
		},
	}
}
