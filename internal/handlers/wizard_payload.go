package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/platform/money"
	"github.com/cleanline/api/internal/services"
)

const (
	modeNormalType  = "normal"
	modeEditingType = "editing_item"
)

type viewPayload struct {
	Session    sessionPayload    `json:"session"`
	Navigation navigationPayload `json:"navigation"`
}

type navigationPayload struct {
	CanAdvance  bool     `json:"can_advance"`
	CanRetreat  bool     `json:"can_retreat"`
	JumpTargets []string `json:"jump_targets"`
}

type sessionPayload struct {
	ID               string                `json:"id"`
	CurrentStage     string                `json:"current_stage"`
	Mode             modePayload           `json:"mode"`
	Client           *clientPayload        `json:"client,omitempty"`
	Branch           *branchPayload        `json:"branch,omitempty"`
	OrderInfo        orderInfoPayload      `json:"order_info"`
	Items            []itemPayload         `json:"items"`
	OrderModifiers   orderModifiersPayload `json:"order_modifiers"`
	Payment          paymentPayload        `json:"payment"`
	TermsAccepted    bool                  `json:"terms_accepted"`
	Totals           totalsPayload         `json:"totals"`
	CompletedStages  []string              `json:"completed_stages"`
	Validation       validationPayload     `json:"validation"`
	EstimatedReadyAt *time.Time            `json:"estimated_ready_at,omitempty"`
	ReceiptNumber    string                `json:"receipt_number,omitempty"`
	CatalogVersion   string                `json:"catalog_version,omitempty"`
	Cancelled        bool                  `json:"cancelled"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

type modePayload struct {
	Type    string       `json:"type"`
	ItemID  string       `json:"item_id,omitempty"`
	SubStep string       `json:"sub_step,omitempty"`
	IsNew   bool         `json:"is_new,omitempty"`
	Draft   *itemPayload `json:"draft,omitempty"`
}

type clientPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type branchPayload struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type orderInfoPayload struct {
	TagNumber        string     `json:"tag_number,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	RequestedReadyAt *time.Time `json:"requested_ready_at,omitempty"`
}

type orderModifiersPayload struct {
	UrgencyID string                `json:"urgency_id,omitempty"`
	Discount  *modifierValuePayload `json:"discount,omitempty"`
}

type modifierValuePayload struct {
	ModifierID string  `json:"modifier_id"`
	Value      *string `json:"value,omitempty"`
}

type paymentPayload struct {
	Method  string `json:"method,omitempty"`
	Prepaid string `json:"prepaid"`
}

type itemPayload struct {
	ID                string                 `json:"id"`
	CategoryID        string                 `json:"category_id,omitempty"`
	CatalogItemID     string                 `json:"catalog_item_id,omitempty"`
	Name              string                 `json:"name,omitempty"`
	Quantity          string                 `json:"quantity"`
	UnitOfMeasure     string                 `json:"unit_of_measure,omitempty"`
	UnitPrice         string                 `json:"unit_price"`
	Characteristics   characteristicsPayload `json:"characteristics"`
	Condition         conditionPayload       `json:"condition"`
	SelectedModifiers []modifierValuePayload `json:"selected_modifiers"`
	Photos            []photoPayload         `json:"photos"`
	PriceBreakdown    *breakdownPayload      `json:"price_breakdown,omitempty"`
}

type characteristicsPayload struct {
	Material  string `json:"material,omitempty"`
	Color     string `json:"color,omitempty"`
	Filler    string `json:"filler,omitempty"`
	WearLevel *int   `json:"wear_level,omitempty"`
}

type conditionPayload struct {
	Stains           []string `json:"stains"`
	Defects          []string `json:"defects"`
	NoWarranty       bool     `json:"no_warranty"`
	NoWarrantyReason string   `json:"no_warranty_reason,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

type photoPayload struct {
	ID          string    `json:"id"`
	ObjectPath  string    `json:"object_path"`
	ContentType string    `json:"content_type,omitempty"`
	AttachedAt  time.Time `json:"attached_at"`
}

type breakdownPayload struct {
	UnitPrice      string                       `json:"unit_price"`
	Quantity       string                       `json:"quantity"`
	BasePrice      string                       `json:"base_price"`
	Modifiers      []modifierApplicationPayload `json:"modifiers"`
	ModifiersTotal string                       `json:"modifiers_total"`
	FinalPrice     string                       `json:"final_price"`
	Clamped        bool                         `json:"clamped,omitempty"`
}

type modifierApplicationPayload struct {
	ModifierID string `json:"modifier_id"`
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	Effect     string `json:"effect"`
	Value      string `json:"value"`
	Amount     string `json:"amount"`
}

// totalsPayload omits amounts while pricing is incomplete.
type totalsPayload struct {
	Complete                 bool              `json:"complete"`
	MissingItemIDs           []string          `json:"missing_item_ids,omitempty"`
	Currency                 string            `json:"currency,omitempty"`
	ItemsSubtotal            string            `json:"items_subtotal,omitempty"`
	ModifiersTotal           string            `json:"modifiers_total,omitempty"`
	UrgencySurcharge         string            `json:"urgency_surcharge,omitempty"`
	DiscountApplicableAmount string            `json:"discount_applicable_amount,omitempty"`
	DiscountAmount           string            `json:"discount_amount,omitempty"`
	FinalTotal               string            `json:"final_total,omitempty"`
	Prepaid                  string            `json:"prepaid,omitempty"`
	BalanceDue               string            `json:"balance_due,omitempty"`
	Display                  map[string]string `json:"display,omitempty"`
}

type validationPayload struct {
	Valid          bool     `json:"valid"`
	BlockingErrors []string `json:"blocking_errors"`
	Warnings       []string `json:"warnings"`
}

type photoTicketPayload struct {
	PhotoID    string            `json:"photo_id"`
	ObjectPath string            `json:"object_path"`
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

func buildViewPayload(view services.WizardView, formatter *money.Formatter) viewPayload {
	return viewPayload{
		Session:    buildSessionPayload(view.Session, formatter),
		Navigation: buildNavigationPayload(view.Navigation),
	}
}

func buildNavigationPayload(nav domain.Navigation) navigationPayload {
	targets := make([]string, 0, len(nav.JumpTargets))
	for _, stage := range nav.JumpTargets {
		targets = append(targets, string(stage))
	}
	return navigationPayload{CanAdvance: nav.CanAdvance, CanRetreat: nav.CanRetreat, JumpTargets: targets}
}

func buildSessionPayload(session domain.WizardSession, formatter *money.Formatter) sessionPayload {
	payload := sessionPayload{
		ID:           session.ID,
		CurrentStage: string(session.CurrentStage),
		Mode:         modePayload{Type: modeNormalType},
		OrderInfo: orderInfoPayload{
			TagNumber:        session.OrderInfo.TagNumber,
			Notes:            session.OrderInfo.Notes,
			RequestedReadyAt: session.OrderInfo.RequestedReadyAt,
		},
		OrderModifiers: orderModifiersPayload{UrgencyID: session.OrderModifiers.UrgencyID},
		Payment: paymentPayload{
			Method:  string(session.Payment.Method),
			Prepaid: session.Payment.Prepaid.String(),
		},
		TermsAccepted: session.TermsAccepted,
		Totals:        buildTotalsPayload(session.Totals, formatter),
		Validation: validationPayload{
			Valid:          session.Validation.Valid,
			BlockingErrors: nonNilStrings(session.Validation.BlockingErrors),
			Warnings:       nonNilStrings(session.Validation.Warnings),
		},
		EstimatedReadyAt: session.EstimatedReadyAt,
		ReceiptNumber:    session.ReceiptNumber,
		CatalogVersion:   session.CatalogVersion,
		Cancelled:        session.Cancelled,
		CancelReason:     session.CancelReason,
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
		CompletedAt:      session.CompletedAt,
	}

	if editing, ok := session.Editing(); ok {
		draft := buildItemPayload(editing.Draft)
		payload.Mode = modePayload{
			Type:    modeEditingType,
			ItemID:  editing.ItemID,
			SubStep: string(editing.SubStep),
			IsNew:   editing.IsNew,
			Draft:   &draft,
		}
	}
	if session.Client != nil {
		payload.Client = &clientPayload{
			ID:          session.Client.ID,
			DisplayName: session.Client.DisplayName,
			Phone:       session.Client.Phone,
		}
	}
	if session.Branch != nil {
		payload.Branch = &branchPayload{
			ID:          session.Branch.ID,
			Code:        session.Branch.Code,
			DisplayName: session.Branch.DisplayName,
		}
	}
	if discount := session.OrderModifiers.Discount; discount != nil {
		payload.OrderModifiers.Discount = &modifierValuePayload{
			ModifierID: discount.DiscountID,
			Value:      decimalPtrString(discount.Value),
		}
	}

	items := session.Items.All()
	payload.Items = make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload.Items = append(payload.Items, buildItemPayload(item))
	}

	payload.CompletedStages = make([]string, 0, len(session.CompletedStages))
	for _, stage := range session.CompletedStages {
		payload.CompletedStages = append(payload.CompletedStages, string(stage))
	}
	return payload
}

func buildItemPayload(item domain.OrderItemDraft) itemPayload {
	payload := itemPayload{
		ID:            item.ID,
		CategoryID:    item.CategoryID,
		CatalogItemID: item.CatalogItemID,
		Name:          item.Name,
		Quantity:      item.Quantity.String(),
		UnitOfMeasure: string(item.UnitOfMeasure),
		UnitPrice:     item.UnitPrice.String(),
		Characteristics: characteristicsPayload{
			Material:  item.Characteristics.Material,
			Color:     item.Characteristics.Color,
			Filler:    item.Characteristics.Filler,
			WearLevel: item.Characteristics.WearLevel,
		},
		Condition: conditionPayload{
			Stains:           nonNilStrings(item.Condition.Stains),
			Defects:          nonNilStrings(item.Condition.Defects),
			NoWarranty:       item.Condition.NoWarranty,
			NoWarrantyReason: item.Condition.NoWarrantyReason,
			Notes:            item.Condition.Notes,
		},
		SelectedModifiers: make([]modifierValuePayload, 0, len(item.SelectedModifiers)),
		Photos:            make([]photoPayload, 0, len(item.Photos)),
	}
	for _, sel := range item.SelectedModifiers {
		payload.SelectedModifiers = append(payload.SelectedModifiers, modifierValuePayload{
			ModifierID: sel.ModifierID,
			Value:      decimalPtrString(sel.Value),
		})
	}
	for _, photo := range item.Photos {
		payload.Photos = append(payload.Photos, photoPayload{
			ID:          photo.ID,
			ObjectPath:  photo.ObjectPath,
			ContentType: photo.ContentType,
			AttachedAt:  photo.AttachedAt,
		})
	}
	if b := item.PriceBreakdown; b != nil {
		breakdown := &breakdownPayload{
			UnitPrice:      b.UnitPrice.String(),
			Quantity:       b.Quantity.String(),
			BasePrice:      b.BasePrice.String(),
			Modifiers:      make([]modifierApplicationPayload, 0, len(b.Modifiers)),
			ModifiersTotal: b.ModifiersTotal.String(),
			FinalPrice:     b.FinalPrice.String(),
			Clamped:        b.Clamped,
		}
		for _, m := range b.Modifiers {
			breakdown.Modifiers = append(breakdown.Modifiers, modifierApplicationPayload{
				ModifierID: m.ModifierID,
				Code:       m.Code,
				Name:       m.Name,
				Effect:     string(m.Effect),
				Value:      m.Value.String(),
				Amount:     m.Amount.String(),
			})
		}
		payload.PriceBreakdown = breakdown
	}
	return payload
}

func buildTotalsPayload(result domain.PricingResult, formatter *money.Formatter) totalsPayload {
	if !result.Complete {
		return totalsPayload{MissingItemIDs: nonNilStrings(result.MissingItemIDs)}
	}
	t := result.Totals
	payload := totalsPayload{
		Complete:                 true,
		Currency:                 t.Currency,
		ItemsSubtotal:            t.ItemsSubtotal.String(),
		ModifiersTotal:           t.ModifiersTotal.String(),
		UrgencySurcharge:         t.UrgencySurcharge.String(),
		DiscountApplicableAmount: t.DiscountApplicableAmount.String(),
		DiscountAmount:           t.DiscountAmount.String(),
		FinalTotal:               t.FinalTotal.String(),
		Prepaid:                  t.Prepaid.String(),
		BalanceDue:               t.BalanceDue.String(),
	}
	if formatter == nil {
		return payload
	}
	cur, err := money.ParseCurrency(t.Currency)
	if err != nil {
		return payload
	}
	payload.Display = map[string]string{
		"items_subtotal":    formatter.Symbol(cur, t.ItemsSubtotal),
		"urgency_surcharge": formatter.Symbol(cur, t.UrgencySurcharge),
		"discount_amount":   formatter.Symbol(cur, t.DiscountAmount),
		"final_total":       formatter.Symbol(cur, t.FinalTotal),
		"prepaid":           formatter.Symbol(cur, t.Prepaid),
		"balance_due":       formatter.Symbol(cur, t.BalanceDue),
	}
	return payload
}

func buildPhotoTicketPayload(ticket services.PhotoUploadTicket) photoTicketPayload {
	return photoTicketPayload{
		PhotoID:    ticket.PhotoID,
		ObjectPath: ticket.ObjectPath,
		UploadURL:  ticket.UploadURL,
		Method:     ticket.Method,
		Headers:    ticket.Headers,
		ExpiresAt:  ticket.ExpiresAt,
	}
}

func decimalPtrString(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	s := value.String()
	return &s
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
