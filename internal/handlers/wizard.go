package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/platform/httpx"
	"github.com/cleanline/api/internal/platform/idempotency"
	"github.com/cleanline/api/internal/platform/money"
	"github.com/cleanline/api/internal/platform/requestctx"
	"github.com/cleanline/api/internal/services"
)

type jumpRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type cancelSessionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type selectClientRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Phone       string `json:"phone" validate:"max=40"`
}

type selectBranchRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	Code        string `json:"code" validate:"max=16"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

type orderInfoRequest struct {
	TagNumber        string     `json:"tag_number" validate:"max=64"`
	Notes            string     `json:"notes" validate:"max=2000"`
	RequestedReadyAt *time.Time `json:"requested_ready_at"`
}

type urgencyRequest struct {
	UrgencyID string `json:"urgency_id" validate:"max=128"`
}

type discountRequest struct {
	DiscountID string           `json:"discount_id" validate:"required,max=128"`
	Value      *decimal.Decimal `json:"value"`
}

type paymentRequest struct {
	Method  string          `json:"method" validate:"omitempty,oneof=cash card transfer"`
	Prepaid decimal.Decimal `json:"prepaid"`
}

type termsRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

type itemIdentityRequest struct {
	CategoryID    string          `json:"category_id" validate:"required,max=128"`
	CatalogItemID string          `json:"catalog_item_id" validate:"required,max=128"`
	Quantity      decimal.Decimal `json:"quantity"`
}

type itemCharacteristicsRequest struct {
	Material  string `json:"material" validate:"max=200"`
	Color     string `json:"color" validate:"max=200"`
	Filler    string `json:"filler" validate:"max=200"`
	WearLevel *int   `json:"wear_level" validate:"omitempty,gte=0,lte=100"`
}

type itemConditionRequest struct {
	Stains           []string `json:"stains" validate:"max=20,dive,max=200"`
	Defects          []string `json:"defects" validate:"max=20,dive,max=200"`
	NoWarranty       bool     `json:"no_warranty"`
	NoWarrantyReason string   `json:"no_warranty_reason" validate:"max=500"`
	Notes            string   `json:"notes" validate:"max=2000"`
}

type modifierSelectionRequest struct {
	ModifierID string           `json:"modifier_id" validate:"required,max=128"`
	Value      *decimal.Decimal `json:"value"`
}

type itemModifiersRequest struct {
	Modifiers []modifierSelectionRequest `json:"modifiers" validate:"max=50,dive"`
}

type photoUploadRequest struct {
	ContentType string `json:"content_type" validate:"required,max=100"`
	SizeBytes   int64  `json:"size_bytes" validate:"gt=0"`
}

type attachPhotoRequest struct {
	PhotoID     string `json:"photo_id" validate:"required,max=128"`
	ObjectPath  string `json:"object_path" validate:"required,max=1024"`
	ContentType string `json:"content_type" validate:"max=100"`
}

// WizardHandlers exposes the order intake wizard over HTTP.
type WizardHandlers struct {
	wizard     services.WizardService
	formatter  *money.Formatter
	idempotent func(http.Handler) http.Handler
}

// WizardHandlersOption customises the wizard handlers.
type WizardHandlersOption func(*WizardHandlers)

// WithMoneyFormatter adds locale formatted amounts to rendered totals.
func WithMoneyFormatter(formatter *money.Formatter) WizardHandlersOption {
	return func(h *WizardHandlers) {
		h.formatter = formatter
	}
}

// WithIdempotency replays responses for intents that repeat their Idempotency-Key.
func WithIdempotency(store idempotency.Store, opts ...idempotency.MiddlewareOption) WizardHandlersOption {
	return func(h *WizardHandlers) {
		h.idempotent = idempotency.Middleware(store, opts...)
	}
}

// NewWizardHandlers constructs the session endpoints.
func NewWizardHandlers(wizard services.WizardService, opts ...WizardHandlersOption) *WizardHandlers {
	h := &WizardHandlers{wizard: wizard}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.idempotent == nil {
		h.idempotent = idempotency.Middleware(nil)
	}
	return h
}

// Routes registers the /sessions endpoints.
func (h *WizardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.idempotent).Post("/", h.startSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Use(sessionContext, h.idempotent)
		r.Get("/", h.getSession)

		r.Post("/advance", h.intent(services.WizardService.Advance))
		r.Post("/retreat", h.intent(services.WizardService.Retreat))
		r.Post("/jump", h.jump)
		r.Post("/cancel", h.cancel)
		r.Post("/reset", h.intent(services.WizardService.Reset))

		r.Put("/client", h.selectClient)
		r.Put("/branch", h.selectBranch)
		r.Put("/order-info", h.setOrderInfo)
		r.Put("/urgency", h.setUrgency)
		r.Put("/discount", h.setDiscount)
		r.Put("/payment", h.setPayment)
		r.Put("/terms", h.acceptTerms)

		r.Post("/items", h.startNewItem)
		r.Post("/items/{itemID}/edit", h.editItem)
		r.Delete("/items/{itemID}", h.deleteItem)

		r.Route("/items/current", func(r chi.Router) {
			r.Post("/advance", h.intent(services.WizardService.AdvanceItem))
			r.Post("/retreat", h.intent(services.WizardService.RetreatItem))
			r.Post("/complete", h.intent(services.WizardService.CompleteItem))
			r.Post("/cancel", h.intent(services.WizardService.CancelItem))
			r.Put("/identity", h.updateIdentity)
			r.Put("/characteristics", h.updateCharacteristics)
			r.Put("/condition", h.updateCondition)
			r.Put("/modifiers", h.selectModifiers)
			r.Post("/photos/upload-url", h.requestPhotoUpload)
			r.Post("/photos", h.attachPhoto)
			r.Delete("/photos/{photoID}", h.removePhoto)
		})
	})
}

// sessionContext records the path session id on the request context for logging.
func sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
		if id == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeInvalidRequest, "session id is required", http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), id)))
	})
}

func (h *WizardHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.wizard == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wizard_unavailable", "wizard service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *WizardHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	view, err := h.wizard.Start(ctx)
	if err != nil {
		h.writeWizardError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildViewPayload(view, h.formatter))
}

func (h *WizardHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	view, err := h.wizard.Get(ctx, requestctx.SessionID(ctx))
	h.respond(ctx, w, view, err)
}

// intent adapts body-less session operations.
func (h *WizardHandlers) intent(op func(services.WizardService, context.Context, string) (services.WizardView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !h.available(ctx, w) {
			return
		}
		view, err := op(h.wizard, ctx, requestctx.SessionID(ctx))
		h.respond(ctx, w, view, err)
	}
}

func (h *WizardHandlers) jump(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req jumpRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.JumpTo(ctx, requestctx.SessionID(ctx), domain.Stage(strings.TrimSpace(req.Stage)))
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req cancelSessionRequest
	if err := decodeRequest(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(ctx, w, err)
		return
	}
	view, err := h.wizard.Cancel(ctx, requestctx.SessionID(ctx), req.Reason)
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) selectClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SelectClient(ctx, requestctx.SessionID(ctx), domain.ClientRef{
		ID:          strings.TrimSpace(req.ID),
		DisplayName: req.DisplayName,
		Phone:       strings.TrimSpace(req.Phone),
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) selectBranch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectBranchRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SelectBranch(ctx, requestctx.SessionID(ctx), domain.BranchRef{
		ID:          strings.TrimSpace(req.ID),
		Code:        strings.TrimSpace(req.Code),
		DisplayName: req.DisplayName,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) setOrderInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req orderInfoRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SetOrderInfo(ctx, requestctx.SessionID(ctx), domain.OrderInfo{
		TagNumber:        req.TagNumber,
		Notes:            req.Notes,
		RequestedReadyAt: req.RequestedReadyAt,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) setUrgency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req urgencyRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SetUrgency(ctx, requestctx.SessionID(ctx), strings.TrimSpace(req.UrgencyID))
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) setDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req discountRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SetDiscount(ctx, requestctx.SessionID(ctx), domain.DiscountSelection{
		DiscountID: strings.TrimSpace(req.DiscountID),
		Value:      req.Value,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) setPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.SetPayment(ctx, requestctx.SessionID(ctx), domain.PaymentInfo{
		Method:  domain.PaymentMethod(req.Method),
		Prepaid: req.Prepaid,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) acceptTerms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req termsRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.AcceptTerms(ctx, requestctx.SessionID(ctx), *req.Accepted)
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) startNewItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	view, err := h.wizard.StartItem(ctx, requestctx.SessionID(ctx), "")
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) editItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	itemID, ok := pathParam(w, r, "itemID")
	if !ok {
		return
	}
	view, err := h.wizard.StartItem(ctx, requestctx.SessionID(ctx), itemID)
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	itemID, ok := pathParam(w, r, "itemID")
	if !ok {
		return
	}
	view, err := h.wizard.DeleteItem(ctx, requestctx.SessionID(ctx), itemID)
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) updateIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req itemIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.UpdateItemIdentity(ctx, requestctx.SessionID(ctx), services.ItemIdentityInput{
		CategoryID:    strings.TrimSpace(req.CategoryID),
		CatalogItemID: strings.TrimSpace(req.CatalogItemID),
		Quantity:      req.Quantity,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) updateCharacteristics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req itemCharacteristicsRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.UpdateItemCharacteristics(ctx, requestctx.SessionID(ctx), services.ItemCharacteristicsInput{
		Material:  req.Material,
		Color:     req.Color,
		Filler:    req.Filler,
		WearLevel: req.WearLevel,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) updateCondition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req itemConditionRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.UpdateItemCondition(ctx, requestctx.SessionID(ctx), services.ItemConditionInput{
		Stains:           req.Stains,
		Defects:          req.Defects,
		NoWarranty:       req.NoWarranty,
		NoWarrantyReason: req.NoWarrantyReason,
		Notes:            req.Notes,
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) selectModifiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req itemModifiersRequest
	if !h.decode(w, r, &req) {
		return
	}
	selections := make([]domain.ModifierSelection, 0, len(req.Modifiers))
	for _, m := range req.Modifiers {
		selections = append(selections, domain.ModifierSelection{
			ModifierID: strings.TrimSpace(m.ModifierID),
			Value:      m.Value,
		})
	}
	view, err := h.wizard.SelectItemModifiers(ctx, requestctx.SessionID(ctx), selections)
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) requestPhotoUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req photoUploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.wizard.RequestPhotoUpload(ctx, requestctx.SessionID(ctx), services.PhotoUploadCommand{
		ContentType: strings.TrimSpace(req.ContentType),
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		h.writeWizardError(ctx, w, services.WizardView{}, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildPhotoTicketPayload(ticket))
}

func (h *WizardHandlers) attachPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req attachPhotoRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.wizard.AttachPhoto(ctx, requestctx.SessionID(ctx), services.AttachPhotoCommand{
		PhotoID:     strings.TrimSpace(req.PhotoID),
		ObjectPath:  strings.TrimSpace(req.ObjectPath),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	h.respond(ctx, w, view, err)
}

func (h *WizardHandlers) removePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	photoID, ok := pathParam(w, r, "photoID")
	if !ok {
		return
	}
	view, err := h.wizard.RemovePhoto(ctx, requestctx.SessionID(ctx), photoID)
	h.respond(ctx, w, view, err)
}

// decode checks service availability and decodes the body, writing the error response on failure.
func (h *WizardHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return false
	}
	if err := decodeRequest(r, dst); err != nil {
		writeDecodeError(ctx, w, err)
		return false
	}
	return true
}

func (h *WizardHandlers) respond(ctx context.Context, w http.ResponseWriter, view services.WizardView, err error) {
	if err != nil {
		h.writeWizardError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view, h.formatter))
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeInvalidRequest, name+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

// writeWizardError maps wizard failures onto the error envelope. When the session is known the
// unchanged view is attached so clients can re-render without another round trip.
func (h *WizardHandlers) writeWizardError(ctx context.Context, w http.ResponseWriter, view services.WizardView, err error) {
	if err == nil {
		return
	}
	details := map[string]any{}
	if view.Session.ID != "" {
		details["view"] = buildViewPayload(view, h.formatter)
	}

	var (
		validationErr *services.ValidationError
		transitionErr *services.IllegalTransitionError
		pricingErr    *services.IncompletePricingError
		apiErr        httpx.Error
	)
	switch {
	case errors.As(err, &validationErr):
		details["scope"] = validationErr.Scope
		apiErr = httpx.NewError(httpx.CodeValidationFailed, err.Error(), http.StatusUnprocessableEntity).
			WithValidation(validationErr.Result.BlockingErrors, validationErr.Result.Warnings)
	case errors.As(err, &transitionErr):
		details["from"] = transitionErr.From
		details["attempted"] = transitionErr.Attempted
		details["reason"] = transitionErr.Reason
		apiErr = httpx.NewError(httpx.CodeIllegalTransition, err.Error(), http.StatusConflict)
	case errors.As(err, &pricingErr):
		details["missing_item_ids"] = nonNilStrings(pricingErr.MissingItemIDs)
		apiErr = httpx.NewError(httpx.CodeIncompletePricing, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrSessionNotFound):
		apiErr = httpx.NewError(httpx.CodeSessionNotFound, "wizard session not found", http.StatusNotFound)
	case errors.Is(err, services.ErrSessionStale):
		apiErr = httpx.NewError(httpx.CodeSessionStale, "wizard session was changed by another request; reload it", http.StatusConflict)
	case errors.Is(err, services.ErrSessionCancelled):
		apiErr = httpx.NewError(httpx.CodeSessionCancelled, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrWizardInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		apiErr = httpx.NewError(httpx.CodeInvalidRequest, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrWizardUnavailable):
		apiErr = httpx.NewError("wizard_unavailable", "wizard temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = httpx.NewError(httpx.CodeTimeout, "request timed out", http.StatusGatewayTimeout)
	default:
		apiErr = httpx.NewError(httpx.CodeInternal, "failed to process wizard request", http.StatusInternalServerError)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}
