package services

import (
	"context"
	"time"

	"github.com/cleanline/api/internal/domain"
)

// WizardService exposes the order wizard to transport layers. Every mutating call returns the
// resulting view; on rejection the view reflects the unchanged session alongside the error.
type WizardService interface {
	Start(ctx context.Context) (WizardView, error)
	Get(ctx context.Context, sessionID string) (WizardView, error)

	Advance(ctx context.Context, sessionID string) (WizardView, error)
	Retreat(ctx context.Context, sessionID string) (WizardView, error)
	JumpTo(ctx context.Context, sessionID string, stage domain.Stage) (WizardView, error)
	Cancel(ctx context.Context, sessionID string, reason string) (WizardView, error)
	Reset(ctx context.Context, sessionID string) (WizardView, error)

	SelectClient(ctx context.Context, sessionID string, client domain.ClientRef) (WizardView, error)
	SelectBranch(ctx context.Context, sessionID string, branch domain.BranchRef) (WizardView, error)
	SetOrderInfo(ctx context.Context, sessionID string, info domain.OrderInfo) (WizardView, error)
	SetUrgency(ctx context.Context, sessionID string, urgencyID string) (WizardView, error)
	SetDiscount(ctx context.Context, sessionID string, discount domain.DiscountSelection) (WizardView, error)
	SetPayment(ctx context.Context, sessionID string, payment domain.PaymentInfo) (WizardView, error)
	AcceptTerms(ctx context.Context, sessionID string, accepted bool) (WizardView, error)

	StartItem(ctx context.Context, sessionID string, existingItemID string) (WizardView, error)
	AdvanceItem(ctx context.Context, sessionID string) (WizardView, error)
	RetreatItem(ctx context.Context, sessionID string) (WizardView, error)
	CompleteItem(ctx context.Context, sessionID string) (WizardView, error)
	CancelItem(ctx context.Context, sessionID string) (WizardView, error)
	DeleteItem(ctx context.Context, sessionID string, itemID string) (WizardView, error)
	UpdateItemIdentity(ctx context.Context, sessionID string, in ItemIdentityInput) (WizardView, error)
	UpdateItemCharacteristics(ctx context.Context, sessionID string, in ItemCharacteristicsInput) (WizardView, error)
	UpdateItemCondition(ctx context.Context, sessionID string, in ItemConditionInput) (WizardView, error)
	SelectItemModifiers(ctx context.Context, sessionID string, selections []domain.ModifierSelection) (WizardView, error)

	RequestPhotoUpload(ctx context.Context, sessionID string, cmd PhotoUploadCommand) (PhotoUploadTicket, error)
	AttachPhoto(ctx context.Context, sessionID string, cmd AttachPhotoCommand) (WizardView, error)
	RemovePhoto(ctx context.Context, sessionID string, photoID string) (WizardView, error)

	// Sweep evicts in-memory sessions idle since before cutoff and returns how many were dropped.
	Sweep(ctx context.Context, cutoff time.Time) int
}

// WizardView is what callers render: the session snapshot plus navigation affordances.
type WizardView struct {
	Session    domain.WizardSession
	Navigation domain.Navigation
}

// CatalogService resolves the catalog that sessions are priced against.
type CatalogService interface {
	Current(ctx context.Context) (domain.Catalog, error)
	Refresh(ctx context.Context) (domain.Catalog, error)
}

// CounterService hands out formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextReceiptNumber(ctx context.Context, branchCode string) (string, error)
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	Prefix       string
	Suffix       string
	PadLength    int
	MaxValue     *int64
	InitialValue *int64
	Formatter    func(now time.Time, value int64) string
}

// CounterValue is a raw sequence value together with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}

// OrderEventPublisher emits integration events for downstream systems.
type OrderEventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) (string, error)
}

// OrderConfirmedEvent is published once per completed order.
type OrderConfirmedEvent struct {
	SessionID        string     `json:"sessionId"`
	ReceiptNumber    string     `json:"receiptNumber"`
	ClientID         string     `json:"clientId"`
	BranchID         string     `json:"branchId"`
	BranchCode       string     `json:"branchCode,omitempty"`
	TagNumber        string     `json:"tagNumber,omitempty"`
	ItemCount        int        `json:"itemCount"`
	Currency         string     `json:"currency"`
	ItemsSubtotal    string     `json:"itemsSubtotal"`
	UrgencySurcharge string     `json:"urgencySurcharge"`
	DiscountAmount   string     `json:"discountAmount"`
	FinalTotal       string     `json:"finalTotal"`
	Prepaid          string     `json:"prepaid"`
	BalanceDue       string     `json:"balanceDue"`
	UrgencyID        string     `json:"urgencyId,omitempty"`
	DiscountID       string     `json:"discountId,omitempty"`
	EstimatedReadyAt *time.Time `json:"estimatedReadyAt,omitempty"`
	ConfirmedAt      time.Time  `json:"confirmedAt"`
}

// PhotoStorage issues direct upload URLs for item photos and recognises the objects it issued.
type PhotoStorage interface {
	SignPhotoUpload(ctx context.Context, req PhotoUploadRequest) (PhotoUploadTicket, error)
	OwnsObject(sessionID, itemID, objectPath string) bool
}

// PhotoUploadCommand is the caller's request for an upload URL.
type PhotoUploadCommand struct {
	ContentType string
	SizeBytes   int64
}

// PhotoUploadRequest is passed to PhotoStorage once the service has resolved ids.
type PhotoUploadRequest struct {
	SessionID   string
	ItemID      string
	PhotoID     string
	ContentType string
	SizeBytes   int64
}

// PhotoUploadTicket describes how the client uploads the photo bytes.
type PhotoUploadTicket struct {
	PhotoID    string
	ObjectPath string
	UploadURL  string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// AttachPhotoCommand attaches an uploaded object to the draft being edited.
type AttachPhotoCommand struct {
	PhotoID     string
	ObjectPath  string
	ContentType string
}

// WizardMetrics records wizard activity. Implementations must be safe for concurrent use.
type WizardMetrics interface {
	SessionStarted()
	IntentObserved(intent, outcome string, duration time.Duration)
	StageEntered(stage domain.Stage)
	OrderCompleted(currency string, total float64)
}

type noopWizardMetrics struct{}

func (noopWizardMetrics) SessionStarted()                               {}
func (noopWizardMetrics) IntentObserved(string, string, time.Duration) {}
func (noopWizardMetrics) StageEntered(domain.Stage)                     {}
func (noopWizardMetrics) OrderCompleted(string, float64)                {}
