package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

const (
	defaultSessionTTL = 12 * time.Hour
	wizardTracerName  = "github.com/cleanline/api/internal/services/wizard"

	wizardLoggerEventStarted       = "wizard.session.started"
	wizardLoggerEventIntent        = "wizard.intent.applied"
	wizardLoggerEventRejected      = "wizard.intent.rejected"
	wizardLoggerEventPersistFailed = "wizard.session.persist_failed"
	wizardLoggerEventCatalogStale  = "wizard.catalog.refresh_failed"
	wizardLoggerEventCompleted     = "wizard.order.completed"
	wizardLoggerEventPublishFailed = "wizard.order.publish_failed"
	wizardLoggerEventReceiptVoided = "wizard.order.receipt_skipped"
	wizardLoggerEventEvicted       = "wizard.sessions.evicted"
)

// WizardServiceDeps wires the wizard session store.
type WizardServiceDeps struct {
	Sessions repositories.WizardSessionRepository
	Catalog  CatalogService
	Pricing  *OrderPricingEngine
	Counters CounterService
	Events   OrderEventPublisher
	Photos   PhotoStorage
	Metrics  WizardMetrics
	// Sanitize cleans operator-entered free text before it reaches the session.
	Sanitize    func(string) string
	SessionTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Tracer      trace.Tracer
}

type wizardService struct {
	sessions repositories.WizardSessionRepository
	catalog  CatalogService
	pricing  *OrderPricingEngine
	counters CounterService
	events   OrderEventPublisher
	photos   PhotoStorage
	metrics  WizardMetrics
	sanitize func(string) string
	ttl      time.Duration
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	tracer   trace.Tracer

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession serialises intents for one session. orch is nil until loaded; gone marks an evicted entry.
type liveSession struct {
	mu          sync.Mutex
	orch        *Orchestrator
	lastTouched time.Time
	gone        bool
}

// NewWizardService constructs the wizard session store.
func NewWizardService(deps WizardServiceDeps) (WizardService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("wizard service: session repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("wizard service: catalog service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("wizard service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopWizardMetrics{}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(wizardTracerName)
	}

	return &wizardService{
		sessions: deps.Sessions,
		catalog:  deps.Catalog,
		pricing:  deps.Pricing,
		counters: deps.Counters,
		events:   deps.Events,
		photos:   deps.Photos,
		metrics:  metrics,
		sanitize: sanitize,
		ttl:      ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
		tracer: tracer,
		live:   make(map[string]*liveSession),
	}, nil
}

func (s *wizardService) orchestratorDeps(catalog domain.Catalog) OrchestratorDeps {
	return OrchestratorDeps{
		Pricing: s.pricing,
		Catalog: catalog,
		Clock:   s.clock,
		NewID:   s.newID,
	}
}

func (s *wizardService) Start(ctx context.Context) (WizardView, error) {
	ctx, span := s.tracer.Start(ctx, "wizard.start")
	defer span.End()
	started := s.clock()

	catalog, err := s.catalog.Current(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrWizardUnavailable, err)
		s.observe(ctx, span, "start", "", started, err)
		return WizardView{}, err
	}
	orch, err := NewOrchestrator(s.orchestratorDeps(catalog))
	if err != nil {
		return WizardView{}, err
	}
	session := orch.Session()
	if err := s.persist(ctx, session); err != nil {
		s.observe(ctx, span, "start", session.ID, started, err)
		return WizardView{}, err
	}

	s.mu.Lock()
	s.live[session.ID] = &liveSession{orch: orch, lastTouched: started}
	s.mu.Unlock()

	s.metrics.SessionStarted()
	s.metrics.StageEntered(session.CurrentStage)
	s.logger(ctx, wizardLoggerEventStarted, map[string]any{
		"sessionId":      session.ID,
		"catalogVersion": session.CatalogVersion,
	})
	s.observe(ctx, span, "start", session.ID, started, nil)
	return viewOf(orch), nil
}

func (s *wizardService) Get(ctx context.Context, sessionID string) (WizardView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return WizardView{}, fmt.Errorf("%w: session id is required", ErrWizardInvalidInput)
	}
	live, err := s.acquire(ctx, sessionID)
	if err != nil {
		return WizardView{}, err
	}
	defer live.mu.Unlock()
	live.lastTouched = s.clock()
	return viewOf(live.orch), nil
}

func (s *wizardService) Advance(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "advance", sessionID, func(ctx context.Context, o *Orchestrator) error {
		if o.session.CurrentStage == domain.StageConfirmation && !o.session.Cancelled {
			return s.complete(ctx, o)
		}
		_, err := o.Advance()
		return err
	})
}

// complete assigns the receipt number and moves the order to Completed.
func (s *wizardService) complete(ctx context.Context, o *Orchestrator) error {
	result := ValidateStage(domain.StageConfirmation, o.snapshot())
	if !result.Valid {
		return newValidationError(string(domain.StageConfirmation), result)
	}
	if s.counters != nil && o.session.ReceiptNumber == "" {
		code := ""
		if o.session.Branch != nil {
			code = o.session.Branch.Code
			if code == "" {
				code = o.session.Branch.ID
			}
		}
		number, err := s.counters.NextReceiptNumber(ctx, code)
		if err != nil {
			return fmt.Errorf("%w: receipt number: %v", ErrWizardUnavailable, err)
		}
		if err := o.AssignReceiptNumber(number); err != nil {
			return err
		}
	}
	_, err := o.Advance()
	return err
}

func (s *wizardService) Retreat(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "retreat", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.Retreat()
	})
}

func (s *wizardService) JumpTo(ctx context.Context, sessionID string, stage domain.Stage) (WizardView, error) {
	return s.mutate(ctx, "jump", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.JumpTo(stage)
	})
}

func (s *wizardService) Cancel(ctx context.Context, sessionID string, reason string) (WizardView, error) {
	return s.mutate(ctx, "cancel", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.Cancel(s.sanitize(reason))
	})
}

// Reset starts over under a new session id. The old snapshot is removed.
func (s *wizardService) Reset(ctx context.Context, sessionID string) (WizardView, error) {
	ctx, span := s.tracer.Start(ctx, "wizard.reset", trace.WithAttributes(attribute.String("wizard.session_id", sessionID)))
	defer span.End()
	started := s.clock()

	live, err := s.acquire(ctx, sessionID)
	if err != nil {
		s.observe(ctx, span, "reset", sessionID, started, err)
		return WizardView{}, err
	}
	defer live.mu.Unlock()

	work := live.orch.clone()
	if catalog, err := s.catalog.Current(ctx); err == nil {
		work.catalog = catalog
	}
	session := work.Reset()
	if err := s.persist(ctx, session); err != nil {
		s.observe(ctx, span, "reset", sessionID, started, err)
		return viewOf(live.orch), err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger(ctx, wizardLoggerEventPersistFailed, map[string]any{
			"sessionId": sessionID,
			"operation": "delete",
			"error":     err.Error(),
		})
	}

	// Intents already queued on the old id must not reach the new session; they retry and find nothing.
	live.gone = true
	live.orch = nil
	s.mu.Lock()
	if s.live[sessionID] == live {
		delete(s.live, sessionID)
	}
	s.live[session.ID] = &liveSession{orch: work, lastTouched: started}
	s.mu.Unlock()

	s.metrics.SessionStarted()
	s.metrics.StageEntered(session.CurrentStage)
	s.observe(ctx, span, "reset", session.ID, started, nil)
	return viewOf(work), nil
}

func (s *wizardService) SelectClient(ctx context.Context, sessionID string, client domain.ClientRef) (WizardView, error) {
	client.DisplayName = s.sanitize(client.DisplayName)
	return s.mutate(ctx, "select_client", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SelectClient(client)
	})
}

func (s *wizardService) SelectBranch(ctx context.Context, sessionID string, branch domain.BranchRef) (WizardView, error) {
	branch.DisplayName = s.sanitize(branch.DisplayName)
	return s.mutate(ctx, "select_branch", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SelectBranch(branch)
	})
}

func (s *wizardService) SetOrderInfo(ctx context.Context, sessionID string, info domain.OrderInfo) (WizardView, error) {
	info.Notes = s.sanitize(info.Notes)
	return s.mutate(ctx, "set_order_info", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SetOrderInfo(info)
	})
}

func (s *wizardService) SetUrgency(ctx context.Context, sessionID string, urgencyID string) (WizardView, error) {
	return s.mutate(ctx, "set_urgency", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SetUrgency(urgencyID)
	})
}

func (s *wizardService) SetDiscount(ctx context.Context, sessionID string, discount domain.DiscountSelection) (WizardView, error) {
	return s.mutate(ctx, "set_discount", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SetDiscount(discount)
	})
}

func (s *wizardService) SetPayment(ctx context.Context, sessionID string, payment domain.PaymentInfo) (WizardView, error) {
	return s.mutate(ctx, "set_payment", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SetPayment(payment)
	})
}

func (s *wizardService) AcceptTerms(ctx context.Context, sessionID string, accepted bool) (WizardView, error) {
	return s.mutate(ctx, "accept_terms", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.AcceptTerms(accepted)
	})
}

func (s *wizardService) StartItem(ctx context.Context, sessionID string, existingItemID string) (WizardView, error) {
	return s.mutate(ctx, "start_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		_, err := o.StartEditing(existingItemID)
		return err
	})
}

func (s *wizardService) AdvanceItem(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "advance_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		_, err := o.AdvanceSubStep()
		return err
	})
}

func (s *wizardService) RetreatItem(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "retreat_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.RetreatSubStep()
	})
}

func (s *wizardService) CompleteItem(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "complete_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		_, err := o.CompleteEditing()
		return err
	})
}

func (s *wizardService) CancelItem(ctx context.Context, sessionID string) (WizardView, error) {
	return s.mutate(ctx, "cancel_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.CancelEditing()
	})
}

func (s *wizardService) DeleteItem(ctx context.Context, sessionID string, itemID string) (WizardView, error) {
	return s.mutate(ctx, "delete_item", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.DeleteItem(itemID)
	})
}

func (s *wizardService) UpdateItemIdentity(ctx context.Context, sessionID string, in ItemIdentityInput) (WizardView, error) {
	return s.mutate(ctx, "update_identity", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.UpdateIdentity(in)
	})
}

func (s *wizardService) UpdateItemCharacteristics(ctx context.Context, sessionID string, in ItemCharacteristicsInput) (WizardView, error) {
	in.Material = s.sanitize(in.Material)
	in.Color = s.sanitize(in.Color)
	in.Filler = s.sanitize(in.Filler)
	return s.mutate(ctx, "update_characteristics", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.UpdateCharacteristics(in)
	})
}

func (s *wizardService) UpdateItemCondition(ctx context.Context, sessionID string, in ItemConditionInput) (WizardView, error) {
	in.Stains = s.sanitizeAll(in.Stains)
	in.Defects = s.sanitizeAll(in.Defects)
	in.NoWarrantyReason = s.sanitize(in.NoWarrantyReason)
	in.Notes = s.sanitize(in.Notes)
	return s.mutate(ctx, "update_condition", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.UpdateCondition(in)
	})
}

func (s *wizardService) SelectItemModifiers(ctx context.Context, sessionID string, selections []domain.ModifierSelection) (WizardView, error) {
	return s.mutate(ctx, "select_modifiers", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.SelectItemModifiers(selections)
	})
}

// RequestPhotoUpload signs an upload URL for the item being edited. The session itself is not changed.
func (s *wizardService) RequestPhotoUpload(ctx context.Context, sessionID string, cmd PhotoUploadCommand) (PhotoUploadTicket, error) {
	ctx, span := s.tracer.Start(ctx, "wizard.request_photo_upload", trace.WithAttributes(attribute.String("wizard.session_id", sessionID)))
	defer span.End()
	started := s.clock()

	if s.photos == nil {
		err := fmt.Errorf("%w: photo storage is not configured", ErrWizardUnavailable)
		s.observe(ctx, span, "request_photo_upload", sessionID, started, err)
		return PhotoUploadTicket{}, err
	}
	live, err := s.acquire(ctx, sessionID)
	if err != nil {
		s.observe(ctx, span, "request_photo_upload", sessionID, started, err)
		return PhotoUploadTicket{}, err
	}
	defer live.mu.Unlock()
	live.lastTouched = started

	session := live.orch.session
	ticket, err := func() (PhotoUploadTicket, error) {
		if session.Cancelled {
			return PhotoUploadTicket{}, fmt.Errorf("%w: photo upload rejected", ErrSessionCancelled)
		}
		editing, ok := session.Editing()
		if !ok || editing.SubStep != domain.SubStepPhotos {
			return PhotoUploadTicket{}, illegalTransition(string(session.CurrentStage), "request_photo_upload", "photos can only be added on the photos step")
		}
		if limit := live.orch.catalog.PhotoLimit(); len(editing.Draft.Photos) >= limit {
			return PhotoUploadTicket{}, fmt.Errorf("%w: at most %d photos can be attached", ErrWizardInvalidInput, limit)
		}
		ticket, err := s.photos.SignPhotoUpload(ctx, PhotoUploadRequest{
			SessionID:   session.ID,
			ItemID:      editing.ItemID,
			PhotoID:     s.newID(),
			ContentType: strings.TrimSpace(cmd.ContentType),
			SizeBytes:   cmd.SizeBytes,
		})
		if err != nil {
			if errors.Is(err, ErrWizardInvalidInput) {
				return PhotoUploadTicket{}, err
			}
			return PhotoUploadTicket{}, fmt.Errorf("%w: sign photo upload: %v", ErrWizardUnavailable, err)
		}
		return ticket, nil
	}()
	s.observe(ctx, span, "request_photo_upload", sessionID, started, err)
	return ticket, err
}

func (s *wizardService) AttachPhoto(ctx context.Context, sessionID string, cmd AttachPhotoCommand) (WizardView, error) {
	return s.mutate(ctx, "attach_photo", sessionID, func(_ context.Context, o *Orchestrator) error {
		editing, ok := o.session.Editing()
		if ok && s.photos != nil && !s.photos.OwnsObject(o.session.ID, editing.ItemID, cmd.ObjectPath) {
			return fmt.Errorf("%w: object %q was not issued for this item", ErrWizardInvalidInput, cmd.ObjectPath)
		}
		return o.AttachPhoto(domain.PhotoRef{
			ID:          strings.TrimSpace(cmd.PhotoID),
			ObjectPath:  strings.TrimSpace(cmd.ObjectPath),
			ContentType: strings.TrimSpace(cmd.ContentType),
		})
	})
}

func (s *wizardService) RemovePhoto(ctx context.Context, sessionID string, photoID string) (WizardView, error) {
	return s.mutate(ctx, "remove_photo", sessionID, func(_ context.Context, o *Orchestrator) error {
		return o.RemovePhoto(strings.TrimSpace(photoID))
	})
}

func (s *wizardService) Sweep(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	evicted := 0
	for id, live := range s.live {
		if !live.mu.TryLock() {
			continue
		}
		if live.orch == nil || live.lastTouched.Before(cutoff) {
			live.gone = true
			live.orch = nil
			delete(s.live, id)
			evicted++
		}
		live.mu.Unlock()
	}
	remaining := len(s.live)
	s.mu.Unlock()

	if evicted > 0 {
		s.logger(ctx, wizardLoggerEventEvicted, map[string]any{
			"evicted":   evicted,
			"remaining": remaining,
			"cutoff":    cutoff,
		})
	}
	return evicted
}

// mutate runs fn against a copy of the session and commits the copy only when fn succeeds and the snapshot persists.
func (s *wizardService) mutate(ctx context.Context, op, sessionID string, fn func(context.Context, *Orchestrator) error) (WizardView, error) {
	ctx, span := s.tracer.Start(ctx, "wizard."+op, trace.WithAttributes(attribute.String("wizard.session_id", sessionID)))
	defer span.End()
	started := s.clock()

	live, err := s.acquire(ctx, sessionID)
	if err != nil {
		s.observe(ctx, span, op, sessionID, started, err)
		return WizardView{}, err
	}
	defer live.mu.Unlock()
	live.lastTouched = started

	previous := live.orch.session.CurrentStage
	work := live.orch.clone()
	s.refreshCatalog(ctx, work)

	if err := fn(ctx, work); err != nil {
		s.observe(ctx, span, op, sessionID, started, err)
		return viewOf(live.orch), err
	}

	session := work.Session()
	if err := s.persist(ctx, session); err != nil {
		s.observe(ctx, span, op, sessionID, started, err)
		view := viewOf(live.orch)
		if session.ReceiptNumber != "" && live.orch.session.ReceiptNumber == "" {
			// The counter has advanced; the number is gone and the retry draws the next one.
			s.logger(ctx, wizardLoggerEventReceiptVoided, map[string]any{
				"sessionId":     sessionID,
				"receiptNumber": session.ReceiptNumber,
				"error":         err.Error(),
			})
		}
		if errors.Is(err, ErrSessionStale) {
			// Another instance owns a newer snapshot; reload it on the next intent.
			live.orch = nil
		}
		return view, err
	}
	live.orch = work

	if session.CurrentStage != previous {
		s.metrics.StageEntered(session.CurrentStage)
		span.SetAttributes(attribute.String("wizard.stage", string(session.CurrentStage)))
	}
	if session.CurrentStage == domain.StageCompleted && previous != domain.StageCompleted {
		s.onCompleted(ctx, session)
	}
	s.observe(ctx, span, op, sessionID, started, nil)
	return viewOf(work), nil
}

// acquire returns the live session locked. Callers must unlock live.mu.
func (s *wizardService) acquire(ctx context.Context, sessionID string) (*liveSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrWizardInvalidInput)
	}
	for {
		s.mu.Lock()
		live, ok := s.live[sessionID]
		if !ok {
			live = &liveSession{}
			s.live[sessionID] = live
		}
		s.mu.Unlock()

		live.mu.Lock()
		if live.gone {
			live.mu.Unlock()
			continue
		}
		if live.orch != nil {
			return live, nil
		}

		orch, err := s.load(ctx, sessionID)
		if err != nil {
			live.gone = true
			s.mu.Lock()
			if s.live[sessionID] == live {
				delete(s.live, sessionID)
			}
			s.mu.Unlock()
			live.mu.Unlock()
			return nil, err
		}
		live.orch = orch
		live.lastTouched = s.clock()
		return live, nil
	}
}

func (s *wizardService) load(ctx context.Context, sessionID string) (*Orchestrator, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: load session: %v", ErrWizardUnavailable, err)
	}
	catalog, err := s.catalog.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWizardUnavailable, err)
	}
	orch, err := RestoreOrchestrator(s.orchestratorDeps(catalog), session)
	if err != nil {
		return nil, fmt.Errorf("%w: restore session: %v", ErrWizardUnavailable, err)
	}
	if session.CatalogVersion != catalog.Version {
		orch.RefreshCatalog(catalog)
	}
	return orch, nil
}

func (s *wizardService) refreshCatalog(ctx context.Context, o *Orchestrator) {
	catalog, err := s.catalog.Current(ctx)
	if err != nil {
		s.logger(ctx, wizardLoggerEventCatalogStale, map[string]any{
			"sessionId": o.session.ID,
			"version":   o.catalog.Version,
			"error":     err.Error(),
		})
		return
	}
	if catalog.Version != o.catalog.Version {
		o.RefreshCatalog(catalog)
	}
}

func (s *wizardService) persist(ctx context.Context, session domain.WizardSession) error {
	expiresAt := s.clock().Add(s.ttl)
	if err := s.sessions.Save(ctx, session, expiresAt); err != nil {
		s.logger(ctx, wizardLoggerEventPersistFailed, map[string]any{
			"sessionId": session.ID,
			"operation": "save",
			"error":     err.Error(),
		})
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return fmt.Errorf("%w: %s", ErrSessionStale, session.ID)
		}
		return fmt.Errorf("%w: persist session: %v", ErrWizardUnavailable, err)
	}
	return nil
}

// onCompleted runs after the completed snapshot is stored. A publish failure does not undo the order.
func (s *wizardService) onCompleted(ctx context.Context, session domain.WizardSession) {
	totals := session.Totals.Totals
	s.metrics.OrderCompleted(totals.Currency, totals.FinalTotal.InexactFloat64())

	event := orderConfirmedEvent(session, s.clock())
	s.logger(ctx, wizardLoggerEventCompleted, map[string]any{
		"sessionId":     session.ID,
		"receiptNumber": session.ReceiptNumber,
		"itemCount":     event.ItemCount,
		"finalTotal":    event.FinalTotal,
		"currency":      event.Currency,
	})
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderConfirmed(ctx, event); err != nil {
		s.logger(ctx, wizardLoggerEventPublishFailed, map[string]any{
			"sessionId":     session.ID,
			"receiptNumber": session.ReceiptNumber,
			"error":         err.Error(),
		})
	}
}

func orderConfirmedEvent(session domain.WizardSession, now time.Time) OrderConfirmedEvent {
	totals := session.Totals.Totals
	event := OrderConfirmedEvent{
		SessionID:        session.ID,
		ReceiptNumber:    session.ReceiptNumber,
		TagNumber:        session.OrderInfo.TagNumber,
		ItemCount:        session.Items.Len(),
		Currency:         totals.Currency,
		ItemsSubtotal:    totals.ItemsSubtotal.String(),
		UrgencySurcharge: totals.UrgencySurcharge.String(),
		DiscountAmount:   totals.DiscountAmount.String(),
		FinalTotal:       totals.FinalTotal.String(),
		Prepaid:          totals.Prepaid.String(),
		BalanceDue:       totals.BalanceDue.String(),
		UrgencyID:        session.OrderModifiers.UrgencyID,
		EstimatedReadyAt: session.EstimatedReadyAt,
		ConfirmedAt:      now,
	}
	if session.CompletedAt != nil {
		event.ConfirmedAt = *session.CompletedAt
	}
	if session.Client != nil {
		event.ClientID = session.Client.ID
	}
	if session.Branch != nil {
		event.BranchID = session.Branch.ID
		event.BranchCode = session.Branch.Code
	}
	if session.OrderModifiers.Discount != nil {
		event.DiscountID = session.OrderModifiers.Discount.DiscountID
	}
	return event
}

func (s *wizardService) observe(ctx context.Context, span trace.Span, op, sessionID string, started time.Time, err error) {
	outcome := intentOutcome(err)
	s.metrics.IntentObserved(op, outcome, s.clock().Sub(started))
	span.SetAttributes(attribute.String("wizard.outcome", outcome))
	if err == nil {
		span.SetStatus(otelcodes.Ok, "")
		s.logger(ctx, wizardLoggerEventIntent, map[string]any{
			"intent":    op,
			"sessionId": sessionID,
		})
		return
	}
	if outcome == "unavailable" || outcome == "error" {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	s.logger(ctx, wizardLoggerEventRejected, map[string]any{
		"intent":    op,
		"sessionId": sessionID,
		"outcome":   outcome,
		"error":     err.Error(),
	})
}

func intentOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrIncompletePricing):
		return "incomplete_pricing"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionCancelled):
		return "cancelled"
	case errors.Is(err, ErrWizardInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrWizardUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *wizardService) sanitizeAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, s.sanitize(v))
	}
	return out
}

func viewOf(o *Orchestrator) WizardView {
	return WizardView{Session: o.Session(), Navigation: o.Navigation()}
}
