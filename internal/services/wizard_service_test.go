package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
	"github.com/cleanline/api/internal/repositories/memory"
)

type fixedCatalogService struct {
	catalog domain.Catalog
	err     error
}

func (s *fixedCatalogService) Current(context.Context) (domain.Catalog, error) {
	return s.catalog, s.err
}

func (s *fixedCatalogService) Refresh(context.Context) (domain.Catalog, error) {
	return s.catalog, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderConfirmedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderConfirmed(_ context.Context, event OrderConfirmedEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

type stubPhotoStorage struct {
	signFn func(context.Context, PhotoUploadRequest) (PhotoUploadTicket, error)
	owned  map[string]bool
}

func (s *stubPhotoStorage) SignPhotoUpload(ctx context.Context, req PhotoUploadRequest) (PhotoUploadTicket, error) {
	if s.signFn != nil {
		return s.signFn(ctx, req)
	}
	path := fmt.Sprintf("intake/%s/%s/%s.jpg", req.SessionID, req.ItemID, req.PhotoID)
	if s.owned == nil {
		s.owned = map[string]bool{}
	}
	s.owned[path] = true
	return PhotoUploadTicket{PhotoID: req.PhotoID, ObjectPath: path, UploadURL: "https://upload/" + path, Method: "PUT"}, nil
}

func (s *stubPhotoStorage) OwnsObject(_, _, objectPath string) bool {
	return s.owned[objectPath]
}

type recordingWizardMetrics struct {
	mu        sync.Mutex
	started   int
	completed int
	stages    []domain.Stage
	outcomes  map[string]int
}

func (m *recordingWizardMetrics) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingWizardMetrics) IntentObserved(_ string, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func (m *recordingWizardMetrics) StageEntered(stage domain.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *recordingWizardMetrics) OrderCompleted(string, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

// flakySessionRepository fails saves while failSave is set.
type flakySessionRepository struct {
	repositories.WizardSessionRepository
	failSave bool
}

func (r *flakySessionRepository) Save(ctx context.Context, session domain.WizardSession, expiresAt time.Time) error {
	if r.failSave {
		return errors.New("firestore unavailable")
	}
	return r.WizardSessionRepository.Save(ctx, session, expiresAt)
}

// gatedSessionRepository parks the first Save after arm until release is closed.
type gatedSessionRepository struct {
	repositories.WizardSessionRepository
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedSessionRepository() *gatedSessionRepository {
	return &gatedSessionRepository{
		WizardSessionRepository: memory.NewSessionRepository(func() time.Time { return fixedNow }),
		entered:                 make(chan struct{}),
		release:                 make(chan struct{}),
	}
}

func (r *gatedSessionRepository) Save(ctx context.Context, session domain.WizardSession, expiresAt time.Time) error {
	if r.armed.CompareAndSwap(true, false) {
		close(r.entered)
		<-r.release
	}
	return r.WizardSessionRepository.Save(ctx, session, expiresAt)
}

type loggedEvent struct {
	name   string
	fields map[string]any
}

type recordingLogger struct {
	mu     sync.Mutex
	events []loggedEvent
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{name: event, fields: fields})
}

func (l *recordingLogger) find(name string) (loggedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.name == name {
			return e, true
		}
	}
	return loggedEvent{}, false
}

type wizardHarness struct {
	svc       WizardService
	sessions  *memory.SessionRepository
	publisher *recordingPublisher
	photos    *stubPhotoStorage
	metrics   *recordingWizardMetrics
	now       *time.Time
}

func newWizardHarness(t *testing.T, customise ...func(*WizardServiceDeps)) *wizardHarness {
	t.Helper()
	now := fixedNow
	clock := func() time.Time { return now }
	sessions := memory.NewSessionRepository(clock)
	counters, err := NewCounterService(CounterServiceDeps{Repository: memory.NewCounterRepository(), Clock: clock})
	if err != nil {
		t.Fatalf("NewCounterService error: %v", err)
	}
	h := &wizardHarness{
		sessions:  sessions,
		publisher: &recordingPublisher{},
		photos:    &stubPhotoStorage{},
		metrics:   &recordingWizardMetrics{},
		now:       &now,
	}
	deps := WizardServiceDeps{
		Sessions:    sessions,
		Catalog:     &fixedCatalogService{catalog: testCatalog()},
		Pricing:     newTestPricingEngine(t),
		Counters:    counters,
		Events:      h.publisher,
		Photos:      h.photos,
		Metrics:     h.metrics,
		Clock:       clock,
		IDGenerator: sequentialIDs("id"),
	}
	for _, fn := range customise {
		fn(&deps)
	}
	svc, err := NewWizardService(deps)
	if err != nil {
		t.Fatalf("NewWizardService error: %v", err)
	}
	h.svc = svc
	return h
}

// mustView fails the test when the wrapped intent errors, e.g. mustView(t, "Start")(svc.Start(ctx)).
func mustView(t *testing.T, step string) func(WizardView, error) WizardView {
	t.Helper()
	return func(view WizardView, err error) WizardView {
		t.Helper()
		if err != nil {
			t.Fatalf("%s error: %v", step, err)
		}
		return view
	}
}

// driveToPhotos opens one coat draft and walks it to the photos step.
func driveToPhotos(t *testing.T, svc WizardService) string {
	t.Helper()
	ctx := context.Background()
	view := mustView(t, "Start")(svc.Start(ctx))
	id := view.Session.ID
	mustView(t, "SelectClient")(svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1", DisplayName: "Ada"}))
	mustView(t, "Advance")(svc.Advance(ctx, id))
	mustView(t, "SelectBranch")(svc.SelectBranch(ctx, id, domain.BranchRef{ID: "B1", Code: "north"}))
	mustView(t, "Advance")(svc.Advance(ctx, id))
	mustView(t, "StartItem")(svc.StartItem(ctx, id, ""))
	mustView(t, "UpdateItemIdentity")(svc.UpdateItemIdentity(ctx, id, ItemIdentityInput{CategoryID: "outerwear", CatalogItemID: "coat", Quantity: dec("2")}))
	mustView(t, "AdvanceItem")(svc.AdvanceItem(ctx, id))
	mustView(t, "UpdateItemCharacteristics")(svc.UpdateItemCharacteristics(ctx, id, ItemCharacteristicsInput{Material: "wool", Color: "navy", WearLevel: intPtr(10)}))
	mustView(t, "AdvanceItem")(svc.AdvanceItem(ctx, id))
	mustView(t, "AdvanceItem")(svc.AdvanceItem(ctx, id))
	view = mustView(t, "AdvanceItem")(svc.AdvanceItem(ctx, id))
	if step, _ := view.Session.CurrentItemSubStep(); step != domain.SubStepPhotos {
		t.Fatalf("expected photos step, got %q", step)
	}
	return id
}

// driveToConfirmation commits the coat and reaches confirmation with terms accepted.
func driveToConfirmation(t *testing.T, svc WizardService) string {
	t.Helper()
	ctx := context.Background()
	id := driveToPhotos(t, svc)
	mustView(t, "CompleteItem")(svc.CompleteItem(ctx, id))
	mustView(t, "Advance")(svc.Advance(ctx, id))
	mustView(t, "SetDiscount")(svc.SetDiscount(ctx, id, domain.DiscountSelection{DiscountID: "none"}))
	mustView(t, "Advance")(svc.Advance(ctx, id))
	mustView(t, "AcceptTerms")(svc.AcceptTerms(ctx, id, true))
	return id
}

func TestNewWizardServiceRequiresDependencies(t *testing.T) {
	engine := newTestPricingEngine(t)
	sessions := memory.NewSessionRepository(nil)
	catalog := &fixedCatalogService{catalog: testCatalog()}
	cases := []WizardServiceDeps{
		{Catalog: catalog, Pricing: engine},
		{Sessions: sessions, Pricing: engine},
		{Sessions: sessions, Catalog: catalog},
	}
	for i, deps := range cases {
		if _, err := NewWizardService(deps); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestWizardServiceCompletesOrder(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	id := driveToConfirmation(t, h.svc)

	view, err := h.svc.Advance(ctx, id)
	if err != nil {
		t.Fatalf("final Advance error: %v", err)
	}
	session := view.Session
	if session.CurrentStage != domain.StageCompleted {
		t.Fatalf("expected completed stage, got %s", session.CurrentStage)
	}
	if !strings.HasPrefix(session.ReceiptNumber, "RC-NORTH-2026-") {
		t.Fatalf("unexpected receipt number %q", session.ReceiptNumber)
	}
	if !session.Totals.Complete || !session.Totals.Totals.FinalTotal.Equal(dec("200")) {
		t.Fatalf("unexpected totals %+v", session.Totals)
	}

	if len(h.publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(h.publisher.events))
	}
	event := h.publisher.events[0]
	if event.ReceiptNumber != session.ReceiptNumber || event.ItemCount != 1 || event.BranchCode != "north" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.FinalTotal != "200" {
		t.Fatalf("expected final total 200, got %s", event.FinalTotal)
	}
	if h.metrics.completed != 1 || h.metrics.started != 1 {
		t.Fatalf("unexpected metrics started=%d completed=%d", h.metrics.started, h.metrics.completed)
	}

	stored, err := h.sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("stored session error: %v", err)
	}
	if stored.CurrentStage != domain.StageCompleted || stored.ReceiptNumber != session.ReceiptNumber {
		t.Fatalf("expected completed snapshot, got stage %s receipt %q", stored.CurrentStage, stored.ReceiptNumber)
	}

	if _, err := h.svc.Advance(ctx, id); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected advancing a completed order to be illegal, got %v", err)
	}
	if len(h.publisher.events) != 1 {
		t.Fatalf("expected no second event, got %d", len(h.publisher.events))
	}
}

func TestWizardServicePublishFailureKeepsOrder(t *testing.T) {
	h := newWizardHarness(t)
	h.publisher.err = errors.New("pubsub down")
	id := driveToConfirmation(t, h.svc)

	view, err := h.svc.Advance(context.Background(), id)
	if err != nil {
		t.Fatalf("expected completion despite publish failure, got %v", err)
	}
	if view.Session.CurrentStage != domain.StageCompleted {
		t.Fatalf("expected completed, got %s", view.Session.CurrentStage)
	}
}

func TestWizardServiceRejectionReturnsUnchangedView(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	start := mustView(t, "Start")(h.svc.Start(ctx))

	view, err := h.svc.Advance(ctx, start.Session.ID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Result.BlockingErrors) == 0 {
		t.Fatalf("expected blocking errors")
	}
	if view.Session.ID != start.Session.ID || view.Session.CurrentStage != domain.StageClientSelection {
		t.Fatalf("expected unchanged view, got %+v", view.Session)
	}
	if h.metrics.outcomes["validation_failed"] != 1 {
		t.Fatalf("expected validation outcome recorded, got %v", h.metrics.outcomes)
	}
}

func TestWizardServiceUnknownSession(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.svc.Advance(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.svc.Get(ctx, "  "); !errors.Is(err, ErrWizardInvalidInput) {
		t.Fatalf("expected ErrWizardInvalidInput, got %v", err)
	}
}

func TestWizardServiceResumesFromRepository(t *testing.T) {
	ctx := context.Background()
	first := newWizardHarness(t)
	view := mustView(t, "Start")(first.svc.Start(ctx))
	id := view.Session.ID
	mustView(t, "SelectClient")(first.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1", DisplayName: "Ada"}))

	second := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Sessions = first.sessions
	})
	resumed, err := second.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after restart error: %v", err)
	}
	if resumed.Session.Client == nil || resumed.Session.Client.ID != "C1" {
		t.Fatalf("expected client restored, got %+v", resumed.Session.Client)
	}
	if !resumed.Navigation.CanAdvance {
		t.Fatalf("expected restored session to be advanceable")
	}
}

func TestWizardServicePersistFailureKeepsLiveSession(t *testing.T) {
	flaky := &flakySessionRepository{WizardSessionRepository: memory.NewSessionRepository(func() time.Time { return fixedNow })}
	h := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Sessions = flaky
	})
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))
	id := view.Session.ID

	flaky.failSave = true
	rejected, err := h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"})
	if !errors.Is(err, ErrWizardUnavailable) {
		t.Fatalf("expected ErrWizardUnavailable, got %v", err)
	}
	if rejected.Session.Client != nil {
		t.Fatalf("expected unchanged view, got client %+v", rejected.Session.Client)
	}

	flaky.failSave = false
	current := mustView(t, "Get")(h.svc.Get(ctx, id))
	if current.Session.Client != nil {
		t.Fatalf("expected failed mutation to be discarded, got %+v", current.Session.Client)
	}
}

func TestWizardServiceStaleSnapshotReloads(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))
	id := view.Session.ID

	// Another instance wrote a later snapshot of the same session.
	newer, err := h.sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get stored error: %v", err)
	}
	newer.Client = &domain.ClientRef{ID: "C9", DisplayName: "Grace"}
	newer.UpdatedAt = fixedNow.Add(time.Minute)
	if err := h.sessions.Save(ctx, newer, fixedNow.Add(time.Hour)); err != nil {
		t.Fatalf("Save newer error: %v", err)
	}

	_, err = h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"})
	if !errors.Is(err, ErrSessionStale) {
		t.Fatalf("expected ErrSessionStale, got %v", err)
	}

	current := mustView(t, "Get")(h.svc.Get(ctx, id))
	if current.Session.Client == nil || current.Session.Client.ID != "C9" {
		t.Fatalf("expected the newer snapshot to be reloaded, got %+v", current.Session.Client)
	}
}

func TestWizardServiceSweepEvictsIdleSessions(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))

	if evicted := h.svc.Sweep(ctx, fixedNow); evicted != 0 {
		t.Fatalf("expected nothing evicted at cutoff equal to last touch, got %d", evicted)
	}
	*h.now = fixedNow.Add(time.Hour)
	if evicted := h.svc.Sweep(ctx, fixedNow.Add(30*time.Minute)); evicted != 1 {
		t.Fatalf("expected one eviction, got %d", evicted)
	}

	reloaded, err := h.svc.Get(ctx, view.Session.ID)
	if err != nil {
		t.Fatalf("expected evicted session to reload from snapshot, got %v", err)
	}
	if reloaded.Session.ID != view.Session.ID {
		t.Fatalf("unexpected reloaded session %s", reloaded.Session.ID)
	}
}

func TestWizardServiceResetIssuesNewSession(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))
	oldID := view.Session.ID
	mustView(t, "SelectClient")(h.svc.SelectClient(ctx, oldID, domain.ClientRef{ID: "C1"}))

	reset := mustView(t, "Reset")(h.svc.Reset(ctx, oldID))
	if reset.Session.ID == oldID {
		t.Fatalf("expected a new session id")
	}
	if reset.Session.Client != nil || reset.Session.CurrentStage != domain.StageClientSelection {
		t.Fatalf("expected a fresh session, got %+v", reset.Session)
	}
	if _, err := h.svc.Get(ctx, oldID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected old session to be gone, got %v", err)
	}
	if _, err := h.svc.Get(ctx, reset.Session.ID); err != nil {
		t.Fatalf("expected new session to be readable, got %v", err)
	}
}

func TestWizardServiceCancelRejectsFurtherIntents(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))
	id := view.Session.ID

	cancelled := mustView(t, "Cancel")(h.svc.Cancel(ctx, id, "client left"))
	if !cancelled.Session.Cancelled || cancelled.Session.CancelReason != "client left" {
		t.Fatalf("unexpected cancelled session %+v", cancelled.Session)
	}
	if _, err := h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"}); !errors.Is(err, ErrSessionCancelled) {
		t.Fatalf("expected ErrSessionCancelled, got %v", err)
	}
}

func TestWizardServiceSanitizesFreeText(t *testing.T) {
	h := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Sanitize = func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	})
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))

	updated := mustView(t, "SelectClient")(h.svc.SelectClient(ctx, view.Session.ID, domain.ClientRef{ID: "C1", DisplayName: " ada "}))
	if updated.Session.Client.DisplayName != "ADA" {
		t.Fatalf("expected sanitized display name, got %q", updated.Session.Client.DisplayName)
	}
}

func TestWizardServicePhotoUploads(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()

	early := mustView(t, "Start")(h.svc.Start(ctx))
	if _, err := h.svc.RequestPhotoUpload(ctx, early.Session.ID, PhotoUploadCommand{ContentType: "image/jpeg", SizeBytes: 10}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition outside photos step, got %v", err)
	}

	id := driveToPhotos(t, h.svc)
	ticket, err := h.svc.RequestPhotoUpload(ctx, id, PhotoUploadCommand{ContentType: "image/jpeg", SizeBytes: 1024})
	if err != nil {
		t.Fatalf("RequestPhotoUpload error: %v", err)
	}
	if ticket.UploadURL == "" || ticket.PhotoID == "" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	if _, err := h.svc.AttachPhoto(ctx, id, AttachPhotoCommand{PhotoID: "forged", ObjectPath: "intake/other/x/forged.jpg"}); !errors.Is(err, ErrWizardInvalidInput) {
		t.Fatalf("expected forged object path to be rejected, got %v", err)
	}

	view, err := h.svc.AttachPhoto(ctx, id, AttachPhotoCommand{PhotoID: ticket.PhotoID, ObjectPath: ticket.ObjectPath, ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("AttachPhoto error: %v", err)
	}
	editing, ok := view.Session.Editing()
	if !ok || len(editing.Draft.Photos) != 1 {
		t.Fatalf("expected one attached photo, got %+v", view.Session.Mode)
	}

	view = mustView(t, "RemovePhoto")(h.svc.RemovePhoto(ctx, id, ticket.PhotoID))
	editing, _ = view.Session.Editing()
	if len(editing.Draft.Photos) != 0 {
		t.Fatalf("expected photo removed, got %+v", editing.Draft.Photos)
	}
}

func TestWizardServicePhotoUploadsWithoutStorage(t *testing.T) {
	h := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Photos = nil
	})
	id := driveToPhotos(t, h.svc)
	if _, err := h.svc.RequestPhotoUpload(context.Background(), id, PhotoUploadCommand{ContentType: "image/jpeg", SizeBytes: 10}); !errors.Is(err, ErrWizardUnavailable) {
		t.Fatalf("expected ErrWizardUnavailable, got %v", err)
	}
}

func TestWizardServiceSerialisesConcurrentIntents(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	view := mustView(t, "Start")(h.svc.Start(ctx))
	id := view.Session.ID
	mustView(t, "SelectClient")(h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"}))
	mustView(t, "Advance")(h.svc.Advance(ctx, id))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.SetOrderInfo(ctx, id, domain.OrderInfo{TagNumber: fmt.Sprintf("T-%02d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SetOrderInfo error: %v", err)
		}
	}

	final := mustView(t, "Get")(h.svc.Get(ctx, id))
	if !strings.HasPrefix(final.Session.OrderInfo.TagNumber, "T-") {
		t.Fatalf("expected one of the tag numbers, got %q", final.Session.OrderInfo.TagNumber)
	}
}

func TestWizardServiceResetRetiresOldIDForQueuedIntents(t *testing.T) {
	gated := newGatedSessionRepository()
	h := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Sessions = gated
	})
	ctx := context.Background()
	oldID := mustView(t, "Start")(h.svc.Start(ctx)).Session.ID

	type outcome struct {
		view WizardView
		err  error
	}
	gated.armed.Store(true)
	resetDone := make(chan outcome, 1)
	go func() {
		view, err := h.svc.Reset(ctx, oldID)
		resetDone <- outcome{view, err}
	}()
	<-gated.entered

	// Queue an intent on the old id while Reset still holds it.
	intentDone := make(chan outcome, 1)
	go func() {
		view, err := h.svc.SelectClient(ctx, oldID, domain.ClientRef{ID: "LATE"})
		intentDone <- outcome{view, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(gated.release)

	reset := <-resetDone
	if reset.err != nil {
		t.Fatalf("Reset error: %v", reset.err)
	}
	newID := reset.view.Session.ID
	if newID == oldID {
		t.Fatalf("expected a new session id")
	}

	late := <-intentDone
	if !errors.Is(late.err, ErrSessionNotFound) {
		t.Fatalf("expected intent on the reset id to find no session, got err=%v session=%s", late.err, late.view.Session.ID)
	}

	current := mustView(t, "Get")(h.svc.Get(ctx, newID))
	if current.Session.Client != nil {
		t.Fatalf("intent for %s reached new session %s: client=%+v", oldID, newID, current.Session.Client)
	}
	stored, err := gated.Get(ctx, newID)
	if err != nil {
		t.Fatalf("stored new session error: %v", err)
	}
	if stored.Client != nil {
		t.Fatalf("new snapshot carries client %+v", stored.Client)
	}
}

func TestWizardServiceResetRacesWithIntentsOnOtherSessions(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	target := mustView(t, "Start")(h.svc.Start(ctx)).Session.ID
	other := mustView(t, "Start")(h.svc.Start(ctx)).Session.ID

	var wg sync.WaitGroup
	var newID atomic.Value
	errs := make(chan error, 11)
	wg.Add(1)
	go func() {
		defer wg.Done()
		view, err := h.svc.Reset(ctx, target)
		if err == nil {
			newID.Store(view.Session.ID)
		}
		errs <- err
	}()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.SelectClient(ctx, other, domain.ClientRef{ID: fmt.Sprintf("C%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	fresh := mustView(t, "Get")(h.svc.Get(ctx, newID.Load().(string)))
	if fresh.Session.Client != nil {
		t.Fatalf("expected the reset session untouched, got %+v", fresh.Session.Client)
	}
	untouched := mustView(t, "Get")(h.svc.Get(ctx, other))
	if untouched.Session.Client == nil || !strings.HasPrefix(untouched.Session.Client.ID, "C") {
		t.Fatalf("expected one of the selected clients, got %+v", untouched.Session.Client)
	}
}

func TestWizardServiceSweepRacesWithIntents(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	ids := make([]string, 3)
	for n := range ids {
		id := mustView(t, "Start")(h.svc.Start(ctx)).Session.ID
		mustView(t, "SelectClient")(h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"}))
		mustView(t, "Advance")(h.svc.Advance(ctx, id))
		ids[n] = id
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	stop := make(chan struct{})
	sweeps := make(chan int, 1)
	go func() {
		total := 0
		for {
			select {
			case <-stop:
				sweeps <- total
				return
			default:
				// A cutoff in the future makes every unlocked session idle.
				total += h.svc.Sweep(ctx, fixedNow.Add(time.Hour))
			}
		}
	}()
	for n, id := range ids {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n, i int, id string) {
				defer wg.Done()
				_, err := h.svc.SetOrderInfo(ctx, id, domain.OrderInfo{TagNumber: fmt.Sprintf("S%d-%02d", n, i)})
				errs <- err
			}(n, i, id)
		}
	}
	wg.Wait()
	close(stop)
	<-sweeps
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SetOrderInfo during sweep error: %v", err)
		}
	}

	for n, id := range ids {
		view := mustView(t, "Get")(h.svc.Get(ctx, id))
		if !strings.HasPrefix(view.Session.OrderInfo.TagNumber, fmt.Sprintf("S%d-", n)) {
			t.Fatalf("session %s: expected its own tag number, got %q", id, view.Session.OrderInfo.TagNumber)
		}
		stored, err := h.sessions.Get(ctx, id)
		if err != nil {
			t.Fatalf("stored session %s error: %v", id, err)
		}
		if stored.OrderInfo.TagNumber != view.Session.OrderInfo.TagNumber {
			t.Fatalf("session %s: live %q and stored %q diverged", id, view.Session.OrderInfo.TagNumber, stored.OrderInfo.TagNumber)
		}
	}
}

func TestWizardServiceStaleSessionReloadsAcrossSweeps(t *testing.T) {
	h := newWizardHarness(t)
	ctx := context.Background()
	id := mustView(t, "Start")(h.svc.Start(ctx)).Session.ID

	newer, err := h.sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get stored error: %v", err)
	}
	newer.Client = &domain.ClientRef{ID: "C9", DisplayName: "Grace"}
	newer.UpdatedAt = fixedNow.Add(time.Minute)
	if err := h.sessions.Save(ctx, newer, fixedNow.Add(time.Hour)); err != nil {
		t.Fatalf("Save newer error: %v", err)
	}
	if _, err := h.svc.SelectClient(ctx, id, domain.ClientRef{ID: "C1"}); !errors.Is(err, ErrSessionStale) {
		t.Fatalf("expected ErrSessionStale, got %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.svc.Sweep(ctx, fixedNow.Add(time.Hour))
		}()
		go func() {
			defer wg.Done()
			view, err := h.svc.Get(ctx, id)
			if err == nil && (view.Session.Client == nil || view.Session.Client.ID != "C9") {
				err = fmt.Errorf("expected the newer snapshot, got client %+v", view.Session.Client)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Get during sweep: %v", err)
		}
	}
}

func TestWizardServiceLogsReceiptNumberLostToFailedSave(t *testing.T) {
	flaky := &flakySessionRepository{WizardSessionRepository: memory.NewSessionRepository(func() time.Time { return fixedNow })}
	logs := &recordingLogger{}
	h := newWizardHarness(t, func(deps *WizardServiceDeps) {
		deps.Sessions = flaky
		deps.Logger = logs.log
	})
	ctx := context.Background()
	id := driveToConfirmation(t, h.svc)

	flaky.failSave = true
	if _, err := h.svc.Advance(ctx, id); !errors.Is(err, ErrWizardUnavailable) {
		t.Fatalf("expected ErrWizardUnavailable, got %v", err)
	}
	skipped, ok := logs.find(wizardLoggerEventReceiptVoided)
	if !ok {
		t.Fatalf("expected the consumed receipt number to be logged")
	}
	lost, _ := skipped.fields["receiptNumber"].(string)
	if !strings.HasPrefix(lost, "RC-NORTH-2026-") {
		t.Fatalf("unexpected logged receipt number %q", lost)
	}

	flaky.failSave = false
	view := mustView(t, "Advance")(h.svc.Advance(ctx, id))
	if view.Session.CurrentStage != domain.StageCompleted {
		t.Fatalf("expected completed, got %s", view.Session.CurrentStage)
	}
	if view.Session.ReceiptNumber == "" || view.Session.ReceiptNumber == lost {
		t.Fatalf("expected a fresh receipt number after %q, got %q", lost, view.Session.ReceiptNumber)
	}
}
