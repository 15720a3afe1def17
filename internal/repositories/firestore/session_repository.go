package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/cleanline/api/internal/domain"
	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/repositories"
)

const sessionsCollection = "wizardSessions"

// sessionDocument keeps the snapshot opaque. The queryable fields are copies for operators and the TTL policy on expiresAt.
type sessionDocument struct {
	SchemaVersion  int    `firestore:"schemaVersion"`
	Stage          string `firestore:"stage"`
	CatalogVersion string `firestore:"catalogVersion"`
	ReceiptNumber  string `firestore:"receiptNumber,omitempty"`
	Cancelled      bool   `firestore:"cancelled"`
	Snapshot       string `firestore:"snapshot"`

	// SessionUpdatedAt is the session's own UpdatedAt and orders concurrent writers.
	SessionUpdatedAt time.Time `firestore:"sessionUpdatedAt"`
	ExpiresAt        time.Time `firestore:"expiresAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

// SessionRepository persists wizard session snapshots in Firestore.
type SessionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[sessionDocument]
	clock    func() time.Time
}

// SessionRepositoryOption customises the repository.
type SessionRepositoryOption func(*SessionRepository)

// WithSessionClock overrides the clock used for expiry checks.
func WithSessionClock(clock func() time.Time) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider, opts ...SessionRepositoryOption) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	repo := &SessionRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[sessionDocument](provider, sessionsCollection, nil, nil),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Save stores the snapshot unless a snapshot with a later session UpdatedAt is already stored,
// in which case a Conflict error is returned and nothing is written.
func (r *SessionRepository) Save(ctx context.Context, session domain.WizardSession, expiresAt time.Time) error {
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("session repository: session id is required")
	}
	snapshot, err := repositories.EncodeSessionSnapshot(session)
	if err != nil {
		return err
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := sessionDocument{
		SchemaVersion:    repositories.SessionSnapshotVersion,
		Stage:            string(session.CurrentStage),
		CatalogVersion:   session.CatalogVersion,
		ReceiptNumber:    session.ReceiptNumber,
		Cancelled:        session.Cancelled,
		Snapshot:         string(snapshot),
		SessionUpdatedAt: session.UpdatedAt.UTC(),
		ExpiresAt:        expiresAt.UTC(),
		UpdatedAt:        r.clock().UTC(),
	}

	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		stored, found, err := pfirestore.GetInTx[sessionDocument](tx, ref)
		if err != nil {
			return err
		}
		if found && stored.SessionUpdatedAt.After(doc.SessionUpdatedAt) {
			return pfirestore.Conflict(sessionsCollection+".save", fmt.Errorf("session %s has a newer snapshot", id))
		}
		return tx.Set(ref, doc)
	})
}

// Get returns NotFound once expiresAt has passed even if the TTL policy has not removed the document yet.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.WizardSession, error) {
	id := strings.TrimSpace(sessionID)
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.WizardSession{}, err
	}
	if !doc.Data.ExpiresAt.IsZero() && !r.clock().Before(doc.Data.ExpiresAt) {
		return domain.WizardSession{}, pfirestore.NotFound(sessionsCollection+".get", fmt.Errorf("session %s expired", id))
	}
	session, err := repositories.DecodeSessionSnapshot([]byte(doc.Data.Snapshot))
	if err != nil {
		return domain.WizardSession{}, fmt.Errorf("%s: %w", sessionsCollection, err)
	}
	return session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(sessionID))
}
