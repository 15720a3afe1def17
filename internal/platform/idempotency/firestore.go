package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/cleanline/api/internal/platform/firestore"
)

const (
	defaultCollection = "idempotencyKeys"
	defaultPurgeLimit = 200
)

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name = strings.TrimSpace(name); name != "" {
			store.collection = name
		}
	}
}

// WithPurgeLimit bounds how many expired records one Purge call deletes.
func WithPurgeLimit(limit int) FirestoreOption {
	return func(store *FirestoreStore) {
		if limit > 0 {
			store.purgeLimit = limit
		}
	}
}

// FirestoreStore keeps records in Firestore so replays survive restarts and span instances.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	purgeLimit int
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:   provider,
		collection: defaultCollection,
		purgeLimit: defaultPurgeLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, scope, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		fresh := keyDocument{
			Scope:       scope,
			Key:         key,
			Fingerprint: fingerprint,
			Status:      string(StatusPending),
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: fresh.record()}
			return tx.Set(ref, fresh)
		}

		var doc keyDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		record := doc.record()
		if record.expired(now) {
			result = Reservation{State: ReservationStateNew, Record: fresh.record()}
			return tx.Set(ref, fresh)
		}
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if record.Status == StatusCompleted {
			result = Reservation{State: ReservationStateCompleted, Record: record}
			return nil
		}
		result = Reservation{State: ReservationStatePending, Record: record}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Reservation{}, ErrFingerprintMismatch
		}
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, scope, key)
	if err != nil {
		return err
	}
	headers := replayableHeaders(resp.Headers)
	body := cloneBody(resp.Body)

	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc := keyDocument{Scope: scope, Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		doc.Status = string(StatusCompleted)
		doc.ResponseStatus = resp.Status
		doc.ResponseHeaders = headers
		doc.ResponseBody = body
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, scope, key string) error {
	ref, err := s.ref(ctx, scope, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError(s.collection+".release", err)
	}
	return nil
}

// Purge deletes up to the purge limit of expired records per call.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(s.purgeLimit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError(s.collection+".purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	batch := client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, pfirestore.WrapError(s.collection+".purge", err)
	}
	return len(docs), nil
}

func (s *FirestoreStore) ref(ctx context.Context, scope, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(scope, key)), nil
}

type keyDocument struct {
	Scope           string              `firestore:"scope"`
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (d keyDocument) record() Record {
	return Record{
		Scope:           d.Scope,
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
