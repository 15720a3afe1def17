// Package memory provides process-local repositories for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cleanline/api/internal/domain"
	"github.com/cleanline/api/internal/repositories"
)

type storedSession struct {
	snapshot  []byte
	updatedAt time.Time
	expiresAt time.Time
}

// SessionRepository keeps encoded snapshots in a map so callers never share state with the store.
type SessionRepository struct {
	clock func() time.Time

	mu       sync.RWMutex
	sessions map[string]storedSession
}

// NewSessionRepository constructs an empty store. A nil clock uses time.Now.
func NewSessionRepository(clock func() time.Time) *SessionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &SessionRepository{
		clock:    clock,
		sessions: make(map[string]storedSession),
	}
}

func (r *SessionRepository) Save(ctx context.Context, session domain.WizardSession, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("memory sessions: session id is required")
	}
	data, err := repositories.EncodeSessionSnapshot(session)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[id]; ok && current.updatedAt.After(session.UpdatedAt) {
		return repositories.NewStoreError("sessions.save", repositories.ErrorKindConflict, fmt.Errorf("session %q has a newer snapshot", id))
	}
	r.sessions[id] = storedSession{snapshot: data, updatedAt: session.UpdatedAt, expiresAt: expiresAt}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.WizardSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.WizardSession{}, err
	}
	id := strings.TrimSpace(sessionID)
	r.mu.RLock()
	stored, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return domain.WizardSession{}, repositories.NewStoreError("sessions.get", repositories.ErrorKindNotFound, fmt.Errorf("session %q not found", id))
	}
	if !stored.expiresAt.IsZero() && !r.clock().Before(stored.expiresAt) {
		return domain.WizardSession{}, repositories.NewStoreError("sessions.get", repositories.ErrorKindNotFound, fmt.Errorf("session %q expired", id))
	}
	return repositories.DecodeSessionSnapshot(stored.snapshot)
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, strings.TrimSpace(sessionID))
	r.mu.Unlock()
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (r *SessionRepository) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, stored := range r.sessions {
		if !stored.expiresAt.IsZero() && !now.Before(stored.expiresAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored snapshots, expired ones included.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
