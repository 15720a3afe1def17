package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = time.Hour

// Status is the lifecycle state of a key.
type Status string

const (
	// StatusPending means the first request holding the key is still running.
	StatusPending Status = "pending"
	// StatusCompleted means the response is stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means Record holds a response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request is processing the key.
	ReservationStatePending
)

// Reservation is returned by Store.Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the stored state of one scoped key.
type Record struct {
	Scope           string
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is what the middleware asks the store to keep.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists key reservations and their responses. Keys are unique per scope.
type Store interface {
	Reserve(ctx context.Context, scope, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
	// Purge drops expired records and reports how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

func documentID(scope, key string) string {
	return sha256Hex([]byte(strings.TrimSpace(scope) + "\x00" + strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayableHeaders keeps the headers a replay must reproduce.
func replayableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string)
	for _, name := range []string{"Content-Type", "Location", "Cache-Control"} {
		if values := header.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	return append([]byte(nil), body...)
}
