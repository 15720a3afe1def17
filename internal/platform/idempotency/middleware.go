package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cleanline/api/internal/platform/httpx"
	"github.com/cleanline/api/internal/platform/requestctx"
)

const (
	// HeaderName carries the client chosen key.
	HeaderName = "Idempotency-Key"
	// ReplayHeaderName is set on replayed responses.
	ReplayHeaderName = "X-Idempotent-Replay"

	defaultMaxBody = 64 << 10
	maxKeyLength   = 200
	globalScope    = "global"

	loggerEventStoreFailed = "idempotency.store_failed"
)

type middlewareConfig struct {
	ttl     time.Duration
	maxBody int64
	clock   func() time.Time
	scope   func(*http.Request) string
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMaxBody bounds how much of the request body is fingerprinted. Larger bodies bypass the store.
func WithMaxBody(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBody = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithScope overrides how keys are namespaced. The default is the wizard session on the request context.
func WithScope(scope func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if scope != nil {
			cfg.scope = scope
		}
	}
}

// WithLogger receives store failures.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Middleware replays the stored response when a mutating request repeats its Idempotency-Key.
// Requests without the header pass through. Server errors release the key so the client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		ttl:     DefaultTTL,
		maxBody: defaultMaxBody,
		clock:   time.Now,
		scope:   sessionScope,
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, complete, err := bufferBody(r, cfg.maxBody)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			if !complete {
				next.ServeHTTP(w, r)
				return
			}

			scope := cfg.scope(r)
			fingerprint := requestFingerprint(r, body)
			reservation, err := store.Reserve(ctx, scope, key, fingerprint, cfg.clock(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				cfg.logger(ctx, loggerEventStoreFailed, map[string]any{"operation": "reserve", "scope": scope, "error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to check idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still running", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scope, key); err != nil {
					cfg.logger(ctx, loggerEventStoreFailed, map[string]any{"operation": "release", "scope": scope, "error": err.Error()})
				}
			} else {
				resp := Response{Status: recorder.Status(), Headers: recorder.Header(), Body: recorder.Body()}
				if err := store.Complete(ctx, scope, key, fingerprint, resp, cfg.clock(), cfg.ttl); err != nil {
					cfg.logger(ctx, loggerEventStoreFailed, map[string]any{"operation": "complete", "scope": scope, "error": err.Error()})
					_ = store.Release(ctx, scope, key)
				}
			}
			recorder.flush(w)
		})
	}
}

// Purger adapts a Store to the periodic sweeper.
func Purger(store Store, clock func() time.Time) func(ctx context.Context) (int, error) {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context) (int, error) {
		if store == nil {
			return 0, nil
		}
		return store.Purge(ctx, clock())
	}
}

func sessionScope(r *http.Request) string {
	if id := requestctx.SessionID(r.Context()); id != "" {
		return "session:" + id
	}
	return globalScope
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// bufferBody reads up to limit bytes and restores r.Body. complete is false when the body is larger than limit.
func bufferBody(r *http.Request, limit int64) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), r.Body), closer: r.Body}
		return nil, false, nil
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, true, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error { return rc.closer.Close() }

func requestFingerprint(r *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler response until the store has been updated.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte { return r.body.Bytes() }

func (r *responseRecorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.Status())
	if r.body.Len() > 0 {
		_, _ = w.Write(r.body.Bytes())
	}
}
