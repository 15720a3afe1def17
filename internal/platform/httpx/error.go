package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cleanline/api/internal/platform/requestctx"
)

// Error codes shared by every handler. Clients branch on these, never on messages.
const (
	CodeInvalidRequest    = "invalid_request"
	CodePayloadTooLarge   = "payload_too_large"
	CodeValidationFailed  = "validation_failed"
	CodeIllegalTransition = "illegal_transition"
	CodeIncompletePricing = "incomplete_pricing"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionCancelled  = "session_cancelled"
	CodeSessionStale      = "session_stale"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal_error"
)

const (
	codeLimit      = 80
	messageLimit   = 512
	requestIDLimit = 80
	traceIDLimit   = 64
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// envelope fixes the reserved keys; Details are merged around them.
type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, codeLimit),
		Message: clean(message, messageLimit),
		Status:  status,
	}
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, requestIDLimit)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, traceIDLimit)
	return e
}

// WithDetails merges extra JSON-serialisable metadata into the payload. Reserved keys are dropped on write.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithValidation attaches the blocking errors and warnings of a rejected step.
// Both lists are always present in the payload so clients never see null.
func (e Error) WithValidation(blocking, warnings []string) Error {
	return e.WithDetails(map[string]any{
		"blocking_errors": nonNil(blocking),
		"warnings":        nonNil(warnings),
	})
}

// WithFields attaches per-field decode or validation problems.
func (e Error) WithFields(fields map[string]string) Error {
	if len(fields) == 0 {
		return e
	}
	return e.WithDetails(map[string]any{"fields": fields})
}

// WriteError writes the error envelope, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestID := err.RequestID
	if requestID == "" {
		requestID = clean(middleware.GetReqID(ctx), requestIDLimit)
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = clean(requestctx.TraceID(ctx), traceIDLimit)
	}

	env := envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: requestID,
		TraceID:   traceID,
	}
	if len(err.Details) == 0 {
		WriteJSON(w, status, env)
		return
	}

	payload := map[string]any{
		"error":   env.Error,
		"message": env.Message,
		"status":  env.Status,
	}
	if env.RequestID != "" {
		payload["request_id"] = env.RequestID
	}
	if env.TraceID != "" {
		payload["trace_id"] = env.TraceID
	}
	for k, v := range err.Details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		payload[k] = v
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// clean flattens newlines and truncates to limit bytes.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
