// Package errors defines the JSON error envelope of the HTTP surface and
// maps filesystem errors onto it.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider"
)

// Error codes.
const (
	CodeInvalidPath        = "INVALID_PATH"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeNotEmpty           = "NOT_EMPTY"
	CodePartialRename      = "PARTIAL_RENAME"
	CodeCancelled          = "CANCELLED"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeStoreError         = "STORE_ERROR"
	CodeNotImplemented     = "NOT_IMPLEMENTED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
)

// Envelope is the body of an error response.
type Envelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps an Envelope as {"error": {...}}.
type HTTPErrorResponse struct {
	Error Envelope `json:"error"`
}

// Error is an error with an HTTP status and envelope.
type Error struct {
	Status int
	Envelope
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error without a cause.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Envelope: Envelope{Code: code, Message: message}}
}

// WithDetails returns a copy of e with details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// NewExternalServiceError reports an unreachable dependency.
func NewExternalServiceError(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeExternalService, message)
}

// WrapInternal wraps err as an internal error carrying the request ID of ctx.
func WrapInternal(ctx context.Context, err error, message string) *Error {
	e := New(http.StatusInternalServerError, CodeInternal, message)
	e.Err = err
	e.RequestID = RequestIDFromContext(ctx)
	return e
}

// FromError maps err onto an Error. Errors that are already *Error pass
// through.
func FromError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	var (
		status  = http.StatusInternalServerError
		code    = CodeInternal
		details map[string]any
	)
	switch {
	case objfs.IsInvalidPath(err):
		status, code = http.StatusBadRequest, CodeInvalidPath
	case objfs.IsNotFound(err):
		status, code = http.StatusNotFound, CodeNotFound
	case objfs.IsConflict(err):
		status, code = http.StatusConflict, CodeConflict
	case objfs.IsNotEmpty(err):
		status, code = http.StatusConflict, CodeNotEmpty
	case objfs.IsPartialRename(err):
		status, code = http.StatusInternalServerError, CodePartialRename
		var pr *objfs.PartialRenameError
		if stderrors.As(err, &pr) {
			details = map[string]any{
				"src":         pr.Src.URI(),
				"dst":         pr.Dst.URI(),
				"phase":       pr.Phase,
				"last_copied": pr.LastCopied,
				"failed":      pr.Failed,
			}
		}
	case objfs.IsCancelled(err):
		status, code = http.StatusRequestTimeout, CodeCancelled
	case stderrors.Is(err, objfs.ErrUnsupported):
		status, code = http.StatusNotImplemented, CodeNotImplemented
	case provider.IsAccessDenied(err):
		status, code = http.StatusForbidden, CodeAccessDenied
	case objfs.IsRetryable(err) || provider.IsRetryable(err):
		status, code = http.StatusServiceUnavailable, CodeServiceUnavailable
	case objfs.IsIO(err):
		status, code = http.StatusBadGateway, CodeStoreError
	}
	if sc := objfs.ErrorCode(err); sc != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["store_code"] = sc
	}
	return &Error{
		Status:   status,
		Envelope: Envelope{Code: code, Message: err.Error(), Details: details},
		Err:      err,
	}
}

// RespondWithError writes err as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	e := FromError(err)
	env := e.Envelope
	if env.RequestID == "" {
		env.RequestID = RequestIDFromContext(r.Context())
	}
	WriteJSON(w, e.Status, HTTPErrorResponse{Error: env})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID of ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
