package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/internal/observability"
)

// ErrorResponse is the JSON error body.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery turns a panic into a 500 JSON error response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestID := apperrors.RequestIDFromContext(r.Context())
			observability.CLILogger.Error("panic serving request",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID),
				zap.ByteString("stack", debug.Stack()),
			)
			env := &apperrors.Envelope{
				Code:      apperrors.CodeInternal,
				Message:   fmt.Sprintf("panic: %v", rec),
				RequestID: requestID,
			}
			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, env *apperrors.Envelope, status int) {
	apperrors.WriteJSON(w, status, ErrorResponse{Error: *env})
}
