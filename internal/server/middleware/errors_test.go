package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.Envelope {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantMsg  string
	}{
		{
			name: "passes through",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("hello.txt"))
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "string panic",
			handler:  func(http.ResponseWriter, *http.Request) { panic("spool closed") },
			wantCode: http.StatusInternalServerError,
			wantMsg:  "panic: spool closed",
		},
		{
			name:     "error panic",
			handler:  func(http.ResponseWriter, *http.Request) { panic(assert.AnError) },
			wantCode: http.StatusInternalServerError,
			wantMsg:  "panic: " + assert.AnError.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				Recovery(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fs/data/a.txt", nil))
			})
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantMsg == "" {
				assert.Equal(t, "hello.txt", rec.Body.String())
				return
			}
			env := decodeError(t, rec)
			assert.Equal(t, apperrors.CodeInternal, env.Code)
			assert.Equal(t, tt.wantMsg, env.Message)
		})
	}
}

func TestRecovery_AbortHandlerRepanics(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) })
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Recovery(h).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecovery_CarriesRequestID(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	RequestID(Recovery(h)).ServeHTTP(rec, req)

	assert.Equal(t, "req-42", decodeError(t, rec).RequestID)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = apperrors.RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestWriteErrorResponse(t *testing.T) {
	env := &apperrors.Envelope{
		Code:      apperrors.CodeNotEmpty,
		Message:   "s3://data/logs/: directory not empty",
		Details:   map[string]any{"path": "/logs"},
		RequestID: "req-7",
	}

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, env, http.StatusConflict)

	assert.Equal(t, http.StatusConflict, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, *env, got)
}
