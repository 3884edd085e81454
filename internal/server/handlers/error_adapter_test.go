package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/pkg/objfs"
)

func TestRespondWithError_DefaultEnvelope(t *testing.T) {
	ResetHTTPErrorResponder()

	req := httptest.NewRequest(http.MethodGet, "/v1/fs/data/missing.txt", nil)
	req = req.WithContext(apperrors.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	p, err := objfs.ParsePath("data", "/missing.txt")
	require.NoError(t, err)
	respondWithError(rec, req, &objfs.NotFoundError{Path: p})

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeNotFound, resp.Error.Code)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestSetHTTPErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	var got error
	SetHTTPErrorResponder(func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), assert.AnError)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, assert.AnError)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), &objfs.ConflictError{Reason: "parent is a file"})
	assert.Equal(t, http.StatusConflict, rec.Code, "nil restores the envelope responder")
}
