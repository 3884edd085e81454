package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider/memory"
)

type oneBucket struct{ fsys *objfs.FileSystem }

func (b oneBucket) FileSystem(_ context.Context, bucket string) (*objfs.FileSystem, error) {
	if bucket != b.fsys.Bucket() {
		return nil, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "unknown bucket")
	}
	return b.fsys, nil
}

func newFSRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New("test-bucket")
	fsys, err := objfs.New(store, "test-bucket", objfs.Options{
		Retry:   objfs.RetryPolicy{MaxAttempts: 1},
		SpillFs: afero.NewMemMapFs(),
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewFSHandler(oneBucket{fsys}, zaptest.NewLogger(t)).Register(r)
	return r, store
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestFSHandler_WriteListRead(t *testing.T) {
	h, store := newFSRouter(t)

	rec := do(t, h, http.MethodPut, "/v1/fs/test-bucket/docs?type=directory", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "directory", rec.Header().Get(KindHeader))

	req := httptest.NewRequest(http.MethodPut, "/v1/fs/test-bucket/docs/a.txt", strings.NewReader("hello world"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"docs/", "docs/a.txt"}, store.Keys())

	rec = do(t, h, http.MethodGet, "/v1/fs/test-bucket/docs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing ListingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, "/docs", listing.Path)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "a.txt", listing.Entries[0].Name)
	assert.Equal(t, "file", listing.Entries[0].Kind)
	assert.Equal(t, int64(11), listing.Entries[0].Size)

	rec = do(t, h, http.MethodGet, "/v1/fs/test-bucket/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, "/", listing.Path)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "directory", listing.Entries[0].Kind)

	rec = do(t, h, http.MethodGet, "/v1/fs/test-bucket/docs/a.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, "file", rec.Header().Get(KindHeader))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
}

func TestFSHandler_Range(t *testing.T) {
	h, _ := newFSRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/f", strings.NewReader("0123456789")).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/fs/test-bucket/f", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
}

func TestFSHandler_Head(t *testing.T) {
	h, _ := newFSRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/d/", nil).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/d/f", strings.NewReader("abc")).Code)

	rec := do(t, h, http.MethodHead, "/v1/fs/test-bucket/d", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "directory", rec.Header().Get(KindHeader))

	rec = do(t, h, http.MethodHead, "/v1/fs/test-bucket/d/f", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file", rec.Header().Get(KindHeader))
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodHead, "/v1/fs/test-bucket/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFSHandler_ListLimit(t *testing.T) {
	h, _ := newFSRouter(t)
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/"+name, strings.NewReader(name)).Code)
	}

	rec := do(t, h, http.MethodGet, "/v1/fs/test-bucket/?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing ListingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Len(t, listing.Entries, 2)
	assert.True(t, listing.Truncated)

	rec = do(t, h, http.MethodGet, "/v1/fs/test-bucket/?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFSHandler_Delete(t *testing.T) {
	h, store := newFSRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/d/", nil).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/d/f", strings.NewReader("x")).Code)

	rec := do(t, h, http.MethodDelete, "/v1/fs/test-bucket/d", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeNotEmpty, errorCode(t, rec))

	rec = do(t, h, http.MethodDelete, "/v1/fs/test-bucket/d?recursive=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.Keys())

	rec = do(t, h, http.MethodDelete, "/v1/fs/test-bucket/d", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFSHandler_RenameAndTouch(t *testing.T) {
	h, store := newFSRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/x/", nil).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/x/1", strings.NewReader("1")).Code)

	rec := do(t, h, http.MethodPost, "/v1/fs/test-bucket/x?op=rename&to=/y", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry EntryJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, "/y", entry.Path)
	assert.Equal(t, "directory", entry.Kind)
	assert.Equal(t, []string{"y/", "y/1"}, store.Keys())

	when := time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)
	rec = do(t, h, http.MethodPost, "/v1/fs/test-bucket/y/1?op=touch&mtime="+when.Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	require.NotNil(t, entry.LastModified)
	assert.True(t, when.Equal(*entry.LastModified))

	rec = do(t, h, http.MethodPost, "/v1/fs/test-bucket/y/1?op=touch&mtime=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/fs/test-bucket/y?op=rename", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/fs/test-bucket/y?op=explode", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFSHandler_Errors(t *testing.T) {
	h, _ := newFSRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/v1/fs/test-bucket/f", strings.NewReader("x")).Code)

	tests := []struct {
		name   string
		method string
		target string
		status int
		code   string
	}{
		{"unknown bucket", http.MethodGet, "/v1/fs/other-bucket/f", http.StatusNotFound, apperrors.CodeNotFound},
		{"missing file", http.MethodGet, "/v1/fs/test-bucket/nope", http.StatusNotFound, apperrors.CodeNotFound},
		{"empty segment", http.MethodGet, "/v1/fs/test-bucket/a//b", http.StatusBadRequest, apperrors.CodeInvalidPath},
		{"write below file", http.MethodPut, "/v1/fs/test-bucket/f/g", http.StatusConflict, apperrors.CodeConflict},
		{"delete root", http.MethodDelete, "/v1/fs/test-bucket/", http.StatusBadRequest, apperrors.CodeInvalidPath},
		{"rename root", http.MethodPost, "/v1/fs/test-bucket/?op=rename&to=/z", http.StatusBadRequest, apperrors.CodeInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, strings.NewReader(""))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}
