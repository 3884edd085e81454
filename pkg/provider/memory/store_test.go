package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketfs/pkg/provider"
)

func put(t *testing.T, s *Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, s.PutObject(context.Background(), k, strings.NewReader(k), int64(len(k))))
	}
}

func listAll(t *testing.T, s *Store, prefix, delimiter string, maxKeys int) (objects, prefixes []string, pages int) {
	t.Helper()
	token := ""
	for {
		res, err := s.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{
			Prefix:            prefix,
			Delimiter:         delimiter,
			ContinuationToken: token,
			MaxKeys:           maxKeys,
		})
		require.NoError(t, err)
		pages++
		for _, o := range res.Objects {
			objects = append(objects, o.Key)
		}
		prefixes = append(prefixes, res.CommonPrefixes...)
		if !res.IsTruncated {
			return objects, prefixes, pages
		}
		require.NotEmpty(t, res.ContinuationToken)
		token = res.ContinuationToken
	}
}

func TestListWithDelimiter_FoldsPrefixes(t *testing.T) {
	s := New("b")
	put(t, s, "a", "a/b", "a/c/d", "a/c/e", "a/f", "z")

	objects, prefixes, pages := listAll(t, s, "a/", "/", 0)
	assert.Equal(t, []string{"a/b", "a/f"}, objects)
	assert.Equal(t, []string{"a/c/"}, prefixes)
	assert.Equal(t, 1, pages)

	objects, prefixes, _ = listAll(t, s, "", "/", 0)
	assert.Equal(t, []string{"a", "z"}, objects)
	assert.Equal(t, []string{"a/"}, prefixes)
}

func TestListWithDelimiter_PagesAcrossPrefixes(t *testing.T) {
	s := New("b")
	put(t, s, "d/1", "d/2/x", "d/2/y", "d/2/z", "d/3", "d/4/q")

	objects, prefixes, pages := listAll(t, s, "d/", "/", 1)
	assert.Equal(t, []string{"d/1", "d/3"}, objects)
	assert.Equal(t, []string{"d/2/", "d/4/"}, prefixes)
	assert.Equal(t, 4, pages)
}

func TestListWithDelimiter_PageSizeOption(t *testing.T) {
	s := New("b", WithPageSize(2))
	put(t, s, "k1", "k2", "k3")

	res, err := s.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{MaxKeys: 1000})
	require.NoError(t, err)
	assert.Len(t, res.Objects, 2)
	assert.True(t, res.IsTruncated)
}

func TestListWithDelimiter_BadToken(t *testing.T) {
	s := New("b")
	_, err := s.ListWithDelimiter(context.Background(), provider.ListWithDelimiterOptions{ContinuationToken: "%%%"})
	require.Error(t, err)
	assert.Equal(t, "InvalidArgument", provider.ErrorCode(err))
}

func TestList_Recursive(t *testing.T) {
	s := New("b")
	put(t, s, "x/1", "x/y/2", "x/y/z/3", "xx")

	res, err := s.List(context.Background(), provider.ListOptions{Prefix: "x/"})
	require.NoError(t, err)
	require.Len(t, res.Objects, 3)
	assert.Equal(t, "x/y/z/3", res.Objects[2].Key)
}

func TestHead(t *testing.T) {
	s := New("b")
	require.NoError(t, s.PutObject(context.Background(), "f", strings.NewReader("abc"), 3,
		provider.WithMetadata(map[string]string{"bucketfs-mtime": "2024-01-01T00:00:00Z"}),
		provider.WithContentType("text/plain")))

	meta, err := s.Head(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, "2024-01-01T00:00:00Z", meta.Metadata["bucketfs-mtime"])
	assert.NotEmpty(t, meta.ETag)

	_, err = s.Head(context.Background(), "missing")
	assert.True(t, provider.IsNotFound(err))
	assert.Equal(t, "NoSuchKey", provider.ErrorCode(err))
}

func TestPutObject_LengthMismatch(t *testing.T) {
	s := New("b")
	err := s.PutObject(context.Background(), "f", strings.NewReader("abc"), 5)
	require.Error(t, err)
	_, ok := s.Content("f")
	assert.False(t, ok)
}

func TestGetRange(t *testing.T) {
	s := New("b")
	require.NoError(t, s.PutObject(context.Background(), "r", strings.NewReader("hello range world"), 17))

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"middle", 6, 10, "range"},
		{"open end", 12, -1, "world"},
		{"end past size", 12, 100, "world"},
		{"start at size", 17, -1, ""},
		{"start past size", 50, -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, n, err := s.GetRange(context.Background(), "r", tt.start, tt.end)
			require.NoError(t, err)
			b, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
			assert.Equal(t, int64(len(tt.want)), n)
		})
	}

	_, _, err := s.GetRange(context.Background(), "r", 5, 2)
	assert.ErrorIs(t, err, provider.ErrInvalidRange)
	_, _, err = s.GetRange(context.Background(), "missing", 0, -1)
	assert.True(t, provider.IsNotFound(err))
}

func TestCopyObject_Metadata(t *testing.T) {
	s := New("b")
	ctx := context.Background()
	require.NoError(t, s.PutObject(ctx, "src", strings.NewReader("x"), 1,
		provider.WithMetadata(map[string]string{"a": "1"})))

	require.NoError(t, s.CopyObject(ctx, "src", "kept"))
	meta, err := s.Head(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "1", meta.Metadata["a"])

	require.NoError(t, s.CopyObject(ctx, "src", "src", provider.WithMetadata(map[string]string{"b": "2"})))
	meta, err = s.Head(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, meta.Metadata)

	err = s.CopyObject(ctx, "missing", "dst")
	assert.True(t, provider.IsNotFound(err))
}

func TestDeleteObjects_PartialFailure(t *testing.T) {
	s := New("b")
	put(t, s, "a", "b", "c")
	s.SetFault(func(op, key string) error {
		if op == "DeleteObjects" && key == "b" {
			return provider.ErrAccessDenied
		}
		return nil
	})

	err := s.DeleteObjects(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)

	var batch *provider.BatchDeleteError
	require.ErrorAs(t, err, &batch)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "b", batch.Failed[0].Key)
	assert.Equal(t, "AccessDenied", batch.Failed[0].Code)
	assert.Equal(t, []string{"b"}, s.Keys())
}

func TestDeleteObjects_Limit(t *testing.T) {
	s := New("b")
	err := s.DeleteObjects(context.Background(), make([]string, provider.MaxBatchDelete+1))
	require.Error(t, err)
	assert.Zero(t, s.Calls("DeleteObjects"))
}

func TestDeleteObject_MissingIsNotError(t *testing.T) {
	s := New("b")
	assert.NoError(t, s.DeleteObject(context.Background(), "nothing"))
}

func TestMultipart(t *testing.T) {
	s := New("b")
	ctx := context.Background()

	id, err := s.CreateMultipartUpload(ctx, "big", provider.WithMetadata(map[string]string{"m": "v"}))
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingUploads())

	e2, err := s.UploadPart(ctx, "big", id, 2, strings.NewReader("world"), 5)
	require.NoError(t, err)
	e1, err := s.UploadPart(ctx, "big", id, 1, strings.NewReader("hello "), 6)
	require.NoError(t, err)

	err = s.CompleteMultipartUpload(ctx, "big", id, []provider.CompletedPart{{PartNumber: 2, ETag: e2}, {PartNumber: 1, ETag: e1}})
	assert.Equal(t, "InvalidPartOrder", provider.ErrorCode(err))

	require.NoError(t, s.CompleteMultipartUpload(ctx, "big", id, []provider.CompletedPart{{PartNumber: 1, ETag: e1}, {PartNumber: 2, ETag: e2}}))
	got, ok := s.Content("big")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(got))
	assert.Zero(t, s.PendingUploads())

	meta, err := s.Head(ctx, "big")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(meta.ETag, "-2"))
	assert.Equal(t, "v", meta.Metadata["m"])
}

func TestMultipart_Abort(t *testing.T) {
	s := New("b")
	ctx := context.Background()

	id, err := s.CreateMultipartUpload(ctx, "big")
	require.NoError(t, err)
	_, err = s.UploadPart(ctx, "big", id, 1, strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, s.AbortMultipartUpload(ctx, "big", id))
	assert.Zero(t, s.PendingUploads())
	_, ok := s.Content("big")
	assert.False(t, ok)

	err = s.AbortMultipartUpload(ctx, "big", id)
	assert.Equal(t, "NoSuchUpload", provider.ErrorCode(err))
}

func TestFaultHook(t *testing.T) {
	s := New("b")
	put(t, s, "k")

	boom := errors.New("boom")
	s.SetFault(func(op, key string) error {
		if op == "Head" {
			return boom
		}
		if op == "GetObject" {
			return provider.ErrThrottled
		}
		return nil
	})

	_, err := s.Head(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ProviderMemory, pe.Provider)
	assert.Equal(t, "k", pe.Key)

	_, _, err = s.GetObject(context.Background(), "k")
	assert.True(t, provider.IsRetryable(err))
	assert.Equal(t, "SlowDown", provider.ErrorCode(err))

	s.SetFault(nil)
	_, err = s.Head(context.Background(), "k")
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls("Head"))

	s.ResetCalls()
	assert.Zero(t, s.Calls("Head"))
}

func TestCancelledContext(t *testing.T) {
	s := New("b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Head(ctx, "k")
	assert.True(t, provider.IsCancelled(err))
	assert.Zero(t, s.Calls("Head"))
}
