package objfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/bucketfs/pkg/provider"
	"github.com/3leaps/bucketfs/pkg/provider/memory"
)

var testRetry = RetryPolicy{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func testOptions(t *testing.T) Options {
	return Options{
		Retry:   testRetry,
		SpillFs: afero.NewMemMapFs(),
		Logger:  zaptest.NewLogger(t),
	}
}

func newTestFS(t *testing.T, storeOpts ...memory.Option) (*FileSystem, *memory.Store) {
	t.Helper()
	store := memory.New("test-bucket", storeOpts...)
	fsys, err := New(store, "test-bucket", testOptions(t))
	require.NoError(t, err)
	return fsys, store
}

func putKey(t *testing.T, store provider.Store, key, body string) {
	t.Helper()
	require.NoError(t, store.PutObject(context.Background(), key, strings.NewReader(body), int64(len(body))))
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name+":"+e.Kind.String())
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(memory.New("test-bucket"), "x", Options{})
	assert.True(t, IsInvalidPath(err))

	_, err = New(nil, "test-bucket", Options{})
	assert.Error(t, err)

	fsys, err := New(memory.New("test-bucket"), "Test-Bucket", Options{})
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", fsys.Bucket())
	assert.True(t, fsys.Root().IsRoot())
}

func TestScenario_NestedDirectory(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "a/b/c.txt", "hello")
	putKey(t, store, "a/b/d/", "")

	ab := mustPath(t, "a/b")

	kind, err := fsys.Resolve(ctx, ab)
	require.NoError(t, err)
	assert.Equal(t, Directory, kind)

	entries, err := fsys.ReadDir(ctx, ab)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt:file", "d:directory"}, names(entries))
	assert.Equal(t, int64(5), entries[0].Size)

	err = fsys.DeleteDirectory(ctx, ab, false)
	assert.True(t, IsNotEmpty(err))
	var ne *NotEmptyError
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Path.Equal(ab))

	require.NoError(t, fsys.DeleteDirectory(ctx, ab, true))
	assert.Empty(t, store.Keys())

	kind, err = fsys.Resolve(ctx, ab)
	require.NoError(t, err)
	assert.Equal(t, NonExistent, kind)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "file.txt", "x")
	putKey(t, store, "both", "x")
	putKey(t, store, "both/child", "x")
	putKey(t, store, "marker/", "")
	putKey(t, store, "implied/deep/key", "x")

	for path, want := range map[string]NodeKind{
		"":             Directory,
		"file.txt":     File,
		"both":         File,
		"marker":       Directory,
		"implied":      Directory,
		"implied/deep": Directory,
		"missing":      NonExistent,
		"implied/de":   NonExistent,
	} {
		kind, err := fsys.Resolve(ctx, mustPath(t, path))
		require.NoError(t, err, path)
		assert.Equal(t, want, kind, path)
	}
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "dir/f.txt", "hello")

	e, err := fsys.Stat(ctx, mustPath(t, "dir/f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "f.txt", e.Name)
	assert.Equal(t, File, e.Kind)
	assert.Equal(t, int64(5), e.Size)
	assert.False(t, e.LastModified.IsZero())

	_, err = fsys.Stat(ctx, mustPath(t, "dir/nope"))
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolve_UsesCache(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")
	p := mustPath(t, "f")

	_, err := fsys.Resolve(ctx, p)
	require.NoError(t, err)
	_, err = fsys.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("Head"))

	_, err = fsys.Resolve(ctx, mustPath(t, "missing"))
	require.NoError(t, err)
	_, err = fsys.Resolve(ctx, mustPath(t, "missing"))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls("Head"), "negative results are cached")
}

func TestListChildren_Pagination(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t, memory.WithPageSize(1))
	putKey(t, store, "d/", "")
	putKey(t, store, "d/a", "x")
	putKey(t, store, "d/b/x", "x")
	putKey(t, store, "d/b/y", "x")
	putKey(t, store, "d/c", "x")
	putKey(t, store, "d/e/", "")

	entries, err := fsys.ReadDir(ctx, mustPath(t, "d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:file", "b:directory", "c:file", "e:directory"}, names(entries))
	for _, e := range entries {
		assert.Equal(t, "d/"+e.Name, PathToKey(e.Path))
	}
}

func TestListChildren_EarlyStop(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t, memory.WithPageSize(1))
	for _, k := range []string{"d/1", "d/2", "d/3", "d/4"} {
		putKey(t, store, k, "x")
	}
	d := mustPath(t, "d")
	_, err := fsys.Resolve(ctx, d)
	require.NoError(t, err)
	store.ResetCalls()

	for e, err := range fsys.ListChildren(ctx, d) {
		require.NoError(t, err)
		assert.Equal(t, "1", e.Name)
		break
	}
	assert.Equal(t, 1, store.Calls("ListWithDelimiter"), "pages are fetched lazily")
}

func TestListChildren_FileShadowsPrefix(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "n", "x")
	putKey(t, store, "n-other", "x")
	putKey(t, store, "n/child", "x")
	putKey(t, store, "..", "x")

	entries, err := fsys.ReadDir(ctx, fsys.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"n:file", "n-other:file"}, names(entries))
}

func TestListChildren_Errors(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")

	_, err := fsys.ReadDir(ctx, mustPath(t, "f"))
	assert.True(t, IsConflict(err))

	_, err = fsys.ReadDir(ctx, mustPath(t, "missing"))
	assert.True(t, IsNotFound(err))
}

func TestListChildren_FillsCache(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "d/f", "abc")

	_, err := fsys.ReadDir(ctx, mustPath(t, "d"))
	require.NoError(t, err)

	e, ok := fsys.Cache().Get(mustPath(t, "d/f"))
	require.True(t, ok)
	assert.Equal(t, File, e.Kind)
	assert.Equal(t, int64(3), e.Size)
	assert.True(t, e.Listed)
}

func TestCreateDirectory_Idempotent(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	p := mustPath(t, "p")

	require.NoError(t, fsys.CreateDirectory(ctx, p))
	require.NoError(t, fsys.CreateDirectory(ctx, p))
	assert.Equal(t, []string{"p/"}, store.Keys())
	assert.Equal(t, 1, store.Calls("PutObject"))

	fsys.Cache().Purge()
	require.NoError(t, fsys.CreateDirectory(ctx, p))
	assert.Equal(t, 1, store.Calls("PutObject"), "existing directory found by lookup")
}

func TestCreateDirectory_Conflicts(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")

	assert.True(t, IsConflict(fsys.CreateDirectory(ctx, mustPath(t, "f"))))

	err := fsys.CreateDirectory(ctx, mustPath(t, "f/sub/deeper"))
	require.True(t, IsConflict(err))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "f", PathToKey(ce.Path))

	require.NoError(t, fsys.CreateDirectory(ctx, mustPath(t, "x/y/z")))
	assert.Equal(t, []string{"f", "x/y/z/"}, store.Keys())

	kind, err := fsys.Resolve(ctx, mustPath(t, "x/y"))
	require.NoError(t, err)
	assert.Equal(t, Directory, kind)

	require.NoError(t, fsys.CreateDirectory(ctx, fsys.Root()))
}

func TestDeleteDirectory_EmptinessScansAllPages(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t, memory.WithPageSize(1))
	putKey(t, store, "d/", "")
	putKey(t, store, "d/x", "x")

	err := fsys.DeleteDirectory(ctx, mustPath(t, "d"), false)
	assert.True(t, IsNotEmpty(err))
	assert.Equal(t, []string{"d/", "d/x"}, store.Keys())
}

func TestDeleteDirectory_RecursiveTwoPages(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t, memory.WithPageSize(1))
	putKey(t, store, "d/1", "x")
	putKey(t, store, "d/2", "x")
	putKey(t, store, "keep", "x")

	require.NoError(t, fsys.DeleteDirectory(ctx, mustPath(t, "d"), true))
	assert.Equal(t, []string{"keep"}, store.Keys())
	assert.GreaterOrEqual(t, store.Calls("List"), 2)
}

func TestDeleteDirectory_Order(t *testing.T) {
	var order []string
	ctx := context.Background()
	fsys, store := newTestFS(t)
	for _, k := range []string{"d/", "d/a/", "d/a/b/", "d/a/b/f", "d/z"} {
		putKey(t, store, k, "")
	}
	store.SetFault(func(op, key string) error {
		if op == "DeleteObjects" {
			order = append(order, key)
		}
		return nil
	})

	require.NoError(t, fsys.DeleteDirectory(ctx, mustPath(t, "d"), true))
	assert.Equal(t, []string{"d/a/b/f", "d/z", "d/a/b/", "d/a/", "d/"}, order)
	assert.Empty(t, store.Keys())
}

func TestDeleteDirectory_NonRecursiveEmpty(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	d := mustPath(t, "d")
	require.NoError(t, fsys.CreateDirectory(ctx, d))

	require.NoError(t, fsys.DeleteDirectory(ctx, d, false))
	assert.Empty(t, store.Keys())

	kind, err := fsys.Resolve(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, NonExistent, kind, "a directory without marker or children does not exist")
}

func TestDeleteDirectory_Errors(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")

	assert.True(t, IsNotFound(fsys.DeleteDirectory(ctx, mustPath(t, "missing"), true)))
	assert.True(t, IsConflict(fsys.DeleteDirectory(ctx, mustPath(t, "f"), true)))
	assert.True(t, IsInvalidPath(fsys.DeleteDirectory(ctx, fsys.Root(), true)))
}

func TestCreateThenRead(t *testing.T) {
	ctx := context.Background()
	fsys, _ := newTestFS(t)
	require.NoError(t, fsys.Mkdir(ctx, mustPath(t, "docs")))

	for _, content := range []string{"", "hello", strings.Repeat("0123456789", 1000)} {
		p := mustPath(t, "docs/readme.txt")
		require.NoError(t, fsys.Create(ctx, p, strings.NewReader(content)))

		kind, err := fsys.Resolve(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, File, kind)

		got, err := fsys.ReadFile(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	}
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")
	putKey(t, store, "d/", "")

	assert.True(t, IsNotFound(fsys.Create(ctx, mustPath(t, "missing/x"), strings.NewReader("x"))))
	assert.True(t, IsConflict(fsys.Create(ctx, mustPath(t, "f/x"), strings.NewReader("x"))))
	assert.True(t, IsConflict(fsys.Create(ctx, mustPath(t, "d"), strings.NewReader("x"))))
	assert.True(t, IsConflict(fsys.Create(ctx, fsys.Root(), strings.NewReader("x"))))
	assert.Equal(t, []string{"d/", "f"}, store.Keys())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("source broke") }

func TestCreate_SourceFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "old")

	err := fsys.Create(ctx, mustPath(t, "f"), failingReader{})
	assert.True(t, IsIO(err))

	got, _ := store.Content("f")
	assert.Equal(t, "old", string(got))
	assert.Equal(t, 1, store.Calls("PutObject"))
}

func TestCacheAfterDelete(t *testing.T) {
	ctx := context.Background()
	fsys, _ := newTestFS(t)
	p := mustPath(t, "f")
	require.NoError(t, fsys.Create(ctx, p, strings.NewReader("x")))

	_, err := fsys.Stat(ctx, p)
	require.NoError(t, err)
	_, ok := fsys.Cache().Get(p)
	require.True(t, ok)

	require.NoError(t, fsys.Delete(ctx, p))
	e, ok := fsys.Cache().Get(p)
	assert.False(t, ok && e.Kind != NonExistent, "stale entry served after delete")

	kind, err := fsys.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, NonExistent, kind)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "d/a", "x")
	putKey(t, store, "d/b/c", "x")
	putKey(t, store, "f", "x")

	require.NoError(t, fsys.Delete(ctx, mustPath(t, "f")))
	require.NoError(t, fsys.Delete(ctx, mustPath(t, "d")))
	assert.Empty(t, store.Keys())

	assert.True(t, IsNotFound(fsys.Delete(ctx, mustPath(t, "f"))))
	assert.True(t, IsInvalidPath(fsys.Delete(ctx, fsys.Root())))
}

func TestRename_File(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "a.txt", "content")
	putKey(t, store, "b.txt", "replaced")

	require.NoError(t, fsys.Rename(ctx, mustPath(t, "a.txt"), mustPath(t, "b.txt")))
	assert.Equal(t, []string{"b.txt"}, store.Keys())
	got, _ := store.Content("b.txt")
	assert.Equal(t, "content", string(got))

	require.NoError(t, fsys.Rename(ctx, mustPath(t, "b.txt"), mustPath(t, "b.txt")))
	assert.True(t, IsNotFound(fsys.Rename(ctx, mustPath(t, "a.txt"), mustPath(t, "c.txt"))))
	assert.True(t, IsNotFound(fsys.Rename(ctx, mustPath(t, "b.txt"), mustPath(t, "no/c.txt"))))
	assert.True(t, IsInvalidPath(fsys.Rename(ctx, fsys.Root(), mustPath(t, "c"))))
}

func TestRename_FileCopyFailureLeavesSource(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "a", "x")
	store.SetFault(func(op, key string) error {
		if op == "CopyObject" {
			return provider.ErrThrottled
		}
		return nil
	})

	err := fsys.Rename(ctx, mustPath(t, "a"), mustPath(t, "b"))
	require.True(t, IsIO(err))
	assert.False(t, IsPartialRename(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "SlowDown", ErrorCode(err))
	assert.Equal(t, 1, store.Calls("CopyObject"), "the engine does not retry")
	assert.Equal(t, []string{"a"}, store.Keys())
}

func TestRename_FileDeleteFailure(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "a", "x")
	store.SetFault(func(op, key string) error {
		if op == "DeleteObject" {
			return provider.ErrAccessDenied
		}
		return nil
	})

	err := fsys.Rename(ctx, mustPath(t, "a"), mustPath(t, "b"))
	require.True(t, IsPartialRename(err))
	var pre *PartialRenameError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, PhaseDelete, pre.Phase)
	assert.Equal(t, "b", pre.LastCopied)
	assert.Equal(t, "a", pre.Failed)
	assert.Equal(t, "AccessDenied", ErrorCode(err))
	assert.Equal(t, []string{"a", "b"}, store.Keys())
}

func TestRename_Directory(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "x/", "")
	putKey(t, store, "x/1", "one")
	putKey(t, store, "x/sub/2", "two")
	putKey(t, store, "xx", "other")

	require.NoError(t, fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "y")))
	assert.Equal(t, []string{"xx", "y/", "y/1", "y/sub/2"}, store.Keys())

	kind, err := fsys.Resolve(ctx, mustPath(t, "x"))
	require.NoError(t, err)
	assert.Equal(t, NonExistent, kind)
}

func TestRename_DirectoryPartialCopy(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "x/1", "one")
	putKey(t, store, "x/2", "two")
	store.SetFault(func(op, key string) error {
		if op == "CopyObject" && key == "x/2" {
			return errors.New("copy rejected")
		}
		return nil
	})

	err := fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "y"))
	require.True(t, IsPartialRename(err))
	var pre *PartialRenameError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, PhaseCopy, pre.Phase)
	assert.Equal(t, "y/1", pre.LastCopied)
	assert.Equal(t, "x/2", pre.Failed)
	assert.Equal(t, []string{"x/1", "x/2", "y/1"}, store.Keys())
	assert.Equal(t, 0, store.Calls("DeleteObjects"))
}

func TestRename_DirectoryDeleteFailure(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "x/1", "one")
	putKey(t, store, "x/2", "two")
	store.SetFault(func(op, key string) error {
		if op == "DeleteObjects" && key == "x/1" {
			return provider.ErrAccessDenied
		}
		return nil
	})

	err := fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "y"))
	var pre *PartialRenameError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, PhaseDelete, pre.Phase)
	assert.Equal(t, "x/1", pre.Failed)
	assert.Equal(t, "y/2", pre.LastCopied)
	assert.Equal(t, 1, store.Calls("DeleteObjects"))
	assert.Equal(t, []string{"x/1", "y/1", "y/2"}, store.Keys())
}

func TestRename_DirectoryConstraints(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "x/1", "one")
	putKey(t, store, "y/", "")
	putKey(t, store, "f", "x")

	assert.True(t, IsConflict(fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "y"))))
	assert.True(t, IsConflict(fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "f"))))
	assert.True(t, IsInvalidPath(fsys.Rename(ctx, mustPath(t, "x"), mustPath(t, "x/inner"))))
	assert.True(t, IsConflict(fsys.Rename(ctx, mustPath(t, "f"), mustPath(t, "y"))))
	assert.Equal(t, []string{"f", "x/1", "y/"}, store.Keys())
}

func TestLastModified(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.New("test-bucket", memory.WithClock(clock.Now))
	fsys, err := New(store, "test-bucket", testOptions(t))
	require.NoError(t, err)

	putKey(t, store, "f", "x")
	putKey(t, store, "d/", "")
	putKey(t, store, "implied/k", "x")

	got, err := fsys.LastModified(ctx, mustPath(t, "f"))
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(got))

	got, err = fsys.LastModified(ctx, mustPath(t, "d"))
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(got))

	got, err = fsys.LastModified(ctx, mustPath(t, "implied"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = fsys.LastModified(ctx, fsys.Root())
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = fsys.LastModified(ctx, mustPath(t, "missing"))
	assert.True(t, IsNotFound(err))
}

func TestSetLastModified_File(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	require.NoError(t, store.PutObject(ctx, "f", strings.NewReader("body"), 4,
		provider.WithContentType("text/plain"),
		provider.WithMetadata(map[string]string{"owner": "me"})))
	p := mustPath(t, "f")

	_, err := fsys.Stat(ctx, p)
	require.NoError(t, err)

	when := time.Date(2020, 5, 6, 7, 8, 9, 123456789, time.UTC)
	require.NoError(t, fsys.SetLastModified(ctx, p, when))

	got, err := fsys.LastModified(ctx, p)
	require.NoError(t, err)
	assert.True(t, when.Equal(got), "got %s", got)

	meta, err := store.Head(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, "me", meta.Metadata["owner"])
	body, _ := store.Content("f")
	assert.Equal(t, "body", string(body))
}

func TestSetLastModified_Directory(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "implied/k", "x")
	p := mustPath(t, "implied")

	when := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.SetLastModified(ctx, p, when))
	assert.Equal(t, []string{"implied/", "implied/k"}, store.Keys())

	got, err := fsys.LastModified(ctx, p)
	require.NoError(t, err)
	assert.True(t, when.Equal(got))

	assert.True(t, IsInvalidPath(fsys.SetLastModified(ctx, fsys.Root(), when)))
	assert.True(t, IsNotFound(fsys.SetLastModified(ctx, mustPath(t, "missing"), when)))
}

func TestSetLastModified_SurvivesListing(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "d/f", "x")
	p := mustPath(t, "d/f")

	when := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, fsys.SetLastModified(ctx, p, when))

	_, err := fsys.ReadDir(ctx, mustPath(t, "d"))
	require.NoError(t, err)

	got, err := fsys.LastModified(ctx, p)
	require.NoError(t, err)
	assert.True(t, when.Equal(got), "got %s", got)

	e, err := fsys.Stat(ctx, p)
	require.NoError(t, err)
	assert.True(t, when.Equal(e.LastModified), "got %s", e.LastModified)

	r, err := fsys.OpenRead(ctx, p)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.True(t, when.Equal(r.ModTime()))
}

func TestStat_DirectoryMatchesLastModified(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "d/", "")
	putKey(t, store, "d/f", "x")
	p := mustPath(t, "d")

	when := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, fsys.SetLastModified(ctx, p, when))

	for _, listFirst := range []bool{false, true} {
		fsys.Cache().Purge()
		if listFirst {
			_, err := fsys.ReadDir(ctx, fsys.Root())
			require.NoError(t, err)
		}

		e, err := fsys.Stat(ctx, p)
		require.NoError(t, err)
		got, err := fsys.LastModified(ctx, p)
		require.NoError(t, err)
		assert.True(t, when.Equal(e.LastModified), "stat got %s", e.LastModified)
		assert.True(t, when.Equal(got), "last modified got %s", got)
	}
}

func TestConcurrent_CreateResolveDelete(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t, memory.WithPageSize(3))
	putKey(t, store, "shared/a", "x")

	const workers, rounds = 8, 20
	dirs := make([]Path, workers)
	for w := range dirs {
		dirs[w] = mustPath(t, fmt.Sprintf("w%d", w))
		require.NoError(t, fsys.CreateDirectory(ctx, dirs[w]))
	}
	shared := mustPath(t, "shared/a")

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		files := make([]Path, rounds)
		for i := range files {
			files[i] = mustPath(t, fmt.Sprintf("w%d/f%d", w, i))
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, p := range files {
				assert.NoError(t, fsys.Create(ctx, p, strings.NewReader("body")))
				kind, err := fsys.Resolve(ctx, p)
				assert.NoError(t, err)
				assert.Equal(t, File, kind)
				e, err := fsys.Stat(ctx, p)
				assert.NoError(t, err)
				assert.Equal(t, int64(4), e.Size)
				assert.NoError(t, fsys.Delete(ctx, p))
				kind, err = fsys.Resolve(ctx, p)
				assert.NoError(t, err)
				assert.Equal(t, NonExistent, kind)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := fsys.ReadDir(ctx, fsys.Root())
				assert.NoError(t, err)
				kind, err := fsys.Resolve(ctx, shared)
				assert.NoError(t, err)
				assert.Equal(t, File, kind)
			}
		}()
	}
	wg.Wait()

	want := []string{"shared/a"}
	for w := 0; w < workers; w++ {
		want = append(want, fmt.Sprintf("w%d/", w))
	}
	assert.ElementsMatch(t, want, store.Keys())
	for _, d := range dirs {
		entries, err := fsys.ReadDir(ctx, d)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestRetry_TransientStoreErrors(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")

	var failures atomic.Int32
	store.SetFault(func(op, key string) error {
		if op == "Head" && failures.Add(1) <= 2 {
			return provider.ErrThrottled
		}
		return nil
	})

	kind, err := fsys.Resolve(ctx, mustPath(t, "f"))
	require.NoError(t, err)
	assert.Equal(t, File, kind)
	assert.Equal(t, 3, store.Calls("Head"))
}

func TestRetry_Exhausted(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	store.SetFault(func(op, key string) error {
		if op == "Head" {
			return provider.ErrProviderUnavailable
		}
		return nil
	})

	_, err := fsys.Resolve(ctx, mustPath(t, "f"))
	require.True(t, IsIO(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "ServiceUnavailable", ErrorCode(err))
	assert.Equal(t, testRetry.MaxAttempts, store.Calls("Head"))

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "f", PathToKey(ioErr.Path))
	assert.Contains(t, err.Error(), "s3://test-bucket/f")
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	store.SetFault(func(op, key string) error {
		if op == "Head" {
			return provider.ErrAccessDenied
		}
		return nil
	})

	_, err := fsys.Resolve(ctx, mustPath(t, "f"))
	require.True(t, IsIO(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "AccessDenied", ErrorCode(err))
	assert.Equal(t, 1, store.Calls("Head"))
}

func TestNotFound_KeepsStoreCode(t *testing.T) {
	ctx := context.Background()
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")
	p := mustPath(t, "f")

	r, err := fsys.OpenRead(ctx, p)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.NoError(t, store.DeleteObject(ctx, "f"))

	_, err = r.Read(make([]byte, 1))
	require.True(t, IsNotFound(err))
	assert.Equal(t, "NoSuchKey", ErrorCode(err))
	assert.Contains(t, err.Error(), "NoSuchKey")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "f", PathToKey(nf.Path))

	assert.Empty(t, ErrorCode(&NotFoundError{Path: p}))
}

func TestCancelled(t *testing.T) {
	fsys, store := newTestFS(t)
	putKey(t, store, "f", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fsys.Resolve(ctx, mustPath(t, "f"))
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)

	err = fsys.Create(ctx, mustPath(t, "g"), strings.NewReader("x"))
	assert.True(t, IsCancelled(err))
	assert.Equal(t, []string{"f"}, store.Keys())
}

func TestCancelledDuringCall(t *testing.T) {
	fsys, store := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.SetFault(func(op, key string) error {
		if op == "Head" {
			cancel()
			return context.Canceled
		}
		return nil
	})

	_, err := fsys.Resolve(ctx, mustPath(t, "f"))
	assert.True(t, IsCancelled(err))
	assert.Equal(t, 1, store.Calls("Head"))
}

func TestOtherBucketRejected(t *testing.T) {
	ctx := context.Background()
	fsys, _ := newTestFS(t)
	other, err := ParsePath("other-bucket", "f")
	require.NoError(t, err)

	_, err = fsys.Resolve(ctx, other)
	assert.True(t, IsInvalidPath(err))
}

func TestCapabilities(t *testing.T) {
	fsys, _ := newTestFS(t)
	caps := fsys.Capabilities()
	assert.Len(t, caps, 10)
	assert.Contains(t, caps, CapSetLastModifiedFolder)
	assert.True(t, CapURI.Supported())
	assert.False(t, Capability("symlink").Supported())

	caps[0] = "mutated"
	assert.Equal(t, CapCreate, Capabilities()[0])
}
