package objfs

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/pkg/provider"
)

const (
	// MetadataModTime is the user metadata key holding an explicitly set
	// modification time (RFC 3339, nanosecond precision).
	MetadataModTime = "bucketfs-mtime"

	// DirectoryContentType is recorded on directory marker objects.
	DirectoryContentType = "application/x-directory"
)

// emulator derives directories from a flat key space: markers and common
// prefixes. It owns the cache fills and retries transient store failures.
type emulator struct {
	store    provider.Store
	cache    *Cache
	retry    retrier
	pageSize int
	logger   *zap.Logger
}

func modTime(meta *provider.ObjectMeta) time.Time {
	if v, ok := meta.Metadata[MetadataModTime]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return meta.LastModified
}

func rootEntry(p Path) Entry {
	return Entry{Path: p, Kind: Directory}
}

// resolve returns the entry for p, consulting the cache first. Entries
// learned from a listing are accepted, so only Kind and Size are reliable.
func (e *emulator) resolve(ctx context.Context, p Path) (Entry, error) {
	return e.resolveEntry(ctx, p, false)
}

// stat is resolve for callers that report the modification time: entries
// cached by a listing are looked up again.
func (e *emulator) stat(ctx context.Context, p Path) (Entry, error) {
	return e.resolveEntry(ctx, p, true)
}

func (e *emulator) resolveEntry(ctx context.Context, p Path, exact bool) (Entry, error) {
	if p.IsRoot() {
		return rootEntry(p), nil
	}
	if ce, ok := e.cache.Get(p); ok && !(exact && ce.Listed) {
		return Entry{Name: p.Name(), Path: p, Kind: ce.Kind, Size: ce.Size, LastModified: ce.LastModified}, nil
	}

	gen := e.cache.Generation()
	entry, err := e.lookup(ctx, p)
	if err != nil {
		return Entry{}, err
	}
	e.cache.PutIfCurrent(p, CacheEntry{Kind: entry.Kind, Size: entry.Size, LastModified: entry.LastModified}, gen)
	return entry, nil
}

// lookup asks the store: the exact key first, then the prefix.
func (e *emulator) lookup(ctx context.Context, p Path) (Entry, error) {
	entry := Entry{Name: p.Name(), Path: p, Kind: NonExistent}

	meta, err := retryValue(ctx, e.retry, "Head", func(ctx context.Context) (*provider.ObjectMeta, error) {
		return e.store.Head(ctx, PathToKey(p))
	})
	if err == nil {
		entry.Kind = File
		entry.Size = meta.Size
		entry.LastModified = modTime(meta)
		return entry, nil
	}
	if !provider.IsNotFound(err) {
		return Entry{}, mapError("stat", p, err)
	}

	prefix := PrefixFor(p)
	res, err := retryValue(ctx, e.retry, "ListWithDelimiter", func(ctx context.Context) (*provider.ListWithDelimiterResult, error) {
		return e.store.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
			Prefix:    prefix,
			Delimiter: Separator,
			MaxKeys:   1,
		})
	})
	if err != nil {
		return Entry{}, mapError("stat", p, err)
	}
	if len(res.Objects) > 0 || len(res.CommonPrefixes) > 0 {
		entry.Kind = Directory
		if len(res.Objects) > 0 && res.Objects[0].Key == prefix {
			t, err := e.markerTime(ctx, p)
			if err != nil {
				return Entry{}, err
			}
			entry.LastModified = t
		}
	}
	return entry, nil
}

// markerTime returns the modification time recorded on the marker of
// directory p, or the zero time when p has no marker.
func (e *emulator) markerTime(ctx context.Context, p Path) (time.Time, error) {
	meta, err := retryValue(ctx, e.retry, "Head", func(ctx context.Context) (*provider.ObjectMeta, error) {
		return e.store.Head(ctx, PrefixFor(p))
	})
	if provider.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, mapError("stat", p, err)
	}
	return modTime(meta), nil
}

// listPage fetches one delimiter page under prefix.
func (e *emulator) listPage(ctx context.Context, p Path, prefix, token string) (*provider.ListWithDelimiterResult, error) {
	res, err := retryValue(ctx, e.retry, "ListWithDelimiter", func(ctx context.Context) (*provider.ListWithDelimiterResult, error) {
		return e.store.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
			Prefix:            prefix,
			Delimiter:         Separator,
			ContinuationToken: token,
			MaxKeys:           e.pageSize,
		})
	})
	if err != nil {
		return nil, mapError("list", p, err)
	}
	return res, nil
}

// children yields the direct children of directory p in store order.
// Objects and common prefixes of each page are merged by key; the marker
// of p itself and names that are not valid segments are skipped. A name
// that is both an object and a prefix is reported once, as a file.
func (e *emulator) children(ctx context.Context, p Path) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		prefix := PrefixFor(p)
		token := ""
		// files holds file names that are prefixes of the current position,
		// so a following "name/" prefix can be recognised as shadowed.
		var files []string

		for {
			gen := e.cache.Generation()
			res, err := e.listPage(ctx, p, prefix, token)
			if err != nil {
				yield(Entry{}, err)
				return
			}

			objs, cps := res.Objects, res.CommonPrefixes
			for len(objs) > 0 || len(cps) > 0 {
				var entry Entry
				var name, sortName string

				takeObject := len(cps) == 0 || (len(objs) > 0 && objs[0].Key < cps[0])
				if takeObject {
					obj := objs[0]
					objs = objs[1:]
					if obj.Key == prefix {
						continue
					}
					name = obj.Key[len(prefix):]
					sortName = name
					entry = Entry{Kind: File, Size: obj.Size, LastModified: obj.LastModified}
				} else {
					cp := cps[0]
					cps = cps[1:]
					name = strings.TrimSuffix(cp[len(prefix):], Separator)
					sortName = name + Separator
					entry = Entry{Kind: Directory}
				}

				for len(files) > 0 && !strings.HasPrefix(sortName, files[len(files)-1]) {
					files = files[:len(files)-1]
				}
				if entry.Kind == Directory && len(files) > 0 && files[len(files)-1] == name {
					continue
				}

				child, err := p.Join(name)
				if err != nil {
					e.logger.Debug("skipping unrepresentable child", zap.String("prefix", prefix), zap.String("name", name))
					continue
				}
				if entry.Kind == File {
					files = append(files, name)
				}

				entry.Name = name
				entry.Path = child
				e.cache.PutIfCurrent(child, CacheEntry{Kind: entry.Kind, Size: entry.Size, LastModified: entry.LastModified, Listed: true}, gen)
				if !yield(entry, nil) {
					return
				}
			}

			if !res.IsTruncated || res.ContinuationToken == "" {
				return
			}
			token = res.ContinuationToken
		}
	}
}

// hasChildren consumes pages until a child is seen or the listing ends.
func (e *emulator) hasChildren(ctx context.Context, p Path) (bool, error) {
	prefix := PrefixFor(p)
	token := ""
	for {
		res, err := e.listPage(ctx, p, prefix, token)
		if err != nil {
			return false, err
		}
		if len(res.CommonPrefixes) > 0 {
			return true, nil
		}
		for _, obj := range res.Objects {
			if obj.Key != prefix {
				return true, nil
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return false, nil
		}
		token = res.ContinuationToken
	}
}

// enumerate returns every key under p's prefix, across all pages, in store
// order.
func (e *emulator) enumerate(ctx context.Context, p Path) ([]provider.ObjectSummary, error) {
	prefix := PrefixFor(p)
	var out []provider.ObjectSummary
	token := ""
	for {
		res, err := retryValue(ctx, e.retry, "List", func(ctx context.Context) (*provider.ListResult, error) {
			return e.store.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
		})
		if err != nil {
			return nil, mapError("list", p, err)
		}
		out = append(out, res.Objects...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}

// deletionOrder arranges keys for a recursive delete of prefix: plain
// objects first, then nested markers deepest first, then prefix itself.
func deletionOrder(keys []string, prefix string) []string {
	var objects, markers []string
	ownMarker := false
	for _, k := range keys {
		switch {
		case k == prefix:
			ownMarker = true
		case strings.HasSuffix(k, Separator):
			markers = append(markers, k)
		default:
			objects = append(objects, k)
		}
	}
	slices.SortStableFunc(markers, func(a, b string) int {
		return strings.Count(b, Separator) - strings.Count(a, Separator)
	})

	out := make([]string, 0, len(keys))
	out = append(out, objects...)
	out = append(out, markers...)
	if ownMarker {
		out = append(out, prefix)
	}
	return out
}

// deleteBatches removes keys in order, provider.MaxBatchDelete at a time.
func (e *emulator) deleteBatches(ctx context.Context, p Path, keys []string) error {
	for batch := range slices.Chunk(keys, provider.MaxBatchDelete) {
		err := retryCall(ctx, e.retry, "DeleteObjects", func(ctx context.Context) error {
			return e.store.DeleteObjects(ctx, batch)
		})
		if err != nil {
			return mapError("delete", p, err)
		}
	}
	return nil
}

// createDirectory writes the marker of p unless p already is a directory.
func (e *emulator) createDirectory(ctx context.Context, p Path) error {
	if p.IsRoot() {
		return nil
	}

	entry, err := e.resolve(ctx, p)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case Directory:
		return nil
	case File:
		return &ConflictError{Path: p, Reason: "a file exists at this path"}
	}

	for _, a := range p.Ancestors() {
		if a.IsRoot() {
			break
		}
		ae, err := e.resolve(ctx, a)
		if err != nil {
			return err
		}
		if ae.Kind == File {
			return &ConflictError{Path: a, Reason: "ancestor is a file"}
		}
		if ae.Kind == Directory {
			break
		}
	}

	e.cache.Invalidate(p)
	err = retryCall(ctx, e.retry, "PutObject", func(ctx context.Context) error {
		return e.store.PutObject(ctx, PrefixFor(p), bytes.NewReader(nil), 0,
			provider.WithContentType(DirectoryContentType))
	})
	e.cache.Invalidate(p)
	if err != nil {
		return mapError("mkdir", p, err)
	}
	return nil
}

// deleteDirectory removes the directory p; see FileSystem.DeleteDirectory.
func (e *emulator) deleteDirectory(ctx context.Context, p Path, recursive bool) error {
	if p.IsRoot() {
		return &InvalidPathError{Path: p.String(), Reason: "cannot delete the bucket root"}
	}

	entry, err := e.resolve(ctx, p)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case NonExistent:
		return &NotFoundError{Path: p}
	case File:
		return &ConflictError{Path: p, Reason: "not a directory"}
	}

	prefix := PrefixFor(p)
	if !recursive {
		nonEmpty, err := e.hasChildren(ctx, p)
		if err != nil {
			return err
		}
		if nonEmpty {
			return &NotEmptyError{Path: p}
		}
		e.cache.Invalidate(p)
		err = retryCall(ctx, e.retry, "DeleteObject", func(ctx context.Context) error {
			return e.store.DeleteObject(ctx, prefix)
		})
		e.cache.Invalidate(p)
		return mapError("rmdir", p, err)
	}

	objs, err := e.enumerate(ctx, p)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}

	e.cache.Invalidate(p)
	err = e.deleteBatches(ctx, p, deletionOrder(keys, prefix))
	e.cache.Invalidate(p)
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			e.logger.Warn("recursive delete stopped",
				zap.String("path", p.URI()),
				zap.String("code", ioErr.Code),
				zap.Error(err))
		}
		return err
	}
	return nil
}
