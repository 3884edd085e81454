// Package objfs presents a bucket of an object store as a hierarchical
// filesystem.
//
// Files are objects at the key formed by joining path segments with "/".
// Directories have no object of their own: a directory exists when a
// zero-length marker object "dir/" exists or when any key starts with
// "dir/". Metadata lookups go through a bounded, TTL-limited cache that is
// invalidated on every mutation made through the same FileSystem.
//
// Content is streamed: readers issue (ranged) GETs lazily, writers buffer a
// session in memory or a spill file and commit it on Flush or Close with a
// single PUT or a multipart upload.
//
// Renames are copy-then-delete and are not atomic. A failure between the
// copy and delete phases is reported as a *PartialRenameError.
package objfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/pkg/provider"
)

const tracerName = "github.com/3leaps/bucketfs/pkg/objfs"

// FileSystem is the namespace of one bucket. It is safe for concurrent use.
type FileSystem struct {
	store  provider.Store
	bucket string
	opts   Options
	cache  *Cache
	retry  retrier
	emu    *emulator
	logger *zap.Logger
	tracer trace.Tracer
}

// New returns a FileSystem over store for bucket.
func New(store provider.Store, bucket string, opts Options) (*FileSystem, error) {
	b, err := NormalizeBucket(bucket)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("objfs: store is required")
	}

	opts = opts.withDefaults()
	logger := opts.Logger.Named("objfs").With(zap.String("bucket", b))
	cache := newCache(opts.CacheCapacity, opts.CacheTTL, opts.Clock)
	r := retrier{policy: opts.Retry, timeout: opts.OperationTimeout, logger: logger}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &FileSystem{
		store:  store,
		bucket: b,
		opts:   opts,
		cache:  cache,
		retry:  r,
		emu: &emulator{
			store:    store,
			cache:    cache,
			retry:    r,
			pageSize: opts.ListPageSize,
			logger:   logger,
		},
		logger: logger,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Bucket returns the normalized bucket name.
func (fs *FileSystem) Bucket() string { return fs.bucket }

// Root returns the bucket root path.
func (fs *FileSystem) Root() Path { return Path{bucket: fs.bucket} }

// Path parses a slash-separated path in this bucket.
func (fs *FileSystem) Path(p string) (Path, error) { return ParsePath(fs.bucket, p) }

// Cache exposes the metadata cache.
func (fs *FileSystem) Cache() *Cache { return fs.cache }

// Store returns the underlying store.
func (fs *FileSystem) Store() provider.Store { return fs.store }

// start opens a span for op and checks that every path belongs to the
// bucket. The returned func ends the span with the final error.
func (fs *FileSystem) start(ctx context.Context, op string, paths ...Path) (context.Context, func(*error), error) {
	attrs := make([]attribute.KeyValue, 0, len(paths)+1)
	attrs = append(attrs, attribute.String("bucketfs.bucket", fs.bucket))
	for i, p := range paths {
		name := "bucketfs.path"
		if i > 0 {
			name = "bucketfs.dst_path"
		}
		attrs = append(attrs, attribute.String(name, p.String()))
	}
	ctx, span := fs.tracer.Start(ctx, "objfs."+op, trace.WithAttributes(attrs...))
	end := func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}

	for _, p := range paths {
		if p.bucket != fs.bucket {
			err := error(&InvalidPathError{Path: p.URI(), Reason: "path belongs to bucket " + p.bucket})
			end(&err)
			return ctx, nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		var p Path
		if len(paths) > 0 {
			p = paths[0]
		}
		cerr := error(&CancelledError{Op: op, Path: p, Err: err})
		end(&cerr)
		return ctx, nil, cerr
	}
	return ctx, end, nil
}

// Resolve returns the kind of p.
func (fs *FileSystem) Resolve(ctx context.Context, p Path) (kind NodeKind, err error) {
	ctx, end, err := fs.start(ctx, "Resolve", p)
	if err != nil {
		return NonExistent, err
	}
	defer end(&err)

	e, err := fs.emu.resolve(ctx, p)
	if err != nil {
		return NonExistent, err
	}
	return e.Kind, nil
}

// Stat returns the entry for p, or a *NotFoundError.
func (fs *FileSystem) Stat(ctx context.Context, p Path) (entry Entry, err error) {
	ctx, end, err := fs.start(ctx, "Stat", p)
	if err != nil {
		return Entry{}, err
	}
	defer end(&err)

	e, err := fs.emu.stat(ctx, p)
	if err != nil {
		return Entry{}, err
	}
	if e.Kind == NonExistent {
		return Entry{}, &NotFoundError{Path: p}
	}
	return e, nil
}

// ListChildren yields the direct children of directory p in the store's
// key order. The sequence is lazy: each page is fetched when the previous
// one has been consumed. Listing a file yields a *ConflictError, listing a
// missing path a *NotFoundError.
func (fs *FileSystem) ListChildren(ctx context.Context, p Path) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		ctx, end, err := fs.start(ctx, "ListChildren", p)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer end(&err)

		e, err := fs.emu.resolve(ctx, p)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		switch e.Kind {
		case NonExistent:
			err = &NotFoundError{Path: p}
			yield(Entry{}, err)
			return
		case File:
			err = &ConflictError{Path: p, Reason: "not a directory"}
			yield(Entry{}, err)
			return
		}

		for child, cerr := range fs.emu.children(ctx, p) {
			if cerr != nil {
				err = cerr
				yield(Entry{}, cerr)
				return
			}
			if !yield(child, nil) {
				return
			}
		}
	}
}

// ReadDir collects ListChildren.
func (fs *FileSystem) ReadDir(ctx context.Context, p Path) ([]Entry, error) {
	var out []Entry
	for e, err := range fs.ListChildren(ctx, p) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateDirectory creates p by writing its marker. An existing directory is
// left untouched. Missing ancestors are implied by the marker.
func (fs *FileSystem) CreateDirectory(ctx context.Context, p Path) (err error) {
	ctx, end, err := fs.start(ctx, "CreateDirectory", p)
	if err != nil {
		return err
	}
	defer end(&err)
	return fs.emu.createDirectory(ctx, p)
}

// DeleteDirectory removes directory p. Without recursive it fails with a
// *NotEmptyError when p has children. With recursive it removes every key
// under p observed by a full listing taken before the first delete.
func (fs *FileSystem) DeleteDirectory(ctx context.Context, p Path, recursive bool) (err error) {
	ctx, end, err := fs.start(ctx, "DeleteDirectory", p)
	if err != nil {
		return err
	}
	defer end(&err)
	return fs.emu.deleteDirectory(ctx, p, recursive)
}

// Mkdir is CreateDirectory.
func (fs *FileSystem) Mkdir(ctx context.Context, p Path) error { return fs.CreateDirectory(ctx, p) }

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(ctx context.Context, p Path) error {
	return fs.DeleteDirectory(ctx, p, false)
}

// checkParent verifies that p's parent is an existing directory.
func (fs *FileSystem) checkParent(ctx context.Context, p Path) error {
	parent := p.Parent()
	if parent.IsRoot() {
		return nil
	}
	pe, err := fs.emu.resolve(ctx, parent)
	if err != nil {
		return err
	}
	switch pe.Kind {
	case NonExistent:
		return &NotFoundError{Path: parent}
	case File:
		return &ConflictError{Path: parent, Reason: "parent is a file"}
	}
	return nil
}

// checkWritable verifies that p can be written as a file.
func (fs *FileSystem) checkWritable(ctx context.Context, p Path) error {
	if p.IsRoot() {
		return &ConflictError{Path: p, Reason: "is a directory"}
	}
	if err := fs.checkParent(ctx, p); err != nil {
		return err
	}
	e, err := fs.emu.resolve(ctx, p)
	if err != nil {
		return err
	}
	if e.Kind == Directory {
		return &ConflictError{Path: p, Reason: "is a directory"}
	}
	return nil
}

// Create writes content as the file p, replacing any existing file. The
// parent must be an existing directory.
func (fs *FileSystem) Create(ctx context.Context, p Path, content io.Reader) (err error) {
	ctx, end, err := fs.start(ctx, "Create", p)
	if err != nil {
		return err
	}
	defer end(&err)

	if err := fs.checkWritable(ctx, p); err != nil {
		return err
	}
	w, err := newWriter(ctx, fs, p, writeConfig{})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		_ = w.Abort()
		if ctx.Err() != nil {
			return &CancelledError{Op: "create", Path: p, Err: ctx.Err()}
		}
		return &IOError{Op: "create", Path: p, Err: err}
	}
	return w.Close()
}

// OpenWrite starts a write session for file p. The object changes only when
// the session is flushed or closed.
func (fs *FileSystem) OpenWrite(ctx context.Context, p Path, opts ...WriteOption) (w *Writer, err error) {
	ctx, end, err := fs.start(ctx, "OpenWrite", p)
	if err != nil {
		return nil, err
	}
	defer end(&err)

	if err := fs.checkWritable(ctx, p); err != nil {
		return nil, err
	}
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return newWriter(ctx, fs, p, cfg)
}

// OpenRead returns a reader for file p.
func (fs *FileSystem) OpenRead(ctx context.Context, p Path) (r *Reader, err error) {
	ctx, end, err := fs.start(ctx, "OpenRead", p)
	if err != nil {
		return nil, err
	}
	defer end(&err)

	e, err := fs.emu.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case NonExistent:
		return nil, &NotFoundError{Path: p}
	case Directory:
		return nil, &ConflictError{Path: p, Reason: "is a directory"}
	}

	return &Reader{
		ctx:     ctx,
		store:   fs.store,
		entry:   e,
		key:     PathToKey(p),
		retry:   fs.retry,
		discard: fs.opts.MaxSeekDiscard,
		logger:  fs.logger,
	}, nil
}

// ReadFile returns the whole content of file p.
func (fs *FileSystem) ReadFile(ctx context.Context, p Path) ([]byte, error) {
	r, err := fs.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Delete removes a file, or a directory with everything below it.
func (fs *FileSystem) Delete(ctx context.Context, p Path) (err error) {
	ctx, end, err := fs.start(ctx, "Delete", p)
	if err != nil {
		return err
	}
	defer end(&err)

	if p.IsRoot() {
		return &InvalidPathError{Path: p.String(), Reason: "cannot delete the bucket root"}
	}
	e, err := fs.emu.resolve(ctx, p)
	if err != nil {
		return err
	}
	switch e.Kind {
	case NonExistent:
		return &NotFoundError{Path: p}
	case Directory:
		return fs.emu.deleteDirectory(ctx, p, true)
	}

	fs.cache.Invalidate(p)
	err = fs.call(ctx, func(ctx context.Context) error {
		return fs.store.DeleteObject(ctx, PathToKey(p))
	})
	fs.cache.Invalidate(p)
	return mapError("delete", p, err)
}

// call runs one store call under the per-call timeout, without retries.
func (fs *FileSystem) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := fs.retry.callCtx(ctx)
	defer cancel()
	return fn(ctx)
}

// Rename moves src to dst by copying and then deleting. A file replaces an
// existing file at dst. A directory requires that dst does not exist and is
// not inside src; every key is copied before any source key is deleted.
func (fs *FileSystem) Rename(ctx context.Context, src, dst Path) (err error) {
	ctx, end, err := fs.start(ctx, "Rename", src, dst)
	if err != nil {
		return err
	}
	defer end(&err)

	if src.IsRoot() || dst.IsRoot() {
		return &InvalidPathError{Path: src.String(), Reason: "cannot rename the bucket root"}
	}
	if src.Equal(dst) {
		return nil
	}

	se, err := fs.emu.resolve(ctx, src)
	if err != nil {
		return err
	}
	if se.Kind == NonExistent {
		return &NotFoundError{Path: src}
	}
	if err := fs.checkParent(ctx, dst); err != nil {
		return err
	}
	de, err := fs.emu.resolve(ctx, dst)
	if err != nil {
		return err
	}

	if se.Kind == File {
		if de.Kind == Directory {
			return &ConflictError{Path: dst, Reason: "is a directory"}
		}
		return fs.renameFile(ctx, src, dst)
	}

	if de.Kind != NonExistent {
		return &ConflictError{Path: dst, Reason: "destination exists"}
	}
	if dst.Within(src) {
		return &InvalidPathError{Path: dst.String(), Reason: "destination is inside the source directory"}
	}
	return fs.renameDirectory(ctx, src, dst)
}

func (fs *FileSystem) renameFile(ctx context.Context, src, dst Path) error {
	srcKey, dstKey := PathToKey(src), PathToKey(dst)

	fs.cache.Invalidate(dst)
	err := fs.call(ctx, func(ctx context.Context) error {
		return fs.store.CopyObject(ctx, srcKey, dstKey)
	})
	fs.cache.Invalidate(dst)
	if err != nil {
		return mapError("rename", src, err)
	}

	fs.cache.Invalidate(src)
	err = fs.call(ctx, func(ctx context.Context) error {
		return fs.store.DeleteObject(ctx, srcKey)
	})
	fs.cache.Invalidate(src)
	if err != nil {
		fs.logger.Warn("rename left source in place",
			zap.String("src", src.URI()), zap.String("dst", dst.URI()), zap.Error(err))
		return &PartialRenameError{
			Src: src, Dst: dst, Phase: PhaseDelete,
			LastCopied: dstKey, Failed: srcKey,
			Err: mapError("rename", src, err),
		}
	}
	return nil
}

func (fs *FileSystem) renameDirectory(ctx context.Context, src, dst Path) error {
	objs, err := fs.emu.enumerate(ctx, src)
	if err != nil {
		return err
	}
	srcPrefix, dstPrefix := PrefixFor(src), PrefixFor(dst)

	fs.cache.Invalidate(dst)
	defer fs.cache.Invalidate(dst)

	lastCopied := ""
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		dstKey := dstPrefix + o.Key[len(srcPrefix):]
		err := fs.call(ctx, func(ctx context.Context) error {
			return fs.store.CopyObject(ctx, o.Key, dstKey)
		})
		if err != nil {
			fs.logger.Warn("directory rename stopped during copy",
				zap.String("src", src.URI()), zap.String("dst", dst.URI()),
				zap.String("last_copied", lastCopied), zap.String("failed", o.Key), zap.Error(err))
			return &PartialRenameError{
				Src: src, Dst: dst, Phase: PhaseCopy,
				LastCopied: lastCopied, Failed: o.Key,
				Err: mapError("rename", src, err),
			}
		}
		lastCopied = dstKey
		keys = append(keys, o.Key)
	}

	fs.cache.Invalidate(src)
	defer fs.cache.Invalidate(src)

	for batch := range slices.Chunk(deletionOrder(keys, srcPrefix), provider.MaxBatchDelete) {
		err := fs.call(ctx, func(ctx context.Context) error {
			return fs.store.DeleteObjects(ctx, batch)
		})
		if err != nil {
			failed := batch[0]
			var be *provider.BatchDeleteError
			if errors.As(err, &be) && len(be.Failed) > 0 {
				failed = be.Failed[0].Key
			}
			fs.logger.Warn("directory rename stopped during delete",
				zap.String("src", src.URI()), zap.String("dst", dst.URI()),
				zap.String("failed", failed), zap.Error(err))
			return &PartialRenameError{
				Src: src, Dst: dst, Phase: PhaseDelete,
				LastCopied: lastCopied, Failed: failed,
				Err: mapError("rename", src, err),
			}
		}
	}
	return nil
}

// LastModified returns the modification time of p: the recorded time when
// one was set, else the store's write time. Directories report the time of
// their marker, or the zero time when they have none.
func (fs *FileSystem) LastModified(ctx context.Context, p Path) (t time.Time, err error) {
	ctx, end, err := fs.start(ctx, "LastModified", p)
	if err != nil {
		return time.Time{}, err
	}
	defer end(&err)

	e, err := fs.emu.stat(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	if e.Kind == NonExistent {
		return time.Time{}, &NotFoundError{Path: p}
	}
	return e.LastModified, nil
}

// SetLastModified records t as the modification time of p. Files are
// rewritten in place by a server-side self-copy with replaced metadata;
// directories get their marker rewritten.
func (fs *FileSystem) SetLastModified(ctx context.Context, p Path, t time.Time) (err error) {
	ctx, end, err := fs.start(ctx, "SetLastModified", p)
	if err != nil {
		return err
	}
	defer end(&err)

	if p.IsRoot() {
		return &InvalidPathError{Path: p.String(), Reason: "the bucket root has no modification time"}
	}
	e, err := fs.emu.resolve(ctx, p)
	if err != nil {
		return err
	}
	stamp := t.UTC().Format(time.RFC3339Nano)

	fs.cache.Invalidate(p)
	defer fs.cache.Invalidate(p)

	switch e.Kind {
	case NonExistent:
		return &NotFoundError{Path: p}
	case Directory:
		err = fs.call(ctx, func(ctx context.Context) error {
			return fs.store.PutObject(ctx, PrefixFor(p), bytes.NewReader(nil), 0,
				provider.WithContentType(DirectoryContentType),
				provider.WithMetadata(map[string]string{MetadataModTime: stamp}))
		})
		return mapError("touch", p, err)
	}

	key := PathToKey(p)
	var meta *provider.ObjectMeta
	err = fs.call(ctx, func(ctx context.Context) error {
		var herr error
		meta, herr = fs.store.Head(ctx, key)
		return herr
	})
	if err != nil {
		return mapError("touch", p, err)
	}
	md := maps.Clone(meta.Metadata)
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[MetadataModTime] = stamp

	opts := []provider.WriteOption{provider.WithMetadata(md)}
	if meta.ContentType != "" {
		opts = append(opts, provider.WithContentType(meta.ContentType))
	}
	err = fs.call(ctx, func(ctx context.Context) error {
		return fs.store.CopyObject(ctx, key, key, opts...)
	})
	return mapError("touch", p, err)
}

// Close closes the underlying store.
func (fs *FileSystem) Close() error {
	fs.cache.Purge()
	return fs.store.Close()
}
