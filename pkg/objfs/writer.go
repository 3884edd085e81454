package objfs

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// abortTimeout bounds the cleanup of a failed multipart upload, which runs
// even when the caller's context is already done.
const abortTimeout = 30 * time.Second

// WriteOption configures OpenWrite.
type WriteOption func(*writeConfig)

type writeConfig struct {
	preload bool
	append  bool
	put     []provider.WriteOption
}

// WithPreload copies the existing object, if any, into the session so it
// can be modified in place.
func WithPreload() WriteOption {
	return func(c *writeConfig) { c.preload = true }
}

// WithAppend preloads the existing object and positions the session at its
// end.
func WithAppend() WriteOption {
	return func(c *writeConfig) {
		c.preload = true
		c.append = true
	}
}

// WithObjectOptions passes content type or metadata to the committed object.
func WithObjectOptions(opts ...provider.WriteOption) WriteOption {
	return func(c *writeConfig) { c.put = append(c.put, opts...) }
}

// Writer is a buffered write session for one object. Nothing reaches the
// store until Flush or Close; each commit replaces the whole object.
type Writer struct {
	ctx    context.Context
	store  provider.Store
	cache  *Cache
	retry  retrier
	opts   Options
	logger *zap.Logger
	put    []provider.WriteOption

	path Path
	key  string
	id   string

	mu       sync.Mutex
	spool    *spool
	off      int64
	dirty    bool
	closed   bool
	uploadID string
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.WriterAt    = (*Writer)(nil)
	_ io.ReadSeeker  = (*Writer)(nil)
	_ io.ReaderAt    = (*Writer)(nil)
)

func newWriter(ctx context.Context, fsys *FileSystem, p Path, cfg writeConfig) (*Writer, error) {
	w := &Writer{
		ctx:   ctx,
		store: fsys.store,
		cache: fsys.cache,
		retry: fsys.retry,
		opts:  fsys.opts,
		put:   cfg.put,
		path:  p,
		key:   PathToKey(p),
		id:    uuid.NewString(),
		spool: newSpool(fsys.opts.SpillFs, fsys.opts.SpillDir, fsys.opts.SpillThreshold),
		// A fresh session creates the object on Close even if nothing is
		// written.
		dirty: !cfg.preload,
	}
	w.logger = fsys.logger.With(zap.String("session", w.id), zap.String("key", w.key))

	if cfg.preload {
		if err := w.preload(ctx); err != nil {
			_ = w.spool.Close()
			return nil, err
		}
		if cfg.append {
			w.off = w.spool.Size()
		}
	}
	return w, nil
}

func (w *Writer) preload(ctx context.Context) error {
	err := retryCall(ctx, w.retry, "GetObject", func(ctx context.Context) error {
		body, _, err := w.store.GetObject(ctx, w.key)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()
		if err := w.spool.Truncate(0); err != nil {
			return err
		}
		if _, err := w.spool.ReadFrom(body); err != nil {
			return fmt.Errorf("%w: %w", provider.ErrTransport, err)
		}
		return nil
	})
	if provider.IsNotFound(err) {
		w.dirty = true
		return nil
	}
	return mapError("open", w.path, err)
}

// ID returns the session identifier.
func (w *Writer) ID() string { return w.id }

// Path returns the target path.
func (w *Writer) Path() Path { return w.path }

// Size returns the current session length.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spool.Size()
}

// Spilled reports whether the session has moved to temporary storage.
func (w *Writer) Spilled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spool.Spilled()
}

// Write implements io.Writer at the current offset.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.spool.WriteAt(p, w.off)
	w.off += int64(n)
	if n > 0 {
		w.dirty = true
	}
	return n, err
}

// WriteAt implements io.WriterAt.
func (w *Writer) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.spool.WriteAt(p, off)
	if n > 0 {
		w.dirty = true
	}
	return n, err
}

// Read implements io.Reader over the session content.
func (w *Writer) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.spool.ReadAt(p, w.off)
	w.off += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// ReadAt implements io.ReaderAt over the session content.
func (w *Writer) ReadAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.spool.ReadAt(p, off)
}

// Seek implements io.Seeker.
func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = w.off + offset
	case io.SeekEnd:
		abs = w.spool.Size() + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	w.off = abs
	return abs, nil
}

// Truncate changes the session length.
func (w *Writer) Truncate(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.spool.Truncate(size); err != nil {
		return err
	}
	w.dirty = true
	return nil
}

// Flush commits the session content if it changed since the last commit.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if !w.dirty {
		return nil
	}
	w.cache.Invalidate(w.path)
	err := w.commit(w.ctx)
	w.cache.Invalidate(w.path)
	if err != nil {
		return mapError("write", w.path, err)
	}
	w.dirty = false
	return nil
}

// Close commits pending changes and releases the session. The session is
// released even when the commit fails.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flush()
	w.closed = true
	if cerr := w.spool.Close(); cerr != nil {
		w.logger.Warn("releasing write session", zap.Error(cerr))
	}
	return err
}

// Abort discards the session without touching the stored object.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.dirty = false
	return w.spool.Close()
}

func (w *Writer) commit(ctx context.Context) error {
	size := w.spool.Size()
	if size < w.opts.MultipartThreshold {
		return retryCall(ctx, w.retry, "PutObject", func(ctx context.Context) error {
			return w.store.PutObject(ctx, w.key, io.NewSectionReader(w.spool, 0, size), size, w.put...)
		})
	}
	return w.commitMultipart(ctx, size)
}

func (w *Writer) commitMultipart(ctx context.Context, size int64) error {
	partSize := choosePartSize(size, w.opts.PartSize)

	uploadID, err := retryValue(ctx, w.retry, "CreateMultipartUpload", func(ctx context.Context) (string, error) {
		return w.store.CreateMultipartUpload(ctx, w.key, w.put...)
	})
	if err != nil {
		return err
	}
	w.uploadID = uploadID
	defer func() { w.uploadID = "" }()

	var parts []provider.CompletedPart
	for off, num := int64(0), int32(1); off < size; off, num = off+partSize, num+1 {
		n := min(partSize, size-off)
		etag, err := retryValue(ctx, w.retry, "UploadPart", func(ctx context.Context) (string, error) {
			return w.store.UploadPart(ctx, w.key, uploadID, num, io.NewSectionReader(w.spool, off, n), n)
		})
		if err != nil {
			w.abortUpload(ctx)
			return err
		}
		parts = append(parts, provider.CompletedPart{PartNumber: num, ETag: etag})
	}

	err = retryCall(ctx, w.retry, "CompleteMultipartUpload", func(ctx context.Context) error {
		return w.store.CompleteMultipartUpload(ctx, w.key, uploadID, parts)
	})
	if err != nil {
		w.abortUpload(ctx)
		return err
	}
	return nil
}

// abortUpload cleans up the in-flight multipart upload. Failures are logged
// and never replace the error that caused the abort.
func (w *Writer) abortUpload(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := w.store.AbortMultipartUpload(ctx, w.key, w.uploadID); err != nil {
		w.logger.Warn("abort multipart upload failed",
			zap.String("upload_id", w.uploadID),
			zap.String("code", provider.ErrorCode(err)),
			zap.Error(err))
		return
	}
	w.logger.Debug("aborted multipart upload", zap.String("upload_id", w.uploadID))
}

// choosePartSize returns the smallest size >= want (and >= MinPartSize)
// that splits total into at most MaxParts parts.
func choosePartSize(total, want int64) int64 {
	size := max(want, MinPartSize)
	for (total+size-1)/size > MaxParts {
		size *= 2
	}
	return size
}
