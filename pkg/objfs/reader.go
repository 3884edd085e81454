package objfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// errShortBody marks a stream that ended before the expected size.
var errShortBody = errors.New("stream ended early")

// streamTransient reports whether a failed stream read is worth reopening.
// Body read failures are raw transport errors and carry no store code.
func streamTransient(err error) bool {
	if provider.IsCancelled(err) {
		return false
	}
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return provider.IsRetryable(err)
	}
	return true
}

// Reader streams the content of one object. It implements io.ReadSeekCloser
// and io.ReaderAt. The stream is opened lazily and reopened at the current
// offset after a seek or a transient failure.
type Reader struct {
	ctx     context.Context
	store   provider.Store
	entry   Entry
	key     string
	retry   retrier
	discard int64
	logger  *zap.Logger

	mu     sync.Mutex
	body   io.ReadCloser
	off    int64
	closed bool
}

var (
	_ io.ReadSeekCloser = (*Reader)(nil)
	_ io.ReaderAt       = (*Reader)(nil)
)

// Size returns the object size observed when the reader was opened.
func (r *Reader) Size() int64 { return r.entry.Size }

// ModTime returns the object's modification time.
func (r *Reader) ModTime() time.Time { return r.entry.LastModified }

// Name returns the object's base name.
func (r *Reader) Name() string { return r.entry.Name }

// Path returns the object's path.
func (r *Reader) Path() Path { return r.entry.Path }

// open starts a GET at r.off. Callers hold mu.
func (r *Reader) open(ctx context.Context) error {
	var (
		body io.ReadCloser
		err  error
	)
	if r.off == 0 {
		body, _, err = r.store.GetObject(ctx, r.key)
	} else {
		body, _, err = r.store.GetRange(ctx, r.key, r.off, r.entry.Size-1)
	}
	if err != nil {
		return err
	}
	r.body = body
	return nil
}

func (r *Reader) closeBody() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.off >= r.entry.Size {
		r.closeBody()
		return 0, io.EOF
	}
	if rem := r.entry.Size - r.off; int64(len(p)) > rem {
		p = p[:rem]
	}

	var n int
	// The stream outlives any single call, so it is opened without the
	// per-call timeout.
	stream := r.retry
	stream.timeout = 0
	err := stream.do(r.ctx, "read", streamTransient, func(context.Context) error {
		if r.body == nil {
			if err := r.open(r.ctx); err != nil {
				return err
			}
		}
		m, err := r.body.Read(p)
		n = m
		r.off += int64(m)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, io.EOF):
			r.closeBody()
			if m > 0 || r.off >= r.entry.Size {
				return nil
			}
			return fmt.Errorf("%w at offset %d of %d", errShortBody, r.off, r.entry.Size)
		default:
			r.closeBody()
			if m > 0 {
				return nil
			}
			r.logger.Debug("read stream failed, reopening",
				zap.String("key", r.key), zap.Int64("offset", r.off), zap.Error(err))
			return err
		}
	})
	if err != nil {
		return n, mapError("read", r.entry.Path, err)
	}
	return n, nil
}

// Seek implements io.Seeker. A short forward seek on an open stream
// discards bytes; any other seek closes the stream.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.entry.Size + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	if abs == r.off {
		return abs, nil
	}

	if r.body != nil {
		if delta := abs - r.off; delta > 0 && delta <= r.discard {
			if _, err := io.CopyN(io.Discard, r.body, delta); err != nil {
				r.closeBody()
			}
		} else {
			r.closeBody()
		}
	}
	r.off = abs
	return abs, nil
}

// ReadAt implements io.ReaderAt with an independent ranged GET. It does not
// move the stream offset.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("readat: negative offset %d", off)
	}
	if off >= r.entry.Size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := p
	if rem := r.entry.Size - off; int64(len(want)) > rem {
		want = want[:rem]
	}

	var n int
	err := r.retry.do(r.ctx, "readat", streamTransient, func(ctx context.Context) error {
		body, _, err := r.store.GetRange(ctx, r.key, off, off+int64(len(want))-1)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()
		n, err = io.ReadFull(body, want)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w at offset %d", errShortBody, off+int64(n))
		}
		return err
	})
	if err != nil {
		return n, mapError("read", r.entry.Path, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the stream.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeBody()
	return nil
}
