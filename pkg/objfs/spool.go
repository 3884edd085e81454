package objfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// spool is the random-access buffer behind a write session. It keeps bytes
// in memory up to a threshold and moves them to a temp file beyond it.
type spool struct {
	fs        afero.Fs
	dir       string
	threshold int64

	mem  []byte
	file afero.File
	size int64
}

func newSpool(fs afero.Fs, dir string, threshold int64) *spool {
	return &spool{fs: fs, dir: dir, threshold: threshold}
}

// Size returns the logical length.
func (s *spool) Size() int64 { return s.size }

// Spilled reports whether the content lives in a temp file.
func (s *spool) Spilled() bool { return s.file != nil }

func (s *spool) spill() error {
	f, err := afero.TempFile(s.fs, s.dir, "bucketfs-spool-*")
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	if _, err := f.WriteAt(s.mem, 0); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(f.Name())
		return fmt.Errorf("write spill file: %w", err)
	}
	s.file = f
	s.mem = nil
	return nil
}

// WriteAt writes p at off, zero-filling any gap past the current end.
func (s *spool) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("spool: negative offset")
	}
	end := off + int64(len(p))

	if s.file == nil && end > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}

	if s.file != nil {
		n, err := s.file.WriteAt(p, off)
		if end := off + int64(n); end > s.size {
			s.size = end
		}
		return n, err
	}

	if end > int64(len(s.mem)) {
		if end > int64(cap(s.mem)) {
			grown := make([]byte, end, max(end, 2*int64(cap(s.mem))))
			copy(grown, s.mem)
			s.mem = grown
		} else {
			// Bytes past len may hold data from an earlier truncate.
			old := len(s.mem)
			s.mem = s.mem[:end]
			clear(s.mem[old:])
		}
	}
	copy(s.mem[off:], p)
	if end > s.size {
		s.size = end
	}
	return len(p), nil
}

// ReadAt implements io.ReaderAt over the logical content.
func (s *spool) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("spool: negative offset")
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := p
	if rem := s.size - off; int64(len(want)) > rem {
		want = want[:rem]
	}

	var n int
	var err error
	if s.file != nil {
		n, err = s.file.ReadAt(want, off)
		if errors.Is(err, io.EOF) && n == len(want) {
			err = nil
		}
	} else {
		n = copy(want, s.mem[off:])
	}
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Truncate sets the logical length, zero-filling when it grows.
func (s *spool) Truncate(size int64) error {
	if size < 0 {
		return errors.New("spool: negative size")
	}
	if s.file == nil && size > s.threshold {
		if err := s.spill(); err != nil {
			return err
		}
	}
	if s.file != nil {
		if err := s.file.Truncate(size); err != nil {
			return fmt.Errorf("truncate spill file: %w", err)
		}
		s.size = size
		return nil
	}

	if size > int64(len(s.mem)) {
		if _, err := s.WriteAt(make([]byte, size-int64(len(s.mem))), int64(len(s.mem))); err != nil {
			return err
		}
	}
	s.mem = s.mem[:size]
	s.size = size
	return nil
}

// ReadFrom appends everything from r.
func (s *spool) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 32<<10)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.WriteAt(buf[:n], s.size); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Close releases the memory buffer or removes the spill file.
func (s *spool) Close() error {
	s.mem = nil
	s.size = 0
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	closeErr := s.file.Close()
	rmErr := s.fs.Remove(name)
	s.file = nil
	if closeErr != nil {
		return fmt.Errorf("close spill file: %w", closeErr)
	}
	if rmErr != nil {
		return fmt.Errorf("remove spill file: %w", rmErr)
	}
	return nil
}
