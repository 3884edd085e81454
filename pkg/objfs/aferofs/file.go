package aferofs

import (
	"io"
	"iter"
	"os"
	"sync"
	"syscall"

	"github.com/spf13/afero"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

// File is an open directory, read stream or write session.
type File struct {
	fs    *Fs
	name  string
	entry objfs.Entry
	flag  int

	r *objfs.Reader
	w *objfs.Writer

	mu     sync.Mutex
	next   func() (objfs.Entry, error, bool)
	stop   func()
	closed bool
}

var _ afero.File = (*File)(nil)

func newDirFile(fs *Fs, name string, entry objfs.Entry) *File {
	return &File{fs: fs, name: name, entry: entry}
}

func newReadFile(fs *Fs, name string, r *objfs.Reader) *File {
	return &File{
		fs:   fs,
		name: name,
		entry: objfs.Entry{
			Name:         r.Name(),
			Path:         r.Path(),
			Kind:         objfs.File,
			Size:         r.Size(),
			LastModified: r.ModTime(),
		},
		r: r,
	}
}

func newWriteFile(fs *Fs, name string, entry objfs.Entry, w *objfs.Writer, flag int) *File {
	entry.Name = w.Path().Name()
	entry.Path = w.Path()
	entry.Kind = objfs.File
	return &File{fs: fs, name: name, entry: entry, w: w, flag: flag}
}

func (f *File) errorf(op string, err error) error {
	return &os.PathError{Op: op, Path: f.name, Err: err}
}

// Name returns the name passed to Open.
func (f *File) Name() string { return f.name }

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	switch {
	case f.w != nil:
		if f.flag&(os.O_WRONLY|os.O_RDWR) == os.O_WRONLY {
			return 0, f.errorf("read", syscall.EBADF)
		}
		return f.w.Read(p)
	case f.r != nil:
		return f.r.Read(p)
	}
	return 0, f.errorf("read", syscall.EISDIR)
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	switch {
	case f.w != nil:
		if f.flag&(os.O_WRONLY|os.O_RDWR) == os.O_WRONLY {
			return 0, f.errorf("read", syscall.EBADF)
		}
		return f.w.ReadAt(p, off)
	case f.r != nil:
		return f.r.ReadAt(p, off)
	}
	return 0, f.errorf("read", syscall.EISDIR)
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch {
	case f.w != nil:
		return f.w.Seek(offset, whence)
	case f.r != nil:
		return f.r.Seek(offset, whence)
	}
	return 0, f.errorf("seek", syscall.EISDIR)
}

// Write implements io.Writer. With O_APPEND every write goes to the end.
func (f *File) Write(p []byte) (int, error) {
	if f.w == nil {
		return 0, f.errorf("write", syscall.EBADF)
	}
	if f.flag&os.O_APPEND != 0 {
		if _, err := f.w.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	return f.w.Write(p)
}

// WriteAt implements io.WriterAt.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.w == nil {
		return 0, f.errorf("write", syscall.EBADF)
	}
	if f.flag&os.O_APPEND != 0 {
		return 0, f.errorf("write", syscall.EPERM)
	}
	return f.w.WriteAt(p, off)
}

// WriteString implements afero.File.
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Truncate changes the size of a write session.
func (f *File) Truncate(size int64) error {
	if f.w == nil {
		return f.errorf("truncate", syscall.EBADF)
	}
	return f.w.Truncate(size)
}

// Sync commits a write session.
func (f *File) Sync() error {
	if f.w == nil {
		return nil
	}
	if err := f.w.Flush(); err != nil {
		return f.errorf("sync", err)
	}
	return nil
}

// Stat implements afero.File. A write session reports its current size.
func (f *File) Stat() (os.FileInfo, error) {
	e := f.entry
	if f.w != nil {
		e.Size = f.w.Size()
	}
	return fileInfo{entry: e}, nil
}

// Readdir implements afero.File. With count > 0 it returns at most count
// entries per call and io.EOF once the listing is exhausted.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.entry.IsDir() {
		return nil, f.errorf("readdir", syscall.ENOTDIR)
	}
	if f.closed {
		return nil, f.errorf("readdir", os.ErrClosed)
	}
	if f.next == nil {
		f.next, f.stop = iter.Pull2(f.fs.fsys.ListChildren(f.fs.ctx, f.entry.Path))
	}

	var out []os.FileInfo
	for count <= 0 || len(out) < count {
		e, err, ok := f.next()
		if !ok {
			break
		}
		if err != nil {
			return out, pathError("readdir", f.name, err)
		}
		out = append(out, fileInfo{entry: e})
	}
	if count > 0 && len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Readdirnames implements afero.File.
func (f *File) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names, err
}

// Close commits a write session and releases the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.stop != nil {
		f.stop()
	}
	switch {
	case f.w != nil:
		if err := f.w.Close(); err != nil {
			return f.errorf("close", err)
		}
	case f.r != nil:
		return f.r.Close()
	}
	return nil
}
