// Package aferofs exposes an objfs.FileSystem as an afero.Fs.
//
// Names are slash-separated paths inside the bucket; they are cleaned before
// use, so "a/../b" and "/b/" name the same file. Files opened for writing are
// write sessions: nothing is visible in the bucket until Sync or Close.
//
// Permission bits and ownership cannot be stored and report
// objfs.ErrUnsupported. Chtimes records the modification time only.
package aferofs

import (
	"context"
	iofs "io/fs"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

// Fs adapts a FileSystem to afero.Fs. Every call runs under the context
// given to New.
type Fs struct {
	ctx  context.Context
	fsys *objfs.FileSystem
}

var _ afero.Fs = (*Fs)(nil)

// New returns an afero.Fs over fsys.
func New(ctx context.Context, fsys *objfs.FileSystem) *Fs {
	return &Fs{ctx: ctx, fsys: fsys}
}

// Name implements afero.Fs.
func (f *Fs) Name() string { return "bucketfs" }

func (f *Fs) path(name string) (objfs.Path, error) {
	return f.fsys.Path(path.Clean("/" + name))
}

// pathError converts objfs errors into the os error values afero callers
// test for.
func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var target error
	switch {
	case objfs.IsNotFound(err):
		target = iofs.ErrNotExist
	case objfs.IsNotEmpty(err):
		target = syscall.ENOTEMPTY
	case objfs.IsInvalidPath(err):
		target = iofs.ErrInvalid
	default:
		target = err
	}
	return &os.PathError{Op: op, Path: name, Err: target}
}

// Create implements afero.Fs.
func (f *Fs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// Mkdir implements afero.Fs. The parent must exist and name must not.
func (f *Fs) Mkdir(name string, _ os.FileMode) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("mkdir", name, err)
	}
	kind, err := f.fsys.Resolve(f.ctx, p)
	if err != nil {
		return pathError("mkdir", name, err)
	}
	if kind != objfs.NonExistent {
		return &os.PathError{Op: "mkdir", Path: name, Err: iofs.ErrExist}
	}
	parent, err := f.fsys.Resolve(f.ctx, p.Parent())
	if err != nil {
		return pathError("mkdir", name, err)
	}
	if parent != objfs.Directory {
		return &os.PathError{Op: "mkdir", Path: name, Err: iofs.ErrNotExist}
	}
	return pathError("mkdir", name, f.fsys.CreateDirectory(f.ctx, p))
}

// MkdirAll implements afero.Fs.
func (f *Fs) MkdirAll(name string, _ os.FileMode) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("mkdir", name, err)
	}
	return pathError("mkdir", name, f.fsys.CreateDirectory(f.ctx, p))
}

// Open implements afero.Fs.
func (f *Fs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func writable(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR) != 0
}

// OpenFile implements afero.Fs. Directories open read-only. A writable open
// preloads the existing object unless O_TRUNC is set.
func (f *Fs) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	entry, err := f.fsys.Stat(f.ctx, p)
	exists := err == nil
	if err != nil && !objfs.IsNotFound(err) {
		return nil, pathError("open", name, err)
	}

	if exists && entry.IsDir() {
		if writable(flag) {
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EISDIR}
		}
		return newDirFile(f, name, entry), nil
	}

	if !writable(flag) {
		if !exists {
			return nil, &os.PathError{Op: "open", Path: name, Err: iofs.ErrNotExist}
		}
		r, err := f.fsys.OpenRead(f.ctx, p)
		if err != nil {
			return nil, pathError("open", name, err)
		}
		return newReadFile(f, name, r), nil
	}

	switch {
	case !exists && flag&os.O_CREATE == 0:
		return nil, &os.PathError{Op: "open", Path: name, Err: iofs.ErrNotExist}
	case exists && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, &os.PathError{Op: "open", Path: name, Err: iofs.ErrExist}
	}

	var opts []objfs.WriteOption
	switch {
	case flag&os.O_APPEND != 0 && flag&os.O_TRUNC == 0:
		opts = append(opts, objfs.WithAppend())
	case exists && flag&os.O_TRUNC == 0:
		opts = append(opts, objfs.WithPreload())
	}
	w, err := f.fsys.OpenWrite(f.ctx, p, opts...)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return newWriteFile(f, name, entry, w, flag), nil
}

// Remove implements afero.Fs. Directories must be empty.
func (f *Fs) Remove(name string) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("remove", name, err)
	}
	entry, err := f.fsys.Stat(f.ctx, p)
	if err != nil {
		return pathError("remove", name, err)
	}
	if entry.IsDir() {
		return pathError("remove", name, f.fsys.Rmdir(f.ctx, p))
	}
	return pathError("remove", name, f.fsys.Delete(f.ctx, p))
}

// RemoveAll implements afero.Fs. A missing path is not an error.
func (f *Fs) RemoveAll(name string) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("removeall", name, err)
	}
	err = f.fsys.Delete(f.ctx, p)
	if objfs.IsNotFound(err) {
		return nil
	}
	return pathError("removeall", name, err)
}

// Rename implements afero.Fs.
func (f *Fs) Rename(oldname, newname string) error {
	src, err := f.path(oldname)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	dst, err := f.path(newname)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	if err := f.fsys.Rename(f.ctx, src, dst); err != nil {
		if objfs.IsNotFound(err) {
			err = iofs.ErrNotExist
		}
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

// Stat implements afero.Fs.
func (f *Fs) Stat(name string) (os.FileInfo, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	entry, err := f.fsys.Stat(f.ctx, p)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return fileInfo{entry: entry}, nil
}

// Chmod is not supported.
func (f *Fs) Chmod(name string, _ os.FileMode) error {
	return &os.PathError{Op: "chmod", Path: name, Err: objfs.ErrUnsupported}
}

// Chown is not supported.
func (f *Fs) Chown(name string, _, _ int) error {
	return &os.PathError{Op: "chown", Path: name, Err: objfs.ErrUnsupported}
}

// Chtimes records mtime as the modification time. atime is ignored.
func (f *Fs) Chtimes(name string, _ time.Time, mtime time.Time) error {
	p, err := f.path(name)
	if err != nil {
		return pathError("chtimes", name, err)
	}
	return pathError("chtimes", name, f.fsys.SetLastModified(f.ctx, p, mtime))
}

// fileInfo is the os.FileInfo of an Entry.
type fileInfo struct {
	entry objfs.Entry
}

func (fi fileInfo) Name() string {
	if fi.entry.Path.IsRoot() {
		return "/"
	}
	return fi.entry.Name
}

func (fi fileInfo) Size() int64        { return fi.entry.Size }
func (fi fileInfo) ModTime() time.Time { return fi.entry.LastModified }
func (fi fileInfo) IsDir() bool        { return fi.entry.IsDir() }

// Sys returns the objfs.Entry.
func (fi fileInfo) Sys() any { return fi.entry }

func (fi fileInfo) Mode() os.FileMode {
	if fi.entry.IsDir() {
		return os.ModeDir | 0o755
	}
	return 0o644
}
