package objfs

import (
	"errors"
	"fmt"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	// ErrInvalidPath indicates a path or key that cannot be represented.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the path exists with the wrong kind.
	ErrConflict = errors.New("conflict")

	// ErrNotEmpty indicates a non-recursive delete of a directory with children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrPartialRename indicates a rename that stopped between copy and delete.
	ErrPartialRename = errors.New("partial rename")

	// ErrIO indicates a failed store round trip.
	ErrIO = errors.New("storage i/o failure")

	// ErrCancelled indicates the caller's context was cancelled or timed out.
	ErrCancelled = errors.New("operation cancelled")

	// ErrUnsupported indicates an operation the namespace cannot express.
	ErrUnsupported = errors.New("operation not supported")

	// ErrClosed indicates use of a closed reader or writer.
	ErrClosed = errors.New("stream closed")
)

// fsError marks the package's error types so mapping never wraps them twice.
type fsError interface {
	error
	fsError()
}

// InvalidPathError reports reserved or malformed path content.
type InvalidPathError struct {
	// Path is the offending input as given.
	Path string

	// Reason describes what is wrong with it.
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Is matches ErrInvalidPath.
func (e *InvalidPathError) Is(target error) bool { return target == ErrInvalidPath }
func (*InvalidPathError) fsError() {}

// NotFoundError reports a missing path.
type NotFoundError struct {
	Path Path

	// Code is the store error code when the store reported the miss.
	Code string
}

func (e *NotFoundError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: not found (%s)", e.Path.URI(), e.Code)
	}
	return fmt.Sprintf("%s: not found", e.Path.URI())
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (*NotFoundError) fsError() {}

// ConflictError reports a path that exists with an incompatible kind.
type ConflictError struct {
	Path   Path
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path.URI(), e.Reason)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (*ConflictError) fsError() {}

// NotEmptyError reports a directory that still has children.
type NotEmptyError struct {
	Path Path
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("%s: directory not empty", e.Path.URI())
}

// Is matches ErrNotEmpty.
func (e *NotEmptyError) Is(target error) bool { return target == ErrNotEmpty }
func (*NotEmptyError) fsError() {}

// Rename phases reported by PartialRenameError.
const (
	PhaseCopy   = "copy"
	PhaseDelete = "delete"
)

// PartialRenameError reports a rename that left both source and destination
// keys in the store.
type PartialRenameError struct {
	Src Path
	Dst Path

	// Phase is PhaseCopy or PhaseDelete.
	Phase string

	// LastCopied is the last destination key written, empty if none.
	LastCopied string

	// Failed is the key whose copy or delete failed.
	Failed string

	Err error
}

func (e *PartialRenameError) Error() string {
	return fmt.Sprintf("rename %s -> %s: stopped in %s phase at %q (last copied %q): %v",
		e.Src.URI(), e.Dst.URI(), e.Phase, e.Failed, e.LastCopied, e.Err)
}

// Is matches ErrPartialRename.
func (e *PartialRenameError) Is(target error) bool { return target == ErrPartialRename }
func (e *PartialRenameError) Unwrap() error { return e.Err }
func (*PartialRenameError) fsError() {}

// IOError reports a failed store round trip.
type IOError struct {
	Op   string
	Path Path

	// Code is the store-native error code, if any.
	Code string

	// Retryable reports whether repeating the call may succeed.
	Retryable bool

	Err error
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path.URI(), e.Err)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

// Is matches ErrIO.
func (e *IOError) Is(target error) bool { return target == ErrIO }
func (e *IOError) Unwrap() error { return e.Err }
func (*IOError) fsError() {}

// CancelledError reports cancellation or an expired deadline.
type CancelledError struct {
	Op   string
	Path Path
	Err  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s %s: cancelled: %v", e.Op, e.Path.URI(), e.Err)
}

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }
func (e *CancelledError) Unwrap() error { return e.Err }
func (*CancelledError) fsError() {}

// IsInvalidPath reports whether err is an InvalidPathError.
func IsInvalidPath(err error) bool { return errors.Is(err, ErrInvalidPath) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotEmpty reports whether err is a NotEmptyError.
func IsNotEmpty(err error) bool { return errors.Is(err, ErrNotEmpty) }

// IsPartialRename reports whether err is a PartialRenameError.
func IsPartialRename(err error) bool { return errors.Is(err, ErrPartialRename) }

// IsIO reports whether err is an IOError.
func IsIO(err error) bool { return errors.Is(err, ErrIO) }

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsRetryable reports whether the failed operation may succeed if repeated.
func IsRetryable(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Retryable
	}
	return false
}

// ErrorCode returns the store-native error code carried by err.
func ErrorCode(err error) string {
	var ioErr *IOError
	if errors.As(err, &ioErr) && ioErr.Code != "" {
		return ioErr.Code
	}
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.Code != "" {
		return nf.Code
	}
	return provider.ErrorCode(err)
}

// mapError converts a store error into the package's taxonomy.
func mapError(op string, p Path, err error) error {
	if err == nil {
		return nil
	}
	var fe fsError
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case provider.IsCancelled(err):
		return &CancelledError{Op: op, Path: p, Err: err}
	case provider.IsNotFound(err):
		return &NotFoundError{Path: p, Code: provider.ErrorCode(err)}
	}
	return &IOError{
		Op:        op,
		Path:      p,
		Code:      provider.ErrorCode(err),
		Retryable: provider.IsRetryable(err),
		Err:       err,
	}
}
