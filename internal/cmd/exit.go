package cmd

import (
	"errors"
	"fmt"

	"github.com/3leaps/bucketfs/internal/config"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider"
)

// Process exit codes.
const (
	ExitSuccess                    = 0
	ExitFailure                    = 1
	ExitInvalidArgument            = 2
	ExitNotFound                   = 3
	ExitConflict                   = 4
	ExitPermissionDenied           = 5
	ExitExternalServiceUnavailable = 6
	ExitConfigInvalid              = 7
	ExitReadOnly                   = 8
	ExitPartialFailure             = 9
)

// ExitError carries the exit code a failed command should terminate with.
type ExitError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, msg string, err error) error {
	return &ExitError{Code: code, Msg: msg, Err: err}
}

// fsError wraps a filesystem error with the exit code of its category.
func fsError(msg string, err error) error {
	return exitError(exitCodeFor(err), msg, err)
}

// exitCodeFor maps an error to a process exit code.
func exitCodeFor(err error) int {
	var exitErr *ExitError
	var cfgErr *config.ValidationError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &cfgErr):
		return ExitConfigInvalid
	case objfs.IsInvalidPath(err):
		return ExitInvalidArgument
	case objfs.IsNotFound(err):
		return ExitNotFound
	case objfs.IsConflict(err), objfs.IsNotEmpty(err):
		return ExitConflict
	case objfs.IsPartialRename(err):
		return ExitPartialFailure
	case provider.IsAccessDenied(err):
		return ExitPermissionDenied
	case objfs.IsRetryable(err), provider.IsRetryable(err):
		return ExitExternalServiceUnavailable
	}
	return ExitFailure
}

func errReadOnly(op string) error {
	return exitError(ExitReadOnly, fmt.Sprintf("%s is not allowed in readonly mode", op), nil)
}
