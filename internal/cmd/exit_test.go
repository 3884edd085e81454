package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/bucketfs/internal/config"
	"github.com/3leaps/bucketfs/pkg/objfs"
)

func TestExitCodeFor(t *testing.T) {
	p, err := objfs.ParsePath("exit-bucket", "/a")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "plain error", err: errors.New("boom"), want: ExitFailure},
		{name: "explicit code", err: exitError(ExitPermissionDenied, "denied", nil), want: ExitPermissionDenied},
		{name: "wrapped explicit code", err: fmt.Errorf("outer: %w", exitError(ExitReadOnly, "ro", nil)), want: ExitReadOnly},
		{name: "config validation", err: &config.ValidationError{Key: "store.provider", Message: "bad"}, want: ExitConfigInvalid},
		{name: "invalid path", err: &objfs.InvalidPathError{Path: "a//b", Reason: "empty segment"}, want: ExitInvalidArgument},
		{name: "not found", err: &objfs.NotFoundError{Path: p}, want: ExitNotFound},
		{name: "conflict", err: &objfs.ConflictError{Path: p, Reason: "x"}, want: ExitConflict},
		{name: "not empty", err: &objfs.NotEmptyError{Path: p}, want: ExitConflict},
		{name: "partial rename", err: &objfs.PartialRenameError{Src: p, Dst: p, Phase: "delete", Err: errors.New("x")}, want: ExitPartialFailure},
		{name: "fs error keeps category", err: fsError("rm failed", &objfs.NotFoundError{Path: p}), want: ExitNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner")
	err := exitError(ExitFailure, "outer", inner)
	assert.Equal(t, "outer: inner", err.Error())
	assert.ErrorIs(t, err, inner)

	assert.Equal(t, "bare", exitError(ExitFailure, "bare", nil).Error())
	assert.Contains(t, errReadOnly("bucketfs put").Error(), "readonly")
}
