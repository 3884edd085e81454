package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/bucketfs/pkg/match"
	"github.com/3leaps/bucketfs/pkg/objfs"
)

// ErrNoBucket is returned for a slash path when no default bucket is set.
var ErrNoBucket = errors.New("no bucket: use an s3:// URI or set --bucket")

// resolvePath turns a command argument into a path. An s3:// URI names its
// bucket; any other argument is a slash path in defaultBucket.
func resolvePath(arg, defaultBucket string) (objfs.Path, error) {
	if strings.Contains(arg, "://") {
		return objfs.ParseURI(arg)
	}
	if defaultBucket == "" {
		return objfs.Path{}, fmt.Errorf("%w (path %q)", ErrNoBucket, arg)
	}
	return objfs.ParsePath(defaultBucket, arg)
}

// splitGlob separates an argument such as "s3://b/logs/**/*.gz" into the
// directory to list ("s3://b/logs") and the pattern below it ("**/*.gz").
// Arguments without glob characters are returned unchanged with an empty
// pattern.
func splitGlob(arg string) (base, pattern string, err error) {
	scheme := ""
	rest := arg
	if i := strings.Index(arg, "://"); i >= 0 {
		scheme, rest = arg[:i+3], arg[i+3:]
		j := strings.Index(rest, "/")
		if j < 0 {
			return arg, "", nil
		}
		scheme, rest = scheme+rest[:j+1], rest[j+1:]
	}
	if !match.IsGlobPattern(rest) {
		return arg, "", nil
	}
	if !doublestar.ValidatePattern(rest) {
		return "", "", fmt.Errorf("invalid pattern %q", rest)
	}
	dir, pattern := doublestar.SplitPattern(strings.TrimPrefix(rest, "/"))
	if dir == "." {
		dir = ""
	}
	if scheme == "" {
		dir = "/" + dir
	}
	return scheme + dir, pattern, nil
}
