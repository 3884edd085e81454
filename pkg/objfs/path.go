package objfs

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// Separator joins path segments into object keys.
	Separator = "/"

	// MaxKeyLength is the longest object key the store accepts, in bytes.
	MaxKeyLength = 1024

	// Scheme is the URI scheme of bucket paths.
	Scheme = "s3"
)

// Path is an immutable location in a bucket's namespace: a bucket plus an
// ordered list of segments. The root of a bucket has no segments.
type Path struct {
	bucket   string
	segments []string
}

// Root returns the root path of bucket.
func Root(bucket string) (Path, error) {
	return NewPath(bucket)
}

// NewPath builds a path from already split segments.
func NewPath(bucket string, segments ...string) (Path, error) {
	b, err := NormalizeBucket(bucket)
	if err != nil {
		return Path{}, err
	}
	for _, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return Path{}, err
		}
	}
	p := Path{bucket: b, segments: slices.Clone(segments)}
	if key := PathToKey(p); len(key) > MaxKeyLength {
		return Path{}, &InvalidPathError{Path: key, Reason: fmt.Sprintf("key exceeds %d bytes", MaxKeyLength)}
	}
	return p, nil
}

// ParsePath splits a slash-separated path. Leading and trailing separators
// are dropped; empty inner segments are rejected.
func ParsePath(bucket, path string) (Path, error) {
	trimmed := strings.TrimPrefix(path, Separator)
	trimmed = strings.TrimSuffix(trimmed, Separator)
	if trimmed == "" {
		return NewPath(bucket)
	}
	segs := strings.Split(trimmed, Separator)
	for _, s := range segs {
		if s == "" {
			return Path{}, &InvalidPathError{Path: path, Reason: "empty segment"}
		}
	}
	return NewPath(bucket, segs...)
}

// ParseURI parses "s3://bucket/a/b". The key part is taken verbatim, no
// percent-decoding is applied.
func ParseURI(uri string) (Path, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Path{}, &InvalidPathError{Path: uri, Reason: "missing scheme (expected s3://...)"}
	}
	if !strings.EqualFold(scheme, Scheme) {
		return Path{}, &InvalidPathError{Path: uri, Reason: fmt.Sprintf("unsupported scheme %q", scheme)}
	}
	bucket, key, _ := strings.Cut(rest, Separator)
	if bucket == "" {
		return Path{}, &InvalidPathError{Path: uri, Reason: "missing bucket name"}
	}
	return ParsePath(bucket, key)
}

// NormalizeBucket lower-cases bucket and checks it against the S3 bucket
// naming rules.
func NormalizeBucket(bucket string) (string, error) {
	b := strings.ToLower(bucket)
	if len(b) < 3 || len(b) > 63 {
		return "", &InvalidPathError{Path: bucket, Reason: "bucket name must be 3-63 characters"}
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '.' || c == '-':
			if i == 0 || i == len(b)-1 {
				return "", &InvalidPathError{Path: bucket, Reason: "bucket name must start and end with a letter or digit"}
			}
		default:
			return "", &InvalidPathError{Path: bucket, Reason: fmt.Sprintf("invalid character %q in bucket name", c)}
		}
	}
	return b, nil
}

// ValidateSegment reports whether s can be a single path segment.
func ValidateSegment(s string) error {
	switch {
	case s == "":
		return &InvalidPathError{Path: s, Reason: "empty segment"}
	case s == "." || s == "..":
		return &InvalidPathError{Path: s, Reason: "relative segment"}
	case strings.Contains(s, Separator):
		return &InvalidPathError{Path: s, Reason: "segment contains separator"}
	case strings.IndexByte(s, 0) >= 0:
		return &InvalidPathError{Path: s, Reason: "segment contains NUL"}
	case !utf8.ValidString(s):
		return &InvalidPathError{Path: s, Reason: "segment is not valid UTF-8"}
	}
	return nil
}

// PathToKey returns the object key for p. The root maps to "".
func PathToKey(p Path) string {
	return strings.Join(p.segments, Separator)
}

// PrefixFor returns the separator-terminated listing prefix of p. The root's
// prefix is "".
func PrefixFor(p Path) string {
	if p.IsRoot() {
		return ""
	}
	return PathToKey(p) + Separator
}

// KeyToPath parses an object key. One trailing separator (a directory
// marker) is stripped.
func KeyToPath(bucket, key string) (Path, error) {
	if len(key) > MaxKeyLength {
		return Path{}, &InvalidPathError{Path: key, Reason: fmt.Sprintf("key exceeds %d bytes", MaxKeyLength)}
	}
	trimmed := strings.TrimSuffix(key, Separator)
	if trimmed == "" {
		if key != "" {
			return Path{}, &InvalidPathError{Path: key, Reason: "empty segment"}
		}
		return NewPath(bucket)
	}
	segs := strings.Split(trimmed, Separator)
	for _, s := range segs {
		if err := ValidateSegment(s); err != nil {
			return Path{}, &InvalidPathError{Path: key, Reason: err.(*InvalidPathError).Reason}
		}
	}
	return NewPath(bucket, segs...)
}

// Bucket returns the bucket name.
func (p Path) Bucket() string { return p.bucket }

// Segments returns a copy of the path segments.
func (p Path) Segments() []string { return slices.Clone(p.segments) }

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segments) }

// IsRoot reports whether p is the bucket root.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the enclosing directory. The root is its own parent.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	return Path{bucket: p.bucket, segments: p.segments[:len(p.segments)-1:len(p.segments)-1]}
}

// Ancestors returns every proper ancestor of p, nearest first, ending with
// the root.
func (p Path) Ancestors() []Path {
	out := make([]Path, 0, len(p.segments))
	for q := p; !q.IsRoot(); {
		q = q.Parent()
		out = append(out, q)
	}
	return out
}

// Join appends one segment.
func (p Path) Join(name string) (Path, error) {
	segs := make([]string, 0, len(p.segments)+1)
	segs = append(segs, p.segments...)
	segs = append(segs, name)
	return NewPath(p.bucket, segs...)
}

// Equal reports whether p and o name the same location.
func (p Path) Equal(o Path) bool {
	return p.bucket == o.bucket && slices.Equal(p.segments, o.segments)
}

// Within reports whether p is ancestor itself or lies below it.
func (p Path) Within(ancestor Path) bool {
	if p.bucket != ancestor.bucket || len(p.segments) < len(ancestor.segments) {
		return false
	}
	return slices.Equal(p.segments[:len(ancestor.segments)], ancestor.segments)
}

// String returns the absolute slash form, "/" for the root.
func (p Path) String() string {
	return Separator + PathToKey(p)
}

// URI returns the "s3://bucket/key" form.
func (p Path) URI() string {
	return Scheme + "://" + p.bucket + Separator + PathToKey(p)
}
