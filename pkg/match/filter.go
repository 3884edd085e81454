package match

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

// Filter selects entries by attributes available from a listing.
type Filter interface {
	Match(e objfs.Entry) bool
	String() string
}

// FilterConfig holds attribute criteria as given on the command line.
// Empty fields impose nothing.
type FilterConfig struct {
	// Kind is "f"/"file" or "d"/"dir"/"directory".
	Kind string

	// MinSize and MaxSize are inclusive, e.g. "1KB" (1000) or "1KiB" (1024).
	MinSize string
	MaxSize string

	// After is inclusive, Before exclusive. "2024-01-15" or RFC 3339.
	After  string
	Before string
}

// Filter errors.
var (
	ErrInvalidKind = errors.New("invalid kind")
	ErrInvalidSize = errors.New("invalid size value")
	ErrInvalidDate = errors.New("invalid date value")
)

// KindFilter keeps one kind of entry.
type KindFilter struct {
	kind objfs.NodeKind
}

// NewKindFilter parses s. It returns nil for "".
func NewKindFilter(s string) (*KindFilter, error) {
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "f", "file":
		return &KindFilter{kind: objfs.File}, nil
	case "d", "dir", "directory":
		return &KindFilter{kind: objfs.Directory}, nil
	}
	return nil, fmt.Errorf("%w: %q (want f or d)", ErrInvalidKind, s)
}

func (f *KindFilter) Match(e objfs.Entry) bool { return e.Kind == f.kind }

func (f *KindFilter) String() string { return "kind: " + f.kind.String() }

// SizeFilter keeps files within a size range. Directories never match.
type SizeFilter struct {
	min int64 // -1: unbounded
	max int64 // -1: unbounded
}

// NewSizeFilter returns nil when both bounds are empty.
func NewSizeFilter(minSize, maxSize string) (*SizeFilter, error) {
	if minSize == "" && maxSize == "" {
		return nil, nil
	}
	f := &SizeFilter{min: -1, max: -1}
	var err error
	if minSize != "" {
		if f.min, err = ParseSize(minSize); err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
	}
	if maxSize != "" {
		if f.max, err = ParseSize(maxSize); err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
	}
	if f.min >= 0 && f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}
	return f, nil
}

func (f *SizeFilter) Match(e objfs.Entry) bool {
	if e.Kind != objfs.File {
		return false
	}
	if f.min >= 0 && e.Size < f.min {
		return false
	}
	return f.max < 0 || e.Size <= f.max
}

func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", units.HumanSize(float64(f.min)), units.HumanSize(float64(f.max)))
	case f.min >= 0:
		return "size: >= " + units.HumanSize(float64(f.min))
	default:
		return "size: <= " + units.HumanSize(float64(f.max))
	}
}

// DateFilter keeps entries modified within [after, before). Entries with
// no modification time never match.
type DateFilter struct {
	after  time.Time
	before time.Time
}

// NewDateFilter returns nil when both bounds are empty.
func NewDateFilter(after, before string) (*DateFilter, error) {
	if after == "" && before == "" {
		return nil, nil
	}
	f := &DateFilter{}
	var err error
	if after != "" {
		if f.after, err = ParseDate(after); err != nil {
			return nil, fmt.Errorf("after: %w", err)
		}
	}
	if before != "" {
		if f.before, err = ParseDate(before); err != nil {
			return nil, fmt.Errorf("before: %w", err)
		}
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) is not before (%s)", ErrInvalidDate, f.after, f.before)
	}
	return f, nil
}

func (f *DateFilter) Match(e objfs.Entry) bool {
	if e.LastModified.IsZero() {
		return false
	}
	if !f.after.IsZero() && e.LastModified.Before(f.after) {
		return false
	}
	return f.before.IsZero() || e.LastModified.Before(f.before)
}

func (f *DateFilter) String() string {
	const day = "2006-01-02"
	switch {
	case !f.after.IsZero() && !f.before.IsZero():
		return fmt.Sprintf("modified: %s to %s", f.after.Format(day), f.before.Format(day))
	case !f.after.IsZero():
		return "modified: on/after " + f.after.Format(day)
	default:
		return "modified: before " + f.before.Format(day)
	}
}

// CompositeFilter requires every filter to match.
type CompositeFilter struct {
	filters []Filter
}

// NewFilter builds the filters cfg describes. It returns nil when cfg sets
// nothing.
func NewFilter(cfg FilterConfig) (*CompositeFilter, error) {
	var filters []Filter

	kf, err := NewKindFilter(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if kf != nil {
		filters = append(filters, kf)
	}
	sf, err := NewSizeFilter(cfg.MinSize, cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	if sf != nil {
		filters = append(filters, sf)
	}
	df, err := NewDateFilter(cfg.After, cfg.Before)
	if err != nil {
		return nil, err
	}
	if df != nil {
		filters = append(filters, df)
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match reports whether every filter matches. A nil filter matches all.
func (f *CompositeFilter) Match(e objfs.Entry) bool {
	if f == nil {
		return true
	}
	for _, filter := range f.filters {
		if !filter.Match(e) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	if f == nil || len(f.filters) == 0 {
		return "no filters"
	}
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// ParseSize parses "1024", "1.5MB" (decimal) or "100MiB" (binary).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidSize
	}
	var (
		n   int64
		err error
	)
	if strings.ContainsAny(s, "iI") {
		n, err = units.RAMInBytes(s)
	} else {
		n, err = units.FromHumanSize(s)
	}
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return n, nil
}

// ParseDate parses "2024-01-15" (start of day UTC) or an RFC 3339 time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
