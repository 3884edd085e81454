// Package provider is the object store contract bucketfs builds on.
//
// Provider is the read-only core. The capability interfaces in
// capabilities.go add content transfer, copy and delete, and Store bundles
// all of them for the objfs namespace adapter. Credentials are resolved by
// the store SDK, never here.
package provider

import (
	"context"
	"time"
)

// Provider lists and inspects keys of one bucket. Implementations are safe
// for concurrent use.
type Provider interface {
	// List returns one page of keys under opts.Prefix in lexicographic order.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns ErrNotFound for a missing key.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	Close() error
}

// Store is everything objfs needs from a bucket.
type Store interface {
	Provider
	DelimiterLister
	ObjectGetter
	ObjectRanger
	ObjectPutter
	ObjectCopier
	ObjectDeleter
	BatchDeleter
	MultipartUploader
}

// ListOptions selects one page of a flat listing.
type ListOptions struct {
	Prefix string

	// ContinuationToken is the opaque token of the previous page, or "".
	ContinuationToken string

	// MaxKeys of 0 means the store default.
	MaxKeys int
}

// ListResult is one page of a flat listing. ContinuationToken is empty on
// the last page.
type ListResult struct {
	Objects           []ObjectSummary
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is what a listing reports per key.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string // unquoted
	LastModified time.Time
}

// ObjectMeta is what Head reports per key.
type ObjectMeta struct {
	ObjectSummary

	ContentType string

	// Metadata holds user metadata with lower-cased names.
	Metadata map[string]string
}

// ProviderType names a store backend in configuration.
type ProviderType string

const (
	ProviderS3     ProviderType = "s3"
	ProviderMemory ProviderType = "memory" // process-local, for tests and demos
)

func (p ProviderType) String() string { return string(p) }
