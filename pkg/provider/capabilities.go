package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// These interfaces are used for feature detection (type assertions) and are
// composed into Store. The core Provider interface remains intentionally small.

// WriteOptions carries optional attributes for object-creating calls.
type WriteOptions struct {
	// ContentType is the MIME type recorded on the object.
	ContentType string

	// Metadata is user-defined metadata. On CopyObject a non-nil map
	// replaces the source metadata; nil keeps it.
	Metadata map[string]string
}

// WriteOption mutates WriteOptions.
type WriteOption func(*WriteOptions)

// WithMetadata sets user-defined metadata.
func WithMetadata(md map[string]string) WriteOption {
	return func(o *WriteOptions) {
		o.Metadata = md
	}
}

// WithContentType sets the object's MIME type.
func WithContentType(ct string) WriteOption {
	return func(o *WriteOptions) {
		o.ContentType = ct
	}
}

// ApplyWriteOptions folds opts into a WriteOptions value.
func ApplyWriteOptions(opts ...WriteOption) WriteOptions {
	var o WriteOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}
	return o
}

// ObjectPutter can create/overwrite objects.
//
// A successful PutObject makes the whole new content visible atomically.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts ...WriteOption) error
}

// ObjectDeleter can delete objects.
//
// Deleting a missing key is not an error.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// BatchDeleter deletes up to MaxBatchDelete keys in one request.
//
// Per-key failures are reported as a *BatchDeleteError.
type BatchDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) error
}

// MaxBatchDelete is the largest batch accepted by DeleteObjects.
const MaxBatchDelete = 1000

// ObjectCopier performs server-side copies within the bucket.
type ObjectCopier interface {
	CopyObject(ctx context.Context, srcKey, dstKey string, opts ...WriteOption) error
}

// CompletedPart identifies an uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// MultipartUploader drives the multipart upload protocol.
type MultipartUploader interface {
	CreateMultipartUpload(ctx context.Context, key string, opts ...WriteOption) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectRanger can download a byte range of an object.
//
// endInclusive < 0 reads to the end of the object. A start at or beyond the
// object size yields an empty body.
type ObjectRanger interface {
	GetRange(ctx context.Context, key string, start, endInclusive int64) (body io.ReadCloser, contentLength int64, err error)
}
