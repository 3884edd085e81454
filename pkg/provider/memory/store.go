// Package memory implements provider.Store in process memory.
//
// It models the object-store behaviours bucketfs depends on: flat keys,
// lexicographic listing with delimiter folding and opaque continuation
// tokens, server-side copy, batch delete and multipart uploads. A fault hook
// lets tests inject failures per operation and key.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// DefaultPageSize is the listing page cap when none is configured.
const DefaultPageSize = 1000

// FaultFunc is consulted at the start of every operation. A non-nil return
// fails the operation with that error.
type FaultFunc func(op, key string) error

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
	etag        string
}

type upload struct {
	key         string
	contentType string
	metadata    map[string]string
	parts       map[int32][]byte
}

// Store is an in-memory bucket.
type Store struct {
	bucket   string
	pageSize int
	now      func() time.Time

	mu      sync.RWMutex
	objects map[string]*object
	uploads map[string]*upload
	fault   FaultFunc
	calls   map[string]int
}

var (
	_ provider.Provider = (*Store)(nil)
	_ provider.Store    = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPageSize caps the number of entries returned per listing page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the time source used for LastModified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store for bucket.
func New(bucket string, opts ...Option) *Store {
	s := &Store{
		bucket:   bucket,
		pageSize: DefaultPageSize,
		now:      time.Now,
		objects:  make(map[string]*object),
		uploads:  make(map[string]*upload),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// SetFault installs (or with nil, clears) the fault hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// ResetCalls zeroes the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	clear(s.calls)
	s.mu.Unlock()
}

// Keys returns every stored key in lexicographic order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// Content returns a copy of the object's bytes.
func (s *Store) Content(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// PendingUploads returns the number of multipart uploads neither completed
// nor aborted.
func (s *Store) PendingUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

// begin records the call and consults the fault hook. Callers must hold mu.
func (s *Store) begin(op, key string) error {
	s.calls[op]++
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op, key); err != nil {
		return s.wrap(op, key, "", err)
	}
	return nil
}

func (s *Store) wrap(op, key, code string, err error) error {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if code == "" {
		code = codeFor(err)
	}
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderMemory,
		Bucket:   s.bucket,
		Key:      key,
		Code:     code,
		Err:      err,
	}
}

func codeFor(err error) string {
	switch {
	case provider.IsNotFound(err):
		return "NoSuchKey"
	case provider.IsAccessDenied(err):
		return "AccessDenied"
	case provider.IsThrottled(err):
		return "SlowDown"
	case provider.IsProviderUnavailable(err):
		return "ServiceUnavailable"
	}
	return ""
}

func (s *Store) notFound(op, key string) error {
	return s.wrap(op, key, "NoSuchKey", provider.ErrNotFound)
}

// List returns a page of objects with the given prefix.
func (s *Store) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	res, err := s.list(ctx, "List", opts.Prefix, "", opts.ContinuationToken, opts.MaxKeys)
	if err != nil {
		return nil, err
	}
	return &provider.ListResult{
		Objects:           res.Objects,
		ContinuationToken: res.ContinuationToken,
		IsTruncated:       res.IsTruncated,
	}, nil
}

// ListWithDelimiter returns a page of direct children under opts.Prefix.
func (s *Store) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	return s.list(ctx, "ListWithDelimiter", opts.Prefix, opts.Delimiter, opts.ContinuationToken, opts.MaxKeys)
}

func (s *Store) list(ctx context.Context, op, prefix, delimiter, token string, maxKeys int) (*provider.ListWithDelimiterResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.wrap(op, prefix, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op, prefix); err != nil {
		return nil, err
	}

	after, skipPrefix, err := decodeToken(token)
	if err != nil {
		return nil, s.wrap(op, prefix, "InvalidArgument", err)
	}

	limit := s.pageSize
	if maxKeys > 0 && maxKeys < limit {
		limit = maxKeys
	}

	res := &provider.ListWithDelimiterResult{
		Objects:        []provider.ObjectSummary{},
		CommonPrefixes: []string{},
	}
	var lastToken string
	emitted := 0

	for _, key := range slices.Sorted(maps.Keys(s.objects)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if after != "" && key <= after {
			continue
		}
		if skipPrefix != "" && (key <= skipPrefix || strings.HasPrefix(key, skipPrefix)) {
			continue
		}

		cp := ""
		if delimiter != "" {
			if idx := strings.Index(key[len(prefix):], delimiter); idx >= 0 {
				cp = key[:len(prefix)+idx+len(delimiter)]
			}
		}
		if cp != "" && len(res.CommonPrefixes) > 0 && res.CommonPrefixes[len(res.CommonPrefixes)-1] == cp {
			continue
		}

		if emitted == limit {
			res.IsTruncated = true
			res.ContinuationToken = lastToken
			break
		}
		emitted++

		if cp != "" {
			res.CommonPrefixes = append(res.CommonPrefixes, cp)
			lastToken = encodeToken("p", cp)
			continue
		}
		obj := s.objects[key]
		res.Objects = append(res.Objects, provider.ObjectSummary{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.modified,
		})
		lastToken = encodeToken("k", key)
	}

	return res, nil
}

// Tokens record the last emitted entry: "k" for an object key, "p" for a
// common prefix whose whole subtree has been folded already.
func encodeToken(kind, v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(kind + ":" + v))
}

func decodeToken(token string) (after, skipPrefix string, err error) {
	if token == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid continuation token: %w", err)
	}
	kind, v, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("invalid continuation token")
	}
	switch kind {
	case "k":
		return v, "", nil
	case "p":
		return "", v, nil
	}
	return "", "", errors.New("invalid continuation token")
}

// Head returns metadata for a single object.
func (s *Store) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.wrap("Head", key, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("Head", key); err != nil {
		return nil, err
	}

	obj, ok := s.objects[key]
	if !ok {
		return nil, s.notFound("Head", key)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.modified,
		},
		ContentType: obj.contentType,
		Metadata:    maps.Clone(obj.metadata),
	}, nil
}

// GetObject opens the whole object.
func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return s.read(ctx, "GetObject", key, 0, -1)
}

// GetRange opens bytes [start, endInclusive] of the object.
func (s *Store) GetRange(ctx context.Context, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	if start < 0 || (endInclusive >= 0 && endInclusive < start) {
		return nil, 0, s.wrap("GetRange", key, "InvalidRange", provider.ErrInvalidRange)
	}
	return s.read(ctx, "GetRange", key, start, endInclusive)
}

func (s *Store) read(ctx context.Context, op, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, s.wrap(op, key, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op, key); err != nil {
		return nil, 0, err
	}

	obj, ok := s.objects[key]
	if !ok {
		return nil, 0, s.notFound(op, key)
	}

	size := int64(len(obj.data))
	if start >= size {
		return io.NopCloser(bytes.NewReader(nil)), 0, nil
	}
	end := size
	if endInclusive >= 0 && endInclusive+1 < size {
		end = endInclusive + 1
	}
	data := bytes.Clone(obj.data[start:end])
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// PutObject stores body under key.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts ...provider.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return s.wrap("PutObject", key, "", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return s.wrap("PutObject", key, "", fmt.Errorf("%w: read body: %w", provider.ErrTransport, err))
	}
	if contentLength >= 0 && int64(len(data)) != contentLength {
		return s.wrap("PutObject", key, "IncompleteBody",
			fmt.Errorf("body length %d does not match content length %d", len(data), contentLength))
	}

	o := provider.ApplyWriteOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("PutObject", key); err != nil {
		return err
	}

	s.objects[key] = &object{
		data:        data,
		contentType: o.ContentType,
		metadata:    maps.Clone(o.Metadata),
		modified:    s.now().UTC(),
		etag:        etagOf(data),
	}
	return nil
}

// CopyObject copies srcKey to dstKey, keeping metadata unless replaced.
func (s *Store) CopyObject(ctx context.Context, srcKey, dstKey string, opts ...provider.WriteOption) error {
	if err := ctx.Err(); err != nil {
		return s.wrap("CopyObject", srcKey, "", err)
	}
	o := provider.ApplyWriteOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("CopyObject", srcKey); err != nil {
		return err
	}

	src, ok := s.objects[srcKey]
	if !ok {
		return s.notFound("CopyObject", srcKey)
	}

	dst := &object{
		data:        bytes.Clone(src.data),
		contentType: src.contentType,
		metadata:    maps.Clone(src.metadata),
		modified:    s.now().UTC(),
		etag:        src.etag,
	}
	if o.Metadata != nil {
		dst.metadata = maps.Clone(o.Metadata)
		if o.ContentType != "" {
			dst.contentType = o.ContentType
		}
	}
	s.objects[dstKey] = dst
	return nil
}

// DeleteObject removes key. Missing keys are not an error.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return s.wrap("DeleteObject", key, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("DeleteObject", key); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

// DeleteObjects removes up to provider.MaxBatchDelete keys. The fault hook
// is consulted per key; keys it fails are reported in a BatchDeleteError and
// left in place.
func (s *Store) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return s.wrap("DeleteObjects", "", "", err)
	}
	if len(keys) > provider.MaxBatchDelete {
		return s.wrap("DeleteObjects", "", "MalformedXML",
			fmt.Errorf("batch of %d keys exceeds limit %d", len(keys), provider.MaxBatchDelete))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["DeleteObjects"]++

	var failed []provider.KeyError
	for _, key := range keys {
		if s.fault != nil {
			if err := s.fault("DeleteObjects", key); err != nil {
				code := provider.ErrorCode(err)
				if code == "" {
					code = codeFor(err)
				}
				if code == "" {
					code = "InternalError"
				}
				failed = append(failed, provider.KeyError{Key: key, Code: code, Message: err.Error()})
				continue
			}
		}
		delete(s.objects, key)
	}

	if len(failed) == 0 {
		return nil
	}
	return &provider.ProviderError{
		Op:       "DeleteObjects",
		Provider: provider.ProviderMemory,
		Bucket:   s.bucket,
		Key:      failed[0].Key,
		Code:     failed[0].Code,
		Err:      &provider.BatchDeleteError{Failed: failed},
	}
}

// CreateMultipartUpload starts a multipart upload for key.
func (s *Store) CreateMultipartUpload(ctx context.Context, key string, opts ...provider.WriteOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", s.wrap("CreateMultipartUpload", key, "", err)
	}
	o := provider.ApplyWriteOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("CreateMultipartUpload", key); err != nil {
		return "", err
	}

	id := uuid.NewString()
	s.uploads[id] = &upload{
		key:         key,
		contentType: o.ContentType,
		metadata:    maps.Clone(o.Metadata),
		parts:       make(map[int32][]byte),
	}
	return id, nil
}

// UploadPart stores one part and returns its ETag.
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", s.wrap("UploadPart", key, "", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", s.wrap("UploadPart", key, "", fmt.Errorf("%w: read body: %w", provider.ErrTransport, err))
	}
	if int64(len(data)) != size {
		return "", s.wrap("UploadPart", key, "IncompleteBody",
			fmt.Errorf("part length %d does not match size %d", len(data), size))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("UploadPart", key); err != nil {
		return "", err
	}

	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		return "", s.wrap("UploadPart", key, "NoSuchUpload", provider.ErrNotFound)
	}
	if partNumber < 1 || partNumber > 10000 {
		return "", s.wrap("UploadPart", key, "InvalidArgument", fmt.Errorf("part number %d out of range", partNumber))
	}
	up.parts[partNumber] = data
	return etagOf(data), nil
}

// CompleteMultipartUpload assembles the listed parts into the object.
func (s *Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []provider.CompletedPart) error {
	if err := ctx.Err(); err != nil {
		return s.wrap("CompleteMultipartUpload", key, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("CompleteMultipartUpload", key); err != nil {
		return err
	}

	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		return s.wrap("CompleteMultipartUpload", key, "NoSuchUpload", provider.ErrNotFound)
	}
	if len(parts) == 0 {
		return s.wrap("CompleteMultipartUpload", key, "MalformedXML", errors.New("no parts"))
	}

	var buf bytes.Buffer
	sums := md5.New()
	prev := int32(0)
	for _, part := range parts {
		if part.PartNumber <= prev {
			return s.wrap("CompleteMultipartUpload", key, "InvalidPartOrder", errors.New("parts must be ascending"))
		}
		prev = part.PartNumber
		data, ok := up.parts[part.PartNumber]
		if !ok || etagOf(data) != part.ETag {
			return s.wrap("CompleteMultipartUpload", key, "InvalidPart", fmt.Errorf("part %d not found", part.PartNumber))
		}
		buf.Write(data)
		sum := md5.Sum(data)
		sums.Write(sum[:])
	}

	s.objects[key] = &object{
		data:        buf.Bytes(),
		contentType: up.contentType,
		metadata:    up.metadata,
		modified:    s.now().UTC(),
		etag:        fmt.Sprintf("%s-%d", hex.EncodeToString(sums.Sum(nil)), len(parts)),
	}
	delete(s.uploads, uploadID)
	return nil
}

// AbortMultipartUpload discards an upload and its parts.
func (s *Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return s.wrap("AbortMultipartUpload", key, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("AbortMultipartUpload", key); err != nil {
		return err
	}

	if _, ok := s.uploads[uploadID]; !ok {
		return s.wrap("AbortMultipartUpload", key, "NoSuchUpload", provider.ErrNotFound)
	}
	delete(s.uploads, uploadID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
