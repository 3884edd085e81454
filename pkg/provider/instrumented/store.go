// Package instrumented decorates a provider.Store with metrics, tracing,
// debug logging and client-side rate limiting.
package instrumented

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/bucketfs/pkg/provider"
)

const tracerName = "github.com/3leaps/bucketfs/pkg/provider/instrumented"

// Observer receives one call per store round trip.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

// Store wraps another provider.Store.
type Store struct {
	next     provider.Store
	observer Observer
	limiter  *rate.Limiter
	logger   *zap.Logger
	tracer   trace.Tracer
}

var _ provider.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithObserver records every call on o.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithRateLimit caps store calls to rps per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Store) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// Wrap decorates next.
func Wrap(next provider.Store, opts ...Option) *Store {
	s := &Store{
		next:   next,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() provider.Store { return s.next }

type call struct {
	s     *Store
	op    string
	key   string
	start time.Time
	span  trace.Span
}

func (s *Store) begin(ctx context.Context, op, key string) (context.Context, *call, error) {
	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("bucketfs.key", key)),
	)
	c := &call{s: s, op: op, key: key, span: span}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			c.start = time.Now()
			c.end(err, 0)
			return ctx, nil, err
		}
	}
	c.start = time.Now()
	return ctx, c, nil
}

func (c *call) end(err error, n int64) {
	dur := time.Since(c.start)
	if c.s.observer != nil {
		c.s.observer.Observe(c.op, n, err, dur)
	}
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	if n > 0 {
		c.span.SetAttributes(attribute.Int64("bucketfs.bytes", n))
	}
	c.span.End()

	if ce := c.s.logger.Check(zap.DebugLevel, "store call"); ce != nil {
		fields := []zap.Field{
			zap.String("op", c.op),
			zap.String("key", c.key),
			zap.Duration("duration", dur),
		}
		if n > 0 {
			fields = append(fields, zap.Int64("bytes", n))
		}
		if err != nil {
			fields = append(fields, zap.Error(err), zap.String("code", provider.ErrorCode(err)))
		}
		ce.Write(fields...)
	}
}

// List implements provider.Provider.
func (s *Store) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	ctx, c, err := s.begin(ctx, "List", opts.Prefix)
	if err != nil {
		return nil, err
	}
	res, err := s.next.List(ctx, opts)
	c.end(err, 0)
	return res, err
}

// ListWithDelimiter implements provider.DelimiterLister.
func (s *Store) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	ctx, c, err := s.begin(ctx, "ListWithDelimiter", opts.Prefix)
	if err != nil {
		return nil, err
	}
	res, err := s.next.ListWithDelimiter(ctx, opts)
	c.end(err, 0)
	return res, err
}

// Head implements provider.Provider.
func (s *Store) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	ctx, c, err := s.begin(ctx, "Head", key)
	if err != nil {
		return nil, err
	}
	meta, err := s.next.Head(ctx, key)
	c.end(err, 0)
	return meta, err
}

// GetObject implements provider.ObjectGetter. Bytes are counted as the body
// is consumed.
func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	ctx, c, err := s.begin(ctx, "GetObject", key)
	if err != nil {
		return nil, 0, err
	}
	body, n, err := s.next.GetObject(ctx, key)
	if err != nil {
		c.end(err, 0)
		return nil, 0, err
	}
	return &countingBody{ReadCloser: body, call: c}, n, nil
}

// GetRange implements provider.ObjectRanger.
func (s *Store) GetRange(ctx context.Context, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	ctx, c, err := s.begin(ctx, "GetRange", key)
	if err != nil {
		return nil, 0, err
	}
	c.span.SetAttributes(attribute.Int64("bucketfs.range.start", start), attribute.Int64("bucketfs.range.end", endInclusive))
	body, n, err := s.next.GetRange(ctx, key, start, endInclusive)
	if err != nil {
		c.end(err, 0)
		return nil, 0, err
	}
	return &countingBody{ReadCloser: body, call: c}, n, nil
}

// PutObject implements provider.ObjectPutter.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts ...provider.WriteOption) error {
	ctx, c, err := s.begin(ctx, "PutObject", key)
	if err != nil {
		return err
	}
	err = s.next.PutObject(ctx, key, body, contentLength, opts...)
	c.end(err, contentLength)
	return err
}

// CopyObject implements provider.ObjectCopier.
func (s *Store) CopyObject(ctx context.Context, srcKey, dstKey string, opts ...provider.WriteOption) error {
	ctx, c, err := s.begin(ctx, "CopyObject", srcKey)
	if err != nil {
		return err
	}
	c.span.SetAttributes(attribute.String("bucketfs.dst_key", dstKey))
	err = s.next.CopyObject(ctx, srcKey, dstKey, opts...)
	c.end(err, 0)
	return err
}

// DeleteObject implements provider.ObjectDeleter.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	ctx, c, err := s.begin(ctx, "DeleteObject", key)
	if err != nil {
		return err
	}
	err = s.next.DeleteObject(ctx, key)
	c.end(err, 0)
	return err
}

// DeleteObjects implements provider.BatchDeleter.
func (s *Store) DeleteObjects(ctx context.Context, keys []string) error {
	first := ""
	if len(keys) > 0 {
		first = keys[0]
	}
	ctx, c, err := s.begin(ctx, "DeleteObjects", first)
	if err != nil {
		return err
	}
	c.span.SetAttributes(attribute.Int("bucketfs.batch_size", len(keys)))
	err = s.next.DeleteObjects(ctx, keys)
	c.end(err, 0)
	return err
}

// CreateMultipartUpload implements provider.MultipartUploader.
func (s *Store) CreateMultipartUpload(ctx context.Context, key string, opts ...provider.WriteOption) (string, error) {
	ctx, c, err := s.begin(ctx, "CreateMultipartUpload", key)
	if err != nil {
		return "", err
	}
	id, err := s.next.CreateMultipartUpload(ctx, key, opts...)
	c.end(err, 0)
	return id, err
}

// UploadPart implements provider.MultipartUploader.
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	ctx, c, err := s.begin(ctx, "UploadPart", key)
	if err != nil {
		return "", err
	}
	c.span.SetAttributes(attribute.Int("bucketfs.part", int(partNumber)))
	etag, err := s.next.UploadPart(ctx, key, uploadID, partNumber, body, size)
	c.end(err, size)
	return etag, err
}

// CompleteMultipartUpload implements provider.MultipartUploader.
func (s *Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []provider.CompletedPart) error {
	ctx, c, err := s.begin(ctx, "CompleteMultipartUpload", key)
	if err != nil {
		return err
	}
	err = s.next.CompleteMultipartUpload(ctx, key, uploadID, parts)
	c.end(err, 0)
	return err
}

// AbortMultipartUpload implements provider.MultipartUploader.
func (s *Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	ctx, c, err := s.begin(ctx, "AbortMultipartUpload", key)
	if err != nil {
		return err
	}
	err = s.next.AbortMultipartUpload(ctx, key, uploadID)
	c.end(err, 0)
	return err
}

// Close closes the decorated store.
func (s *Store) Close() error {
	return s.next.Close()
}

// countingBody finishes the call when the body is closed.
type countingBody struct {
	io.ReadCloser
	call *call
	n    int64
	err  error
	done bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.done {
		b.done = true
		b.call.end(b.err, b.n)
	}
	return err
}
