package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// API is the subset of *s3.Client used by Provider.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
}

// Server-side copy limits. A single CopyObject request accepts sources up
// to MaxSingleCopySize; larger objects are copied part by part.
const (
	MaxSingleCopySize = 5 << 30
	copyPartSize      = 512 << 20
	maxCopyParts      = 10000
)

var _ API = (*s3.Client)(nil)

// Provider implements provider.Store for AWS S3 and S3-compatible storage.
type Provider struct {
	client  API
	bucket  string
	maxKeys int
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Store    = (*Provider)(nil)
)

// New creates a new S3 provider with the given configuration.
//
// The provider uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Bucket:   cfg.Bucket,
			Err:      err,
		}
	}

	// Build S3 client options
	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg)
}

// NewWithClient wraps an already configured client.
//
// Only Bucket and MaxKeys are read from cfg; connection settings belong to
// the client.
func NewWithClient(client API, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, &ConfigError{Field: "Client", Message: "client is required"}
	}
	if cfg.Bucket == "" {
		return nil, &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Provider{
		client:  client,
		bucket:  cfg.Bucket,
		maxKeys: maxKeys,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// Bucket returns the bucket this provider is bound to.
func (p *Provider) Bucket() string {
	return p.bucket
}

// List returns a page of objects with the given prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	res, err := p.listV2(ctx, "List", opts.Prefix, "", opts.ContinuationToken, opts.MaxKeys)
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
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	return p.listV2(ctx, "ListWithDelimiter", opts.Prefix, opts.Delimiter, opts.ContinuationToken, opts.MaxKeys)
}

func (p *Provider) listV2(ctx context.Context, op, prefix, delimiter, token string, maxKeys int) (*provider.ListWithDelimiterResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(maxKeys, p.maxKeys))),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	output, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, p.wrapError(op, prefix, err)
	}

	objects := make([]provider.ObjectSummary, 0, len(output.Contents))
	for _, obj := range output.Contents {
		objects = append(objects, provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	prefixes := make([]string, 0, len(output.CommonPrefixes))
	for _, cp := range output.CommonPrefixes {
		if v := aws.ToString(cp.Prefix); v != "" {
			prefixes = append(prefixes, v)
		}
	}

	result := &provider.ListWithDelimiterResult{
		Objects:        objects,
		CommonPrefixes: prefixes,
		IsTruncated:    aws.ToBool(output.IsTruncated),
	}
	if output.NextContinuationToken != nil {
		result.ContinuationToken = *output.NextContinuationToken
	}
	return result, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}

	output, err := p.client.HeadObject(ctx, input)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}

	meta := &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
		},
		ContentType: aws.ToString(output.ContentType),
		Metadata:    output.Metadata,
	}

	return meta, nil
}

// GetObject opens a streaming download of the whole object.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// GetRange opens a streaming download of bytes [start, endInclusive].
func (p *Provider) GetRange(ctx context.Context, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	if start < 0 {
		return nil, 0, p.wrapError("GetRange", key, fmt.Errorf("%w: start must be >= 0", provider.ErrInvalidRange))
	}
	if endInclusive >= 0 && endInclusive < start {
		return nil, 0, p.wrapError("GetRange", key, fmt.Errorf("%w: end must be >= start", provider.ErrInvalidRange))
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Range:  aws.String(formatRange(start, endInclusive)),
	})
	if err != nil {
		wrapped := p.wrapError("GetRange", key, err)
		// S3 answers 416 when start is at or past the end of the object.
		if errors.Is(wrapped, provider.ErrInvalidRange) {
			return io.NopCloser(bytes.NewReader(nil)), 0, nil
		}
		return nil, 0, wrapped
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// PutObject uploads an object in a single request.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts ...provider.WriteOption) error {
	o := provider.ApplyWriteOptions(opts...)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
		Metadata:      o.Metadata,
	}
	if o.ContentType != "" {
		input.ContentType = aws.String(o.ContentType)
	}

	_, err := p.client.PutObject(ctx, input)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// PutObjectEmpty uploads a 0-byte object.
func (p *Provider) PutObjectEmpty(ctx context.Context, key string) error {
	return p.PutObject(ctx, key, bytes.NewReader(nil), 0)
}

// CopyObject performs a server-side copy inside the bucket.
//
// Metadata is carried over unless WithMetadata supplies a replacement. When
// the single-request copy fails and the source is larger than
// MaxSingleCopySize, the copy is retried as a multipart copy.
func (p *Provider) CopyObject(ctx context.Context, srcKey, dstKey string, opts ...provider.WriteOption) error {
	o := provider.ApplyWriteOptions(opts...)
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(p.bucket, srcKey)),
	}
	if o.Metadata != nil {
		input.Metadata = o.Metadata
		input.MetadataDirective = types.MetadataDirectiveReplace
		if o.ContentType != "" {
			input.ContentType = aws.String(o.ContentType)
		}
	}

	_, err := p.client.CopyObject(ctx, input)
	if err == nil {
		return nil
	}
	copyErr := p.wrapError("CopyObject", srcKey, err)
	if provider.IsNotFound(copyErr) || provider.IsAccessDenied(copyErr) || ctx.Err() != nil {
		return copyErr
	}
	src, herr := p.Head(ctx, srcKey)
	if herr != nil || src.Size <= MaxSingleCopySize {
		return copyErr
	}
	return p.copyMultipart(ctx, src, dstKey, o)
}

// copyMultipart copies src to dstKey with UploadPartCopy ranges. The upload
// is aborted when any step fails.
func (p *Provider) copyMultipart(ctx context.Context, src *provider.ObjectMeta, dstKey string, o provider.WriteOptions) error {
	if o.Metadata == nil {
		o.Metadata = src.Metadata
		o.ContentType = src.ContentType
	}
	var mpOpts []provider.WriteOption
	if o.Metadata != nil {
		mpOpts = append(mpOpts, provider.WithMetadata(o.Metadata))
	}
	if o.ContentType != "" {
		mpOpts = append(mpOpts, provider.WithContentType(o.ContentType))
	}
	uploadID, err := p.CreateMultipartUpload(ctx, dstKey, mpOpts...)
	if err != nil {
		return err
	}

	partSize := int64(copyPartSize)
	if n := (src.Size + partSize - 1) / partSize; n > maxCopyParts {
		partSize = (src.Size + maxCopyParts - 1) / maxCopyParts
	}

	var parts []provider.CompletedPart
	for off, num := int64(0), int32(1); off < src.Size; off, num = off+partSize, num+1 {
		end := min(off+partSize, src.Size) - 1
		out, err := p.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(p.bucket),
			Key:             aws.String(dstKey),
			UploadId:        aws.String(uploadID),
			PartNumber:      aws.Int32(num),
			CopySource:      aws.String(copySource(p.bucket, src.Key)),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
		})
		if err != nil {
			_ = p.AbortMultipartUpload(context.WithoutCancel(ctx), dstKey, uploadID)
			return p.wrapError("UploadPartCopy", src.Key, err)
		}
		var etag string
		if out.CopyPartResult != nil {
			etag = aws.ToString(out.CopyPartResult.ETag)
		}
		parts = append(parts, provider.CompletedPart{PartNumber: num, ETag: etag})
	}

	if err := p.CompleteMultipartUpload(ctx, dstKey, uploadID, parts); err != nil {
		_ = p.AbortMultipartUpload(context.WithoutCancel(ctx), dstKey, uploadID)
		return err
	}
	return nil
}

// DeleteObject deletes an object.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// DeleteObjects deletes up to provider.MaxBatchDelete keys in one request.
func (p *Provider) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > provider.MaxBatchDelete {
		return p.wrapError("DeleteObjects", "", fmt.Errorf("batch of %d keys exceeds limit %d", len(keys), provider.MaxBatchDelete))
	}

	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}

	out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return p.wrapError("DeleteObjects", "", err)
	}
	if len(out.Errors) == 0 {
		return nil
	}

	failed := make([]provider.KeyError, 0, len(out.Errors))
	for _, e := range out.Errors {
		failed = append(failed, provider.KeyError{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return &provider.ProviderError{
		Op:       "DeleteObjects",
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      failed[0].Key,
		Code:     failed[0].Code,
		Err:      &provider.BatchDeleteError{Failed: failed},
	}
}

// CreateMultipartUpload starts a multipart upload.
func (p *Provider) CreateMultipartUpload(ctx context.Context, key string, opts ...provider.WriteOption) (string, error) {
	o := provider.ApplyWriteOptions(opts...)
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Metadata: o.Metadata,
	}
	if o.ContentType != "" {
		input.ContentType = aws.String(o.ContentType)
	}

	out, err := p.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", p.wrapError("CreateMultipartUpload", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart uploads one part of a multipart upload and returns its ETag.
func (p *Provider) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	out, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", p.wrapError("UploadPart", key, err)
	}
	return aws.ToString(out.ETag), nil
}

// CompleteMultipartUpload commits the uploaded parts as the object content.
func (p *Provider) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []provider.CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		})
	}

	_, err := p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}
	return nil
}

// AbortMultipartUpload aborts a multipart upload.
func (p *Provider) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := p.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{Bucket: aws.String(p.bucket), Key: aws.String(key), UploadId: aws.String(uploadID)})
	if err != nil {
		return p.wrapError("AbortMultipartUpload", key, err)
	}
	return nil
}

// Close releases any resources held by the provider.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts S3 errors to provider errors with appropriate sentinel errors.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      err,
	}

	if provider.IsCancelled(err) || errors.Is(err, provider.ErrInvalidRange) {
		return wrapped
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Code = "NoSuchKey"
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Code = "NoSuchBucket"
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		wrapped.Code = code
		switch code {
		case "NoSuchKey", "NotFound":
			wrapped.Err = provider.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = provider.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = provider.ErrProviderUnavailable
		case "InvalidRange":
			wrapped.Err = provider.ErrInvalidRange
		}
		return wrapped
	}

	// Fallback: check error message for common cases. Anything left over
	// never reached the storage API and is treated as a transport failure.
	if sentinel := provider.ClassifyMessage(err.Error()); sentinel != nil {
		wrapped.Err = sentinel
		return wrapped
	}
	wrapped.Err = fmt.Errorf("%w: %w", provider.ErrTransport, err)
	return wrapped
}

// cleanETag removes surrounding quotes from an ETag value.
// S3 returns ETags with quotes, e.g., "d41d8cd98f00b204e9800998ecf8427e".
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies defaults and limits to maxKeys values.
// If requested is <= 0, uses providerDefault. Result is clamped to MaxAllowedKeys.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// formatRange renders an HTTP Range header value.
func formatRange(start, endInclusive int64) string {
	if endInclusive < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, endInclusive)
}

// copySource builds the URL-encoded "bucket/key" CopySource value,
// escaping each key segment but keeping the separators.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

// resolveRegion determines the final region to use after SDK config loading.
//
// The sdkRegion parameter is the region after SDK loading, which already
// incorporates explicit cfgRegion (if set) or env/profile resolution.
//
// This function only applies the fallback default:
//   - If sdkRegion is still empty AND no custom endpoint, default to us-east-1
//   - For S3-compatible stores (endpoint set), no defaulting occurs
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}

	if endpoint == "" {
		return DefaultAWSRegion
	}

	return ""
}
