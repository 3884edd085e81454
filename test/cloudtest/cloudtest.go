// Package cloudtest runs bucketfs against a local moto S3 server. Tests
// that use it carry the cloudintegration build tag and skip themselves
// when moto is not reachable.
//
//	func TestRename(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    fsys, err := objfs.New(cloudtest.NewStore(t, ctx, bucket), bucket, objfs.DefaultOptions())
//	    ...
//	}
package cloudtest

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	s3provider "github.com/3leaps/bucketfs/pkg/provider/s3"
)

// moto accepts any static credentials.
const (
	accessKeyID     = "testing"
	secretAccessKey = "testing"
)

// Endpoint and Region default to a moto_server on port 5555 and are
// overridden by MOTO_ENDPOINT and MOTO_REGION.
var (
	Endpoint = envOr("MOTO_ENDPOINT", "http://localhost:5555")
	Region   = envOr("MOTO_REGION", "us-east-1")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var available = sync.OnceValue(func() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
})

// SkipIfUnavailable skips t when moto does not answer.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !available() {
		t.Skipf("moto not reachable at %s (run: moto_server -p 5555)", Endpoint)
	}
}

var client = sync.OnceValues(func() (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(Endpoint)
		o.UsePathStyle = true
	}), nil
})

// Client returns the raw SDK client shared by all tests, for seeding
// buckets behind the provider's back.
func Client(t *testing.T) *s3.Client {
	t.Helper()
	c, err := client()
	require.NoError(t, err, "moto client")
	return c
}

// CreateBucket creates a uniquely named bucket and empties and removes it
// when t finishes.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	name := "bucketfs-" + uuid.NewString()[:18]
	_, err := Client(t).CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	require.NoError(t, err, "create bucket %s", name)
	t.Cleanup(func() { removeBucket(t, name) })
	return name
}

func removeBucket(t *testing.T, bucket string) {
	ctx := context.Background()
	c := Client(t)
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("list %s: %v", bucket, err)
			return
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			ids[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		if _, err := c.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		}); err != nil {
			t.Logf("empty %s: %v", bucket, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("delete bucket %s: %v", bucket, err)
	}
}

// PutObjects writes one small object per key. A key ending in "/" gets an
// empty body, like a directory marker.
func PutObjects(t *testing.T, ctx context.Context, bucket string, keys []string) {
	t.Helper()
	c := Client(t)
	for _, key := range keys {
		body := []byte("content of " + key)
		if len(key) > 0 && key[len(key)-1] == '/' {
			body = nil
		}
		_, err := c.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		require.NoError(t, err, "put %s", key)
	}
}

// ProviderConfig points an s3 provider at moto.
func ProviderConfig(bucket string) s3provider.Config {
	return s3provider.Config{
		Bucket:          bucket,
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		ForcePathStyle:  true,
	}
}

// NewStore returns a provider for bucket that is closed when t finishes.
func NewStore(t *testing.T, ctx context.Context, bucket string) *s3provider.Provider {
	t.Helper()
	p, err := s3provider.New(ctx, ProviderConfig(bucket))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}
