// Package s3 implements the object store contract on AWS S3 and
// S3-compatible endpoints.
package s3

import (
	"net/url"
)

// Page size limits for ListObjectsV2.
const (
	DefaultMaxKeys = 1000
	MaxAllowedKeys = 1000
)

// DefaultAWSRegion applies when neither the config nor the SDK chain
// yields a region and no custom endpoint is set.
const DefaultAWSRegion = "us-east-1"

// Config binds a Provider to one bucket.
//
// Credentials come from the SDK default chain (environment, shared files,
// instance roles) unless AccessKeyID and SecretAccessKey are both set.
// Profile selects a shared-config profile.
type Config struct {
	Bucket string

	// Region is left empty for S3-compatible endpoints unless the
	// endpoint requires one.
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000".
	Endpoint string

	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path. MinIO and moto need it.
	ForcePathStyle bool

	// MaxKeys is the page size for listings; 0 means DefaultMaxKeys and
	// larger values are clamped to MaxAllowedKeys.
	MaxKeys int
}

// Validate reports the first unusable field.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: "endpoint must be an http or https URL"}
		}
	}
	if c.MaxKeys < 0 {
		return &ConfigError{Field: "MaxKeys", Message: "page size must not be negative"}
	}
	return nil
}

// ConfigError names the invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
