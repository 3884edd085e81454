package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrTransport indicates the request failed below the storage API
	// (connection reset, DNS, TLS, timeouts inside the client).
	ErrTransport = errors.New("transport failure")

	// ErrInvalidRange indicates a byte range outside the object.
	ErrInvalidRange = errors.New("invalid range")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "List", "Head").
	Op string

	// Provider is the provider type (e.g., "s3").
	Provider ProviderType

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Code is the store-native error code (e.g., "NoSuchKey"), if known.
	Code string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KeyError is a single failed key of a batch operation.
type KeyError struct {
	Key     string
	Code    string
	Message string
}

// BatchDeleteError reports the keys a DeleteObjects call could not remove.
type BatchDeleteError struct {
	Failed []KeyError
}

// Error implements the error interface.
func (e *BatchDeleteError) Error() string {
	if len(e.Failed) == 0 {
		return "batch delete failed"
	}
	first := e.Failed[0]
	msg := fmt.Sprintf("batch delete: %d key(s) failed; first %q: %s", len(e.Failed), first.Key, first.Code)
	if first.Message != "" {
		msg += " " + first.Message
	}
	return msg
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsTransport returns true if the error happened below the storage API.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsCancelled returns true if the error stems from context cancellation or
// an expired deadline.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether repeating the same call may succeed.
//
// Throttling, service unavailability and transport failures are transient.
// Not-found, access-denied, credential and cancellation errors are not.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	var batch *BatchDeleteError
	if errors.As(err, &batch) {
		for _, f := range batch.Failed {
			if !retryableCode(f.Code) {
				return false
			}
		}
		return len(batch.Failed) > 0
	}
	return IsThrottled(err) || IsProviderUnavailable(err) || IsTransport(err)
}

func retryableCode(code string) bool {
	switch code {
	case "SlowDown", "Throttling", "RequestLimitExceeded", "ServiceUnavailable", "InternalError":
		return true
	}
	return false
}

// ErrorCode returns the store-native error code carried by err, or the
// empty string when none is known.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	var batch *BatchDeleteError
	if errors.As(err, &batch) && len(batch.Failed) > 0 {
		return batch.Failed[0].Code
	}
	return ""
}

// ClassifyMessage maps a free-form error message onto a sentinel, or nil.
//
// Used as the fallback when an SDK error carries no typed code.
func ClassifyMessage(msg string) error {
	switch {
	case strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404"):
		return ErrNotFound
	case strings.Contains(msg, "NoSuchBucket"):
		return ErrBucketNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "Forbidden") || strings.Contains(msg, "403"):
		return ErrAccessDenied
	case strings.Contains(msg, "InvalidAccessKeyId") || strings.Contains(msg, "SignatureDoesNotMatch"):
		return ErrInvalidCredentials
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "Throttling") || strings.Contains(msg, "429"):
		return ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		return ErrProviderUnavailable
	case strings.Contains(msg, "InvalidRange") || strings.Contains(msg, "416"):
		return ErrInvalidRange
	}
	return nil
}
