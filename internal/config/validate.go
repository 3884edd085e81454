package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Message)
}

// Validate checks values that cannot be fixed by defaulting.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case ProviderS3, ProviderMemory:
	default:
		return &ValidationError{Key: "store.provider", Message: fmt.Sprintf("unsupported provider %q (want s3 or memory)", c.Store.Provider)}
	}
	if c.Store.MaxKeys < 0 {
		return &ValidationError{Key: "store.max_keys", Message: "must not be negative"}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ValidationError{Key: "server.port", Message: fmt.Sprintf("%d out of range", c.Server.Port)}
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return &ValidationError{Key: "metrics.port", Message: fmt.Sprintf("%d out of range", c.Metrics.Port)}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Key: "logging.level", Message: err.Error()}
	}
	switch strings.ToLower(c.Logging.Profile) {
	case "structured", "console":
	default:
		return &ValidationError{Key: "logging.profile", Message: fmt.Sprintf("unknown profile %q", c.Logging.Profile)}
	}
	if c.Cache.Capacity < 0 {
		return &ValidationError{Key: "cache.capacity", Message: "must not be negative"}
	}
	if c.Stream.PartSize != 0 && c.Stream.PartSize < 5<<20 {
		return &ValidationError{Key: "stream.part_size", Message: "must be at least 5MiB"}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return &ValidationError{Key: "tracing.sample_ratio", Message: "must be within [0, 1]"}
	}
	return nil
}
