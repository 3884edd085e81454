// Package config loads bucketfs configuration.
//
// Values are layered, lowest first: built-in defaults, user config files,
// the project config file, an explicit config file, BUCKETFS_* environment
// variables, and finally runtime overrides passed to Load.
package config

import (
	"time"

	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider/s3"
)

// Config is the complete bucketfs configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// Store providers.
const (
	ProviderS3     = "s3"
	ProviderMemory = "memory"
)

// StoreConfig selects and configures the object store.
type StoreConfig struct {
	// Provider is "s3" or "memory".
	Provider string `mapstructure:"provider"`

	// Bucket is the default bucket when a command is given a bare path.
	Bucket string `mapstructure:"bucket"`

	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`

	// MaxKeys is the listing page size.
	MaxKeys int `mapstructure:"max_keys"`
}

// S3Config returns the provider config for bucket.
func (s StoreConfig) S3Config(bucket string) s3.Config {
	return s3.Config{
		Bucket:         bucket,
		Region:         s.Region,
		Endpoint:       s.Endpoint,
		Profile:        s.Profile,
		ForcePathStyle: s.ForcePathStyle || s.Endpoint != "",
		MaxKeys:        s.MaxKeys,
	}
}

type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StreamConfig sizes write sessions and read streams. Sizes accept human
// units such as "16MiB".
type StreamConfig struct {
	SpillThreshold     ByteSize `mapstructure:"spill_threshold"`
	MultipartThreshold ByteSize `mapstructure:"multipart_threshold"`
	PartSize           ByteSize `mapstructure:"part_size"`
	MaxSeekDiscard     ByteSize `mapstructure:"max_seek_discard"`
	SpillDir           string   `mapstructure:"spill_dir"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type TimeoutsConfig struct {
	// Operation bounds each individual store call. Zero disables it.
	Operation time.Duration `mapstructure:"operation"`
}

// RateLimitConfig throttles store requests. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus endpoint. When Port is zero or
// equal to the server port, /metrics is served by the main router.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig configures the OTLP/HTTP span exporter.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// FSOptions returns the filesystem options described by c. Logger, tracer
// and spill filesystem are left for the caller.
func (c *Config) FSOptions() objfs.Options {
	return objfs.Options{
		CacheCapacity:      c.Cache.Capacity,
		CacheTTL:           c.Cache.TTL,
		ListPageSize:       c.Store.MaxKeys,
		SpillThreshold:     int64(c.Stream.SpillThreshold),
		MultipartThreshold: int64(c.Stream.MultipartThreshold),
		PartSize:           int64(c.Stream.PartSize),
		MaxSeekDiscard:     int64(c.Stream.MaxSeekDiscard),
		SpillDir:           c.Stream.SpillDir,
		OperationTimeout:   c.Timeouts.Operation,
		Retry: objfs.RetryPolicy{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
		},
	}
}
