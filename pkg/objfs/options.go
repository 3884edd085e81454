package objfs

import (
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stream defaults.
const (
	DefaultSpillThreshold     int64 = 16 << 20
	DefaultMultipartThreshold int64 = 64 << 20
	DefaultPartSize           int64 = 16 << 20
	DefaultMaxSeekDiscard     int64 = 64 << 10

	// MinPartSize is the smallest part the store accepts except for the last.
	MinPartSize int64 = 5 << 20

	// MaxParts is the largest number of parts in one multipart upload.
	MaxParts = 10000
)

// Options configures a FileSystem. The zero value of each field selects its
// default.
type Options struct {
	CacheCapacity int
	CacheTTL      time.Duration

	// ListPageSize is the MaxKeys of child listings. Zero uses the store's
	// page size.
	ListPageSize int

	// SpillThreshold is the write-session size kept in memory before
	// spilling to SpillFs.
	SpillThreshold int64

	// MultipartThreshold is the committed size from which uploads use the
	// multipart protocol.
	MultipartThreshold int64

	// PartSize is the multipart part size; it grows when needed to stay
	// within MaxParts.
	PartSize int64

	// MaxSeekDiscard is the largest forward seek served by discarding bytes
	// of an open read stream instead of reopening it.
	MaxSeekDiscard int64

	Retry RetryPolicy

	// OperationTimeout bounds each individual store call. Zero disables it.
	OperationTimeout time.Duration

	// SpillFs holds spilled write sessions. Defaults to the OS filesystem.
	SpillFs afero.Fs

	// SpillDir is the directory for spill files; "" is the system temp dir.
	SpillDir string

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider

	// Clock supplies "now" for cache expiry.
	Clock func() time.Time
}

// DefaultOptions returns Options with every default filled in.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.SpillThreshold <= 0 {
		o.SpillThreshold = DefaultSpillThreshold
	}
	if o.MultipartThreshold <= 0 {
		o.MultipartThreshold = DefaultMultipartThreshold
	}
	if o.PartSize <= 0 {
		o.PartSize = DefaultPartSize
	}
	if o.MaxSeekDiscard <= 0 {
		o.MaxSeekDiscard = DefaultMaxSeekDiscard
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.SpillFs == nil {
		o.SpillFs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
