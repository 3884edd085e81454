package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/config"
	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider"
	"github.com/3leaps/bucketfs/pkg/provider/instrumented"
	"github.com/3leaps/bucketfs/pkg/provider/memory"
	"github.com/3leaps/bucketfs/pkg/provider/s3"
)

// memoryStores keeps memory buckets alive for the life of the process so
// that successive commands in one process see the same content.
var memoryStores = struct {
	sync.Mutex
	m map[string]*memory.Store
}{m: map[string]*memory.Store{}}

func memoryStore(bucket string) *memory.Store {
	memoryStores.Lock()
	defer memoryStores.Unlock()
	st, ok := memoryStores.m[bucket]
	if !ok {
		st = memory.New(bucket)
		memoryStores.m[bucket] = st
	}
	return st
}

// fileSystems opens and caches one objfs.FileSystem per bucket over the
// configured store. It also exports the metadata cache counters of every
// open filesystem.
type fileSystems struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *instrumented.Metrics
	tp      trace.TracerProvider

	// pinned limits access to the configured bucket.
	pinned bool

	mu  sync.Mutex
	fss map[string]*objfs.FileSystem
}

var (
	cacheHitsDesc = prometheus.NewDesc("bucketfs_cache_hits_total",
		"Metadata cache hits.", []string{"bucket"}, nil)
	cacheMissesDesc = prometheus.NewDesc("bucketfs_cache_misses_total",
		"Metadata cache misses.", []string{"bucket"}, nil)
	cacheEvictionsDesc = prometheus.NewDesc("bucketfs_cache_evictions_total",
		"Metadata cache entries evicted by capacity.", []string{"bucket"}, nil)
	cacheInvalidationsDesc = prometheus.NewDesc("bucketfs_cache_invalidations_total",
		"Metadata cache invalidations.", []string{"bucket"}, nil)
	cacheEntriesDesc = prometheus.NewDesc("bucketfs_cache_entries",
		"Metadata cache entries currently held.", []string{"bucket"}, nil)
)

// newFileSystems returns a factory. A non-nil reg receives the store and
// cache metrics.
func newFileSystems(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, tp trace.TracerProvider) *fileSystems {
	f := &fileSystems{
		cfg:    cfg,
		logger: logger,
		tp:     tp,
		fss:    map[string]*objfs.FileSystem{},
	}
	if reg != nil {
		f.metrics = instrumented.NewMetrics(reg)
		if err := reg.Register(f); err != nil {
			logger.Warn("cache metrics not registered", zap.Error(err))
		}
	}
	return f
}

// FileSystem returns the filesystem of bucket, opening it on first use.
func (f *fileSystems) FileSystem(ctx context.Context, bucket string) (*objfs.FileSystem, error) {
	name, err := objfs.NormalizeBucket(bucket)
	if err != nil {
		return nil, err
	}
	if f.pinned && f.cfg.Store.Bucket != "" && !strings.EqualFold(f.cfg.Store.Bucket, name) {
		return nil, &objfs.NotFoundError{Path: mustRoot(name)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if fsys, ok := f.fss[name]; ok {
		return fsys, nil
	}

	store, err := f.openStore(ctx, name)
	if err != nil {
		return nil, err
	}
	opts := f.cfg.FSOptions()
	opts.Logger = f.logger
	opts.TracerProvider = f.tp
	fsys, err := objfs.New(store, name, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	f.fss[name] = fsys
	return fsys, nil
}

func (f *fileSystems) openStore(ctx context.Context, bucket string) (provider.Store, error) {
	var base provider.Store
	switch f.cfg.Store.Provider {
	case config.ProviderMemory:
		base = memoryStore(bucket)
	case config.ProviderS3:
		p, err := s3.New(ctx, f.cfg.Store.S3Config(bucket))
		if err != nil {
			return nil, exitError(ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
		}
		base = p
	default:
		return nil, fmt.Errorf("unsupported provider %q", f.cfg.Store.Provider)
	}

	opts := []instrumented.Option{
		instrumented.WithRateLimit(f.cfg.RateLimit.RPS, f.cfg.RateLimit.Burst),
		instrumented.WithLogger(f.logger.Named("store")),
		instrumented.WithTracerProvider(f.tp),
	}
	if f.metrics != nil {
		opts = append(opts, instrumented.WithObserver(f.metrics))
	}
	return instrumented.Wrap(base, opts...), nil
}

// Close closes every open filesystem.
func (f *fileSystems) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for name, fsys := range f.fss {
		if err := fsys.Close(); err != nil && first == nil {
			first = err
		}
		delete(f.fss, name)
	}
	return first
}

// Describe implements prometheus.Collector.
func (f *fileSystems) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheEvictionsDesc
	ch <- cacheInvalidationsDesc
	ch <- cacheEntriesDesc
}

// Collect implements prometheus.Collector.
func (f *fileSystems) Collect(ch chan<- prometheus.Metric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, fsys := range f.fss {
		c := fsys.Cache()
		st := c.Stats()
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(st.Hits), name)
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(st.Misses), name)
		ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(st.Evictions), name)
		ch <- prometheus.MustNewConstMetric(cacheInvalidationsDesc, prometheus.CounterValue, float64(st.Invalidations), name)
		ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(c.Len()), name)
	}
}

func mustRoot(bucket string) objfs.Path {
	p, _ := objfs.Root(bucket)
	return p
}

// cliFileSystems returns the factory used by one-shot commands.
func cliFileSystems() *fileSystems {
	return newFileSystems(appConfig, observability.CLILogger, nil, nil)
}

// openTarget resolves arg against the default bucket and opens the
// filesystem holding it.
func openTarget(ctx context.Context, fss *fileSystems, arg string) (*objfs.FileSystem, objfs.Path, error) {
	p, err := resolvePath(arg, fss.cfg.Store.Bucket)
	if err != nil {
		return nil, objfs.Path{}, exitError(ExitInvalidArgument, "Invalid path", err)
	}
	fsys, err := fss.FileSystem(ctx, p.Bucket())
	if err != nil {
		return nil, objfs.Path{}, fsError("Failed to open bucket", err)
	}
	return fsys, p, nil
}
