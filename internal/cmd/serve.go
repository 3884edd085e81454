package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/internal/server"
	"github.com/3leaps/bucketfs/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve buckets over HTTP",
	Long: `Serve the filesystem API under /v1/fs/{bucket}/<path> together with
health, version and metrics endpoints.

When a bucket is configured only that bucket is served. Metrics are served
on their own port unless metrics.port equals server.port.

Examples:
  bucketfs serve -b my-bucket
  bucketfs serve --provider memory --port 8080
  BUCKETFS_TRACING_ENABLED=true bucketfs serve -b my-bucket`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := observability.CLILogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingOptions{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return exitError(ExitConfigInvalid, "Failed to initialize tracing", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()
	tp := otel.GetTracerProvider()

	var fss *fileSystems
	if cfg.Metrics.Enabled {
		reg := observability.InitTelemetry()
		fss = newFileSystems(cfg, logger, reg, tp)
	} else {
		fss = newFileSystems(cfg, logger, nil, tp)
	}
	fss.pinned = true
	defer func() { _ = fss.Close() }()

	if cfg.Health.Enabled {
		registerHealthCheckers(cfg.Store.Bucket, fss)
	}

	timeouts := server.Timeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Idle:     cfg.Server.IdleTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithFileSystems(fss),
		server.WithTracerProvider(tp),
		server.WithPprof(cfg.Debug.PprofEnabled),
		server.WithTimeouts(timeouts),
	}

	var servers []*server.Server
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == cfg.Server.Port || cfg.Metrics.Port == 0 {
			opts = append(opts, server.WithMetrics(observability.MetricsHandler, observability.Registry))
		} else {
			opts = append(opts, server.WithMetrics(nil, observability.Registry))
			servers = append(servers, server.New(cfg.Server.Host, cfg.Metrics.Port,
				server.WithLogger(logger.Named("metrics")),
				server.WithMetrics(observability.MetricsHandler, nil),
				server.WithTimeouts(timeouts)))
		}
	}
	servers = append([]*server.Server{server.New(cfg.Server.Host, cfg.Server.Port, opts...)}, servers...)

	logger.Info("starting bucketfs server",
		zap.String("version", versionInfo.Version),
		zap.String("provider", cfg.Store.Provider),
		zap.String("bucket", cfg.Store.Bucket),
		zap.String("addr", servers[0].Addr()))

	return runServers(ctx, stop, servers)
}

// runServers runs every server until ctx ends or one of them fails, which
// stops the rest.
func runServers(ctx context.Context, stop context.CancelFunc, servers []*server.Server) error {
	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *server.Server) {
			err := s.Run(ctx)
			if err != nil {
				err = fmt.Errorf("%s: %w", s.Addr(), err)
			}
			errCh <- err
		}(s)
	}

	var errs []error
	for range servers {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
			stop()
		}
	}
	if err := errors.Join(errs...); err != nil {
		return exitError(ExitFailure, "Server failed", err)
	}
	return nil
}

func registerHealthCheckers(bucket string, fss *fileSystems) {
	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("signals", signalHealthChecker{})
	if observability.Registry != nil {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	id := GetAppIdentity()
	if id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	if bucket != "" {
		hm.RegisterChecker("store", storeHealthChecker{fss: fss, bucket: bucket})
	}
}

// signalHealthChecker reports the process as able to receive signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

// telemetryHealthChecker fails until the metrics registry exists.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(context.Context) error {
	if observability.Registry == nil || observability.MetricsHandler == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity: missing env prefix")
	case c.configName == "":
		return errors.New("app identity: missing config name")
	}
	return nil
}

// storeHealthChecker lists the first page of the bucket root.
type storeHealthChecker struct {
	fss    *fileSystems
	bucket string
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	fsys, err := c.fss.FileSystem(ctx, c.bucket)
	if err != nil {
		return err
	}
	for _, err := range fsys.ListChildren(ctx, fsys.Root()) {
		return err
	}
	return nil
}
