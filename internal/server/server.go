// Package server is the HTTP surface of bucketfs: the filesystem API under
// /v1/fs plus health, version and metrics endpoints.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/internal/server/handlers"
	"github.com/3leaps/bucketfs/internal/server/middleware"
)

// Server owns the router and the listening http.Server.
type Server struct {
	host   string
	port   int
	router chi.Router
	opts   options

	httpServer *http.Server
}

type options struct {
	logger         *zap.Logger
	fileSystems    handlers.FileSystems
	metrics        http.Handler
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	pprof          bool
	timeouts       Timeouts
}

// Timeouts of the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFileSystems mounts the filesystem API backed by fss.
func WithFileSystems(fss handlers.FileSystems) Option {
	return func(o *options) { o.fileSystems = fss }
}

// WithMetrics serves h at /metrics and records request metrics on reg.
func WithMetrics(h http.Handler, reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = h
		o.registerer = reg
	}
}

// WithTracerProvider traces requests with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithPprof mounts the runtime profiler under /debug.
func WithPprof(enabled bool) Option {
	return func(o *options) { o.pprof = enabled }
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *options) { o.timeouts = t }
}

// New builds a server for host:port.
func New(host string, port int, opts ...Option) *Server {
	o := options{
		logger: zap.NewNop(),
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Write:    30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{host: host, port: port, opts: o}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.opts.logger))
	r.Use(middleware.Tracing(s.opts.tracerProvider))
	if s.opts.registerer != nil {
		r.Use(middleware.NewHTTPMetrics(s.opts.registerer).Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "route not found: "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.New(http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.opts.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.metrics)
	}
	if s.opts.pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	if s.opts.fileSystems != nil {
		handlers.NewFSHandler(s.opts.fileSystems, s.opts.logger).Register(r)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.opts.timeouts.Read,
		ReadHeaderTimeout: s.opts.timeouts.Read,
		WriteTimeout:      s.opts.timeouts.Write,
		IdleTimeout:       s.opts.timeouts.Idle,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.opts.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.timeouts.Shutdown)
	defer cancel()
	s.opts.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
