package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every bucketfs collector. Nil until InitTelemetry.
	Registry *prometheus.Registry

	// MetricsHandler serves Registry in the Prometheus exposition format.
	MetricsHandler http.Handler
)

// InitTelemetry creates the registry with the Go runtime and process
// collectors and returns it. Calling it again replaces the registry.
func InitTelemetry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	Registry = reg
	MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return reg
}
