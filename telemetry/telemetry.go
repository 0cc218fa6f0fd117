package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/checkerls/checkerls/server/release"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsPath is where the scrape endpoint is mounted.
const MetricsPath = "/metrics"

// Metrics owns the meter provider and, when an address was given, the
// HTTP server exposing it.
type Metrics struct {
	provider *metric.MeterProvider
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	logger   *log.Logger
}

// Setup installs a prometheus-backed meter provider as the global one.
// An empty addr keeps the provider without serving it, so instruments
// created through otel.Meter stay live.
func Setup(addr string, logger *log.Logger) (*Metrics, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[telemetry] ", 0)
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", release.Name),
		attribute.String("service.version", release.Version()),
	)

	m := &Metrics{
		provider: metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		),
		registry: registry,
		logger:   logger,
	}
	otel.SetMeterProvider(m.provider)

	if len(addr) == 0 {
		return m, nil
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		m.provider.Shutdown(context.Background())
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, m.Handler())
	m.listener = listener
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Printf("metrics server stopped: %v", err)
		}
	}()

	logger.Printf("serving metrics on http://%s%s", listener.Addr(), MetricsPath)
	return m, nil
}

// Handler returns the scrape handler of this provider's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Addr is the address the metrics server listens on, or "" if not serving.
func (m *Metrics) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
