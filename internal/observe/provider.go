package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "voxscribe".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// Registry receives the voxscribe series plus Go runtime and process
	// collectors. When nil a fresh registry is created.
	Registry *prometheus.Registry

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Provider is the installed telemetry pipeline: voxscribe instruments on a
// meter provider read by the Prometheus exporter, and a tracer provider
// carrying the voxscribe.transcribe and telemetry request spans.
type Provider struct {
	// Registry is scraped by [Provider.Handler].
	Registry *prometheus.Registry

	// Metrics records into Registry. Pass it to the application rather than
	// relying on [DefaultMetrics].
	Metrics *Metrics

	shutdown []func(context.Context) error
}

// InitProvider installs the meter and tracer providers globally and builds
// the voxscribe instruments on them. Call [Provider.Shutdown] from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxscribe"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	if err := registerRuntime(cfg.Registry); err != nil {
		return nil, err
	}
	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Provider{
		Registry: cfg.Registry,
		Metrics:  m,
		shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown},
	}, nil
}

// registerRuntime adds the Go and process collectors, tolerating a registry
// that already carries them.
func registerRuntime(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("observe: register collector: %w", err)
			}
		}
	}
	return nil
}

// Handler serves the Prometheus text exposition for p.Registry.
func (p *Provider) Handler() http.Handler {
	return MetricsHandler(p.Registry)
}

// Shutdown flushes and closes the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MetricsHandler serves the Prometheus text exposition for reg. A nil reg
// serves prometheus.DefaultGatherer.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
