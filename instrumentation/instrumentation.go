package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "workspace-sso"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/workspace-sso/"
)

// Exporter names accepted in Config.
const (
	ExporterNoop       = "noop"
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default: "workspace-sso")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used regardless of the exporters.
	Enabled bool

	// MetricsExporter selects the metrics pipeline: "prometheus" or "noop" (default).
	MetricsExporter string

	// TracesExporter selects the traces pipeline: "stdout" or "noop" (default).
	TracesExporter string

	// PrometheusRegisterer receives the exporter's collector.
	// Default: prometheus.DefaultRegisterer, which promhttp.Handler serves.
	PrometheusRegisterer prometheus.Registerer

	// TraceWriter receives spans from the stdout exporter (default: os.Stdout).
	TraceWriter io.Writer

	// LogClientIPs controls whether client IP addresses are attached to
	// spans. Client IPs can be personal data; leave it off unless needed.
	LogClientIPs bool

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

func (i *Instrumentation) initializeProviders() error {
	switch i.config.MetricsExporter {
	case "", ExporterNoop:
	case ExporterPrometheus:
		registerer := i.config.PrometheusRegisterer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(i.resource),
			sdkmetric.WithReader(exporter),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	switch i.config.TracesExporter {
	case "", ExporterNoop:
	case ExporterStdout:
		writer := i.config.TraceWriter
		if writer == nil {
			writer = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(i.resource),
		)
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	default:
		return fmt.Errorf("unsupported traces exporter %q", i.config.TracesExporter)
	}

	return nil
}

// Shutdown flushes and stops every provider created by New.
// Subsequent calls return nil.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a named meter for the given scope ("http", "server", "storage", "security").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be logged
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// StorageSizeCallbacks groups the size callbacks a store can provide.
// Nil callbacks are skipped.
type StorageSizeCallbacks struct {
	Clients        StorageSizeCallback
	Codes          StorageSizeCallback
	RefreshTokens  StorageSizeCallback
	RotationGroups StorageSizeCallback
	Sessions       StorageSizeCallback
}

// RegisterStorageSizeCallbacks wires a store's size counters into the
// storage gauges. Stores call it from SetInstrumentation.
func (i *Instrumentation) RegisterStorageSizeCallbacks(cb StorageSizeCallbacks) error {
	m := i.metrics
	observe := func(o metric.Observer, g metric.Int64ObservableGauge, fn StorageSizeCallback) {
		if fn != nil {
			o.ObserveInt64(g, fn())
		}
	}

	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			observe(o, m.StorageClients, cb.Clients)
			observe(o, m.StorageCodes, cb.Codes)
			observe(o, m.StorageRefreshTokens, cb.RefreshTokens)
			observe(o, m.StorageRotationGroups, cb.RotationGroups)
			observe(o, m.StorageSessions, cb.Sessions)
			return nil
		},
		m.StorageClients,
		m.StorageCodes,
		m.StorageRefreshTokens,
		m.StorageRotationGroups,
		m.StorageSessions,
	)
	return err
}
