package instrumentation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() returned nil")
	}
	if inst.ShouldLogClientIPs() {
		t.Error("client IP logging should be off by default")
	}

	// No-op instruments must accept recordings.
	inst.Metrics().RecordCodeIssued(context.Background(), "client", "S256")
}

func TestNew_UnsupportedExporter(t *testing.T) {
	if _, err := New(Config{Enabled: true, MetricsExporter: "otlp"}); err == nil {
		t.Error("New() should reject an unknown metrics exporter")
	}
	if _, err := New(Config{Enabled: true, TracesExporter: "jaeger"}); err == nil {
		t.Error("New() should reject an unknown traces exporter")
	}
}

func TestNew_DisabledIgnoresExporters(t *testing.T) {
	inst, err := New(Config{Enabled: false, MetricsExporter: "otlp"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = inst.Shutdown(context.Background())
}

func TestPrometheusExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	inst, err := New(Config{
		Enabled:              true,
		MetricsExporter:      ExporterPrometheus,
		PrometheusRegisterer: reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordCodeIssued(ctx, "client-a", "S256")
	m.RecordCodeExchange(ctx, "client-a", "success")
	m.RecordTokenReuseDetected(ctx)
	m.RecordStorageOperation(ctx, "consume_code", "success", 1.5)

	if err := inst.RegisterStorageSizeCallbacks(StorageSizeCallbacks{
		Sessions: func() int64 { return 7 },
	}); err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := []string{
		"sso_code_issued",
		"sso_code_exchanged",
		"sso_security_token_reuse",
		"sso_storage_operations",
		"sso_storage_sessions",
	}
	for _, prefix := range want {
		found := false
		for _, f := range families {
			if strings.HasPrefix(f.GetName(), prefix) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("metric family with prefix %q not exported", prefix)
		}
	}
}

func TestStdoutTraceExporter(t *testing.T) {
	var buf bytes.Buffer
	inst, err := New(Config{
		Enabled:        true,
		TracesExporter: ExporterStdout,
		TraceWriter:    &buf,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := inst.Tracer("server").Start(context.Background(), "authorize")
	AddFlowAttributes(span, "client-a", "user-1", "openid")
	SetSpanSuccess(span)
	span.End()

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "authorize") {
		t.Errorf("span not written to trace writer: %q", buf.String())
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
