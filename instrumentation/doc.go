// Package instrumentation wires OpenTelemetry metrics and traces for the
// SSO server.
//
// Metrics are exported through the Prometheus exporter when
// MetricsExporter is "prometheus"; the collector is registered with
// Config.PrometheusRegisterer (default prometheus.DefaultRegisterer), so the
// daemon only has to mount promhttp.Handler. Traces go to stdout when
// TracesExporter is "stdout". Anything else, or Enabled=false, yields no-op
// providers.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "workspace-sso",
//		ServiceVersion:  version,
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	mux.Handle("/metrics", promhttp.Handler())
package instrumentation
