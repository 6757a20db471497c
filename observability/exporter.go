package observability

// https://opentelemetry.io/docs/languages/go/exporters/

import (
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// NewConsoleMetricsExporter serves for test/dev environment. The stats
// are encoded into w every interval, and once more on shutdown.
func NewConsoleMetricsExporter(w io.Writer, interval, timeout time.Duration) (*metric.MeterProvider, error) {
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithoutTimestamps(),
	)
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(
		exporter,
		metric.WithInterval(interval),
		metric.WithTimeout(timeout),
	)))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// NewPrometheusMetricsExporter serves for the product environment, the
// stats are fetched by HTTP from the prometheus registry (the default
// one unless prometheus.WithRegisterer is given).
func NewPrometheusMetricsExporter(opts ...prometheus.Option) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp, nil
}
