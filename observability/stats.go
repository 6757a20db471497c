package observability

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/metric"
)

var (
	once sync.Once
)

const AppStatsName = "xboot/app"

type appStats struct {
	proc       *process.Process
	goroutines metric.Int64ObservableUpDownCounter
	processes  metric.Int64ObservableUpDownCounter
	rss        metric.Int64ObservableGauge
}

func appStatsName(name string) string {
	builder := &strings.Builder{}
	builder.WriteString(AppStatsName)
	builder.WriteString("/")
	if len(strings.TrimSpace(name)) > 0 {
		builder.WriteString(name)
	} else {
		builder.WriteString("default")
	}
	return builder.String()
}

func newAppStats(ctx context.Context, name string, mp metric.MeterProvider) (*appStats, error) {
	if mp == nil {
		return nil, errors.New("[observability] nil meter provider")
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	meter := mp.Meter(
		appStatsName(name),
		metric.WithInstrumentationVersion(otelruntime.Version()),
	)
	stats := &appStats{
		proc: proc,
	}
	stats.goroutines = lo.Must[metric.Int64ObservableUpDownCounter](meter.Int64ObservableUpDownCounter(
		"app.core.goroutines",
		metric.WithDescription(`The application goroutines' info.`),
		metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
			ob.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	))
	stats.processes = lo.Must[metric.Int64ObservableUpDownCounter](meter.Int64ObservableUpDownCounter(
		"app.core.processes",
		metric.WithDescription(`The application GOMAXPROCS.`),
		metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
			ob.Observe(int64(runtime.GOMAXPROCS(0)))
			return nil
		}),
	))
	stats.rss = lo.Must[metric.Int64ObservableGauge](meter.Int64ObservableGauge(
		"app.process.rss",
		metric.WithDescription(`The application resident set size.`),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
			info, err := stats.proc.MemoryInfoWithContext(ctx)
			if err != nil {
				return err
			}
			ob.Observe(int64(info.RSS))
			return nil
		}),
	))
	return stats, nil
}

// InitAppStats registers the process stats and the go runtime
// instrumentation once per process.
func InitAppStats(ctx context.Context, name string, mp metric.MeterProvider) (err error) {
	once.Do(func() {
		if _, err = newAppStats(ctx, name, mp); err != nil {
			return
		}
		err = otelruntime.Start(otelruntime.WithMeterProvider(mp))
	})
	return
}
