package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/benz9527/xrbtree/bench"
	"github.com/benz9527/xrbtree/observability"
	"github.com/benz9527/xrbtree/xlog"
)

type config struct {
	workload     bench.Workload
	workers      int
	exporter     string
	statsEvery   time.Duration
	logDir       string
	sqlitePath   string
	redisAddr    string
	recentLimit  int
	shutdownWait time.Duration
}

func parseConfig(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("xrbtree-bench", flag.ContinueOnError)
	fs.StringVar(&cfg.workload.Name, "name", "default", "workload name, also the stats meter suffix")
	fs.IntVar(&cfg.workload.Trees, "trees", 16, "number of independent trees")
	fs.IntVar(&cfg.workload.Keys, "keys", 100_000, "keys inserted into every tree")
	fs.Float64Var(&cfg.workload.RemoveRatio, "remove-ratio", 0.2, "share of the keys removed after the inserts")
	fs.BoolVar(&cfg.workload.Intrusive, "intrusive", false, "borrow the keys instead of copying them")
	fs.BoolVar(&cfg.workload.RemoveSucc, "remove-succ", false, "remove by the inorder successor")
	fs.BoolVar(&cfg.workload.Validate, "validate", true, "validate the rbtree properties of every tree")
	fs.IntVar(&cfg.workers, "workers", 0, "worker pool size, 0 means GOMAXPROCS")
	fs.StringVar(&cfg.exporter, "exporter", "console", "stats exporter: console, prometheus or none")
	fs.DurationVar(&cfg.statsEvery, "stats-interval", 10*time.Second, "console stats export interval")
	fs.StringVar(&cfg.logDir, "log-dir", "", "also write the JSON logs into <log-dir>/xrbtree-bench.log")
	fs.StringVar(&cfg.sqlitePath, "sqlite", "", "keep the reports in this sqlite db")
	fs.StringVar(&cfg.redisAddr, "redis", "", "keep the reports in this redis")
	fs.IntVar(&cfg.recentLimit, "recent", 5, "print the recent reports of the workload")
	fs.DurationVar(&cfg.shutdownWait, "shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch cfg.exporter {
	case "console", "prometheus", "none":
	default:
		return nil, fmt.Errorf("unknown stats exporter %q", cfg.exporter)
	}
	return cfg, nil
}

func newLogger(lc fx.Lifecycle, cfg *config) (xlog.XLogger, error) {
	opts := []xlog.XLoggerOption{
		xlog.WithXLoggerEncoder(xlog.JSON),
		xlog.WithXLoggerWriter(xlog.StdOut),
		xlog.WithXLoggerTimeEncoder(zapcore.ISO8601TimeEncoder),
		xlog.WithXLoggerLevelEncoder(zapcore.CapitalLevelEncoder),
	}
	var fl xlog.FileLog
	if cfg.logDir != "" {
		var err error
		if fl, err = xlog.NewFileLog(context.Background(), cfg.logDir, "xrbtree-bench.log"); err != nil {
			return nil, err
		}
		opts = append(opts, xlog.WithXLoggerFileCore(fl))
	}
	logger := xlog.NewXLogger(opts...)
	lc.Append(fx.StopHook(func() error {
		err := logger.Sync()
		if fl != nil {
			err = multierr.Append(err, fl.Close())
		}
		return err
	}))
	return logger, nil
}

// newMeterProvider returns nil if the stats are disabled.
func newMeterProvider(lc fx.Lifecycle, cfg *config, logger xlog.XLogger) (*sdkmetric.MeterProvider, error) {
	var (
		mp  *sdkmetric.MeterProvider
		err error
	)
	switch cfg.exporter {
	case "console":
		mp, err = observability.NewConsoleMetricsExporter(os.Stdout, cfg.statsEvery, time.Second)
	case "prometheus":
		mp, err = observability.NewPrometheusMetricsExporter()
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err = observability.InitAppStats(context.Background(), cfg.workload.Name, mp); err != nil {
		logger.Warn("app stats are disabled", zap.Error(err))
	}
	lc.Append(fx.StopHook(mp.Shutdown))
	return mp, nil
}

func newPool(lc fx.Lifecycle, cfg *config, logger xlog.XLogger) (*ants.Pool, error) {
	size := cfg.workers
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	pool, err := ants.NewPool(size,
		ants.WithLogger(xlog.NewAntsXLogger(logger)),
		ants.WithNonblocking(false),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func(ctx context.Context) error {
		return pool.ReleaseTimeout(cfg.shutdownWait)
	}))
	return pool, nil
}

func newReportSink(lc fx.Lifecycle, cfg *config, logger xlog.XLogger) (bench.ReportSink, error) {
	sinks := make([]bench.ReportSink, 0, 2)
	if cfg.sqlitePath != "" {
		db, err := gorm.Open(sqlite.Open(cfg.sqlitePath), &gorm.Config{
			Logger: xlog.NewGormXLogger(logger),
		})
		if err != nil {
			return nil, err
		}
		sink, err := bench.NewGormReportSink(db)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}))
		sinks = append(sinks, sink)
	}
	if cfg.redisAddr != "" {
		redis.SetLogger(xlog.NewGoRedisXLogger(logger))
		client := redis.NewClient(&redis.Options{
			Addr: cfg.redisAddr,
		})
		sink, err := bench.NewRedisReportSink(client)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(client.Close))
		sinks = append(sinks, sink)
	}
	return bench.MultiReportSink(sinks...), nil
}

func newRunner(pool *ants.Pool, logger xlog.XLogger, mp *sdkmetric.MeterProvider) (*bench.Runner, error) {
	if mp == nil {
		return bench.NewRunner(pool, logger, nil)
	}
	return bench.NewRunner(pool, logger, mp)
}

func run(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config, runner *bench.Runner, sink bench.ReportSink, logger xlog.XLogger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				exitCode := 0
				report, err := runner.Run(ctx, cfg.workload)
				if err != nil {
					exitCode = 1
					logger.Error(err, "workload failed", zap.String("workload", cfg.workload.Name))
				}
				if err = sink.Save(ctx, report); err != nil {
					logger.Error(err, "save report failed")
				}
				if recent, err := sink.Recent(ctx, report.Name, cfg.recentLimit); err == nil {
					for _, r := range recent {
						logger.Info("recent report",
							zap.Time("at", r.CreatedAt),
							zap.Int64("trees", r.Trees),
							zap.Int64("keys", r.Keys),
							zap.Int64("insertNanos", r.InsertNanos),
							zap.Int64("removeNanos", r.RemoveNanos),
							zap.Int("maxHeight", r.MaxHeight),
						)
					}
				}
				_ = sd.Shutdown(fx.ExitCode(exitCode))
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newMeterProvider,
			newPool,
			newReportSink,
			newRunner,
		),
		fx.WithLogger(func(logger xlog.XLogger) fxevent.Logger {
			return xlog.NewFxXLogger(logger)
		}),
		fx.Invoke(func(logger xlog.XLogger) {
			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
				logger.Logf(zapcore.InfoLevel, format, args...)
			})); err != nil {
				logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
			}
		}),
		fx.Invoke(run),
		fx.StopTimeout(cfg.shutdownWait),
	)
	app.Run()
}
