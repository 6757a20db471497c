package bench

import (
	"context"
	"math"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/benz9527/xrbtree/xlog"
)

func newTestPool(t *testing.T, size int) *ants.Pool {
	pool, err := ants.NewPool(size, ants.WithPreAlloc(true), ants.WithLogger(xlog.NewAntsXLogger(xlog.NewNopXLogger())))
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func TestWorkloadValidate(t *testing.T) {
	testcases := []struct {
		name string
		w    Workload
		ok   bool
	}{
		{
			name: "no trees",
			w:    Workload{Keys: 10},
		},
		{
			name: "no keys",
			w:    Workload{Trees: 1},
		},
		{
			name: "negative ratio",
			w:    Workload{Trees: 1, Keys: 1, RemoveRatio: -0.1},
		},
		{
			name: "ratio over one",
			w:    Workload{Trees: 1, Keys: 1, RemoveRatio: 1.5},
		},
		{
			name: "ok",
			w:    Workload{Trees: 1, Keys: 1, RemoveRatio: 1},
			ok:   true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			err := tc.w.validate()
			if tc.ok {
				require.NoError(tt, err)
				return
			}
			require.ErrorIs(tt, err, ErrBenchInvalidWorkload)
		})
	}
}

func TestRunner_Run(t *testing.T) {
	testcases := []struct {
		name string
		w    Workload
	}{
		{
			name: "owned keys rm by pred",
			w: Workload{
				Name:        "owned",
				Trees:       8,
				Keys:        2000,
				RemoveRatio: 0.25,
				Validate:    true,
			},
		},
		{
			name: "intrusive keys rm by succ",
			w: Workload{
				Name:        "intrusive",
				Trees:       4,
				Keys:        1000,
				RemoveRatio: 0.5,
				Intrusive:   true,
				RemoveSucc:  true,
				Validate:    true,
			},
		},
		{
			name: "remove all",
			w: Workload{
				Trees:       2,
				Keys:        100,
				RemoveRatio: 1,
				Validate:    true,
			},
		},
	}
	runner, err := NewRunner(newTestPool(t, 4), nil, nil)
	require.NoError(t, err)
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			report, err := runner.Run(context.Background(), tc.w)
			require.NoError(tt, err)
			if tc.w.Name == "" {
				require.Equal(tt, "default", report.Name)
			} else {
				require.Equal(tt, tc.w.Name, report.Name)
			}
			removedPerTree := int64(float64(tc.w.Keys) * tc.w.RemoveRatio)
			require.Equal(tt, int64(tc.w.Trees), report.Trees)
			require.Equal(tt, removedPerTree*int64(tc.w.Trees), report.Removed)
			require.Equal(tt, (int64(tc.w.Keys)-removedPerTree)*int64(tc.w.Trees), report.Remaining)
			require.Equal(tt, 0, report.Violations)
			require.LessOrEqual(tt, float64(report.MaxHeight), 2*math.Log2(float64(tc.w.Keys+1)))
			require.Greater(tt, report.InsertNanos, int64(0))
			require.False(tt, report.CreatedAt.IsZero())
		})
	}
}

func TestRunner_Stats(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() {
		_ = mp.Shutdown(context.Background())
	}()

	runner, err := NewRunner(newTestPool(t, 2), nil, mp)
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), Workload{
		Name:        "stats",
		Trees:       3,
		Keys:        100,
		RemoveRatio: 0.1,
	})
	require.NoError(t, err)

	rm := metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(context.Background(), &rm))
	values := make(map[string]int64, 8)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "xboot/rbtree/stats" {
			continue
		}
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					values[m.Name] += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(300), values["rbtree.insert.count"])
	require.Equal(t, int64(30), values["rbtree.remove.count"])
	// Every tree is released at the end of its task.
	require.Equal(t, int64(0), values["rbtree.node.count"])
}

func TestRunner_Canceled(t *testing.T) {
	runner, err := NewRunner(newTestPool(t, 1), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.Run(ctx, Workload{Trees: 4, Keys: 10})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_NilPool(t *testing.T) {
	_, err := NewRunner(nil, nil, nil)
	require.Error(t, err)
}
