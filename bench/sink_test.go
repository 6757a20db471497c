package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	mredisv2 "github.com/alicebob/miniredis/v2"
	mock "github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/benz9527/xrbtree/xlog"
)

func testReports(name string, n int) []Report {
	reports := make([]Report, 0, n)
	for i := 0; i < n; i++ {
		reports = append(reports, Report{
			Name:        name,
			Trees:       int64(i + 1),
			Keys:        1000,
			Removed:     250,
			Remaining:   750,
			InsertNanos: int64(i+1) * 1000,
			RemoveNanos: int64(i+1) * 100,
			MaxHeight:   12,
			CreatedAt:   time.Date(2024, 4, 1, 0, 0, i, 0, time.UTC),
		})
	}
	return reports
}

func newTestSqliteDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: xlog.NewGormXLogger(xlog.NewNopXLogger()),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection of the pool opens its own memory db.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormReportSink(t *testing.T) {
	sink, err := NewGormReportSink(newTestSqliteDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	for _, r := range testReports("owned", 5) {
		require.NoError(t, sink.Save(ctx, r))
	}
	require.NoError(t, sink.Save(ctx, testReports("intrusive", 1)[0]))

	reports, err := sink.Recent(ctx, "owned", 3)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Equal(t, int64(5), reports[0].Trees)
	require.Equal(t, int64(3), reports[2].Trees)
	require.Equal(t, "owned", reports[0].Name)
	require.True(t, reports[0].CreatedAt.Equal(time.Date(2024, 4, 1, 0, 0, 4, 0, time.UTC)))

	reports, err = sink.Recent(ctx, "absent", 3)
	require.NoError(t, err)
	require.Empty(t, reports)

	_, err = NewGormReportSink(nil)
	require.Error(t, err)
}

func TestGormReportSink_SaveError(t *testing.T) {
	db, m, err := mock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	m.ExpectQuery(`select sqlite_version()`).
		WithArgs().
		WillReturnRows(m.NewRows([]string{"sqlite_version()"}).
			AddRow("3.38.0"))
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: sqlite.DriverName,
		Conn:       db,
	}, &gorm.Config{
		Logger:                 xlog.NewGormXLogger(xlog.NewNopXLogger()),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	m.ExpectQuery("INSERT INTO `rbtree_bench_reports`").
		WillReturnError(errors.New("disk I/O error"))
	m.ExpectExec("INSERT INTO `rbtree_bench_reports`").
		WillReturnError(errors.New("disk I/O error"))
	sink := &gormReportSink{db: gdb}
	err = sink.Save(context.Background(), testReports("owned", 1)[0])
	require.Error(t, err)
	require.Contains(t, err.Error(), "[bench] save report into db")
}

func TestRedisReportSink_MiniRedis(t *testing.T) {
	mredis := mredisv2.RunT(t)
	rclient := redisv9.NewClient(&redisv9.Options{
		Addr: mredis.Addr(),
	})
	defer func() { _ = rclient.Close() }()

	sink, err := NewRedisReportSink(rclient,
		WithRedisReportSinkPrefix("test:"),
		WithRedisReportSinkMaxLen(3),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for _, r := range testReports("owned", 5) {
		require.NoError(t, sink.Save(ctx, r))
	}
	items, err := mredis.List("test:owned")
	require.NoError(t, err)
	require.Len(t, items, 3)

	reports, err := sink.Recent(ctx, "owned", 10)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.Equal(t, int64(5), reports[0].Trees)
	require.Equal(t, int64(3), reports[2].Trees)
	require.Equal(t, testReports("owned", 5)[4], reports[0])

	reports, err = sink.Recent(ctx, "owned", 0)
	require.NoError(t, err)
	require.Empty(t, reports)

	_, err = NewRedisReportSink(nil)
	require.Error(t, err)
}

func TestRedisReportSink_Retry(t *testing.T) {
	mredis := mredisv2.RunT(t)
	rclient := redisv9.NewClient(&redisv9.Options{
		Addr:       mredis.Addr(),
		MaxRetries: -1,
	})
	defer func() { _ = rclient.Close() }()

	sink, err := NewRedisReportSink(rclient, WithRedisReportSinkRetry(func() RetryStrategy {
		return ExponentialBackoffRetry(3, time.Millisecond, 0, 1.0, 0)
	}))
	require.NoError(t, err)

	mredis.SetError("LOADING server is loading")
	errC := make(chan error, 1)
	go func() {
		errC <- sink.Save(context.Background(), testReports("owned", 1)[0])
	}()
	time.Sleep(time.Millisecond)
	mredis.SetError("")
	// Either a retry hits the recovered server or every attempt fails fast.
	if err = <-errC; err == nil {
		reports, err := sink.Recent(context.Background(), "owned", 1)
		require.NoError(t, err)
		require.Len(t, reports, 1)
	}

	mredis.SetError("LOADING server is loading")
	err = sink.Save(context.Background(), testReports("owned", 1)[0])
	require.Error(t, err)
	require.Contains(t, err.Error(), "[bench] save report into redis")
	mredis.SetError("")
}

type failingSink struct{}

func (failingSink) Save(context.Context, Report) error {
	return errors.New("failing sink")
}

func (failingSink) Recent(context.Context, string, int) ([]Report, error) {
	return nil, errors.New("failing sink")
}

func TestMultiReportSink(t *testing.T) {
	mredis := mredisv2.RunT(t)
	rclient := redisv9.NewClient(&redisv9.Options{Addr: mredis.Addr()})
	defer func() { _ = rclient.Close() }()
	rsink, err := NewRedisReportSink(rclient)
	require.NoError(t, err)

	sink := MultiReportSink(failingSink{}, nil, rsink)
	err = sink.Save(context.Background(), testReports("multi", 1)[0])
	require.EqualError(t, err, "failing sink")

	reports, err := sink.Recent(context.Background(), "multi", 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	_, err = MultiReportSink(failingSink{}).Recent(context.Background(), "multi", 5)
	require.Error(t, err)
}
