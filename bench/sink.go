package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// ReportSink keeps the workload reports, newest first.
type ReportSink interface {
	Save(ctx context.Context, report Report) error
	Recent(ctx context.Context, name string, limit int) ([]Report, error)
}

var (
	_ ReportSink = (*gormReportSink)(nil)
	_ ReportSink = (*redisReportSink)(nil)
	_ ReportSink = (multiReportSink)(nil)
)

type reportRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"index;size:128"`
	Trees       int64
	Keys        int64
	Removed     int64
	Remaining   int64
	InsertNanos int64
	RemoveNanos int64
	MaxHeight   int
	Violations  int
	CreatedAt   time.Time `gorm:"index"`
}

func (reportRecord) TableName() string {
	return "rbtree_bench_reports"
}

func (rec *reportRecord) report() Report {
	return Report{
		Name:        rec.Name,
		Trees:       rec.Trees,
		Keys:        rec.Keys,
		Removed:     rec.Removed,
		Remaining:   rec.Remaining,
		InsertNanos: rec.InsertNanos,
		RemoveNanos: rec.RemoveNanos,
		MaxHeight:   rec.MaxHeight,
		Violations:  rec.Violations,
		CreatedAt:   rec.CreatedAt,
	}
}

type gormReportSink struct {
	db *gorm.DB
}

func (s *gormReportSink) Save(ctx context.Context, report Report) error {
	rec := &reportRecord{
		Name:        report.Name,
		Trees:       report.Trees,
		Keys:        report.Keys,
		Removed:     report.Removed,
		Remaining:   report.Remaining,
		InsertNanos: report.InsertNanos,
		RemoveNanos: report.RemoveNanos,
		MaxHeight:   report.MaxHeight,
		Violations:  report.Violations,
		CreatedAt:   report.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("[bench] save report into db: %w", err)
	}
	return nil
}

func (s *gormReportSink) Recent(ctx context.Context, name string, limit int) ([]Report, error) {
	recs := make([]reportRecord, 0, max(limit, 0))
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("[bench] load reports from db: %w", err)
	}
	reports := make([]Report, 0, len(recs))
	for i := range recs {
		reports = append(reports, recs[i].report())
	}
	return reports, nil
}

// NewGormReportSink migrates the reports table.
func NewGormReportSink(db *gorm.DB) (ReportSink, error) {
	if db == nil {
		return nil, errors.New("[bench] nil gorm db")
	}
	if err := db.AutoMigrate(&reportRecord{}); err != nil {
		return nil, fmt.Errorf("[bench] migrate reports table: %w", err)
	}
	return &gormReportSink{db: db}, nil
}

const defaultRedisReportsMaxLen = 128

type redisReportSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	retry  func() RetryStrategy
}

func (s *redisReportSink) key(name string) string {
	return s.prefix + name
}

func (s *redisReportSink) Save(ctx context.Context, report Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	key := s.key(report.Name)
	return withRetry(ctx, s.retry(), func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, key, data)
			pipe.LTrim(ctx, key, 0, s.maxLen-1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("[bench] save report into redis: %w", err)
		}
		return nil
	})
}

func (s *redisReportSink) Recent(ctx context.Context, name string, limit int) ([]Report, error) {
	if limit <= 0 {
		return []Report{}, nil
	}
	var items []string
	err := withRetry(ctx, s.retry(), func(ctx context.Context) (err error) {
		items, err = s.client.LRange(ctx, s.key(name), 0, int64(limit-1)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("[bench] load reports from redis: %w", err)
	}
	reports := make([]Report, 0, len(items))
	for _, item := range items {
		report := Report{}
		if err = json.Unmarshal([]byte(item), &report); err != nil {
			return nil, fmt.Errorf("[bench] decode report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

type RedisReportSinkOption func(*redisReportSink)

func WithRedisReportSinkPrefix(prefix string) RedisReportSinkOption {
	return func(s *redisReportSink) {
		s.prefix = prefix
	}
}

// WithRedisReportSinkMaxLen keeps the newest n reports per workload.
func WithRedisReportSinkMaxLen(n int64) RedisReportSinkOption {
	return func(s *redisReportSink) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

func WithRedisReportSinkRetry(retry func() RetryStrategy) RedisReportSinkOption {
	return func(s *redisReportSink) {
		if retry != nil {
			s.retry = retry
		}
	}
}

func NewRedisReportSink(client redis.UniversalClient, opts ...RedisReportSinkOption) (ReportSink, error) {
	if client == nil {
		return nil, errors.New("[bench] nil redis client")
	}
	s := &redisReportSink{
		client: client,
		prefix: "xrbtree:bench:",
		maxLen: defaultRedisReportsMaxLen,
		retry:  DefaultExponentialBackoffRetry,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

type multiReportSink []ReportSink

// Save tries every sink even if some of them fail.
func (sinks multiReportSink) Save(ctx context.Context, report Report) (merr error) {
	for _, s := range sinks {
		merr = multierr.Append(merr, s.Save(ctx, report))
	}
	return merr
}

// Recent reads from the first sink that answers.
func (sinks multiReportSink) Recent(ctx context.Context, name string, limit int) ([]Report, error) {
	var merr error
	for _, s := range sinks {
		reports, err := s.Recent(ctx, name, limit)
		if err == nil {
			return reports, nil
		}
		merr = multierr.Append(merr, err)
	}
	return nil, merr
}

func MultiReportSink(sinks ...ReportSink) ReportSink {
	res := make(multiReportSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			res = append(res, s)
		}
	}
	return res
}
