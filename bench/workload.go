package bench

import (
	"context"
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benz9527/xrbtree/lib/id"
	"github.com/benz9527/xrbtree/lib/infra"
	"github.com/benz9527/xrbtree/lib/tree"
	"github.com/benz9527/xrbtree/xlog"
)

var (
	ErrBenchInvalidWorkload = errors.New("[bench] invalid workload")
	ErrBenchViolation       = errors.New("[bench] rbtree violation")
)

// Workload runs Trees independent trees, every tree is owned by a single
// pool task from creation to release.
type Workload struct {
	Name string
	// Trees is the number of independent trees.
	Trees int
	// Keys is the number of keys inserted into every tree.
	Keys int
	// RemoveRatio is the share of the keys removed after the inserts.
	RemoveRatio float64
	Intrusive   bool
	RemoveSucc  bool
	// Validate checks every rbtree property after the removal.
	Validate bool
}

func (w Workload) validate() error {
	if w.Trees <= 0 || w.Keys <= 0 {
		return fmt.Errorf("%w: trees %d, keys %d", ErrBenchInvalidWorkload, w.Trees, w.Keys)
	}
	if w.RemoveRatio < 0 || w.RemoveRatio > 1 {
		return fmt.Errorf("%w: remove ratio %f", ErrBenchInvalidWorkload, w.RemoveRatio)
	}
	return nil
}

type Report struct {
	Name        string    `json:"name"`
	Trees       int64     `json:"trees"`
	Keys        int64     `json:"keys"`
	Removed     int64     `json:"removed"`
	Remaining   int64     `json:"remaining"`
	InsertNanos int64     `json:"insertNanos"`
	RemoveNanos int64     `json:"removeNanos"`
	MaxHeight   int       `json:"maxHeight"`
	Violations  int       `json:"violations"`
	CreatedAt   time.Time `json:"createdAt"`
}

type treeResult struct {
	removed     int64
	remaining   int64
	insertNanos int64
	removeNanos int64
	height      int
	violated    bool
}

type Runner struct {
	pool   *ants.Pool
	logger xlog.XLogger
	mp     metric.MeterProvider
	idGen  id.KeyGen
}

// NewRunner submits the tree tasks into pool. The tree stats are
// recorded into mp if it is not nil.
func NewRunner(pool *ants.Pool, logger xlog.XLogger, mp metric.MeterProvider) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("[bench] nil worker pool")
	}
	if logger == nil {
		logger = xlog.NewNopXLogger()
	}
	idGen, err := id.MonotonicNonZeroID()
	if err != nil {
		return nil, err
	}
	return &Runner{
		pool:   pool,
		logger: logger,
		mp:     mp,
		idGen:  idGen,
	}, nil
}

func (r *Runner) newTree(w Workload) (tree.RBTree, error) {
	opts := []tree.RBTreeOpt{
		tree.WithRBTreeLogger(r.logger),
	}
	if w.RemoveSucc {
		opts = append(opts, tree.WithRBTreeRemoveBorrowSucc())
	}
	if r.mp != nil {
		opts = append(opts, tree.WithRBTreeStats(w.Name, r.mp))
	}
	if w.Intrusive {
		return tree.NewIntrusiveRBTree(infra.BytesComparator, opts...)
	}
	return tree.NewRBTree(infra.BytesComparator, infra.OrderedKeySize, opts...)
}

func (r *Runner) runTree(ctx context.Context, w Workload) (res treeResult, err error) {
	t, err := r.newTree(w)
	if err != nil {
		return res, err
	}
	defer func() {
		err = multierr.Append(err, t.Release())
	}()

	keys := make([][]byte, 0, w.Keys)
	for i := 0; i < w.Keys; i++ {
		keys = append(keys, r.idGen.Key())
	}
	randv2.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	begin := time.Now()
	for _, k := range keys {
		if err = t.Insert(k); err != nil {
			return res, err
		}
	}
	res.insertNanos = time.Since(begin).Nanoseconds()
	if err = ctx.Err(); err != nil {
		return res, err
	}

	toRemove := int(float64(w.Keys) * w.RemoveRatio)
	begin = time.Now()
	for _, k := range keys[:toRemove] {
		ok, rErr := t.Remove(k)
		if rErr != nil {
			return res, rErr
		}
		if ok {
			res.removed++
		}
	}
	res.removeNanos = time.Since(begin).Nanoseconds()
	res.remaining = t.Len()
	res.height = tree.Height(t)

	if w.Validate {
		if vErr := multierr.Combine(
			tree.RedViolationValidate(t),
			tree.BlackViolationValidate(t),
			tree.OrderViolationValidate(t),
		); vErr != nil {
			res.violated = true
			return res, fmt.Errorf("%w: %w", ErrBenchViolation, vErr)
		}
		if t.Size() != t.Len() {
			res.violated = true
			return res, fmt.Errorf("%w: size %d, len %d", ErrBenchViolation, t.Size(), t.Len())
		}
	}
	return res, nil
}

// Run blocks until every tree task is done or ctx is canceled.
func (r *Runner) Run(ctx context.Context, w Workload) (Report, error) {
	if err := w.validate(); err != nil {
		return Report{}, err
	}
	if len(w.Name) == 0 {
		w.Name = "default"
	}

	var (
		wg      sync.WaitGroup
		lock    sync.Mutex
		merr    error
		results = make([]treeResult, w.Trees)
	)
	for i := 0; i < w.Trees; i++ {
		if err := ctx.Err(); err != nil {
			merr = multierr.Append(merr, err)
			break
		}
		idx := i
		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			res, err := r.runTree(ctx, w)
			results[idx] = res
			if err != nil {
				r.logger.Error(err, "[bench] tree task failed", zap.String("workload", w.Name), zap.Int("tree", idx))
				lock.Lock()
				merr = multierr.Append(merr, err)
				lock.Unlock()
			}
		}); err != nil {
			wg.Done()
			merr = multierr.Append(merr, fmt.Errorf("[bench] submit tree task: %w", err))
			break
		}
	}
	wg.Wait()

	report := Report{
		Name:      w.Name,
		Trees:     int64(w.Trees),
		Keys:      int64(w.Keys),
		CreatedAt: time.Now().UTC(),
	}
	for _, res := range results {
		report.Removed += res.removed
		report.Remaining += res.remaining
		report.InsertNanos += res.insertNanos
		report.RemoveNanos += res.removeNanos
		report.MaxHeight = max(report.MaxHeight, res.height)
		if res.violated {
			report.Violations++
		}
	}
	r.logger.Info("[bench] workload done",
		zap.String("workload", report.Name),
		zap.Int64("trees", report.Trees),
		zap.Int64("keys", report.Keys),
		zap.Int64("removed", report.Removed),
		zap.Int("maxHeight", report.MaxHeight),
		zap.Int("violations", report.Violations),
	)
	return report, merr
}
