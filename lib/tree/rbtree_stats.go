package tree

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	RBTreeStatsName = "xboot/rbtree"
)

type rbtreeStats struct {
	nodeCount        metric.Int64UpDownCounter
	insertCount      metric.Int64Counter
	replaceCount     metric.Int64Counter
	removeCount      metric.Int64Counter
	rotateCount      metric.Int64Counter
	allocFailedCount metric.Int64Counter
}

func (stats *rbtreeStats) RecordNodeCount(delta int64) {
	if stats == nil {
		return
	}
	stats.nodeCount.Add(context.Background(), delta)
}

func (stats *rbtreeStats) IncreaseInsertCount() {
	if stats == nil {
		return
	}
	stats.insertCount.Add(context.Background(), 1)
}

func (stats *rbtreeStats) IncreaseReplaceCount() {
	if stats == nil {
		return
	}
	stats.replaceCount.Add(context.Background(), 1)
}

func (stats *rbtreeStats) IncreaseRemoveCount() {
	if stats == nil {
		return
	}
	stats.removeCount.Add(context.Background(), 1)
}

func (stats *rbtreeStats) IncreaseRotateCount() {
	if stats == nil {
		return
	}
	stats.rotateCount.Add(context.Background(), 1)
}

func (stats *rbtreeStats) IncreaseAllocFailedCount() {
	if stats == nil {
		return
	}
	stats.allocFailedCount.Add(context.Background(), 1)
}

func newRBTreeStats(name string, mp metric.MeterProvider) *rbtreeStats {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(fmt.Sprintf("%s/%s", RBTreeStatsName, name))
	return &rbtreeStats{
		nodeCount: lo.Must[metric.Int64UpDownCounter](meter.Int64UpDownCounter(
			"rbtree.node.count",
			metric.WithDescription("The number of nodes in the rbtree."),
		)),
		insertCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"rbtree.insert.count",
			metric.WithDescription("The number of new keys inserted into the rbtree."),
		)),
		replaceCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"rbtree.replace.count",
			metric.WithDescription("The number of equal keys replaced in place."),
		)),
		removeCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"rbtree.remove.count",
			metric.WithDescription("The number of keys removed from the rbtree."),
		)),
		rotateCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"rbtree.rotate.count",
			metric.WithDescription("The number of rotations done by the rebalancing."),
		)),
		allocFailedCount: lo.Must[metric.Int64Counter](meter.Int64Counter(
			"rbtree.alloc.failed.count",
			metric.WithDescription("The number of node or key allocation failures."),
		)),
	}
}
