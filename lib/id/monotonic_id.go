package id

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/benz9527/xrbtree/lib/infra"
)

const cacheLinePadSize = unsafe.Sizeof(cpu.CacheLinePad{})

// monotonicNonZeroID is an ID generator.
// Only increase, if it overflows, it will be reset to 1.
// Occupy a whole cache line, avoid false sharing with the neighbours.
type monotonicNonZeroID struct {
	_   [cacheLinePadSize - unsafe.Sizeof(*new(uint64))]byte
	val uint64
	_   [cacheLinePadSize - unsafe.Sizeof(*new(uint64))]byte
}

func (id *monotonicNonZeroID) next() uint64 {
	var v uint64
	if v = atomic.AddUint64(&id.val, 1); v == 0 {
		v = atomic.AddUint64(&id.val, 1)
	}
	return v
}

// MonotonicNonZeroID starts from 1. The byte keys keep the same order as
// the numbers under infra.BytesComparator.
func MonotonicNonZeroID() (KeyGen, error) {
	src := &monotonicNonZeroID{val: 0}
	id := new(keyDelegator)
	id.number = func() uint64 {
		return src.next()
	}
	id.key = func() []byte {
		return infra.OrderedKeyBytes(src.next())
	}
	return id, nil
}
