package id

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benz9527/xrbtree/lib/infra"
)

func TestMonotonicNonZeroID(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	require.NoError(t, err)
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		n := gen.Number()
		require.Greater(t, n, prev)
		prev = n
	}

	k1, k2 := gen.Key(), gen.Key()
	require.Len(t, k1, infra.OrderedKeySize)
	require.Equal(t, int64(-1), infra.BytesComparator(k1, k2))
	require.Equal(t, prev+2, infra.OrderedKeyFromBytes[uint64](k2))
}

func TestMonotonicNonZeroID_Concurrent(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen = make(map[uint64]struct{}, 4000)
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, 1000)
			for i := 0; i < 1000; i++ {
				local = append(local, gen.Number())
			}
			lock.Lock()
			for _, n := range local {
				seen[n] = struct{}{}
			}
			lock.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 4000)
}

func TestMonotonicNonZeroID_Overflow(t *testing.T) {
	src := &monotonicNonZeroID{val: ^uint64(0)}
	require.Equal(t, uint64(1), src.next())
}
