package tree

import (
	"errors"
	randv2 "math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/benz9527/xrbtree/lib/infra"
)

var errTestKeyAlloc = errors.New("test key allocator failure")

// countingKeyAllocator tracks every live buffer to catch leaks and
// double frees.
type countingKeyAllocator struct {
	live    map[*byte]struct{}
	allocs  int
	frees   int
	failAt  int // fail the n-th Alloc (1-based), 0 never fails
	short   bool
	freeErr error
}

func newCountingKeyAllocator() *countingKeyAllocator {
	return &countingKeyAllocator{
		live: make(map[*byte]struct{}, 64),
	}
}

func (a *countingKeyAllocator) Alloc(size int) ([]byte, error) {
	if a.failAt > 0 && a.allocs+1 == a.failAt {
		a.failAt = 0
		return nil, errTestKeyAlloc
	}
	a.allocs++
	if a.short {
		size--
	}
	buf := make([]byte, size)
	if size > 0 {
		a.live[&buf[0]] = struct{}{}
	}
	return buf, nil
}

func (a *countingKeyAllocator) Free(key []byte) error {
	a.frees++
	if len(key) > 0 {
		if _, ok := a.live[&key[0]]; !ok {
			return errors.New("double free or foreign key")
		}
		delete(a.live, &key[0])
	}
	return a.freeErr
}

func TestRbtree_ReleaseFreesEveryKeyAndNode(t *testing.T) {
	alloc := newCountingKeyAllocator()
	tree := newTestRBTree(t, WithRBTreeKeyAllocator(alloc))

	n := 2000
	for _, v := range randv2.Perm(n) {
		require.NoError(t, tree.Insert(k64(uint64(v))))
	}
	require.Equal(t, n, alloc.allocs)
	require.Equal(t, int64(n), tree.nodes.live)

	require.NoError(t, tree.Release())
	require.Equal(t, n, alloc.frees)
	require.Empty(t, alloc.live)
	require.Equal(t, int64(0), tree.nodes.live)
	require.Equal(t, int64(n), tree.nodes.released)
	require.Equal(t, int64(0), tree.Len())
	require.Nil(t, tree.Root())
}

func TestRbtree_RemoveFreesOneKey(t *testing.T) {
	type testcase struct {
		name       string
		rbRmBySucc bool
	}
	testcases := []testcase{
		{
			name: "rm by pred",
		},
		{
			name:       "rm by succ",
			rbRmBySucc: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			alloc := newCountingKeyAllocator()
			opts := []RBTreeOpt{WithRBTreeKeyAllocator(alloc)}
			if tc.rbRmBySucc {
				opts = append(opts, WithRBTreeRemoveBorrowSucc())
			}
			tree := newTestRBTree(tt, opts...)

			n := 500
			for i := 0; i < n; i++ {
				require.NoError(tt, tree.Insert(k64(uint64(i))))
			}
			for i, v := range randv2.Perm(n) {
				ok, err := tree.Remove(k64(uint64(v)))
				require.NoError(tt, err)
				require.True(tt, ok)
				require.Equal(tt, i+1, alloc.frees)
				require.Len(tt, alloc.live, n-i-1)
				_, ok = tree.At(k64(uint64(v)))
				require.False(tt, ok)
			}
			require.Empty(tt, alloc.live)
			require.Equal(tt, int64(0), tree.nodes.live)
			require.Nil(tt, tree.Root())
		})
	}
}

func TestRbtree_ReplaceDoesNotAllocate(t *testing.T) {
	alloc := newCountingKeyAllocator()
	tree := newTestRBTree(t, WithRBTreeKeyAllocator(alloc))
	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(k64(5)))
	}
	require.Equal(t, 1, alloc.allocs)
	require.Equal(t, 0, alloc.frees)
	require.Equal(t, int64(1), tree.nodes.live)
}

func TestRbtree_KeyAllocFailure(t *testing.T) {
	type testcase struct {
		name  string
		alloc *countingKeyAllocator
	}
	failing := newCountingKeyAllocator()
	failing.failAt = 6
	short := newCountingKeyAllocator()
	testcases := []testcase{
		{
			name:  "allocator error",
			alloc: failing,
		},
		{
			name:  "short buffer",
			alloc: short,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			tree := newTestRBTree(tt, WithRBTreeKeyAllocator(tc.alloc))
			for _, k := range []uint64{10, 20, 30, 40, 50} {
				require.NoError(tt, tree.Insert(k64(k)))
			}
			before := collectKeys(tree)
			live := tree.nodes.live

			tc.alloc.short = tc.alloc == short
			err := tree.Insert(k64(25))
			require.ErrorIs(tt, err, ErrRBTreeAllocFailed)
			if tc.alloc == failing {
				require.ErrorIs(tt, err, errTestKeyAlloc)
			}

			require.Equal(tt, before, collectKeys(tree))
			require.Equal(tt, live, tree.nodes.live)
			require.Equal(tt, int64(5), tree.Len())
			requireRBTreeValid(tt, tree)
			_, ok := tree.At(k64(25))
			require.False(tt, ok)

			// The tree keeps working once the allocator recovers.
			tc.alloc.short = false
			require.NoError(tt, tree.Insert(k64(25)))
			require.Equal(tt, int64(6), tree.Len())
			requireRBTreeValid(tt, tree)
		})
	}
}

func TestRbtree_ShortKeyBufferFreeError(t *testing.T) {
	errFree := errors.New("test key free failure")
	alloc := newCountingKeyAllocator()
	tree := newTestRBTree(t, WithRBTreeKeyAllocator(alloc))
	require.NoError(t, tree.Insert(k64(1)))

	alloc.short = true
	alloc.freeErr = errFree
	err := tree.Insert(k64(2))
	require.ErrorIs(t, err, ErrRBTreeAllocFailed)
	require.ErrorIs(t, err, errFree)
	require.Len(t, multierr.Errors(err), 2)
	require.Equal(t, 1, alloc.frees)
	require.Equal(t, []uint64{1}, collectKeys(tree))
	requireRBTreeValid(t, tree)

	alloc.short = false
	alloc.freeErr = nil
	require.NoError(t, tree.Release())
	require.Empty(t, alloc.live)
}

func TestRbtree_MaxNodes(t *testing.T) {
	tree := newTestRBTree(t, WithRBTreeMaxNodes(3))
	for _, k := range []uint64{1, 2, 3} {
		require.NoError(t, tree.Insert(k64(k)))
	}
	err := tree.Insert(k64(4))
	require.ErrorIs(t, err, ErrRBTreeAllocFailed)
	require.Equal(t, []uint64{1, 2, 3}, collectKeys(tree))
	requireRBTreeValid(t, tree)

	// Replace needs no node.
	require.NoError(t, tree.Insert(k64(2)))

	ok, err := tree.Remove(k64(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tree.Insert(k64(4)))
	require.Equal(t, []uint64{2, 3, 4}, collectKeys(tree))
}

func TestRbtree_ReleaseAggregatesFreeErrors(t *testing.T) {
	alloc := newCountingKeyAllocator()
	tree := newTestRBTree(t, WithRBTreeKeyAllocator(alloc))
	for i := 0; i < 4; i++ {
		require.NoError(t, tree.Insert(k64(uint64(i))))
	}

	alloc.freeErr = errTestKeyAlloc
	ok, err := tree.Remove(k64(0))
	require.True(t, ok)
	require.ErrorIs(t, err, errTestKeyAlloc)
	require.Equal(t, int64(3), tree.Len())
	requireRBTreeValid(t, tree)

	err = tree.Release()
	require.ErrorIs(t, err, errTestKeyAlloc)
	require.Len(t, multierr.Errors(errors.Unwrap(err)), 3)
	require.Equal(t, 4, alloc.frees)
	require.Equal(t, int64(0), tree.Len())
	require.Nil(t, tree.Root())
}

func TestRbtree_IntrusiveIgnoresKeyAllocator(t *testing.T) {
	alloc := newCountingKeyAllocator()
	tree, err := NewIntrusiveRBTree(infra.BytesComparator, WithRBTreeKeyAllocator(alloc))
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, tree.Insert(k64(uint64(i))))
	}
	require.NoError(t, tree.Release())
	require.Equal(t, 0, alloc.allocs)
	require.Equal(t, 0, alloc.frees)
}

func TestNodeFreeList(t *testing.T) {
	f := newNodeFreeList(2, 3)
	n1, err := f.newNode()
	require.NoError(t, err)
	n2, err := f.newNode()
	require.NoError(t, err)
	n3, err := f.newNode()
	require.NoError(t, err)
	_, err = f.newNode()
	require.ErrorIs(t, err, ErrRBTreeAllocFailed)

	n1.key = []byte{1}
	n1.color = Red
	require.True(t, f.freeNode(n1))
	require.Equal(t, rbNode{}, *n1)
	require.True(t, f.freeNode(n2))
	require.False(t, f.freeNode(n3))
	require.Equal(t, int64(0), f.live)
	require.Equal(t, int64(3), f.allocated)
	require.Equal(t, int64(3), f.released)

	reused, err := f.newNode()
	require.NoError(t, err)
	require.Same(t, n2, reused)
	require.Len(t, f.freelist, 1)

	unbounded := newNodeFreeList(-1, -1)
	for i := 0; i < 100; i++ {
		_, err = unbounded.newNode()
		require.NoError(t, err)
	}
}

func TestRbtree_NodeFreeListOption(t *testing.T) {
	tree := newTestRBTree(t, WithRBTreeNodeFreeList(4), WithRBTreeMaxNodes(10))
	require.Equal(t, 4, cap(tree.nodes.freelist))
	require.Equal(t, int64(10), tree.nodes.limit)

	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(k64(uint64(i))))
	}
	require.NoError(t, tree.Release())
	require.Len(t, tree.nodes.freelist, 4)

	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(k64(uint64(i))))
	}
	require.Len(t, tree.nodes.freelist, 0)
	require.Equal(t, int64(20), tree.nodes.allocated)
	requireRBTreeValid(t, tree)
}

func TestHeapKeyAllocator(t *testing.T) {
	a := heapKeyAllocator{}
	buf, err := a.Alloc(8)
	require.NoError(t, err)
	require.Len(t, buf, 8)
	require.NoError(t, a.Free(buf))
	_, err = a.Alloc(0)
	require.ErrorIs(t, err, ErrRBTreeInvalidKeySize)
}
