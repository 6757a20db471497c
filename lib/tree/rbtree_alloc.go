package tree

import (
	"fmt"

	"go.uber.org/multierr"
)

// KeyAllocator hands out the key buffers owned by a non-intrusive tree.
// Every buffer returned by Alloc is given back to Free exactly once.
type KeyAllocator interface {
	Alloc(size int) ([]byte, error)
	Free(key []byte) error
}

var _ KeyAllocator = (*heapKeyAllocator)(nil)

type heapKeyAllocator struct{}

func (a heapKeyAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrRBTreeInvalidKeySize
	}
	return make([]byte, size), nil
}

// Free leaves the buffer to the GC.
func (a heapKeyAllocator) Free([]byte) error { return nil }

// keyHolder decides who owns the key bytes stored in the nodes.
// It is fixed when the tree is created, so the same tree never mixes
// borrowed and copied keys.
type keyHolder interface {
	intrusive() bool
	size() int
	validate(key []byte) error
	// hold returns the bytes that the new node will reference.
	hold(key []byte) ([]byte, error)
	// replace updates the equal key of an existing node.
	replace(node *rbNode, key []byte)
	release(key []byte) error
}

// borrowedKeys is the intrusive mode. The caller keeps the ownership
// and lifetime of the keys, the tree never frees them.
type borrowedKeys struct{}

func (borrowedKeys) intrusive() bool                  { return true }
func (borrowedKeys) size() int                        { return 0 }
func (borrowedKeys) validate([]byte) error            { return nil }
func (borrowedKeys) hold(key []byte) ([]byte, error)  { return key, nil }
func (borrowedKeys) replace(node *rbNode, key []byte) { node.key = key }
func (borrowedKeys) release([]byte) error             { return nil }

// ownedKeys is the non-intrusive mode. The tree copies exactly keySize
// bytes into a buffer from the allocator and frees the buffer itself.
type ownedKeys struct {
	keySize int
	alloc   KeyAllocator
}

func (k *ownedKeys) intrusive() bool { return false }
func (k *ownedKeys) size() int       { return k.keySize }

func (k *ownedKeys) validate(key []byte) error {
	if len(key) != k.keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrRBTreeKeySize, len(key), k.keySize)
	}
	return nil
}

func (k *ownedKeys) hold(key []byte) ([]byte, error) {
	buf, err := k.alloc.Alloc(k.keySize)
	if err != nil {
		return nil, fmt.Errorf("%w: key buffer: %w", ErrRBTreeAllocFailed, err)
	}
	if len(buf) != k.keySize {
		return nil, multierr.Append(
			fmt.Errorf("%w: key buffer length %d, want %d", ErrRBTreeAllocFailed, len(buf), k.keySize),
			k.alloc.Free(buf),
		)
	}
	copy(buf, key)
	return buf, nil
}

func (k *ownedKeys) replace(node *rbNode, key []byte) {
	copy(node.key, key)
}

func (k *ownedKeys) release(key []byte) error {
	if key == nil {
		return nil
	}
	return k.alloc.Free(key)
}

const defaultNodeFreeListSize = 64

// nodeFreeList recycles the released nodes.
// References:
// https://github.com/google/btree/blob/master/btree.go (FreeList)
type nodeFreeList struct {
	freelist []*rbNode
	// limit bounds the live nodes, 0 means unbounded.
	limit     int64
	live      int64
	allocated int64
	released  int64
}

func newNodeFreeList(size int, limit int64) *nodeFreeList {
	if size < 0 {
		size = 0
	}
	if limit < 0 {
		limit = 0
	}
	return &nodeFreeList{
		freelist: make([]*rbNode, 0, size),
		limit:    limit,
	}
}

func (f *nodeFreeList) newNode() (n *rbNode, err error) {
	if f.limit > 0 && f.live >= f.limit {
		return nil, fmt.Errorf("%w: node limit %d reached", ErrRBTreeAllocFailed, f.limit)
	}
	index := len(f.freelist) - 1
	if index < 0 {
		n = new(rbNode)
	} else {
		n = f.freelist[index]
		f.freelist[index] = nil
		f.freelist = f.freelist[:index]
	}
	f.live++
	f.allocated++
	return n, nil
}

// freeNode returns true if the node was kept for reuse and false if it
// was discarded to the GC.
func (f *nodeFreeList) freeNode(n *rbNode) (out bool) {
	*n = rbNode{}
	f.live--
	f.released++
	if len(f.freelist) < cap(f.freelist) {
		f.freelist = append(f.freelist, n)
		out = true
	}
	return
}
