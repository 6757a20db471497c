package tree

import "errors"

// go install golang.org/x/tools/cmd/stringer@latest

//go:generate stringer -type=RBColor
type RBColor uint8

const (
	Black RBColor = iota
	Red
)

//go:generate stringer -type=RBDirection
type RBDirection int8

const (
	Left RBDirection = -1 + iota
	Root
	Right
)

var (
	ErrRBTreeNilComparator  = errors.New("[rbtree] nil key comparator")
	ErrRBTreeInvalidKeySize = errors.New("[rbtree] invalid key size")
	ErrRBTreeKeySize        = errors.New("[rbtree] key length mismatches the tree key size")
	ErrRBTreeAllocFailed    = errors.New("[rbtree] allocation failed")
)

// RBNode is the read-only view of a tree node.
type RBNode interface {
	Key() []byte
	Color() RBColor
	Left() RBNode
	Right() RBNode
	Parent() RBNode
}

// RBTree is an ordered set of fixed size byte keys.
// It is not thread safe, callers have to serialize the access
// to the same tree (e.g. one sync.Mutex per tree).
type RBTree interface {
	// Len returns the cached node count.
	Len() int64
	// Size counts the nodes by a full traversal. It always equals to Len.
	Size() int64
	Root() RBNode
	KeySize() int
	IsIntrusive() bool
	KeyCompare(i, j []byte) int64
	// Insert stores the key or replaces the equal one in place.
	Insert(key []byte) error
	// Remove reports whether the key was found and removed.
	// The error only comes from the key allocator.
	Remove(key []byte) (bool, error)
	// At returns the stored key equal to the given one.
	// The returned slice is owned by the tree in non-intrusive mode,
	// do not modify it.
	At(key []byte) ([]byte, bool)
	// VisitRange visits the keys in [min(lo, hi), max(lo, hi)] in ascending order.
	VisitRange(lo, hi []byte, visit func(key []byte))
	Foreach(action func(idx int64, color RBColor, key []byte) bool)
	// Release removes all the nodes. The tree is still usable
	// after Release.
	Release() error
}
