package tree

import (
	"errors"
	"fmt"

	"github.com/benz9527/xrbtree/lib/stack"
)

var (
	ErrRBTreeRedViolation   = errors.New("rbtree red violation")
	ErrRBTreeBlackViolation = errors.New("rbtree black violation")
	ErrRBTreeOrderViolation = errors.New("rbtree order violation")
)

func isBlack(node RBNode) bool {
	return node == nil || node.Color() == Black
}

func isRed(node RBNode) bool {
	return node != nil && node.Color() == Red
}

func isRoot(node RBNode) bool {
	return node != nil && node.Parent() == nil
}

func blackDepthTo(target, to RBNode) int {
	depth := 0
	for aux := target; aux != nil && aux != to; aux = aux.Parent() {
		if isBlack(aux) {
			depth++
		}
	}
	return depth
}

// rbtree rule validation utilities.

// References:
// https://github1s.com/minghu6/rust-minghu6/blob/master/coll_st/src/bst/rb.rs

// Inorder traversal to validate the rbtree properties.
func RedViolationValidate(tree RBTree) error {
	if tree == nil {
		return nil
	}
	aux := tree.Root()
	if aux == nil {
		return nil
	}

	st := stack.NewStack[RBNode](stack.WithStackCapacity[RBNode](int(tree.Len() >> 1)))
	for ; aux != nil; aux = aux.Left() {
		st.Push(aux)
	}

	for st.Len() > 0 {
		aux, _ = st.Pop()
		if isRed(aux) {
			if (!isRoot(aux.Parent()) && isRed(aux.Parent())) ||
				(isRed(aux.Left()) || isRed(aux.Right())) {
				return fmt.Errorf("%w: red node %v", ErrRBTreeRedViolation, aux.Key())
			}
		}

		for aux = aux.Right(); aux != nil; aux = aux.Left() {
			st.Push(aux)
		}
	}
	return nil
}

// DFS traversal to load all nodes that own at least one nil leaf.
func dfsLeaves(tree RBTree) []RBNode {
	aux := tree.Root()
	if aux == nil {
		return nil
	}

	leaves := make([]RBNode, 0, tree.Len()>>1+1)
	st := stack.NewStack[RBNode]()
	st.Push(aux)
	for st.Len() > 0 {
		aux, _ = st.Pop()
		l, r := aux.Left(), aux.Right()
		if /* nil leaves, keep one */ l == nil || r == nil {
			leaves = append(leaves, aux)
		}
		if l != nil {
			st.Push(l)
		}
		if r != nil {
			st.Push(r)
		}
	}
	return leaves
}

/*
<X> is a RED node.
[X] is a BLACK node (or NIL).

	        [13]
			/  \
		 <8>    [15]
		 / \    /  \
	  [6] [11] [14] [17]
	  /              /
	<1>            [16]

2-3-4 tree like:

	       <8> --- [13] --- <15>
		  /  \             /    \
		 /    \           /      \
	  <1>-[6][11]      [14] <16>-[17]

Each leaf node to root node black depth are equal.
The root itself must be black.
*/
func BlackViolationValidate(tree RBTree) error {
	if tree == nil || tree.Root() == nil {
		return nil
	}
	if isRed(tree.Root()) {
		return fmt.Errorf("%w: red root", ErrRBTreeBlackViolation)
	}

	leaves := dfsLeaves(tree)
	blackDepth := blackDepthTo(leaves[0], nil)
	for i := 1; i < len(leaves); i++ {
		if depth := blackDepthTo(leaves[i], nil); depth != blackDepth {
			return fmt.Errorf("%w: black depth %d, want %d", ErrRBTreeBlackViolation, depth, blackDepth)
		}
	}
	return nil
}

// OrderViolationValidate checks the inorder keys are strictly increasing
// by the tree comparator and every child links back to its parent.
func OrderViolationValidate(tree RBTree) error {
	if tree == nil || tree.Root() == nil {
		return nil
	}
	if tree.Root().Parent() != nil {
		return fmt.Errorf("%w: root with parent", ErrRBTreeOrderViolation)
	}

	var (
		prev  RBNode
		count int64
	)
	st := stack.NewStack[RBNode]()
	for aux := tree.Root(); aux != nil; aux = aux.Left() {
		st.Push(aux)
	}
	for st.Len() > 0 {
		aux, _ := st.Pop()
		count++
		if l := aux.Left(); l != nil && l.Parent() != aux {
			return fmt.Errorf("%w: broken left parent link at %v", ErrRBTreeOrderViolation, aux.Key())
		}
		if r := aux.Right(); r != nil && r.Parent() != aux {
			return fmt.Errorf("%w: broken right parent link at %v", ErrRBTreeOrderViolation, aux.Key())
		}
		if prev != nil && tree.KeyCompare(prev.Key(), aux.Key()) >= 0 {
			return fmt.Errorf("%w: %v is not before %v", ErrRBTreeOrderViolation, prev.Key(), aux.Key())
		}
		prev = aux
		for aux = aux.Right(); aux != nil; aux = aux.Left() {
			st.Push(aux)
		}
	}
	if count != tree.Len() {
		return fmt.Errorf("%w: %d nodes, len %d", ErrRBTreeOrderViolation, count, tree.Len())
	}
	return nil
}

// Height returns the number of nodes on the longest root to leaf path.
func Height(tree RBTree) int {
	if tree == nil || tree.Root() == nil {
		return 0
	}

	type level struct {
		node  RBNode
		depth int
	}
	height := 0
	st := stack.NewStack[level]()
	st.Push(level{node: tree.Root(), depth: 1})
	for st.Len() > 0 {
		aux, _ := st.Pop()
		height = max(height, aux.depth)
		if l := aux.node.Left(); l != nil {
			st.Push(level{node: l, depth: aux.depth + 1})
		}
		if r := aux.node.Right(); r != nil {
			st.Push(level{node: r, depth: aux.depth + 1})
		}
	}
	return height
}
