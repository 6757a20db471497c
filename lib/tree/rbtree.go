package tree

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benz9527/xrbtree/lib/infra"
	"github.com/benz9527/xrbtree/lib/stack"
	"github.com/benz9527/xrbtree/xlog"
)

type rbNode struct {
	parent *rbNode
	left   *rbNode
	right  *rbNode
	key    []byte
	color  RBColor
}

func (node *rbNode) Color() RBColor {
	return node.color
}

func (node *rbNode) Key() []byte {
	return node.key
}

func (node *rbNode) Left() RBNode {
	if node == nil || node.left == nil {
		return nil
	}
	return node.left
}

func (node *rbNode) Parent() RBNode {
	if node == nil || node.parent == nil {
		return nil
	}
	return node.parent
}

func (node *rbNode) Right() RBNode {
	if node == nil || node.right == nil {
		return nil
	}
	return node.right
}

func (node *rbNode) isRed() bool {
	return node != nil && node.color == Red
}

// All NIL nodes are considered black.
func (node *rbNode) isBlack() bool {
	return node == nil || node.color == Black
}

func (node *rbNode) isRoot() bool {
	return node != nil && node.parent == nil
}

func (node *rbNode) Direction() RBDirection {
	if node == nil {
		// impossible run to here
		panic( /* debug assertion */ "[rbtree] nil leaf node without direction")
	}

	if node.isRoot() {
		return Root
	}
	if node == node.parent.left {
		return Left
	}
	return Right
}

func (node *rbNode) sibling() *rbNode {
	switch node.Direction() {
	case Left:
		return node.parent.right
	case Right:
		return node.parent.left
	default:
	}
	return nil
}

func (node *rbNode) uncle() *rbNode {
	return node.parent.sibling()
}

func (node *rbNode) grandpa() *rbNode {
	if node.parent == nil {
		return nil
	}
	return node.parent.parent
}

func (node *rbNode) fixLink() {
	if node.left != nil {
		node.left.parent = node
	}
	if node.right != nil {
		node.right.parent = node
	}
}

func (node *rbNode) minimum() *rbNode {
	aux := node
	for ; aux != nil && aux.left != nil; aux = aux.left {
	}
	return aux
}

func (node *rbNode) maximum() *rbNode {
	aux := node
	for ; aux != nil && aux.right != nil; aux = aux.right {
	}
	return aux
}

type rbTree struct {
	root           *rbNode
	count          int64
	cmp            infra.KeyComparator
	keys           keyHolder
	nodes          *nodeFreeList
	logger         xlog.XLogger
	stats          *rbtreeStats
	isDesc         bool
	isRmBorrowSucc bool
}

func (tree *rbTree) keyCompare(k1, k2 []byte) int64 {
	return tree.cmp(k1, k2)
}

func (tree *rbTree) KeyCompare(k1, k2 []byte) int64 {
	return tree.keyCompare(k1, k2)
}

func (tree *rbTree) Len() int64 {
	if tree == nil {
		return 0
	}
	return tree.count
}

func (tree *rbTree) Root() RBNode {
	if tree == nil || tree.root == nil {
		return nil
	}
	return tree.root
}

func (tree *rbTree) KeySize() int {
	return tree.keys.size()
}

func (tree *rbTree) IsIntrusive() bool {
	return tree.keys.intrusive()
}

// Preorder DFS to count all nodes.
func (tree *rbTree) Size() int64 {
	if tree == nil || tree.root == nil {
		return 0
	}

	st := stack.NewStack[*rbNode]()
	st.Push(tree.root)
	size := int64(0)
	for st.Len() > 0 {
		aux, _ := st.Pop()
		size++
		if aux.left != nil {
			st.Push(aux.left)
		}
		if aux.right != nil {
			st.Push(aux.right)
		}
	}
	return size
}

// References:
// https://elixir.bootlin.com/linux/latest/source/lib/rbtree.c
// rbtree properties:
// https://en.wikipedia.org/wiki/Red%E2%80%93black_tree#Properties
// p1. Every node is either red or black.
// p2. All NIL nodes are considered black.
// p3. A red node does not have a red child. (red-violation)
// p4. Every path from a given node to any of its descendant
//   NIL nodes goes through the same number of black nodes. (black-violation)
// p5. The root is black.
// (Conclusion) If a node X has exactly one child, it must be a red child,
//   because if it were black, its NIL descendants would sit at a different
//   black depth than X's NIL child, violating p4.
// The longest path nodes' number is 2 * shortest path nodes' number,
// so height <= 2 * log2(n+1).

/*
		 |                         |
		 X                         S
		/ \     leftRotate(X)     / \
	   L   S    ============>    X   Sd
		  / \                   / \
		Sc   Sd                L   Sc
*/
func (tree *rbTree) leftRotate(x *rbNode) {
	if x == nil || x.right == nil {
		// impossible run to here
		panic( /* debug assertion */ "[rbtree] left rotate node x is nil or x.right is nil")
	}

	p, y := x.parent, x.right
	dir := x.Direction()
	x.right, y.left = y.left, x

	x.fixLink()
	y.fixLink()

	switch dir {
	case Root:
		tree.root = y
	case Left:
		p.left = y
	case Right:
		p.right = y
	default:
		// impossible run to here
		panic( /* debug assertion */ "[rbtree] unknown node direction to left-rotate")
	}
	y.parent = p
	tree.stats.IncreaseRotateCount()
}

/*
			 |                         |
			 X                         S
			/ \     rightRotate(S)    / \
	       L   S    <============    X   R
			  / \                   / \
			Sc   Sd               Sc   Sd
*/
func (tree *rbTree) rightRotate(x *rbNode) {
	if x == nil || x.left == nil {
		// impossible run to here
		panic( /* debug assertion */ "[rbtree] right rotate node x is nil or x.left is nil")
	}

	p, y := x.parent, x.left
	dir := x.Direction()
	x.left, y.right = y.right, x

	x.fixLink()
	y.fixLink()

	switch dir {
	case Root:
		tree.root = y
	case Left:
		p.left = y
	case Right:
		p.right = y
	default:
		// impossible run to here
		panic( /* debug assertion */ "[rbtree] unknown node direction to right-rotate")
	}
	y.parent = p
	tree.stats.IncreaseRotateCount()
}

// newNode takes both the node and its key before anything is linked,
// so a failed allocation leaves the tree untouched.
func (tree *rbTree) newNode(parent *rbNode, key []byte, color RBColor) (*rbNode, error) {
	z, err := tree.nodes.newNode()
	if err != nil {
		tree.stats.IncreaseAllocFailedCount()
		tree.logger.Debug("[rbtree] node allocation failed", zap.Int64("len", tree.count), zap.Error(err))
		return nil, err
	}
	k, err := tree.keys.hold(key)
	if err != nil {
		tree.nodes.freeNode(z)
		tree.stats.IncreaseAllocFailedCount()
		tree.logger.Debug("[rbtree] key allocation failed", zap.Int("keySize", tree.keys.size()), zap.Error(err))
		return nil, err
	}
	z.parent = parent
	z.key = k
	z.color = color
	return z, nil
}

func (tree *rbTree) freeNode(z *rbNode) {
	tree.nodes.freeNode(z)
}

// i1: Empty rbtree, insert directly, but root node is painted to black.
// i2: Equal key, replace in place. No shape or color changes.
func (tree *rbTree) Insert(key []byte) error {
	if tree == nil {
		return nil
	}
	if err := tree.keys.validate(key); err != nil {
		tree.logger.Warn("[rbtree] rejected key", zap.Int("keyLen", len(key)), zap.Error(err))
		return err
	}

	if /* i1 */ tree.root == nil {
		z, err := tree.newNode(nil, key, Black)
		if err != nil {
			return err
		}
		tree.root = z
		tree.count++
		tree.stats.IncreaseInsertCount()
		tree.stats.RecordNodeCount(1)
		return nil
	}

	var (
		x, y *rbNode = tree.root, nil
		res  int64
	)
	for x != nil {
		y = x
		res = tree.keyCompare(key, x.key)
		if /* i2 */ res == 0 {
			tree.keys.replace(x, key)
			tree.stats.IncreaseReplaceCount()
			return nil
		} else /* less */ if res < 0 {
			x = x.left
		} else /* greater */ {
			x = x.right
		}
	}

	z, err := tree.newNode(y, key, Red)
	if err != nil {
		return err
	}
	if res < 0 {
		y.left = z
	} else {
		y.right = z
	}

	tree.count++
	tree.stats.IncreaseInsertCount()
	tree.stats.RecordNodeCount(1)
	tree.insertRebalance(z)
	return nil
}

/*
New node X is red by default.

<X> is a RED node.
[X] is a BLACK node (or NIL).
{X} is either a RED node or a BLACK node.

im1: Current node X's parent P is black or X is root, nothing to fix.

im2: Current node X's parent P is red and P is root. The root is repainted
into black after the loop.

im3: If both the parent P and the uncle U are red, grandpa G is black.
(red-violation)
After repainted G into red may be still red-violation.
Recursive to fix grandpa.

	    [G]             <G>
	    / \             / \
	  <P> <U>  ====>  [P] [U]
	  /               /
	<X>             <X>

im4: The parent P is red but the uncle U is black. (red-violation)
X is opposite direction to P. Rotate P to opposite direction.
After rotation may be still red-violation. Here must enter im5 to fix.

	  [G]                 [G]
	  / \    rotate(P)    / \
	<P> [U]  ========>  <X> [U]
	  \                 /
	  <X>             <P>

im5: Handle im4 scenario, current node is the same direction as parent.

	    [G]                 <P>               [P]
	    / \    rotate(G)    / \    repaint    / \
	  <P> [U]  ========>  <X> [G]  ======>  <X> <G>
	  /                         \                 \
	<X>                         [U]               [U]
*/
func (tree *rbTree) insertRebalance(x *rbNode) {
	for /* im1 */ x.parent.isRed() && x.grandpa() != nil {
		p, gp := x.parent, x.grandpa()
		if /* im3 */ u := x.uncle(); u.isRed() {
			p.color = Black
			u.color = Black
			gp.color = Red
			x = gp
			continue
		}

		dir := p.Direction()
		if /* im4 */ x.Direction() != dir {
			switch dir {
			case Left:
				tree.leftRotate(p)
			case Right:
				tree.rightRotate(p)
			default:
				// impossible run to here
				panic( /* debug assertion */ "[rbtree] insert violate (im4)")
			}
			p = x // enter im5 to fix
		}

		/* im5 */
		p.color = Black
		gp.color = Red
		switch dir {
		case Left:
			tree.rightRotate(gp)
		case Right:
			tree.leftRotate(gp)
		default:
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] insert violate (im5)")
		}
		break
	}
	/* im2 */
	tree.root.color = Black
}

func (tree *rbTree) search(key []byte) *rbNode {
	for aux := tree.root; aux != nil; {
		res := tree.keyCompare(key, aux.key)
		if res == 0 {
			return aux
		} else if res > 0 {
			aux = aux.right
		} else {
			aux = aux.left
		}
	}
	return nil
}

func (tree *rbTree) Remove(key []byte) (bool, error) {
	if tree == nil || tree.root == nil {
		return false, nil
	}
	z := tree.search(key)
	if z == nil {
		return false, nil
	}
	err := tree.removeNode(z)
	tree.count--
	tree.stats.IncreaseRemoveCount()
	tree.stats.RecordNodeCount(-1)
	return true, err
}

/*
r1: Only a root node, remove directly.

r2: Current node X has left and right node.
Find node X's pred (or succ) to replace it to be removed.
Only the key moves, the node X stays in place.
Both of pred and succ have one child at most.

Find pred:

	  |                    |
	  X                    L
	 / \                  / \
	L  ..   swap(X, L)   X  ..
		|   =========>       |
		P                    P
	   / \                  / \
	  S  ..                S  ..

r3: (1) Current node Y is a red leaf node, remove directly.

r3: (2) Current node Y is a black leaf node, we have to rebalance before
unlinking it. (black-violation)

r4: Current node Y is not a leaf node but contains a not nil child node.
The child node must be a red node. (See conclusion. Otherwise, black-violation)
*/
func (tree *rbTree) removeNode(z *rbNode) (err error) {
	if rErr := tree.keys.release(z.key); rErr != nil {
		tree.logger.Debug("[rbtree] key release failed", zap.Error(rErr))
		err = fmt.Errorf("[rbtree] release removed key: %w", rErr)
	}

	y := z
	if /* r2 */ z.left != nil && z.right != nil {
		if tree.isRmBorrowSucc {
			y = z.right.minimum() // enter r3-r4
		} else {
			y = z.left.maximum() // enter r3-r4
		}
		z.key = y.key
	}

	var replace *rbNode
	if y.left != nil {
		replace = y.left
	} else {
		replace = y.right
	}

	if /* r1 */ y.isRoot() && replace == nil {
		tree.root = nil
	} else if /* r3 */ replace == nil {
		if /* r3 (2) */ y.isBlack() {
			tree.removeRebalance(y)
		}
		switch dir := y.Direction(); dir {
		case Left:
			y.parent.left = nil
		case Right:
			y.parent.right = nil
		default:
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] y should be a leaf node, violate (r3)")
		}
	} else /* r4 */ {
		switch dir := y.Direction(); dir {
		case Root:
			tree.root = replace
		case Left:
			y.parent.left = replace
		case Right:
			y.parent.right = replace
		default:
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] impossible run to here (r4)")
		}
		replace.parent = y.parent

		if y.isBlack() {
			if replace.isRed() {
				replace.color = Black
			} else {
				tree.removeRebalance(replace)
			}
		}
	}

	if tree.root != nil {
		tree.root.color = Black
	}
	tree.freeNode(y)
	return err
}

/*
<X> is a RED node.
[X] is a BLACK node (or NIL).
{X} is either a RED node or a BLACK node.

Sc is the same direction to X and it X's sibling's child node.
Sd is the opposite direction to X and it X's sibling's child node.

rm1: Current node X's sibling S is red, so the parent P, nephew node Sc and Sd
must be black. (Otherwise, red-violation)
(1) repaint S into black, P into red.
(2) X is left node of P, left rotate P. X is right node of P, right rotate P.

	  [P]                   <S>               [S]
	  / \    l-rotate(P)    / \    repaint    / \
	[X] <S>  ==========>  [P] [D]  ======>  <P> [Sd]
	    / \               / \               / \
	 [Sc] [Sd]          [X] [Sc]          [X] [Sc]

rm2: Current node X's parent P is red, the sibling S, nephew node Sc and Sd
is black.
Repaint S into red and P into black.

	  <P>             [P]
	  / \             / \
	[X] [S]  ====>  [X] <S>
	    / \             / \
	 [Sc] [Sd]       [Sc] [Sd]

rm3: All of current node X's parent P, the sibling S, nephew node Sc and Sd
are black.
Unable to satisfy p3 and p4. We have to paint the S into red to satisfy
p4 locally. Then recursive to handle P.

	  [P]             [P]
	  / \             / \
	[X] [S]  ====>  [X] <S>
	    / \             / \
	 [Sc] [Sd]       [Sc] [Sd]

rm4: Current node X's sibling S is black, nephew node Sc is red and Sd
is black. Ignore X's parent P's color (red or black is okay)
(1) Repaint S into red, Sc into black
(2) If X is left node of P, right rotate S. If X is right node of P, left rotate S.
Enter into rm5 to fix.

	                        {P}                {P}
	  {P}                   / \                / \
	  / \    r-rotate(S)  [X] <Sc>   repaint  [X] [Sc]
	[X] [S]  ==========>        \    ======>       \
	    / \                     [S]                <S>
	  <Sc> [Sd]                   \                  \
	                              [Sd]               [Sd]

rm5: Current node X's sibling S is black, nephew node Sd is red.
Ignore X's parent P's color (red or black is okay)
(1) S takes P's color, P into black, Sd into black.
(2) If X is left node of P, left rotate P. If X is right node of P, right rotate P.

	  {P}                   [S]                {S}
	  / \    l-rotate(P)    / \     repaint    / \
	[X] [S]  ==========>  {P} <Sd>  ======>  [P] [Sd]
	    / \               / \                / \
	 [Sc] <Sd>          [X] [Sc]           [X] [Sc]
*/
func (tree *rbTree) removeRebalance(x *rbNode) {
	for !x.isRoot() && x.isBlack() {
		dir := x.Direction()
		sibling := x.sibling()
		if sibling == nil {
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] black node without sibling, violate (p4)")
		}

		if /* rm1 */ sibling.isRed() {
			sibling.color = Black
			x.parent.color = Red
			switch dir {
			case Left:
				tree.leftRotate(x.parent)
			case Right:
				tree.rightRotate(x.parent)
			default:
				// impossible run to here
				panic( /* debug assertion */ "[rbtree] remove violate (rm1)")
			}
			sibling = x.sibling() // ready to enter rm2-rm5
		}

		var sc, sd *rbNode
		switch dir {
		case Left:
			sc, sd = sibling.left, sibling.right
		case Right:
			sc, sd = sibling.right, sibling.left
		default:
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] remove violate (rm2)")
		}

		if sc.isBlack() && sd.isBlack() {
			sibling.color = Red
			if /* rm2 */ x.parent.isRed() {
				x.parent.color = Black
				return
			}
			/* rm3 */
			x = x.parent
			continue
		}

		if /* rm4 */ sd.isBlack() {
			sc.color = Black
			sibling.color = Red
			switch dir {
			case Left:
				tree.rightRotate(sibling)
				sibling = x.parent.right
				sd = sibling.right
			case Right:
				tree.leftRotate(sibling)
				sibling = x.parent.left
				sd = sibling.left
			default:
				// impossible run to here
				panic( /* debug assertion */ "[rbtree] remove violate (rm4)")
			}
		}

		/* rm5 */
		sibling.color = x.parent.color
		x.parent.color = Black
		sd.color = Black
		switch dir {
		case Left:
			tree.leftRotate(x.parent)
		case Right:
			tree.rightRotate(x.parent)
		default:
			// impossible run to here
			panic( /* debug assertion */ "[rbtree] remove violate (rm5)")
		}
		return
	}
}

func (tree *rbTree) At(key []byte) ([]byte, bool) {
	if tree == nil || tree.root == nil {
		return nil, false
	}
	z := tree.search(key)
	if z == nil {
		return nil, false
	}
	return z.key, true
}

// VisitRange is a full inorder traversal with a filter, not a pruned
// range search.
// If lo and hi are equal, it is a point query, and an absent key
// visits nothing.
func (tree *rbTree) VisitRange(lo, hi []byte, visit func(key []byte)) {
	if tree == nil || tree.root == nil || visit == nil {
		return
	}

	res := tree.keyCompare(lo, hi)
	if res == 0 {
		if z := tree.search(lo); z != nil {
			visit(z.key)
		}
		return
	} else if res > 0 {
		lo, hi = hi, lo
	}

	tree.inorder(func(aux *rbNode) bool {
		if tree.keyCompare(aux.key, lo) >= 0 && tree.keyCompare(aux.key, hi) <= 0 {
			visit(aux.key)
		}
		return true
	})
}

// Inorder traversal to implement the DFS.
func (tree *rbTree) inorder(action func(aux *rbNode) bool) {
	st := stack.NewStack[*rbNode]()
	for aux := tree.root; aux != nil; aux = aux.left {
		st.Push(aux)
	}

	for st.Len() > 0 {
		aux, _ := st.Pop()
		if !action(aux) {
			return
		}
		for aux = aux.right; aux != nil; aux = aux.left {
			st.Push(aux)
		}
	}
}

func (tree *rbTree) Foreach(action func(idx int64, color RBColor, key []byte) bool) {
	if tree == nil || tree.root == nil || action == nil {
		return
	}

	idx := int64(0)
	tree.inorder(func(aux *rbNode) bool {
		if !action(idx, aux.color, aux.key) {
			return false
		}
		idx++
		return true
	})
}

// Release is a postorder traversal, the children are always
// released before their parent.
func (tree *rbTree) Release() (merr error) {
	if tree == nil || tree.root == nil {
		return nil
	}

	released := int64(0)
	st := stack.NewStack[*rbNode]()
	var last *rbNode
	for aux := tree.root; aux != nil || st.Len() > 0; {
		if aux != nil {
			st.Push(aux)
			aux = aux.left
			continue
		}

		top, _ := st.Peek()
		if top.right != nil && top.right != last {
			aux = top.right
			continue
		}
		_, _ = st.Pop()
		if err := tree.keys.release(top.key); err != nil {
			merr = multierr.Append(merr, err)
		}
		tree.freeNode(top)
		released++
		last = top
	}

	tree.root = nil
	tree.count = 0
	tree.stats.RecordNodeCount(-released)
	if merr != nil {
		tree.logger.Debug("[rbtree] release keys failed", zap.Int64("released", released), zap.Error(merr))
		merr = fmt.Errorf("[rbtree] release: %w", merr)
	}
	return merr
}

type RBTreeOpt func(*rbTree)

func WithRBTreeDesc() RBTreeOpt {
	return func(tree *rbTree) {
		tree.isDesc = true
	}
}

// WithRBTreeRemoveBorrowSucc removes a node with two children by its
// inorder successor rather than its predecessor.
func WithRBTreeRemoveBorrowSucc() RBTreeOpt {
	return func(tree *rbTree) {
		tree.isRmBorrowSucc = true
	}
}

// WithRBTreeKeyAllocator only takes effect in non-intrusive mode.
func WithRBTreeKeyAllocator(alloc KeyAllocator) RBTreeOpt {
	return func(tree *rbTree) {
		if alloc == nil {
			return
		}
		if k, ok := tree.keys.(*ownedKeys); ok {
			k.alloc = alloc
		}
	}
}

func WithRBTreeNodeFreeList(size int) RBTreeOpt {
	return func(tree *rbTree) {
		if size < 0 {
			size = defaultNodeFreeListSize
		}
		tree.nodes = newNodeFreeList(size, tree.nodes.limit)
	}
}

// WithRBTreeMaxNodes makes the insertion fail with ErrRBTreeAllocFailed
// once the tree holds n nodes.
func WithRBTreeMaxNodes(n int64) RBTreeOpt {
	return func(tree *rbTree) {
		tree.nodes.limit = max(n, 0)
	}
}

func WithRBTreeLogger(logger xlog.XLogger) RBTreeOpt {
	return func(tree *rbTree) {
		if logger != nil {
			tree.logger = logger
		}
	}
}

// WithRBTreeStats records the tree stats into the meter
// "xboot/rbtree/<name>". The global meter provider is used
// if mp is absent.
func WithRBTreeStats(name string, mp ...metric.MeterProvider) RBTreeOpt {
	return func(tree *rbTree) {
		var provider metric.MeterProvider
		if len(mp) > 0 {
			provider = mp[0]
		}
		if len(name) == 0 {
			name = "default"
		}
		tree.stats = newRBTreeStats(name, provider)
	}
}

func newRBTree(cmp infra.KeyComparator, keys keyHolder, opts ...RBTreeOpt) *rbTree {
	tree := &rbTree{
		cmp:            cmp,
		keys:           keys,
		nodes:          newNodeFreeList(defaultNodeFreeListSize, 0),
		logger:         xlog.NewNopXLogger(),
		isDesc:         false,
		isRmBorrowSucc: false,
	}

	for _, o := range opts {
		if o != nil {
			o(tree)
		}
	}
	if tree.isDesc {
		tree.cmp = infra.ReverseComparator(tree.cmp)
	}
	return tree
}

// NewRBTree creates a non-intrusive tree, it copies exactly keySize
// bytes of every inserted key and owns the copies.
func NewRBTree(cmp infra.KeyComparator, keySize int, opts ...RBTreeOpt) (RBTree, error) {
	if cmp == nil {
		return nil, ErrRBTreeNilComparator
	}
	if keySize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrRBTreeInvalidKeySize, keySize)
	}
	return newRBTree(cmp, &ownedKeys{keySize: keySize, alloc: heapKeyAllocator{}}, opts...), nil
}

// NewIntrusiveRBTree creates a tree that only references the inserted
// keys. The caller keeps them alive and must not modify them in a way
// that changes their order while they are in the tree.
func NewIntrusiveRBTree(cmp infra.KeyComparator, opts ...RBTreeOpt) (RBTree, error) {
	if cmp == nil {
		return nil, ErrRBTreeNilComparator
	}
	return newRBTree(cmp, borrowedKeys{}, opts...), nil
}
