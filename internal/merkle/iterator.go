package merkle

import "math/rand/v2"

// Filter hooks let a caller prune or skip nodes during traversal (spec §4.5).
// ShouldVisit, if non-nil and false for a node, prunes that node's entire
// subtree. ShouldReturn, if non-nil and false for a node, skips returning
// that node from Next while still visiting its descendants.
type Filter struct {
	ShouldVisit  func(Node) bool
	ShouldReturn func(Node) bool
}

func (f Filter) visit(n Node) bool {
	return f.ShouldVisit == nil || f.ShouldVisit(n)
}

func (f Filter) ret(n Node) bool {
	return f.ShouldReturn == nil || f.ShouldReturn(n)
}

// Iterator produces a lazy, finite, non-restartable sequence of nodes.
type Iterator interface {
	// Next advances the iterator and reports whether a node was produced.
	Next() (Node, bool)
}

// PreOrder visits a node before its children, in declared child order.
func PreOrder(root Node, filter Filter) Iterator {
	it := &stackIterator{order: preOrder, filter: filter}
	if root != nil && filter.visit(root) {
		it.stack = append(it.stack, frame{node: root})
	}
	return it
}

// PostOrder visits a node after all of its children — the traversal used to
// drive bottom-up hashing (spec §4.5).
func PostOrder(root Node, filter Filter) Iterator {
	it := &stackIterator{order: postOrder, filter: filter}
	if root != nil && filter.visit(root) {
		it.stack = append(it.stack, frame{node: root})
	}
	return it
}

// frame tracks a node awaiting either pre-order emission/expansion or
// post-order re-visit after its children have been pushed.
type frame struct {
	node     Node
	expanded bool
}

type traversalOrder int

const (
	preOrder traversalOrder = iota
	postOrder
)

type stackIterator struct {
	order   traversalOrder
	filter  Filter
	stack   []frame
	shuffle func([]Node)
}

func childrenOf(n Node) []Node {
	in, ok := n.(*Internal)
	if !ok {
		return nil
	}
	return in.Children()
}

func (it *stackIterator) Next() (Node, bool) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		if it.order == preOrder {
			node := top.node
			it.stack = it.stack[:len(it.stack)-1]
			it.pushChildren(node)
			if it.filter.ret(node) {
				return node, true
			}
			continue
		}

		// post-order
		if !top.expanded {
			top.expanded = true
			node := top.node
			it.pushChildren(node)
			continue
		}
		node := top.node
		it.stack = it.stack[:len(it.stack)-1]
		if it.filter.ret(node) {
			return node, true
		}
	}
	return nil, false
}

func (it *stackIterator) pushChildren(n Node) {
	children := childrenOf(n)
	if it.shuffle != nil {
		shuffled := make([]Node, len(children))
		copy(shuffled, children)
		it.shuffle(shuffled)
		children = shuffled
	}
	// Push in reverse so the first child is processed first (stack pops
	// last-in-first-out).
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if c == nil || !it.filter.visit(c) {
			continue
		}
		it.stack = append(it.stack, frame{node: c})
	}
}

// BreadthFirst visits level by level, children in declared order within a
// level.
func BreadthFirst(root Node, filter Filter) Iterator {
	it := &queueIterator{filter: filter}
	if root != nil && filter.visit(root) {
		it.queue = append(it.queue, root)
	}
	return it
}

type queueIterator struct {
	filter Filter
	queue  []Node
}

func (it *queueIterator) Next() (Node, bool) {
	for len(it.queue) > 0 {
		node := it.queue[0]
		it.queue = it.queue[1:]

		for _, c := range childrenOf(node) {
			if c == nil || !it.filter.visit(c) {
				continue
			}
			it.queue = append(it.queue, c)
		}

		if it.filter.ret(node) {
			return node, true
		}
	}
	return nil, false
}

// RandomizedDepthFirst visits depth-first, but shuffles each node's child
// list with a PCG-seeded PRNG before descending — used to reduce hash
// collisions among worker threads during parallel bottom-up hashing
// (spec §4.5).
func RandomizedDepthFirst(root Node, filter Filter, seed1, seed2 uint64) Iterator {
	it := &stackIterator{order: postOrder, filter: filter}
	rng := rand.New(rand.NewPCG(seed1, seed2))
	it.shuffle = func(nodes []Node) {
		rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	}
	if root != nil && filter.visit(root) {
		it.stack = append(it.stack, frame{node: root})
	}
	return it
}

// HashIterator restricts PostOrder to nodes whose hash is currently null and
// which are not self-hashing; a self-hashing node with a null hash is a
// fatal invariant violation rather than silently skipped (spec §4.5).
func HashIterator(root Node) Iterator {
	filter := Filter{
		ShouldReturn: func(n Node) bool {
			if leaf, ok := n.(*Leaf); ok && leaf.IsSelfHashing() {
				if _, ok := leaf.getHash(); !ok {
					panic("merkle: self-hashing leaf has no hash")
				}
				return false
			}
			_, hashed := n.CachedHash()
			return !hashed
		},
	}
	return PostOrder(root, filter)
}

// CachedHash reports whether n's hash is already cached, without computing
// it (Hash() on Internal/Leaf computes lazily, which HashIterator must not
// trigger while deciding what still needs hashing).
func (n *Leaf) CachedHash() (Hash, bool) { return n.getHash() }

// CachedHash implements the same non-computing peek for Internal.
func (n *Internal) CachedHash() (Hash, bool) { return n.getHash() }
