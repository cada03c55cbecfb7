package crdt

// posTree is an order-statistic treap over sequence elements in
// document order. Every element ever inserted stays in the tree;
// tombstoning only flips the live bit. Subtree counts keep both
// rank queries and visible-index lookups logarithmic.

type posNode struct {
	left, right, parent *posNode
	elem                *Elem
	pri                 uint64
	cnt                 int // nodes in subtree, self included
	vis                 int // live nodes in subtree
	live                bool
}

type posTree struct {
	root *posNode
	rng  uint64
}

func newPosTree() *posTree {
	return &posTree{rng: 0x9e3779b97f4a7c15}
}

func (t *posTree) nextPri() uint64 {
	t.rng ^= t.rng << 13
	t.rng ^= t.rng >> 7
	t.rng ^= t.rng << 17
	return t.rng
}

func cnt(n *posNode) int {
	if n == nil {
		return 0
	}
	return n.cnt
}

func vis(n *posNode) int {
	if n == nil {
		return 0
	}
	return n.vis
}

func liveBit(live bool) int {
	if live {
		return 1
	}
	return 0
}

func (n *posNode) recalc() {
	n.cnt = 1 + cnt(n.left) + cnt(n.right)
	n.vis = liveBit(n.live) + vis(n.left) + vis(n.right)
}

// Len is the total element count, tombstones included.
func (t *posTree) Len() int {
	return cnt(t.root)
}

// VisLen is the count of live elements.
func (t *posTree) VisLen() int {
	return vis(t.root)
}

// Rank counts the nodes preceding n in document order.
func (t *posTree) Rank(n *posNode) int {
	r := cnt(n.left)
	for ; n.parent != nil; n = n.parent {
		if n.parent.right == n {
			r += cnt(n.parent.left) + 1
		}
	}
	return r
}

// InsertAt places n at document index idx, counting tombstones.
func (t *posTree) InsertAt(idx int, n *posNode) {
	n.pri = t.nextPri()
	n.cnt = 1
	n.vis = liveBit(n.live)
	if t.root == nil {
		t.root = n
		return
	}
	cur := t.root
	for {
		l := cnt(cur.left)
		if idx <= l {
			if cur.left == nil {
				cur.left = n
				break
			}
			cur = cur.left
		} else {
			idx -= l + 1
			if cur.right == nil {
				cur.right = n
				break
			}
			cur = cur.right
		}
	}
	n.parent = cur
	for p := n.parent; p != nil; p = p.parent {
		p.cnt++
		p.vis += n.vis
	}
	for n.parent != nil && n.pri < n.parent.pri {
		if n.parent.left == n {
			t.rotateRight(n.parent)
		} else {
			t.rotateLeft(n.parent)
		}
	}
}

// AtVis returns the idx-th live node, nil if out of range.
func (t *posTree) AtVis(idx int) *posNode {
	if idx < 0 || idx >= vis(t.root) {
		return nil
	}
	cur := t.root
	for cur != nil {
		l := vis(cur.left)
		switch {
		case idx < l:
			cur = cur.left
		case idx == l && cur.live:
			return cur
		default:
			idx -= l + liveBit(cur.live)
			cur = cur.right
		}
	}
	return nil
}

// At returns the idx-th node counting tombstones, nil if out of range.
func (t *posTree) At(idx int) *posNode {
	if idx < 0 || idx >= cnt(t.root) {
		return nil
	}
	cur := t.root
	for cur != nil {
		l := cnt(cur.left)
		switch {
		case idx < l:
			cur = cur.left
		case idx == l:
			return cur
		default:
			idx -= l + 1
			cur = cur.right
		}
	}
	return nil
}

func (t *posTree) SetLive(n *posNode, live bool) {
	if n.live == live {
		return
	}
	n.live = live
	d := 1
	if !live {
		d = -1
	}
	for ; n != nil; n = n.parent {
		n.vis += d
	}
}

func (t *posTree) rotateRight(p *posNode) {
	q := p.left
	t.replaceChild(p, q)
	p.left = q.right
	if p.left != nil {
		p.left.parent = p
	}
	q.right = p
	p.parent = q
	p.recalc()
	q.recalc()
}

func (t *posTree) rotateLeft(p *posNode) {
	q := p.right
	t.replaceChild(p, q)
	p.right = q.left
	if p.right != nil {
		p.right.parent = p
	}
	q.left = p
	p.parent = q
	p.recalc()
	q.recalc()
}

func (t *posTree) replaceChild(old, new *posNode) {
	new.parent = old.parent
	if old.parent == nil {
		t.root = new
	} else if old.parent.left == old {
		old.parent.left = new
	} else {
		old.parent.right = new
	}
}

// next is the in-order successor, tombstones included.
func (n *posNode) next() *posNode {
	if n.right != nil {
		n = n.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	for n.parent != nil && n.parent.right == n {
		n = n.parent
	}
	return n.parent
}
