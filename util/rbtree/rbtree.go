package rbtree

/*
 * PSX - Red-black tree for the block index
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

type color uint8

const (
	red color = iota
	black
)

// Node is one entry of the tree. Key is the lookup key, Value is an
// opaque payload owned by the caller.
type Node struct {
	Key   uint32
	Value any

	left   *Node
	right  *Node
	parent *Node
	color  color
}

// Tree is an insert-replace red-black tree: inserting a duplicate key
// swaps the old node out instead of keeping both, which matches how
// the block index recompiles over stale entries. There is no delete.
type Tree struct {
	root *Node
}

func (t *Tree) nodeInsert(p, n *Node) *Node {
	if p.Key == n.Key {
		gp := p.parent

		// We got a duplicate: replace and return the old value
		n.left, n.right, n.parent, n.color = p.left, p.right, p.parent, p.color
		if gp != nil {
			if gp.left == p {
				gp.left = n
			} else {
				gp.right = n
			}
		}

		if n.left != nil {
			n.left.parent = n
		}
		if n.right != nil {
			n.right.parent = n
		}

		p.parent = nil
		p.left = nil
		p.right = nil

		return p
	}

	if p.Key > n.Key {
		if p.left != nil {
			return t.nodeInsert(p.left, n)
		}
		n.parent = p
		p.left = n
		return nil
	}
	if p.right != nil {
		return t.nodeInsert(p.right, n)
	}
	n.parent = p
	p.right = n
	return nil
}

func sibling(n *Node) *Node {
	p := n.parent

	if p != nil {
		if n == p.left {
			return p.right
		}
		return p.left
	}
	return nil
}

func uncle(n *Node) *Node {
	if n.parent != nil {
		return sibling(n.parent)
	}
	return nil
}

// Rotate n with n.right:
//
//	   N                 R
//	  / \               / \
//	 x   R      =>     N   z
//	    / \           / \
//	   y   z         x   y
func rotateLeft(n *Node) {
	r := n.right
	p := n.parent

	y := r.left

	n.right = y
	r.left = n

	r.parent = n.parent
	n.parent = r

	if y != nil {
		y.parent = n
	}

	if p != nil {
		if p.left == n {
			p.left = r
		} else {
			p.right = r
		}
	}
}

// Rotate n with n.left; mirror image of rotateLeft.
func rotateRight(n *Node) {
	l := n.left
	p := n.parent

	y := l.right

	n.left = y
	l.right = n

	l.parent = n.parent
	n.parent = l

	if y != nil {
		y.parent = n
	}

	if p != nil {
		if p.left == n {
			p.left = l
		} else {
			p.right = l
		}
	}
}

// Rebalance after insertion. Returns the new root if it changed,
// otherwise nil.
func balance(n *Node) *Node {
	p := n.parent

	if p == nil {
		// We're the root
		n.color = black
		return p
	}

	if p.color == black {
		// Already balanced, nothing to do
		return nil
	}

	// p isn't black so it can't be the root, gp can't be nil
	gp := p.parent
	u := uncle(n)

	if u != nil && u.color == red {
		// Both parent and uncle are red, paint them black.
		p.color = black
		u.color = black

		// To keep the black-depth invariant we paint the
		// grandparent red and rebalance from there.
		gp.color = red
		return balance(gp)
	}

	// Parent is red, uncle is black. If the node is on the inside
	// of the grandparent's subtree, rotate it with its parent to
	// put it outside.
	if gp.left != nil && n == gp.left.right {
		rotateLeft(p)
		p = n
		n = n.left
	} else if gp.right != nil && n == gp.right.left {
		rotateRight(p)
		p = n
		n = n.right
	}

	// n is now at the outside of the subtree rooted at its
	// grandparent; rotating with the grandparent balances it.
	if n == p.left {
		rotateRight(gp)
	} else {
		rotateLeft(gp)
	}
	p.color = black
	gp.color = red

	if p.parent == nil {
		// We're the new root
		return p
	}
	return nil
}

// Insert adds n to the tree. If a node with the same key exists it is
// removed from the tree and returned, otherwise nil is returned.
func (t *Tree) Insert(n *Node) *Node {
	n.left = nil
	n.right = nil

	if t.root == nil {
		// First node, it's the root
		t.root = n
		n.parent = nil
		n.color = black
		return nil
	}

	n.color = red
	old := t.nodeInsert(t.root, n)

	if old != nil {
		if old == t.root {
			t.root = n
		}
		// We replaced an existing node, no balancing necessary.
		return old
	}

	if nr := balance(n); nr != nil {
		// Root changed
		t.root = nr
	}
	return nil
}

// Find returns the node matching key, or nil.
func (t *Tree) Find(key uint32) *Node {
	n := t.root

	for n != nil {
		if n.Key == key {
			return n
		}

		if n.Key > key {
			n = n.left
		} else {
			n = n.right
		}
	}
	return nil
}

func nodeVisit(n *Node, visitor func(*Node)) {
	if n != nil {
		nodeVisit(n.left, visitor)
		visitor(n)
		nodeVisit(n.right, visitor)
	}
}

// Visit walks the entire tree in key order and runs visitor on each
// node.
func (t *Tree) Visit(visitor func(*Node)) {
	nodeVisit(t.root, visitor)
}
