// Copyright © 2025-2026 Bonsai Bio <dev@bonsai.bio>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package trie implements a radix tree for bit-packed half-window
// codes, with an approximate traversal that tolerates at most one
// edit (substitution, insertion or deletion) between a query pattern
// and the stored codes.
package trie

// leafNode is used to represent a value.
type leafNode struct {
	key uint64   // ALL the bases in the node, the half-window code
	val []uint64 // yes, multiple values
}

// node represents a node in the tree, it might be the root, inner or leaf node.
type node struct {
	prefix uint64 // prefix of the current node
	k      uint8  // bases length of the prefix

	numChildren uint8
	children    [4]*node // just use an array

	leaf *leafNode // optional
}

// Tree is a radix tree for storing bit-packed half-window information.
type Tree struct {
	k    uint8 // use a global K
	root *node // root node

	numNodes     int // the number of nodes, including leaf nodes
	numLeafNodes int // the number of leaf nodes
}

// New creates a tree for codes of k bases.
func New(k uint8) *Tree {
	return &Tree{k: k, root: &node{}}
}

// K returns the K value of stored codes.
func (t *Tree) K() int {
	return int(t.k)
}

// NumNodes returns the number of nodes, including leaf nodes.
func (t *Tree) NumNodes() int {
	return t.numNodes
}

// NumLeafNodes returns the number of leaf nodes.
func (t *Tree) NumLeafNodes() int {
	return t.numLeafNodes
}

// Insert is used to add a new entry or update
// an existing entry. Returns true if an existing record is updated.
func (t *Tree) Insert(key uint64, v uint64) bool {
	key0 := key // will save it into the leaf node
	k := t.k

	var parent *node
	n := t.root
	search := key // current key
	for {
		// Handle key exhaustion
		if k == 0 {
			if n.leaf != nil {
				n.leaf.val = append(n.leaf.val, v)
				return true
			}

			// n is not a leaf node, that means
			// the current key is a prefix of some other keys.
			n.leaf = &leafNode{
				key: key0,
				val: []uint64{v},
			}
			t.numLeafNodes++

			return false
		}

		// Look for the child
		parent = n
		firstBase := KmerBaseAt(search, k, 0)
		n = n.children[firstBase]

		// No child, create one
		if n == nil {
			parent.children[firstBase] = &node{
				leaf: &leafNode{
					key: key0,
					val: []uint64{v},
				},
				prefix: search,
				k:      k,
			}
			parent.numChildren++

			t.numNodes++
			t.numLeafNodes++
			return false
		}

		// has a child -- exists a path

		// Determine longest prefix of the search key on match,
		// because k >= n.k
		commonPrefix := MustKmerLongestPrefix(search, n.prefix, k, n.k)
		// the new key is longer than key of n, continue to search.
		if commonPrefix == n.k {
			search = KmerSuffix(search, k, commonPrefix) // left bases
			k = k - commonPrefix                         // need to update it
			continue
		}

		// the new key and the key of node n share a prefix shorter than n's.
		// Split the node n
		child := &node{
			prefix: KmerPrefix(search, k, commonPrefix),
			k:      commonPrefix,
		}
		t.numNodes++
		parent.children[firstBase] = child // change from n to child

		// child points to n now
		child.children[KmerBaseAt(n.prefix, n.k, commonPrefix)] = n
		child.numChildren++
		n.prefix = KmerSuffix(n.prefix, n.k, commonPrefix)
		n.k = n.k - commonPrefix

		// Create a new leaf node for the new key
		leaf := &leafNode{
			key: key0,
			val: []uint64{v},
		}
		t.numLeafNodes++

		search = KmerSuffix(search, k, commonPrefix)
		k = k - commonPrefix
		if k == 0 { // the new key is a prefix of the old n
			child.leaf = leaf
			return false
		}

		// Create a new child node for the new key
		child.children[KmerBaseAt(search, k, 0)] = &node{
			leaf:   leaf,
			prefix: search,
			k:      k,
		}
		child.numChildren++
		t.numNodes++
		return false
	}
}

// Get is used to lookup a specific key, returning
// the value and if it was found.
func (t *Tree) Get(key uint64) ([]uint64, bool) {
	n := t.root
	search := key
	k := t.k
	for {
		// Check for key exhaustion
		if k == 0 {
			if n.leaf != nil {
				return n.leaf.val, true
			}
			break
		}

		// Look for a child
		n = n.children[KmerBaseAt(search, k, 0)]
		if n == nil { // not found
			break
		}

		// Consume the search prefix
		if MustKmerHasPrefix(search, n.prefix, k, n.k) {
			search = KmerSuffix(search, k, n.k)
			k = k - n.k
		} else {
			break
		}
	}
	return nil, false
}

// WalkFn is used for walking the tree. Takes a
// key and value, returning if iteration should
// be terminated.
type WalkFn func(key uint64, v []uint64) bool

// Walk is used to walk the whole tree.
func (t *Tree) Walk(fn WalkFn) {
	recursiveWalk(t.root, fn)
}

// recursiveWalk is used to do a pre-order walk of a node
// recursively. Returns true if the walk should be aborted.
func recursiveWalk(n *node, fn WalkFn) bool {
	if n.leaf != nil && fn(n.leaf.key, n.leaf.val) {
		return true
	}

	for _, child := range n.children {
		if child != nil && recursiveWalk(child, fn) {
			return true
		}
	}

	return false
}

// alignState is the Wu-Manber shift-and automaton state carried down
// the tree during approximate traversal. Bit i of r0 (r1) means the
// pattern prefix of i+1 bases matches the consumed tree bases with 0
// (<=1) errors. e0/e1 track the empty pattern prefix.
type alignState struct {
	r0, r1 uint64
	e0, e1 bool
}

// step advances the automaton by one tree base c (0-3).
func (wb *WindowBits) step(c uint8, s alignState) alignState {
	var b0 uint64
	if s.e0 {
		b0 = 1
	}
	var b1 uint64
	if s.e1 {
		b1 = 1
	}

	var n alignState
	n.r0 = (s.r0<<1 | b0) & wb.BK[c]
	n.r1 = (s.r1<<1|b1)&wb.B[c] | // match after one earlier error
		s.r0 | // insertion in the pattern
		(s.r0<<1 | b0) | // substitution
		(n.r0 << 1) // deletion in the pattern
	n.e0 = false
	n.e1 = s.e0
	return n
}

// TraverseAlign matches the encoded pattern against all codes in the
// tree, allowing at most one edit, and appends the values of matching
// leaves to hits. It reports whether any code matched the first K
// pattern bases exactly.
func (t *Tree) TraverseAlign(wb *WindowBits, hits *[]uint64) (foundExact bool) {
	if t.root.numChildren == 0 {
		return false
	}

	k := t.k
	exactBit := uint64(1) << (k - 1)
	acceptMask := exactBit | exactBit>>1
	if wb.Extended {
		acceptMask |= exactBit << 1
	}

	// bit 0 of r1: the first pattern base deleted before consuming
	// any tree base
	s0 := alignState{r0: 0, r1: 1, e0: true, e1: true}

	var walk func(n *node, s alignState)
	walk = func(n *node, s alignState) {
		var i uint8
		for i = 0; i < n.k; i++ {
			s = wb.step(KmerBaseAt(n.prefix, n.k, i), s)
			if s.r0 == 0 && s.r1 == 0 && !s.e1 {
				return // no viable state left
			}
		}

		if n.leaf != nil {
			if s.r0&exactBit > 0 {
				foundExact = true
				*hits = append(*hits, n.leaf.val...)
			} else if s.r1&acceptMask > 0 {
				*hits = append(*hits, n.leaf.val...)
			}
			return
		}

		for _, child := range n.children {
			if child != nil {
				walk(child, s)
			}
		}
	}

	for _, child := range t.root.children {
		if child != nil {
			walk(child, s0)
		}
	}
	return foundExact
}
