package btree

import (
	"errors"
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Constants & Errors
// --------------------------------------------------------------------------

const (
	// DefaultDegree is the minimum degree used by the index builder
	DefaultDegree = 4

	// MinDegree is the smallest degree a tree can be constructed with
	MinDegree = 2
)

// ErrInvalidDegree is returned when a tree is constructed with a degree below MinDegree
var ErrInvalidDegree = errors.New("btree: degree must be at least 2")

// --------------------------------------------------------------------------
// Core Tree structure
// --------------------------------------------------------------------------

// node is a single B-tree node stored in the arena of its tree.
// Children are referenced by their handle (index into Tree.nodes).
type node struct {
	leaf     bool
	keys     []string
	values   []uint64
	children []int32
}

// find returns the position of the first key >= key and whether that key is equal
func (n *node) find(key string) (int, bool) {
	i := sort.SearchStrings(n.keys, key)
	return i, i < len(n.keys) && n.keys[i] == key
}

// Tree is a classic preemptive-split B-tree with minimum degree t mapping
// string keys to uint64 locators (byte offsets into a record file).
//
// Every node holds at most 2t-1 keys, every node except the root at least t-1.
// Nodes live in an arena and reference their children by handle, there are no
// parent links.
//
// Thread-safety: Search, Ascend, Len and Height may be called concurrently once
// the tree is no longer mutated. Insert must not run concurrently with anything else.
type Tree struct {
	degree int
	nodes  []node
	root   int32
	count  int
}

// New creates an empty tree with the given minimum degree
func New(degree int) (*Tree, error) {
	if degree < MinDegree {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidDegree, degree)
	}
	t := &Tree{degree: degree}
	t.root = t.alloc(true)
	return t, nil
}

// MustNew is like New but panics if the degree is invalid
func MustNew(degree int) *Tree {
	t, err := New(degree)
	if err != nil {
		panic(err)
	}
	return t
}

// Degree returns the minimum degree of the tree
func (t *Tree) Degree() int {
	return t.degree
}

// Len returns the number of keys stored in the tree
func (t *Tree) Len() int {
	return t.count
}

// Height returns the number of levels of the tree (1 for a tree that is a single leaf)
func (t *Tree) Height() int {
	h := 1
	for n := &t.nodes[t.root]; !n.leaf; n = &t.nodes[n.children[0]] {
		h++
	}
	return h
}

func (t *Tree) maxKeys() int {
	return 2*t.degree - 1
}

// alloc appends a new node to the arena and returns its handle.
// Pointers into t.nodes are invalid after a call to alloc.
func (t *Tree) alloc(leaf bool) int32 {
	t.nodes = append(t.nodes, node{leaf: leaf})
	return int32(len(t.nodes) - 1)
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

// Insert stores value under key. If the key already exists its value is
// overwritten (last write wins) and Len does not change.
func (t *Tree) Insert(key string, value uint64) {
	if len(t.nodes[t.root].keys) == t.maxKeys() {
		oldRoot := t.root
		newRoot := t.alloc(false)
		t.nodes[newRoot].children = append(t.nodes[newRoot].children, oldRoot)
		t.root = newRoot
		t.splitChild(newRoot, 0)
	}
	t.insertNonFull(t.root, key, value)
}

// insertNonFull descends from a node that is known not to be full, splitting
// every full child before entering it
func (t *Tree) insertNonFull(idx int32, key string, value uint64) {
	for {
		n := &t.nodes[idx]
		i, found := n.find(key)
		if found {
			n.values[i] = value
			return
		}

		if n.leaf {
			n.keys = insertAt(n.keys, i, key)
			n.values = insertAt(n.values, i, value)
			t.count++
			return
		}

		if len(t.nodes[n.children[i]].keys) == t.maxKeys() {
			t.splitChild(idx, i)

			// the split allocated a node, re-fetch the parent
			n = &t.nodes[idx]
			if key == n.keys[i] {
				n.values[i] = value
				return
			}
			if key > n.keys[i] {
				i++
			}
		}
		idx = n.children[i]
	}
}

// splitChild splits the full child at position i of parent. The median key is
// moved into parent, the upper t-1 keys (and t children) into a new sibling.
func (t *Tree) splitChild(parent int32, i int) {
	childIdx := t.nodes[parent].children[i]
	siblingIdx := t.alloc(t.nodes[childIdx].leaf)

	child := &t.nodes[childIdx]
	sibling := &t.nodes[siblingIdx]
	mid := t.degree - 1

	medianKey, medianValue := child.keys[mid], child.values[mid]

	sibling.keys = append([]string(nil), child.keys[mid+1:]...)
	sibling.values = append([]uint64(nil), child.values[mid+1:]...)
	clear(child.keys[mid:])
	child.keys = child.keys[:mid]
	child.values = child.values[:mid]

	if !child.leaf {
		sibling.children = append([]int32(nil), child.children[t.degree:]...)
		child.children = child.children[:t.degree]
	}

	p := &t.nodes[parent]
	p.keys = insertAt(p.keys, i, medianKey)
	p.values = insertAt(p.values, i, medianValue)
	p.children = insertAt(p.children, i+1, siblingIdx)
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Search returns the value stored under key. The boolean is false if the key
// was never inserted.
func (t *Tree) Search(key string) (uint64, bool) {
	idx := t.root
	for {
		n := &t.nodes[idx]
		i, found := n.find(key)
		if found {
			return n.values[i], true
		}
		if n.leaf {
			return 0, false
		}
		idx = n.children[i]
	}
}

// Ascend calls fn for every key in ascending order until fn returns false
func (t *Tree) Ascend(fn func(key string, value uint64) bool) {
	t.ascend(t.root, fn)
}

func (t *Tree) ascend(idx int32, fn func(key string, value uint64) bool) bool {
	n := &t.nodes[idx]
	for i, key := range n.keys {
		if !n.leaf && !t.ascend(n.children[i], fn) {
			return false
		}
		if !fn(key, n.values[i]) {
			return false
		}
	}
	if !n.leaf {
		return t.ascend(n.children[len(n.keys)], fn)
	}
	return true
}

// --------------------------------------------------------------------------
// Invariant Check
// --------------------------------------------------------------------------

// Check verifies the structural invariants of the tree: ordered keys, degree
// bounds, child counts and a uniform leaf depth. It returns the first violation found.
func (t *Tree) Check() error {
	if t.degree < MinDegree {
		return fmt.Errorf("%w (got %d)", ErrInvalidDegree, t.degree)
	}
	if int(t.root) < 0 || int(t.root) >= len(t.nodes) {
		return fmt.Errorf("btree: root handle %d out of range", t.root)
	}

	c := checker{tree: t, leafDepth: -1}
	if err := c.walk(t.root, 0, nil, nil); err != nil {
		return err
	}
	if c.keys != t.count {
		return fmt.Errorf("btree: counted %d keys, tree reports %d", c.keys, t.count)
	}
	return nil
}

type checker struct {
	tree      *Tree
	leafDepth int
	keys      int
}

func (c *checker) walk(idx int32, depth int, lower, upper *string) error {
	t := c.tree
	n := &t.nodes[idx]

	if len(n.values) != len(n.keys) {
		return fmt.Errorf("btree: node %d has %d keys but %d values", idx, len(n.keys), len(n.values))
	}
	if len(n.keys) > t.maxKeys() {
		return fmt.Errorf("btree: node %d has %d keys, max is %d", idx, len(n.keys), t.maxKeys())
	}
	if idx != t.root && len(n.keys) < t.degree-1 {
		return fmt.Errorf("btree: node %d has %d keys, min is %d", idx, len(n.keys), t.degree-1)
	}

	for i, key := range n.keys {
		if i > 0 && n.keys[i-1] >= key {
			return fmt.Errorf("btree: node %d keys not strictly increasing at %d", idx, i)
		}
		if (lower != nil && key <= *lower) || (upper != nil && key >= *upper) {
			return fmt.Errorf("btree: node %d key %q outside of parent range", idx, key)
		}
	}
	c.keys += len(n.keys)

	if n.leaf {
		if len(n.children) != 0 {
			return fmt.Errorf("btree: leaf %d has children", idx)
		}
		if c.leafDepth == -1 {
			c.leafDepth = depth
		} else if c.leafDepth != depth {
			return fmt.Errorf("btree: leaf %d at depth %d, expected %d", idx, depth, c.leafDepth)
		}
		return nil
	}

	if len(n.children) != len(n.keys)+1 {
		return fmt.Errorf("btree: node %d has %d keys but %d children", idx, len(n.keys), len(n.children))
	}
	for i, child := range n.children {
		if int(child) < 0 || int(child) >= len(t.nodes) || child == idx {
			return fmt.Errorf("btree: node %d has invalid child handle %d", idx, child)
		}
		lo, hi := lower, upper
		if i > 0 {
			lo = &n.keys[i-1]
		}
		if i < len(n.keys) {
			hi = &n.keys[i]
		}
		if err := c.walk(child, depth+1, lo, hi); err != nil {
			return err
		}
	}
	return nil
}
