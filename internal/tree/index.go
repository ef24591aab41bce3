package tree

import (
	"sort"
)

// Index is the nested-set table for a whole forest.
//
// Reads are safe for concurrent use as long as nobody mutates the same
// Index. Writers Clone, mutate the clone, and publish it.
type Index struct {
	rows  []Node // ordered by (TreeID, Left)
	pos   map[int64]int
	codes map[codeKey]int64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		pos:   make(map[int64]int),
		codes: make(map[codeKey]int64),
	}
}

// Load builds an index from rows whose tree attributes were persisted by a
// previous mutation. It fails when the stored attributes do not describe a
// consistent forest, in which case the caller should Build from parent
// pointers instead.
func Load(nodes []Node) (*Index, error) {
	ix := New()
	ix.rows = make([]Node, len(nodes))
	copy(ix.rows, nodes)
	if err := ix.reindex(); err != nil {
		return nil, err
	}
	if err := ix.Validate(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Clone returns a deep copy that can be mutated without affecting ix.
func (ix *Index) Clone() *Index {
	c := &Index{
		rows:  make([]Node, len(ix.rows)),
		pos:   make(map[int64]int, len(ix.pos)),
		codes: make(map[codeKey]int64, len(ix.codes)),
	}
	copy(c.rows, ix.rows)
	for k, v := range ix.pos {
		c.pos[k] = v
	}
	for k, v := range ix.codes {
		c.codes[k] = v
	}
	return c
}

// Len returns the number of nodes in the forest.
func (ix *Index) Len() int {
	return len(ix.rows)
}

// Get returns the node with the given id.
func (ix *Index) Get(id int64) (Node, bool) {
	i, ok := ix.pos[id]
	if !ok {
		return Node{}, false
	}
	return ix.rows[i], true
}

// Lookup returns the node registered under (code, kind).
func (ix *Index) Lookup(code string, kind int64) (Node, bool) {
	id, ok := ix.codes[codeKey{code: code, kind: kind}]
	if !ok {
		return Node{}, false
	}
	return ix.Get(id)
}

// Nodes returns a copy of every row in (tree_id, left) order.
func (ix *Index) Nodes() []Node {
	out := make([]Node, len(ix.rows))
	copy(out, ix.rows)
	return out
}

// Roots returns the root of every tree, ordered by tree id.
func (ix *Index) Roots() []Node {
	roots := make([]Node, 0)
	for _, n := range ix.rows {
		if n.Left == 1 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Ancestors returns every node whose range strictly contains id's range,
// root first. It returns nil for an unknown id.
func (ix *Index) Ancestors(id int64) []Node {
	i, ok := ix.pos[id]
	if !ok {
		return nil
	}
	n := ix.rows[i]
	out := make([]Node, 0, n.Level)
	for j := ix.treeStart(n.TreeID); j < i; j++ {
		if ix.rows[j].Right > n.Right {
			out = append(out, ix.rows[j])
		}
	}
	return out
}

// Descendants returns every node strictly inside id's range in preorder.
// It returns nil for an unknown id.
func (ix *Index) Descendants(id int64) []Node {
	i, ok := ix.pos[id]
	if !ok {
		return nil
	}
	n := ix.rows[i]
	out := make([]Node, 0, n.Size()-1)
	for j := i + 1; j < len(ix.rows) && ix.rows[j].TreeID == n.TreeID && ix.rows[j].Left < n.Right; j++ {
		out = append(out, ix.rows[j])
	}
	return out
}

// Children returns the direct descendants of id in sibling order.
func (ix *Index) Children(id int64) []Node {
	i, ok := ix.pos[id]
	if !ok {
		return nil
	}
	n := ix.rows[i]
	out := make([]Node, 0)
	for j := i + 1; j < len(ix.rows) && ix.rows[j].TreeID == n.TreeID && ix.rows[j].Left < n.Right; {
		c := ix.rows[j]
		out = append(out, c)
		// skip the child's own subtree
		j += c.Size()
	}
	return out
}

// AncestorAtLevel returns the ancestor of id at the given level. When id is
// already at or above that depth the node itself is returned.
func (ix *Index) AncestorAtLevel(id int64, level int) (Node, bool) {
	n, ok := ix.Get(id)
	if !ok {
		return Node{}, false
	}
	if n.Level <= level {
		return n, true
	}
	for _, a := range ix.Ancestors(id) {
		if a.Level == level {
			return a, true
		}
	}
	return Node{}, false
}

// IsAncestor reports whether a is a proper ancestor of b.
func (ix *Index) IsAncestor(a, b int64) bool {
	na, ok := ix.Get(a)
	if !ok {
		return false
	}
	nb, ok := ix.Get(b)
	if !ok {
		return false
	}
	return na.Contains(nb)
}

// Tree returns every node of one tree in preorder.
func (ix *Index) Tree(treeID int) []Node {
	start := ix.treeStart(treeID)
	end := start
	for end < len(ix.rows) && ix.rows[end].TreeID == treeID {
		end++
	}
	out := make([]Node, end-start)
	copy(out, ix.rows[start:end])
	return out
}

func (ix *Index) treeStart(treeID int) int {
	return sort.Search(len(ix.rows), func(i int) bool {
		return ix.rows[i].TreeID >= treeID
	})
}

// reindex restores the row order and rebuilds the lookup maps.
func (ix *Index) reindex() error {
	sort.Slice(ix.rows, func(i, j int) bool {
		if ix.rows[i].TreeID != ix.rows[j].TreeID {
			return ix.rows[i].TreeID < ix.rows[j].TreeID
		}
		return ix.rows[i].Left < ix.rows[j].Left
	})
	ix.pos = make(map[int64]int, len(ix.rows))
	ix.codes = make(map[codeKey]int64, len(ix.rows))
	for i, n := range ix.rows {
		if _, dup := ix.pos[n.ID]; dup {
			return &CorruptionError{Detail: "duplicate node id " + n.String()}
		}
		ix.pos[n.ID] = i
		key := codeKey{code: n.Code, kind: n.Kind}
		if _, dup := ix.codes[key]; dup {
			return duplicateCode(n)
		}
		ix.codes[key] = n.ID
	}
	return nil
}
