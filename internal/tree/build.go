package tree

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidParents is returned by Build when parent pointers do not form a
// forest.
var ErrInvalidParents = errors.New("parent pointers do not form a forest")

// Build computes a fresh index from parent pointers alone. Left, Right,
// TreeID and Level on the input are ignored. Roots are numbered as trees
// 1..k in name order and every sibling group is visited in name order.
func Build(nodes []Node) (*Index, error) {
	byID := make(map[int64]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("%w: node %d appears twice", ErrInvalidParents, n.ID)
		}
		byID[n.ID] = struct{}{}
	}

	var roots []Node
	kids := make(map[int64][]Node)
	for _, n := range nodes {
		if n.IsRoot() {
			roots = append(roots, n)
			continue
		}
		if _, ok := byID[n.Parent]; !ok {
			return nil, fmt.Errorf("%w: node %d references missing parent %d", ErrInvalidParents, n.ID, n.Parent)
		}
		kids[n.Parent] = append(kids[n.Parent], n)
	}
	sort.Slice(roots, func(i, j int) bool { return before(roots[i], roots[j]) })
	for _, group := range kids {
		sort.Slice(group, func(i, j int) bool { return before(group[i], group[j]) })
	}

	ix := New()
	ix.rows = make([]Node, 0, len(nodes))
	for i, root := range roots {
		number(root, kids, i+1, &ix.rows)
	}
	if len(ix.rows) != len(nodes) {
		// whatever was not reached from a root sits on a parent cycle
		return nil, fmt.Errorf("%w: %d nodes are part of a cycle", ErrInvalidParents, len(nodes)-len(ix.rows))
	}

	if err := ix.reindex(); err != nil {
		return nil, err
	}
	ix.assertConsistent("build")
	return ix, nil
}

// number appends root's subtree to out in preorder with fresh index values.
func number(root Node, kids map[int64][]Node, treeID int, out *[]Node) {
	type frame struct {
		row  int
		next int
	}

	counter := 1
	root.Parent, root.TreeID, root.Level, root.Left = 0, treeID, 0, counter
	*out = append(*out, root)
	stack := []frame{{row: len(*out) - 1}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		cur := (*out)[top.row]
		children := kids[cur.ID]
		if top.next < len(children) {
			c := children[top.next]
			top.next++
			counter++
			c.TreeID, c.Level, c.Left = treeID, cur.Level+1, counter
			*out = append(*out, c)
			stack = append(stack, frame{row: len(*out) - 1})
			continue
		}
		counter++
		(*out)[top.row].Right = counter
		stack = stack[:len(stack)-1]
	}
}
