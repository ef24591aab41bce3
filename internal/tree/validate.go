package tree

import (
	"fmt"
)

// CorruptionError describes a broken nested-set invariant. Mutations panic
// with it; it is only returned by Load and Validate.
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string {
	return "tree index corrupt: " + e.Detail
}

// Validate checks every structural invariant of the index:
//   - tree ids are dense from 1 and each tree has exactly one root
//   - within a tree, left and right values are a permutation of 1..2m
//   - ranges nest strictly, and the immediate container of a row is its parent
//   - levels are the parent's level plus one
//
// Sibling name order is not checked; see OutOfOrder.
func (ix *Index) Validate() error {
	if len(ix.rows) == 0 {
		return nil
	}

	start := 0
	wantTree := 1
	for start < len(ix.rows) {
		treeID := ix.rows[start].TreeID
		if treeID != wantTree {
			return corrupt("tree id %d found where %d was expected", treeID, wantTree)
		}
		end := start
		for end < len(ix.rows) && ix.rows[end].TreeID == treeID {
			end++
		}
		if err := validateTree(ix.rows[start:end]); err != nil {
			return err
		}
		start = end
		wantTree++
	}
	return nil
}

func validateTree(rows []Node) error {
	root := rows[0]
	m := len(rows)
	if !root.IsRoot() || root.Left != 1 || root.Right != 2*m || root.Level != 0 {
		return corrupt("tree %d: first row %s is not a root spanning 1..%d", root.TreeID, root, 2*m)
	}

	seen := make([]bool, 2*m+1)
	mark := func(v int, n Node) error {
		if v < 1 || v > 2*m {
			return corrupt("tree %d: %s has value %d outside 1..%d", n.TreeID, n, v, 2*m)
		}
		if seen[v] {
			return corrupt("tree %d: value %d used twice (at %s)", n.TreeID, v, n)
		}
		seen[v] = true
		return nil
	}

	var stack []Node
	for i, n := range rows {
		if n.Left >= n.Right {
			return corrupt("%s has left >= right", n)
		}
		if err := mark(n.Left, n); err != nil {
			return err
		}
		if err := mark(n.Right, n); err != nil {
			return err
		}

		for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		if i == 0 {
			stack = append(stack, n)
			continue
		}
		if len(stack) == 0 {
			return corrupt("%s lies outside its tree root", n)
		}
		container := stack[len(stack)-1]
		if n.Right >= container.Right {
			return corrupt("%s partially overlaps %s", n, container)
		}
		if n.Parent != container.ID {
			return corrupt("%s is nested in %s but its parent is %d", n, container, n.Parent)
		}
		if n.Level != container.Level+1 {
			return corrupt("%s has level %d under %s", n, n.Level, container)
		}
		stack = append(stack, n)
	}
	return nil
}

// OutOfOrder returns the parents whose children are not in name order. Root
// order is reported as parent 0. The result is sorted by first appearance in
// the table.
func (ix *Index) OutOfOrder() []int64 {
	last := make(map[int64]Node)
	flagged := make(map[int64]bool)
	var out []int64
	for _, n := range ix.rows {
		prev, ok := last[n.Parent]
		if ok && before(n, prev) && !flagged[n.Parent] {
			flagged[n.Parent] = true
			out = append(out, n.Parent)
		}
		last[n.Parent] = n
	}
	return out
}

// assertConsistent panics when a mutation has left the index inconsistent.
func (ix *Index) assertConsistent(op string) {
	if err := ix.Validate(); err != nil {
		panic(&CorruptionError{Detail: op + ": " + err.(*CorruptionError).Detail})
	}
}

func corrupt(format string, args ...interface{}) error {
	return &CorruptionError{Detail: fmt.Sprintf(format, args...)}
}
