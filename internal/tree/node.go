// Package tree implements the nested-set index over the area hierarchy.
//
// The index is a single table of rows ordered by (tree_id, left). Ancestry
// and descent are interval-containment tests on that table; no query walks
// parent pointers. Mutations rewrite index ranges in place and must only be
// applied to a private Clone, which is published once the change has been
// persisted.
package tree

import (
	"fmt"
)

// Node is one row of the nested-set index.
type Node struct {
	ID     int64
	Parent int64 // 0 for roots
	Name   string
	Code   string
	Kind   int64
	Left   int
	Right  int
	TreeID int
	Level  int
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.Parent == 0
}

// Width is the span of the node's [left, right] range, two per node in the
// subtree.
func (n Node) Width() int {
	return n.Right - n.Left + 1
}

// Size returns the number of nodes in the subtree rooted at n.
func (n Node) Size() int {
	return n.Width() / 2
}

// Contains reports whether o lies strictly inside n's range.
func (n Node) Contains(o Node) bool {
	return n.TreeID == o.TreeID && n.Left < o.Left && o.Right < n.Right
}

func (n Node) String() string {
	return fmt.Sprintf("%d(%s)[tree=%d %d..%d L%d]", n.ID, n.Name, n.TreeID, n.Left, n.Right, n.Level)
}

// sameIndex reports whether two rows carry identical tree attributes.
func sameIndex(a, b Node) bool {
	return a.Parent == b.Parent &&
		a.Left == b.Left &&
		a.Right == b.Right &&
		a.TreeID == b.TreeID &&
		a.Level == b.Level
}

// before is the sibling ordering: name ascending, id breaking ties.
func before(a, b Node) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

// Position selects where Move places a subtree relative to its target.
type Position string

const (
	// Inside makes the moved node a child of the target.
	Inside Position = "inside"
	// Before makes the moved node a sibling of the target.
	Before Position = "before"
	// After makes the moved node a sibling of the target.
	After Position = "after"
)

// ParsePosition converts s into a Position.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case Inside, Before, After:
		return p, nil
	default:
		return "", fmt.Errorf("unknown position %q (want inside, before or after)", s)
	}
}

type codeKey struct {
	code string
	kind int64
}
