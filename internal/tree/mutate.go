package tree

import (
	"fmt"
	"sort"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
)

// Insert adds n as a leaf under n.Parent, or as a new root when Parent is 0.
// Only ID, Parent, Name, Code and Kind are read from n; the index attributes
// are computed. The new row lands in its name-ordered slot.
func (ix *Index) Insert(n Node) (Node, error) {
	if _, exists := ix.pos[n.ID]; exists {
		return Node{}, fmt.Errorf("insert: node %d already indexed", n.ID)
	}
	if _, dup := ix.codes[codeKey{code: n.Code, kind: n.Kind}]; dup {
		return Node{}, duplicateCode(n)
	}
	if n.Parent != 0 {
		if _, ok := ix.pos[n.Parent]; !ok {
			return Node{}, &areaerrors.NotFoundError{Resource: "area", ID: n.Parent}
		}
	}

	n.Left, n.Right, n.Level, n.TreeID = 1, 2, 0, 0
	ix.attach([]Node{n}, n.Parent)
	ix.assertConsistent("insert")

	inserted, _ := ix.Get(n.ID)
	return inserted, nil
}

// Move relocates the subtree rooted at id relative to target. Inside makes
// target the new parent; Before and After make the node a sibling of target,
// or a new root when target is a root. Within the new sibling group the
// subtree always takes its name-ordered slot.
func (ix *Index) Move(id, target int64, pos Position) (Node, error) {
	n, ok := ix.Get(id)
	if !ok {
		return Node{}, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	t, ok := ix.Get(target)
	if !ok {
		return Node{}, &areaerrors.NotFoundError{Resource: "area", ID: target}
	}
	if id == target {
		return Node{}, &areaerrors.InvalidMoveError{NodeID: id, TargetID: target, Reason: "target is the node itself"}
	}
	if n.Contains(t) {
		return Node{}, &areaerrors.InvalidMoveError{NodeID: id, TargetID: target, Reason: "target is a descendant of the node"}
	}

	var parent int64
	switch pos {
	case Inside:
		parent = t.ID
	case Before, After:
		parent = t.Parent
	default:
		return Node{}, fmt.Errorf("move: unknown position %q", pos)
	}

	sub := ix.detach(n)
	ix.attach(sub, parent)
	ix.assertConsistent("move")

	moved, _ := ix.Get(id)
	return moved, nil
}

// Delete removes id and every descendant, closing the gap they leave. It
// returns the removed ids in preorder.
func (ix *Index) Delete(id int64) ([]int64, error) {
	n, ok := ix.Get(id)
	if !ok {
		return nil, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}

	sub := ix.detach(n)
	ix.mustReindex()
	ix.assertConsistent("delete")

	removed := make([]int64, len(sub))
	for i, r := range sub {
		removed[i] = r.ID
	}
	return removed, nil
}

// Rename changes the display name of id and nothing else. Siblings are not
// re-sorted; OutOfOrder reports the groups this leaves unordered until the
// next RebuildTree or Rebuild.
func (ix *Index) Rename(id int64, name string) (Node, error) {
	i, ok := ix.pos[id]
	if !ok {
		return Node{}, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	ix.rows[i].Name = name
	return ix.rows[i], nil
}

// Rebuild recomputes every index attribute from parent pointers alone.
func (ix *Index) Rebuild() error {
	rebuilt, err := Build(ix.rows)
	if err != nil {
		return err
	}
	*ix = *rebuilt
	return nil
}

// RebuildTree renumbers a single tree in name order, leaving tree ids alone.
func (ix *Index) RebuildTree(treeID int) error {
	rows := ix.Tree(treeID)
	if len(rows) == 0 {
		return &areaerrors.NotFoundError{Resource: "tree", ID: treeID}
	}
	start := ix.treeStart(treeID)
	end := start + len(rows)

	kids := make(map[int64][]Node)
	for _, n := range rows[1:] {
		kids[n.Parent] = append(kids[n.Parent], n)
	}
	for _, group := range kids {
		sort.Slice(group, func(i, j int) bool { return before(group[i], group[j]) })
	}

	out := make([]Node, 0, end-start)
	number(rows[0], kids, treeID, &out)
	copy(ix.rows[start:end], out)

	ix.mustReindex()
	ix.assertConsistent("rebuild tree")
	return nil
}

// detach removes n's subtree from the table and closes the gap. It returns
// the removed rows in preorder. The lookup maps are stale until reindexed.
func (ix *Index) detach(n Node) []Node {
	start := ix.pos[n.ID]
	end := start + n.Size()
	sub := make([]Node, end-start)
	copy(sub, ix.rows[start:end])
	ix.rows = append(ix.rows[:start], ix.rows[end:]...)

	if n.IsRoot() {
		ix.shiftTrees(n.TreeID+1, -1)
	} else {
		ix.shift(n.TreeID, n.Right+1, -n.Width())
	}
	return sub
}

// attach grafts sub (preorder, sub[0] is its root) under parent, or as a new
// root tree when parent is 0, in the name-ordered slot.
func (ix *Index) attach(sub []Node, parent int64) {
	ix.mustReindex()

	head := sub[0]
	width := head.Width()
	var offset, levelDelta, treeID int

	if parent == 0 {
		treeID = 1
		for _, r := range ix.Roots() {
			if before(r, head) {
				treeID = r.TreeID + 1
			}
		}
		ix.shiftTrees(treeID, 1)
		offset = 1 - head.Left
		levelDelta = -head.Level
	} else {
		p := ix.rows[ix.pos[parent]]
		slot := p.Right
		for _, c := range ix.Children(parent) {
			if before(head, c) {
				slot = c.Left
				break
			}
		}
		ix.shift(p.TreeID, slot, width)
		treeID = p.TreeID
		offset = slot - head.Left
		levelDelta = p.Level + 1 - head.Level
	}

	sub[0].Parent = parent
	for i := range sub {
		sub[i].Left += offset
		sub[i].Right += offset
		sub[i].Level += levelDelta
		sub[i].TreeID = treeID
	}
	ix.rows = append(ix.rows, sub...)
	ix.mustReindex()
}

// shift moves every left or right value >= from in one tree by delta.
func (ix *Index) shift(treeID, from, delta int) {
	for i := range ix.rows {
		r := &ix.rows[i]
		if r.TreeID != treeID {
			continue
		}
		if r.Left >= from {
			r.Left += delta
		}
		if r.Right >= from {
			r.Right += delta
		}
	}
}

// shiftTrees moves every tree id >= from by delta.
func (ix *Index) shiftTrees(from, delta int) {
	for i := range ix.rows {
		if ix.rows[i].TreeID >= from {
			ix.rows[i].TreeID += delta
		}
	}
}

func (ix *Index) mustReindex() {
	if err := ix.reindex(); err != nil {
		panic(&CorruptionError{Detail: err.Error()})
	}
}

func duplicateCode(n Node) error {
	return &areaerrors.DuplicateCodeError{Code: n.Code, KindID: n.Kind}
}
