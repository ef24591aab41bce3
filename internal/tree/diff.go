package tree

import (
	"sort"
)

// Changes lists the rows whose persisted form differs between two indexes.
type Changes struct {
	Added   []Node
	Updated []Node
	Removed []int64
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Diff compares the index attributes of before and after. Name changes are
// not reported; Rename is persisted on its own.
func Diff(before, after *Index) Changes {
	var ch Changes
	for _, n := range after.rows {
		old, ok := before.Get(n.ID)
		switch {
		case !ok:
			ch.Added = append(ch.Added, n)
		case !sameIndex(old, n):
			ch.Updated = append(ch.Updated, n)
		}
	}
	for _, n := range before.rows {
		if _, ok := after.pos[n.ID]; !ok {
			ch.Removed = append(ch.Removed, n.ID)
		}
	}
	sort.Slice(ch.Removed, func(i, j int) bool { return ch.Removed[i] < ch.Removed[j] })
	return ch
}
