package tree

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
)

const (
	kindRegion  int64 = 1
	kindCommune int64 = 2
	kindQuarter int64 = 3
)

// sampleForest builds:
//
//	Bamako
//	  Commune I
//	    Bagadadji
//	    Niarela
//	  Commune II
//	Kayes
//	  Diema
func sampleForest(t *testing.T) *Index {
	t.Helper()
	ix, err := Build([]Node{
		{ID: 1, Name: "Bamako", Code: "BKO", Kind: kindRegion},
		{ID: 2, Name: "Kayes", Code: "KYS", Kind: kindRegion},
		{ID: 3, Parent: 1, Name: "Commune II", Code: "C2", Kind: kindCommune},
		{ID: 4, Parent: 1, Name: "Commune I", Code: "C1", Kind: kindCommune},
		{ID: 5, Parent: 4, Name: "Bagadadji", Code: "BGD", Kind: kindQuarter},
		{ID: 6, Parent: 4, Name: "Niarela", Code: "NIA", Kind: kindQuarter},
		{ID: 7, Parent: 2, Name: "Diema", Code: "DIE", Kind: kindCommune},
	})
	require.NoError(t, err)
	return ix
}

func ids(nodes []Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestBuild_AssignsNameOrderedRanges(t *testing.T) {
	ix := sampleForest(t)

	tests := []struct {
		id                       int64
		tree, left, right, level int
	}{
		{1, 1, 1, 10, 0},
		{4, 1, 2, 7, 1},
		{5, 1, 3, 4, 2},
		{6, 1, 5, 6, 2},
		{3, 1, 8, 9, 1},
		{2, 2, 1, 4, 0},
		{7, 2, 2, 3, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("node %d", tt.id), func(t *testing.T) {
			n, ok := ix.Get(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.tree, n.TreeID)
			assert.Equal(t, tt.left, n.Left)
			assert.Equal(t, tt.right, n.Right)
			assert.Equal(t, tt.level, n.Level)
		})
	}
}

func TestBuild_RejectsBrokenParents(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
	}{
		{
			name: "missing parent",
			nodes: []Node{
				{ID: 1, Name: "a", Code: "a", Kind: 1},
				{ID: 2, Parent: 9, Name: "b", Code: "b", Kind: 1},
			},
		},
		{
			name: "cycle",
			nodes: []Node{
				{ID: 1, Name: "a", Code: "a", Kind: 1},
				{ID: 2, Parent: 3, Name: "b", Code: "b", Kind: 1},
				{ID: 3, Parent: 2, Name: "c", Code: "c", Kind: 1},
			},
		},
		{
			name: "duplicate id",
			nodes: []Node{
				{ID: 1, Name: "a", Code: "a", Kind: 1},
				{ID: 1, Name: "b", Code: "b", Kind: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.nodes)
			assert.ErrorIs(t, err, ErrInvalidParents)
		})
	}
}

func TestBuild_DuplicateCode(t *testing.T) {
	_, err := Build([]Node{
		{ID: 1, Name: "a", Code: "X", Kind: 1},
		{ID: 2, Name: "b", Code: "X", Kind: 1},
	})

	var dup *areaerrors.DuplicateCodeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "X", dup.Code)
}

func TestQueries(t *testing.T) {
	ix := sampleForest(t)

	assert.Equal(t, []int64{1, 4}, ids(ix.Ancestors(6)))
	assert.Empty(t, ix.Ancestors(1))
	assert.Equal(t, []int64{4, 5, 6, 3}, ids(ix.Descendants(1)))
	assert.Equal(t, []int64{4, 3}, ids(ix.Children(1)))
	assert.Equal(t, []int64{5, 6}, ids(ix.Children(4)))
	assert.Empty(t, ix.Children(5))
	assert.Equal(t, []int64{1, 2}, ids(ix.Roots()))
	assert.Nil(t, ix.Ancestors(99))

	n, ok := ix.Lookup("NIA", kindQuarter)
	require.True(t, ok)
	assert.Equal(t, int64(6), n.ID)

	_, ok = ix.Lookup("NIA", kindCommune)
	assert.False(t, ok)
}

func TestAncestorIffRangeContainment(t *testing.T) {
	ix := sampleForest(t)
	nodes := ix.Nodes()

	for _, a := range nodes {
		anc := make(map[int64]bool)
		for _, d := range ix.Descendants(a.ID) {
			anc[d.ID] = true
		}
		for _, b := range nodes {
			byRange := a.TreeID == b.TreeID && a.Left < b.Left && b.Right < a.Right
			assert.Equal(t, byRange, anc[b.ID], "%s vs %s", a, b)
			assert.Equal(t, byRange, ix.IsAncestor(a.ID, b.ID))
		}
	}
}

func TestAncestorAtLevel(t *testing.T) {
	ix := sampleForest(t)

	tests := []struct {
		name  string
		id    int64
		level int
		want  int64
	}{
		{"root level", 6, 0, 1},
		{"middle level", 6, 1, 4},
		{"own level returns self", 6, 2, 6},
		{"deeper level returns self", 4, 5, 4},
		{"root stays root", 1, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ix.AncestorAtLevel(tt.id, tt.level)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	_, ok := ix.AncestorAtLevel(42, 0)
	assert.False(t, ok)
}

func TestInsert_NameOrderedSlot(t *testing.T) {
	ix := sampleForest(t)

	n, err := ix.Insert(Node{ID: 8, Parent: 4, Name: "Medina", Code: "MED", Kind: kindQuarter})
	require.NoError(t, err)

	assert.Equal(t, 2, n.Level)
	assert.Equal(t, 1, n.TreeID)
	assert.Equal(t, []int64{5, 8, 6}, ids(ix.Children(4)))

	root, _ := ix.Get(1)
	assert.Equal(t, 12, root.Right)
	other, _ := ix.Get(2)
	assert.Equal(t, 4, other.Right, "other trees are untouched")
}

func TestInsert_RootRenumbersLaterTrees(t *testing.T) {
	ix := sampleForest(t)

	n, err := ix.Insert(Node{ID: 8, Name: "Gao", Code: "GAO", Kind: kindRegion})
	require.NoError(t, err)

	assert.Equal(t, 2, n.TreeID)
	assert.Equal(t, 0, n.Level)
	assert.Equal(t, []int64{1, 8, 2}, ids(ix.Roots()))

	kayes, _ := ix.Get(2)
	diema, _ := ix.Get(7)
	assert.Equal(t, 3, kayes.TreeID)
	assert.Equal(t, 3, diema.TreeID)
}

func TestInsert_DuplicateCodeLeavesIndexUnchanged(t *testing.T) {
	ix := sampleForest(t)
	before := ix.Nodes()

	_, err := ix.Insert(Node{ID: 8, Parent: 2, Name: "Other", Code: "C1", Kind: kindCommune})

	var dup *areaerrors.DuplicateCodeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, kindCommune, dup.KindID)
	assert.Equal(t, before, ix.Nodes())
}

func TestInsert_SameCodeDifferentKind(t *testing.T) {
	ix := sampleForest(t)

	_, err := ix.Insert(Node{ID: 8, Parent: 2, Name: "Other", Code: "C1", Kind: kindQuarter})
	assert.NoError(t, err)
}

func TestInsert_MissingParent(t *testing.T) {
	ix := sampleForest(t)

	_, err := ix.Insert(Node{ID: 8, Parent: 99, Name: "x", Code: "x", Kind: 1})
	assert.True(t, areaerrors.IsNotFound(err))
}

func TestMove_IntoOwnSubtreeIsRejected(t *testing.T) {
	ix := sampleForest(t)
	before := ix.Nodes()

	targets := append([]int64{1}, ids(ix.Descendants(1))...)
	for _, target := range targets {
		for _, pos := range []Position{Inside, Before, After} {
			t.Run(fmt.Sprintf("%d %s", target, pos), func(t *testing.T) {
				_, err := ix.Move(1, target, pos)

				var invalid *areaerrors.InvalidMoveError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, before, ix.Nodes())
			})
		}
	}
}

func TestMove_SubtreeToOtherTree(t *testing.T) {
	ix := sampleForest(t)

	moved, err := ix.Move(4, 2, Inside)
	require.NoError(t, err)

	assert.Equal(t, 2, moved.TreeID)
	assert.Equal(t, 1, moved.Level)
	assert.Equal(t, int64(2), moved.Parent)
	assert.Equal(t, []int64{4, 7}, ids(ix.Children(2)))
	assert.Equal(t, []int64{5, 6}, ids(ix.Children(4)))

	quarter, _ := ix.Get(6)
	assert.Equal(t, 2, quarter.Level)
	assert.Equal(t, 2, quarter.TreeID)

	bamako, _ := ix.Get(1)
	assert.Equal(t, 4, bamako.Right)
	assert.Equal(t, []int64{3}, ids(ix.Descendants(1)))
}

func TestMove_BeforeRootBecomesRoot(t *testing.T) {
	ix := sampleForest(t)

	moved, err := ix.Move(6, 2, Before)
	require.NoError(t, err)

	assert.True(t, moved.IsRoot())
	assert.Equal(t, 0, moved.Level)
	assert.Equal(t, []int64{1, 2, 6}, ids(ix.Roots()), "Niarela sorts after Kayes")
	assert.Equal(t, 3, moved.TreeID)
}

func TestMove_RootUnderOtherTree(t *testing.T) {
	ix := sampleForest(t)

	moved, err := ix.Move(1, 7, After)
	require.NoError(t, err)

	assert.Equal(t, int64(2), moved.Parent)
	assert.Equal(t, 1, moved.TreeID)
	assert.Equal(t, []int64{2}, ids(ix.Roots()))
	assert.Equal(t, []int64{1, 7}, ids(ix.Children(2)))

	leaf, _ := ix.Get(5)
	assert.Equal(t, 3, leaf.Level)
}

func TestMove_WithinSameParentKeepsNameOrder(t *testing.T) {
	ix := sampleForest(t)
	before := ix.Nodes()

	_, err := ix.Move(6, 5, Before)
	require.NoError(t, err)

	assert.Equal(t, before, ix.Nodes())
}

func TestDelete_CascadesAndClosesGap(t *testing.T) {
	ix := sampleForest(t)

	removed, err := ix.Delete(4)
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 5, 6}, removed)
	assert.Equal(t, 4, ix.Len())
	root, _ := ix.Get(1)
	assert.Equal(t, 4, root.Right)
	c2, _ := ix.Get(3)
	assert.Equal(t, 2, c2.Left)
	assert.Equal(t, 3, c2.Right)

	_, ok := ix.Lookup("NIA", kindQuarter)
	assert.False(t, ok, "codes of removed rows are released")
}

func TestDelete_RootRenumbersTrees(t *testing.T) {
	ix := sampleForest(t)

	removed, err := ix.Delete(1)
	require.NoError(t, err)

	assert.Len(t, removed, 5)
	kayes, _ := ix.Get(2)
	assert.Equal(t, 1, kayes.TreeID)
	assert.NoError(t, ix.Validate())
}

func TestRename_IsRelaxedUntilRebuildTree(t *testing.T) {
	ix := sampleForest(t)
	before := ix.Nodes()

	_, err := ix.Rename(5, "Quinzambougou")
	require.NoError(t, err)

	// indices do not move on rename
	after := ix.Nodes()
	for i := range before {
		assert.True(t, sameIndex(before[i], after[i]))
	}
	assert.Equal(t, []int64{4}, ix.OutOfOrder())

	require.NoError(t, ix.RebuildTree(1))
	assert.Empty(t, ix.OutOfOrder())
	assert.Equal(t, []int64{6, 5}, ids(ix.Children(4)))
}

func TestRebuildTree_UnknownTree(t *testing.T) {
	ix := sampleForest(t)

	err := ix.RebuildTree(9)
	assert.True(t, areaerrors.IsNotFound(err))
}

func TestRebuild_Idempotent(t *testing.T) {
	ix := sampleForest(t)
	_, err := ix.Rename(2, "Ansongo")
	require.NoError(t, err)

	require.NoError(t, ix.Rebuild())
	first := ix.Nodes()
	require.NoError(t, ix.Rebuild())

	assert.Equal(t, first, ix.Nodes())
	assert.Equal(t, []int64{2, 1}, ids(ix.Roots()))
}

func TestMutations_RandomSequenceStaysConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix := New()
	next := int64(1)
	names := []string{"Ansongo", "Bafoulabe", "Diola", "Gao", "Kati", "Mopti", "Segou", "Tombouctou"}

	for step := 0; step < 400; step++ {
		live := ids(ix.Nodes())
		pick := func() int64 { return live[rng.Intn(len(live))] }

		switch op := rng.Intn(10); {
		case op < 5 || len(live) < 2:
			var parent int64
			if len(live) > 0 && rng.Intn(4) != 0 {
				parent = pick()
			}
			_, err := ix.Insert(Node{
				ID:     next,
				Parent: parent,
				Name:   names[rng.Intn(len(names))],
				Code:   fmt.Sprintf("A%d", next),
				Kind:   1,
			})
			require.NoError(t, err)
			next++
		case op < 8:
			before := ix.Nodes()
			_, err := ix.Move(pick(), pick(), []Position{Inside, Before, After}[rng.Intn(3)])
			if err != nil {
				var invalid *areaerrors.InvalidMoveError
				require.ErrorAs(t, err, &invalid)
				require.Equal(t, before, ix.Nodes())
			}
		default:
			_, err := ix.Delete(pick())
			require.NoError(t, err)
		}

		require.NoError(t, ix.Validate(), "step %d", step)
		rebuilt := ix.Clone()
		require.NoError(t, rebuilt.Rebuild())
		require.Equal(t, ix.Nodes(), rebuilt.Nodes(), "step %d: rebuild must be a no-op", step)
	}
}

func TestLoad(t *testing.T) {
	good := sampleForest(t).Nodes()

	t.Run("consistent rows", func(t *testing.T) {
		ix, err := Load(good)
		require.NoError(t, err)
		assert.Equal(t, good, ix.Nodes())
	})

	t.Run("overlapping ranges", func(t *testing.T) {
		bad := make([]Node, len(good))
		copy(bad, good)
		for i := range bad {
			if bad[i].ID == 3 {
				bad[i].Left = 6
			}
		}

		_, err := Load(bad)
		var corrupt *CorruptionError
		assert.ErrorAs(t, err, &corrupt)
	})

	t.Run("never indexed", func(t *testing.T) {
		raw := make([]Node, len(good))
		for i, n := range good {
			raw[i] = Node{ID: n.ID, Parent: n.Parent, Name: n.Name, Code: n.Code, Kind: n.Kind}
		}

		_, err := Load(raw)
		assert.Error(t, err)
	})
}

func TestAssertConsistent_PanicsOnCorruption(t *testing.T) {
	ix := sampleForest(t)
	ix.rows[2].Right = 99

	assert.PanicsWithError(t, "tree index corrupt: test: tree 1: 5(Bagadadji)[tree=1 3..99 L2] has value 99 outside 1..10", func() {
		ix.assertConsistent("test")
	})
}

func TestClone_IsIndependent(t *testing.T) {
	ix := sampleForest(t)
	c := ix.Clone()

	_, err := c.Delete(1)
	require.NoError(t, err)

	assert.Equal(t, 7, ix.Len())
	assert.Equal(t, 2, c.Len())
}

func TestDiff(t *testing.T) {
	before := sampleForest(t)
	after := before.Clone()

	_, err := after.Insert(Node{ID: 8, Parent: 2, Name: "Nioro", Code: "NIO", Kind: kindCommune})
	require.NoError(t, err)
	_, err = after.Delete(3)
	require.NoError(t, err)

	ch := Diff(before, after)

	assert.Equal(t, []int64{8}, ids(ch.Added))
	assert.Equal(t, []int64{3}, ch.Removed)
	// Bamako shrinks, Kayes grows
	assert.ElementsMatch(t, []int64{1, 2}, ids(ch.Updated))
	assert.False(t, ch.Empty())
	assert.True(t, Diff(after, after).Empty())
}
