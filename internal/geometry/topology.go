package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/s0rg/quadtree"
)

// DefaultSnap is the grid, in coordinate units, vertices are snapped to
// before noding. 1e-7 degrees is about a centimetre.
const DefaultSnap = 1e-7

// quadtreeDepth bounds the vertex index subdivision.
const quadtreeDepth = 12

// vertex is a snapped coordinate in grid units.
type vertex struct {
	x, y int64
}

func (v vertex) less(o vertex) bool {
	if v.x != o.x {
		return v.x < o.x
	}
	return v.y < o.y
}

// segment is an undirected piece of boundary between two vertices, a < b.
type segment struct {
	a, b vertex
}

func newSegment(p, q vertex) segment {
	if q.less(p) {
		p, q = q, p
	}
	return segment{a: p, b: q}
}

func (s segment) other(v vertex) vertex {
	if v == s.a {
		return s.b
	}
	return s.a
}

func (s segment) less(o segment) bool {
	if s.a != o.a {
		return s.a.less(o.a)
	}
	return s.b.less(o.b)
}

// planarTopology is the in-process decomposition of non-overlapping polygons.
type planarTopology struct {
	name  string
	faces []Face
	edges []Edge
	// face id -> indexes into edges
	byFace map[int64][]int
}

func (t *planarTopology) Name() string { return t.name }

// buildPlanarTopology decomposes inputs into faces (one per polygon part)
// and maximal edges between nodes. A node is a vertex where the boundary
// branches or where the set of faces on either side changes.
func buildPlanarTopology(name string, inputs []TopologyInput, snap float64) (*planarTopology, error) {
	if snap <= 0 {
		snap = DefaultSnap
	}
	toGrid := func(p orb.Point) vertex {
		return vertex{x: int64(math.Round(p[0] / snap)), y: int64(math.Round(p[1] / snap))}
	}

	topo := &planarTopology{name: name, byFace: make(map[int64][]int)}

	type ringSegs struct {
		face int64
		segs [][2]vertex
	}
	var rings []ringSegs
	vertices := make(map[vertex]struct{})

	var faceID int64
	for _, in := range inputs {
		for _, poly := range in.Geom {
			if len(poly) == 0 {
				continue
			}
			faceID++
			topo.faces = append(topo.faces, Face{ID: faceID, AreaIDs: []int64{in.AreaID}})
			for _, ring := range poly {
				rs := ringSegs{face: faceID}
				for i := 0; i+1 < len(ring); i++ {
					p, q := toGrid(ring[i]), toGrid(ring[i+1])
					vertices[p] = struct{}{}
					vertices[q] = struct{}{}
					if p != q {
						rs.segs = append(rs.segs, [2]vertex{p, q})
					}
				}
				rings = append(rings, rs)
			}
		}
	}
	if len(vertices) == 0 {
		return topo, nil
	}

	index := newVertexIndex(vertices)

	// node T-junctions and collect the face set of every undirected segment
	faceSets := make(map[segment][]int64)
	for _, rs := range rings {
		for _, s := range rs.segs {
			points := index.splitPoints(s[0], s[1])
			prev := s[0]
			for _, v := range append(points, s[1]) {
				key := newSegment(prev, v)
				faceSets[key] = addFace(faceSets[key], rs.face)
				prev = v
			}
		}
	}

	adjacency := make(map[vertex][]segment)
	for s, faces := range faceSets {
		if len(faces) > 2 {
			return nil, fmt.Errorf("segment %v-%v bounds %d faces: polygons overlap, input is not planar",
				fromGrid(s.a, snap), fromGrid(s.b, snap), len(faces))
		}
		adjacency[s.a] = append(adjacency[s.a], s)
		adjacency[s.b] = append(adjacency[s.b], s)
	}
	for v := range adjacency {
		segs := adjacency[v]
		sort.Slice(segs, func(i, j int) bool { return segs[i].less(segs[j]) })
	}

	isNode := func(v vertex) bool {
		segs := adjacency[v]
		if len(segs) != 2 {
			return true
		}
		return !sameFaces(faceSets[segs[0]], faceSets[segs[1]])
	}

	visited := make(map[segment]bool, len(faceSets))
	walk := func(start vertex, first segment) []vertex {
		path := []vertex{start}
		cur, s := start, first
		for {
			visited[s] = true
			next := s.other(cur)
			path = append(path, next)
			if next == start || isNode(next) {
				return path
			}
			var following segment
			found := false
			for _, cand := range adjacency[next] {
				if !visited[cand] {
					following, found = cand, true
					break
				}
			}
			if !found {
				return path
			}
			cur, s = next, following
		}
	}

	emit := func(path []vertex, faces []int64) {
		line := make(orb.LineString, len(path))
		for i, v := range path {
			line[i] = fromGrid(v, snap)
		}
		e := Edge{ID: int64(len(topo.edges) + 1), Geom: line, LeftFace: faces[0]}
		if len(faces) > 1 {
			e.RightFace = faces[1]
		}
		idx := len(topo.edges)
		topo.edges = append(topo.edges, e)
		for _, f := range faces {
			topo.byFace[f] = append(topo.byFace[f], idx)
		}
	}

	nodes := make([]vertex, 0)
	for v := range adjacency {
		if isNode(v) {
			nodes = append(nodes, v)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].less(nodes[j]) })
	for _, n := range nodes {
		for _, s := range adjacency[n] {
			if !visited[s] {
				emit(walk(n, s), faceSets[s])
			}
		}
	}

	// what remains are closed rings without any node
	remaining := make([]segment, 0)
	for s := range faceSets {
		if !visited[s] {
			remaining = append(remaining, s)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].less(remaining[j]) })
	for _, s := range remaining {
		if !visited[s] {
			emit(walk(s.a, s), faceSets[s])
		}
	}

	return topo, nil
}

func addFace(faces []int64, f int64) []int64 {
	i := sort.Search(len(faces), func(i int) bool { return faces[i] >= f })
	if i < len(faces) && faces[i] == f {
		return faces
	}
	faces = append(faces, 0)
	copy(faces[i+1:], faces[i:])
	faces[i] = f
	return faces
}

func sameFaces(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fromGrid converts back to coordinates. Decimal grids divide by the whole
// inverse so 10000000 * 1e-7 comes back as exactly 1.
func fromGrid(v vertex, snap float64) orb.Point {
	inv := math.Round(1 / snap)
	if inv >= 1 && math.Abs(inv-1/snap) < 1e-6 {
		return orb.Point{float64(v.x) / inv, float64(v.y) / inv}
	}
	return orb.Point{float64(v.x) * snap, float64(v.y) * snap}
}

// vertexIndex finds vertices lying on the interior of a segment.
type vertexIndex struct {
	qt    *quadtree.Tree[vertex]
	minX  float64
	minY  float64
	count int
}

func newVertexIndex(vertices map[vertex]struct{}) *vertexIndex {
	first := true
	var minX, minY, maxX, maxY int64
	for v := range vertices {
		if first {
			minX, minY, maxX, maxY = v.x, v.y, v.x, v.y
			first = false
			continue
		}
		minX = min(minX, v.x)
		minY = min(minY, v.y)
		maxX = max(maxX, v.x)
		maxY = max(maxY, v.y)
	}

	idx := &vertexIndex{
		qt:    quadtree.New[vertex](float64(maxX-minX)+2, float64(maxY-minY)+2, quadtreeDepth),
		minX:  float64(minX),
		minY:  float64(minY),
		count: len(vertices),
	}
	for v := range vertices {
		idx.qt.Add(float64(v.x)-idx.minX, float64(v.y)-idx.minY, 0, 0, v)
	}
	return idx
}

// splitPoints returns the vertices strictly inside segment pq, ordered from
// p to q.
func (idx *vertexIndex) splitPoints(p, q vertex) []vertex {
	dx, dy := float64(q.x-p.x), float64(q.y-p.y)
	length := math.Hypot(dx, dy)
	if length < 2 {
		return nil
	}
	cx := (float64(p.x)+float64(q.x))/2 - idx.minX
	cy := (float64(p.y)+float64(q.y))/2 - idx.minY

	type hit struct {
		v vertex
		t float64
	}
	var hits []hit
	idx.qt.KNearest(cx, cy, length/2+1, idx.count, func(_, _, _, _ float64, v vertex) {
		if v == p || v == q {
			return
		}
		vx, vy := float64(v.x-p.x), float64(v.y-p.y)
		// within half a grid cell of the line, strictly between the ends
		if math.Abs(dx*vy-dy*vx)/length > 0.5 {
			return
		}
		t := (vx*dx + vy*dy) / (length * length)
		if t <= 0 || t >= 1 {
			return
		}
		hits = append(hits, hit{v: v, t: t})
	})

	sort.Slice(hits, func(i, j int) bool { return hits[i].t < hits[j].t })
	out := make([]vertex, len(hits))
	for i, h := range hits {
		out[i] = h.v
	}
	return out
}
