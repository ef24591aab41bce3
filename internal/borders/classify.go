// Package borders turns topology edge occurrences into border rows: one row
// per distinct edge listing every area the edge is a true boundary of.
package borders

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/stwalsh4118/atlas/areas/internal/models"
)

// Occurrence records that an edge bounds a face belonging to an area.
type Occurrence struct {
	EdgeID int64
	AreaID int64
	FaceID int64
}

// Options tune Classify.
type Options struct {
	// DropInterior leaves out edges that are interior to every area they
	// touch. By default they are emitted with empty id lists.
	DropInterior bool
}

// Classify builds one border row per distinct edge. An edge that occurs
// more than once for the same area lies inside that area and does not list
// it.
// Rows are ordered by edge id and numbered from 1; AreaIDs are ascending
// and AreaTypes is parallel to AreaIDs. Edges missing from geoms are
// skipped.
func Classify(occurrences []Occurrence, geoms map[int64]orb.LineString, kinds map[int64]int64, opts Options) []models.Border {
	type key struct{ edge, area int64 }

	// repeated (edge, area, face) triples count once
	faces := make(map[key]map[int64]struct{})
	edgeIDs := make(map[int64]struct{})
	for _, o := range occurrences {
		k := key{edge: o.EdgeID, area: o.AreaID}
		if faces[k] == nil {
			faces[k] = make(map[int64]struct{}, 1)
		}
		faces[k][o.FaceID] = struct{}{}
		edgeIDs[o.EdgeID] = struct{}{}
	}

	survivors := make(map[int64][]int64)
	for k, fs := range faces {
		if len(fs) == 1 {
			survivors[k.edge] = append(survivors[k.edge], k.area)
		}
	}

	ordered := make([]int64, 0, len(edgeIDs))
	for id := range edgeIDs {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	borders := make([]models.Border, 0, len(ordered))
	for _, edgeID := range ordered {
		geom, ok := geoms[edgeID]
		if !ok {
			continue
		}
		areaIDs := survivors[edgeID]
		if len(areaIDs) == 0 && opts.DropInterior {
			continue
		}
		sort.Slice(areaIDs, func(i, j int) bool { return areaIDs[i] < areaIDs[j] })

		areaTypes := make([]int64, len(areaIDs))
		for i, id := range areaIDs {
			areaTypes[i] = kinds[id]
		}
		if areaIDs == nil {
			areaIDs = []int64{}
		}

		borders = append(borders, models.Border{
			ID:        int64(len(borders) + 1),
			Geom:      models.LineString{LineString: geom},
			AreaIDs:   areaIDs,
			AreaTypes: areaTypes,
		})
	}
	return borders
}

// Occurrences expands faces and their edges into occurrences. faceAreas maps
// a face id to the areas it belongs to and faceEdges a face id to the ids of
// the edges bounding it.
func Occurrences(faceAreas map[int64][]int64, faceEdges map[int64][]int64) []Occurrence {
	faceIDs := make([]int64, 0, len(faceAreas))
	for id := range faceAreas {
		faceIDs = append(faceIDs, id)
	}
	sort.Slice(faceIDs, func(i, j int) bool { return faceIDs[i] < faceIDs[j] })

	var out []Occurrence
	for _, faceID := range faceIDs {
		for _, edgeID := range faceEdges[faceID] {
			for _, areaID := range faceAreas[faceID] {
				out = append(out, Occurrence{EdgeID: edgeID, AreaID: areaID, FaceID: faceID})
			}
		}
	}
	return out
}
