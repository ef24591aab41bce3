package geometry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
)

// Planar is an in-process Store. It needs no database, which makes it the
// store of choice for tests and for datasets of non-overlapping areas (one
// administrative level at a time).
type Planar struct {
	snap float64
}

// NewPlanar returns a Planar store snapping topology vertices to snap
// coordinate units. A non-positive snap selects DefaultSnap.
func NewPlanar(snap float64) *Planar {
	if snap <= 0 {
		snap = DefaultSnap
	}
	return &Planar{snap: snap}
}

// FlatOnly is true: a segment may bound at most two faces.
func (p *Planar) FlatOnly() bool { return true }

func (p *Planar) Simplify(ctx context.Context, g orb.Geometry, tolerance float64, preserve bool) (orb.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SimplifyGeometry(g, tolerance, preserve), nil
}

func (p *Planar) Quantize(ctx context.Context, g orb.Geometry, digits int) (orb.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return QuantizeCoordinates(g, digits), nil
}

func (p *Planar) ToMulti(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ToMulti(orb.Clone(g)), nil
}

func (p *Planar) BuildTopology(ctx context.Context, inputs []TopologyInput) (Topology, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topo, err := buildPlanarTopology(topologyName(), inputs, p.snap)
	if err != nil {
		return nil, areaerrors.NewGeometryError("build topology", err)
	}
	return topo, nil
}

func (p *Planar) Faces(ctx context.Context, topo Topology) ([]Face, error) {
	t, err := p.own(topo)
	if err != nil {
		return nil, err
	}
	out := make([]Face, len(t.faces))
	copy(out, t.faces)
	return out, ctx.Err()
}

func (p *Planar) Edges(ctx context.Context, topo Topology, faceID int64) ([]Edge, error) {
	t, err := p.own(topo)
	if err != nil {
		return nil, err
	}
	idxs := t.byFace[faceID]
	out := make([]Edge, len(idxs))
	for i, idx := range idxs {
		out[i] = t.edges[idx]
	}
	return out, ctx.Err()
}

func (p *Planar) own(topo Topology) (*planarTopology, error) {
	t, ok := topo.(*planarTopology)
	if !ok {
		return nil, areaerrors.NewGeometryError("read topology", fmt.Errorf("%T was not built by the planar store", topo))
	}
	return t, nil
}

// Close releases nothing; planar topologies live in memory.
func (t *planarTopology) Close(ctx context.Context) error {
	return nil
}

// topologyName returns a unique name usable as a postgres schema.
func topologyName() string {
	return "areas_topo_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
