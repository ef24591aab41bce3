package services

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/atlas/areas/internal/borders"
	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/geometry"
	"github.com/stwalsh4118/atlas/areas/internal/logger"
	"github.com/stwalsh4118/atlas/areas/internal/metrics"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
)

// ExtractOptions selects the areas a border run covers.
type ExtractOptions struct {
	// KindIDs restricts the run to these area types; empty means all.
	// With no kinds on a store that cannot nest boundaries, the run falls
	// back to leaf areas.
	KindIDs    []int64
	LeavesOnly bool
	// DropInterior leaves out edges that bound no selected area. They are
	// kept by default with empty id lists.
	DropInterior bool
}

// ExtractReport summarizes one extraction run.
type ExtractReport struct {
	RunID    string
	Areas    int
	Faces    int
	Edges    int
	Borders  int
	Duration time.Duration
}

// BorderExtractor regenerates the border table from area geometry.
type BorderExtractor interface {
	// Extract replaces every border row. The new set is staged next to the
	// live table and swapped in at the end; a run that fails or is
	// cancelled before the swap leaves the previous set in place.
	Extract(ctx context.Context, opts ExtractOptions) (ExtractReport, error)
}

type borderExtractor struct {
	areas   repository.AreaRepository
	borders repository.BorderRepository
	store   geometry.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	workers int
}

// NewBorderExtractor creates a new instance of BorderExtractor. workers
// bounds the concurrent edge scans; m may be nil.
func NewBorderExtractor(areas repository.AreaRepository, borders repository.BorderRepository, store geometry.Store, log *logger.Logger, m *metrics.Metrics, workers int) BorderExtractor {
	if workers < 1 {
		workers = 1
	}
	return &borderExtractor{
		areas:   areas,
		borders: borders,
		store:   store,
		log:     log,
		metrics: m,
		workers: workers,
	}
}

func (e *borderExtractor) Extract(ctx context.Context, opts ExtractOptions) (ExtractReport, error) {
	start := time.Now()
	runLog, runID := e.log.WithOperation("borders.extract")
	report := ExtractReport{RunID: runID}

	report, err := e.extract(ctx, runLog, opts, report)
	report.Duration = time.Since(start)
	if err != nil {
		outcome := metrics.OutcomeFailure
		if areaerrors.IsRecoverable(err) {
			outcome = metrics.OutcomeRejected
		}
		e.metrics.ObserveBorderRun(outcome, 0)
		runLog.Error("Border extraction aborted, previous borders kept", err, map[string]interface{}{
			"areas": report.Areas,
			"faces": report.Faces,
		})
		return report, err
	}

	e.metrics.ObserveBorderRun(metrics.OutcomeSuccess, report.Borders)
	runLog.Info("Borders replaced", map[string]interface{}{
		"areas":       report.Areas,
		"faces":       report.Faces,
		"edges":       report.Edges,
		"borders":     report.Borders,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

func (e *borderExtractor) extract(ctx context.Context, log *logger.Logger, opts ExtractOptions, report ExtractReport) (ExtractReport, error) {
	// every level at once nests boundaries, which a flat store rejects
	if len(opts.KindIDs) == 0 && !opts.LeavesOnly && !geometry.HandlesNesting(e.store) {
		opts.LeavesOnly = true
		log.Warn("Geometry backend cannot nest boundaries, using leaf areas only", map[string]interface{}{
			"hint": "select one level with --kinds or use the postgis backend",
		})
	}

	areas, err := e.areas.ListGeometries(ctx, repository.AreaFilter{
		KindIDs:    opts.KindIDs,
		LeavesOnly: opts.LeavesOnly,
	})
	if err != nil {
		return report, err
	}
	report.Areas = len(areas)
	if len(areas) == 0 {
		log.Warn("No area geometry matched, the border table will be emptied", map[string]interface{}{
			"kinds":       opts.KindIDs,
			"leaves_only": opts.LeavesOnly,
		})
	}

	inputs := make([]geometry.TopologyInput, 0, len(areas))
	kinds := make(map[int64]int64, len(areas))
	for _, a := range areas {
		if !a.HasGeometry() {
			continue
		}
		inputs = append(inputs, geometry.TopologyInput{AreaID: a.ID, Kind: a.KindID, Geom: a.Geom.MultiPolygon})
		kinds[a.ID] = a.KindID
	}

	topo, err := e.store.BuildTopology(ctx, inputs)
	if err != nil {
		return report, areaerrors.NewGeometryError("build topology", err)
	}
	defer func() {
		// the topology is dropped even when the run was cancelled
		if err := topo.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("Failed to drop topology", err, map[string]interface{}{
				"topology": topo.Name(),
			})
		}
	}()
	log.Debug("Topology built", map[string]interface{}{
		"topology": topo.Name(),
		"inputs":   len(inputs),
	})

	faces, err := e.store.Faces(ctx, topo)
	if err != nil {
		return report, areaerrors.NewGeometryError("read faces", err)
	}
	report.Faces = len(faces)

	edges := make([][]geometry.Edge, len(faces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, face := range faces {
		g.Go(func() error {
			found, err := e.store.Edges(gctx, topo, face.ID)
			if err != nil {
				return areaerrors.NewGeometryError("read edges", err)
			}
			edges[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	faceAreas := make(map[int64][]int64, len(faces))
	faceEdges := make(map[int64][]int64, len(faces))
	geoms := make(map[int64]orb.LineString)
	for i, face := range faces {
		faceAreas[face.ID] = face.AreaIDs
		for _, edge := range edges[i] {
			faceEdges[face.ID] = append(faceEdges[face.ID], edge.ID)
			geoms[edge.ID] = edge.Geom
		}
	}
	report.Edges = len(geoms)

	rows := borders.Classify(borders.Occurrences(faceAreas, faceEdges), geoms, kinds, borders.Options{
		DropInterior: opts.DropInterior,
	})
	report.Borders = len(rows)

	staged, err := e.borders.Stage(ctx, rows)
	if err != nil {
		return report, err
	}
	// last point at which a cancelled run leaves no trace
	if err := ctx.Err(); err != nil {
		e.discard(ctx, log, staged)
		return report, err
	}
	if err := staged.Swap(ctx); err != nil {
		e.discard(ctx, log, staged)
		return report, err
	}
	return report, nil
}

func (e *borderExtractor) discard(ctx context.Context, log *logger.Logger, staged repository.Staging) {
	if err := staged.Discard(context.WithoutCancel(ctx)); err != nil {
		log.Error("Failed to drop staged borders", err, map[string]interface{}{
			"table": staged.Table(),
		})
	}
}
