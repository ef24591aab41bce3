package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/atlas/areas/internal/cache"
	"github.com/stwalsh4118/atlas/areas/internal/config"
	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/geometry"
	"github.com/stwalsh4118/atlas/areas/internal/logger"
	"github.com/stwalsh4118/atlas/areas/internal/metrics"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
)

// SimplificationLevels maps a zoom-like level index to a simplification
// tolerance in degrees. Level 0 keeps every vertex.
var SimplificationLevels = []float64{0, 1e-4, 1e-3, 1e-2, 0.1, 0.5}

// LevelTolerance returns the tolerance of a simplification level.
func LevelTolerance(level int) (float64, error) {
	if level < 0 || level >= len(SimplificationLevels) {
		return 0, &areaerrors.ValidationError{Fields: map[string]string{
			"level": fmt.Sprintf("level must be between 0 and %d", len(SimplificationLevels)-1),
		}}
	}
	return SimplificationLevels[level], nil
}

// ProjectOptions tune how geometry is reduced for transport.
type ProjectOptions struct {
	// Simplify is the topology-preserving simplification tolerance; 0 or
	// less keeps every vertex.
	Simplify float64
	// Quantize is the number of decimal digits kept by coordinate
	// quantization; 0 or less disables it.
	Quantize int
	// Precision rounds coordinates to this many decimals after
	// quantization; negative disables it.
	Precision int
}

// DefaultProjectOptions returns the configured defaults.
func DefaultProjectOptions(cfg config.FeatureConfig) ProjectOptions {
	return ProjectOptions{Simplify: cfg.Simplify, Quantize: cfg.Quantize, Precision: cfg.Precision}
}

func (o ProjectOptions) key() string {
	quantize := o.Quantize
	if quantize < 0 {
		quantize = 0
	}
	return "s" + strconv.FormatFloat(o.Simplify, 'g', -1, 64) +
		":q" + strconv.Itoa(quantize) +
		":p" + strconv.Itoa(o.Precision)
}

// FeatureProjector turns areas into compact GeoJSON features. Source
// geometry is never modified; every step works on a copy.
type FeatureProjector interface {
	// ProjectAreas builds one feature per area with a boundary, in input
	// order. Areas without geometry are skipped.
	ProjectAreas(ctx context.Context, areas []models.Area, opts ProjectOptions) (*geojson.FeatureCollection, error)
	ByID(ctx context.Context, id int64, opts ProjectOptions) (*geojson.FeatureCollection, error)
	ByParent(ctx context.Context, parentID int64, opts ProjectOptions) (*geojson.FeatureCollection, error)
	ByKind(ctx context.Context, kindID int64, opts ProjectOptions) (*geojson.FeatureCollection, error)
}

type featureProjector struct {
	repo    repository.AreaRepository
	store   geometry.Store
	cache   cache.FeatureCache
	log     *logger.Logger
	metrics *metrics.Metrics
	workers int
}

// NewFeatureProjector creates a new instance of FeatureProjector. A nil
// cache disables caching; m may be nil.
func NewFeatureProjector(repo repository.AreaRepository, store geometry.Store, fc cache.FeatureCache, log *logger.Logger, m *metrics.Metrics, workers int) FeatureProjector {
	if fc == nil {
		fc = cache.NopCache{}
	}
	if workers < 1 {
		workers = 1
	}
	return &featureProjector{
		repo:    repo,
		store:   store,
		cache:   fc,
		log:     log,
		metrics: m,
		workers: workers,
	}
}

func (p *featureProjector) ByID(ctx context.Context, id int64, opts ProjectOptions) (*geojson.FeatureCollection, error) {
	return p.cached(ctx, "id:"+strconv.FormatInt(id, 10), opts, func() ([]models.Area, error) {
		area, err := p.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if area == nil {
			return nil, &areaerrors.NotFoundError{Resource: "area", ID: id}
		}
		return []models.Area{*area}, nil
	})
}

func (p *featureProjector) ByParent(ctx context.Context, parentID int64, opts ProjectOptions) (*geojson.FeatureCollection, error) {
	return p.cached(ctx, "parent:"+strconv.FormatInt(parentID, 10), opts, func() ([]models.Area, error) {
		return p.repo.ListGeometries(ctx, repository.AreaFilter{ParentID: &parentID})
	})
}

func (p *featureProjector) ByKind(ctx context.Context, kindID int64, opts ProjectOptions) (*geojson.FeatureCollection, error) {
	return p.cached(ctx, "kind:"+strconv.FormatInt(kindID, 10), opts, func() ([]models.Area, error) {
		return p.repo.ListGeometries(ctx, repository.AreaFilter{KindIDs: []int64{kindID}})
	})
}

// cached serves query from the feature cache. Keys carry the forest
// version, so any committed tree mutation invalidates every entry.
func (p *featureProjector) cached(ctx context.Context, query string, opts ProjectOptions, load func() ([]models.Area, error)) (*geojson.FeatureCollection, error) {
	version, err := p.repo.ForestVersion(ctx)
	if err != nil {
		return nil, err
	}
	key := strings.Join([]string{"v" + strconv.FormatInt(version, 10), query, opts.key()}, ":")

	data, hit, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.Warn("Feature cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	p.metrics.CacheLookup(hit)
	if hit {
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err == nil {
			return fc, nil
		}
		p.log.Warn("Discarding unreadable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	areas, err := load()
	if err != nil {
		return nil, err
	}
	fc, err := p.ProjectAreas(ctx, areas, opts)
	if err != nil {
		return nil, err
	}

	if data, err := fc.MarshalJSON(); err != nil {
		p.log.Warn("Failed to encode features for the cache", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	} else if err := p.cache.Set(ctx, key, data); err != nil {
		p.log.Warn("Feature cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return fc, nil
}

func (p *featureProjector) ProjectAreas(ctx context.Context, areas []models.Area, opts ProjectOptions) (*geojson.FeatureCollection, error) {
	features := make([]*geojson.Feature, len(areas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range areas {
		if !areas[i].HasGeometry() {
			continue
		}
		g.Go(func() error {
			f, err := p.project(gctx, &areas[i], opts)
			if err != nil {
				return fmt.Errorf("area %d: %w", areas[i].ID, err)
			}
			features[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if f != nil {
			fc.Append(f)
		}
	}
	p.metrics.AddFeatures(len(fc.Features))
	return fc, nil
}

func (p *featureProjector) project(ctx context.Context, area *models.Area, opts ProjectOptions) (*geojson.Feature, error) {
	var (
		g   orb.Geometry = orb.Clone(area.Geom.MultiPolygon)
		err error
	)
	if opts.Simplify > 0 {
		if g, err = p.store.Simplify(ctx, g, opts.Simplify, true); err != nil {
			return nil, areaerrors.NewGeometryError("simplify", err)
		}
	}
	if opts.Quantize > 0 {
		if g, err = p.store.Quantize(ctx, g, opts.Quantize); err != nil {
			return nil, areaerrors.NewGeometryError("quantize", err)
		}
	}
	if g, err = p.store.ToMulti(ctx, g); err != nil {
		return nil, areaerrors.NewGeometryError("multi", err)
	}
	if opts.Precision >= 0 {
		g = geometry.RoundCoordinates(g, opts.Precision)
	}

	f := geojson.NewFeature(g)
	f.ID = area.ID
	f.Properties["id"] = area.ID
	f.Properties["code"] = area.Code
	f.Properties["name"] = area.Name
	f.Properties["kind"] = area.KindID
	if area.ParentID != nil {
		f.Properties["parent"] = *area.ParentID
	} else {
		f.Properties["parent"] = nil
	}
	return f, nil
}
