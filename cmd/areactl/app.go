package main

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/atlas/areas/internal/cache"
	"github.com/stwalsh4118/atlas/areas/internal/config"
	"github.com/stwalsh4118/atlas/areas/internal/database"
	"github.com/stwalsh4118/atlas/areas/internal/geometry"
	"github.com/stwalsh4118/atlas/areas/internal/logger"
	"github.com/stwalsh4118/atlas/areas/internal/metrics"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
	"github.com/stwalsh4118/atlas/areas/internal/services"
)

// app holds the wired dependencies of one areactl invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	db      *database.Database

	areas     repository.AreaRepository
	borders   repository.BorderRepository
	tree      services.TreeService
	extractor services.BorderExtractor
	projector services.FeatureProjector

	closers []func() error
}

// cli owns the app across cobra's pre-run and the final cleanup.
type cli struct {
	app *app
}

func (c *cli) setup(ctx context.Context) error {
	if c.app != nil {
		return nil
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	a := c.app
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Error("Failed to write metrics textfile", err, map[string]interface{}{
			"path": a.cfg.Metrics.Textfile,
		})
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to release resource", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func newApp(ctx context.Context) (*app, error) {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithLevel(cfg.App.Env, cfg.App.LogLevel)
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	log.Debug("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Name,
		"pool_max": cfg.Database.PoolMax,
	})

	store, err := geometry.Open(cfg.Geometry, db)
	if err != nil {
		a.release()
		return nil, err
	}

	featureCache, closeCache, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		// projections still work uncached
		log.Warn("Feature cache unavailable", map[string]interface{}{
			"addr":  cfg.Cache.RedisAddr,
			"error": err.Error(),
		})
		featureCache, closeCache = cache.NopCache{}, func() error { return nil }
	}
	a.closers = append(a.closers, closeCache)

	a.areas = repository.NewAreaRepository(db)
	a.borders = repository.NewBorderRepository(db)
	a.tree = services.NewTreeService(a.areas, log, a.metrics)
	a.extractor = services.NewBorderExtractor(a.areas, a.borders, store, log, a.metrics, cfg.Features.Workers)
	a.projector = services.NewFeatureProjector(a.areas, store, featureCache, log, a.metrics, cfg.Features.Workers)
	return a, nil
}

func (a *app) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// kindBySlug resolves an area type slug to its id.
func (a *app) kindBySlug(ctx context.Context, slug string) (int64, error) {
	t, err := a.areas.FindTypeBySlug(ctx, slug)
	if err != nil {
		return 0, fmt.Errorf("failed to look up area type %q: %w", slug, err)
	}
	if t == nil {
		return 0, notFound("area type", slug)
	}
	return t.ID, nil
}

func (a *app) kindsBySlug(ctx context.Context, slugs []string) ([]int64, error) {
	ids := make([]int64, 0, len(slugs))
	for _, slug := range slugs {
		id, err := a.kindBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
