package main

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/atlas/areas/internal/services"
)

// projectFlags are the reduction flags shared by the features subcommands.
type projectFlags struct {
	simplify  float64
	quantize  int
	precision int
	level     int
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.simplify, "simplify", 0, "simplification tolerance in degrees (default FEATURE_SIMPLIFY)")
	cmd.Flags().IntVar(&f.quantize, "quantize", 0, "decimal digits kept by quantization, 0 disables (default FEATURE_QUANTIZE)")
	cmd.Flags().IntVar(&f.precision, "precision", 0, "decimal digits in the output, -1 disables (default FEATURE_PRECISION)")
	cmd.Flags().IntVar(&f.level, "level", 0, "simplification level 0-5, overrides --simplify")
}

// options overlays the flags that were set on defaults.
func (f *projectFlags) options(cmd *cobra.Command, defaults services.ProjectOptions) (services.ProjectOptions, error) {
	opts := defaults
	flags := cmd.Flags()
	if flags.Changed("simplify") {
		opts.Simplify = f.simplify
	}
	if flags.Changed("level") {
		tol, err := services.LevelTolerance(f.level)
		if err != nil {
			return opts, err
		}
		opts.Simplify = tol
	}
	if flags.Changed("quantize") {
		opts.Quantize = f.quantize
	}
	if flags.Changed("precision") {
		opts.Precision = f.precision
	}
	return opts, nil
}

func newFeaturesCmd(c *cli) *cobra.Command {
	features := &cobra.Command{
		Use:   "features",
		Short: "Print simplified area boundaries as a GeoJSON FeatureCollection",
	}

	project := func(use, short string, run func(ctx context.Context, arg string, opts services.ProjectOptions) (*geojson.FeatureCollection, error)) *cobra.Command {
		var flags projectFlags
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts, err := flags.options(cmd, services.DefaultProjectOptions(c.app.cfg.Features))
				if err != nil {
					return err
				}
				fc, err := run(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				data, err := fc.MarshalJSON()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			},
		}
		flags.register(cmd)
		return cmd
	}

	features.AddCommand(
		project("by-id <area-id>", "Project one area", func(ctx context.Context, arg string, opts services.ProjectOptions) (*geojson.FeatureCollection, error) {
			id, err := parseID("area", arg)
			if err != nil {
				return nil, err
			}
			return c.app.projector.ByID(ctx, id, opts)
		}),
		project("by-parent <area-id>", "Project the children of an area", func(ctx context.Context, arg string, opts services.ProjectOptions) (*geojson.FeatureCollection, error) {
			id, err := parseID("parent", arg)
			if err != nil {
				return nil, err
			}
			return c.app.projector.ByParent(ctx, id, opts)
		}),
		project("by-kind <type-slug>", "Project every area of one type", func(ctx context.Context, slug string, opts services.ProjectOptions) (*geojson.FeatureCollection, error) {
			kindID, err := c.app.kindBySlug(ctx, slug)
			if err != nil {
				return nil, err
			}
			return c.app.projector.ByKind(ctx, kindID, opts)
		}),
	)
	return features
}
