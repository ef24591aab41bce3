package main

import (
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/services"
)

func newBordersCmd(c *cli) *cobra.Command {
	bordersCmd := &cobra.Command{
		Use:   "borders",
		Short: "Derive shared borders from area boundaries",
	}

	var (
		kinds []string
		opts  services.ExtractOptions
	)
	extract := &cobra.Command{
		Use:   "extract",
		Short: "Replace the border table with edges shared between areas",
		Long: `extract builds a topology over the selected boundaries and stores one
border per edge with the areas on either side of it. The new set replaces
the old one only when the whole run succeeds.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("kinds") {
				kinds = c.app.cfg.Geometry.BorderKinds
			}
			ids, err := c.app.kindsBySlug(ctx, kinds)
			if err != nil {
				return err
			}
			opts.KindIDs = ids

			report, err := c.app.extractor.Extract(ctx, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"run_id":      report.RunID,
				"areas":       report.Areas,
				"faces":       report.Faces,
				"edges":       report.Edges,
				"borders":     report.Borders,
				"duration_ms": report.Duration.Milliseconds(),
			})
		},
	}
	extract.Flags().StringSliceVar(&kinds, "kinds", nil, "area type slugs to cover (default BORDER_KINDS, else all)")
	extract.Flags().BoolVar(&opts.LeavesOnly, "leaf-only", false, "only use areas without children")
	extract.Flags().BoolVar(&opts.DropInterior, "drop-interior", false, "leave out edges that bound no selected area")

	var areaID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Print stored borders, optionally only those of one area",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				rows []models.Border
				err  error
			)
			if cmd.Flags().Changed("area") {
				if areaID <= 0 {
					return usageError("area", "must be a positive id")
				}
				rows, err = c.app.borders.ListByArea(ctx, areaID)
			} else {
				rows, err = c.app.borders.List(ctx)
			}
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []models.Border{}
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	list.Flags().Int64Var(&areaID, "area", 0, "only borders of this area")

	bordersCmd.AddCommand(extract, list)
	return bordersCmd
}
