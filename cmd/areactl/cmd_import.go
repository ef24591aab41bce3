package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/atlas/areas/internal/importer"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

func newImportCmd(c *cli) *cobra.Command {
	var kind, parentKind string
	opts := importer.DefaultReadOptions()
	cmd := &cobra.Command{
		Use:   "import <features.geojson>",
		Short: "Bulk import one area type from a GeoJSON FeatureCollection",
		Long: `import reads one area per feature, resolves parents by code within the
file first and then among existing areas of --parent-kind, inserts every
row in one transaction and rebuilds the index once.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kindID, err := c.app.kindBySlug(ctx, kind)
			if err != nil {
				return err
			}
			parentKindID := kindID
			if parentKind != "" {
				if parentKindID, err = c.app.kindBySlug(ctx, parentKind); err != nil {
					return err
				}
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := importer.ReadFeatures(f, opts)
			if err != nil {
				return err
			}
			nodes, err := c.app.tree.Nodes(ctx)
			if err != nil {
				return err
			}
			rows, err := importer.Resolve(records, kindID, parentKindID, nodeLookup(nodes))
			if err != nil {
				return err
			}

			ids, err := c.app.tree.BulkImport(ctx, rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d areas\n", len(ids))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "area type slug of the imported areas")
	cmd.Flags().StringVar(&parentKind, "parent-kind", "", "area type slug of existing parents (default --kind)")
	cmd.Flags().StringVar(&opts.NameProperty, "name-property", opts.NameProperty, "feature property holding the name")
	cmd.Flags().StringVar(&opts.CodeProperty, "code-property", opts.CodeProperty, "feature property holding the code")
	cmd.Flags().StringVar(&opts.ParentCodeProperty, "parent-property", opts.ParentCodeProperty, "feature property holding the parent code")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// nodeLookup indexes nodes by (code, kind).
func nodeLookup(nodes []tree.Node) importer.Lookup {
	type key struct {
		code string
		kind int64
	}
	ids := make(map[key]int64, len(nodes))
	for _, n := range nodes {
		ids[key{n.Code, n.Kind}] = n.ID
	}
	return func(code string, kindID int64) (int64, bool) {
		id, ok := ids[key{code, kindID}]
		return id, ok
	}
}
