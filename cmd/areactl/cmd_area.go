package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/atlas/areas/internal/importer"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/services"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

func newTypesCmd(c *cli) *cobra.Command {
	types := &cobra.Command{
		Use:   "types",
		Short: "Manage area types",
	}
	types.AddCommand(&cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Create or update area types from a YAML list of {name, slug}",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			loaded, err := importer.LoadAreaTypes(f)
			if err != nil {
				return err
			}
			for _, t := range loaded {
				saved, err := c.app.areas.UpsertType(cmd.Context(), t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", saved.ID, saved.Slug, saved.Name)
			}
			return nil
		},
	})
	return types
}

func newAreaCmd(c *cli) *cobra.Command {
	area := &cobra.Command{
		Use:   "area",
		Short: "Insert, move, rename, delete and inspect areas",
	}
	area.AddCommand(
		newAreaInsertCmd(c),
		newAreaMoveCmd(c),
		newAreaDeleteCmd(c),
		newAreaRenameCmd(c),
		newAreaShowCmd(c),
		newAreaAtPointCmd(c),
		newAreaLocateCmd(c),
		newAreaProjectCmd(c),
		newAreaRelativesCmd(c, "ancestors", "List the ancestors of an area, root first", services.TreeService.Ancestors),
		newAreaRelativesCmd(c, "descendants", "List the areas below an area in preorder", services.TreeService.Descendants),
		newAreaRelativesCmd(c, "children", "List the direct children of an area in name order", services.TreeService.Children),
		newAreaRootsCmd(c),
		newAreaAtLevelCmd(c),
	)
	return area
}

func newAreaRelativesCmd(c *cli, use, short string, query func(services.TreeService, context.Context, int64) ([]tree.Node, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <area-id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			nodes, err := query(c.app.tree, cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeNodes(cmd.OutOrStdout(), nodes)
		},
	}
}

func newAreaRootsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "List the root of every tree in tree order",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := c.app.tree.Roots(cmd.Context())
			if err != nil {
				return err
			}
			return writeNodes(cmd.OutOrStdout(), roots)
		},
	}
}

func newAreaAtLevelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "at-level <area-id> <level>",
		Short: "Print the ancestor of an area at a level, or the area itself when it is not deeper",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			level, err := strconv.Atoi(args[1])
			if err != nil {
				return usageError("level", fmt.Sprintf("%q is not a level", args[1]))
			}
			n, err := c.app.tree.AncestorAtLevel(cmd.Context(), id, level)
			if err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), n)
		},
	}
}

// writeNodes prints one tab separated line per node: id, code, name, level.
func writeNodes(w io.Writer, nodes []tree.Node) error {
	for _, n := range nodes {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", n.ID, n.Code, n.Name, n.Level); err != nil {
			return err
		}
	}
	return nil
}

func newAreaInsertCmd(c *cli) *cobra.Command {
	var (
		name, code, kind, geomFile string
		parent                     int64
		lat, lng                   float64
	)
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert an area in its name-ordered place",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kindID, err := c.app.kindBySlug(ctx, kind)
			if err != nil {
				return err
			}
			in := models.AreaInput{Name: name, Code: code, KindID: kindID}
			if parent != 0 {
				in.ParentID = &parent
			}
			if geomFile != "" {
				if in.Geom, err = readBoundary(geomFile); err != nil {
					return err
				}
			}
			if in.Location, err = locationFlags(cmd); err != nil {
				return err
			}

			n, err := c.app.tree.Insert(ctx, in)
			if err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), n)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&code, "code", "", "code, unique per area type")
	cmd.Flags().StringVar(&kind, "kind", "", "area type slug")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent area id (omit for a new root)")
	cmd.Flags().StringVar(&geomFile, "geometry", "", "GeoJSON file holding a Polygon or MultiPolygon boundary")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the area's location")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude of the area's location")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newAreaMoveCmd(c *cli) *cobra.Command {
	var position string
	cmd := &cobra.Command{
		Use:   "move <area-id> <target-id>",
		Short: "Move an area and its subtree inside, before or after a target",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			target, err := parseID("target", args[1])
			if err != nil {
				return err
			}
			n, err := c.app.tree.Move(cmd.Context(), models.MoveInput{AreaID: id, TargetID: target, Position: position})
			if err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), n)
		},
	}
	cmd.Flags().StringVar(&position, "position", string(tree.Inside), "inside, before or after")
	return cmd
}

func newAreaDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <area-id>",
		Short: "Delete an area and every area below it",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			removed, err := c.app.tree.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, r := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}

func newAreaRenameCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <area-id> <name>",
		Short: "Rename an area; siblings are re-sorted by the next tree rebuild",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			n, err := c.app.tree.Rename(cmd.Context(), models.RenameInput{AreaID: id, Name: args[1]})
			if err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), n)
		},
	}
}

// locationFlags reads --lat and --lng, nil when neither was given. One
// without the other is a usage error.
func locationFlags(cmd *cobra.Command) (*models.Point, error) {
	flags := cmd.Flags()
	hasLat, hasLng := flags.Changed("lat"), flags.Changed("lng")
	if !hasLat && !hasLng {
		return nil, nil
	}
	if hasLat != hasLng {
		return nil, usageError("location", "--lat and --lng must be given together")
	}
	lat, err := flags.GetFloat64("lat")
	if err != nil {
		return nil, err
	}
	lng, err := flags.GetFloat64("lng")
	if err != nil {
		return nil, err
	}
	return &models.Point{Latitude: lat, Longitude: lng}, nil
}

func newAreaLocateCmd(c *cli) *cobra.Command {
	var (
		lat, lng float64
		unset    bool
	)
	cmd := &cobra.Command{
		Use:   "locate <area-id>",
		Short: "Set or clear the location of an area",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			in := models.LocateInput{AreaID: id}
			if in.Location, err = locationFlags(cmd); err != nil {
				return err
			}
			switch {
			case in.Location == nil && !unset:
				return usageError("location", "pass --lat and --lng, or --clear")
			case in.Location != nil && unset:
				return usageError("location", "--clear cannot be combined with --lat and --lng")
			}
			if err := c.app.tree.Locate(cmd.Context(), in); err != nil {
				return err
			}
			if in.Location == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\tcleared\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, in.Location)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().BoolVar(&unset, "clear", false, "remove the location")
	return cmd
}

func newAreaProjectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "project",
		Short: "Refresh area_projected with every boundary in the topology SRID",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			srid := c.app.cfg.Geometry.TopologySRID
			n, err := c.app.areas.ProjectAreas(cmd.Context(), srid)
			if err != nil {
				return err
			}
			c.app.log.Info("Projected areas refreshed", map[string]interface{}{
				"rows": n,
				"srid": srid,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%d areas projected to SRID %d\n", n, srid)
			return nil
		},
	}
}

// areaView is the printed form of one area.
type areaView struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Code     string  `json:"code"`
	Kind     string  `json:"kind"`
	Parent   *int64  `json:"parent"`
	Level    int     `json:"level"`
	Display  string  `json:"display"`
	Path     []int64 `json:"path"`
	Geometry bool    `json:"has_geometry"`
	Location *string `json:"location"`
}

func newAreaShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <area-id>",
		Short: "Print an area with its place in the hierarchy",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID("area", args[0])
			if err != nil {
				return err
			}
			area, err := c.app.tree.Find(ctx, id)
			if err != nil {
				return err
			}
			types, err := c.app.areas.ListTypes(ctx)
			if err != nil {
				return err
			}
			kinds := typesByID(types)

			var parent *models.Area
			if area.ParentID != nil {
				if parent, err = c.app.tree.Find(ctx, *area.ParentID); err != nil {
					return err
				}
			}
			ancestors, err := c.app.tree.Ancestors(ctx, id)
			if err != nil {
				return err
			}

			view := areaView{
				ID:       area.ID,
				Name:     area.Name,
				Code:     area.Code,
				Kind:     kinds[area.KindID].Slug,
				Parent:   area.ParentID,
				Level:    area.Level,
				Path:     make([]int64, 0, len(ancestors)),
				Geometry: area.HasGeometry(),
			}
			var parentKind models.AreaType
			if parent != nil {
				parentKind = kinds[parent.KindID]
			}
			view.Display = area.DisplayWithParent(kinds[area.KindID], parent, parentKind)
			if area.Location != nil {
				loc := area.Location.String()
				view.Location = &loc
			}
			for _, a := range ancestors {
				view.Path = append(view.Path, a.ID)
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newAreaAtPointCmd(c *cli) *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "at-point",
		Short: "List the areas containing a point, outermost first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			areas, err := c.app.tree.Containing(ctx, lat, lng)
			if err != nil {
				return err
			}
			if len(areas) == 0 {
				return notFound("area at point", fmt.Sprintf("(%g, %g)", lat, lng))
			}
			types, err := c.app.areas.ListTypes(ctx)
			if err != nil {
				return err
			}
			kinds := typesByID(types)
			for _, a := range areas {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", a.ID, a.Code, a.DisplayNameAndType(kinds[a.KindID]))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

// readBoundary reads a boundary from a GeoJSON geometry, feature or
// single-feature collection.
func readBoundary(path string) (*models.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var g *geojson.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) == 1 {
		g = geojson.NewGeometry(fc.Features[0].Geometry)
	} else if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		g = geojson.NewGeometry(f.Geometry)
	} else if g, err = geojson.UnmarshalGeometry(data); err != nil {
		return nil, usageError("geometry", fmt.Sprintf("%s holds no GeoJSON boundary: %v", path, err))
	}

	mp, err := models.NewMultiPolygon(g.Geometry())
	if err != nil {
		return nil, usageError("geometry", err.Error())
	}
	return &mp, nil
}

func typesByID(types []models.AreaType) map[int64]models.AreaType {
	out := make(map[int64]models.AreaType, len(types))
	for _, t := range types {
		out[t.ID] = t
	}
	return out
}

// nodeView is the printed form of a tree row.
type nodeView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Parent int64  `json:"parent"`
	TreeID int    `json:"tree_id"`
	Left   int    `json:"lft"`
	Right  int    `json:"rght"`
	Level  int    `json:"level"`
}

func printNode(w io.Writer, n tree.Node) error {
	return printJSON(w, nodeView{
		ID: n.ID, Name: n.Name, Code: n.Code, Parent: n.Parent,
		TreeID: n.TreeID, Left: n.Left, Right: n.Right, Level: n.Level,
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
