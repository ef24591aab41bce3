package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

const (
	// Version is the areactl release.
	Version = "0.1.0"
	// statusTimeout bounds the database check.
	statusTimeout = 2 * time.Second
)

type statusView struct {
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	Database      string `json:"database"`
	ForestVersion int64  `json:"forest_version"`
	Areas         int    `json:"areas"`
	Trees         int    `json:"trees"`
	Borders       int64  `json:"borders"`
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the database connection and report the forest version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			view := statusView{
				Version:     Version,
				Environment: c.app.cfg.App.Env,
				Database:    "connected",
			}
			if err := c.app.db.Ping(ctx); err != nil {
				c.app.log.Error("Database health check failed", err, map[string]interface{}{
					"timeout": statusTimeout.String(),
				})
				view.Database = "disconnected"
				_ = printJSON(cmd.OutOrStdout(), view)
				return err
			}

			if err := c.app.tree.Load(ctx); err != nil {
				return err
			}
			roots, err := c.app.tree.Roots(ctx)
			if err != nil {
				return err
			}
			nodes, err := c.app.tree.Nodes(ctx)
			if err != nil {
				return err
			}
			if view.Borders, err = c.app.borders.Count(ctx); err != nil {
				return err
			}
			view.ForestVersion = c.app.tree.Version()
			view.Areas = len(nodes)
			view.Trees = len(roots)
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}
