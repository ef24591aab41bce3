package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
)

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "areactl",
		Short: "Maintain the area hierarchy, its borders and its features",
		Long: `areactl manages a forest of named geographic areas indexed as nested
sets, derives the shared borders between their boundaries and projects
them as compact GeoJSON.

Configuration comes from the environment (DB_HOST, DB_PASSWORD, ...) or
the YAML file named by AREAS_CONFIG.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if offline(cmd) {
				return nil
			}
			return c.setup(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError("flags", err.Error())
	})

	root.AddCommand(
		newMigrateCmd(c),
		newStatusCmd(c),
		newTypesCmd(c),
		newAreaCmd(c),
		newTreeCmd(c),
		newImportCmd(c),
		newBordersCmd(c),
		newFeaturesCmd(c),
	)
	return root
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables, indexes and extensions areactl needs",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.db.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			c.app.log.Info("Schema is up to date", map[string]interface{}{
				"database": c.app.cfg.Database.Name,
			})
			return nil
		},
	}
}

// offline reports whether cmd runs without configuration or a database.
func offline(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		switch cmd.Name() {
		case "help", "completion":
			return true
		}
	}
	return false
}

// exactArgs is cobra.ExactArgs reporting a validation error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError("args", fmt.Sprintf("%s accepts %d argument(s), received %d", cmd.CommandPath(), n, len(args)))
		}
		return nil
	}
}

func usageError(field, msg string) error {
	return &areaerrors.ValidationError{Fields: map[string]string{field: msg}}
}

func notFound(resource string, id interface{}) error {
	return &areaerrors.NotFoundError{Resource: resource, ID: id}
}

// parseID parses a positive area id argument.
func parseID(name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError(name, fmt.Sprintf("%q is not a valid id", s))
	}
	return id, nil
}
