package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/services"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"not found", &areaerrors.NotFoundError{Resource: "area", ID: 9}, exitRejected},
		{"duplicate code", &areaerrors.DuplicateCodeError{Code: "ML", KindID: 1}, exitRejected},
		{"invalid move", &areaerrors.InvalidMoveError{NodeID: 1, TargetID: 2, Reason: "cycle"}, exitRejected},
		{"validation", usageError("args", "bad"), exitRejected},
		{"wrapped rejection", fmt.Errorf("import: %w", notFound("parent area", "ML")), exitRejected},
		{"geometry", areaerrors.NewGeometryError("topology", errors.New("self intersection")), exitFailure},
		{"infrastructure", errors.New("connection refused"), exitFailure},
		{"cancelled", context.Canceled, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("area", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3", "1.5"} {
		_, err := parseID("area", bad)
		var verr *areaerrors.ValidationError
		require.ErrorAs(t, err, &verr, "input %q", bad)
		assert.Contains(t, verr.Fields, "area")
	}
}

func TestWriteDump(t *testing.T) {
	parent := int64(1)
	areas := []models.Area{
		{ID: 3, Name: "Commune I", KindID: 2, ParentID: &parent},
		{ID: 1, Name: "Bamako", KindID: 1},
	}
	types := []models.AreaType{
		{ID: 1, Name: "District", Slug: "district"},
		{ID: 2, Name: "Commune", Slug: "commune"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeDump(&buf, areas, types))

	want := "id\tname\ttype\tparent_id\tparent_name\tparent_type\n" +
		"1\tBamako\tDistrict\t\t\t\n" +
		"3\tCommune I\tCommune\t1\tBamako\tDistrict\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteDump_DanglingParent(t *testing.T) {
	missing := int64(99)
	err := writeDump(&bytes.Buffer{}, []models.Area{{ID: 1, Name: "Orphan", ParentID: &missing}}, nil)
	assert.True(t, areaerrors.IsNotFound(err))
}

func TestWriteNodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeNodes(&buf, []tree.Node{
		{ID: 1, Code: "ML", Name: "Mali", Level: 0},
		{ID: 3, Code: "ML-BKO", Name: "Bamako", Level: 1},
	}))
	assert.Equal(t, "1\tML\tMali\t0\n3\tML-BKO\tBamako\t1\n", buf.String())
}

func TestNodeLookup(t *testing.T) {
	lookup := nodeLookup([]tree.Node{
		{ID: 1, Code: "ML", Kind: 1},
		{ID: 2, Code: "ML", Kind: 2},
	})

	id, ok := lookup("ML", 2)
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = lookup("ML", 3)
	assert.False(t, ok)
}

func TestProjectFlags(t *testing.T) {
	defaults := services.ProjectOptions{Simplify: 1e-3, Quantize: 5, Precision: 6}

	tests := []struct {
		name string
		args []string
		want services.ProjectOptions
	}{
		{"defaults", nil, defaults},
		{"simplify", []string{"--simplify", "0.05"}, services.ProjectOptions{Simplify: 0.05, Quantize: 5, Precision: 6}},
		{"level wins", []string{"--simplify", "0.05", "--level", "0"}, services.ProjectOptions{Simplify: 0, Quantize: 5, Precision: 6}},
		{"disable steps", []string{"--quantize", "0", "--precision", "-1"}, services.ProjectOptions{Simplify: 1e-3, Quantize: 0, Precision: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var flags projectFlags
			cmd := &cobra.Command{Use: "features"}
			flags.register(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			got, err := flags.options(cmd, defaults)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown level", func(t *testing.T) {
		var flags projectFlags
		cmd := &cobra.Command{Use: "features"}
		flags.register(cmd)
		require.NoError(t, cmd.ParseFlags([]string{"--level", "9"}))

		_, err := flags.options(cmd, defaults)
		assert.Equal(t, areaerrors.CodeValidation, areaerrors.CodeOf(err))
	})
}

func TestLocationFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *models.Point
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"both", []string{"--lat", "12.6392", "--lng", "-8.0029"}, &models.Point{Latitude: 12.6392, Longitude: -8.0029}, false},
		{"zero is a location", []string{"--lat", "0", "--lng", "0"}, &models.Point{}, false},
		{"latitude alone", []string{"--lat", "12.6392"}, nil, true},
		{"longitude alone", []string{"--lng", "-8.0029"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newAreaInsertCmd(&cli{})
			require.NoError(t, cmd.ParseFlags(tt.args))

			got, err := locationFlags(cmd)
			if tt.wantErr {
				assert.Equal(t, areaerrors.CodeValidation, areaerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRootCmd_UsageErrorsNeedNoDatabase(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing argument", []string{"area", "delete"}},
		{"locate without area", []string{"area", "locate", "--clear"}},
		{"extra argument", []string{"migrate", "now"}},
		{"unknown flag", []string{"tree", "rebuild", "--bogus"}},
		{"malformed flag", []string{"tree", "rebuild", "--tree", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cli{}
			root := newRootCmd(c)
			root.SetArgs(tt.args)
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})

			err := root.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Equal(t, exitRejected, exitCode(err))
			assert.Nil(t, c.app)
		})
	}
}

func TestRootCmd_HelpIsOffline(t *testing.T) {
	c := &cli{}
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetArgs([]string{"help", "borders"})
	root.SetOut(&out)

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "extract")
	assert.Nil(t, c.app)
}
