package services

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/geometry"
	"github.com/stwalsh4118/atlas/areas/internal/logger"
	"github.com/stwalsh4118/atlas/areas/internal/metrics"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
)

func unitSquare(x, y float64) *models.MultiPolygon {
	return &models.MultiPolygon{MultiPolygon: orb.MultiPolygon{{
		{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}},
	}}}
}

// rowOfThree is three unit squares side by side.
func rowOfThree() []models.Area {
	return []models.Area{
		{ID: 1, Name: "West", Code: "W", KindID: kindCommune, Geom: unitSquare(0, 0)},
		{ID: 2, Name: "Middle", Code: "M", KindID: kindCommune, Geom: unitSquare(1, 0)},
		{ID: 3, Name: "East", Code: "E", KindID: kindCommune, Geom: unitSquare(2, 0)},
	}
}

type extractFixture struct {
	extractor BorderExtractor
	areas     *MockAreaRepository
	borders   *MockBorderRepository
	staging   *MockStaging
	metrics   *metrics.Metrics
	staged    []models.Border
}

func newExtractFixture(areas []models.Area) *extractFixture {
	f := &extractFixture{
		areas:   newMockAreaRepository(),
		borders: new(MockBorderRepository),
		staging: new(MockStaging),
		metrics: metrics.New(),
	}
	f.areas.On("ListGeometries", mock.Anything, repository.AreaFilter{LeavesOnly: true}).Return(areas, nil)
	f.extractor = NewBorderExtractor(f.areas, f.borders, geometry.NewPlanar(0), logger.New("test"), f.metrics, 2)
	return f
}

func (f *extractFixture) expectStage() *mock.Call {
	return f.borders.On("Stage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { f.staged = args.Get(1).([]models.Border) }).
		Return(f.staging, nil)
}

func TestBorderExtractor_RowOfThree(t *testing.T) {
	f := newExtractFixture(rowOfThree())
	f.expectStage()
	f.staging.On("Swap", mock.Anything).Return(nil)

	report, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Areas)
	assert.Equal(t, 3, report.Faces)
	assert.Equal(t, 6, report.Edges)
	assert.Equal(t, 6, report.Borders)

	var shared [][]int64
	seen := make(map[int64]bool)
	for i, b := range f.staged {
		assert.Equal(t, int64(i+1), b.ID)
		assert.Len(t, b.AreaTypes, len(b.AreaIDs))
		for _, kind := range b.AreaTypes {
			assert.Equal(t, kindCommune, kind)
		}
		if len(b.AreaIDs) == 2 {
			shared = append(shared, b.AreaIDs)
		}
		for _, id := range b.AreaIDs {
			seen[id] = true
		}
	}
	assert.ElementsMatch(t, [][]int64{{1, 2}, {2, 3}}, shared)
	assert.Len(t, seen, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BorderRuns.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.BordersEmitted))
	f.staging.AssertNotCalled(t, "Discard", mock.Anything)
}

func TestBorderExtractor_SplitArea(t *testing.T) {
	// one area made of two touching squares; the cut-line between them is
	// interior to it
	split := &models.MultiPolygon{MultiPolygon: append(unitSquare(0, 0).MultiPolygon, unitSquare(1, 0).MultiPolygon...)}
	areas := []models.Area{{ID: 7, Name: "Split", Code: "S", KindID: kindCommune, Geom: split}}

	tests := []struct {
		name string
		drop bool
		want int
	}{
		{"cut-line kept", false, 3},
		{"cut-line dropped", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExtractFixture(areas)
			f.expectStage()
			f.staging.On("Swap", mock.Anything).Return(nil)

			report, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true, DropInterior: tt.drop})
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Borders)

			empty := 0
			for _, b := range f.staged {
				if len(b.AreaIDs) == 0 {
					empty++
				}
			}
			assert.Equal(t, tt.want-2, empty)
		})
	}
}

func TestBorderExtractor_FlatStoreUsesLeaves(t *testing.T) {
	t.Run("no kinds falls back to leaves", func(t *testing.T) {
		f := newExtractFixture(rowOfThree())
		f.expectStage()
		f.staging.On("Swap", mock.Anything).Return(nil)

		report, err := f.extractor.Extract(context.Background(), ExtractOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, report.Areas)
		f.areas.AssertCalled(t, "ListGeometries", mock.Anything, repository.AreaFilter{LeavesOnly: true})
	})

	t.Run("explicit kinds are kept", func(t *testing.T) {
		f := newExtractFixture(nil)
		filter := repository.AreaFilter{KindIDs: []int64{kindCommune}}
		f.areas.On("ListGeometries", mock.Anything, filter).Return(rowOfThree(), nil)
		f.expectStage()
		f.staging.On("Swap", mock.Anything).Return(nil)

		_, err := f.extractor.Extract(context.Background(), ExtractOptions{KindIDs: []int64{kindCommune}})
		require.NoError(t, err)
		f.areas.AssertCalled(t, "ListGeometries", mock.Anything, filter)
		f.areas.AssertNotCalled(t, "ListGeometries", mock.Anything, repository.AreaFilter{LeavesOnly: true})
	})
}

func TestBorderExtractor_GeometryError(t *testing.T) {
	square := unitSquare(0, 0)
	f := newExtractFixture([]models.Area{
		{ID: 1, Code: "A", KindID: kindCommune, Geom: square},
		{ID: 2, Code: "B", KindID: kindCommune, Geom: square},
		{ID: 3, Code: "C", KindID: kindCommune, Geom: square},
	})

	_, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true})
	assert.Equal(t, areaerrors.CodeGeometry, areaerrors.CodeOf(err))
	f.borders.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BorderRuns.WithLabelValues(metrics.OutcomeFailure)))
}

func TestBorderExtractor_CancelledBeforeSwap(t *testing.T) {
	f := newExtractFixture(rowOfThree())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.expectStage().Run(func(args mock.Arguments) {
		f.staged = args.Get(1).([]models.Border)
		cancel()
	})
	f.staging.On("Discard", mock.Anything).Return(nil)

	_, err := f.extractor.Extract(ctx, ExtractOptions{LeavesOnly: true})
	assert.ErrorIs(t, err, context.Canceled)
	f.staging.AssertCalled(t, "Discard", mock.Anything)
	f.staging.AssertNotCalled(t, "Swap", mock.Anything)
}

func TestBorderExtractor_SwapFailure(t *testing.T) {
	f := newExtractFixture(rowOfThree())
	swapError := errors.New("lock timeout")
	f.expectStage()
	f.staging.On("Swap", mock.Anything).Return(swapError)
	f.staging.On("Discard", mock.Anything).Return(nil)

	_, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true})
	assert.ErrorIs(t, err, swapError)
	f.staging.AssertCalled(t, "Discard", mock.Anything)
}

func TestBorderExtractor_RepositoryError(t *testing.T) {
	f := newExtractFixture(nil)
	dbError := errors.New("database connection failed")
	f.areas.ExpectedCalls = nil
	f.areas.On("ListGeometries", mock.Anything, mock.Anything).Return(nil, dbError)

	_, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true})
	assert.ErrorIs(t, err, dbError)
	f.borders.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything)
}

func TestBorderExtractor_NoAreas(t *testing.T) {
	f := newExtractFixture(nil)
	f.expectStage()
	f.staging.On("Swap", mock.Anything).Return(nil)

	report, err := f.extractor.Extract(context.Background(), ExtractOptions{LeavesOnly: true})
	require.NoError(t, err)
	assert.Zero(t, report.Borders)
	assert.Empty(t, f.staged)
}
