package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

// MockAreaRepository is a mock implementation of AreaRepository for testing.
// Mutate records the call and runs fn against Tx.
type MockAreaRepository struct {
	mock.Mock
	Tx *MockAreaTx
}

func newMockAreaRepository() *MockAreaRepository {
	return &MockAreaRepository{Tx: new(MockAreaTx)}
}

func (m *MockAreaRepository) LoadNodes(ctx context.Context) ([]tree.Node, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]tree.Node)
	return nodes, args.Error(1)
}

func (m *MockAreaRepository) ForestVersion(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaRepository) FindByID(ctx context.Context, id int64) (*models.Area, error) {
	args := m.Called(ctx, id)
	area, _ := args.Get(0).(*models.Area)
	return area, args.Error(1)
}

func (m *MockAreaRepository) FindByCode(ctx context.Context, code string, kindID int64) (*models.Area, error) {
	args := m.Called(ctx, code, kindID)
	area, _ := args.Get(0).(*models.Area)
	return area, args.Error(1)
}

func (m *MockAreaRepository) ListByParent(ctx context.Context, parentID int64) ([]models.Area, error) {
	args := m.Called(ctx, parentID)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) ListByKind(ctx context.Context, kindID int64) ([]models.Area, error) {
	args := m.Called(ctx, kindID)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) ListAll(ctx context.Context) ([]models.Area, error) {
	args := m.Called(ctx)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) Ancestors(ctx context.Context, id int64) ([]models.Area, error) {
	args := m.Called(ctx, id)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) Descendants(ctx context.Context, id int64) ([]models.Area, error) {
	args := m.Called(ctx, id)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) Children(ctx context.Context, id int64) ([]models.Area, error) {
	args := m.Called(ctx, id)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) FindContaining(ctx context.Context, lat, lng float64) ([]models.Area, error) {
	args := m.Called(ctx, lat, lng)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) ListGeometries(ctx context.Context, filter repository.AreaFilter) ([]models.Area, error) {
	args := m.Called(ctx, filter)
	areas, _ := args.Get(0).([]models.Area)
	return areas, args.Error(1)
}

func (m *MockAreaRepository) ListTypes(ctx context.Context) ([]models.AreaType, error) {
	args := m.Called(ctx)
	types, _ := args.Get(0).([]models.AreaType)
	return types, args.Error(1)
}

func (m *MockAreaRepository) FindTypeByID(ctx context.Context, id int64) (*models.AreaType, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*models.AreaType)
	return t, args.Error(1)
}

func (m *MockAreaRepository) FindTypeBySlug(ctx context.Context, slug string) (*models.AreaType, error) {
	args := m.Called(ctx, slug)
	t, _ := args.Get(0).(*models.AreaType)
	return t, args.Error(1)
}

func (m *MockAreaRepository) UpsertType(ctx context.Context, t models.AreaType) (models.AreaType, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(models.AreaType), args.Error(1)
}

func (m *MockAreaRepository) SetLocation(ctx context.Context, id int64, point *models.Point) error {
	return m.Called(ctx, id, point).Error(0)
}

func (m *MockAreaRepository) ProjectAreas(ctx context.Context, srid int) (int64, error) {
	args := m.Called(ctx, srid)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaRepository) Mutate(ctx context.Context, fn func(repository.AreaTx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.Tx)
}

// MockAreaTx is a mock implementation of AreaTx for testing.
type MockAreaTx struct {
	mock.Mock
}

func (m *MockAreaTx) LockForest(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAreaTx) ForestVersion(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaTx) BumpForestVersion(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaTx) LoadNodes(ctx context.Context) ([]tree.Node, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]tree.Node)
	return nodes, args.Error(1)
}

func (m *MockAreaTx) InsertArea(ctx context.Context, in models.AreaInput) (int64, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAreaTx) BulkInsertAreas(ctx context.Context, areas []models.Area) ([]int64, error) {
	args := m.Called(ctx, areas)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *MockAreaTx) SetParents(ctx context.Context, parents map[int64]int64) error {
	return m.Called(ctx, parents).Error(0)
}

func (m *MockAreaTx) UpdateIndexes(ctx context.Context, nodes []tree.Node) error {
	return m.Called(ctx, nodes).Error(0)
}

func (m *MockAreaTx) DeleteAreas(ctx context.Context, ids []int64) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *MockAreaTx) RenameArea(ctx context.Context, id int64, name string) error {
	return m.Called(ctx, id, name).Error(0)
}

// MockBorderRepository is a mock implementation of BorderRepository for
// testing.
type MockBorderRepository struct {
	mock.Mock
}

func (m *MockBorderRepository) Stage(ctx context.Context, borders []models.Border) (repository.Staging, error) {
	args := m.Called(ctx, borders)
	s, _ := args.Get(0).(repository.Staging)
	return s, args.Error(1)
}

func (m *MockBorderRepository) List(ctx context.Context) ([]models.Border, error) {
	args := m.Called(ctx)
	borders, _ := args.Get(0).([]models.Border)
	return borders, args.Error(1)
}

func (m *MockBorderRepository) ListByArea(ctx context.Context, areaID int64) ([]models.Border, error) {
	args := m.Called(ctx, areaID)
	borders, _ := args.Get(0).([]models.Border)
	return borders, args.Error(1)
}

func (m *MockBorderRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockStaging is a mock implementation of Staging for testing.
type MockStaging struct {
	mock.Mock
}

func (m *MockStaging) Table() string { return "area_border_staging_test" }

func (m *MockStaging) Rows() int64 {
	return m.Called().Get(0).(int64)
}

func (m *MockStaging) Swap(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStaging) Discard(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// memoryCache is a FeatureCache backed by a map.
type memoryCache struct {
	entries map[string][]byte
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.entries[key] = value
	c.sets++
	return nil
}
