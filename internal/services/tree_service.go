package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/importer"
	"github.com/stwalsh4118/atlas/areas/internal/logger"
	"github.com/stwalsh4118/atlas/areas/internal/metrics"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/repository"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// CheckReport describes the health of the persisted nested-set index.
type CheckReport struct {
	Version int64
	Areas   int
	Trees   int
	// Consistent is false when the stored attributes do not describe a
	// valid forest; Problem says why.
	Consistent bool
	Problem    string
	// Unordered lists parents whose children are not in name order, which
	// renames leave behind until the next rebuild.
	Unordered []int64
	// Drift counts rows whose stored attributes differ from a fresh
	// rebuild.
	Drift int
}

// TreeService reads and mutates the area hierarchy.
//
// Reads are served from an in-memory nested-set index. Every mutation is
// applied to a private copy of that index inside one database transaction
// holding the forest lock; the copy replaces the cached index only after
// the transaction commits.
type TreeService interface {
	// Load replaces the cached index with the persisted one.
	Load(ctx context.Context) error
	Version() int64

	Get(ctx context.Context, id int64) (tree.Node, error)
	Find(ctx context.Context, id int64) (*models.Area, error)
	Roots(ctx context.Context) ([]tree.Node, error)
	Nodes(ctx context.Context) ([]tree.Node, error)
	Ancestors(ctx context.Context, id int64) ([]tree.Node, error)
	Descendants(ctx context.Context, id int64) ([]tree.Node, error)
	Children(ctx context.Context, id int64) ([]tree.Node, error)
	// AncestorAtLevel returns the ancestor of id at level, or id itself
	// when it is already at or above that level.
	AncestorAtLevel(ctx context.Context, id int64, level int) (tree.Node, error)
	// Containing returns the areas whose boundary contains the point,
	// outermost first.
	Containing(ctx context.Context, lat, lng float64) ([]models.Area, error)

	Insert(ctx context.Context, in models.AreaInput) (tree.Node, error)
	Move(ctx context.Context, in models.MoveInput) (tree.Node, error)
	// Delete removes the area and its whole subtree and returns the removed
	// ids in preorder.
	Delete(ctx context.Context, id int64) ([]int64, error)
	// Rename changes the display name without reordering siblings.
	Rename(ctx context.Context, in models.RenameInput) (tree.Node, error)
	// Locate sets or clears the location of an area. The tree is not
	// touched.
	Locate(ctx context.Context, in models.LocateInput) error
	// Rebuild recomputes every index attribute from parent pointers.
	Rebuild(ctx context.Context) error
	RebuildTree(ctx context.Context, treeID int) error
	// BulkImport stores rows without per-row index maintenance and then
	// rebuilds the forest. It returns the new ids in row order.
	BulkImport(ctx context.Context, rows []importer.Row) ([]int64, error)
	Check(ctx context.Context) (CheckReport, error)
}

// mutation edits ix, a private copy of the current index, and persists
// whatever it needs besides index attributes through tx. It returns the
// resulting index, which is usually ix itself.
type mutation func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error)

type treeService struct {
	repo     repository.AreaRepository
	log      *logger.Logger
	metrics  *metrics.Metrics
	validate *areaerrors.Validator

	writeMu sync.Mutex

	mu      sync.RWMutex
	index   *tree.Index
	version int64
	// exact is set when index matches the persisted attributes row for row.
	exact bool
}

// NewTreeService creates a new instance of TreeService. m may be nil.
func NewTreeService(repo repository.AreaRepository, log *logger.Logger, m *metrics.Metrics) TreeService {
	return &treeService{
		repo:     repo,
		log:      log,
		metrics:  m,
		validate: areaerrors.NewValidator(),
	}
}

func (s *treeService) Load(ctx context.Context) error {
	// version first: the nodes read afterwards are at least that new
	version, err := s.repo.ForestVersion(ctx)
	if err != nil {
		return err
	}
	nodes, err := s.repo.LoadNodes(ctx)
	if err != nil {
		return err
	}
	ix, exact, err := s.indexFrom(nodes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.index, s.version, s.exact = ix, version, exact
	s.mu.Unlock()

	s.log.Debug("Area index loaded", map[string]interface{}{
		"areas":   ix.Len(),
		"version": version,
		"exact":   exact,
	})
	return nil
}

// indexFrom loads persisted attributes, falling back to a rebuild from
// parent pointers when they are missing or inconsistent.
func (s *treeService) indexFrom(nodes []tree.Node) (*tree.Index, bool, error) {
	ix, err := tree.Load(nodes)
	if err == nil {
		return ix, true, nil
	}
	s.log.Warn("Stored tree attributes are inconsistent, rebuilding from parents", map[string]interface{}{
		"reason": err.Error(),
		"areas":  len(nodes),
	})
	ix, err = tree.Build(nodes)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build area index: %w", err)
	}
	return ix, false, nil
}

func (s *treeService) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// current returns the cached index, loading it on first use.
func (s *treeService) current(ctx context.Context) (*tree.Index, error) {
	s.mu.RLock()
	ix := s.index
	s.mu.RUnlock()
	if ix != nil {
		return ix, nil
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, nil
}

func (s *treeService) Get(ctx context.Context, id int64) (tree.Node, error) {
	ix, err := s.current(ctx)
	if err != nil {
		return tree.Node{}, err
	}
	n, ok := ix.Get(id)
	if !ok {
		return tree.Node{}, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	return n, nil
}

func (s *treeService) Find(ctx context.Context, id int64) (*models.Area, error) {
	area, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if area == nil {
		return nil, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	return area, nil
}

func (s *treeService) Roots(ctx context.Context) ([]tree.Node, error) {
	ix, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Roots(), nil
}

func (s *treeService) Nodes(ctx context.Context) ([]tree.Node, error) {
	ix, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Nodes(), nil
}

func (s *treeService) Ancestors(ctx context.Context, id int64) ([]tree.Node, error) {
	return s.rangeQuery(ctx, id, (*tree.Index).Ancestors)
}

func (s *treeService) Descendants(ctx context.Context, id int64) ([]tree.Node, error) {
	return s.rangeQuery(ctx, id, (*tree.Index).Descendants)
}

func (s *treeService) Children(ctx context.Context, id int64) ([]tree.Node, error) {
	return s.rangeQuery(ctx, id, (*tree.Index).Children)
}

func (s *treeService) rangeQuery(ctx context.Context, id int64, query func(*tree.Index, int64) []tree.Node) ([]tree.Node, error) {
	ix, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := ix.Get(id); !ok {
		return nil, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	return query(ix, id), nil
}

func (s *treeService) AncestorAtLevel(ctx context.Context, id int64, level int) (tree.Node, error) {
	if level < 0 {
		return tree.Node{}, &areaerrors.ValidationError{Fields: map[string]string{
			"level": "level must be 0 or greater",
		}}
	}
	ix, err := s.current(ctx)
	if err != nil {
		return tree.Node{}, err
	}
	n, ok := ix.AncestorAtLevel(id, level)
	if !ok {
		return tree.Node{}, &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	return n, nil
}

func (s *treeService) Containing(ctx context.Context, lat, lng float64) ([]models.Area, error) {
	fields := make(map[string]string)
	if lat < MinLatitude || lat > MaxLatitude {
		fields["lat"] = fmt.Sprintf("latitude must be between %g and %g", MinLatitude, MaxLatitude)
	}
	if lng < MinLongitude || lng > MaxLongitude {
		fields["lng"] = fmt.Sprintf("longitude must be between %g and %g", MinLongitude, MaxLongitude)
	}
	if len(fields) > 0 {
		s.log.Warn("Invalid coordinates provided", map[string]interface{}{
			"lat": lat,
			"lng": lng,
		})
		return nil, &areaerrors.ValidationError{Fields: fields}
	}

	areas, err := s.repo.FindContaining(ctx, lat, lng)
	if err != nil {
		s.log.Error("Failed to query areas at point", err, map[string]interface{}{
			"lat": lat,
			"lng": lng,
		})
		return nil, err
	}
	return areas, nil
}

// Insert validates in, stores the new row and slots it among its siblings
// in name order. Ranges of later rows shift to make room.
func (s *treeService) Insert(ctx context.Context, in models.AreaInput) (tree.Node, error) {
	// Validate the request before taking any lock
	if err := s.validate.Struct(in); err != nil {
		return tree.Node{}, err
	}
	kind, err := s.repo.FindTypeByID(ctx, in.KindID)
	if err != nil {
		return tree.Node{}, err
	}
	if kind == nil {
		return tree.Node{}, &areaerrors.NotFoundError{Resource: "area type", ID: in.KindID}
	}

	var inserted tree.Node
	err = s.mutate(ctx, "insert", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		// Check parent and code against the locked index
		n := tree.Node{Name: in.Name, Code: in.Code, Kind: in.KindID}
		if in.ParentID != nil {
			n.Parent = *in.ParentID
			if _, ok := ix.Get(n.Parent); !ok {
				return nil, &areaerrors.NotFoundError{Resource: "area", ID: n.Parent}
			}
		}
		if _, dup := ix.Lookup(in.Code, in.KindID); dup {
			return nil, &areaerrors.DuplicateCodeError{Code: in.Code, KindID: in.KindID}
		}

		// Store the row first; the index needs its id
		id, err := tx.InsertArea(ctx, in)
		if err != nil {
			return nil, err
		}
		n.ID = id
		if inserted, err = ix.Insert(n); err != nil {
			return nil, err
		}
		return ix, nil
	})
	return inserted, err
}

// Move relocates an area and its subtree inside, before or after a target.
// Moving an area into its own subtree is an InvalidMoveError.
func (s *treeService) Move(ctx context.Context, in models.MoveInput) (tree.Node, error) {
	// Validate the request and the position keyword
	if err := s.validate.Struct(in); err != nil {
		return tree.Node{}, err
	}
	pos, err := tree.ParsePosition(in.Position)
	if err != nil {
		return tree.Node{}, &areaerrors.ValidationError{Fields: map[string]string{"position": err.Error()}}
	}

	var moved tree.Node
	err = s.mutate(ctx, "move", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		// Only index attributes change; mutate persists them
		var err error
		if moved, err = ix.Move(in.AreaID, in.TargetID, pos); err != nil {
			return nil, err
		}
		return ix, nil
	})
	return moved, err
}

// Delete removes an area with its whole subtree and closes the gap it
// leaves in the nested-set ranges.
func (s *treeService) Delete(ctx context.Context, id int64) ([]int64, error) {
	var removed []int64
	err := s.mutate(ctx, "delete", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		// Remove from the index to learn the subtree ids
		var err error
		if removed, err = ix.Delete(id); err != nil {
			return nil, err
		}

		// Delete every row of the subtree in one statement
		if err := tx.DeleteAreas(ctx, removed); err != nil {
			return nil, err
		}
		return ix, nil
	})
	return removed, err
}

// Rename updates the name in place. Siblings keep their positions until the
// next rebuild, which is logged when the order went stale.
func (s *treeService) Rename(ctx context.Context, in models.RenameInput) (tree.Node, error) {
	if err := s.validate.Struct(in); err != nil {
		return tree.Node{}, err
	}

	var renamed tree.Node
	var unordered int
	err := s.mutate(ctx, "rename", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		var err error
		if renamed, err = ix.Rename(in.AreaID, in.Name); err != nil {
			return nil, err
		}
		if err := tx.RenameArea(ctx, in.AreaID, in.Name); err != nil {
			return nil, err
		}
		unordered = len(ix.OutOfOrder())
		return ix, nil
	})
	if err == nil && unordered > 0 {
		s.log.Info("Sibling order is stale until the next rebuild", map[string]interface{}{
			"area_id":          in.AreaID,
			"unordered_groups": unordered,
		})
	}
	return renamed, err
}

// Locate stores or clears the location of an area known to the index.
func (s *treeService) Locate(ctx context.Context, in models.LocateInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	if _, err := s.Get(ctx, in.AreaID); err != nil {
		return err
	}
	if err := s.repo.SetLocation(ctx, in.AreaID, in.Location); err != nil {
		s.log.Error("Failed to set area location", err, map[string]interface{}{
			"area_id": in.AreaID,
		})
		return err
	}
	return nil
}

// Rebuild recomputes every nested-set attribute from parent pointers read
// inside the transaction, ignoring the cached index.
func (s *treeService) Rebuild(ctx context.Context) error {
	return s.mutate(ctx, "rebuild", true, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		if err := ix.Rebuild(); err != nil {
			return nil, err
		}
		return ix, nil
	})
}

func (s *treeService) RebuildTree(ctx context.Context, treeID int) error {
	return s.mutate(ctx, "rebuild_tree", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		if err := ix.RebuildTree(treeID); err != nil {
			return nil, err
		}
		return ix, nil
	})
}

// BulkImport stores rows with CopyFrom and rebuilds the forest once instead
// of maintaining the index row by row. Parents are either existing areas or
// earlier rows of the batch.
func (s *treeService) BulkImport(ctx context.Context, rows []importer.Row) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var ids []int64
	err := s.mutate(ctx, "bulk_import", false, func(ctx context.Context, tx repository.AreaTx, ix *tree.Index) (*tree.Index, error) {
		// Reject duplicates and unknown parents before writing anything
		areas := make([]models.Area, len(rows))
		for i, row := range rows {
			a := row.Area
			if _, dup := ix.Lookup(a.Code, a.KindID); dup {
				return nil, &areaerrors.DuplicateCodeError{Code: a.Code, KindID: a.KindID}
			}
			if a.ParentID != nil {
				if _, ok := ix.Get(*a.ParentID); !ok {
					return nil, &areaerrors.NotFoundError{Resource: "area", ID: *a.ParentID}
				}
			}
			areas[i] = a
		}

		// Copy the rows in, then link parents that are part of the batch
		var err error
		if ids, err = tx.BulkInsertAreas(ctx, areas); err != nil {
			return nil, err
		}

		parents := make(map[int64]int64)
		nodes := ix.Nodes()
		for i, row := range rows {
			n := tree.Node{ID: ids[i], Name: row.Area.Name, Code: row.Area.Code, Kind: row.Area.KindID, Parent: row.Area.Parent()}
			if row.ParentIndex >= 0 {
				n.Parent = ids[row.ParentIndex]
				parents[n.ID] = n.Parent
			}
			nodes = append(nodes, n)
		}
		if err := tx.SetParents(ctx, parents); err != nil {
			return nil, err
		}

		// One rebuild covers old and new rows
		return tree.Build(nodes)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Areas imported", map[string]interface{}{
		"count": len(ids),
	})
	return ids, nil
}

func (s *treeService) Check(ctx context.Context) (CheckReport, error) {
	version, err := s.repo.ForestVersion(ctx)
	if err != nil {
		return CheckReport{}, err
	}
	nodes, err := s.repo.LoadNodes(ctx)
	if err != nil {
		return CheckReport{}, err
	}

	report := CheckReport{Version: version, Areas: len(nodes)}
	rebuilt, err := tree.Build(nodes)
	if err != nil {
		report.Problem = err.Error()
		return report, nil
	}
	report.Trees = len(rebuilt.Roots())

	loaded, err := tree.Load(nodes)
	if err != nil {
		report.Problem = err.Error()
		report.Drift = len(nodes)
		return report, nil
	}
	report.Consistent = true
	report.Unordered = loaded.OutOfOrder()
	changes := tree.Diff(loaded, rebuilt)
	report.Drift = len(changes.Updated)
	return report, nil
}

// mutate runs one mutation under the writer lock and the forest lock.
// With reload set the index is rebuilt from the rows read inside the
// transaction instead of the cached copy.
func (s *treeService) mutate(ctx context.Context, op string, reload bool, fn mutation) error {
	start := time.Now()
	opLog, _ := s.log.WithOperation("tree." + op)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		next        *tree.Index
		nextVersion int64
		written     int
	)
	err := s.repo.Mutate(ctx, func(tx repository.AreaTx) error {
		// Serialize with writers in other processes
		if err := tx.LockForest(ctx); err != nil {
			return err
		}
		version, err := tx.ForestVersion(ctx)
		if err != nil {
			return err
		}

		s.mu.RLock()
		base, exact, cachedVersion := s.index, s.exact, s.version
		s.mu.RUnlock()

		// Another writer committed since the cache was built: start from
		// the stored rows instead
		if base == nil || reload || version != cachedVersion {
			nodes, err := tx.LoadNodes(ctx)
			if err != nil {
				return err
			}
			if base, exact, err = s.indexFrom(nodes); err != nil {
				return err
			}
			if reload {
				exact = false
			}
		}

		// Apply the mutation to a private copy
		out, err := fn(ctx, tx, base.Clone())
		if err != nil {
			return err
		}

		// Persist only changed rows when the base matched storage exactly
		var rows []tree.Node
		if exact {
			changes := tree.Diff(base, out)
			rows = append(changes.Added, changes.Updated...)
		} else {
			rows = out.Nodes()
		}
		if err := tx.UpdateIndexes(ctx, rows); err != nil {
			return err
		}
		written = len(rows)

		if nextVersion, err = tx.BumpForestVersion(ctx); err != nil {
			return err
		}
		next = out
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		outcome := metrics.OutcomeFailure
		if areaerrors.IsRecoverable(err) {
			outcome = metrics.OutcomeRejected
			opLog.Warn("Area mutation rejected", map[string]interface{}{
				"error": err.Error(),
				"code":  areaerrors.CodeOf(err),
			})
		} else {
			opLog.Error("Area mutation failed", err, nil)
		}
		s.metrics.ObserveMutation(op, outcome, elapsed)
		return wrapMutationError(op, err)
	}

	// Publish the committed copy
	s.mu.Lock()
	s.index, s.version, s.exact = next, nextVersion, true
	s.mu.Unlock()

	s.metrics.ObserveMutation(op, metrics.OutcomeSuccess, elapsed)
	opLog.Info("Area mutation committed", map[string]interface{}{
		"version":     nextVersion,
		"rows":        written,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// wrapMutationError adds the operation to infrastructure failures. Domain
// errors are returned as is so callers can match them by type.
func wrapMutationError(op string, err error) error {
	var coded areaerrors.Coded
	if errors.As(err, &coded) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
