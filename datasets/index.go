package datasets

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/voxelstack/patchset/voxel"
)

// locateMemoSize bounds the index->source memo. Access patterns during
// training revisit a small working set of indices, so a small memo suffices.
const locateMemoSize = 128

// indexRange is the inclusive global index span owned by one data source.
type indexRange struct {
	min, max int
}

// translator maps global sample indices to data sources and grid cells and
// back. It is immutable after construction except for the memo, which carries
// its own lock, so it is safe for concurrent workers.
type translator struct {
	sources     []DataSource
	grids       []*Grid
	ranges      []indexRange
	inputShape  voxel.Vec3
	targetShape voxel.Vec3

	memoMu sync.Mutex
	memo   *lru.Cache
}

// newTranslator builds one grid per source and assigns contiguous index
// ranges in registration order: source i starts where source i-1 ended.
func newTranslator(sources []DataSource, inputShape, targetShape, stride voxel.Vec3) (*translator, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no data sources registered")
	}
	t := &translator{
		sources:     sources,
		grids:       make([]*Grid, len(sources)),
		ranges:      make([]indexRange, len(sources)),
		inputShape:  inputShape,
		targetShape: targetShape,
		memo:        lru.New(locateMemoSize),
	}
	next := 0
	for i, src := range sources {
		grid, err := buildGrid(src.InputBBox, inputShape, stride)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.ID, err)
		}
		t.grids[i] = grid
		t.ranges[i] = indexRange{min: next, max: next + grid.NumCells() - 1}
		next = t.ranges[i].max + 1
	}
	return t, nil
}

// len returns the total number of samples across all sources.
func (t *translator) len() int {
	return t.ranges[len(t.ranges)-1].max + 1
}

// rangeFor returns the global index range a source owns.
func (t *translator) rangeFor(srcIdx int) indexRange {
	return t.ranges[srcIdx]
}

// sourceFor finds the source owning a global index. Ranges are contiguous
// and ordered, so this is a boundary search over the max indices.
func (t *translator) sourceFor(index int) (int, error) {
	if index < 0 || index >= t.len() {
		return 0, fmt.Errorf("sample index %d out of range [0, %d)", index, t.len())
	}
	t.memoMu.Lock()
	if v, ok := t.memo.Get(index); ok {
		t.memoMu.Unlock()
		return v.(int), nil
	}
	t.memoMu.Unlock()

	srcIdx := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].max >= index
	})

	t.memoMu.Lock()
	t.memo.Add(index, srcIdx)
	t.memoMu.Unlock()
	return srcIdx, nil
}

// locate resolves a global index to its source and grid cell.
func (t *translator) locate(index int) (srcIdx int, cell voxel.Vec3, err error) {
	srcIdx, err = t.sourceFor(index)
	if err != nil {
		return 0, voxel.Vec3{}, err
	}
	cell, err = t.grids[srcIdx].unravelCell(index - t.ranges[srcIdx].min)
	if err != nil {
		return 0, voxel.Vec3{}, err
	}
	return srcIdx, cell, nil
}

// globalIndex is the inverse of locate.
func (t *translator) globalIndex(srcIdx int, cell voxel.Vec3) int {
	return t.ranges[srcIdx].min + t.grids[srcIdx].ravelCell(cell)
}

// shapeFor returns the window shape for a role.
func (t *translator) shapeFor(role Role) voxel.Vec3 {
	if role == RoleTarget {
		return t.targetShape
	}
	return t.inputShape
}

// bboxFor returns the window bounding box for a sample: the role's window
// shape centered (floor-rounded) on the sample's grid-cell coordinate.
func (t *translator) bboxFor(index int, role Role) (srcIdx int, bbox voxel.BBox, err error) {
	srcIdx, cell, err := t.locate(index)
	if err != nil {
		return 0, voxel.BBox{}, err
	}
	shape := t.shapeFor(role)
	center := t.grids[srcIdx].Center(cell)
	return srcIdx, voxel.BBox{Origin: center.Sub(shape.Half()), Extent: shape}, nil
}

// centerFor returns the raw grid-cell coordinate of a sample without the
// window offset.
func (t *translator) centerFor(index int) (voxel.Vec3, error) {
	srcIdx, cell, err := t.locate(index)
	if err != nil {
		return voxel.Vec3{}, err
	}
	return t.grids[srcIdx].Center(cell), nil
}
