package datasets

import (
	"testing"

	"github.com/voxelstack/patchset/voxel"
)

// twoSourceTranslator builds a translator over two sources with different
// grid shapes: 2x2x2 = 8 cells and 3x2x1 = 6 cells.
func twoSourceTranslator(t *testing.T) *translator {
	t.Helper()
	sources := []DataSource{
		{ID: "a", InputPath: "/vol/a", InputBBox: voxel.BBox{Extent: voxel.Vec3{8, 8, 4}}},
		{ID: "b", InputPath: "/vol/b", InputBBox: voxel.BBox{
			Origin: voxel.Vec3{100, 100, 100}, Extent: voxel.Vec3{12, 8, 2}}},
	}
	trans, err := newTranslator(sources, voxel.Vec3{4, 4, 2}, voxel.Vec3{4, 4, 2}, voxel.Vec3{4, 4, 2})
	if err != nil {
		t.Fatalf("newTranslator failed: %v", err)
	}
	return trans
}

func TestTranslator_RangesTileIndexSpace(t *testing.T) {
	trans := twoSourceTranslator(t)
	if trans.len() != 14 {
		t.Fatalf("len: got %d want 14", trans.len())
	}
	if r := trans.rangeFor(0); r.min != 0 || r.max != 7 {
		t.Fatalf("source 0 range: got [%d, %d] want [0, 7]", r.min, r.max)
	}
	if r := trans.rangeFor(1); r.min != 8 || r.max != 13 {
		t.Fatalf("source 1 range: got [%d, %d] want [8, 13]", r.min, r.max)
	}
}

func TestTranslator_LocateIsBijective(t *testing.T) {
	trans := twoSourceTranslator(t)
	seen := make(map[int]bool)
	for index := 0; index < trans.len(); index++ {
		srcIdx, cell, err := trans.locate(index)
		if err != nil {
			t.Fatalf("locate(%d) failed: %v", index, err)
		}
		wantSrc := 0
		if index >= 8 {
			wantSrc = 1
		}
		if srcIdx != wantSrc {
			t.Fatalf("locate(%d) source: got %d want %d", index, srcIdx, wantSrc)
		}
		if back := trans.globalIndex(srcIdx, cell); back != index {
			t.Fatalf("globalIndex(locate(%d)) = %d", index, back)
		}
		id := srcIdx*1000 + trans.grids[srcIdx].ravelCell(cell)
		if seen[id] {
			t.Fatalf("index %d maps to an already-seen cell", index)
		}
		seen[id] = true
	}
	if _, _, err := trans.locate(trans.len()); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, _, err := trans.locate(-1); err == nil {
		t.Fatal("expected out-of-range error for negative index")
	}
}

func TestTranslator_BBoxForCentersWindow(t *testing.T) {
	trans := twoSourceTranslator(t)

	srcIdx, bbox, err := trans.bboxFor(0, RoleInput)
	if err != nil {
		t.Fatalf("bboxFor failed: %v", err)
	}
	if srcIdx != 0 {
		t.Fatalf("source: got %d want 0", srcIdx)
	}
	// First cell center is floor(window/2) in from the origin, so the
	// window's own origin lands back on the box corner.
	if bbox != (voxel.BBox{Extent: voxel.Vec3{4, 4, 2}}) {
		t.Fatalf("bbox: got %s", bbox)
	}

	center, err := trans.centerFor(0)
	if err != nil {
		t.Fatalf("centerFor failed: %v", err)
	}
	if center != (voxel.Vec3{2, 2, 1}) {
		t.Fatalf("center: got %v want [2 2 1]", center)
	}

	// Second source's first sample starts at its own box corner.
	_, bbox, err = trans.bboxFor(8, RoleInput)
	if err != nil {
		t.Fatalf("bboxFor(8) failed: %v", err)
	}
	if bbox.Origin != (voxel.Vec3{100, 100, 100}) {
		t.Fatalf("bbox origin: got %v want [100 100 100]", bbox.Origin)
	}
}

func TestTranslator_MemoStaysConsistent(t *testing.T) {
	trans := twoSourceTranslator(t)
	for pass := 0; pass < 3; pass++ {
		for index := 0; index < trans.len(); index++ {
			srcIdx, err := trans.sourceFor(index)
			if err != nil {
				t.Fatalf("sourceFor(%d) failed: %v", index, err)
			}
			wantSrc := 0
			if index >= 8 {
				wantSrc = 1
			}
			if srcIdx != wantSrc {
				t.Fatalf("pass %d sourceFor(%d): got %d want %d", pass, index, srcIdx, wantSrc)
			}
		}
	}
}
