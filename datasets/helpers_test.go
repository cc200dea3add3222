package datasets

import (
	"path/filepath"
	"testing"

	"github.com/voxelstack/patchset/voxel"
	"github.com/voxelstack/patchset/wkw"
)

// voxelValue is the deterministic, never-zero fill used for fixture volumes,
// a function of the absolute voxel coordinate so reads are verifiable.
func voxelValue(x, y, z int) float32 {
	return float32(1 + (x*5+y*3+z)%250)
}

// writeVolume creates a store directory at path and fills bbox with
// voxelValue data.
func writeVolume(t *testing.T, path string, bbox voxel.BBox) {
	t.Helper()
	header := wkw.DefaultHeader(voxel.Uint8)
	header.BlockLen = 4
	if err := wkw.Create(path, header); err != nil {
		t.Fatalf("create volume %s: %v", path, err)
	}
	d, err := wkw.Open(path)
	if err != nil {
		t.Fatalf("open volume %s: %v", path, err)
	}
	defer d.Close()

	cube := voxel.NewCube(voxel.Uint8, 1, bbox.Extent)
	for x := 0; x < bbox.Extent[0]; x++ {
		for y := 0; y < bbox.Extent[1]; y++ {
			for z := 0; z < bbox.Extent[2]; z++ {
				cube.Set(0, x, y, z, voxelValue(bbox.Origin[0]+x, bbox.Origin[1]+y, bbox.Origin[2]+z))
			}
		}
	}
	if err := d.Write(bbox.Origin, cube); err != nil {
		t.Fatalf("write volume %s: %v", path, err)
	}
}

// selfSupervisedSource builds a source whose target is its own input volume.
func selfSupervisedSource(id, path string, bbox voxel.BBox) DataSource {
	return DataSource{
		ID:         id,
		InputPath:  path,
		InputBBox:  bbox,
		InputMean:  120,
		InputStd:   30,
		TargetPath: path,
		TargetBBox: bbox,
	}
}

// fixtureDataset writes one 8x8x4 volume and builds a dataset of 4x4x2
// self-supervised windows over it (2x2x2 = 8 samples).
func fixtureDataset(t *testing.T, cfg Config) (*Dataset, DataSource) {
	t.Helper()
	tmp := t.TempDir()
	volPath := filepath.Join(tmp, "vol1", "1")
	bbox := voxel.BBox{Extent: voxel.Vec3{8, 8, 4}}
	writeVolume(t, volPath, bbox)

	src := selfSupervisedSource("1", volPath, bbox)
	if len(cfg.InputShape) == 0 {
		cfg.InputShape = []int{4, 4, 2}
	}
	if len(cfg.TargetShape) == 0 {
		cfg.TargetShape = []int{4, 4, 2}
	}
	if cfg.CacheHDD && cfg.CacheHDDRoot == "" {
		cfg.CacheHDDRoot = filepath.Join(tmp, "cache")
	}
	ds, err := New(cfg, []DataSource{src}, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ds, src
}

// directRead reads a window straight from the authoritative store.
func directRead(t *testing.T, path string, bbox voxel.BBox) *voxel.Cube {
	t.Helper()
	cube, err := readStore(path, bbox)
	if err != nil {
		t.Fatalf("direct read %s %s: %v", path, bbox, err)
	}
	return cube
}

// cubesEqual compares voxel data exactly.
func cubesEqual(a, b *voxel.Cube) bool {
	if a.Channels != b.Channels || a.Size != b.Size || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
