package wkw

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/voxelstack/patchset/voxel"
)

// blockPath returns the file a block is stored in, mirroring the z/y/x
// directory layout so volumes stay browsable on disk.
func (d *Dataset) blockPath(bc voxel.Vec3) string {
	return filepath.Join(d.root,
		fmt.Sprintf("z%d", bc[2]),
		fmt.Sprintf("y%d", bc[1]),
		fmt.Sprintf("x%d.blk", bc[0]))
}

// loadBlock reads and decodes one block. A missing file is not an error; ok
// is false and the caller substitutes zeros.
func (d *Dataset) loadBlock(bc voxel.Vec3) (*voxel.Cube, bool, error) {
	raw, err := os.ReadFile(d.blockPath(bc))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("wkw block %s: %w", d.blockPath(bc), err)
	}
	if d.header.BlockType == BlockSnappy {
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, false, fmt.Errorf("wkw block %s: snappy: %w", d.blockPath(bc), err)
		}
	}
	n := d.header.BlockLen
	numVoxels := d.header.NumChannels * n * n * n
	if len(raw) != numVoxels*d.dtype.Size() {
		return nil, false, fmt.Errorf("wkw block %s: got %d bytes, want %d",
			d.blockPath(bc), len(raw), numVoxels*d.dtype.Size())
	}
	block := voxel.NewCube(d.dtype, d.header.NumChannels, voxel.Vec3{n, n, n})
	switch d.dtype {
	case voxel.Uint8:
		for i, b := range raw {
			block.Data[i] = float32(b)
		}
	case voxel.Float32:
		for i := range block.Data {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			block.Data[i] = math.Float32frombits(bits)
		}
	}
	return block, true, nil
}

// storeBlock encodes and writes one block, creating its directory if needed.
func (d *Dataset) storeBlock(bc voxel.Vec3, block *voxel.Cube) error {
	var raw []byte
	switch d.dtype {
	case voxel.Uint8:
		raw = make([]byte, len(block.Data))
		for i, v := range block.Data {
			raw[i] = clampUint8(v)
		}
	case voxel.Float32:
		raw = make([]byte, len(block.Data)*4)
		for i, v := range block.Data {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
		}
	}
	if d.header.BlockType == BlockSnappy {
		raw = snappy.Encode(nil, raw)
	}
	path := d.blockPath(bc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("wkw block %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("wkw block %s: %w", path, err)
	}
	return nil
}

func clampUint8(v float32) byte {
	if math.IsNaN(float64(v)) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
