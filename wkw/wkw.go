// Package wkw implements a block-file volumetric store: a directory holding a
// JSON header plus fixed-size voxel blocks, addressable by an origin and
// extent in absolute volume coordinates. Reads of unwritten regions return
// zero voxels; writes are block-aligned read-modify-write. Blocks can be
// stored raw or snappy-compressed.
//
// The same format is used for authoritative source volumes and for the local
// disk cache that mirrors them.
package wkw

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxelstack/patchset/voxel"
)

// HeaderFile is the marker file identifying a store directory.
const HeaderFile = "header.wkw"

// BlockType selects the block encoding.
type BlockType int

const (
	BlockRaw    BlockType = 1
	BlockSnappy BlockType = 2
)

// Header describes the voxel layout of a store directory.
type Header struct {
	VoxelType   string    `json:"voxel_type"`
	NumChannels int       `json:"num_channels"`
	BlockLen    int       `json:"block_len"`
	BlockType   BlockType `json:"block_type"`
}

// DType returns the parsed voxel type of the header.
func (h Header) DType() (voxel.DType, error) {
	return voxel.ParseDType(h.VoxelType)
}

// DefaultHeader returns a header for the given dtype with a 32-voxel block
// length, one channel and snappy-compressed blocks.
func DefaultHeader(dtype voxel.DType) Header {
	return Header{
		VoxelType:   dtype.String(),
		NumChannels: 1,
		BlockLen:    32,
		BlockType:   BlockSnappy,
	}
}

// Dataset is an open store directory.
type Dataset struct {
	root   string
	header Header
	dtype  voxel.DType
}

// Exists reports whether path already holds a store header.
func Exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, HeaderFile))
	return err == nil
}

// Create initializes a store directory with the given header. Directory
// creation is idempotent; an existing header is overwritten only if the
// layout matches, otherwise Create fails.
func Create(path string, h Header) error {
	if h.NumChannels < 1 {
		return fmt.Errorf("wkw create %s: num_channels must be >= 1", path)
	}
	if h.BlockLen < 1 {
		return fmt.Errorf("wkw create %s: block_len must be >= 1", path)
	}
	if _, err := h.DType(); err != nil {
		return fmt.Errorf("wkw create %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("wkw create %s: %w", path, err)
	}
	if Exists(path) {
		existing, err := ReadHeader(path)
		if err != nil {
			return err
		}
		if existing != h {
			return fmt.Errorf("wkw create %s: incompatible existing header", path)
		}
		return nil
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, HeaderFile), data, 0o644); err != nil {
		return fmt.Errorf("wkw create %s: %w", path, err)
	}
	return nil
}

// ReadHeader loads the header of a store directory without opening it.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(filepath.Join(path, HeaderFile))
	if err != nil {
		return Header{}, fmt.Errorf("wkw header %s: %w", path, err)
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("wkw header %s: %w", path, err)
	}
	return h, nil
}

// Open opens an existing store directory.
func Open(path string) (*Dataset, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	dtype, err := h.DType()
	if err != nil {
		return nil, fmt.Errorf("wkw open %s: %w", path, err)
	}
	return &Dataset{root: path, header: h, dtype: dtype}, nil
}

// Header returns the dataset header.
func (d *Dataset) Header() Header {
	return d.header
}

// Close releases the dataset. The store holds no file handles between
// operations, so Close only exists to keep the open/close contract explicit.
func (d *Dataset) Close() error {
	return nil
}

// Read returns a dense cube covering [origin, origin+extent). Regions no
// block has been written for come back zero-filled.
func (d *Dataset) Read(origin, extent voxel.Vec3) (*voxel.Cube, error) {
	for dim := 0; dim < 3; dim++ {
		if extent[dim] < 1 {
			return nil, fmt.Errorf("wkw read %s: non-positive extent %v", d.root, extent)
		}
	}
	out := voxel.NewCube(d.dtype, d.header.NumChannels, extent)
	err := d.eachBlock(origin, extent, func(bc voxel.Vec3, lo, hi, blockLo voxel.Vec3) error {
		block, ok, err := d.loadBlock(bc)
		if err != nil {
			return err
		}
		if !ok {
			return nil // absent block reads as zeros
		}
		return copyRegion(out, lo, block, blockLo, hi.Sub(lo))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores the cube's voxels at the given absolute origin, creating or
// rewriting every block the region touches.
func (d *Dataset) Write(origin voxel.Vec3, c *voxel.Cube) error {
	if c.Channels != d.header.NumChannels {
		return fmt.Errorf("wkw write %s: channel mismatch: %d != %d", d.root, c.Channels, d.header.NumChannels)
	}
	return d.eachBlock(origin, c.Size, func(bc voxel.Vec3, lo, hi, blockLo voxel.Vec3) error {
		n := d.header.BlockLen
		block, ok, err := d.loadBlock(bc)
		if err != nil {
			return err
		}
		if !ok {
			block = voxel.NewCube(d.dtype, d.header.NumChannels, voxel.Vec3{n, n, n})
		}
		if err := copyRegion(block, blockLo, c, lo, hi.Sub(lo)); err != nil {
			return err
		}
		return d.storeBlock(bc, block)
	})
}

// eachBlock visits every block overlapping [origin, origin+extent) and hands
// the visitor the overlap as cube-relative bounds [lo, hi) plus the matching
// block-relative start.
func (d *Dataset) eachBlock(origin, extent voxel.Vec3, visit func(bc, lo, hi, blockLo voxel.Vec3) error) error {
	n := d.header.BlockLen
	end := origin.Add(extent)
	bMin := voxel.Vec3{floorDiv(origin[0], n), floorDiv(origin[1], n), floorDiv(origin[2], n)}
	bMax := voxel.Vec3{floorDiv(end[0]-1, n), floorDiv(end[1]-1, n), floorDiv(end[2]-1, n)}
	for bx := bMin[0]; bx <= bMax[0]; bx++ {
		for by := bMin[1]; by <= bMax[1]; by++ {
			for bz := bMin[2]; bz <= bMax[2]; bz++ {
				blockOrigin := voxel.Vec3{bx * n, by * n, bz * n}
				lo := blockOrigin.Max(origin).Sub(origin)
				hi := blockOrigin.Add(voxel.Vec3{n, n, n}).Min(end).Sub(origin)
				blockLo := lo.Add(origin).Sub(blockOrigin)
				if err := visit(voxel.Vec3{bx, by, bz}, lo, hi, blockLo); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// copyRegion copies size voxels (all channels) from src starting at srcLo
// into dst starting at dstLo.
func copyRegion(dst *voxel.Cube, dstLo voxel.Vec3, src *voxel.Cube, srcLo, size voxel.Vec3) error {
	sub, err := src.SubCube(srcLo, srcLo.Add(size))
	if err != nil {
		return err
	}
	return dst.CopyFrom(dstLo, sub)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
