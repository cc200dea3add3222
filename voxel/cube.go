package voxel

import "fmt"

// DType identifies the voxel type a cube was stored with. Cube values are
// held as float32 in memory regardless of the on-disk type (uint8 EM data is
// represented exactly), but the dtype is carried so store round-trips preserve
// the voxel type.
type DType uint8

const (
	Uint8 DType = iota
	Float32
)

// Size returns the on-disk byte width of one voxel.
func (d DType) Size() int {
	if d == Uint8 {
		return 1
	}
	return 4
}

func (d DType) String() string {
	if d == Uint8 {
		return "uint8"
	}
	return "float32"
}

// ParseDType parses the names used by the store header.
func ParseDType(s string) (DType, error) {
	switch s {
	case "uint8":
		return Uint8, nil
	case "float32":
		return Float32, nil
	}
	return 0, fmt.Errorf("unknown voxel dtype %q", s)
}

// Cube is a dense, channel-first voxel array covering a rectangular region.
// Data layout is (c, x, y, z) with z varying fastest.
type Cube struct {
	Dtype    DType
	Channels int
	Size     Vec3
	Data     []float32
}

// NewCube allocates a zero-filled cube.
func NewCube(dtype DType, channels int, size Vec3) *Cube {
	return &Cube{
		Dtype:    dtype,
		Channels: channels,
		Size:     size,
		Data:     make([]float32, channels*size.Prod()),
	}
}

// Offset returns the flat index of voxel (c, x, y, z).
func (c *Cube) Offset(ch, x, y, z int) int {
	return ((ch*c.Size[0]+x)*c.Size[1]+y)*c.Size[2] + z
}

// At returns the voxel value at (c, x, y, z).
func (c *Cube) At(ch, x, y, z int) float32 {
	return c.Data[c.Offset(ch, x, y, z)]
}

// Set stores a voxel value at (c, x, y, z).
func (c *Cube) Set(ch, x, y, z int, v float32) {
	c.Data[c.Offset(ch, x, y, z)] = v
}

// Clone returns a deep copy of the cube.
func (c *Cube) Clone() *Cube {
	out := &Cube{Dtype: c.Dtype, Channels: c.Channels, Size: c.Size}
	out.Data = make([]float32, len(c.Data))
	copy(out.Data, c.Data)
	return out
}

// SubCube copies the region [lo, hi) (all channels) into a new cube.
func (c *Cube) SubCube(lo, hi Vec3) (*Cube, error) {
	for d := 0; d < 3; d++ {
		if lo[d] < 0 || hi[d] > c.Size[d] || lo[d] >= hi[d] {
			return nil, fmt.Errorf("sub-cube bounds [%v, %v) outside cube size %v", lo, hi, c.Size)
		}
	}
	size := hi.Sub(lo)
	out := NewCube(c.Dtype, c.Channels, size)
	for ch := 0; ch < c.Channels; ch++ {
		for x := lo[0]; x < hi[0]; x++ {
			for y := lo[1]; y < hi[1]; y++ {
				srcOff := c.Offset(ch, x, y, lo[2])
				dstOff := out.Offset(ch, x-lo[0], y-lo[1], 0)
				copy(out.Data[dstOff:dstOff+size[2]], c.Data[srcOff:srcOff+size[2]])
			}
		}
	}
	return out, nil
}

// CopyFrom writes src into the region of c starting at lo. The region
// [lo, lo+src.Size) must lie inside c and channel counts must match.
func (c *Cube) CopyFrom(lo Vec3, src *Cube) error {
	hi := lo.Add(src.Size)
	for d := 0; d < 3; d++ {
		if lo[d] < 0 || hi[d] > c.Size[d] {
			return fmt.Errorf("copy region [%v, %v) outside cube size %v", lo, hi, c.Size)
		}
	}
	if src.Channels != c.Channels {
		return fmt.Errorf("channel mismatch: %d != %d", src.Channels, c.Channels)
	}
	for ch := 0; ch < c.Channels; ch++ {
		for x := 0; x < src.Size[0]; x++ {
			for y := 0; y < src.Size[1]; y++ {
				srcOff := src.Offset(ch, x, y, 0)
				dstOff := c.Offset(ch, x+lo[0], y+lo[1], lo[2])
				copy(c.Data[dstOff:dstOff+src.Size[2]], src.Data[srcOff:srcOff+src.Size[2]])
			}
		}
	}
	return nil
}
