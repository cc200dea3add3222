// Package transforms provides augmentation and normalization transforms for
// voxel cubes. Random transforms own a seeded rng guarded by a mutex so a
// dataset can apply them from concurrent workers.
package transforms

import (
	"math/rand"
	"sync"
	"time"

	"github.com/voxelstack/patchset/voxel"
)

// Transform maps a cube to a (possibly new) cube. Implementations must not
// mutate the input.
type Transform interface {
	Apply(c *voxel.Cube) *voxel.Cube
}

// Compose chains transforms in order.
type Compose []Transform

// Apply runs every transform in sequence.
func (t Compose) Apply(c *voxel.Cube) *voxel.Cube {
	out := c
	for _, tr := range t {
		out = tr.Apply(out)
	}
	return out
}

// Plane selects a spatial plane for flips and rotations.
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) axes() (int, int) {
	switch p {
	case PlaneXZ:
		return 0, 2
	case PlaneYZ:
		return 1, 2
	default:
		return 0, 1
	}
}

// RandomFlip mirrors the cube along the first axis of a plane with
// probability P.
type RandomFlip struct {
	P     float64
	Plane Plane

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomFlip creates a flip transform. A zero seed uses a time-based seed.
func NewRandomFlip(p float64, plane Plane, seed int64) *RandomFlip {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomFlip{P: p, Plane: plane, rng: rand.New(rand.NewSource(seed))}
}

// Apply mirrors the cube or returns it unchanged.
func (t *RandomFlip) Apply(c *voxel.Cube) *voxel.Cube {
	t.mu.Lock()
	flip := t.rng.Float64() < t.P
	t.mu.Unlock()
	if !flip {
		return c
	}
	axis, _ := t.Plane.axes()
	return flipAxis(c, axis)
}

// RandomRotation90 rotates the cube within a plane by a multiple of 90
// degrees chosen uniformly from Multiples, with probability P.
type RandomRotation90 struct {
	P         float64
	Multiples []int
	Plane     Plane

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomRotation90 creates a rotation transform. A zero seed uses a
// time-based seed; empty Multiples defaults to {0, 1, 2, 3}.
func NewRandomRotation90(p float64, multiples []int, plane Plane, seed int64) *RandomRotation90 {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if len(multiples) == 0 {
		multiples = []int{0, 1, 2, 3}
	}
	return &RandomRotation90{
		P:         p,
		Multiples: multiples,
		Plane:     plane,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Apply rotates the cube or returns it unchanged.
func (t *RandomRotation90) Apply(c *voxel.Cube) *voxel.Cube {
	t.mu.Lock()
	rotate := t.rng.Float64() < t.P
	k := t.Multiples[t.rng.Intn(len(t.Multiples))]
	t.mu.Unlock()
	if !rotate {
		return c
	}
	out := c
	for i := 0; i < ((k%4)+4)%4; i++ {
		out = rotate90(out, t.Plane)
	}
	return out
}

// ToStandardNormal shifts and scales values to mean 0 and std 1 given the
// population statistics.
type ToStandardNormal struct {
	Mean float64
	Std  float64
}

// Apply normalizes every voxel.
func (t ToStandardNormal) Apply(c *voxel.Cube) *voxel.Cube {
	out := c.Clone()
	mean, std := float32(t.Mean), float32(t.Std)
	for i, v := range out.Data {
		out.Data[i] = (v - mean) / std
	}
	return out
}

// ToZeroOneRange rescales values from [Min, Max] into [0, 1].
type ToZeroOneRange struct {
	Min float64
	Max float64
}

// Apply rescales every voxel.
func (t ToZeroOneRange) Apply(c *voxel.Cube) *voxel.Cube {
	out := c.Clone()
	lo := float32(t.Min)
	span := float32(t.Max - t.Min)
	for i, v := range out.Data {
		out.Data[i] = (v - lo) / span
	}
	return out
}

// flipAxis mirrors the cube along one spatial axis.
func flipAxis(c *voxel.Cube, axis int) *voxel.Cube {
	out := voxel.NewCube(c.Dtype, c.Channels, c.Size)
	for ch := 0; ch < c.Channels; ch++ {
		for x := 0; x < c.Size[0]; x++ {
			for y := 0; y < c.Size[1]; y++ {
				for z := 0; z < c.Size[2]; z++ {
					pos := [3]int{x, y, z}
					pos[axis] = c.Size[axis] - 1 - pos[axis]
					out.Set(ch, x, y, z, c.At(ch, pos[0], pos[1], pos[2]))
				}
			}
		}
	}
	return out
}

// rotate90 rotates the cube a quarter turn within the plane. The two plane
// extents swap when they differ.
func rotate90(c *voxel.Cube, plane Plane) *voxel.Cube {
	a, b := plane.axes()
	size := c.Size
	size[a], size[b] = c.Size[b], c.Size[a]
	out := voxel.NewCube(c.Dtype, c.Channels, size)
	for ch := 0; ch < c.Channels; ch++ {
		for x := 0; x < size[0]; x++ {
			for y := 0; y < size[1]; y++ {
				for z := 0; z < size[2]; z++ {
					pos := [3]int{x, y, z}
					src := pos
					// (i, j) -> (j, n-1-i) within the plane
					src[a] = pos[b]
					src[b] = c.Size[b] - 1 - pos[a]
					out.Set(ch, x, y, z, c.At(ch, src[0], src[1], src[2]))
				}
			}
		}
	}
	return out
}
