// Package voxel provides the small geometric vocabulary shared by the store,
// the cache and the dataset engine: integer 3-vectors, bounding boxes and
// dense voxel cubes.
//
// One axis convention is used everywhere in this module: coordinates are
// ordered (x, y, z) and flat layouts are row-major with x varying slowest and
// z varying fastest. Grid cells, cube data and block files all follow it.
package voxel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Vec3 is an integer coordinate or extent along the (x, y, z) axes.
type Vec3 [3]int

// Add returns the component-wise sum v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Sub returns the component-wise difference v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Mul returns the component-wise product.
func (v Vec3) Mul(o Vec3) Vec3 {
	return Vec3{v[0] * o[0], v[1] * o[1], v[2] * o[2]}
}

// Half returns floor(v/2) per component.
func (v Vec3) Half() Vec3 {
	return Vec3{v[0] / 2, v[1] / 2, v[2] / 2}
}

// Prod returns the product of the three components.
func (v Vec3) Prod() int {
	return v[0] * v[1] * v[2]
}

// Min returns the component-wise minimum of v and o.
func (v Vec3) Min(o Vec3) Vec3 {
	return Vec3{min(v[0], o[0]), min(v[1], o[1]), min(v[2], o[2])}
}

// Max returns the component-wise maximum of v and o.
func (v Vec3) Max(o Vec3) Vec3 {
	return Vec3{max(v[0], o[0]), max(v[1], o[1]), max(v[2], o[2])}
}

// BBox is a rectangular region in source-volume coordinates: an origin and an
// extent, both in voxels.
type BBox struct {
	Origin Vec3
	Extent Vec3
}

// String renders the box in the canonical six-integer form
// "[x,y,z,w,h,d]". Repeated reads of the same nominal box must produce the
// same cache key, so this is the one serialization used for keying.
func (b BBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d,%d,%d]",
		b.Origin[0], b.Origin[1], b.Origin[2],
		b.Extent[0], b.Extent[1], b.Extent[2])
}

// ParseBBox parses the canonical form produced by String.
func ParseBBox(s string) (BBox, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 6 {
		return BBox{}, fmt.Errorf("bbox %q: expected 6 components, got %d", s, len(parts))
	}
	var vals [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return BBox{}, fmt.Errorf("bbox %q: component %d: %w", s, i, err)
		}
		vals[i] = v
	}
	return BBox{
		Origin: Vec3{vals[0], vals[1], vals[2]},
		Extent: Vec3{vals[3], vals[4], vals[5]},
	}, nil
}

// End returns the exclusive maximum corner, Origin + Extent.
func (b BBox) End() Vec3 {
	return b.Origin.Add(b.Extent)
}

// Contains reports whether sub lies entirely inside b.
func (b BBox) Contains(sub BBox) bool {
	for d := 0; d < 3; d++ {
		if sub.Origin[d] < b.Origin[d] || sub.Origin[d]+sub.Extent[d] > b.Origin[d]+b.Extent[d] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the box as the six-integer array used by the data-source
// descriptor files: [x, y, z, w, h, d].
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([6]int{
		b.Origin[0], b.Origin[1], b.Origin[2],
		b.Extent[0], b.Extent[1], b.Extent[2],
	})
}

// UnmarshalJSON reads the six-integer array form.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var vals []int
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	if len(vals) != 6 {
		return fmt.Errorf("bbox: expected 6 integers, got %d", len(vals))
	}
	b.Origin = Vec3{vals[0], vals[1], vals[2]}
	b.Extent = Vec3{vals[3], vals[4], vals[5]}
	return nil
}

// RelativeSlice converts a sub-box into slice bounds relative to the full box
// it lies in: lo is the inclusive start and hi the exclusive end per axis.
// Both the cache manager and the sparse result writer use this same
// conversion, so an inconsistency here would corrupt every downstream sample.
func RelativeSlice(full, sub BBox) (lo, hi Vec3, err error) {
	if !full.Contains(sub) {
		return Vec3{}, Vec3{}, fmt.Errorf("sub-box %s not contained in %s", sub, full)
	}
	lo = sub.Origin.Sub(full.Origin)
	hi = lo.Add(sub.Extent)
	return lo, hi, nil
}
