package datasets

import (
	"fmt"

	"github.com/voxelstack/patchset/voxel"
)

// Grid is the regular lattice of window-center coordinates tiling one data
// source's bounding box. The input and target windows share the same centers,
// so one grid serves both roles. Cells are addressed (ix, iy, iz) and
// flattened row-major with z varying fastest; the index translator relies on
// this order, so it must never change independently of unravel.
type Grid struct {
	// Shape is the number of cells along each axis.
	Shape voxel.Vec3
	// axes holds the center coordinate sequence per axis; the full grid is
	// their outer product.
	axes [3][]int
}

// buildGrid computes the center lattice for a bounding box, window shape and
// stride. The first center sits half a window (floor-rounded) in from the
// box's minimum corner; centers then advance by the stride as long as a full
// window still fits. A window larger than the box along any axis cannot
// produce a single cell and is a configuration error.
func buildGrid(bbox voxel.BBox, window, stride voxel.Vec3) (*Grid, error) {
	g := &Grid{}
	for d := 0; d < 3; d++ {
		if stride[d] < 1 {
			return nil, fmt.Errorf("grid for %s: non-positive stride %v", bbox, stride)
		}
		n := (bbox.Extent[d]-window[d])/stride[d] + 1
		if bbox.Extent[d] < window[d] || n < 1 {
			return nil, fmt.Errorf("grid for %s: window %v exceeds extent along axis %d", bbox, window, d)
		}
		first := bbox.Origin[d] + window[d]/2
		g.axes[d] = make([]int, n)
		for i := 0; i < n; i++ {
			g.axes[d][i] = first + i*stride[d]
		}
		g.Shape[d] = n
	}
	return g, nil
}

// NumCells returns the total number of windows the grid produces.
func (g *Grid) NumCells() int {
	return g.Shape.Prod()
}

// Center returns the window-center coordinate of a cell.
func (g *Grid) Center(cell voxel.Vec3) voxel.Vec3 {
	return voxel.Vec3{g.axes[0][cell[0]], g.axes[1][cell[1]], g.axes[2][cell[2]]}
}

// Axis returns the center coordinate sequence along one axis.
func (g *Grid) Axis(d int) []int {
	return g.axes[d]
}

// unravelCell converts a flat cell index into (ix, iy, iz) under the grid's
// row-major order.
func (g *Grid) unravelCell(flat int) (voxel.Vec3, error) {
	if flat < 0 || flat >= g.NumCells() {
		return voxel.Vec3{}, fmt.Errorf("cell index %d out of range [0, %d)", flat, g.NumCells())
	}
	var cell voxel.Vec3
	cell[2] = flat % g.Shape[2]
	flat /= g.Shape[2]
	cell[1] = flat % g.Shape[1]
	cell[0] = flat / g.Shape[1]
	return cell, nil
}

// ravelCell is the inverse of unravelCell.
func (g *Grid) ravelCell(cell voxel.Vec3) int {
	return (cell[0]*g.Shape[1]+cell[1])*g.Shape[2] + cell[2]
}
