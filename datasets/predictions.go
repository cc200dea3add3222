package datasets

import (
	"fmt"
	"math"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/voxelstack/patchset/voxel"
	"github.com/voxelstack/patchset/wkw"
)

// SparseWriter accumulates per-sample inference outputs into NaN-initialized
// volumes, one per (path, registered bbox, label), densifies them by
// per-slice scattered-point interpolation, and exports them back through the
// volumetric store.
//
// A SparseWriter is not safe for concurrent writers; the intended use is a
// single process aggregating worker results.
type SparseWriter struct {
	ds *Dataset
	// vols is keyed path -> canonical registered bbox -> label.
	vols map[string]map[string]map[string]*voxel.Cube
}

// NewSparseWriter creates a writer bound to a dataset's coordinate space.
func (d *Dataset) NewSparseWriter() *SparseWriter {
	return &SparseWriter{
		ds:   d,
		vols: make(map[string]map[string]map[string]*voxel.Cube),
	}
}

// InterpMethod selects a densification method.
type InterpMethod string

const (
	// InterpNearest assigns each unknown cell the value of its nearest
	// known point.
	InterpNearest InterpMethod = "nearest"
	// InterpLinear blends known points by inverse squared distance.
	InterpLinear InterpMethod = "linear"
	// InterpCubic blends known points by inverse cubed distance, weighting
	// close points more sharply than InterpLinear.
	InterpCubic InterpMethod = "cubic"
)

// Write scatters one output per sample index into the owning source's
// volume. Each output must hold exactly one target window of values, laid
// out (x, y, z) with z fastest. The volume is allocated NaN-filled on the
// first write for its (path, bbox, label) triple.
func (w *SparseWriter) Write(outputs [][]float32, sampleIndices []int, label string) error {
	if len(outputs) != len(sampleIndices) {
		return fmt.Errorf("sparse write: %d outputs for %d indices", len(outputs), len(sampleIndices))
	}
	want := w.ds.targetShape.Prod()
	for i, index := range sampleIndices {
		if len(outputs[i]) != want {
			return fmt.Errorf("sparse write: output %d has %d values, want %d", i, len(outputs[i]), want)
		}
		srcIdx, bbox, err := w.ds.trans.bboxFor(index, RoleTarget)
		if err != nil {
			return err
		}
		src := w.ds.sources[srcIdx]
		full := src.InputBBox
		vol := w.volume(src.InputPath, full, label)

		lo, hi, err := voxel.RelativeSlice(full, bbox)
		if err != nil {
			return fmt.Errorf("sparse write sample %d: %w", index, err)
		}
		window := &voxel.Cube{
			Dtype: voxel.Float32, Channels: 1,
			Size: hi.Sub(lo), Data: outputs[i],
		}
		if err := vol.CopyFrom(lo, window); err != nil {
			return fmt.Errorf("sparse write sample %d: %w", index, err)
		}
	}
	return nil
}

func (w *SparseWriter) volume(path string, full voxel.BBox, label string) *voxel.Cube {
	byBox, ok := w.vols[path]
	if !ok {
		byBox = make(map[string]map[string]*voxel.Cube)
		w.vols[path] = byBox
	}
	byLabel, ok := byBox[full.String()]
	if !ok {
		byLabel = make(map[string]*voxel.Cube)
		byBox[full.String()] = byLabel
	}
	vol, ok := byLabel[label]
	if !ok {
		vol = voxel.NewCube(voxel.Float32, 1, full.Extent)
		nan := float32(math.NaN())
		for i := range vol.Data {
			vol.Data[i] = nan
		}
		byLabel[label] = vol
	}
	return vol
}

// Volume returns the accumulated volume for a (path, bbox, label) triple, or
// nil if nothing was written there.
func (w *SparseWriter) Volume(path string, bbox voxel.BBox, label string) *voxel.Cube {
	if byBox, ok := w.vols[path]; ok {
		if byLabel, ok := byBox[bbox.String()]; ok {
			return byLabel[label]
		}
	}
	return nil
}

// Interpolate densifies every accumulated volume for a label: per z-slice,
// the non-NaN cells act as scattered sample points and every unknown cell is
// recomputed from them with the chosen method. Written values stay exact
// under every method. A slice holding no known points is left as NaN.
func (w *SparseWriter) Interpolate(label string, method InterpMethod) error {
	var power float64
	switch method {
	case InterpNearest:
		power = 0
	case InterpLinear:
		power = 2
	case InterpCubic:
		power = 3
	default:
		return fmt.Errorf("unknown interpolation method %q", method)
	}
	for path, byBox := range w.vols {
		for key, byLabel := range byBox {
			vol, ok := byLabel[label]
			if !ok {
				continue
			}
			klog.V(1).Infof("interpolating %s ... %s | %s", label, path, key)
			for z := 0; z < vol.Size[2]; z++ {
				densifySlice(vol, z, power)
			}
		}
	}
	return nil
}

type slicePoint struct {
	x, y int
	v    float32
}

// densifySlice fills slice z of a one-channel volume from its non-NaN
// points. power 0 means nearest-point; otherwise inverse-distance weighting
// with the given exponent.
func densifySlice(vol *voxel.Cube, z int, power float64) {
	var points []slicePoint
	for x := 0; x < vol.Size[0]; x++ {
		for y := 0; y < vol.Size[1]; y++ {
			v := vol.At(0, x, y, z)
			if !math.IsNaN(float64(v)) {
				points = append(points, slicePoint{x, y, v})
			}
		}
	}
	if len(points) == 0 {
		return
	}
	for x := 0; x < vol.Size[0]; x++ {
		for y := 0; y < vol.Size[1]; y++ {
			if !math.IsNaN(float64(vol.At(0, x, y, z))) {
				continue
			}
			vol.Set(0, x, y, z, interpolatePoint(points, x, y, power))
		}
	}
}

func interpolatePoint(points []slicePoint, x, y int, power float64) float32 {
	if power == 0 {
		best := points[0]
		bestDist := math.MaxFloat64
		for _, p := range points {
			dx, dy := float64(p.x-x), float64(p.y-y)
			dist := dx*dx + dy*dy
			if dist < bestDist {
				bestDist = dist
				best = p
			}
		}
		return best.v
	}
	var weightSum, valueSum float64
	for _, p := range points {
		dx, dy := float64(p.x-x), float64(p.y-y)
		dist := math.Sqrt(dx*dx + dy*dy)
		wgt := 1 / math.Pow(dist, power)
		weightSum += wgt
		valueSum += wgt * float64(p.v)
	}
	return float32(valueSum / weightSum)
}

// ExportOptions control Export. The zero value exports every volume as
// snappy-compressed uint8 blocks with values unchanged.
type ExportOptions struct {
	// PathFilter, when set, exports only volumes of this source path.
	PathFilter string
	// BBoxFilter, when set (canonical bbox string), exports only that box.
	BBoxFilter string
	// Dtype of the written volume. Defaults to uint8.
	Dtype voxel.DType
	// Transform is applied to every value before the dtype cast.
	Transform func(float32) float32
	// BlockType of created volumes. Defaults to snappy.
	BlockType wkw.BlockType
}

// Export writes accumulated volumes for a label back through the store
// interface, under root/<label>/<last path element>, creating the output
// volume (with matching layout) if absent.
func (w *SparseWriter) Export(label, root string, opts ExportOptions) error {
	if opts.Transform == nil {
		opts.Transform = func(v float32) float32 { return v }
	}
	if opts.BlockType == 0 {
		opts.BlockType = wkw.BlockSnappy
	}
	for path, byBox := range w.vols {
		if opts.PathFilter != "" && opts.PathFilter != path {
			continue
		}
		outPath := filepath.Join(root, label, filepath.Base(path))
		header := wkw.DefaultHeader(opts.Dtype)
		header.BlockType = opts.BlockType
		if err := wkw.Create(outPath, header); err != nil {
			return err
		}
		d, err := wkw.Open(outPath)
		if err != nil {
			return err
		}
		for key, byLabel := range byBox {
			if opts.BBoxFilter != "" && opts.BBoxFilter != key {
				continue
			}
			vol, ok := byLabel[label]
			if !ok {
				continue
			}
			bbox, err := voxel.ParseBBox(key)
			if err != nil {
				return err
			}
			klog.V(1).Infof("writing %s ... %s | %s", label, outPath, key)
			out := vol.Clone()
			out.Dtype = opts.Dtype
			for i, v := range out.Data {
				out.Data[i] = opts.Transform(v)
			}
			if err := d.Write(bbox.Origin, out); err != nil {
				d.Close()
				return err
			}
		}
		d.Close()
	}
	return nil
}
