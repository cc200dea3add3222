// Package datasets indexes fixed-size 3D windows sliced out of large
// volumetric data sources and serves them as training samples. A single
// global linear index addresses any window across all sources; the dataset
// resolves it to a source, a sub-volume read (through a two-tier cache), and
// a paired input/target sample.
//
// A Dataset is immutable after construction apart from its caches, so
// GetSample is safe to call concurrently from independent workers: there is
// no shared iteration cursor, and any index may be requested at any time.
package datasets

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"k8s.io/klog/v2"

	"github.com/voxelstack/patchset/transforms"
	"github.com/voxelstack/patchset/voxel"
)

// Sample is one resolved input/target pair. For scalar-label sources Target
// is nil and TargetLabel carries the class; otherwise Target is a volume.
type Sample struct {
	Input       *voxel.Cube
	Target      *voxel.Cube
	TargetLabel float64
	Binary      bool
	Index       int
}

// Dataset serves windowed samples from a set of volumetric data sources.
type Dataset struct {
	cfg         Config
	inputShape  voxel.Vec3
	targetShape voxel.Vec3
	sources     []DataSource
	trans       *translator
	split       *Split
	trainSet    map[int]struct{}
	cache       *cache
	augment     transforms.Transform

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a dataset: one coordinate grid per source, contiguous global
// index ranges, the requested split plan, and (when enabled) pre-filled
// caches. Configuration errors — a window larger than a source box, an
// unknown id in a strata list — are returned here, never silently corrected.
// The augment transform may be nil; it is applied to training samples only.
func New(cfg Config, sources []DataSource, split SplitSpec, augment transforms.Transform) (*Dataset, error) {
	inputShape, err := asShape("input_shape", cfg.InputShape)
	if err != nil {
		return nil, err
	}
	targetShape, err := asShape("target_shape", cfg.TargetShape)
	if err != nil {
		return nil, err
	}
	if cfg.PadTarget {
		for dim := 0; dim < 3; dim++ {
			if targetShape[dim] > inputShape[dim] {
				return nil, fmt.Errorf("pad_target requires target_shape <= input_shape, got %v > %v",
					targetShape, inputShape)
			}
		}
	}
	stride := targetShape
	if len(cfg.Stride) > 0 {
		if stride, err = asShape("stride", cfg.Stride); err != nil {
			return nil, err
		}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}

	trans, err := newTranslator(sources, inputShape, targetShape, stride)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		cfg:         cfg,
		inputShape:  inputShape,
		targetShape: targetShape,
		sources:     sources,
		trans:       trans,
		trainSet:    make(map[int]struct{}),
		cache:       newCache(cfg.CacheRAM, cfg.CacheHDD, cfg.CacheHDDRoot),
		augment:     augment,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}

	if split != nil {
		planned, err := split.plan(trans)
		if err != nil {
			return nil, err
		}
		d.split = planned
		for _, idx := range planned.Train {
			d.trainSet[idx] = struct{}{}
		}
	}

	if d.cache.enabled() {
		if err := d.cache.fillAll(sources); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NewFromConfig loads the descriptor file named by the config and builds the
// dataset from it.
func NewFromConfig(cfg Config, split SplitSpec, augment transforms.Transform) (*Dataset, error) {
	if cfg.DatasourcesJSONPath == "" {
		return nil, fmt.Errorf("config names no datasources_json_path")
	}
	sources, err := ReadJSON(cfg.DatasourcesJSONPath)
	if err != nil {
		return nil, err
	}
	return New(cfg, sources, split, augment)
}

func asShape(name string, v []int) (voxel.Vec3, error) {
	if len(v) != 3 {
		return voxel.Vec3{}, fmt.Errorf("%s must have 3 components, got %d", name, len(v))
	}
	for d := 0; d < 3; d++ {
		if v[d] < 1 {
			return voxel.Vec3{}, fmt.Errorf("%s component %d must be positive", name, d)
		}
	}
	return voxel.Vec3{v[0], v[1], v[2]}, nil
}

// Len returns the total number of samples across all sources.
func (d *Dataset) Len() int {
	return d.trans.len()
}

// Sources returns the registered data sources in registration order.
func (d *Dataset) Sources() []DataSource {
	return d.sources
}

// Split returns the planned index sets, or nil when no split was requested.
func (d *Dataset) Split() *Split {
	return d.split
}

// BBoxForSample returns the owning source index and window bounding box for
// a sample.
func (d *Dataset) BBoxForSample(index int, role Role) (int, voxel.BBox, error) {
	return d.trans.bboxFor(index, role)
}

// CenterForSample returns the grid-center coordinate of a sample.
func (d *Dataset) CenterForSample(index int) (voxel.Vec3, error) {
	return d.trans.centerFor(index)
}

// GetSample resolves a sample by global index: input window through the
// cache, normalization, target resolution (scalar label, reused input voxels
// for the self-supervised configuration, or an independent fetch), optional
// target padding, and train-only augmentation.
func (d *Dataset) GetSample(index int) (Sample, error) {
	return d.getSample(index, d.cfg.Normalize)
}

func (d *Dataset) getSample(index int, normalize bool) (Sample, error) {
	srcIdx, bboxInput, err := d.trans.bboxFor(index, RoleInput)
	if err != nil {
		return Sample{}, err
	}
	src := d.sources[srcIdx]

	input, err := d.fetch(src, RoleInput, bboxInput)
	if err != nil {
		return Sample{}, fmt.Errorf("sample %d input: %w", index, err)
	}
	if normalize {
		input = normalizeCube(input, src.InputMean, src.InputStd)
	}
	_, training := d.trainSet[index]
	if d.augment != nil && training {
		input = d.augment.Apply(input)
	}

	sample := Sample{Input: input, Index: index}

	_, bboxTarget, err := d.trans.bboxFor(index, RoleTarget)
	if err != nil {
		return Sample{}, err
	}
	switch {
	case src.Binary():
		sample.Binary = true
		sample.TargetLabel = src.TargetClass

	case src.InputPath == src.TargetPath && bboxInput == bboxTarget:
		// Self-supervised configuration: the target is the input. Copying
		// the already-transformed input guarantees both sides saw the
		// identical augmentation instead of two independent draws.
		sample.Target = input.Clone()

	default:
		target, err := d.fetch(src, RoleTarget, bboxTarget)
		if err != nil {
			return Sample{}, fmt.Errorf("sample %d target: %w", index, err)
		}
		if d.augment != nil && training {
			target = d.augment.Apply(target)
		}
		sample.Target = target
	}

	if d.cfg.PadTarget && sample.Target != nil {
		sample.Target = padToShape(sample.Target, d.inputShape)
	}
	return sample, nil
}

// fetch reads one window, through the cache tiers when caching is enabled.
func (d *Dataset) fetch(src DataSource, role Role, bbox voxel.BBox) (*voxel.Cube, error) {
	if d.cache.enabled() {
		return d.cache.readCached(src, role, bbox)
	}
	return readStore(src.PathFor(role), bbox)
}

// RandomSample returns a uniformly random sample.
func (d *Dataset) RandomSample() (Sample, error) {
	d.rngMu.Lock()
	index := d.rng.Intn(d.Len())
	d.rngMu.Unlock()
	return d.GetSample(index)
}

// DiskUsage reports the bytes held by the disk cache tier, with a
// human-readable rendering.
func (d *Dataset) DiskUsage() (int64, string, error) {
	return d.cache.diskUsage()
}

// SourceStats estimates the mean and std of a source's raw input values from
// randomly placed windows, rounded to one decimal like the recorded
// descriptor statistics.
func (d *Dataset) SourceStats(srcIdx, numSamples int) (mean, std float64, err error) {
	if srcIdx < 0 || srcIdx >= len(d.sources) {
		return 0, 0, fmt.Errorf("source index %d out of range", srcIdx)
	}
	r := d.trans.rangeFor(srcIdx)
	var means, stds []float64
	for i := 0; i < numSamples; i++ {
		d.rngMu.Lock()
		index := r.min + d.rng.Intn(r.max-r.min+1)
		d.rngMu.Unlock()
		klog.V(2).Infof("sampling stats ... source %d sample %d/%d", srcIdx, i+1, numSamples)
		sample, err := d.getSample(index, false)
		if err != nil {
			return 0, 0, err
		}
		m, s := cubeStats(sample.Input)
		means = append(means, m)
		stds = append(stds, s)
	}
	return round1(avg(means)), round1(avg(stds)), nil
}

// UpdateSourceStats recomputes and replaces every source's stored input mean
// and std from sampled windows.
func (d *Dataset) UpdateSourceStats(numSamples int) error {
	for i := range d.sources {
		mean, std, err := d.SourceStats(i, numSamples)
		if err != nil {
			return err
		}
		d.sources[i].InputMean = mean
		d.sources[i].InputStd = std
	}
	return nil
}

func normalizeCube(c *voxel.Cube, mean, std float64) *voxel.Cube {
	return transforms.ToStandardNormal{Mean: mean, Std: std}.Apply(c)
}

// padToShape symmetrically zero-pads a cube to the given spatial shape with
// pad width floor((shape-size)/2) per axis.
func padToShape(c *voxel.Cube, shape voxel.Vec3) *voxel.Cube {
	pad := shape.Sub(c.Size).Half()
	if pad == (voxel.Vec3{}) {
		return c
	}
	out := voxel.NewCube(c.Dtype, c.Channels, c.Size.Add(pad).Add(pad))
	// The pad region stays zero; CopyFrom cannot fail for these bounds.
	_ = out.CopyFrom(pad, c)
	return out
}

func cubeStats(c *voxel.Cube) (mean, std float64) {
	n := float64(len(c.Data))
	var sum float64
	for _, v := range c.Data {
		sum += float64(v)
	}
	mean = sum / n
	var sq float64
	for _, v := range c.Data {
		diff := float64(v) - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / n)
}

func avg(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
