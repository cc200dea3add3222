package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/voxelstack/patchset/voxel"
)

// Batch is a collated list of samples: stacked input and target tensors plus
// the sample indices in list order.
type Batch struct {
	Inputs  *tensors.Tensor
	Targets *tensors.Tensor
	Indices []int
}

// Collate stacks samples into batched tensors. Volume targets stack like
// inputs; scalar-label targets stack into an int64 vector. A batch must be
// all-volume or all-scalar. Cubes whose configured window depth is 1 are
// squeezed to 2D so 2D models receive 2D tensors.
func (d *Dataset) Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("collate: empty batch")
	}
	batch := &Batch{Indices: make([]int, len(samples))}
	binary := samples[0].Binary
	for i, s := range samples {
		batch.Indices[i] = s.Index
		if s.Binary != binary {
			return nil, fmt.Errorf("collate: mixed scalar and volume targets in one batch")
		}
	}

	squeezeIn := d.inputShape[2] == 1
	inputs := make([]any, len(samples))
	for i, s := range samples {
		inputs[i] = cubeValue(s.Input, squeezeIn)
	}
	stackedIn, err := stack(inputs)
	if err != nil {
		return nil, fmt.Errorf("collate inputs: %w", err)
	}
	batch.Inputs = tensors.FromAnyValue(stackedIn)

	if binary {
		labels := make([]int64, len(samples))
		for i, s := range samples {
			labels[i] = int64(s.TargetLabel)
		}
		batch.Targets = tensors.FromAnyValue(labels)
		return batch, nil
	}

	squeezeTgt := d.targetShape[2] == 1
	targets := make([]any, len(samples))
	for i, s := range samples {
		if s.Target == nil {
			return nil, fmt.Errorf("collate: sample %d has no target volume", s.Index)
		}
		targets[i] = cubeValue(s.Target, squeezeTgt)
	}
	stackedTgt, err := stack(targets)
	if err != nil {
		return nil, fmt.Errorf("collate targets: %w", err)
	}
	batch.Targets = tensors.FromAnyValue(stackedTgt)
	return batch, nil
}

// cubeValue converts a cube into nested channel-first slices, dropping a
// trailing singleton depth axis when squeeze is set.
func cubeValue(c *voxel.Cube, squeeze bool) any {
	if squeeze && c.Size[2] == 1 {
		out := make([][][]float32, c.Channels)
		for ch := range out {
			out[ch] = make([][]float32, c.Size[0])
			for x := range out[ch] {
				row := make([]float32, c.Size[1])
				for y := range row {
					row[y] = c.At(ch, x, y, 0)
				}
				out[ch][x] = row
			}
		}
		return out
	}
	out := make([][][][]float32, c.Channels)
	for ch := range out {
		out[ch] = make([][][]float32, c.Size[0])
		for x := range out[ch] {
			out[ch][x] = make([][]float32, c.Size[1])
			for y := range out[ch][x] {
				off := c.Offset(ch, x, y, 0)
				out[ch][x][y] = c.Data[off : off+c.Size[2]]
			}
		}
	}
	return out
}

// stack joins per-sample nested slices into one batch-first value.
func stack(values []any) (any, error) {
	switch values[0].(type) {
	case [][][]float32:
		out := make([][][][]float32, len(values))
		for i, v := range values {
			vv, ok := v.([][][]float32)
			if !ok {
				return nil, fmt.Errorf("inconsistent sample ranks in batch")
			}
			out[i] = vv
		}
		return out, nil
	case [][][][]float32:
		out := make([][][][][]float32, len(values))
		for i, v := range values {
			vv, ok := v.([][][][]float32)
			if !ok {
				return nil, fmt.Errorf("inconsistent sample ranks in batch")
			}
			out[i] = vv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported sample value type %T", values[0])
}

// Subset names a split to iterate over.
type Subset int

const (
	SubsetAll Subset = iota
	SubsetTrain
	SubsetValidation
	SubsetTest
)

func (s Subset) String() string {
	switch s {
	case SubsetTrain:
		return "train"
	case SubsetValidation:
		return "validation"
	case SubsetTest:
		return "test"
	}
	return "all"
}

// Loader iterates a split subset in batches and adapts the dataset to gomlx
// training loops via Yield/Restart. A Loader holds its own cursor; use one
// Loader per consumer.
type Loader struct {
	ds        *Dataset
	subset    Subset
	batchSize int
	shuffle   bool

	mu      sync.Mutex
	indices []int
	pos     int
	rng     *rand.Rand
}

// NewLoader creates a loader over one subset. A zero batchSize uses the
// dataset config's batch size. With shuffle set, the order is re-drawn at
// every Restart.
func (d *Dataset) NewLoader(subset Subset, batchSize int, shuffle bool) (*Loader, error) {
	if batchSize == 0 {
		batchSize = d.cfg.BatchSize
	}
	indices, err := d.subsetIndices(subset)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		ds:        d,
		subset:    subset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
		rng:       rand.New(rand.NewSource(d.cfg.Seed)),
	}
	if shuffle {
		l.reshuffle()
	}
	return l, nil
}

func (d *Dataset) subsetIndices(subset Subset) ([]int, error) {
	if subset == SubsetAll {
		all := make([]int, d.Len())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if d.split == nil {
		return nil, fmt.Errorf("no split planned; subset %s unavailable", subset)
	}
	var src []int
	switch subset {
	case SubsetTrain:
		src = d.split.Train
	case SubsetValidation:
		src = d.split.Validation
	case SubsetTest:
		src = d.split.Test
	}
	return append([]int{}, src...), nil
}

func (l *Loader) reshuffle() {
	l.rng.Shuffle(len(l.indices), func(i, j int) {
		l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
	})
}

// Name identifies the loader to the training loop.
func (l *Loader) Name() string {
	return "patchset/" + l.subset.String()
}

// Len returns the number of samples in the subset.
func (l *Loader) Len() int {
	return len(l.indices)
}

// Yield returns the next batch as gomlx tensors. At the end of the epoch it
// returns io.EOF; call Restart to begin the next epoch.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	l.mu.Lock()
	if l.pos >= len(l.indices) {
		l.mu.Unlock()
		return nil, nil, nil, io.EOF
	}
	end := min(l.pos+l.batchSize, len(l.indices))
	indices := l.indices[l.pos:end]
	l.pos = end
	l.mu.Unlock()

	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := l.ds.GetSample(idx)
		if err != nil {
			return nil, nil, nil, err
		}
		samples[i] = s
	}
	batch, err := l.ds.Collate(samples)
	if err != nil {
		return nil, nil, nil, err
	}
	return batch.Indices, []*tensors.Tensor{batch.Inputs}, []*tensors.Tensor{batch.Targets}, nil
}

// Restart resets the cursor for a new epoch, reshuffling when configured.
func (l *Loader) Restart() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = 0
	if l.shuffle {
		l.reshuffle()
	}
	return nil
}
