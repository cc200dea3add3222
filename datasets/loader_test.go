package datasets

import (
	"io"
	"testing"

	"github.com/voxelstack/patchset/voxel"
)

func TestLoader_EpochSemantics(t *testing.T) {
	ds, _ := fixtureDataset(t, Config{})
	loader, err := ds.NewLoader(SubsetAll, 3, false)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if loader.Len() != 8 {
		t.Fatalf("loader Len = %d, want 8", loader.Len())
	}
	if loader.Name() != "patchset/all" {
		t.Fatalf("loader Name = %q", loader.Name())
	}

	var seen []int
	wantSizes := []int{3, 3, 2}
	for _, wantSize := range wantSizes {
		spec, inputs, labels, err := loader.Yield()
		if err != nil {
			t.Fatalf("Yield failed: %v", err)
		}
		indices := spec.([]int)
		if len(indices) != wantSize {
			t.Fatalf("batch has %d samples, want %d", len(indices), wantSize)
		}
		if len(inputs) != 1 || inputs[0] == nil {
			t.Fatal("batch missing input tensor")
		}
		if len(labels) != 1 || labels[0] == nil {
			t.Fatal("batch missing target tensor")
		}
		seen = append(seen, indices...)
	}
	if _, _, _, err := loader.Yield(); err != io.EOF {
		t.Fatalf("exhausted loader returned %v, want io.EOF", err)
	}

	// Unshuffled iteration visits the index space in order.
	for i, idx := range seen {
		if idx != i {
			t.Fatalf("unshuffled order visited %v", seen)
		}
	}

	if err := loader.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	spec, _, _, err := loader.Yield()
	if err != nil {
		t.Fatalf("Yield after Restart failed: %v", err)
	}
	if got := spec.([]int); got[0] != 0 {
		t.Fatalf("second epoch started at index %d", got[0])
	}
}

func TestLoader_ShuffleIsSeededByConfig(t *testing.T) {
	drain := func(t *testing.T) []int {
		t.Helper()
		ds, _ := fixtureDataset(t, Config{Seed: 11})
		loader, err := ds.NewLoader(SubsetAll, 8, true)
		if err != nil {
			t.Fatalf("NewLoader failed: %v", err)
		}
		spec, _, _, err := loader.Yield()
		if err != nil {
			t.Fatalf("Yield failed: %v", err)
		}
		return spec.([]int)
	}
	first := drain(t)
	second := drain(t)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different orders: %v vs %v", first, second)
		}
	}
}

func TestLoader_SubsetsFollowSplit(t *testing.T) {
	ds, _ := fixtureDataset(t, Config{})

	if _, err := ds.NewLoader(SubsetTrain, 0, false); err == nil {
		t.Fatal("expected error for split subset without a planned split")
	}

	vol := ds.Sources()[0]
	split := Fractions{Train: 0.5, Validation: 0.25, Test: 0.25}
	cfg := Config{InputShape: []int{4, 4, 2}, TargetShape: []int{4, 4, 2}}
	dsSplit, err := New(cfg, []DataSource{vol}, split, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for subset, want := range map[Subset]int{
		SubsetTrain: 4, SubsetValidation: 2, SubsetTest: 2, SubsetAll: 8,
	} {
		loader, err := dsSplit.NewLoader(subset, 0, false)
		if err != nil {
			t.Fatalf("NewLoader(%s) failed: %v", subset, err)
		}
		if loader.Len() != want {
			t.Fatalf("subset %s has %d samples, want %d", subset, loader.Len(), want)
		}
	}
}

func TestCollate_RejectsMixedTargets(t *testing.T) {
	ds, _ := fixtureDataset(t, Config{})

	volumeSample, err := ds.GetSample(0)
	if err != nil {
		t.Fatalf("GetSample failed: %v", err)
	}
	binarySample := Sample{
		Input:       volumeSample.Input,
		Binary:      true,
		TargetLabel: 1,
		Index:       1,
	}
	if _, err := ds.Collate([]Sample{volumeSample, binarySample}); err == nil {
		t.Fatal("expected error for mixed scalar and volume targets")
	}
	if _, err := ds.Collate(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestCollate_BinaryLabels(t *testing.T) {
	ds, _ := fixtureDataset(t, Config{})
	sample, err := ds.GetSample(0)
	if err != nil {
		t.Fatalf("GetSample failed: %v", err)
	}
	samples := []Sample{
		{Input: sample.Input, Binary: true, TargetLabel: 0, Index: 0},
		{Input: sample.Input, Binary: true, TargetLabel: 1, Index: 1},
	}
	batch, err := ds.Collate(samples)
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}
	if batch.Targets == nil {
		t.Fatal("binary batch missing label tensor")
	}
	if len(batch.Indices) != 2 || batch.Indices[1] != 1 {
		t.Fatalf("batch indices = %v", batch.Indices)
	}
}

func TestCubeValue_SqueezesSingletonDepth(t *testing.T) {
	flat := voxel.NewCube(voxel.Uint8, 1, voxel.Vec3{3, 2, 1})
	for x := 0; x < 3; x++ {
		for y := 0; y < 2; y++ {
			flat.Set(0, x, y, 0, voxelValue(x, y, 0))
		}
	}

	squeezed, ok := cubeValue(flat, true).([][][]float32)
	if !ok {
		t.Fatalf("squeezed value has type %T", cubeValue(flat, true))
	}
	if got := squeezed[0][2][1]; got != voxelValue(2, 1, 0) {
		t.Fatalf("squeezed voxel = %v, want %v", got, voxelValue(2, 1, 0))
	}

	full, ok := cubeValue(flat, false).([][][][]float32)
	if !ok {
		t.Fatalf("unsqueezed value has type %T", cubeValue(flat, false))
	}
	if got := full[0][2][1][0]; got != voxelValue(2, 1, 0) {
		t.Fatalf("unsqueezed voxel = %v, want %v", got, voxelValue(2, 1, 0))
	}

	stacked, err := stack([]any{cubeValue(flat, true), cubeValue(flat, true)})
	if err != nil {
		t.Fatalf("stack failed: %v", err)
	}
	if _, ok := stacked.([][][][]float32); !ok {
		t.Fatalf("stacked batch has type %T", stacked)
	}
	if _, err := stack([]any{cubeValue(flat, true), cubeValue(flat, false)}); err == nil {
		t.Fatal("expected error for inconsistent ranks")
	}
}
