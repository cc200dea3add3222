package datasets

import (
	"testing"

	"github.com/voxelstack/patchset/voxel"
)

// hundredSampleTranslator yields exactly 100 samples from one source.
func hundredSampleTranslator(t *testing.T) *translator {
	t.Helper()
	sources := []DataSource{
		{ID: "1", InputBBox: voxel.BBox{Extent: voxel.Vec3{40, 40, 1}}},
	}
	shape := voxel.Vec3{4, 4, 1}
	trans, err := newTranslator(sources, shape, shape, shape)
	if err != nil {
		t.Fatalf("newTranslator failed: %v", err)
	}
	if trans.len() != 100 {
		t.Fatalf("fixture length: got %d want 100", trans.len())
	}
	return trans
}

func TestFractions_PartitionIsDisjointAndComplete(t *testing.T) {
	trans := hundredSampleTranslator(t)
	split, err := Fractions{Train: 0.7, Validation: 0.2, Test: 0.1, Seed: 7}.plan(trans)
	if err != nil {
		t.Fatalf("fraction split failed: %v", err)
	}

	if len(split.Train) != 70 || len(split.Validation) != 20 || len(split.Test) != 10 {
		t.Fatalf("split sizes: got %d/%d/%d want 70/20/10",
			len(split.Train), len(split.Validation), len(split.Test))
	}

	all := make(map[int]int)
	for _, set := range [][]int{split.Train, split.Validation, split.Test} {
		for _, index := range set {
			all[index]++
		}
	}
	if len(all) != 100 {
		t.Fatalf("union covers %d indices, want 100", len(all))
	}
	for index, count := range all {
		if count != 1 {
			t.Fatalf("index %d appears in %d sets", index, count)
		}
		if index < 0 || index > 99 {
			t.Fatalf("index %d outside [0, 99]", index)
		}
	}
}

func TestFractions_RoundingRemainderGoesToTrain(t *testing.T) {
	trans := hundredSampleTranslator(t)
	// 0.33 + 0.33 + 0.33 of 100 allocates 99; the leftover joins train.
	split, err := Fractions{Train: 0.33, Validation: 0.33, Test: 0.33}.plan(trans)
	if err != nil {
		t.Fatalf("fraction split failed: %v", err)
	}
	if len(split.Train) != 34 {
		t.Fatalf("train size: got %d want 34", len(split.Train))
	}
	if total := len(split.Train) + len(split.Validation) + len(split.Test); total != 100 {
		t.Fatalf("total allocated: got %d want 100", total)
	}
}

func TestFractions_SameSeedReproducesSplit(t *testing.T) {
	trans := hundredSampleTranslator(t)
	spec := Fractions{Train: 0.5, Validation: 0.25, Test: 0.25, Seed: 42}
	a, err := spec.plan(trans)
	if err != nil {
		t.Fatalf("first plan failed: %v", err)
	}
	b, err := spec.plan(trans)
	if err != nil {
		t.Fatalf("second plan failed: %v", err)
	}
	for i := range a.Train {
		if a.Train[i] != b.Train[i] {
			t.Fatalf("train order differs at %d: %d != %d", i, a.Train[i], b.Train[i])
		}
	}
}

func TestFractions_RejectsBadFractions(t *testing.T) {
	trans := hundredSampleTranslator(t)
	if _, err := (Fractions{Train: 0.8, Validation: 0.3}).plan(trans); err == nil {
		t.Fatal("expected error for fractions summing over 1")
	}
	if _, err := (Fractions{Train: -0.1}).plan(trans); err == nil {
		t.Fatal("expected error for negative fraction")
	}
}

func TestStrata_AssignsWholeSources(t *testing.T) {
	sources := []DataSource{
		{ID: "1", InputBBox: voxel.BBox{Extent: voxel.Vec3{8, 4, 1}}},  // 2 samples
		{ID: "2", InputBBox: voxel.BBox{Extent: voxel.Vec3{12, 4, 1}}}, // 3 samples
		{ID: "3", InputBBox: voxel.BBox{Extent: voxel.Vec3{4, 4, 1}}},  // 1 sample
	}
	shape := voxel.Vec3{4, 4, 1}
	trans, err := newTranslator(sources, shape, shape, shape)
	if err != nil {
		t.Fatalf("newTranslator failed: %v", err)
	}

	split, err := Strata{Train: []string{"1", "3"}, Validation: []string{"2"}}.plan(trans)
	if err != nil {
		t.Fatalf("strata split failed: %v", err)
	}

	for _, index := range []int{0, 1, 5} {
		if !contains(split.Train, index) {
			t.Errorf("train missing index %d", index)
		}
	}
	for _, index := range []int{2, 3, 4} {
		if !contains(split.Validation, index) {
			t.Errorf("validation missing index %d", index)
		}
	}
	if len(split.Train) != 3 || len(split.Validation) != 3 || len(split.Test) != 0 {
		t.Fatalf("split sizes: got %d/%d/%d want 3/3/0",
			len(split.Train), len(split.Validation), len(split.Test))
	}
}

func TestStrata_UnknownIDFailsFast(t *testing.T) {
	trans := hundredSampleTranslator(t)
	if _, err := (Strata{Train: []string{"nope"}}).plan(trans); err == nil {
		t.Fatal("expected error for unknown source id")
	}
}
