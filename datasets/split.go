package datasets

import (
	"fmt"
	"math/rand"
)

// SplitSpec selects a partitioning mode for the global index space. Exactly
// two implementations exist: Fractions partitions shuffled indices by
// proportion, Strata assigns whole data sources to splits.
type SplitSpec interface {
	plan(t *translator) (*Split, error)
}

// Split holds the planned train/validation/test index sets.
type Split struct {
	Train      []int
	Validation []int
	Test       []int
}

// contains reports whether the split set contains an index.
func contains(set []int, index int) bool {
	for _, v := range set {
		if v == index {
			return true
		}
	}
	return false
}

// Fractions splits all global indices by shuffled proportion. The fractions
// must each be in [0, 1] and sum to at most 1. Indices left unallocated by
// floor-rounding are appended to the training set, so the three sets always
// tile the full index space.
type Fractions struct {
	Train      float64
	Validation float64
	Test       float64
	// Seed feeds the shuffle; the same seed reproduces the same split.
	Seed int64
}

func (f Fractions) plan(t *translator) (*Split, error) {
	for _, frac := range []float64{f.Train, f.Validation, f.Test} {
		if frac < 0 || frac > 1 {
			return nil, fmt.Errorf("split fraction %v outside [0, 1]", frac)
		}
	}
	if f.Train+f.Validation+f.Test > 1+1e-9 {
		return nil, fmt.Errorf("split fractions sum to %v > 1", f.Train+f.Validation+f.Test)
	}
	n := t.len()
	perm := rand.New(rand.NewSource(f.Seed)).Perm(n)

	nTrain := int(f.Train * float64(n))
	nVal := int(f.Validation * float64(n))
	nTest := int(f.Test * float64(n))
	if nTrain+nVal+nTest > n {
		return nil, fmt.Errorf("split allocation %d exceeds %d samples", nTrain+nVal+nTest, n)
	}

	split := &Split{
		Train:      append([]int{}, perm[:nTrain]...),
		Validation: append([]int{}, perm[nTrain:nTrain+nVal]...),
		Test:       append([]int{}, perm[nTrain+nVal:nTrain+nVal+nTest]...),
	}
	// Rounding remainders go to train rather than being dropped.
	split.Train = append(split.Train, perm[nTrain+nVal+nTest:]...)

	if len(split.Train)+len(split.Validation)+len(split.Test) != n {
		return nil, fmt.Errorf("split planning lost indices: %d allocated of %d",
			len(split.Train)+len(split.Validation)+len(split.Test), n)
	}
	return split, nil
}

// Strata assigns entire data sources, by id, to splits. A source named in no
// list belongs to no split; an unknown id is a configuration error.
type Strata struct {
	Train      []string
	Validation []string
	Test       []string
}

func (s Strata) plan(t *translator) (*Split, error) {
	expand := func(ids []string) ([]int, error) {
		var indices []int
		for _, id := range ids {
			srcIdx, err := sourceIndexByID(t.sources, id)
			if err != nil {
				return nil, fmt.Errorf("strata split: %w", err)
			}
			r := t.rangeFor(srcIdx)
			for i := r.min; i <= r.max; i++ {
				indices = append(indices, i)
			}
		}
		return indices, nil
	}
	train, err := expand(s.Train)
	if err != nil {
		return nil, err
	}
	validation, err := expand(s.Validation)
	if err != nil {
		return nil, err
	}
	test, err := expand(s.Test)
	if err != nil {
		return nil, err
	}
	return &Split{Train: train, Validation: validation, Test: test}, nil
}
