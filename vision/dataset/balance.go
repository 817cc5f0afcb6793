package dataset

import (
	"fmt"
	"math/rand"
)

// BalancedSplit holds the result of class-balanced resampling: a
// train/validation partition of catalog indices plus the per-class
// counts before and after sampling, kept for diagnostics.
//
// Indices in Train and Val point into the catalog the split was drawn
// from. A minority class sampled with replacement contributes duplicate
// indices; that is intentional oversampling, not a defect.
type BalancedSplit struct {
	Train []int
	Val   []int

	// RawCounts is the per-class entry count in the source catalog.
	RawCounts []int
	// SampledCounts is the per-class count across Train and Val after
	// balancing. Every element equals the requested per-class quota.
	SampledCounts []int
}

// Balance draws a class-balanced pool of catalog indices and partitions
// it into train and validation subsets.
//
// Each class contributes exactly perClass indices: sampled with
// replacement when the class has fewer than perClass entries, and
// without replacement (uniform, no ordering bias) otherwise. The pooled
// indices are globally shuffled, then split at
// floor(splitFraction*len(pool)); the prefix is the training subset.
//
// The split is over the globally shuffled pool, not stratified per
// class, so per-class representation in the validation subset is
// proportional only in expectation.
//
// Given the same catalog and an identically seeded rng, Balance returns
// identical subsets.
func Balance(c *Catalog, perClass int, splitFraction float64, rng *rand.Rand) (*BalancedSplit, error) {
	if perClass <= 0 {
		return nil, fmt.Errorf("dataset: per-class sample count must be positive, got %d", perClass)
	}
	if splitFraction <= 0 || splitFraction >= 1 {
		return nil, fmt.Errorf("dataset: split fraction must be in (0, 1), got %g", splitFraction)
	}
	if rng == nil {
		return nil, fmt.Errorf("dataset: rng cannot be nil")
	}

	// Collect catalog indices per class.
	byClass := make([][]int, c.NumClasses())
	for i, e := range c.entries {
		byClass[e.Class] = append(byClass[e.Class], i)
	}

	pool := make([]int, 0, c.NumClasses()*perClass)
	for class, members := range byClass {
		if len(members) == 0 {
			// NewCatalog rejects empty classes, so this only fires on a
			// hand-built catalog.
			return nil, fmt.Errorf("%w: %s", ErrEmptyClass, c.classNames[class])
		}
		if len(members) < perClass {
			for i := 0; i < perClass; i++ {
				pool = append(pool, members[rng.Intn(len(members))])
			}
		} else {
			for _, j := range rng.Perm(len(members))[:perClass] {
				pool = append(pool, members[j])
			}
		}
	}

	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	split := int(splitFraction * float64(len(pool)))
	bs := &BalancedSplit{
		Train:     pool[:split],
		Val:       pool[split:],
		RawCounts: c.ClassCounts(),
	}

	bs.SampledCounts = make([]int, c.NumClasses())
	for _, idx := range pool {
		bs.SampledCounts[c.entries[idx].Class]++
	}

	return bs, nil
}
