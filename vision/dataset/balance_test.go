package dataset

import (
	"math/rand"
	"testing"
)

func buildCatalog(t *testing.T, counts map[string]int) *Catalog {
	t.Helper()
	root := createTestCorpus(t, counts)
	catalog, err := NewCatalog(root)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	return catalog
}

func TestBalance(t *testing.T) {
	t.Run("MinorityOversampledWithReplacement", func(t *testing.T) {
		// Class a has 3 files, class b has 10; quota 5. Class a must
		// repeat at least one index by pigeonhole, class b must not.
		catalog := buildCatalog(t, map[string]int{"a": 3, "b": 10})
		rng := rand.New(rand.NewSource(1))

		split, err := Balance(catalog, 5, 0.8, rng)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		pool := append(append([]int(nil), split.Train...), split.Val...)
		if len(pool) != 10 {
			t.Fatalf("Expected pool of 10 indices, got %d", len(pool))
		}

		perClass := make(map[int][]int)
		for _, idx := range pool {
			_, label, err := catalog.GetItem(idx)
			if err != nil {
				t.Fatalf("Invalid catalog index %d: %v", idx, err)
			}
			perClass[label] = append(perClass[label], idx)
		}

		aIdx, _ := catalog.ClassIndex("a")
		bIdx, _ := catalog.ClassIndex("b")

		if len(perClass[aIdx]) != 5 {
			t.Errorf("Expected 5 samples for class a, got %d", len(perClass[aIdx]))
		}
		if len(perClass[bIdx]) != 5 {
			t.Errorf("Expected 5 samples for class b, got %d", len(perClass[bIdx]))
		}

		if distinct(perClass[aIdx]) >= 5 {
			t.Error("Class a with 3 source files cannot yield 5 distinct indices")
		}
		if distinct(perClass[bIdx]) != 5 {
			t.Errorf("Class b should be sampled without replacement, got %d distinct of 5",
				distinct(perClass[bIdx]))
		}
	})

	t.Run("SplitSizes", func(t *testing.T) {
		catalog := buildCatalog(t, map[string]int{"a": 3, "b": 10})
		rng := rand.New(rand.NewSource(2))

		split, err := Balance(catalog, 5, 0.8, rng)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(split.Train) != 8 {
			t.Errorf("Expected 8 training indices, got %d", len(split.Train))
		}
		if len(split.Val) != 2 {
			t.Errorf("Expected 2 validation indices, got %d", len(split.Val))
		}
	})

	t.Run("TotalAlwaysClassesTimesQuota", func(t *testing.T) {
		catalog := buildCatalog(t, map[string]int{"a": 2, "b": 9, "c": 30})
		for _, perClass := range []int{1, 4, 12} {
			rng := rand.New(rand.NewSource(3))
			split, err := Balance(catalog, perClass, 0.8, rng)
			if err != nil {
				t.Fatalf("Unexpected error for quota %d: %v", perClass, err)
			}
			want := 3 * perClass
			if got := len(split.Train) + len(split.Val); got != want {
				t.Errorf("Quota %d: expected %d total indices, got %d", perClass, want, got)
			}
		}
	})

	t.Run("DisjointWhenNoOversampling", func(t *testing.T) {
		// With every class at or above quota the pool has no duplicate
		// indices, so the train and validation sets must be disjoint.
		catalog := buildCatalog(t, map[string]int{"a": 10, "b": 12})
		rng := rand.New(rand.NewSource(4))

		split, err := Balance(catalog, 8, 0.8, rng)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		inTrain := make(map[int]bool, len(split.Train))
		for _, idx := range split.Train {
			inTrain[idx] = true
		}
		for _, idx := range split.Val {
			if inTrain[idx] {
				t.Errorf("Index %d appears in both train and validation sets", idx)
			}
		}
	})

	t.Run("DeterministicGivenSeed", func(t *testing.T) {
		catalog := buildCatalog(t, map[string]int{"a": 4, "b": 15, "c": 7})

		first, err := Balance(catalog, 6, 0.8, rand.New(rand.NewSource(99)))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		second, err := Balance(catalog, 6, 0.8, rand.New(rand.NewSource(99)))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if !equalInts(first.Train, second.Train) {
			t.Error("Training indices differ across identically seeded runs")
		}
		if !equalInts(first.Val, second.Val) {
			t.Error("Validation indices differ across identically seeded runs")
		}
	})

	t.Run("SampledCountsDiagnostics", func(t *testing.T) {
		catalog := buildCatalog(t, map[string]int{"a": 3, "b": 20})
		rng := rand.New(rand.NewSource(5))

		split, err := Balance(catalog, 7, 0.8, rng)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if split.RawCounts[0] != 3 || split.RawCounts[1] != 20 {
			t.Errorf("Unexpected raw counts %v", split.RawCounts)
		}
		for i, count := range split.SampledCounts {
			if count != 7 {
				t.Errorf("Expected sampled count 7 for class %d, got %d", i, count)
			}
		}
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		catalog := buildCatalog(t, map[string]int{"a": 3, "b": 3})
		rng := rand.New(rand.NewSource(6))

		if _, err := Balance(catalog, 0, 0.8, rng); err == nil {
			t.Error("Expected error for zero quota")
		}
		if _, err := Balance(catalog, 5, 0, rng); err == nil {
			t.Error("Expected error for zero split fraction")
		}
		if _, err := Balance(catalog, 5, 1, rng); err == nil {
			t.Error("Expected error for split fraction of 1")
		}
		if _, err := Balance(catalog, 5, 0.8, nil); err == nil {
			t.Error("Expected error for nil rng")
		}
	})
}

func distinct(indices []int) int {
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		seen[idx] = true
	}
	return len(seen)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
