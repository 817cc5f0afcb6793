package checkpoints

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testSnapshot(values ...float32) *Snapshot {
	return &Snapshot{
		Params: []ParamTensor{
			{Name: "linear.weight", Shape: []int{len(values)}, Data: values},
		},
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	t.Run("BestRoundtrip", func(t *testing.T) {
		store := NewStore(t.TempDir(), "run-1")

		path, err := store.SaveBest(3, 0.4567, testSnapshot(1.5, -2.25, 0))
		if err != nil {
			t.Fatalf("SaveBest failed: %v", err)
		}
		if filepath.Base(path) != "best_model_3_0.46.json" {
			t.Errorf("Unexpected filename %s", filepath.Base(path))
		}

		snap, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if snap.Metadata.RunID != "run-1" {
			t.Errorf("Expected run ID run-1, got %q", snap.Metadata.RunID)
		}
		if snap.Metadata.Epoch != 3 {
			t.Errorf("Expected epoch 3, got %d", snap.Metadata.Epoch)
		}
		if math.Abs(snap.Metadata.ValLoss-0.4567) > 1e-9 {
			t.Errorf("Expected val loss 0.4567, got %f", snap.Metadata.ValLoss)
		}
		if snap.Metadata.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be stamped")
		}

		want := []float32{1.5, -2.25, 0}
		if len(snap.Params) != 1 || len(snap.Params[0].Data) != len(want) {
			t.Fatalf("Unexpected snapshot layout: %+v", snap.Params)
		}
		for i, v := range want {
			if snap.Params[0].Data[i] != v {
				t.Errorf("Value %d: expected %f, got %f", i, v, snap.Params[0].Data[i])
			}
		}
	})

	t.Run("FinalRoundtrip", func(t *testing.T) {
		store := NewStore(t.TempDir(), "")

		path, err := store.SaveFinal(testSnapshot(7))
		if err != nil {
			t.Fatalf("SaveFinal failed: %v", err)
		}
		if filepath.Base(path) != FinalSnapshotName {
			t.Errorf("Expected %s, got %s", FinalSnapshotName, filepath.Base(path))
		}

		snap, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if snap.Params[0].Data[0] != 7 {
			t.Errorf("Expected value 7, got %f", snap.Params[0].Data[0])
		}
	})

	t.Run("CreatesDirectoryOnFirstWrite", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "checkpoints")
		store := NewStore(dir, "")

		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatal("Directory should not exist before the first save")
		}
		if _, err := store.SaveFinal(testSnapshot(1)); err != nil {
			t.Fatalf("SaveFinal failed: %v", err)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("Directory missing after save: %v", err)
		}
		// Saving again into the existing directory is fine.
		if _, err := store.SaveFinal(testSnapshot(2)); err != nil {
			t.Errorf("Second save failed: %v", err)
		}
	})

	t.Run("LoadMissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}

func TestStoreListBest(t *testing.T) {
	store := NewStore(t.TempDir(), "run-2")

	// Save out of epoch order plus a final artifact that must be
	// ignored.
	if _, err := store.SaveBest(12, 0.31, testSnapshot(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveBest(2, 0.55, testSnapshot(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveFinal(testSnapshot(3)); err != nil {
		t.Fatal(err)
	}

	infos, err := store.ListBest()
	if err != nil {
		t.Fatalf("ListBest failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 best snapshots, got %d", len(infos))
	}
	if infos[0].Epoch != 2 || infos[1].Epoch != 12 {
		t.Errorf("Expected epoch order [2 12], got [%d %d]", infos[0].Epoch, infos[1].Epoch)
	}
	if math.Abs(infos[0].ValLoss-0.55) > 1e-9 || math.Abs(infos[1].ValLoss-0.31) > 1e-9 {
		t.Errorf("Unexpected losses: %+v", infos)
	}
}

func TestStoreListBestEmptyDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"), "")
	infos, err := store.ListBest()
	if err != nil {
		t.Fatalf("ListBest failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected no snapshots, got %d", len(infos))
	}
}

func TestSnapshotClone(t *testing.T) {
	orig := testSnapshot(1, 2, 3)
	orig.Metadata.Epoch = 5

	clone := orig.Clone()
	if clone.Metadata.Epoch != 5 {
		t.Errorf("Metadata not copied: %+v", clone.Metadata)
	}

	clone.Params[0].Data[0] = 99
	clone.Params[0].Shape[0] = 42
	if orig.Params[0].Data[0] != 1 {
		t.Error("Clone shares parameter data with the original")
	}
	if orig.Params[0].Shape[0] != 3 {
		t.Error("Clone shares shape with the original")
	}
}
