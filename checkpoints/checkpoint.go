// Package checkpoints persists model parameter snapshots to disk.
//
// A training run produces zero or more "best" snapshots, written each
// time validation loss improves, plus exactly one "final" snapshot
// written after the best parameters are restored. Best filenames encode
// the epoch and the validation loss that selected them, so a checkpoint
// directory can be inspected without re-running training.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// FinalSnapshotName is the filename of the final artifact.
const FinalSnapshotName = "final_model.json"

// ParamTensor is one named parameter tensor inside a snapshot.
type ParamTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Metadata describes the run and epoch a snapshot was taken from.
type Metadata struct {
	RunID     string    `json:"run_id,omitempty"`
	Epoch     int       `json:"epoch"`
	ValLoss   float64   `json:"val_loss"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a full, independent copy of a model's parameters. The
// tensors must be deep copies: a snapshot never aliases live model
// state.
type Snapshot struct {
	Params   []ParamTensor `json:"params"`
	Metadata Metadata      `json:"metadata"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Params:   make([]ParamTensor, len(s.Params)),
		Metadata: s.Metadata,
	}
	for i, p := range s.Params {
		out.Params[i] = ParamTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return out
}

// Store writes snapshots into a single directory, creating it on first
// use. Every save is a complete file; nothing is written incrementally.
type Store struct {
	dir   string
	runID string
}

// NewStore creates a store rooted at dir. The run ID, if non-empty, is
// stamped into the metadata of every snapshot saved through the store.
func NewStore(dir string, runID string) *Store {
	return &Store{dir: dir, runID: runID}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveBest persists a best-so-far snapshot, naming the file after the
// epoch and validation loss that selected it. It returns the path of
// the written file.
func (s *Store) SaveBest(epoch int, valLoss float64, snap *Snapshot) (string, error) {
	name := fmt.Sprintf("best_model_%d_%.2f.json", epoch, valLoss)
	snap.Metadata.Epoch = epoch
	snap.Metadata.ValLoss = valLoss
	path := filepath.Join(s.dir, name)
	if err := s.write(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

// SaveFinal persists the final artifact. The caller is expected to have
// restored the model to its best parameters first.
func (s *Store) SaveFinal(snap *Snapshot) (string, error) {
	path := filepath.Join(s.dir, FinalSnapshotName)
	if err := s.write(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) write(path string, snap *Snapshot) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("checkpoints: failed to create directory %s: %w", s.dir, err)
	}

	snap.Metadata.RunID = s.runID
	snap.Metadata.CreatedAt = time.Now()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoints: failed to create %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(snap); err != nil {
		return fmt.Errorf("checkpoints: failed to encode %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot back from disk.
func Load(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: failed to open %s: %w", path, err)
	}
	defer file.Close()

	var snap Snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("checkpoints: failed to decode %s: %w", path, err)
	}
	return &snap, nil
}

// BestInfo describes one best snapshot found in a store directory.
type BestInfo struct {
	Path    string
	Epoch   int
	ValLoss float64
}

var bestNamePattern = regexp.MustCompile(`^best_model_(\d+)_([0-9.]+)\.json$`)

// ListBest returns the best snapshots present in the store directory,
// ordered by epoch. Filenames that do not match the best-snapshot
// pattern are ignored.
func (s *Store) ListBest() ([]BestInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoints: failed to read directory %s: %w", s.dir, err)
	}

	var infos []BestInfo
	for _, e := range entries {
		m := bestNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		epoch, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		loss, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		infos = append(infos, BestInfo{
			Path:    filepath.Join(s.dir, e.Name()),
			Epoch:   epoch,
			ValLoss: loss,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Epoch < infos[j].Epoch })
	return infos, nil
}
