package dataloader

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
)

// Dataset is the contract a data source must satisfy. The catalog in
// vision/dataset implements it.
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Transform converts raw image bytes into a flat float32 tensor. It
// must be safe for concurrent use and must produce tensors of one
// fixed length.
type Transform func(r io.Reader) ([]float32, error)

// Batch is one batch of transformed samples. Data holds Size tensors
// back to back; Labels holds the matching class indices.
type Batch struct {
	Data   []float32
	Labels []int32
	Size   int
}

// Config holds configuration for a DataLoader.
type Config struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int // bounded pool for I/O and transform work; 0 means 1
	Transform  Transform
	Seed       int64 // shuffle seed; only consulted when Shuffle is set
}

// DataLoader serves batches over a fixed subset of dataset indices.
//
// Each epoch visits every assigned index exactly once: when shuffling
// is enabled the visit order is re-drawn on every Reset, equivalent to
// sampling without replacement over one full epoch. The assigned index
// slice may contain duplicates (oversampled minority classes); each
// occurrence is served once per epoch.
type DataLoader struct {
	dataset   Dataset
	transform Transform
	indices   []int
	order     []int
	position  int
	batchSize int
	shuffle   bool
	workers   int
	rng       *rand.Rand
	tensorLen int // learned from the first loaded sample
	mu        sync.Mutex
}

// NewDataLoader creates a loader over the given subset of dataset
// indices. The indices slice is copied.
func NewDataLoader(dataset Dataset, indices []int, config Config) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataloader: dataset cannot be nil")
	}
	if config.Transform == nil {
		return nil, fmt.Errorf("dataloader: transform cannot be nil")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("dataloader: batch size must be positive, got %d", config.BatchSize)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("dataloader: index subset cannot be empty")
	}
	for _, idx := range indices {
		if idx < 0 || idx >= dataset.Len() {
			return nil, fmt.Errorf("dataloader: index %d out of range [0, %d)", idx, dataset.Len())
		}
	}

	workers := config.NumWorkers
	if workers <= 0 {
		workers = 1
	}

	dl := &DataLoader{
		dataset:   dataset,
		transform: config.Transform,
		indices:   append([]int(nil), indices...),
		order:     make([]int, len(indices)),
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		workers:   workers,
		rng:       rand.New(rand.NewSource(config.Seed)),
	}
	for i := range dl.order {
		dl.order[i] = i
	}
	if dl.shuffle {
		dl.reshuffle()
	}
	return dl, nil
}

// NumSamples returns the number of samples served per epoch.
func (dl *DataLoader) NumSamples() int {
	return len(dl.indices)
}

// NumBatches returns the number of batches per epoch; the final batch
// may be smaller than the configured batch size.
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader to the start of a new epoch, reshuffling
// the visit order when shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.reshuffle()
	}
}

func (dl *DataLoader) reshuffle() {
	dl.rng.Shuffle(len(dl.order), func(i, j int) {
		dl.order[i], dl.order[j] = dl.order[j], dl.order[i]
	})
}

// NextBatch loads and transforms the next batch. It returns (nil, nil)
// once the epoch is exhausted. Any sample that fails to load or
// transform makes the whole call fail; there is no skip-and-continue.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.order) - dl.position
	if remaining <= 0 {
		return nil, nil
	}

	n := dl.batchSize
	if remaining < n {
		n = remaining
	}

	type loaded struct {
		data  []float32
		label int32
	}
	samples := make([]loaded, n)
	errs := make([]error, n)

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	workers := dl.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				idx := dl.indices[dl.order[dl.position+slot]]
				path, label, err := dl.dataset.GetItem(idx)
				if err != nil {
					errs[slot] = err
					continue
				}
				data, err := dl.loadSample(path)
				if err != nil {
					errs[slot] = err
					continue
				}
				samples[slot] = loaded{data: data, label: int32(label)}
			}
		}()
	}
	for slot := 0; slot < n; slot++ {
		jobs <- slot
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if dl.tensorLen == 0 {
		dl.tensorLen = len(samples[0].data)
	}

	batch := &Batch{
		Data:   make([]float32, n*dl.tensorLen),
		Labels: make([]int32, n),
		Size:   n,
	}
	for slot, s := range samples {
		if len(s.data) != dl.tensorLen {
			return nil, fmt.Errorf("dataloader: transform produced tensor of length %d, expected %d",
				len(s.data), dl.tensorLen)
		}
		copy(batch.Data[slot*dl.tensorLen:(slot+1)*dl.tensorLen], s.data)
		batch.Labels[slot] = s.label
	}

	dl.position += n
	return batch, nil
}

func (dl *DataLoader) loadSample(path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataloader: failed to open sample %s: %w", path, err)
	}
	defer file.Close()

	data, err := dl.transform(file)
	if err != nil {
		return nil, fmt.Errorf("dataloader: failed to transform sample %s: %w", path, err)
	}
	return data, nil
}

// Progress returns how many samples of the current epoch have been
// served and the epoch total.
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.order)
}
