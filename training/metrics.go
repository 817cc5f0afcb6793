package training

import (
	"encoding/json"
	"os"
	"time"
)

// EpochMetrics aggregates one epoch of training and validation.
type EpochMetrics struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	TrainAcc  float64 `json:"train_acc"`
	ValLoss   float64 `json:"val_loss"`
	ValAcc    float64 `json:"val_acc"`
}

// MetricsSink receives scalar series from the trainer. Record is
// fire-and-forget: implementations must never block the training loop
// and must swallow their own failures.
type MetricsSink interface {
	Record(series string, value float64, step int)
}

// Series names emitted by the trainer.
const (
	SeriesBatchLoss    = "train/batch_loss"
	SeriesLearningRate = "train/learning_rate"
	SeriesTrainLoss    = "epoch/train_loss"
	SeriesTrainAcc     = "epoch/train_acc"
	SeriesValLoss      = "epoch/val_loss"
	SeriesValAcc       = "epoch/val_acc"
)

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(string, float64, int) {}

// HistorySink keeps recorded points in memory, mostly for tests and
// post-run plotting.
type HistorySink struct {
	points map[string][]Point
}

// Point is one recorded scalar.
type Point struct {
	Step  int
	Value float64
}

// NewHistorySink creates an empty in-memory sink.
func NewHistorySink() *HistorySink {
	return &HistorySink{points: make(map[string][]Point)}
}

func (h *HistorySink) Record(series string, value float64, step int) {
	h.points[series] = append(h.points[series], Point{Step: step, Value: value})
}

// Series returns the recorded points for one series.
func (h *HistorySink) Series(name string) []Point {
	return h.points[name]
}

// FileSink appends recorded scalars to a JSONL file from a background
// goroutine. Record never blocks: when the queue is full the point is
// dropped. Write errors are swallowed; losing metrics must not abort a
// training run.
type FileSink struct {
	queue chan fileRecord
	done  chan struct{}
}

type fileRecord struct {
	Series    string  `json:"series"`
	Value     float64 `json:"value"`
	Step      int     `json:"step"`
	Timestamp int64   `json:"ts"`
}

// NewFileSink opens (appending) the metrics file and starts the writer
// goroutine.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	fs := &FileSink{
		queue: make(chan fileRecord, 1024),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(fs.done)
		defer file.Close()
		encoder := json.NewEncoder(file)
		for rec := range fs.queue {
			_ = encoder.Encode(rec)
		}
	}()

	return fs, nil
}

func (fs *FileSink) Record(series string, value float64, step int) {
	rec := fileRecord{
		Series:    series,
		Value:     value,
		Step:      step,
		Timestamp: time.Now().Unix(),
	}
	select {
	case fs.queue <- rec:
	default:
		// Queue full: drop rather than stall the trainer.
	}
}

// Close flushes pending records and closes the file.
func (fs *FileSink) Close() {
	close(fs.queue)
	<-fs.done
}
