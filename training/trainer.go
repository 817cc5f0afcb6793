package training

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"github.com/bigplantsens/imagetrain/checkpoints"
	"github.com/bigplantsens/imagetrain/vision/dataloader"
)

// Model is the trainable collaborator. Forward produces row-major
// [batchSize][numClasses] logits; Backward accumulates parameter
// gradients from a loss gradient with the same layout as the logits.
// Snapshot captures a deep copy of the parameters; Restore overwrites
// them from a snapshot.
type Model interface {
	Forward(input []float32, batchSize int) ([]float32, error)
	Backward(gradLogits []float32) error
	Snapshot() *checkpoints.Snapshot
	Restore(snap *checkpoints.Snapshot) error
}

// Optimizer applies accumulated gradients to the model parameters.
type Optimizer interface {
	ZeroGrad()
	Step() error
	SetLearningRate(lr float64)
}

// BatchProvider serves one epoch of batches per Reset/NextBatch cycle.
// Satisfied by *dataloader.DataLoader.
type BatchProvider interface {
	Reset()
	NextBatch() (*dataloader.Batch, error)
	NumSamples() int
	NumBatches() int
}

// Config holds trainer configuration.
type Config struct {
	Epochs     int
	NumClasses int
}

// Result summarizes a completed run.
type Result struct {
	History   []EpochMetrics
	BestEpoch int
	BestLoss  float64
	// BestPaths lists the best-snapshot files in save order; losses
	// decode to a strictly decreasing sequence.
	BestPaths []string
	FinalPath string
}

// Trainer drives the epoch state machine: for each epoch it runs every
// training batch (forward, loss, backward, optimizer step, then exactly
// one schedule step), then a sequential validation pass with no
// gradient work, then the checkpoint decision. Validation loss strictly
// below the best seen so far saves a snapshot; anything else writes
// nothing. After the last epoch the model is restored to the best
// snapshot and that state is saved as the final artifact.
//
// The trainer is single-threaded: collaborator state is only ever
// mutated from the goroutine running Fit.
type Trainer struct {
	model     Model
	criterion Criterion
	optimizer Optimizer
	schedule  LRSchedule
	store     *checkpoints.Store
	sink      MetricsSink
	config    Config
}

// NewTrainer wires the collaborators together.
func NewTrainer(model Model, criterion Criterion, optimizer Optimizer, schedule LRSchedule,
	store *checkpoints.Store, sink MetricsSink, config Config) (*Trainer, error) {
	if model == nil || criterion == nil || optimizer == nil || schedule == nil {
		return nil, fmt.Errorf("training: model, criterion, optimizer and schedule are all required")
	}
	if store == nil {
		return nil, fmt.Errorf("training: checkpoint store is required")
	}
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("training: epoch count must be positive, got %d", config.Epochs)
	}
	if config.NumClasses < 2 {
		return nil, fmt.Errorf("training: need at least 2 classes, got %d", config.NumClasses)
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Trainer{
		model:     model,
		criterion: criterion,
		optimizer: optimizer,
		schedule:  schedule,
		store:     store,
		sink:      sink,
		config:    config,
	}, nil
}

// Fit trains for the configured number of epochs and returns the run
// summary. Any failure mid-batch aborts the whole run; checkpoints
// already on disk are left in place.
func (t *Trainer) Fit(train, val BatchProvider) (*Result, error) {
	if train == nil || val == nil {
		return nil, fmt.Errorf("training: train and validation providers are required")
	}

	bestLoss := math.Inf(1)
	bestSnap := t.model.Snapshot()
	bestEpoch := -1

	result := &Result{}
	t.optimizer.SetLearningRate(t.schedule.LastLR())

	globalStep := 0
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		trainLoss, trainAcc, steps, err := t.trainEpoch(train, globalStep)
		if err != nil {
			return nil, fmt.Errorf("training: epoch %d training pass: %w", epoch, err)
		}
		globalStep += steps

		valLoss, valAcc, err := t.validate(val)
		if err != nil {
			return nil, fmt.Errorf("training: epoch %d validation pass: %w", epoch, err)
		}

		metrics := EpochMetrics{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			TrainAcc:  trainAcc,
			ValLoss:   valLoss,
			ValAcc:    valAcc,
		}
		result.History = append(result.History, metrics)

		t.sink.Record(SeriesTrainLoss, trainLoss, epoch)
		t.sink.Record(SeriesTrainAcc, trainAcc, epoch)
		t.sink.Record(SeriesValLoss, valLoss, epoch)
		t.sink.Record(SeriesValAcc, valAcc, epoch)

		klog.Infof("epoch %d/%d train loss %.4f acc %.4f | val loss %.4f acc %.4f",
			epoch, t.config.Epochs-1, trainLoss, trainAcc, valLoss, valAcc)

		if valLoss < bestLoss {
			bestLoss = valLoss
			bestEpoch = epoch
			bestSnap = t.model.Snapshot()
			path, err := t.store.SaveBest(epoch, valLoss, bestSnap.Clone())
			if err != nil {
				return nil, err
			}
			result.BestPaths = append(result.BestPaths, path)
			klog.Infof("saved best checkpoint at epoch %d with validation loss %.2f", epoch, valLoss)
		}
	}

	if err := t.model.Restore(bestSnap); err != nil {
		return nil, fmt.Errorf("training: failed to restore best parameters: %w", err)
	}
	finalPath, err := t.store.SaveFinal(t.model.Snapshot())
	if err != nil {
		return nil, err
	}

	result.BestEpoch = bestEpoch
	result.BestLoss = bestLoss
	result.FinalPath = finalPath
	return result, nil
}

// trainEpoch runs one full training pass and returns the
// sample-weighted mean loss, the accuracy, and the number of batches
// processed.
func (t *Trainer) trainEpoch(train BatchProvider, globalStep int) (float64, float64, int, error) {
	train.Reset()

	var runningLoss float64
	var correct, seen, steps int

	for {
		batch, err := train.NextBatch()
		if err != nil {
			return 0, 0, 0, err
		}
		if batch == nil {
			break
		}

		t.optimizer.ZeroGrad()

		logits, err := t.model.Forward(batch.Data, batch.Size)
		if err != nil {
			return 0, 0, 0, err
		}
		loss, grad, err := t.criterion.Compute(logits, batch.Labels)
		if err != nil {
			return 0, 0, 0, err
		}
		if err := t.model.Backward(grad); err != nil {
			return 0, 0, 0, err
		}
		if err := t.optimizer.Step(); err != nil {
			return 0, 0, 0, err
		}

		// One schedule step per training batch; the new rate applies
		// from the next optimizer step on.
		lr := t.schedule.Step()
		t.optimizer.SetLearningRate(lr)

		runningLoss += loss * float64(batch.Size)
		correct += countCorrect(logits, batch.Labels, t.config.NumClasses)
		seen += batch.Size
		steps++

		t.sink.Record(SeriesBatchLoss, loss, globalStep+steps-1)
		t.sink.Record(SeriesLearningRate, lr, globalStep+steps-1)
		klog.V(2).Infof("batch %d loss %.4f lr %.6f", globalStep+steps-1, loss, lr)
	}

	if seen == 0 {
		return 0, 0, 0, fmt.Errorf("training pass saw no samples")
	}
	return runningLoss / float64(seen), float64(correct) / float64(seen), steps, nil
}

// validate runs a full pass over the validation provider without any
// gradient computation or parameter updates.
func (t *Trainer) validate(val BatchProvider) (float64, float64, error) {
	val.Reset()

	var runningLoss float64
	var correct, seen int

	for {
		batch, err := val.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		logits, err := t.model.Forward(batch.Data, batch.Size)
		if err != nil {
			return 0, 0, err
		}
		loss, _, err := t.criterion.Compute(logits, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		runningLoss += loss * float64(batch.Size)
		correct += countCorrect(logits, batch.Labels, t.config.NumClasses)
		seen += batch.Size
	}

	if seen == 0 {
		return 0, 0, fmt.Errorf("validation pass saw no samples")
	}
	return runningLoss / float64(seen), float64(correct) / float64(seen), nil
}

func countCorrect(logits []float32, labels []int32, numClasses int) int {
	preds := Argmax(logits, numClasses)
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return correct
}
