// Command train fits a classifier over a class-partitioned image
// directory: one subdirectory per class, images in any mix of jpg,
// jpeg, png, bmp and gif. Classes are balanced by per-class resampling
// before an 80/20 train/validation split, the learning rate follows a
// one-cycle policy, and the best-by-validation-loss parameters are
// checkpointed and kept as the final artifact.
package main

import (
	"flag"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/bigplantsens/imagetrain/checkpoints"
	"github.com/bigplantsens/imagetrain/models"
	"github.com/bigplantsens/imagetrain/optimizer"
	"github.com/bigplantsens/imagetrain/training"
	"github.com/bigplantsens/imagetrain/vision/dataloader"
	"github.com/bigplantsens/imagetrain/vision/dataset"
	"github.com/bigplantsens/imagetrain/vision/preprocessing"
)

var (
	flagData        = flag.String("data", "", "root directory of class-partitioned images (required)")
	flagCheckpoints = flag.String("checkpoints", "./checkpoints", "directory for model checkpoints")
	flagEpochs      = flag.Int("epochs", 150, "number of training epochs")
	flagBatchSize   = flag.Int("batch-size", 16, "batch size")
	flagPerClass    = flag.Int("per-class", 4000, "images sampled per class (over/under-sampling)")
	flagImageSize   = flag.Int("image-size", 512, "square image size after preprocessing")
	flagMaxLR       = flag.Float64("max-lr", 0.01, "peak learning rate of the one-cycle schedule")
	flagSplit       = flag.Float64("split", 0.8, "fraction of the balanced pool used for training")
	flagSeed        = flag.Int64("seed", 42, "random seed for sampling and shuffling")
	flagWorkers     = flag.Int("workers", 4, "worker goroutines per batch fetch")
	flagMetrics     = flag.String("metrics", "", "optional JSONL metrics file")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := run(); err != nil {
		klog.Errorf("training run failed: %v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func run() error {
	if *flagData == "" {
		flag.Usage()
		os.Exit(2)
	}

	runID := uuid.NewString()
	klog.Infof("run %s: data=%s checkpoints=%s", runID, *flagData, *flagCheckpoints)

	catalog, err := dataset.NewCatalog(*flagData)
	if err != nil {
		return err
	}
	names := catalog.ClassNames()
	klog.Infof("original images per class:")
	for i, count := range catalog.ClassCounts() {
		klog.Infof("  %s: %d images", names[i], count)
	}

	rng := rand.New(rand.NewSource(*flagSeed))
	split, err := dataset.Balance(catalog, *flagPerClass, *flagSplit, rng)
	if err != nil {
		return err
	}
	klog.Infof("images per class after sampling:")
	for i, count := range split.SampledCounts {
		klog.Infof("  %s: %d images", names[i], count)
	}
	klog.Infof("train samples: %d, validation samples: %d", len(split.Train), len(split.Val))

	processor := preprocessing.NewImageProcessor(*flagImageSize, preprocessing.ImageNetNormalization)
	loaderConfig := dataloader.Config{
		BatchSize:  *flagBatchSize,
		Shuffle:    true,
		NumWorkers: *flagWorkers,
		Transform:  processor.Transform,
		Seed:       *flagSeed,
	}
	trainLoader, err := dataloader.NewDataLoader(catalog, split.Train, loaderConfig)
	if err != nil {
		return err
	}
	valLoader, err := dataloader.NewDataLoader(catalog, split.Val, loaderConfig)
	if err != nil {
		return err
	}

	model, err := models.NewSoftmax(processor.TensorLen(), catalog.NumClasses(), rng)
	if err != nil {
		return err
	}
	criterion, err := training.NewCrossEntropyLoss(catalog.NumClasses())
	if err != nil {
		return err
	}
	opt, err := optimizer.NewAdamW(model.Parameters(), optimizer.DefaultAdamWConfig())
	if err != nil {
		return err
	}
	schedule, err := training.NewOneCycleSchedule(training.OneCycleConfig{
		MaxLR:      *flagMaxLR,
		TotalSteps: *flagEpochs * trainLoader.NumBatches(),
	})
	if err != nil {
		return err
	}

	var sink training.MetricsSink = training.NopSink{}
	if *flagMetrics != "" {
		fileSink, err := training.NewFileSink(*flagMetrics)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sink = fileSink
	}

	store := checkpoints.NewStore(*flagCheckpoints, runID)
	trainer, err := training.NewTrainer(model, criterion, opt, schedule, store, sink, training.Config{
		Epochs:     *flagEpochs,
		NumClasses: catalog.NumClasses(),
	})
	if err != nil {
		return err
	}

	result, err := trainer.Fit(trainLoader, valLoader)
	if err != nil {
		return err
	}

	klog.Infof("best epoch %d with validation loss %.4f", result.BestEpoch, result.BestLoss)
	klog.Infof("saved final model to %s", result.FinalPath)
	return nil
}
