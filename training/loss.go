package training

import (
	"fmt"
	"math"
)

// Criterion computes a scalar loss for a batch of logits and the
// gradient of that loss with respect to the logits. Logits are
// row-major [batchSize][numClasses]; the returned gradient has the same
// layout. The loss is mean-reduced over the batch.
type Criterion interface {
	Compute(logits []float32, labels []int32) (loss float64, grad []float32, err error)
}

// CrossEntropyLoss is softmax cross-entropy with mean reduction.
type CrossEntropyLoss struct {
	numClasses int
}

// NewCrossEntropyLoss creates a cross-entropy criterion for the given
// number of classes.
func NewCrossEntropyLoss(numClasses int) (*CrossEntropyLoss, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("training: cross-entropy needs at least 2 classes, got %d", numClasses)
	}
	return &CrossEntropyLoss{numClasses: numClasses}, nil
}

// Compute returns the mean negative log-likelihood of the true classes
// and the gradient (softmax - onehot) / batchSize.
func (ce *CrossEntropyLoss) Compute(logits []float32, labels []int32) (float64, []float32, error) {
	n := len(labels)
	if n == 0 {
		return 0, nil, fmt.Errorf("training: empty batch")
	}
	if len(logits) != n*ce.numClasses {
		return 0, nil, fmt.Errorf("training: logits length %d does not match %d samples x %d classes",
			len(logits), n, ce.numClasses)
	}

	grad := make([]float32, len(logits))
	var total float64

	for i := 0; i < n; i++ {
		row := logits[i*ce.numClasses : (i+1)*ce.numClasses]
		label := int(labels[i])
		if label < 0 || label >= ce.numClasses {
			return 0, nil, fmt.Errorf("training: label %d out of range [0, %d)", label, ce.numClasses)
		}

		// Shift by the row max for numerical stability.
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxLogit))
		}
		logSumExp := math.Log(sumExp)

		total += logSumExp - float64(row[label]-maxLogit)

		gradRow := grad[i*ce.numClasses : (i+1)*ce.numClasses]
		for j, v := range row {
			p := math.Exp(float64(v-maxLogit)) / sumExp
			gradRow[j] = float32(p / float64(n))
		}
		gradRow[label] -= float32(1.0 / float64(n))
	}

	return total / float64(n), grad, nil
}

// Argmax returns the predicted class for each row of logits.
func Argmax(logits []float32, numClasses int) []int32 {
	n := len(logits) / numClasses
	preds := make([]int32, n)
	for i := 0; i < n; i++ {
		row := logits[i*numClasses : (i+1)*numClasses]
		best := 0
		for j := 1; j < numClasses; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		preds[i] = int32(best)
	}
	return preds
}
