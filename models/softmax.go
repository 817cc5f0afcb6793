// Package models provides trainable classifiers satisfying the
// training package's Model contract. The trainer treats models as
// opaque; anything exposing Forward/Backward/Snapshot/Restore can be
// plugged in instead.
package models

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/bigplantsens/imagetrain/checkpoints"
	"github.com/bigplantsens/imagetrain/optimizer"
)

const (
	weightName = "linear.weight"
	biasName   = "linear.bias"
)

// Softmax is a multinomial logistic-regression classifier over
// flattened input tensors: logits = x Wᵀ + b.
type Softmax struct {
	inputDim   int
	numClasses int

	weight *mat.Dense // numClasses x inputDim
	bias   []float64

	gradWeight *mat.Dense
	gradBias   []float64

	lastInput *mat.Dense // saved by Forward for the next Backward
}

// NewSoftmax creates a classifier with weights drawn from
// N(0, 1/inputDim) and zero biases.
func NewSoftmax(inputDim, numClasses int, rng *rand.Rand) (*Softmax, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("models: input dimension must be positive, got %d", inputDim)
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("models: need at least 2 classes, got %d", numClasses)
	}
	if rng == nil {
		return nil, fmt.Errorf("models: rng cannot be nil")
	}

	scale := 1.0 / math.Sqrt(float64(inputDim))
	weights := make([]float64, numClasses*inputDim)
	for i := range weights {
		weights[i] = rng.NormFloat64() * scale
	}

	return &Softmax{
		inputDim:   inputDim,
		numClasses: numClasses,
		weight:     mat.NewDense(numClasses, inputDim, weights),
		bias:       make([]float64, numClasses),
		gradWeight: mat.NewDense(numClasses, inputDim, nil),
		gradBias:   make([]float64, numClasses),
	}, nil
}

// NumClasses returns the number of output classes.
func (m *Softmax) NumClasses() int {
	return m.numClasses
}

// Forward computes logits for a batch of flattened inputs. The input
// slice must hold batchSize tensors of the configured dimension.
func (m *Softmax) Forward(input []float32, batchSize int) ([]float32, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("models: batch size must be positive, got %d", batchSize)
	}
	if len(input) != batchSize*m.inputDim {
		return nil, fmt.Errorf("models: input length %d does not match %d samples x dim %d",
			len(input), batchSize, m.inputDim)
	}

	x := mat.NewDense(batchSize, m.inputDim, nil)
	for i := 0; i < batchSize; i++ {
		row := input[i*m.inputDim : (i+1)*m.inputDim]
		for j, v := range row {
			x.Set(i, j, float64(v))
		}
	}
	m.lastInput = x

	var out mat.Dense
	out.Mul(x, m.weight.T())

	logits := make([]float32, batchSize*m.numClasses)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < m.numClasses; j++ {
			logits[i*m.numClasses+j] = float32(out.At(i, j) + m.bias[j])
		}
	}
	return logits, nil
}

// Backward accumulates parameter gradients from the loss gradient with
// respect to the logits of the most recent Forward call.
func (m *Softmax) Backward(gradLogits []float32) error {
	if m.lastInput == nil {
		return fmt.Errorf("models: Backward called before Forward")
	}
	batchSize, _ := m.lastInput.Dims()
	if len(gradLogits) != batchSize*m.numClasses {
		return fmt.Errorf("models: gradient length %d does not match %d samples x %d classes",
			len(gradLogits), batchSize, m.numClasses)
	}

	g := mat.NewDense(batchSize, m.numClasses, nil)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < m.numClasses; j++ {
			g.Set(i, j, float64(gradLogits[i*m.numClasses+j]))
		}
	}

	// dL/dW = gᵀ x, dL/db = column sums of g.
	var gw mat.Dense
	gw.Mul(g.T(), m.lastInput)
	m.gradWeight.Add(m.gradWeight, &gw)

	for j := 0; j < m.numClasses; j++ {
		var sum float64
		for i := 0; i < batchSize; i++ {
			sum += g.At(i, j)
		}
		m.gradBias[j] += sum
	}
	return nil
}

// Parameters exposes the weight and bias storage for an optimizer. The
// returned slices alias the model's state.
func (m *Softmax) Parameters() []optimizer.Parameter {
	return []optimizer.Parameter{
		{Name: weightName, Data: m.weight.RawMatrix().Data, Grad: m.gradWeight.RawMatrix().Data},
		{Name: biasName, Data: m.bias, Grad: m.gradBias},
	}
}

// Snapshot returns a deep copy of the current parameters.
func (m *Softmax) Snapshot() *checkpoints.Snapshot {
	raw := m.weight.RawMatrix().Data
	w := make([]float32, len(raw))
	for i, v := range raw {
		w[i] = float32(v)
	}
	b := make([]float32, len(m.bias))
	for i, v := range m.bias {
		b[i] = float32(v)
	}
	return &checkpoints.Snapshot{
		Params: []checkpoints.ParamTensor{
			{Name: weightName, Shape: []int{m.numClasses, m.inputDim}, Data: w},
			{Name: biasName, Shape: []int{m.numClasses}, Data: b},
		},
	}
}

// Restore overwrites the parameters from a snapshot.
func (m *Softmax) Restore(snap *checkpoints.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("models: snapshot cannot be nil")
	}
	for _, p := range snap.Params {
		switch p.Name {
		case weightName:
			raw := m.weight.RawMatrix().Data
			if len(p.Data) != len(raw) {
				return fmt.Errorf("models: weight snapshot has %d values, expected %d", len(p.Data), len(raw))
			}
			for i, v := range p.Data {
				raw[i] = float64(v)
			}
		case biasName:
			if len(p.Data) != len(m.bias) {
				return fmt.Errorf("models: bias snapshot has %d values, expected %d", len(p.Data), len(m.bias))
			}
			for i, v := range p.Data {
				m.bias[i] = float64(v)
			}
		default:
			return fmt.Errorf("models: unknown parameter %q in snapshot", p.Name)
		}
	}
	return nil
}
