// Package optimizer implements gradient-descent update rules over
// plain parameter slices. A model hands out its parameters as aliased
// Data/Grad slice pairs; the optimizer mutates Data in place.
package optimizer

import (
	"fmt"
	"math"
)

// Parameter is one named parameter tensor with its gradient
// accumulator. Data and Grad alias the model's own storage and must
// have equal length.
type Parameter struct {
	Name string
	Data []float64
	Grad []float64
}

// AdamWConfig holds AdamW hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns the usual AdamW defaults.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  1e-4,
	}
}

// AdamW is Adam with decoupled weight decay. The decay term is applied
// directly to the parameters, not through the gradient moments.
type AdamW struct {
	config AdamWConfig
	params []Parameter

	m [][]float64 // first moment per parameter tensor
	v [][]float64 // second moment per parameter tensor

	stepCount int
}

// NewAdamW creates an AdamW optimizer over the given parameters.
func NewAdamW(params []Parameter, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer: no parameters to optimize")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("optimizer: learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 <= 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("optimizer: beta1 must be in (0, 1), got %g", config.Beta1)
	}
	if config.Beta2 <= 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("optimizer: beta2 must be in (0, 1), got %g", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("optimizer: epsilon must be positive, got %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("optimizer: weight decay must be non-negative, got %g", config.WeightDecay)
	}

	a := &AdamW{
		config: config,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		if len(p.Data) != len(p.Grad) {
			return nil, fmt.Errorf("optimizer: parameter %s has %d values but %d gradients",
				p.Name, len(p.Data), len(p.Grad))
		}
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a, nil
}

// ZeroGrad clears all gradient accumulators.
func (a *AdamW) ZeroGrad() {
	for _, p := range a.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Step applies one AdamW update from the accumulated gradients.
func (a *AdamW) Step() error {
	a.stepCount++
	beta1 := a.config.Beta1
	beta2 := a.config.Beta2
	lr := a.config.LearningRate

	biasCorr1 := 1 - math.Pow(beta1, float64(a.stepCount))
	biasCorr2 := 1 - math.Pow(beta2, float64(a.stepCount))

	for pi, p := range a.params {
		m := a.m[pi]
		v := a.v[pi]
		for i := range p.Data {
			g := p.Grad[i]
			m[i] = beta1*m[i] + (1-beta1)*g
			v[i] = beta2*v[i] + (1-beta2)*g*g

			mHat := m[i] / biasCorr1
			vHat := v[i] / biasCorr2

			p.Data[i] -= lr * a.config.WeightDecay * p.Data[i]
			p.Data[i] -= lr * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
		}
	}
	return nil
}

// SetLearningRate changes the rate used by subsequent steps; called by
// the trainer after every schedule step.
func (a *AdamW) SetLearningRate(lr float64) {
	a.config.LearningRate = lr
}

// LearningRate returns the current learning rate.
func (a *AdamW) LearningRate() float64 {
	return a.config.LearningRate
}

// StepCount returns the number of updates applied so far.
func (a *AdamW) StepCount() int {
	return a.stepCount
}
