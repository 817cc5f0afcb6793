package training

import (
	"fmt"
	"math"
)

// LRSchedule is the learning-rate schedule contract consumed by the
// trainer. Step advances the schedule by exactly one training batch and
// returns the learning rate to use from that point on. The trainer
// calls Step once per processed training batch and never anywhere
// else, for a total of epochs * batchesPerEpoch calls per run.
type LRSchedule interface {
	Step() float64
	LastLR() float64
}

// OneCycleSchedule implements the one-cycle learning-rate policy: the
// rate ramps from MaxLR/DivFactor up to MaxLR over the first
// PctStart fraction of all training steps, then anneals down to
// MaxLR/(DivFactor*FinalDivFactor) over the remainder. Both phases use
// cosine interpolation.
type OneCycleSchedule struct {
	maxLR      float64
	initialLR  float64
	minLR      float64
	totalSteps int
	pctStart   float64

	step int
	last float64
}

// OneCycleConfig configures a one-cycle schedule. TotalSteps must equal
// epochs times batches per epoch. Zero-valued optional fields fall back
// to the usual defaults (PctStart 0.3, DivFactor 25, FinalDivFactor 1e4).
type OneCycleConfig struct {
	MaxLR          float64
	TotalSteps     int
	PctStart       float64
	DivFactor      float64
	FinalDivFactor float64
}

// NewOneCycleSchedule creates a one-cycle schedule.
func NewOneCycleSchedule(config OneCycleConfig) (*OneCycleSchedule, error) {
	if config.MaxLR <= 0 {
		return nil, fmt.Errorf("training: max learning rate must be positive, got %g", config.MaxLR)
	}
	if config.TotalSteps <= 0 {
		return nil, fmt.Errorf("training: total steps must be positive, got %d", config.TotalSteps)
	}
	if config.PctStart == 0 {
		config.PctStart = 0.3
	}
	if config.PctStart < 0 || config.PctStart > 1 {
		return nil, fmt.Errorf("training: pct start must be in [0, 1], got %g", config.PctStart)
	}
	if config.DivFactor == 0 {
		config.DivFactor = 25.0
	}
	if config.FinalDivFactor == 0 {
		config.FinalDivFactor = 1e4
	}

	initial := config.MaxLR / config.DivFactor
	s := &OneCycleSchedule{
		maxLR:      config.MaxLR,
		initialLR:  initial,
		minLR:      initial / config.FinalDivFactor,
		totalSteps: config.TotalSteps,
		pctStart:   config.PctStart,
		last:       initial,
	}
	return s, nil
}

// Step advances the schedule one training batch and returns the new
// learning rate. Steps past TotalSteps stay clamped at the final rate.
func (s *OneCycleSchedule) Step() float64 {
	s.step++
	s.last = s.LR(s.step)
	return s.last
}

// LastLR returns the learning rate set by the most recent Step, or the
// initial rate before any step has been taken.
func (s *OneCycleSchedule) LastLR() float64 {
	return s.last
}

// StepCount returns how many times Step has been called.
func (s *OneCycleSchedule) StepCount() int {
	return s.step
}

// LR computes the learning rate at a given step count without mutating
// the schedule.
func (s *OneCycleSchedule) LR(step int) float64 {
	if step >= s.totalSteps {
		return s.minLR
	}
	warmup := s.pctStart * float64(s.totalSteps)
	if float64(step) < warmup {
		return annealCos(s.initialLR, s.maxLR, float64(step)/warmup)
	}
	down := float64(s.totalSteps) - warmup
	return annealCos(s.maxLR, s.minLR, (float64(step)-warmup)/down)
}

// annealCos interpolates from start to end as pct goes 0 to 1 along a
// half cosine.
func annealCos(start, end, pct float64) float64 {
	return end + (start-end)/2*(math.Cos(math.Pi*pct)+1)
}

// ConstantSchedule keeps a fixed learning rate; useful as a baseline
// and in tests.
type ConstantSchedule struct {
	lr    float64
	steps int
}

// NewConstantSchedule creates a constant schedule.
func NewConstantSchedule(lr float64) *ConstantSchedule {
	return &ConstantSchedule{lr: lr}
}

func (s *ConstantSchedule) Step() float64 {
	s.steps++
	return s.lr
}

func (s *ConstantSchedule) LastLR() float64 {
	return s.lr
}

// StepCount returns how many times Step has been called.
func (s *ConstantSchedule) StepCount() int {
	return s.steps
}
