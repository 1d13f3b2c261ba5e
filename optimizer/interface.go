// Package optimizer wraps gorgonia's gradient-descent solvers behind a
// single interface so the trainer can swap optimizers by name. Hyperparameter
// defaults follow the usual deep-learning conventions.
package optimizer

import (
	"fmt"
	"strings"

	"gorgonia.org/gorgonia"
)

// Optimizer applies one update step to a set of learnable nodes whose
// gradients have been computed by a tape machine run.
type Optimizer interface {
	// Step updates every learnable in place from its accumulated gradient.
	Step(learnables gorgonia.Nodes) error

	// SetLearningRate changes the learning rate for subsequent steps.
	SetLearningRate(lr float64)

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// Name identifies the optimizer, e.g. "adam".
	Name() string
}

// Settings carries the hyperparameters shared by every optimizer kind.
// Kind-specific knobs (betas, decay rates) keep their defaults.
type Settings struct {
	LearningRate float64
	WeightDecay  float64
	BatchSize    int
}

// New builds an optimizer by name. Supported kinds are "adam", "sgd" and
// "rmsprop".
func New(kind string, settings Settings) (Optimizer, error) {
	if settings.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0 (got %g)", settings.LearningRate)
	}
	if settings.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay must be >= 0 (got %g)", settings.WeightDecay)
	}
	if settings.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", settings.BatchSize)
	}

	switch strings.ToLower(kind) {
	case "adam":
		cfg := DefaultAdamConfig()
		cfg.LearningRate = settings.LearningRate
		cfg.WeightDecay = settings.WeightDecay
		cfg.BatchSize = settings.BatchSize
		return NewAdam(cfg), nil
	case "sgd":
		cfg := DefaultSGDConfig()
		cfg.LearningRate = settings.LearningRate
		cfg.WeightDecay = settings.WeightDecay
		cfg.BatchSize = settings.BatchSize
		return NewSGD(cfg), nil
	case "rmsprop":
		cfg := DefaultRMSPropConfig()
		cfg.LearningRate = settings.LearningRate
		cfg.WeightDecay = settings.WeightDecay
		cfg.BatchSize = settings.BatchSize
		return NewRMSProp(cfg), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", kind)
	}
}
