package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler maps an epoch index to a learning rate. Schedulers are pure
// functions of the epoch so resuming a run reproduces the same schedule.
type LRScheduler interface {
	// LearningRate returns the rate for the given zero-based epoch.
	LearningRate(epoch int, baseLR float64) float64

	// Name identifies the scheduler for logging.
	Name() string
}

// ConstantLR keeps the base learning rate for the whole run.
type ConstantLR struct{}

func (ConstantLR) LearningRate(epoch int, baseLR float64) float64 { return baseLR }
func (ConstantLR) Name() string                                   { return "constant" }

// StepLR multiplies the rate by Gamma every StepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float64
}

// NewStepLR creates a step scheduler, falling back to a 10x cut every 5
// epochs for out-of-range arguments.
func NewStepLR(stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 5
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLR) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLR) Name() string { return "step" }

// ExponentialLR multiplies the rate by Gamma every epoch.
type ExponentialLR struct {
	Gamma float64
}

// NewExponentialLR creates an exponential scheduler, defaulting to a 5%
// per-epoch decay for out-of-range arguments.
func NewExponentialLR(gamma float64) *ExponentialLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLR{Gamma: gamma}
}

func (s *ExponentialLR) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLR) Name() string { return "exponential" }

// CosineLR anneals the rate along a half cosine from baseLR down to EtaMin
// over TMax epochs.
type CosineLR struct {
	TMax   int
	EtaMin float64
}

// NewCosineLR creates a cosine annealing scheduler over tMax epochs.
func NewCosineLR(tMax int, etaMin float64) *CosineLR {
	if tMax <= 0 {
		tMax = 10
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineLR{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineLR) LearningRate(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineLR) Name() string { return "cosine" }

// NewScheduler builds a scheduler by name with defaults sized to the run
// length. Supported names are "constant", "step", "exponential" and
// "cosine".
func NewScheduler(name string, epochs int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "", "constant":
		return ConstantLR{}, nil
	case "step":
		return NewStepLR(epochs/3, 0.1), nil
	case "exponential":
		return NewExponentialLR(0.95), nil
	case "cosine":
		return NewCosineLR(epochs, 0), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", name)
	}
}
