package optimizer

import (
	"gorgonia.org/gorgonia"
)

// SGDConfig holds the stochastic gradient descent hyperparameters.
type SGDConfig struct {
	LearningRate float64
	WeightDecay  float64
	BatchSize    int
}

// DefaultSGDConfig returns the standard SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		WeightDecay:  0.0,
		BatchSize:    1,
	}
}

// SGD wraps gorgonia's vanilla solver. It carries no per-parameter state, so
// learning rate changes take effect immediately without losing anything.
type SGD struct {
	cfg    SGDConfig
	solver *gorgonia.VanillaSolver
}

// NewSGD creates an SGD optimizer from the given configuration.
func NewSGD(cfg SGDConfig) *SGD {
	s := &SGD{cfg: cfg}
	s.rebuild()
	return s
}

func (s *SGD) rebuild() {
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(s.cfg.LearningRate),
		gorgonia.WithBatchSize(float64(s.cfg.BatchSize)),
	}
	if s.cfg.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(s.cfg.WeightDecay))
	}
	s.solver = gorgonia.NewVanillaSolver(opts...)
}

// Step applies one gradient descent update to the learnables.
func (s *SGD) Step(learnables gorgonia.Nodes) error {
	return s.solver.Step(gorgonia.NodesToValueGrads(learnables))
}

// SetLearningRate changes the learning rate for subsequent steps.
func (s *SGD) SetLearningRate(lr float64) {
	if lr == s.cfg.LearningRate {
		return
	}
	s.cfg.LearningRate = lr
	s.rebuild()
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 {
	return s.cfg.LearningRate
}

// Name identifies the optimizer.
func (s *SGD) Name() string {
	return "sgd"
}
