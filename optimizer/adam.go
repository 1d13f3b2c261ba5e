package optimizer

import (
	"gorgonia.org/gorgonia"
)

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	BatchSize    int
}

// DefaultAdamConfig returns the standard Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		BatchSize:    1,
	}
}

// Adam wraps gorgonia's Adam solver. Moment buffers live inside the solver
// and accumulate across steps; changing the learning rate rebuilds the
// solver, which restarts moment accumulation.
type Adam struct {
	cfg    AdamConfig
	solver *gorgonia.AdamSolver
}

// NewAdam creates an Adam optimizer from the given configuration.
func NewAdam(cfg AdamConfig) *Adam {
	a := &Adam{cfg: cfg}
	a.rebuild()
	return a
}

func (a *Adam) rebuild() {
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(a.cfg.LearningRate),
		gorgonia.WithBeta1(a.cfg.Beta1),
		gorgonia.WithBeta2(a.cfg.Beta2),
		gorgonia.WithEps(a.cfg.Epsilon),
		gorgonia.WithBatchSize(float64(a.cfg.BatchSize)),
	}
	if a.cfg.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(a.cfg.WeightDecay))
	}
	a.solver = gorgonia.NewAdamSolver(opts...)
}

// Step applies one Adam update to the learnables.
func (a *Adam) Step(learnables gorgonia.Nodes) error {
	return a.solver.Step(gorgonia.NodesToValueGrads(learnables))
}

// SetLearningRate changes the learning rate for subsequent steps.
func (a *Adam) SetLearningRate(lr float64) {
	if lr == a.cfg.LearningRate {
		return
	}
	a.cfg.LearningRate = lr
	a.rebuild()
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.cfg.LearningRate
}

// Name identifies the optimizer.
func (a *Adam) Name() string {
	return "adam"
}
