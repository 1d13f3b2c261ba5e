package optimizer

import (
	"gorgonia.org/gorgonia"
)

// RMSPropConfig holds the RMSProp hyperparameters.
type RMSPropConfig struct {
	LearningRate float64
	Decay        float64
	Epsilon      float64
	WeightDecay  float64
	BatchSize    int
}

// DefaultRMSPropConfig returns the standard RMSProp configuration.
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.001,
		Decay:        0.9,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		BatchSize:    1,
	}
}

// RMSProp wraps gorgonia's RMSProp solver. Like Adam, the squared-gradient
// average restarts when the learning rate changes mid-run.
type RMSProp struct {
	cfg    RMSPropConfig
	solver *gorgonia.RMSPropSolver
}

// NewRMSProp creates an RMSProp optimizer from the given configuration.
func NewRMSProp(cfg RMSPropConfig) *RMSProp {
	r := &RMSProp{cfg: cfg}
	r.rebuild()
	return r
}

func (r *RMSProp) rebuild() {
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(r.cfg.LearningRate),
		gorgonia.WithRho(r.cfg.Decay),
		gorgonia.WithEps(r.cfg.Epsilon),
		gorgonia.WithBatchSize(float64(r.cfg.BatchSize)),
	}
	if r.cfg.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(r.cfg.WeightDecay))
	}
	r.solver = gorgonia.NewRMSPropSolver(opts...)
}

// Step applies one RMSProp update to the learnables.
func (r *RMSProp) Step(learnables gorgonia.Nodes) error {
	return r.solver.Step(gorgonia.NodesToValueGrads(learnables))
}

// SetLearningRate changes the learning rate for subsequent steps.
func (r *RMSProp) SetLearningRate(lr float64) {
	if lr == r.cfg.LearningRate {
		return
	}
	r.cfg.LearningRate = lr
	r.rebuild()
}

// LearningRate returns the current learning rate.
func (r *RMSProp) LearningRate() float64 {
	return r.cfg.LearningRate
}

// Name identifies the optimizer.
func (r *RMSProp) Name() string {
	return "rmsprop"
}
