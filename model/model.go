// Package model defines the transfer-learning classifier: a ResNet-18
// feature extractor with a task-specific classification head, expressed as
// gorgonia expression graphs over a shared parameter store.
package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config describes a classifier instance.
type Config struct {
	NumClasses int
	ImageSize  int
	Dropout    float64
	// FreezeBackbone restricts training to the head, leaving the
	// pretrained feature extractor untouched.
	FreezeBackbone bool
	Seed           int64
}

// Classifier owns the model parameters and knows how to instantiate forward
// graphs over them. The parameter state is mutable during training (through
// the learnable graph nodes) and read-only during evaluation.
type Classifier struct {
	cfg    Config
	params *Parameters
}

// NewClassifier creates a classifier with seeded random initialization.
// Pretrained backbone weights, when available, are loaded on top through
// the checkpoints package.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.NumClasses <= 1 {
		return nil, fmt.Errorf("num classes must be > 1 (got %d)", cfg.NumClasses)
	}
	if cfg.ImageSize < 32 {
		return nil, fmt.Errorf("image size must be >= 32 (got %d)", cfg.ImageSize)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("dropout must be in [0, 1) (got %g)", cfg.Dropout)
	}

	params := NewParameters()
	init := newInitializer(cfg.Seed)
	registerBackbone(params, init, !cfg.FreezeBackbone)
	registerHead(params, init, cfg.NumClasses)

	return &Classifier{cfg: cfg, params: params}, nil
}

// Parameters exposes the underlying parameter store.
func (c *Classifier) Parameters() *Parameters {
	return c.params
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Network is one instantiated forward graph. Input accepts a
// (batch, 3, size, size) tensor; Logits carries the unnormalized class
// scores; Learnables lists the parameter nodes that receive gradients.
type Network struct {
	Input      *gorgonia.Node
	Logits     *gorgonia.Node
	Learnables gorgonia.Nodes
}

// Build instantiates a forward graph for the given batch size. Training
// graphs include dropout; evaluation graphs are purely deterministic.
// Graphs built from the same classifier share parameter backing, so updates
// made through one are observed by all.
func (c *Classifier) Build(g *gorgonia.ExprGraph, batchSize int, training bool) (*Network, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", batchSize)
	}

	input := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(batchSize, 3, c.cfg.ImageSize, c.cfg.ImageSize),
		gorgonia.WithName("input"))

	builder := newGraphBuilder(g, c.params)

	features, err := builder.backbone(input)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	logits, err := builder.head(features, c.cfg.Dropout, training)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}

	var learnables gorgonia.Nodes
	for _, name := range c.params.Names() {
		if !c.params.Trainable(name) {
			continue
		}
		node, ok := builder.nodes[name]
		if !ok {
			return nil, fmt.Errorf("trainable parameter %q unused by graph", name)
		}
		learnables = append(learnables, node)
	}

	return &Network{Input: input, Logits: logits, Learnables: learnables}, nil
}

// InputLen returns the flattened length of one input sample.
func (c *Classifier) InputLen() int {
	return 3 * c.cfg.ImageSize * c.cfg.ImageSize
}
