package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BackboneFeatures is the width of the pooled feature vector the ResNet-18
// backbone produces.
const BackboneFeatures = 512

// stageChannels lists the output width of each residual stage. Every stage
// holds two basic blocks; stages after the first halve the spatial
// resolution in their first block.
var stageChannels = [4]int{64, 128, 256, 512}

const blocksPerStage = 2

// registerBackbone adds every backbone parameter to the store. Batch
// normalization appears as a fixed per-channel affine: with a pretrained
// snapshot the running statistics are folded into scale/shift at conversion
// time, and they stay frozen during fine-tuning.
func registerBackbone(p *Parameters, init *initializer, trainable bool) {
	registerConv(p, init, "backbone.conv1", 3, 64, 7, trainable)
	registerBNAffine(p, "backbone.bn1", 64)

	inC := 64
	for stage, outC := range stageChannels {
		for block := 0; block < blocksPerStage; block++ {
			prefix := fmt.Sprintf("backbone.layer%d.%d", stage+1, block)
			stride := 1
			if stage > 0 && block == 0 {
				stride = 2
			}

			registerConv(p, init, prefix+".conv1", inC, outC, 3, trainable)
			registerBNAffine(p, prefix+".bn1", outC)
			registerConv(p, init, prefix+".conv2", outC, outC, 3, trainable)
			registerBNAffine(p, prefix+".bn2", outC)

			if stride != 1 || inC != outC {
				registerConv(p, init, prefix+".downsample", inC, outC, 1, trainable)
				registerBNAffine(p, prefix+".downsample_bn", outC)
			}
			inC = outC
		}
	}
}

// registerHead adds the classification head: Dense(512) -> ReLU -> Dropout ->
// Dense(numClasses). Head parameters are always trainable.
func registerHead(p *Parameters, init *initializer, numClasses int) {
	p.Add("head.fc1.weight", init.glorotUniform(BackboneFeatures, BackboneFeatures,
		BackboneFeatures, BackboneFeatures), true)
	p.Add("head.fc1.bias", constant(0, 1, BackboneFeatures), true)
	p.Add("head.fc2.weight", init.glorotUniform(BackboneFeatures, numClasses,
		BackboneFeatures, numClasses), true)
	p.Add("head.fc2.bias", constant(0, 1, numClasses), true)
}

func registerConv(p *Parameters, init *initializer, name string, inC, outC, kernel int, trainable bool) {
	fanIn := inC * kernel * kernel
	p.Add(name+".weight", init.heNormal(fanIn, outC, inC, kernel, kernel), trainable)
}

func registerBNAffine(p *Parameters, name string, channels int) {
	p.Add(name+".scale", constant(1, 1, channels, 1, 1), false)
	p.Add(name+".shift", constant(0, 1, channels, 1, 1), false)
}

// graphBuilder instantiates parameter nodes into one expression graph,
// binding each node to the store's backing tensor.
type graphBuilder struct {
	g      *gorgonia.ExprGraph
	params *Parameters
	nodes  map[string]*gorgonia.Node
}

func newGraphBuilder(g *gorgonia.ExprGraph, params *Parameters) *graphBuilder {
	return &graphBuilder{g: g, params: params, nodes: make(map[string]*gorgonia.Node)}
}

func (b *graphBuilder) node(name string) (*gorgonia.Node, error) {
	if n, ok := b.nodes[name]; ok {
		return n, nil
	}
	t, ok := b.params.Get(name)
	if !ok {
		return nil, fmt.Errorf("parameter %q is not registered", name)
	}
	n := gorgonia.NewTensor(b.g, tensor.Float32, t.Dims(),
		gorgonia.WithShape(t.Shape()...),
		gorgonia.WithName(name),
		gorgonia.WithValue(t))
	b.nodes[name] = n
	return n, nil
}

func (b *graphBuilder) conv(x *gorgonia.Node, name string, kernel, stride, pad int) (*gorgonia.Node, error) {
	w, err := b.node(name + ".weight")
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.Conv2d(x, w, tensor.Shape{kernel, kernel},
		[]int{pad, pad}, []int{stride, stride}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// bnAffine applies the folded batch-norm transform y = x*scale + shift,
// broadcast over batch and spatial axes.
func (b *graphBuilder) bnAffine(x *gorgonia.Node, name string) (*gorgonia.Node, error) {
	scale, err := b.node(name + ".scale")
	if err != nil {
		return nil, err
	}
	shift, err := b.node(name + ".shift")
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.BroadcastHadamardProd(x, scale, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, fmt.Errorf("%s scale: %w", name, err)
	}
	out, err = gorgonia.BroadcastAdd(out, shift, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, fmt.Errorf("%s shift: %w", name, err)
	}
	return out, nil
}

// basicBlock wires one ResNet basic block: two 3x3 convolutions with a
// residual connection, projecting the shortcut when shape changes.
func (b *graphBuilder) basicBlock(x *gorgonia.Node, prefix string, inC, outC, stride int) (*gorgonia.Node, error) {
	out, err := b.conv(x, prefix+".conv1", 3, stride, 1)
	if err != nil {
		return nil, err
	}
	if out, err = b.bnAffine(out, prefix+".bn1"); err != nil {
		return nil, err
	}
	if out, err = gorgonia.Rectify(out); err != nil {
		return nil, fmt.Errorf("%s relu1: %w", prefix, err)
	}
	if out, err = b.conv(out, prefix+".conv2", 3, 1, 1); err != nil {
		return nil, err
	}
	if out, err = b.bnAffine(out, prefix+".bn2"); err != nil {
		return nil, err
	}

	skip := x
	if stride != 1 || inC != outC {
		if skip, err = b.conv(x, prefix+".downsample", 1, stride, 0); err != nil {
			return nil, err
		}
		if skip, err = b.bnAffine(skip, prefix+".downsample_bn"); err != nil {
			return nil, err
		}
	}

	sum, err := gorgonia.Add(out, skip)
	if err != nil {
		return nil, fmt.Errorf("%s residual: %w", prefix, err)
	}
	act, err := gorgonia.Rectify(sum)
	if err != nil {
		return nil, fmt.Errorf("%s relu2: %w", prefix, err)
	}
	return act, nil
}

// backbone wires the full feature extractor from the input batch to the
// globally pooled (N, 512) feature matrix.
func (b *graphBuilder) backbone(x *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := b.conv(x, "backbone.conv1", 7, 2, 3)
	if err != nil {
		return nil, err
	}
	if out, err = b.bnAffine(out, "backbone.bn1"); err != nil {
		return nil, err
	}
	if out, err = gorgonia.Rectify(out); err != nil {
		return nil, fmt.Errorf("stem relu: %w", err)
	}
	if out, err = gorgonia.MaxPool2D(out, tensor.Shape{3, 3}, []int{1, 1}, []int{2, 2}); err != nil {
		return nil, fmt.Errorf("stem pool: %w", err)
	}

	inC := 64
	for stage, outC := range stageChannels {
		for block := 0; block < blocksPerStage; block++ {
			prefix := fmt.Sprintf("backbone.layer%d.%d", stage+1, block)
			stride := 1
			if stage > 0 && block == 0 {
				stride = 2
			}
			if out, err = b.basicBlock(out, prefix, inC, outC, stride); err != nil {
				return nil, err
			}
			inC = outC
		}
	}

	// Global average pool over the spatial axes.
	pooled, err := gorgonia.Mean(out, 2, 3)
	if err != nil {
		return nil, fmt.Errorf("global pool: %w", err)
	}
	return pooled, nil
}

// head wires the classification head on top of pooled features. Dropout is
// present only in training graphs; evaluation graphs pass activations
// through unchanged.
func (b *graphBuilder) head(features *gorgonia.Node, dropout float64, training bool) (*gorgonia.Node, error) {
	w1, err := b.node("head.fc1.weight")
	if err != nil {
		return nil, err
	}
	b1, err := b.node("head.fc1.bias")
	if err != nil {
		return nil, err
	}

	h, err := gorgonia.Mul(features, w1)
	if err != nil {
		return nil, fmt.Errorf("fc1: %w", err)
	}
	if h, err = gorgonia.BroadcastAdd(h, b1, nil, []byte{0}); err != nil {
		return nil, fmt.Errorf("fc1 bias: %w", err)
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, fmt.Errorf("fc1 relu: %w", err)
	}

	if training && dropout > 0 {
		if h, err = gorgonia.Dropout(h, dropout); err != nil {
			return nil, fmt.Errorf("dropout: %w", err)
		}
	}

	w2, err := b.node("head.fc2.weight")
	if err != nil {
		return nil, err
	}
	b2, err := b.node("head.fc2.bias")
	if err != nil {
		return nil, err
	}

	logits, err := gorgonia.Mul(h, w2)
	if err != nil {
		return nil, fmt.Errorf("fc2: %w", err)
	}
	if logits, err = gorgonia.BroadcastAdd(logits, b2, nil, []byte{0}); err != nil {
		return nil, fmt.Errorf("fc2 bias: %w", err)
	}
	return logits, nil
}
