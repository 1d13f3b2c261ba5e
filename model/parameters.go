package model

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Parameters is a named, ordered store of model weight tensors. The store
// owns the backing arrays; graphs built from it bind nodes to the same
// backing, so an optimizer step through one graph is visible to every other
// graph built from the store.
type Parameters struct {
	order     []string
	tensors   map[string]*tensor.Dense
	trainable map[string]bool
}

// NewParameters creates an empty parameter store.
func NewParameters() *Parameters {
	return &Parameters{
		tensors:   make(map[string]*tensor.Dense),
		trainable: make(map[string]bool),
	}
}

// Add registers a tensor under name. Registering a duplicate name panics:
// it is always a programming error in the model definition.
func (p *Parameters) Add(name string, t *tensor.Dense, trainable bool) {
	if _, exists := p.tensors[name]; exists {
		panic(fmt.Sprintf("duplicate parameter %q", name))
	}
	p.order = append(p.order, name)
	p.tensors[name] = t
	p.trainable[name] = trainable
}

// Get returns the tensor registered under name.
func (p *Parameters) Get(name string) (*tensor.Dense, bool) {
	t, ok := p.tensors[name]
	return t, ok
}

// Names returns parameter names in registration order.
func (p *Parameters) Names() []string {
	return append([]string(nil), p.order...)
}

// Trainable reports whether the named parameter receives gradient updates.
func (p *Parameters) Trainable(name string) bool {
	return p.trainable[name]
}

// SetTrainable marks the named parameter as trainable or frozen.
func (p *Parameters) SetTrainable(name string, trainable bool) error {
	if _, ok := p.tensors[name]; !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	p.trainable[name] = trainable
	return nil
}

// Count returns the total number of scalar values in the store.
func (p *Parameters) Count() int64 {
	var total int64
	for _, name := range p.order {
		total += int64(p.tensors[name].Shape().TotalSize())
	}
	return total
}

// Data returns the float32 backing slice of the named parameter.
func (p *Parameters) Data(name string) ([]float32, error) {
	t, ok := p.tensors[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("parameter %q is not float32", name)
	}
	return data, nil
}

// SetData overwrites the named parameter with values, which must match the
// registered shape exactly.
func (p *Parameters) SetData(name string, values []float32) error {
	t, ok := p.tensors[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	backing, ok := t.Data().([]float32)
	if !ok {
		return fmt.Errorf("parameter %q is not float32", name)
	}
	if len(backing) != len(values) {
		return fmt.Errorf("parameter %q: expected %d values, got %d", name, len(backing), len(values))
	}
	copy(backing, values)
	return nil
}

// Shape returns the shape of the named parameter.
func (p *Parameters) Shape(name string) ([]int, error) {
	t, ok := p.tensors[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	return []int(t.Shape()), nil
}

// initializer produces seeded weight initializations. Convolutions use He
// normal initialization, dense layers Glorot uniform; both standard for
// ReLU networks.
type initializer struct {
	rng *rand.Rand
}

func newInitializer(seed int64) *initializer {
	return &initializer{rng: rand.New(rand.NewSource(seed))}
}

// heNormal draws from N(0, sqrt(2/fanIn)).
func (init *initializer) heNormal(fanIn int, shape ...int) *tensor.Dense {
	std := math.Sqrt(2.0 / float64(fanIn))
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = float32(init.rng.NormFloat64() * std)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// glorotUniform draws from U(-limit, limit) with limit = sqrt(6/(fanIn+fanOut)).
func (init *initializer) glorotUniform(fanIn, fanOut int, shape ...int) *tensor.Dense {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = float32((init.rng.Float64()*2 - 1) * limit)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func constant(value float32, shape ...int) *tensor.Dense {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = value
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
