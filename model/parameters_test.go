package model

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func TestParametersAddGet(t *testing.T) {
	p := NewParameters()
	dense := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(make([]float32, 6)))
	p.Add("w", dense, true)

	got, ok := p.Get("w")
	if !ok {
		t.Fatal("Expected to find parameter w")
	}
	if got != dense {
		t.Error("Get returned a different tensor")
	}
	if !p.Trainable("w") {
		t.Error("Expected w to be trainable")
	}

	if _, ok := p.Get("missing"); ok {
		t.Error("Expected lookup miss for unknown name")
	}
}

func TestParametersDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	p := NewParameters()
	dense := tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{0}))
	p.Add("w", dense, true)
	p.Add("w", dense, true)
}

func TestParametersDataRoundtrip(t *testing.T) {
	p := NewParameters()
	p.Add("b", tensor.New(tensor.WithShape(4), tensor.WithBacking(make([]float32, 4))), true)

	if err := p.SetData("b", []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	data, err := p.Data("b")
	if err != nil {
		t.Fatalf("Data failed: %v", err)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if data[i] != want {
			t.Errorf("Value %d: expected %g, got %g", i, want, data[i])
		}
	}

	if err := p.SetData("b", []float32{1}); err == nil {
		t.Error("Expected error for length mismatch")
	}
	if err := p.SetData("missing", nil); err == nil {
		t.Error("Expected error for unknown parameter")
	}
}

func TestParametersCountAndOrder(t *testing.T) {
	p := NewParameters()
	p.Add("a", tensor.New(tensor.WithShape(2, 2), tensor.WithBacking(make([]float32, 4))), true)
	p.Add("b", tensor.New(tensor.WithShape(3), tensor.WithBacking(make([]float32, 3))), false)

	if p.Count() != 7 {
		t.Errorf("Expected 7 values, got %d", p.Count())
	}
	names := p.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected registration order [a b], got %v", names)
	}
}

func TestSetTrainable(t *testing.T) {
	p := NewParameters()
	p.Add("w", tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{0})), false)

	if err := p.SetTrainable("w", true); err != nil {
		t.Fatalf("SetTrainable failed: %v", err)
	}
	if !p.Trainable("w") {
		t.Error("Expected w to become trainable")
	}
	if err := p.SetTrainable("missing", true); err == nil {
		t.Error("Expected error for unknown parameter")
	}
}

func TestInitializerSeeded(t *testing.T) {
	a := newInitializer(9).heNormal(27, 8, 3, 3, 3)
	b := newInitializer(9).heNormal(27, 8, 3, 3, 3)

	da := a.Data().([]float32)
	db := b.Data().([]float32)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("Same seed produced different init at %d", i)
		}
	}
}

func TestInitializerScales(t *testing.T) {
	fanIn := 3 * 7 * 7
	dense := newInitializer(1).heNormal(fanIn, 64, 3, 7, 7)
	data := dense.Data().([]float32)

	var sumSq float64
	for _, v := range data {
		sumSq += float64(v) * float64(v)
	}
	std := math.Sqrt(sumSq / float64(len(data)))
	want := math.Sqrt(2.0 / float64(fanIn))
	if std < want*0.8 || std > want*1.2 {
		t.Errorf("He init std %.4f far from expected %.4f", std, want)
	}

	limit := math.Sqrt(6.0 / float64(512+8))
	uni := newInitializer(1).glorotUniform(512, 8, 512, 8)
	for i, v := range uni.Data().([]float32) {
		if float64(v) < -limit || float64(v) > limit {
			t.Fatalf("Glorot value %d out of bounds: %g", i, v)
		}
	}
}
