package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"testing"
)

// testImage builds a small gradient image so resampling has structure to work on.
func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(width-1, 1)),
				G: uint8(y * 255 / max(height-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(10, 10)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	img, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 10 {
		t.Errorf("Expected 10x10 image, got %v", img.Bounds())
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Expected error for corrupt data")
	}
}

func TestResize(t *testing.T) {
	resized := Resize(testImage(100, 60), 224)
	if resized.Bounds().Dx() != 224 || resized.Bounds().Dy() != 224 {
		t.Errorf("Expected 224x224, got %v", resized.Bounds())
	}
}

func TestHorizontalFlip(t *testing.T) {
	img := testImage(8, 4)
	flipped := HorizontalFlip(img)

	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			want := img.RGBAAt(7-x, y)
			got := flipped.RGBAAt(x, y)
			if want != got {
				t.Fatalf("Pixel (%d,%d): expected %v, got %v", x, y, want, got)
			}
		}
	}

	// Flipping twice restores the original.
	restored := HorizontalFlip(flipped)
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			if img.RGBAAt(x, y) != restored.RGBAAt(x, y) {
				t.Fatalf("Double flip changed pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestRotateZeroIsIdentity(t *testing.T) {
	img := testImage(16, 16)
	rotated := Rotate(img, 0)

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if img.RGBAAt(x, y) != rotated.RGBAAt(x, y) {
				t.Fatalf("Zero rotation changed pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestRotatePreservesSize(t *testing.T) {
	rotated := Rotate(testImage(20, 20), 10)
	if rotated.Bounds().Dx() != 20 || rotated.Bounds().Dy() != 20 {
		t.Errorf("Rotation changed image size: %v", rotated.Bounds())
	}
}

func TestToTensorRange(t *testing.T) {
	data := ToTensor(testImage(4, 4))
	if len(data) != 3*4*4 {
		t.Fatalf("Expected 48 values, got %d", len(data))
	}
	for i, v := range data {
		if v < 0 || v > 1 {
			t.Errorf("Value %d out of [0,1]: %g", i, v)
		}
	}
	// Blue channel is constant 128/255.
	plane := 16
	for i := 0; i < plane; i++ {
		if math.Abs(float64(data[2*plane+i])-128.0/255.0) > 1e-6 {
			t.Errorf("Blue channel value %d: expected %g, got %g", i, 128.0/255.0, data[2*plane+i])
		}
	}
}

// TestNormalizeDenormalize checks that normalization is an invertible
// affine transform.
func TestNormalizeDenormalize(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	original := make([]float32, 3*8*8)
	for i := range original {
		original[i] = rng.Float32()
	}

	data := make([]float32, len(original))
	copy(data, original)

	Normalize(data, ImageNetMean, ImageNetStd)
	Denormalize(data, ImageNetMean, ImageNetStd)

	for i := range original {
		if diff := math.Abs(float64(original[i] - data[i])); diff > 1e-6 {
			t.Fatalf("Value %d not restored: %g vs %g (diff %g)", i, original[i], data[i], diff)
		}
	}
}

func TestNormalizeShiftsMean(t *testing.T) {
	// A tensor equal to the channel means must normalize to all zeros.
	plane := 4
	data := make([]float32, 3*plane)
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			data[c*plane+i] = ImageNetMean[c]
		}
	}
	Normalize(data, ImageNetMean, ImageNetStd)
	for i, v := range data {
		if math.Abs(float64(v)) > 1e-6 {
			t.Errorf("Value %d: expected 0, got %g", i, v)
		}
	}
}

func TestEvalTransformDeterministic(t *testing.T) {
	tr := NewEvalTransform(32)
	img := testImage(50, 40)

	a := tr.Apply(img)
	b := tr.Apply(img)

	if len(a) != tr.OutputLen() {
		t.Fatalf("Expected %d values, got %d", tr.OutputLen(), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Eval transform is not deterministic at index %d", i)
		}
	}
}

func TestTrainTransformSeeded(t *testing.T) {
	img := testImage(50, 40)

	a := NewTrainTransform(32, 0.5, 10, 7).Apply(img)
	b := NewTrainTransform(32, 0.5, 10, 7).Apply(img)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Same seed produced different augmentation at index %d", i)
		}
	}
}

func TestTrainTransformResamplesPerCall(t *testing.T) {
	// With rotation enabled, consecutive samples from one transform should
	// almost surely differ: the angle is redrawn every call.
	tr := NewTrainTransform(32, 0, 10, 7)
	img := testImage(50, 40)

	a := tr.Apply(img)
	b := tr.Apply(img)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected different augmentations across consecutive calls")
	}
}
