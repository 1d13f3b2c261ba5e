package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "image/jpeg"
	_ "image/png"
)

// ImageNet per-channel normalization constants, matching the statistics the
// backbone was pretrained with.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform converts a decoded image into normalized CHW float32 data.
type Transform interface {
	Apply(img image.Image) []float32
	// OutputLen returns the length of the slice Apply produces.
	OutputLen() int
}

// Decode reads and decodes an image in any registered format (JPEG, PNG, BMP).
func Decode(reader io.Reader) (image.Image, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// DecodeFile opens and decodes a single image file.
func DecodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Resize scales an image to size x size with bilinear resampling.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// HorizontalFlip mirrors an image around its vertical axis.
func HorizontalFlip(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.SetRGBA(x, y, img.RGBAAt(bounds.Min.X+width-1-x, bounds.Min.Y+y))
		}
	}
	return dst
}

// Rotate rotates an image by the given angle (degrees, counter-clockwise)
// around its center, sampling bilinearly. Pixels mapped from outside the
// source are filled with black, matching the reference pipeline.
func Rotate(img *image.RGBA, degrees float64) *image.RGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	theta := degrees * math.Pi / 180
	sin, cos := math.Sincos(theta)
	cx := float64(width-1) / 2
	cy := float64(height-1) / 2

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Inverse mapping: where in the source does this pixel come from?
			dx := float64(x) - cx
			dy := float64(y) - cy
			srcX := cx + dx*cos + dy*sin
			srcY := cy - dx*sin + dy*cos

			dst.SetRGBA(x, y, sampleBilinear(img, srcX, srcY))
		}
	}
	return dst
}

func sampleBilinear(img *image.RGBA, x, y float64) color.RGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	var r, g, b, a float64
	for _, corner := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	} {
		px := x0 + corner.dx
		py := y0 + corner.dy
		if px < 0 || px >= width || py < 0 || py >= height {
			continue // out of bounds contributes black
		}
		c := img.RGBAAt(bounds.Min.X+px, bounds.Min.Y+py)
		r += float64(c.R) * corner.w
		g += float64(c.G) * corner.w
		b += float64(c.B) * corner.w
		a += float64(c.A) * corner.w
	}

	return color.RGBA{
		R: uint8(math.Round(r)),
		G: uint8(math.Round(g)),
		B: uint8(math.Round(b)),
		A: uint8(math.Round(a)),
	}
}

// ToTensor converts an RGBA image to CHW float32 data scaled to [0, 1].
func ToTensor(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			idx := y*width + x
			data[idx] = float32(c.R) / 255.0
			data[plane+idx] = float32(c.G) / 255.0
			data[2*plane+idx] = float32(c.B) / 255.0
		}
	}
	return data
}

// Normalize applies the per-channel affine transform (v - mean) / std in
// place and returns the slice. The data must be CHW with three channels.
func Normalize(data []float32, mean, std [3]float32) []float32 {
	plane := len(data) / 3
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			data[c*plane+i] = (data[c*plane+i] - mean[c]) / std[c]
		}
	}
	return data
}

// Denormalize inverts Normalize in place and returns the slice.
func Denormalize(data []float32, mean, std [3]float32) []float32 {
	plane := len(data) / 3
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			data[c*plane+i] = data[c*plane+i]*std[c] + mean[c]
		}
	}
	return data
}

// TrainTransform resizes, augments and normalizes training samples.
// Augmentation draws fresh randomness for every sample, so the same image
// is perturbed differently on every epoch.
type TrainTransform struct {
	Size            int
	FlipProb        float64
	RotationDegrees float64
	rng             *rand.Rand
}

// NewTrainTransform creates the stochastic training-side transform.
func NewTrainTransform(size int, flipProb, rotationDegrees float64, seed int64) *TrainTransform {
	return &TrainTransform{
		Size:            size,
		FlipProb:        flipProb,
		RotationDegrees: rotationDegrees,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Apply implements Transform.
func (t *TrainTransform) Apply(img image.Image) []float32 {
	resized := Resize(img, t.Size)

	if t.FlipProb > 0 && t.rng.Float64() < t.FlipProb {
		resized = HorizontalFlip(resized)
	}
	if t.RotationDegrees > 0 {
		degrees := (t.rng.Float64()*2 - 1) * t.RotationDegrees
		resized = Rotate(resized, degrees)
	}

	return Normalize(ToTensor(resized), ImageNetMean, ImageNetStd)
}

// OutputLen implements Transform.
func (t *TrainTransform) OutputLen() int {
	return 3 * t.Size * t.Size
}

// EvalTransform resizes and normalizes without any stochastic augmentation,
// so validation and test inputs are deterministic.
type EvalTransform struct {
	Size int
}

// NewEvalTransform creates the deterministic evaluation-side transform.
func NewEvalTransform(size int) *EvalTransform {
	return &EvalTransform{Size: size}
}

// Apply implements Transform.
func (t *EvalTransform) Apply(img image.Image) []float32 {
	return Normalize(ToTensor(Resize(img, t.Size)), ImageNetMean, ImageNetStd)
}

// OutputLen implements Transform.
func (t *EvalTransform) OutputLen() int {
	return 3 * t.Size * t.Size
}
