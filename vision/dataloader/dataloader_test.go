package dataloader

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-vision/vision/dataset"
	"github.com/tsawler/go-vision/vision/preprocessing"
)

// writeTestImage writes a small valid PNG.
func writeTestImage(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// buildDataset creates a class-per-folder tree of valid PNGs and loads it.
func buildDataset(t *testing.T, classes []string, imagesPerClass int) *dataset.ImageFolderDataset {
	t.Helper()
	root := t.TempDir()
	for ci, className := range classes {
		classDir := filepath.Join(root, className)
		if err := os.MkdirAll(classDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for i := 0; i < imagesPerClass; i++ {
			writeTestImage(t, filepath.Join(classDir, fmt.Sprintf("img_%d.png", i)), uint8(ci*40+i))
		}
	}
	ds, err := dataset.NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("load dataset: %v", err)
	}
	return ds
}

func drainEpoch(t *testing.T, l *Loader) []*Batch {
	t.Helper()
	var batches []*Batch
	for {
		batch, err := l.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			return batches
		}
		batches = append(batches, batch)
	}
}

func TestLoaderFullEpoch(t *testing.T) {
	ds := buildDataset(t, []string{"cat", "dog"}, 8)
	transform := preprocessing.NewEvalTransform(16)

	loader, err := New(ds, transform, Options{BatchSize: 4, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if loader.Batches() != 4 {
		t.Errorf("Expected 4 batches, got %d", loader.Batches())
	}

	batches := drainEpoch(t, loader)
	if len(batches) != 4 {
		t.Fatalf("Expected 4 batches, got %d", len(batches))
	}

	total := 0
	for _, batch := range batches {
		if len(batch.Data) != 4*transform.OutputLen() {
			t.Errorf("Batch data length %d, expected %d", len(batch.Data), 4*transform.OutputLen())
		}
		if len(batch.Labels) != 4 {
			t.Errorf("Batch labels length %d, expected 4", len(batch.Labels))
		}
		total += batch.Size
	}
	if total != 16 {
		t.Errorf("Epoch covered %d samples, expected 16", total)
	}
}

func TestLoaderRestartable(t *testing.T) {
	ds := buildDataset(t, []string{"cat"}, 6)
	loader, err := New(ds, preprocessing.NewEvalTransform(16), Options{BatchSize: 3, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := drainEpoch(t, loader)
	if batch, _ := loader.Next(); batch != nil {
		t.Error("Expected exhausted loader to keep returning nil")
	}

	loader.Reset()
	second := drainEpoch(t, loader)
	if len(first) != len(second) {
		t.Errorf("Epochs yielded different batch counts: %d vs %d", len(first), len(second))
	}
}

func TestLoaderShuffleChangesOrder(t *testing.T) {
	ds := buildDataset(t, []string{"cat", "dog", "fox"}, 10)
	loader, err := New(ds, preprocessing.NewEvalTransform(8), Options{BatchSize: 30, Shuffle: true, Seed: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	batch1, err := loader.Next()
	if err != nil || batch1 == nil {
		t.Fatalf("Next failed: %v", err)
	}
	labels1 := append([]int(nil), batch1.Labels...)

	loader.Reset()
	batch2, err := loader.Next()
	if err != nil || batch2 == nil {
		t.Fatalf("Next failed: %v", err)
	}

	same := true
	for i := range labels1 {
		if labels1[i] != batch2.Labels[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected reshuffled epoch to change sample order")
	}
}

func TestLoaderDropLast(t *testing.T) {
	ds := buildDataset(t, []string{"cat"}, 10)
	loader, err := New(ds, preprocessing.NewEvalTransform(8), Options{BatchSize: 4, DropLast: true, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if loader.Batches() != 2 {
		t.Errorf("Expected 2 full batches, got %d", loader.Batches())
	}
	batches := drainEpoch(t, loader)
	if len(batches) != 2 {
		t.Fatalf("Expected trailing partial batch to be dropped, got %d batches", len(batches))
	}
	for _, batch := range batches {
		if batch.Size != 4 {
			t.Errorf("Expected full batch of 4, got %d", batch.Size)
		}
	}
}

func TestLoaderPadsFinalBatch(t *testing.T) {
	ds := buildDataset(t, []string{"cat"}, 10)
	transform := preprocessing.NewEvalTransform(8)
	loader, err := New(ds, transform, Options{BatchSize: 4, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	batches := drainEpoch(t, loader)
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}

	last := batches[2]
	if last.Size != 2 {
		t.Errorf("Expected final batch Size 2, got %d", last.Size)
	}
	// Padding repeats real samples, keeping the data buffer full shape.
	sampleLen := transform.OutputLen()
	if len(last.Data) != 4*sampleLen {
		t.Errorf("Padded batch data length %d, expected %d", len(last.Data), 4*sampleLen)
	}
	for i := 0; i < sampleLen; i++ {
		if last.Data[2*sampleLen+i] != last.Data[i] {
			t.Fatalf("Padding slot 2 does not repeat sample 0 at offset %d", i)
		}
	}
}

func TestLoaderSkipsCorruptImages(t *testing.T) {
	root := t.TempDir()
	classDir := filepath.Join(root, "cat")
	if err := os.MkdirAll(classDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < 5; i++ {
		writeTestImage(t, filepath.Join(classDir, fmt.Sprintf("ok_%d.png", i)), uint8(i*20))
	}
	if err := os.WriteFile(filepath.Join(classDir, "broken.png"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write corrupt image: %v", err)
	}

	ds, err := dataset.NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("load dataset: %v", err)
	}

	loader, err := New(ds, preprocessing.NewEvalTransform(8), Options{BatchSize: 3, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	total := 0
	for _, batch := range drainEpoch(t, loader) {
		total += batch.Size
	}
	if total != 5 {
		t.Errorf("Expected 5 decodable samples, got %d", total)
	}
	if loader.Skipped() != 1 {
		t.Errorf("Expected 1 skipped sample, got %d", loader.Skipped())
	}
}

func TestLoaderAllCorruptFails(t *testing.T) {
	root := t.TempDir()
	classDir := filepath.Join(root, "cat")
	if err := os.MkdirAll(classDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < 4; i++ {
		path := filepath.Join(classDir, fmt.Sprintf("broken_%d.jpg", i))
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatalf("write corrupt image: %v", err)
		}
	}

	ds, err := dataset.NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("load dataset: %v", err)
	}

	loader, err := New(ds, preprocessing.NewEvalTransform(8), Options{BatchSize: 4, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := loader.Next(); err == nil {
		t.Error("Expected error when every sample in a batch fails to load")
	}
}

func TestLoaderValidation(t *testing.T) {
	ds := buildDataset(t, []string{"cat"}, 2)

	if _, err := New(ds, preprocessing.NewEvalTransform(8), Options{BatchSize: 0}); err == nil {
		t.Error("Expected error for zero batch size")
	}
	if _, err := New(ds, nil, Options{BatchSize: 2}); err == nil {
		t.Error("Expected error for nil transform")
	}
}
