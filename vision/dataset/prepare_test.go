package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return count
}

func TestPrepareSplits(t *testing.T) {
	sourceDir := createTestDataset(t, []string{"cat", "dog"}, 20)
	destDir := t.TempDir()

	opts := PrepareOptions{TrainRatio: 0.70, ValRatio: 0.15, Seed: 42}
	if err := PrepareSplits(sourceDir, destDir, opts); err != nil {
		t.Fatalf("PrepareSplits failed: %v", err)
	}

	train := countFiles(t, filepath.Join(destDir, "train"))
	val := countFiles(t, filepath.Join(destDir, "val"))
	test := countFiles(t, filepath.Join(destDir, "test"))

	if train != 28 { // 14 per class
		t.Errorf("Expected 28 training files, got %d", train)
	}
	if val != 6 { // 3 per class
		t.Errorf("Expected 6 validation files, got %d", val)
	}
	if test != 6 {
		t.Errorf("Expected 6 test files, got %d", test)
	}
	if train+val+test != 40 {
		t.Errorf("Splits total %d files, expected 40", train+val+test)
	}

	// The split trees must load as datasets with the same classes.
	trainSet, err := NewImageFolderDataset(filepath.Join(destDir, "train"), nil)
	if err != nil {
		t.Fatalf("Failed to load prepared train split: %v", err)
	}
	if trainSet.NumClasses() != 2 {
		t.Errorf("Expected 2 classes in prepared train split, got %d", trainSet.NumClasses())
	}

	// No file may land in two splits.
	seen := make(map[string]bool)
	for _, split := range []string{"train", "val", "test"} {
		root := filepath.Join(destDir, split)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if seen[rel] {
				t.Errorf("File %s appears in more than one split", rel)
			}
			seen[rel] = true
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", root, err)
		}
	}
}

func TestPrepareSplitsInvalidRatios(t *testing.T) {
	sourceDir := createTestDataset(t, []string{"cat"}, 4)
	err := PrepareSplits(sourceDir, t.TempDir(), PrepareOptions{TrainRatio: 0.9, ValRatio: 0.2, Seed: 1})
	if err == nil {
		t.Error("Expected error for invalid ratios")
	}
}

func TestPrepareSplitsMissingSource(t *testing.T) {
	err := PrepareSplits(filepath.Join(t.TempDir(), "missing"), t.TempDir(),
		PrepareOptions{TrainRatio: 0.7, ValRatio: 0.15, Seed: 1})
	if err == nil {
		t.Error("Expected error for missing source directory")
	}
}
