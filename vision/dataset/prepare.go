package dataset

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PrepareOptions controls how PrepareSplits materialises a dataset on disk.
type PrepareOptions struct {
	TrainRatio float64
	ValRatio   float64
	Seed       int64
}

// PrepareSplits copies a raw class-per-folder tree into train/, val/ and
// test/ trees under destDir, preserving the class structure. Files are
// shuffled per class under the seed before the cut, so the split is
// reproducible. Each source file is copied into exactly one split.
func PrepareSplits(sourceDir, destDir string, opts PrepareOptions) error {
	if opts.TrainRatio <= 0 || opts.ValRatio <= 0 || opts.TrainRatio+opts.ValRatio >= 1 {
		return fmt.Errorf("invalid split ratios train=%.2f val=%.2f", opts.TrainRatio, opts.ValRatio)
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to read source directory %s: %w", sourceDir, err)
	}

	trainDir := filepath.Join(destDir, "train")
	valDir := filepath.Join(destDir, "val")
	testDir := filepath.Join(destDir, "test")
	for _, dir := range []string{trainDir, valDir, testDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	extSet := make(map[string]bool, len(DefaultExtensions))
	for _, ext := range DefaultExtensions {
		extSet[ext] = true
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		className := entry.Name()
		classDir := filepath.Join(sourceDir, className)

		files, err := os.ReadDir(classDir)
		if err != nil {
			return fmt.Errorf("failed to read class directory %s: %w", classDir, err)
		}

		var names []string
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if extSet[strings.ToLower(filepath.Ext(file.Name()))] {
				names = append(names, file.Name())
			}
		}
		if len(names) == 0 {
			log.Printf("warning: no images found in class %s, skipping", className)
			continue
		}
		sort.Strings(names)
		rng.Shuffle(len(names), func(i, j int) {
			names[i], names[j] = names[j], names[i]
		})

		nTrain := int(float64(len(names)) * opts.TrainRatio)
		nVal := int(float64(len(names)) * opts.ValRatio)

		splits := []struct {
			dest  string
			files []string
		}{
			{trainDir, names[:nTrain]},
			{valDir, names[nTrain : nTrain+nVal]},
			{testDir, names[nTrain+nVal:]},
		}

		for _, split := range splits {
			classDest := filepath.Join(split.dest, className)
			if err := os.MkdirAll(classDest, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", classDest, err)
			}
			for _, name := range split.files {
				src := filepath.Join(classDir, name)
				dst := filepath.Join(classDest, name)
				if err := copyFile(src, dst); err != nil {
					return fmt.Errorf("failed to copy %s: %w", src, err)
				}
			}
		}

		log.Printf("%s: %d train, %d val, %d test", className,
			nTrain, nVal, len(names)-nTrain-nVal)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
