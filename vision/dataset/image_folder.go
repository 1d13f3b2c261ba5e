package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the image file extensions scanned by default.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class. Class indices follow the
// sorted order of the class directory names, so the same tree always
// produces the same labelling.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewImageFolderDataset creates a dataset from a directory structure.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes in %s: %w", root, err)
	}

	var classNames []string
	for _, entry := range entries {
		if entry.IsDir() {
			classNames = append(classNames, entry.Name())
		}
	}
	sort.Strings(classNames)

	dataset := &ImageFolderDataset{
		classNames: classNames,
		classToIdx: make(map[string]int, len(classNames)),
	}

	for classIdx, className := range classNames {
		dataset.classToIdx[className] = classIdx

		classDir := filepath.Join(root, className)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", classDir, err)
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
		sort.Strings(names)

		for _, name := range names {
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(classDir, name))
			dataset.labels = append(dataset.labels, classIdx)
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of items in the dataset.
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index.
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes.
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names.
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the distribution of samples per class.
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Split3 partitions the dataset into train, validation and test sets.
// The partition is disjoint: every sample lands in exactly one split, and
// the three sizes sum to Len(). Shuffling is driven by the seed, so the
// same (dataset, ratios, seed) triple always yields the same partition.
func (d *ImageFolderDataset) Split3(trainRatio, valRatio float64, seed int64) (train, val, test *ImageFolderDataset, err error) {
	if trainRatio <= 0 || valRatio <= 0 || trainRatio+valRatio >= 1 {
		return nil, nil, nil, fmt.Errorf("invalid split ratios train=%.2f val=%.2f", trainRatio, valRatio)
	}

	n := len(d.imagePaths)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	trainSize := int(float64(n) * trainRatio)
	valSize := int(float64(n) * valRatio)

	train = d.Subset(indices[:trainSize])
	val = d.Subset(indices[trainSize : trainSize+valSize])
	test = d.Subset(indices[trainSize+valSize:])
	return train, val, test, nil
}

// Subset creates a subset of the dataset with the specified indices.
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
	}

	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset
}

// String returns a string representation of the dataset.
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}

	return sb.String()
}
