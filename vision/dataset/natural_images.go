package dataset

import (
	"fmt"
)

// NaturalImagesClasses lists the eight categories of the natural images
// corpus in label order.
var NaturalImagesClasses = []string{
	"airplane", "car", "cat", "dog", "flower", "fruit", "motorbike", "person",
}

// NaturalImagesDataset is a specialized dataset for the 8-class natural
// images classification task.
type NaturalImagesDataset struct {
	*ImageFolderDataset
}

// NewNaturalImagesDataset creates a natural images dataset from the standard
// directory structure (one folder per category under dataDir). It tolerates
// missing categories but refuses trees with unexpected extra classes, which
// usually indicates the wrong directory was passed.
func NewNaturalImagesDataset(dataDir string) (*NaturalImagesDataset, error) {
	folder, err := NewImageFolderDataset(dataDir, nil)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(NaturalImagesClasses))
	for _, name := range NaturalImagesClasses {
		known[name] = true
	}
	for _, name := range folder.ClassNames() {
		if !known[name] {
			return nil, fmt.Errorf("unexpected class %q in %s (want a subset of %v)",
				name, dataDir, NaturalImagesClasses)
		}
	}

	return &NaturalImagesDataset{ImageFolderDataset: folder}, nil
}

// Summary returns a one-line summary of the dataset.
func (d *NaturalImagesDataset) Summary() string {
	return fmt.Sprintf("Natural Images Dataset: %d images across %d classes",
		d.Len(), d.NumClasses())
}
