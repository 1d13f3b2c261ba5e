// Package checkpoints saves and restores classifier weights and training
// state as JSON snapshots. The same format carries converted pretrained
// backbone weights and fine-tuned checkpoints.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsawler/go-vision/model"
)

// FormatVersion identifies the snapshot layout. Loaders reject versions they
// do not know.
const FormatVersion = "1.0"

// Checkpoint is a complete serialized model: every parameter tensor plus the
// training progress that produced it.
type Checkpoint struct {
	Metadata Metadata       `json:"metadata"`
	Weights  []WeightTensor `json:"weights"`

	// TrainingState is absent on converted backbone snapshots.
	TrainingState *TrainingState `json:"training_state,omitempty"`
}

// WeightTensor is one named parameter with its shape and flattened data.
type WeightTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	Trainable bool      `json:"trainable"`
}

// TrainingState captures where a training run stood when the checkpoint was
// written.
type TrainingState struct {
	Epoch           int     `json:"epoch"`
	LearningRate    float64 `json:"learning_rate"`
	Optimizer       string  `json:"optimizer"`
	BestValAccuracy float64 `json:"best_val_accuracy"`
}

// Metadata describes the model the weights belong to.
type Metadata struct {
	Version     string    `json:"version"`
	NumClasses  int       `json:"num_classes"`
	ImageSize   int       `json:"image_size"`
	ClassNames  []string  `json:"class_names,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// FromModel snapshots every parameter of the classifier.
func FromModel(clf *model.Classifier, classNames []string, state *TrainingState) (*Checkpoint, error) {
	params := clf.Parameters()
	weights := make([]WeightTensor, 0, len(params.Names()))
	for _, name := range params.Names() {
		data, err := params.Data(name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		shape, err := params.Shape(name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		weights = append(weights, WeightTensor{
			Name:      name,
			Shape:     shape,
			Data:      append([]float32(nil), data...),
			Trainable: params.Trainable(name),
		})
	}

	cfg := clf.Config()
	return &Checkpoint{
		Metadata: Metadata{
			Version:    FormatVersion,
			NumClasses: cfg.NumClasses,
			ImageSize:  cfg.ImageSize,
			ClassNames: classNames,
			CreatedAt:  time.Now().UTC(),
		},
		Weights:       weights,
		TrainingState: state,
	}, nil
}

// Apply loads every checkpoint tensor into the classifier. All names must
// resolve and all shapes must match.
func (cp *Checkpoint) Apply(clf *model.Classifier) error {
	params := clf.Parameters()
	for _, w := range cp.Weights {
		if err := applyTensor(params, w); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBackbone loads only feature-extractor tensors, leaving the
// classification head untouched. Used to seed fine-tuning from a pretrained
// snapshot whose head does not match the task.
func (cp *Checkpoint) ApplyBackbone(clf *model.Classifier) (int, error) {
	params := clf.Parameters()
	loaded := 0
	for _, w := range cp.Weights {
		if !strings.HasPrefix(w.Name, "backbone.") {
			continue
		}
		if err := applyTensor(params, w); err != nil {
			return loaded, err
		}
		loaded++
	}
	if loaded == 0 {
		return 0, fmt.Errorf("checkpoint holds no backbone tensors")
	}
	return loaded, nil
}

func applyTensor(params *model.Parameters, w WeightTensor) error {
	shape, err := params.Shape(w.Name)
	if err != nil {
		return fmt.Errorf("load %s: %w", w.Name, err)
	}
	if !equalShape(shape, w.Shape) {
		return fmt.Errorf("load %s: shape mismatch, model %v vs checkpoint %v", w.Name, shape, w.Shape)
	}
	if err := params.SetData(w.Name, w.Data); err != nil {
		return fmt.Errorf("load %s: %w", w.Name, err)
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Save writes the checkpoint as JSON, creating parent directories as needed.
// The file is written to a temporary name first so a crash cannot leave a
// truncated checkpoint behind.
func Save(path string, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// Load reads a JSON checkpoint from disk.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if cp.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %q", path, cp.Metadata.Version)
	}
	if len(cp.Weights) == 0 {
		return nil, fmt.Errorf("checkpoint %s holds no weights", path)
	}
	return &cp, nil
}
