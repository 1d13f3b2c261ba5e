package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	// Data
	DataRoot string `yaml:"data_root"`
	// Dataset selects the loader: "natural_images" validates the tree
	// against the 8-class corpus, "folder" accepts any class-per-folder
	// layout.
	Dataset    string  `yaml:"dataset"`
	OutputDir  string  `yaml:"output_dir"`
	TrainRatio float64 `yaml:"train_ratio"`
	ValRatio   float64 `yaml:"val_ratio"`

	// Model
	NumClasses      int     `yaml:"num_classes"`
	ImageSize       int     `yaml:"image_size"`
	Dropout         float64 `yaml:"dropout"`
	FreezeBackbone  bool    `yaml:"freeze_backbone"`
	BackboneWeights string  `yaml:"backbone_weights"`

	// Optimization
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Optimizer    string  `yaml:"optimizer"`
	Scheduler    string  `yaml:"scheduler"`

	// Augmentation
	RotationDegrees float64 `yaml:"rotation_degrees"`
	FlipProb        float64 `yaml:"flip_prob"`

	// Run control
	Seed       int64 `yaml:"seed"`
	NumWorkers int   `yaml:"num_workers"`
	LogEvery   int   `yaml:"log_every"`
}

// Overrides captures CLI supplied values. Zero values mean "keep the
// config file / default value".
type Overrides struct {
	DataRoot        string
	OutputDir       string
	BatchSize       int
	Epochs          int
	LearningRate    float64
	Seed            int64
	NumWorkers      int
	FreezeBackbone  bool
	BackboneWeights string
}

// Default returns the configuration of the reference run: batch size 32,
// Adam at 1e-3, 10 epochs, dropout 0.5, +/-10 degree rotation, 70/15/15 split.
func Default() *Config {
	return &Config{
		Dataset:         "natural_images",
		OutputDir:       "output",
		TrainRatio:      0.70,
		ValRatio:        0.15,
		NumClasses:      8,
		ImageSize:       224,
		Dropout:         0.5,
		BatchSize:       32,
		Epochs:          10,
		LearningRate:    0.001,
		WeightDecay:     0.0,
		Optimizer:       "adam",
		Scheduler:       "constant",
		RotationDegrees: 10,
		FlipProb:        0.5,
		Seed:            42,
		NumWorkers:      4,
		LogEvery:        20,
	}
}

// Load reads a Config from YAML, layering the file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.FreezeBackbone {
		c.FreezeBackbone = true
	}
	if o.BackboneWeights != "" {
		c.BackboneWeights = o.BackboneWeights
	}
}

// Validate verifies the config is runnable. Invalid configuration is fatal
// at startup; nothing here is recovered from.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataRoot == "" {
		return errors.New("data_root must be set")
	}
	if info, err := os.Stat(c.DataRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("data_root %q is not a directory", c.DataRoot)
	}
	switch c.Dataset {
	case "natural_images", "folder":
	default:
		return fmt.Errorf("unknown dataset %q", c.Dataset)
	}
	if c.TrainRatio <= 0 || c.ValRatio <= 0 || c.TrainRatio+c.ValRatio >= 1 {
		return fmt.Errorf("split ratios must be positive and sum below 1 (train=%.2f val=%.2f)", c.TrainRatio, c.ValRatio)
	}
	if c.NumClasses <= 1 {
		return fmt.Errorf("num_classes must be > 1 (got %d)", c.NumClasses)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1) (got %.2f)", c.Dropout)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.RotationDegrees < 0 {
		return fmt.Errorf("rotation_degrees must be >= 0 (got %g)", c.RotationDegrees)
	}
	if c.FlipProb < 0 || c.FlipProb > 1 {
		return fmt.Errorf("flip_prob must be in [0, 1] (got %g)", c.FlipProb)
	}
	switch c.Optimizer {
	case "adam", "sgd", "rmsprop":
	default:
		return fmt.Errorf("unknown optimizer %q", c.Optimizer)
	}
	switch c.Scheduler {
	case "constant", "step", "exponential", "cosine":
	default:
		return fmt.Errorf("unknown scheduler %q", c.Scheduler)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 20
	}
	return nil
}
