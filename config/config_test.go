package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BatchSize != 32 {
		t.Errorf("Expected default batch size 32, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate != 0.001 {
		t.Errorf("Expected default learning rate 0.001, got %g", cfg.LearningRate)
	}
	if cfg.Epochs != 10 {
		t.Errorf("Expected default epochs 10, got %d", cfg.Epochs)
	}
	if cfg.Dataset != "natural_images" {
		t.Errorf("Expected default dataset natural_images, got %q", cfg.Dataset)
	}
	if cfg.Dropout != 0.5 {
		t.Errorf("Expected default dropout 0.5, got %g", cfg.Dropout)
	}
	if cfg.RotationDegrees != 10 {
		t.Errorf("Expected default rotation 10 degrees, got %g", cfg.RotationDegrees)
	}
	if cfg.TrainRatio != 0.70 || cfg.ValRatio != 0.15 {
		t.Errorf("Expected 70/15 split, got %g/%g", cfg.TrainRatio, cfg.ValRatio)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	content := "data_root: " + dir + "\nbatch_size: 16\nepochs: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BatchSize != 16 {
		t.Errorf("Expected batch size 16 from file, got %d", cfg.BatchSize)
	}
	if cfg.Epochs != 5 {
		t.Errorf("Expected epochs 5 from file, got %d", cfg.Epochs)
	}
	// Untouched keys keep defaults.
	if cfg.LearningRate != 0.001 {
		t.Errorf("Expected default learning rate, got %g", cfg.LearningRate)
	}
	if cfg.Optimizer != "adam" {
		t.Errorf("Expected default optimizer adam, got %q", cfg.Optimizer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		DataRoot:  "/data/natural_images",
		BatchSize: 8,
		Epochs:    1,
		Seed:      7,
	})

	if cfg.DataRoot != "/data/natural_images" {
		t.Errorf("Expected data root override, got %q", cfg.DataRoot)
	}
	if cfg.BatchSize != 8 {
		t.Errorf("Expected batch size 8, got %d", cfg.BatchSize)
	}
	if cfg.Epochs != 1 {
		t.Errorf("Expected epochs 1, got %d", cfg.Epochs)
	}
	if cfg.Seed != 7 {
		t.Errorf("Expected seed 7, got %d", cfg.Seed)
	}
	// Zero values leave the config alone.
	if cfg.LearningRate != 0.001 {
		t.Errorf("Zero override changed learning rate to %g", cfg.LearningRate)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	valid := func() *Config {
		cfg := Default()
		cfg.DataRoot = dir
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing data root", func(c *Config) { c.DataRoot = "" }, "data_root"},
		{"data root not a dir", func(c *Config) { c.DataRoot = filepath.Join(dir, "missing") }, "not a directory"},
		{"bad split sum", func(c *Config) { c.TrainRatio = 0.9; c.ValRatio = 0.2 }, "split ratios"},
		{"zero val ratio", func(c *Config) { c.ValRatio = 0 }, "split ratios"},
		{"one class", func(c *Config) { c.NumClasses = 1 }, "num_classes"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }, "epochs"},
		{"negative lr", func(c *Config) { c.LearningRate = -1 }, "learning_rate"},
		{"dropout of one", func(c *Config) { c.Dropout = 1 }, "dropout"},
		{"bad flip prob", func(c *Config) { c.FlipProb = 1.5 }, "flip_prob"},
		{"unknown dataset", func(c *Config) { c.Dataset = "cifar" }, "dataset"},
		{"unknown optimizer", func(c *Config) { c.Optimizer = "lion" }, "optimizer"},
		{"unknown scheduler", func(c *Config) { c.Scheduler = "triangular" }, "scheduler"},
	}

	for _, test := range tests {
		cfg := valid()
		test.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error", test.name)
			continue
		}
		if !strings.Contains(err.Error(), test.wantErr) {
			t.Errorf("%s: error %q does not mention %q", test.name, err, test.wantErr)
		}
	}
}

func TestValidateFillsRunDefaults(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = t.TempDir()
	cfg.NumWorkers = 0
	cfg.LogEvery = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.NumWorkers != 1 {
		t.Errorf("Expected num workers fallback 1, got %d", cfg.NumWorkers)
	}
	if cfg.LogEvery != 20 {
		t.Errorf("Expected log every fallback 20, got %d", cfg.LogEvery)
	}
}
