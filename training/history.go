package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EpochStats records one completed epoch.
type EpochStats struct {
	Epoch        int           `json:"epoch"`
	TrainLoss    float64       `json:"train_loss"`
	TrainAcc     float64       `json:"train_acc"`
	ValLoss      float64       `json:"val_loss"`
	ValAcc       float64       `json:"val_acc"`
	LearningRate float64       `json:"learning_rate"`
	Duration     time.Duration `json:"duration_ns"`
	Skipped      int           `json:"skipped_samples,omitempty"`
}

// History accumulates per-epoch statistics across a training run.
type History struct {
	Epochs []EpochStats `json:"epochs"`
}

// Append records one epoch.
func (h *History) Append(stats EpochStats) {
	h.Epochs = append(h.Epochs, stats)
}

// Best returns the epoch with the highest validation accuracy, or false when
// the history is empty.
func (h *History) Best() (EpochStats, bool) {
	if len(h.Epochs) == 0 {
		return EpochStats{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValAcc > best.ValAcc {
			best = e
		}
	}
	return best, true
}

// Save writes the history as JSON.
func (h *History) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// LoadHistory reads a history file written by Save.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return &h, nil
}
