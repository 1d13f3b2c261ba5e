package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// PlotSeries is one named line on a plot.
type PlotSeries struct {
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

// PlotData is the JSON payload for one line plot, consumable by an external
// plotting sidecar or any notebook.
type PlotData struct {
	Type   string       `json:"plot_type"`
	Title  string       `json:"title"`
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label"`
	Series []PlotSeries `json:"series"`
}

// HeatmapData is the JSON payload for a matrix plot.
type HeatmapData struct {
	Type   string   `json:"plot_type"`
	Title  string   `json:"title"`
	XLabel string   `json:"x_label"`
	YLabel string   `json:"y_label"`
	Labels []string `json:"labels"`
	Values [][]int  `json:"values"`
}

// Plotter writes training curves as JSON files and can optionally push them
// to a plotting sidecar over HTTP.
type Plotter struct {
	// OutputDir receives the JSON payload files.
	OutputDir string
	// SidecarURL, when set, receives each payload as a POST.
	SidecarURL string

	client *http.Client
}

// NewPlotter creates a plotter writing into outputDir. sidecarURL may be
// empty to disable pushing.
func NewPlotter(outputDir, sidecarURL string) *Plotter {
	return &Plotter{
		OutputDir:  outputDir,
		SidecarURL: sidecarURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// LossCurves builds the train/validation loss plot from a history.
func LossCurves(h *History) PlotData {
	plot := PlotData{Type: "training_curves", Title: "Loss", XLabel: "epoch", YLabel: "loss"}
	train := PlotSeries{Name: "train"}
	val := PlotSeries{Name: "validation"}
	for _, e := range h.Epochs {
		train.X = append(train.X, float64(e.Epoch))
		train.Y = append(train.Y, e.TrainLoss)
		val.X = append(val.X, float64(e.Epoch))
		val.Y = append(val.Y, e.ValLoss)
	}
	plot.Series = []PlotSeries{train, val}
	return plot
}

// AccuracyCurves builds the train/validation accuracy plot from a history.
func AccuracyCurves(h *History) PlotData {
	plot := PlotData{Type: "training_curves", Title: "Accuracy", XLabel: "epoch", YLabel: "accuracy"}
	train := PlotSeries{Name: "train"}
	val := PlotSeries{Name: "validation"}
	for _, e := range h.Epochs {
		train.X = append(train.X, float64(e.Epoch))
		train.Y = append(train.Y, e.TrainAcc)
		val.X = append(val.X, float64(e.Epoch))
		val.Y = append(val.Y, e.ValAcc)
	}
	plot.Series = []PlotSeries{train, val}
	return plot
}

// LearningRateSchedule builds the per-epoch learning rate plot from a
// history.
func LearningRateSchedule(h *History) PlotData {
	plot := PlotData{Type: "learning_rate_schedule", Title: "Learning rate", XLabel: "epoch", YLabel: "learning rate"}
	lr := PlotSeries{Name: "lr"}
	for _, e := range h.Epochs {
		lr.X = append(lr.X, float64(e.Epoch))
		lr.Y = append(lr.Y, e.LearningRate)
	}
	plot.Series = []PlotSeries{lr}
	return plot
}

// ConfusionMatrixPlot builds the heatmap payload from an evaluation report.
func ConfusionMatrixPlot(r *Report) HeatmapData {
	labels := r.ClassNames
	if len(labels) == 0 {
		for i := range r.Confusion {
			labels = append(labels, fmt.Sprintf("class_%d", i))
		}
	}
	return HeatmapData{
		Type:   "confusion_matrix",
		Title:  "Confusion matrix",
		XLabel: "predicted",
		YLabel: "true",
		Labels: labels,
		Values: r.Confusion,
	}
}

// SaveCurves writes the loss, accuracy and learning rate payloads for a
// finished run and pushes them to the sidecar when configured.
func (p *Plotter) SaveCurves(h *History) error {
	for name, plot := range map[string]PlotData{
		"loss_curve.json":     LossCurves(h),
		"accuracy_curve.json": AccuracyCurves(h),
		"lr_schedule.json":    LearningRateSchedule(h),
	} {
		if err := p.write(name, plot); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfusionMatrix writes the heatmap payload for an evaluation report
// and pushes it to the sidecar when configured.
func (p *Plotter) SaveConfusionMatrix(r *Report) error {
	return p.write("confusion_matrix.json", ConfusionMatrixPlot(r))
}

func (p *Plotter) write(name string, plot any) error {
	data, err := json.MarshalIndent(plot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plot %s: %w", name, err)
	}
	path := filepath.Join(p.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	if p.SidecarURL != "" {
		if err := p.send(data); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plotter) send(payload []byte) error {
	resp, err := p.client.Post(p.SidecarURL+"/api/plot", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send plot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send plot: sidecar returned %s", resp.Status)
	}
	return nil
}
