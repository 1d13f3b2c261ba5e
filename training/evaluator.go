package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-vision/model"
	"github.com/tsawler/go-vision/vision/dataloader"
)

// Evaluator runs a trained classifier over a held-out split and produces a
// full classification report.
type Evaluator struct {
	clf       *model.Classifier
	batchSize int

	// Logger receives summary lines. Defaults to the standard logger.
	Logger *log.Logger
}

// NewEvaluator creates an evaluator running at the given batch size.
func NewEvaluator(clf *model.Classifier, batchSize int) (*Evaluator, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	return &Evaluator{clf: clf, batchSize: batchSize, Logger: log.Default()}, nil
}

// Report is the outcome of one evaluation pass.
type Report struct {
	Accuracy       float64        `json:"accuracy"`
	Loss           float64        `json:"loss"`
	NumSamples     int            `json:"num_samples"`
	PerClass       []ClassMetrics `json:"per_class"`
	MacroPrecision float64        `json:"macro_precision"`
	MacroRecall    float64        `json:"macro_recall"`
	MacroF1        float64        `json:"macro_f1"`
	ClassNames     []string       `json:"class_names,omitempty"`
	Confusion      [][]int        `json:"confusion_matrix"`

	matrix *ConfusionMatrix
}

// Evaluate runs the loader through a dropout-free graph and aggregates
// metrics. classNames may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, loader *dataloader.Loader, classNames []string) (*Report, error) {
	numClasses := e.clf.Config().NumClasses
	imageSize := e.clf.Config().ImageSize

	g := gorgonia.NewGraph()
	net, err := e.clf.Build(g, e.batchSize, false)
	if err != nil {
		return nil, fmt.Errorf("build eval graph: %w", err)
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()

	cm := NewConfusionMatrix(numClasses, classNames)
	loss, acc, err := evalPass(ctx, vm, net, loader, numClasses, imageSize, cm)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Accuracy:       acc,
		Loss:           loss,
		NumSamples:     cm.Total,
		PerClass:       cm.PerClass(),
		MacroPrecision: cm.MacroPrecision(),
		MacroRecall:    cm.MacroRecall(),
		MacroF1:        cm.MacroF1(),
		ClassNames:     classNames,
		Confusion:      cm.Matrix,
		matrix:         cm,
	}

	e.Logger.Printf("evaluation samples=%d accuracy=%.4f loss=%.4f macro_f1=%.4f",
		report.NumSamples, report.Accuracy, report.Loss, report.MacroF1)
	return report, nil
}

// evalPass feeds every batch through an already-built evaluation network.
// Loss and accuracy cover only the real samples of padded final batches.
// When cm is non-nil it accumulates the confusion matrix as well.
func evalPass(ctx context.Context, vm gorgonia.VM, net *model.Network, loader *dataloader.Loader,
	numClasses, imageSize int, cm *ConfusionMatrix) (float64, float64, error) {

	batchSize := net.Input.Shape()[0]
	loader.Reset()

	var lossSum float64
	correct, seen := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, fmt.Errorf("evaluation cancelled: %w", err)
		}
		batch, err := loader.Next()
		if err != nil {
			return 0, 0, fmt.Errorf("evaluation: %w", err)
		}
		if batch == nil {
			break
		}

		input := tensor.New(
			tensor.WithShape(batchSize, 3, imageSize, imageSize),
			tensor.WithBacking(batch.Data))
		if err := gorgonia.Let(net.Input, input); err != nil {
			return 0, 0, fmt.Errorf("bind input: %w", err)
		}
		if err := vm.RunAll(); err != nil {
			return 0, 0, fmt.Errorf("evaluation forward: %w", err)
		}

		logits := net.Logits.Value().Data().([]float32)
		preds := Predictions(logits, numClasses, batch.Size)
		for i, p := range preds {
			if p == batch.Labels[i] {
				correct++
			}
		}
		if cm != nil {
			if err := cm.AddBatch(batch.Labels, preds, batch.Size); err != nil {
				return 0, 0, err
			}
		}
		lossSum += crossEntropyCPU(logits, batch.Labels, numClasses, batch.Size) * float64(batch.Size)
		seen += batch.Size

		vm.Reset()
	}

	if seen == 0 {
		return 0, 0, fmt.Errorf("evaluation produced no batches")
	}
	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Format renders the report as a human-readable table.
func (r *Report) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "samples:   %d\n", r.NumSamples)
	fmt.Fprintf(&sb, "accuracy:  %.4f\n", r.Accuracy)
	fmt.Fprintf(&sb, "loss:      %.4f\n", r.Loss)
	fmt.Fprintf(&sb, "macro f1:  %.4f\n\n", r.MacroF1)

	nameWidth := len("class")
	for _, c := range r.PerClass {
		if len(c.Name) > nameWidth {
			nameWidth = len(c.Name)
		}
	}
	fmt.Fprintf(&sb, "%-*s  precision  recall  f1      support\n", nameWidth, "class")
	for _, c := range r.PerClass {
		fmt.Fprintf(&sb, "%-*s  %.4f     %.4f  %.4f  %d\n",
			nameWidth, c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}

	if r.matrix != nil {
		sb.WriteByte('\n')
		sb.WriteString(r.matrix.String())
	}
	return sb.String()
}
