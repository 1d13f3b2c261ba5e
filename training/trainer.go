// Package training drives the fine-tuning loop: per-epoch optimization over
// a train loader, validation after every epoch, checkpointing of the best
// model, and final evaluation reporting.
package training

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-vision/checkpoints"
	"github.com/tsawler/go-vision/config"
	"github.com/tsawler/go-vision/model"
	"github.com/tsawler/go-vision/optimizer"
	"github.com/tsawler/go-vision/vision/dataloader"
)

// BestCheckpointName is the filename of the highest-validation-accuracy
// snapshot inside the output directory.
const BestCheckpointName = "best_model.json"

// HistoryName is the filename of the per-epoch statistics file.
const HistoryName = "history.json"

// Trainer owns one fine-tuning run over a classifier.
type Trainer struct {
	cfg   *config.Config
	clf   *model.Classifier
	opt   optimizer.Optimizer
	sched LRScheduler

	// ClassNames annotate checkpoints and reports. Optional.
	ClassNames []string
	// Logger receives epoch and batch lines. Defaults to the standard
	// logger.
	Logger *log.Logger
	// Progress receives the in-place progress bar. Defaults to stdout;
	// io.Discard silences it.
	Progress io.Writer
}

// NewTrainer wires a trainer from a validated config.
func NewTrainer(cfg *config.Config, clf *model.Classifier) (*Trainer, error) {
	opt, err := optimizer.New(cfg.Optimizer, optimizer.Settings{
		LearningRate: cfg.LearningRate,
		WeightDecay:  cfg.WeightDecay,
		BatchSize:    cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	sched, err := NewScheduler(cfg.Scheduler, cfg.Epochs)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return &Trainer{
		cfg:      cfg,
		clf:      clf,
		opt:      opt,
		sched:    sched,
		Logger:   log.Default(),
		Progress: os.Stdout,
	}, nil
}

// Optimizer exposes the underlying optimizer, mainly for inspection.
func (t *Trainer) Optimizer() optimizer.Optimizer {
	return t.opt
}

// Fit runs the configured number of epochs, validating after each one and
// checkpointing whenever validation accuracy improves. The history and the
// best checkpoint land in the config's output directory. Cancelling the
// context stops the run at the next batch boundary.
func (t *Trainer) Fit(ctx context.Context, train, val *dataloader.Loader) (*History, error) {
	if err := os.MkdirAll(t.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	numClasses := t.clf.Config().NumClasses
	imageSize := t.clf.Config().ImageSize

	g := gorgonia.NewGraph()
	net, err := t.clf.Build(g, t.cfg.BatchSize, true)
	if err != nil {
		return nil, fmt.Errorf("build train graph: %w", err)
	}
	targets := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(t.cfg.BatchSize, numClasses),
		gorgonia.WithName("targets"))
	loss, err := CrossEntropy(net.Logits, targets)
	if err != nil {
		return nil, fmt.Errorf("build loss: %w", err)
	}
	if _, err := gorgonia.Grad(loss, net.Learnables...); err != nil {
		return nil, fmt.Errorf("build gradients: %w", err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(net.Learnables...))
	defer vm.Close()

	// Separate dropout-free graph over the same parameters for validation.
	evalGraph := gorgonia.NewGraph()
	evalNet, err := t.clf.Build(evalGraph, t.cfg.BatchSize, false)
	if err != nil {
		return nil, fmt.Errorf("build eval graph: %w", err)
	}
	evalVM := gorgonia.NewTapeMachine(evalGraph)
	defer evalVM.Close()

	history := &History{}
	bestValAcc := math.Inf(-1)

	t.Logger.Printf("training start epochs=%d batches=%d optimizer=%s scheduler=%s lr=%g",
		t.cfg.Epochs, train.Batches(), t.opt.Name(), t.sched.Name(), t.cfg.LearningRate)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, fmt.Errorf("training cancelled: %w", err)
		}

		lr := t.sched.LearningRate(epoch, t.cfg.LearningRate)
		t.opt.SetLearningRate(lr)

		start := time.Now()
		trainLoss, trainAcc, err := t.runEpoch(ctx, vm, net, targets, loss, train, epoch)
		if err != nil {
			return history, err
		}

		valLoss, valAcc, err := evalPass(ctx, evalVM, evalNet, val, numClasses, imageSize, nil)
		if err != nil {
			return history, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
		}

		stats := EpochStats{
			Epoch:        epoch + 1,
			TrainLoss:    trainLoss,
			TrainAcc:     trainAcc,
			ValLoss:      valLoss,
			ValAcc:       valAcc,
			LearningRate: lr,
			Duration:     time.Since(start),
			Skipped:      train.Skipped(),
		}
		history.Append(stats)

		t.Logger.Printf("epoch=%d/%d train_loss=%.4f train_acc=%.4f val_loss=%.4f val_acc=%.4f lr=%g elapsed=%s",
			stats.Epoch, t.cfg.Epochs, trainLoss, trainAcc, valLoss, valAcc, lr,
			stats.Duration.Round(time.Millisecond))

		if valAcc > bestValAcc {
			bestValAcc = valAcc
			if err := t.saveCheckpoint(stats); err != nil {
				return history, err
			}
			t.Logger.Printf("checkpoint saved val_acc=%.4f path=%s",
				valAcc, filepath.Join(t.cfg.OutputDir, BestCheckpointName))
		}
	}

	if err := history.Save(filepath.Join(t.cfg.OutputDir, HistoryName)); err != nil {
		return history, err
	}
	return history, nil
}

func (t *Trainer) runEpoch(ctx context.Context, vm gorgonia.VM, net *model.Network,
	targets, loss *gorgonia.Node, train *dataloader.Loader, epoch int) (float64, float64, error) {

	numClasses := t.clf.Config().NumClasses
	imageSize := t.clf.Config().ImageSize

	train.Reset()
	bar := NewProgressBar(t.Progress, fmt.Sprintf("epoch %d/%d", epoch+1, t.cfg.Epochs), train.Batches())

	var lossSum float64
	correct, seen, step := 0, 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, fmt.Errorf("training cancelled: %w", err)
		}
		batch, err := train.Next()
		if err != nil {
			return 0, 0, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		if batch == nil {
			break
		}
		step++

		input := tensor.New(
			tensor.WithShape(t.cfg.BatchSize, 3, imageSize, imageSize),
			tensor.WithBacking(batch.Data))
		if err := gorgonia.Let(net.Input, input); err != nil {
			return 0, 0, fmt.Errorf("bind input: %w", err)
		}
		oneHot, err := OneHotBatch(batch.Labels, numClasses)
		if err != nil {
			return 0, 0, fmt.Errorf("epoch %d step %d: %w", epoch+1, step, err)
		}
		if err := gorgonia.Let(targets, tensor.New(
			tensor.WithShape(t.cfg.BatchSize, numClasses),
			tensor.WithBacking(oneHot))); err != nil {
			return 0, 0, fmt.Errorf("bind targets: %w", err)
		}

		if err := vm.RunAll(); err != nil {
			return 0, 0, fmt.Errorf("epoch %d step %d: forward/backward: %w", epoch+1, step, err)
		}

		batchLoss := scalarValue(loss.Value())
		if err := CheckLoss(batchLoss); err != nil {
			return 0, 0, fmt.Errorf("epoch %d step %d: %w", epoch+1, step, err)
		}

		logits := net.Logits.Value().Data().([]float32)
		preds := Predictions(logits, numClasses, batch.Size)
		for i, p := range preds {
			if p == batch.Labels[i] {
				correct++
			}
		}
		seen += batch.Size
		lossSum += batchLoss * float64(batch.Size)

		if err := t.opt.Step(net.Learnables); err != nil {
			return 0, 0, fmt.Errorf("epoch %d step %d: optimizer: %w", epoch+1, step, err)
		}
		vm.Reset()

		bar.Update(step, map[string]float64{
			"loss": lossSum / float64(seen),
			"acc":  float64(correct) / float64(seen),
		})
		if t.cfg.LogEvery > 0 && step%t.cfg.LogEvery == 0 {
			t.Logger.Printf("epoch=%d step=%d/%d loss=%.4f acc=%.4f",
				epoch+1, step, train.Batches(), lossSum/float64(seen), float64(correct)/float64(seen))
		}
	}
	bar.Finish()

	if seen == 0 {
		return 0, 0, fmt.Errorf("epoch %d produced no batches", epoch+1)
	}
	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}

func (t *Trainer) saveCheckpoint(stats EpochStats) error {
	cp, err := checkpoints.FromModel(t.clf, t.ClassNames, &checkpoints.TrainingState{
		Epoch:           stats.Epoch,
		LearningRate:    stats.LearningRate,
		Optimizer:       t.opt.Name(),
		BestValAccuracy: stats.ValAcc,
	})
	if err != nil {
		return fmt.Errorf("snapshot model: %w", err)
	}
	return checkpoints.Save(filepath.Join(t.cfg.OutputDir, BestCheckpointName), cp)
}

// scalarValue extracts a float from a scalar or single-element value.
func scalarValue(v gorgonia.Value) float64 {
	switch data := v.Data().(type) {
	case float32:
		return float64(data)
	case float64:
		return data
	case []float32:
		if len(data) > 0 {
			return float64(data[0])
		}
	case []float64:
		if len(data) > 0 {
			return data[0]
		}
	}
	return math.NaN()
}
