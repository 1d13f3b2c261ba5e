// Command go-vision fine-tunes an image classifier on a class-per-folder
// dataset and evaluates it on a held-out split.
//
// Subcommands:
//
//	prepare   materialise train/val/test trees from a raw dataset
//	train     fine-tune the classifier and checkpoint the best epoch
//	evaluate  load a checkpoint and report test-set metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tsawler/go-vision/checkpoints"
	"github.com/tsawler/go-vision/config"
	"github.com/tsawler/go-vision/model"
	"github.com/tsawler/go-vision/training"
	"github.com/tsawler/go-vision/vision/dataloader"
	"github.com/tsawler/go-vision/vision/dataset"
	"github.com/tsawler/go-vision/vision/preprocessing"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "prepare":
		err = runPrepare(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "evaluate":
		err = runEvaluate(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: go-vision <command> [flags]

commands:
  prepare   -source DIR -dest DIR [-train-ratio R -val-ratio R -seed N]
  train     -config FILE [overrides]
  evaluate  -config FILE -checkpoint FILE
`)
}

func runPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	source := fs.String("source", "", "Raw class-per-folder dataset")
	dest := fs.String("dest", "", "Destination for train/val/test trees")
	trainRatio := fs.Float64("train-ratio", 0.70, "Training fraction")
	valRatio := fs.Float64("val-ratio", 0.15, "Validation fraction")
	seed := fs.Int64("seed", 42, "Shuffle seed")
	fs.Parse(args)

	if *source == "" || *dest == "" {
		return errors.New("both -source and -dest are required")
	}
	return dataset.PrepareSplits(*source, *dest, dataset.PrepareOptions{
		TrainRatio: *trainRatio,
		ValRatio:   *valRatio,
		Seed:       *seed,
	})
}

// loadConfig registers the flags shared by train and evaluate and returns
// the loaded, override-applied config.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	cfgPath := fs.String("config", "", "Path to YAML config")
	dataRoot := fs.String("data-root", "", "Override dataset root")
	outputDir := fs.String("output-dir", "", "Override output directory")
	batchSize := fs.Int("batch-size", 0, "Override batch size")
	epochs := fs.Int("epochs", 0, "Override epoch count")
	lr := fs.Float64("lr", 0, "Override learning rate")
	seed := fs.Int64("seed", 0, "Override PRNG seed")
	numWorkers := fs.Int("num-workers", 0, "Override data loader workers")
	freeze := fs.Bool("freeze-backbone", false, "Train only the classification head")
	backbone := fs.String("backbone-weights", "", "Override pretrained backbone snapshot")
	fs.Parse(args)

	var cfg *config.Config
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	cfg.ApplyOverrides(config.Overrides{
		DataRoot:        *dataRoot,
		OutputDir:       *outputDir,
		BatchSize:       *batchSize,
		Epochs:          *epochs,
		LearningRate:    *lr,
		Seed:            *seed,
		NumWorkers:      *numWorkers,
		FreezeBackbone:  *freeze,
		BackboneWeights: *backbone,
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadFolder opens one class-per-folder tree under the configured dataset
// kind. "natural_images" additionally checks the tree against the expected
// eight categories.
func loadFolder(dir string, cfg *config.Config) (*dataset.ImageFolderDataset, error) {
	if cfg.Dataset == "natural_images" {
		ds, err := dataset.NewNaturalImagesDataset(dir)
		if err != nil {
			return nil, err
		}
		return ds.ImageFolderDataset, nil
	}
	return dataset.NewImageFolderDataset(dir, nil)
}

// splits resolves the three dataset splits. A data root that already holds
// train/val/test trees (as written by prepare) is used as-is; otherwise the
// root is split in memory under the config seed.
func splits(cfg *config.Config) (train, val, test *dataset.ImageFolderDataset, err error) {
	trainDir := filepath.Join(cfg.DataRoot, "train")
	if info, statErr := os.Stat(trainDir); statErr == nil && info.IsDir() {
		if train, err = loadFolder(trainDir, cfg); err != nil {
			return nil, nil, nil, err
		}
		if val, err = loadFolder(filepath.Join(cfg.DataRoot, "val"), cfg); err != nil {
			return nil, nil, nil, err
		}
		if test, err = loadFolder(filepath.Join(cfg.DataRoot, "test"), cfg); err != nil {
			return nil, nil, nil, err
		}
		return train, val, test, nil
	}

	full, err := loadFolder(cfg.DataRoot, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return full.Split3(cfg.TrainRatio, cfg.ValRatio, cfg.Seed)
}

func buildClassifier(cfg *config.Config) (*model.Classifier, error) {
	clf, err := model.NewClassifier(model.Config{
		NumClasses:     cfg.NumClasses,
		ImageSize:      cfg.ImageSize,
		Dropout:        cfg.Dropout,
		FreezeBackbone: cfg.FreezeBackbone,
		Seed:           cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	if cfg.BackboneWeights == "" {
		log.Printf("no backbone snapshot configured, starting from random initialization")
		return clf, nil
	}
	cp, err := checkpoints.Load(cfg.BackboneWeights)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("backbone snapshot %s not found, starting from random initialization", cfg.BackboneWeights)
			return clf, nil
		}
		return nil, fmt.Errorf("load backbone weights: %w", err)
	}
	loaded, err := cp.ApplyBackbone(clf)
	if err != nil {
		return nil, fmt.Errorf("apply backbone weights: %w", err)
	}
	log.Printf("loaded %d backbone tensors from %s", loaded, cfg.BackboneWeights)
	return clf, nil
}

// timestampedRunDir returns a per-run directory under base, so repeated
// runs never overwrite each other's checkpoints and reports.
func timestampedRunDir(base string, now time.Time) string {
	return filepath.Join(base, "run_"+now.Format("20060102_150405"))
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	sidecar := fs.String("plot-sidecar", "", "Plotting sidecar base URL")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	cfg.OutputDir = timestampedRunDir(cfg.OutputDir, time.Now())
	log.Printf("run artifacts under %s", cfg.OutputDir)

	trainSet, valSet, testSet, err := splits(cfg)
	if err != nil {
		return err
	}
	log.Printf("splits train=%d val=%d test=%d classes=%d",
		trainSet.Len(), valSet.Len(), testSet.Len(), trainSet.NumClasses())
	if trainSet.NumClasses() != cfg.NumClasses {
		return fmt.Errorf("dataset has %d classes, config expects %d", trainSet.NumClasses(), cfg.NumClasses)
	}

	trainLoader, err := dataloader.New(trainSet,
		preprocessing.NewTrainTransform(cfg.ImageSize, cfg.FlipProb, cfg.RotationDegrees, cfg.Seed),
		dataloader.Options{
			BatchSize:  cfg.BatchSize,
			Shuffle:    true,
			DropLast:   true,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		})
	if err != nil {
		return fmt.Errorf("train loader: %w", err)
	}
	valLoader, err := dataloader.New(valSet,
		preprocessing.NewEvalTransform(cfg.ImageSize),
		dataloader.Options{
			BatchSize:  cfg.BatchSize,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		})
	if err != nil {
		return fmt.Errorf("val loader: %w", err)
	}

	clf, err := buildClassifier(cfg)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(cfg, clf)
	if err != nil {
		return err
	}
	trainer.ClassNames = trainSet.ClassNames()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := trainer.Fit(ctx, trainLoader, valLoader)
	if err != nil {
		return err
	}
	if best, ok := history.Best(); ok {
		log.Printf("best epoch=%d val_acc=%.4f", best.Epoch, best.ValAcc)
	}

	plotter := training.NewPlotter(cfg.OutputDir, *sidecar)
	if err := plotter.SaveCurves(history); err != nil {
		log.Printf("plotting: %v", err)
	}

	// Final quality gate: the best checkpoint against the untouched test
	// split.
	best, err := checkpoints.Load(filepath.Join(cfg.OutputDir, training.BestCheckpointName))
	if err != nil {
		return fmt.Errorf("reload best checkpoint: %w", err)
	}
	if err := best.Apply(clf); err != nil {
		return fmt.Errorf("restore best checkpoint: %w", err)
	}
	return evaluateSplit(ctx, cfg, clf, testSet)
}

func runEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	checkpoint := fs.String("checkpoint", "", "Model checkpoint to evaluate")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	path := *checkpoint
	if path == "" {
		path = filepath.Join(cfg.OutputDir, training.BestCheckpointName)
	}
	cp, err := checkpoints.Load(path)
	if err != nil {
		return err
	}

	clf, err := model.NewClassifier(model.Config{
		NumClasses: cp.Metadata.NumClasses,
		ImageSize:  cp.Metadata.ImageSize,
		Dropout:    cfg.Dropout,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return err
	}
	if err := cp.Apply(clf); err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	log.Printf("loaded checkpoint %s (%d tensors)", path, len(cp.Weights))

	_, _, testSet, err := splits(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return evaluateSplit(ctx, cfg, clf, testSet)
}

func evaluateSplit(ctx context.Context, cfg *config.Config, clf *model.Classifier, testSet *dataset.ImageFolderDataset) error {
	loader, err := dataloader.New(testSet,
		preprocessing.NewEvalTransform(clf.Config().ImageSize),
		dataloader.Options{
			BatchSize:  cfg.BatchSize,
			Seed:       cfg.Seed,
			NumWorkers: cfg.NumWorkers,
		})
	if err != nil {
		return fmt.Errorf("test loader: %w", err)
	}

	evaluator, err := training.NewEvaluator(clf, cfg.BatchSize)
	if err != nil {
		return err
	}
	report, err := evaluator.Evaluate(ctx, loader, testSet.ClassNames())
	if err != nil {
		return err
	}

	fmt.Println(report.Format())
	reportPath := filepath.Join(cfg.OutputDir, "test_report.json")
	if err := report.Save(reportPath); err != nil {
		return err
	}
	if err := training.NewPlotter(cfg.OutputDir, "").SaveConfusionMatrix(report); err != nil {
		log.Printf("plotting: %v", err)
	}
	log.Printf("report saved to %s", reportPath)
	return nil
}
