package dataloader

import (
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/tsawler/go-vision/vision/preprocessing"
)

// Dataset is the index-addressable source a Loader draws from.
type Dataset interface {
	Len() int
	GetItem(index int) (path string, label int, err error)
}

// Batch holds one fixed-shape batch of preprocessed samples.
// Data is CHW float32 per sample, concatenated; Labels holds one class index
// per slot. Size is the number of real samples in the batch: when a final
// batch is padded to keep graph shapes static, Size < BatchSize and consumers
// must ignore the trailing slots.
type Batch struct {
	Data   []float32
	Labels []int
	Size   int
}

// Options configures a Loader.
type Options struct {
	BatchSize int
	// Shuffle reshuffles sample order on every Reset.
	Shuffle bool
	// DropLast discards a trailing partial batch instead of padding it.
	// Training loaders drop; evaluation loaders pad and report Size.
	DropLast bool
	Seed     int64
	// NumWorkers bounds concurrent decoding. Loaders with a stochastic
	// transform always run sequentially so augmentation stays reproducible
	// under the seed.
	NumWorkers int
}

// Loader produces a lazy, restartable sequence of batches over a dataset.
// Undecodable samples are skipped with a logged warning; a full batch worth
// of consecutive failures aborts the epoch with an error.
type Loader struct {
	dataset   Dataset
	transform preprocessing.Transform
	opts      Options

	indices  []int
	position int
	rng      *rand.Rand
	skipped  int
}

// New creates a Loader over dataset using the given transform.
func New(dataset Dataset, transform preprocessing.Transform, opts Options) (*Loader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if transform == nil {
		return nil, fmt.Errorf("transform is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if _, stochastic := transform.(*preprocessing.TrainTransform); stochastic {
		opts.NumWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	l := &Loader{
		dataset:   dataset,
		transform: transform,
		opts:      opts,
		indices:   indices,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
	l.Reset()
	return l, nil
}

// Reset rewinds the loader to the start of the epoch, reshuffling if
// configured. The per-epoch skip counter is cleared.
func (l *Loader) Reset() {
	l.position = 0
	l.skipped = 0
	if l.opts.Shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Batches returns the number of batches one epoch yields.
func (l *Loader) Batches() int {
	n := len(l.indices) / l.opts.BatchSize
	if !l.opts.DropLast && len(l.indices)%l.opts.BatchSize != 0 {
		n++
	}
	return n
}

// Skipped returns how many samples were skipped so far this epoch.
func (l *Loader) Skipped() int {
	return l.skipped
}

// Next returns the next batch, or (nil, nil) once the epoch is exhausted.
func (l *Loader) Next() (*Batch, error) {
	sampleLen := l.transform.OutputLen()
	batch := &Batch{
		Data:   make([]float32, l.opts.BatchSize*sampleLen),
		Labels: make([]int, l.opts.BatchSize),
	}

	attempted := 0
	for batch.Size < l.opts.BatchSize && l.position < len(l.indices) {
		remaining := l.opts.BatchSize - batch.Size
		if avail := len(l.indices) - l.position; avail < remaining {
			remaining = avail
		}
		picked := l.indices[l.position : l.position+remaining]
		l.position += remaining
		attempted += remaining

		loaded, labels := l.loadSamples(picked)
		for i, sample := range loaded {
			if sample == nil {
				continue
			}
			copy(batch.Data[batch.Size*sampleLen:], sample)
			batch.Labels[batch.Size] = labels[i]
			batch.Size++
		}
	}

	if batch.Size == 0 {
		if attempted >= l.opts.BatchSize {
			return nil, fmt.Errorf("all %d samples in batch failed to load", attempted)
		}
		return nil, nil // end of epoch
	}

	if batch.Size < l.opts.BatchSize {
		if l.opts.DropLast {
			return nil, nil
		}
		// Pad by repeating real samples; consumers read only batch.Size slots.
		for pad := batch.Size; pad < l.opts.BatchSize; pad++ {
			src := pad % batch.Size
			copy(batch.Data[pad*sampleLen:(pad+1)*sampleLen],
				batch.Data[src*sampleLen:(src+1)*sampleLen])
			batch.Labels[pad] = batch.Labels[src]
		}
	}

	return batch, nil
}

// loadSamples decodes and transforms the picked dataset indices, fanning out
// across workers when more than one is allowed. Failed slots come back nil.
func (l *Loader) loadSamples(picked []int) ([][]float32, []int) {
	loaded := make([][]float32, len(picked))
	labels := make([]int, len(picked))

	workers := l.opts.NumWorkers
	if workers > len(picked) {
		workers = len(picked)
	}

	if workers <= 1 {
		for i, idx := range picked {
			loaded[i], labels[i] = l.loadOne(idx)
		}
	} else {
		jobs := make(chan int, len(picked))
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					loaded[i], labels[i] = l.loadOne(picked[i])
				}
			}()
		}
		for i := range picked {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	for _, sample := range loaded {
		if sample == nil {
			l.skipped++
		}
	}
	return loaded, labels
}

func (l *Loader) loadOne(idx int) ([]float32, int) {
	path, label, err := l.dataset.GetItem(idx)
	if err != nil {
		log.Printf("warning: skipping sample %d: %v", idx, err)
		return nil, 0
	}
	img, err := preprocessing.DecodeFile(path)
	if err != nil {
		log.Printf("warning: skipping unreadable image: %v", err)
		return nil, 0
	}
	return l.transform.Apply(img), label
}
