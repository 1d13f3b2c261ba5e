package training

import (
	"errors"
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
)

// ErrNaNLoss aborts training when the loss leaves the real numbers, which
// usually points at a diverging learning rate or corrupt input data.
var ErrNaNLoss = errors.New("loss is NaN or Inf")

// CrossEntropy builds the softmax cross-entropy loss node over a batch.
// logits is (batch, classes), targets a matching one-hot matrix. The result
// is the scalar mean over the batch.
func CrossEntropy(logits, targets *gorgonia.Node) (*gorgonia.Node, error) {
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	logProbs, err := gorgonia.Log(probs)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	picked, err := gorgonia.HadamardProd(targets, logProbs)
	if err != nil {
		return nil, fmt.Errorf("target mask: %w", err)
	}
	perSample, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return nil, fmt.Errorf("row sum: %w", err)
	}
	mean, err := gorgonia.Mean(perSample)
	if err != nil {
		return nil, fmt.Errorf("batch mean: %w", err)
	}
	loss, err := gorgonia.Neg(mean)
	if err != nil {
		return nil, fmt.Errorf("negate: %w", err)
	}
	return loss, nil
}

// OneHotBatch encodes labels into a flattened (len(labels), numClasses)
// one-hot matrix.
func OneHotBatch(labels []int, numClasses int) ([]float32, error) {
	out := make([]float32, len(labels)*numClasses)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d out of range [0, %d)", label, numClasses)
		}
		out[i*numClasses+label] = 1
	}
	return out, nil
}

// CheckLoss validates a loss value, wrapping ErrNaNLoss on divergence.
func CheckLoss(loss float64) error {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("%w (value %g)", ErrNaNLoss, loss)
	}
	return nil
}

// crossEntropyCPU computes mean softmax cross-entropy on the CPU for the
// first n rows of a flattened logit matrix. Evaluation graphs carry no loss
// node, so validation loss is derived here from raw logits.
func crossEntropyCPU(logits []float32, labels []int, numClasses, n int) float64 {
	if n == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		row := logits[i*numClasses : (i+1)*numClasses]

		// Log-sum-exp with max subtraction for stability.
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxVal))
		}
		logSumExp := float64(maxVal) + math.Log(sumExp)
		total += logSumExp - float64(row[labels[i]])
	}
	return total / float64(n)
}
