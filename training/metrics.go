package training

import (
	"fmt"
	"strings"
)

// ConfusionMatrix accumulates classification outcomes. Rows index the true
// class, columns the predicted class.
type ConfusionMatrix struct {
	NumClasses int
	ClassNames []string
	Matrix     [][]int
	Total      int
}

// NewConfusionMatrix creates an empty matrix. classNames may be nil, in
// which case classes render by index.
func NewConfusionMatrix(numClasses int, classNames []string) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		ClassNames: classNames,
		Matrix:     matrix,
	}
}

// Reset clears every cell.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.Total = 0
}

// Add records one outcome.
func (cm *ConfusionMatrix) Add(trueClass, predicted int) error {
	if trueClass < 0 || trueClass >= cm.NumClasses {
		return fmt.Errorf("true class %d out of range [0, %d)", trueClass, cm.NumClasses)
	}
	if predicted < 0 || predicted >= cm.NumClasses {
		return fmt.Errorf("predicted class %d out of range [0, %d)", predicted, cm.NumClasses)
	}
	cm.Matrix[trueClass][predicted]++
	cm.Total++
	return nil
}

// AddBatch records the first n outcomes from parallel label slices.
func (cm *ConfusionMatrix) AddBatch(trueClasses, predicted []int, n int) error {
	if n > len(trueClasses) || n > len(predicted) {
		return fmt.Errorf("batch size %d exceeds label slices (%d, %d)", n, len(trueClasses), len(predicted))
	}
	for i := 0; i < n; i++ {
		if err := cm.Add(trueClasses[i], predicted[i]); err != nil {
			return err
		}
	}
	return nil
}

// Accuracy is the fraction of outcomes on the diagonal. Zero when empty.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.Total == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.Total)
}

// Precision for one class: true positives over everything predicted as that
// class. Defined as 0 when the class was never predicted.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	predicted := 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Matrix[i][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(predicted)
}

// Recall for one class: true positives over everything actually of that
// class. Defined as 0 when the class has no samples.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	actual := cm.Support(class)
	if actual == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(actual)
}

// Support returns how many recorded samples truly belong to the class.
func (cm *ConfusionMatrix) Support(class int) int {
	total := 0
	for j := 0; j < cm.NumClasses; j++ {
		total += cm.Matrix[class][j]
	}
	return total
}

// F1 for one class, 0 when precision and recall are both 0.
func (cm *ConfusionMatrix) F1(class int) float64 {
	p, r := cm.Precision(class), cm.Recall(class)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// MacroPrecision averages per-class precision over every class.
func (cm *ConfusionMatrix) MacroPrecision() float64 {
	sum := 0.0
	for i := 0; i < cm.NumClasses; i++ {
		sum += cm.Precision(i)
	}
	return sum / float64(cm.NumClasses)
}

// MacroRecall averages per-class recall over every class.
func (cm *ConfusionMatrix) MacroRecall() float64 {
	sum := 0.0
	for i := 0; i < cm.NumClasses; i++ {
		sum += cm.Recall(i)
	}
	return sum / float64(cm.NumClasses)
}

// MacroF1 averages per-class F1 over every class.
func (cm *ConfusionMatrix) MacroF1() float64 {
	sum := 0.0
	for i := 0; i < cm.NumClasses; i++ {
		sum += cm.F1(i)
	}
	return sum / float64(cm.NumClasses)
}

// ClassMetrics bundles the per-class numbers for reporting.
type ClassMetrics struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// PerClass returns metrics for every class in index order.
func (cm *ConfusionMatrix) PerClass() []ClassMetrics {
	out := make([]ClassMetrics, cm.NumClasses)
	for i := 0; i < cm.NumClasses; i++ {
		out[i] = ClassMetrics{
			Name:      cm.className(i),
			Precision: cm.Precision(i),
			Recall:    cm.Recall(i),
			F1:        cm.F1(i),
			Support:   cm.Support(i),
		}
	}
	return out
}

func (cm *ConfusionMatrix) className(i int) string {
	if i < len(cm.ClassNames) {
		return cm.ClassNames[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// String renders the matrix as an aligned table with true classes as rows.
func (cm *ConfusionMatrix) String() string {
	nameWidth := len("true/pred")
	for i := 0; i < cm.NumClasses; i++ {
		if w := len(cm.className(i)); w > nameWidth {
			nameWidth = w
		}
	}
	cellWidth := nameWidth
	if cellWidth < 6 {
		cellWidth = 6
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-*s", nameWidth, "true/pred")
	for j := 0; j < cm.NumClasses; j++ {
		fmt.Fprintf(&sb, " %*s", cellWidth, cm.className(j))
	}
	sb.WriteByte('\n')
	for i := 0; i < cm.NumClasses; i++ {
		fmt.Fprintf(&sb, "%-*s", nameWidth, cm.className(i))
		for j := 0; j < cm.NumClasses; j++ {
			fmt.Fprintf(&sb, " %*d", cellWidth, cm.Matrix[i][j])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Argmax returns the index of the largest value in logits.
func Argmax(logits []float32) int {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}

// Predictions converts a flattened (n, numClasses) logit matrix into class
// indices for the first n rows.
func Predictions(logits []float32, numClasses, n int) []int {
	preds := make([]int, n)
	for i := 0; i < n; i++ {
		preds[i] = Argmax(logits[i*numClasses : (i+1)*numClasses])
	}
	return preds
}
