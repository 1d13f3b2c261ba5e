package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders in-place epoch progress with live metrics, in the
// style of tqdm.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a bar writing to out for total steps.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances to step and redraws with the given metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish fills the bar and terminates the line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	fraction := 0.0
	if pb.total > 0 {
		fraction = float64(pb.current) / float64(pb.total)
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * float64(pb.width))
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", pb.width-filled)

	line := fmt.Sprintf("\r%s %3.0f%% [%s] %d/%d",
		pb.description, fraction*100, bar, pb.current, pb.total)

	elapsed := time.Since(pb.startTime)
	if pb.current > 0 && fraction > 0 && fraction < 1 {
		eta := time.Duration(float64(elapsed)/fraction) - elapsed
		line += fmt.Sprintf(" eta %s", eta.Round(time.Second))
	}

	names := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		line += fmt.Sprintf(" %s=%.4f", k, pb.metrics[k])
	}

	fmt.Fprint(pb.out, line)
}
