package classifier

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoLogits is returned when the model produced an empty logits vector.
var ErrNoLogits = errors.New("classifier: empty logits")

// Labels maps class indices to human-readable names.
type Labels map[int]string

// DefaultLabels is the binary sentiment mapping forced onto every checkpoint.
func DefaultLabels() Labels {
	return Labels{0: "negative", 1: "positive"}
}

// Name returns the label for id, or "LABEL_<id>" for unmapped indices.
func (l Labels) Name(id int) string {
	if name, ok := l[id]; ok {
		return name
	}
	return fmt.Sprintf("LABEL_%d", id)
}

// Result holds the outcome of classifying one logits vector.
type Result struct {
	Label      string
	LabelID    int
	Confidence float64 // softmax probability of LabelID, in [0, 1]
	NumLabels  int
}

// Classifier turns raw logits into a labelled prediction.
type Classifier struct {
	labels Labels
}

// New creates a Classifier with the given label mapping.
func New(labels Labels) *Classifier {
	return &Classifier{labels: labels}
}

// Classify takes the arg-max over logits (ties resolve to the lowest index)
// and reports its softmax probability rounded to six decimal places.
func (c *Classifier) Classify(logits []float32) (Result, error) {
	if len(logits) == 0 {
		return Result{}, ErrNoLogits
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Result{}, fmt.Errorf("classifier: logit %d is not finite: %v", i, v)
		}
	}

	id := argmax(logits)
	probs := softmax(logits)

	return Result{
		Label:      c.labels.Name(id),
		LabelID:    id,
		Confidence: round6(probs[id]),
		NumLabels:  len(logits),
	}, nil
}

func argmax(xs []float32) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// softmax normalizes logits into probabilities. The max logit is subtracted
// first so exp never overflows.
func softmax(logits []float32) []float64 {
	maxLogit := float64(logits[argmax(logits)])
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxLogit)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
