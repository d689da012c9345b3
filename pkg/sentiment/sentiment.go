package sentiment

import (
	"context"
	"fmt"

	"github.com/crimson-sun/bertserve/internal/engine"
	"github.com/crimson-sun/bertserve/internal/engine/classifier"
)

// ErrEmptyText is returned by Classify for empty or whitespace-only text.
var ErrEmptyText = engine.ErrEmptyText

// Classifier is a loaded sentiment model.
type Classifier struct {
	engine *engine.Engine
}

// ModelInfo describes the loaded checkpoint.
type ModelInfo struct {
	Dir         string
	ModelPath   string
	ModelType   string
	Tokenizer   string
	NumLabels   int
	MaxLength   int
	Fingerprint string
}

// New loads the checkpoint and ONNX session. This is expensive; create once
// and reuse. A missing model directory is reported as an error wrapping
// checkpoint.ErrModelDirNotFound.
func New(opts ...Option) (*Classifier, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var labels classifier.Labels
	if o.labels != nil {
		labels = classifier.Labels(o.labels)
	}

	eng, err := engine.Load(engine.Options{
		ModelDir:       o.modelDir,
		RuntimeLib:     o.runtimeLib,
		MaxLength:      o.maxLength,
		IntraOpThreads: o.intraOpThreads,
		Labels:         labels,
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment: %w", err)
	}
	return &Classifier{engine: eng}, nil
}

// Classify labels a single text.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	r, err := c.engine.Classify(ctx, text)
	if err != nil {
		return Result{}, err
	}
	return resultFrom(r), nil
}

// Info returns a description of the loaded checkpoint.
func (c *Classifier) Info() ModelInfo {
	i := c.engine.Info()
	return ModelInfo{
		Dir:         i.ModelDir,
		ModelPath:   i.ModelPath,
		ModelType:   i.ModelType,
		Tokenizer:   string(i.Tokenizer),
		NumLabels:   i.NumLabels,
		MaxLength:   i.MaxLength,
		Fingerprint: i.Fingerprint,
	}
}

// Close releases model resources. Must be called when the Classifier is no
// longer needed.
func (c *Classifier) Close() error {
	return c.engine.Close()
}

func resultFrom(r classifier.Result) Result {
	return Result{
		Label:      r.Label,
		LabelID:    r.LabelID,
		Confidence: r.Confidence,
		NumLabels:  r.NumLabels,
	}
}
