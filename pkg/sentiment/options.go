package sentiment

import "github.com/crimson-sun/bertserve/internal/engine"

type options struct {
	modelDir       string
	runtimeLib     string
	maxLength      int
	intraOpThreads int
	labels         map[int]string
}

// Option configures a Classifier.
type Option func(*options)

// WithModelDir sets the checkpoint directory. Expects config.json, an ONNX
// graph (model.onnx or onnx/model.onnx) and tokenizer.json or vocab.txt.
// Default: "model/bert_text_classifier".
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithRuntimeLibrary sets the path to the ONNX Runtime shared library.
// Default: libonnxruntime.so inside the model directory.
func WithRuntimeLibrary(path string) Option {
	return func(o *options) {
		o.runtimeLib = path
	}
}

// WithMaxLength caps tokens per input, [CLS] and [SEP] included. Default: 128.
func WithMaxLength(n int) Option {
	return func(o *options) {
		o.maxLength = n
	}
}

// WithIntraOpThreads caps ONNX Runtime's per-operator threads. Default: 4.
func WithIntraOpThreads(n int) Option {
	return func(o *options) {
		o.intraOpThreads = n
	}
}

// WithLabels replaces the label mapping. Default: {0: negative, 1: positive}.
func WithLabels(labels map[int]string) Option {
	return func(o *options) {
		o.labels = labels
	}
}

func defaultOptions() options {
	return options{
		modelDir:       "model/bert_text_classifier",
		maxLength:      engine.DefaultMaxLength,
		intraOpThreads: 4,
	}
}
