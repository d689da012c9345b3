// Package onnx runs sequence-classification graphs through ONNX Runtime.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// InitRuntime loads the ONNX Runtime shared library and initializes the
// environment. Only the first call has any effect; later calls return the
// first call's result.
func InitRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortEnv.err = fmt.Errorf("onnx: failed to initialize runtime from %s: %w", libPath, err)
		}
	})
	return ortEnv.err
}

// SessionOptions tune a Session.
type SessionOptions struct {
	// NumLabels is used when the graph leaves the label dimension dynamic.
	NumLabels int
	// IntraOpThreads caps ONNX Runtime's per-operator parallelism. Zero keeps
	// the runtime default.
	IntraOpThreads int
}

// Session wraps a DynamicAdvancedSession for BERT-style classifiers whose
// output is a [batch, num_labels] logits tensor. Run is safe for concurrent
// use; each call allocates its own tensors.
type Session struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputName  string
	numLabels   int64
	typeIDInput bool

	closeOnce sync.Once
	closeErr  error
}

// NewSession loads the ONNX model and validates its inputs and output.
// InitRuntime must have succeeded first.
func NewSession(modelPath string, opts SessionOptions) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	inputNames, typeIDs, err := selectInputs(inputs)
	if err != nil {
		return nil, err
	}
	outputName, numLabels, err := selectOutput(outputs, opts.NumLabels)
	if err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer so.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
		}
	}
	if err := so.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, so)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &Session{
		session:     session,
		inputNames:  inputNames,
		outputName:  outputName,
		numLabels:   numLabels,
		typeIDInput: typeIDs,
	}, nil
}

// selectInputs requires input_ids and attention_mask and includes
// token_type_ids when the graph declares it (DistilBERT exports do not).
func selectInputs(inputs []ort.InputOutputInfo) (names []string, typeIDs bool, err error) {
	have := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		have[in.Name] = true
	}
	for _, name := range []string{"input_ids", "attention_mask"} {
		if !have[name] {
			return nil, false, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	names = []string{"input_ids", "attention_mask"}
	if have["token_type_ids"] {
		names = append(names, "token_type_ids")
		typeIDs = true
	}
	if len(names) != len(inputs) {
		return nil, false, fmt.Errorf("onnx: model has unsupported inputs %v", inputNames(inputs))
	}
	return names, typeIDs, nil
}

// selectOutput picks the "logits" output, or the first output when none is
// named that, and resolves the label count.
func selectOutput(outputs []ort.InputOutputInfo, numLabelsHint int) (string, int64, error) {
	if len(outputs) == 0 {
		return "", 0, fmt.Errorf("onnx: model has no outputs")
	}
	out := outputs[0]
	for _, o := range outputs {
		if o.Name == "logits" {
			out = o
			break
		}
	}

	dims := out.Dimensions
	if len(dims) != 2 {
		return "", 0, fmt.Errorf("onnx: expected 2D logits tensor [batch, labels] for %q, got %v", out.Name, dims)
	}
	numLabels := dims[1]
	if numLabels <= 0 {
		numLabels = int64(numLabelsHint)
	}
	if numLabels <= 0 {
		return "", 0, fmt.Errorf("onnx: label dimension of %q is dynamic and config.json declares no labels", out.Name)
	}
	if numLabelsHint > 0 && int64(numLabelsHint) != numLabels {
		return "", 0, fmt.Errorf("onnx: graph has %d labels, config.json declares %d", numLabels, numLabelsHint)
	}
	return out.Name, numLabels, nil
}

func inputNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, in := range infos {
		names[i] = in.Name
	}
	return names
}

// NumLabels returns the width of the logits output.
func (s *Session) NumLabels() int {
	return int(s.numLabels)
}

// Logits runs one forward pass over a single sequence. The three slices must
// have equal length; typeIDs is ignored when the graph has no token_type_ids
// input. Returns a copy of the [num_labels] logits.
func (s *Session) Logits(inputIDs, attentionMask, typeIDs []int64) ([]float32, error) {
	seqLen := int64(len(inputIDs))
	if seqLen == 0 || int64(len(attentionMask)) != seqLen || int64(len(typeIDs)) != seqLen {
		return nil, fmt.Errorf("onnx: mismatched input lengths ids=%d mask=%d types=%d",
			len(inputIDs), len(attentionMask), len(typeIDs))
	}
	shape := ort.NewShape(1, seqLen)

	tIDs, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input_ids tensor: %w", err)
	}
	defer tIDs.Destroy()

	tMask, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create attention_mask tensor: %w", err)
	}
	defer tMask.Destroy()

	inputs := []ort.Value{tIDs, tMask}
	if s.typeIDInput {
		tTypes, err := ort.NewTensor(shape, typeIDs)
		if err != nil {
			return nil, fmt.Errorf("onnx: failed to create token_type_ids tensor: %w", err)
		}
		defer tTypes.Destroy()
		inputs = append(inputs, tTypes)
	}

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, s.numLabels))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.session.Run(inputs, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before the tensor is destroyed.
	src := tOut.GetData()
	logits := make([]float32, len(src))
	copy(logits, src)
	return logits, nil
}

// Close releases the session. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Destroy()
	})
	return s.closeErr
}
