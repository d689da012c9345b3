package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crimson-sun/bertserve/internal/engine/checkpoint"
	"github.com/crimson-sun/bertserve/internal/engine/classifier"
	"github.com/crimson-sun/bertserve/internal/engine/onnx"
	"github.com/crimson-sun/bertserve/internal/engine/tokenizer"
)

// DefaultMaxLength is the token budget per input, special tokens included.
const DefaultMaxLength = 128

// ErrEmptyText is returned by Classify for empty or whitespace-only input.
var ErrEmptyText = errors.New("engine: text is empty")

// runner executes one forward pass and returns the logits.
type runner interface {
	Logits(inputIDs, attentionMask, typeIDs []int64) ([]float32, error)
	NumLabels() int
	Close() error
}

// Options configures Load.
type Options struct {
	ModelDir       string
	RuntimeLib     string // empty: <ModelDir>/libonnxruntime.so
	MaxLength      int    // zero: DefaultMaxLength
	IntraOpThreads int
	Labels         classifier.Labels // nil: classifier.DefaultLabels()
}

// Info describes a loaded engine.
type Info struct {
	ModelDir    string
	ModelPath   string
	ModelType   string
	Tokenizer   tokenizer.Kind
	NumLabels   int
	MaxLength   int
	Fingerprint string // checkpoint, max length and labels; equal fingerprints give equal results
}

// Engine orchestrates the tokenize → infer → classify pipeline. It holds only
// read-only state after Load and is safe for concurrent use.
type Engine struct {
	tok        tokenizer.Tokenizer
	runner     runner
	classifier *classifier.Classifier
	info       Info
}

// New creates an Engine from already-built components.
func New(tok tokenizer.Tokenizer, r runner, cls *classifier.Classifier, info Info) *Engine {
	info.NumLabels = r.NumLabels()
	return &Engine{tok: tok, runner: r, classifier: cls, info: info}
}

// Load opens the checkpoint directory, initializes ONNX Runtime, and builds
// the tokenizer and session. The checkpoint's own id2label is replaced by
// opts.Labels. A missing directory yields an error wrapping
// checkpoint.ErrModelDirNotFound.
func Load(opts Options) (*Engine, error) {
	ckpt, err := checkpoint.Open(opts.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if mpe := ckpt.Config.MaxPositionEmbeddings; mpe > 0 && maxLen > mpe {
		maxLen = mpe
	}

	tok, kind, err := tokenizer.Load(ckpt.Dir, maxLen)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	lib := opts.RuntimeLib
	if lib == "" {
		lib = filepath.Join(ckpt.Dir, "libonnxruntime.so")
	}
	if err := onnx.InitRuntime(lib); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	sess, err := onnx.NewSession(ckpt.ModelPath, onnx.SessionOptions{
		NumLabels:      ckpt.Config.Labels(),
		IntraOpThreads: opts.IntraOpThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	labels := opts.Labels
	if labels == nil {
		labels = classifier.DefaultLabels()
	}

	return New(tok, sess, classifier.New(labels), Info{
		ModelDir:    ckpt.Dir,
		ModelPath:   ckpt.ModelPath,
		ModelType:   ckpt.Config.ModelType,
		Tokenizer:   kind,
		MaxLength:   maxLen,
		Fingerprint: fingerprint(ckpt.Fingerprint(), maxLen, labels),
	}), nil
}

// fingerprint extends a checkpoint fingerprint with the load options that
// change results for the same weights.
func fingerprint(base string, maxLen int, labels classifier.Labels) string {
	ids := make([]int, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", base, maxLen)
	for _, id := range ids {
		fmt.Fprintf(h, "|%d=%s", id, labels[id])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Info returns a description of the loaded model.
func (e *Engine) Info() Info {
	return e.info
}

// Classify runs one text through the model.
func (e *Engine) Classify(ctx context.Context, text string) (classifier.Result, error) {
	if strings.TrimSpace(text) == "" {
		return classifier.Result{}, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return classifier.Result{}, err
	}

	enc, err := e.tok.Encode(text)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("engine: %w", err)
	}

	logits, err := e.runner.Logits(enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("engine: %w", err)
	}
	if len(logits) != e.info.NumLabels {
		return classifier.Result{}, fmt.Errorf("engine: got %d logits, want %d", len(logits), e.info.NumLabels)
	}

	return e.classifier.Classify(logits)
}

// Close releases ONNX Runtime resources.
func (e *Engine) Close() error {
	return e.runner.Close()
}
