// Package checkpoint locates and describes an on-disk model directory: the
// Hugging Face config.json, the ONNX graph and the tokenizer files.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var (
	// ErrModelDirNotFound means the configured model directory does not exist.
	ErrModelDirNotFound = errors.New("checkpoint: model directory not found")
	// ErrNoONNXModel means none of the ONNX candidate paths exist.
	ErrNoONNXModel = errors.New("checkpoint: no ONNX model found")
)

// ConfigFile is the checkpoint's model configuration.
const ConfigFile = "config.json"

// ONNXCandidates lists where an exported graph may live, in preference order:
// a native export at the root, then the layouts used by optimum/transformers.js
// exports.
var ONNXCandidates = []string{
	"model.onnx",
	filepath.Join("onnx", "model.onnx"),
	filepath.Join("onnx", "model_quantized.onnx"),
}

// Config is the subset of config.json the server reads.
type Config struct {
	ModelType             string            `json:"model_type"`
	ID2Label              map[string]string `json:"id2label"`
	Label2ID              map[string]int    `json:"label2id"`
	NumLabels             int               `json:"num_labels"`
	LegacyNumLabels       int               `json:"_num_labels"` // older transformers exports
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
}

// Labels returns the number of classes the checkpoint declares, or 0 when it
// declares none.
func (c Config) Labels() int {
	if c.NumLabels > 0 {
		return c.NumLabels
	}
	if c.LegacyNumLabels > 0 {
		return c.LegacyNumLabels
	}
	return len(c.ID2Label)
}

// Checkpoint is a validated model directory.
type Checkpoint struct {
	Dir       string
	ModelPath string
	Config    Config
	raw       []byte
}

// Open validates dir and reads its config.json. The directory must exist
// (ErrModelDirNotFound otherwise) and hold an ONNX graph (ErrNoONNXModel).
func Open(dir string) (*Checkpoint, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w at %s; run bertprep to create it", ErrModelDirNotFound, dir)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", ConfigFile, err)
	}

	modelPath, ok := FindModel(dir)
	if !ok {
		return nil, fmt.Errorf("%w in %s (looked for %v)", ErrNoONNXModel, dir, ONNXCandidates)
	}

	return &Checkpoint{Dir: dir, ModelPath: modelPath, Config: cfg, raw: raw}, nil
}

// FindModel returns the first ONNX candidate present in dir.
func FindModel(dir string) (string, bool) {
	for _, c := range ONNXCandidates {
		p := filepath.Join(dir, c)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Exists reports whether dir already holds a usable checkpoint: a config.json
// plus an ONNX graph.
func Exists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err != nil {
		return false
	}
	_, ok := FindModel(dir)
	return ok
}

// Fingerprint identifies the loaded weights and configuration. It changes
// when the graph file or config.json changes.
func (c *Checkpoint) Fingerprint() string {
	h := sha256.New()
	h.Write(c.raw)
	if info, err := os.Stat(c.ModelPath); err == nil {
		fmt.Fprintf(h, "|%s|%d|%d", filepath.Base(c.ModelPath), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SetLabels rewrites id2label and label2id in the config.json at dir,
// preserving every other field.
func SetLabels(dir string, labels map[int]string) error {
	path := filepath.Join(dir, ConfigFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("checkpoint: parse %s: %w", ConfigFile, err)
	}

	id2label := make(map[string]string, len(labels))
	label2id := make(map[string]int, len(labels))
	for id, name := range labels {
		id2label[strconv.Itoa(id)] = name
		label2id[name] = id
	}
	doc["id2label"] = id2label
	doc["label2id"] = label2id

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
