package tokenizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HuggingFace wraps a tokenizer.json pipeline (normalizer, pre-tokenizer,
// model and post-processor). Encode calls are serialized because the
// underlying tokenizer keeps per-call scratch state.
type HuggingFace struct {
	mu sync.Mutex
	tk *hf.Tokenizer
}

// NewHuggingFace loads a tokenizer.json file and caps encodings at maxLen
// tokens, special tokens included. Padding and truncation settings stored in
// the file are ignored.
func NewHuggingFace(path string, maxLen int) (*HuggingFace, error) {
	if maxLen < 3 {
		return nil, fmt.Errorf("tokenizer.json: max length %d leaves no room for text", maxLen)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer.json: %w", err)
	}
	var cfg hf.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("tokenizer.json: parse %s: %w", path, err)
	}
	cfg.Padding = nil
	cfg.Truncation = nil
	resolveStripAccents(cfg.Normalizer)

	data, err := json.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("tokenizer.json: %w", err)
	}
	tk, err := pretrained.FromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tokenizer.json: load %s: %w", path, err)
	}
	tk.WithTruncation(&hf.TruncationParams{
		MaxLength: maxLen,
		Strategy:  hf.LongestFirst,
		Stride:    0,
	})
	return &HuggingFace{tk: tk}, nil
}

// Encode runs the full pipeline with special tokens added.
func (h *HuggingFace) Encode(text string) (Encoding, error) {
	h.mu.Lock()
	en, err := h.tk.EncodeSingle(text, true)
	h.mu.Unlock()
	if err != nil {
		return Encoding{}, fmt.Errorf("tokenizer.json: encode: %w", err)
	}

	enc := Encoding{
		InputIDs:      toInt64(en.Ids),
		AttentionMask: toInt64(en.AttentionMask),
		TokenTypeIDs:  toInt64(en.TypeIds),
	}
	if len(enc.AttentionMask) != len(enc.InputIDs) || len(enc.TokenTypeIDs) != len(enc.InputIDs) {
		return Encoding{}, fmt.Errorf("tokenizer.json: inconsistent encoding lengths ids=%d mask=%d types=%d",
			len(enc.InputIDs), len(enc.AttentionMask), len(enc.TokenTypeIDs))
	}
	return enc, nil
}

// resolveStripAccents makes a BertNormalizer's null strip_accents explicit.
// Hugging Face treats null as "follow lowercase"; the loader would read it
// as false and keep accents on uncased checkpoints.
func resolveStripAccents(n map[string]any) {
	if n == nil {
		return
	}
	switch n["type"] {
	case "BertNormalizer":
		if n["strip_accents"] == nil {
			lower, _ := n["lowercase"].(bool)
			n["strip_accents"] = lower
		}
	case "Sequence":
		children, _ := n["normalizers"].([]any)
		for _, c := range children {
			if m, ok := c.(map[string]any); ok {
				resolveStripAccents(m)
			}
		}
	}
}

func toInt64(xs []int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}
