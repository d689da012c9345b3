// Package tokenizer turns text into BERT model inputs. Checkpoints that ship a
// Hugging Face tokenizer.json are served by the full tokenizer pipeline;
// checkpoints that only carry vocab.txt fall back to an in-process WordPiece
// tokenizer.
package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoTokenizer is returned by Load when the directory holds neither
// tokenizer.json nor vocab.txt.
var ErrNoTokenizer = errors.New("tokenizer: no tokenizer.json or vocab.txt")

// Encoding is one tokenized sequence, special tokens included. All slices
// have the same length.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Len returns the sequence length.
func (e Encoding) Len() int {
	return len(e.InputIDs)
}

// Tokenizer encodes a single text into model inputs truncated to the
// tokenizer's maximum length.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
}

// Kind names the tokenizer implementation Load picked.
type Kind string

const (
	KindHuggingFace Kind = "tokenizer.json"
	KindWordPiece   Kind = "vocab.txt"
)

// Load picks the tokenizer for a checkpoint directory. tokenizer.json wins
// over vocab.txt when both exist.
func Load(dir string, maxLen int) (Tokenizer, Kind, error) {
	if p := filepath.Join(dir, "tokenizer.json"); fileExists(p) {
		tok, err := NewHuggingFace(p, maxLen)
		if err != nil {
			return nil, "", err
		}
		return tok, KindHuggingFace, nil
	}
	if p := filepath.Join(dir, "vocab.txt"); fileExists(p) {
		lower := readLowercase(filepath.Join(dir, "tokenizer_config.json"))
		tok, err := NewWordPiece(p, lower, maxLen)
		if err != nil {
			return nil, "", err
		}
		return tok, KindWordPiece, nil
	}
	return nil, "", fmt.Errorf("%w in %s", ErrNoTokenizer, dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
