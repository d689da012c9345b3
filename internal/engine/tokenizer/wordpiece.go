package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxWordChars is the longest basic token WordPiece will try to split.
// Longer tokens map straight to [UNK].
const maxWordChars = 100

// WordPiece is a BERT tokenizer built from a vocab.txt file: basic
// tokenization (cleanup, optional lowercasing and accent stripping,
// punctuation and CJK splitting) followed by greedy longest-match-first
// WordPiece. It holds only read-only state and is safe for concurrent use.
type WordPiece struct {
	vocab     *vocab
	lowercase bool
	maxLen    int
}

// NewWordPiece loads vocabPath. lowercase mirrors the checkpoint's
// do_lower_case setting. maxLen counts [CLS] and [SEP].
func NewWordPiece(vocabPath string, lowercase bool, maxLen int) (*WordPiece, error) {
	if maxLen < 3 {
		return nil, fmt.Errorf("wordpiece: max length %d leaves no room for text", maxLen)
	}
	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("wordpiece: %w", err)
	}
	return &WordPiece{vocab: v, lowercase: lowercase, maxLen: maxLen}, nil
}

// Encode tokenizes text into [CLS] tokens... [SEP], truncating the middle
// tokens so the sequence never exceeds maxLen. The sequence is not padded.
func (w *WordPiece) Encode(text string) (Encoding, error) {
	pieces := w.wordpiece(w.basicTokenize(text))
	if limit := w.maxLen - 2; len(pieces) > limit {
		pieces = pieces[:limit]
	}

	n := len(pieces) + 2
	enc := Encoding{
		InputIDs:      make([]int64, n),
		AttentionMask: make([]int64, n),
		TokenTypeIDs:  make([]int64, n),
	}
	enc.InputIDs[0] = w.vocab.clsID
	for i, p := range pieces {
		enc.InputIDs[i+1] = w.vocab.id(p)
	}
	enc.InputIDs[n-1] = w.vocab.sepID
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

func (w *WordPiece) basicTokenize(text string) []string {
	text = cleanText(text)
	text = spaceCJK(text)
	if w.lowercase {
		text = stripAccents(strings.ToLower(text))
	}

	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, splitOnPunctuation(word)...)
	}
	return tokens
}

func (w *WordPiece) wordpiece(words []string) []string {
	var out []string
	for _, word := range words {
		out = append(out, w.splitWord(word)...)
	}
	return out
}

// splitWord greedily matches the longest vocabulary prefix, continuing with
// "##"-prefixed pieces. A word with any unmatched remainder becomes [UNK].
func (w *WordPiece) splitWord(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []string{w.vocab.unk}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var match string
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if w.vocab.has(sub) {
				match = sub
				break
			}
		}
		if match == "" {
			return []string{w.vocab.unk}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// readLowercase reports the do_lower_case flag from tokenizer_config.json.
// Missing files or fields default to true, which is what uncased BERT
// checkpoints expect.
func readLowercase(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var cfg struct {
		DoLowerCase *bool `json:"do_lower_case"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.DoLowerCase == nil {
		return true
	}
	return *cfg.DoLowerCase
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
		case isWhitespace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func spaceCJK(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isCJK(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitOnPunctuation(word string) []string {
	var out []string
	start := -1
	for i, r := range word {
		if isPunctuation(r) {
			if start >= 0 {
				out = append(out, word[start:i])
				start = -1
			}
			out = append(out, string(r))
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, word[start:])
	}
	return out
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, matching
// BERT, in addition to the Unicode P categories.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
