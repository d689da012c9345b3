package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// vocab is a WordPiece vocabulary. A token's ID is its 0-indexed line number
// in vocab.txt.
type vocab struct {
	ids map[string]int64

	unk   string
	unkID int64
	clsID int64
	sepID int64
}

// loadVocab reads a vocab.txt file from disk.
func loadVocab(path string) (*vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	v, err := parseVocab(f)
	if err != nil {
		return nil, fmt.Errorf("vocab: %s: %w", path, err)
	}
	return v, nil
}

// parseVocab reads one token per line. Trailing carriage returns from vocab
// files written on Windows are dropped.
func parseVocab(r io.Reader) (*vocab, error) {
	v := &vocab{ids: make(map[string]int64, 32000), unk: "[UNK]"}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var line int64
	for ; sc.Scan(); line++ {
		tok := strings.TrimRight(sc.Text(), "\r")
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if line == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	for _, s := range []struct {
		name string
		dest *int64
	}{
		{"[UNK]", &v.unkID},
		{"[CLS]", &v.clsID},
		{"[SEP]", &v.sepID},
	} {
		id, ok := v.ids[s.name]
		if !ok {
			return nil, fmt.Errorf("missing special token %s", s.name)
		}
		*s.dest = id
	}
	return v, nil
}

// id returns the token's ID, or the [UNK] ID when absent.
func (v *vocab) id(token string) int64 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.unkID
}

func (v *vocab) has(token string) bool {
	_, ok := v.ids[token]
	return ok
}
