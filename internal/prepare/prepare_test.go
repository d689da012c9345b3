package prepare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/bertserve/internal/engine/checkpoint"
	"github.com/crimson-sun/bertserve/internal/engine/tokenizer"
	"github.com/crimson-sun/bertserve/internal/hub"
)

const rawConfig = `{
  "model_type": "distilbert",
  "architectures": ["DistilBertForSequenceClassification"],
  "id2label": {"0": "NEGATIVE", "1": "POSITIVE"},
  "label2id": {"NEGATIVE": 0, "POSITIVE": 1},
  "max_position_embeddings": 512,
  "dim": 768
}`

// fakeHub serves files for one repository at revision main and records every
// requested path.
type fakeHub struct {
	mu       sync.Mutex
	files    map[string]string
	requests []string
}

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path)
	f.mu.Unlock()

	const prefix = "/org/model/resolve/main/"
	body, ok := f.files[strings.TrimPrefix(r.URL.Path, prefix)]
	if !strings.HasPrefix(r.URL.Path, prefix) || !ok {
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}
	w.Write([]byte(body))
}

func (f *fakeHub) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func setup(t *testing.T, files map[string]string) (*Preparer, *fakeHub) {
	t.Helper()
	fh := &fakeHub{files: files}
	srv := httptest.NewServer(fh)
	t.Cleanup(srv.Close)
	client := hub.New("", hub.WithBaseURL(srv.URL), hub.WithBackoff(time.Millisecond))
	return New(client, nil), fh
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_BaseFallsBackToAlternateExport(t *testing.T) {
	p, fh := setup(t, map[string]string{
		"config.json":     rawConfig,
		"onnx/model.onnx": "graph-bytes",
		"vocab.txt":       "[PAD]\n[UNK]\n[CLS]\n[SEP]\n",
		"tokenizer.json":  "{}",
	})
	base, err := Lookup("base")
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "model")

	rep, err := p.Run(context.Background(), base, Options{Dir: dir, Repo: "org/model"})
	require.NoError(t, err)

	assert.False(t, rep.Skipped)
	assert.Equal(t, "main", rep.Revision)
	assert.Equal(t, "onnx/model.onnx", rep.ModelSource)
	assert.Equal(t, "graph-bytes", readFile(t, filepath.Join(dir, "model.onnx")))
	assert.ElementsMatch(t, []string{"config.json", "model.onnx", "tokenizer.json", "vocab.txt"}, rep.Files)
	assert.Equal(t, []string{"tokenizer_config.json", "special_tokens_map.json"}, rep.Missing)
	assert.Contains(t, fh.requested(), "/org/model/resolve/main/model.onnx")

	// Base keeps the repository's own labels.
	ck, err := checkpoint.Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "POSITIVE", ck.Config.ID2Label["1"])
}

func TestRun_BaseSkipsExistingCheckpoint(t *testing.T) {
	p, fh := setup(t, map[string]string{"config.json": rawConfig, "model.onnx": "new"})
	base, _ := Lookup("base")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(rawConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("old"), 0o644))

	rep, err := p.Run(context.Background(), base, Options{Dir: dir, Repo: "org/model"})
	require.NoError(t, err)

	assert.True(t, rep.Skipped)
	assert.Empty(t, fh.requested())
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "model.onnx")))
}

func TestRun_ForceRedownloads(t *testing.T) {
	p, _ := setup(t, map[string]string{
		"config.json": rawConfig,
		"model.onnx":  "new",
		"vocab.txt":   "[UNK]\n[CLS]\n[SEP]\n",
	})
	base, _ := Lookup("base")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(rawConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("old"), 0o644))

	rep, err := p.Run(context.Background(), base, Options{Dir: dir, Repo: "org/model", Force: true})
	require.NoError(t, err)

	assert.False(t, rep.Skipped)
	assert.Equal(t, "model.onnx", rep.ModelSource)
	assert.Equal(t, "new", readFile(t, filepath.Join(dir, "model.onnx")))
}

func TestRun_SST2NormalizesLabels(t *testing.T) {
	p, _ := setup(t, map[string]string{
		"config.json":               rawConfig,
		"onnx/model_quantized.onnx": "q",
		"tokenizer.json":            "{}",
		"tokenizer_config.json":     `{"do_lower_case": true}`,
		"special_tokens_map.json":   "{}",
		"vocab.txt":                 "[UNK]\n[CLS]\n[SEP]\n",
	})
	sst2, err := Lookup("sst2")
	require.NoError(t, err)
	dir := t.TempDir()
	// sst2 always downloads, even over an existing checkpoint.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(rawConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("old"), 0o644))

	rep, err := p.Run(context.Background(), sst2, Options{Dir: dir, Repo: "org/model"})
	require.NoError(t, err)

	assert.Equal(t, "onnx/model_quantized.onnx", rep.ModelSource)
	assert.Empty(t, rep.Missing)

	ck, err := checkpoint.Open(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "negative", "1": "positive"}, ck.Config.ID2Label)
	assert.Equal(t, map[string]int{"negative": 0, "positive": 1}, ck.Config.Label2ID)
	assert.Equal(t, 512, ck.Config.MaxPositionEmbeddings)
	assert.Contains(t, readFile(t, filepath.Join(dir, "config.json")), `"dim": 768`)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		check func(t *testing.T, err error)
	}{
		{
			name:  "missing config",
			files: map[string]string{"model.onnx": "g", "vocab.txt": "v"},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, hub.ErrNotFound) },
		},
		{
			name:  "no onnx export",
			files: map[string]string{"config.json": rawConfig, "vocab.txt": "v"},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, checkpoint.ErrNoONNXModel) },
		},
		{
			name:  "no tokenizer",
			files: map[string]string{"config.json": rawConfig, "model.onnx": "g"},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, tokenizer.ErrNoTokenizer) },
		},
		{
			name:  "invalid config",
			files: map[string]string{"config.json": "not json", "model.onnx": "g", "vocab.txt": "v"},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "verify") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := setup(t, tt.files)
			base, _ := Lookup("base")

			_, err := p.Run(context.Background(), base, Options{Dir: t.TempDir(), Repo: "org/model"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"base", "sst2"}, Names())

	sst2, err := Lookup("sst2")
	require.NoError(t, err)
	assert.Equal(t, "Xenova/distilbert-base-uncased-finetuned-sst-2-english", sst2.Repo)
	assert.False(t, sst2.SkipExisting)

	_, err = Lookup("large")
	assert.ErrorContains(t, err, "base, sst2")
}
