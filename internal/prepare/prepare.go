// Package prepare builds a local checkpoint directory from a Hugging Face Hub
// repository: config, ONNX graph and tokenizer files.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/engine/checkpoint"
	"github.com/crimson-sun/bertserve/internal/engine/tokenizer"
	"github.com/crimson-sun/bertserve/internal/hub"
)

// modelFile is where the downloaded graph is saved, whichever export it came from.
const modelFile = "model.onnx"

// tokenizerFiles are downloaded when the repository has them.
var tokenizerFiles = []string{
	"tokenizer.json",
	"vocab.txt",
	"tokenizer_config.json",
	"special_tokens_map.json",
}

// ExpectedFiles is what a complete checkpoint directory holds. Missing ones
// are reported, not fatal.
var ExpectedFiles = []string{
	checkpoint.ConfigFile,
	modelFile,
	"tokenizer_config.json",
	"vocab.txt",
	"special_tokens_map.json",
}

// Downloader fetches one repository file to a local path.
type Downloader interface {
	Download(ctx context.Context, repo, revision, file, dest string) (int64, error)
}

// Options selects the source and destination of a run.
type Options struct {
	Dir      string
	Repo     string // empty: the preset's repository
	Revision string // empty: "main"
	Force    bool
}

// Report summarizes a run.
type Report struct {
	Dir         string
	Repo        string
	Revision    string
	Skipped     bool     // an existing checkpoint was kept
	ModelSource string   // repository path the graph was taken from
	Files       []string // files written
	Missing     []string // ExpectedFiles absent after the run
}

// Preparer downloads checkpoints.
type Preparer struct {
	hub Downloader
	log *zap.Logger
}

// New creates a Preparer. A nil logger discards output.
func New(d Downloader, log *zap.Logger) *Preparer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Preparer{hub: d, log: log}
}

// Run materializes preset into opts.Dir.
func (p *Preparer) Run(ctx context.Context, preset Preset, opts Options) (Report, error) {
	rep := Report{Dir: opts.Dir, Repo: opts.Repo, Revision: opts.Revision}
	if rep.Repo == "" {
		rep.Repo = preset.Repo
	}
	if rep.Revision == "" {
		rep.Revision = "main"
	}
	log := p.log.With(zap.String("preset", preset.Name), zap.String("repo", rep.Repo), zap.String("dir", rep.Dir))

	if err := os.MkdirAll(rep.Dir, 0o755); err != nil {
		return rep, fmt.Errorf("prepare: %w", err)
	}

	if preset.SkipExisting && !opts.Force && checkpoint.Exists(rep.Dir) {
		log.Info("Found existing checkpoint, nothing to do")
		rep.Skipped = true
		rep.Missing = missing(rep.Dir)
		return rep, nil
	}

	if err := p.fetch(ctx, &rep, checkpoint.ConfigFile, checkpoint.ConfigFile); err != nil {
		return rep, fmt.Errorf("prepare: %s: %w", checkpoint.ConfigFile, err)
	}

	if err := p.fetchModel(ctx, &rep, log); err != nil {
		return rep, err
	}

	for _, f := range tokenizerFiles {
		err := p.fetch(ctx, &rep, f, f)
		if errors.Is(err, hub.ErrNotFound) {
			log.Debug("Optional file not in repository", zap.String("file", f))
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("prepare: %s: %w", f, err)
		}
	}
	if !hasTokenizer(rep.Dir) {
		return rep, fmt.Errorf("prepare: %s: %w", rep.Repo, tokenizer.ErrNoTokenizer)
	}

	if preset.Labels != nil {
		if err := checkpoint.SetLabels(rep.Dir, preset.Labels); err != nil {
			return rep, fmt.Errorf("prepare: %w", err)
		}
		log.Info("Normalized labels", zap.Any("id2label", preset.Labels))
	}

	if _, err := checkpoint.Open(rep.Dir); err != nil {
		return rep, fmt.Errorf("prepare: verify: %w", err)
	}

	rep.Missing = missing(rep.Dir)
	if len(rep.Missing) > 0 {
		log.Warn("Some expected files are absent (may be fine for this tokenizer format)", zap.Strings("missing", rep.Missing))
	} else {
		log.Info("All expected files present")
	}
	return rep, nil
}

// fetchModel tries each ONNX export layout in order and saves the first one
// found as model.onnx.
func (p *Preparer) fetchModel(ctx context.Context, rep *Report, log *zap.Logger) error {
	for _, c := range checkpoint.ONNXCandidates {
		src := filepath.ToSlash(c)
		err := p.fetch(ctx, rep, src, modelFile)
		if err == nil {
			rep.ModelSource = src
			log.Info("Saved ONNX graph", zap.String("source", src))
			return nil
		}
		if !errors.Is(err, hub.ErrNotFound) {
			return fmt.Errorf("prepare: %s: %w", src, err)
		}
		log.Info("ONNX export not in repository, trying next layout", zap.String("source", src))
	}
	return fmt.Errorf("prepare: %s: %w", rep.Repo, checkpoint.ErrNoONNXModel)
}

func (p *Preparer) fetch(ctx context.Context, rep *Report, src, name string) error {
	n, err := p.hub.Download(ctx, rep.Repo, rep.Revision, src, filepath.Join(rep.Dir, name))
	if err != nil {
		return err
	}
	p.log.Debug("Downloaded", zap.String("file", src), zap.Int64("bytes", n))
	rep.Files = append(rep.Files, name)
	return nil
}

func hasTokenizer(dir string) bool {
	for _, f := range []tokenizer.Kind{tokenizer.KindHuggingFace, tokenizer.KindWordPiece} {
		if fileExists(filepath.Join(dir, string(f))) {
			return true
		}
	}
	return false
}

func missing(dir string) []string {
	var out []string
	for _, f := range ExpectedFiles {
		if !fileExists(filepath.Join(dir, f)) {
			out = append(out, f)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
