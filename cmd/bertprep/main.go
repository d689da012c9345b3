// Command bertprep downloads a checkpoint from the Hugging Face Hub into the
// directory bertserve loads from.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/config"
	"github.com/crimson-sun/bertserve/internal/hub"
	"github.com/crimson-sun/bertserve/internal/logging"
	"github.com/crimson-sun/bertserve/internal/prepare"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("bertprep", pflag.ContinueOnError)
	presetName := fs.String("preset", "base", "checkpoint preset: "+strings.Join(prepare.Names(), ", "))
	repo := fs.String("repo", "", "Hub repository (default: the preset's)")
	revision := fs.String("revision", "main", "Hub revision: branch, tag or commit")
	dir := fs.String("dir", "model/bert_text_classifier", "destination checkpoint directory")
	force := fs.Bool("force", false, "download even when the directory already holds a checkpoint")
	token := fs.String("token", os.Getenv("HF_TOKEN"), "Hub access token (default $HF_TOKEN)")
	endpoint := fs.String("endpoint", hub.DefaultBaseURL, "Hub base URL")
	timeout := fs.Duration("timeout", 10*time.Minute, "per-file download timeout")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.New(config.LogConfig{Level: *logLevel, Format: "console"})
	defer func() { _ = log.Sync() }()

	preset, err := prepare.Lookup(*presetName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := hub.New(*token, hub.WithBaseURL(*endpoint), hub.WithTimeout(*timeout))
	rep, err := prepare.New(client, log).Run(ctx, preset, prepare.Options{
		Dir:      *dir,
		Repo:     *repo,
		Revision: *revision,
		Force:    *force,
	})
	if err != nil {
		return err
	}

	if rep.Skipped {
		log.Info("Checkpoint already present", zap.String("dir", rep.Dir))
	} else {
		log.Info("Checkpoint ready",
			zap.String("dir", rep.Dir),
			zap.String("repo", rep.Repo),
			zap.String("revision", rep.Revision),
			zap.String("model_source", rep.ModelSource),
			zap.Strings("files", rep.Files),
		)
	}
	fmt.Fprintf(os.Stderr, "Done. You can now run: bertserve --model-dir %s\n", rep.Dir)
	return nil
}
