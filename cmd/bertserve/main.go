package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/cache"
	"github.com/crimson-sun/bertserve/internal/config"
	"github.com/crimson-sun/bertserve/internal/logging"
	"github.com/crimson-sun/bertserve/internal/metrics"
	"github.com/crimson-sun/bertserve/internal/server"
	"github.com/crimson-sun/bertserve/pkg/sentiment"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	// Load the model before serving; a missing checkpoint is fatal.
	start := time.Now()
	model, err := sentiment.New(
		sentiment.WithModelDir(cfg.Model.Dir),
		sentiment.WithRuntimeLibrary(cfg.Model.RuntimeLib),
		sentiment.WithMaxLength(cfg.Model.MaxLength),
		sentiment.WithIntraOpThreads(cfg.Model.IntraOpThreads),
	)
	if err != nil {
		log.Error("Failed to load model", zap.String("dir", cfg.Model.Dir), zap.Error(err))
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer model.Close()

	info := model.Info()
	log.Info("Model loaded",
		zap.String("dir", info.Dir),
		zap.String("model", info.ModelPath),
		zap.String("model_type", info.ModelType),
		zap.String("tokenizer", info.Tokenizer),
		zap.Int("num_labels", info.NumLabels),
		zap.Int("max_length", info.MaxLength),
		zap.Duration("took", time.Since(start)),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var cls server.Classifier = model
	var checks []server.Check

	// Redis is optional; continue without it when unreachable.
	if cfg.Cache.Addr != "" {
		c := cache.New(model, cache.NewClient(cfg.Cache), cache.Options{
			TTL:         cfg.Cache.TTL,
			Fingerprint: info.Fingerprint,
			Logger:      log,
			Metrics:     m,
		})
		defer c.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			log.Warn("Redis unreachable, lookups will miss until it recovers", zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		} else {
			log.Info("Connected to Redis", zap.String("addr", cfg.Cache.Addr))
		}
		cancel()

		cls = c
		checks = append(checks, server.Check{Name: "cache", Fn: c.Ping})
	}

	r := server.New(cls, server.Options{
		Logger:    log,
		Metrics:   m,
		Gatherer:  reg,
		StaticDir: cfg.Server.StaticDir,
		Checks:    checks,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
