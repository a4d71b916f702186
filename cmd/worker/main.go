package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/umar7shaikh/financial-document-analyzer/internal/analysis"
	"github.com/umar7shaikh/financial-document-analyzer/internal/config"
	"github.com/umar7shaikh/financial-document-analyzer/internal/docstore"
	"github.com/umar7shaikh/financial-document-analyzer/internal/llm"
	"github.com/umar7shaikh/financial-document-analyzer/internal/pipeline"
	"github.com/umar7shaikh/financial-document-analyzer/internal/queue"
	"github.com/umar7shaikh/financial-document-analyzer/internal/store"
	"github.com/umar7shaikh/financial-document-analyzer/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	if err := cfg.ValidateStore(); err != nil {
		fatal(logger, "validate config", err)
	}
	if err := cfg.ValidateLLM(); err != nil {
		fatal(logger, "validate config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.Queue.URL, "stream", cfg.Queue.Stream, "durable", cfg.Queue.Durable,
		"concurrency", cfg.Worker.Concurrency, "model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.QueryTimeout)
	if err != nil {
		fatal(logger, "connect result store", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		fatal(logger, "migrate result store", err)
	}

	q, err := queue.Connect(cfg.Queue)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.Queue.URL)
	}
	defer q.Close()
	if err := q.EnsureStream(); err != nil {
		fatal(logger, "ensure stream", err, "stream", cfg.Queue.Stream)
	}
	logger.Info("connected to NATS", "stream", cfg.Queue.Stream, "subject", cfg.Queue.Subject)

	docs, err := docstore.New(cfg.DocsDir)
	if err != nil {
		fatal(logger, "ensure document directory", err, "docs_dir", cfg.DocsDir)
	}

	provider := llm.NewClient(cfg.LLM, logger)
	exec := pipeline.NewExecutor(analysis.Stages(provider), st, pipeline.RetryPolicy{
		MaxAttempts:  cfg.Worker.StageMaxAttempts,
		Backoff:      cfg.Worker.StageBackoff,
		StageTimeout: cfg.Worker.StageTimeout,
	}, logger)
	w := worker.New(st, q, exec, docs, cfg.Worker.JobTimeout, cfg.Queue.AckWait, logger)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer loop exited", "loop", n, "err", err)
			}
		}(i)
	}
	logger.Info("listening for jobs", "loops", cfg.Worker.Concurrency)

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
