package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"

	"github.com/umar7shaikh/financial-document-analyzer/internal/api"
	"github.com/umar7shaikh/financial-document-analyzer/internal/config"
	"github.com/umar7shaikh/financial-document-analyzer/internal/docstore"
	"github.com/umar7shaikh/financial-document-analyzer/internal/queue"
	"github.com/umar7shaikh/financial-document-analyzer/internal/store"
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
	logger.Info("api starting", "addr", cfg.HTTPAddr, "nats_url", cfg.Queue.URL, "docs_dir", cfg.DocsDir)

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
	logger.Info("result store ready")

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

	requestLogger := httplog.NewLogger("analyzer-api", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(requestLogger))
	r.Mount("/", api.New(st, q, docs, cfg.MaxUploadBytes, logger).Router())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "serve http", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
