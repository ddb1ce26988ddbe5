// Command server runs the atlas ingestion and retrieval service: it applies
// migrations, starts the document worker pool, and serves the HTTP API.
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

	"github.com/joho/godotenv"

	"github.com/atlaslearn/atlas/internal/api"
	"github.com/atlaslearn/atlas/internal/config"
	"github.com/atlaslearn/atlas/internal/database"
	"github.com/atlaslearn/atlas/internal/embed"
	"github.com/atlaslearn/atlas/internal/ingest"
	"github.com/atlaslearn/atlas/internal/log"
	"github.com/atlaslearn/atlas/internal/pipeline"
	"github.com/atlaslearn/atlas/internal/rag"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})
	logger.Info("starting atlas", "addr", cfg.Addr, "workers", cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations must run before Open: the pool registers pgvector types,
	// which the first migration creates.
	if err := database.Migrate(cfg.ConnString()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	if err := os.MkdirAll(cfg.StorageDir, 0o750); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	settingsStore := settings.NewStore(pool)
	documents := store.NewDocuments(pool)
	chunks := store.NewChunks(pool)
	resolver := embed.NewResolver(logger)
	extractor := ingest.NewExtractor(ingest.NewVision(), logger)

	processor := pipeline.NewProcessor(documents, chunks, settingsStore, resolver, extractor, logger)
	dispatcher := pipeline.NewDispatcher(processor, cfg.Workers, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	guard := rag.NewGuard(documents, settingsStore)
	retriever := rag.NewRetriever(chunks, guard, settingsStore, resolver, logger)

	server := api.NewServer(documents, dispatcher, retriever, cfg.StorageDir, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
