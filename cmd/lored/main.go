// Command lored serves the chat, search, extraction and ingestion API
// over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xhad/lore/internal/app"
	"github.com/xhad/lore/pkg/config"
	"github.com/xhad/lore/server"
)

func main() {
	if err := run(); err != nil {
		zap.NewExample().Fatal("lored failed", zap.Error(err))
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Embedder.Ping(ctx); err != nil {
		logger.Warn("embedding backend not reachable yet", zap.Error(err))
	}

	srv, err := server.New(server.Deps{
		RAG:       application.RAG,
		Pipeline:  application.Pipeline,
		Embedder:  application.Embedder,
		Docs:      application.Docs,
		Extractor: application.Extractor,
		Engine:    application.Engine,
		Tools:     application.Tools,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
		return err
	}
	return nil
}
