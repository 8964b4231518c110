package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colmap/colmap/internal/application/coordinator"
	"github.com/colmap/colmap/internal/application/llm"
	"github.com/colmap/colmap/internal/config"
	"github.com/colmap/colmap/internal/infrastructure/broadcast"
	"github.com/colmap/colmap/internal/infrastructure/httpapi"
	"github.com/colmap/colmap/internal/infrastructure/logger"
	"github.com/colmap/colmap/internal/infrastructure/storage"
)

func main() {
	var port = flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.Setup(cfg.LogLevel)
	log.Info("starting colmap extraction server",
		"version", "1.0.0",
		"port", cfg.Port,
	)

	store, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	log.Info("using sqlite store", "dsn", maskDSN(cfg.DatabaseDSN))

	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}
	log.Info("database schema initialized")

	hub := broadcast.NewHub(log)
	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout, cfg.LLMMaxRetries)
	coord := coordinator.New(store, llmClient, hub, cfg.ArchiveRoot)
	log.Info("coordinator initialized", "archive_root", cfg.ArchiveRoot)

	srv := httpapi.NewServer(store, coord, hub, llmClient, cfg.JWTSecret, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("available endpoints",
		"projects", "GET/POST /api/v1/projects",
		"fields", "POST /api/v1/projects/{projectID}/fields",
		"tasks", "POST /api/v1/projects/{projectID}/tasks",
		"stream", "GET /api/v1/tasks/{taskID}/stream",
		"records", "GET /api/v1/projects/{projectID}/records",
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := store.Close(); err != nil {
		log.Error("error closing storage", "error", err)
	}

	log.Info("server exited gracefully")
}

// maskDSN masks credentials embedded in a DSN string for safe logging.
func maskDSN(dsn string) string {
	if len(dsn) == 0 {
		return ""
	}

	start := -1
	end := -1
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' && start == -1 {
			if i+1 < len(dsn) && dsn[i+1] != '/' {
				start = i + 1
			}
		}
		if dsn[i] == '@' && start != -1 {
			end = i
			break
		}
	}

	if start != -1 && end != -1 && end > start {
		return dsn[:start] + "***" + dsn[end:]
	}
	return dsn
}
