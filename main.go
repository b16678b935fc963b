package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/anasrobo/research-agent/features/research"
	"github.com/anasrobo/research-agent/internal/config"
	"github.com/anasrobo/research-agent/internal/index"
	"github.com/anasrobo/research-agent/internal/ingest"
	"github.com/anasrobo/research-agent/internal/logger"
	"github.com/anasrobo/research-agent/internal/middleware"
	"github.com/anasrobo/research-agent/internal/pipeline"
	"github.com/anasrobo/research-agent/internal/provider"
	"github.com/anasrobo/research-agent/internal/provider/gemini"
	"github.com/anasrobo/research-agent/internal/provider/hashing"
	"github.com/anasrobo/research-agent/internal/webfetch"
)

func main() {
	// Initialize structured logger
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	providerTimeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second

	// 2. Select the provider once. With a key, Gemini backed by the
	// deterministic variant at the remote dimension; without one, the
	// deterministic variant alone. Stages never branch on this again.
	var prov provider.Provider
	if cfg.GeminiAPIKey != "" {
		remote, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbedModel, providerTimeout)
		if err != nil {
			slog.Error("failed to create gemini provider", "error", err)
			os.Exit(1)
		}
		defer remote.Close()
		prov = provider.NewWithFallback(remote, hashing.New(remote.Dimension()))
		slog.Info("provider selected", "provider", prov.Name(), "dimension", prov.Dimension())
	} else {
		prov = hashing.New(cfg.EmbedDim)
		slog.Info("no provider key configured, running in deterministic mode", "dimension", prov.Dimension())
	}

	// 3. Index and ingestion
	ix := index.New(prov.Dimension())
	ingestService := ingest.NewService(prov, ix)

	watcher := ingest.NewWatcher(cfg.IngestDir, ingestService)
	if err := watcher.Start(ctx); err != nil {
		slog.Error("failed to start ingestion watcher", "error", err)
		os.Exit(1)
	}

	// 4. Fallback fetcher and pipeline
	fetcher := webfetch.New(ingestService, ix, prov, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
	store := pipeline.NewStore()
	orchestrator := pipeline.NewOrchestrator(prov, ix, fetcher, store, cfg.SearchTopK, cfg.ReadLimit)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// 5. Routes
	handler := research.NewHandler(orchestrator)
	http.Handle("POST /research", middleware.CorrelationID(enableCORS(handler.Submit)))
	http.Handle("GET /research/{task_id}", middleware.CorrelationID(enableCORS(handler.Get)))
	http.Handle("POST /api/endpoint", middleware.CorrelationID(enableCORS(handler.RunOnce)))
	http.HandleFunc("/healthz", handler.Health)

	// 6. Start Server
	slog.Info("server starting", "port", cfg.ServerPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.ServerPort), nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
