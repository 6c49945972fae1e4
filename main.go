package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ZaynJarvis/newtab/internal/arc"
	"github.com/ZaynJarvis/newtab/internal/config"
	"github.com/ZaynJarvis/newtab/internal/enrichment"
	"github.com/ZaynJarvis/newtab/internal/indexer"
	"github.com/ZaynJarvis/newtab/internal/logger"
	"github.com/ZaynJarvis/newtab/internal/metrics"
	"github.com/ZaynJarvis/newtab/internal/querycache"
	"github.com/ZaynJarvis/newtab/internal/search"
	"github.com/ZaynJarvis/newtab/internal/server"
	"github.com/ZaynJarvis/newtab/internal/storage"
	"github.com/ZaynJarvis/newtab/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env keeps the provider token out of the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logWriter := io.Writer(os.Stdout)
	if cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			slog.Error("failed to open log file", "error", err)
			os.Exit(1)
		}
		defer logFile.Close()
		logWriter = io.MultiWriter(os.Stdout, logFile)
	}
	logger.Init(logWriter, slog.LevelInfo)

	store, err := storage.NewPageDB(cfg.Store.Path)
	if err != nil {
		slog.Error("failed to open page database", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer store.Close()

	vectors := vectorstore.New(cfg.Vector.Dimension, cfg.Vector.SoftCap,
		cfg.Search.DropRatio, cfg.Search.MinAbsolute)
	rebuildVectorIndex(store, vectors)

	cache := querycache.New(cfg.Cache.Capacity,
		time.Duration(cfg.Cache.TTLDays)*24*time.Hour,
		cfg.Cache.PersistencePath, cfg.Cache.PersistEveryN)

	var enricher enrichment.Client
	if cfg.Enrichment.UseMock || cfg.Enrichment.Token == "" {
		slog.Info("using mock enrichment provider", "event", "provider_selected", "provider", "mock")
		enricher = enrichment.NewMock(cfg.Vector.Dimension)
	} else {
		slog.Info("using live enrichment provider", "event", "provider_selected", "provider", "ark")
		enricher = enrichment.NewArk(enrichment.ArkConfig{
			Endpoint:       cfg.Enrichment.Endpoint,
			Token:          cfg.Enrichment.Token,
			LLMModel:       cfg.Enrichment.LLMModel,
			EmbeddingModel: cfg.Enrichment.EmbeddingModel,
			Timeout:        cfg.EnrichmentTimeout(),
			Retries:        cfg.Enrichment.Retries,
		})
	}

	evictor := arc.NewEvictor(store, vectors, cfg.ProtectWindow(),
		cfg.Eviction.Capacity, cfg.Eviction.Headroom)

	pipeline := indexer.New(store, vectors, enricher, evictor,
		cfg.Staleness(), cfg.EnrichmentTimeout(), cfg.Eviction.RandomTriggerProb)
	defer pipeline.Close()

	retrieval := search.New(store, vectors, cache, enricher, search.Options{
		MaxResults:     cfg.Search.MaxResults,
		SemanticWeight: cfg.Search.SemanticWeight,
		KeywordWeight:  cfg.Search.KeywordWeight,
		FreqWeight:     cfg.Search.FreqWeight,
		DropRatio:      cfg.Search.DropRatio,
		MinAbsolute:    cfg.Search.MinAbsolute,
		KLexical:       cfg.Search.KLexical,
	})

	srv := server.New(cfg.Server.Addr, server.Deps{
		Pipeline:         pipeline,
		Search:           retrieval,
		Store:            store,
		Vectors:          vectors,
		Cache:            cache,
		Evictor:          evictor,
		Enricher:         enricher,
		EvictionCapacity: cfg.Eviction.Capacity,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runPeriodicEviction(rootCtx, evictor, cfg.SweepInterval())

	go func() {
		slog.Info("server listening", "addr", cfg.Server.Addr, "event", "server_started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	slog.Info("shutting down", "event", "server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	cache.ForceSave()
}

// rebuildVectorIndex reloads every stored embedding so semantic search is
// warm immediately after a restart.
func rebuildVectorIndex(store *storage.PageDB, vectors *vectorstore.VectorStore) {
	stored, err := store.AllEmbeddings()
	if err != nil {
		slog.Error("failed to load stored embeddings", "error", err, "event", "vector_rebuild_failed")
		return
	}
	loaded := 0
	for _, sv := range stored {
		if err := vectors.Add(sv.ID, sv.Embedding); err != nil {
			slog.Warn("skipping stored embedding", "page_id", sv.ID, "error", err)
			continue
		}
		loaded++
	}
	metrics.VectorCount.Set(float64(vectors.Size()))
	slog.Info("vector index rebuilt", "vectors_loaded", loaded, "event", "vector_rebuild_completed")
}

func runPeriodicEviction(ctx context.Context, evictor *arc.Evictor, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := evictor.Run(time.Now())
			if err != nil {
				slog.Error("periodic eviction failed", "error", err, "event", "eviction_failed")
				continue
			}
			if result.Evicted > 0 {
				metrics.PagesEvictedTotal.Add(float64(result.Evicted))
				metrics.IndexedPages.Set(float64(result.TotalAfter))
			}
		}
	}
}
