// Package main is the run orchestrator's API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docseval/internal/blob"
	"docseval/internal/blob/minio"
	cacheredis "docseval/internal/cache/redis"
	"docseval/internal/config"
	"docseval/internal/eventbus/redis"
	"docseval/internal/eventlog"
	"docseval/internal/httpapi"
	"docseval/internal/ingestor"
	"docseval/internal/judge"
	"docseval/internal/metrics"
	"docseval/internal/modelclient"
	"docseval/internal/orchestrator"
	"docseval/internal/phase"
	"docseval/internal/runsm"
	"docseval/internal/storage"
	"docseval/internal/storage/memstore"
	"docseval/internal/storage/mongostore"
	"docseval/internal/storage/sqlstore"
	"docseval/internal/workerpool"
	"docseval/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.Default("api-server")

	logger.Info("starting API server", "env", cfg.Env)
	logger.Info("loaded config", "config", cfg.String())

	store, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to open storage backend", "driver", cfg.DatabaseDriver)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to storage backend", "driver", cfg.DatabaseDriver)

	bus, err := redis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Error("failed to connect event bus to redis")
		os.Exit(1)
	}
	defer bus.Close()
	logger.Info("connected event bus to redis")

	runCache, err := cacheredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Error("failed to connect run-snapshot cache to redis")
		os.Exit(1)
	}
	defer runCache.Close()
	logger.Info("connected run-snapshot cache to redis")

	blobClient, err := minio.NewClient(blob.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Bucket:    cfg.MinIO.Bucket,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create MinIO client")
		os.Exit(1)
	}
	ensureCtx, ensureCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := blobClient.EnsureBucket(ensureCtx); err != nil {
		ensureCancel()
		logger.WithError(err).Error("failed to ensure MinIO bucket")
		os.Exit(1)
	}
	ensureCancel()
	logger.Info("connected to MinIO artifact store")

	events := eventlog.New(store, bus)

	// No real model provider or docs crawler is wired yet (spec.md §9
	// Open Question: provider selection) — the Fake implementations let
	// the orchestrator, worker pool, and judge run end to end against
	// scripted responses until a real driver is plugged in here.
	client := &modelclient.Fake{}
	crawler := &ingestor.Fake{}

	j := judge.New(client)
	pool := workerpool.New(workerpool.Deps{
		Store:    store,
		Events:   events,
		Client:   client,
		Judge:    j,
		CostFunc: nil,
		Cache:    runCache,
		Logger:   logging.Default("workerpool"),
	})
	phaseExecutor := phase.New(phase.Deps{
		Store:  store,
		Events: events,
		Client: client,
		Blob:   blobClient,
		Pool:   pool,
		Logger: logging.Default("phase"),
	})
	machine := runsm.New(store, events)
	orch := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Events:   events,
		Ingestor: crawler,
		Phase:    phaseExecutor,
		RunSM:    machine,
		Logger:   logging.Default("orchestrator"),
	})

	m := metrics.New("docseval")
	h := httpapi.New(httpapi.Deps{
		Store:        store,
		Events:       events,
		Orchestrator: orch,
		Metrics:      m,
		Defaults:     cfg.Orchestrator,
		Logger:       logging.Default("httpapi"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown error")
		}
	}()

	logger.Info("API server listening", "port", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.WithError(err).Error("server error")
		os.Exit(1)
	}

	fmt.Println("Server stopped")
}

// openStore selects the storage backend named by cfg.DatabaseDriver.
// "memory" backs local development and CI without any external database.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return sqlstore.OpenSQLite(cfg.DatabaseURL)
	case "postgres":
		return sqlstore.OpenPostgres(cfg.DatabaseURL)
	case "mongodb":
		return mongostore.New(cfg.DatabaseURL, cfg.DatabaseDBName)
	case "memory":
		return memstore.New(), nil
	default:
		return mongostore.New(cfg.DatabaseURL, cfg.DatabaseDBName)
	}
}
