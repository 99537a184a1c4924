package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/Lezhik/SpringTwin/internal/config"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/server"
	"github.com/Lezhik/SpringTwin/internal/storage/badger"
	temporalmod "github.com/Lezhik/SpringTwin/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()
	storeOpts := graph.Options{Metrics: metrics, Logger: logger}
	var db *badger.DB
	if cfg.Storage.Path != "" {
		bcfg := badger.DefaultConfig(cfg.Storage.Path)
		bcfg.SyncWrites = cfg.Storage.SyncWrites
		bcfg.GCInterval = cfg.Storage.GCInterval
		bcfg.Logger = logger
		if db, err = badger.Open(bcfg); err != nil {
			log.Fatalf("storage: %v", err)
		}
		storeOpts.Persister = badger.NewGraphPersister(db)
	}
	store := graph.NewStore(storeOpts)
	if err := store.Restore(context.Background()); err != nil {
		log.Fatalf("restore: %v", err)
	}

	coord, err := jobs.NewCoordinator(jobs.Options{
		Store:            store,
		Workers:          cfg.Analysis.Workers,
		Parallelism:      cfg.Analysis.Parallelism,
		Timeout:          cfg.Analysis.Timeout,
		ProgressInterval: cfg.Analysis.ProgressInterval,
		WarningThreshold: cfg.Analysis.WarningThreshold,
		MaxJobs:          cfg.Analysis.MaxJobs,
		ExcludeDirs:      cfg.Analysis.ExcludeDirs,
		IncludeTests:     cfg.Analysis.IncludeTests,
		FollowGitignore:  cfg.Analysis.FollowGitignore,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("jobs: %v", err)
	}
	qs, err := query.New(store, query.Options{CacheMaxCost: cfg.Report.CacheMaxCost, Metrics: metrics, Logger: logger})
	if err != nil {
		log.Fatalf("query: %v", err)
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, &temporalmod.Activities{Jobs: coord, Query: qs, Logger: logger})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	logger.Info("worker started", slog.String("task_queue", cfg.Temporal.TaskQueue))

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{Timeout: cfg.Server.ShutdownTimeout, Logger: logger})
	shutdown.Register(server.TemporalWorkerHook(w.Stop))
	shutdown.Register(server.JobsHook(coord.Shutdown))
	shutdown.Register(server.QueryHook(qs.Close))
	shutdown.Register(server.StorageHook("temporal-client", func() error { c.Close(); return nil }))
	if db != nil {
		shutdown.Register(server.StorageHook("badger", db.Close))
	}
	shutdown.Start()

	if err := shutdown.Wait(); err != nil {
		logger.Error("worker shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
