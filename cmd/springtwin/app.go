package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Lezhik/SpringTwin/internal/api"
	"github.com/Lezhik/SpringTwin/internal/config"
	"github.com/Lezhik/SpringTwin/internal/gateway"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/graph/neo4j"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/server"
	"github.com/Lezhik/SpringTwin/internal/storage/badger"
	"github.com/Lezhik/SpringTwin/internal/vector"
	"github.com/Lezhik/SpringTwin/internal/vector/qdrant"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	audit   *observability.AuditLogger

	db       *badger.DB // nil when storage.path is empty
	neo      *neo4j.Projector
	qdrant   *qdrant.Repository
	index    *vector.Indexer
	store    *graph.Store
	hub      *api.Hub
	jobs     *jobs.Coordinator
	query    *query.Service
	projects *project.Service
	gateway  *gateway.Gateway
}

type appOptions struct {
	// Privileged grants write tools to every gateway caller.
	Privileged bool
	// Publishers receive job events in addition to the SSE hub.
	Publishers []jobs.Publisher
}

// newApp opens storage, connects optional projections and builds the
// analysis pipeline. Close releases everything newApp acquired.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if cfg.Gateway.AuditPath != "" {
		a.audit, err = observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: cfg.Gateway.AuditPath})
		if err != nil {
			return nil, err
		}
	}

	var persister graph.Persister
	repo := project.Repository(project.NewMemoryRepository())
	if cfg.Storage.Path != "" {
		bcfg := badger.DefaultConfig(cfg.Storage.Path)
		bcfg.SyncWrites = cfg.Storage.SyncWrites
		bcfg.GCInterval = cfg.Storage.GCInterval
		bcfg.Logger = logger
		if a.db, err = badger.Open(bcfg); err != nil {
			return nil, err
		}
		persister = badger.NewGraphPersister(a.db)
		repo = badger.NewProjectRepository(a.db)
	}

	var projectors []graph.Projector
	if cfg.Graph.URI != "" {
		a.neo, err = neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		}, logger)
		if err != nil {
			return nil, err
		}
		projectors = append(projectors, a.neo)
	}

	var vrepo vector.Repository = vector.NewMemoryRepository()
	if cfg.Vector.Host != "" {
		if a.qdrant, err = qdrant.New(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection); err != nil {
			return nil, err
		}
		if err = a.qdrant.EnsureCollection(ctx, cfg.Vector.Dimensions); err != nil {
			return nil, err
		}
		vrepo = a.qdrant
	}
	a.index = vector.NewIndexer(vrepo, vector.NewHashEmbedder(cfg.Vector.Dimensions), logger)
	projectors = append(projectors, a.index)

	a.store = graph.NewStore(graph.Options{
		Persister:  persister,
		Projectors: projectors,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	if err = a.store.Restore(ctx); err != nil {
		return nil, err
	}

	a.hub = api.NewHub(logger)
	publishers := jobs.Publishers{a.hub, jobs.PublisherFunc(a.auditFinished)}
	publishers = append(publishers, opts.Publishers...)

	a.jobs, err = jobs.NewCoordinator(jobs.Options{
		Store:            a.store,
		Workers:          cfg.Analysis.Workers,
		Parallelism:      cfg.Analysis.Parallelism,
		Timeout:          cfg.Analysis.Timeout,
		ProgressInterval: cfg.Analysis.ProgressInterval,
		WarningThreshold: cfg.Analysis.WarningThreshold,
		MaxJobs:          cfg.Analysis.MaxJobs,
		ExcludeDirs:      cfg.Analysis.ExcludeDirs,
		IncludeTests:     cfg.Analysis.IncludeTests,
		FollowGitignore:  cfg.Analysis.FollowGitignore,
		Publisher:        publishers,
		Metrics:          a.metrics,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	if a.query, err = query.New(a.store, query.Options{CacheMaxCost: cfg.Report.CacheMaxCost, Metrics: a.metrics, Logger: logger}); err != nil {
		return nil, err
	}
	a.projects = project.NewService(repo, logger)

	a.gateway, err = gateway.New(gateway.Options{
		Query:      a.query,
		Jobs:       a.jobs,
		Projects:   a.projects,
		Search:     a.index,
		Privileged: opts.Privileged,
		Audit:      a.audit,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) auditFinished(e jobs.Event) {
	if a.audit == nil || e.Job == nil || !e.Job.State.Terminal() {
		return
	}
	var d time.Duration
	if e.Job.StartedAt != nil && e.Job.FinishedAt != nil {
		d = e.Job.FinishedAt.Sub(*e.Job.StartedAt)
	}
	a.audit.LogJobFinish(context.Background(), e.ProjectID, e.JobID, string(e.Job.State), d, e.Job.Stats.Version)
}

// registerChecks adds a probe for every external dependency.
func (a *app) registerChecks(h *server.HealthServer) {
	h.RegisterCheck("jobs", server.JobsChecker(a.jobs.Running, a.jobs.Workers()))
	if a.db != nil {
		h.RegisterCheck("badger", server.PingChecker("badger", a.db.Ping))
	}
	if a.neo != nil {
		h.RegisterCheck("neo4j", server.ProjectorChecker("neo4j", a.neo.Ping))
	}
	if a.qdrant != nil {
		h.RegisterCheck("qdrant", server.ProjectorChecker("qdrant", a.qdrant.Ping))
	}
}

// registerHooks hands every component to the shutdown handler in
// dependency order.
func (a *app) registerHooks(s *server.ShutdownHandler) {
	s.Register(server.JobsHook(a.jobs.Shutdown))
	s.Register(server.QueryHook(a.query.Close))
	if a.neo != nil {
		s.Register(server.StorageHook("neo4j", func() error { return a.neo.Close(context.Background()) }))
	}
	if a.qdrant != nil {
		s.Register(server.StorageHook("qdrant", a.qdrant.Close))
	}
	if a.db != nil {
		s.Register(server.StorageHook("badger", a.db.Close))
	}
	if a.audit != nil {
		s.Register(server.AuditHook(a.audit.Close))
	}
}

// Close shuts the pipeline down for commands that do not use the
// shutdown handler.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.jobs != nil {
		errs = append(errs, a.jobs.Shutdown(ctx))
	}
	if a.query != nil {
		a.query.Close()
	}
	if a.neo != nil {
		errs = append(errs, a.neo.Close(ctx))
	}
	if a.qdrant != nil {
		errs = append(errs, a.qdrant.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("close components", slog.String("error", err.Error()))
	}
}

// ensureProject returns the project registered for root, creating it
// when none exists.
func (a *app) ensureProject(ctx context.Context, root string, include, exclude []string) (*project.Project, error) {
	list, err := a.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Path == root {
			if len(include) == 0 && len(exclude) == 0 {
				return p, nil
			}
			return a.projects.Update(ctx, p.ID, project.Request{Name: p.Name, Path: root, IncludePackages: include, ExcludePackages: exclude})
		}
	}
	return a.projects.Create(ctx, project.Request{Name: baseName(root), Path: root, IncludePackages: include, ExcludePackages: exclude})
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
