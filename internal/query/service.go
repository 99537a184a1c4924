// Package query answers read-only questions about committed graphs and
// renders deterministic reports. Every operation reads the current
// snapshot of a project and never waits for an in-flight analysis.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/graph"
)

// DefaultCacheMaxCost bounds the rendered report cache in bytes.
const DefaultCacheMaxCost = 64 << 20

// CacheMetrics counts report cache lookups.
type CacheMetrics interface {
	ReportCache(hit bool)
}

// Options configures a Service.
type Options struct {
	CacheMaxCost int64 // zero means DefaultCacheMaxCost, negative disables the cache
	Metrics      CacheMetrics
	Logger       *slog.Logger
}

// Service is the query and report surface over a graph store.
type Service struct {
	store   *graph.Store
	cache   *ristretto.Cache[string, []byte]
	metrics CacheMetrics
	logger  *slog.Logger
}

// New creates a Service reading from store.
func New(store *graph.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, apperr.Configurationf("query service requires a graph store")
	}
	s := &Service{store: store, metrics: opts.Metrics, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	maxCost := opts.CacheMaxCost
	if maxCost == 0 {
		maxCost = DefaultCacheMaxCost
	}
	if maxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters:        1e5,
			MaxCost:            maxCost,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("report cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Close releases the report cache.
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// snapshot returns the current committed graph of a project.
func (s *Service) snapshot(ctx context.Context, projectID string) (*graph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if projectID == "" {
		return nil, apperr.InvalidArgumentf("project id is required")
	}
	snap, ok := s.store.Current(projectID)
	if !ok {
		return nil, apperr.NotFoundf("no committed graph for project %s", projectID)
	}
	return snap, nil
}
