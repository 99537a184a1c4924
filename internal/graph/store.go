package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// slot is the per-project state. writeMu serializes commits; readers only
// load current.
type slot struct {
	writeMu  sync.Mutex
	current  atomic.Pointer[Snapshot]
	inFlight atomic.Int32
	dropped  atomic.Bool // set under writeMu once the slot left the map

	// Guarded by writeMu.
	generation int64
	stale      map[string]bool // projectors that need a full resync
}

// Options configures a Store.
type Options struct {
	Persister  Persister // nil means an in-memory persister
	Projectors []Projector
	Metrics    Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store is the versioned graph store.
type Store struct {
	persister  Persister
	projectors []Projector
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time

	slots       sync.Map // project id -> *slot
	generations atomic.Int64
}

// NewStore creates a Store. Call Restore to load persisted graphs.
func NewStore(opts Options) *Store {
	s := &Store{
		persister:  opts.Persister,
		projectors: opts.Projectors,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.persister == nil {
		s.persister = NewMemoryPersister()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) slot(projectID string) *slot {
	if v, ok := s.slots.Load(projectID); ok {
		return v.(*slot)
	}
	v, _ := s.slots.LoadOrStore(projectID, &slot{generation: s.generations.Add(1)})
	return v.(*slot)
}

// Restore loads every persisted snapshot and resyncs every projector with
// it. Existing in-memory state for the same projects is replaced. A
// projector that fails here is retried on the project's next commit.
func (s *Store) Restore(ctx context.Context) error {
	snaps, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore graphs: %w", err)
	}
	for _, loaded := range snaps {
		sl := s.slot(loaded.ProjectID)
		sl.writeMu.Lock()
		snap := *loaded
		snap.Generation = sl.generation
		sl.current.Store(&snap)
		s.observeSize(&snap)
		s.project(ctx, sl, &snap, nil)
		sl.writeMu.Unlock()
	}
	s.logger.Info("graph store restored", slog.Int("projects", len(snaps)))
	return nil
}

// Current returns the committed snapshot of a project.
func (s *Store) Current(projectID string) (*Snapshot, bool) {
	v, ok := s.slots.Load(projectID)
	if !ok {
		return nil, false
	}
	snap := v.(*slot).current.Load()
	return snap, snap != nil
}

// Projects returns the ids of projects with a committed graph, sorted.
func (s *Store) Projects() []string {
	var ids []string
	s.slots.Range(func(k, v any) bool {
		if v.(*slot).current.Load() != nil {
			ids = append(ids, k.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Candidate is an in-progress graph for one project. It is not visible to
// readers until committed.
type Candidate struct {
	ProjectID string
	Graph     *ir.Graph

	slot *slot
	done atomic.Bool
}

// Begin registers a candidate for projectID.
func (s *Store) Begin(projectID string) *Candidate {
	sl := s.slot(projectID)
	sl.inFlight.Add(1)
	return &Candidate{ProjectID: projectID, Graph: ir.NewGraph(), slot: sl}
}

// Discard releases a candidate that will not be committed. It is safe to
// call after Commit.
func (c *Candidate) Discard() {
	if c.done.CompareAndSwap(false, true) {
		c.slot.inFlight.Add(-1)
	}
}

// InFlight reports whether projectID has an uncommitted candidate.
func (s *Store) InFlight(projectID string) bool {
	v, ok := s.slots.Load(projectID)
	return ok && v.(*slot).inFlight.Load() > 0
}

// CommitResult describes the outcome of a commit.
type CommitResult struct {
	Snapshot *Snapshot `json:"snapshot"`
	Diff     *Diff     `json:"diff"`
	Changed  bool      `json:"changed"`
}

// Commit validates the candidate, diffs it against the current graph and,
// if anything changed, persists and publishes the new version. An empty
// diff returns the current snapshot unchanged. Once persistence starts the
// commit runs to completion regardless of ctx.
func (s *Store) Commit(ctx context.Context, c *Candidate) (*CommitResult, error) {
	if c.done.Load() {
		return nil, fmt.Errorf("commit %s: candidate already released", c.ProjectID)
	}
	defer c.Discard()

	sl := c.slot
	sl.writeMu.Lock()
	// A concurrent Drop may have retired the slot this candidate started on.
	for sl.dropped.Load() {
		sl.writeMu.Unlock()
		next := s.slot(c.ProjectID)
		next.inFlight.Add(1)
		sl.inFlight.Add(-1)
		c.slot, sl = next, next
		sl.writeMu.Lock()
	}
	defer sl.writeMu.Unlock()

	g := c.Graph
	g.Normalize()
	if err := Validate(g); err != nil {
		s.observeCommit(CommitRejected)
		return nil, fmt.Errorf("commit %s: %w", c.ProjectID, err)
	}

	prev := sl.current.Load()
	var prevGraph *ir.Graph
	if prev != nil {
		prevGraph = prev.Graph
	}
	diff := ComputeDiff(prevGraph, g)
	if prev != nil && diff.Empty() {
		s.observeCommit(CommitUnchanged)
		s.project(context.WithoutCancel(ctx), sl, prev, diff)
		return &CommitResult{Snapshot: prev, Diff: diff}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", c.ProjectID, context.Cause(ctx))
	}

	version := int64(1)
	if prev != nil {
		version = prev.Version + 1
	}
	snap := &Snapshot{
		ProjectID:   c.ProjectID,
		Version:     version,
		CommittedAt: s.now().UTC(),
		Counts:      g.Counts(),
		Graph:       g,
		Generation:  sl.generation,
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.persister.Apply(persistCtx, &Change{Snapshot: snap, Diff: diff}); err != nil {
		s.observeCommit(CommitFailed)
		return nil, fmt.Errorf("commit %s: persist version %d: %w", c.ProjectID, version, err)
	}
	sl.current.Store(snap)
	s.observeCommit(CommitApplied)
	s.observeSize(snap)

	sum := diff.Summary()
	s.logger.Info("graph committed",
		slog.String("project", c.ProjectID),
		slog.Int64("version", version),
		slog.Int("inserted", sum.Inserted),
		slog.Int("updated", sum.Updated),
		slog.Int("deleted", sum.Deleted))

	s.project(persistCtx, sl, snap, diff)
	return &CommitResult{Snapshot: snap, Diff: diff, Changed: true}, nil
}

// project hands snap to every projector. Projectors marked stale, or every
// projector when diff is nil, are resynced from scratch: the project is
// dropped from them and the whole graph projected as inserts. A failure
// marks the projector stale for the next attempt. Callers hold writeMu.
func (s *Store) project(ctx context.Context, sl *slot, snap *Snapshot, diff *Diff) {
	var full *Diff
	for _, p := range s.projectors {
		name := p.Name()
		var err error
		switch {
		case diff == nil || sl.stale[name]:
			if full == nil {
				full = ComputeDiff(nil, snap.Graph)
			}
			if err = p.Drop(ctx, snap.ProjectID); err == nil {
				err = p.Project(ctx, snap, full)
			}
		case diff.Empty():
			continue
		default:
			err = p.Project(ctx, snap, diff)
		}
		if err == nil {
			delete(sl.stale, name)
			continue
		}
		if sl.stale == nil {
			sl.stale = make(map[string]bool, len(s.projectors))
		}
		sl.stale[name] = true
		s.logger.Warn("graph projection failed",
			slog.String("projector", name),
			slog.String("project", snap.ProjectID),
			slog.Int64("version", snap.Version),
			slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.ProjectionFailed(name)
		}
	}
}

// Drop removes a project's graph from the store, the persister and every
// projector. Dropping an unknown project is a NotFound error.
func (s *Store) Drop(ctx context.Context, projectID string) error {
	v, ok := s.slots.Load(projectID)
	if !ok {
		return apperr.NotFoundf("graph for project %s", projectID)
	}
	sl := v.(*slot)
	sl.writeMu.Lock()
	defer sl.writeMu.Unlock()

	if err := s.persister.Drop(ctx, projectID); err != nil {
		return fmt.Errorf("drop %s: %w", projectID, err)
	}
	sl.current.Store(nil)
	sl.generation = s.generations.Add(1)
	clear(sl.stale)
	if sl.inFlight.Load() == 0 {
		sl.dropped.Store(true)
		s.slots.CompareAndDelete(projectID, sl)
	}
	for _, p := range s.projectors {
		if err := p.Drop(ctx, projectID); err != nil {
			s.logger.Warn("graph projection drop failed",
				slog.String("projector", p.Name()),
				slog.String("project", projectID),
				slog.String("error", err.Error()))
			if s.metrics != nil {
				s.metrics.ProjectionFailed(p.Name())
			}
		}
	}
	if s.metrics != nil {
		s.metrics.GraphSize(projectID, ir.Counts{})
	}
	return nil
}

func (s *Store) observeCommit(result string) {
	if s.metrics != nil {
		s.metrics.CommitObserved(result)
	}
}

func (s *Store) observeSize(snap *Snapshot) {
	if s.metrics != nil {
		s.metrics.GraphSize(snap.ProjectID, snap.Counts)
	}
}
