package graph

import (
	"context"
	"sync"

	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Change is one commit handed to a Persister: the new snapshot plus the
// diff against the previous version.
type Change struct {
	Snapshot *Snapshot
	Diff     *Diff
}

// Persister stores committed graphs. Apply must be atomic: either the whole
// change and its version record land, or nothing does.
type Persister interface {
	Apply(ctx context.Context, change *Change) error
	// Load returns the current snapshot of every persisted project.
	Load(ctx context.Context) ([]*Snapshot, error)
	Drop(ctx context.Context, projectID string) error
}

// Projector mirrors committed graphs into a secondary read model. Projection
// is best effort and never blocks a commit.
type Projector interface {
	Name() string
	Project(ctx context.Context, snap *Snapshot, diff *Diff) error
	Drop(ctx context.Context, projectID string) error
}

// MemoryPersister keeps snapshots in process. It is used when durable
// storage is disabled and in tests.
type MemoryPersister struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot

	// FailNext makes the next Apply return this error, for tests.
	FailNext error
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{snaps: make(map[string]*Snapshot)}
}

// Apply implements Persister.
func (p *MemoryPersister) Apply(_ context.Context, change *Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailNext; err != nil {
		p.FailNext = nil
		return err
	}
	p.snaps[change.Snapshot.ProjectID] = change.Snapshot
	return nil
}

// Load implements Persister.
func (p *MemoryPersister) Load(context.Context) ([]*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Snapshot, 0, len(p.snaps))
	for _, s := range p.snaps {
		out = append(out, s)
	}
	return out, nil
}

// Drop implements Persister.
func (p *MemoryPersister) Drop(_ context.Context, projectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.snaps, projectID)
	return nil
}

// Metrics receives store events. Implementations must be safe for
// concurrent use; a nil Metrics is ignored.
type Metrics interface {
	CommitObserved(result string)
	ProjectionFailed(projector string)
	GraphSize(projectID string, counts ir.Counts)
}

// Commit results reported to Metrics.
const (
	CommitApplied   = "applied"
	CommitUnchanged = "unchanged"
	CommitRejected  = "rejected"
	CommitFailed    = "failed"
)
