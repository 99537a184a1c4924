// Package graph holds the committed structural graph of every project.
//
// Each project has exactly one current Snapshot. Commits validate a
// candidate graph, diff it against the current one, persist the new
// version and then swap the snapshot pointer, so readers only ever observe
// fully committed versions.
package graph

import (
	"time"

	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Snapshot is one committed graph version. It is immutable once published.
type Snapshot struct {
	ProjectID   string    `json:"project_id"`
	Version     int64     `json:"version"`
	CommittedAt time.Time `json:"committed_at"`
	Counts      ir.Counts `json:"counts"`
	Graph       *ir.Graph `json:"graph"`

	// Generation changes whenever the project is dropped, so it tells apart
	// incarnations that reuse version numbers. It is process local.
	Generation int64 `json:"-"`
}

// Meta is the version record persisted alongside the nodes and edges.
type Meta struct {
	ProjectID   string    `json:"project_id"`
	Version     int64     `json:"version"`
	CommittedAt time.Time `json:"committed_at"`
	Counts      ir.Counts `json:"counts"`
}

// Meta returns the snapshot's version record.
func (s *Snapshot) Meta() Meta {
	return Meta{ProjectID: s.ProjectID, Version: s.Version, CommittedAt: s.CommittedAt, Counts: s.Counts}
}
