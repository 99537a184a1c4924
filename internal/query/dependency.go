package query

import (
	"context"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// DependencyRequest asks for the transitive DEPENDS_ON closure of a class.
type DependencyRequest struct {
	ProjectID string `json:"project_id"`
	ClassID   string `json:"class_id"`
	MaxDepth  int    `json:"max_depth,omitempty"` // zero means unlimited
}

// Dependency is one class reached from the root.
type Dependency struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Depth         int    `json:"depth"`
	From          string `json:"from"` // the class whose field or parameter introduced it
	FieldName     string `json:"field_name,omitempty"`
	InjectionType string `json:"injection_type,omitempty"`
}

// DependencyReport lists dependencies in depth-first discovery order.
type DependencyReport struct {
	ProjectID    string       `json:"project_id"`
	Version      int64        `json:"version"`
	ClassID      string       `json:"class_id"`
	MaxDepth     int          `json:"max_depth,omitempty"`
	Dependencies []Dependency `json:"dependencies"`
	Cycles       [][]string   `json:"cycles,omitempty"`
	Truncated    bool         `json:"truncated"`
}

func notFound(kind, id, projectID string) error {
	return apperr.NotFoundf("%s %s in project %s", kind, id, projectID)
}

// DependencyReport walks DEPENDS_ON edges from the requested class. A
// cycle is recorded once, as the path from the revisited class back to
// itself, and never looped.
func (s *Service) DependencyReport(ctx context.Context, req DependencyRequest) (*DependencyReport, error) {
	snap, err := s.snapshot(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	return dependencyReport(snap, req)
}

func dependencyReport(snap *graph.Snapshot, req DependencyRequest) (*DependencyReport, error) {
	if req.MaxDepth < 0 {
		return nil, apperr.InvalidArgumentf("max depth must not be negative")
	}
	if snap.Graph.Classes[req.ClassID] == nil {
		return nil, notFound("class", req.ClassID, snap.ProjectID)
	}
	rep := dependencies(snap.Graph, req.ClassID, req.MaxDepth)
	rep.ProjectID = snap.ProjectID
	rep.Version = snap.Version
	return rep, nil
}

const (
	unvisited = 0
	onStack   = 1
	done      = 2
)

func dependencies(g *ir.Graph, root string, maxDepth int) *DependencyReport {
	rep := &DependencyReport{ClassID: root, MaxDepth: maxDepth, Dependencies: []Dependency{}}
	adj := dependsOn(g)
	state := map[string]int{}
	var path []string

	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		state[id] = onStack
		path = append(path, id)
		for _, e := range adj[id] {
			switch state[e.To] {
			case onStack:
				rep.Cycles = append(rep.Cycles, cycleFrom(path, e.To))
				continue
			case done:
				continue
			}
			if maxDepth > 0 && depth >= maxDepth {
				rep.Truncated = true
				continue
			}
			name := e.To
			if c := g.Classes[e.To]; c != nil {
				name = c.Name
			}
			rep.Dependencies = append(rep.Dependencies, Dependency{
				ID:            e.To,
				Name:          name,
				Depth:         depth + 1,
				From:          id,
				FieldName:     e.FieldName,
				InjectionType: e.InjectionType,
			})
			visit(e.To, depth+1)
		}
		path = path[:len(path)-1]
		state[id] = done
	}
	visit(root, 0)
	return rep
}

// dependsOn indexes DEPENDS_ON edges by source. Normalized graphs keep
// edges sorted by target within a source.
func dependsOn(g *ir.Graph) map[string][]ir.Edge {
	adj := make(map[string][]ir.Edge)
	for _, e := range g.Edges {
		if e.Kind == ir.EdgeDependsOn {
			adj[e.From] = append(adj[e.From], e)
		}
	}
	return adj
}

// cycleFrom returns the stack suffix starting at id, closed with id.
func cycleFrom(path []string, id string) []string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == id {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, id)
		}
	}
	return []string{id, id}
}
