package query

import (
	"context"
	"sort"

	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// LabelCount is the number of classes carrying a stereotype label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// GraphStats holds computed metrics about a project's class graph.
type GraphStats struct {
	ProjectID  string       `json:"project_id"`
	Version    int64        `json:"version"`
	Counts     ir.Counts    `json:"counts"`
	Packages   int          `json:"packages"`
	Labels     []LabelCount `json:"labels"`
	MaxFanOut  int          `json:"max_fan_out"` // most DEPENDS_ON edges leaving a class
	MaxFanIn   int          `json:"max_fan_in"`
	Hotspot    string       `json:"hotspot"` // class with the largest fan-out
	Components int          `json:"components"`
	Cycles     [][]string   `json:"cycles,omitempty"`
}

// Stats summarizes the committed graph of a project.
func (s *Service) Stats(ctx context.Context, projectID string) (*GraphStats, error) {
	snap, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return stats(snap), nil
}

func stats(snap *graph.Snapshot) *GraphStats {
	st := computeStats(snap.Graph)
	st.ProjectID = snap.ProjectID
	st.Version = snap.Version
	st.Counts = snap.Counts
	return st
}

func computeStats(g *ir.Graph) *GraphStats {
	st := &GraphStats{Labels: []LabelCount{}}
	classes := g.IDs(ir.NamespaceClass)

	packages := map[string]bool{}
	labels := map[string]int{}
	for _, id := range classes {
		c := g.Classes[id]
		packages[c.PackageName] = true
		for _, l := range c.Labels {
			labels[l]++
		}
	}
	st.Packages = len(packages)
	for l, n := range labels {
		st.Labels = append(st.Labels, LabelCount{Label: l, Count: n})
	}
	sort.Slice(st.Labels, func(i, j int) bool { return st.Labels[i].Label < st.Labels[j].Label })

	fanOut := map[string]int{}
	fanIn := map[string]int{}
	for _, e := range g.Edges {
		if e.Kind == ir.EdgeDependsOn {
			fanOut[e.From]++
			fanIn[e.To]++
		}
	}
	// Ties go to the smallest id.
	for _, id := range classes {
		if n := fanOut[id]; n > st.MaxFanOut {
			st.MaxFanOut = n
			st.Hotspot = id
		}
		if n := fanIn[id]; n > st.MaxFanIn {
			st.MaxFanIn = n
		}
	}

	st.Components = countComponents(g, classes)
	st.Cycles = detectCycles(g, classes)
	return st
}

// countComponents counts weakly connected class components via union-find.
func countComponents(g *ir.Graph, classes []string) int {
	parent := make(map[string]string, len(classes))
	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, id := range classes {
		find(id)
	}
	for _, e := range g.Edges {
		if e.Kind != ir.EdgeDependsOn {
			continue
		}
		if a, b := find(e.From), find(e.To); a != b {
			parent[a] = b
		}
	}
	roots := make(map[string]bool)
	for _, id := range classes {
		roots[find(id)] = true
	}
	return len(roots)
}

// detectCycles runs the dependency walk from every unvisited class in id
// order and collects each cycle once.
func detectCycles(g *ir.Graph, classes []string) [][]string {
	adj := dependsOn(g)
	state := map[string]int{}
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		path = append(path, id)
		for _, e := range adj[id] {
			switch state[e.To] {
			case onStack:
				cycles = append(cycles, cycleFrom(path, e.To))
			case unvisited:
				visit(e.To)
			}
		}
		path = path[:len(path)-1]
		state[id] = done
	}
	for _, id := range classes {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}
