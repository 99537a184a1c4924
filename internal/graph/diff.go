package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/Lezhik/SpringTwin/internal/ir"
)

// NodeDiff lists changed node ids of one namespace, each sorted.
type NodeDiff struct {
	Inserted []string `json:"inserted,omitempty"`
	Updated  []string `json:"updated,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// Diff is the change set between the current graph and a candidate.
type Diff struct {
	Nodes        map[ir.Namespace]*NodeDiff `json:"nodes"`
	AddedEdges   []ir.Edge                  `json:"added_edges,omitempty"`
	UpdatedEdges []ir.Edge                  `json:"updated_edges,omitempty"`
	RemovedEdges []ir.Edge                  `json:"removed_edges,omitempty"`
}

// DiffSummary provides aggregate stats about a diff.
type DiffSummary struct {
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Deleted      int `json:"deleted"`
	EdgesAdded   int `json:"edges_added"`
	EdgesUpdated int `json:"edges_updated"`
	EdgesRemoved int `json:"edges_removed"`
}

// Empty reports whether the diff changes nothing.
func (d *Diff) Empty() bool {
	return d.Summary() == DiffSummary{}
}

// Summary counts the changes in d.
func (d *Diff) Summary() DiffSummary {
	var s DiffSummary
	if d == nil {
		return s
	}
	for _, nd := range d.Nodes {
		s.Inserted += len(nd.Inserted)
		s.Updated += len(nd.Updated)
		s.Deleted += len(nd.Deleted)
	}
	s.EdgesAdded = len(d.AddedEdges)
	s.EdgesUpdated = len(d.UpdatedEdges)
	s.EdgesRemoved = len(d.RemovedEdges)
	return s
}

// ComputeDiff compares two graphs by node-id sets and content hashes.
// A nil prev is treated as empty.
func ComputeDiff(prev, next *ir.Graph) *Diff {
	if prev == nil {
		prev = ir.NewGraph()
	}
	d := &Diff{Nodes: make(map[ir.Namespace]*NodeDiff, len(ir.Namespaces))}
	for _, ns := range ir.Namespaces {
		nd := &NodeDiff{}
		for _, id := range next.IDs(ns) {
			old := prev.Node(ns, id)
			switch {
			case old == nil:
				nd.Inserted = append(nd.Inserted, id)
			case NodeHash(old) != NodeHash(next.Node(ns, id)):
				nd.Updated = append(nd.Updated, id)
			}
		}
		for _, id := range prev.IDs(ns) {
			if !next.Has(ns, id) {
				nd.Deleted = append(nd.Deleted, id)
			}
		}
		d.Nodes[ns] = nd
	}

	oldEdges := make(map[string]ir.Edge, len(prev.Edges))
	for _, e := range prev.Edges {
		oldEdges[e.Key()] = e
	}
	seen := make(map[string]bool, len(next.Edges))
	for _, e := range next.Edges {
		k := e.Key()
		seen[k] = true
		old, ok := oldEdges[k]
		switch {
		case !ok:
			d.AddedEdges = append(d.AddedEdges, e)
		case old != e:
			d.UpdatedEdges = append(d.UpdatedEdges, e)
		}
	}
	for _, e := range prev.Edges {
		if !seen[e.Key()] {
			d.RemovedEdges = append(d.RemovedEdges, e)
		}
	}
	sortEdges(d.AddedEdges)
	sortEdges(d.UpdatedEdges)
	sortEdges(d.RemovedEdges)
	return d
}

// NodeHash is the content hash used to detect updated nodes.
func NodeHash(node any) string {
	data, err := json.Marshal(node)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortEdges(edges []ir.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key() < edges[j].Key() })
}
