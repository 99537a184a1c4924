package query

import (
	"context"
	"sort"

	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Relation is one edge seen from the explained entity.
type Relation struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	FieldName     string `json:"field_name,omitempty"`
	InjectionType string `json:"injection_type,omitempty"`
	Line          int    `json:"line,omitempty"`
}

// ClassExplanation describes a class and its neighbourhood.
type ClassExplanation struct {
	ProjectID    string             `json:"project_id"`
	Version      int64              `json:"version"`
	Class        *ir.ClassNode      `json:"class"`
	Methods      []*ir.MethodNode   `json:"methods"`
	Endpoints    []*ir.EndpointNode `json:"endpoints"`
	Dependencies []Relation         `json:"dependencies"`
	Dependents   []Relation         `json:"dependents"`
}

// EndpointExplanation traces an endpoint to its handler and beyond.
type EndpointExplanation struct {
	ProjectID    string            `json:"project_id"`
	Version      int64             `json:"version"`
	Endpoint     *ir.EndpointNode  `json:"endpoint"`
	Handler      *ir.MethodNode    `json:"handler"`
	Class        *ir.ClassNode     `json:"class"`
	Calls        []Relation        `json:"calls"`
	Dependencies *DependencyReport `json:"dependencies"`
}

// MethodExplanation describes a method and its call sites.
type MethodExplanation struct {
	ProjectID string             `json:"project_id"`
	Version   int64              `json:"version"`
	Method    *ir.MethodNode     `json:"method"`
	Class     *ir.ClassNode      `json:"class"`
	Endpoints []*ir.EndpointNode `json:"endpoints"`
	Calls     []Relation         `json:"calls"`
	CalledBy  []Relation         `json:"called_by"`
}

// ExplainClass returns a class with its methods, endpoints and direct
// dependency edges in both directions.
func (s *Service) ExplainClass(ctx context.Context, projectID, classID string) (*ClassExplanation, error) {
	snap, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return explainClass(snap, classID)
}

func explainClass(snap *graph.Snapshot, classID string) (*ClassExplanation, error) {
	g := snap.Graph
	c := g.Classes[classID]
	if c == nil {
		return nil, notFound("class", classID, snap.ProjectID)
	}
	out := &ClassExplanation{
		ProjectID:    snap.ProjectID,
		Version:      snap.Version,
		Class:        c,
		Methods:      []*ir.MethodNode{},
		Endpoints:    []*ir.EndpointNode{},
		Dependencies: relations(g, g.EdgesFrom(ir.EdgeDependsOn, classID), false),
		Dependents:   relations(g, g.EdgesTo(ir.EdgeDependsOn, classID), true),
	}
	for _, e := range g.EdgesFrom(ir.EdgeContains, classID) {
		m := g.Methods[e.To]
		if m == nil {
			continue
		}
		out.Methods = append(out.Methods, m)
		out.Endpoints = append(out.Endpoints, exposed(g, m.ID)...)
	}
	sortEndpoints(out.Endpoints)
	return out, nil
}

// ExplainEndpoint returns the handler of an endpoint, its class, what the
// handler calls and the class's dependency report.
func (s *Service) ExplainEndpoint(ctx context.Context, projectID, endpointID string) (*EndpointExplanation, error) {
	snap, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return explainEndpoint(snap, endpointID)
}

func explainEndpoint(snap *graph.Snapshot, endpointID string) (*EndpointExplanation, error) {
	g := snap.Graph
	ep := g.Endpoints[endpointID]
	if ep == nil {
		return nil, notFound("endpoint", endpointID, snap.ProjectID)
	}
	handler := g.Methods[ep.MethodID]
	out := &EndpointExplanation{
		ProjectID: snap.ProjectID,
		Version:   snap.Version,
		Endpoint:  ep,
		Handler:   handler,
		Calls:     relations(g, g.EdgesFrom(ir.EdgeCalls, ep.MethodID), false),
	}
	if handler != nil {
		out.Class = g.Classes[handler.ClassID]
	}
	if out.Class != nil {
		deps := dependencies(g, out.Class.ID, 0)
		deps.ProjectID = snap.ProjectID
		deps.Version = snap.Version
		out.Dependencies = deps
	}
	return out, nil
}

// ExplainMethod returns a method with the endpoints it serves and its
// outgoing and incoming calls.
func (s *Service) ExplainMethod(ctx context.Context, projectID, methodID string) (*MethodExplanation, error) {
	snap, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return explainMethod(snap, methodID)
}

func explainMethod(snap *graph.Snapshot, methodID string) (*MethodExplanation, error) {
	g := snap.Graph
	m := g.Methods[methodID]
	if m == nil {
		return nil, notFound("method", methodID, snap.ProjectID)
	}
	return &MethodExplanation{
		ProjectID: snap.ProjectID,
		Version:   snap.Version,
		Method:    m,
		Class:     g.Classes[m.ClassID],
		Endpoints: exposed(g, methodID),
		Calls:     relations(g, g.EdgesFrom(ir.EdgeCalls, methodID), false),
		CalledBy:  relations(g, g.EdgesTo(ir.EdgeCalls, methodID), true),
	}, nil
}

func exposed(g *ir.Graph, methodID string) []*ir.EndpointNode {
	out := []*ir.EndpointNode{}
	for _, e := range g.EdgesFrom(ir.EdgeExposes, methodID) {
		if ep := g.Endpoints[e.To]; ep != nil {
			out = append(out, ep)
		}
	}
	return out
}

func sortEndpoints(eps []*ir.EndpointNode) {
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
}

// relations flattens edges, naming the far end. incoming selects From as
// the far end. The result is sorted by id then line.
func relations(g *ir.Graph, edges []ir.Edge, incoming bool) []Relation {
	out := make([]Relation, 0, len(edges))
	for _, e := range edges {
		id := e.To
		if incoming {
			id = e.From
		}
		out = append(out, Relation{
			ID:            id,
			Name:          displayName(g, id),
			FieldName:     e.FieldName,
			InjectionType: e.InjectionType,
			Line:          e.Line,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func displayName(g *ir.Graph, id string) string {
	if c := g.Classes[id]; c != nil {
		return c.Name
	}
	if m := g.Methods[id]; m != nil {
		if c := g.Classes[m.ClassID]; c != nil {
			return c.Name + "." + m.Signature
		}
		return m.Signature
	}
	return ""
}
