package query

import (
	"context"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// ClassFilter selects classes. Empty fields match everything.
type ClassFilter struct {
	ProjectID string `json:"project_id"`
	Package   string `json:"package,omitempty"` // scanner pattern syntax
	Label     string `json:"label,omitempty"`
	Name      string `json:"name,omitempty"` // case-insensitive substring
}

// ClassList is the result of ListClasses. Listed nodes are shared with the
// committed snapshot and must not be modified.
type ClassList struct {
	ProjectID string          `json:"project_id"`
	Version   int64           `json:"version"`
	Classes   []*ir.ClassNode `json:"classes"`
}

// MethodFilter selects methods by their owning class.
type MethodFilter struct {
	ProjectID string `json:"project_id"`
	Package   string `json:"package,omitempty"`
	ClassID   string `json:"class_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// MethodList is the result of ListMethods.
type MethodList struct {
	ProjectID string           `json:"project_id"`
	Version   int64            `json:"version"`
	Methods   []*ir.MethodNode `json:"methods"`
}

// EndpointFilter selects endpoints by their handler's class.
type EndpointFilter struct {
	ProjectID  string `json:"project_id"`
	Package    string `json:"package,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

// EndpointList is the result of ListEndpoints.
type EndpointList struct {
	ProjectID string             `json:"project_id"`
	Version   int64              `json:"version"`
	Endpoints []*ir.EndpointNode `json:"endpoints"`
}

// packageMatcher compiles an optional package pattern.
func packageMatcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	p, err := scanner.CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return p.Matches, nil
}

func containsFold(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// ListClasses returns matching classes sorted by id.
func (s *Service) ListClasses(ctx context.Context, f ClassFilter) (*ClassList, error) {
	snap, err := s.snapshot(ctx, f.ProjectID)
	if err != nil {
		return nil, err
	}
	inPackage, err := packageMatcher(f.Package)
	if err != nil {
		return nil, err
	}
	g := snap.Graph
	out := &ClassList{ProjectID: snap.ProjectID, Version: snap.Version, Classes: []*ir.ClassNode{}}
	for _, id := range g.IDs(ir.NamespaceClass) {
		c := g.Classes[id]
		if !inPackage(c.PackageName) || !containsFold(c.Name, f.Name) {
			continue
		}
		if f.Label != "" && !c.HasLabel(f.Label) {
			continue
		}
		out.Classes = append(out.Classes, c)
	}
	return out, nil
}

// ListMethods returns matching methods sorted by id.
func (s *Service) ListMethods(ctx context.Context, f MethodFilter) (*MethodList, error) {
	snap, err := s.snapshot(ctx, f.ProjectID)
	if err != nil {
		return nil, err
	}
	inPackage, err := packageMatcher(f.Package)
	if err != nil {
		return nil, err
	}
	g := snap.Graph
	if f.ClassID != "" && g.Classes[f.ClassID] == nil {
		return nil, notFound("class", f.ClassID, snap.ProjectID)
	}
	out := &MethodList{ProjectID: snap.ProjectID, Version: snap.Version, Methods: []*ir.MethodNode{}}
	for _, id := range g.IDs(ir.NamespaceMethod) {
		m := g.Methods[id]
		if f.ClassID != "" && m.ClassID != f.ClassID {
			continue
		}
		if c := g.Classes[m.ClassID]; c == nil || !inPackage(c.PackageName) {
			continue
		}
		if !containsFold(m.Name, f.Name) {
			continue
		}
		out.Methods = append(out.Methods, m)
	}
	return out, nil
}

// ListEndpoints returns matching endpoints sorted by id.
func (s *Service) ListEndpoints(ctx context.Context, f EndpointFilter) (*EndpointList, error) {
	snap, err := s.snapshot(ctx, f.ProjectID)
	if err != nil {
		return nil, err
	}
	inPackage, err := packageMatcher(f.Package)
	if err != nil {
		return nil, err
	}
	g := snap.Graph
	out := &EndpointList{ProjectID: snap.ProjectID, Version: snap.Version, Endpoints: []*ir.EndpointNode{}}
	for _, id := range g.IDs(ir.NamespaceEndpoint) {
		e := g.Endpoints[id]
		if f.HTTPMethod != "" && !strings.EqualFold(e.HTTPMethod, f.HTTPMethod) {
			continue
		}
		if !strings.HasPrefix(e.Path, f.PathPrefix) {
			continue
		}
		if c := ownerClass(g, e.MethodID); c == nil || !inPackage(c.PackageName) {
			continue
		}
		out.Endpoints = append(out.Endpoints, e)
	}
	return out, nil
}

func ownerClass(g *ir.Graph, methodID string) *ir.ClassNode {
	m := g.Methods[methodID]
	if m == nil {
		return nil
	}
	return g.Classes[m.ClassID]
}
