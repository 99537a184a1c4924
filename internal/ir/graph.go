package ir

import (
	"sort"
	"strings"
)

// Graph is the structural model of one analyzed project: id-indexed node
// tables plus a normalized edge list. Edges are id pairs rather than object
// references, so DEPENDS_ON cycles are ordinary data.
//
// A Graph handed to the graph store is owned by it and must not be mutated.
type Graph struct {
	Classes   map[string]*ClassNode    `json:"classes"`
	Methods   map[string]*MethodNode   `json:"methods"`
	Endpoints map[string]*EndpointNode `json:"endpoints"`
	Edges     []Edge                   `json:"edges"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Classes:   make(map[string]*ClassNode),
		Methods:   make(map[string]*MethodNode),
		Endpoints: make(map[string]*EndpointNode),
	}
}

// ClassKind is the Java type declaration a class node comes from.
type ClassKind string

const (
	KindClass      ClassKind = "class"
	KindInterface  ClassKind = "interface"
	KindEnum       ClassKind = "enum"
	KindRecord     ClassKind = "record"
	KindAnnotation ClassKind = "annotation"
)

// ClassNode is one top-level type of the analyzed project.
type ClassNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	PackageName string    `json:"package_name"`
	Kind        ClassKind `json:"kind"`
	Labels      []string  `json:"labels,omitempty"`
	Modifiers   []string  `json:"modifiers,omitempty"`
	SourcePath  string    `json:"source_path,omitempty"`
}

// HasLabel reports whether the class carries the role tag.
func (c *ClassNode) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Parameter is a declared method parameter.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// MethodNode is a method or constructor owned by exactly one class.
type MethodNode struct {
	ID         string      `json:"id"`
	ClassID    string      `json:"class_id"`
	Name       string      `json:"name"`
	Signature  string      `json:"signature"`
	ReturnType string      `json:"return_type,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty"`
	Modifiers  []string    `json:"modifiers,omitempty"`
	Line       int         `json:"line,omitempty"`
}

// EndpointNode is an HTTP route backed by exactly one method.
type EndpointNode struct {
	ID         string `json:"id"`
	MethodID   string `json:"method_id"`
	Path       string `json:"path"`
	HTTPMethod string `json:"http_method"`
	Produces   string `json:"produces"`
	Consumes   string `json:"consumes"`
}

// EdgeKind classifies relationships.
type EdgeKind string

const (
	EdgeContains  EdgeKind = "CONTAINS"   // class -> method
	EdgeExposes   EdgeKind = "EXPOSES"    // method -> endpoint
	EdgeDependsOn EdgeKind = "DEPENDS_ON" // class -> class, may be cyclic
	EdgeCalls     EdgeKind = "CALLS"      // method -> method
)

// Injection types recorded on DEPENDS_ON edges.
const (
	InjectionConstructor = "constructor"
	InjectionField       = "field"
	InjectionSetter      = "setter"
)

// Edge is a directed id pair with optional attributes.
type Edge struct {
	Kind          EdgeKind `json:"kind"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	FieldName     string   `json:"field_name,omitempty"`
	InjectionType string   `json:"injection_type,omitempty"`
	Line          int      `json:"line,omitempty"`
}

// Key identifies an edge independent of its attributes.
func (e Edge) Key() string {
	return string(e.Kind) + "|" + e.From + "|" + e.To
}

// Namespace is the id space a node lives in.
type Namespace string

const (
	NamespaceClass    Namespace = "class"
	NamespaceMethod   Namespace = "method"
	NamespaceEndpoint Namespace = "endpoint"
)

// Namespaces lists node namespaces in a fixed order.
var Namespaces = []Namespace{NamespaceClass, NamespaceMethod, NamespaceEndpoint}

// Ends returns the namespaces of an edge kind's source and target.
func (k EdgeKind) Ends() (from, to Namespace, ok bool) {
	switch k {
	case EdgeContains:
		return NamespaceClass, NamespaceMethod, true
	case EdgeExposes:
		return NamespaceMethod, NamespaceEndpoint, true
	case EdgeDependsOn:
		return NamespaceClass, NamespaceClass, true
	case EdgeCalls:
		return NamespaceMethod, NamespaceMethod, true
	}
	return "", "", false
}

// Has reports whether a node with id exists in the namespace.
func (g *Graph) Has(ns Namespace, id string) bool {
	switch ns {
	case NamespaceClass:
		_, ok := g.Classes[id]
		return ok
	case NamespaceMethod:
		_, ok := g.Methods[id]
		return ok
	case NamespaceEndpoint:
		_, ok := g.Endpoints[id]
		return ok
	}
	return false
}

// Node returns the node with id in the namespace, or nil.
func (g *Graph) Node(ns Namespace, id string) any {
	switch ns {
	case NamespaceClass:
		if c, ok := g.Classes[id]; ok {
			return c
		}
	case NamespaceMethod:
		if m, ok := g.Methods[id]; ok {
			return m
		}
	case NamespaceEndpoint:
		if e, ok := g.Endpoints[id]; ok {
			return e
		}
	}
	return nil
}

// IDs returns the sorted ids of a namespace.
func (g *Graph) IDs(ns Namespace) []string {
	var ids []string
	switch ns {
	case NamespaceClass:
		ids = make([]string, 0, len(g.Classes))
		for id := range g.Classes {
			ids = append(ids, id)
		}
	case NamespaceMethod:
		ids = make([]string, 0, len(g.Methods))
		for id := range g.Methods {
			ids = append(ids, id)
		}
	case NamespaceEndpoint:
		ids = make([]string, 0, len(g.Endpoints))
		for id := range g.Endpoints {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Normalize sorts edges by (kind, from, to), drops duplicate keys keeping
// the first occurrence, and sorts the set-valued fields of every node.
// Two graphs with the same content normalize to the same value.
func (g *Graph) Normalize() {
	sort.SliceStable(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	out := g.Edges[:0]
	for i, e := range g.Edges {
		if i > 0 && e.Key() == out[len(out)-1].Key() {
			continue
		}
		out = append(out, e)
	}
	g.Edges = out

	for _, c := range g.Classes {
		c.Labels = SortedSet(c.Labels)
		c.Modifiers = SortedSet(c.Modifiers)
	}
	for _, m := range g.Methods {
		m.Modifiers = SortedSet(m.Modifiers)
	}
}

// EdgesFrom returns edges of kind leaving id, in normalized order.
func (g *Graph) EdgesFrom(kind EdgeKind, id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Kind == kind && e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns edges of kind arriving at id, in normalized order.
func (g *Graph) EdgesTo(kind EdgeKind, id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Kind == kind && e.To == id {
			out = append(out, e)
		}
	}
	return out
}

// Counts summarizes node and edge totals.
type Counts struct {
	Classes   int `json:"classes"`
	Methods   int `json:"methods"`
	Endpoints int `json:"endpoints"`
	Edges     int `json:"edges"`
}

// Counts returns node and edge totals.
func (g *Graph) Counts() Counts {
	return Counts{
		Classes:   len(g.Classes),
		Methods:   len(g.Methods),
		Endpoints: len(g.Endpoints),
		Edges:     len(g.Edges),
	}
}

// MethodID builds the composite key of a method from its owning class and
// signature, so overloads get distinct ids.
func MethodID(classID, signature string) string {
	return classID + "#" + signature
}

// Signature renders name(T1,T2) from a name and declared parameter types.
func Signature(name string, params []Parameter) string {
	types := make([]string, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return name + "(" + strings.Join(types, ",") + ")"
}

// EndpointID builds the id of an endpoint from its method, HTTP method and path.
func EndpointID(methodID, httpMethod, path string) string {
	return methodID + "@" + httpMethod + " " + path
}

// SortedSet returns the distinct values of s in ascending order, or nil when empty.
func SortedSet(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
