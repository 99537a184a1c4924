package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Link merges unit results into one normalized candidate graph. Results
// are processed in RelPath order, so the outcome does not depend on the
// order extraction finished in. References to types outside the project
// are dropped.
func Link(results []*UnitResult) (*ir.Graph, []Warning) {
	sorted := make([]*UnitResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	g := ir.NewGraph()
	var (
		warnings []Warning
		accepted []*UnitResult
		byClass  = map[string][]*ir.MethodNode{}
	)

	for _, r := range sorted {
		if r.Class == nil {
			continue
		}
		if prev, dup := g.Classes[r.Class.ID]; dup {
			warnings = append(warnings, Warning{
				Path:    r.RelPath,
				Kind:    string(apperr.KindExtraction),
				Message: fmt.Sprintf("duplicate class %s, first declared in %s", r.Class.ID, prev.SourcePath),
			})
			continue
		}
		c := *r.Class
		g.Classes[c.ID] = &c
		accepted = append(accepted, r)

		for _, m := range r.Methods {
			if _, dup := g.Methods[m.ID]; dup {
				continue
			}
			mc := *m
			g.Methods[mc.ID] = &mc
			byClass[mc.ClassID] = append(byClass[mc.ClassID], &mc)
		}
		for _, ep := range r.Endpoints {
			if _, dup := g.Endpoints[ep.ID]; dup {
				continue
			}
			ec := *ep
			g.Endpoints[ec.ID] = &ec
		}
		g.Edges = append(g.Edges, r.Edges...)
	}

	for _, r := range accepted {
		self := r.Class.ID
		for _, d := range r.Deps {
			to := resolveType(g, r, d.Type)
			if to == "" || to == self {
				continue
			}
			g.Edges = append(g.Edges, ir.Edge{
				Kind:          ir.EdgeDependsOn,
				From:          self,
				To:            to,
				FieldName:     d.FieldName,
				InjectionType: d.InjectionType,
				Line:          d.Line,
			})
		}

		fieldTypes := make(map[string]string, len(r.Fields))
		for _, f := range r.Fields {
			fieldTypes[f.Name] = f.Type
		}
		for _, c := range r.Calls {
			target := self
			if c.Field != "" {
				target = resolveType(g, r, fieldTypes[c.Field])
				if target == "" {
					continue
				}
			}
			callee := pickOverload(byClass[target], c.Name, c.Arity)
			if callee == nil {
				continue
			}
			g.Edges = append(g.Edges, ir.Edge{Kind: ir.EdgeCalls, From: c.From, To: callee.ID, Line: c.Line})
		}
	}

	g.Normalize()
	return g, warnings
}

// pickOverload returns the method with the given name and arity. Ties go to
// the smallest signature.
func pickOverload(methods []*ir.MethodNode, name string, arity int) *ir.MethodNode {
	var best *ir.MethodNode
	for _, m := range methods {
		if m.Name != name || len(m.Parameters) != arity {
			continue
		}
		if best == nil || m.Signature < best.Signature {
			best = m
		}
	}
	return best
}

// resolveType maps a type reference of unit r to a project class id, or ""
// for primitives and external types. Explicit imports win over the unit's
// own package, which wins over wildcard imports.
func resolveType(g *ir.Graph, r *UnitResult, typeName string) string {
	base := BaseType(typeName)
	if base == "" || IsPrimitive(base) {
		return ""
	}
	if strings.Contains(base, ".") {
		if _, ok := g.Classes[base]; ok {
			return base
		}
		return ""
	}
	for _, imp := range r.Imports {
		if imp.Static || imp.Wildcard {
			continue
		}
		if SimpleName(imp.Path) == base {
			if _, ok := g.Classes[imp.Path]; ok {
				return imp.Path
			}
			return ""
		}
	}
	local := base
	if r.Package != "" {
		local = r.Package + "." + base
	}
	if _, ok := g.Classes[local]; ok {
		return local
	}
	for _, imp := range r.Imports {
		if imp.Static || !imp.Wildcard {
			continue
		}
		if id := imp.Path + "." + base; g.Classes[id] != nil {
			return id
		}
	}
	return ""
}
