package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// maxReported bounds how many violations an integrity error spells out.
const maxReported = 10

// Violations returns every referential problem in g, sorted.
func Violations(g *ir.Graph) []string {
	var out []string

	for _, e := range g.Edges {
		from, to, ok := e.Kind.Ends()
		if !ok {
			out = append(out, fmt.Sprintf("edge %s: unknown kind", e.Key()))
			continue
		}
		if !g.Has(from, e.From) {
			out = append(out, fmt.Sprintf("edge %s: missing %s %q", e.Key(), from, e.From))
		}
		if !g.Has(to, e.To) {
			out = append(out, fmt.Sprintf("edge %s: missing %s %q", e.Key(), to, e.To))
		}
	}

	for id, m := range g.Methods {
		if _, ok := g.Classes[m.ClassID]; !ok {
			out = append(out, fmt.Sprintf("method %q: class %q does not exist", id, m.ClassID))
		}
	}
	for id, ep := range g.Endpoints {
		if _, ok := g.Methods[ep.MethodID]; !ok {
			out = append(out, fmt.Sprintf("endpoint %q: method %q does not exist", id, ep.MethodID))
		}
	}

	contains := make(map[string]int, len(g.Methods))
	exposes := make(map[string]int, len(g.Endpoints))
	for _, e := range g.Edges {
		switch e.Kind {
		case ir.EdgeContains:
			contains[e.To]++
			if m, ok := g.Methods[e.To]; ok && m.ClassID != e.From {
				out = append(out, fmt.Sprintf("method %q: contained by %q but owned by %q", e.To, e.From, m.ClassID))
			}
		case ir.EdgeExposes:
			exposes[e.To]++
			if ep, ok := g.Endpoints[e.To]; ok && ep.MethodID != e.From {
				out = append(out, fmt.Sprintf("endpoint %q: exposed by %q but backed by %q", e.To, e.From, ep.MethodID))
			}
		}
	}
	for id := range g.Methods {
		if n := contains[id]; n != 1 {
			out = append(out, fmt.Sprintf("method %q: contained %d times", id, n))
		}
	}
	for id := range g.Endpoints {
		if n := exposes[id]; n != 1 {
			out = append(out, fmt.Sprintf("endpoint %q: exposed %d times", id, n))
		}
	}

	sort.Strings(out)
	return out
}

// Validate returns ErrGraphIntegrity when g has any violation.
func Validate(g *ir.Graph) error {
	v := Violations(g)
	if len(v) == 0 {
		return nil
	}
	shown := v
	if len(shown) > maxReported {
		shown = shown[:maxReported]
	}
	msg := strings.Join(shown, "; ")
	if len(v) > len(shown) {
		msg += fmt.Sprintf("; and %d more", len(v)-len(shown))
	}
	return fmt.Errorf("%w: %d violations: %s", apperr.ErrGraphIntegrity, len(v), msg)
}
