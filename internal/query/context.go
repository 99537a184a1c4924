package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lezhik/SpringTwin/internal/extractor"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// ContextRequest selects the part of a project summarized by ExportContext.
type ContextRequest struct {
	ProjectID string `json:"project_id"`
	Package   string `json:"package,omitempty"`
}

// roleSections orders the component listing. A class appears under its
// first matching role.
var roleSections = []struct {
	label string
	title string
}{
	{extractor.LabelController, "Controllers"},
	{extractor.LabelService, "Services"},
	{extractor.LabelRepository, "Repositories"},
	{extractor.LabelComponent, "Components"},
	{extractor.LabelConfiguration, "Configuration"},
	{extractor.LabelEntity, "Entities"},
}

// ExportContext renders a Markdown architecture digest sized for an LLM
// prompt: counts, HTTP surface, components with their dependencies and
// dependency cycles.
func (s *Service) ExportContext(ctx context.Context, req ContextRequest) (string, error) {
	snap, err := s.snapshot(ctx, req.ProjectID)
	if err != nil {
		return "", err
	}
	return exportContext(snap, req)
}

func exportContext(snap *graph.Snapshot, req ContextRequest) (string, error) {
	inPackage, err := packageMatcher(req.Package)
	if err != nil {
		return "", err
	}
	g := snap.Graph
	var classes []*ir.ClassNode
	selected := map[string]bool{}
	for _, id := range g.IDs(ir.NamespaceClass) {
		if c := g.Classes[id]; inPackage(c.PackageName) {
			classes = append(classes, c)
			selected[id] = true
		}
	}
	methods, endpoints := 0, 0
	for _, m := range g.Methods {
		if selected[m.ClassID] {
			methods++
		}
	}
	for _, e := range g.Endpoints {
		if m := g.Methods[e.MethodID]; m != nil && selected[m.ClassID] {
			endpoints++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Architecture context: %s\n\n", snap.ProjectID)
	fmt.Fprintf(&b, "Graph version %d, committed %s.", snap.Version, snap.CommittedAt.UTC().Format(time.RFC3339))
	if req.Package != "" {
		fmt.Fprintf(&b, " Packages matching `%s`.", req.Package)
	}
	b.WriteString("\n\n")

	st := computeStats(g)
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Classes: %d\n", len(classes))
	fmt.Fprintf(&b, "- Methods: %d\n", methods)
	fmt.Fprintf(&b, "- Endpoints: %d\n", endpoints)
	fmt.Fprintf(&b, "- Dependency edges: %d\n", countKind(g, ir.EdgeDependsOn, selected))
	for _, l := range st.Labels {
		fmt.Fprintf(&b, "- Label `%s`: %d\n", l.Label, l.Count)
	}
	b.WriteString("\n")

	writeEndpointTable(&b, g, inPackage)

	placed := map[string]bool{}
	for _, sec := range roleSections {
		var members []*ir.ClassNode
		for _, c := range classes {
			if !placed[c.ID] && c.HasLabel(sec.label) {
				members = append(members, c)
				placed[c.ID] = true
			}
		}
		writeComponents(&b, g, sec.title, members)
	}
	var rest []*ir.ClassNode
	for _, c := range classes {
		if !placed[c.ID] {
			rest = append(rest, c)
		}
	}
	writeComponents(&b, g, "Other classes", rest)

	if len(st.Cycles) > 0 {
		b.WriteString("## Dependency cycles\n\n")
		for _, c := range st.Cycles {
			fmt.Fprintf(&b, "- %s\n", strings.Join(c, " -> "))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func countKind(g *ir.Graph, kind ir.EdgeKind, from map[string]bool) int {
	n := 0
	for _, e := range g.Edges {
		if e.Kind == kind && from[e.From] {
			n++
		}
	}
	return n
}

func writeEndpointTable(b *strings.Builder, g *ir.Graph, inPackage func(string) bool) {
	var rows []*ir.EndpointNode
	for _, id := range g.IDs(ir.NamespaceEndpoint) {
		e := g.Endpoints[id]
		if c := ownerClass(g, e.MethodID); c != nil && inPackage(c.PackageName) {
			rows = append(rows, e)
		}
	}
	if len(rows) == 0 {
		return
	}
	b.WriteString("## HTTP endpoints\n\n")
	b.WriteString("| Method | Path | Handler | Produces | Consumes |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, e := range rows {
		fmt.Fprintf(b, "| %s | `%s` | `%s` | %s | %s |\n",
			e.HTTPMethod, e.Path, displayName(g, e.MethodID), e.Produces, e.Consumes)
	}
	b.WriteString("\n")
}

func writeComponents(b *strings.Builder, g *ir.Graph, title string, classes []*ir.ClassNode) {
	if len(classes) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, c := range classes {
		fmt.Fprintf(b, "- `%s` (%s)", c.ID, c.Kind)
		deps := g.EdgesFrom(ir.EdgeDependsOn, c.ID)
		if len(deps) > 0 {
			names := make([]string, 0, len(deps))
			for _, d := range deps {
				name := displayName(g, d.To)
				if d.InjectionType != "" {
					name += " via " + d.InjectionType
				}
				names = append(names, name)
			}
			fmt.Fprintf(b, " depends on %s", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
