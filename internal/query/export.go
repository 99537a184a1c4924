package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/extractor"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Graph export formats.
const (
	FormatDOT     = "dot"
	FormatMermaid = "mermaid"
)

// GraphRequest selects the classes to draw.
type GraphRequest struct {
	ProjectID string `json:"project_id"`
	Package   string `json:"package,omitempty"`
	Format    string `json:"format"`
}

// ExportGraph renders the class dependency graph. Classes are grouped by
// package; DEPENDS_ON edges leaving the selection are dropped.
func (s *Service) ExportGraph(ctx context.Context, req GraphRequest) (string, error) {
	snap, err := s.snapshot(ctx, req.ProjectID)
	if err != nil {
		return "", err
	}
	return exportGraph(snap, req)
}

func exportGraph(snap *graph.Snapshot, req GraphRequest) (string, error) {
	inPackage, err := packageMatcher(req.Package)
	if err != nil {
		return "", err
	}
	cg := selectClasses(snap.Graph, inPackage)
	switch req.Format {
	case FormatDOT:
		return exportDOT(cg), nil
	case FormatMermaid, "":
		return exportMermaid(cg), nil
	default:
		return "", apperr.InvalidArgumentf("unknown graph format %q", req.Format)
	}
}

type packageGroup struct {
	name    string
	classes []*ir.ClassNode
}

type classGraph struct {
	packages []packageGroup
	edges    []ir.Edge
}

func selectClasses(g *ir.Graph, inPackage func(string) bool) classGraph {
	var cg classGraph
	selected := map[string]bool{}
	byPackage := map[string][]*ir.ClassNode{}
	for _, id := range g.IDs(ir.NamespaceClass) {
		c := g.Classes[id]
		if !inPackage(c.PackageName) {
			continue
		}
		selected[id] = true
		byPackage[c.PackageName] = append(byPackage[c.PackageName], c)
	}
	names := make([]string, 0, len(byPackage))
	for name := range byPackage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cg.packages = append(cg.packages, packageGroup{name: name, classes: byPackage[name]})
	}
	for _, e := range g.Edges {
		if e.Kind == ir.EdgeDependsOn && selected[e.From] && selected[e.To] {
			cg.edges = append(cg.edges, e)
		}
	}
	return cg
}

func exportDOT(cg classGraph) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	for _, pkg := range cg.packages {
		label := pkg.name
		if label == "" {
			label = "(default)"
		}
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", sanitizeID(pkg.name))
		fmt.Fprintf(&b, "    label=\"%s\";\n", label)
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, c := range pkg.classes {
			fmt.Fprintf(&b, "    \"%s\" [label=\"%s\" shape=%s style=filled fillcolor=\"%s\"];\n",
				c.ID, c.Name, nodeShape(c), nodeColor(c))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range cg.edges {
		label := ""
		if e.FieldName != "" {
			label = fmt.Sprintf(" label=\"%s\"", e.FieldName)
		}
		fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=%s color=\"#f85149\"%s];\n",
			e.From, e.To, edgeStyle(e.InjectionType), label)
	}

	b.WriteString("}\n")
	return b.String()
}

func exportMermaid(cg classGraph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	for _, pkg := range cg.packages {
		name := pkg.name
		if name == "" {
			name = "default"
		}
		fmt.Fprintf(&b, "  subgraph %s[\"%s\"]\n", sanitizeID("pkg_"+pkg.name), name)
		for _, c := range pkg.classes {
			fmt.Fprintf(&b, "    %s%s\n", sanitizeID(c.ID), mermaidShape(c))
		}
		b.WriteString("  end\n")
	}

	for _, e := range cg.edges {
		label := ""
		if e.FieldName != "" {
			label = "|" + e.FieldName + "|"
		}
		fmt.Fprintf(&b, "  %s -->%s %s\n", sanitizeID(e.From), label, sanitizeID(e.To))
	}
	return b.String()
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

// stereotype returns the most specific Spring label of a class.
func stereotype(c *ir.ClassNode) string {
	for _, l := range []string{extractor.LabelController, extractor.LabelService, extractor.LabelRepository, extractor.LabelComponent, extractor.LabelConfiguration} {
		if c.HasLabel(l) {
			return l
		}
	}
	return ""
}

func nodeShape(c *ir.ClassNode) string {
	if c.Kind == ir.KindInterface {
		return "ellipse"
	}
	switch stereotype(c) {
	case extractor.LabelController:
		return "box3d"
	case extractor.LabelRepository:
		return "cylinder"
	default:
		return "box"
	}
}

func nodeColor(c *ir.ClassNode) string {
	switch stereotype(c) {
	case extractor.LabelController:
		return "#1f6feb"
	case extractor.LabelService:
		return "#238636"
	case extractor.LabelRepository:
		return "#8957e5"
	case extractor.LabelComponent, extractor.LabelConfiguration:
		return "#d29922"
	default:
		return "#30363d"
	}
}

func edgeStyle(injection string) string {
	switch injection {
	case ir.InjectionConstructor:
		return "bold"
	case ir.InjectionField:
		return "solid"
	default:
		return "dashed"
	}
}

func mermaidShape(c *ir.ClassNode) string {
	switch stereotype(c) {
	case extractor.LabelController:
		return fmt.Sprintf("[[\"%s\"]]", c.Name)
	case extractor.LabelRepository:
		return fmt.Sprintf("[(\"%s\")]", c.Name)
	case extractor.LabelService:
		return fmt.Sprintf("([\"%s\"])", c.Name)
	default:
		return fmt.Sprintf("[\"%s\"]", c.Name)
	}
}
