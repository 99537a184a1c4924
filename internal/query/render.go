package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/graph"
)

// Report kinds accepted by Render.
const (
	ReportDependencies = "dependencies"
	ReportClass        = "class"
	ReportEndpoint     = "endpoint"
	ReportMethod       = "method"
	ReportContext      = "context"
	ReportStats        = "stats"
	ReportGraph        = "graph"
)

// Report formats accepted by Render, in addition to FormatDOT and
// FormatMermaid for graphs.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ReportKinds lists every kind in display order.
var ReportKinds = []string{ReportDependencies, ReportClass, ReportEndpoint, ReportMethod, ReportContext, ReportStats, ReportGraph}

// ReportRequest identifies one rendered report. Only the fields the kind
// uses take part in the cache key.
type ReportRequest struct {
	ProjectID  string `json:"project_id"`
	Kind       string `json:"kind"`
	Format     string `json:"format,omitempty"` // default json, or mermaid for graphs
	ClassID    string `json:"class_id,omitempty"`
	MethodID   string `json:"method_id,omitempty"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Package    string `json:"package,omitempty"`
	MaxDepth   int    `json:"max_depth,omitempty"`
}

// Rendered is the output of Render.
type Rendered struct {
	ProjectID   string `json:"project_id"`
	Version     int64  `json:"version"`
	Kind        string `json:"kind"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
	Cached      bool   `json:"cached"`
}

// ContentType returns the media type of a format.
func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatDOT:
		return "text/vnd.graphviz; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// normalize fills the default format and checks the kind and format pair.
func (r ReportRequest) normalize() (ReportRequest, error) {
	if r.Format == "" {
		r.Format = FormatJSON
		if r.Kind == ReportGraph {
			r.Format = FormatMermaid
		} else if r.Kind == ReportContext {
			r.Format = FormatMarkdown
		}
	}
	switch r.Kind {
	case ReportGraph:
		if r.Format != FormatDOT && r.Format != FormatMermaid && r.Format != FormatMarkdown {
			return r, apperr.InvalidArgumentf("graph reports support dot, mermaid or markdown, not %q", r.Format)
		}
	case ReportDependencies, ReportClass, ReportEndpoint, ReportMethod, ReportContext, ReportStats:
		if r.Format != FormatJSON && r.Format != FormatMarkdown {
			return r, apperr.InvalidArgumentf("%s reports support json or markdown, not %q", r.Kind, r.Format)
		}
	default:
		return r, apperr.InvalidArgumentf("unknown report kind %q", r.Kind)
	}
	return r, nil
}

func (r ReportRequest) params() string {
	switch r.Kind {
	case ReportDependencies:
		return fmt.Sprintf("%s|%d", r.ClassID, r.MaxDepth)
	case ReportClass:
		return r.ClassID
	case ReportEndpoint:
		return r.EndpointID
	case ReportMethod:
		return r.MethodID
	case ReportContext, ReportGraph:
		return r.Package
	}
	return ""
}

func cacheKey(snap *graph.Snapshot, r ReportRequest) string {
	return fmt.Sprintf("%s|%d.%d|%s|%s|%s", snap.ProjectID, snap.Generation, snap.Version, r.Kind, r.Format, r.params())
}

// Render produces a report for the current graph version. Output depends
// only on the version and the request, so repeated calls return identical
// bytes; results are cached by that pair.
func (s *Service) Render(ctx context.Context, req ReportRequest) (*Rendered, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	out := &Rendered{
		ProjectID:   snap.ProjectID,
		Version:     snap.Version,
		Kind:        req.Kind,
		Format:      req.Format,
		ContentType: ContentType(req.Format),
	}

	key := cacheKey(snap, req)
	if s.cache != nil {
		if body, ok := s.cache.Get(key); ok {
			s.observeCache(true)
			out.Body = body
			out.Cached = true
			return out, nil
		}
		s.observeCache(false)
	}

	body, err := render(snap, req)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, body, int64(len(body)))
		s.cache.Wait()
	}
	out.Body = body
	return out, nil
}

func (s *Service) observeCache(hit bool) {
	if s.metrics != nil {
		s.metrics.ReportCache(hit)
	}
}

func render(snap *graph.Snapshot, req ReportRequest) ([]byte, error) {
	var (
		value any
		md    func() string
		err   error
	)
	switch req.Kind {
	case ReportDependencies:
		var rep *DependencyReport
		rep, err = dependencyReport(snap, DependencyRequest{ProjectID: req.ProjectID, ClassID: req.ClassID, MaxDepth: req.MaxDepth})
		value, md = rep, func() string { return markdownDependencies(rep) }
	case ReportClass:
		var ex *ClassExplanation
		ex, err = explainClass(snap, req.ClassID)
		value, md = ex, func() string { return markdownClass(ex) }
	case ReportEndpoint:
		var ex *EndpointExplanation
		ex, err = explainEndpoint(snap, req.EndpointID)
		value, md = ex, func() string { return markdownEndpoint(ex) }
	case ReportMethod:
		var ex *MethodExplanation
		ex, err = explainMethod(snap, req.MethodID)
		value, md = ex, func() string { return markdownMethod(ex) }
	case ReportStats:
		st := stats(snap)
		value, md = st, func() string { return markdownStats(st) }
	case ReportContext:
		var text string
		text, err = exportContext(snap, ContextRequest{ProjectID: req.ProjectID, Package: req.Package})
		value = struct {
			ProjectID string `json:"project_id"`
			Version   int64  `json:"version"`
			Markdown  string `json:"markdown"`
		}{snap.ProjectID, snap.Version, text}
		md = func() string { return text }
	case ReportGraph:
		format := req.Format
		if format == FormatMarkdown {
			format = FormatMermaid
		}
		var text string
		text, err = exportGraph(snap, GraphRequest{ProjectID: req.ProjectID, Package: req.Package, Format: format})
		if err != nil {
			return nil, err
		}
		if req.Format == FormatMarkdown {
			text = "```mermaid\n" + text + "```\n"
		}
		return []byte(text), nil
	}
	if err != nil {
		return nil, err
	}
	if req.Format == FormatMarkdown {
		return []byte(md()), nil
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s report: %w", req.Kind, err)
	}
	return append(data, '\n'), nil
}

func markdownDependencies(rep *DependencyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dependencies of `%s`\n\n", rep.ClassID)
	fmt.Fprintf(&b, "Project %s, graph version %d.\n\n", rep.ProjectID, rep.Version)
	if len(rep.Dependencies) == 0 {
		b.WriteString("No dependencies.\n")
	}
	for _, d := range rep.Dependencies {
		fmt.Fprintf(&b, "%s- `%s`", strings.Repeat("  ", d.Depth-1), d.ID)
		if d.FieldName != "" || d.InjectionType != "" {
			fmt.Fprintf(&b, " (%s)", strings.TrimSpace(d.FieldName+" "+d.InjectionType))
		}
		b.WriteString("\n")
	}
	if len(rep.Cycles) > 0 {
		b.WriteString("\n## Cycles\n\n")
		for _, c := range rep.Cycles {
			fmt.Fprintf(&b, "- %s\n", strings.Join(c, " -> "))
		}
	}
	if rep.Truncated {
		fmt.Fprintf(&b, "\nTruncated at depth %d.\n", rep.MaxDepth)
	}
	return b.String()
}

func writeRelations(b *strings.Builder, title string, rels []Relation) {
	if len(rels) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, r := range rels {
		fmt.Fprintf(b, "- `%s`", r.ID)
		var extra []string
		if r.FieldName != "" {
			extra = append(extra, "field "+r.FieldName)
		}
		if r.InjectionType != "" {
			extra = append(extra, r.InjectionType)
		}
		if r.Line > 0 {
			extra = append(extra, fmt.Sprintf("line %d", r.Line))
		}
		if len(extra) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(extra, ", "))
		}
		b.WriteString("\n")
	}
}

func markdownClass(ex *ClassExplanation) string {
	var b strings.Builder
	c := ex.Class
	fmt.Fprintf(&b, "# %s `%s`\n\n", c.Kind, c.ID)
	fmt.Fprintf(&b, "- Package: `%s`\n", c.PackageName)
	if len(c.Labels) > 0 {
		fmt.Fprintf(&b, "- Labels: %s\n", strings.Join(c.Labels, ", "))
	}
	if len(c.Modifiers) > 0 {
		fmt.Fprintf(&b, "- Modifiers: %s\n", strings.Join(c.Modifiers, " "))
	}
	if c.SourcePath != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", c.SourcePath)
	}
	if len(ex.Methods) > 0 {
		b.WriteString("\n## Methods\n\n")
		for _, m := range ex.Methods {
			fmt.Fprintf(&b, "- `%s`", m.Signature)
			if m.ReturnType != "" {
				fmt.Fprintf(&b, " returns `%s`", m.ReturnType)
			}
			b.WriteString("\n")
		}
	}
	if len(ex.Endpoints) > 0 {
		b.WriteString("\n## Endpoints\n\n")
		for _, e := range ex.Endpoints {
			fmt.Fprintf(&b, "- %s `%s`\n", e.HTTPMethod, e.Path)
		}
	}
	writeRelations(&b, "Depends on", ex.Dependencies)
	writeRelations(&b, "Used by", ex.Dependents)
	return b.String()
}

func markdownEndpoint(ex *EndpointExplanation) string {
	var b strings.Builder
	e := ex.Endpoint
	fmt.Fprintf(&b, "# %s `%s`\n\n", e.HTTPMethod, e.Path)
	fmt.Fprintf(&b, "- Produces: %s\n- Consumes: %s\n", e.Produces, e.Consumes)
	if ex.Handler != nil {
		fmt.Fprintf(&b, "- Handler: `%s`\n", ex.Handler.ID)
	}
	if ex.Class != nil {
		fmt.Fprintf(&b, "- Class: `%s`\n", ex.Class.ID)
	}
	writeRelations(&b, "Calls", ex.Calls)
	if ex.Dependencies != nil && len(ex.Dependencies.Dependencies) > 0 {
		b.WriteString("\n## Class dependencies\n\n")
		for _, d := range ex.Dependencies.Dependencies {
			fmt.Fprintf(&b, "%s- `%s`\n", strings.Repeat("  ", d.Depth-1), d.ID)
		}
	}
	return b.String()
}

func markdownMethod(ex *MethodExplanation) string {
	var b strings.Builder
	m := ex.Method
	fmt.Fprintf(&b, "# Method `%s`\n\n", m.ID)
	fmt.Fprintf(&b, "- Signature: `%s`\n", m.Signature)
	if m.ReturnType != "" {
		fmt.Fprintf(&b, "- Returns: `%s`\n", m.ReturnType)
	}
	if len(m.Modifiers) > 0 {
		fmt.Fprintf(&b, "- Modifiers: %s\n", strings.Join(m.Modifiers, " "))
	}
	if m.Line > 0 {
		fmt.Fprintf(&b, "- Line: %d\n", m.Line)
	}
	if len(ex.Endpoints) > 0 {
		b.WriteString("\n## Endpoints\n\n")
		for _, e := range ex.Endpoints {
			fmt.Fprintf(&b, "- %s `%s`\n", e.HTTPMethod, e.Path)
		}
	}
	writeRelations(&b, "Calls", ex.Calls)
	writeRelations(&b, "Called by", ex.CalledBy)
	return b.String()
}

func markdownStats(st *GraphStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Graph statistics: %s\n\n", st.ProjectID)
	fmt.Fprintf(&b, "Graph version %d.\n\n", st.Version)
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Classes | %d |\n", st.Counts.Classes)
	fmt.Fprintf(&b, "| Methods | %d |\n", st.Counts.Methods)
	fmt.Fprintf(&b, "| Endpoints | %d |\n", st.Counts.Endpoints)
	fmt.Fprintf(&b, "| Edges | %d |\n", st.Counts.Edges)
	fmt.Fprintf(&b, "| Packages | %d |\n", st.Packages)
	fmt.Fprintf(&b, "| Components | %d |\n", st.Components)
	fmt.Fprintf(&b, "| Max fan-out | %d |\n", st.MaxFanOut)
	fmt.Fprintf(&b, "| Max fan-in | %d |\n", st.MaxFanIn)
	if st.Hotspot != "" {
		fmt.Fprintf(&b, "\nHotspot: `%s`\n", st.Hotspot)
	}
	if len(st.Labels) > 0 {
		b.WriteString("\n## Labels\n\n")
		for _, l := range st.Labels {
			fmt.Fprintf(&b, "- %s: %d\n", l.Label, l.Count)
		}
	}
	if len(st.Cycles) > 0 {
		b.WriteString("\n## Cycles\n\n")
		for _, c := range st.Cycles {
			fmt.Fprintf(&b, "- %s\n", strings.Join(c, " -> "))
		}
	}
	return b.String()
}
