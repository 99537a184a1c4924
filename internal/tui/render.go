package tui

import (
	"fmt"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/gateway"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/query"
)

// DefaultBarWidth is the width of progress bars in cells.
const DefaultBarWidth = 30

// Bar renders a progress bar for a percentage in [0, 100].
func (s *Styles) Bar(percent, width int) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	return s.BarFilled.Render(strings.Repeat("█", filled)) +
		s.BarEmpty.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", percent)
}

// Job renders a job summary: state, progress, unit counts and the error
// or warnings when present.
func (s *Styles) Job(job *jobs.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", s.Title.Render("Job "+job.ID), s.StateBadge(job.State), s.Muted.Render(job.Root))
	fmt.Fprintf(&b, "%s\n", s.Bar(job.Progress, DefaultBarWidth))

	st := job.Stats
	fmt.Fprintf(&b, "  %s %d   %s %d   %s %d\n",
		s.Key.Render("discovered"), st.UnitsDiscovered,
		s.Key.Render("extracted"), st.UnitsExtracted,
		s.Key.Render("skipped"), st.UnitsSkipped)
	if st.Version > 0 {
		changed := "unchanged"
		if st.Changed {
			changed = "changed"
		}
		fmt.Fprintf(&b, "  %s v%d (%s)\n", s.Key.Render("graph"), st.Version, changed)
	}
	if d := st.Diff; d != nil {
		fmt.Fprintf(&b, "  %s +%d ~%d -%d nodes, +%d ~%d -%d edges\n", s.Key.Render("diff"),
			d.Inserted, d.Updated, d.Deleted, d.EdgesAdded, d.EdgesUpdated, d.EdgesRemoved)
	}
	if job.Error != nil {
		fmt.Fprintf(&b, "  %s %s\n", s.StatusFailed.Render(job.Error.Code), job.Error.Message)
	}
	for _, w := range st.Warnings {
		fmt.Fprintf(&b, "  %s %s: %s\n", s.Cycle.Render("warn"), w.Path, w.Message)
	}
	return b.String()
}

// Classes renders a class list, one class per line with its labels.
func (s *Styles) Classes(list *query.ClassList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", s.Title.Render(fmt.Sprintf("%d classes", len(list.Classes))), s.Muted.Render(fmt.Sprintf("v%d", list.Version)))
	for _, c := range list.Classes {
		line := "  " + c.ID
		if len(c.Labels) > 0 {
			line += " " + s.Label.Render("["+strings.Join(c.Labels, ", ")+"]")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Dependencies renders a dependency report as an indented tree in
// discovery order.
func (s *Styles) Dependencies(rep *query.DependencyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.Title.Render(rep.ClassID))
	if len(rep.Dependencies) == 0 {
		b.WriteString(s.Muted.Render("  no dependencies") + "\n")
	}
	for _, d := range rep.Dependencies {
		detail := d.InjectionType
		if d.FieldName != "" {
			detail += " " + d.FieldName
		}
		fmt.Fprintf(&b, "%s└─ %s %s\n", strings.Repeat("   ", d.Depth-1), d.ID, s.Muted.Render(strings.TrimSpace(detail)))
	}
	if rep.Truncated {
		b.WriteString(s.Help.Render(fmt.Sprintf("  truncated at depth %d", rep.MaxDepth)) + "\n")
	}
	for _, c := range rep.Cycles {
		fmt.Fprintf(&b, "%s %s\n", s.Cycle.Render("cycle"), strings.Join(c, " → "))
	}
	return b.String()
}

// Stats renders graph metrics.
func (s *Styles) Stats(st *query.GraphStats) string {
	rows := [][2]string{
		{"classes", fmt.Sprint(st.Counts.Classes)},
		{"methods", fmt.Sprint(st.Counts.Methods)},
		{"endpoints", fmt.Sprint(st.Counts.Endpoints)},
		{"edges", fmt.Sprint(st.Counts.Edges)},
		{"packages", fmt.Sprint(st.Packages)},
		{"components", fmt.Sprint(st.Components)},
		{"max fan-out", fmt.Sprint(st.MaxFanOut)},
		{"max fan-in", fmt.Sprint(st.MaxFanIn)},
	}
	if st.Hotspot != "" {
		rows = append(rows, [2]string{"hotspot", st.Hotspot})
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-12s %s\n", r[0], r[1])
	}
	for _, l := range st.Labels {
		fmt.Fprintf(&b, "%-12s %d\n", "@"+l.Label, l.Count)
	}
	for _, c := range st.Cycles {
		fmt.Fprintf(&b, "cycle        %s\n", strings.Join(c, " → "))
	}
	title := s.Title.Render(fmt.Sprintf("%s v%d", st.ProjectID, st.Version))
	return title + "\n" + s.Border.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Tools renders a tool manifest.
func (s *Styles) Tools(tools []gateway.Descriptor) string {
	var b strings.Builder
	for _, t := range tools {
		name := s.Key.Render(t.Name)
		if t.Privileged {
			name += " " + s.StatusPartial.Render("write")
		}
		fmt.Fprintf(&b, "%s\n  %s\n", name, s.Muted.Render(t.Description))
	}
	return b.String()
}
