// Package tui renders analysis results for the terminal: static summaries
// for the CLI and a live progress view for running jobs.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Lezhik/SpringTwin/internal/jobs"
)

// Color constants matching the dark dashboard theme
const (
	ColorBg     = "#0d1117"
	ColorCard   = "#161b22"
	ColorBorder = "#30363d"
	ColorBlue   = "#58a6ff"
	ColorGreen  = "#3fb950"
	ColorRed    = "#f85149"
	ColorYellow = "#d29922"
	ColorPurple = "#bc8cff"
	ColorGray   = "#8b949e"
	ColorText   = "#c9d1d9"
	ColorBright = "#f0f6fc"
)

// Styles holds all lipgloss styles for the TUI
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Help     lipgloss.Style
	Muted    lipgloss.Style
	Key      lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusPartial lipgloss.Style
	StatusPending lipgloss.Style

	Label lipgloss.Style
	Cycle lipgloss.Style

	BarFilled lipgloss.Style
	BarEmpty  lipgloss.Style

	Border lipgloss.Style
}

func badge(bg string) lipgloss.Style {
	return lipgloss.NewStyle().
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(ColorBg)).
		Padding(0, 1).
		Bold(true)
}

// DefaultStyles creates the default style set
func DefaultStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorBright)),

		Subtitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorText)),

		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)).
			Italic(true),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)),

		Key: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBlue)),

		StatusSuccess: badge(ColorGreen),
		StatusFailed:  badge(ColorRed),
		StatusPartial: badge(ColorYellow),
		StatusPending: badge(ColorGray),

		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorPurple)),

		Cycle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorYellow)).
			Bold(true),

		BarFilled: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBlue)),

		BarEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBorder)),

		Border: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Padding(0, 1),
	}
}

// StateBadge renders a job state as a colored badge.
func (s *Styles) StateBadge(state jobs.State) string {
	switch state {
	case jobs.StateCompleted:
		return s.StatusSuccess.Render("COMPLETED")
	case jobs.StateFailed:
		return s.StatusFailed.Render("FAILED")
	case jobs.StateCancelled:
		return s.StatusPartial.Render("CANCELLED")
	case jobs.StateRunning:
		return s.StatusPending.Background(lipgloss.Color(ColorBlue)).Render("RUNNING")
	default:
		return s.StatusPending.Render("QUEUED")
	}
}
