package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Lezhik/SpringTwin/internal/jobs"
)

// EventMsg carries a job event into the bubbletea loop.
type EventMsg jobs.Event

// closedMsg signals that the event channel was closed.
type closedMsg struct{}

// Channel returns a publisher feeding a buffered channel. Progress events
// are dropped when the reader lags; lifecycle events always arrive.
func Channel(buffer int) (jobs.Publisher, <-chan jobs.Event) {
	ch := make(chan jobs.Event, buffer)
	return jobs.PublisherFunc(func(e jobs.Event) {
		if e.Type != jobs.EventProgress {
			ch <- e
			return
		}
		select {
		case ch <- e:
		default:
		}
	}), ch
}

// ProgressModel follows one job until it reaches a terminal state.
type ProgressModel struct {
	jobID       string
	events      <-chan jobs.Event
	job         *jobs.Job
	styles      *Styles
	width       int
	interrupted bool
	done        bool
}

// NewProgressModel creates a model for jobID reading from events.
func NewProgressModel(jobID string, events <-chan jobs.Event) ProgressModel {
	return ProgressModel{jobID: jobID, events: events, styles: DefaultStyles()}
}

func waitForEvent(events <-chan jobs.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return EventMsg(e)
	}
}

// Init implements tea.Model
func (m ProgressModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Update implements tea.Model
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil

	case closedMsg:
		m.done = true
		return m, tea.Quit

	case EventMsg:
		if msg.JobID != m.jobID || msg.Job == nil {
			return m, waitForEvent(m.events)
		}
		m.job = msg.Job
		if m.job.State.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

// View implements tea.Model
func (m ProgressModel) View() string {
	if m.job == nil {
		return m.styles.Muted.Render("waiting for job "+m.jobID+"...") + "\n"
	}
	var b strings.Builder
	b.WriteString(m.styles.Job(m.job))
	if !m.done {
		b.WriteString(m.styles.Help.Render("q to stop following (the job keeps running)"))
		b.WriteString("\n")
	}
	return b.String()
}

// Job returns the last observed state of the job.
func (m ProgressModel) Job() *jobs.Job { return m.job }

// Interrupted reports whether the user quit before the job finished.
func (m ProgressModel) Interrupted() bool { return m.interrupted }

// RunProgress shows live progress for jobID on out and returns the last
// observed job state.
func RunProgress(ctx context.Context, jobID string, events <-chan jobs.Event, in io.Reader, out io.Writer) (ProgressModel, error) {
	p := tea.NewProgram(NewProgressModel(jobID, events),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return ProgressModel{}, fmt.Errorf("progress view: %w", err)
	}
	return final.(ProgressModel), nil
}
