package jobs

import "time"

// Event types published by the Coordinator.
const (
	EventQueued    = "job.queued"
	EventStarted   = "job.started"
	EventProgress  = "job.progress"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
	EventCancelled = "job.cancelled"
)

// Event is one job lifecycle notification. Job is a copy taken when the
// event was raised.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`
	Job       *Job      `json:"job"`
}

// Publisher receives job events. Publish must not block for long; it is
// called from the run goroutine.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Publishers fans an event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}

func terminalEvent(s State) string {
	switch s {
	case StateCompleted:
		return EventCompleted
	case StateCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}
