package jobs

import "sync"

// leases records the active job of each project.
type leases struct {
	mu     sync.Mutex
	active map[string]string // project id -> job id
}

func newLeases() *leases {
	return &leases{active: make(map[string]string)}
}

// acquire grants the project to jobID unless another job holds it, in
// which case the holder is returned.
func (l *leases) acquire(projectID, jobID string) (holder string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, busy := l.active[projectID]; busy {
		return h, false
	}
	l.active[projectID] = jobID
	return jobID, true
}

// release frees the project if jobID still holds it.
func (l *leases) release(projectID, jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[projectID] == jobID {
		delete(l.active, projectID)
	}
}

func (l *leases) holder(projectID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.active[projectID]
	return h, ok
}
