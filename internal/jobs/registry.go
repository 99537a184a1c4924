package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

// DefaultMaxJobs bounds how many jobs the registry retains.
const DefaultMaxJobs = 200

// Registry is the in-memory job table.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	maxJobs int
}

// NewRegistry creates a Registry retaining at most maxJobs jobs. Only
// terminal jobs are evicted.
func NewRegistry(maxJobs int) *Registry {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	return &Registry{jobs: make(map[string]*Job), maxJobs: maxJobs}
}

// Create adds a job.
func (r *Registry) Create(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	r.evict()
}

// Get returns a copy of a job.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.NotFoundf("job %s", id)
	}
	return job.clone(), nil
}

// Update applies fn to a non-terminal job and returns a copy of the
// result. Terminal jobs are immutable: fn is not called and ok is false.
func (r *Registry) Update(id string, fn func(*Job)) (job *Job, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, found := r.jobs[id]
	if !found || j.State.Terminal() {
		return nil, false
	}
	fn(j)
	if j.State.Terminal() {
		r.evict()
	}
	return j.clone(), true
}

// List returns copies of the jobs of a project, newest first. An empty
// projectID lists every job.
func (r *Registry) List(projectID string) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if projectID == "" || j.ProjectID == projectID {
			out = append(out, j.clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// evict removes the oldest terminal jobs beyond maxJobs. Must be called
// with the lock held.
func (r *Registry) evict() {
	if len(r.jobs) <= r.maxJobs {
		return
	}
	type finished struct {
		id string
		at time.Time
	}
	var done []finished
	for id, j := range r.jobs {
		if j.State.Terminal() {
			at := j.CreatedAt
			if j.FinishedAt != nil {
				at = *j.FinishedAt
			}
			done = append(done, finished{id: id, at: at})
		}
	}
	sort.Slice(done, func(i, k int) bool {
		if !done[i].at.Equal(done[k].at) {
			return done[i].at.Before(done[k].at)
		}
		return done[i].id < done[k].id
	})
	excess := len(r.jobs) - r.maxJobs
	for i := 0; i < excess && i < len(done); i++ {
		delete(r.jobs, done[i].id)
	}
}
