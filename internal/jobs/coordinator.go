package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/extractor"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// Defaults applied by NewCoordinator.
const (
	DefaultWorkers          = 2
	DefaultWarningThreshold = 0.25
)

// Unit outcomes reported to Metrics.
const (
	OutcomeExtracted = "extracted"
	OutcomeSkipped   = "skipped"
)

// Metrics receives job and unit counters.
type Metrics interface {
	JobFinished(state string, d time.Duration)
	UnitProcessed(outcome string)
}

// Options configures a Coordinator.
type Options struct {
	Store     *graph.Store
	Extractor extractor.Extractor // nil means a cached Java extractor

	Workers     int // concurrent runs
	Parallelism int // concurrent units per run, default runtime.NumCPU
	Timeout     time.Duration
	// ProgressInterval is the minimum spacing of job.progress events.
	ProgressInterval time.Duration
	// WarningThreshold is the fraction of skipped units above which a run
	// fails. Non-positive means DefaultWarningThreshold.
	WarningThreshold float64
	MaxJobs          int

	ExcludeDirs     []string
	IncludeTests    bool
	FollowGitignore bool

	Publisher Publisher
	Metrics   Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Request asks for one analysis of a project.
type Request struct {
	ProjectID string        `json:"project_id"`
	Root      string        `json:"root"`
	Include   []string      `json:"include,omitempty"`
	Exclude   []string      `json:"exclude,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"` // zero means the coordinator default
}

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Coordinator schedules analysis runs on a bounded worker pool and
// commits their graphs to the store.
type Coordinator struct {
	store            *graph.Store
	extractor        extractor.Extractor
	registry         *Registry
	leases           *leases
	slots            chan struct{}
	parallelism      int
	timeout          time.Duration
	progressInterval time.Duration
	warningThreshold float64
	excludeDirs      []string
	includeTests     bool
	followGitignore  bool
	publisher        Publisher
	metrics          Metrics
	logger           *slog.Logger
	now              func() time.Time

	base context.Context
	stop context.CancelCauseFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator creates a Coordinator. Store is required.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, apperr.Configurationf("job coordinator requires a graph store")
	}
	if opts.Extractor == nil {
		opts.Extractor = extractor.NewCache(extractor.NewJava())
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = DefaultWarningThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Coordinator{
		store:            opts.Store,
		extractor:        opts.Extractor,
		registry:         NewRegistry(opts.MaxJobs),
		leases:           newLeases(),
		slots:            make(chan struct{}, opts.Workers),
		parallelism:      opts.Parallelism,
		timeout:          opts.Timeout,
		progressInterval: opts.ProgressInterval,
		warningThreshold: opts.WarningThreshold,
		excludeDirs:      opts.ExcludeDirs,
		includeTests:     opts.IncludeTests,
		followGitignore:  opts.FollowGitignore,
		publisher:        opts.Publisher,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		now:              opts.Now,
		base:             base,
		stop:             stop,
		runs:             make(map[string]*run),
	}, nil
}

// Trigger validates the request, claims the project and queues a run. The
// returned job is Queued. A project with an active job is a Conflict.
func (c *Coordinator) Trigger(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if req.ProjectID == "" {
		return nil, apperr.InvalidArgumentf("project id is required")
	}
	sc, err := scanner.New(scanner.Options{
		Root:            req.Root,
		Include:         req.Include,
		Exclude:         req.Exclude,
		ExcludeDirs:     c.excludeDirs,
		IncludeTests:    c.includeTests,
		FollowGitignore: c.followGitignore,
		Logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: job coordinator is shut down", apperr.ErrCancelled)
	}
	id := uuid.NewString()
	if holder, ok := c.leases.acquire(req.ProjectID, id); !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: project %s already has active job %s", apperr.ErrConflict, req.ProjectID, holder)
	}
	job := &Job{
		ID:        id,
		ProjectID: req.ProjectID,
		Root:      sc.Root(),
		State:     StateQueued,
		CreatedAt: c.now().UTC(),
	}
	c.registry.Create(job)
	queued, owned := job.clone(), job.clone()

	ctx, cancel := context.WithCancelCause(c.base)
	r := &run{cancel: cancel, done: make(chan struct{})}
	c.runs[id] = r
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("analysis queued",
		slog.String("job", id),
		slog.String("project", req.ProjectID),
		slog.String("root", queued.Root))
	c.publish(EventQueued, queued)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	go c.execute(ctx, r, owned, sc, timeout)
	return queued, nil
}

func (c *Coordinator) execute(ctx context.Context, r *run, job *Job, sc *scanner.Scanner, timeout time.Duration) {
	defer c.wg.Done()
	defer close(r.done)
	defer r.cancel(nil)

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		c.finish(job, Stats{}, context.Cause(ctx))
		return
	}
	if ctx.Err() != nil {
		c.finish(job, Stats{}, context.Cause(ctx))
		return
	}

	started := c.now().UTC()
	running, ok := c.registry.Update(job.ID, func(j *Job) {
		j.State = StateRunning
		j.StartedAt = &started
	})
	if !ok {
		return
	}
	c.publish(EventStarted, running)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout,
			fmt.Errorf("%w: analysis exceeded %s", apperr.ErrTimeout, timeout))
		defer cancel()
	}
	ctx, span := observability.StartJobSpan(ctx, job.ID, job.ProjectID)
	defer span.End()

	stats, err := c.analyze(ctx, running, sc)
	err = cause(ctx, err)
	if err != nil {
		observability.RecordError(span, err)
	}
	c.finish(running, stats, err)
}

// analyze runs scan, extract, link and commit. The candidate is discarded
// on every path that does not commit.
func (c *Coordinator) analyze(ctx context.Context, job *Job, sc *scanner.Scanner) (Stats, error) {
	var stats Stats
	cand := c.store.Begin(job.ProjectID)
	defer cand.Discard()

	scanCtx, scanSpan := observability.StartScanSpan(ctx, sc.Root())
	var units []scanner.Unit
	for u, err := range sc.Units(scanCtx) {
		if err != nil {
			if u.Path == "" {
				scanSpan.End()
				return stats, err
			}
			stats.UnitsSkipped++
			stats.Warnings = append(stats.Warnings, extractor.Warning{
				Path:    u.RelPath,
				Kind:    string(apperr.KindExtraction),
				Message: err.Error(),
			})
			c.unitProcessed(OutcomeSkipped)
			continue
		}
		units = append(units, u)
	}
	stats.UnitsDiscovered = len(units) + stats.UnitsSkipped
	observability.RecordScanResult(scanSpan, stats.UnitsDiscovered, stats.UnitsSkipped)
	scanSpan.End()

	prog := newProgress(stats.UnitsDiscovered, c.progressInterval,
		func(v int) {
			c.registry.Update(job.ID, func(j *Job) { j.Progress = v })
		},
		func(int) {
			if j, err := c.registry.Get(job.ID); err == nil {
				c.publish(EventProgress, j)
			}
		})

	extractCtx, extractSpan := observability.StartExtractSpan(ctx, len(units), c.parallelism)
	results := make([]*extractor.UnitResult, len(units))
	skipped := make([]*extractor.Warning, len(units))
	var processed atomic.Int64
	processed.Store(int64(stats.UnitsSkipped))
	if stats.UnitsSkipped > 0 {
		prog.advance(stats.UnitsSkipped)
	}

	g, gctx := errgroup.WithContext(extractCtx)
	g.SetLimit(c.parallelism)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.extract(gctx, u)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				skipped[i] = &extractor.Warning{
					Path:    u.RelPath,
					Kind:    string(apperr.KindExtraction),
					Message: err.Error(),
				}
				c.unitProcessed(OutcomeSkipped)
			} else {
				results[i] = res
				c.unitProcessed(OutcomeExtracted)
			}
			prog.advance(int(processed.Add(1)))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = extractCtx.Err()
	}
	if err != nil {
		extractSpan.End()
		return stats, err
	}

	kept := make([]*extractor.UnitResult, 0, len(units))
	for i := range units {
		if results[i] != nil {
			kept = append(kept, results[i])
			continue
		}
		if skipped[i] != nil {
			stats.UnitsSkipped++
			stats.Warnings = append(stats.Warnings, *skipped[i])
		}
	}
	stats.UnitsExtracted = len(kept)
	observability.RecordExtractResult(extractSpan, stats.UnitsExtracted, stats.UnitsSkipped)
	extractSpan.End()

	if stats.UnitsDiscovered > 0 {
		rate := float64(stats.UnitsSkipped) / float64(stats.UnitsDiscovered)
		if rate > c.warningThreshold {
			return stats, fmt.Errorf("%w: %d of %d units could not be extracted (threshold %.0f%%)",
				apperr.ErrExtraction, stats.UnitsSkipped, stats.UnitsDiscovered, c.warningThreshold*100)
		}
	}

	linked, warnings := extractor.Link(kept)
	stats.Warnings = append(stats.Warnings, warnings...)

	if err := ctx.Err(); err != nil {
		return stats, context.Cause(ctx)
	}

	cand.Graph = linked
	commitCtx, commitSpan := observability.StartCommitSpan(ctx, job.ProjectID)
	res, err := c.store.Commit(commitCtx, cand)
	if err != nil {
		observability.RecordError(commitSpan, err)
		commitSpan.End()
		return stats, err
	}
	observability.RecordCommitResult(commitSpan, res.Snapshot.Version, res.Changed)
	commitSpan.End()

	stats.Version = res.Snapshot.Version
	stats.Changed = res.Changed
	sum := res.Diff.Summary()
	stats.Diff = &sum
	prog.done()
	return stats, nil
}

func (c *Coordinator) extract(ctx context.Context, u scanner.Unit) (*extractor.UnitResult, error) {
	src, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperr.ErrExtraction, u.RelPath, err)
	}
	return c.extractor.Extract(ctx, u, src)
}

// finish records the terminal transition, releases the project and
// announces the outcome.
func (c *Coordinator) finish(job *Job, stats Stats, err error) {
	state := StateCompleted
	if err != nil {
		state = StateFailed
		if apperr.KindOf(err) == apperr.KindCancelled {
			state = StateCancelled
		}
	}
	finished := c.now().UTC()
	detail := apperr.DetailOf(err)
	final, ok := c.registry.Update(job.ID, func(j *Job) {
		j.State = state
		j.FinishedAt = &finished
		j.Error = detail
		j.Stats = stats
		if state == StateCompleted {
			j.Progress = 100
		}
	})
	c.leases.release(job.ProjectID, job.ID)
	c.mu.Lock()
	delete(c.runs, job.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.metrics != nil {
		c.metrics.JobFinished(string(state), final.Duration())
	}
	attrs := []any{
		slog.String("job", job.ID),
		slog.String("project", job.ProjectID),
		slog.String("state", string(state)),
		slog.Duration("duration", final.Duration()),
		slog.Int("units", stats.UnitsDiscovered),
		slog.Int("skipped", stats.UnitsSkipped),
	}
	switch state {
	case StateCompleted:
		c.logger.Info("analysis completed", append(attrs, slog.Int64("version", stats.Version), slog.Bool("changed", stats.Changed))...)
	case StateCancelled:
		c.logger.Info("analysis cancelled", append(attrs, slog.String("reason", err.Error()))...)
	default:
		c.logger.Error("analysis failed", append(attrs, slog.String("error", err.Error()))...)
	}
	c.publish(terminalEvent(state), final)
}

func (c *Coordinator) unitProcessed(outcome string) {
	if c.metrics != nil {
		c.metrics.UnitProcessed(outcome)
	}
}

func (c *Coordinator) publish(typ string, job *Job) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(Event{
		Type:      typ,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		Timestamp: c.now().UTC(),
		Job:       job,
	})
}

// cause replaces bare context errors with the cancellation cause, so a
// timeout or a user cancel keeps its kind.
func cause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return context.Cause(ctx)
	}
	return err
}

// Status returns a copy of a job.
func (c *Coordinator) Status(jobID string) (*Job, error) {
	return c.registry.Get(jobID)
}

// Cancel asks a job to stop and returns its current record. Cancelling a
// terminal job is a no-op.
func (c *Coordinator) Cancel(jobID string) (*Job, error) {
	job, err := c.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, nil
	}
	c.mu.Lock()
	r := c.runs[jobID]
	c.mu.Unlock()
	if r != nil {
		r.cancel(fmt.Errorf("%w: cancelled by request", apperr.ErrCancelled))
		c.logger.Info("analysis cancel requested", slog.String("job", jobID))
	}
	return job, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, jobID string) (*Job, error) {
	c.mu.Lock()
	r := c.runs[jobID]
	c.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	return c.registry.Get(jobID)
}

// List returns the jobs of a project, newest first. An empty projectID
// lists every retained job.
func (c *Coordinator) List(projectID string) []*Job {
	return c.registry.List(projectID)
}

// Active returns the job currently holding the project, if any.
func (c *Coordinator) Active(projectID string) (*Job, bool) {
	id, ok := c.leases.holder(projectID)
	if !ok {
		return nil, false
	}
	job, err := c.registry.Get(id)
	if err != nil {
		return nil, false
	}
	return job, true
}

// Running returns the number of queued or running jobs.
func (c *Coordinator) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// Workers returns the maximum number of concurrently running jobs.
func (c *Coordinator) Workers() int { return cap(c.slots) }

// Shutdown refuses new triggers, cancels every live run and waits for
// them to reach a terminal state.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop(fmt.Errorf("%w: job coordinator shutting down", apperr.ErrCancelled))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
