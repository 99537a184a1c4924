package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/query"
)

// DefaultHeartbeatInterval is how often RunAnalysis reports progress.
const DefaultHeartbeatInterval = 5 * time.Second

// Hard cap on waiting for a cancelled job to settle.
const cancelGrace = 30 * time.Second

// RunResult is the serializable result of RunAnalysis.
type RunResult struct {
	Job *jobs.Job
}

// Summary is the serializable result of Summarize.
type Summary struct {
	Version int64
	Counts  ir.Counts
	Cycles  int
	Hotspot string
}

// Activities runs analyses on a worker-local job coordinator.
type Activities struct {
	Jobs              *jobs.Coordinator
	Query             *query.Service // nil disables Summarize
	HeartbeatInterval time.Duration
	Logger            *slog.Logger

	// heartbeat defaults to activity.RecordHeartbeat.
	heartbeat func(ctx context.Context, details ...any)
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Activities) record(ctx context.Context, progress int) {
	if a.heartbeat != nil {
		a.heartbeat(ctx, progress)
		return
	}
	activity.RecordHeartbeat(ctx, progress)
}

// RunAnalysis triggers a run and heartbeats its progress until it is
// terminal. When the activity is cancelled the job is cancelled too.
func (a *Activities) RunAnalysis(ctx context.Context, in AnalyzeInput) (RunResult, error) {
	job, err := a.Jobs.Trigger(ctx, jobs.Request{
		ProjectID: in.ProjectID,
		Root:      in.Root,
		Include:   in.IncludePackages,
		Exclude:   in.ExcludePackages,
		Timeout:   in.Timeout,
	})
	if err != nil {
		return RunResult{}, applicationError(err)
	}
	a.logger().Info("temporal analysis started", slog.String("job", job.ID), slog.String("project", in.ProjectID))

	interval := a.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	for {
		waitCtx, cancel := context.WithTimeout(ctx, interval)
		done, err := a.Jobs.Wait(waitCtx, job.ID)
		cancel()

		if err == nil {
			return finished(done)
		}
		if ctx.Err() != nil {
			return RunResult{}, a.abandon(ctx, job.ID)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return RunResult{}, applicationError(err)
		}
		if cur, err := a.Jobs.Status(job.ID); err == nil {
			a.record(ctx, cur.Progress)
		}
	}
}

// abandon cancels the job after the activity was cancelled and waits
// briefly for it to settle.
func (a *Activities) abandon(ctx context.Context, jobID string) error {
	if _, err := a.Jobs.Cancel(jobID); err != nil {
		a.logger().Warn("cancel job after activity cancel", slog.String("job", jobID), slog.String("error", err.Error()))
	}
	settle, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	if _, err := a.Jobs.Wait(settle, jobID); err != nil {
		a.logger().Warn("job did not settle after cancel", slog.String("job", jobID), slog.String("error", err.Error()))
	}
	return ctx.Err()
}

func finished(job *jobs.Job) (RunResult, error) {
	if job.State == jobs.StateCompleted {
		return RunResult{Job: job}, nil
	}
	kind := apperr.KindInternal
	msg := fmt.Sprintf("job %s %s", job.ID, job.State)
	if job.Error != nil {
		kind = job.Error.Kind
		msg = job.Error.Message
	}
	if job.State == jobs.StateCancelled {
		kind = apperr.KindCancelled
	}
	return RunResult{Job: job}, newApplicationError(msg, kind, job)
}

// applicationError converts an error into a Temporal application error
// typed by its external code.
func applicationError(err error) error {
	return newApplicationError(err.Error(), apperr.KindOf(err), nil)
}

func newApplicationError(msg string, kind apperr.Kind, job *jobs.Job) error {
	code := kind.Code()
	var details []any
	if job != nil {
		details = append(details, job)
	}
	for _, t := range nonRetryable {
		if t == code {
			return temporal.NewNonRetryableApplicationError(msg, code, nil, details...)
		}
	}
	return temporal.NewApplicationError(msg, code, details...)
}

// Summarize reports graph metrics for the committed version of a project.
func (a *Activities) Summarize(ctx context.Context, projectID string) (Summary, error) {
	if a.Query == nil {
		return Summary{}, temporal.NewNonRetryableApplicationError("no query service on this worker", apperr.KindConfiguration.Code(), nil)
	}
	st, err := a.Query.Stats(ctx, projectID)
	if err != nil {
		return Summary{}, applicationError(err)
	}
	return Summary{Version: st.Version, Counts: st.Counts, Cycles: len(st.Cycles), Hotspot: st.Hotspot}, nil
}
