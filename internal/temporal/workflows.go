package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/jobs"
)

// DefaultActivityTimeout bounds RunAnalysis when the input sets no timeout.
const DefaultActivityTimeout = 30 * time.Minute

// HeartbeatTimeout is how long RunAnalysis may go without a heartbeat.
const HeartbeatTimeout = 30 * time.Second

// AnalyzeInput holds the workflow parameters.
type AnalyzeInput struct {
	ProjectID       string
	Root            string
	IncludePackages []string
	ExcludePackages []string
	Timeout         time.Duration // per run; zero means the coordinator default
}

// AnalyzeOutput holds the workflow result.
type AnalyzeOutput struct {
	JobID   string
	State   jobs.State
	Version int64
	Changed bool
	Stats   jobs.Stats

	// Graph summary of the committed version.
	Counts  ir.Counts
	Cycles  int
	Hotspot string
}

// nonRetryable lists error types a retry cannot fix. Conflict is
// retryable: the project's active job finishes eventually.
var nonRetryable = []string{
	apperr.KindConfiguration.Code(),
	apperr.KindInvalidArgument.Code(),
	apperr.KindNotFound.Code(),
	apperr.KindExtraction.Code(),
	apperr.KindGraphIntegrity.Code(),
	apperr.KindCancelled.Code(),
}

// AnalyzeProjectWorkflow runs one analysis and summarizes the committed
// graph.
func AnalyzeProjectWorkflow(ctx workflow.Context, input AnalyzeInput) (*AnalyzeOutput, error) {
	timeout := DefaultActivityTimeout
	if input.Timeout > 0 {
		timeout = input.Timeout + time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    HeartbeatTimeout,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: nonRetryable,
		},
	})

	var a *Activities
	var run RunResult
	if err := workflow.ExecuteActivity(ctx, a.RunAnalysis, input).Get(ctx, &run); err != nil {
		return nil, fmt.Errorf("run analysis: %w", err)
	}

	out := &AnalyzeOutput{
		JobID:   run.Job.ID,
		State:   run.Job.State,
		Version: run.Job.Stats.Version,
		Changed: run.Job.Stats.Changed,
		Stats:   run.Job.Stats,
	}

	var sum Summary
	if err := workflow.ExecuteActivity(ctx, a.Summarize, input.ProjectID).Get(ctx, &sum); err != nil {
		workflow.GetLogger(ctx).Warn("summarize graph failed", "project", input.ProjectID, "error", err)
		return out, nil
	}
	out.Counts = sum.Counts
	out.Cycles = sum.Cycles
	out.Hotspot = sum.Hotspot
	return out, nil
}
