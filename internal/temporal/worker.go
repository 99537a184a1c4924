package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultTaskQueue is the task queue workers poll when none is configured.
const DefaultTaskQueue = "springtwin-analysis"

// Register adds the workflow and activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(AnalyzeProjectWorkflow)
	w.RegisterActivity(acts)
}

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string, acts *Activities) (worker.Worker, error) {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, acts)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// WorkflowID names the analysis workflow of a project. Using a stable id
// lets Temporal reject a second concurrent submission.
func WorkflowID(projectID string) string {
	return "springtwin-analyze-" + projectID
}

// Submit starts AnalyzeProjectWorkflow for in.
func Submit(ctx context.Context, c client.Client, taskQueue string, in AnalyzeInput) (client.WorkflowRun, error) {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(in.ProjectID),
		TaskQueue: taskQueue,
	}, AnalyzeProjectWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("submit analysis of %s: %w", in.ProjectID, err)
	}
	return run, nil
}
