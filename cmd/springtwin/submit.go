package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/Lezhik/SpringTwin/internal/temporal"
	"github.com/Lezhik/SpringTwin/internal/tui"
)

func newSubmitCmd(configPath *string) *cobra.Command {
	var (
		in   temporal.AnalyzeInput
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Submit an analysis to the Temporal worker pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if in.Root, err = absPath(args[0]); err != nil {
				return err
			}
			if in.ProjectID == "" {
				in.ProjectID = baseName(in.Root)
			}

			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.Host,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			run, err := temporal.Submit(ctx, c, cfg.Temporal.TaskQueue, in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow %s run %s\n", run.GetID(), run.GetRunID())
			if !wait {
				return nil
			}

			var res temporal.AnalyzeOutput
			if err := run.Get(ctx, &res); err != nil {
				return fmt.Errorf("workflow %s: %w", run.GetID(), err)
			}
			s := tui.DefaultStyles()
			fmt.Fprintf(out, "%s %s v%d  %d classes  %d methods  %d endpoints  %d cycles\n",
				s.StateBadge(res.State), res.JobID, res.Version,
				res.Counts.Classes, res.Counts.Methods, res.Counts.Endpoints, res.Cycles)
			if res.Hotspot != "" {
				fmt.Fprintf(out, "hotspot %s\n", res.Hotspot)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "Project id (defaults to the directory name)")
	cmd.Flags().StringSliceVar(&in.IncludePackages, "include", nil, "Package patterns to include")
	cmd.Flags().StringSliceVar(&in.ExcludePackages, "exclude", nil, "Package patterns to exclude")
	cmd.Flags().DurationVar(&in.Timeout, "timeout", 0, "Per-run timeout (0 uses the worker default)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the workflow result")
	return cmd
}
