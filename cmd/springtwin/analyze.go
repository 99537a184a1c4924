package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/tui"
	"github.com/Lezhik/SpringTwin/internal/watcher"
)

type analyzeFlags struct {
	include  []string
	exclude  []string
	json     bool
	watch    bool
	progress bool
}

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze <path>",
		Short: "Analyze a Spring project and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), *configPath, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "Package patterns to include (e.g. com.acme.**)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Package patterns to exclude")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the job and graph stats as JSON")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "Re-analyze when sources change")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Show live progress")
	return cmd
}

func runAnalyze(ctx context.Context, configPath, path string, f analyzeFlags, out io.Writer) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if f.watch && f.progress {
		return apperr.InvalidArgumentf("--progress cannot be combined with --watch")
	}
	root, err := absPath(path)
	if err != nil {
		return err
	}

	var opts appOptions
	var events <-chan jobs.Event
	if f.progress {
		pub, ch := tui.Channel(64)
		opts.Publishers = append(opts.Publishers, pub)
		events = ch
	}
	styles := tui.DefaultStyles()
	if f.watch {
		opts.Publishers = append(opts.Publishers, jobs.PublisherFunc(func(e jobs.Event) {
			if e.Job != nil && e.Job.State.Terminal() {
				fmt.Fprint(out, styles.Job(e.Job))
			}
		}))
	}

	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	p, err := a.ensureProject(ctx, root, f.include, f.exclude)
	if err != nil {
		return err
	}
	job, err := a.jobs.Trigger(ctx, jobs.Request{ProjectID: p.ID, Root: p.Path, Include: p.IncludePackages, Exclude: p.ExcludePackages})
	if err != nil {
		return err
	}

	if f.progress {
		// Quitting the view only stops following; the job is still awaited below.
		if _, err := tui.RunProgress(ctx, job.ID, events, os.Stdin, out); err != nil {
			return err
		}
		// Lifecycle events block until read.
		go func() {
			for range events {
			}
		}()
	}
	if f.watch {
		return watch(ctx, a, p, logger)
	}

	job, err = a.jobs.Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	if err := printAnalysis(ctx, a, p, job, f.json, out); err != nil {
		return err
	}
	if job.State != jobs.StateCompleted {
		return jobError(job)
	}
	return nil
}

func printAnalysis(ctx context.Context, a *app, p *project.Project, job *jobs.Job, asJSON bool, out io.Writer) error {
	stats, err := a.query.Stats(ctx, p.ID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Project *project.Project  `json:"project"`
			Job     *jobs.Job         `json:"job"`
			Stats   *query.GraphStats `json:"stats,omitempty"`
		}{p, job, stats})
	}
	styles := tui.DefaultStyles()
	fmt.Fprint(out, styles.Job(job))
	if stats != nil {
		fmt.Fprintln(out, styles.Stats(stats))
	}
	return nil
}

func jobError(job *jobs.Job) error {
	if job.Error != nil {
		return fmt.Errorf("job %s %s: %s", job.ID, job.State, job.Error.Message)
	}
	return fmt.Errorf("job %s %s", job.ID, job.State)
}

// watch re-triggers the project until ctx is done.
func watch(ctx context.Context, a *app, p *project.Project, logger *slog.Logger) error {
	w, err := watcher.New(watcher.Options{
		Root:        p.Path,
		Debounce:    a.cfg.Analysis.WatchDebounce,
		ExcludeDirs: a.cfg.Analysis.ExcludeDirs,
		Logger:      logger,
		Trigger: func(ctx context.Context, changed []string) error {
			_, err := a.jobs.Trigger(ctx, jobs.Request{ProjectID: p.ID, Root: p.Path, Include: p.IncludePackages, Exclude: p.ExcludePackages})
			return err
		},
	})
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Info("watching for changes", slog.String("root", p.Path))
	return w.Run(ctx)
}

func newReportCmd(configPath *string) *cobra.Command {
	var (
		req     query.ReportRequest
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "report <path>",
		Short: "Render a report for an analyzed project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), *configPath, args[0], req, refresh, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&req.Kind, "kind", query.ReportDependencies, fmt.Sprintf("Report kind %v", query.ReportKinds))
	cmd.Flags().StringVar(&req.Format, "format", "", "Output format (json, markdown, mermaid, dot)")
	cmd.Flags().StringVar(&req.ClassID, "class", "", "Class FQN for dependency and class reports")
	cmd.Flags().StringVar(&req.MethodID, "method", "", "Method id for method reports")
	cmd.Flags().StringVar(&req.EndpointID, "endpoint", "", "Endpoint id for endpoint reports")
	cmd.Flags().StringVar(&req.Package, "package", "", "Package pattern for context and graph reports")
	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", 0, "Dependency depth limit (0 is unlimited)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-analyze before rendering")
	return cmd
}

func runReport(ctx context.Context, configPath, path string, req query.ReportRequest, refresh bool, out io.Writer) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	root, err := absPath(path)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	p, err := a.ensureProject(ctx, root, nil, nil)
	if err != nil {
		return err
	}
	if _, ok := a.store.Current(p.ID); refresh || !ok {
		job, err := a.jobs.Trigger(ctx, jobs.Request{ProjectID: p.ID, Root: p.Path, Include: p.IncludePackages, Exclude: p.ExcludePackages})
		if err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, cfg.Analysis.Timeout+time.Minute)
		job, err = a.jobs.Wait(waitCtx, job.ID)
		cancel()
		if err != nil {
			return err
		}
		if job.State != jobs.StateCompleted {
			return jobError(job)
		}
	}

	req.ProjectID = p.ID
	rendered, err := a.query.Render(ctx, req)
	if err != nil {
		return err
	}
	if _, err := out.Write(rendered.Body); err != nil {
		return err
	}
	if len(rendered.Body) > 0 && rendered.Body[len(rendered.Body)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return nil
}
