package gateway

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/vector"
)

// Tool names in manifest order.
const (
	ToolListClasses         = "list_classes"
	ToolListMethods         = "list_methods"
	ToolListEndpoints       = "list_endpoints"
	ToolGetDependencyReport = "get_dependency_report"
	ToolExplainClass        = "explain_class"
	ToolExplainEndpoint     = "explain_endpoint"
	ToolExplainMethod       = "explain_method"
	ToolExportContext       = "export_context"
	ToolSearchEntities      = "search_entities"
	ToolGetJobStatus        = "get_job_status"
	ToolTriggerAnalysis     = "trigger_analysis"
	ToolCancelJob           = "cancel_job"
)

// DefaultSearchLimit is the number of hits search_entities returns when no
// limit is given.
const DefaultSearchLimit = 10

type ListClassesArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	Package   string `json:"package,omitempty" jsonschema:"package glob such as com.acme.** or com.*.web"`
	Label     string `json:"label,omitempty" jsonschema:"role label such as controller or service"`
	Name      string `json:"name,omitempty" jsonschema:"case-insensitive substring of the simple class name"`
}

type ListMethodsArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	Package   string `json:"package,omitempty" jsonschema:"package glob of the owning class"`
	ClassID   string `json:"class_id,omitempty" jsonschema:"fully qualified name of the owning class"`
	Name      string `json:"name,omitempty" jsonschema:"case-insensitive substring of the method name"`
}

type ListEndpointsArgs struct {
	ProjectID  string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	Package    string `json:"package,omitempty" jsonschema:"package glob of the handler class"`
	HTTPMethod string `json:"http_method,omitempty" jsonschema:"HTTP method such as GET"`
	PathPrefix string `json:"path_prefix,omitempty" jsonschema:"leading part of the route path"`
}

type DependencyReportArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	ClassID   string `json:"class_id" jsonschema:"fully qualified name of the root class"`
	MaxDepth  int    `json:"max_depth,omitempty" jsonschema:"maximum walk depth, 0 for unlimited"`
}

type ExplainClassArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	ClassID   string `json:"class_id" jsonschema:"fully qualified class name"`
}

type ExplainEndpointArgs struct {
	ProjectID  string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	EndpointID string `json:"endpoint_id" jsonschema:"endpoint id as returned by list_endpoints"`
}

type ExplainMethodArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is queried"`
	MethodID  string `json:"method_id" jsonschema:"method id in the form Class#name(Types)"`
}

type ExportContextArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project whose committed graph is summarized"`
	Package   string `json:"package,omitempty" jsonschema:"restrict the digest to matching packages"`
}

type SearchEntitiesArgs struct {
	ProjectID string `json:"project_id" jsonschema:"project to search"`
	Query     string `json:"query" jsonschema:"free text describing the entity"`
	Namespace string `json:"namespace,omitempty" jsonschema:"restrict hits to class, method or endpoint"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of hits"`
}

type JobStatusArgs struct {
	JobID string `json:"job_id" jsonschema:"job id returned by trigger_analysis"`
}

type TriggerAnalysisArgs struct {
	ProjectID       string   `json:"project_id" jsonschema:"registered project to analyze"`
	IncludePackages []string `json:"include_packages,omitempty" jsonschema:"package globs to include, overriding the project's"`
	ExcludePackages []string `json:"exclude_packages,omitempty" jsonschema:"package globs to exclude, overriding the project's"`
}

type CancelJobArgs struct {
	JobID string `json:"job_id" jsonschema:"job to cancel"`
}

func minimum(prop string, v float64) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) {
		if p := s.Properties[prop]; p != nil {
			p.Minimum = &v
		}
	}
}

func nonEmpty(props ...string) func(*jsonschema.Schema) {
	one := 1
	return func(s *jsonschema.Schema) {
		for _, prop := range props {
			if p := s.Properties[prop]; p != nil {
				p.MinLength = &one
			}
		}
	}
}

func chain(tunes ...func(*jsonschema.Schema)) func(*jsonschema.Schema) {
	return func(s *jsonschema.Schema) {
		for _, t := range tunes {
			t(s)
		}
	}
}

var errNoBackend = errors.New("backend not configured")

func (g *Gateway) manifest() ([]*Tool, error) {
	q := g.opts.Query
	builders := []func() (*Tool, error){
		func() (*Tool, error) {
			return newTool(ToolListClasses, "List classes of the committed graph, filtered by package, label or name.", false,
				nonEmpty("project_id"),
				func(ctx context.Context, a ListClassesArgs) (any, error) {
					return q.ListClasses(ctx, query.ClassFilter{ProjectID: a.ProjectID, Package: a.Package, Label: a.Label, Name: a.Name})
				})
		},
		func() (*Tool, error) {
			return newTool(ToolListMethods, "List methods, optionally of one class.", false,
				nonEmpty("project_id"),
				func(ctx context.Context, a ListMethodsArgs) (any, error) {
					return q.ListMethods(ctx, query.MethodFilter{ProjectID: a.ProjectID, Package: a.Package, ClassID: a.ClassID, Name: a.Name})
				})
		},
		func() (*Tool, error) {
			return newTool(ToolListEndpoints, "List HTTP endpoints with their handler methods.", false,
				nonEmpty("project_id"),
				func(ctx context.Context, a ListEndpointsArgs) (any, error) {
					return q.ListEndpoints(ctx, query.EndpointFilter{ProjectID: a.ProjectID, Package: a.Package, HTTPMethod: a.HTTPMethod, PathPrefix: a.PathPrefix})
				})
		},
		func() (*Tool, error) {
			return newTool(ToolGetDependencyReport, "Walk the transitive dependencies of a class, reporting cycles.", false,
				chain(nonEmpty("project_id", "class_id"), minimum("max_depth", 0)),
				func(ctx context.Context, a DependencyReportArgs) (any, error) {
					return q.DependencyReport(ctx, query.DependencyRequest{ProjectID: a.ProjectID, ClassID: a.ClassID, MaxDepth: a.MaxDepth})
				})
		},
		func() (*Tool, error) {
			return newTool(ToolExplainClass, "Describe a class with its methods, endpoints, dependencies and dependents.", false,
				nonEmpty("project_id", "class_id"),
				func(ctx context.Context, a ExplainClassArgs) (any, error) {
					return q.ExplainClass(ctx, a.ProjectID, a.ClassID)
				})
		},
		func() (*Tool, error) {
			return newTool(ToolExplainEndpoint, "Trace an endpoint to its handler, calls and class dependencies.", false,
				nonEmpty("project_id", "endpoint_id"),
				func(ctx context.Context, a ExplainEndpointArgs) (any, error) {
					return q.ExplainEndpoint(ctx, a.ProjectID, a.EndpointID)
				})
		},
		func() (*Tool, error) {
			return newTool(ToolExplainMethod, "Describe a method with its endpoints and call sites.", false,
				nonEmpty("project_id", "method_id"),
				func(ctx context.Context, a ExplainMethodArgs) (any, error) {
					return q.ExplainMethod(ctx, a.ProjectID, a.MethodID)
				})
		},
		func() (*Tool, error) {
			return newTool(ToolExportContext, "Render a Markdown architecture digest of the project.", false,
				nonEmpty("project_id"),
				func(ctx context.Context, a ExportContextArgs) (any, error) {
					md, err := q.ExportContext(ctx, query.ContextRequest{ProjectID: a.ProjectID, Package: a.Package})
					if err != nil {
						return nil, err
					}
					return map[string]string{"markdown": md}, nil
				})
		},
		func() (*Tool, error) {
			return newTool(ToolSearchEntities, "Find classes, methods or endpoints similar to a free-text query.", false,
				chain(nonEmpty("project_id", "query"), minimum("limit", 1), func(s *jsonschema.Schema) {
					if p := s.Properties["namespace"]; p != nil {
						p.Enum = []any{string(ir.NamespaceClass), string(ir.NamespaceMethod), string(ir.NamespaceEndpoint)}
					}
				}),
				func(ctx context.Context, a SearchEntitiesArgs) (any, error) {
					if g.opts.Search == nil {
						return nil, errNoBackend
					}
					limit := a.Limit
					if limit == 0 {
						limit = DefaultSearchLimit
					}
					hits, err := g.opts.Search.Search(ctx, a.ProjectID, a.Query, ir.Namespace(a.Namespace), limit)
					if err != nil {
						return nil, err
					}
					if hits == nil {
						hits = []vector.Hit{}
					}
					return map[string]any{"project_id": a.ProjectID, "hits": hits}, nil
				})
		},
		func() (*Tool, error) {
			return newTool(ToolGetJobStatus, "Report the state, progress and error of an analysis job.", false,
				nonEmpty("job_id"),
				func(_ context.Context, a JobStatusArgs) (any, error) {
					if g.opts.Jobs == nil {
						return nil, errNoBackend
					}
					return g.opts.Jobs.Status(a.JobID)
				})
		},
		func() (*Tool, error) {
			return newTool(ToolTriggerAnalysis, "Start analyzing a registered project and return the job.", true,
				nonEmpty("project_id"),
				func(ctx context.Context, a TriggerAnalysisArgs) (any, error) {
					return g.trigger(ctx, a)
				})
		},
		func() (*Tool, error) {
			return newTool(ToolCancelJob, "Cancel an analysis job. The committed graph is left unchanged.", true,
				nonEmpty("job_id"),
				func(ctx context.Context, a CancelJobArgs) (any, error) {
					if g.opts.Jobs == nil {
						return nil, errNoBackend
					}
					job, err := g.opts.Jobs.Cancel(a.JobID)
					g.opts.Audit.LogJobCancel(ctx, a.JobID, callerFrom(ctx), err)
					return job, err
				})
		},
	}

	tools := make([]*Tool, 0, len(builders))
	for _, build := range builders {
		t, err := build()
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func (g *Gateway) trigger(ctx context.Context, a TriggerAnalysisArgs) (*jobs.Job, error) {
	if g.opts.Jobs == nil || g.opts.Projects == nil {
		return nil, errNoBackend
	}
	p, err := g.opts.Projects.Get(ctx, a.ProjectID)
	if err != nil {
		return nil, err
	}
	req := jobs.Request{ProjectID: p.ID, Root: p.Path, Include: p.IncludePackages, Exclude: p.ExcludePackages}
	if a.IncludePackages != nil {
		req.Include = a.IncludePackages
	}
	if a.ExcludePackages != nil {
		req.Exclude = a.ExcludePackages
	}
	job, err := g.opts.Jobs.Trigger(ctx, req)
	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	g.opts.Audit.LogJobTrigger(ctx, a.ProjectID, jobID, callerFrom(ctx), err)
	return job, err
}
