// Package gateway exposes the query and job operations as a fixed manifest
// of schema-validated tools. Every call is validated before dispatch,
// mapped to a stable external code, audited and counted.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/jobs"
	"github.com/Lezhik/SpringTwin/internal/observability"
	"github.com/Lezhik/SpringTwin/internal/project"
	"github.com/Lezhik/SpringTwin/internal/query"
	"github.com/Lezhik/SpringTwin/internal/vector"
)

// External result codes that do not come from an error kind.
const (
	CodeOK          = "OK"
	CodeUnknownTool = "UNKNOWN_TOOL"
)

// Capability is a permission a caller may hold.
type Capability string

// CapabilityWrite allows tools that start or stop jobs.
const CapabilityWrite Capability = "write"

type ctxKey int

const (
	capsKey ctxKey = iota
	callerKey
)

// WithCapabilities grants caps for calls made with the returned context.
func WithCapabilities(ctx context.Context, caps ...Capability) context.Context {
	held := append(CapabilitiesFrom(ctx), caps...)
	return context.WithValue(ctx, capsKey, held)
}

// CapabilitiesFrom returns the capabilities granted on ctx.
func CapabilitiesFrom(ctx context.Context) []Capability {
	caps, _ := ctx.Value(capsKey).([]Capability)
	return slices.Clone(caps)
}

// WithCaller names the caller recorded in the audit log.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func callerFrom(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey).(string); ok && c != "" {
		return c
	}
	return "anonymous"
}

// Metrics counts tool calls by external code.
type Metrics interface {
	ToolCall(tool, code string)
}

// Searcher answers entity similarity searches.
type Searcher interface {
	Search(ctx context.Context, projectID, text string, ns ir.Namespace, topK int) ([]vector.Hit, error)
}

// Projects resolves registered projects for trigger_analysis.
type Projects interface {
	Get(ctx context.Context, id string) (*project.Project, error)
}

// Options configures a Gateway. Query is required; tools whose backend is
// nil answer INTERNAL.
type Options struct {
	Query      *query.Service
	Jobs       *jobs.Coordinator
	Projects   Projects
	Search     Searcher
	Privileged bool // grant CapabilityWrite to every caller
	Audit      *observability.AuditLogger
	Metrics    Metrics
	Logger     *slog.Logger
}

// Descriptor is one manifest entry.
type Descriptor struct {
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	ParameterSchema *jsonschema.Schema `json:"parameterSchema"`
	Privileged      bool               `json:"privileged,omitempty"`
}

// Result is the outcome of a tool call. Data is set only for OK.
type Result struct {
	Tool  string         `json:"tool"`
	Code  string         `json:"code"`
	Data  any            `json:"data,omitempty"`
	Error *apperr.Detail `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool { return r.Code == CodeOK }

// Tool is a manifest entry bound to its handler.
type Tool struct {
	Name        string
	Description string
	Write       bool

	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	call     func(ctx context.Context, args json.RawMessage) (any, error)
}

// Schema returns the parameter schema of the tool.
func (t *Tool) Schema() *jsonschema.Schema { return t.schema }

// newTool infers the parameter schema from T, lets tune tighten it and
// binds fn behind a JSON decode.
func newTool[T any](name, description string, write bool, tune func(*jsonschema.Schema), fn func(context.Context, T) (any, error)) (*Tool, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: infer schema: %w", name, err)
	}
	if tune != nil {
		tune(schema)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: resolve schema: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Write:       write,
		schema:      schema,
		resolved:    resolved,
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, apperr.InvalidArgumentf("decode %s arguments: %v", name, err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// validate checks raw against the resolved schema.
func (t *Tool) validate(raw json.RawMessage) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return apperr.InvalidArgumentf("%s arguments are not valid JSON: %v", t.Name, err)
	}
	if err := t.resolved.Validate(instance); err != nil {
		return apperr.InvalidArgumentf("%s arguments: %v", t.Name, err)
	}
	return nil
}

// Gateway dispatches tool calls.
type Gateway struct {
	opts   Options
	tools  []*Tool
	byName map[string]*Tool
	logger *slog.Logger
}

// New builds the manifest.
func New(opts Options) (*Gateway, error) {
	if opts.Query == nil {
		return nil, apperr.Configurationf("tool gateway requires a query service")
	}
	g := &Gateway{opts: opts, logger: opts.Logger, byName: map[string]*Tool{}}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	tools, err := g.manifest()
	if err != nil {
		return nil, err
	}
	g.tools = tools
	for _, t := range tools {
		g.byName[t.Name] = t
	}
	return g, nil
}

func (g *Gateway) allowed(ctx context.Context, t *Tool) bool {
	if !t.Write || g.opts.Privileged {
		return true
	}
	return slices.Contains(CapabilitiesFrom(ctx), CapabilityWrite)
}

// Tools returns the tools visible to the caller, in manifest order.
func (g *Gateway) Tools(ctx context.Context) []*Tool {
	out := make([]*Tool, 0, len(g.tools))
	for _, t := range g.tools {
		if g.allowed(ctx, t) {
			out = append(out, t)
		}
	}
	return out
}

// Manifest returns the descriptors visible to the caller. Write tools are
// listed only when the caller may call them.
func (g *Gateway) Manifest(ctx context.Context) []Descriptor {
	tools := g.Tools(ctx)
	out := make([]Descriptor, len(tools))
	for i, t := range tools {
		out[i] = Descriptor{Name: t.Name, Description: t.Description, ParameterSchema: t.schema, Privileged: t.Write}
	}
	return out
}

// Call validates args against the tool's schema and dispatches it. Errors
// never escape as Go errors; they are reported through Result.Code.
func (g *Gateway) Call(ctx context.Context, name string, args json.RawMessage) *Result {
	ctx, span := observability.StartToolSpan(ctx, name)
	defer span.End()
	start := time.Now()

	res := g.dispatch(ctx, name, args)

	dur := time.Since(start)
	observability.RecordToolResult(span, res.Code, dur)
	msg := ""
	if res.Error != nil {
		msg = res.Error.Message
		if res.Code == apperr.KindInternal.Code() {
			g.logger.Error("tool call failed", slog.String("tool", name), slog.String("error", msg))
		}
	}
	if g.opts.Metrics != nil {
		g.opts.Metrics.ToolCall(name, res.Code)
	}
	g.opts.Audit.LogToolCall(ctx, name, callerFrom(ctx), res.Code, dur, msg)
	return res
}

func (g *Gateway) dispatch(ctx context.Context, name string, args json.RawMessage) *Result {
	t, ok := g.byName[name]
	if !ok {
		return &Result{Tool: name, Code: CodeUnknownTool, Error: &apperr.Detail{
			Kind:    apperr.KindInvalidArgument,
			Code:    CodeUnknownTool,
			Message: fmt.Sprintf("unknown tool %q", name),
		}}
	}
	if !g.allowed(ctx, t) {
		return failure(name, fmt.Errorf("%w: %s requires the %s capability", apperr.ErrPermission, name, CapabilityWrite))
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	if err := t.validate(args); err != nil {
		return failure(name, err)
	}
	data, err := t.call(ctx, args)
	if err != nil {
		return failure(name, err)
	}
	return &Result{Tool: name, Code: CodeOK, Data: data}
}

func failure(tool string, err error) *Result {
	d := apperr.DetailOf(err)
	return &Result{Tool: tool, Code: d.Code, Error: d}
}
