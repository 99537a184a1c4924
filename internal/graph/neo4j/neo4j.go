// Package neo4j mirrors committed graphs into Neo4j for ad-hoc Cypher
// exploration. Nodes carry a project property; ids are unique per project.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Projector implements graph.Projector on a Neo4j database.
type Projector struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

var _ graph.Projector = (*Projector)(nil)

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Projector, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Name implements graph.Projector.
func (p *Projector) Name() string { return "neo4j" }

// Ping verifies the driver can still reach the database.
func (p *Projector) Ping(ctx context.Context) error {
	return p.driver.VerifyConnectivity(ctx)
}

var labels = map[ir.Namespace]string{
	ir.NamespaceClass:    "Class",
	ir.NamespaceMethod:   "Method",
	ir.NamespaceEndpoint: "Endpoint",
}

// schema is applied by EnsureSchema; every statement is idempotent.
var schema = []string{
	"CREATE INDEX springtwin_class_key IF NOT EXISTS FOR (n:Class) ON (n.project, n.id)",
	"CREATE INDEX springtwin_method_key IF NOT EXISTS FOR (n:Method) ON (n.project, n.id)",
	"CREATE INDEX springtwin_endpoint_key IF NOT EXISTS FOR (n:Endpoint) ON (n.project, n.id)",
	"CREATE INDEX springtwin_class_package IF NOT EXISTS FOR (n:Class) ON (n.package)",
}

func (p *Projector) session(ctx context.Context) neo4j.SessionWithContext {
	return p.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: p.database})
}

// EnsureSchema creates the lookup indexes.
func (p *Projector) EnsureSchema(ctx context.Context) error {
	session := p.session(ctx)
	defer session.Close(ctx)
	for _, stmt := range schema {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}

// Project applies the diff in one write transaction.
func (p *Projector) Project(ctx context.Context, snap *graph.Snapshot, diff *graph.Diff) error {
	stmts := Statements(snap, diff)
	if len(stmts) == 0 {
		return nil
	}
	session := p.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			if _, err := tx.Run(ctx, st.Cypher, st.Params); err != nil {
				return nil, fmt.Errorf("%s: %w", st.Cypher, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("project %s version %d: %w", snap.ProjectID, snap.Version, err)
	}
	p.logger.Debug("neo4j projection applied",
		slog.String("project", snap.ProjectID),
		slog.Int64("version", snap.Version),
		slog.Int("statements", len(stmts)))
	return nil
}

// Drop removes every node of a project.
func (p *Projector) Drop(ctx context.Context, projectID string) error {
	session := p.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			"MATCH (n {project: $project}) WHERE n:Class OR n:Method OR n:Endpoint DETACH DELETE n",
			map[string]any{"project": projectID})
	})
	return err
}

// Close closes the driver.
func (p *Projector) Close(ctx context.Context) error {
	return p.driver.Close(ctx)
}

// Statement is one parameterized Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Statements builds the Cypher that brings Neo4j from the previous version
// to snap. Deletions run first, then node upserts, then edge upserts, so
// relationships always find both ends.
func Statements(snap *graph.Snapshot, diff *graph.Diff) []Statement {
	var out []Statement
	pid := snap.ProjectID

	for _, ns := range ir.Namespaces {
		nd := diff.Nodes[ns]
		if nd == nil || len(nd.Deleted) == 0 {
			continue
		}
		out = append(out, Statement{
			Cypher: fmt.Sprintf("UNWIND $ids AS id MATCH (n:%s {project: $project, id: id}) DETACH DELETE n", labels[ns]),
			Params: map[string]any{"project": pid, "ids": toAny(nd.Deleted)},
		})
	}
	for _, group := range groupEdges(diff.RemovedEdges) {
		out = append(out, Statement{
			Cypher: fmt.Sprintf("UNWIND $rows AS r MATCH (a:%s {project: $project, id: r.from})-[x:%s]->(b:%s {project: $project, id: r.to}) DELETE x",
				group.fromLabel, group.kind, group.toLabel),
			Params: map[string]any{"project": pid, "rows": group.rows},
		})
	}

	for _, ns := range ir.Namespaces {
		nd := diff.Nodes[ns]
		if nd == nil {
			continue
		}
		ids := append(append([]string(nil), nd.Inserted...), nd.Updated...)
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		rows := make([]any, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, NodeRow(snap.Graph, ns, id))
		}
		out = append(out, Statement{
			Cypher: fmt.Sprintf("UNWIND $rows AS r MERGE (n:%s {project: $project, id: r.id}) SET n += r.props", labels[ns]),
			Params: map[string]any{"project": pid, "rows": rows},
		})
	}

	upserts := append(append([]ir.Edge(nil), diff.AddedEdges...), diff.UpdatedEdges...)
	for _, group := range groupEdges(upserts) {
		out = append(out, Statement{
			Cypher: fmt.Sprintf("UNWIND $rows AS r MATCH (a:%s {project: $project, id: r.from}) MATCH (b:%s {project: $project, id: r.to}) MERGE (a)-[x:%s]->(b) SET x += r.props",
				group.fromLabel, group.toLabel, group.kind),
			Params: map[string]any{"project": pid, "rows": group.rows},
		})
	}
	return out
}

// NodeRow flattens a node into {id, props} with driver-friendly values.
func NodeRow(g *ir.Graph, ns ir.Namespace, id string) map[string]any {
	props := map[string]any{}
	switch ns {
	case ir.NamespaceClass:
		c := g.Classes[id]
		props["name"] = c.Name
		props["fullName"] = c.FullName
		props["package"] = c.PackageName
		props["kind"] = string(c.Kind)
		props["labels"] = toAny(c.Labels)
		props["modifiers"] = toAny(c.Modifiers)
		props["sourcePath"] = c.SourcePath
	case ir.NamespaceMethod:
		m := g.Methods[id]
		props["classId"] = m.ClassID
		props["name"] = m.Name
		props["signature"] = m.Signature
		props["returnType"] = m.ReturnType
		props["modifiers"] = toAny(m.Modifiers)
		props["line"] = int64(m.Line)
	case ir.NamespaceEndpoint:
		e := g.Endpoints[id]
		props["methodId"] = e.MethodID
		props["path"] = e.Path
		props["httpMethod"] = e.HTTPMethod
		props["produces"] = e.Produces
		props["consumes"] = e.Consumes
	}
	return map[string]any{"id": id, "props": props}
}

// EdgeRow flattens an edge into {from, to, props}.
func EdgeRow(e ir.Edge) map[string]any {
	props := map[string]any{}
	if e.FieldName != "" {
		props["fieldName"] = e.FieldName
	}
	if e.InjectionType != "" {
		props["injectionType"] = e.InjectionType
	}
	if e.Line != 0 {
		props["line"] = int64(e.Line)
	}
	return map[string]any{"from": e.From, "to": e.To, "props": props}
}

type edgeGroup struct {
	kind      ir.EdgeKind
	fromLabel string
	toLabel   string
	rows      []any
}

// groupEdges buckets edges by kind in ir.EdgeKind order. Unknown kinds are
// dropped; the store never commits them.
func groupEdges(edges []ir.Edge) []edgeGroup {
	byKind := map[ir.EdgeKind]*edgeGroup{}
	var kinds []ir.EdgeKind
	for _, e := range edges {
		from, to, ok := e.Kind.Ends()
		if !ok {
			continue
		}
		g, seen := byKind[e.Kind]
		if !seen {
			g = &edgeGroup{kind: e.Kind, fromLabel: labels[from], toLabel: labels[to]}
			byKind[e.Kind] = g
			kinds = append(kinds, e.Kind)
		}
		g.rows = append(g.rows, EdgeRow(e))
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	out := make([]edgeGroup, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, *byKind[k])
	}
	return out
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
