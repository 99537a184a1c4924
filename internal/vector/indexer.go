package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

// Metadata keys stored with every document.
const (
	MetaProject   = "project"
	MetaNamespace = "namespace"
	MetaEntity    = "entity"
)

// Indexer keeps a Repository in sync with committed graphs and answers
// entity searches. It implements graph.Projector.
type Indexer struct {
	repo     Repository
	embedder Embedder
	logger   *slog.Logger
}

var _ graph.Projector = (*Indexer)(nil)

// NewIndexer creates an Indexer. A nil logger means slog.Default().
func NewIndexer(repo Repository, embedder Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{repo: repo, embedder: embedder, logger: logger}
}

// Name implements graph.Projector.
func (x *Indexer) Name() string { return "vector" }

// PointID is the stable document id of an entity.
func PointID(projectID string, ns ir.Namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"|"+string(ns)+"|"+id)).String()
}

// Describe returns the searchable text of a node.
func Describe(g *ir.Graph, ns ir.Namespace, id string) string {
	switch ns {
	case ir.NamespaceClass:
		c := g.Classes[id]
		return strings.Join(append([]string{c.FullName, string(c.Kind)}, c.Labels...), " ")
	case ir.NamespaceMethod:
		m := g.Methods[id]
		parts := []string{m.ClassID, m.Signature, m.ReturnType}
		for _, p := range m.Parameters {
			parts = append(parts, p.Name)
		}
		return strings.Join(parts, " ")
	case ir.NamespaceEndpoint:
		e := g.Endpoints[id]
		return e.HTTPMethod + " " + e.Path + " " + e.MethodID
	}
	return id
}

// Project implements graph.Projector.
func (x *Indexer) Project(ctx context.Context, snap *graph.Snapshot, diff *graph.Diff) error {
	var deleted []string
	var ids []string
	var nss []ir.Namespace
	var texts []string
	for _, ns := range ir.Namespaces {
		nd := diff.Nodes[ns]
		if nd == nil {
			continue
		}
		for _, id := range nd.Deleted {
			deleted = append(deleted, PointID(snap.ProjectID, ns, id))
		}
		for _, group := range [][]string{nd.Inserted, nd.Updated} {
			for _, id := range group {
				ids = append(ids, id)
				nss = append(nss, ns)
				texts = append(texts, Describe(snap.Graph, ns, id))
			}
		}
	}

	if len(deleted) > 0 {
		if err := x.repo.Delete(ctx, deleted); err != nil {
			return fmt.Errorf("delete %d documents: %w", len(deleted), err)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	docs := make([]Document, len(texts))
	for i := range texts {
		docs[i] = Document{
			ID:      PointID(snap.ProjectID, nss[i], ids[i]),
			Content: texts[i],
			Vector:  vecs[i],
			Metadata: map[string]string{
				MetaProject:   snap.ProjectID,
				MetaNamespace: string(nss[i]),
				MetaEntity:    ids[i],
			},
		}
	}
	if err := x.repo.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("upsert %d documents: %w", len(docs), err)
	}
	x.logger.Debug("search index updated",
		slog.String("project", snap.ProjectID),
		slog.Int("upserted", len(docs)),
		slog.Int("deleted", len(deleted)))
	return nil
}

// Drop implements graph.Projector.
func (x *Indexer) Drop(ctx context.Context, projectID string) error {
	return x.repo.DeleteWhere(ctx, map[string]string{MetaProject: projectID})
}

// Hit is one entity search result.
type Hit struct {
	ID        string       `json:"id"`
	Namespace ir.Namespace `json:"namespace"`
	Score     float32      `json:"score"`
	Text      string       `json:"text"`
}

// Search returns the entities of a project most similar to text. An
// empty namespace searches all of them.
func (x *Indexer) Search(ctx context.Context, projectID, text string, ns ir.Namespace, topK int) ([]Hit, error) {
	vecs, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	filter := map[string]string{MetaProject: projectID}
	if ns != "" {
		filter[MetaNamespace] = string(ns)
	}
	results, err := x.repo.Search(ctx, vecs[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:        r.Metadata[MetaEntity],
			Namespace: ir.Namespace(r.Metadata[MetaNamespace]),
			Score:     r.Score,
			Text:      r.Content,
		})
	}
	return hits, nil
}
