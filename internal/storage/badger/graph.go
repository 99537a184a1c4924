package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/graph"
	"github.com/Lezhik/SpringTwin/internal/ir"
)

const graphPrefix = "g/"

func projectPrefix(projectID string) []byte {
	return []byte(graphPrefix + projectID + "/")
}

func metaKey(projectID string) []byte {
	return []byte(graphPrefix + projectID + "/meta")
}

func versionsPrefix(projectID string) []byte {
	return []byte(graphPrefix + projectID + "/v/")
}

func versionPrefix(projectID string, version int64) []byte {
	return []byte(fmt.Sprintf("%s%s/v/%020d/", graphPrefix, projectID, version))
}

func nodeKey(prefix []byte, ns ir.Namespace, id string) []byte {
	return append(append([]byte{}, prefix...), "n/"+string(ns)+"/"+id...)
}

func edgeKey(prefix []byte, e ir.Edge) []byte {
	return append(append([]byte{}, prefix...), "e/"+string(e.Kind)+"/"+e.From+"\x00"+e.To...)
}

// GraphPersister implements graph.Persister.
//
// Every version is written under its own key prefix through a WriteBatch,
// so a commit is not bounded by Badger's transaction size. The version only
// becomes current when the small meta record is flipped to it; records of
// any other version are swept afterwards. A crash mid-write leaves the
// previous version current.
type GraphPersister struct {
	db *DB
}

// NewGraphPersister returns a persister backed by db.
func NewGraphPersister(db *DB) *GraphPersister {
	return &GraphPersister{db: db}
}

var _ graph.Persister = (*GraphPersister)(nil)

// Apply writes the snapshot's nodes and edges under a fresh version prefix
// and then points the meta record at it.
func (p *GraphPersister) Apply(ctx context.Context, change *graph.Change) error {
	snap := change.Snapshot
	if snap.ProjectID == "" || strings.Contains(snap.ProjectID, "/") {
		return apperr.InvalidArgumentf("project id %q cannot be stored", snap.ProjectID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pid := snap.ProjectID

	current, err := p.currentVersion(pid)
	if err != nil {
		return err
	}
	// Leftovers of an interrupted earlier attempt must not leak into this one.
	if err := p.sweep(pid, current); err != nil {
		return fmt.Errorf("sweep stale versions: %w", err)
	}
	if err := p.writeVersion(snap); err != nil {
		return err
	}

	meta, err := json.Marshal(snap.Meta())
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(pid), meta)
	}); err != nil {
		return fmt.Errorf("publish version %d: %w", snap.Version, err)
	}

	// The new version is already current. A failed sweep is retried by the
	// next Apply.
	_ = p.sweep(pid, snap.Version)
	return nil
}

func (p *GraphPersister) writeVersion(snap *graph.Snapshot) error {
	prefix := versionPrefix(snap.ProjectID, snap.Version)
	g := snap.Graph
	wb := p.db.NewWriteBatch()
	defer wb.Cancel()
	for _, ns := range ir.Namespaces {
		for _, id := range g.IDs(ns) {
			data, err := json.Marshal(g.Node(ns, id))
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", ns, id, err)
			}
			if err := wb.Set(nodeKey(prefix, ns, id), data); err != nil {
				return err
			}
		}
	}
	for _, e := range g.Edges {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode edge %s: %w", e.Key(), err)
		}
		if err := wb.Set(edgeKey(prefix, e), data); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write version %d: %w", snap.Version, err)
	}
	return nil
}

// currentVersion returns the version the meta record points at, or 0.
func (p *GraphPersister) currentVersion(pid string) (int64, error) {
	var version int64
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(pid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var m graph.Meta
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			version = m.Version
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read meta %s: %w", pid, err)
	}
	return version, nil
}

// sweep deletes the records of every version of pid except keep.
func (p *GraphPersister) sweep(pid string, keep int64) error {
	prefix := versionsPrefix(pid)
	kept := versionPrefix(pid, keep)
	var stale [][]byte
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if key := it.Item().Key(); !bytes.HasPrefix(key, kept) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}
	wb := p.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Load reads the current snapshot of every project. Projects without a
// version record are skipped, as are records of versions that never
// became current.
func (p *GraphPersister) Load(ctx context.Context) ([]*graph.Snapshot, error) {
	var out []*graph.Snapshot
	err := p.db.View(func(txn *badger.Txn) error {
		metas, err := loadMetas(ctx, txn)
		if err != nil {
			return err
		}
		for _, m := range metas {
			snap := &graph.Snapshot{
				ProjectID:   m.ProjectID,
				Version:     m.Version,
				CommittedAt: m.CommittedAt,
				Counts:      m.Counts,
				Graph:       ir.NewGraph(),
			}
			if err := loadVersion(ctx, txn, snap); err != nil {
				return err
			}
			snap.Graph.Normalize()
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load graphs: %w", err)
	}
	return out, nil
}

func loadMetas(ctx context.Context, txn *badger.Txn) ([]graph.Meta, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(graphPrefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var metas []graph.Meta
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		pid, rest, ok := strings.Cut(string(item.Key()[len(graphPrefix):]), "/")
		if !ok || rest != "meta" {
			continue
		}
		var m graph.Meta
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		m.ProjectID = pid
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ProjectID < metas[j].ProjectID })
	return metas, nil
}

func loadVersion(ctx context.Context, txn *badger.Txn, snap *graph.Snapshot) error {
	prefix := versionPrefix(snap.ProjectID, snap.Version)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := decodeRecord(snap.Graph, string(item.Key()[len(prefix):]), data); err != nil {
			return fmt.Errorf("decode %s: %w", item.Key(), err)
		}
	}
	return nil
}

func decodeRecord(g *ir.Graph, rest string, data []byte) error {
	switch {
	case strings.HasPrefix(rest, "n/"):
		ns, _, _ := strings.Cut(rest[2:], "/")
		switch ir.Namespace(ns) {
		case ir.NamespaceClass:
			var c ir.ClassNode
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			g.Classes[c.ID] = &c
		case ir.NamespaceMethod:
			var m ir.MethodNode
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			g.Methods[m.ID] = &m
		case ir.NamespaceEndpoint:
			var e ir.EndpointNode
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			g.Endpoints[e.ID] = &e
		default:
			return fmt.Errorf("unknown namespace %q", ns)
		}
	case strings.HasPrefix(rest, "e/"):
		var e ir.Edge
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		g.Edges = append(g.Edges, e)
	}
	return nil
}

// Drop deletes every record of a project.
func (p *GraphPersister) Drop(_ context.Context, projectID string) error {
	if projectID == "" || strings.Contains(projectID, "/") {
		return apperr.InvalidArgumentf("project id %q cannot be stored", projectID)
	}
	return p.db.DropPrefix(projectPrefix(projectID))
}
