// Package vector indexes graph entities for similarity search. Embeddings
// are hashed token features, so indexing needs no model server.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Document is one indexed entity with its embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Repository provides vector storage and similarity search. Filters match
// metadata keys exactly.
type Repository interface {
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, filter map[string]string) error
	Close() error
}

// MemoryRepository is an in-process Repository using cosine similarity.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Upsert(_ context.Context, docs []Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return nil
}

// Search ranks by score, then id, so equal scores are returned in a stable
// order.
func (r *MemoryRepository) Search(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	results := make([]SearchResult, 0, len(r.docs))
	for _, d := range r.docs {
		if !matches(d.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{ID: d.ID, Score: cosine(vec, d.Vector), Content: d.Content, Metadata: d.Metadata})
	}
	r.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (r *MemoryRepository) Delete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.docs, id)
	}
	return nil
}

func (r *MemoryRepository) DeleteWhere(_ context.Context, filter map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.docs {
		if matches(d.Metadata, filter) {
			delete(r.docs, id)
		}
	}
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

// Len returns the number of stored documents.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func matches(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
