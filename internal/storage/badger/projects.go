package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/project"
)

const projectKeyPrefix = "p/"

func projectKey(id string) []byte {
	return []byte(projectKeyPrefix + id)
}

// ProjectRepository implements project.Repository.
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository returns a repository backed by db.
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

var _ project.Repository = (*ProjectRepository)(nil)

func (r *ProjectRepository) put(txn *badger.Txn, p *project.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	return txn.Set(projectKey(p.ID), data)
}

func (r *ProjectRepository) Create(_ context.Context, p *project.Project) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(p.ID)); err == nil {
			return fmt.Errorf("%w: project %s already exists", apperr.ErrConflict, p.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return r.put(txn, p)
	})
}

func (r *ProjectRepository) Get(_ context.Context, id string) (*project.Project, error) {
	var p project.Project
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(projectKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperr.NotFoundf("project %s", id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) List(_ context.Context) ([]*project.Project, error) {
	var out []*project.Project
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(projectKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p project.Project
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &p)
		}
		return nil
	})
	return out, err
}

func (r *ProjectRepository) Update(_ context.Context, p *project.Project) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(p.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return apperr.NotFoundf("project %s", p.ID)
		} else if err != nil {
			return err
		}
		return r.put(txn, p)
	})
}

func (r *ProjectRepository) Delete(_ context.Context, id string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(projectKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return apperr.NotFoundf("project %s", id)
		} else if err != nil {
			return err
		}
		return txn.Delete(projectKey(id))
	})
}
