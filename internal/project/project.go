// Package project manages the registry of analyzable projects.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// Project is a registered codebase.
type Project struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	IncludePackages []string  `json:"include_packages,omitempty"`
	ExcludePackages []string  `json:"exclude_packages,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Repository stores projects. Get, Update and Delete return
// apperr.ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error
}

// Request carries the user-editable fields of a project.
type Request struct {
	Name            string   `json:"name" validate:"required,max=200"`
	Path            string   `json:"path" validate:"required"`
	IncludePackages []string `json:"include_packages" validate:"omitempty,dive,required"`
	ExcludePackages []string `json:"exclude_packages" validate:"omitempty,dive,required"`
}

// Service validates requests and delegates to a Repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. A nil logger means slog.Default().
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) check(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return apperr.InvalidArgumentf("%s", strings.Join(fields, ", "))
		}
		return apperr.InvalidArgumentf("%v", err)
	}
	if _, err := scanner.NewFilter(req.IncludePackages, req.ExcludePackages); err != nil {
		return err
	}
	return nil
}

// Create registers a project.
func (s *Service) Create(ctx context.Context, req Request) (*Project, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &Project{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		Path:            req.Path,
		IncludePackages: req.IncludePackages,
		ExcludePackages: req.ExcludePackages,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", slog.String("id", p.ID), slog.String("path", p.Path))
	return p, nil
}

// Get returns a project by id.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	return s.repo.Get(ctx, id)
}

// List returns all projects sorted by name, then id.
func (s *Service) List(ctx context.Context) ([]*Project, error) {
	ps, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name != ps[j].Name {
			return ps[i].Name < ps[j].Name
		}
		return ps[i].ID < ps[j].ID
	})
	return ps, nil
}

// Update replaces the editable fields of a project.
func (s *Service) Update(ctx context.Context, id string, req Request) (*Project, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := *p
	updated.Name = strings.TrimSpace(req.Name)
	updated.Path = req.Path
	updated.IncludePackages = req.IncludePackages
	updated.ExcludePackages = req.ExcludePackages
	updated.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	return &updated, nil
}

// Delete removes a project.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("project deleted", slog.String("id", id))
	return nil
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{projects: make(map[string]*Project)}
}

func (r *MemoryRepository) Create(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; ok {
		return fmt.Errorf("%w: project %s already exists", apperr.ErrConflict, p.ID)
	}
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperr.NotFoundf("project %s", id)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) List(context.Context) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; !ok {
		return apperr.NotFoundf("project %s", p.ID)
	}
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return apperr.NotFoundf("project %s", id)
	}
	delete(r.projects, id)
	return nil
}
