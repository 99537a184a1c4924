package project

import (
	"context"
	"errors"
	"testing"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

func TestService_CreateAndGet(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Request{Name: " shop ", Path: "/src/shop", IncludePackages: []string{"com.acme"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" || p.Name != "shop" {
		t.Errorf("unexpected project %+v", p)
	}
	if !p.CreatedAt.Equal(p.UpdatedAt) {
		t.Error("expected created and updated timestamps to match on create")
	}

	got, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Path != "/src/shop" || len(got.IncludePackages) != 1 {
		t.Errorf("unexpected stored project %+v", got)
	}
}

func TestService_Validation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing name", Request{Path: "/x"}, apperr.ErrInvalidArgument},
		{"missing path", Request{Name: "x"}, apperr.ErrInvalidArgument},
		{"blank include", Request{Name: "x", Path: "/x", IncludePackages: []string{""}}, apperr.ErrInvalidArgument},
		{"bad glob", Request{Name: "x", Path: "/x", ExcludePackages: []string{"com.[x"}}, apperr.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestService_UpdateListDelete(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()
	b, _ := svc.Create(ctx, Request{Name: "b", Path: "/b"})
	a, _ := svc.Create(ctx, Request{Name: "a", Path: "/a"})

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("expected projects sorted by name, got %+v", list)
	}

	up, err := svc.Update(ctx, b.ID, Request{Name: "b2", Path: "/b2", ExcludePackages: []string{"com.gen"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.Name != "b2" || up.CreatedAt != b.CreatedAt {
		t.Errorf("unexpected update result %+v", up)
	}

	if err := svc.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := svc.Update(ctx, "missing", Request{Name: "x", Path: "/x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	p := &Project{ID: "p1", Name: "one"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Name = "mutated"
	got, _ := repo.Get(ctx, "p1")
	if got.Name != "one" {
		t.Errorf("expected stored copy, got %q", got.Name)
	}
	if err := repo.Create(ctx, &Project{ID: "p1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate id, got %v", err)
	}
}
