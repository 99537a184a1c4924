package extractor

import (
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":                "/",
		"/":               "/",
		"orders":          "/orders",
		"/orders/":        "/orders",
		"//api///v1//":    "/api/v1",
		"/{id}/items/":    "/{id}/items",
		"api/orders/{id}": "/api/orders/{id}",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q): expected %q, got %q", in, want, got)
		}
	}
	if got := JoinPath("/api/", "/x/"); got != "/api/x" {
		t.Errorf("expected /api/x, got %s", got)
	}
	if got := JoinPath("", ""); got != "/" {
		t.Errorf("expected /, got %s", got)
	}
}

func TestElementType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"OrderService", "OrderService"},
		{"List<Handler>", "Handler"},
		{"Map<String, Handler>", "Handler"},
		{"Optional<ObjectProvider<Repo>>", "Repo"},
		{"Set<? extends Plugin>", "Plugin"},
		{"com.acme.Foo", "com.acme.Foo"},
		{"Foo[]", "Foo"},
		{"Foo...", "Foo"},
		{"Supplier<Foo>", "Supplier"},
		{"List", "List"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ElementType(tt.in); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLabelsFor(t *testing.T) {
	got := LabelsFor([]string{"RestController", "Transactional", "RestControllerAdvice"})
	if strings.Join(got, ",") != "controller,rest,advice" {
		t.Errorf("unexpected labels %v", got)
	}
	if !IsSpringDataRepository("org.springframework.data.repository.CrudRepository<User, Long>") {
		t.Error("expected CrudRepository to be recognized")
	}
	if IsSpringDataRepository("Comparable<User>") {
		t.Error("expected Comparable not to be a repository")
	}
}

func TestMediaType(t *testing.T) {
	if got := MediaType("MediaType.APPLICATION_JSON_VALUE"); got != "application/json" {
		t.Errorf("expected application/json, got %s", got)
	}
	if got := MediaType("application/vnd.acme+json"); got != "application/vnd.acme+json" {
		t.Errorf("expected literal passthrough, got %s", got)
	}
}
