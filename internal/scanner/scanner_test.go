package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func javaFile(pkg, class string) string {
	var sb strings.Builder
	sb.WriteString("/* header */\n")
	if pkg != "" {
		sb.WriteString("package " + pkg + ";\n\n")
	}
	sb.WriteString("public class " + class + " {}\n")
	return sb.String()
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/main/java/com/acme/App.java", javaFile("com.acme", "App"))
	writeFile(t, root, "src/main/java/com/acme/web/OrderController.java", javaFile("com.acme.web", "OrderController"))
	writeFile(t, root, "src/main/java/com/acme/web/internal/Debug.java", javaFile("com.acme.web.internal", "Debug"))
	writeFile(t, root, "src/main/java/com/acme/repo/OrderRepository.java", javaFile("com.acme.repo", "OrderRepository"))
	writeFile(t, root, "src/main/java/Loose.java", javaFile("", "Loose"))
	writeFile(t, root, "src/test/java/com/acme/AppTest.java", javaFile("com.acme", "AppTest"))
	writeFile(t, root, "target/classes/com/acme/Gen.java", javaFile("com.acme", "Gen"))
	writeFile(t, root, "README.md", "# readme")
	return root
}

func relPaths(t *testing.T, s *Scanner) []string {
	t.Helper()
	units, errs, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(errs) > 0 {
		t.Fatalf("unexpected unit errors: %v", errs)
	}
	var out []string
	for _, u := range units {
		out = append(out, u.RelPath)
	}
	sort.Strings(out)
	return out
}

func TestScanner_DiscoversJavaUnits(t *testing.T) {
	s, err := New(Options{Root: fixture(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := relPaths(t, s)
	want := []string{
		"src/main/java/Loose.java",
		"src/main/java/com/acme/App.java",
		"src/main/java/com/acme/repo/OrderRepository.java",
		"src/main/java/com/acme/web/OrderController.java",
		"src/main/java/com/acme/web/internal/Debug.java",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestScanner_IncludeTests(t *testing.T) {
	s, err := New(Options{Root: fixture(t), IncludeTests: true, Include: []string{"com.acme"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := relPaths(t, s)
	found := false
	for _, p := range got {
		if p == "src/test/java/com/acme/AppTest.java" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected test sources to be included, got %v", got)
	}
}

func TestScanner_ExcludeWinsOverInclude(t *testing.T) {
	s, err := New(Options{
		Root:    fixture(t),
		Include: []string{"com.acme.web"},
		Exclude: []string{"com.acme.web.internal"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := relPaths(t, s)
	if len(got) != 1 || got[0] != "src/main/java/com/acme/web/OrderController.java" {
		t.Errorf("expected only OrderController, got %v", got)
	}
}

func TestScanner_UnreadableUnitsHonorFilter(t *testing.T) {
	orig := openUnit
	t.Cleanup(func() { openUnit = orig })
	openUnit = func(p string) (*os.File, error) {
		switch filepath.Base(p) {
		case "Debug.java", "OrderController.java":
			return nil, errors.New("input/output error")
		}
		return orig(p)
	}

	s, err := New(Options{Root: fixture(t), Exclude: []string{"com.acme.web.internal"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	units, errs, err := s.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "OrderController.java") {
		t.Fatalf("expected only OrderController reported, got %v", errs)
	}
	if !errors.Is(errs[0], apperr.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", errs[0])
	}
	if len(units) != 3 {
		t.Errorf("expected 3 readable units, got %d", len(units))
	}
}

func TestPathPackage(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"src/main/java/com/acme/web/OrderController.java", "com.acme.web"},
		{"module/src/test/java/com/acme/AppTest.java", "com.acme"},
		{"src/main/java/Loose.java", ""},
		{"java/com/acme/App.java", "com.acme"},
		{"com/acme/App.java", "com.acme"},
		{"App.java", ""},
	}
	for _, tt := range tests {
		if got := PathPackage(tt.rel); got != tt.want {
			t.Errorf("PathPackage(%q): expected %q, got %q", tt.rel, tt.want, got)
		}
	}
}

func TestScanner_UnitCarriesPackageAndSize(t *testing.T) {
	root := t.TempDir()
	src := "// leading\n@NonNullApi\npackage com.acme.api;\n\nimport java.util.List;\nclass X {}\n"
	writeFile(t, root, "X.java", src)
	s, err := New(Options{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	units, _, err := s.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(units))
	}
	if units[0].Package != "com.acme.api" {
		t.Errorf("expected com.acme.api, got %q", units[0].Package)
	}
	if units[0].Size != int64(len(src)) {
		t.Errorf("expected size %d, got %d", len(src), units[0].Size)
	}
	if !filepath.IsAbs(units[0].Path) {
		t.Errorf("expected absolute path, got %s", units[0].Path)
	}
}

func TestScanner_UnitsIsRestartable(t *testing.T) {
	s, err := New(Options{Root: fixture(t)})
	if err != nil {
		t.Fatal(err)
	}
	first := relPaths(t, s)
	second := relPaths(t, s)
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("expected identical walks, got %v and %v", first, second)
	}
}

func TestScanner_EarlyBreak(t *testing.T) {
	s, err := New(Options{Root: fixture(t)})
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, err := range s.Units(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		break
	}
	if n != 1 {
		t.Errorf("expected 1 unit before break, got %d", n)
	}
}

func TestScanner_CancelledContext(t *testing.T) {
	s, err := New(Options{Root: fixture(t)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(apperr.ErrCancelled)
	_, _, err = s.Discover(ctx)
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestScanner_Gitignore(t *testing.T) {
	root := fixture(t)
	writeFile(t, root, ".gitignore", "generated/\n*Debug.java\n")
	writeFile(t, root, "generated/com/acme/Stub.java", javaFile("com.acme", "Stub"))

	s, err := New(Options{Root: root, FollowGitignore: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range relPaths(t, s) {
		if strings.HasPrefix(p, "generated/") || strings.HasSuffix(p, "Debug.java") {
			t.Errorf("expected %s to be ignored", p)
		}
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		opts Options
	}{
		{"empty root", Options{}},
		{"missing root", Options{Root: filepath.Join(t.TempDir(), "nope")}},
		{"root is file", Options{Root: file}},
		{"empty include pattern", Options{Root: t.TempDir(), Include: []string{""}}},
		{"bad glob", Options{Root: t.TempDir(), Exclude: []string{"com.[acme"}}},
		{"empty segment", Options{Root: t.TempDir(), Include: []string{"com..acme"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if !errors.Is(err, apperr.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
