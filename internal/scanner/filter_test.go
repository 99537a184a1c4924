package scanner

import (
	"strings"
	"testing"
)

func TestPattern_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		pkg     string
		want    bool
	}{
		{"com.acme", "com.acme", true},
		{"com.acme", "com.acme.web.api", true},
		{"com.acme", "com.acmex", false},
		{"com.acme", "com", false},
		{"com.*.web", "com.acme.web", true},
		{"com.*.web", "com.acme.web.dto", true},
		{"com.*.web", "com.acme.api", false},
		{"**.web", "com.acme.web", true},
		{"**.web", "web", true},
		{"**.web", "com.acme.api", false},
		{"com.**.dto", "com.dto", true},
		{"com.**.dto", "com.a.b.dto.x", true},
		{"**", "", true},
		{"**", "com.acme", true},
		{"com.acme", "", false},
		{"*", "", false},
		{"com.ac?e", "com.acme", true},
		{"com.[a-c]cme", "com.acme", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.pkg, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := p.Matches(tt.pkg); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFilter_EmptyIncludeMeansAll(t *testing.T) {
	f, err := NewFilter(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, pkg := range []string{"", "a", "com.acme.web"} {
		if !f.Allows(pkg) {
			t.Errorf("expected %q allowed", pkg)
		}
	}
}

// Every package matched by both include and exclude must be excluded.
func TestFilter_ExcludeAlwaysWins(t *testing.T) {
	pkgs := []string{"", "com", "com.acme", "com.acme.web", "com.acme.web.api", "org.other", "com.acme.repo"}
	patterns := []string{"**", "com", "com.acme", "com.*", "com.acme.web", "**.web", "org.*", "com.acme.repo"}

	for _, inc := range patterns {
		for _, exc := range patterns {
			f, err := NewFilter([]string{inc}, []string{exc})
			if err != nil {
				t.Fatal(err)
			}
			pi, _ := CompilePattern(inc)
			pe, _ := CompilePattern(exc)
			for _, pkg := range pkgs {
				if pi.Matches(pkg) && pe.Matches(pkg) && f.Allows(pkg) {
					t.Errorf("include %q exclude %q: %q must be excluded", inc, exc, pkg)
				}
				if pi.Matches(pkg) && !pe.Matches(pkg) && !f.Allows(pkg) {
					t.Errorf("include %q exclude %q: %q must be included", inc, exc, pkg)
				}
			}
		}
	}
}

func TestReadPackage(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"plain", "package a.b.c;\nclass X{}", "a.b.c"},
		{"line comments", "// c1\n// c2\npackage a;\n", "a"},
		{"block comment", "/*\n * package wrong;\n */\npackage right.one;", "right.one"},
		{"annotation with args", "@Generated(value = \"x)\")\npackage gen.pkg;", "gen.pkg"},
		{"qualified annotation", "@javax.annotation.ParametersAreNonnullByDefault package q;", "q"},
		{"spaced", "package   com . acme ;", "com.acme"},
		{"default package", "import java.util.List;\nclass X {}", ""},
		{"empty", "", ""},
		{"class first", "public class X {}\npackage late;", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadPackage(strings.NewReader(tt.src))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
