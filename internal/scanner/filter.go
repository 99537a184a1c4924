package scanner

import (
	"path"
	"strings"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

// Pattern is a compiled package glob. Segments are dot separated; each
// segment follows path.Match, and "**" matches zero or more segments.
type Pattern struct {
	raw      string
	segments []string
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// CompilePattern validates a package glob.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, apperr.Configurationf("empty package pattern")
	}
	segs := strings.Split(raw, ".")
	for _, s := range segs {
		if s == "" {
			return Pattern{}, apperr.Configurationf("package pattern %q has an empty segment", raw)
		}
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return Pattern{}, apperr.Configurationf("package pattern %q: %v", raw, err)
		}
	}
	return Pattern{raw: raw, segments: segs}, nil
}

// Matches reports whether the pattern covers pkg. A pattern covers a
// package when it matches the package or any leading prefix of its
// segments, so "com.acme" covers "com.acme.web". The default package ""
// is covered only by patterns that can match zero segments.
func (p Pattern) Matches(pkg string) bool {
	if pkg == "" {
		return matchSegments(p.segments, nil)
	}
	segs := strings.Split(pkg, ".")
	for n := len(segs); n >= 1; n-- {
		if matchSegments(p.segments, segs[:n]) {
			return true
		}
	}
	return false
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, _ := path.Match(pat[0], segs[0])
	return ok && matchSegments(pat[1:], segs[1:])
}

// Filter decides package membership from include and exclude patterns.
// An empty include list includes everything. Exclude wins on overlap.
type Filter struct {
	include []Pattern
	exclude []Pattern
}

// NewFilter compiles include and exclude patterns.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	for _, raw := range include {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.include = append(f.include, p)
	}
	for _, raw := range exclude {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.exclude = append(f.exclude, p)
	}
	return f, nil
}

// Allows reports whether pkg passes the filter.
func (f *Filter) Allows(pkg string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !anyMatch(f.include, pkg) {
		return false
	}
	return !anyMatch(f.exclude, pkg)
}

func anyMatch(ps []Pattern, pkg string) bool {
	for _, p := range ps {
		if p.Matches(pkg) {
			return true
		}
	}
	return false
}
