// Package scanner discovers Java compilation units under a project root,
// filtered by package globs.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/Lezhik/SpringTwin/internal/apperr"
)

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{".git", "target", "build", "out", "node_modules", ".idea", ".gradle"}

// Unit describes one compilation unit.
type Unit struct {
	Path    string `json:"path"`     // absolute
	RelPath string `json:"rel_path"` // slash separated, relative to the root
	Package string `json:"package"`
	Size    int64  `json:"size"`
}

// Options configures a Scanner.
type Options struct {
	Root            string
	Include         []string
	Exclude         []string
	ExcludeDirs     []string // nil means DefaultExcludeDirs
	IncludeTests    bool
	FollowGitignore bool
	Logger          *slog.Logger
}

// Scanner walks a project root. It holds no walk state, so Units may be
// called any number of times.
type Scanner struct {
	root         string
	filter       *Filter
	excludeDirs  map[string]bool
	includeTests bool
	gitignore    *ignore.GitIgnore
	logger       *slog.Logger
}

// New validates the root and the package patterns. All failures are
// ErrConfiguration.
func New(opts Options) (*Scanner, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, apperr.Configurationf("project root is empty")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, apperr.Configurationf("project root %q: %v", opts.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperr.Configurationf("project root %q does not exist", opts.Root)
	}
	if !info.IsDir() {
		return nil, apperr.Configurationf("project root %q is not a directory", opts.Root)
	}

	filter, err := NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	dirs := opts.ExcludeDirs
	if dirs == nil {
		dirs = DefaultExcludeDirs
	}
	s := &Scanner{
		root:         root,
		filter:       filter,
		excludeDirs:  make(map[string]bool, len(dirs)),
		includeTests: opts.IncludeTests,
		logger:       opts.Logger,
	}
	for _, d := range dirs {
		s.excludeDirs[d] = true
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.FollowGitignore {
		gi := filepath.Join(root, ".gitignore")
		if _, err := os.Stat(gi); err == nil {
			s.gitignore, err = ignore.CompileIgnoreFile(gi)
			if err != nil {
				return nil, apperr.Configurationf("parse %s: %v", gi, err)
			}
		}
	}
	return s, nil
}

// Root returns the absolute project root.
func (s *Scanner) Root() string { return s.root }

// Units returns a fresh lazy walk over the matching compilation units.
// A unit that cannot be read is yielded with its Path set and an
// ErrExtraction error, and the walk continues. A walk failure, including a
// cancelled context, is yielded once with a zero Unit and ends the walk.
func (s *Scanner) Units(ctx context.Context) iter.Seq2[Unit, error] {
	return func(yield func(Unit, error) bool) {
		stop := errors.New("stop")
		err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return context.Cause(ctx)
			}
			if walkErr != nil {
				if p == s.root {
					return walkErr
				}
				s.logger.Warn("scan: skipping unreadable entry", "path", p, "error", walkErr)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if p != s.root && s.skipDir(d.Name(), rel) {
					return fs.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".java") || !d.Type().IsRegular() {
				return nil
			}
			if s.gitignore != nil && s.gitignore.MatchesPath(rel) {
				return nil
			}

			unit, err := s.describe(p, rel)
			if err != nil {
				// The declaration is unreadable, so filter on the layout.
				if !s.filter.Allows(PathPackage(rel)) {
					return nil
				}
				err = fmt.Errorf("%w: read %s: %v", apperr.ErrExtraction, rel, err)
				if !yield(Unit{Path: p, RelPath: rel}, err) {
					return stop
				}
				return nil
			}
			if !s.filter.Allows(unit.Package) {
				return nil
			}
			if !yield(unit, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(Unit{}, err)
		}
	}
}

// Discover collects the full walk. Unit-level errors are returned
// alongside the units that could be described.
func (s *Scanner) Discover(ctx context.Context) ([]Unit, []error, error) {
	var (
		units []Unit
		errs  []error
	)
	for u, err := range s.Units(ctx) {
		if err != nil {
			if u.Path == "" {
				return nil, nil, err
			}
			errs = append(errs, err)
			continue
		}
		units = append(units, u)
	}
	return units, errs, nil
}

// PathPackage guesses a unit's package from its slash-separated path
// relative to the root: the directories after the last "java" directory,
// or all of them when there is none.
func PathPackage(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	dir = "/" + dir + "/"
	if i := strings.LastIndex(dir, "/java/"); i >= 0 {
		dir = dir[i+len("/java"):]
	}
	return strings.ReplaceAll(strings.Trim(dir, "/"), "/", ".")
}

func (s *Scanner) skipDir(name, rel string) bool {
	if s.excludeDirs[name] {
		return true
	}
	if !s.includeTests && (rel == "src/test" || strings.HasSuffix(rel, "/src/test")) {
		return true
	}
	if s.gitignore != nil && s.gitignore.MatchesPath(rel+"/") {
		return true
	}
	return false
}

// openUnit is swapped in tests.
var openUnit = os.Open

func (s *Scanner) describe(p, rel string) (Unit, error) {
	f, err := openUnit(p)
	if err != nil {
		return Unit{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Unit{}, err
	}
	pkg, err := ReadPackage(f)
	if err != nil {
		return Unit{}, err
	}
	return Unit{Path: p, RelPath: rel, Package: pkg, Size: info.Size()}, nil
}
