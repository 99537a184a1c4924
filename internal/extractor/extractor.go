// Package extractor derives classes, methods, endpoints and their
// relationships from Java compilation units, and links per-unit results
// into one candidate graph.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// Extractor turns one compilation unit into structural entities.
// Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, unit scanner.Unit, src []byte) (*UnitResult, error)
}

// Import is one import declaration.
type Import struct {
	Path     string `json:"path"`
	Static   bool   `json:"static,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty"`
}

// Field is a declared instance or static field of the unit's class.
type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Static bool   `json:"static,omitempty"`
}

// DependencyRef is an unresolved DEPENDS_ON candidate. Type is the
// element type as written in source (simple or qualified).
type DependencyRef struct {
	Type          string `json:"type"`
	FieldName     string `json:"field_name"`
	InjectionType string `json:"injection_type"`
	Line          int    `json:"line"`
}

// CallRef is an unresolved CALLS candidate. An empty Field means the call
// targets the caller's own class.
type CallRef struct {
	From  string `json:"from"`
	Field string `json:"field,omitempty"`
	Name  string `json:"name"`
	Arity int    `json:"arity"`
	Line  int    `json:"line"`
}

// UnitResult is everything extracted from one unit. It is immutable once
// returned, which lets Cache hand the same value to several runs.
type UnitResult struct {
	RelPath   string             `json:"rel_path"`
	Package   string             `json:"package"`
	Hash      string             `json:"hash"`
	Imports   []Import           `json:"imports,omitempty"`
	Class     *ir.ClassNode      `json:"class,omitempty"`
	Methods   []*ir.MethodNode   `json:"methods,omitempty"`
	Endpoints []*ir.EndpointNode `json:"endpoints,omitempty"`
	Edges     []ir.Edge          `json:"edges,omitempty"`
	Fields    []Field            `json:"fields,omitempty"`
	Deps      []DependencyRef    `json:"deps,omitempty"`
	Calls     []CallRef          `json:"calls,omitempty"`
}

// Warning records a skipped unit or a dropped declaration.
type Warning struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HashSource returns the hex SHA-256 of a unit's source.
func HashSource(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
