// Package apperr defines the error taxonomy shared by the analysis pipeline,
// the query layer and the outer surfaces (HTTP, MCP, CLI).
//
// Errors are sentinels wrapped with context via fmt.Errorf("%w: ...").
// Callers classify with errors.Is or KindOf.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for an invalid project root or package filter.
	// It is raised before any job is created.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict is returned when a project already has a non-terminal job.
	ErrConflict = errors.New("conflict")

	// ErrGraphIntegrity is returned when a candidate graph holds a dangling edge
	// or an unresolved node reference. The committed graph is left untouched.
	ErrGraphIntegrity = errors.New("graph integrity error")

	// ErrTimeout is returned when a run exceeds its time budget.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled marks a user-requested stop. It is not a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrExtraction is returned for a compilation unit that cannot be parsed,
	// and for a run whose warning rate exceeds the configured threshold.
	ErrExtraction = errors.New("extraction error")

	// ErrNotFound is returned when a project, job or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermission is returned when a caller lacks a required capability.
	ErrPermission = errors.New("permission denied")
)

// Kind classifies an error for storage on job records and for mapping to
// external codes.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindConflict        Kind = "conflict"
	KindGraphIntegrity  Kind = "graph_integrity"
	KindTimeout         Kind = "timeout"
	KindCancelled       Kind = "cancelled"
	KindExtraction      Kind = "extraction"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindPermission      Kind = "permission_denied"
	KindInternal        Kind = "internal"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrConfiguration, KindConfiguration},
	{ErrConflict, KindConflict},
	{ErrGraphIntegrity, KindGraphIntegrity},
	{ErrTimeout, KindTimeout},
	{ErrCancelled, KindCancelled},
	{ErrExtraction, KindExtraction},
	{ErrNotFound, KindNotFound},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrPermission, KindPermission},
}

// KindOf returns the kind of err. Context errors map to timeout and
// cancelled; anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// Sentinel returns the sentinel error for a kind, or nil for internal.
func (k Kind) Sentinel() error {
	for _, e := range kinds {
		if e.kind == k {
			return e.sentinel
		}
	}
	return nil
}

// Code returns the stable external code for a kind.
func (k Kind) Code() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	case KindGraphIntegrity:
		return "GRAPH_INTEGRITY_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	case KindExtraction:
		return "EXTRACTION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindPermission:
		return "PERMISSION_DENIED"
	default:
		return "INTERNAL"
	}
}

// Detail is the serializable form of an error, stored on job records and
// returned to external callers.
type Detail struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DetailOf converts err into a Detail. It returns nil for a nil error.
func DetailOf(err error) *Detail {
	if err == nil {
		return nil
	}
	k := KindOf(err)
	return &Detail{Kind: k, Code: k.Code(), Message: err.Error()}
}

// Err rebuilds an error from a detail so that errors.Is keeps working after
// the detail travelled through a job record or a workflow result.
func (d *Detail) Err() error {
	if d == nil {
		return nil
	}
	if s := d.Kind.Sentinel(); s != nil {
		return &detailError{msg: d.Message, sentinel: s}
	}
	return errors.New(d.Message)
}

type detailError struct {
	msg      string
	sentinel error
}

func (e *detailError) Error() string { return e.msg }
func (e *detailError) Unwrap() error { return e.sentinel }

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
