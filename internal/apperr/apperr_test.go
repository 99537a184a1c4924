package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"conflict", fmt.Errorf("%w: project p1", ErrConflict), KindConflict},
		{"double wrapped", fmt.Errorf("commit: %w", fmt.Errorf("%w: edge", ErrGraphIntegrity)), KindGraphIntegrity},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", fmt.Errorf("scan: %w", context.Canceled), KindCancelled},
		{"plain", errors.New("boom"), KindInternal},
		{"configuration helper", Configurationf("root %q missing", "/x"), KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKindOf_TimeoutBeatsContextCanceled(t *testing.T) {
	// A run cancelled by its timeout cause carries both.
	err := fmt.Errorf("%w: %w", ErrTimeout, context.Canceled)
	if got := KindOf(err); got != KindTimeout {
		t.Errorf("expected timeout, got %q", got)
	}
}

func TestDetail_RoundTrip(t *testing.T) {
	d := DetailOf(fmt.Errorf("%w: job j1 already running", ErrConflict))
	if d.Code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %s", d.Code)
	}
	if !errors.Is(d.Err(), ErrConflict) {
		t.Error("rebuilt error should match ErrConflict")
	}
	if d.Err().Error() != d.Message {
		t.Errorf("expected message %q, got %q", d.Message, d.Err().Error())
	}
}

func TestDetailOf_Nil(t *testing.T) {
	if DetailOf(nil) != nil {
		t.Error("expected nil detail for nil error")
	}
	var d *Detail
	if d.Err() != nil {
		t.Error("expected nil error for nil detail")
	}
}

func TestKind_CodeIsStable(t *testing.T) {
	codes := map[Kind]string{
		KindConfiguration:   "CONFIGURATION_ERROR",
		KindConflict:        "CONFLICT",
		KindGraphIntegrity:  "GRAPH_INTEGRITY_ERROR",
		KindTimeout:         "TIMEOUT",
		KindCancelled:       "CANCELLED",
		KindExtraction:      "EXTRACTION_ERROR",
		KindNotFound:        "NOT_FOUND",
		KindInvalidArgument: "INVALID_ARGUMENT",
		KindPermission:      "PERMISSION_DENIED",
		KindInternal:        "INTERNAL",
	}
	for k, want := range codes {
		if got := k.Code(); got != want {
			t.Errorf("%s: expected %s, got %s", k, want, got)
		}
	}
}
