package presence

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewRosterDedupesAndSorts(t *testing.T) {
	r := NewRoster([]Viewer{
		{ID: "2", Login: "bob"},
		{ID: "1", Login: "alice"},
		{ID: "2", Login: "bobby"},
	})

	if len(r) != 2 {
		t.Fatalf("expected 2 viewers, got %d: %+v", len(r), r)
	}
	if r[0].Login != "alice" || r[1].Login != "bobby" {
		t.Fatalf("unexpected order: %+v", r)
	}
	if !r.Contains("2") || r.Contains("3") {
		t.Fatalf("unexpected contains result for %+v", r)
	}
}

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("heartbeat: %w", Unavailable(errors.New("dial tcp: refused")))

	cases := map[string]error{
		ErrCodeStoreUnavailable: wrapped,
		ErrCodeBadRequest:       fmt.Errorf("identify: %w", ErrInvalidViewer),
		ErrCodeUnknownSession:   ErrUnknownSession,
		ErrCodeInternal:         errors.New("boom"),
	}
	for want, err := range cases {
		if got := Code(err); got != want {
			t.Errorf("Code(%v) = %q, want %q", err, got, want)
		}
	}
	if Code(nil) != "" {
		t.Errorf("Code(nil) should be empty")
	}
}
