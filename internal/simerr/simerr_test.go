package simerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"configuration", Configuration("endpoint %q unknown", "E1"), "configuration"},
		{"recognition", Recognition("bad yaml"), "recognition"},
		{"validation", Validation("schema mismatch"), "validation"},
		{"adaptor", Adaptor("dial failed"), "adaptor"},
		{"simulator", Simulator("timeout"), "simulator"},
		{"io", IO("read: %w", io.ErrUnexpectedEOF), "io"},
		{"wrapped twice", fmt.Errorf("load: %w", Validation("x")), "validation"},
		{"foreign", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	err := IO("read csv: %w", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO in chain")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause in chain")
	}
	want := "i/o error: read csv: unexpected EOF"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}
