package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/simerr"
)

func TestReasonLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("table users: %w", feeder.ErrExhausted), "data set exhausted"},
		{context.DeadlineExceeded, "deadline exceeded"},
		{fmt.Errorf("quit: %w", context.Canceled), "cancelled"},
		{simerr.Adaptor("boom"), "adaptor error"},
		{errors.New("plain"), "runtime error"},
		{fmt.Errorf("wrapped: %w", errors.New("plain")), "runtime error"},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, "op error"},
	}
	for _, tt := range tests {
		if got := ReasonLabel(tt.err); got != tt.want {
			t.Errorf("ReasonLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
