package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

// flakyAdaptor fails Open with err until failUntil attempts were made.
type flakyAdaptor struct {
	attempts  int
	failUntil int
	err       error
}

func (f *flakyAdaptor) Open(ctx context.Context) (adaptor.Channel, error) {
	f.attempts++
	if f.attempts <= f.failUntil {
		return nil, f.err
	}
	return nopChannel{}, nil
}

func (f *flakyAdaptor) Close() error { return nil }

type nopChannel struct{}

func (nopChannel) Send(context.Context, adaptor.Message) error { return nil }
func (nopChannel) Receive(ctx context.Context) (adaptor.Message, error) {
	<-ctx.Done()
	return adaptor.Message{}, ctx.Err()
}
func (nopChannel) Close() error { return nil }

func TestOpenChannelRetries(t *testing.T) {
	tests := []struct {
		name         string
		failUntil    int
		err          error
		policy       RetryPolicy
		wantErr      bool
		wantAttempts int
	}{
		{
			name:         "succeeds after transient failures",
			failUntil:    3,
			err:          errors.New("dial tcp: connection reset"),
			policy:       RetryPolicy{MaxAttempts: 5, DelayFunc: func(attempt int, err error) time.Duration { return time.Duration(attempt) * time.Millisecond }},
			wantAttempts: 4,
		},
		{
			name:         "gives up after max attempts",
			failUntil:    100,
			err:          errors.New("boom"),
			policy:       RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
			wantErr:      true,
			wantAttempts: 3,
		},
		{
			name:         "rejections are final",
			failUntil:    100,
			err:          fmt.Errorf("refused: %w", adaptor.ErrRejected),
			policy:       RetryPolicy{MaxAttempts: 5},
			wantErr:      true,
			wantAttempts: 1,
		},
		{
			name:         "zero policy tries once",
			failUntil:    1,
			err:          errors.New("boom"),
			wantErr:      true,
			wantAttempts: 1,
		},
		{
			name:         "custom predicate",
			failUntil:    100,
			err:          errors.New("permanent"),
			policy:       RetryPolicy{MaxAttempts: 4, ShouldRetry: func(error) bool { return false }},
			wantErr:      true,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &flakyAdaptor{failUntil: tt.failUntil, err: tt.err}
			ch, err := openChannel(context.Background(), a, tt.policy)
			if (err != nil) != tt.wantErr {
				t.Fatalf("openChannel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && ch == nil {
				t.Fatal("expected a channel")
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if a.attempts != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", a.attempts, tt.wantAttempts)
			}
		})
	}
}

func TestOpenChannelStopsOnCancel(t *testing.T) {
	cause := errors.New("shutting down")
	ctx, cancel := context.WithCancelCause(context.Background())
	a := &flakyAdaptor{failUntil: 100, err: errors.New("boom")}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(cause)
	}()

	_, err := openChannel(ctx, a, RetryPolicy{MaxAttempts: 1000, Delay: 5 * time.Millisecond})
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want cancellation cause", err)
	}
	if a.attempts >= 1000 {
		t.Fatalf("attempts = %d, expected cancellation to stop retries", a.attempts)
	}
}
