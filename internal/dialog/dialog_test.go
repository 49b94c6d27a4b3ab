package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/extractor"
	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/scenario"
	"github.com/torosent/scensim/internal/variables"
)

// scriptedChannel replays a fixed inbox and records sent messages.
type scriptedChannel struct {
	mu      sync.Mutex
	sent    []adaptor.Message
	inbox   chan adaptor.Message
	sendErr error
	recvErr error
}

func newScripted(replies ...adaptor.Message) *scriptedChannel {
	c := &scriptedChannel{inbox: make(chan adaptor.Message, len(replies)+1)}
	for _, r := range replies {
		c.inbox <- r
	}
	return c
}

func (c *scriptedChannel) Send(ctx context.Context, msg adaptor.Message) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *scriptedChannel) Receive(ctx context.Context) (adaptor.Message, error) {
	if c.recvErr != nil {
		return adaptor.Message{}, c.recvErr
	}
	select {
	case m := <-c.inbox:
		return m, nil
	case <-ctx.Done():
		return adaptor.Message{}, ctx.Err()
	}
}

func (c *scriptedChannel) Close() error { return nil }

func strPtr(s string) *string { return &s }

func sendStep(name, body string) scenario.Step {
	return scenario.Step{Kind: scenario.StepSend, Send: scenario.MessageTemplate{Name: name, Body: body}}
}

func expectStep(p extractor.Pattern, timeout time.Duration) scenario.Step {
	return scenario.Step{Kind: scenario.StepExpect, Expect: p, Timeout: timeout}
}

func TestRunOutcomes(t *testing.T) {
	rejected := fmt.Errorf("refused: %w", adaptor.ErrRejected)

	tests := []struct {
		name      string
		steps     []scenario.Step
		channel   *scriptedChannel
		want      State
		wantSteps int
	}{
		{
			name:      "matched",
			steps:     []scenario.Step{sendStep("req", "hi"), expectStep(extractor.Pattern{Body: strPtr("hi")}, time.Second)},
			channel:   newScripted(adaptor.Message{Body: []byte("hi")}),
			want:      StateMatched,
			wantSteps: 2,
		},
		{
			name:      "non matching",
			steps:     []scenario.Step{sendStep("req", "hi"), expectStep(extractor.Pattern{Body: strPtr("hi")}, time.Second)},
			channel:   newScripted(adaptor.Message{Body: []byte("bye")}),
			want:      StateNonMatching,
			wantSteps: 1,
		},
		{
			name:    "timed out",
			steps:   []scenario.Step{expectStep(extractor.Pattern{}, 20*time.Millisecond)},
			channel: newScripted(),
			want:    StateTimedOut,
		},
		{
			name:    "rejected on first send",
			steps:   []scenario.Step{sendStep("req", "")},
			channel: &scriptedChannel{sendErr: rejected},
			want:    StateRejected,
		},
		{
			name:      "rejected after a completed step",
			steps:     []scenario.Step{sendStep("req", ""), expectStep(extractor.Pattern{}, time.Second)},
			channel:   &scriptedChannel{recvErr: rejected, inbox: make(chan adaptor.Message)},
			want:      StateNonMatching,
			wantSteps: 1,
		},
		{
			name:    "runtime failure",
			steps:   []scenario.Step{sendStep("req", "")},
			channel: &scriptedChannel{sendErr: errors.New("broken pipe")},
			want:    StateError,
		},
		{
			name:    "unknown step kind",
			steps:   []scenario.Step{{Kind: "dance"}},
			channel: newScripted(),
			want:    StateError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Run(context.Background(), Config{
				Role:    "client",
				Dialog:  &scenario.Dialog{Name: "d", Steps: tt.steps},
				Channel: tt.channel,
			})
			if res.State != tt.want {
				t.Fatalf("State = %s (%s), want %s", res.State, res.Reason, tt.want)
			}
			if res.StepsCompleted != tt.wantSteps {
				t.Errorf("StepsCompleted = %d, want %d", res.StepsCompleted, tt.wantSteps)
			}
			terminal := 0
			for _, s := range res.Transitions {
				if s.Terminal() {
					terminal++
				}
			}
			if terminal != 1 || res.Transitions[len(res.Transitions)-1] != res.State {
				t.Errorf("Transitions = %v, want exactly one terminal state at the end", res.Transitions)
			}
		})
	}
}

func TestRunFallbackConsumesAndStays(t *testing.T) {
	ch := newScripted(
		adaptor.Message{Name: "provisional"},
		adaptor.Message{Name: "provisional"},
		adaptor.Message{Name: "final"},
	)
	var events []MessageEvent
	res := Run(context.Background(), Config{
		Dialog: &scenario.Dialog{Steps: []scenario.Step{{
			Kind:     scenario.StepExpect,
			Expect:   extractor.Pattern{Name: "final"},
			Fallback: []extractor.Pattern{{Name: "provisional"}},
			Timeout:  time.Second,
		}}},
		Channel:   ch,
		OnMessage: func(e MessageEvent) { events = append(events, e) },
	})
	if res.State != StateMatched {
		t.Fatalf("State = %s (%s), want matched", res.State, res.Reason)
	}
	if res.MessagesReceived != 3 || len(events) != 3 {
		t.Fatalf("received %d messages, %d events; want 3, 3", res.MessagesReceived, len(events))
	}
	if !events[0].Fallback || !events[1].Fallback || events[2].Fallback {
		t.Errorf("fallback flags = %v %v %v", events[0].Fallback, events[1].Fallback, events[2].Fallback)
	}
}

func TestRunRendersAndExtracts(t *testing.T) {
	vars := variables.NewStore()
	vars.BindRow("users", feeder.Record{"name": "Alice"})

	ch := newScripted(adaptor.Message{Body: []byte(`{"token":"t-9","user":"Alice"}`)})
	res := Run(context.Background(), Config{
		Dialog: &scenario.Dialog{Steps: []scenario.Step{
			sendStep("login", "user={{users.name}}"),
			{
				Kind:    scenario.StepExpect,
				Expect:  extractor.Pattern{JSON: map[string]string{"$.user": "{{users.name}}"}},
				Extract: []extractor.Extractor{{Variable: "token", JSONPath: "$.token"}},
				Timeout: time.Second,
			},
			sendStep("use", "token={{token}}"),
		}},
		Channel:   ch,
		Variables: vars,
	})
	if res.State != StateMatched {
		t.Fatalf("State = %s (%s), want matched", res.State, res.Reason)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(ch.sent))
	}
	if got := string(ch.sent[0].Body); got != "user=Alice" {
		t.Errorf("first body = %q", got)
	}
	if got := string(ch.sent[1].Body); got != "token=t-9" {
		t.Errorf("second body = %q", got)
	}
}

func TestRunCancelledIsError(t *testing.T) {
	cause := errors.New("forced termination")
	ctx, cancel := context.WithCancelCause(context.Background())

	done := make(chan Result, 1)
	go func() {
		done <- Run(ctx, Config{
			Dialog:  &scenario.Dialog{Steps: []scenario.Step{expectStep(extractor.Pattern{}, time.Minute)}},
			Channel: newScripted(),
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel(cause)

	select {
	case res := <-done:
		if res.State != StateError {
			t.Fatalf("State = %s, want error", res.State)
		}
		if !errors.Is(res.Err, cause) {
			t.Errorf("Err = %v, want forced termination cause", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("dialog did not stop after cancellation")
	}
}

func TestRunWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := Run(ctx, Config{
		Dialog:  &scenario.Dialog{Steps: []scenario.Step{{Kind: scenario.StepWait, Wait: time.Minute}}},
		Channel: newScripted(),
	})
	if res.State != StateError {
		t.Fatalf("State = %s, want error", res.State)
	}
}

func TestRunAgainstEchoAdaptor(t *testing.T) {
	a, err := adaptor.NewEcho(adaptor.Spec{Endpoint: "E1", Properties: adaptor.Properties{"reply_name": "response"}})
	if err != nil {
		t.Fatalf("NewEcho() error = %v", err)
	}
	ch, err := a.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ch.Close()

	res := Run(context.Background(), Config{
		Dialog: &scenario.Dialog{Steps: []scenario.Step{
			sendStep("request", "ping"),
			expectStep(extractor.Pattern{Name: "response", Body: strPtr("ping")}, time.Second),
		}},
		Channel: ch,
	})
	if res.State != StateMatched {
		t.Fatalf("State = %s (%s), want matched", res.State, res.Reason)
	}
	if res.MessagesSent != 1 || res.MessagesReceived != 1 {
		t.Errorf("sent/received = %d/%d, want 1/1", res.MessagesSent, res.MessagesReceived)
	}
}

func TestStatePrecedence(t *testing.T) {
	order := []State{StateMatched, StateNonMatching, StateTimedOut, StateRejected, StateError}
	for i := 1; i < len(order); i++ {
		if order[i].Precedence() <= order[i-1].Precedence() {
			t.Errorf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if StateWaiting.Terminal() || !StateTimedOut.Terminal() {
		t.Errorf("Terminal() misclassifies states")
	}
	if StateNonMatching.String() != "non_matching" {
		t.Errorf("String() = %q", StateNonMatching.String())
	}
}
