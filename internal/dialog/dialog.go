package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/extractor"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/scenario"
	"github.com/torosent/scensim/internal/variables"
)

// Direction tells whether a message was sent or received.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// MessageEvent describes one message crossing a dialog's channel.
type MessageEvent struct {
	SessionID string
	Scenario  string
	Role      string
	Step      int
	Direction Direction
	Message   adaptor.Message
	// Fallback is set for received messages consumed by a fallback pattern.
	Fallback bool
	Time     time.Time
}

// Config is the input of one dialog run.
type Config struct {
	SessionID string
	Scenario  string
	Role      string
	Dialog    *scenario.Dialog
	Channel   adaptor.Channel
	Variables *variables.Store
	// OnMessage, when set, is called synchronously on the dialog goroutine
	// in causal order.
	OnMessage func(MessageEvent)
	Logger    *slog.Logger
}

// Result is the terminal report of a dialog.
type Result struct {
	Role             string
	State            State
	Reason           string
	Err              error
	StepsCompleted   int
	MessagesSent     int
	MessagesReceived int
	Duration         time.Duration
	// Transitions lists every state entered, ending with State.
	Transitions []State
}

type machine struct {
	cfg    Config
	logger *slog.Logger
	res    Result
	state  State
}

// Run drives the dialog until it reaches a terminal state. Cancelling ctx
// ends the dialog in StateError with the cancellation cause; step timeouts
// end it in StateTimedOut.
func Run(ctx context.Context, cfg Config) Result {
	if cfg.Variables == nil {
		cfg.Variables = variables.NewStore()
	}
	m := &machine{
		cfg:    cfg,
		logger: logging.OrDiscard(cfg.Logger).With("session", cfg.SessionID, "role", cfg.Role),
		res:    Result{Role: cfg.Role},
		state:  StateIdle,
	}
	m.res.Transitions = append(m.res.Transitions, StateIdle)

	start := time.Now()
	m.run(ctx)
	m.res.Duration = time.Since(start)
	m.res.State = m.state
	return m.res
}

func (m *machine) run(ctx context.Context) {
	if m.cfg.Dialog == nil || m.cfg.Channel == nil {
		m.finish(StateError, errors.New("dialog or channel missing"), "")
		return
	}
	for i, step := range m.cfg.Dialog.Steps {
		var done bool
		switch step.Kind {
		case scenario.StepSend:
			done = m.send(ctx, i, step)
		case scenario.StepExpect:
			done = m.expect(ctx, i, step)
		case scenario.StepWait:
			done = m.wait(ctx, step)
		default:
			m.finish(StateError, fmt.Errorf("unknown step kind %q", step.Kind), "")
			return
		}
		if done {
			return
		}
		m.res.StepsCompleted++
	}
	m.finish(StateMatched, nil, "")
}

func (m *machine) enter(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.res.Transitions = append(m.res.Transitions, s)
	m.logger.Log(context.Background(), logging.LevelTrace, "dialog state", "state", s.String())
}

func (m *machine) finish(s State, err error, reason string) {
	m.enter(s)
	m.res.Err = err
	m.res.Reason = reason
	if reason == "" && err != nil {
		m.res.Reason = err.Error()
	}
}

// aborted ends the dialog if the parent context is done.
func (m *machine) aborted(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	m.finish(StateError, context.Cause(ctx), "")
	return true
}

// failed maps a channel error to a terminal state.
func (m *machine) failed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		m.finish(StateError, context.Cause(ctx), "")
	case errors.Is(err, adaptor.ErrRejected) && m.res.StepsCompleted == 0:
		m.finish(StateRejected, err, "")
	case errors.Is(err, adaptor.ErrRejected):
		m.finish(StateNonMatching, err, "rejected mid-dialog: "+err.Error())
	default:
		m.finish(StateError, err, "")
	}
}

func (m *machine) render(s string) string {
	return m.cfg.Variables.Render(s)
}

func (m *machine) send(ctx context.Context, idx int, step scenario.Step) bool {
	if m.aborted(ctx) {
		return true
	}
	m.enter(StateSending)

	msg := adaptor.Message{
		Name: m.render(step.Send.Name),
		Body: []byte(m.render(step.Send.Body)),
	}
	if len(step.Send.Attributes) > 0 {
		msg.Attributes = make(map[string]string, len(step.Send.Attributes))
		for k, v := range step.Send.Attributes {
			msg.Attributes[k] = m.render(v)
		}
	}

	if err := m.cfg.Channel.Send(ctx, msg); err != nil {
		m.failed(ctx, err)
		return true
	}
	m.res.MessagesSent++
	m.emit(idx, Sent, msg, false)
	return false
}

func (m *machine) expect(ctx context.Context, idx int, step scenario.Step) bool {
	if m.aborted(ctx) {
		return true
	}
	m.enter(StateWaiting)

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = scenario.DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	primary := step.Expect.Render(m.render)
	fallbacks := make([]extractor.Pattern, len(step.Fallback))
	for i, fb := range step.Fallback {
		fallbacks[i] = fb.Render(m.render)
	}

	for {
		msg, err := m.cfg.Channel.Receive(stepCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				m.finish(StateError, context.Cause(ctx), "")
			case errors.Is(err, context.DeadlineExceeded) && stepCtx.Err() != nil:
				m.finish(StateTimedOut, err, fmt.Sprintf("no message within %s at step %d", timeout, idx+1))
			default:
				m.failed(ctx, err)
			}
			return true
		}
		m.res.MessagesReceived++

		if ok, _ := primary.Match(msg.Name, msg.Attributes, msg.Body); ok {
			m.emit(idx, Received, msg, false)
			if len(step.Extract) > 0 {
				values := extractor.ExtractAll(msg.Body, msg.Attributes, step.Extract, m.logger)
				m.cfg.Variables.SetAll(values)
				m.logger.Log(ctx, logging.LevelTrace, "variables extracted", "names", slices.Sorted(maps.Keys(values)))
			}
			return false
		}

		matchedFallback := false
		for _, fb := range fallbacks {
			if ok, _ := fb.Match(msg.Name, msg.Attributes, msg.Body); ok {
				matchedFallback = true
				break
			}
		}
		m.emit(idx, Received, msg, matchedFallback)
		if matchedFallback {
			continue
		}

		_, reason := primary.Match(msg.Name, msg.Attributes, msg.Body)
		m.finish(StateNonMatching, nil, fmt.Sprintf("step %d: %s", idx+1, reason))
		return true
	}
}

func (m *machine) wait(ctx context.Context, step scenario.Step) bool {
	if m.aborted(ctx) {
		return true
	}
	m.enter(StateTimer)
	if step.Wait <= 0 {
		return false
	}
	timer := time.NewTimer(step.Wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		m.finish(StateError, context.Cause(ctx), "")
		return true
	}
}

func (m *machine) emit(idx int, dir Direction, msg adaptor.Message, fallback bool) {
	if m.cfg.OnMessage == nil {
		return
	}
	m.cfg.OnMessage(MessageEvent{
		SessionID: m.cfg.SessionID,
		Scenario:  m.cfg.Scenario,
		Role:      m.cfg.Role,
		Step:      idx,
		Direction: dir,
		Message:   msg.Clone(),
		Fallback:  fallback,
		Time:      time.Now(),
	})
}
