package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/events"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/scenario"
	"github.com/torosent/scensim/internal/tracing"
	"github.com/torosent/scensim/internal/variables"
)

// ErrForcedTermination is the cancellation cause of sessions still running
// when Quit's grace period ends.
var ErrForcedTermination = errors.New("session terminated by quit")

// SessionResult is the terminal report of one session.
type SessionResult struct {
	ID       string          `json:"id"`
	Scenario string          `json:"scenario"`
	Outcome  metrics.Outcome `json:"outcome"`
	// Reason is the detailed cause reported by the decisive dialog.
	Reason   string          `json:"reason,omitempty"`
	Duration time.Duration   `json:"duration"`
	Dialogs  []dialog.Result `json:"-"`
}

// Matched reports whether every dialog matched.
func (r SessionResult) Matched() bool {
	return r.Outcome == metrics.OutcomeMatched
}

// outcomeOf maps a terminal dialog state to a session outcome.
func outcomeOf(s dialog.State) metrics.Outcome {
	switch s {
	case dialog.StateMatched:
		return metrics.OutcomeMatched
	case dialog.StateNonMatching:
		return metrics.OutcomeNonMatching
	case dialog.StateRejected:
		return metrics.OutcomeRejected
	case dialog.StateTimedOut:
		return metrics.OutcomeTimedOut
	default:
		return metrics.OutcomeError
	}
}

// reasonLabel returns the low-cardinality label recorded in statistics.
func reasonLabel(res dialog.Result) string {
	switch res.State {
	case dialog.StateMatched:
		return ""
	case dialog.StateNonMatching:
		if errors.Is(res.Err, adaptor.ErrRejected) {
			return "rejected mid-dialog"
		}
		return fmt.Sprintf("unexpected message at step %d", res.StepsCompleted+1)
	case dialog.StateRejected:
		return "rejected by peer"
	case dialog.StateTimedOut:
		return fmt.Sprintf("no message in time at step %d", res.StepsCompleted+1)
	}
	if errors.Is(res.Err, ErrForcedTermination) {
		return "terminated by quit"
	}
	if res.Err == nil {
		return "runtime error"
	}
	return metrics.ReasonLabel(res.Err)
}

// execute runs one session to completion on the calling goroutine. The
// caller owns h and the concurrency slot; execute releases h.
func (s *Scheduler) execute(ctx context.Context, h *scenario.Handle, onMessage func(dialog.MessageEvent)) SessionResult {
	sc := h.Scenario
	id := ulid.Make().String()
	start := time.Now()
	logger := s.opt.Logger.With("session", id, "scenario", sc.Name)

	s.collector.SessionStarted(len(sc.Roles))
	s.publishLifecycle(events.LifecycleEvent{
		Kind:      events.SessionStarted,
		SessionID: id,
		Scenario:  sc.Name,
		Time:      start,
	})

	ctx, span := tracing.StartSessionSpan(ctx, s.opt.Tracer, sc.Name, id)

	results := make([]dialog.Result, len(sc.Roles))
	rows, err := h.DrawRows(ctx)
	if err != nil {
		for i, role := range sc.Roles {
			results[i] = dialog.Result{Role: role.Name, State: dialog.StateError, Err: err, Reason: err.Error()}
		}
	} else {
		vars := variables.NewStore()
		for table, row := range rows {
			vars.BindRow(table, row)
		}
		emit := s.messageSink(onMessage)

		var g errgroup.Group
		for i, role := range sc.Roles {
			g.Go(func() error {
				results[i] = s.runDialog(ctx, id, sc, role, vars, emit)
				return nil
			})
		}
		_ = g.Wait()
	}
	h.Release()

	res := SessionResult{
		ID:       id,
		Scenario: sc.Name,
		Outcome:  metrics.OutcomeMatched,
		Duration: time.Since(start),
		Dialogs:  results,
	}
	decisive := dialog.Result{State: dialog.StateMatched}
	for _, r := range results {
		if r.State.Precedence() > decisive.State.Precedence() {
			decisive = r
		}
	}
	if len(results) == 0 {
		decisive = dialog.Result{State: dialog.StateError, Reason: "scenario has no roles"}
	}
	res.Outcome = outcomeOf(decisive.State)
	res.Reason = decisive.Reason

	dialogs := make([]metrics.DialogRecord, len(results))
	for i, r := range results {
		dialogs[i] = metrics.DialogRecord{
			Outcome:          outcomeOf(r.State),
			MessagesSent:     r.MessagesSent,
			MessagesReceived: r.MessagesReceived,
		}
	}
	label := reasonLabel(decisive)
	s.collector.SessionFinished(metrics.SessionRecord{
		Scenario: sc.Name,
		Outcome:  res.Outcome,
		Duration: res.Duration,
		Reason:   label,
		Dialogs:  dialogs,
	})

	var spanErr error
	if res.Outcome != metrics.OutcomeMatched {
		spanErr = errors.New(label)
	}
	tracing.EndSpan(span, spanErr, attribute.String("scensim.outcome", string(res.Outcome)))

	s.publishLifecycle(events.LifecycleEvent{
		Kind:      events.SessionFinished,
		SessionID: id,
		Scenario:  sc.Name,
		Outcome:   string(res.Outcome),
		Reason:    res.Reason,
		Duration:  res.Duration,
		Time:      time.Now(),
	})
	logger.Debug("session finished", "outcome", res.Outcome, "reason", res.Reason, "duration", res.Duration)
	return res
}

func (s *Scheduler) runDialog(ctx context.Context, sessionID string, sc *scenario.Scenario, role scenario.Role, vars *variables.Store, emit func(dialog.MessageEvent)) dialog.Result {
	fail := func(err error) dialog.Result {
		return dialog.Result{Role: role.Name, State: dialog.StateError, Err: err, Reason: err.Error()}
	}
	if role.Endpoint == "" {
		return fail(fmt.Errorf("role %s is not bound to an endpoint", role.Name))
	}
	ep, ok := s.endpoints.Get(role.Endpoint)
	if !ok {
		return fail(fmt.Errorf("role %s: endpoint %q is not registered", role.Name, role.Endpoint))
	}
	dlg, ok := sc.DialogFor(role)
	if !ok {
		return fail(fmt.Errorf("role %s: dialog %q is not defined", role.Name, role.Dialog))
	}

	ctx, span := tracing.StartDialogSpan(ctx, s.opt.Tracer, role.Name, ep.Name(), ep.AdaptorType())

	ch, err := openChannel(ctx, ep.Adaptor(), s.opt.OpenRetry)
	if err != nil {
		res := dialog.Result{Role: role.Name, Err: err, Reason: err.Error()}
		switch {
		case ctx.Err() != nil:
			res.State = dialog.StateError
			res.Err = context.Cause(ctx)
			res.Reason = res.Err.Error()
		case errors.Is(err, adaptor.ErrRejected):
			res.State = dialog.StateRejected
		default:
			res.State = dialog.StateError
			ep.MarkFaulted(err)
		}
		res.Transitions = []dialog.State{dialog.StateIdle, res.State}
		tracing.EndSpan(span, err)
		return res
	}

	res := dialog.Run(ctx, dialog.Config{
		SessionID: sessionID,
		Scenario:  sc.Name,
		Role:      role.Name,
		Dialog:    dlg,
		Channel:   ch,
		Variables: vars,
		OnMessage: emit,
		Logger:    s.opt.Logger,
	})
	if cerr := ch.Close(); cerr != nil {
		s.opt.Logger.Debug("channel close failed", "endpoint", ep.Name(), "error", cerr)
	}

	var spanErr error
	if res.State != dialog.StateMatched {
		spanErr = res.Err
		if spanErr == nil {
			spanErr = errors.New(res.Reason)
		}
	}
	tracing.EndSpan(span, spanErr, attribute.String("scensim.dialog.state", res.State.String()))
	return res
}

// messageSink combines the per-call listener with the dispatcher. It returns
// nil when nobody listens so dialogs skip building events. The per-call
// listener is never invoked concurrently, even with several roles.
func (s *Scheduler) messageSink(onMessage func(dialog.MessageEvent)) func(dialog.MessageEvent) {
	publish := s.events != nil && s.events.HasMessageListeners()
	switch {
	case onMessage == nil && !publish:
		return nil
	case !publish:
		var mu sync.Mutex
		return func(e dialog.MessageEvent) {
			mu.Lock()
			defer mu.Unlock()
			onMessage(e)
		}
	}
	var mu sync.Mutex
	return func(e dialog.MessageEvent) {
		if onMessage != nil {
			mu.Lock()
			onMessage(e)
			mu.Unlock()
		}
		s.events.PublishMessage(e)
	}
}

func (s *Scheduler) publishLifecycle(e events.LifecycleEvent) {
	if s.events != nil {
		s.events.PublishLifecycle(e)
	}
}
