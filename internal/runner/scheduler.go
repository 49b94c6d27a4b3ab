package runner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/events"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/scenario"
	"github.com/torosent/scensim/internal/simerr"
)

// Scenarios hands out pinned scenarios for sessions.
type Scenarios interface {
	Select() (*scenario.Handle, error)
	Acquire(name string) (*scenario.Handle, error)
}

// Endpoints resolves role bindings to registered endpoints.
type Endpoints interface {
	Get(name string) (*registry.Endpoint, bool)
}

// Scheduler starts sessions at the rate set on its Controller.
type Scheduler struct {
	opt        Options
	scenarios  Scenarios
	endpoints  Endpoints
	collector  *metrics.Collector
	events     *events.Dispatcher
	controller *Controller
	slots      *semaphore.Weighted

	// sessionCtx is the parent of every session; Quit cancels it.
	sessionCtx    context.Context
	cancelSession context.CancelCauseFunc
	sessions      sync.WaitGroup

	mu         sync.Mutex
	stopDriver context.CancelFunc
	driverDone chan struct{}
	quit       bool
}

// NewScheduler wires a scheduler. dispatcher may be nil.
func NewScheduler(scenarios Scenarios, endpoints Endpoints, collector *metrics.Collector, dispatcher *events.Dispatcher, controller *Controller, opt Options) *Scheduler {
	opt.normalize()
	if controller == nil {
		controller = NewController()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Scheduler{
		opt:           opt,
		scenarios:     scenarios,
		endpoints:     endpoints,
		collector:     collector,
		events:        dispatcher,
		controller:    controller,
		slots:         semaphore.NewWeighted(int64(opt.MaxActiveSessions)),
		sessionCtx:    ctx,
		cancelSession: cancel,
	}
}

// Controller returns the rate controller driving the scheduler.
func (s *Scheduler) Controller() *Controller {
	return s.controller
}

// Start begins generating sessions. It returns false when generation is
// already running or the scheduler has quit.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit || s.stopDriver != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopDriver = cancel
	s.driverDone = done
	go s.drive(ctx, done)
	s.opt.Logger.Info("session generation started", "rate", s.controller.Rate(), "arrival_model", s.opt.ArrivalModel)
	return true
}

// Running reports whether sessions are being generated.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDriver != nil
}

// Stop ends session generation. Sessions in flight run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.detachDriver()
	s.mu.Unlock()
	s.awaitDriver(cancel, done)
}

// detachDriver clears the running driver and returns its handles. s.mu must
// be held.
func (s *Scheduler) detachDriver() (context.CancelFunc, chan struct{}) {
	cancel, done := s.stopDriver, s.driverDone
	s.stopDriver, s.driverDone = nil, nil
	return cancel, done
}

func (s *Scheduler) awaitDriver(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.opt.Logger.Info("session generation stopped", "active", s.collector.Active())
}

// Quit stops generation and waits up to timeout for sessions in flight.
// Sessions still running afterwards are cancelled with ErrForcedTermination
// and awaited. A zero timeout waits indefinitely.
func (s *Scheduler) Quit(timeout time.Duration) {
	s.mu.Lock()
	s.quit = true
	cancel, done := s.detachDriver()
	s.mu.Unlock()
	s.awaitDriver(cancel, done)

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-drained:
			return
		case <-timer.C:
			s.opt.Logger.Warn("terminating sessions still in flight", "active", s.collector.Active(), "timeout", timeout)
			s.cancelSession(ErrForcedTermination)
		}
	}
	<-drained
}

// RunSession runs one session of the named scenario on the calling
// goroutine. onMessage, when set, sees every message of the session in
// causal order per role.
func (s *Scheduler) RunSession(ctx context.Context, name string, onMessage func(dialog.MessageEvent)) (SessionResult, error) {
	s.mu.Lock()
	if s.quit {
		s.mu.Unlock()
		return SessionResult{}, simerr.Simulator("simulator has quit")
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	h, err := s.scenarios.Acquire(name)
	if err != nil {
		return SessionResult{}, err
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		h.Release()
		return SessionResult{}, simerr.Simulator("waiting for a session slot: %w", err)
	}
	defer s.slots.Release(1)

	// The session ends on the caller's cancellation or on a forced quit.
	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.sessionCtx, func() { cancel(context.Cause(s.sessionCtx)) })
	defer stop()

	return s.execute(sessCtx, h, onMessage), nil
}

func (s *Scheduler) drive(ctx context.Context, done chan struct{}) {
	defer close(done)
	arrivals := newArrivalProcess(s.opt)
	ticker := time.NewTicker(s.opt.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			n := arrivals.Advance(s.controller.Rate(), elapsed)
			for i := 0; i < n; i++ {
				if ctx.Err() != nil {
					return
				}
				s.launch()
			}
		}
	}
}

// launch starts one generated session, or counts it dropped when every
// slot is taken or nothing can be selected.
func (s *Scheduler) launch() {
	if !s.slots.TryAcquire(1) {
		s.drop("max active sessions reached")
		return
	}
	h, err := s.scenarios.Select()
	if err != nil {
		s.slots.Release(1)
		s.drop(err.Error())
		return
	}

	s.mu.Lock()
	if s.quit {
		s.mu.Unlock()
		h.Release()
		s.slots.Release(1)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.sessions.Done()
		defer s.slots.Release(1)
		s.execute(s.sessionCtx, h, nil)
	}()
}

func (s *Scheduler) drop(reason string) {
	s.collector.SessionDropped()
	s.publishLifecycle(events.LifecycleEvent{
		Kind:   events.SessionDropped,
		Reason: reason,
		Time:   time.Now(),
	})
	s.opt.Logger.Debug("session dropped", "reason", reason)
}
