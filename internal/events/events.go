// Package events fans session lifecycle and message events out to listeners
// without blocking the sessions that produce them.
package events

import (
	"time"

	"github.com/torosent/scensim/internal/dialog"
)

// LifecycleKind identifies a session lifecycle event.
type LifecycleKind string

const (
	SessionStarted  LifecycleKind = "session_started"
	SessionFinished LifecycleKind = "session_finished"
	SessionDropped  LifecycleKind = "session_dropped"
)

// LifecycleEvent reports a session state change.
type LifecycleEvent struct {
	Kind      LifecycleKind
	SessionID string
	Scenario  string
	// Outcome and Reason are set for SessionFinished.
	Outcome  string
	Reason   string
	Duration time.Duration
	Time     time.Time
}

// LifecycleListener receives lifecycle events.
type LifecycleListener func(LifecycleEvent)

// MessageListener receives message events.
type MessageListener func(dialog.MessageEvent)
