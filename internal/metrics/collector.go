package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeMatched     Outcome = "matched"
	OutcomeNonMatching Outcome = "non_matching"
	OutcomeRejected    Outcome = "rejected"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeError       Outcome = "error"
)

// DialogRecord is the terminal report of one dialog.
type DialogRecord struct {
	Outcome          Outcome
	MessagesSent     int
	MessagesReceived int
}

// SessionRecord is the terminal report of one session.
type SessionRecord struct {
	Scenario string
	Outcome  Outcome
	Duration time.Duration
	// Reason labels non-matched outcomes in the failure breakdown.
	Reason  string
	Dialogs []DialogRecord
}

// Collector records session and dialog outcomes in a thread-safe manner.
type Collector struct {
	mu     sync.Mutex
	epoch  *epoch
	active atomic.Int64
	now    func() time.Time
}

type epoch struct {
	start time.Time
	hist  *hdrhistogram.Histogram

	started     int64
	matched     int64
	nonMatching int64
	rejected    int64
	timedOut    int64
	failed      int64
	dropped     int64

	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration

	dialogs DialogStatsSnapshot
	reasons map[Outcome]map[string]int
}

// NewCollector returns a collector whose first epoch starts now.
func NewCollector() *Collector {
	return newCollectorWithClock(time.Now)
}

func newCollectorWithClock(now func() time.Time) *Collector {
	c := &Collector{now: now}
	c.epoch = newEpoch(now())
	return c
}

func newEpoch(start time.Time) *epoch {
	return &epoch{
		start: start,
		// Track session durations from 1µs up to 60s with 3 significant figures.
		hist:    hdrhistogram.New(1, 60_000_000, 3),
		reasons: make(map[Outcome]map[string]int),
	}
}

// SessionStarted records a session entering the active set with the given
// number of role dialogs.
func (c *Collector) SessionStarted(dialogs int) {
	c.active.Add(1)
	c.mu.Lock()
	c.epoch.started++
	c.epoch.dialogs.Started += int64(dialogs)
	c.mu.Unlock()
}

// SessionDropped records an arrival that could not be started.
func (c *Collector) SessionDropped() {
	c.mu.Lock()
	c.epoch.dropped++
	c.mu.Unlock()
}

// SessionFinished records the terminal outcome of a session started with
// SessionStarted and removes it from the active set.
func (c *Collector) SessionFinished(rec SessionRecord) {
	c.mu.Lock()
	e := c.epoch
	switch rec.Outcome {
	case OutcomeMatched:
		e.matched++
	case OutcomeNonMatching:
		e.nonMatching++
	case OutcomeRejected:
		e.rejected++
	case OutcomeTimedOut:
		e.timedOut++
	default:
		e.failed++
	}
	if rec.Outcome != OutcomeMatched && rec.Reason != "" {
		if e.reasons[rec.Outcome] == nil {
			e.reasons[rec.Outcome] = make(map[string]int)
		}
		e.reasons[rec.Outcome][rec.Reason]++
	}
	e.recordLatency(rec.Duration)
	for _, d := range rec.Dialogs {
		e.dialogs.record(d)
	}
	c.mu.Unlock()
	c.active.Add(-1)
}

func (e *epoch) recordLatency(latency time.Duration) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < e.hist.LowestTrackableValue() {
			us = e.hist.LowestTrackableValue()
		}
		if us > e.hist.HighestTrackableValue() {
			us = e.hist.HighestTrackableValue()
		}
		_ = e.hist.RecordValue(us)
	}
	e.sumLatency += latency
	if e.minLatency == 0 || latency < e.minLatency {
		e.minLatency = latency
	}
	if latency > e.maxLatency {
		e.maxLatency = latency
	}
}

func (d *DialogStatsSnapshot) record(rec DialogRecord) {
	switch rec.Outcome {
	case OutcomeMatched:
		d.Completed++
	case OutcomeNonMatching:
		d.Completed++
		d.NonMatching++
	case OutcomeRejected:
		d.Rejected++
	case OutcomeTimedOut:
		d.TimedOut++
	default:
		d.Failed++
	}
	d.MessagesSent += int64(rec.MessagesSent)
	d.MessagesReceived += int64(rec.MessagesReceived)
}

// Active returns the number of sessions currently in flight.
func (c *Collector) Active() int64 {
	return c.active.Load()
}

// SessionSnapshot returns the current epoch's session counters.
func (c *Collector) SessionSnapshot() SessionStatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.sessionSnapshot(c.now(), c.active.Load())
}

// DialogSnapshot returns the current epoch's dialog counters.
func (c *Collector) DialogSnapshot() DialogStatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.dialogs
}

// Reset starts a new epoch and returns the final snapshots of the previous one.
func (c *Collector) Reset() (SessionStatusSnapshot, DialogStatsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	prev := c.epoch
	c.epoch = newEpoch(now)
	return prev.sessionSnapshot(now, c.active.Load()), prev.dialogs
}

func (e *epoch) sessionSnapshot(now time.Time, active int64) SessionStatusSnapshot {
	finished := e.matched + e.nonMatching + e.rejected + e.timedOut + e.failed
	snap := SessionStatusSnapshot{
		Started:     e.started,
		Completed:   e.matched + e.nonMatching,
		Matching:    e.matched,
		NonMatching: e.nonMatching,
		Rejected:    e.rejected,
		TimedOut:    e.timedOut,
		Failed:      e.failed,
		Dropped:     e.dropped,
		Finished:    finished,
		Active:      active,
		EpochStart:  e.start,
		Elapsed:     now.Sub(e.start),
		MinLatency:  e.minLatency,
		MaxLatency:  e.maxLatency,
	}
	if finished > 0 {
		snap.MeanLatency = time.Duration(int64(e.sumLatency) / finished)
	}
	if e.hist.TotalCount() > 0 {
		snap.P50Latency = time.Duration(e.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P90Latency = time.Duration(e.hist.ValueAtQuantile(90)) * time.Microsecond
		snap.P95Latency = time.Duration(e.hist.ValueAtQuantile(95)) * time.Microsecond
		snap.P99Latency = time.Duration(e.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	if snap.Elapsed > 0 && e.started > 0 {
		snap.SessionsPerSec = float64(e.started) / snap.Elapsed.Seconds()
	}
	if len(e.reasons) > 0 {
		snap.Reasons = make(map[string]map[string]int, len(e.reasons))
		for outcome, labels := range e.reasons {
			inner := make(map[string]int, len(labels))
			for k, v := range labels {
				inner[k] = v
			}
			snap.Reasons[string(outcome)] = inner
		}
	}
	snap.fillMillis()
	return snap
}
