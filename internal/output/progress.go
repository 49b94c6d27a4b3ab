package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/scensim/internal/metrics"
)

// SessionSource supplies the live session counters.
type SessionSource interface {
	SessionSnapshot() metrics.SessionStatusSnapshot
}

// RateSource reports the current target rate.
type RateSource interface {
	Rate() float64
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   SessionSource
	rate     RateSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. rate may be nil.
func NewProgressReporter(source SessionSource, rate RateSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		rate:     rate,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	s := p.source.SessionSnapshot()
	line := fmt.Sprintf("Sessions: %d | Matched: %d | Not matched: %d | Active: %d | Dropped: %d | SPS: %.1f",
		s.Started, s.Matching, s.Finished-s.Matching, s.Active, s.Dropped, s.SessionsPerSec)
	if p.rate != nil {
		line += fmt.Sprintf(" | Target: %.1f/s", p.rate.Rate())
	}
	return line
}
