package runner

import (
	"sync"
	"time"

	"github.com/torosent/scensim/internal/simerr"
)

// Controller holds the target session rate. A rate change or a ramp replaces
// whatever was set before; the last writer wins.
type Controller struct {
	mu   sync.Mutex
	now  func() time.Time
	rate float64
	ramp *rampSegment
}

// NewController returns a controller with a zero rate.
func NewController() *Controller {
	return newControllerWithClock(time.Now)
}

func newControllerWithClock(now func() time.Time) *Controller {
	return &Controller{now: now}
}

// SetRate sets a constant rate in sessions per second and cancels any ramp.
func (c *Controller) SetRate(rate float64) error {
	if rate < 0 {
		return simerr.Configuration("session rate must be >= 0, got %g", rate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.ramp = nil
	return nil
}

// Ramp moves the rate linearly from initial to target over period, starting
// now, and holds target afterwards.
func (c *Controller) Ramp(initial, target float64, period time.Duration) error {
	if initial < 0 || target < 0 {
		return simerr.Configuration("ramp rates must be >= 0, got %g and %g", initial, target)
	}
	if period <= 0 {
		return simerr.Configuration("ramp period must be > 0, got %s", period)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = initial
	c.ramp = &rampSegment{
		start:    c.now(),
		duration: period,
		fromRate: initial,
		toRate:   target,
	}
	return nil
}

// Rate returns the instantaneous target rate.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ramp == nil {
		return c.rate
	}
	rate, ramping := c.ramp.rateAt(c.now())
	c.rate = rate
	if !ramping {
		c.ramp = nil
	}
	return rate
}

// Ramping reports whether a ramp is in progress.
func (c *Controller) Ramping() bool {
	c.Rate()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp != nil
}
