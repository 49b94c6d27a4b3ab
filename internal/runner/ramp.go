package runner

import "time"

// rampSegment is a linear rate change from fromRate to toRate over duration,
// starting at start.
type rampSegment struct {
	start    time.Time
	duration time.Duration
	fromRate float64
	toRate   float64
}

// rateAt returns the rate at now and whether the ramp is still in progress.
// Before the period ends the rate is from+(to-from)*progress; afterwards it
// settles at toRate.
func (r *rampSegment) rateAt(now time.Time) (float64, bool) {
	elapsed := now.Sub(r.start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= r.duration {
		return r.toRate, false
	}
	if r.fromRate == r.toRate {
		return r.fromRate, true
	}
	progress := float64(elapsed) / float64(r.duration)
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	return r.fromRate + (r.toRate-r.fromRate)*progress, true
}
