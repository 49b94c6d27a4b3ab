package runner

import (
	"math"
	"math/rand"
	"time"
)

// arrivalProcess turns a rate integrated over elapsed time into a count of
// session arrivals. Implementations are driven by a single goroutine.
type arrivalProcess interface {
	Advance(rate float64, elapsed time.Duration) int
}

func newArrivalProcess(opt Options) arrivalProcess {
	switch opt.ArrivalModel {
	case ArrivalModelPoisson:
		sampler := opt.PoissonSampler
		if sampler == nil {
			seeded := rand.New(rand.NewSource(opt.RandomSeed))
			sampler = seeded.ExpFloat64
		}
		return newPoissonArrival(sampler)
	default:
		return &uniformArrival{}
	}
}

// uniformArrival emits one arrival per unit of accumulated rate-time and
// carries the fractional remainder to the next tick.
type uniformArrival struct {
	carry float64
}

func (u *uniformArrival) Advance(rate float64, elapsed time.Duration) int {
	if rate <= 0 || elapsed <= 0 {
		return 0
	}
	u.carry += rate * elapsed.Seconds()
	n := math.Floor(u.carry)
	u.carry -= n
	return int(n)
}

// poissonArrival places arrivals at exponentially distributed gaps in
// rate-time, which yields a Poisson process that follows rate changes.
type poissonArrival struct {
	sample  func() float64
	elapsed float64
	next    float64
}

func newPoissonArrival(sample func() float64) *poissonArrival {
	return &poissonArrival{sample: sample, next: sample()}
}

func (p *poissonArrival) Advance(rate float64, elapsed time.Duration) int {
	if rate <= 0 || elapsed <= 0 {
		return 0
	}
	p.elapsed += rate * elapsed.Seconds()
	n := 0
	for p.elapsed >= p.next {
		n++
		p.next += p.sample()
	}
	return n
}
