package runner

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/scensim/internal/logging"
)

// ArrivalModel selects how session arrivals are spread within the rate.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

const (
	defaultMaxActiveSessions = 1000
	defaultTickInterval      = 100 * time.Millisecond
)

// Options configure the Scheduler.
type Options struct {
	MaxActiveSessions int           // sessions in flight before arrivals are dropped
	TickInterval      time.Duration // driver tick
	ArrivalModel      ArrivalModel
	RandomSeed        int64
	PoissonSampler    func() float64 // optional injection for tests; unit-mean exponential
	OpenRetry         RetryPolicy    // channel open retries
	Tracer            trace.Tracer
	Logger            *slog.Logger
}

func (o *Options) normalize() {
	if o.MaxActiveSessions <= 0 {
		o.MaxActiveSessions = defaultMaxActiveSessions
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("scensim")
	}
	o.Logger = logging.OrDiscard(o.Logger)
}
