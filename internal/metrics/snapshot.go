package metrics

import "time"

// SessionStatusSnapshot is an immutable read of session counters for the
// interval since the last reset.
type SessionStatusSnapshot struct {
	Started     int64 `json:"started"`
	Completed   int64 `json:"completed"`
	Matching    int64 `json:"matching"`
	NonMatching int64 `json:"non_matching"`
	Rejected    int64 `json:"rejected"`
	TimedOut    int64 `json:"timed_out"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
	// Finished counts every terminal outcome.
	Finished int64 `json:"finished"`
	Active   int64 `json:"active"`

	EpochStart     time.Time     `json:"epoch_start"`
	Elapsed        time.Duration `json:"-"`
	SessionsPerSec float64       `json:"sessions_per_sec"`

	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P95Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	ElapsedMs     float64 `json:"elapsed_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`

	// Reasons breaks non-matched outcomes down by reason label.
	Reasons map[string]map[string]int `json:"reasons,omitempty"`
}

// DialogStatsSnapshot is an immutable read of dialog counters.
type DialogStatsSnapshot struct {
	Started          int64 `json:"started"`
	Completed        int64 `json:"completed"`
	Rejected         int64 `json:"rejected"`
	TimedOut         int64 `json:"timed_out"`
	NonMatching      int64 `json:"non_matching"`
	Failed           int64 `json:"failed"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
}

func (s *SessionStatusSnapshot) fillMillis() {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	s.ElapsedMs = ms(s.Elapsed)
	s.MinLatencyMs = ms(s.MinLatency)
	s.MaxLatencyMs = ms(s.MaxLatency)
	s.MeanLatencyMs = ms(s.MeanLatency)
	s.P50LatencyMs = ms(s.P50Latency)
	s.P90LatencyMs = ms(s.P90Latency)
	s.P95LatencyMs = ms(s.P95Latency)
	s.P99LatencyMs = ms(s.P99Latency)
}
