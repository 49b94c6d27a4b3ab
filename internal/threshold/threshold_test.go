package threshold

import (
	"strings"
	"testing"

	"github.com/torosent/scensim/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p95 latency",
			input: "session_duration:p95 < 500",
			want: Threshold{
				Metric:    "session_duration",
				Aggregate: "p95",
				Operator:  "<",
				Value:     500,
				Raw:       "session_duration:p95 < 500",
			},
		},
		{
			name:  "failure rate without spaces",
			input: "sessions_failed:rate<0.01",
			want: Threshold{
				Metric:    "sessions_failed",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "sessions_failed:rate<0.01",
			},
		},
		{
			name:  "equality",
			input: "  dialogs_rejected:count == 0 ",
			want: Threshold{
				Metric:    "dialogs_rejected",
				Aggregate: "count",
				Operator:  "==",
				Value:     0,
				Raw:       "dialogs_rejected:count == 0",
			},
		},
		{name: "empty", input: "", wantError: true},
		{name: "missing aggregate", input: "session_duration < 5", wantError: true},
		{name: "unknown metric", input: "http_req_duration:p95 < 5", wantError: true},
		{name: "unknown aggregate", input: "session_duration:p42 < 5", wantError: true},
		{name: "unknown operator", input: "session_duration:p95 != 5", wantError: true},
		{name: "negative value", input: "session_duration:p95 < -5", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"session_duration:p99 < 100", "sessions:count > 10"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ParseMultiple() returned %d thresholds, want 2", len(got))
	}

	_, err = ParseMultiple([]string{"session_duration:p99 < 100", "bogus", "nope:count < 1"})
	if err == nil {
		t.Fatal("ParseMultiple() expected error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Fatalf("error %q should name every bad entry", err)
	}

	none, err := ParseMultiple(nil)
	if err != nil || none != nil {
		t.Fatalf("ParseMultiple(nil) = %v, %v", none, err)
	}
}

func sampleStats() Stats {
	return Stats{
		Sessions: metrics.SessionStatusSnapshot{
			Started:        200,
			Finished:       200,
			Matching:       190,
			NonMatching:    4,
			Rejected:       2,
			TimedOut:       3,
			Failed:         1,
			Dropped:        50,
			SessionsPerSec: 20,
			MinLatencyMs:   2,
			MeanLatencyMs:  40,
			P50LatencyMs:   35,
			P90LatencyMs:   80,
			P95LatencyMs:   95,
			P99LatencyMs:   150,
			MaxLatencyMs:   300,
		},
		Dialogs: metrics.DialogStatsSnapshot{
			Started:  400,
			Rejected: 4,
			TimedOut: 8,
		},
	}
}

func TestExtractMetricValue(t *testing.T) {
	stats := sampleStats()
	tests := []struct {
		threshold string
		want      float64
	}{
		{"session_duration:p50 < 1", 35},
		{"session_duration:p90 < 1", 80},
		{"session_duration:p95 < 1", 95},
		{"session_duration:p99 < 1", 150},
		{"session_duration:avg < 1", 40},
		{"session_duration:min < 1", 2},
		{"session_duration:max < 1", 300},
		{"sessions:count < 1", 200},
		{"sessions:rate < 1", 20},
		{"sessions_failed:count < 1", 10},
		{"sessions_failed:rate < 1", 0.05},
		{"sessions_non_matching:count < 1", 4},
		{"sessions_dropped:count < 1", 50},
		{"sessions_dropped:rate < 1", 0.2},
		{"dialogs_rejected:rate < 1", 0.01},
		{"dialogs_timed_out:count < 1", 8},
	}

	for _, tt := range tests {
		t.Run(tt.threshold, func(t *testing.T) {
			th, err := Parse(tt.threshold)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			got, err := extractMetricValue(th, stats)
			if err != nil {
				t.Fatalf("extractMetricValue() error = %v", err)
			}
			if !compareValues(got, "==", tt.want) {
				t.Fatalf("extractMetricValue(%s) = %v, want %v", tt.threshold, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValueUnsupportedAggregate(t *testing.T) {
	for _, s := range []string{"sessions:p95 < 1", "session_duration:rate < 1", "dialogs_rejected:max < 1"} {
		th, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", s, err)
		}
		if _, err := extractMetricValue(th, sampleStats()); err == nil {
			t.Errorf("extractMetricValue(%q) expected error", s)
		}
	}
}

func TestEvaluator(t *testing.T) {
	thresholds, err := ParseMultiple([]string{
		"session_duration:p95 < 100",
		"sessions_failed:rate < 0.01",
		"sessions:rate >= 20",
		"session_duration:rate < 1",
	})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}

	results := NewEvaluator(thresholds).Evaluate(sampleStats())
	if len(results) != 4 {
		t.Fatalf("Evaluate() returned %d results, want 4", len(results))
	}

	wantPass := []bool{true, false, true, false}
	for i, r := range results {
		if r.Pass != wantPass[i] {
			t.Errorf("result[%d] %q pass = %v, want %v (%s)", i, r.Threshold.Raw, r.Pass, wantPass[i], r.Message)
		}
	}
	if !strings.HasPrefix(results[0].Message, "✓") || !strings.HasPrefix(results[1].Message, "✗") {
		t.Errorf("unexpected messages: %q, %q", results[0].Message, results[1].Message)
	}
	if !strings.HasPrefix(results[3].Message, "error:") {
		t.Errorf("unsupported aggregate should report an error, got %q", results[3].Message)
	}
	if AllPass(results) {
		t.Error("AllPass() = true with failing results")
	}
	if NewEvaluator(nil).Evaluate(sampleStats()) != nil {
		t.Error("Evaluate() with no thresholds should return nil")
	}
}

func TestVerifyStatus(t *testing.T) {
	clean := Stats{
		Sessions: metrics.SessionStatusSnapshot{Started: 10, Finished: 10, Matching: 8, TimedOut: 2},
		Dialogs:  metrics.DialogStatsSnapshot{Started: 10, TimedOut: 2},
	}
	if !VerifyStatus(clean) {
		t.Fatal("VerifyStatus() = false, timeouts alone should pass")
	}

	nonMatching := clean
	nonMatching.Sessions.NonMatching = 1
	if VerifyStatus(nonMatching) {
		t.Fatal("VerifyStatus() = true with a non-matching session")
	}

	rejected := clean
	rejected.Dialogs.Rejected = 1
	if VerifyStatus(rejected) {
		t.Fatal("VerifyStatus() = true with a rejected dialog")
	}

	if !VerifyStatus(Stats{}) {
		t.Fatal("VerifyStatus() on empty stats should pass")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{3, ">", 2, true},
		{2, ">=", 2, true},
		{0.1 + 0.2, "==", 0.3, true},
		{1, "!=", 2, false},
	}
	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.operator, tt.expected); got != tt.want {
			t.Errorf("compareValues(%v %s %v) = %v, want %v", tt.actual, tt.operator, tt.expected, got, tt.want)
		}
	}
}
