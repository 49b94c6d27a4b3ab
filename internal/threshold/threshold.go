// Package threshold evaluates pass/fail assertions against session and
// dialog statistics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/torosent/scensim/internal/metrics"
)

// Threshold represents an assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "session_duration", "sessions_failed"
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Stats is the input of an evaluation.
type Stats struct {
	Sessions metrics.SessionStatusSnapshot
	Dialogs  metrics.DialogStatsSnapshot
}

// StatusThresholds are the assertions behind VerifyStatus: no session
// completed non-matching and no dialog was rejected.
var StatusThresholds = []string{
	"sessions_non_matching:count == 0",
	"dialogs_rejected:count == 0",
}

// Evaluator evaluates thresholds against collected statistics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, stats))
	}
	return results
}

// AllPass reports whether every result passed.
func AllPass(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// VerifyStatus evaluates StatusThresholds.
func VerifyStatus(stats Stats) bool {
	parsed, err := ParseMultiple(StatusThresholds)
	if err != nil {
		return false
	}
	return AllPass(NewEvaluator(parsed).Evaluate(stats))
}

func (e *Evaluator) evaluateOne(t Threshold, stats Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var (
	validMetrics = []string{
		"session_duration", "sessions", "sessions_failed", "sessions_non_matching",
		"sessions_dropped", "dialogs_rejected", "dialogs_timed_out",
	}
	validAggregates = []string{"p50", "p90", "p95", "p99", "avg", "min", "max", "rate", "count"}
	validOperators  = []string{"<", "<=", ">", ">=", "=="}
)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "session_duration:p95 < 500"        (latency percentile in ms)
// - "session_duration:avg < 200"        (average latency in ms)
// - "sessions_failed:rate < 0.01"       (share of finished sessions not matched)
// - "sessions_non_matching:count == 0"  (completed but non-matching)
// - "sessions:rate > 100"               (sessions started per second)
// - "sessions_dropped:count == 0"       (arrivals lost to the concurrency bound)
// - "dialogs_rejected:count == 0"
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'session_duration:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !slices.Contains(validMetrics, metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}
	if !slices.Contains(validAggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", aggregate, strings.Join(validAggregates, ", "))
	}
	if !slices.Contains(validOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func extractMetricValue(t Threshold, stats Stats) (float64, error) {
	s := stats.Sessions
	switch t.Metric {
	case "session_duration":
		return extractLatencyMetric(t.Aggregate, s)
	case "sessions":
		return countOrRate(t, float64(s.Started), s.SessionsPerSec)
	case "sessions_failed":
		failed := s.Finished - s.Matching
		return countOrShare(t, failed, s.Finished)
	case "sessions_non_matching":
		return countOrShare(t, s.NonMatching, s.Finished)
	case "sessions_dropped":
		return countOrShare(t, s.Dropped, s.Started+s.Dropped)
	case "dialogs_rejected":
		return countOrShare(t, stats.Dialogs.Rejected, stats.Dialogs.Started)
	case "dialogs_timed_out":
		return countOrShare(t, stats.Dialogs.TimedOut, stats.Dialogs.Started)
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, s metrics.SessionStatusSnapshot) (float64, error) {
	switch aggregate {
	case "p50":
		return s.P50LatencyMs, nil
	case "p90":
		return s.P90LatencyMs, nil
	case "p95":
		return s.P95LatencyMs, nil
	case "p99":
		return s.P99LatencyMs, nil
	case "avg":
		return s.MeanLatencyMs, nil
	case "min":
		return s.MinLatencyMs, nil
	case "max":
		return s.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for session_duration", aggregate)
	}
}

func countOrRate(t Threshold, count, perSecond float64) (float64, error) {
	switch t.Aggregate {
	case "count":
		return count, nil
	case "rate":
		return perSecond, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", t.Aggregate, t.Metric)
	}
}

// countOrShare returns the count, or for "rate" its share of total.
func countOrShare(t Threshold, count, total int64) (float64, error) {
	switch t.Aggregate {
	case "count":
		return float64(count), nil
	case "rate":
		if total == 0 {
			return 0, nil
		}
		return float64(count) / float64(total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", t.Aggregate, t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
