package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/threshold"
)

func sampleReport(t *testing.T, thresholds ...string) Report {
	t.Helper()
	sessions := metrics.SessionStatusSnapshot{
		Started:        100,
		Finished:       100,
		Completed:      97,
		Matching:       95,
		NonMatching:    2,
		TimedOut:       3,
		SessionsPerSec: 50,
		Elapsed:        2 * time.Second,
		P95Latency:     40 * time.Millisecond,
		P95LatencyMs:   40,
		Reasons: map[string]map[string]int{
			"non_matching": {"unexpected message at step 2": 2},
			"timed_out":    {"no message in time at step 1": 3},
		},
	}
	dialogs := metrics.DialogStatsSnapshot{Started: 100, Completed: 97, MessagesSent: 200, MessagesReceived: 190}
	endpoints := map[string]clientmetrics.Snapshot{
		"api":  {ChannelsOpened: 100, MessagesSent: 100, MessagesReceived: 95},
		"push": {ChannelsOpened: 10, MessagesSent: 5},
	}
	parsed, err := threshold.ParseMultiple(thresholds)
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	results := threshold.NewEvaluator(parsed).Evaluate(threshold.Stats{Sessions: sessions, Dialogs: dialogs})
	return NewReport(sessions, dialogs, endpoints, results)
}

func TestPrintReportBasic(t *testing.T) {
	r := sampleReport(t, "session_duration:p95 < 100")

	var buf bytes.Buffer
	PrintReport(&buf, r)
	output := buf.String()

	for _, want := range []string{
		"Started:           100",
		"Matched:           95",
		"Sessions/sec:      50.00",
		"P95:             40ms",
		"non_matching unexpected message at step 2: 2",
		"- api: channels=100",
		"✓ session_duration:p95 < 100",
		"Status: FAILED",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q:\n%s", want, output)
		}
	}
	if strings.Index(output, "- api:") > strings.Index(output, "- push:") {
		t.Error("endpoints should be ordered by messages sent")
	}
}

func TestNewReportPassed(t *testing.T) {
	sessions := metrics.SessionStatusSnapshot{Started: 3, Finished: 3, Matching: 3}
	r := NewReport(sessions, metrics.DialogStatsSnapshot{Started: 3, Completed: 3}, nil, nil)
	if !r.Passed {
		t.Fatal("clean run should pass")
	}

	var buf bytes.Buffer
	PrintReport(&buf, r)
	if !strings.Contains(buf.String(), "Status: PASSED") {
		t.Errorf("expected PASSED status:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Thresholds:") {
		t.Error("no thresholds section expected")
	}
}

func TestPrintJSONReport(t *testing.T) {
	r := sampleReport(t, "sessions:count > 1000")

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, r); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	sessions, ok := decoded["sessions"].(map[string]any)
	if !ok || sessions["started"] != float64(100) || sessions["p95_latency_ms"] != float64(40) {
		t.Fatalf("sessions = %v", decoded["sessions"])
	}
	thresholds, ok := decoded["thresholds"].([]any)
	if !ok || len(thresholds) != 1 {
		t.Fatalf("thresholds = %v", decoded["thresholds"])
	}
	if decoded["passed"] != false {
		t.Fatalf("passed = %v, want false", decoded["passed"])
	}
}
