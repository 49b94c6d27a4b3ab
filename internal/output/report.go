// Package output prints run statistics as text or JSON and renders a live
// progress line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/threshold"
)

// Report is the final snapshot of a run.
type Report struct {
	Sessions   metrics.SessionStatusSnapshot     `json:"sessions"`
	Dialogs    metrics.DialogStatsSnapshot       `json:"dialogs"`
	Endpoints  map[string]clientmetrics.Snapshot `json:"endpoints,omitempty"`
	Thresholds []ThresholdResult                 `json:"thresholds,omitempty"`
	Passed     bool                              `json:"passed"`
}

// ThresholdResult is the JSON form of a threshold evaluation.
type ThresholdResult struct {
	Threshold string  `json:"threshold"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// NewReport assembles a report. Passed is true when every threshold passed
// and the session status verifies.
func NewReport(sessions metrics.SessionStatusSnapshot, dialogs metrics.DialogStatsSnapshot, endpoints map[string]clientmetrics.Snapshot, results []threshold.Result) Report {
	r := Report{
		Sessions:  sessions,
		Dialogs:   dialogs,
		Endpoints: endpoints,
	}
	for _, res := range results {
		r.Thresholds = append(r.Thresholds, ThresholdResult{
			Threshold: res.Threshold.Raw,
			Actual:    res.Actual,
			Pass:      res.Pass,
		})
	}
	r.Passed = threshold.AllPass(results) &&
		threshold.VerifyStatus(threshold.Stats{Sessions: sessions, Dialogs: dialogs})
	return r
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	s := r.Sessions
	fmt.Fprintln(w, "\n--- Session Results ---")
	fmt.Fprintf(w, "Started:           %d\n", s.Started)
	fmt.Fprintf(w, "Matched:           %d\n", s.Matching)
	fmt.Fprintf(w, "Non-matching:      %d\n", s.NonMatching)
	fmt.Fprintf(w, "Rejected:          %d\n", s.Rejected)
	fmt.Fprintf(w, "Timed out:         %d\n", s.TimedOut)
	fmt.Fprintf(w, "Failed:            %d\n", s.Failed)
	fmt.Fprintf(w, "Dropped:           %d\n", s.Dropped)
	fmt.Fprintf(w, "Active:            %d\n", s.Active)
	fmt.Fprintf(w, "Elapsed:           %s\n", s.Elapsed)
	fmt.Fprintf(w, "Sessions/sec:      %.2f\n", s.SessionsPerSec)
	fmt.Fprintln(w, "\nSession Duration:")
	fmt.Fprintf(w, "  Min:             %s\n", s.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", s.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", s.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", s.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", s.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", s.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99Latency)

	d := r.Dialogs
	fmt.Fprintln(w, "\nDialogs:")
	fmt.Fprintf(w, "  Started:         %d\n", d.Started)
	fmt.Fprintf(w, "  Completed:       %d\n", d.Completed)
	fmt.Fprintf(w, "  Non-matching:    %d\n", d.NonMatching)
	fmt.Fprintf(w, "  Rejected:        %d\n", d.Rejected)
	fmt.Fprintf(w, "  Timed out:       %d\n", d.TimedOut)
	fmt.Fprintf(w, "  Failed:          %d\n", d.Failed)
	fmt.Fprintf(w, "  Messages:        %d sent, %d received\n", d.MessagesSent, d.MessagesReceived)

	if len(s.Reasons) > 0 {
		fmt.Fprintln(w, "\nOutcome Reasons:")
		for _, row := range metrics.FlattenReasonBuckets(s.Reasons) {
			fmt.Fprintf(w, "  %s %s: %d\n", row.Outcome, row.Reason, row.Count)
		}
	}

	if len(r.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoint Traffic:")
		names := make([]string, 0, len(r.Endpoints))
		for name := range r.Endpoints {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			ei, ej := r.Endpoints[names[i]], r.Endpoints[names[j]]
			if ei.MessagesSent == ej.MessagesSent {
				return names[i] < names[j]
			}
			return ei.MessagesSent > ej.MessagesSent
		})
		for _, name := range names {
			ep := r.Endpoints[name]
			fmt.Fprintf(w,
				"  - %s: channels=%d, sent=%d (%d B), received=%d (%d B), rejections=%d, errors=%d\n",
				name,
				ep.ChannelsOpened,
				ep.MessagesSent,
				ep.BytesSent,
				ep.MessagesReceived,
				ep.BytesReceived,
				ep.Rejections,
				ep.Errors,
			)
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range r.Thresholds {
			mark := "✓"
			if !t.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s (actual %.2f)\n", mark, t.Threshold, t.Actual)
		}
	}

	status := "PASSED"
	if !r.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(w, "\nStatus: %s\n", status)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
