package metrics

import "sort"

// ReasonBucket is the count of one reason label under one outcome.
type ReasonBucket struct {
	Outcome string
	Reason  string
	Count   int
}

// FlattenReasonBuckets converts a nested outcome->reason map into a sorted slice of ReasonBucket rows.
// Rows are sorted by descending count, then by outcome/reason for stability.
func FlattenReasonBuckets(buckets map[string]map[string]int) []ReasonBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]ReasonBucket, 0)
	for outcome, reasons := range buckets {
		for reason, count := range reasons {
			rows = append(rows, ReasonBucket{Outcome: outcome, Reason: reason, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Outcome == rows[j].Outcome {
				return rows[i].Reason < rows[j].Reason
			}
			return rows[i].Outcome < rows[j].Outcome
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
