// Package metrics aggregates session and dialog outcomes into immutable
// snapshots.
//
// # Collector
//
// The central [Collector] is shared by every session goroutine:
//
//	collector := metrics.NewCollector()
//	collector.SessionStarted(len(roles))
//	...
//	collector.SessionFinished(metrics.SessionRecord{Outcome: metrics.OutcomeMatched, ...})
//
//	sessions := collector.SessionSnapshot()
//	dialogs := collector.DialogSnapshot()
//
// # Epochs
//
// Counters live in a measurement epoch. [Collector.Reset] swaps in a fresh
// epoch under the collector lock and returns the final snapshot of the old
// one, so every event is attributed to exactly one epoch. The number of
// active sessions is a live gauge kept outside the epoch.
package metrics
