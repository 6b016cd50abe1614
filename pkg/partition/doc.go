// Package partition manages the monthly range partitions of the events
// table on stores that support them.
//
// Partition creation repairs overlap conflicts: when the server reports
// that the new partition would overlap an existing one, the conflicting
// partition is dropped (cascade), recreated, and the original target
// retried. The repair runs as an explicit work stack with a per-partition
// attempt bound rather than recursion, so a pathological overlap chain
// cannot grow the call stack; observable behavior is the same bounded
// retry. Any non-overlap DDL error propagates immediately.
//
// A monthly cron task (first of month, midnight) creates the current
// month's partition, plus one eager run at process start.
package partition
