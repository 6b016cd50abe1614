package store

import "time"

// Dialect supplies the dialect-specific SQL fragments used by the shared
// aggregation logic: date bucketing, JSON extraction, bind placeholders,
// and partition DDL. Capability flags are pure queries with no side
// effects.
type Dialect interface {
	Name() string

	// JSONSupported reports whether the store has native JSON columns.
	// When false, event context/attributes are persisted as strings.
	JSONSupported() bool
	// PartitionSupported reports whether the events table is range
	// partitioned by month.
	PartitionSupported() bool
	// TimezoneSupported reports whether the store can evaluate timezone
	// conversions itself.
	TimezoneSupported() bool

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// DateBucket renders an expression producing the bucket label for the
	// given column at the given granularity. Monthly buckets are clamped
	// so a label never extends past the query's own end date.
	DateBucket(column string, g Grouping, end time.Time) string

	// JSONField renders an expression extracting a top-level key from a
	// JSON-bearing column.
	JSONField(column, key string) string
}
