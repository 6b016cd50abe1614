// Package store implements the SQL persistence and aggregation layer for
// analytics events.
//
// # Dialects
//
// All aggregation logic lives once, in Adapter; anything dialect-specific
// (date bucketing, JSON extraction, bind placeholders, partition DDL) is
// supplied by a Dialect implementation. Two dialects ship: Postgres
// (native JSON, range partitioning) and SQLite (stringified JSON payloads,
// no partitioning).
//
// # Filters
//
// Aggregate reads take Filters and UserConfig as explicit parameters and
// fail fast with ErrFiltersNotSet when the date range is absent. When no
// grouping override is given, the bucket granularity is inferred from the
// elapsed whole days of the range: 0 days is hourly, 1-7 daily, 8-30
// weekly, beyond that monthly.
//
// # Writes
//
// InsertEvents wraps one bulk insert per batch in a single transaction and
// re-throws failures so the batch processor can drive retries.
// InsertFailedEvent feeds the dead-letter table and is best-effort.
package store
