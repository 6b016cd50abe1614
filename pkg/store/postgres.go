package store

import (
	"fmt"
	"time"
)

// PostgresDialect targets a JSON- and partition-capable PostgreSQL server.
type PostgresDialect struct{}

func NewPostgresDialect() *PostgresDialect { return &PostgresDialect{} }

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) JSONSupported() bool      { return true }
func (d *PostgresDialect) PartitionSupported() bool { return true }
func (d *PostgresDialect) TimezoneSupported() bool  { return true }

func (d *PostgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d *PostgresDialect) DateBucket(column string, g Grouping, end time.Time) string {
	switch g {
	case GroupingHourly:
		return fmt.Sprintf("to_char(date_trunc('hour', %s), 'YYYY-MM-DD HH24:00:00')", column)
	case GroupingWeekly:
		return fmt.Sprintf("to_char(date_trunc('week', %s), 'YYYY-MM-DD')", column)
	case GroupingMonthly:
		// Label by month end, clamped to the query's own end date.
		return fmt.Sprintf(
			"to_char(LEAST(date_trunc('month', %s) + INTERVAL '1 month' - INTERVAL '1 day', TIMESTAMP '%s'), 'YYYY-MM-DD')",
			column, end.UTC().Format("2006-01-02 15:04:05"))
	default:
		return fmt.Sprintf("to_char(date_trunc('day', %s), 'YYYY-MM-DD')", column)
	}
}

func (d *PostgresDialect) JSONField(column, key string) string {
	return fmt.Sprintf("%s ->> '%s'", column, key)
}
