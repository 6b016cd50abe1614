package store

import (
	"fmt"
	"time"
)

// SQLiteDialect targets an embedded SQLite file store. Event payloads are
// persisted as JSON strings; json_extract still works on the stored text.
type SQLiteDialect struct{}

func NewSQLiteDialect() *SQLiteDialect { return &SQLiteDialect{} }

func (d *SQLiteDialect) Name() string { return "sqlite" }

func (d *SQLiteDialect) JSONSupported() bool      { return false }
func (d *SQLiteDialect) PartitionSupported() bool { return false }
func (d *SQLiteDialect) TimezoneSupported() bool  { return false }

func (d *SQLiteDialect) Placeholder(n int) string { return "?" }

func (d *SQLiteDialect) DateBucket(column string, g Grouping, end time.Time) string {
	switch g {
	case GroupingHourly:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:00:00', %s)", column)
	case GroupingWeekly:
		// 'weekday 0' advances to Sunday; stepping back six days lands on
		// the Monday that starts the week, matching date_trunc('week').
		return fmt.Sprintf("date(%s, 'weekday 0', '-6 days')", column)
	case GroupingMonthly:
		return fmt.Sprintf("min(date(%s, 'start of month', '+1 month', '-1 day'), date('%s'))",
			column, end.UTC().Format("2006-01-02"))
	default:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
	}
}

func (d *SQLiteDialect) JSONField(column, key string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, key)
}
