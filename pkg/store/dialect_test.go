package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDialectCapabilities(t *testing.T) {
	d := NewPostgresDialect()
	assert.True(t, d.JSONSupported())
	assert.True(t, d.PartitionSupported())
	assert.True(t, d.TimezoneSupported())
	assert.Equal(t, "$3", d.Placeholder(3))
}

func TestSQLiteDialectCapabilities(t *testing.T) {
	d := NewSQLiteDialect()
	assert.False(t, d.JSONSupported())
	assert.False(t, d.PartitionSupported())
	assert.False(t, d.TimezoneSupported())
	assert.Equal(t, "?", d.Placeholder(3))
}

func TestPostgresDateBuckets(t *testing.T) {
	d := NewPostgresDialect()
	end := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t,
		"to_char(date_trunc('hour', created_at), 'YYYY-MM-DD HH24:00:00')",
		d.DateBucket("created_at", GroupingHourly, end))
	assert.Equal(t,
		"to_char(date_trunc('day', created_at), 'YYYY-MM-DD')",
		d.DateBucket("created_at", GroupingDaily, end))
	assert.Equal(t,
		"to_char(date_trunc('week', created_at), 'YYYY-MM-DD')",
		d.DateBucket("created_at", GroupingWeekly, end))

	monthly := d.DateBucket("created_at", GroupingMonthly, end)
	assert.Contains(t, monthly, "LEAST(")
	assert.Contains(t, monthly, "TIMESTAMP '2025-03-15 00:00:00'")
}

func TestSQLiteDateBuckets(t *testing.T) {
	d := NewSQLiteDialect()
	end := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t,
		"strftime('%Y-%m-%d %H:00:00', created_at)",
		d.DateBucket("created_at", GroupingHourly, end))
	assert.Equal(t,
		"strftime('%Y-%m-%d', created_at)",
		d.DateBucket("created_at", GroupingDaily, end))
	assert.Equal(t,
		"date(created_at, 'weekday 0', '-6 days')",
		d.DateBucket("created_at", GroupingWeekly, end))
	assert.Equal(t,
		"min(date(created_at, 'start of month', '+1 month', '-1 day'), date('2025-03-15'))",
		d.DateBucket("created_at", GroupingMonthly, end))
}

func TestJSONFieldFragments(t *testing.T) {
	assert.Equal(t, "attributes ->> 'entityRef'",
		NewPostgresDialect().JSONField("attributes", "entityRef"))
	assert.Equal(t, "json_extract(attributes, '$.entityRef')",
		NewSQLiteDialect().JSONField("attributes", "entityRef"))
}
