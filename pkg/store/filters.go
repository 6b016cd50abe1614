package store

import (
	"errors"
	"fmt"
	"time"
)

// Grouping is the time granularity used to bucket events into a series.
type Grouping string

const (
	GroupingHourly  Grouping = "hourly"
	GroupingDaily   Grouping = "daily"
	GroupingWeekly  Grouping = "weekly"
	GroupingMonthly Grouping = "monthly"
)

// ErrFiltersNotSet is returned by every aggregate read invoked without a
// usable date range. It signals a programming error at the call site, not
// a query failure.
var ErrFiltersNotSet = errors.New("store: filters with start and end dates must be set before aggregate queries")

// Filters shapes one aggregate read. StartDate and EndDate are required
// and expected to be UTC-normalized day boundaries.
type Filters struct {
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Kind      string
	Timezone  string
	Grouping  Grouping
}

// UserConfig carries the licensing context for user-count queries.
type UserConfig struct {
	LicensedUsers int
}

// ensureFilters validates the date range before any aggregate query runs.
func ensureFilters(f *Filters) error {
	if f == nil || f.StartDate.IsZero() || f.EndDate.IsZero() {
		return ErrFiltersNotSet
	}
	if f.EndDate.Before(f.StartDate) {
		return fmt.Errorf("store: end date %s precedes start date %s",
			f.EndDate.Format(time.RFC3339), f.StartDate.Format(time.RFC3339))
	}
	if f.Grouping != "" {
		switch f.Grouping {
		case GroupingHourly, GroupingDaily, GroupingWeekly, GroupingMonthly:
		default:
			return fmt.Errorf("store: unknown grouping %q", f.Grouping)
		}
	}
	return nil
}

// EffectiveGrouping returns the explicit grouping override when present,
// otherwise the granularity inferred from the range.
func (f *Filters) EffectiveGrouping() Grouping {
	if f.Grouping != "" {
		return f.Grouping
	}
	return InferGrouping(f.StartDate, f.EndDate)
}

// InferGrouping selects a bucket granularity from the elapsed whole days
// of the range: 0 days hourly, 1-7 daily, 8-30 weekly, more than 30
// monthly.
func InferGrouping(start, end time.Time) Grouping {
	days := int(end.Sub(start).Hours() / 24)
	switch {
	case days <= 0:
		return GroupingHourly
	case days <= 7:
		return GroupingDaily
	case days <= 30:
		return GroupingWeekly
	default:
		return GroupingMonthly
	}
}

// limitOrDefault applies the default top-N limit for ranked queries.
func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 3
	}
	return limit
}

// location resolves the request timezone, falling back to UTC on absent or
// unknown names.
func (f *Filters) location() *time.Location {
	if f.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
