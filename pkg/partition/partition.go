package partition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portalkit/insights/pkg/observability"
)

// ErrRetriesExhausted is returned when a partition's attempt bound is
// spent without a successful creation.
var ErrRetriesExhausted = errors.New("partition: creation retries exhausted")

// monthlySchedule fires at midnight on the first of each month.
const monthlySchedule = "0 0 1 * *"

// overlapPattern matches the server's overlap conflict message and
// captures the conflicting partition's year and month.
var overlapPattern = regexp.MustCompile(`would overlap partition "events_(\d{4})_(\d{2})"`)

// Key identifies one monthly partition.
type Key struct {
	Year  int
	Month int
}

// Name returns the physical sub-table name, events_<year>_<month:02>.
func (k Key) Name() string {
	return fmt.Sprintf("events_%d_%02d", k.Year, k.Month)
}

// String returns the attempt-tracking key, "<year>_<month>".
func (k Key) String() string {
	return fmt.Sprintf("%d_%d", k.Year, k.Month)
}

// Range returns the partition's half-open date range,
// [first_of_month, first_of_next_month).
func (k Key) Range() (time.Time, time.Time) {
	start := time.Date(k.Year, time.Month(k.Month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Manager creates monthly partitions ahead of writes.
type Manager struct {
	db         *sql.DB
	log        *observability.Logger
	metrics    *observability.Metrics
	maxRetries int
}

// NewManager creates a partition manager. maxRetries bounds creation
// attempts per partition key; values below 1 fall back to 1.
func NewManager(db *sql.DB, log *observability.Logger, metrics *observability.Metrics, maxRetries int) *Manager {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Manager{
		db:         db,
		log:        log,
		metrics:    metrics,
		maxRetries: maxRetries,
	}
}

// CreatePartition creates the partition for (year, month), repairing
// overlap conflicts along the way. attempts is shared across the repair so
// every partition touched is bounded by the same budget; pass nil for a
// fresh tracker.
func (m *Manager) CreatePartition(ctx context.Context, year, month int, attempts map[string]int) error {
	if attempts == nil {
		attempts = make(map[string]int)
	}

	stack := []Key{{Year: year, Month: month}}
	for len(stack) > 0 {
		target := stack[len(stack)-1]

		if attempts[target.String()] > m.maxRetries {
			return fmt.Errorf("%w for partition %s", ErrRetriesExhausted, target.String())
		}

		err := m.create(ctx, target)
		if err == nil {
			m.metrics.PartitionsCreatedTotal.Inc()
			m.log.WithField("partition", target.Name()).Info("partition ready")
			stack = stack[:len(stack)-1]
			continue
		}

		conflict, ok := parseOverlap(err)
		if !ok {
			return fmt.Errorf("failed to create partition %s: %w", target.Name(), err)
		}

		attempts[target.String()]++
		m.metrics.PartitionRepairsTotal.Inc()
		m.log.WithFields(map[string]interface{}{
			"partition": target.Name(),
			"conflict":  conflict.Name(),
		}).Warn("partition overlap detected, dropping conflicting partition")

		if err := m.drop(ctx, conflict); err != nil {
			return fmt.Errorf("failed to drop overlapping partition %s: %w", conflict.Name(), err)
		}

		// Recreate the dropped partition first, then retry the target.
		stack = append(stack, conflict)
	}

	return nil
}

// EnsureCurrentMonth creates the partition for the current UTC month.
func (m *Manager) EnsureCurrentMonth(ctx context.Context) error {
	now := time.Now().UTC()
	return m.CreatePartition(ctx, now.Year(), int(now.Month()), nil)
}

// Schedule registers the monthly creation task and runs it once eagerly.
// The caller is responsible for gating on the dialect's partition support.
func (m *Manager) Schedule(ctx context.Context, c *cron.Cron) (cron.EntryID, error) {
	id, err := c.AddFunc(monthlySchedule, func() {
		if err := m.EnsureCurrentMonth(ctx); err != nil {
			m.log.WithError(err).Error("scheduled partition creation failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule partition creation: %w", err)
	}

	if err := m.EnsureCurrentMonth(ctx); err != nil {
		return id, fmt.Errorf("initial partition creation failed: %w", err)
	}

	return id, nil
}

func (m *Manager) create(ctx context.Context, k Key) error {
	start, end := k.Range()
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF events FOR VALUES FROM ('%s') TO ('%s')`,
		k.Name(), start.Format("2006-01-02"), end.Format("2006-01-02"))
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Manager) drop(ctx context.Context, k Key) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, k.Name())
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// parseOverlap extracts the conflicting partition from an overlap conflict
// error. Any other error shape reports false.
func parseOverlap(err error) (Key, bool) {
	match := overlapPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return Key{}, false
	}
	year, yerr := strconv.Atoi(match[1])
	month, merr := strconv.Atoi(match[2])
	if yerr != nil || merr != nil || month < 1 || month > 12 {
		return Key{}, false
	}
	return Key{Year: year, Month: month}, true
}
