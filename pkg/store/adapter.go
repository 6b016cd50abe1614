package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/portalkit/insights/pkg/event"
	"github.com/portalkit/insights/pkg/observability"
)

// Adapter executes all reads and writes against the events store. The
// aggregation algorithms live here once; dialect-specific SQL fragments
// come from the Dialect.
//
// Filters and UserConfig are explicit parameters on every aggregate call;
// an Adapter holds no per-request state and is safe to share.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
	log     *observability.Logger
	tracer  trace.Tracer
}

// NewAdapter creates an adapter over an open database handle.
func NewAdapter(db *sql.DB, dialect Dialect, log *observability.Logger) *Adapter {
	return &Adapter{
		db:      db,
		dialect: dialect,
		log:     log,
		tracer:  otel.Tracer("insights/store"),
	}
}

// Dialect exposes the adapter's dialect, primarily for capability checks.
func (a *Adapter) Dialect() Dialect { return a.dialect }

// DB exposes the underlying handle for DDL paths (partition management).
func (a *Adapter) DB() *sql.DB { return a.db }

// UserCountRow annotates the distinct active-user count with the licensed
// seat count configured for the installation.
type UserCountRow struct {
	LoggedInUsers int64 `json:"logged_in_users"`
	LicensedUsers int64 `json:"licensed_users"`
}

// UsersResponse is the GetUsers result. It carries no grouping.
type UsersResponse struct {
	Data []UserCountRow `json:"data"`
}

// GetUsers counts distinct users active in the date range.
func (a *Adapter) GetUsers(ctx context.Context, f *Filters, cfg *UserConfig) (*UsersResponse, error) {
	if err := ensureFilters(f); err != nil {
		return nil, err
	}
	ctx, span := a.tracer.Start(ctx, "store.GetUsers")
	defer span.End()

	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT user_ref) FROM events WHERE created_at BETWEEN %s AND %s",
		a.dialect.Placeholder(1), a.dialect.Placeholder(2))

	var loggedIn int64
	if err := a.db.QueryRowContext(ctx, query, f.StartDate, f.EndDate).Scan(&loggedIn); err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	licensed := int64(0)
	if cfg != nil {
		licensed = int64(cfg.LicensedUsers)
	}

	return &UsersResponse{Data: []UserCountRow{{LoggedInUsers: loggedIn, LicensedUsers: licensed}}}, nil
}

// DailyUsersRow is one bucket of the active-user series. A user counts as
// new in the bucket holding their first-ever event, returning otherwise.
type DailyUsersRow struct {
	Date           string `json:"date"`
	TotalUsers     int64  `json:"total_users"`
	NewUsers       int64  `json:"new_users"`
	ReturningUsers int64  `json:"returning_users"`
}

// DailyUsersResponse is the GetDailyUsers result.
type DailyUsersResponse struct {
	Grouping Grouping        `json:"grouping"`
	Data     []DailyUsersRow `json:"data"`
}

// GetDailyUsers returns per-bucket totals of total, new, and returning
// users across the range.
func (a *Adapter) GetDailyUsers(ctx context.Context, f *Filters) (*DailyUsersResponse, error) {
	if err := ensureFilters(f); err != nil {
		return nil, err
	}
	ctx, span := a.tracer.Start(ctx, "store.GetDailyUsers")
	defer span.End()

	grouping := f.EffectiveGrouping()
	eventBucket := a.dialect.DateBucket("e.created_at", grouping, f.EndDate)
	firstSeenBucket := a.dialect.DateBucket("fs.first_seen_at", grouping, f.EndDate)

	query := fmt.Sprintf(`
		WITH first_seen AS (
			SELECT user_ref, MIN(created_at) AS first_seen_at
			FROM events
			GROUP BY user_ref
		)
		SELECT %[1]s AS date,
			COUNT(DISTINCT e.user_ref) AS total_users,
			COUNT(DISTINCT CASE WHEN %[2]s = %[1]s THEN e.user_ref END) AS new_users,
			COUNT(DISTINCT CASE WHEN %[2]s <> %[1]s THEN e.user_ref END) AS returning_users
		FROM events e
		JOIN first_seen fs ON fs.user_ref = e.user_ref
		WHERE e.created_at BETWEEN %[3]s AND %[4]s
		GROUP BY 1
		ORDER BY 1 ASC`,
		eventBucket, firstSeenBucket, a.dialect.Placeholder(1), a.dialect.Placeholder(2))

	rows, err := a.db.QueryContext(ctx, query, f.StartDate, f.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily users: %w", err)
	}
	defer rows.Close()

	resp := &DailyUsersResponse{Grouping: grouping, Data: make([]DailyUsersRow, 0)}
	loc := f.location()
	for rows.Next() {
		var row DailyUsersRow
		if err := rows.Scan(&row.Date, &row.TotalUsers, &row.NewUsers, &row.ReturningUsers); err != nil {
			return nil, fmt.Errorf("failed to scan daily users row: %w", err)
		}
		row.Date = localizeBucket(row.Date, grouping, loc)
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily users rows: %w", err)
	}

	return resp, nil
}

// SearchCountRow is one bucket of the search-volume series.
type SearchCountRow struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// SearchesResponse is the GetTopSearches result.
type SearchesResponse struct {
	Grouping Grouping         `json:"grouping"`
	Data     []SearchCountRow `json:"data"`
}

// GetTopSearches returns per-bucket counts of search actions, ascending by
// bucket, limited to the top N (default 3).
func (a *Adapter) GetTopSearches(ctx context.Context, f *Filters) (*SearchesResponse, error) {
	if err := ensureFilters(f); err != nil {
		return nil, err
	}
	ctx, span := a.tracer.Start(ctx, "store.GetTopSearches")
	defer span.End()

	grouping := f.EffectiveGrouping()
	bucket := a.dialect.DateBucket("created_at", grouping, f.EndDate)

	query := fmt.Sprintf(`
		SELECT %s AS date, COUNT(*) AS count
		FROM events
		WHERE action = 'search' AND created_at BETWEEN %s AND %s
		GROUP BY 1
		ORDER BY 1 ASC
		LIMIT %d`,
		bucket, a.dialect.Placeholder(1), a.dialect.Placeholder(2), limitOrDefault(f.Limit))

	rows, err := a.db.QueryContext(ctx, query, f.StartDate, f.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query top searches: %w", err)
	}
	defer rows.Close()

	resp := &SearchesResponse{Grouping: grouping, Data: make([]SearchCountRow, 0)}
	loc := f.location()
	for rows.Next() {
		var row SearchCountRow
		if err := rows.Scan(&row.Date, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan search count row: %w", err)
		}
		row.Date = localizeBucket(row.Date, grouping, loc)
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search count rows: %w", err)
	}

	return resp, nil
}

// TrendPoint is one bucket of a per-plugin visit series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// PluginViewRow holds a plugin's total visits over the range, the
// per-bucket trend, and the relative change between the first and last
// bucket. TrendPercentage is nil when the first bucket count is zero.
type PluginViewRow struct {
	PluginID        string       `json:"plugin_id"`
	VisitCount      int64        `json:"visit_count"`
	Trend           []TrendPoint `json:"trend"`
	TrendPercentage *float64     `json:"trend_percentage"`
}

// PluginViewsResponse is the GetTopPluginViews result.
type PluginViewsResponse struct {
	Grouping Grouping        `json:"grouping"`
	Data     []PluginViewRow `json:"data"`
}

// GetTopPluginViews ranks plugins by visit count over the range and
// annotates each with its per-bucket trend series.
func (a *Adapter) GetTopPluginViews(ctx context.Context, f *Filters) (*PluginViewsResponse, error) {
	if err := ensureFilters(f); err != nil {
		return nil, err
	}
	ctx, span := a.tracer.Start(ctx, "store.GetTopPluginViews")
	defer span.End()

	grouping := f.EffectiveGrouping()

	totalsQuery := fmt.Sprintf(`
		SELECT plugin_id, COUNT(*) AS visit_count
		FROM events
		WHERE created_at BETWEEN %s AND %s
		GROUP BY plugin_id
		ORDER BY visit_count DESC
		LIMIT %d`,
		a.dialect.Placeholder(1), a.dialect.Placeholder(2), limitOrDefault(f.Limit))

	rows, err := a.db.QueryContext(ctx, totalsQuery, f.StartDate, f.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query top plugin views: %w", err)
	}
	defer rows.Close()

	resp := &PluginViewsResponse{Grouping: grouping, Data: make([]PluginViewRow, 0)}
	index := make(map[string]int)
	for rows.Next() {
		var row PluginViewRow
		if err := rows.Scan(&row.PluginID, &row.VisitCount); err != nil {
			return nil, fmt.Errorf("failed to scan plugin view row: %w", err)
		}
		row.Trend = make([]TrendPoint, 0)
		index[row.PluginID] = len(resp.Data)
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plugin view rows: %w", err)
	}

	if len(resp.Data) == 0 {
		return resp, nil
	}

	bucket := a.dialect.DateBucket("created_at", grouping, f.EndDate)
	placeholders := make([]string, 0, len(resp.Data))
	args := []interface{}{f.StartDate, f.EndDate}
	for i, row := range resp.Data {
		placeholders = append(placeholders, a.dialect.Placeholder(3+i))
		args = append(args, row.PluginID)
	}

	trendQuery := fmt.Sprintf(`
		SELECT plugin_id, %s AS date, COUNT(*) AS count
		FROM events
		WHERE created_at BETWEEN %s AND %s AND plugin_id IN (%s)
		GROUP BY plugin_id, 2
		ORDER BY plugin_id, 2 ASC`,
		bucket, a.dialect.Placeholder(1), a.dialect.Placeholder(2), strings.Join(placeholders, ", "))

	trendRows, err := a.db.QueryContext(ctx, trendQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin trend: %w", err)
	}
	defer trendRows.Close()

	loc := f.location()
	for trendRows.Next() {
		var pluginID string
		var point TrendPoint
		if err := trendRows.Scan(&pluginID, &point.Date, &point.Count); err != nil {
			return nil, fmt.Errorf("failed to scan plugin trend row: %w", err)
		}
		point.Date = localizeBucket(point.Date, grouping, loc)
		if i, ok := index[pluginID]; ok {
			resp.Data[i].Trend = append(resp.Data[i].Trend, point)
		}
	}
	if err := trendRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plugin trend rows: %w", err)
	}

	for i := range resp.Data {
		resp.Data[i].TrendPercentage = trendPercentage(resp.Data[i].Trend)
	}

	return resp, nil
}

// trendPercentage computes the relative change between the first and last
// bucket counts, rounded to two decimals. A zero first bucket yields nil.
func trendPercentage(trend []TrendPoint) *float64 {
	if len(trend) == 0 {
		return nil
	}
	first := trend[0].Count
	last := trend[len(trend)-1].Count
	if first == 0 {
		return nil
	}
	pct := math.Round(float64(last-first)/float64(first)*100*100) / 100
	return &pct
}

// EntityViewRow is one entity's visit count with its last-used timestamp.
// Kind, namespace, and name are derived from the entity ref
// ("kind:namespace/name").
type EntityViewRow struct {
	EntityRef string `json:"entityref"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Count     int64  `json:"count"`
	LastUsed  string `json:"last_used"`
}

// EntityViewsResponse is the result of the template/techdocs/catalog view
// queries.
type EntityViewsResponse struct {
	Data []EntityViewRow `json:"data"`
}

// GetTopTemplateViews returns template entity visits, ordered by count
// descending.
func (a *Adapter) GetTopTemplateViews(ctx context.Context, f *Filters) (*EntityViewsResponse, error) {
	return a.entityViews(ctx, f, "store.GetTopTemplateViews", "scaffolder", "click", true, "")
}

// GetTopTechDocsViews returns techdocs entity visits. The result carries
// no ordering guarantee.
func (a *Adapter) GetTopTechDocsViews(ctx context.Context, f *Filters) (*EntityViewsResponse, error) {
	return a.entityViews(ctx, f, "store.GetTopTechDocsViews", "techdocs", "navigate", false, "")
}

// GetTopCatalogEntitiesViews returns catalog entity visits, ordered by
// count descending, optionally narrowed to one entity kind.
func (a *Adapter) GetTopCatalogEntitiesViews(ctx context.Context, f *Filters) (*EntityViewsResponse, error) {
	kind := ""
	if f != nil {
		kind = f.Kind
	}
	return a.entityViews(ctx, f, "store.GetTopCatalogEntitiesViews", "catalog", "navigate", true, kind)
}

func (a *Adapter) entityViews(ctx context.Context, f *Filters, span string, pluginID, action string, ordered bool, kind string) (*EntityViewsResponse, error) {
	if err := ensureFilters(f); err != nil {
		return nil, err
	}
	ctx, sp := a.tracer.Start(ctx, span)
	defer sp.End()

	entityRef := a.dialect.JSONField("attributes", "entityRef")

	query := fmt.Sprintf(`
		SELECT %s AS entity_ref, COUNT(*) AS count, MAX(created_at) AS last_used
		FROM events
		WHERE plugin_id = %s AND action = %s AND created_at BETWEEN %s AND %s`,
		entityRef,
		a.dialect.Placeholder(1), a.dialect.Placeholder(2),
		a.dialect.Placeholder(3), a.dialect.Placeholder(4))
	args := []interface{}{pluginID, action, f.StartDate, f.EndDate}

	if kind != "" {
		query += fmt.Sprintf(" AND LOWER(%s) = LOWER(%s)",
			a.dialect.JSONField("attributes", "kind"), a.dialect.Placeholder(5))
		args = append(args, kind)
	}

	query += "\n\t\tGROUP BY 1"
	if ordered {
		query += "\n\t\tORDER BY count DESC"
	}
	query += fmt.Sprintf("\n\t\tLIMIT %d", limitOrDefault(f.Limit))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity views: %w", err)
	}
	defer rows.Close()

	resp := &EntityViewsResponse{Data: make([]EntityViewRow, 0)}
	for rows.Next() {
		var ref sql.NullString
		var count int64
		var lastUsed sql.NullTime
		if err := rows.Scan(&ref, &count, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan entity view row: %w", err)
		}

		row := EntityViewRow{EntityRef: ref.String, Count: count}
		row.Kind, row.Namespace, row.Name = parseEntityRef(ref.String)
		if lastUsed.Valid {
			row.LastUsed = lastUsed.Time.UTC().Format(time.RFC3339)
		}
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity view rows: %w", err)
	}

	return resp, nil
}

// parseEntityRef splits "kind:namespace/name" into its parts. Namespace
// defaults to "default" when the ref omits it.
func parseEntityRef(ref string) (kind, namespace, name string) {
	if ref == "" {
		return "", "", ""
	}
	rest := ref
	if i := strings.Index(rest, ":"); i >= 0 {
		kind = rest[:i]
		rest = rest[i+1:]
	}
	namespace = "default"
	if i := strings.Index(rest, "/"); i >= 0 {
		namespace = rest[:i]
		name = rest[i+1:]
	} else {
		name = rest
	}
	return kind, namespace, name
}

// localizeBucket converts hourly bucket labels (stored as UTC wall time)
// into the request timezone. Coarser granularities pass through unmodified
// so day-level dates keep their stored value without timezone skew.
func localizeBucket(raw string, g Grouping, loc *time.Location) string {
	if g != GroupingHourly || loc == time.UTC {
		return raw
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC)
	if err != nil {
		return raw
	}
	return ts.In(loc).Format("2006-01-02 15:04:05")
}

// InsertEvents bulk-inserts a batch of canonical events in one
// transaction. Failures roll back and propagate so the batch processor can
// drive retries.
func (a *Adapter) InsertEvents(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "store.InsertEvents")
	defer span.End()

	groups := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)
	for i, e := range events {
		rec := e.CanonicalRecord()

		contextArg, err := payloadArg(rec.Context)
		if err != nil {
			return fmt.Errorf("failed to encode event context: %w", err)
		}
		attributesArg, err := payloadArg(rec.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode event attributes: %w", err)
		}

		base := i * 8
		phs := make([]string, 8)
		for j := range phs {
			phs[j] = a.dialect.Placeholder(base + j + 1)
		}
		groups = append(groups, "("+strings.Join(phs, ", ")+")")
		args = append(args,
			rec.UserRef, rec.PluginID, rec.Action, contextArg,
			rec.Subject, attributesArg, rec.Value, rec.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO events (
			user_ref, plugin_id, action, context,
			subject, attributes, value, created_at
		) VALUES %s`, strings.Join(groups, ", "))

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert %d events: %w", len(events), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event insert: %w", err)
	}

	return nil
}

// payloadArg renders a context/attributes payload as a bind argument. Maps
// are marshalled; strings pass through already serialized.
func payloadArg(payload interface{}) (interface{}, error) {
	switch p := payload.(type) {
	case nil:
		return "{}", nil
	case string:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

// InsertFailedEvent writes an exhausted event to the dead-letter table.
// The insert is best-effort; failures are logged and returned for the
// caller to swallow.
func (a *Adapter) InsertFailedEvent(ctx context.Context, serializedEvent, errorMessage string, retryAttempts int) error {
	query := fmt.Sprintf(`
		INSERT INTO failed_events (event_data, error_message, retry_attempts, created_at)
		VALUES (%s, %s, %s, %s)`,
		a.dialect.Placeholder(1), a.dialect.Placeholder(2),
		a.dialect.Placeholder(3), a.dialect.Placeholder(4))

	if _, err := a.db.ExecContext(ctx, query, serializedEvent, errorMessage, retryAttempts, time.Now().UTC()); err != nil {
		a.log.WithError(err).Error("failed to store dead-letter event")
		return fmt.Errorf("failed to insert failed event: %w", err)
	}
	return nil
}
