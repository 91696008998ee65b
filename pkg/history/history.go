// Package history stores compliance snapshots and aggregates them into
// day/week/month buckets with a trend.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS compliance_snapshots (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            TEXT    NOT NULL,
	compliance_score     REAL    NOT NULL,
	total_resources      INTEGER NOT NULL,
	compliant_resources  INTEGER NOT NULL,
	violation_count      INTEGER NOT NULL,
	cost_attribution_gap REAL    NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON compliance_snapshots(timestamp);
`

// Snapshot is one point-in-time compliance record.
type Snapshot struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Score              float64   `json:"compliance_score"`
	TotalResources     int       `json:"total_resources"`
	CompliantResources int       `json:"compliant_resources"`
	ViolationCount     int       `json:"violation_count"`
	CostAttributionGap float64   `json:"cost_attribution_gap"`
}

// GroupBy selects the bucket width for history aggregation.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// Trend of compliance over a window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// trendEpsilon is the score movement below which the trend reads stable.
const trendEpsilon = 0.01

// Bucket aggregates the snapshots of one period.
type Bucket struct {
	Period         string  `json:"period"`
	Snapshots      int     `json:"snapshots"`
	AvgScore       float64 `json:"avg_score"`
	MinScore       float64 `json:"min_score"`
	MaxScore       float64 `json:"max_score"`
	AvgViolations  float64 `json:"avg_violations"`
	LatestScore    float64 `json:"latest_score"`
	LatestGapSpend float64 `json:"latest_cost_attribution_gap"`
}

// Summary is the aggregated history over a window.
type Summary struct {
	DaysBack  int      `json:"days_back"`
	GroupBy   GroupBy  `json:"group_by"`
	Buckets   []Bucket `json:"buckets"`
	Trend     Trend    `json:"trend"`
	Earliest  float64  `json:"earliest_score"`
	Latest    float64  `json:"latest_score"`
	Snapshots int      `json:"total_snapshots"`
}

// Store is the sqlite-backed snapshot store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates or opens the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append records one snapshot and returns its id.
func (s *Store) Append(ctx context.Context, snap Snapshot) (int64, error) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_snapshots (timestamp, compliance_score, total_resources, compliant_resources, violation_count, cost_attribution_gap)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Timestamp.UTC().Format(time.RFC3339Nano),
		snap.Score, snap.TotalResources, snap.CompliantResources,
		snap.ViolationCount, snap.CostAttributionGap,
	)
	if err != nil {
		return 0, fmt.Errorf("history append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history append id: %w", err)
	}
	return id, nil
}

// History aggregates the snapshots of the trailing window into buckets. The
// trend compares the latest snapshot against the earliest inside the window.
func (s *Store) History(ctx context.Context, daysBack int, groupBy GroupBy) (*Summary, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	switch groupBy {
	case GroupByDay, GroupByWeek, GroupByMonth:
	case "":
		groupBy = GroupByDay
	default:
		return nil, fmt.Errorf("unknown group_by %q", groupBy)
	}

	since := s.now().UTC().AddDate(0, 0, -daysBack)
	snaps, err := s.snapshotsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		DaysBack:  daysBack,
		GroupBy:   groupBy,
		Snapshots: len(snaps),
		Trend:     TrendStable,
	}
	if len(snaps) == 0 {
		return summary, nil
	}

	// snaps come back oldest-first.
	summary.Earliest = snaps[0].Score
	summary.Latest = snaps[len(snaps)-1].Score
	switch {
	case summary.Latest > summary.Earliest+trendEpsilon:
		summary.Trend = TrendImproving
	case summary.Latest < summary.Earliest-trendEpsilon:
		summary.Trend = TrendDeclining
	}

	summary.Buckets = bucketize(snaps, groupBy)
	return summary, nil
}

func (s *Store) snapshotsSince(ctx context.Context, since time.Time) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, compliance_score, total_resources, compliant_resources, violation_count, cost_attribution_gap
		 FROM compliance_snapshots WHERE timestamp >= ? ORDER BY id ASC`,
		since.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var ts string
		if err := rows.Scan(&snap.ID, &ts, &snap.Score, &snap.TotalResources, &snap.CompliantResources, &snap.ViolationCount, &snap.CostAttributionGap); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// bucketize folds oldest-first snapshots into ordered period buckets.
func bucketize(snaps []Snapshot, groupBy GroupBy) []Bucket {
	var order []string
	acc := map[string]*Bucket{}

	for _, snap := range snaps {
		period := periodKey(snap.Timestamp, groupBy)
		b, ok := acc[period]
		if !ok {
			b = &Bucket{Period: period, MinScore: snap.Score, MaxScore: snap.Score}
			acc[period] = b
			order = append(order, period)
		}
		b.Snapshots++
		b.AvgScore += snap.Score
		b.AvgViolations += float64(snap.ViolationCount)
		if snap.Score < b.MinScore {
			b.MinScore = snap.Score
		}
		if snap.Score > b.MaxScore {
			b.MaxScore = snap.Score
		}
		b.LatestScore = snap.Score
		b.LatestGapSpend = snap.CostAttributionGap
	}

	out := make([]Bucket, 0, len(order))
	for _, period := range order {
		b := acc[period]
		b.AvgScore /= float64(b.Snapshots)
		b.AvgViolations /= float64(b.Snapshots)
		out = append(out, *b)
	}
	return out
}

func periodKey(ts time.Time, groupBy GroupBy) string {
	ts = ts.UTC()
	switch groupBy {
	case GroupByWeek:
		year, week := ts.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GroupByMonth:
		return ts.Format("2006-01")
	default:
		return ts.Format("2006-01-02")
	}
}
