package history

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fixNow(s *Store, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestAppendReturnsIncreasingIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := s.Append(ctx, Snapshot{Score: 0.8, TotalResources: 10, CompliantResources: 8})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
}

func TestHistoryTrendImproving(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fixNow(s, now)

	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -10), Score: 0.60, ViolationCount: 40})
	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -5), Score: 0.75, ViolationCount: 25})
	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -1), Score: 0.90, ViolationCount: 10})

	sum, err := s.History(ctx, 30, GroupByDay)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Trend != TrendImproving {
		t.Fatalf("trend = %s, want improving", sum.Trend)
	}
	if sum.Earliest != 0.60 || sum.Latest != 0.90 {
		t.Fatalf("earliest/latest = %v/%v", sum.Earliest, sum.Latest)
	}
	if len(sum.Buckets) != 3 {
		t.Fatalf("buckets = %d, want 3", len(sum.Buckets))
	}
	// Buckets come out oldest-first.
	if sum.Buckets[0].Period != "2026-08-10" || sum.Buckets[2].Period != "2026-08-19" {
		t.Fatalf("bucket order = %v, %v", sum.Buckets[0].Period, sum.Buckets[2].Period)
	}
}

func TestHistoryTrendStableWithinEpsilon(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fixNow(s, now)

	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -3), Score: 0.800})
	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -1), Score: 0.805})

	sum, err := s.History(ctx, 30, GroupByDay)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Trend != TrendStable {
		t.Fatalf("trend = %s, want stable for a 0.005 move", sum.Trend)
	}
}

func TestHistoryTrendDeclining(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fixNow(s, now)

	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -3), Score: 0.9})
	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -1), Score: 0.7})

	sum, err := s.History(ctx, 30, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Trend != TrendDeclining {
		t.Fatalf("trend = %s, want declining", sum.Trend)
	}
	if sum.GroupBy != GroupByDay {
		t.Fatalf("empty group_by defaulted to %s", sum.GroupBy)
	}
}

func TestHistoryWindowExcludesOldSnapshots(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fixNow(s, now)

	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -60), Score: 0.1})
	s.Append(ctx, Snapshot{Timestamp: now.AddDate(0, 0, -2), Score: 0.9})

	sum, err := s.History(ctx, 30, GroupByDay)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Snapshots != 1 {
		t.Fatalf("window kept %d snapshots, want 1", sum.Snapshots)
	}
	if sum.Earliest != 0.9 {
		t.Fatalf("earliest = %v, old snapshot leaked in", sum.Earliest)
	}
}

func TestHistoryEmptyWindow(t *testing.T) {
	s := testStore(t)
	sum, err := s.History(context.Background(), 30, GroupByDay)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Trend != TrendStable || sum.Snapshots != 0 || len(sum.Buckets) != 0 {
		t.Fatalf("empty summary = %+v", sum)
	}
}

func TestHistoryUnknownGroupBy(t *testing.T) {
	s := testStore(t)
	if _, err := s.History(context.Background(), 30, "fortnight"); err == nil {
		t.Fatal("unknown group_by accepted")
	}
}

func TestBucketAggregates(t *testing.T) {
	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		{Timestamp: day.Add(2 * time.Hour), Score: 0.6, ViolationCount: 30, CostAttributionGap: 500},
		{Timestamp: day.Add(10 * time.Hour), Score: 0.8, ViolationCount: 10, CostAttributionGap: 300},
	}

	buckets := bucketize(snaps, GroupByDay)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}
	b := buckets[0]
	if b.Snapshots != 2 || b.AvgScore != 0.7 || b.MinScore != 0.6 || b.MaxScore != 0.8 {
		t.Fatalf("bucket = %+v", b)
	}
	if b.LatestScore != 0.8 || b.LatestGapSpend != 300 {
		t.Fatalf("latest fields = %v/%v", b.LatestScore, b.LatestGapSpend)
	}
	if b.AvgViolations != 20 {
		t.Fatalf("avg violations = %v, want 20", b.AvgViolations)
	}
}

func TestPeriodKeys(t *testing.T) {
	ts := time.Date(2026, 1, 4, 8, 0, 0, 0, time.UTC) // ISO week 1 of 2026

	if k := periodKey(ts, GroupByDay); k != "2026-01-04" {
		t.Errorf("day key = %s", k)
	}
	if k := periodKey(ts, GroupByWeek); k != "2026-W01" {
		t.Errorf("week key = %s", k)
	}
	if k := periodKey(ts, GroupByMonth); k != "2026-01" {
		t.Errorf("month key = %s", k)
	}
}
