package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, time.Minute, testLogger()), mr
}

type payload struct {
	Score float64 `json:"score"`
	Note  string  `json:"note"`
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	c.Set(ctx, "compliance:abc", payload{Score: 0.7, Note: "partial"}, time.Minute)

	var got payload
	if !c.Get(ctx, "compliance:abc", &got) {
		t.Fatal("expected a hit")
	}
	if got.Score != 0.7 || got.Note != "partial" {
		t.Fatalf("got %+v", got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := testCache(t)
	var got payload
	if c.Get(context.Background(), "compliance:missing", &got) {
		t.Fatal("miss reported as hit")
	}
}

func TestGetUndecodableValueIsAMiss(t *testing.T) {
	c, mr := testCache(t)
	mr.Set("compliance:stale", "{not json")

	var got payload
	if c.Get(context.Background(), "compliance:stale", &got) {
		t.Fatal("undecodable value reported as hit")
	}
}

func TestSetAppliesTTL(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", payload{}, 30*time.Second)
	if ttl := mr.TTL("k"); ttl != 30*time.Second {
		t.Fatalf("ttl = %v, want 30s", ttl)
	}

	// Non-positive TTL falls back to the cache default.
	c.Set(ctx, "k2", payload{}, 0)
	if ttl := mr.TTL("k2"); ttl != time.Minute {
		t.Fatalf("default ttl = %v, want 1m", ttl)
	}
}

func TestInvalidateByPrefix(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.Set(ctx, "compliance:a", payload{}, time.Minute)
	c.Set(ctx, "compliance:b", payload{}, time.Minute)
	c.Set(ctx, "session:1:budget", payload{}, time.Minute)

	c.Invalidate(ctx, "compliance:")

	var got payload
	if c.Get(ctx, "compliance:a", &got) || c.Get(ctx, "compliance:b", &got) {
		t.Fatal("invalidate left compliance keys behind")
	}
	if !mr.Exists("session:1:budget") {
		t.Fatal("invalidate crossed the prefix boundary")
	}
}

func TestIncrSetsTTLOnFirstUseOnly(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	n, ok := c.Incr(ctx, "ctr", time.Hour)
	if !ok || n != 1 {
		t.Fatalf("first incr = %d/%v", n, ok)
	}
	if ttl := mr.TTL("ctr"); ttl != time.Hour {
		t.Fatalf("ttl after first incr = %v, want 1h", ttl)
	}

	mr.FastForward(30 * time.Minute)
	if n, _ := c.Incr(ctx, "ctr", time.Hour); n != 2 {
		t.Fatalf("second incr = %d, want 2", n)
	}
	// The second increment must not reset the clock.
	if ttl := mr.TTL("ctr"); ttl != 30*time.Minute {
		t.Fatalf("ttl after second incr = %v, want 30m", ttl)
	}
}

func TestDecrUndoesIncr(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.Incr(ctx, "ctr", time.Hour)
	c.Incr(ctx, "ctr", time.Hour)
	c.Decr(ctx, "ctr")

	if v, _ := mr.Get("ctr"); v != "1" {
		t.Fatalf("counter = %s, want 1", v)
	}
}

func TestBackendDownDegradesToMiss(t *testing.T) {
	c, mr := testCache(t)
	mr.Close()
	ctx := context.Background()

	var got payload
	if c.Get(ctx, "k", &got) {
		t.Fatal("dead backend reported a hit")
	}
	c.Set(ctx, "k", payload{}, time.Minute) // must not panic
	if _, ok := c.Incr(ctx, "ctr", time.Minute); ok {
		t.Fatal("incr against dead backend reported ok")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	var got payload
	if c.Get(ctx, "k", &got) {
		t.Fatal("nil cache reported a hit")
	}
	c.Set(ctx, "k", payload{}, time.Minute)
	c.Invalidate(ctx, "compliance:")
	if _, ok := c.Incr(ctx, "ctr", time.Minute); ok {
		t.Fatal("nil cache incr reported ok")
	}
}

func TestKeyInvariantUnderReordering(t *testing.T) {
	a := Key(KeyParams{
		CostRegion:    "us-east-1",
		ResourceTypes: []string{"ec2:instance", "s3:bucket"},
		Filters:       map[string]string{"Environment": "prod", "Owner": "core"},
		Severity:      "all",
		Regions:       []string{"us-east-1", "eu-west-1"},
		PolicyVersion: "v1",
	})
	b := Key(KeyParams{
		CostRegion:    "us-east-1",
		ResourceTypes: []string{"s3:bucket", "ec2:instance"},
		Filters:       map[string]string{"Owner": "core", "Environment": "prod"},
		Severity:      "all",
		Regions:       []string{"eu-west-1", "us-east-1"},
		PolicyVersion: "v1",
	})
	if a != b {
		t.Fatalf("key not order-invariant: %s vs %s", a, b)
	}
}

func TestKeyChangesWithParameters(t *testing.T) {
	base := KeyParams{
		CostRegion:    "us-east-1",
		ResourceTypes: []string{"ec2:instance"},
		Severity:      "all",
		PolicyVersion: "v1",
	}
	baseKey := Key(base)

	variants := []KeyParams{
		{CostRegion: "eu-west-1", ResourceTypes: base.ResourceTypes, Severity: "all", PolicyVersion: "v1"},
		{CostRegion: "us-east-1", ResourceTypes: []string{"rds:db"}, Severity: "all", PolicyVersion: "v1"},
		{CostRegion: "us-east-1", ResourceTypes: base.ResourceTypes, Severity: "errors_only", PolicyVersion: "v1"},
		{CostRegion: "us-east-1", ResourceTypes: base.ResourceTypes, Severity: "all", PolicyVersion: "v2"},
	}
	for i, v := range variants {
		if Key(v) == baseKey {
			t.Errorf("variant %d produced the same key", i)
		}
	}
}
