// Package guard enforces per-session guardrails for the tool dispatcher:
// call budgets, loop detection, input sanitisation, injection scanning, and
// error redaction. Session state lives in the shared cache under TTL so a
// restarted process keeps enforcing limits.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tagwarden/tagwarden/pkg/cache"
)

const (
	// DefaultBudget is the per-session call cap.
	DefaultBudget = 100
	// DefaultLoopWindow is how many identical calls are tolerated before the
	// next one is rejected.
	DefaultLoopWindow = 3
	// sessionTTL bounds how long session counters survive idle sessions.
	sessionTTL = time.Hour
	// loopTTL is the sliding window for identical-call detection.
	loopTTL = 2 * time.Minute
)

// Options tune the guard. Both trackers default to disabled so upgrades
// never start rejecting traffic on their own.
type Options struct {
	BudgetEnabled bool
	Budget        int
	BudgetTTL     time.Duration
	LoopEnabled   bool
	LoopWindow    int
	LoopTTL       time.Duration
	Logger        *slog.Logger
}

// Guard tracks per-session budgets and repeated identical calls.
type Guard struct {
	cache         *cache.Cache
	budgetEnabled bool
	budget        int64
	budgetTTL     time.Duration
	loopEnabled   bool
	loopWindow    int64
	loopTTL       time.Duration
	logger        *slog.Logger
}

// New builds a guard over the shared cache. A nil cache fails open: every
// check passes, which keeps the read-only tools usable when the cache
// backend is down.
func New(c *cache.Cache, opts Options) *Guard {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.LoopWindow <= 0 {
		opts.LoopWindow = DefaultLoopWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BudgetTTL <= 0 {
		opts.BudgetTTL = sessionTTL
	}
	if opts.LoopTTL <= 0 {
		opts.LoopTTL = loopTTL
	}
	return &Guard{
		cache:         c,
		budgetEnabled: opts.BudgetEnabled,
		budget:        int64(opts.Budget),
		budgetTTL:     opts.BudgetTTL,
		loopEnabled:   opts.LoopEnabled,
		loopWindow:    int64(opts.LoopWindow),
		loopTTL:       opts.LoopTTL,
		logger:        opts.Logger,
	}
}

// Budget returns the configured per-session cap.
func (g *Guard) Budget() int64 { return g.budget }

// CheckBudget consumes one call from the session budget. When the budget is
// already exhausted the call is rejected and the counter is rolled back, so
// rejected calls never consume budget. Backend failure fails open.
func (g *Guard) CheckBudget(ctx context.Context, sessionID string) bool {
	if !g.budgetEnabled {
		return true
	}
	key := "session:" + sessionID + ":budget"
	n, ok := g.cache.Incr(ctx, key, g.budgetTTL)
	if !ok {
		return true
	}
	if n > g.budget {
		g.cache.Decr(ctx, key)
		g.logger.Warn("session budget exhausted", "session_id", sessionID, "budget", g.budget)
		return false
	}
	return true
}

// Remaining reports how much budget the session has left.
func (g *Guard) Remaining(ctx context.Context, sessionID string) int64 {
	var n int64
	if !g.cache.Get(ctx, "session:"+sessionID+":budget", &n) {
		return g.budget
	}
	if n >= g.budget {
		return 0
	}
	return g.budget - n
}

// CheckLoop counts identical calls within the sliding window. The call after
// the window's worth of identical calls is rejected. Backend failure fails
// open.
func (g *Guard) CheckLoop(ctx context.Context, sessionID, toolName string, args any) bool {
	if !g.loopEnabled {
		return true
	}
	key := fmt.Sprintf("session:%s:loop:%s:%s", sessionID, toolName, ArgsHash(args))
	n, ok := g.cache.Incr(ctx, key, g.loopTTL)
	if !ok {
		return true
	}
	if n > g.loopWindow {
		g.logger.Warn("identical call loop detected",
			"session_id", sessionID, "tool", toolName, "count", n)
		return false
	}
	return true
}

// ArgsHash produces a stable digest of a tool argument object. Map keys are
// sorted by the JSON encoder, so logically equal arguments hash equally.
func ArgsHash(args any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
