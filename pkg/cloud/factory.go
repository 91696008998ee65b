package cloud

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory hands out one memoised client per region so repeated scans reuse
// SDK handles and their connection pools. Reads dominate heavily, hence the
// RWMutex.
type Factory struct {
	costRegion   string
	profile      string
	callInterval time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	// newClient is swapped by tests to avoid real credential resolution.
	newClient func(ctx context.Context, opts Options) (*Client, error)
}

// NewFactory builds a regional client factory. costRegion pins every
// client's cost-explorer handle.
func NewFactory(costRegion, profile string, callInterval time.Duration, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		costRegion:   costRegion,
		profile:      profile,
		callInterval: callInterval,
		logger:       logger,
		clients:      make(map[string]*Client),
		newClient:    NewClient,
	}
}

// ForRegion returns the memoised client for a region, creating it on first
// use.
func (f *Factory) ForRegion(ctx context.Context, region string) (*Client, error) {
	f.mu.RLock()
	c, ok := f.clients[region]
	f.mu.RUnlock()
	if ok {
		return c, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[region]; ok {
		return c, nil
	}

	c, err := f.newClient(ctx, Options{
		Region:       region,
		CostRegion:   f.costRegion,
		Profile:      f.profile,
		CallInterval: f.callInterval,
		Logger:       f.logger,
	})
	if err != nil {
		return nil, err
	}
	f.clients[region] = c
	f.logger.Debug("regional client initialised", "region", region)
	return c, nil
}

// CostRegion returns the pinned cost-explorer region.
func (f *Factory) CostRegion() string { return f.costRegion }
