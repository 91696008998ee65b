// Package app assembles the service container from configuration. All wiring
// happens here, once, at startup; nothing below this layer reaches for
// globals.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tagwarden/tagwarden/pkg/audit"
	"github.com/tagwarden/tagwarden/pkg/cache"
	"github.com/tagwarden/tagwarden/pkg/catalog"
	"github.com/tagwarden/tagwarden/pkg/cloud"
	"github.com/tagwarden/tagwarden/pkg/compliance"
	"github.com/tagwarden/tagwarden/pkg/config"
	"github.com/tagwarden/tagwarden/pkg/cost"
	"github.com/tagwarden/tagwarden/pkg/guard"
	"github.com/tagwarden/tagwarden/pkg/history"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/scanner"
	"github.com/tagwarden/tagwarden/pkg/suggest"
	"github.com/tagwarden/tagwarden/pkg/tools"
)

// App is the assembled process: the dispatcher plus everything that needs a
// shutdown call.
type App struct {
	Dispatcher *tools.Dispatcher
	Logger     *slog.Logger

	auditStore   *audit.Store
	historyStore *history.Store
}

// Close releases the persistent stores.
func (a *App) Close() {
	if a.auditStore != nil {
		a.auditStore.Close()
	}
	if a.historyStore != nil {
		a.historyStore.Close()
	}
}

// Bootstrap builds the full service container. A malformed policy is fatal;
// an unreachable cache is not, the guardrails and result cache just degrade.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	policies, err := policy.NewStore(cfg.PolicyPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load tag policy: %w", err)
	}

	cat := catalog.Default()
	if cfg.ResourceTypesConfigPath != "" {
		cat, err = catalog.Load(cfg.ResourceTypesConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load resource-type catalog: %w", err)
		}
	}

	resultCache, err := cache.Connect(cfg.CacheURL, cfg.CachePassword, cfg.CacheTTL(), logger)
	if err != nil {
		logger.Warn("cache backend unavailable, running without result cache", "error", err)
		resultCache = nil
	}

	factory := cloud.NewFactory(cfg.CostRegion, cfg.Profile, cfg.CallInterval(), logger)
	discoverer := cloud.NewRegionDiscoverer(
		factory, resultCache, cfg.DefaultRegion, cfg.RegionCacheTTL(), guard.RedactError, logger)

	complianceSvc := compliance.NewService(logger)
	scan := scanner.New(
		scanner.FactorySource(factory),
		discoverer,
		complianceSvc,
		cat,
		scanner.Config{
			MaxConcurrentRegions: cfg.MaxConcurrentRegions,
			RegionTimeout:        cfg.RegionTimeout(),
			AllowedRegions:       cfg.AllowedRegions,
		},
		logger,
	)

	var costSvc *cost.Service
	if cfg.CostAnalysisEnabled {
		costClient, err := factory.ForRegion(ctx, cfg.CostRegion)
		if err != nil {
			return nil, fmt.Errorf("init cost-region client: %w", err)
		}
		costSvc = cost.New(costClient, cat, cost.Options{Logger: logger})
	}

	suggestSvc := suggest.New(func(ctx context.Context, region string) (suggest.CloudAPI, error) {
		return factory.ForRegion(ctx, region)
	}, cfg.DefaultRegion, logger)

	guardrails := guard.New(resultCache, guard.Options{
		BudgetEnabled: cfg.BudgetTrackingEnabled,
		Budget:        cfg.MaxToolCallsPerSession,
		BudgetTTL:     cfg.SessionBudgetTTL(),
		LoopEnabled:   cfg.LoopDetectionEnabled,
		LoopWindow:    cfg.MaxIdenticalCalls,
		LoopTTL:       cfg.LoopWindow(),
		Logger:        logger,
	})

	auditStore, err := audit.Open(cfg.AuditStorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	historyStore, err := history.Open(cfg.HistoryStorePath, logger)
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}

	accountID := ""
	if client, err := factory.ForRegion(ctx, cfg.DefaultRegion); err == nil {
		if id, err := client.AccountID(ctx); err == nil {
			accountID = id
		} else {
			logger.Warn("account id lookup failed", "error", err)
		}
	} else {
		logger.Warn("default-region client init failed", "error", err)
	}

	dispatcher, err := tools.NewDispatcher(tools.Services{
		Scanner:       scan,
		Policies:      policies,
		Compliance:    complianceSvc,
		Cost:          costSvc,
		Suggest:       suggestSvc,
		Cache:         resultCache,
		Guard:         guardrails,
		Audit:         auditStore,
		History:       historyStore,
		Catalog:       cat,
		Clients:       scanner.FactorySource(factory),
		CostRegion:    cfg.CostRegion,
		DefaultRegion: cfg.DefaultRegion,
		AccountID:     accountID,
		ComplianceTTL: cfg.ComplianceTTL(),
		Logger:        logger,
	}, cfg.ToolTimeout())
	if err != nil {
		auditStore.Close()
		historyStore.Close()
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	return &App{
		Dispatcher:   dispatcher,
		Logger:       logger,
		auditStore:   auditStore,
		historyStore: historyStore,
	}, nil
}
