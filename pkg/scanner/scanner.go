// Package scanner fans compliance scans out across regions with a bounded
// worker pool. It is the only component in the process that spawns
// parallelism; workers share no mutable state and report back on a result
// channel.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagwarden/tagwarden/pkg/catalog"
	"github.com/tagwarden/tagwarden/pkg/cloud"
	"github.com/tagwarden/tagwarden/pkg/compliance"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/resource"
)

const (
	// DefaultMaxConcurrentRegions bounds the worker pool.
	DefaultMaxConcurrentRegions = 5
	// MaxConcurrentRegionsCeiling is the hard upper bound for the setting.
	MaxConcurrentRegionsCeiling = 20
	// DefaultRegionTimeout is the per-region scan deadline.
	DefaultRegionTimeout = 60 * time.Second
)

// RegionLister is the slice of the cloud client the scanner needs.
type RegionLister interface {
	ListResources(ctx context.Context, types []string) ([]resource.Resource, error)
}

// ClientSource produces a region-bound lister. *cloud.Factory satisfies this
// through a thin adapter; tests substitute fakes.
type ClientSource func(ctx context.Context, region string) (RegionLister, error)

// Discoverer enumerates enabled regions.
type Discoverer interface {
	DiscoverEnabledRegions(ctx context.Context) cloud.RegionDiscovery
}

// Config tunes the fan-out.
type Config struct {
	MaxConcurrentRegions int
	RegionTimeout        time.Duration
	AllowedRegions       []string // operator allow-list; empty means all enabled
}

// Scanner coordinates multi-region compliance scans.
type Scanner struct {
	clients    ClientSource
	discoverer Discoverer
	compliance *compliance.Service
	catalog    *catalog.Catalog
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New builds a scanner, clamping config to the documented ranges.
func New(clients ClientSource, discoverer Discoverer, svc *compliance.Service, cat *catalog.Catalog, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.MaxConcurrentRegions < 1 {
		cfg.MaxConcurrentRegions = DefaultMaxConcurrentRegions
	}
	if cfg.MaxConcurrentRegions > MaxConcurrentRegionsCeiling {
		cfg.MaxConcurrentRegions = MaxConcurrentRegionsCeiling
	}
	if cfg.RegionTimeout <= 0 {
		cfg.RegionTimeout = DefaultRegionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		clients:    clients,
		discoverer: discoverer,
		compliance: svc,
		catalog:    cat,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("tagwarden/scanner"),
	}
}

// FactorySource adapts a cloud.Factory to a ClientSource.
func FactorySource(f *cloud.Factory) ClientSource {
	return func(ctx context.Context, region string) (RegionLister, error) {
		return f.ForRegion(ctx, region)
	}
}

// Request describes one multi-region scan.
type Request struct {
	ResourceTypes []string
	Regions       []string          // per-query region filter
	Filters       map[string]string // tag filters, all must match
	Severity      compliance.SeverityFilter
}

// Outcome carries the aggregate plus the raw resources for downstream cost
// and untagged-resource tooling.
type Outcome struct {
	Result    *compliance.MultiRegionResult
	Resources []resource.Resource
}

// globalUnit is the synthetic work item for account-level resources.
const globalUnit = resource.GlobalRegion

type regionReport struct {
	region    string
	result    *compliance.Result
	resources []resource.Resource
	err       error
}

// Scan fans out one compliance check per selected region plus a global unit,
// bounded by MaxConcurrentRegions, and aggregates as workers finish. A
// region that fails or times out lands in failed_regions; the aggregate is
// always returned. If every region fails the aggregate is empty with score
// 1.0, not an error.
func (s *Scanner) Scan(ctx context.Context, pol *policy.TagPolicy, req Request) *Outcome {
	ctx, span := s.tracer.Start(ctx, "Scanner.Scan")
	defer span.End()

	discovery := s.discoverer.DiscoverEnabledRegions(ctx)
	selected, skipped := cloud.FilterRegions(discovery.Regions, s.cfg.AllowedRegions, req.Regions)

	regionalTypes, globalTypes := s.splitTypes(req.ResourceTypes)

	units := make([]string, 0, len(selected)+1)
	units = append(units, selected...)
	// Global resources ignore every region filter.
	if len(globalTypes) > 0 {
		units = append(units, globalUnit)
	}

	span.SetAttributes(
		attribute.Int("scan.regions", len(selected)),
		attribute.Int("scan.workers", s.cfg.MaxConcurrentRegions),
		attribute.Bool("scan.discovery_failed", discovery.DiscoveryFailed),
	)

	work := make(chan string)
	reports := make(chan regionReport)

	workers := s.cfg.MaxConcurrentRegions
	if workers > len(units) && len(units) > 0 {
		workers = len(units)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for unit := range work {
				reports <- s.scanUnit(ctx, pol, req, unit, regionalTypes, globalTypes)
			}
		}()
	}

	go func() {
		defer close(work)
		for i, u := range units {
			select {
			case work <- u:
			case <-ctx.Done():
				// Units never dispatched still owe the drain one report each;
				// record them as failed so the aggregate-so-far is returned.
				for _, rest := range units[i:] {
					reports <- regionReport{region: rest, err: errors.New("cancelled")}
				}
				return
			}
		}
	}()

	out := &Outcome{
		Result: &compliance.MultiRegionResult{
			RegionBreakdown: map[string]*compliance.Result{},
			RegionMetadata: compliance.RegionMetadata{
				TotalRegions:    len(units),
				SkippedRegions:  skipped,
				DiscoveryFailed: discovery.DiscoveryFailed,
				DiscoveryError:  discovery.DiscoveryError,
			},
		},
	}

	// Drain: exactly one report per unit, even on cancellation. scanUnit
	// converts context errors into failed reports for dispatched units and
	// the feeder reports the ones it never dispatched.
	for range units {
		rep := <-reports
		s.merge(out, rep)
	}

	agg := &out.Result.Result
	if agg.TotalResources == 0 {
		agg.Score = 1.0
	} else {
		agg.Score = float64(agg.CompliantResources) / float64(agg.TotalResources)
	}
	agg.ScannedAt = time.Now().UTC()

	if n := len(out.Result.RegionMetadata.FailedRegions); n > 0 {
		span.SetStatus(codes.Error, "partial scan")
		span.SetAttributes(attribute.Int("scan.failed_regions", n))
	}
	return out
}

func (s *Scanner) splitTypes(requested []string) (regional, global []string) {
	if len(requested) == 0 {
		requested = s.catalog.AllApplicableTypes()
		requested = append(requested, s.catalog.GlobalTypes()...)
	}
	for _, t := range requested {
		if s.catalog.IsGlobalType(t) {
			global = append(global, t)
		} else {
			regional = append(regional, t)
		}
	}
	return regional, global
}

func (s *Scanner) scanUnit(ctx context.Context, pol *policy.TagPolicy, req Request, unit string, regionalTypes, globalTypes []string) regionReport {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RegionTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "Scanner.ScanRegion",
		trace.WithAttributes(attribute.String("region", unit)))
	defer span.End()

	types := regionalTypes
	clientRegion := unit
	if unit == globalUnit {
		types = globalTypes
		// Global APIs answer from anywhere; use the first allowed client.
		clientRegion = s.homeRegion()
	}
	if len(types) == 0 {
		return regionReport{region: unit, result: &compliance.Result{Score: 1.0}}
	}

	client, err := s.clients(ctx, clientRegion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return regionReport{region: unit, err: err}
	}

	resources, err := client.ListResources(ctx, types)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = errors.New("timeout")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("region scan failed", "region", unit, "error", err)
		return regionReport{region: unit, err: err}
	}

	if unit == globalUnit {
		// Belt and braces: global listers already report the synthetic
		// region, constructed test doubles may not.
		for i := range resources {
			resources[i].Region = resource.GlobalRegion
		}
	}
	resources = applyTagFilters(resources, req.Filters)

	result := s.compliance.Check(resources, pol, req.Severity)
	span.SetAttributes(
		attribute.Int("scan.resources", result.TotalResources),
		attribute.Float64("scan.score", result.Score),
	)
	return regionReport{region: unit, result: result, resources: resources}
}

func (s *Scanner) homeRegion() string {
	if len(s.cfg.AllowedRegions) > 0 {
		return s.cfg.AllowedRegions[0]
	}
	return "us-east-1"
}

func (s *Scanner) merge(out *Outcome, rep regionReport) {
	meta := &out.Result.RegionMetadata
	if rep.err != nil {
		meta.FailedRegions = append(meta.FailedRegions, compliance.RegionFailure{
			Region: rep.region,
			Error:  rep.err.Error(),
		})
		return
	}

	meta.SuccessfulRegions = append(meta.SuccessfulRegions, rep.region)
	out.Result.RegionBreakdown[rep.region] = rep.result
	out.Resources = append(out.Resources, rep.resources...)

	agg := &out.Result.Result
	agg.TotalResources += rep.result.TotalResources
	agg.CompliantResources += rep.result.CompliantResources
	agg.NonCompliantResources += rep.result.NonCompliantResources
	// Per-region blocks land in completion order; order within each block is
	// already deterministic.
	agg.Violations = append(agg.Violations, rep.result.Violations...)
}

func applyTagFilters(resources []resource.Resource, filters map[string]string) []resource.Resource {
	if len(filters) == 0 {
		return resources
	}
	out := resources[:0:0]
	for _, r := range resources {
		match := true
		for k, v := range filters {
			if r.Tags[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}
