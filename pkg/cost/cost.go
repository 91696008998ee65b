// Package cost assigns monthly spend to individual resources using a
// three-tier algorithm: actual per-resource figures from the cost API where
// available, state-aware weighted distribution for compute fleets, and a
// proportional fallback. It also computes the cost-attribution gap between
// total spend and spend carried by properly tagged resources.
package cost

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagwarden/tagwarden/pkg/catalog"
	"github.com/tagwarden/tagwarden/pkg/cloud"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/resource"
)

// Source labels where a per-resource cost figure came from.
type Source string

const (
	// SourceActual means the cost API reported this resource directly.
	SourceActual Source = "actual"
	// SourceEstimated means the figure was distributed from a service total.
	SourceEstimated Source = "estimated"
	// SourceStopped marks compute resources in a terminal state, pinned to 0.
	SourceStopped Source = "stopped"
)

// fallbackNote rides along when distribution had no active pool to weight.
const fallbackNote = "likely incomplete cost data or non-instance charges such as NAT, EBS"

// Attribution is one resource's share of monthly spend.
type Attribution struct {
	ARN          string  `json:"arn"`
	ResourceType string  `json:"resource_type"`
	Region       string  `json:"region"`
	MonthlyCost  float64 `json:"monthly_cost"`
	Source       Source  `json:"cost_source"`
	Note         string  `json:"note,omitempty"`
}

// Report is the outcome of attributing one cost series across a resource set.
// Full precision is kept throughout; rounding belongs to presentation.
type Report struct {
	ByARN          map[string]Attribution `json:"by_arn"`
	Unattributable map[string]float64     `json:"unattributable,omitempty"`
	TotalSpend     float64                `json:"total_spend"`
	Start          time.Time              `json:"start"`
	End            time.Time              `json:"end"`
}

// MonthlyCost returns the assigned cost for an ARN, zero if none.
func (r *Report) MonthlyCost(arn string) float64 {
	if r == nil {
		return 0
	}
	return r.ByARN[arn].MonthlyCost
}

// API is the slice of the cloud client the cost service consumes. All calls
// are served by the pinned cost-region handle.
type API interface {
	GetMonthlyCosts(ctx context.Context, start, end time.Time) (*cloud.CostSeries, error)
	GetResourceCosts(ctx context.Context, costServiceName string, start, end time.Time) (map[string]float64, error)
}

// Options tune the service.
type Options struct {
	// SizeWeights overrides the built-in instance-size weight table.
	SizeWeights map[string]float64
	Logger      *slog.Logger
}

// Service computes per-resource cost attribution.
type Service struct {
	api     API
	catalog *catalog.Catalog
	weights map[string]float64
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds a cost service over the given cost API.
func New(api API, cat *catalog.Catalog, opts Options) *Service {
	weights := opts.SizeWeights
	if weights == nil {
		weights = defaultSizeWeights
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:     api,
		catalog: cat,
		weights: weights,
		logger:  logger,
		tracer:  otel.Tracer("tagwarden/cost"),
	}
}

// stoppedStates are terminal compute states that accrue no compute cost.
var stoppedStates = map[string]bool{
	"stopped":       true,
	"stopping":      true,
	"terminated":    true,
	"shutting-down": true,
}

// attributionMode picks how a service total is split across its resources.
type attributionMode int

const (
	modeServiceLevel attributionMode = iota // even split across visible resources
	modeCompute                             // state-aware, size-weighted
	modePerResource                         // actuals preferred, even split otherwise
)

func modeFor(resourceType string) attributionMode {
	switch resourceType {
	case "ec2:instance":
		return modeCompute
	case "rds:db":
		return modePerResource
	default:
		return modeServiceLevel
	}
}

// Attribute assigns monthly cost to each resource from the account cost
// series for the period. Resources of free types get no entry; unattributable
// services surface as a separate bucket instead of per-resource figures.
func (s *Service) Attribute(ctx context.Context, resources []resource.Resource, start, end time.Time) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "Cost.Attribute",
		trace.WithAttributes(attribute.Int("cost.resources", len(resources))))
	defer span.End()

	series, err := s.api.GetMonthlyCosts(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{
		ByARN:      make(map[string]Attribution, len(resources)),
		TotalSpend: series.Total,
		Start:      start,
		End:        end,
	}

	groups := map[string][]resource.Resource{}
	for _, r := range resources {
		if s.catalog.CategoryOf(r.Type) != catalog.CategoryCostGenerating &&
			s.catalog.CategoryOf(r.Type) != catalog.CategoryGlobal {
			continue
		}
		svc := s.catalog.CostServiceName(r.Type)
		if svc == "" {
			continue
		}
		groups[svc] = append(groups[svc], r)
	}

	for svc, members := range groups {
		s.attributeService(ctx, report, svc, members, series.ServiceTotals[svc], start, end)
	}

	for svcName, total := range series.ServiceTotals {
		if s.isUnattributable(svcName) && total > 0 {
			if report.Unattributable == nil {
				report.Unattributable = map[string]float64{}
			}
			report.Unattributable[svcName] = total
		}
	}

	span.SetAttributes(attribute.Float64("cost.total_spend", report.TotalSpend))
	return report, nil
}

func (s *Service) isUnattributable(costServiceName string) bool {
	// The catalog maps types, not service names; walk it once per call. The
	// catalog is small, this is not hot. A service name shared with any
	// attributable type stays attributable.
	unattributable := false
	for _, t := range s.catalog.AllTypes() {
		if s.catalog.CostServiceName(t) != costServiceName {
			continue
		}
		if s.catalog.CategoryOf(t) != catalog.CategoryUnattributable {
			return false
		}
		unattributable = true
	}
	return unattributable
}

// attributeService splits one service's monthly total across its resources.
func (s *Service) attributeService(ctx context.Context, report *Report, svc string, members []resource.Resource, serviceTotal float64, start, end time.Time) {
	actuals := s.fetchActuals(ctx, svc, start, end)
	remaining := serviceTotal
	var pool []resource.Resource
	for _, r := range members {
		if amt, ok := matchActual(actuals, r); ok {
			report.ByARN[r.ARN] = Attribution{
				ARN: r.ARN, ResourceType: r.Type, Region: r.Region,
				MonthlyCost: amt, Source: SourceActual,
			}
			remaining -= amt
			continue
		}
		pool = append(pool, r)
	}
	if remaining < 0 {
		remaining = 0
	}
	if len(pool) == 0 {
		return
	}

	// One service name can cover several resource types (EC2 bills
	// instances, volumes and NAT gateways under one SERVICE). Split the
	// remainder per type so compute keeps its state-aware tier no matter
	// how the members are ordered.
	var computePool, flatPool []resource.Resource
	for _, r := range pool {
		if modeFor(r.Type) == modeCompute {
			computePool = append(computePool, r)
		} else {
			flatPool = append(flatPool, r)
		}
	}

	computeShare := remaining * float64(len(computePool)) / float64(len(pool))
	if len(computePool) > 0 {
		s.distributeCompute(report, computePool, computeShare)
	}
	if len(flatPool) > 0 {
		// Per-resource-granularity and service-level types both fall back to
		// an even split of whatever the actuals did not cover.
		share := (remaining - computeShare) / float64(len(flatPool))
		for _, r := range flatPool {
			report.ByARN[r.ARN] = Attribution{
				ARN: r.ARN, ResourceType: r.Type, Region: r.Region,
				MonthlyCost: share, Source: SourceEstimated,
			}
		}
	}
}

// distributeCompute implements the state-aware tiers for compute fleets.
func (s *Service) distributeCompute(report *Report, pool []resource.Resource, remaining float64) {
	var active []resource.Resource
	for _, r := range pool {
		if stoppedStates[strings.ToLower(r.State)] {
			// compute cost only; storage costs are tracked separately
			report.ByARN[r.ARN] = Attribution{
				ARN: r.ARN, ResourceType: r.Type, Region: r.Region,
				MonthlyCost: 0, Source: SourceStopped,
			}
			continue
		}
		// Unknown states count as active so spend is never hidden.
		active = append(active, r)
	}

	if len(active) > 0 {
		var totalWeight float64
		for _, r := range active {
			totalWeight += s.sizeWeight(r.InstanceSize)
		}
		for _, r := range active {
			share := remaining * s.sizeWeight(r.InstanceSize) / totalWeight
			report.ByARN[r.ARN] = Attribution{
				ARN: r.ARN, ResourceType: r.Type, Region: r.Region,
				MonthlyCost: share, Source: SourceEstimated,
			}
		}
		return
	}

	if remaining <= 0 {
		return
	}
	// Whole fleet is stopped yet the service still billed. Spread across
	// everything so the spend stays visible.
	share := remaining / float64(len(pool))
	for _, r := range pool {
		report.ByARN[r.ARN] = Attribution{
			ARN: r.ARN, ResourceType: r.Type, Region: r.Region,
			MonthlyCost: share, Source: SourceEstimated, Note: fallbackNote,
		}
	}
}

// fetchActuals pulls per-resource figures for one service. Resource-level
// granularity only covers recent data, so empty is normal and errors degrade
// to distribution rather than failing the report.
func (s *Service) fetchActuals(ctx context.Context, svc string, start, end time.Time) map[string]float64 {
	actuals, err := s.api.GetResourceCosts(ctx, svc, start, end)
	if err != nil {
		s.logger.Warn("per-resource cost lookup failed, falling back to distribution",
			"service", svc, "error", err)
		return nil
	}
	return actuals
}

// matchActual finds a resource in the per-resource cost map. The API keys by
// full ARN for most services and by bare resource id for compute.
func matchActual(actuals map[string]float64, r resource.Resource) (float64, bool) {
	if len(actuals) == 0 {
		return 0, false
	}
	if amt, ok := actuals[r.ARN]; ok {
		return amt, true
	}
	if parts, err := resource.ParseARN(r.ARN); err == nil {
		if amt, ok := actuals[parts.ID()]; ok {
			return amt, true
		}
	}
	return 0, false
}

// Grouping selects how the attribution gap is partitioned.
type Grouping string

const (
	GroupNone           Grouping = ""
	GroupByResourceType Grouping = "by_resource_type"
	GroupByRegion       Grouping = "by_region"
	GroupByAccount      Grouping = "by_account"
)

// GapGroup is one partition of the attribution gap.
type GapGroup struct {
	Key          string  `json:"key"`
	TotalSpend   float64 `json:"total_spend"`
	Attributable float64 `json:"attributable_spend"`
	Gap          float64 `json:"gap"`
}

// Gap is the spend not carried by properly tagged resources.
type Gap struct {
	TotalSpend   float64    `json:"total_spend"`
	Attributable float64    `json:"attributable_spend"`
	Gap          float64    `json:"gap"`
	GapPct       float64    `json:"gap_pct"`
	Groups       []GapGroup `json:"groups,omitempty"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
}

// unallocatedKey collects spend no visible resource carries, so group gaps
// always sum to the total gap.
const unallocatedKey = "unallocated"

// AttributionGap computes total versus attributable spend over the period. A
// resource is attributable when its tags satisfy every cost-attribution rule
// of the policy that applies to its type.
func (s *Service) AttributionGap(ctx context.Context, resources []resource.Resource, pol *policy.TagPolicy, accountID string, start, end time.Time, grouping Grouping) (*Gap, error) {
	ctx, span := s.tracer.Start(ctx, "Cost.AttributionGap")
	defer span.End()

	report, err := s.Attribute(ctx, resources, start, end)
	if err != nil {
		return nil, err
	}

	gap := &Gap{TotalSpend: report.TotalSpend, Start: start, End: end}

	groupTotals := map[string]float64{}
	groupAttr := map[string]float64{}
	var allocated float64

	rules := pol.AttributionRules()
	for _, r := range resources {
		att, ok := report.ByARN[r.ARN]
		if !ok {
			continue
		}
		allocated += att.MonthlyCost
		key := groupKey(grouping, r, accountID)
		groupTotals[key] += att.MonthlyCost
		if attributable(r, rules) {
			gap.Attributable += att.MonthlyCost
			groupAttr[key] += att.MonthlyCost
		}
	}

	if residual := gap.TotalSpend - allocated; residual > 0 {
		groupTotals[unallocatedKey] += residual
	}

	gap.Gap = gap.TotalSpend - gap.Attributable
	if gap.Gap < 0 {
		gap.Gap = 0
	}
	if gap.TotalSpend > 0 {
		gap.GapPct = gap.Gap / gap.TotalSpend
	}

	if grouping != GroupNone {
		keys := make([]string, 0, len(groupTotals))
		for k := range groupTotals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			gap.Groups = append(gap.Groups, GapGroup{
				Key:          k,
				TotalSpend:   groupTotals[k],
				Attributable: groupAttr[k],
				Gap:          groupTotals[k] - groupAttr[k],
			})
		}
	}

	span.SetAttributes(
		attribute.Float64("cost.gap", gap.Gap),
		attribute.Float64("cost.gap_pct", gap.GapPct),
	)
	return gap, nil
}

func groupKey(g Grouping, r resource.Resource, accountID string) string {
	switch g {
	case GroupByResourceType:
		return r.Type
	case GroupByRegion:
		return r.Region
	case GroupByAccount:
		return accountID
	default:
		return "all"
	}
}

// attributable reports whether the resource satisfies every cost-attribution
// rule applying to its type. A type no rule applies to is attributable by
// definition.
func attributable(r resource.Resource, rules []policy.TagRule) bool {
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesToType(r.Type) {
			continue
		}
		v, ok := r.Tags[rule.Name]
		if !ok || v == "" {
			return false
		}
		inSet, matches := rule.ValueAllowed(v)
		if !inSet || !matches {
			return false
		}
	}
	return true
}
