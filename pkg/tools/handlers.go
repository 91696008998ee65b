package tools

import (
	"context"
	"strconv"
	"time"

	"github.com/tagwarden/tagwarden/pkg/cache"
	"github.com/tagwarden/tagwarden/pkg/compliance"
	"github.com/tagwarden/tagwarden/pkg/cost"
	"github.com/tagwarden/tagwarden/pkg/history"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/report"
	"github.com/tagwarden/tagwarden/pkg/resource"
	"github.com/tagwarden/tagwarden/pkg/scanner"
)

type checkComplianceArgs struct {
	ResourceTypes []string          `json:"resource_types"`
	Regions       []string          `json:"regions"`
	Filters       map[string]string `json:"filters"`
	Severity      string            `json:"severity"`
	StoreSnapshot bool              `json:"store_snapshot"`
	ForceRefresh  bool              `json:"force_refresh"`
}

func (d *Dispatcher) checkTagCompliance(ctx context.Context, raw map[string]any) Outcome {
	var args checkComplianceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}
	if args.Severity == "" {
		args.Severity = string(compliance.FilterAll)
	}

	pol := d.svc.Policies.Current()
	key := cache.Key(cache.KeyParams{
		CostRegion:    d.svc.CostRegion,
		ResourceTypes: args.ResourceTypes,
		Filters:       args.Filters,
		Severity:      args.Severity,
		Regions:       args.Regions,
		PolicyVersion: pol.Version,
	})

	if args.ForceRefresh {
		d.svc.Cache.Invalidate(ctx, key)
	} else {
		var cached compliance.MultiRegionResult
		if d.svc.Cache.Get(ctx, key, &cached) {
			return OK(&cached)
		}
	}

	outcome, errOut := d.scan(ctx, pol, scanner.Request{
		ResourceTypes: args.ResourceTypes,
		Regions:       args.Regions,
		Filters:       args.Filters,
		Severity:      compliance.SeverityFilter(args.Severity),
	})
	if errOut != nil {
		return *errOut
	}
	result := outcome.Result

	if d.svc.Cost != nil {
		d.enrichCosts(ctx, result, outcome.Resources, pol)
	}

	if args.StoreSnapshot && d.svc.History != nil {
		if _, err := d.svc.History.Append(ctx, history.Snapshot{
			Score:              result.Score,
			TotalResources:     result.TotalResources,
			CompliantResources: result.CompliantResources,
			ViolationCount:     len(result.Violations),
			CostAttributionGap: result.CostAttributionGap,
		}); err != nil {
			d.logger.Error("snapshot append failed", "error", err)
		}
	}

	d.svc.Cache.Set(ctx, key, result, d.svc.ComplianceTTL)
	return OK(result)
}

// scan runs the multi-region scanner, translating a dead context into the
// timeout outcome.
func (d *Dispatcher) scan(ctx context.Context, pol *policy.TagPolicy, req scanner.Request) (*scanner.Outcome, *Outcome) {
	outcome := d.svc.Scanner.Scan(ctx, pol, req)
	if ctx.Err() != nil {
		t := TimedOut()
		return nil, &t
	}
	return outcome, nil
}

// enrichCosts attaches monthly cost to violations and fills the attribution
// gap. Cost failure degrades to a tag-only result rather than failing the
// scan.
func (d *Dispatcher) enrichCosts(ctx context.Context, result *compliance.MultiRegionResult, resources []resource.Resource, pol *policy.TagPolicy) {
	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)

	rep, err := d.svc.Cost.Attribute(ctx, resources, start, end)
	if err != nil {
		d.logger.Warn("cost enrichment skipped", "error", err)
		return
	}
	for i := range result.Violations {
		result.Violations[i].MonthlyCost = rep.MonthlyCost(result.Violations[i].ResourceID)
	}
	for _, regionResult := range result.RegionBreakdown {
		for i := range regionResult.Violations {
			regionResult.Violations[i].MonthlyCost = rep.MonthlyCost(regionResult.Violations[i].ResourceID)
		}
	}

	gap, err := d.svc.Cost.AttributionGap(ctx, resources, pol, d.svc.AccountID, start, end, cost.GroupNone)
	if err != nil {
		d.logger.Warn("attribution gap skipped", "error", err)
		return
	}
	result.CostAttributionGap = gap.Gap
}

type findUntaggedArgs struct {
	ResourceTypes    []string `json:"resource_types"`
	Regions          []string `json:"regions"`
	MinCostThreshold float64  `json:"min_cost_threshold"`
}

// untaggedResource is one find_untagged_resources hit.
type untaggedResource struct {
	ARN          string   `json:"arn"`
	ResourceType string   `json:"resource_type"`
	Region       string   `json:"region"`
	MissingTags  []string `json:"missing_tags"`
	TagCount     int      `json:"tag_count"`
	MonthlyCost  float64  `json:"monthly_cost,omitempty"`
	CostSource   string   `json:"cost_source,omitempty"`
}

func (d *Dispatcher) findUntaggedResources(ctx context.Context, raw map[string]any) Outcome {
	var args findUntaggedArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}

	pol := d.svc.Policies.Current()
	outcome, errOut := d.scan(ctx, pol, scanner.Request{
		ResourceTypes: args.ResourceTypes,
		Regions:       args.Regions,
		Severity:      compliance.FilterErrorsOnly,
	})
	if errOut != nil {
		return *errOut
	}

	var rep *cost.Report
	if d.svc.Cost != nil {
		end := time.Now().UTC()
		var err error
		rep, err = d.svc.Cost.Attribute(ctx, outcome.Resources, end.AddDate(0, -1, 0), end)
		if err != nil {
			d.logger.Warn("cost attribution skipped for untagged scan", "error", err)
			rep = nil
		}
	}

	var hits []untaggedResource
	for _, r := range outcome.Resources {
		missing := missingRequiredTags(r, pol)
		if len(r.Tags) > 0 && len(missing) == 0 {
			continue
		}
		hit := untaggedResource{
			ARN:          r.ARN,
			ResourceType: r.Type,
			Region:       r.Region,
			MissingTags:  missing,
			TagCount:     len(r.Tags),
		}
		if rep != nil {
			att := rep.ByARN[r.ARN]
			hit.MonthlyCost = att.MonthlyCost
			hit.CostSource = string(att.Source)
			if args.MinCostThreshold > 0 && att.MonthlyCost < args.MinCostThreshold {
				continue
			}
		}
		hits = append(hits, hit)
	}

	return OK(map[string]any{
		"untagged_resources": hits,
		"count":              len(hits),
		"region_metadata":    outcome.Result.RegionMetadata,
	})
}

func missingRequiredTags(r resource.Resource, pol *policy.TagPolicy) []string {
	var missing []string
	for _, rule := range pol.RequiredTagsFor(r.Type) {
		if v, ok := r.Tags[rule.Name]; !ok || v == "" {
			missing = append(missing, rule.Name)
		}
	}
	return missing
}

type validateTagsArgs struct {
	ResourceARNs []string `json:"resource_arns"`
}

func (d *Dispatcher) validateResourceTags(ctx context.Context, raw map[string]any) Outcome {
	var args validateTagsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}

	for i, arn := range args.ResourceARNs {
		if _, err := resource.ParseARN(arn); err != nil {
			return ValidationFailed("resource_arns", "malformed ARN at index "+strconv.Itoa(i))
		}
	}

	client, err := d.svc.Clients(ctx, d.svc.DefaultRegion)
	if err != nil {
		return outcomeFromError(err)
	}
	lookup, ok := client.(tagLookup)
	if !ok {
		return InternalFailed()
	}
	tagsByARN, err := lookup.GetTagsForARNs(ctx, args.ResourceARNs)
	if err != nil {
		return outcomeFromError(err)
	}

	resources := make([]resource.Resource, 0, len(args.ResourceARNs))
	for _, arn := range args.ResourceARNs {
		parts, _ := resource.ParseARN(arn)
		region := parts.Region
		if region == "" {
			region = resource.GlobalRegion
		}
		tags := tagsByARN[arn]
		if tags == nil {
			tags = map[string]string{}
		}
		resources = append(resources, resource.Resource{
			ARN:    arn,
			Type:   parts.TypeString(),
			Region: region,
			Tags:   tags,
		})
	}

	result := d.svc.Compliance.Check(resources, d.svc.Policies.Current(), compliance.FilterAll)
	return OK(result)
}

// tagLookup is the capability validate_resource_tags needs beyond listing.
type tagLookup interface {
	GetTagsForARNs(ctx context.Context, arns []string) (map[string]map[string]string, error)
}

type gapArgs struct {
	TimePeriod string `json:"time_period"`
	Grouping   string `json:"grouping"`
}

func (d *Dispatcher) costAttributionGap(ctx context.Context, raw map[string]any) Outcome {
	if d.svc.Cost == nil {
		return ValidationFailed("time_period", "cost analysis is disabled on this deployment")
	}
	var args gapArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}

	start, end := periodBounds(args.TimePeriod, time.Now().UTC())

	pol := d.svc.Policies.Current()
	outcome, errOut := d.scan(ctx, pol, scanner.Request{Severity: compliance.FilterErrorsOnly})
	if errOut != nil {
		return *errOut
	}

	gap, err := d.svc.Cost.AttributionGap(ctx, outcome.Resources, pol, d.svc.AccountID, start, end, cost.Grouping(args.Grouping))
	if err != nil {
		return outcomeFromError(err)
	}
	return OK(gap)
}

// periodBounds resolves the time_period enum against a reference instant.
func periodBounds(period string, now time.Time) (start, end time.Time) {
	end = now
	switch period {
	case "7d":
		start = now.AddDate(0, 0, -7)
	case "90d":
		start = now.AddDate(0, 0, -90)
	case "month_to_date":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "last_month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = first.AddDate(0, -1, 0)
		end = first
	default: // 30d
		start = now.AddDate(0, 0, -30)
	}
	return start, end
}

type suggestArgs struct {
	ResourceARN string `json:"resource_arn"`
}

func (d *Dispatcher) suggestTags(ctx context.Context, raw map[string]any) Outcome {
	var args suggestArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}
	if _, err := resource.ParseARN(args.ResourceARN); err != nil {
		return ValidationFailed("resource_arn", "malformed ARN")
	}

	res, err := d.svc.Suggest.SuggestTags(ctx, args.ResourceARN, d.svc.Policies.Current())
	if err != nil {
		return outcomeFromError(err)
	}
	return OK(res)
}

func (d *Dispatcher) getTaggingPolicy(ctx context.Context, _ map[string]any) Outcome {
	return OK(d.svc.Policies.Current())
}

type reportArgs struct {
	Format                 string `json:"format"`
	IncludeRecommendations bool   `json:"include_recommendations"`
}

func (d *Dispatcher) generateReport(ctx context.Context, raw map[string]any) Outcome {
	var args reportArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}

	inner := d.checkTagCompliance(ctx, map[string]any{})
	if inner.Status != StatusOK {
		return inner
	}
	result, ok := inner.Data.(*compliance.MultiRegionResult)
	if !ok {
		return InternalFailed()
	}

	body, err := report.Render(result, report.Options{
		Format:                 report.Format(args.Format),
		IncludeRecommendations: args.IncludeRecommendations,
	})
	if err != nil {
		return ValidationFailed("format", err.Error())
	}
	return OK(map[string]any{
		"format": args.Format,
		"report": body,
	})
}

type historyArgs struct {
	DaysBack int    `json:"days_back"`
	GroupBy  string `json:"group_by"`
}

func (d *Dispatcher) violationHistory(ctx context.Context, raw map[string]any) Outcome {
	var args historyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return ValidationFailed("(args)", err.Error())
	}
	if d.svc.History == nil {
		return ValidationFailed("days_back", "history is disabled on this deployment")
	}

	summary, err := d.svc.History.History(ctx, args.DaysBack, history.GroupBy(args.GroupBy))
	if err != nil {
		return ValidationFailed("group_by", err.Error())
	}
	return OK(summary)
}

