package cost

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/tagwarden/tagwarden/pkg/catalog"
	"github.com/tagwarden/tagwarden/pkg/cloud"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/resource"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCostAPI struct {
	series    *cloud.CostSeries
	resources map[string]map[string]float64 // service -> resource id -> amount
}

func (f *fakeCostAPI) GetMonthlyCosts(ctx context.Context, start, end time.Time) (*cloud.CostSeries, error) {
	return f.series, nil
}

func (f *fakeCostAPI) GetResourceCosts(ctx context.Context, svc string, start, end time.Time) (map[string]float64, error) {
	return f.resources[svc], nil
}

func newService(api API) *Service {
	return New(api, catalog.Default(), Options{Logger: testLogger()})
}

func ec2Instance(id, state, size string, tags map[string]string) resource.Resource {
	if tags == nil {
		tags = map[string]string{}
	}
	return resource.Resource{
		ARN:          "arn:aws:ec2:us-east-1:123:instance/" + id,
		Type:         "ec2:instance",
		Region:       "us-east-1",
		State:        state,
		InstanceSize: size,
		Tags:         tags,
	}
}

const ec2Service = "Amazon Elastic Compute Cloud - Compute"

func TestStateAwareDistribution(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 300},
			Total:         300,
		},
	}
	resources := []resource.Resource{
		ec2Instance("i-1", "running", "m5.large", nil),
		ec2Instance("i-2", "running", "m5.large", nil),
		ec2Instance("i-3", "stopped", "m5.large", nil),
	}

	rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}

	for _, id := range []string{"i-1", "i-2"} {
		att := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/"+id]
		if att.MonthlyCost != 150 {
			t.Errorf("%s cost = %v, want 150", id, att.MonthlyCost)
		}
		if att.Source != SourceEstimated {
			t.Errorf("%s source = %s, want estimated", id, att.Source)
		}
	}

	stopped := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/i-3"]
	if stopped.MonthlyCost != 0 || stopped.Source != SourceStopped {
		t.Fatalf("stopped = %+v, want 0/stopped", stopped)
	}
}

func TestActualCostsPreferred(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 100},
			Total:         100,
		},
		resources: map[string]map[string]float64{
			ec2Service: {"i-1": 42.5},
		},
	}
	resources := []resource.Resource{
		ec2Instance("i-1", "running", "m5.large", nil),
		ec2Instance("i-2", "running", "m5.large", nil),
	}

	rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}

	actual := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/i-1"]
	if actual.Source != SourceActual || actual.MonthlyCost != 42.5 {
		t.Fatalf("actual = %+v, want 42.5/actual", actual)
	}
	// The remainder distributes over the rest of the fleet.
	est := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/i-2"]
	if est.Source != SourceEstimated || est.MonthlyCost != 57.5 {
		t.Fatalf("estimated = %+v, want 57.5/estimated", est)
	}
}

func TestSizeWeightedDistribution(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 120},
			Total:         120,
		},
	}
	resources := []resource.Resource{
		ec2Instance("i-big", "running", "m5.xlarge", nil), // weight 8
		ec2Instance("i-small", "running", "m5.large", nil), // weight 4
	}

	rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}

	big := rep.MonthlyCost("arn:aws:ec2:us-east-1:123:instance/i-big")
	small := rep.MonthlyCost("arn:aws:ec2:us-east-1:123:instance/i-small")
	if math.Abs(big-80) > 1e-9 || math.Abs(small-40) > 1e-9 {
		t.Fatalf("weighted split = %v/%v, want 80/40", big, small)
	}
}

func TestAllStoppedFallsBackProportionally(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 50},
			Total:         50,
		},
	}
	resources := []resource.Resource{
		ec2Instance("i-1", "stopped", "m5.large", nil),
		ec2Instance("i-2", "terminated", "m5.large", nil),
	}

	rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}

	for _, id := range []string{"i-1", "i-2"} {
		att := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/"+id]
		if att.MonthlyCost != 25 || att.Source != SourceEstimated {
			t.Errorf("%s = %+v, want 25/estimated", id, att)
		}
		if att.Note == "" {
			t.Errorf("%s missing fallback note", id)
		}
	}
}

func TestMixedServiceGroupKeepsComputeTier(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 300},
			Total:         300,
		},
	}
	vol := resource.Resource{
		ARN: "arn:aws:ec2:us-east-1:123:volume/vol-1", Type: "ec2:volume",
		Region: "us-east-1", State: "in-use", Tags: map[string]string{},
	}
	// Volume first: instances must still get the state-aware split even when
	// a non-compute type leads the service group.
	orderings := [][]resource.Resource{
		{vol, ec2Instance("i-1", "running", "m5.xlarge", nil), ec2Instance("i-2", "stopped", "m5.large", nil)},
		{ec2Instance("i-2", "stopped", "m5.large", nil), ec2Instance("i-1", "running", "m5.xlarge", nil), vol},
	}

	for _, resources := range orderings {
		rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
		if err != nil {
			t.Fatalf("attribute: %v", err)
		}

		running := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/i-1"]
		if running.Source != SourceEstimated || math.Abs(running.MonthlyCost-200) > 1e-9 {
			t.Fatalf("running instance = %+v, want 200/estimated", running)
		}
		stopped := rep.ByARN["arn:aws:ec2:us-east-1:123:instance/i-2"]
		if stopped.Source != SourceStopped || stopped.MonthlyCost != 0 {
			t.Fatalf("stopped instance = %+v, want 0/stopped", stopped)
		}
		volume := rep.ByARN["arn:aws:ec2:us-east-1:123:volume/vol-1"]
		if volume.Source != SourceEstimated || math.Abs(volume.MonthlyCost-100) > 1e-9 {
			t.Fatalf("volume = %+v, want 100/estimated", volume)
		}
	}
}

func TestUnattributableServicesSurfaceAsBucket(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{
				ec2Service:               100,
				"AWS CloudTrail":         12.5,
				"AWS Support (Business)": 29,
			},
			Total: 141.5,
		},
	}
	resources := []resource.Resource{ec2Instance("i-1", "running", "m5.large", nil)}

	rep, err := newService(api).Attribute(context.Background(), resources, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}

	if got := rep.Unattributable["AWS CloudTrail"]; got != 12.5 {
		t.Errorf("cloudtrail bucket = %v, want 12.5", got)
	}
	if got := rep.Unattributable["AWS Support (Business)"]; got != 29 {
		t.Errorf("support bucket = %v, want 29", got)
	}
	if _, ok := rep.Unattributable[ec2Service]; ok {
		t.Error("attributable service leaked into the unattributable bucket")
	}
}

func attributionPolicy(t *testing.T) *policy.TagPolicy {
	t.Helper()
	pol, err := policy.Parse([]byte(`{
		"version": "test",
		"required_tags": [
			{"name": "CostCenter", "allowed_values": ["Engineering", "Marketing"]},
			{"name": "Owner"},
			{"name": "Environment"}
		]
	}`))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	return pol
}

func TestAttributionGap(t *testing.T) {
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 1000},
			Total:         1000,
		},
		resources: map[string]map[string]float64{
			ec2Service: {"i-tagged": 580, "i-bare": 420},
		},
	}
	tagged := map[string]string{"CostCenter": "Engineering", "Owner": "core", "Environment": "prod"}
	resources := []resource.Resource{
		ec2Instance("i-tagged", "running", "m5.large", tagged),
		ec2Instance("i-bare", "running", "m5.large", nil),
	}

	gap, err := newService(api).AttributionGap(context.Background(), resources,
		attributionPolicy(t), "123456789012",
		time.Now().AddDate(0, -1, 0), time.Now(), GroupNone)
	if err != nil {
		t.Fatalf("gap: %v", err)
	}

	if gap.TotalSpend != 1000 || gap.Attributable != 580 {
		t.Fatalf("total/attributable = %v/%v, want 1000/580", gap.TotalSpend, gap.Attributable)
	}
	if gap.Gap != 420 {
		t.Fatalf("gap = %v, want 420", gap.Gap)
	}
	if math.Abs(gap.GapPct-0.42) > 1e-9 {
		t.Fatalf("gap_pct = %v, want 0.42", gap.GapPct)
	}
}

func TestGapGroupsPartitionTheGap(t *testing.T) {
	rdsService := "Amazon Relational Database Service"
	api := &fakeCostAPI{
		series: &cloud.CostSeries{
			ServiceTotals: map[string]float64{ec2Service: 600, rdsService: 400},
			Total:         1000,
		},
	}
	tagged := map[string]string{"CostCenter": "Engineering", "Owner": "core", "Environment": "prod"}
	resources := []resource.Resource{
		ec2Instance("i-1", "running", "m5.large", tagged),
		ec2Instance("i-2", "running", "m5.large", nil),
		{
			ARN: "arn:aws:rds:us-east-1:123:db:orders", Type: "rds:db",
			Region: "us-east-1", Tags: map[string]string{},
		},
	}

	gap, err := newService(api).AttributionGap(context.Background(), resources,
		attributionPolicy(t), "123456789012",
		time.Now().AddDate(0, -1, 0), time.Now(), GroupByResourceType)
	if err != nil {
		t.Fatalf("gap: %v", err)
	}

	var sum float64
	for _, g := range gap.Groups {
		sum += g.Gap
	}
	if math.Abs(sum-gap.Gap) > 1e-9 {
		t.Fatalf("group gaps sum to %v, total gap is %v", sum, gap.Gap)
	}
}

func TestSizeWeightLookup(t *testing.T) {
	s := newService(&fakeCostAPI{series: &cloud.CostSeries{}})
	if w := s.sizeWeight("t3.micro"); w != 0.5 {
		t.Errorf("t3.micro weight = %v, want 0.5", w)
	}
	if w := s.sizeWeight("db.r5.24xlarge"); w != 192 {
		t.Errorf("24xlarge weight = %v, want 192", w)
	}
	if w := s.sizeWeight("weird-shape"); w != defaultWeight {
		t.Errorf("unknown weight = %v, want default", w)
	}
	if w := s.sizeWeight(""); w != defaultWeight {
		t.Errorf("empty weight = %v, want default", w)
	}
}
