package report

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tagwarden/tagwarden/pkg/compliance"
)

func sampleResult(withCost bool) *compliance.MultiRegionResult {
	var cost float64
	if withCost {
		cost = 142.5
	}
	return &compliance.MultiRegionResult{
		Result: compliance.Result{
			Score:                 0.5,
			TotalResources:        4,
			CompliantResources:    2,
			NonCompliantResources: 2,
			Violations: []compliance.Violation{
				{
					ResourceID: "arn:aws:ec2:us-east-1:123:instance/i-1", ResourceType: "ec2:instance",
					Region: "us-east-1", Kind: compliance.KindMissingRequiredTag,
					TagName: "CostCenter", Severity: compliance.SeverityError,
					MonthlyCost: cost,
				},
				{
					ResourceID: "arn:aws:ec2:us-east-1:123:instance/i-2", ResourceType: "ec2:instance",
					Region: "us-east-1", Kind: compliance.KindInvalidValue,
					TagName: "Environment", CurrentValue: "prd",
					AllowedValues: []string{"production", "staging"},
					Severity:      compliance.SeverityError,
				},
			},
		},
		RegionBreakdown: map[string]*compliance.Result{
			"us-east-1": {Score: 0.5, TotalResources: 4, CompliantResources: 2},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	body, err := Render(sampleResult(false), Options{Format: FormatJSON, GeneratedAt: at})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if payload["generated_at"] != "2026-08-20T10:00:00Z" {
		t.Fatalf("generated_at = %v", payload["generated_at"])
	}
	if _, ok := payload["report"]; !ok {
		t.Fatal("missing report body")
	}
	if _, ok := payload["recommendations"]; ok {
		t.Fatal("recommendations included without the flag")
	}
}

func TestRenderCSVWithoutCostColumn(t *testing.T) {
	body, err := Render(sampleResult(false), Options{Format: FormatCSV})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	for _, col := range rows[0] {
		if col == "monthly_cost_impact" {
			t.Fatal("cost column present with no cost data")
		}
	}
	if rows[1][4] != "CostCenter" || rows[2][6] != "prd" {
		t.Fatalf("rows = %v", rows)
	}
	if rows[2][7] != "production|staging" {
		t.Fatalf("allowed values cell = %q", rows[2][7])
	}
}

func TestRenderCSVWithCostColumn(t *testing.T) {
	body, err := Render(sampleResult(true), Options{Format: FormatCSV})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := len(rows[0]) - 1
	if rows[0][last] != "monthly_cost_impact" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][last] != "142.50" {
		t.Fatalf("cost cell = %q, want 142.50", rows[1][last])
	}
}

func TestRenderMarkdown(t *testing.T) {
	body, err := Render(sampleResult(false), Options{Format: FormatMarkdown, IncludeRecommendations: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"# Tag Compliance Report",
		"## Summary",
		"| Compliance score | 50.0% |",
		"## Regions",
		"| us-east-1 | 4 | 2 | 50.0% |",
		"## Violations",
		"## Recommendations",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(body, "Cost/mo") {
		t.Fatal("cost column present with no cost data")
	}
}

func TestRenderMarkdownCostColumn(t *testing.T) {
	body, err := Render(sampleResult(true), Options{Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "Cost/mo") || !strings.Contains(body, "$142.50") {
		t.Fatal("cost column missing despite cost data")
	}
}

func TestRenderFailedRegions(t *testing.T) {
	result := sampleResult(false)
	result.RegionMetadata.FailedRegions = []compliance.RegionFailure{
		{Region: "eu-west-1", Error: "timeout"},
	}

	body, err := Render(result, Options{Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "## Failed Regions") || !strings.Contains(body, "`eu-west-1`: timeout") {
		t.Fatal("failed regions section missing")
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := Render(sampleResult(false), Options{Format: "pdf"}); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestRecommendations(t *testing.T) {
	result := sampleResult(false)
	result.CostAttributionGap = 420

	recs := Recommendations(result)
	if len(recs) == 0 {
		t.Fatal("no recommendations")
	}
	joined := strings.Join(recs, "\n")
	if !strings.Contains(joined, "CostCenter") {
		t.Error("missing-tag recommendation absent")
	}
	if !strings.Contains(joined, "Environment") {
		t.Error("invalid-value recommendation absent")
	}
	if !strings.Contains(joined, "$420.00") {
		t.Error("gap recommendation absent")
	}
	// Score is exactly 0.5, not below it.
	if strings.Contains(joined, "remediation sprint") {
		t.Error("sprint recommendation fired at score 0.5")
	}
}

func TestRecommendationsEmptyOnCleanResult(t *testing.T) {
	clean := &compliance.MultiRegionResult{Result: compliance.Result{Score: 1.0}}
	if recs := Recommendations(clean); recs != nil {
		t.Fatalf("clean result produced %v", recs)
	}
}

func TestMoneyRounding(t *testing.T) {
	cases := map[float64]string{
		142.5:   "142.50",
		0:       "0.00",
		33.3333: "33.33",
		99.999:  "100.00",
	}
	for in, want := range cases {
		if got := money(in); got != want {
			t.Errorf("money(%v) = %q, want %q", in, got, want)
		}
	}
}
