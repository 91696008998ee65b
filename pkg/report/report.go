// Package report renders compliance results as JSON, CSV, or Markdown.
// Cost columns are hidden when every violation carries a zero cost, the
// normal case for tag-API-only scans.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tagwarden/tagwarden/pkg/compliance"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Options tune report generation.
type Options struct {
	Format                 Format
	IncludeRecommendations bool
	GeneratedAt            time.Time
}

// Render produces the report body for a multi-region result.
func Render(result *compliance.MultiRegionResult, opts Options) (string, error) {
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	switch opts.Format {
	case FormatJSON, "":
		return renderJSON(result, opts)
	case FormatCSV:
		return renderCSV(result)
	case FormatMarkdown:
		return renderMarkdown(result, opts)
	default:
		return "", fmt.Errorf("unknown report format %q", opts.Format)
	}
}

// hasCostData reports whether any violation carries a non-zero cost impact.
func hasCostData(result *compliance.MultiRegionResult) bool {
	for _, v := range result.Violations {
		if v.MonthlyCost != 0 {
			return true
		}
	}
	return false
}

func renderJSON(result *compliance.MultiRegionResult, opts Options) (string, error) {
	payload := map[string]any{
		"generated_at": opts.GeneratedAt.Format(time.RFC3339),
		"report":       result,
	}
	if opts.IncludeRecommendations {
		payload["recommendations"] = Recommendations(result)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func renderCSV(result *compliance.MultiRegionResult) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	withCost := hasCostData(result)
	header := []string{"resource_id", "resource_type", "region", "violation_type", "tag_name", "severity", "current_value", "allowed_values"}
	if withCost {
		header = append(header, "monthly_cost_impact")
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, v := range result.Violations {
		row := []string{
			v.ResourceID, v.ResourceType, v.Region,
			string(v.Kind), v.TagName, string(v.Severity),
			v.CurrentValue, strings.Join(v.AllowedValues, "|"),
		}
		if withCost {
			row = append(row, money(v.MonthlyCost))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func renderMarkdown(result *compliance.MultiRegionResult, opts Options) (string, error) {
	var b strings.Builder
	withCost := hasCostData(result)

	fmt.Fprintf(&b, "# Tag Compliance Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", opts.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Compliance score | %.1f%% |\n", result.Score*100)
	fmt.Fprintf(&b, "| Total resources | %d |\n", result.TotalResources)
	fmt.Fprintf(&b, "| Compliant | %d |\n", result.CompliantResources)
	fmt.Fprintf(&b, "| Non-compliant | %d |\n", result.NonCompliantResources)
	fmt.Fprintf(&b, "| Violations | %d |\n", len(result.Violations))
	if result.CostAttributionGap > 0 {
		fmt.Fprintf(&b, "| Cost attribution gap | $%s/mo |\n", money(result.CostAttributionGap))
	}
	b.WriteString("\n")

	if len(result.RegionBreakdown) > 0 {
		fmt.Fprintf(&b, "## Regions\n\n")
		fmt.Fprintf(&b, "| Region | Resources | Compliant | Score |\n|---|---|---|---|\n")
		regions := make([]string, 0, len(result.RegionBreakdown))
		for r := range result.RegionBreakdown {
			regions = append(regions, r)
		}
		sort.Strings(regions)
		for _, r := range regions {
			res := result.RegionBreakdown[r]
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f%% |\n",
				r, res.TotalResources, res.CompliantResources, res.Score*100)
		}
		b.WriteString("\n")
	}

	if len(result.RegionMetadata.FailedRegions) > 0 {
		fmt.Fprintf(&b, "## Failed Regions\n\n")
		for _, f := range result.RegionMetadata.FailedRegions {
			fmt.Fprintf(&b, "- `%s`: %s\n", f.Region, f.Error)
		}
		b.WriteString("\n")
	}

	if len(result.Violations) > 0 {
		fmt.Fprintf(&b, "## Violations\n\n")
		if withCost {
			fmt.Fprintf(&b, "| Resource | Type | Region | Violation | Tag | Severity | Cost/mo |\n|---|---|---|---|---|---|---|\n")
		} else {
			fmt.Fprintf(&b, "| Resource | Type | Region | Violation | Tag | Severity |\n|---|---|---|---|---|---|\n")
		}
		for _, v := range result.Violations {
			if withCost {
				fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | $%s |\n",
					v.ResourceID, v.ResourceType, v.Region, v.Kind, v.TagName, v.Severity, money(v.MonthlyCost))
			} else {
				fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
					v.ResourceID, v.ResourceType, v.Region, v.Kind, v.TagName, v.Severity)
			}
		}
		b.WriteString("\n")
	}

	if opts.IncludeRecommendations {
		recs := Recommendations(result)
		if len(recs) > 0 {
			fmt.Fprintf(&b, "## Recommendations\n\n")
			for _, r := range recs {
				fmt.Fprintf(&b, "- %s\n", r)
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// Recommendations derives actionable next steps from the violation mix.
func Recommendations(result *compliance.MultiRegionResult) []string {
	if len(result.Violations) == 0 {
		return nil
	}

	missingByTag := map[string]int{}
	invalidByTag := map[string]int{}
	for _, v := range result.Violations {
		switch v.Kind {
		case compliance.KindMissingRequiredTag:
			missingByTag[v.TagName]++
		case compliance.KindInvalidValue, compliance.KindInvalidFormat:
			invalidByTag[v.TagName]++
		}
	}

	var out []string
	for _, tag := range sortedByCount(missingByTag) {
		out = append(out, fmt.Sprintf("Add the %s tag to %d resources missing it; consider a default via automation.", tag, missingByTag[tag]))
	}
	for _, tag := range sortedByCount(invalidByTag) {
		out = append(out, fmt.Sprintf("Normalise %d non-conforming %s values to the allowed set.", invalidByTag[tag], tag))
	}
	if result.Score < 0.5 {
		out = append(out, "Compliance is below 50%; schedule a tagging remediation sprint before enforcing the policy.")
	}
	if result.CostAttributionGap > 0 {
		out = append(out, fmt.Sprintf("$%s of monthly spend is unattributable to a cost center; prioritise tagging cost-generating resources.", money(result.CostAttributionGap)))
	}
	return out
}

// sortedByCount orders keys by descending count, ties alphabetical.
func sortedByCount(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// money renders a monetary value rounded to 2 decimals. Rounding happens
// only here, at presentation.
func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
