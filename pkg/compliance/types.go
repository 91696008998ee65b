package compliance

import "time"

// Kind labels what a violation is about.
type Kind string

const (
	KindMissingRequiredTag Kind = "missing-required-tag"
	KindInvalidValue       Kind = "invalid-value"
	KindInvalidFormat      Kind = "invalid-format"
	KindNamingRule         Kind = "naming-rule"
)

// Severity of a violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// SeverityFilter selects which violations appear in the result. The score is
// always computed against error severity regardless of the filter.
type SeverityFilter string

const (
	FilterErrorsOnly   SeverityFilter = "errors_only"
	FilterWarningsOnly SeverityFilter = "warnings_only"
	FilterAll          SeverityFilter = "all"
)

// Violation points at exactly one tag problem on one scanned resource.
type Violation struct {
	ResourceID    string   `json:"resource_id"`
	ResourceType  string   `json:"resource_type"`
	Region        string   `json:"region"`
	Kind          Kind     `json:"violation_type"`
	TagName       string   `json:"tag_name"`
	Severity      Severity `json:"severity"`
	CurrentValue  string   `json:"current_value,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	MonthlyCost   float64  `json:"monthly_cost_impact,omitempty"`
}

// Result is one compliance evaluation over a set of resources.
type Result struct {
	Score                 float64     `json:"compliance_score"` // in [0,1]
	TotalResources        int         `json:"total_resources"`
	CompliantResources    int         `json:"compliant_resources"`
	NonCompliantResources int         `json:"non_compliant_resources"`
	Violations            []Violation `json:"violations"`
	CostAttributionGap    float64     `json:"cost_attribution_gap,omitempty"`
	ScannedAt             time.Time   `json:"scanned_at"`
}

// RegionFailure records a region that could not be scanned.
type RegionFailure struct {
	Region string `json:"region"`
	Error  string `json:"error"`
}

// RegionMetadata describes how region fan-out went for one multi-region scan.
type RegionMetadata struct {
	TotalRegions      int             `json:"total_regions"`
	SuccessfulRegions []string        `json:"successful_regions"`
	FailedRegions     []RegionFailure `json:"failed_regions,omitempty"`
	SkippedRegions    []string        `json:"skipped_regions,omitempty"`
	DiscoveryFailed   bool            `json:"discovery_failed,omitempty"`
	DiscoveryError    string          `json:"discovery_error,omitempty"`
}

// MultiRegionResult aggregates per-region results.
type MultiRegionResult struct {
	Result
	RegionBreakdown map[string]*Result `json:"region_breakdown"`
	RegionMetadata  RegionMetadata     `json:"region_metadata"`
}
