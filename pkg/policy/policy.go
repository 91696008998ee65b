// Package policy loads and serves the declarative tagging policy.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// TagRule describes one required or optional tag.
type TagRule struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Pattern       string   `json:"pattern,omitempty"` // anchored regex over the value
	DefaultValue  string   `json:"default_value,omitempty"`
	// AppliesTo lists canonical "service:kind" type strings. Empty means the
	// rule applies to every resource type.
	AppliesTo []string `json:"applies_to,omitempty"`

	compiled *regexp.Regexp
}

// NamingRules bound tag key/value shape. Checked as warnings.
type NamingRules struct {
	Enforced       bool   `json:"enforced"`
	Case           string `json:"case,omitempty"` // "", "lower", "upper", "pascal"
	MaxKeyLength   int    `json:"max_key_length,omitempty"`
	MaxValueLength int    `json:"max_value_length,omitempty"`
}

// TagPolicy is the full declarative policy. Immutable while live; the Store
// swaps whole snapshots on reload.
type TagPolicy struct {
	Version      string      `json:"version"`
	RequiredTags []TagRule   `json:"required_tags"`
	OptionalTags []TagRule   `json:"optional_tags,omitempty"`
	Naming       NamingRules `json:"naming_rules,omitempty"`

	// CostAttributionTags is the subset of required tags that makes a
	// resource's spend "attributable". Defaults to CostCenter, Owner,
	// Environment when absent.
	CostAttributionTags []string `json:"cost_attribution_tags,omitempty"`
}

// DefaultCostAttributionTags applies when the policy file names no subset.
var DefaultCostAttributionTags = []string{"CostCenter", "Owner", "Environment"}

// ValidationError reports a malformed policy. The server refuses to start on
// one of these.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy validation failed: %s: %s", e.Field, e.Reason)
}

// Parse unmarshals and validates a policy document.
func Parse(data []byte) (*TagPolicy, error) {
	var p TagPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Field: "document", Reason: err.Error()}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *TagPolicy) validate() error {
	if p.Version == "" {
		return &ValidationError{Field: "version", Reason: "missing"}
	}
	if len(p.RequiredTags) == 0 {
		return &ValidationError{Field: "required_tags", Reason: "empty"}
	}
	seen := map[string]bool{}
	for i := range p.RequiredTags {
		if err := compileRule(&p.RequiredTags[i], seen); err != nil {
			return err
		}
	}
	for i := range p.OptionalTags {
		if err := compileRule(&p.OptionalTags[i], seen); err != nil {
			return err
		}
	}
	if p.Naming.MaxKeyLength < 0 || p.Naming.MaxValueLength < 0 {
		return &ValidationError{Field: "naming_rules", Reason: "negative length bound"}
	}
	switch p.Naming.Case {
	case "", "lower", "upper", "pascal":
	default:
		return &ValidationError{Field: "naming_rules.case", Reason: fmt.Sprintf("unknown case style %q", p.Naming.Case)}
	}
	if len(p.CostAttributionTags) == 0 {
		p.CostAttributionTags = append([]string(nil), DefaultCostAttributionTags...)
	}
	return nil
}

func compileRule(r *TagRule, seen map[string]bool) error {
	if r.Name == "" {
		return &ValidationError{Field: "tag", Reason: "missing name"}
	}
	if seen[r.Name] {
		return &ValidationError{Field: r.Name, Reason: "duplicate tag rule"}
	}
	seen[r.Name] = true
	if r.Pattern != "" {
		re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
		if err != nil {
			return &ValidationError{Field: r.Name, Reason: fmt.Sprintf("bad pattern: %v", err)}
		}
		r.compiled = re
	}
	return nil
}

// AppliesToType reports whether the rule covers the given resource type.
// An empty applies_to list covers everything.
func (r *TagRule) AppliesToType(resourceType string) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, t := range r.AppliesTo {
		if t == resourceType {
			return true
		}
	}
	return false
}

// ValueAllowed checks the value against the allowed set and the pattern.
// When both are present, both must pass.
func (r *TagRule) ValueAllowed(value string) (inSet, matches bool) {
	inSet, matches = true, true
	if len(r.AllowedValues) > 0 {
		inSet = false
		for _, v := range r.AllowedValues {
			if v == value {
				inSet = true
				break
			}
		}
	}
	if r.compiled != nil {
		matches = r.compiled.MatchString(value)
	}
	return inSet, matches
}

// HasPattern reports whether the rule carries a format constraint.
func (r *TagRule) HasPattern() bool { return r.compiled != nil }

// RequiredTagsFor returns the required tags whose applies_to is empty or
// contains the type. The slice shares rule values with the policy snapshot.
func (p *TagPolicy) RequiredTagsFor(resourceType string) []TagRule {
	var out []TagRule
	for _, r := range p.RequiredTags {
		if r.AppliesToType(resourceType) {
			out = append(out, r)
		}
	}
	return out
}

// Rule looks up a required or optional tag rule by name.
func (p *TagPolicy) Rule(tagName string) (TagRule, bool) {
	for _, r := range p.RequiredTags {
		if r.Name == tagName {
			return r, true
		}
	}
	for _, r := range p.OptionalTags {
		if r.Name == tagName {
			return r, true
		}
	}
	return TagRule{}, false
}

// AllowedValues returns the allowed-value set for a tag, nil when unbounded.
func (p *TagPolicy) AllowedValues(tagName string) []string {
	if r, ok := p.Rule(tagName); ok {
		return r.AllowedValues
	}
	return nil
}

// Regex returns the raw pattern for a tag, empty when none.
func (p *TagPolicy) Regex(tagName string) string {
	if r, ok := p.Rule(tagName); ok {
		return r.Pattern
	}
	return ""
}

// AttributionRules returns the rules backing the cost-attribution subset.
// Unknown names are skipped; attribution then falls back to a bare key check.
func (p *TagPolicy) AttributionRules() []TagRule {
	var out []TagRule
	for _, name := range p.CostAttributionTags {
		if r, ok := p.Rule(name); ok {
			out = append(out, r)
		} else {
			out = append(out, TagRule{Name: name})
		}
	}
	return out
}
