// Package compliance validates resources against the tag policy and computes
// compliance scores. Validation is pure: the same resources and policy
// snapshot always produce the same result.
package compliance

import (
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/resource"
)

// Service evaluates tag compliance.
type Service struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a compliance service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, now: time.Now}
}

// Check validates every resource against the policy snapshot.
//
// A resource is compliant iff it produced zero error-severity violations.
// The severity filter narrows the violations included in the result, never
// the score: the score is always compliant/total over error severity, and
// 1.0 on an empty input set.
func (s *Service) Check(resources []resource.Resource, pol *policy.TagPolicy, filter SeverityFilter) *Result {
	if filter == "" {
		filter = FilterAll
	}

	res := &Result{
		TotalResources: len(resources),
		ScannedAt:      s.now().UTC(),
	}

	for _, r := range resources {
		violations := s.checkResource(r, pol)

		hasError := false
		for _, v := range violations {
			if v.Severity == SeverityError {
				hasError = true
			}
			if included(v.Severity, filter) {
				res.Violations = append(res.Violations, v)
			}
		}
		if hasError {
			res.NonCompliantResources++
		} else {
			res.CompliantResources++
		}
	}

	if res.TotalResources == 0 {
		res.Score = 1.0
	} else {
		res.Score = float64(res.CompliantResources) / float64(res.TotalResources)
	}

	SortViolations(res.Violations)
	return res
}

func (s *Service) checkResource(r resource.Resource, pol *policy.TagPolicy) []Violation {
	var out []Violation

	base := Violation{
		ResourceID:   r.ARN,
		ResourceType: r.Type,
		Region:       r.Region,
	}

	for _, rule := range pol.RequiredTagsFor(r.Type) {
		value, present := r.Tags[rule.Name]
		if !present {
			v := base
			v.Kind = KindMissingRequiredTag
			v.TagName = rule.Name
			v.Severity = SeverityError
			v.AllowedValues = rule.AllowedValues
			out = append(out, v)
			continue
		}

		inSet, matches := rule.ValueAllowed(value)
		if !inSet {
			v := base
			v.Kind = KindInvalidValue
			v.TagName = rule.Name
			v.Severity = SeverityError
			v.CurrentValue = value
			v.AllowedValues = rule.AllowedValues
			out = append(out, v)
		}
		if inSet && !matches {
			v := base
			v.Kind = KindInvalidFormat
			v.TagName = rule.Name
			v.Severity = SeverityError
			v.CurrentValue = value
			out = append(out, v)
		}
	}

	if pol.Naming.Enforced {
		out = append(out, s.checkNaming(base, r, pol.Naming)...)
	}
	return out
}

// checkNaming applies the policy naming rules as warnings.
func (s *Service) checkNaming(base Violation, r resource.Resource, rules policy.NamingRules) []Violation {
	var out []Violation
	for key, value := range r.Tags {
		var reason string
		switch {
		case rules.MaxKeyLength > 0 && len(key) > rules.MaxKeyLength:
			reason = "key-too-long"
		case rules.MaxValueLength > 0 && len(value) > rules.MaxValueLength:
			reason = "value-too-long"
		case !caseMatches(key, rules.Case):
			reason = "key-case"
		}
		if reason == "" {
			continue
		}
		v := base
		v.Kind = KindNamingRule
		v.TagName = key
		v.Severity = SeverityWarning
		v.CurrentValue = reason
		out = append(out, v)
	}
	return out
}

func caseMatches(key, style string) bool {
	switch style {
	case "lower":
		return key == strings.ToLower(key)
	case "upper":
		return key == strings.ToUpper(key)
	case "pascal":
		if key == "" {
			return true
		}
		return unicode.IsUpper(rune(key[0]))
	default:
		return true
	}
}

func included(sev Severity, filter SeverityFilter) bool {
	switch filter {
	case FilterErrorsOnly:
		return sev == SeverityError
	case FilterWarningsOnly:
		return sev == SeverityWarning
	default:
		return true
	}
}

// SortViolations orders deterministically: severity descending (errors
// first), then resource id, then tag name.
func SortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Severity != vs[j].Severity {
			return vs[i].Severity == SeverityError
		}
		if vs[i].ResourceID != vs[j].ResourceID {
			return vs[i].ResourceID < vs[j].ResourceID
		}
		return vs[i].TagName < vs[j].TagName
	})
}
