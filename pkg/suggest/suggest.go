// Package suggest proposes values for missing policy tags. Heuristics are
// ranked by specificity: neighbourhood majority first, then name-token
// matching against allowed values, then the policy's declared default.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/resource"
)

// CloudAPI is the slice of the cloud client the suggester needs.
type CloudAPI interface {
	GetTagsForARNs(ctx context.Context, arns []string) (map[string]map[string]string, error)
	ListResources(ctx context.Context, types []string) ([]resource.Resource, error)
}

// ClientSource produces a region-bound CloudAPI.
type ClientSource func(ctx context.Context, region string) (CloudAPI, error)

// Suggestion is one proposed tag value with its supporting evidence.
type Suggestion struct {
	TagName    string  `json:"tag_name"`
	Value      string  `json:"suggested_value"`
	Confidence float64 `json:"confidence"` // in (0,1]
	Reasoning  string  `json:"reasoning"`
}

// Result is the suggestion set for one resource.
type Result struct {
	ARN          string            `json:"arn"`
	ResourceType string            `json:"resource_type"`
	Region       string            `json:"region"`
	CurrentTags  map[string]string `json:"current_tags"`
	Suggestions  []Suggestion      `json:"suggestions"`
}

// Service implements tag suggestion.
type Service struct {
	clients       ClientSource
	defaultRegion string
	logger        *slog.Logger
	tracer        trace.Tracer
}

// New builds a suggestion service. defaultRegion serves global ARNs whose
// region field is empty.
func New(clients ClientSource, defaultRegion string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clients:       clients,
		defaultRegion: defaultRegion,
		logger:        logger,
		tracer:        otel.Tracer("tagwarden/suggest"),
	}
}

// Confidence floors for the weaker heuristics. Majority confidence is the
// observed share of the winning value, never below the name-token floor.
const (
	nameTokenConfidence = 0.5
	defaultConfidence   = 0.3
)

// SuggestTags proposes a value for every policy tag the resource is missing.
// Tags with no usable evidence produce no suggestion rather than a guess.
func (s *Service) SuggestTags(ctx context.Context, arn string, pol *policy.TagPolicy) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "Suggest.SuggestTags",
		trace.WithAttributes(attribute.String("arn", arn)))
	defer span.End()

	parts, err := resource.ParseARN(arn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	rtype := parts.TypeString()

	region := parts.Region
	if region == "" {
		region = s.defaultRegion
	}
	client, err := s.clients(ctx, region)
	if err != nil {
		return nil, err
	}

	tagsByARN, err := client.GetTagsForARNs(ctx, []string{arn})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	current := tagsByARN[arn]
	if current == nil {
		current = map[string]string{}
	}

	neighbours := s.neighbourhood(ctx, client, arn, rtype)

	res := &Result{
		ARN:          arn,
		ResourceType: rtype,
		Region:       parts.Region,
		CurrentTags:  current,
	}
	if parts.Region == "" {
		res.Region = resource.GlobalRegion
	}

	for _, rule := range pol.RequiredTagsFor(rtype) {
		if v, ok := current[rule.Name]; ok && v != "" {
			continue
		}
		if sg, ok := s.propose(rule, neighbours, current); ok {
			res.Suggestions = append(res.Suggestions, sg)
		}
	}

	sort.SliceStable(res.Suggestions, func(i, j int) bool {
		if res.Suggestions[i].Confidence != res.Suggestions[j].Confidence {
			return res.Suggestions[i].Confidence > res.Suggestions[j].Confidence
		}
		return res.Suggestions[i].TagName < res.Suggestions[j].TagName
	})
	span.SetAttributes(attribute.Int("suggest.count", len(res.Suggestions)))
	return res, nil
}

// neighbourhood lists same-type resources near the target: same region and,
// when names are available, sharing the target's name prefix. Failure is not
// fatal; the weaker heuristics still run.
func (s *Service) neighbourhood(ctx context.Context, client CloudAPI, arn, rtype string) []resource.Resource {
	all, err := client.ListResources(ctx, []string{rtype})
	if err != nil {
		s.logger.Warn("neighbourhood lookup failed, falling back to policy defaults",
			"arn", arn, "error", err)
		return nil
	}

	var self *resource.Resource
	for i := range all {
		if all[i].ARN == arn {
			self = &all[i]
			break
		}
	}

	var out []resource.Resource
	prefix := ""
	if self != nil {
		prefix = namePrefix(self.DisplayName())
	}
	for _, r := range all {
		if r.ARN == arn {
			continue
		}
		if prefix != "" && namePrefix(r.DisplayName()) != prefix {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 && prefix != "" {
		// Prefix filter emptied the pool; widen back to the whole region.
		for _, r := range all {
			if r.ARN != arn {
				out = append(out, r)
			}
		}
	}
	return out
}

// namePrefix extracts the leading token of a resource name, the part teams
// conventionally share ("payments" in "payments-api-prod-1").
func namePrefix(name string) string {
	if i := strings.IndexAny(name, "-_."); i > 0 {
		return strings.ToLower(name[:i])
	}
	return strings.ToLower(name)
}

func (s *Service) propose(rule policy.TagRule, neighbours []resource.Resource, current map[string]string) (Suggestion, bool) {
	if value, share, n, total := majorityValue(rule.Name, neighbours); n > 0 {
		conf := share
		if conf < nameTokenConfidence {
			conf = nameTokenConfidence
		}
		return Suggestion{
			TagName:    rule.Name,
			Value:      value,
			Confidence: conf,
			Reasoning: fmt.Sprintf("%d of %d similar resources carry %s=%s",
				n, total, rule.Name, value),
		}, true
	}

	if value, token := nameTokenMatch(rule, current); value != "" {
		return Suggestion{
			TagName:    rule.Name,
			Value:      value,
			Confidence: nameTokenConfidence,
			Reasoning: fmt.Sprintf("resource name token %q matches allowed value %s",
				token, value),
		}, true
	}

	if rule.DefaultValue != "" {
		return Suggestion{
			TagName:    rule.Name,
			Value:      rule.DefaultValue,
			Confidence: defaultConfidence,
			Reasoning:  fmt.Sprintf("tagging policy declares default value %s for %s", rule.DefaultValue, rule.Name),
		}, true
	}
	return Suggestion{}, false
}

// majorityValue returns the most common non-empty value of the tag among
// neighbours and its share of the tagged population. Ties break
// alphabetically so the pick is deterministic.
func majorityValue(tag string, neighbours []resource.Resource) (value string, share float64, count, total int) {
	counts := map[string]int{}
	for _, r := range neighbours {
		if v := r.Tags[tag]; v != "" {
			counts[v]++
			total++
		}
	}
	if total == 0 {
		return "", 0, 0, 0
	}
	for v, n := range counts {
		if n > count || (n == count && v < value) {
			value, count = v, n
		}
	}
	return value, float64(count) / float64(total), count, total
}

// nameTokenMatch scans the resource's Name tag tokens for a case-insensitive
// match against the rule's allowed values.
func nameTokenMatch(rule policy.TagRule, current map[string]string) (value, token string) {
	name := current["Name"]
	if name == "" || len(rule.AllowedValues) == 0 {
		return "", ""
	}
	for _, tok := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	}) {
		for _, allowed := range rule.AllowedValues {
			if tok == strings.ToLower(allowed) {
				return allowed, tok
			}
		}
	}
	return "", ""
}
