package tools

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Argument schemas, compiled once at startup. Every schema closes the object
// with additionalProperties=false so unknown fields are rejected rather than
// ignored.
var schemaSources = map[string]string{
	"check_tag_compliance": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"resource_types": {
				"type": "array", "maxItems": 100, "uniqueItems": true,
				"items": {"type": "string", "minLength": 1, "maxLength": 100}
			},
			"regions": {
				"type": "array", "maxItems": 100, "uniqueItems": true,
				"items": {"type": "string", "minLength": 1, "maxLength": 64}
			},
			"filters": {
				"type": "object", "maxProperties": 50,
				"additionalProperties": {"type": "string", "maxLength": 1000}
			},
			"severity": {"type": "string", "enum": ["errors_only", "warnings_only", "all"]},
			"store_snapshot": {"type": "boolean"},
			"force_refresh": {"type": "boolean"}
		}
	}`,
	"find_untagged_resources": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"resource_types": {
				"type": "array", "maxItems": 100, "uniqueItems": true,
				"items": {"type": "string", "minLength": 1, "maxLength": 100}
			},
			"regions": {
				"type": "array", "maxItems": 100, "uniqueItems": true,
				"items": {"type": "string", "minLength": 1, "maxLength": 64}
			},
			"min_cost_threshold": {"type": "number", "minimum": 0}
		}
	}`,
	"validate_resource_tags": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["resource_arns"],
		"properties": {
			"resource_arns": {
				"type": "array", "minItems": 1, "maxItems": 100, "uniqueItems": true,
				"items": {"type": "string", "minLength": 1, "maxLength": 1000}
			}
		}
	}`,
	"get_cost_attribution_gap": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["time_period"],
		"properties": {
			"time_period": {"type": "string", "enum": ["7d", "30d", "90d", "month_to_date", "last_month"]},
			"grouping": {"type": "string", "enum": ["by_resource_type", "by_region", "by_account"]}
		}
	}`,
	"suggest_tags": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["resource_arn"],
		"properties": {
			"resource_arn": {"type": "string", "minLength": 1, "maxLength": 1000}
		}
	}`,
	"get_tagging_policy": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {}
	}`,
	"generate_compliance_report": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["format"],
		"properties": {
			"format": {"type": "string", "enum": ["json", "csv", "markdown"]},
			"include_recommendations": {"type": "boolean"}
		}
	}`,
	"get_violation_history": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["days_back"],
		"properties": {
			"days_back": {"type": "integer", "minimum": 1, "maximum": 365},
			"group_by": {"type": "string", "enum": ["day", "week", "month"]}
		}
	}`,
}

// enumStringFields maps tool name to the fields eligible for single-element
// array auto-unwrapping. Some clients over-wrap enum strings.
var enumStringFields = map[string][]string{
	"check_tag_compliance":       {"severity"},
	"get_cost_attribution_gap":   {"time_period", "grouping"},
	"generate_compliance_report": {"format"},
	"get_violation_history":      {"group_by"},
}

// compileSchemas builds the validator set. Called once from NewDispatcher; a
// bad schema is a programming error and fails startup.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for tool, src := range schemaSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		if err := c.AddResource(tool+".json", strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", tool, err)
		}
		schema, err := c.Compile(tool + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", tool, err)
		}
		out[tool] = schema
	}
	return out, nil
}

// unwrapEnumArrays rewrites single-element string arrays to their element for
// the tool's enum string fields, in place.
func unwrapEnumArrays(tool string, args map[string]any) {
	for _, field := range enumStringFields[tool] {
		if list, ok := args[field].([]any); ok && len(list) == 1 {
			if s, ok := list[0].(string); ok {
				args[field] = s
			}
		}
	}
}

// validationDetail extracts the offending field path and reason from a
// jsonschema validation error.
func validationDetail(err error) (field, reason string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", err.Error()
	}
	// Walk to the most specific cause.
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field = strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		field = "(root)"
	}
	return field, ve.Message
}
