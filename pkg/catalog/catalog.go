// Package catalog classifies every supported resource type and maps it to the
// Cost Explorer service name used for cost attribution.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Category buckets a resource type for cost attribution.
type Category string

const (
	// CategoryCostGenerating types carry a monthly cost worth attributing.
	CategoryCostGenerating Category = "cost-generating"
	// CategoryFree types are tagged but never billed (security groups, ...).
	CategoryFree Category = "free"
	// CategoryUnattributable services bill at the account level and cannot be
	// split across individual resources.
	CategoryUnattributable Category = "unattributable"
	// CategoryGlobal types live outside any region.
	CategoryGlobal Category = "global"
)

// TypeInfo describes one supported resource type.
type TypeInfo struct {
	Type            string   `json:"type"` // canonical "service:kind"
	Category        Category `json:"category"`
	CostServiceName string   `json:"cost_service_name,omitempty"`
}

type catalogFile struct {
	Types    []TypeInfo `json:"resource_types"`
	Excluded []string   `json:"excluded,omitempty"`
}

// Catalog is an immutable lookup over the resource-type config.
type Catalog struct {
	byType   map[string]TypeInfo
	excluded map[string]bool
}

// Load reads the catalog JSON from disk. The file is read once at startup;
// the returned value is immutable.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource-type catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse resource-type catalog: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("resource-type catalog declares no types")
	}

	c := &Catalog{
		byType:   make(map[string]TypeInfo, len(f.Types)),
		excluded: make(map[string]bool, len(f.Excluded)),
	}
	for _, t := range f.Types {
		if t.Type == "" {
			return nil, fmt.Errorf("resource-type catalog entry missing type string")
		}
		switch t.Category {
		case CategoryCostGenerating, CategoryFree, CategoryUnattributable, CategoryGlobal:
		default:
			return nil, fmt.Errorf("resource type %s: unknown category %q", t.Type, t.Category)
		}
		c.byType[t.Type] = t
	}
	for _, e := range f.Excluded {
		c.excluded[e] = true
	}
	return c, nil
}

// Default returns the built-in catalog covering the supported AWS services.
func Default() *Catalog {
	c := &Catalog{byType: map[string]TypeInfo{}, excluded: map[string]bool{}}
	for _, t := range defaultTypes {
		c.byType[t.Type] = t
	}
	return c
}

// CategoryOf returns the category of a type, defaulting unknown types to
// cost-generating so they are never silently dropped from a scan.
func (c *Catalog) CategoryOf(resourceType string) Category {
	if t, ok := c.byType[resourceType]; ok {
		return t.Category
	}
	return CategoryCostGenerating
}

// CostServiceName maps a resource type to its Cost Explorer SERVICE dimension
// value. Empty for types with no cost mapping.
func (c *Catalog) CostServiceName(resourceType string) string {
	return c.byType[resourceType].CostServiceName
}

// Known reports whether the type appears in the catalog.
func (c *Catalog) Known(resourceType string) bool {
	_, ok := c.byType[resourceType]
	return ok
}

// IsGlobalType reports whether resources of this type live in the synthetic
// global region.
func (c *Catalog) IsGlobalType(resourceType string) bool {
	return c.byType[resourceType].Category == CategoryGlobal
}

// AllTypes returns every catalogued type, sorted.
func (c *Catalog) AllTypes() []string {
	out := make([]string, 0, len(c.byType))
	for name := range c.byType {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AllApplicableTypes returns the sorted union of cost-generating and free
// types, minus explicit exclusions. This is the default scan universe.
func (c *Catalog) AllApplicableTypes() []string {
	var out []string
	for name, t := range c.byType {
		if c.excluded[name] {
			continue
		}
		if t.Category == CategoryCostGenerating || t.Category == CategoryFree {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// GlobalTypes returns the sorted set of types that live in the synthetic
// global region. The scanner appends these unconditionally; they ignore every
// region filter.
func (c *Catalog) GlobalTypes() []string {
	var out []string
	for name, t := range c.byType {
		if t.Category == CategoryGlobal && !c.excluded[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

var defaultTypes = []TypeInfo{
	{Type: "ec2:instance", Category: CategoryCostGenerating, CostServiceName: "Amazon Elastic Compute Cloud - Compute"},
	{Type: "ec2:volume", Category: CategoryCostGenerating, CostServiceName: "Amazon Elastic Compute Cloud - Compute"},
	{Type: "ec2:natgateway", Category: CategoryCostGenerating, CostServiceName: "Amazon Elastic Compute Cloud - Compute"},
	{Type: "ec2:security-group", Category: CategoryFree},
	{Type: "ec2:vpc", Category: CategoryFree},
	{Type: "ec2:subnet", Category: CategoryFree},
	{Type: "rds:db", Category: CategoryCostGenerating, CostServiceName: "Amazon Relational Database Service"},
	{Type: "lambda:function", Category: CategoryCostGenerating, CostServiceName: "AWS Lambda"},
	{Type: "dynamodb:table", Category: CategoryCostGenerating, CostServiceName: "Amazon DynamoDB"},
	{Type: "ecs:cluster", Category: CategoryCostGenerating, CostServiceName: "Amazon Elastic Container Service"},
	{Type: "ecs:service", Category: CategoryCostGenerating, CostServiceName: "Amazon Elastic Container Service"},
	{Type: "elasticache:cluster", Category: CategoryCostGenerating, CostServiceName: "Amazon ElastiCache"},
	{Type: "s3:bucket", Category: CategoryGlobal, CostServiceName: "Amazon Simple Storage Service"},
	{Type: "iam:role", Category: CategoryGlobal},
	{Type: "iam:user", Category: CategoryGlobal},
	{Type: "iam:policy", Category: CategoryGlobal},
	{Type: "cloudfront:distribution", Category: CategoryGlobal, CostServiceName: "Amazon CloudFront"},
	{Type: "route53:hostedzone", Category: CategoryGlobal, CostServiceName: "Amazon Route 53"},
	{Type: "cloudtrail:trail", Category: CategoryUnattributable, CostServiceName: "AWS CloudTrail"},
	{Type: "support:plan", Category: CategoryUnattributable, CostServiceName: "AWS Support (Business)"},
}
