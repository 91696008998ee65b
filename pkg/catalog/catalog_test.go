package catalog

import (
	"sort"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	if got := c.CategoryOf("ec2:instance"); got != CategoryCostGenerating {
		t.Errorf("ec2:instance category = %s", got)
	}
	if got := c.CategoryOf("ec2:security-group"); got != CategoryFree {
		t.Errorf("security-group category = %s", got)
	}
	if got := c.CategoryOf("s3:bucket"); got != CategoryGlobal {
		t.Errorf("s3:bucket category = %s", got)
	}
	if got := c.CategoryOf("support:plan"); got != CategoryUnattributable {
		t.Errorf("support:plan category = %s", got)
	}
	// Unknown types scan as cost-generating so nothing silently drops out.
	if got := c.CategoryOf("new:thing"); got != CategoryCostGenerating {
		t.Errorf("unknown type category = %s", got)
	}

	if svc := c.CostServiceName("rds:db"); svc != "Amazon Relational Database Service" {
		t.Errorf("rds cost service = %q", svc)
	}
	if svc := c.CostServiceName("iam:role"); svc != "" {
		t.Errorf("iam cost service = %q, want empty", svc)
	}
	// Unattributable types still carry the billing service name so their
	// spend can be recognised in the cost series.
	if svc := c.CostServiceName("cloudtrail:trail"); svc != "AWS CloudTrail" {
		t.Errorf("cloudtrail cost service = %q", svc)
	}
	if svc := c.CostServiceName("support:plan"); svc != "AWS Support (Business)" {
		t.Errorf("support cost service = %q", svc)
	}
}

func TestGlobalTypes(t *testing.T) {
	c := Default()
	if !c.IsGlobalType("iam:user") || c.IsGlobalType("ec2:instance") {
		t.Fatal("global classification wrong")
	}

	globals := c.GlobalTypes()
	if !sort.StringsAreSorted(globals) {
		t.Fatal("global types not sorted")
	}
	for _, g := range globals {
		if !c.IsGlobalType(g) {
			t.Errorf("%s listed global but not classified global", g)
		}
	}
}

func TestAllApplicableTypesExcludesGlobalAndUnattributable(t *testing.T) {
	c := Default()
	for _, typ := range c.AllApplicableTypes() {
		switch c.CategoryOf(typ) {
		case CategoryGlobal, CategoryUnattributable:
			t.Errorf("%s must not be in the regional scan universe", typ)
		}
	}
}

func TestParseCatalog(t *testing.T) {
	c, err := Parse([]byte(`{
		"resource_types": [
			{"type": "ec2:instance", "category": "cost-generating", "cost_service_name": "Amazon Elastic Compute Cloud - Compute"},
			{"type": "ec2:vpc", "category": "free"}
		],
		"excluded": ["ec2:vpc"]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.Known("ec2:instance") || c.Known("rds:db") {
		t.Fatal("known set wrong")
	}
	for _, typ := range c.AllApplicableTypes() {
		if typ == "ec2:vpc" {
			t.Fatal("excluded type still in scan universe")
		}
	}
}

func TestParseCatalogRejections(t *testing.T) {
	cases := map[string]string{
		"empty set":        `{"resource_types": []}`,
		"missing type":     `{"resource_types": [{"category": "free"}]}`,
		"unknown category": `{"resource_types": [{"type": "x:y", "category": "cheap"}]}`,
		"not json":         `{]`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
