package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const validPolicy = `{
	"version": "2026-08-01",
	"required_tags": [
		{"name": "CostCenter", "allowed_values": ["Engineering", "Marketing"]},
		{"name": "Owner", "pattern": "[a-z][a-z0-9-]+"},
		{"name": "DataClassification", "applies_to": ["s3:bucket", "rds:db"]}
	],
	"optional_tags": [{"name": "Project"}],
	"naming_rules": {"enforced": true, "case": "pascal", "max_key_length": 128}
}`

func TestParseValid(t *testing.T) {
	p, err := Parse([]byte(validPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Version != "2026-08-01" || len(p.RequiredTags) != 3 {
		t.Fatalf("policy = %+v", p)
	}
	// Absent cost_attribution_tags fall back to the standard triple.
	if len(p.CostAttributionTags) != 3 || p.CostAttributionTags[0] != "CostCenter" {
		t.Fatalf("cost attribution tags = %v", p.CostAttributionTags)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"not json", `{]`, "document"},
		{"missing version", `{"required_tags": [{"name": "Owner"}]}`, "version"},
		{"no required tags", `{"version": "v1", "required_tags": []}`, "required_tags"},
		{"unnamed rule", `{"version": "v1", "required_tags": [{"allowed_values": ["x"]}]}`, "tag"},
		{"duplicate rule", `{"version": "v1", "required_tags": [{"name": "Owner"}, {"name": "Owner"}]}`, "Owner"},
		{"bad pattern", `{"version": "v1", "required_tags": [{"name": "Owner", "pattern": "["}]}`, "Owner"},
		{"bad case style", `{"version": "v1", "required_tags": [{"name": "Owner"}], "naming_rules": {"case": "camel"}}`, "naming_rules.case"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.doc))
		if err == nil {
			t.Errorf("%s: accepted", tc.name)
			continue
		}
		ve, ok := err.(*ValidationError)
		if !ok {
			t.Errorf("%s: error type %T", tc.name, err)
			continue
		}
		if ve.Field != tc.field {
			t.Errorf("%s: field = %q, want %q", tc.name, ve.Field, tc.field)
		}
	}
}

func TestAppliesToType(t *testing.T) {
	p, err := Parse([]byte(validPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	dc, _ := p.Rule("DataClassification")
	if dc.AppliesToType("ec2:instance") {
		t.Error("scoped rule applied outside its list")
	}
	if !dc.AppliesToType("s3:bucket") {
		t.Error("scoped rule missed its own type")
	}

	owner, _ := p.Rule("Owner")
	if !owner.AppliesToType("anything:at-all") {
		t.Error("unscoped rule must apply everywhere")
	}
}

func TestValueAllowed(t *testing.T) {
	p, err := Parse([]byte(validPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cc, _ := p.Rule("CostCenter")
	if inSet, _ := cc.ValueAllowed("Engineering"); !inSet {
		t.Error("listed value rejected")
	}
	if inSet, _ := cc.ValueAllowed("engineering"); inSet {
		t.Error("allowed-value match must be case-sensitive")
	}

	owner, _ := p.Rule("Owner")
	if _, matches := owner.ValueAllowed("platform-team"); !matches {
		t.Error("conforming value rejected by pattern")
	}
	if _, matches := owner.ValueAllowed("Platform"); matches {
		t.Error("pattern must be anchored over the whole value")
	}
	// Substring matches must not pass: the pattern has to cover everything.
	if _, matches := owner.ValueAllowed("ab cd"); matches {
		t.Error("partial match accepted")
	}
}

func TestRequiredTagsFor(t *testing.T) {
	p, err := Parse([]byte(validPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ec2 := p.RequiredTagsFor("ec2:instance")
	if len(ec2) != 2 {
		t.Fatalf("ec2 rules = %d, want 2", len(ec2))
	}
	s3 := p.RequiredTagsFor("s3:bucket")
	if len(s3) != 3 {
		t.Fatalf("s3 rules = %d, want 3", len(s3))
	}
}

func TestAttributionRulesUnknownName(t *testing.T) {
	p, err := Parse([]byte(`{
		"version": "v1",
		"required_tags": [{"name": "Owner"}],
		"cost_attribution_tags": ["Owner", "Team"]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	rules := p.AttributionRules()
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	// The unknown name degrades to a bare presence check.
	if rules[1].Name != "Team" || len(rules[1].AllowedValues) != 0 {
		t.Fatalf("unknown-name rule = %+v", rules[1])
	}
}

func TestStoreLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, []byte(validPolicy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.Version() != "2026-08-01" {
		t.Fatalf("version = %s", s.Version())
	}

	// A broken rewrite keeps the old snapshot live.
	if err := os.WriteFile(path, []byte(`{"version": ""}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("broken policy reloaded without error")
	}
	if s.Version() != "2026-08-01" {
		t.Fatal("broken reload replaced the live snapshot")
	}

	// A good rewrite swaps it.
	good := `{"version": "v2", "required_tags": [{"name": "Owner"}]}`
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Version() != "v2" {
		t.Fatalf("version after reload = %s", s.Version())
	}
}

func TestStoreMissingFile(t *testing.T) {
	if _, err := NewStore(filepath.Join(t.TempDir(), "absent.json"), nil); err == nil {
		t.Fatal("missing policy file accepted")
	}
}
