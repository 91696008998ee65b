package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DefaultRegion != "us-east-1" || cfg.CostRegion != "us-east-1" {
		t.Fatalf("regions = %s/%s", cfg.DefaultRegion, cfg.CostRegion)
	}
	if cfg.MaxConcurrentRegions != 5 {
		t.Fatalf("max_concurrent_regions = %d", cfg.MaxConcurrentRegions)
	}
	if cfg.RegionTimeout() != 60*time.Second {
		t.Fatalf("region timeout = %v", cfg.RegionTimeout())
	}
	if cfg.ComplianceTTL() != time.Hour {
		t.Fatalf("compliance ttl = %v", cfg.ComplianceTTL())
	}
	if cfg.MaxToolCallsPerSession != 100 || cfg.MaxIdenticalCalls != 3 {
		t.Fatalf("guardrail defaults = %d/%d", cfg.MaxToolCallsPerSession, cfg.MaxIdenticalCalls)
	}

	// Every feature toggle ships disabled.
	if cfg.BudgetTrackingEnabled || cfg.LoopDetectionEnabled ||
		cfg.SecurityMonitoringEnabled || cfg.RequestSanitizationEnabled ||
		cfg.CostAnalysisEnabled {
		t.Fatal("a feature toggle defaults to enabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
cost_region: eu-central-1
max_concurrent_regions: 10
budget_tracking_enabled: true
allowed_regions:
  - eu-central-1
  - eu-west-1
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CostRegion != "eu-central-1" || cfg.MaxConcurrentRegions != 10 {
		t.Fatalf("file values = %s/%d", cfg.CostRegion, cfg.MaxConcurrentRegions)
	}
	if !cfg.BudgetTrackingEnabled {
		t.Fatal("file toggle ignored")
	}
	if len(cfg.AllowedRegions) != 2 {
		t.Fatalf("allowed_regions = %v", cfg.AllowedRegions)
	}
	// Unset keys keep their defaults.
	if cfg.DefaultRegion != "us-east-1" {
		t.Fatalf("default_region = %s", cfg.DefaultRegion)
	}
}

func TestLoadClampsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
max_concurrent_regions: 500
region_scan_timeout_seconds: 1
compliance_cache_ttl_seconds: 999999
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentRegions != MaxConcurrentRegions {
		t.Fatalf("concurrency clamp = %d", cfg.MaxConcurrentRegions)
	}
	if cfg.RegionScanTimeoutSeconds != MinRegionTimeoutSeconds {
		t.Fatalf("timeout clamp = %d", cfg.RegionScanTimeoutSeconds)
	}
	if cfg.ComplianceCacheTTLSeconds != MaxComplianceTTLSeconds {
		t.Fatalf("ttl clamp = %d", cfg.ComplianceCacheTTLSeconds)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TAGWARDEN_COST_REGION", "ap-southeast-2")
	t.Setenv("TAGWARDEN_MAX_CONCURRENT_REGIONS", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CostRegion != "ap-southeast-2" {
		t.Fatalf("env cost_region = %s", cfg.CostRegion)
	}
	if cfg.MaxConcurrentRegions != 8 {
		t.Fatalf("env max_concurrent_regions = %d", cfg.MaxConcurrentRegions)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file accepted")
	}
}
