// Package config loads the process configuration: defaults, then an optional
// YAML file, then TAGWARDEN_-prefixed environment variables. Out-of-range
// values are clamped to their documented bounds rather than rejected.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults and bounds.
const (
	DefaultRegion     = "us-east-1"
	DefaultCostRegion = "us-east-1"

	DefaultMaxConcurrentRegions = 5
	MinConcurrentRegions        = 1
	MaxConcurrentRegions        = 20

	DefaultRegionTimeoutSeconds = 60
	MinRegionTimeoutSeconds     = 10
	MaxRegionTimeoutSeconds     = 300

	DefaultComplianceTTLSeconds = 3600
	MinComplianceTTLSeconds     = 60
	MaxComplianceTTLSeconds     = 86400

	DefaultRegionCacheTTLSeconds = 3600
	DefaultCacheTTLSeconds       = 3600
	DefaultSessionBudget         = 100
	DefaultSessionBudgetTTL      = 3600
	DefaultMaxIdenticalCalls     = 3
	DefaultLoopWindowSeconds     = 120
	DefaultCallIntervalMS        = 100
)

// Config is the process-scoped configuration, read once at startup.
type Config struct {
	CostRegion    string `mapstructure:"cost_region"`
	DefaultRegion string `mapstructure:"default_region"`
	Profile       string `mapstructure:"profile"`

	PolicyPath              string `mapstructure:"policy_path"`
	ResourceTypesConfigPath string `mapstructure:"resource_types_config_path"`

	CacheURL        string `mapstructure:"cache_url"`
	CachePassword   string `mapstructure:"cache_password"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`

	HistoryStorePath string `mapstructure:"history_store_path"`
	AuditStorePath   string `mapstructure:"audit_store_path"`

	AllowedRegions            []string `mapstructure:"allowed_regions"`
	MaxConcurrentRegions      int      `mapstructure:"max_concurrent_regions"`
	RegionScanTimeoutSeconds  int      `mapstructure:"region_scan_timeout_seconds"`
	RegionCacheTTLSeconds     int      `mapstructure:"region_cache_ttl_seconds"`
	ComplianceCacheTTLSeconds int      `mapstructure:"compliance_cache_ttl_seconds"`

	CallIntervalMS int `mapstructure:"call_interval_ms"`

	// Guardrails. Feature toggles default to disabled so upgrades never
	// change behaviour on their own.
	BudgetTrackingEnabled   bool `mapstructure:"budget_tracking_enabled"`
	MaxToolCallsPerSession  int  `mapstructure:"max_tool_calls_per_session"`
	SessionBudgetTTLSeconds int  `mapstructure:"session_budget_ttl_seconds"`

	LoopDetectionEnabled       bool `mapstructure:"loop_detection_enabled"`
	MaxIdenticalCalls          int  `mapstructure:"max_identical_calls"`
	LoopDetectionWindowSeconds int  `mapstructure:"loop_detection_window_seconds"`

	SecurityMonitoringEnabled   bool `mapstructure:"security_monitoring_enabled"`
	RequestSanitizationEnabled  bool `mapstructure:"request_sanitization_enabled"`
	CostAnalysisEnabled         bool `mapstructure:"cost_analysis_enabled"`
	ToolExecutionTimeoutSeconds int  `mapstructure:"tool_execution_timeout_seconds"`

	OTELEndpoint string `mapstructure:"otel_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
}

// Load reads configuration from the optional file path plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TAGWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cost_region", DefaultCostRegion)
	v.SetDefault("default_region", DefaultRegion)
	v.SetDefault("policy_path", "config/tag-policy.json")
	v.SetDefault("resource_types_config_path", "")
	v.SetDefault("cache_url", "redis://localhost:6379/0")
	v.SetDefault("cache_ttl_seconds", DefaultCacheTTLSeconds)
	v.SetDefault("history_store_path", "tagwarden-history.db")
	v.SetDefault("audit_store_path", "tagwarden-audit.db")
	v.SetDefault("max_concurrent_regions", DefaultMaxConcurrentRegions)
	v.SetDefault("region_scan_timeout_seconds", DefaultRegionTimeoutSeconds)
	v.SetDefault("region_cache_ttl_seconds", DefaultRegionCacheTTLSeconds)
	v.SetDefault("compliance_cache_ttl_seconds", DefaultComplianceTTLSeconds)
	v.SetDefault("call_interval_ms", DefaultCallIntervalMS)
	v.SetDefault("budget_tracking_enabled", false)
	v.SetDefault("max_tool_calls_per_session", DefaultSessionBudget)
	v.SetDefault("session_budget_ttl_seconds", DefaultSessionBudgetTTL)
	v.SetDefault("loop_detection_enabled", false)
	v.SetDefault("max_identical_calls", DefaultMaxIdenticalCalls)
	v.SetDefault("loop_detection_window_seconds", DefaultLoopWindowSeconds)
	v.SetDefault("security_monitoring_enabled", false)
	v.SetDefault("request_sanitization_enabled", false)
	v.SetDefault("cost_analysis_enabled", false)
	v.SetDefault("tool_execution_timeout_seconds", 300)
	v.SetDefault("log_level", "info")
}

// clamp pulls every ranged option back inside its documented bounds.
func (c *Config) clamp() {
	c.MaxConcurrentRegions = clampInt(c.MaxConcurrentRegions, MinConcurrentRegions, MaxConcurrentRegions)
	c.RegionScanTimeoutSeconds = clampInt(c.RegionScanTimeoutSeconds, MinRegionTimeoutSeconds, MaxRegionTimeoutSeconds)
	c.ComplianceCacheTTLSeconds = clampInt(c.ComplianceCacheTTLSeconds, MinComplianceTTLSeconds, MaxComplianceTTLSeconds)
	if c.MaxToolCallsPerSession <= 0 {
		c.MaxToolCallsPerSession = DefaultSessionBudget
	}
	if c.MaxIdenticalCalls <= 0 {
		c.MaxIdenticalCalls = DefaultMaxIdenticalCalls
	}
	if c.CallIntervalMS <= 0 {
		c.CallIntervalMS = DefaultCallIntervalMS
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Derived durations.

func (c *Config) RegionTimeout() time.Duration {
	return time.Duration(c.RegionScanTimeoutSeconds) * time.Second
}

func (c *Config) ComplianceTTL() time.Duration {
	return time.Duration(c.ComplianceCacheTTLSeconds) * time.Second
}

func (c *Config) RegionCacheTTL() time.Duration {
	return time.Duration(c.RegionCacheTTLSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) CallInterval() time.Duration {
	return time.Duration(c.CallIntervalMS) * time.Millisecond
}

func (c *Config) SessionBudgetTTL() time.Duration {
	return time.Duration(c.SessionBudgetTTLSeconds) * time.Second
}

func (c *Config) LoopWindow() time.Duration {
	return time.Duration(c.LoopDetectionWindowSeconds) * time.Second
}

func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolExecutionTimeoutSeconds) * time.Second
}
