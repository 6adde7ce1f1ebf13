// Package config loads and validates the single YAML configuration tree the
// bot runs from. Decoding is strict: unknown keys are errors, and ${VAR}
// references are expanded from the environment before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/michael_scarn/internal/capital"
	"github.com/eddiefleurent/michael_scarn/internal/strategy"
	"github.com/eddiefleurent/michael_scarn/internal/trailing"
)

const (
	// defaultCycleInterval paces the orchestrator when schedule.cycle_interval
	// is unset.
	defaultCycleInterval = 5 * time.Minute
	// defaultContingencyMaxWait bounds how long a CONTINGENCY limit exit may
	// work before escalating to market.
	defaultContingencyMaxWait = 3 * time.Minute
)

// Config represents the complete application configuration.
type Config struct {
	Environment   EnvironmentConfig    `yaml:"environment"`
	Broker        BrokerConfig         `yaml:"broker"`
	Storage       StorageConfig        `yaml:"storage"`
	Schedule      ScheduleConfig       `yaml:"schedule"`
	Orchestration OrchestrationConfig  `yaml:"strategy_orchestration"`
	MarketData    MarketDataConfig     `yaml:"market_data_providers"`
	Capital       CapitalConfig        `yaml:"capital_management"`
	Strategies    map[string]yaml.Node `yaml:"strategies"`
	Trailing      trailing.Config      `yaml:"trailing"`
	MarketHours   MarketHoursConfig    `yaml:"market_hours"`
	Orders        OrdersConfig         `yaml:"orders"`
	Dashboard     DashboardConfig      `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
}

// StorageConfig locates the play store root.
type StorageConfig struct {
	Path string `yaml:"path"`
	// Account interposes an account directory between root and the status
	// partitions for multi-account installations.
	Account string `yaml:"account,omitempty"`
}

// ScheduleConfig paces the run loop and the end-of-day jobs.
type ScheduleConfig struct {
	CycleInterval string `yaml:"cycle_interval"` // e.g. "5m"
	Timezone      string `yaml:"timezone"`       // e.g. "America/New_York"
	// EODRatchetCron is a cron expression for the end-of-day trailing
	// ratchet pass, in the schedule timezone.
	EODRatchetCron string `yaml:"eod_ratchet_cron"`
	// MaxCycles stops the loop after N cycles; 0 runs forever. Testing knob.
	MaxCycles int `yaml:"max_cycles"`
}

// OrchestrationConfig selects how strategies execute within a cycle.
type OrchestrationConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Mode               string `yaml:"mode"` // sequential | parallel
	MaxParallelWorkers int    `yaml:"max_parallel_workers"`
	DryRun             bool   `yaml:"dry_run"`
}

// ProviderConfig configures one market-data vendor.
type ProviderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	APIKey      string `yaml:"api_key,omitempty"`
	APIEndpoint string `yaml:"api_endpoint,omitempty"`
}

// FallbackConfig orders the vendors tried after the primary fails.
type FallbackConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Order       []string `yaml:"order"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// CacheConfig bounds the per-cycle market-data cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxItems int  `yaml:"max_items"`
}

// MarketDataConfig assembles the provider stack.
type MarketDataConfig struct {
	PrimaryProvider string                    `yaml:"primary_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Fallback        FallbackConfig            `yaml:"fallback"`
	Cache           CacheConfig               `yaml:"cache"`
}

// CapitalConfig wraps the global caps with the per-playbook risk limits.
type CapitalConfig struct {
	capital.Config `yaml:",inline"`
	Playbooks      map[string]capital.RiskLimits `yaml:"playbooks,omitempty"`
}

// MarketHoursConfig defines the regular trading session.
type MarketHoursConfig struct {
	RegularHours SessionHours `yaml:"regular_hours"`
	Timezone     string       `yaml:"timezone,omitempty"`
}

// SessionHours is an HH:MM open/close pair.
type SessionHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// OrdersConfig tunes the order executor.
type OrdersConfig struct {
	ContingencyMaxWait string `yaml:"contingency_max_wait"` // e.g. "3m"
}

// DashboardConfig configures the read-only status server.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	switch c.Orchestration.Mode {
	case "", "sequential":
	case "parallel":
		if c.Orchestration.MaxParallelWorkers <= 0 {
			return fmt.Errorf("strategy_orchestration.max_parallel_workers must be > 0 in parallel mode")
		}
	default:
		return fmt.Errorf("strategy_orchestration.mode must be 'sequential' or 'parallel'")
	}

	if c.MarketData.PrimaryProvider == "" {
		return fmt.Errorf("market_data_providers.primary_provider is required")
	}
	primary, ok := c.MarketData.Providers[c.MarketData.PrimaryProvider]
	if !ok {
		return fmt.Errorf("market_data_providers.primary_provider %q has no providers entry",
			c.MarketData.PrimaryProvider)
	}
	if !primary.Enabled {
		return fmt.Errorf("primary provider %q is disabled", c.MarketData.PrimaryProvider)
	}
	for _, name := range c.MarketData.Fallback.Order {
		if _, ok := c.MarketData.Providers[name]; !ok {
			return fmt.Errorf("fallback provider %q has no providers entry", name)
		}
	}
	if c.MarketData.Cache.Enabled && c.MarketData.Cache.MaxItems <= 0 {
		return fmt.Errorf("market_data_providers.cache.max_items must be > 0 when the cache is enabled")
	}

	for name := range c.Strategies {
		if !knownStrategy(name) {
			return fmt.Errorf("strategies.%s is not a registered strategy (have %s)",
				name, strings.Join(strategy.Names(), ", "))
		}
	}

	if c.Trailing.Enabled && c.Trailing.ActivationThresholdPct < 0 {
		return fmt.Errorf("trailing.activation_threshold_pct must be >= 0")
	}
	switch c.Trailing.UpdateMode {
	case "", "eod", "cycle":
	default:
		return fmt.Errorf("trailing.update_mode must be 'eod' or 'cycle'")
	}

	if c.Schedule.CycleInterval != "" {
		if _, err := time.ParseDuration(c.Schedule.CycleInterval); err != nil {
			return fmt.Errorf("schedule.cycle_interval invalid: %w", err)
		}
	}
	if c.Orders.ContingencyMaxWait != "" {
		if _, err := time.ParseDuration(c.Orders.ContingencyMaxWait); err != nil {
			return fmt.Errorf("orders.contingency_max_wait invalid: %w", err)
		}
	}

	loc := c.sessionLocation()
	start, end := c.MarketHours.RegularHours.Start, c.MarketHours.RegularHours.End
	if start != "" || end != "" {
		s, err1 := time.ParseInLocation("15:04", start, loc)
		e, err2 := time.ParseInLocation("15:04", end, loc)
		if err1 != nil || err2 != nil ||
			s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute()) {
			return fmt.Errorf("market_hours.regular_hours invalid (start/end parse/order)")
		}
	}

	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when the dashboard is enabled")
	}
	return nil
}

func knownStrategy(name string) bool {
	for _, known := range strategy.Names() {
		if name == known {
			return true
		}
	}
	return false
}

func (c *Config) sessionLocation() *time.Location {
	tz := c.MarketHours.Timezone
	if tz == "" {
		tz = c.Schedule.Timezone
	}
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetCycleInterval returns the orchestrator pacing interval.
func (c *Config) GetCycleInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.CycleInterval)
	if err != nil || d <= 0 {
		return defaultCycleInterval
	}
	return d
}

// GetContingencyMaxWait returns the CONTINGENCY escalation window.
func (c *Config) GetContingencyMaxWait() time.Duration {
	d, err := time.ParseDuration(c.Orders.ContingencyMaxWait)
	if err != nil || d <= 0 {
		return defaultContingencyMaxWait
	}
	return d
}

// StoreRoot returns the play-store root directory. A configured account
// interposes its own directory, so multiple accounts can share one path.
func (c *Config) StoreRoot() string {
	if c.Storage.Account == "" {
		return c.Storage.Path
	}
	return filepath.Join(c.Storage.Path, c.Storage.Account)
}

// SessionHours returns the regular session bounds, defaulted to US equity
// market hours.
func (c *Config) SessionHours() (start, end string) {
	start, end = c.MarketHours.RegularHours.Start, c.MarketHours.RegularHours.End
	if start == "" {
		start = "09:30"
	}
	if end == "" {
		end = "16:00"
	}
	return start, end
}

// StrategySections converts the strategies subtree into the per-name nodes
// the strategy registry consumes.
func (c *Config) StrategySections() map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(c.Strategies))
	for name, node := range c.Strategies {
		n := node
		out[name] = &n
	}
	return out
}

// PlaybookLimits returns the risk limits for a playbook name; the zero value
// means no per-playbook overrides.
func (c *Config) PlaybookLimits(name string) capital.RiskLimits {
	return c.Capital.Playbooks[name]
}
