package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info
broker:
  provider: tradier
  api_key: test-key
  account_id: ACC123
storage:
  path: ./plays
schedule:
  cycle_interval: 5m
  timezone: America/New_York
  eod_ratchet_cron: "45 15 * * 1-5"
strategy_orchestration:
  enabled: true
  mode: parallel
  max_parallel_workers: 3
  dry_run: false
market_data_providers:
  primary_provider: tradier
  providers:
    tradier:
      enabled: true
      api_key: test-key
    yahoo:
      enabled: true
  fallback:
    enabled: true
    order: [yahoo]
    max_attempts: 2
  cache:
    enabled: true
    max_items: 512
capital_management:
  enabled: true
  max_total_open_positions: 10
  per_symbol_max_open_positions: 2
  max_capital_deployed_pct: 50
  buying_power_reserve_pct: 10
  playbooks:
    momentum:
      max_open_plays: 3
      max_capital_per_trade_fixed: 5000
strategies:
  long_options:
    enabled: true
    priority: 1
  cash_secured_puts:
    enabled: true
    priority: 2
    close_at_dte: 21
trailing:
  enabled: true
  activation_threshold_pct: 5
  update_mode: eod
  tp1:
    basis: profit_capture
    start_capture_pct: 10
market_hours:
  regular_hours:
    start: "09:30"
    end: "16:00"
orders:
  contingency_max_wait: 3m
dashboard:
  enabled: true
  listen_addr: 127.0.0.1:8080
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, 5*time.Minute, cfg.GetCycleInterval())
	assert.Equal(t, 3*time.Minute, cfg.GetContingencyMaxWait())
	assert.Equal(t, "parallel", cfg.Orchestration.Mode)
	assert.True(t, cfg.Capital.Enabled)
	assert.Equal(t, 3, cfg.PlaybookLimits("momentum").MaxOpenPlays)
	assert.Zero(t, cfg.PlaybookLimits("unknown"))

	sections := cfg.StrategySections()
	require.Contains(t, sections, "long_options")
	require.Contains(t, sections, "cash_secured_puts")

	start, end := cfg.SessionHours()
	assert.Equal(t, "09:30", start)
	assert.Equal(t, "16:00", end)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	bad := validYAML + "\nnot_a_section:\n  x: 1\n"
	_, err := Parse([]byte(bad))
	assert.Error(t, err)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "expanded-key")
	yaml := `
environment: {mode: paper}
broker: {api_key: ${TEST_BROKER_KEY}}
storage: {path: ./plays}
market_data_providers:
  primary_provider: tradier
  providers:
    tradier: {enabled: true}
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.Broker.APIKey)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "turbo" }, "environment.mode"},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }, "broker.api_key"},
		{"missing storage", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad orchestration mode", func(c *Config) { c.Orchestration.Mode = "async" }, "strategy_orchestration.mode"},
		{"parallel without workers", func(c *Config) { c.Orchestration.MaxParallelWorkers = 0 }, "max_parallel_workers"},
		{"missing primary", func(c *Config) { c.MarketData.PrimaryProvider = "polygon" }, "primary_provider"},
		{"disabled primary", func(c *Config) {
			p := c.MarketData.Providers["tradier"]
			p.Enabled = false
			c.MarketData.Providers["tradier"] = p
		}, "disabled"},
		{"unknown fallback", func(c *Config) { c.MarketData.Fallback.Order = []string{"nope"} }, "fallback provider"},
		{"cache without capacity", func(c *Config) { c.MarketData.Cache.MaxItems = 0 }, "max_items"},
		{"bad update mode", func(c *Config) { c.Trailing.UpdateMode = "hourly" }, "update_mode"},
		{"bad session order", func(c *Config) {
			c.MarketHours.RegularHours.Start = "16:00"
			c.MarketHours.RegularHours.End = "09:30"
		}, "regular_hours"},
		{"dashboard without addr", func(c *Config) { c.Dashboard.ListenAddr = "" }, "listen_addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_UnregisteredStrategy(t *testing.T) {
	bad := strings.Replace(validYAML, "strategies:\n",
		"strategies:\n  iron_condor:\n    enabled: true\n", 1)
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iron_condor")
}

func TestStoreRoot(t *testing.T) {
	c := Config{Storage: StorageConfig{Path: "data/plays"}}
	assert.Equal(t, "data/plays", c.StoreRoot())

	c.Storage.Account = "VA123456"
	assert.Equal(t, filepath.Join("data", "plays", "VA123456"), c.StoreRoot())
}

func TestDurationDefaults(t *testing.T) {
	var c Config
	assert.Equal(t, 5*time.Minute, c.GetCycleInterval())
	assert.Equal(t, 3*time.Minute, c.GetContingencyMaxWait())

	start, end := c.SessionHours()
	assert.Equal(t, "09:30", start)
	assert.Equal(t, "16:00", end)
}
