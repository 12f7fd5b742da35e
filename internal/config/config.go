// Package config handles Dockhand configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (DOCKHAND_*)
//  2. Config file (~/.config/dockhand/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dockhand-dev/dockhand/internal/paths"
)

// Timing defaults. The idle debounce must stay well below the turn watchdog,
// which in turn stays below the RPC timeout.
const (
	DefaultRPCTimeout    = 30 * time.Second
	DefaultTurnWatchdog  = 15 * time.Second
	DefaultIdleDebounce  = 250 * time.Millisecond
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultFragmentLimit = 256 * 1024
	DefaultFragmentWarn  = 2 * time.Second
	DefaultDiagInterval  = 60 * time.Second
	DefaultCoalesceLimit = 120
)

// Config holds the Dockhand configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("executor.rpc_timeout", DefaultRPCTimeout)
	v.SetDefault("executor.turn_watchdog", DefaultTurnWatchdog)
	v.SetDefault("executor.idle_debounce", DefaultIdleDebounce)
	v.SetDefault("executor.settle_delay", DefaultSettleDelay)
	v.SetDefault("executor.fragment_limit", DefaultFragmentLimit)
	v.SetDefault("executor.fragment_warn_age", DefaultFragmentWarn)
	v.SetDefault("executor.diag_interval", DefaultDiagInterval)
	v.SetDefault("executor.coalesce_limit", DefaultCoalesceLimit)
	v.SetDefault("timeline.ring_lines", 10000)

	// Config file location
	if configDir, err := paths.ConfigRoot(); err == nil {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("DOCKHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetDuration returns a configuration value as duration.
func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// Set sets a configuration value in memory without persisting it.
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// Save sets a configuration value and persists it.
func (c *Config) Save(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// RPCTimeout returns the request/response correlation timeout.
func (c *Config) RPCTimeout() time.Duration {
	return c.GetDuration("executor.rpc_timeout")
}

// TurnWatchdog returns the turn liveness watchdog interval.
func (c *Config) TurnWatchdog() time.Duration {
	return c.GetDuration("executor.turn_watchdog")
}

// IdleDebounce returns the quiet period before a session is marked waiting.
func (c *Config) IdleDebounce() time.Duration {
	return c.GetDuration("executor.idle_debounce")
}

// SettleDelay returns the wait after process spawn before the first RPC.
func (c *Config) SettleDelay() time.Duration {
	return c.GetDuration("executor.settle_delay")
}

// FragmentLimit returns the maximum buffered partial-JSON size in bytes.
func (c *Config) FragmentLimit() int {
	return c.GetInt("executor.fragment_limit")
}

// FragmentWarnAge returns how long a partial fragment may sit before a
// diagnostic is emitted.
func (c *Config) FragmentWarnAge() time.Duration {
	return c.GetDuration("executor.fragment_warn_age")
}

// DiagInterval returns the per-code diagnostic rate-limit window.
func (c *Config) DiagInterval() time.Duration {
	return c.GetDuration("executor.diag_interval")
}

// CoalesceLimit returns the reasoning coalescing length threshold.
func (c *Config) CoalesceLimit() int {
	return c.GetInt("executor.coalesce_limit")
}

// TimelineDir returns the timeline storage directory override, if any.
func (c *Config) TimelineDir() string {
	return c.GetString("timeline.dir")
}

// TimelineRingLines returns the in-memory tail ring size.
func (c *Config) TimelineRingLines() int {
	return c.GetInt("timeline.ring_lines")
}
