// Package config provides configuration management for tunet.
//
// The config file holds the account name and behavior; the password and the
// client's MAC address live in the local database, which can be wiped
// without losing the configuration.
//
// Config file locations (priority order):
//  1. $TUNET_CONFIG
//  2. ./tunet.yaml
//  3. $XDG_CONFIG_HOME/tunet/config.yaml
//  4. ~/.config/tunet/config.yaml
//  5. /etc/tunet/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the local API address used when none is configured
const DefaultListen = "127.0.0.1:8421"

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{
		Version: 1,
		Posture: PostureBalanced,
		Account: AccountConfig{AutoLogOn: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Posture == "" {
		c.Posture = PostureBalanced
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DefaultDataDir(), "tunet.db")
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(DefaultDataDir(), "session-cache.json")
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	var problems []string

	if _, ok := PostureProfiles[c.Posture]; !ok {
		problems = append(problems, fmt.Sprintf("unknown posture %q", c.Posture))
	}
	if spec := c.EffectiveBehavior().RefreshSchedule; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			problems = append(problems, fmt.Sprintf("refresh_schedule %q: %v", spec, err))
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// EffectiveBehavior returns behavior profile with overrides applied
func (c *Config) EffectiveBehavior() BehaviorProfile {
	base := c.Posture.GetProfile()

	if c.Behavior == nil {
		return base
	}

	// Apply overrides
	if c.Behavior.RefreshSchedule != nil {
		base.RefreshSchedule = *c.Behavior.RefreshSchedule
	}
	if c.Behavior.RequestTimeout != nil {
		base.RequestTimeout = c.Behavior.RequestTimeout.Duration()
	}
	if c.Behavior.RetryDelay != nil {
		base.RetryDelay = c.Behavior.RetryDelay.Duration()
	}
	if c.Behavior.MinTriggerInterval != nil {
		base.MinTriggerInterval = c.Behavior.MinTriggerInterval.Duration()
	}
	if c.Behavior.PollInterval != nil {
		base.PollInterval = c.Behavior.PollInterval.Duration()
	}
	if c.Behavior.SkipMetered != nil {
		base.SkipMetered = *c.Behavior.SkipMetered
	}

	return base
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	behavior := c.EffectiveBehavior()

	user := c.Account.Username
	if user == "" {
		user = "(not set)"
	}

	summary := fmt.Sprintf("Account: %s, Posture: %s, Auto logon: %v\n", user, c.Posture, c.Account.AutoLogOn)
	summary += fmt.Sprintf("Refresh: %s, Timeout: %s, Min trigger gap: %s\n",
		behavior.RefreshSchedule, behavior.RequestTimeout, behavior.MinTriggerInterval)
	summary += fmt.Sprintf("Database: %s, Cache: %s", c.Database.Path, c.Cache.Path)

	return summary
}
