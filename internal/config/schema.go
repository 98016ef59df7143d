package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int               `yaml:"version"`
	Account   AccountConfig     `yaml:"account"`
	Posture   Posture           `yaml:"posture"`
	Behavior  *BehaviorOverride `yaml:"behavior,omitempty"`
	Endpoints EndpointsConfig   `yaml:"endpoints,omitempty"`
	Database  DatabaseConfig    `yaml:"database"`
	Cache     CacheConfig       `yaml:"cache"`
	Server    ServerConfig      `yaml:"server"`
	Verbose   bool              `yaml:"verbose,omitempty"`
}

// AccountConfig names the account. The password lives in the credential
// store, never in this file.
type AccountConfig struct {
	Username  string `yaml:"username"`
	AutoLogOn bool   `yaml:"auto_logon"`
	CheckLink bool   `yaml:"check_link"`
}

// EndpointsConfig overrides individual portal URLs; empty fields keep the
// built-in defaults
type EndpointsConfig struct {
	LogOn       string `yaml:"logon,omitempty"`
	SignIn      string `yaml:"sign_in,omitempty"`
	Profile     string `yaml:"profile,omitempty"`
	Devices     string `yaml:"devices,omitempty"`
	Drop        string `yaml:"drop,omitempty"`
	Probe       string `yaml:"probe,omitempty"`
	ProbeMarker string `yaml:"probe_marker,omitempty"`
}

// BehaviorOverride allows overriding posture defaults
type BehaviorOverride struct {
	RefreshSchedule    *string   `yaml:"refresh_schedule,omitempty"`
	RequestTimeout     *Duration `yaml:"request_timeout,omitempty"`
	RetryDelay         *Duration `yaml:"retry_delay,omitempty"`
	MinTriggerInterval *Duration `yaml:"min_trigger_interval,omitempty"`
	PollInterval       *Duration `yaml:"poll_interval,omitempty"`
	SkipMetered        *bool     `yaml:"skip_metered,omitempty"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds the session cache location
type CacheConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the local API settings used in daemon mode
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
