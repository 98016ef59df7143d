package config

import "time"

// Posture trades freshness against load on the portal
type Posture string

const (
	PostureQuiet    Posture = "quiet"    // Refresh rarely, react slowly to network changes
	PostureBalanced Posture = "balanced" // Default
	PostureEager    Posture = "eager"    // Near real-time balance and device list
)

// ParsePosture converts a string to Posture, defaulting to PostureBalanced
func ParsePosture(s string) Posture {
	switch s {
	case "quiet":
		return PostureQuiet
	case "balanced":
		return PostureBalanced
	case "eager":
		return PostureEager
	default:
		return PostureBalanced
	}
}

// BehaviorProfile defines timing settings for the daemon
type BehaviorProfile struct {
	RefreshSchedule    string        `yaml:"refresh_schedule"` // cron spec
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MinTriggerInterval time.Duration `yaml:"min_trigger_interval"` // between trigger runs
	PollInterval       time.Duration `yaml:"poll_interval"`        // network change polling
	SkipMetered        bool          `yaml:"skip_metered"`
}

// PostureProfiles maps postures to their default behavior profiles
var PostureProfiles = map[Posture]BehaviorProfile{
	PostureQuiet: {
		RefreshSchedule:    "@every 30m",
		RequestTimeout:     20 * time.Second,
		RetryDelay:         time.Second,
		MinTriggerInterval: 2 * time.Minute,
		PollInterval:       30 * time.Second,
		SkipMetered:        true,
	},
	PostureBalanced: {
		RefreshSchedule:    "@every 5m",
		RequestTimeout:     10 * time.Second,
		RetryDelay:         500 * time.Millisecond,
		MinTriggerInterval: 30 * time.Second,
		PollInterval:       5 * time.Second,
		SkipMetered:        true,
	},
	PostureEager: {
		RefreshSchedule:    "@every 1m",
		RequestTimeout:     5 * time.Second,
		RetryDelay:         500 * time.Millisecond,
		MinTriggerInterval: 5 * time.Second,
		PollInterval:       2 * time.Second,
		SkipMetered:        false,
	},
}

// GetProfile returns the behavior profile for a posture
func (p Posture) GetProfile() BehaviorProfile {
	if profile, ok := PostureProfiles[p]; ok {
		return profile
	}
	return PostureProfiles[PostureBalanced]
}
