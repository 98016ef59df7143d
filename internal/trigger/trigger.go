// Package trigger decides when the session should log on and refresh.
//
// Sources (network change polling, the cron schedule, the local API) emit
// Change values. A Policy maps each change to an Action, and the Runner
// performs it against the session: LogOn (errors ignored), then Refresh,
// then SaveCache. Runs are serialized and rate limited.
package trigger

import (
	"context"
	"time"
)

// ChangeKind identifies what produced a Change
type ChangeKind string

const (
	ChangeStartup  ChangeKind = "startup"
	ChangeNetwork  ChangeKind = "network"
	ChangeSchedule ChangeKind = "schedule"
	ChangeManual   ChangeKind = "manual"
)

// Change is a hint that the session state may be stale
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Interface string     `json:"interface,omitempty"`
	Metered   bool       `json:"metered,omitempty"`
	At        time.Time  `json:"at"`
}

// Source produces changes until ctx is done
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Change)) error
}

// Action is what the runner does for a change
type Action int

const (
	ActionSkip Action = iota
	ActionRefresh
	ActionLogOn
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRefresh:
		return "refresh"
	case ActionLogOn:
		return "logon"
	default:
		return "unknown"
	}
}

// Policy holds the user's background preferences
type Policy struct {
	AutoLogOn   bool
	SkipMetered bool
	CheckLink   bool
}

// Decide maps a change to an action
func (p Policy) Decide(c Change) Action {
	switch c.Kind {
	case ChangeManual:
		return ActionLogOn
	case ChangeSchedule:
		return ActionRefresh
	}

	if c.Metered && p.SkipMetered {
		return ActionSkip
	}
	if p.AutoLogOn {
		return ActionLogOn
	}
	return ActionRefresh
}
