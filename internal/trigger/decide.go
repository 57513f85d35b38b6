package trigger

import "github.com/steveyegge/netlaunch/internal/config"

// KillSuffix is appended to a trigger message to form its kill message.
const KillSuffix = "-kill"

// Action is the outcome of matching a payload against a listener.
type Action int

const (
	// ActionIgnore means the payload matched nothing.
	ActionIgnore Action = iota
	// ActionLaunch kills any tracked process and starts the target.
	ActionLaunch
	// ActionKill kills the tracked process without starting a new one.
	ActionKill
)

func (a Action) String() string {
	switch a {
	case ActionLaunch:
		return "launch"
	case ActionKill:
		return "kill"
	default:
		return "ignore"
	}
}

// Decide maps a payload to an action for the given listener. The kill form is
// checked first. Both rules are exact string comparisons and the kill form is
// always longer than the trigger, so a payload can never match both.
func Decide(cfg config.ListenerConfig, payload string) Action {
	if cfg.Trigger == "" {
		return ActionIgnore
	}
	if cfg.KillSuffix && payload == cfg.Trigger+KillSuffix {
		return ActionKill
	}
	if payload == cfg.Trigger {
		return ActionLaunch
	}
	return ActionIgnore
}
