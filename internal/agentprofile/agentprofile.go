// Package agentprofile declares what each coding-agent CLI needs from the
// host environment so the Relay can build a minimal passthrough env for
// the child it spawns (no sandboxing here — the supervisor only filters
// which host env vars cross over, per the per-class agent binary it is
// launching).
package agentprofile

import "os"

// Class identifies which coding-agent flavor an agent name belongs to.
type Class string

const (
	ClassC Class = "C"
	ClassX Class = "X"
)

// Profile describes one agent's environment passthrough contract.
type Profile struct {
	Class Class

	// EnvVars are host environment variable names required by the agent
	// (e.g. its API key) merged into the child's env if present on the
	// host and not already set by the caller.
	EnvVars []string

	// NotifierFlag is the flag the agent's own CLI uses to receive the
	// path to the sibling notifier binary invoked at turn-complete.
	NotifierFlag string
}

var profiles = map[string]Profile{
	"agentc": {
		Class:        ClassC,
		EnvVars:      []string{"ANTHROPIC_API_KEY"},
		NotifierFlag: "--on-turn-complete",
	},
	"agentx": {
		Class:        ClassX,
		EnvVars:      []string{"OPENAI_API_KEY"},
		NotifierFlag: "--on-turn-complete",
	},
}

// essentials are always carried over regardless of agent profile.
var essentials = []string{"HOME", "PATH", "TERM", "LANG"}

// Lookup returns the profile for agent, or a restrictive default (no env
// vars beyond the essentials) for an unrecognized name.
func Lookup(agent string) Profile {
	if p, ok := profiles[agent]; ok {
		return p
	}
	return Profile{Class: ClassC}
}

// BuildEnv returns the environment slice to pass to the child: the
// essentials, the profile's required vars (if present on the host), plus
// any caller-supplied overrides.
func BuildEnv(agent string, overrides map[string]string) []string {
	p := Lookup(agent)
	envMap := make(map[string]string, len(overrides)+len(p.EnvVars)+len(essentials))

	for _, k := range essentials {
		if v := os.Getenv(k); v != "" {
			envMap[k] = v
		}
	}
	for _, k := range p.EnvVars {
		if v := os.Getenv(k); v != "" {
			envMap[k] = v
		}
	}
	for k, v := range overrides {
		envMap[k] = v
	}

	out := make([]string, 0, len(envMap))
	for k, v := range envMap {
		out = append(out, k+"="+v)
	}
	return out
}
