package agentprofile

import (
	"os"
	"strings"
	"testing"
)

func TestLookupKnownAgents(t *testing.T) {
	c := Lookup("agentc")
	if c.Class != ClassC {
		t.Fatalf("agentc class = %q, want C", c.Class)
	}
	if c.NotifierFlag == "" {
		t.Fatal("agentc: expected a notifier flag")
	}

	x := Lookup("agentx")
	if x.Class != ClassX {
		t.Fatalf("agentx class = %q, want X", x.Class)
	}
}

func TestLookupUnknownAgentIsRestrictive(t *testing.T) {
	p := Lookup("something-unheard-of")
	if len(p.EnvVars) != 0 {
		t.Fatalf("unknown agent should carry no extra env vars, got %v", p.EnvVars)
	}
}

func TestBuildEnvCarriesEssentialsAndOverrides(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key-value")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	env := BuildEnv("agentc", map[string]string{"SESSION_ID": "sess-1"})

	var sawKey, sawSession bool
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=test-key-value") {
			sawKey = true
		}
		if kv == "SESSION_ID=sess-1" {
			sawSession = true
		}
	}
	if !sawKey {
		t.Error("expected ANTHROPIC_API_KEY to be carried over for agentc")
	}
	if !sawSession {
		t.Error("expected SESSION_ID override to be present")
	}
}

func TestBuildEnvOmitsUnsetProfileVars(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	env := BuildEnv("agentx", nil)
	for _, kv := range env {
		if strings.HasPrefix(kv, "OPENAI_API_KEY=") {
			t.Fatalf("OPENAI_API_KEY unset on host but present in env: %q", kv)
		}
	}
}
