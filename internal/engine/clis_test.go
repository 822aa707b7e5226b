package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harrison/ralph-ultra/internal/models"
)

// scriptedCommander marks some binaries healthy.
type scriptedCommander struct {
	healthy map[string]bool
	calls   map[string]int
}

func (s *scriptedCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[name]++
	if s.healthy[name] {
		return "1.0.0", nil
	}
	return "", errors.New("not found")
}

func TestFallbackChainOrder(t *testing.T) {
	chain := fallbackChain("gemini", []string{"aider"}, "codex", []string{"cody"})

	want := []string{"gemini", "aider", "codex", "cody", "anthropic", "generic"}
	if len(chain) != len(want) {
		t.Fatalf("expected %v, got %v", want, chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], chain[i])
		}
	}
}

func TestFallbackChainSkipsUnknownAndDuplicates(t *testing.T) {
	chain := fallbackChain("anthropic", []string{"anthropic", "not-a-cli"}, "", nil)
	if chain[0] != "anthropic" {
		t.Errorf("expected anthropic first, got %s", chain[0])
	}
	count := 0
	for _, id := range chain {
		if id == "anthropic" {
			count++
		}
		if id == "not-a-cli" {
			t.Error("unknown CLI id leaked into chain")
		}
	}
	if count != 1 {
		t.Errorf("expected anthropic once, got %d", count)
	}
}

func TestHealthCacheCachesResults(t *testing.T) {
	cmd := &scriptedCommander{healthy: map[string]bool{"claude": true}}
	cache := newHealthCache(cmd)
	spec, _ := LookupCLI("anthropic")

	ctx := context.Background()
	if !cache.IsHealthy(ctx, spec) {
		t.Fatal("expected healthy")
	}
	cache.IsHealthy(ctx, spec)
	cache.IsHealthy(ctx, spec)

	if cmd.calls["claude"] != 1 {
		t.Errorf("expected 1 version check, got %d", cmd.calls["claude"])
	}
}

func TestHealthCacheCachesFailures(t *testing.T) {
	cmd := &scriptedCommander{healthy: map[string]bool{}}
	cache := newHealthCache(cmd)
	spec, _ := LookupCLI("aider")

	ctx := context.Background()
	cache.IsHealthy(ctx, spec)
	cache.IsHealthy(ctx, spec)

	if cmd.calls["aider"] != 1 {
		t.Errorf("failures must be cached too, got %d checks", cmd.calls["aider"])
	}
}

func TestCLIForProvider(t *testing.T) {
	if cliForProvider(models.ProviderAnthropic) != "anthropic" {
		t.Error("anthropic-family must map to the anthropic CLI")
	}
	for _, p := range []models.Provider{models.ProviderOpenAI, models.ProviderGoogle, models.ProviderOllama} {
		if cliForProvider(p) != "generic" {
			t.Errorf("provider %s must map to the generic CLI", p)
		}
	}
}

func TestModelFlag(t *testing.T) {
	cases := map[string]string{
		"claude-opus-4-5":   "opus",
		"claude-sonnet-4-5": "sonnet",
		"claude-haiku-3-5":  "haiku",
		"unknown-model":     "sonnet",
	}
	for id, want := range cases {
		if got := modelFlag(id); got != want {
			t.Errorf("modelFlag(%s) = %s, want %s", id, got, want)
		}
	}
}

func TestBuildCommandPassesPromptByReference(t *testing.T) {
	spec, _ := LookupCLI("anthropic")
	cmd := BuildCommand(spec, "claude-sonnet-4-5", models.ProviderAnthropic, "/tmp/prompt.md", "")

	if !strings.Contains(cmd, `$(cat "/tmp/prompt.md")`) {
		t.Errorf("prompt must travel by file reference: %s", cmd)
	}
	if !strings.Contains(cmd, "--model sonnet") {
		t.Errorf("expected model flag: %s", cmd)
	}
}

func TestBuildCommandResume(t *testing.T) {
	spec, _ := LookupCLI("anthropic")
	cmd := BuildCommand(spec, "claude-sonnet-4-5", models.ProviderAnthropic, "/tmp/p.md", "sess-123")

	if !strings.Contains(cmd, `--resume "sess-123"`) {
		t.Errorf("expected resume token: %s", cmd)
	}
}

func TestBuildCommandGenericPrefixesProvider(t *testing.T) {
	spec, _ := LookupCLI("generic")
	cmd := BuildCommand(spec, "gpt-4o-mini", models.ProviderOpenAI, "/tmp/p.md", "")

	if !strings.Contains(cmd, "openai/gpt-4o-mini") {
		t.Errorf("expected provider-prefixed model string: %s", cmd)
	}
}

func TestHealthCheckTimeoutBounds(t *testing.T) {
	if healthCheckTimeout != 3*time.Second {
		t.Errorf("health check timeout must be 3s, got %v", healthCheckTimeout)
	}
	if healthCacheTTL != 5*time.Minute {
		t.Errorf("health cache TTL must be 5m, got %v", healthCacheTTL)
	}
}
