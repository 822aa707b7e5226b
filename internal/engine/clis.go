package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// Health-check parameters.
const (
	healthCheckTimeout = 3 * time.Second
	healthCacheTTL     = 5 * time.Minute
)

// builtinCLIOrder is the last-resort fallback scan order.
var builtinCLIOrder = []string{"anthropic", "generic", "codex", "gemini", "aider", "cody"}

// CLISpec describes one supported external coding CLI.
type CLISpec struct {
	ID             string
	Binary         string
	SupportsResume bool
}

// cliRegistry maps CLI identifiers to their specs.
var cliRegistry = map[string]CLISpec{
	"anthropic": {ID: "anthropic", Binary: "claude", SupportsResume: true},
	"generic":   {ID: "generic", Binary: "opencode"},
	"codex":     {ID: "codex", Binary: "codex"},
	"gemini":    {ID: "gemini", Binary: "gemini"},
	"aider":     {ID: "aider", Binary: "aider"},
	"cody":      {ID: "cody", Binary: "cody"},
}

// LookupCLI returns the spec for a CLI identifier.
func LookupCLI(id string) (CLISpec, bool) {
	spec, ok := cliRegistry[id]
	return spec, ok
}

// cliForProvider maps a provider to its preferred CLI family: the
// Anthropic family uses the claude CLI with a model flag; everything else
// goes through the generic CLI with a provider-prefixed model string.
func cliForProvider(provider models.Provider) string {
	if provider == models.ProviderAnthropic {
		return "anthropic"
	}
	return "generic"
}

// modelFlag derives the claude CLI's --model value from a catalog id.
func modelFlag(modelID string) string {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "opus"):
		return "opus"
	case strings.Contains(lower, "haiku"):
		return "haiku"
	default:
		return "sonnet"
	}
}

// BuildCommand constructs the shell command launched inside the tmux
// session. The prompt travels by file reference through command
// substitution, never as an inline argument.
func BuildCommand(spec CLISpec, modelID string, provider models.Provider, promptFile, resumeToken string) string {
	quoted := fmt.Sprintf("\"$(cat %q)\"", promptFile)

	switch spec.ID {
	case "anthropic":
		cmd := fmt.Sprintf("claude --model %s --verbose --output-format stream-json -p %s", modelFlag(modelID), quoted)
		if resumeToken != "" {
			cmd = fmt.Sprintf("claude --resume %q --model %s --verbose --output-format stream-json -p %s", resumeToken, modelFlag(modelID), quoted)
		}
		return cmd
	case "generic":
		return fmt.Sprintf("opencode run --model %s/%s %s", provider, modelID, quoted)
	case "codex":
		return fmt.Sprintf("codex exec --model %s %s", modelID, quoted)
	case "gemini":
		return fmt.Sprintf("gemini -m %s -p %s", modelID, quoted)
	case "aider":
		return fmt.Sprintf("aider --model %s/%s --yes --message %s", provider, modelID, quoted)
	default:
		return fmt.Sprintf("cody chat -m %s", quoted)
	}
}

// healthCache caches CLI --version checks with absolute expiry. Failures
// are cached too; retries are never amortized across cache hits.
type healthCache struct {
	mu      sync.Mutex
	cmd     tmux.Commander
	entries map[string]healthEntry
}

type healthEntry struct {
	healthy bool
	at      time.Time
}

func newHealthCache(cmd tmux.Commander) *healthCache {
	return &healthCache{cmd: cmd, entries: make(map[string]healthEntry)}
}

// IsHealthy runs `<binary> --version` with a 3 s timeout, consulting the
// 5-minute cache first.
func (h *healthCache) IsHealthy(ctx context.Context, spec CLISpec) bool {
	h.mu.Lock()
	if entry, ok := h.entries[spec.Binary]; ok && time.Since(entry.at) < healthCacheTTL {
		h.mu.Unlock()
		return entry.healthy
	}
	h.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	_, err := h.cmd.Run(checkCtx, spec.Binary, "--version")
	healthy := err == nil

	h.mu.Lock()
	h.entries[spec.Binary] = healthEntry{healthy: healthy, at: time.Now()}
	h.mu.Unlock()
	return healthy
}

// fallbackChain assembles the CLI candidate order: project override →
// project fallback list → global preferred → global fallback list →
// built-in order. Duplicates keep their first position.
func fallbackChain(projectCLI string, projectFallback []string, preferred string, globalFallback []string) []string {
	var chain []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if _, ok := cliRegistry[id]; !ok {
			return
		}
		seen[id] = true
		chain = append(chain, id)
	}

	add(projectCLI)
	for _, id := range projectFallback {
		add(id)
	}
	add(preferred)
	for _, id := range globalFallback {
		add(id)
	}
	for _, id := range builtinCLIOrder {
		add(id)
	}
	return chain
}
