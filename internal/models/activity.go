package models

import "time"

// ToolUse summarizes one tool invocation observed in the agent stream.
type ToolUse struct {
	Name    string    `json:"name"`
	Summary string    `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// ActivityMetrics accumulates token usage and cost across one session.
type ActivityMetrics struct {
	Model               string  `json:"model,omitempty"`
	TotalInputTokens    int     `json:"totalInputTokens"`
	TotalOutputTokens   int     `json:"totalOutputTokens"`
	CacheReadTokens     int     `json:"cacheReadTokens"`
	CacheCreationTokens int     `json:"cacheCreationTokens"`
	CostUSD             float64 `json:"costUSD"`
	ToolCallCount       int     `json:"toolCallCount"`
}

// AgentActivity is the live view of the external agent, reconstructed
// from the streamed event log. Reset at each session launch.
type AgentActivity struct {
	CurrentTool             string          `json:"currentTool,omitempty"`
	CurrentToolInputSummary string          `json:"currentToolInputSummary,omitempty"`
	IsThinking              bool            `json:"isThinking"`
	LastThinkingSnippet     string          `json:"lastThinkingSnippet,omitempty"`
	RecentTools             []ToolUse       `json:"recentTools,omitempty"`
	Metrics                 ActivityMetrics `json:"metrics"`
	StartedAt               *time.Time      `json:"startedAt,omitempty"`
}

// RecordTool appends a tool use, keeping at most the ten most recent.
func (a *AgentActivity) RecordTool(use ToolUse) {
	a.RecentTools = append(a.RecentTools, use)
	if len(a.RecentTools) > 10 {
		a.RecentTools = a.RecentTools[len(a.RecentTools)-10:]
	}
	a.Metrics.ToolCallCount++
	a.CurrentTool = use.Name
	a.CurrentToolInputSummary = use.Summary
}
