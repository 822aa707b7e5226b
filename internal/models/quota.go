package models

import "time"

// Provider identifies an upstream model provider.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGoogle     Provider = "google"
	ProviderOllama     Provider = "ollama"
)

// QuotaStatus is the detected availability of a provider.
type QuotaStatus string

const (
	QuotaAvailable   QuotaStatus = "available"
	QuotaLimited     QuotaStatus = "limited"
	QuotaExhausted   QuotaStatus = "exhausted"
	QuotaUnavailable QuotaStatus = "unavailable"
	QuotaUnknown     QuotaStatus = "unknown"
)

// Usable reports whether a provider in this status may be selected.
func (s QuotaStatus) Usable() bool {
	return s == QuotaAvailable || s == QuotaLimited
}

// Quota is the detection result for one provider.
type Quota struct {
	Provider  Provider    `json:"provider"`
	Status    QuotaStatus `json:"status"`
	Remaining float64     `json:"remaining,omitempty"`
	ResetAt   *time.Time  `json:"resetAt,omitempty"`
	Details   string      `json:"details,omitempty"`
}

// QuotaSnapshot is a frozen provider→quota map handed to consumers.
type QuotaSnapshot map[Provider]Quota

// Capability tags a model strength.
type Capability string

const (
	CapDeepReasoning    Capability = "deep-reasoning"
	CapMathematical     Capability = "mathematical"
	CapCodeGeneration   Capability = "code-generation"
	CapStructuredOutput Capability = "structured-output"
	CapCreative         Capability = "creative"
	CapLongContext      Capability = "long-context"
	CapMultimodal       Capability = "multimodal"
	CapFast             Capability = "fast"
	CapCheap            Capability = "cheap"
)

// Model is a catalog entry. Prices are USD per million tokens.
type Model struct {
	ID              string       `json:"id"`
	Provider        Provider     `json:"provider"`
	InputPricePerM  float64      `json:"inputPricePerM"`
	OutputPricePerM float64      `json:"outputPricePerM"`
	ContextWindow   int          `json:"contextWindow"`
	Capabilities    []Capability `json:"capabilities"`
}

// HasCapability reports whether the model carries the given tag.
func (m Model) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the model carries every tag in caps.
func (m Model) HasAllCapabilities(caps []Capability) bool {
	for _, c := range caps {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

// Cost computes the USD cost for the given token counts.
func (m Model) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputPricePerM/1e6 +
		float64(outputTokens)*m.OutputPricePerM/1e6
}
