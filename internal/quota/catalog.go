// Package quota owns the static model catalog and the per-provider quota
// snapshot, refreshed with a TTL cache and published over the event bus.
package quota

import (
	"sort"

	"github.com/harrison/ralph-ultra/internal/models"
)

// providerRank orders providers for deterministic tie-breaking when two
// candidate models cost the same. Follows the order of the Provider
// constants, not the catalog's declaration order.
var providerRank = map[models.Provider]int{
	models.ProviderAnthropic:  0,
	models.ProviderOpenAI:     1,
	models.ProviderOpenRouter: 2,
	models.ProviderGoogle:     3,
	models.ProviderOllama:     4,
}

// ProviderRank returns the tie-break rank for a provider. Unknown
// providers sort last.
func ProviderRank(p models.Provider) int {
	if r, ok := providerRank[p]; ok {
		return r
	}
	return len(providerRank)
}

// Catalog returns the static model catalog. Prices are USD per 1M tokens.
// Read-only after initialization.
func Catalog() []models.Model {
	return []models.Model{
		{
			ID:              "claude-opus-4-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  15.00,
			OutputPricePerM: 75.00,
			ContextWindow:   200000,
			Capabilities: []models.Capability{
				models.CapDeepReasoning, models.CapMathematical,
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapCreative, models.CapLongContext,
			},
		},
		{
			ID:              "claude-sonnet-4-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  3.00,
			OutputPricePerM: 15.00,
			ContextWindow:   200000,
			Capabilities: []models.Capability{
				models.CapDeepReasoning, models.CapCodeGeneration,
				models.CapStructuredOutput, models.CapLongContext,
				models.CapFast,
			},
		},
		{
			ID:              "claude-haiku-3-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  0.25,
			OutputPricePerM: 1.25,
			ContextWindow:   200000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapFast, models.CapCheap,
			},
		},
		{
			ID:              "gpt-4o",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  2.50,
			OutputPricePerM: 10.00,
			ContextWindow:   128000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapCreative, models.CapMultimodal,
			},
		},
		{
			ID:              "gpt-4o-mini",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  0.15,
			OutputPricePerM: 0.60,
			ContextWindow:   128000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapFast, models.CapCheap,
			},
		},
		{
			ID:              "o3-mini",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  1.10,
			OutputPricePerM: 4.40,
			ContextWindow:   200000,
			Capabilities: []models.Capability{
				models.CapDeepReasoning, models.CapMathematical,
				models.CapStructuredOutput, models.CapCheap,
			},
		},
		{
			ID:              "gemini-2.0-flash",
			Provider:        models.ProviderGoogle,
			InputPricePerM:  0.10,
			OutputPricePerM: 0.40,
			ContextWindow:   1000000,
			Capabilities: []models.Capability{
				models.CapLongContext, models.CapFast, models.CapCheap,
				models.CapMultimodal, models.CapCodeGeneration,
			},
		},
		{
			ID:              "gemini-2.5-pro",
			Provider:        models.ProviderGoogle,
			InputPricePerM:  1.25,
			OutputPricePerM: 5.00,
			ContextWindow:   1000000,
			Capabilities: []models.Capability{
				models.CapLongContext, models.CapDeepReasoning,
				models.CapMultimodal, models.CapCodeGeneration,
				models.CapStructuredOutput,
			},
		},
		{
			ID:              "deepseek/deepseek-chat-v3",
			Provider:        models.ProviderOpenRouter,
			InputPricePerM:  0.14,
			OutputPricePerM: 0.28,
			ContextWindow:   64000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapCheap,
			},
		},
		{
			ID:              "qwen2.5-coder:32b",
			Provider:        models.ProviderOllama,
			InputPricePerM:  0,
			OutputPricePerM: 0,
			ContextWindow:   32000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapCheap,
			},
		},
		{
			ID:              "deepseek-coder-v2:16b",
			Provider:        models.ProviderOllama,
			InputPricePerM:  0,
			OutputPricePerM: 0,
			ContextWindow:   128000,
			Capabilities: []models.Capability{
				models.CapCodeGeneration, models.CapCheap, models.CapFast,
			},
		},
	}
}

// CatalogByID indexes the catalog by model id.
func CatalogByID() map[string]models.Model {
	index := make(map[string]models.Model)
	for _, m := range Catalog() {
		index[m.ID] = m
	}
	return index
}

// SortForTieBreak sorts models by price, then provider rank, then id.
// Used by the planner's capability-match fallback.
func SortForTieBreak(candidates []models.Model, inputTokens, outputTokens int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci := candidates[i].Cost(inputTokens, outputTokens)
		cj := candidates[j].Cost(inputTokens, outputTokens)
		if ci != cj {
			return ci < cj
		}
		ri, rj := ProviderRank(candidates[i].Provider), ProviderRank(candidates[j].Provider)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].ID < candidates[j].ID
	})
}
