// Package capability declares the task-type → model mode tables and the
// quota-aware selection function used by the planner.
package capability

import (
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/quota"
)

// ModelPair is one mode-table entry.
type ModelPair struct {
	Primary  string
	Fallback string
}

// Catalog model ids, named for readability in the tables below.
const (
	opus       = "claude-opus-4-5"
	sonnet     = "claude-sonnet-4-5"
	haiku      = "claude-haiku-3-5"
	gpt4o      = "gpt-4o"
	gpt4oMini  = "gpt-4o-mini"
	o3Mini     = "o3-mini"
	flash      = "gemini-2.0-flash"
	geminiPro  = "gemini-2.5-pro"
	deepseek   = "deepseek/deepseek-chat-v3"
	qwenCoder  = "qwen2.5-coder:32b"
	localCoder = "deepseek-coder-v2:16b"
)

// balancedTable is the default mapping.
var balancedTable = map[models.TaskType]ModelPair{
	models.TaskComplexIntegration: {opus, sonnet},
	models.TaskMathematical:       {opus, o3Mini},
	models.TaskBackendAPI:         {sonnet, gpt4o},
	models.TaskBackendLogic:       {sonnet, gpt4o},
	models.TaskFrontendUI:         {sonnet, flash},
	models.TaskFrontendLogic:      {sonnet, gpt4oMini},
	models.TaskDatabase:           {sonnet, gpt4o},
	models.TaskTesting:            {haiku, gpt4oMini},
	models.TaskDocumentation:      {haiku, flash},
	models.TaskRefactoring:        {sonnet, deepseek},
	models.TaskBugfix:             {sonnet, gpt4o},
	models.TaskDevOps:             {sonnet, gpt4oMini},
	models.TaskConfig:             {haiku, gpt4oMini},
	models.TaskUnknown:            {sonnet, gpt4o},
}

// superSaverTable prefers cheap and fast models.
var superSaverTable = map[models.TaskType]ModelPair{
	models.TaskComplexIntegration: {sonnet, geminiPro},
	models.TaskMathematical:       {o3Mini, geminiPro},
	models.TaskBackendAPI:         {deepseek, gpt4oMini},
	models.TaskBackendLogic:       {deepseek, gpt4oMini},
	models.TaskFrontendUI:         {flash, gpt4oMini},
	models.TaskFrontendLogic:      {gpt4oMini, flash},
	models.TaskDatabase:           {deepseek, haiku},
	models.TaskTesting:            {haiku, qwenCoder},
	models.TaskDocumentation:      {flash, haiku},
	models.TaskRefactoring:        {deepseek, qwenCoder},
	models.TaskBugfix:             {haiku, deepseek},
	models.TaskDevOps:             {gpt4oMini, haiku},
	models.TaskConfig:             {gpt4oMini, localCoder},
	models.TaskUnknown:            {haiku, gpt4oMini},
}

// fastDeliveryTable prefers top-tier models for complex or unknown work.
var fastDeliveryTable = map[models.TaskType]ModelPair{
	models.TaskComplexIntegration: {opus, geminiPro},
	models.TaskMathematical:       {opus, o3Mini},
	models.TaskBackendAPI:         {sonnet, opus},
	models.TaskBackendLogic:       {sonnet, opus},
	models.TaskFrontendUI:         {sonnet, gpt4o},
	models.TaskFrontendLogic:      {sonnet, gpt4o},
	models.TaskDatabase:           {sonnet, opus},
	models.TaskTesting:            {sonnet, haiku},
	models.TaskDocumentation:      {sonnet, flash},
	models.TaskRefactoring:        {sonnet, opus},
	models.TaskBugfix:             {opus, sonnet},
	models.TaskDevOps:             {sonnet, gpt4o},
	models.TaskConfig:             {sonnet, haiku},
	models.TaskUnknown:            {opus, sonnet},
}

// requirements declares the capability set a substitute model must cover
// when both table entries are quota-blocked.
var requirements = map[models.TaskType][]models.Capability{
	models.TaskMathematical:  {models.CapDeepReasoning, models.CapMathematical},
	models.TaskDocumentation: {models.CapStructuredOutput},
}

// defaultRequirement applies to every task type without an explicit entry.
var defaultRequirement = []models.Capability{models.CapCodeGeneration}

// ModeTable returns the task-type mapping for a mode. Unknown modes fall
// back to balanced.
func ModeTable(mode models.ExecutionMode) map[models.TaskType]ModelPair {
	switch mode {
	case models.ModeSuperSaver:
		return superSaverTable
	case models.ModeFastDelivery:
		return fastDeliveryTable
	default:
		return balancedTable
	}
}

// Requirements returns the capability requirements for a task type.
func Requirements(taskType models.TaskType) []models.Capability {
	if caps, ok := requirements[taskType]; ok {
		return caps
	}
	return defaultRequirement
}

// GetRecommendedModel picks a model for a task type under the given mode
// and quota snapshot:
//  1. the mode table's primary, when its provider is usable ("primary");
//  2. else the fallback under the same rule ("fallback:quota");
//  3. else the cheapest usable catalog model covering the task type's
//     capability requirements ("capability-match"), ties broken by
//     provider rank then id;
//  4. else the primary anyway ("no-quota-warning"); the caller decides
//     whether to proceed.
func GetRecommendedModel(taskType models.TaskType, mode models.ExecutionMode, quotas models.QuotaSnapshot) models.Recommendation {
	table := ModeTable(mode)
	pair, ok := table[taskType]
	if !ok {
		pair = table[models.TaskUnknown]
	}

	catalog := quota.CatalogByID()

	usable := func(id string) (models.Model, bool) {
		model, ok := catalog[id]
		if !ok {
			return models.Model{}, false
		}
		q, ok := quotas[model.Provider]
		return model, ok && q.Status.Usable()
	}

	if model, ok := usable(pair.Primary); ok {
		return models.Recommendation{ModelID: model.ID, Provider: model.Provider, Reason: "primary"}
	}
	if model, ok := usable(pair.Fallback); ok {
		return models.Recommendation{ModelID: model.ID, Provider: model.Provider, Reason: "fallback:quota"}
	}

	required := Requirements(taskType)
	var candidates []models.Model
	for _, model := range quota.Catalog() {
		if !model.HasAllCapabilities(required) {
			continue
		}
		q, ok := quotas[model.Provider]
		if !ok || !q.Status.Usable() {
			continue
		}
		candidates = append(candidates, model)
	}
	if len(candidates) > 0 {
		quota.SortForTieBreak(candidates, 1000, 1000)
		best := candidates[0]
		return models.Recommendation{ModelID: best.ID, Provider: best.Provider, Reason: "capability-match"}
	}

	primary := catalog[pair.Primary]
	return models.Recommendation{ModelID: primary.ID, Provider: primary.Provider, Reason: "no-quota-warning"}
}
