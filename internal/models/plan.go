package models

// TaskType classifies a story for model selection.
type TaskType string

// Task types in tie-break precedence order.
const (
	TaskComplexIntegration TaskType = "complex-integration"
	TaskMathematical       TaskType = "mathematical"
	TaskBackendAPI         TaskType = "backend-api"
	TaskBackendLogic       TaskType = "backend-logic"
	TaskFrontendUI         TaskType = "frontend-ui"
	TaskFrontendLogic      TaskType = "frontend-logic"
	TaskDatabase           TaskType = "database"
	TaskTesting            TaskType = "testing"
	TaskDocumentation      TaskType = "documentation"
	TaskRefactoring        TaskType = "refactoring"
	TaskBugfix             TaskType = "bugfix"
	TaskDevOps             TaskType = "devops"
	TaskConfig             TaskType = "config"
	TaskUnknown            TaskType = "unknown"
)

// ExecutionMode selects a task-type → model mapping table.
type ExecutionMode string

const (
	ModeBalanced     ExecutionMode = "balanced"
	ModeSuperSaver   ExecutionMode = "super-saver"
	ModeFastDelivery ExecutionMode = "fast-delivery"
)

// Recommendation is a chosen model plus the reason it was chosen.
// Reason is one of "primary", "fallback:quota", "capability-match",
// "no-quota-warning".
type Recommendation struct {
	ModelID  string   `json:"modelId"`
	Provider Provider `json:"provider"`
	Reason   string   `json:"reason"`
}

// Allocation is the planner's per-story decision.
type Allocation struct {
	StoryID               string         `json:"storyId"`
	TaskType              TaskType       `json:"taskType"`
	RecommendedModel      Recommendation `json:"recommendedModel"`
	Confidence            float64        `json:"confidence"`
	EstimatedInputTokens  int            `json:"estimatedInputTokens"`
	EstimatedOutputTokens int            `json:"estimatedOutputTokens"`
	EstimatedCostUSD      float64        `json:"estimatedCostUSD"`
}

// ExecutionPlan is the full set of allocations for a run.
type ExecutionPlan struct {
	Mode              ExecutionMode `json:"mode"`
	Stories           []Allocation  `json:"stories"`
	TotalEstimatedUSD float64       `json:"totalEstimatedUSD"`
}

// Allocation returns the allocation for a story, or nil.
func (p *ExecutionPlan) Allocation(storyID string) *Allocation {
	for i := range p.Stories {
		if p.Stories[i].StoryID == storyID {
			return &p.Stories[i]
		}
	}
	return nil
}
