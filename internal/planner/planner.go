// Package planner turns a PRD plus a quota snapshot into per-story model
// allocations with token and cost estimates.
package planner

import (
	"github.com/harrison/ralph-ultra/internal/capability"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/taskdetect"
)

// LearningSource supplies performance aggregates for confidence scoring.
// Satisfied by *learning.Recorder; nil means no history.
type LearningSource interface {
	GetLearning(provider models.Provider, modelID string, taskType models.TaskType) (*models.ModelLearning, error)
}

// tokenEstimate is the per-complexity token table.
type tokenEstimate struct {
	input  int
	output int
}

var tokenTable = map[models.Complexity]tokenEstimate{
	models.ComplexitySimple:  {input: 5000, output: 2000},
	models.ComplexityMedium:  {input: 15000, output: 6000},
	models.ComplexityComplex: {input: 40000, output: 15000},
}

// EstimateTokens returns the token estimate for a complexity. Unrecognized
// complexities are treated as medium.
func EstimateTokens(c models.Complexity) (int, int) {
	est, ok := tokenTable[c]
	if !ok {
		est = tokenTable[models.ComplexityMedium]
	}
	return est.input, est.output
}

// GeneratePlan produces an allocation for every story in the PRD.
// Quotas must be a frozen snapshot; learning may be nil.
func GeneratePlan(prd *models.PRD, quotas models.QuotaSnapshot, mode models.ExecutionMode, learning LearningSource) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{Mode: mode}
	catalog := quota.CatalogByID()

	for i := range prd.UserStories {
		story := &prd.UserStories[i]

		taskType := taskdetect.Detect(story)
		inTok, outTok := EstimateTokens(story.Complexity)
		rec := capability.GetRecommendedModel(taskType, mode, quotas)

		var cost float64
		if model, ok := catalog[rec.ModelID]; ok {
			cost = model.Cost(inTok, outTok)
		}

		alloc := models.Allocation{
			StoryID:               story.ID,
			TaskType:              taskType,
			RecommendedModel:      rec,
			Confidence:            confidence(rec, taskType, learning),
			EstimatedInputTokens:  inTok,
			EstimatedOutputTokens: outTok,
			EstimatedCostUSD:      cost,
		}

		plan.Stories = append(plan.Stories, alloc)
		plan.TotalEstimatedUSD += cost
	}

	return plan
}

// confidence scores an allocation in [0.5, 1.0]. Without learning data the
// default is 0.5; with data the overall score, success rate, and run-count
// experience bonus raise it.
func confidence(rec models.Recommendation, taskType models.TaskType, learning LearningSource) float64 {
	score := 0.5
	if learning == nil {
		return score
	}

	agg, err := learning.GetLearning(rec.Provider, rec.ModelID, taskType)
	if err != nil || agg == nil || agg.TotalRuns == 0 {
		return score
	}

	score += (agg.OverallScore / 100) * 0.35
	score += agg.SuccessRate * 0.1

	switch {
	case agg.TotalRuns >= 10:
		score += 0.05
	case agg.TotalRuns >= 5:
		score += 0.03
	case agg.TotalRuns >= 3:
		score += 0.01
	}

	if score < 0.5 {
		score = 0.5
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ModeComparison summarizes one mode's projected total.
type ModeComparison struct {
	Mode     models.ExecutionMode `json:"mode"`
	TotalUSD float64              `json:"totalUSD"`
}

// ComparePlans generates a plan per execution mode and returns the totals,
// in the fixed order balanced, super-saver, fast-delivery.
func ComparePlans(prd *models.PRD, quotas models.QuotaSnapshot, learning LearningSource) []ModeComparison {
	modes := []models.ExecutionMode{models.ModeBalanced, models.ModeSuperSaver, models.ModeFastDelivery}
	out := make([]ModeComparison, 0, len(modes))
	for _, mode := range modes {
		plan := GeneratePlan(prd, quotas, mode, learning)
		out = append(out, ModeComparison{Mode: mode, TotalUSD: plan.TotalEstimatedUSD})
	}
	return out
}
