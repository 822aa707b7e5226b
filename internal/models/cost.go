package models

import "time"

// StoryExecutionRecord is one story's cost lifecycle entry.
// Appended to the on-disk cost history when finalized.
type StoryExecutionRecord struct {
	ID            string     `json:"id"`
	StoryID       string     `json:"storyId"`
	ModelID       string     `json:"modelId"`
	Provider      Provider   `json:"provider"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	EstimatedCost float64    `json:"estimatedCost"`
	ActualCost    *float64   `json:"actualCost,omitempty"`
	InputTokens   int        `json:"inputTokens,omitempty"`
	OutputTokens  int        `json:"outputTokens,omitempty"`
	RetryCount    int        `json:"retryCount"`
	Success       *bool      `json:"success,omitempty"`
}

// SessionCosts aggregates the records of the current run.
type SessionCosts struct {
	TotalEstimated    float64                `json:"totalEstimated"`
	TotalActual       float64                `json:"totalActual"`
	StoriesCompleted  int                    `json:"storiesCompleted"`
	StoriesSuccessful int                    `json:"storiesSuccessful"`
	Records           []StoryExecutionRecord `json:"records"`
}
