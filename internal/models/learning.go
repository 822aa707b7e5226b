package models

import "time"

// ModelPerformanceRecord is one immutable per-run learning entry.
type ModelPerformanceRecord struct {
	Project         string     `json:"project"`
	StoryID         string     `json:"storyId"`
	StoryTitle      string     `json:"storyTitle"`
	TaskType        TaskType   `json:"taskType"`
	Complexity      Complexity `json:"complexity"`
	Provider        Provider   `json:"provider"`
	ModelID         string     `json:"modelId"`
	DurationMinutes float64    `json:"durationMinutes"`
	InputTokens     int        `json:"inputTokens"`
	OutputTokens    int        `json:"outputTokens"`
	TotalTokens     int        `json:"totalTokens"`
	CostUSD         float64    `json:"costUSD"`
	Success         bool       `json:"success"`
	RetryCount      int        `json:"retryCount"`
	ACTotal         int        `json:"acTotal"`
	ACPassed        int        `json:"acPassed"`
	ACPassRate      float64    `json:"acPassRate"`
	Timestamp       time.Time  `json:"timestamp"`
}

// ModelLearning is the aggregate for one (provider:modelId, taskType) key.
type ModelLearning struct {
	Provider           Provider `json:"provider"`
	ModelID            string   `json:"modelId"`
	TaskType           TaskType `json:"taskType"`
	TotalRuns          int      `json:"totalRuns"`
	SuccessfulRuns     int      `json:"successfulRuns"`
	SuccessRate        float64  `json:"successRate"`
	AvgDurationMinutes float64  `json:"avgDurationMinutes"`
	AvgCostUSD         float64  `json:"avgCostUSD"`
	AvgTokens          float64  `json:"avgTokens"`
	AvgACPassRate      float64  `json:"avgAcPassRate"`
	EfficiencyScore    float64  `json:"efficiencyScore"`
	SpeedScore         float64  `json:"speedScore"`
	ReliabilityScore   float64  `json:"reliabilityScore"`
	OverallScore       float64  `json:"overallScore"`
}
