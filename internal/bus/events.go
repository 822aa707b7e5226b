package bus

import "github.com/harrison/ralph-ultra/internal/models"

// EventKind discriminates event variants.
type EventKind string

const (
	KindQuotaUpdate           EventKind = "quota-update"
	KindQuotaWarning          EventKind = "quota-warning"
	KindPlanStarted           EventKind = "plan-started"
	KindPlanReady             EventKind = "plan-ready"
	KindPlanFailed            EventKind = "plan-failed"
	KindExecutionStarted      EventKind = "execution-started"
	KindStoryStarted          EventKind = "story-started"
	KindStoryProgress         EventKind = "story-progress"
	KindStoryCompleted        EventKind = "story-completed"
	KindStoryFailed           EventKind = "story-failed"
	KindExecutionPaused       EventKind = "execution-paused"
	KindExecutionResumed      EventKind = "execution-resumed"
	KindExecutionStopped      EventKind = "execution-stopped"
	KindExecutionComplete     EventKind = "execution-complete"
	KindLearningRecorded      EventKind = "learning-recorded"
	KindRecommendationUpdated EventKind = "recommendation-updated"
	KindStateSnapshot         EventKind = "state-snapshot"
)

// Event is implemented by every event variant.
type Event interface {
	Kind() EventKind
}

// QuotaUpdate carries a fresh quota snapshot.
type QuotaUpdate struct {
	Snapshot models.QuotaSnapshot
}

func (QuotaUpdate) Kind() EventKind { return KindQuotaUpdate }

// QuotaWarning signals a provider crossing into limited or exhausted.
type QuotaWarning struct {
	Quota models.Quota
}

func (QuotaWarning) Kind() EventKind { return KindQuotaWarning }

// PlanStarted signals plan generation beginning.
type PlanStarted struct {
	Project string
	Mode    models.ExecutionMode
}

func (PlanStarted) Kind() EventKind { return KindPlanStarted }

// PlanReady carries a generated execution plan.
type PlanReady struct {
	Plan *models.ExecutionPlan
}

func (PlanReady) Kind() EventKind { return KindPlanReady }

// PlanFailed signals plan generation failure.
type PlanFailed struct {
	Reason string
}

func (PlanFailed) Kind() EventKind { return KindPlanFailed }

// ExecutionStarted signals a run beginning.
type ExecutionStarted struct {
	Project string
}

func (ExecutionStarted) Kind() EventKind { return KindExecutionStarted }

// StoryStarted signals a story attempt launching.
type StoryStarted struct {
	StoryID string
	Title   string
	ModelID string
	Attempt int
}

func (StoryStarted) Kind() EventKind { return KindStoryStarted }

// StoryProgress carries a live activity update for the running story.
type StoryProgress struct {
	StoryID  string
	Activity models.AgentActivity
}

func (StoryProgress) Kind() EventKind { return KindStoryProgress }

// StoryCompleted signals a story finishing with all criteria passing.
type StoryCompleted struct {
	StoryID  string
	Success  bool
	ACPassed int
	ACTotal  int
}

func (StoryCompleted) Kind() EventKind { return KindStoryCompleted }

// StoryFailed signals a failed verification for a story attempt.
type StoryFailed struct {
	StoryID    string
	RetryCount int
	Reasons    []string
	Skipped    bool
}

func (StoryFailed) Kind() EventKind { return KindStoryFailed }

// ExecutionPaused signals a user stop with a resumable session.
type ExecutionPaused struct {
	StoryID   string
	SessionID string
}

func (ExecutionPaused) Kind() EventKind { return KindExecutionPaused }

// ExecutionResumed signals resumption of a paused story.
type ExecutionResumed struct {
	StoryID   string
	SessionID string
}

func (ExecutionResumed) Kind() EventKind { return KindExecutionResumed }

// ExecutionStopped signals the engine returning to idle after a stop.
type ExecutionStopped struct {
	StoryID string
}

func (ExecutionStopped) Kind() EventKind { return KindExecutionStopped }

// ExecutionComplete signals every story in the PRD passing or skipping.
type ExecutionComplete struct {
	Project string
}

func (ExecutionComplete) Kind() EventKind { return KindExecutionComplete }

// LearningRecorded carries a newly recorded performance record.
type LearningRecorded struct {
	Record models.ModelPerformanceRecord
}

func (LearningRecorded) Kind() EventKind { return KindLearningRecorded }

// RecommendationUpdated signals a best-model change for a task type.
type RecommendationUpdated struct {
	TaskType models.TaskType
	ModelID  string
	Provider models.Provider
}

func (RecommendationUpdated) Kind() EventKind { return KindRecommendationUpdated }

// StateSnapshot carries the engine's externally visible state.
type StateSnapshot struct {
	State          string
	CurrentStoryID string
	SessionID      string
}

func (StateSnapshot) Kind() EventKind { return KindStateSnapshot }
