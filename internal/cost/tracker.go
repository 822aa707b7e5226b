// Package cost tracks per-story execution cost through its lifecycle and
// persists finalized records to the append-only on-disk history.
package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

// Tracker owns the cost history. One StartStory opens an in-progress
// record; the matching EndStory finalizes and persists it.
type Tracker struct {
	mu          sync.Mutex
	historyPath string
	inProgress  map[string]*models.StoryExecutionRecord
	session     []models.StoryExecutionRecord
}

// NewTracker creates a tracker persisting to the given history file.
func NewTracker(historyPath string) *Tracker {
	return &Tracker{
		historyPath: historyPath,
		inProgress:  make(map[string]*models.StoryExecutionRecord),
	}
}

// StartStory records a new in-progress story execution. A second start for
// the same story before EndStory replaces the dangling record.
func (t *Tracker) StartStory(storyID, modelID string, provider models.Provider, estimatedCost float64, retryCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inProgress[storyID] = &models.StoryExecutionRecord{
		ID:            uuid.NewString(),
		StoryID:       storyID,
		ModelID:       modelID,
		Provider:      provider,
		StartTime:     time.Now(),
		EstimatedCost: estimatedCost,
		RetryCount:    retryCount,
	}
}

// EndStory finalizes the in-progress record for a story and appends it to
// the on-disk history. Unmatched ends are ignored.
func (t *Tracker) EndStory(storyID string, actualCost float64, inputTokens, outputTokens int, success bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.inProgress[storyID]
	if !ok {
		return nil
	}
	delete(t.inProgress, storyID)

	now := time.Now()
	record.EndTime = &now
	record.ActualCost = &actualCost
	record.InputTokens = inputTokens
	record.OutputTokens = outputTokens
	record.Success = &success

	t.session = append(t.session, *record)

	return t.appendLocked(*record)
}

// appendLocked rewrites the history file with the new record appended.
// The write is atomic and fsynced; readers observe pre- or post-state.
func (t *Tracker) appendLocked(record models.StoryExecutionRecord) error {
	history, err := readHistory(t.historyPath)
	if err != nil {
		return err
	}
	history = append(history, record)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cost history: %w", err)
	}

	if err := filelock.ReplaceDurable(t.historyPath, data); err != nil {
		return fmt.Errorf("persist cost history: %w", err)
	}
	return nil
}

// GetSessionCosts aggregates the records finalized during this run.
func (t *Tracker) GetSessionCosts() models.SessionCosts {
	t.mu.Lock()
	defer t.mu.Unlock()

	costs := models.SessionCosts{
		Records: make([]models.StoryExecutionRecord, len(t.session)),
	}
	copy(costs.Records, t.session)

	for _, r := range t.session {
		costs.TotalEstimated += r.EstimatedCost
		if r.ActualCost != nil {
			costs.TotalActual += *r.ActualCost
		}
		costs.StoriesCompleted++
		if r.Success != nil && *r.Success {
			costs.StoriesSuccessful++
		}
	}
	return costs
}

// History returns every record persisted to disk.
func (t *Tracker) History() ([]models.StoryExecutionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return readHistory(t.historyPath)
}

func readHistory(path string) ([]models.StoryExecutionRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cost history: %w", err)
	}

	var history []models.StoryExecutionRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse cost history: %w", err)
	}
	return history, nil
}
