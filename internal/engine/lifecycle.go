package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/taskdetect"
)

// onSessionEnd is the end-of-session path: verify acceptance criteria,
// persist results, record cost and learning, and decide whether to
// advance, retry, or skip. Serialized with every other operation through
// the engine mutex around each state mutation.
func (e *Engine) onSessionEnd() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	storyID := e.currentStoryID
	sessionName := e.sessionName
	duration := time.Since(e.launchedAt)
	resumeUsed := e.resumeUsed
	alloc := e.allocation
	tailStop := e.tailStop
	e.tailStop = nil
	e.mu.Unlock()

	ctx := context.Background()

	if tailStop != nil {
		close(tailStop)
	}
	e.cleanupAttempt()

	// A resume attempt that died almost immediately means the stored
	// session token is no longer valid; clear it so the next attempt
	// starts fresh.
	if duration < quickFailureWindow && resumeUsed {
		e.log.LogWarn("resumed session ended in under 10s; clearing stored session id")
		e.mu.Lock()
		e.sessionID = ""
		e.mu.Unlock()
		if progress, err := e.store.LoadProgress(); err == nil {
			if entry := progress.Story(storyID); entry != nil {
				entry.SessionID = ""
				e.store.SaveProgress(progress)
			}
		}
	}

	document, err := e.store.Load()
	if err != nil {
		e.toIdleWithError(fmt.Errorf("reload PRD after session: %w", err))
		return
	}
	story := document.Story(storyID)
	if story == nil {
		e.toIdleWithError(fmt.Errorf("%w: %s", ErrNoStory, storyID))
		return
	}

	// Evaluate acceptance criteria.
	var (
		results  []ACResult
		runnerOK = true
	)
	acTotal := len(story.AcceptanceCriteria)
	if story.HasStructuredCriteria() {
		results, runnerOK = evaluateACs(ctx, e.runner, e.projectDir, story.AcceptanceCriteria)
		now := time.Now()
		for i := range story.AcceptanceCriteria {
			story.AcceptanceCriteria[i].Passes = results[i].Passed
			if story.AcceptanceCriteria[i].TestCommand != "" {
				t := now
				story.AcceptanceCriteria[i].LastRun = &t
			}
		}
		story.RecomputePasses()
	} else {
		// String-form criteria with no test commands: a session that ends
		// without test failures marks the story passing.
		acTotal = len(story.RawCriteria)
		story.Passes = true
	}

	if !runnerOK {
		e.log.LogWarn("test runner inaccessible; story left unverified")
		e.mu.Lock()
		e.setStateLocked(StateIdle)
		e.mu.Unlock()
		e.emitSnapshot()
		return
	}

	if err := e.store.Save(document); err != nil {
		e.log.LogError(fmt.Sprintf("persist PRD after verification: %v", err))
	}

	if document.AllPassing() {
		if path, err := e.store.Archive(); err != nil {
			e.log.LogWarn(fmt.Sprintf("archive completed PRD: %v", err))
		} else {
			e.log.LogInfo("completed PRD archived to " + path)
		}
	}

	acPassed := 0
	var reasons []string
	for _, r := range results {
		if r.Passed {
			acPassed++
		} else {
			reasons = append(reasons, failureReason(r))
		}
	}
	if !story.HasStructuredCriteria() {
		acPassed = acTotal
	}

	// Record cost and learning from the session log.
	inTok, outTok := extractTokenUsage(e.sessionLogPath())
	actualCost := 0.0
	if e.quota != nil {
		actualCost = e.quota.EstimateCost(alloc.RecommendedModel.ModelID, inTok, outTok)
	}
	e.mu.Lock()
	retryCount := e.retries[storyID]
	e.mu.Unlock()

	if e.cost != nil {
		if err := e.cost.EndStory(storyID, actualCost, inTok, outTok, story.Passes); err != nil {
			e.log.LogError(fmt.Sprintf("persist cost record: %v", err))
		}
	}
	if e.learning != nil {
		passRate := 0.0
		if acTotal > 0 {
			passRate = float64(acPassed) / float64(acTotal)
		}
		record := models.ModelPerformanceRecord{
			Project:         document.Project,
			StoryID:         storyID,
			StoryTitle:      story.Title,
			TaskType:        taskdetect.Detect(story),
			Complexity:      story.Complexity,
			Provider:        alloc.RecommendedModel.Provider,
			ModelID:         alloc.RecommendedModel.ModelID,
			DurationMinutes: duration.Minutes(),
			InputTokens:     inTok,
			OutputTokens:    outTok,
			TotalTokens:     inTok + outTok,
			CostUSD:         actualCost,
			Success:         story.Passes,
			RetryCount:      retryCount,
			ACTotal:         acTotal,
			ACPassed:        acPassed,
			ACPassRate:      passRate,
			Timestamp:       time.Now(),
		}
		if err := e.learning.RecordRun(ctx, record); err != nil {
			e.log.LogError(fmt.Sprintf("record learning: %v", err))
		}
	}

	if story.Passes {
		e.finishStory(ctx, document, story, sessionName, acPassed, acTotal)
		return
	}
	e.handleFailure(ctx, document, story, sessionName, reasons)
}

// finishStory handles the success path: clear counters, kill the session,
// and advance to the next story after a short spacing delay.
func (e *Engine) finishStory(ctx context.Context, document *models.PRD, story *models.UserStory, sessionName string, acPassed, acTotal int) {
	e.mu.Lock()
	delete(e.retries, story.ID)
	delete(e.iterations, story.ID)
	e.setStateLocked(StateIdle)
	e.currentStoryID = ""
	e.sessionID = ""
	e.mu.Unlock()
	e.emitSnapshot()

	if sessionName != "" {
		e.tmux.KillSession(ctx, sessionName)
	}

	if progress, err := e.store.LoadProgress(); err == nil {
		entry := progress.Ensure(story.ID)
		entry.Passed = true
		entry.Paused = false
		entry.SessionID = ""
		entry.FailureReasons = nil
		if err := e.store.SaveProgress(progress); err != nil {
			e.log.LogError(fmt.Sprintf("save progress: %v", err))
		}
	}

	e.emit(bus.StoryCompleted{StoryID: story.ID, Success: true, ACPassed: acPassed, ACTotal: acTotal})
	e.log.LogInfo(fmt.Sprintf("story %s completed (%d/%d ACs)", story.ID, acPassed, acTotal))

	next := document.NextStory()
	if next == nil {
		e.emit(bus.ExecutionComplete{Project: document.Project})
		e.log.LogInfo("all stories complete")
		return
	}

	go func() {
		time.Sleep(e.interStoryDelay)
		if err := e.launchStory(context.Background(), document, next); err != nil {
			e.log.LogError(fmt.Sprintf("launch next story: %v", err))
		}
	}()
}

// handleFailure handles the retry path: persist resume state, and either
// relaunch, or skip the story once the retry or iteration bound is hit.
func (e *Engine) handleFailure(ctx context.Context, document *models.PRD, story *models.UserStory, sessionName string, reasons []string) {
	e.mu.Lock()
	e.retries[story.ID]++
	retryCount := e.retries[story.ID]
	iterations := e.iterations[story.ID]
	sessionID := e.sessionID
	e.mu.Unlock()

	passing, failing := acSplit(story)
	if progress, err := e.store.LoadProgress(); err == nil {
		entry := progress.Ensure(story.ID)
		entry.Paused = true
		entry.SessionID = sessionID
		entry.PassingACs = passing
		entry.FailingACs = failing
		entry.FailureReasons = reasons
		if err := e.store.SaveProgress(progress); err != nil {
			e.log.LogError(fmt.Sprintf("save progress: %v", err))
		}
	}

	skipped := retryCount >= MaxRetriesPerStory || iterations >= MaxIterations
	e.emit(bus.StoryFailed{StoryID: story.ID, RetryCount: retryCount, Reasons: reasons, Skipped: skipped})
	e.log.LogWarn(fmt.Sprintf("story %s failed (retry %d/%d, iteration %d/%d)",
		story.ID, retryCount, MaxRetriesPerStory, iterations, MaxIterations))

	if skipped {
		e.skipAndAdvanceAfterFailure(ctx, document, story, sessionName)
		return
	}

	e.mu.Lock()
	e.setStateLocked(StatePaused)
	e.mu.Unlock()
	e.emitSnapshot()

	go func() {
		time.Sleep(e.retryDelay)
		if err := e.launchStory(context.Background(), document, story); err != nil {
			e.log.LogError(fmt.Sprintf("relaunch story %s: %v", story.ID, err))
		}
	}()
}

// skipAndAdvanceAfterFailure marks the story skipped in the PRD, kills
// the session, and moves on.
func (e *Engine) skipAndAdvanceAfterFailure(ctx context.Context, document *models.PRD, story *models.UserStory, sessionName string) {
	story.Skipped = true
	if err := e.store.Save(document); err != nil {
		e.log.LogError(fmt.Sprintf("persist skipped story: %v", err))
	}

	e.mu.Lock()
	delete(e.retries, story.ID)
	delete(e.iterations, story.ID)
	e.setStateLocked(StateIdle)
	e.currentStoryID = ""
	e.sessionID = ""
	e.mu.Unlock()
	e.emitSnapshot()

	if sessionName != "" {
		e.tmux.KillSession(ctx, sessionName)
	}

	next := document.NextStory()
	if next == nil {
		e.emit(bus.ExecutionComplete{Project: document.Project})
		return
	}

	go func() {
		time.Sleep(e.interStoryDelay)
		if err := e.launchStory(context.Background(), document, next); err != nil {
			e.log.LogError(fmt.Sprintf("launch next story: %v", err))
		}
	}()
}

// skipAndAdvance marks a story skipped before launch (iteration cap) and
// continues with the next one.
func (e *Engine) skipAndAdvance(ctx context.Context, document *models.PRD, story *models.UserStory) error {
	story.Skipped = true
	if err := e.store.Save(document); err != nil {
		return fmt.Errorf("persist skipped story: %w", err)
	}
	e.mu.Lock()
	retryCount := e.retries[story.ID]
	delete(e.retries, story.ID)
	delete(e.iterations, story.ID)
	e.mu.Unlock()
	e.emit(bus.StoryFailed{StoryID: story.ID, RetryCount: retryCount, Skipped: true})

	next := document.NextStory()
	if next == nil {
		e.emit(bus.ExecutionComplete{Project: document.Project})
		return nil
	}
	return e.launchStory(ctx, document, next)
}

// acSplit partitions a story's structured criteria by pass state.
func acSplit(story *models.UserStory) (passing, failing []string) {
	for _, ac := range story.AcceptanceCriteria {
		if ac.Passes {
			passing = append(passing, ac.ID)
		} else {
			failing = append(failing, ac.ID)
		}
	}
	return passing, failing
}
