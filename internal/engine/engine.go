// Package engine drives one project's stories through their lifecycle:
// plan, launch the external CLI inside a tmux session, stream its output,
// verify acceptance criteria, and retry, pause, or advance. One Engine
// exists per open project; its mutable state is guarded by a single mutex
// so no caller observes an inconsistent intermediate state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/cost"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/logger"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/planner"
	"github.com/harrison/ralph-ultra/internal/prd"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// State is the engine's process state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StatePaused   State = "paused"
	// StateExternal means a live session exists that this engine did not
	// start; it is tailed but not owned until reclaimed.
	StateExternal State = "external"
)

// Retry and iteration bounds per story.
const (
	MaxRetriesPerStory = 3
	MaxIterations      = 10
)

// Launch-path thresholds and delays.
const (
	complexityWordThreshold = 200
	complexityACThreshold   = 8
	quickFailureWindow      = 10 * time.Second
	stoppingWatchdogTicks   = 3
)

// complexityKeywords trip the complexity warning gate.
var complexityKeywords = []string{"distributed", "concurrent", "migration", "rewrite", "cryptograph"}

// Config wires the engine's collaborators.
type Config struct {
	ProjectDir string
	Bus        *bus.Bus
	Quota      *quota.Manager
	Cost       *cost.Tracker
	Learning   *learning.Recorder
	Log        logger.Logger
	Settings   *config.Settings
	Tmux       *tmux.Runner
	// Commander runs CLI health checks. Defaults to real execution.
	Commander tmux.Commander
	// Runner executes AC test commands. Defaults to sh -c.
	Runner CommandRunner
	// Status gates launches on remote API health; nil disables the gate.
	Status StatusChecker
	Mode   models.ExecutionMode
	// SkipGates bypasses the complexity and API-health grace periods.
	SkipGates bool
}

// EngineStatus is the externally visible engine state.
type EngineStatus struct {
	State          State  `json:"state"`
	CurrentStoryID string `json:"currentStoryId,omitempty"`
	SessionName    string `json:"sessionName,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
}

// Engine drives story execution for one project.
type Engine struct {
	projectDir string
	bus        *bus.Bus
	quota      *quota.Manager
	cost       *cost.Tracker
	learning   *learning.Recorder
	log        logger.Logger
	settings   *config.Settings
	tmux       *tmux.Runner
	runner     CommandRunner
	status     StatusChecker
	store      *prd.Store
	health     *healthCache
	mode       models.ExecutionMode
	skipGates  bool

	mu             sync.Mutex
	state          State
	currentStoryID string
	sessionName    string
	sessionID      string // external CLI resume token
	resumeUsed     bool
	launchedAt     time.Time
	activity       models.AgentActivity
	ring           *Ring
	parser         *StreamParser
	cursor         *logCursor
	iterations     map[string]int
	retries        map[string]int
	stoppingTicks  int
	promptFile     string
	allocation     models.Allocation
	tailStop       chan struct{}
	monitorStop    chan struct{}
	debug          bool

	// Delays, overridable in tests.
	monitorInterval time.Duration
	tailInterval    time.Duration
	interStoryDelay time.Duration
	retryDelay      time.Duration
	complexityGrace time.Duration
	apiGrace        time.Duration
}

// New creates an engine for a project directory.
func New(cfg Config) *Engine {
	commander := cfg.Commander
	if commander == nil {
		commander = realCommander{}
	}
	runner := cfg.Runner
	if runner == nil {
		runner = shellRunner{}
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop{}
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = settings.ExecutionMode
	}
	if mode == "" {
		mode = models.ModeBalanced
	}
	quotaMgr := cfg.Quota
	if quotaMgr == nil {
		quotaMgr = quota.NewManagerWithDetectors(cfg.Bus, nil)
	}

	return &Engine{
		projectDir:      cfg.ProjectDir,
		bus:             cfg.Bus,
		quota:           quotaMgr,
		cost:            cfg.Cost,
		learning:        cfg.Learning,
		log:             log,
		settings:        settings,
		tmux:            cfg.Tmux,
		runner:          runner,
		status:          cfg.Status,
		store:           prd.NewStore(cfg.ProjectDir),
		health:          newHealthCache(commander),
		mode:            mode,
		skipGates:       cfg.SkipGates,
		state:           StateIdle,
		ring:            NewRing(),
		parser:          NewStreamParser(),
		cursor:          newLogCursor(filepath.Join(cfg.ProjectDir, "logs", "ralph-session.log")),
		iterations:      make(map[string]int),
		retries:         make(map[string]int),
		monitorInterval: 3 * time.Second,
		tailInterval:    500 * time.Millisecond,
		interStoryDelay: time.Second,
		retryDelay:      2 * time.Second,
		complexityGrace: 5 * time.Second,
		apiGrace:        3 * time.Second,
	}
}

// realCommander executes commands for health checks.
type realCommander struct{}

func (realCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// sessionLogPath is where the external CLI's output is teed.
func (e *Engine) sessionLogPath() string {
	return filepath.Join(e.projectDir, "logs", "ralph-session.log")
}

// Run starts (or resumes) execution with the next eligible story.
func (e *Engine) Run(ctx context.Context) error {
	return e.run(ctx, "")
}

// RunStory starts execution with an explicit story.
func (e *Engine) RunStory(ctx context.Context, storyID string) error {
	return e.run(ctx, storyID)
}

func (e *Engine) run(ctx context.Context, storyID string) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StatePaused:
		// runnable
	case StateExternal:
		// Reclaim the orphaned session by killing it.
		name := e.sessionName
		e.mu.Unlock()
		if name != "" {
			e.tmux.KillSession(ctx, name)
		}
		e.mu.Lock()
		e.setStateLocked(StateIdle)
	default:
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	e.mu.Unlock()

	document, err := e.store.Load()
	if err != nil {
		e.toIdleWithError(err)
		return err
	}

	if _, err := e.store.Backup(); err != nil {
		e.log.LogWarn(fmt.Sprintf("PRD backup failed: %v", err))
	}

	var story *models.UserStory
	if storyID != "" {
		story = document.Story(storyID)
		if story == nil {
			err := fmt.Errorf("%w: %s", ErrNoStory, storyID)
			e.toIdleWithError(err)
			return err
		}
	} else {
		story = document.NextStory()
	}

	if story == nil {
		// Empty PRD or everything already passing.
		e.emit(bus.ExecutionComplete{Project: document.Project})
		return nil
	}

	e.emit(bus.ExecutionStarted{Project: document.Project})
	return e.launchStory(ctx, document, story)
}

// launchStory performs the full launch path for one story attempt.
func (e *Engine) launchStory(ctx context.Context, document *models.PRD, story *models.UserStory) error {
	e.mu.Lock()
	iterations := e.iterations[story.ID]
	e.mu.Unlock()

	if iterations >= MaxIterations {
		e.log.LogWarn(fmt.Sprintf("story %s exceeded %d iterations; skipping", story.ID, MaxIterations))
		return e.skipAndAdvance(ctx, document, story)
	}

	e.applyGates(ctx, story)

	// Plan with a frozen quota snapshot.
	e.emit(bus.PlanStarted{Project: document.Project, Mode: e.mode})
	snapshot := e.quota.Refresh(ctx, false)
	var history planner.LearningSource
	if e.learning != nil {
		history = e.learning
	}
	plan := planner.GeneratePlan(document, snapshot, e.mode, history)
	alloc := plan.Allocation(story.ID)
	if alloc == nil {
		err := fmt.Errorf("no allocation produced for story %s", story.ID)
		e.emit(bus.PlanFailed{Reason: err.Error()})
		e.toIdleWithError(err)
		return err
	}
	e.emit(bus.PlanReady{Plan: plan})

	if alloc.RecommendedModel.Reason == "no-quota-warning" {
		e.log.LogWarn(fmt.Sprintf("no provider quota available for %s; proceeding with %s",
			alloc.TaskType, alloc.RecommendedModel.ModelID))
	}

	spec, err := e.pickCLI(ctx, document, alloc.RecommendedModel)
	if err != nil {
		e.toIdleWithError(err)
		return err
	}

	progress, err := e.store.LoadProgress()
	if err != nil {
		e.log.LogError(fmt.Sprintf("load progress: %v", err))
		progress = &models.ExecutionProgress{StartedAt: time.Now()}
	}
	entry := progress.Ensure(story.ID)

	// Resume when a paused session exists for this story and the CLI can
	// reuse it.
	resumeToken := ""
	var prompt string
	if entry.Paused {
		if entry.SessionID != "" && spec.SupportsResume {
			resumeToken = entry.SessionID
		}
		prompt = buildResumePrompt(story, entry.PassingACs, entry.FailingACs)
		e.emit(bus.ExecutionResumed{StoryID: story.ID, SessionID: resumeToken})
	} else {
		principles, perr := config.LoadPrinciples()
		if perr != nil {
			e.log.LogWarn(fmt.Sprintf("load principles: %v", perr))
		}
		prompt = buildFreshPrompt(story, principles)
	}

	promptFile, err := writePromptFile(prompt)
	if err != nil {
		e.toIdleWithError(err)
		return err
	}

	sessionName := "ralph-" + tmux.SanitizeSessionName(document.BranchName)
	logPath := e.sessionLogPath()

	// Truncate the session log so the tailer starts clean.
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
		os.WriteFile(logPath, nil, 0644)
	}

	if err := e.tmux.NewSession(ctx, sessionName, e.projectDir); err != nil {
		os.Remove(promptFile)
		err = fmt.Errorf("multiplexer session: %w", err)
		e.toIdleWithError(err)
		return err
	}

	command := BuildCommand(spec, alloc.RecommendedModel.ModelID, alloc.RecommendedModel.Provider, promptFile, resumeToken)
	doneChannel := "ralph-done-" + sessionName
	full := fmt.Sprintf("%s 2>&1 | tee %q; tmux wait-for -S %s", command, logPath, doneChannel)
	if err := e.tmux.SendKeys(ctx, sessionName, full); err != nil {
		e.tmux.KillSession(ctx, sessionName)
		os.Remove(promptFile)
		e.toIdleWithError(err)
		return err
	}

	// Commit engine state for the attempt.
	e.mu.Lock()
	e.state = StateRunning
	e.currentStoryID = story.ID
	e.sessionName = sessionName
	e.resumeUsed = resumeToken != ""
	startedAt := time.Now()
	e.launchedAt = startedAt
	e.activity = models.AgentActivity{StartedAt: &startedAt}
	e.ring.Reset()
	e.parser = NewStreamParser()
	e.cursor.Reset()
	e.iterations[story.ID]++
	e.promptFile = promptFile
	e.allocation = *alloc
	e.stoppingTicks = 0
	attempt := e.iterations[story.ID]
	retryCount := e.retries[story.ID]
	e.tailStop = make(chan struct{})
	tailStop := e.tailStop
	e.mu.Unlock()
	e.emitSnapshot()

	entry.Attempts++
	entry.LastAttempt = time.Now()
	entry.Paused = false
	if err := e.store.SaveProgress(progress); err != nil {
		e.log.LogError(fmt.Sprintf("save progress: %v", err))
	}

	if e.cost != nil {
		e.cost.StartStory(story.ID, alloc.RecommendedModel.ModelID, alloc.RecommendedModel.Provider, alloc.EstimatedCostUSD, retryCount)
	}

	e.emit(bus.StoryStarted{
		StoryID: story.ID,
		Title:   story.Title,
		ModelID: alloc.RecommendedModel.ModelID,
		Attempt: attempt,
	})
	e.log.LogInfo(fmt.Sprintf("story %s attempt %d launched with %s via %s",
		story.ID, attempt, alloc.RecommendedModel.ModelID, spec.ID))

	e.ensureMonitor()
	go e.tailLoop(tailStop)
	go e.awaitCompletion(doneChannel, tailStop)

	return nil
}

// applyGates runs the complexity and API-health warning gates.
func (e *Engine) applyGates(ctx context.Context, story *models.UserStory) {
	if e.skipGates {
		return
	}

	if reason := complexityWarning(story); reason != "" {
		e.log.LogWarn(fmt.Sprintf("complexity warning for %s: %s (grace %s)", story.ID, reason, e.complexityGrace))
		sleepCtx(ctx, e.complexityGrace)
	}

	if e.status != nil {
		if s := e.status.Check(ctx); s == StatusDegraded || s == StatusOutage {
			e.log.LogWarn(fmt.Sprintf("remote API status %s (grace %s)", s, e.apiGrace))
			sleepCtx(ctx, e.apiGrace)
		}
	}
}

// complexityWarning reports why a story trips the gate, or "".
func complexityWarning(story *models.UserStory) string {
	words := len(strings.Fields(story.Description))
	if words > complexityWordThreshold {
		return fmt.Sprintf("description has %d words", words)
	}
	acCount := len(story.AcceptanceCriteria) + len(story.RawCriteria)
	if acCount > complexityACThreshold {
		return fmt.Sprintf("%d acceptance criteria", acCount)
	}
	lower := strings.ToLower(story.Description)
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			return "complexity keyword: " + kw
		}
	}
	return ""
}

// pickCLI health-checks the provider-mapped CLI, then walks the fallback
// chain: project override → project list → global preferred → global list
// → built-in order. First healthy wins.
func (e *Engine) pickCLI(ctx context.Context, document *models.PRD, rec models.Recommendation) (CLISpec, error) {
	preferred := cliForProvider(rec.Provider)
	if spec, ok := LookupCLI(preferred); ok && e.health.IsHealthy(ctx, spec) {
		return spec, nil
	}

	chain := fallbackChain(document.CLI, document.CLIFallbackOrder, e.settings.PreferredCLI, e.settings.CLIFallbackOrder)
	for _, id := range chain {
		spec, _ := LookupCLI(id)
		if e.health.IsHealthy(ctx, spec) {
			if id != preferred {
				e.log.LogWarn(fmt.Sprintf("CLI %s unhealthy; falling back to %s", preferred, id))
			}
			return spec, nil
		}
	}
	return CLISpec{}, ErrNoHealthyCLI
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// emit publishes an event when a bus is wired.
func (e *Engine) emit(event bus.Event) {
	if e.bus != nil {
		e.bus.Emit(event)
	}
}

func (e *Engine) emitSnapshot() {
	e.mu.Lock()
	snap := bus.StateSnapshot{
		State:          string(e.state),
		CurrentStoryID: e.currentStoryID,
		SessionID:      e.sessionID,
	}
	e.mu.Unlock()
	e.emit(snap)
}

// setStateLocked transitions state; callers hold the mutex.
func (e *Engine) setStateLocked(s State) {
	e.state = s
	if s != StateStopping {
		e.stoppingTicks = 0
	}
}

// toIdleWithError returns the engine to idle after a fatal error.
func (e *Engine) toIdleWithError(err error) {
	e.log.LogError(err.Error())
	e.mu.Lock()
	e.setStateLocked(StateIdle)
	e.currentStoryID = ""
	e.mu.Unlock()
	e.emitSnapshot()
}

// cleanupAttempt removes the prompt temp file.
func (e *Engine) cleanupAttempt() {
	e.mu.Lock()
	file := e.promptFile
	e.promptFile = ""
	e.mu.Unlock()
	if file != "" {
		os.Remove(file)
	}
}

// ensureMonitor starts the session monitor if not already running.
func (e *Engine) ensureMonitor() {
	e.mu.Lock()
	if e.monitorStop != nil {
		e.mu.Unlock()
		return
	}
	e.monitorStop = make(chan struct{})
	stop := e.monitorStop
	e.mu.Unlock()

	go e.monitorLoop(stop)
}

// monitorLoop verifies multiplexer liveness at a fixed cadence. A session
// that vanished while running triggers the end-of-session path; a session
// appearing while idle is adopted as external; a stuck stopping state
// force-resets after three ticks.
func (e *Engine) monitorLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.monitorTick()
		}
	}
}

func (e *Engine) monitorTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	e.mu.Lock()
	state := e.state
	name := e.sessionName
	e.mu.Unlock()

	switch state {
	case StateRunning:
		if name != "" && !e.tmux.HasSession(ctx, name) {
			e.log.LogDebug("session ended without completion signal")
			e.onSessionEnd()
		}
	case StateIdle:
		if name != "" && e.tmux.HasSession(ctx, name) {
			e.mu.Lock()
			e.setStateLocked(StateExternal)
			e.mu.Unlock()
			e.log.LogInfo("adopted external session " + name)
			e.emitSnapshot()
		}
	case StateStopping:
		e.mu.Lock()
		e.stoppingTicks++
		stuck := e.stoppingTicks >= stoppingWatchdogTicks
		if stuck {
			e.setStateLocked(StateIdle)
		}
		e.mu.Unlock()
		if stuck {
			e.log.LogWarn("stopping state stuck; force-reset to idle")
			e.emitSnapshot()
		}
	case StatePaused:
		// Liveness checks suspended: the engine killed the session
		// deliberately.
	}
}

// tailLoop polls the session log while a session is active, feeding new
// lines through the stream parser into the ring buffer and activity.
func (e *Engine) tailLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.tailInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			e.drainLog()
			return
		case <-ticker.C:
			e.drainLog()
		}
	}
}

// drainLog processes any new session log lines.
func (e *Engine) drainLog() {
	lines, err := e.cursor.ReadNew()
	if err != nil {
		e.log.LogDebug(fmt.Sprintf("tail session log: %v", err))
		return
	}
	if len(lines) == 0 {
		return
	}

	e.mu.Lock()
	parser := e.parser
	storyID := e.currentStoryID
	e.mu.Unlock()

	updated := false
	for _, line := range lines {
		e.captureSessionID(line)

		records, usage := parser.Feed(line)
		for _, rec := range records {
			if rec.Type == "system" {
				e.log.LogDebug("malformed stream line: " + rec.Content)
			}
			e.ring.Append(rec)
			e.applyRecord(rec)
			updated = true
		}
		if usage != nil {
			e.applyUsage(usage)
			updated = true
		}
	}

	if updated && storyID != "" {
		e.emit(bus.StoryProgress{StoryID: storyID, Activity: e.GetAgentActivity()})
	}
}

// captureSessionID remembers the CLI's opaque session id when the stream
// announces one, for later resume.
func (e *Engine) captureSessionID(line string) {
	if !strings.Contains(line, "session_id") {
		return
	}
	var ev struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &ev); err != nil || ev.SessionID == "" {
		return
	}
	e.mu.Lock()
	e.sessionID = ev.SessionID
	e.mu.Unlock()
}

// applyRecord folds an output record into the live activity.
func (e *Engine) applyRecord(rec OutputRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch rec.Type {
	case "tool_start":
		e.activity.IsThinking = false
		e.activity.RecordTool(models.ToolUse{Name: rec.Tool, Summary: rec.Content, At: time.Now()})
	case "text":
		e.activity.IsThinking = true
		e.activity.LastThinkingSnippet = truncate(rec.Content, 120)
	case "result":
		e.activity.IsThinking = false
		e.activity.CurrentTool = ""
		e.activity.CurrentToolInputSummary = ""
	}
}

// applyUsage folds token metrics into the live activity.
func (e *Engine) applyUsage(u *UsageDelta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Model != "" {
		e.activity.Metrics.Model = u.Model
	}
	e.activity.Metrics.TotalInputTokens += u.InputTokens
	e.activity.Metrics.TotalOutputTokens += u.OutputTokens
	e.activity.Metrics.CacheReadTokens += u.CacheRead
	e.activity.Metrics.CacheCreationTokens += u.CacheCreation
	e.activity.Metrics.CostUSD += u.CostUSD
}

// awaitCompletion blocks on the tmux completion signal, then runs the
// end-of-session path. A deliberate stop closes tailStop first, and the
// waiter unwinds without verifying.
func (e *Engine) awaitCompletion(channel string, tailStop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-tailStop
		cancel()
	}()

	if err := e.tmux.WaitFor(ctx, channel); err != nil {
		// Cancelled by stop, or wait-for failed; the monitor covers the
		// latter by noticing the dead session.
		return
	}

	e.mu.Lock()
	running := e.state == StateRunning
	e.mu.Unlock()
	if running {
		e.onSessionEnd()
	}
}

// Stop is the user-initiated cancel: kill the session, persist the
// session id and AC status for resume, and transition to paused.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.setStateLocked(StateStopping)
	name := e.sessionName
	storyID := e.currentStoryID
	sessionID := e.sessionID
	tailStop := e.tailStop
	e.tailStop = nil
	e.mu.Unlock()
	e.emitSnapshot()

	if tailStop != nil {
		close(tailStop)
	}
	if name != "" {
		if err := e.tmux.KillSession(ctx, name); err != nil {
			e.log.LogWarn(fmt.Sprintf("kill session: %v", err))
		}
	}
	e.cleanupAttempt()

	// Persist resume state: session id plus current AC pass/fail split.
	passing, failing := e.currentACSplit(storyID)
	progress, err := e.store.LoadProgress()
	if err == nil {
		entry := progress.Ensure(storyID)
		entry.Paused = true
		entry.SessionID = sessionID
		entry.PassingACs = passing
		entry.FailingACs = failing
		if err := e.store.SaveProgress(progress); err != nil {
			e.log.LogError(fmt.Sprintf("persist paused progress: %v", err))
		}
	}

	e.mu.Lock()
	e.setStateLocked(StatePaused)
	e.mu.Unlock()
	e.emitSnapshot()

	e.emit(bus.ExecutionPaused{StoryID: storyID, SessionID: sessionID})
	e.emit(bus.ExecutionStopped{StoryID: storyID})
	e.log.LogInfo(fmt.Sprintf("stopped; story %s paused with session %q", storyID, sessionID))
	return nil
}

// currentACSplit reads the story's criterion pass state from the PRD.
func (e *Engine) currentACSplit(storyID string) (passing, failing []string) {
	document, err := e.store.Load()
	if err != nil {
		return nil, nil
	}
	story := document.Story(storyID)
	if story == nil {
		return nil, nil
	}
	for _, ac := range story.AcceptanceCriteria {
		if ac.Passes {
			passing = append(passing, ac.ID)
		} else {
			failing = append(failing, ac.ID)
		}
	}
	return passing, failing
}

// RetryCurrent relaunches the current (or last) story immediately.
func (e *Engine) RetryCurrent(ctx context.Context) error {
	e.mu.Lock()
	storyID := e.currentStoryID
	e.mu.Unlock()
	if storyID == "" {
		return e.Run(ctx)
	}
	return e.RunStory(ctx, storyID)
}

// GetStatus returns the engine's externally visible state.
func (e *Engine) GetStatus() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		State:          e.state,
		CurrentStoryID: e.currentStoryID,
		SessionName:    e.sessionName,
		SessionID:      e.sessionID,
	}
}

// GetLiveOutput returns the buffered structured output records.
func (e *Engine) GetLiveOutput() []OutputRecord {
	return e.ring.Snapshot()
}

// GetAgentActivity returns a copy of the live activity.
func (e *Engine) GetAgentActivity() models.AgentActivity {
	e.mu.Lock()
	defer e.mu.Unlock()

	activity := e.activity
	activity.RecentTools = append([]models.ToolUse(nil), e.activity.RecentTools...)
	return activity
}

// HasPausedSession reports whether a resumable session exists for a story.
func (e *Engine) HasPausedSession(storyID string) bool {
	progress, err := e.store.LoadProgress()
	if err != nil {
		return false
	}
	entry := progress.Story(storyID)
	return entry != nil && entry.Paused && entry.SessionID != ""
}

// ListBackups lists PRD backups, newest first.
func (e *Engine) ListBackups() ([]string, error) {
	return e.store.ListBackups()
}

// RestoreFromBackup replaces the PRD with a named backup.
func (e *Engine) RestoreFromBackup(name string) error {
	return e.store.RestoreFromBackup(name)
}

// SetDebugMode switches verbose logging on or off at runtime.
func (e *Engine) SetDebugMode(enabled bool) {
	e.mu.Lock()
	e.debug = enabled
	e.mu.Unlock()

	level := logger.LevelInfo
	if enabled {
		level = logger.LevelDebug
	}
	type levelSetter interface{ SetLevel(string) }
	if multi, ok := e.log.(logger.Multi); ok {
		for _, l := range multi {
			if ls, ok := l.(levelSetter); ok {
				ls.SetLevel(level)
			}
		}
	} else if ls, ok := e.log.(levelSetter); ok {
		ls.SetLevel(level)
	}
}

// Close stops background activities. The current session, if any, is left
// to Stop or the monitor.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.monitorStop != nil {
		close(e.monitorStop)
		e.monitorStop = nil
	}
	if e.tailStop != nil {
		close(e.tailStop)
		e.tailStop = nil
	}
	e.mu.Unlock()
}

// errIsTestRunnerUnavailable distinguishes "the shell itself is missing"
// from an ordinary failing test command.
func errIsTestRunnerUnavailable(err error) bool {
	return err != nil && errors.Is(err, exec.ErrNotFound)
}
