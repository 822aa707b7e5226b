package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/cost"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/prd"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// fakeTmux simulates tmux session bookkeeping and lets the test script
// what "the CLI" does when keystrokes arrive.
type fakeTmux struct {
	mu        sync.Mutex
	sessions  map[string]chan struct{} // session name -> done channel
	sentKeys  []string
	onKeys    func(session, keys string)
	autoExit  bool // signal completion right after keystrokes arrive
}

func newFakeTmux() *fakeTmux {
	return &fakeTmux{sessions: make(map[string]chan struct{})}
}

func (f *fakeTmux) target(args []string) string {
	for i, a := range args {
		if (a == "-t" || a == "-s") && i+1 < len(args) {
			return strings.TrimPrefix(args[i+1], "=")
		}
	}
	return ""
}

func (f *fakeTmux) Run(ctx context.Context, name string, args ...string) (string, error) {
	if name != "tmux" {
		return "", errors.New("unexpected binary")
	}
	sub := args[0]

	f.mu.Lock()
	switch sub {
	case "-V":
		f.mu.Unlock()
		return "tmux 3.4", nil
	case "has-session":
		_, ok := f.sessions[f.target(args[1:])]
		f.mu.Unlock()
		if ok {
			return "", nil
		}
		return "", errors.New("no session")
	case "new-session":
		f.sessions[f.target(args[1:])] = make(chan struct{})
		f.mu.Unlock()
		return "", nil
	case "kill-session":
		session := f.target(args[1:])
		if done, ok := f.sessions[session]; ok {
			close(done)
			delete(f.sessions, session)
		}
		f.mu.Unlock()
		return "", nil
	case "send-keys":
		session := f.target(args[1:])
		keys := args[len(args)-2]
		f.sentKeys = append(f.sentKeys, keys)
		onKeys := f.onKeys
		done, ok := f.sessions[session]
		auto := f.autoExit
		f.mu.Unlock()
		if onKeys != nil {
			onKeys(session, keys)
		}
		if auto && ok {
			f.mu.Lock()
			delete(f.sessions, session)
			f.mu.Unlock()
			close(done)
		}
		return "", nil
	case "wait-for":
		if len(args) > 1 && args[1] == "-S" {
			f.mu.Unlock()
			return "", nil
		}
		// Derive the session from the channel name ralph-done-<session>.
		session := strings.TrimPrefix(args[1], "ralph-done-")
		done, ok := f.sessions[session]
		f.mu.Unlock()
		if !ok {
			return "", nil
		}
		select {
		case <-done:
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Unlock()
	return "", errors.New("unknown subcommand " + sub)
}

// availableDetector reports one provider as available without probing.
type availableDetector struct{ provider models.Provider }

func (d availableDetector) Provider() models.Provider { return d.provider }
func (d availableDetector) HasIdentifier() bool       { return true }
func (d availableDetector) Probe(context.Context) (float64, *time.Time, string, error) {
	return -1, nil, "", nil
}

// eventSink collects bus events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []bus.Event
}

func (s *eventSink) record(e bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) kinds() []bus.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind()
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, kind bus.EventKind, timeout time.Duration) bus.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, e := range s.events {
			if e.Kind() == kind {
				s.mu.Unlock()
				return e
			}
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event %s not observed within %v (saw %v)", kind, timeout, s.kinds())
	return nil
}

func (s *eventSink) count(kind bus.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

type testHarness struct {
	eng     *Engine
	bus     *bus.Bus
	sink    *eventSink
	tmux    *fakeTmux
	project string
	store   *prd.Store
}

func newHarness(t *testing.T, document *models.PRD) *testHarness {
	t.Helper()
	t.Setenv("RALPH_ULTRA_HOME", t.TempDir())
	project := t.TempDir()

	store := prd.NewStore(project)
	if document != nil {
		require.NoError(t, store.Save(document))
	}

	eventBus := bus.New()
	sink := &eventSink{}
	eventBus.OnAll(sink.record)

	recorder, err := learning.NewRecorder(":memory:", eventBus)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	quotaMgr := quota.NewManagerWithDetectors(eventBus, []quota.Detector{
		availableDetector{provider: models.ProviderAnthropic},
		availableDetector{provider: models.ProviderOpenAI},
	})

	fake := newFakeTmux()
	eng := New(Config{
		ProjectDir: project,
		Bus:        eventBus,
		Quota:      quotaMgr,
		Cost:       cost.NewTracker(filepath.Join(t.TempDir(), "cost.json")),
		Learning:   recorder,
		Tmux:       tmux.NewRunnerWithCommander(fake),
		Commander:  &scriptedCommander{healthy: map[string]bool{"claude": true, "opencode": true}},
		SkipGates:  true,
	})
	eng.interStoryDelay = time.Millisecond
	eng.retryDelay = time.Millisecond
	eng.tailInterval = 10 * time.Millisecond
	eng.monitorInterval = 50 * time.Millisecond
	t.Cleanup(eng.Close)

	return &testHarness{eng: eng, bus: eventBus, sink: sink, tmux: fake, project: project, store: store}
}

func singleStoryPRD() *models.PRD {
	return &models.PRD{
		Project:    "demo",
		BranchName: "ralph/demo",
		UserStories: []models.UserStory{
			{
				ID:          "US-001",
				Title:       "Create file hello.txt",
				Description: "Create a file hello.txt at project root with the text hi",
				AcceptanceCriteria: []models.AcceptanceCriterion{
					{ID: "AC-1", Text: "hello.txt exists", TestCommand: "test -f hello.txt"},
				},
				Complexity: models.ComplexitySimple,
				Priority:   1,
			},
		},
	}
}

func TestHappyPathSingleStory(t *testing.T) {
	h := newHarness(t, singleStoryPRD())
	h.tmux.autoExit = true
	h.tmux.onKeys = func(session, keys string) {
		// The scripted "CLI" creates the expected file.
		os.WriteFile(filepath.Join(h.project, "hello.txt"), []byte("hi"), 0644)
	}

	require.NoError(t, h.eng.Run(context.Background()))

	ev := h.sink.waitFor(t, bus.KindStoryCompleted, 5*time.Second)
	completed := ev.(bus.StoryCompleted)
	assert.Equal(t, "US-001", completed.StoryID)
	assert.True(t, completed.Success)
	assert.Equal(t, 1, completed.ACPassed)
	assert.Equal(t, 1, completed.ACTotal)

	h.sink.waitFor(t, bus.KindExecutionComplete, 5*time.Second)

	// PRD persisted with the criterion passing and a lastRun stamp.
	document, err := h.store.Load()
	require.NoError(t, err)
	story := document.Story("US-001")
	assert.True(t, story.Passes)
	assert.True(t, story.AcceptanceCriteria[0].Passes)
	assert.NotNil(t, story.AcceptanceCriteria[0].LastRun)

	// Archive created on full completion.
	entries, err := os.ReadDir(filepath.Join(h.project, prd.ArchiveDirName))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestStoryStartedPrecedesCompletion(t *testing.T) {
	h := newHarness(t, singleStoryPRD())
	h.tmux.autoExit = true
	h.tmux.onKeys = func(session, keys string) {
		os.WriteFile(filepath.Join(h.project, "hello.txt"), nil, 0644)
	}

	require.NoError(t, h.eng.Run(context.Background()))
	h.sink.waitFor(t, bus.KindExecutionComplete, 5*time.Second)

	var startedIdx, completedIdx int
	for i, kind := range h.sink.kinds() {
		switch kind {
		case bus.KindStoryStarted:
			startedIdx = i
		case bus.KindStoryCompleted:
			completedIdx = i
		}
	}
	assert.Less(t, startedIdx, completedIdx, "story-started must precede story-completed")
}

func TestMaxRetriesSkipsStory(t *testing.T) {
	document := singleStoryPRD()
	// A criterion that can never pass.
	document.UserStories[0].AcceptanceCriteria[0].TestCommand = "test -f never-created.txt"
	h := newHarness(t, document)
	h.tmux.autoExit = true

	require.NoError(t, h.eng.Run(context.Background()))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && h.sink.count(bus.KindStoryFailed) < MaxRetriesPerStory {
		time.Sleep(20 * time.Millisecond)
	}
	require.GreaterOrEqual(t, h.sink.count(bus.KindStoryFailed), MaxRetriesPerStory)

	h.sink.waitFor(t, bus.KindExecutionComplete, 5*time.Second)

	document, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, document.UserStories[0].Skipped, "story must be marked skipped after max retries")
	assert.False(t, document.UserStories[0].Passes)

	// Retry counts observed on the failure events are 1..3.
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	var counts []int
	for _, e := range h.sink.events {
		if failed, ok := e.(bus.StoryFailed); ok {
			counts = append(counts, failed.RetryCount)
		}
	}
	require.GreaterOrEqual(t, len(counts), 3)
	assert.Equal(t, []int{1, 2, 3}, counts[:3])
}

func TestEmptyPRDCompletesImmediately(t *testing.T) {
	h := newHarness(t, &models.PRD{Project: "empty", BranchName: "b"})

	require.NoError(t, h.eng.Run(context.Background()))
	h.sink.waitFor(t, bus.KindExecutionComplete, time.Second)
	assert.Equal(t, StateIdle, h.eng.GetStatus().State)
}

func TestAllPassingPRDCompletesImmediately(t *testing.T) {
	document := singleStoryPRD()
	document.UserStories[0].Passes = true
	document.UserStories[0].AcceptanceCriteria[0].Passes = true
	h := newHarness(t, document)

	require.NoError(t, h.eng.Run(context.Background()))
	h.sink.waitFor(t, bus.KindExecutionComplete, time.Second)
}

func TestRunWithoutPRDIsFatal(t *testing.T) {
	h := newHarness(t, nil)

	err := h.eng.Run(context.Background())
	assert.ErrorIs(t, err, prd.ErrNoPRD)
	assert.Equal(t, StateIdle, h.eng.GetStatus().State)
}

func TestStringFormACsPassOnSessionEnd(t *testing.T) {
	document := &models.PRD{
		Project:    "demo",
		BranchName: "ralph/demo",
		UserStories: []models.UserStory{{
			ID:          "US-001",
			Title:       "Implementation-only story",
			Description: "no executable checks",
			RawCriteria: []string{"code reads well"},
			Complexity:  models.ComplexitySimple,
		}},
	}
	h := newHarness(t, document)
	h.tmux.autoExit = true

	require.NoError(t, h.eng.Run(context.Background()))
	ev := h.sink.waitFor(t, bus.KindStoryCompleted, 5*time.Second)
	assert.True(t, ev.(bus.StoryCompleted).Success)

	loaded, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.UserStories[0].Passes)
}

func TestStopPersistsPausedSession(t *testing.T) {
	h := newHarness(t, singleStoryPRD())
	// No autoExit: the session stays alive until killed.

	require.NoError(t, h.eng.Run(context.Background()))
	require.Equal(t, StateRunning, h.eng.GetStatus().State)

	// The CLI announces its opaque session id on the stream.
	logPath := filepath.Join(h.project, "logs", "ralph-session.log")
	line, _ := json.Marshal(map[string]string{"type": "system", "subtype": "init", "session_id": "sess-xyz"})
	require.NoError(t, os.WriteFile(logPath, append(line, '\n'), 0644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.eng.GetStatus().SessionID == "" {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, "sess-xyz", h.eng.GetStatus().SessionID)

	require.NoError(t, h.eng.Stop(context.Background()))
	assert.Equal(t, StatePaused, h.eng.GetStatus().State)

	progress, err := h.store.LoadProgress()
	require.NoError(t, err)
	entry := progress.Story("US-001")
	require.NotNil(t, entry)
	assert.True(t, entry.Paused)
	assert.Equal(t, "sess-xyz", entry.SessionID)
	assert.Contains(t, entry.FailingACs, "AC-1")

	assert.True(t, h.eng.HasPausedSession("US-001"))

	h.sink.waitFor(t, bus.KindExecutionPaused, time.Second)
	h.sink.waitFor(t, bus.KindExecutionStopped, time.Second)
}

func TestResumeUsesStoredToken(t *testing.T) {
	h := newHarness(t, singleStoryPRD())

	require.NoError(t, h.eng.Run(context.Background()))
	logPath := filepath.Join(h.project, "logs", "ralph-session.log")
	line, _ := json.Marshal(map[string]string{"type": "system", "session_id": "sess-resume"})
	os.WriteFile(logPath, append(line, '\n'), 0644)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.eng.GetStatus().SessionID == "" {
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, h.eng.Stop(context.Background()))

	// Resume: the paused entry drives a resume-style launch.
	require.NoError(t, h.eng.Run(context.Background()))
	require.Equal(t, StateRunning, h.eng.GetStatus().State)

	// HasPausedSession flips false once the launch succeeded.
	assert.False(t, h.eng.HasPausedSession("US-001"))

	h.tmux.mu.Lock()
	keys := strings.Join(h.tmux.sentKeys, "\n")
	h.tmux.mu.Unlock()
	assert.Contains(t, keys, `--resume "sess-resume"`)

	h.eng.Stop(context.Background())
}

func TestComplexityWarning(t *testing.T) {
	long := strings.Repeat("word ", complexityWordThreshold+1)
	assert.NotEmpty(t, complexityWarning(&models.UserStory{Description: long}))

	manyACs := models.UserStory{}
	for i := 0; i <= complexityACThreshold; i++ {
		manyACs.AcceptanceCriteria = append(manyACs.AcceptanceCriteria, models.AcceptanceCriterion{ID: "x"})
	}
	assert.NotEmpty(t, complexityWarning(&manyACs))

	assert.NotEmpty(t, complexityWarning(&models.UserStory{Description: "a distributed migration"}))
	assert.Empty(t, complexityWarning(&models.UserStory{Description: "small tweak"}))
}

func TestRunWhileRunningRejected(t *testing.T) {
	h := newHarness(t, singleStoryPRD())

	require.NoError(t, h.eng.Run(context.Background()))
	require.Equal(t, StateRunning, h.eng.GetStatus().State)

	err := h.eng.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	h.eng.Stop(context.Background())
}
