package cost

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cost-history.json")
	return NewTracker(path), path
}

func TestStartEndLifecycle(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartStory("US-001", "claude-sonnet-4-5", models.ProviderAnthropic, 0.05, 0)
	require.NoError(t, tracker.EndStory("US-001", 0.042, 12000, 4000, true))

	session := tracker.GetSessionCosts()
	assert.Equal(t, 1, session.StoriesCompleted)
	assert.Equal(t, 1, session.StoriesSuccessful)
	assert.InDelta(t, 0.05, session.TotalEstimated, 1e-9)
	assert.InDelta(t, 0.042, session.TotalActual, 1e-9)

	require.Len(t, session.Records, 1)
	record := session.Records[0]
	assert.NotEmpty(t, record.ID)
	require.NotNil(t, record.EndTime)
	require.NotNil(t, record.ActualCost, "no record may have an end time without an actual cost")
	assert.Equal(t, 12000, record.InputTokens)
}

func TestEndWithoutStartIsIgnored(t *testing.T) {
	tracker, _ := newTestTracker(t)

	require.NoError(t, tracker.EndStory("US-404", 1.0, 0, 0, false))
	assert.Zero(t, tracker.GetSessionCosts().StoriesCompleted)
}

func TestAtMostOneEndPerStart(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartStory("US-001", "m", models.ProviderOpenAI, 0.01, 0)
	require.NoError(t, tracker.EndStory("US-001", 0.01, 100, 100, true))
	require.NoError(t, tracker.EndStory("US-001", 0.99, 100, 100, true))

	session := tracker.GetSessionCosts()
	assert.Equal(t, 1, session.StoriesCompleted)
	assert.InDelta(t, 0.01, session.TotalActual, 1e-9)
}

func TestHistorySurvivesRestart(t *testing.T) {
	tracker, path := newTestTracker(t)

	tracker.StartStory("US-001", "m", models.ProviderAnthropic, 0.10, 1)
	require.NoError(t, tracker.EndStory("US-001", 0.08, 1000, 500, true))
	tracker.StartStory("US-002", "m", models.ProviderAnthropic, 0.20, 0)
	require.NoError(t, tracker.EndStory("US-002", 0.15, 2000, 900, false))

	before := tracker.GetSessionCosts()

	restarted := NewTracker(path)
	history, err := restarted.History()
	require.NoError(t, err)
	require.Len(t, history, 2)

	var totalActual float64
	for _, r := range history {
		require.NotNil(t, r.ActualCost)
		totalActual += *r.ActualCost
	}
	assert.InDelta(t, before.TotalActual, totalActual, 1e-9)
}

func TestFreeTierCostsZero(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartStory("US-001", "qwen2.5-coder:32b", models.ProviderOllama, 0, 0)
	require.NoError(t, tracker.EndStory("US-001", 0, 50000, 20000, true))

	assert.Zero(t, tracker.GetSessionCosts().TotalActual)
}
