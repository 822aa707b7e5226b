package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStoryJSONRoundTripTyped(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	story := UserStory{
		ID:    "US-001",
		Title: "Create file hello.txt",
		AcceptanceCriteria: []AcceptanceCriterion{
			{ID: "AC-1", Text: "hello.txt exists", TestCommand: "test -f hello.txt", Passes: true, LastRun: &now},
		},
		Complexity: ComplexitySimple,
		Priority:   1,
	}

	data, err := json.Marshal(story)
	require.NoError(t, err)

	var decoded UserStory
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, story.ID, decoded.ID)
	require.Len(t, decoded.AcceptanceCriteria, 1)
	assert.Equal(t, "test -f hello.txt", decoded.AcceptanceCriteria[0].TestCommand)
	assert.True(t, decoded.AcceptanceCriteria[0].Passes)
	require.NotNil(t, decoded.AcceptanceCriteria[0].LastRun)
	assert.True(t, decoded.AcceptanceCriteria[0].LastRun.Equal(now))
	assert.Empty(t, decoded.RawCriteria)
}

func TestUserStoryJSONStringFormCriteria(t *testing.T) {
	raw := `{"id":"US-002","title":"t","description":"d","acceptanceCriteria":["first","second"],"complexity":"medium","priority":2,"passes":false}`

	var story UserStory
	require.NoError(t, json.Unmarshal([]byte(raw), &story))

	assert.Equal(t, []string{"first", "second"}, story.RawCriteria)
	assert.False(t, story.HasStructuredCriteria())

	// Round-trip keeps the string form.
	data, err := json.Marshal(story)
	require.NoError(t, err)
	var again UserStory
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, story.RawCriteria, again.RawCriteria)
}

func TestRecomputePasses(t *testing.T) {
	story := UserStory{
		AcceptanceCriteria: []AcceptanceCriterion{
			{ID: "AC-1", Passes: true},
			{ID: "AC-2", Passes: false},
		},
	}

	story.RecomputePasses()
	assert.False(t, story.Passes)

	story.AcceptanceCriteria[1].Passes = true
	story.RecomputePasses()
	assert.True(t, story.Passes)
}

func TestPRDNextStory(t *testing.T) {
	prd := PRD{UserStories: []UserStory{
		{ID: "a", Passes: true},
		{ID: "b", Skipped: true},
		{ID: "c"},
	}}

	next := prd.NextStory()
	require.NotNil(t, next)
	assert.Equal(t, "c", next.ID)

	next.Passes = true
	assert.Nil(t, prd.NextStory())
}

func TestPRDAllPassing(t *testing.T) {
	prd := PRD{UserStories: []UserStory{{ID: "a", Passes: true}, {ID: "b"}}}
	assert.False(t, prd.AllPassing())
	prd.UserStories[1].Passes = true
	assert.True(t, prd.AllPassing())
}

func TestActivityRecordToolBounded(t *testing.T) {
	var a AgentActivity
	for i := 0; i < 15; i++ {
		a.RecordTool(ToolUse{Name: "Bash"})
	}
	assert.Len(t, a.RecentTools, 10)
	assert.Equal(t, 15, a.Metrics.ToolCallCount)
}
