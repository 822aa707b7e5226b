package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, p *StreamParser, lines ...string) ([]OutputRecord, []*UsageDelta) {
	t.Helper()
	var records []OutputRecord
	var usages []*UsageDelta
	for _, line := range lines {
		recs, usage := p.Feed(line)
		records = append(records, recs...)
		if usage != nil {
			usages = append(usages, usage)
		}
	}
	return records, usages
}

func TestStreamTextDeltas(t *testing.T) {
	p := NewStreamParser()
	records, _ := feedAll(t, p,
		`{"type":"message_start"}`,
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"thinking about"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":" the fix\nnext line"}}`,
		`{"type":"content_block_stop"}`,
	)

	require.Len(t, records, 2)
	assert.Equal(t, "text", records[0].Type)
	assert.Equal(t, "thinking about the fix", records[0].Content)
	assert.Equal(t, "next line", records[1].Content)
}

func TestStreamToolUse(t *testing.T) {
	p := NewStreamParser()
	records, _ := feedAll(t, p,
		`{"type":"content_block_start","content_block":{"type":"tool_use","name":"Write"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"file_path\":\"/home/u"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"ser/project/src/main.go\"}"}}`,
		`{"type":"content_block_stop"}`,
	)

	require.Len(t, records, 1)
	assert.Equal(t, "tool_start", records[0].Type)
	assert.Equal(t, "Write", records[0].Tool)
	assert.Equal(t, "src/main.go", records[0].Content, "file tools summarize to the last two path components")
}

func TestStreamShellToolTruncation(t *testing.T) {
	p := NewStreamParser()
	long := `{"command":"go test ./... && go vet ./... && golangci-lint run --timeout 5m --fix --concurrency 4"}`
	records, _ := feedAll(t, p,
		`{"type":"content_block_start","content_block":{"type":"tool_use","name":"Bash"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":`+mustQuote(long)+`}}`,
		`{"type":"content_block_stop"}`,
	)

	require.Len(t, records, 1)
	assert.LessOrEqual(t, len(records[0].Content), shellSummaryLimit+3)
	assert.Contains(t, records[0].Content, "go test")
}

func TestStreamPatternTool(t *testing.T) {
	p := NewStreamParser()
	records, _ := feedAll(t, p,
		`{"type":"content_block_start","content_block":{"type":"tool_use","name":"Grep"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"pattern\":\"func main\"}"}}`,
		`{"type":"content_block_stop"}`,
	)

	require.Len(t, records, 1)
	assert.Equal(t, "func main", records[0].Content)
}

func TestStreamAssistantFallbackOnlyWithoutDeltas(t *testing.T) {
	p := NewStreamParser()
	assistant := `{"type":"assistant","message":{"content":[{"type":"text","text":"done"},{"type":"tool_use","name":"Edit"}]}}`

	records, _ := feedAll(t, p, assistant)
	require.Len(t, records, 2)
	assert.Equal(t, "done", records[0].Content)
	assert.Equal(t, "Edit", records[1].Tool)

	// After deltas were seen, the fallback is suppressed.
	p2 := NewStreamParser()
	feedAll(t, p2, `{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`)
	records, _ = feedAll(t, p2, assistant)
	assert.Empty(t, records)
}

func TestStreamResultWithUsage(t *testing.T) {
	p := NewStreamParser()
	records, usages := feedAll(t, p,
		`{"type":"result","result":"all tests pass","model":"claude-sonnet-4-5","usage":{"input_tokens":12000,"output_tokens":3000,"cache_read_input_tokens":500,"cache_creation_input_tokens":100}}`,
	)

	require.Len(t, records, 1)
	assert.Equal(t, "result", records[0].Type)
	require.Len(t, usages, 1)
	usage := usages[0]
	assert.Equal(t, 12000, usage.InputTokens)
	assert.Equal(t, 3000, usage.OutputTokens)
	assert.Equal(t, 500, usage.CacheRead)
	assert.Equal(t, "claude-sonnet-4-5", usage.Model)
	// Sonnet rate: 12000*3/1M + 3000*15/1M
	assert.InDelta(t, 0.036+0.045, usage.CostUSD, 1e-9)
}

func TestStreamResultExplicitCostWins(t *testing.T) {
	p := NewStreamParser()
	_, usages := feedAll(t, p,
		`{"type":"result","result":"ok","model":"claude-opus-4-5","total_cost_usd":1.25,"usage":{"input_tokens":1,"output_tokens":1}}`,
	)
	require.Len(t, usages, 1)
	assert.InDelta(t, 1.25, usages[0].CostUSD, 1e-9)
}

func TestStreamMalformedLineBecomesSystemRecord(t *testing.T) {
	p := NewStreamParser()
	records, _ := feedAll(t, p, `{not json at all`)

	require.Len(t, records, 1)
	assert.Equal(t, "system", records[0].Type)
	assert.Contains(t, records[0].Content, "not json")
}

func TestStreamBlankLinesIgnored(t *testing.T) {
	p := NewStreamParser()
	records, usage := p.Feed("   ")
	assert.Empty(t, records)
	assert.Nil(t, usage)
}

func TestRunningCostByModelClass(t *testing.T) {
	assert.InDelta(t, 15.0+75.0, runningCost("claude-opus-4-5", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.25+1.25, runningCost("claude-haiku-3-5", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 3.0+15.0, runningCost("something-else", 1_000_000, 1_000_000), 1e-9)
}

func mustQuote(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		default:
			out += string(r)
		}
	}
	return out + `"`
}
