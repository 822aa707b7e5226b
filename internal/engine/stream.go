package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Per-model pricing used for the running cost shown in live activity,
// USD per 1M tokens. Matched by model id substring.
const (
	opusInputPerM    = 15.00
	opusOutputPerM   = 75.00
	sonnetInputPerM  = 3.00
	sonnetOutputPerM = 15.00
	haikuInputPerM   = 0.25
	haikuOutputPerM  = 1.25
)

// shellSummaryLimit truncates shell-tool input summaries.
const shellSummaryLimit = 60

// UsageDelta is the token accounting extracted from a result event.
type UsageDelta struct {
	Model         string
	InputTokens   int
	OutputTokens  int
	CacheRead     int
	CacheCreation int
	CostUSD       float64
}

// StreamParser reconstructs coherent activity from the newline-delimited
// JSON stream the external CLI writes. It is a pure function of
// (line, state): Feed performs no I/O, so it is exhaustively testable.
type StreamParser struct {
	blockKind  string // "text" or "tool_use"
	toolName   string
	inputAccum strings.Builder
	textBuf    strings.Builder
	sawDeltas  bool
}

// NewStreamParser returns a parser in its initial state.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// streamEvent is the superset of fields across event types.
type streamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Message *struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
	Result string `json:"result"`
	Model  string `json:"model"`
	Usage  *struct {
		InputTokens         int `json:"input_tokens"`
		OutputTokens        int `json:"output_tokens"`
		CacheReadTokens     int `json:"cache_read_input_tokens"`
		CacheCreationTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Feed processes one line of the stream. Malformed JSON becomes a system
// record rather than being dropped silently; usage is non-nil only for
// result events carrying metrics.
func (p *StreamParser) Feed(line string) ([]OutputRecord, *UsageDelta) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return []OutputRecord{{Type: "system", Content: truncate(trimmed, 200)}}, nil
	}

	switch ev.Type {
	case "message_start":
		return p.onMessageStart(), nil
	case "content_block_start":
		return p.onBlockStart(&ev), nil
	case "content_block_delta":
		return p.onBlockDelta(&ev), nil
	case "content_block_stop":
		return p.onBlockStop(), nil
	case "assistant":
		return p.onAssistant(&ev), nil
	case "result":
		return p.onResult(&ev)
	default:
		return nil, nil
	}
}

// onMessageStart resets delta tracking for the turn.
func (p *StreamParser) onMessageStart() []OutputRecord {
	records := p.flushText()
	p.blockKind = ""
	p.toolName = ""
	p.inputAccum.Reset()
	p.sawDeltas = false
	return records
}

func (p *StreamParser) onBlockStart(ev *streamEvent) []OutputRecord {
	records := p.flushText()
	if ev.ContentBlock == nil {
		return records
	}
	p.blockKind = ev.ContentBlock.Type
	if p.blockKind == "tool_use" {
		p.toolName = ev.ContentBlock.Name
		p.inputAccum.Reset()
	}
	return records
}

func (p *StreamParser) onBlockDelta(ev *streamEvent) []OutputRecord {
	if ev.Delta == nil {
		return nil
	}
	p.sawDeltas = true

	switch ev.Delta.Type {
	case "text_delta":
		p.textBuf.WriteString(ev.Delta.Text)
		// Flush complete lines so output records stay line-granular.
		if strings.Contains(p.textBuf.String(), "\n") {
			return p.flushTextLines()
		}
	case "input_json_delta":
		p.inputAccum.WriteString(ev.Delta.PartialJSON)
	}
	return nil
}

func (p *StreamParser) onBlockStop() []OutputRecord {
	if p.blockKind == "tool_use" {
		summary := summarizeToolInput(p.toolName, p.inputAccum.String())
		record := OutputRecord{
			Type:    "tool_start",
			Tool:    p.toolName,
			Content: summary,
		}
		p.blockKind = ""
		p.inputAccum.Reset()
		return []OutputRecord{record}
	}
	records := p.flushText()
	p.blockKind = ""
	return records
}

// onAssistant is the non-streaming fallback when no deltas were seen.
func (p *StreamParser) onAssistant(ev *streamEvent) []OutputRecord {
	if p.sawDeltas || ev.Message == nil {
		return nil
	}
	var records []OutputRecord
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			if text := strings.TrimSpace(block.Text); text != "" {
				records = append(records, OutputRecord{Type: "text", Content: text})
			}
		case "tool_use":
			records = append(records, OutputRecord{Type: "tool_start", Tool: block.Name})
		}
	}
	return records
}

func (p *StreamParser) onResult(ev *streamEvent) ([]OutputRecord, *UsageDelta) {
	records := p.flushText()

	content := strings.TrimSpace(ev.Result)
	if content == "" {
		content = "session result"
	}
	records = append(records, OutputRecord{Type: "result", Content: truncate(content, 200)})

	if ev.Usage == nil {
		return records, nil
	}

	model := ev.Model
	if model == "" && ev.Message != nil {
		model = ev.Message.Model
	}

	usage := &UsageDelta{
		Model:         model,
		InputTokens:   ev.Usage.InputTokens,
		OutputTokens:  ev.Usage.OutputTokens,
		CacheRead:     ev.Usage.CacheReadTokens,
		CacheCreation: ev.Usage.CacheCreationTokens,
		CostUSD:       ev.TotalCostUSD,
	}
	if usage.CostUSD == 0 {
		usage.CostUSD = runningCost(model, usage.InputTokens, usage.OutputTokens)
	}
	return records, usage
}

// flushText drains the whole text buffer into one record.
func (p *StreamParser) flushText() []OutputRecord {
	text := strings.TrimSpace(p.textBuf.String())
	p.textBuf.Reset()
	if text == "" {
		return nil
	}
	return []OutputRecord{{Type: "text", Content: text}}
}

// flushTextLines drains complete lines, keeping any trailing partial line
// buffered.
func (p *StreamParser) flushTextLines() []OutputRecord {
	content := p.textBuf.String()
	idx := strings.LastIndex(content, "\n")
	complete, rest := content[:idx], content[idx+1:]
	p.textBuf.Reset()
	p.textBuf.WriteString(rest)

	var records []OutputRecord
	for _, line := range strings.Split(complete, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			records = append(records, OutputRecord{Type: "text", Content: line})
		}
	}
	return records
}

// summarizeToolInput compresses a tool's accumulated input JSON into a
// short display form: last two path components for file tools, truncated
// command for shell tools, the pattern for search tools.
func summarizeToolInput(toolName, inputJSON string) string {
	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return truncate(strings.TrimSpace(inputJSON), shellSummaryLimit)
	}

	str := func(key string) string {
		v, _ := input[key].(string)
		return v
	}

	if path := str("file_path"); path != "" {
		return lastPathComponents(path, 2)
	}
	if cmd := str("command"); cmd != "" {
		return truncate(cmd, shellSummaryLimit)
	}
	if pattern := str("pattern"); pattern != "" {
		return pattern
	}
	if len(input) == 0 {
		return ""
	}
	return truncate(inputJSON, shellSummaryLimit)
}

func lastPathComponents(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, "/")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s...", s[:limit])
}

// runningCost prices token usage by model class when the stream does not
// carry an explicit cost.
func runningCost(model string, inputTokens, outputTokens int) float64 {
	inPerM, outPerM := sonnetInputPerM, sonnetOutputPerM
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		inPerM, outPerM = opusInputPerM, opusOutputPerM
	case strings.Contains(lower, "haiku"):
		inPerM, outPerM = haikuInputPerM, haikuOutputPerM
	}
	return float64(inputTokens)*inPerM/1e6 + float64(outputTokens)*outPerM/1e6
}
