package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// StatusChecker reports the health of the remote API the chosen provider
// fronts. Degraded or outage results only delay a launch; they are never
// fatal.
type StatusChecker interface {
	Check(ctx context.Context) string
}

// Remote status values.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusOutage      = "outage"
	StatusUnknown     = "unknown"
)

// anthropicStatusChecker queries the public status page summary.
type anthropicStatusChecker struct {
	client *http.Client
	url    string
}

// NewAnthropicStatusChecker builds the default checker.
func NewAnthropicStatusChecker() StatusChecker {
	return &anthropicStatusChecker{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    "https://status.anthropic.com/api/v2/status.json",
	}
}

func (c *anthropicStatusChecker) Check(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return StatusUnknown
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return StatusUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusUnknown
	}

	var body struct {
		Status struct {
			Indicator string `json:"indicator"`
		} `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return StatusUnknown
	}

	switch body.Status.Indicator {
	case "none":
		return StatusOperational
	case "minor", "major":
		return StatusDegraded
	case "critical":
		return StatusOutage
	default:
		return StatusUnknown
	}
}
