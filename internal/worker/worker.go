package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/phase"
)

// Invoker is the capability the orchestration layers need from a worker
type Invoker interface {
	Invoke(ctx context.Context, kind phase.Phase, task string, wc Context) (string, error)
}

// Client wraps the external agent CLI that performs the content-producing
// work for a phase. The orchestrator only interprets its free-form output;
// how the agent produces code or tests is not our concern.
type Client struct {
	command string
	timeout time.Duration
}

// NewClient creates a new worker client
func NewClient(command string, timeout time.Duration) *Client {
	return &Client{
		command: command,
		timeout: timeout,
	}
}

// Context carries the task surroundings into a worker invocation
type Context struct {
	IssueIID    int
	Branch      string
	PlanSummary string
	WorkDir     string
}

// response represents one streamed JSON line from the agent CLI
type response struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Invoke runs the agent for one phase with the given task description.
// A timeout is always applied; an expired deadline is reported as an error
// so the caller can account it as a consumed attempt.
func (c *Client) Invoke(ctx context.Context, kind phase.Phase, task string, wc Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := BuildPrompt(kind, task, wc)

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--prompt", prompt,
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = wc.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start worker: %w", err)
	}

	// Read and parse streaming JSON output
	var result strings.Builder
	scanner := bufio.NewScanner(stdout)

	// Increase buffer size for large outputs
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			// Not JSON, might be raw output
			result.WriteString(line)
			result.WriteString("\n")
			continue
		}

		switch resp.Type {
		case "assistant", "result":
			result.WriteString(resp.Content)
		case "error":
			return "", fmt.Errorf("worker error: %s", resp.Error)
		}
	}

	stderrBytes, _ := io.ReadAll(stderr)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("worker timed out after %v", c.timeout)
		}
		return "", fmt.Errorf("worker failed: %w: %s", err, string(stderrBytes))
	}

	return result.String(), nil
}

var _ Invoker = (*Client)(nil)

// IsRateLimited checks if an error indicates rate limiting
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests")
}

// IsTimeout checks if an error came from an expired invocation budget
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "timed out") ||
		strings.Contains(err.Error(), "deadline exceeded")
}
