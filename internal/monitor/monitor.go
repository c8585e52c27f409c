package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/detector"
	"github.com/sallandpioneers/forgeflow/internal/remote"
)

// Result is the outcome of waiting for a pipeline
type Result struct {
	Success    bool
	Message    string
	Pipeline   *remote.Pipeline
	FailedJobs []*remote.Job
	Category   detector.FailureCategory
	TimedOut   bool
}

// Monitor polls the CI system until a branch's pipeline reaches a terminal
// status. Once a pipeline is captured its id is held for the remainder of
// the wait, so a later commit's pipeline can never be mistaken for the one
// being awaited.
type Monitor struct {
	client       remote.Client
	pollInterval time.Duration
	timeout      time.Duration
	logger       *log.Logger
}

// New creates a pipeline monitor
func New(client remote.Client, pollInterval, timeout time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		client:       client,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
}

// AwaitCompletion waits for the branch's pipeline to finish and interprets
// the outcome. A timeout is reported distinctly from a CI failure: callers
// must escalate it as unknown, not treat it as a code defect.
func (m *Monitor) AwaitCompletion(ctx context.Context, branch string) (*Result, error) {
	deadline := time.Now().Add(m.timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var pinned *remote.Pipeline
	lastStatus := ""

	// Check immediately on first call, then poll on ticker
	checkNow := true

	for {
		if !checkNow {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}
		checkNow = false

		if time.Now().After(deadline) {
			return &Result{
				Message:  fmt.Sprintf("pipeline did not complete within %s", m.timeout),
				Pipeline: pinned,
				Category: detector.CategoryUnknown,
				TimedOut: true,
			}, nil
		}

		if pinned == nil {
			p, err := m.client.GetLatestPipeline(ctx, branch)
			if err != nil {
				// No pipeline yet is not a failure, just "not started"
				if !remote.IsNotFound(err) && m.logger != nil {
					m.logger.Printf("pipeline lookup for %s failed: %v", branch, err)
				}
				continue
			}
			pinned = p
		} else {
			p, err := m.client.GetPipeline(ctx, pinned.ID)
			if err != nil {
				// Transient errors: keep polling the same pipeline id
				if m.logger != nil {
					m.logger.Printf("pipeline %d poll failed: %v", pinned.ID, err)
				}
				continue
			}
			pinned = p
		}

		if pinned.Status != lastStatus {
			if m.logger != nil {
				m.logger.Printf("pipeline %d on %s: %s", pinned.ID, branch, pinned.Status)
			}
			lastStatus = pinned.Status
		}

		switch pinned.Status {
		case remote.PipelineSuccess:
			return m.validateSuccess(ctx, pinned)

		case remote.PipelineFailed:
			return m.classifyFailure(ctx, pinned)

		case remote.PipelineCanceled, remote.PipelineSkipped:
			// Reported with the literal status as category, not auto-retried
			return &Result{
				Message:  fmt.Sprintf("pipeline %d was %s", pinned.ID, pinned.Status),
				Pipeline: pinned,
				Category: detector.FailureCategory(pinned.Status),
			}, nil
		}
		// pending, running, created: keep waiting
	}
}

// testEvidenceMarkers are the summary lines a test run leaves in its log.
// A green pipeline whose test job log has none of these did not actually
// run tests.
var testEvidenceMarkers = []string{
	"--- pass",
	"=== run",
	"ok  ",
	"passed",
	"tests passed",
	"test summary",
	"0 failed",
}

// validateSuccess checks that a green pipeline actually executed tests.
// Success status alone is not proof of correctness: a pipeline can report
// green while skipping the test stage over a missing artifact.
func (m *Monitor) validateSuccess(ctx context.Context, p *remote.Pipeline) (*Result, error) {
	jobs, err := m.client.GetPipelineJobs(ctx, p.ID)
	if err != nil {
		return &Result{
			Message:  fmt.Sprintf("pipeline %d succeeded but jobs could not be verified: %v", p.ID, err),
			Pipeline: p,
			Category: detector.CategoryUnknown,
		}, nil
	}

	testJobs := 0
	for _, job := range jobs {
		if !isTestJob(job) {
			continue
		}
		testJobs++

		trace, err := m.client.GetJobTrace(ctx, job.ID)
		if err != nil || !hasTestEvidence(trace) {
			return &Result{
				Message:  fmt.Sprintf("pipeline %d is green but test job %q shows no evidence tests ran", p.ID, job.Name),
				Pipeline: p,
				Category: detector.CategoryTest,
			}, nil
		}
	}

	if testJobs == 0 {
		return &Result{
			Message:  fmt.Sprintf("pipeline %d is green but has no test job", p.ID),
			Pipeline: p,
			Category: detector.CategoryTest,
		}, nil
	}

	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("pipeline %d succeeded with verified test run", p.ID),
		Pipeline: p,
	}, nil
}

// classifyFailure fetches the failed jobs' traces and maps them to a
// failure category
func (m *Monitor) classifyFailure(ctx context.Context, p *remote.Pipeline) (*Result, error) {
	jobs, err := m.client.GetPipelineJobs(ctx, p.ID)
	if err != nil {
		return &Result{
			Message:  fmt.Sprintf("pipeline %d failed; jobs unavailable: %v", p.ID, err),
			Pipeline: p,
			Category: detector.CategoryUnknown,
		}, nil
	}

	var failed []*remote.Job
	var excerpts strings.Builder
	for _, job := range jobs {
		if job.Status != "failed" {
			continue
		}
		failed = append(failed, job)

		trace, err := m.client.GetJobTrace(ctx, job.ID)
		if err == nil {
			excerpts.WriteString(tail(trace, 4096))
			excerpts.WriteString("\n")
		}
	}

	category := detector.ClassifyFailure(excerpts.String())

	names := make([]string, len(failed))
	for i, job := range failed {
		names[i] = job.Name
	}

	return &Result{
		Message:    fmt.Sprintf("pipeline %d failed (%s): jobs %s", p.ID, category, strings.Join(names, ", ")),
		Pipeline:   p,
		FailedJobs: failed,
		Category:   category,
	}, nil
}

func isTestJob(job *remote.Job) bool {
	name := strings.ToLower(job.Name)
	stage := strings.ToLower(job.Stage)
	return strings.Contains(name, "test") || strings.Contains(stage, "test")
}

func hasTestEvidence(trace string) bool {
	lower := strings.ToLower(trace)
	for _, marker := range testEvidenceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tail returns the last n bytes of a log, where failures usually surface
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
