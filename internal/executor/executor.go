package executor

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/sallandpioneers/forgeflow/internal/detector"
	"github.com/sallandpioneers/forgeflow/internal/monitor"
	"github.com/sallandpioneers/forgeflow/internal/phase"
	"github.com/sallandpioneers/forgeflow/internal/progress"
	"github.com/sallandpioneers/forgeflow/internal/remote"
	"github.com/sallandpioneers/forgeflow/internal/report"
	"github.com/sallandpioneers/forgeflow/internal/retry"
	"github.com/sallandpioneers/forgeflow/internal/worker"
	"github.com/sallandpioneers/forgeflow/internal/workspace"
)

// State is the per-issue machine state
type State string

const (
	StateNotStarted State = "not-started"
	StateCoding     State = "coding"
	StateTesting    State = "testing"
	StateReview     State = "review"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// RetryState holds the per-issue retry counters. It is owned by one issue
// run: created when the issue starts, carried across phase retries within
// that issue, and discarded once the issue finalizes.
type RetryState struct {
	Attempt       int
	PhaseAttempts map[phase.Phase]int
	LastFailure   string
	LastCategory  detector.FailureCategory
}

func newRetryState() *RetryState {
	return &RetryState{
		PhaseAttempts: make(map[phase.Phase]int),
	}
}

// PhaseResult is the outcome of one phase execution
type PhaseResult struct {
	Success    bool
	Confidence float64
	Output     string
	Reason     string
	Pipeline   *remote.Pipeline
	Category   detector.FailureCategory
}

// Options configures the executor
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	BaseBranch string
	CloneURL   string
	Transport  retry.Options
}

// Workspaces prepares the isolated working directory an issue's worker
// invocations run in. Satisfied by workspace.Manager.
type Workspaces interface {
	Prepare(ctx context.Context, issueIID int, cloneURL, branch string) (*workspace.Workspace, error)
}

// PipelineAwaiter waits for a branch's pipeline to reach a terminal,
// interpreted outcome. Satisfied by monitor.Monitor.
type PipelineAwaiter interface {
	AwaitCompletion(ctx context.Context, branch string) (*monitor.Result, error)
}

// Executor drives one issue through the Coding, Testing and Review phases,
// applying the per-issue retry and escalation policy
type Executor struct {
	client     remote.Client
	worker     worker.Invoker
	detector   *detector.Detector
	monitor    PipelineAwaiter
	workspaces Workspaces
	logger     *log.Logger
	opts       Options
}

// New creates an executor
func New(client remote.Client, workerClient worker.Invoker, det *detector.Detector,
	mon PipelineAwaiter, workspaces Workspaces, logger *log.Logger, opts Options) *Executor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Executor{
		client:     client,
		worker:     workerClient,
		detector:   det,
		monitor:    mon,
		workspaces: workspaces,
		logger:     logger,
		opts:       opts,
	}
}

// Run processes one issue to a terminal status. A failing issue never
// returns an error to the caller: the outcome is the report, and the run
// continues with the next issue.
func (e *Executor) Run(ctx context.Context, issue *remote.Issue, planSummary string, rep *progress.Reporter) *report.IssueReport {
	branch := BranchName(issue)
	r := &report.IssueReport{
		IssueIID:  issue.IID,
		Title:     issue.Title,
		Branch:    branch,
		StartedAt: time.Now(),
	}

	// Resume guarantee: an issue finished in an earlier run costs zero
	// phase invocations here
	if e.alreadyDone(ctx, issue, branch) {
		e.logger.Printf("issue #%d already done, skipping", issue.IID)
		r.Status = report.StatusSkipped
		r.FinishedAt = time.Now()
		rep.Finalize(ctx, progress.StatusSkipped)
		return r
	}

	rs := newRetryState()

	for rs.Attempt = 1; rs.Attempt <= e.opts.MaxRetries; rs.Attempt++ {
		if rs.Attempt > 1 {
			rep.Update(ctx, progress.FormatRetrying(rs.Attempt, e.opts.MaxRetries))
			// Delay scales with the attempt number
			if err := sleepCtx(ctx, e.opts.BaseDelay*time.Duration(rs.Attempt-1)); err != nil {
				break
			}
		}

		err := e.runAttempt(ctx, issue, branch, planSummary, rs, r, rep)
		if err == nil {
			r.Status = report.StatusCompleted
			r.Attempts = rs.Attempt
			r.FinishedAt = time.Now()
			rep.Finalize(ctx, progress.StatusCompleted)
			return r
		}

		rs.LastFailure = err.Error()
		e.logger.Printf("issue #%d attempt %d/%d failed: %v", issue.IID, rs.Attempt, e.opts.MaxRetries, err)

		if ctx.Err() != nil {
			break
		}
	}

	r.Status = report.StatusFailed
	r.Attempts = e.opts.MaxRetries
	if rs.Attempt <= e.opts.MaxRetries {
		// Stopped early on cancellation
		r.Attempts = rs.Attempt
	}
	r.LastFailure = rs.LastFailure
	r.LastCategory = string(rs.LastCategory)
	r.FinishedAt = time.Now()
	rep.Finalize(ctx, progress.FormatFailed(rs.LastFailure))
	return r
}

// runAttempt executes one full pass over the per-issue phases. Any phase
// failure aborts the attempt; the next attempt restarts from Coding, since
// a downstream failure may stem from an earlier phase's output.
func (e *Executor) runAttempt(ctx context.Context, issue *remote.Issue, branch, planSummary string,
	rs *RetryState, r *report.IssueReport, rep *progress.Reporter) error {
	ws, err := e.prepare(ctx, issue, branch)
	if err != nil {
		return err
	}

	for _, kind := range phase.PerIssue() {
		def := phaseDefs[kind]
		rep.Update(ctx, def.Status)

		res := e.runPhase(ctx, def, issue, branch, planSummary, ws.RepoDir, rs, rep)

		attempt := report.PhaseAttempt{
			Phase:      string(def.Kind),
			Attempt:    rs.PhaseAttempts[def.Kind],
			Success:    res.Success,
			Confidence: res.Confidence,
			Reason:     res.Reason,
			Category:   string(res.Category),
			At:         time.Now(),
		}
		if res.Pipeline != nil {
			attempt.PipelineID = res.Pipeline.ID
		}
		r.PhaseAttempts = append(r.PhaseAttempts, attempt)

		if !res.Success {
			rs.LastCategory = res.Category
			return fmt.Errorf("%s phase failed: %s", def.Kind, res.Reason)
		}
	}
	return nil
}

// prepare sets up the workspace and the feature branch for an attempt.
// The branch name is stable across retries, so repeated attempts keep
// targeting the same branch.
func (e *Executor) prepare(ctx context.Context, issue *remote.Issue, branch string) (*workspace.Workspace, error) {
	ws, err := e.workspaces.Prepare(ctx, issue.IID, e.opts.CloneURL, branch)
	if err != nil {
		return nil, err
	}

	_, err = retry.DoWithResult(ctx, e.opts.Transport, func() (*remote.Branch, error) {
		return e.client.CreateBranch(ctx, branch, e.opts.BaseBranch)
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return ws, nil
}

// runPhase runs one phase: invoke the worker, confirm completion through
// the detector, and - where the phase produces commits - await its
// pipeline
func (e *Executor) runPhase(ctx context.Context, def phaseDef, issue *remote.Issue,
	branch, planSummary, workDir string, rs *RetryState, rep *progress.Reporter) PhaseResult {
	rs.PhaseAttempts[def.Kind]++

	wc := worker.Context{
		IssueIID:    issue.IID,
		Branch:      branch,
		PlanSummary: planSummary,
		WorkDir:     workDir,
	}
	task := worker.FormatIssueTask(issue.IID, issue.Title, issue.Description)

	workerOpts := e.opts.Transport
	workerOpts.Classifier = retry.ClassifyWorker

	output, err := retry.DoWithResult(ctx, workerOpts, func() (string, error) {
		return e.worker.Invoke(ctx, def.Kind, task, wc)
	})
	if err != nil {
		// A timed-out worker consumes this attempt like any other failure
		reason := err.Error()
		if worker.IsTimeout(err) {
			reason = "timeout"
		}
		return PhaseResult{Reason: reason, Category: detector.CategoryUnknown}
	}

	check := e.detector.CheckPhaseCompletion(def.Kind, output)
	if !check.Success {
		category := detector.CategoryUnknown
		if mentioned, cat := detector.CheckPipelineFailureMention(output); mentioned {
			category = cat
		}
		return PhaseResult{
			Confidence: check.Confidence,
			Output:     output,
			Reason:     check.Reason,
			Category:   category,
		}
	}

	result := PhaseResult{
		Success:    true,
		Confidence: check.Confidence,
		Output:     output,
		Reason:     check.Reason,
	}

	if def.AwaitPipeline {
		rep.Update(ctx, progress.StatusWaitingPipeline)

		pres, err := e.monitor.AwaitCompletion(ctx, branch)
		if err != nil {
			return PhaseResult{Reason: err.Error(), Category: detector.CategoryUnknown}
		}
		result.Pipeline = pres.Pipeline
		if !pres.Success {
			result.Success = false
			result.Reason = pres.Message
			result.Category = pres.Category
			if pres.TimedOut {
				result.Category = detector.CategoryUnknown
			}
			return result
		}
	}

	if def.Finalize != nil {
		if err := def.Finalize(e, ctx, issue, branch); err != nil {
			result.Success = false
			result.Reason = err.Error()
			result.Category = detector.CategoryUnknown
			return result
		}
	}

	return result
}

// alreadyDone reports whether the issue was completed externally: closed,
// or already carried by a merged change for its feature branch
func (e *Executor) alreadyDone(ctx context.Context, issue *remote.Issue, branch string) bool {
	if issue.Closed() {
		return true
	}

	mrs, err := retry.DoWithResult(ctx, e.opts.Transport, func() ([]*remote.MergeRequest, error) {
		return e.client.ListMergeRequests(ctx, branch)
	})
	if err != nil {
		return false
	}
	for _, mr := range mrs {
		if mr.Merged() {
			return true
		}
	}
	return false
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName derives the feature branch for an issue from its iid and a
// slugified title. Deterministic, so retries and re-runs target the same
// branch.
func BranchName(issue *remote.Issue) string {
	slug := strings.ToLower(issue.Title)
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		return fmt.Sprintf("forgeflow/issue-%d", issue.IID)
	}
	return fmt.Sprintf("forgeflow/issue-%d-%s", issue.IID, slug)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
