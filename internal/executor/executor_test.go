package executor

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
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

// mockInvoker implements worker.Invoker for testing
type mockInvoker struct {
	invokeFunc func(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error)
	calls      []phase.Phase
}

func (m *mockInvoker) Invoke(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error) {
	m.calls = append(m.calls, kind)
	if m.invokeFunc != nil {
		return m.invokeFunc(ctx, kind, task, wc)
	}
	return strings.ToUpper(string(kind)) + "_COMPLETE", nil
}

// mockWorkspaces implements Workspaces without touching git
type mockWorkspaces struct {
	dir string
	err error
}

func (m *mockWorkspaces) Prepare(ctx context.Context, issueIID int, cloneURL, branch string) (*workspace.Workspace, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &workspace.Workspace{Root: m.dir, RepoDir: m.dir}, nil
}

// mockAwaiter implements PipelineAwaiter
type mockAwaiter struct {
	awaitFunc func(ctx context.Context, branch string) (*monitor.Result, error)
	calls     int
}

func (m *mockAwaiter) AwaitCompletion(ctx context.Context, branch string) (*monitor.Result, error) {
	m.calls++
	if m.awaitFunc != nil {
		return m.awaitFunc(ctx, branch)
	}
	return &monitor.Result{Success: true, Pipeline: &remote.Pipeline{ID: 100 + m.calls}}, nil
}

type fixture struct {
	client   *remote.MockClient
	invoker  *mockInvoker
	awaiter  *mockAwaiter
	executor *Executor
	reporter *progress.Reporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client := remote.NewMockClient()
	invoker := &mockInvoker{}
	awaiter := &mockAwaiter{}
	logger := log.New(os.Stderr, "[test] ", 0)

	exec := New(client, invoker, detector.New(0), awaiter,
		&mockWorkspaces{dir: t.TempDir()}, logger, Options{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			BaseBranch: "main",
			Transport: retry.Options{
				MaxAttempts: 1,
				Classifier:  retry.ClassifyTransport,
			},
		})

	return &fixture{
		client:   client,
		invoker:  invoker,
		awaiter:  awaiter,
		executor: exec,
		reporter: progress.NewReporter(client, 1, 0, false),
	}
}

func openIssue(iid int, title string) *remote.Issue {
	return &remote.Issue{IID: iid, Title: title, State: "opened"}
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t)
	issue := openIssue(1, "Add widget")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "plan summary", f.reporter)

	if r.Status != report.StatusCompleted {
		t.Fatalf("Status = %s, want completed (last failure: %s)", r.Status, r.LastFailure)
	}
	if r.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", r.Attempts)
	}

	// Coding, Testing, Review in order
	want := []phase.Phase{phase.Coding, phase.Testing, phase.Review}
	if len(f.invoker.calls) != len(want) {
		t.Fatalf("worker calls = %v, want %v", f.invoker.calls, want)
	}
	for i, kind := range want {
		if f.invoker.calls[i] != kind {
			t.Errorf("call %d = %s, want %s", i, f.invoker.calls[i], kind)
		}
	}

	// Coding and Testing each await a pipeline; Review does not
	if f.awaiter.calls != 2 {
		t.Errorf("pipeline waits = %d, want 2", f.awaiter.calls)
	}

	// Review finalization: merged MR, closed issue, deleted branch
	if len(f.client.MergedMRs) != 1 {
		t.Errorf("merged MRs = %v, want one", f.client.MergedMRs)
	}
	if len(f.client.ClosedIssues) != 1 || f.client.ClosedIssues[0] != 1 {
		t.Errorf("closed issues = %v, want [1]", f.client.ClosedIssues)
	}
	if len(f.client.DeletedBranches) != 1 {
		t.Errorf("deleted branches = %v, want one", f.client.DeletedBranches)
	}
}

func TestRun_RetryCapRespected(t *testing.T) {
	f := newFixture(t)
	f.invoker.invokeFunc = func(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error) {
		return "nothing useful happened", nil
	}
	issue := openIssue(2, "Doomed issue")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if r.Attempts != 3 {
		t.Errorf("Attempts = %d, want exactly 3", r.Attempts)
	}
	// Every attempt restarts from Coding and fails there
	if len(f.invoker.calls) != 3 {
		t.Errorf("worker calls = %d, want 3 (one Coding per attempt)", len(f.invoker.calls))
	}
	for _, kind := range f.invoker.calls {
		if kind != phase.Coding {
			t.Errorf("unexpected phase %s, attempts must restart from Coding", kind)
		}
	}
}

func TestRun_RestartsFromCodingAfterTestingFailure(t *testing.T) {
	f := newFixture(t)
	attempt := 0
	f.invoker.invokeFunc = func(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error) {
		if kind == phase.Coding {
			attempt++
		}
		if kind == phase.Testing && attempt == 1 {
			return "could not finish", nil
		}
		return strings.ToUpper(string(kind)) + "_COMPLETE", nil
	}
	issue := openIssue(3, "Flaky tests")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusCompleted {
		t.Fatalf("Status = %s, want completed (last failure: %s)", r.Status, r.LastFailure)
	}
	if r.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", r.Attempts)
	}

	// Attempt 1: Coding, Testing (fails). Attempt 2: Coding, Testing, Review.
	want := []phase.Phase{phase.Coding, phase.Testing, phase.Coding, phase.Testing, phase.Review}
	if len(f.invoker.calls) != len(want) {
		t.Fatalf("worker calls = %v, want %v", f.invoker.calls, want)
	}
	for i, kind := range want {
		if f.invoker.calls[i] != kind {
			t.Errorf("call %d = %s, want %s", i, f.invoker.calls[i], kind)
		}
	}
}

func TestRun_PipelineFailureConsumesAttempt(t *testing.T) {
	f := newFixture(t)
	f.awaiter.awaitFunc = func(ctx context.Context, branch string) (*monitor.Result, error) {
		return &monitor.Result{
			Message:  "pipeline 9 failed (build): jobs compile",
			Category: detector.CategoryBuild,
			Pipeline: &remote.Pipeline{ID: 9},
		}, nil
	}
	issue := openIssue(4, "Broken build")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if r.LastCategory != string(detector.CategoryBuild) {
		t.Errorf("LastCategory = %q, want %q", r.LastCategory, detector.CategoryBuild)
	}
	// The pipeline id of each failed phase attempt is recorded
	found := false
	for _, pa := range r.PhaseAttempts {
		if pa.PipelineID == 9 && !pa.Success {
			found = true
		}
	}
	if !found {
		t.Error("failed phase attempts should record the pipeline id")
	}
}

func TestRun_PipelineTimeoutReportedAsUnknown(t *testing.T) {
	f := newFixture(t)
	f.awaiter.awaitFunc = func(ctx context.Context, branch string) (*monitor.Result, error) {
		return &monitor.Result{
			Message:  "pipeline did not complete within 20m0s",
			Category: detector.CategoryUnknown,
			TimedOut: true,
		}, nil
	}
	issue := openIssue(5, "Slow pipeline")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if r.LastCategory != string(detector.CategoryUnknown) {
		t.Errorf("LastCategory = %q, want %q (timeout is not a code defect)", r.LastCategory, detector.CategoryUnknown)
	}
}

func TestRun_ClosedIssueSkippedWithZeroInvocations(t *testing.T) {
	f := newFixture(t)
	issue := &remote.Issue{IID: 6, Title: "Done already", State: "closed"}

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusSkipped {
		t.Fatalf("Status = %s, want skipped", r.Status)
	}
	if len(f.invoker.calls) != 0 {
		t.Errorf("worker calls = %d, want 0 for an already-done issue", len(f.invoker.calls))
	}
}

func TestRun_MergedBranchSkippedWithZeroInvocations(t *testing.T) {
	f := newFixture(t)
	issue := openIssue(7, "Landed out of band")
	f.client.AddIssue(issue)

	branch := BranchName(issue)
	mr, err := f.client.CreateMergeRequest(context.Background(), remote.MergeRequestCreate{
		Title:        "Resolve #7",
		SourceBranch: branch,
		TargetBranch: "main",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.client.MergeMergeRequest(context.Background(), mr.IID); err != nil {
		t.Fatal(err)
	}

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusSkipped {
		t.Fatalf("Status = %s, want skipped", r.Status)
	}
	if len(f.invoker.calls) != 0 {
		t.Errorf("worker calls = %d, want 0", len(f.invoker.calls))
	}
}

func TestRun_WorkerTimeoutConsumesAttempt(t *testing.T) {
	f := newFixture(t)
	f.invoker.invokeFunc = func(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error) {
		return "", errors.New("worker timed out after 30m0s")
	}
	issue := openIssue(8, "Stuck worker")
	f.client.AddIssue(issue)

	r := f.executor.Run(context.Background(), issue, "", f.reporter)

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if r.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (each timeout consumes an attempt)", r.Attempts)
	}
	for _, pa := range r.PhaseAttempts {
		if pa.Reason != "timeout" {
			t.Errorf("Reason = %q, want %q", pa.Reason, "timeout")
		}
	}
}

func TestRun_WorkspaceFailureFailsWithoutPanic(t *testing.T) {
	client := remote.NewMockClient()
	invoker := &mockInvoker{}
	logger := log.New(os.Stderr, "[test] ", 0)

	exec := New(client, invoker, detector.New(0), &mockAwaiter{},
		&mockWorkspaces{err: errors.New("disk full")}, logger, Options{
			MaxRetries: 2,
			Transport:  retry.Options{MaxAttempts: 1},
		})

	issue := openIssue(9, "No workspace")
	client.AddIssue(issue)

	r := exec.Run(context.Background(), issue, "", progress.NewReporter(client, 9, 0, false))

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if len(invoker.calls) != 0 {
		t.Errorf("worker calls = %d, want 0 when the workspace cannot be prepared", len(invoker.calls))
	}
}

func TestRun_ContextCancelStopsRetrying(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.invoker.invokeFunc = func(ctx context.Context, kind phase.Phase, task string, wc worker.Context) (string, error) {
		cancel()
		return "no markers here", nil
	}
	issue := openIssue(10, "Cancelled mid-run")
	f.client.AddIssue(issue)

	r := f.executor.Run(ctx, issue, "", f.reporter)

	if r.Status != report.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if len(f.invoker.calls) != 1 {
		t.Errorf("worker calls = %d, want 1 (no retries after cancellation)", len(f.invoker.calls))
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		name  string
		issue *remote.Issue
		want  string
	}{
		{
			name:  "simple title",
			issue: openIssue(12, "Add user login"),
			want:  "forgeflow/issue-12-add-user-login",
		},
		{
			name:  "special characters",
			issue: openIssue(3, "Fix: crash on start-up (v2)!"),
			want:  "forgeflow/issue-3-fix-crash-on-start-up-v2",
		},
		{
			name:  "empty title",
			issue: openIssue(5, ""),
			want:  "forgeflow/issue-5",
		},
		{
			name:  "only symbols",
			issue: openIssue(6, "!!!"),
			want:  "forgeflow/issue-6",
		},
		{
			name:  "long title truncated",
			issue: openIssue(7, strings.Repeat("very long title ", 10)),
			want:  "forgeflow/issue-7-very-long-title-very-long-title-very-lon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchName(tt.issue)
			if got != tt.want {
				t.Errorf("BranchName() = %q, want %q", got, tt.want)
			}
			// Deterministic across calls
			if again := BranchName(tt.issue); again != got {
				t.Errorf("BranchName not deterministic: %q vs %q", got, again)
			}
		})
	}
}

func TestPhaseDefsCoverPerIssuePhases(t *testing.T) {
	for _, kind := range phase.PerIssue() {
		def, ok := phaseDefs[kind]
		if !ok {
			t.Fatalf("no definition for phase %s", kind)
		}
		if def.Kind != kind {
			t.Errorf("definition for %s carries kind %s", kind, def.Kind)
		}
	}
	if len(phaseDefs) != len(phase.PerIssue()) {
		t.Errorf("phase definitions out of step with the per-issue phase list")
	}
}
