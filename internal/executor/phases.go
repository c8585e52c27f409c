package executor

import (
	"context"
	"fmt"

	"github.com/sallandpioneers/forgeflow/internal/phase"
	"github.com/sallandpioneers/forgeflow/internal/progress"
	"github.com/sallandpioneers/forgeflow/internal/remote"
	"github.com/sallandpioneers/forgeflow/internal/retry"
)

// phaseDef gives each per-issue phase a uniform contract: one worker
// invocation plus completion check, optionally followed by a pipeline
// wait and a finalizer. One executor parameterized by this table replaces
// near-duplicate per-phase functions.
type phaseDef struct {
	Kind          phase.Phase
	Status        string
	AwaitPipeline bool
	Finalize      func(e *Executor, ctx context.Context, issue *remote.Issue, branch string) error
}

var phaseDefs = map[phase.Phase]phaseDef{
	phase.Coding:  {Kind: phase.Coding, Status: progress.StatusCoding, AwaitPipeline: true},
	phase.Testing: {Kind: phase.Testing, Status: progress.StatusTesting, AwaitPipeline: true},
	phase.Review:  {Kind: phase.Review, Status: progress.StatusReview, Finalize: finalizeReview},
}

// finalizeReview lands the branch: ensure a merged merge request exists,
// close the issue, and remove the feature branch. Each step is idempotent;
// an issue closed out-of-band still gets its merge verified, because
// issue-closed is not a merge criterion.
func finalizeReview(e *Executor, ctx context.Context, issue *remote.Issue, branch string) error {
	mrs, err := retry.DoWithResult(ctx, e.opts.Transport, func() ([]*remote.MergeRequest, error) {
		return e.client.ListMergeRequests(ctx, branch)
	})
	if err != nil {
		return fmt.Errorf("failed to list merge requests for %s: %w", branch, err)
	}

	var merged, open *remote.MergeRequest
	for _, mr := range mrs {
		switch mr.State {
		case "merged":
			merged = mr
		case "opened":
			open = mr
		}
	}

	if merged == nil {
		if open == nil {
			open, err = retry.DoWithResult(ctx, e.opts.Transport, func() (*remote.MergeRequest, error) {
				return e.client.CreateMergeRequest(ctx, remote.MergeRequestCreate{
					Title:        fmt.Sprintf("Resolve #%d: %s", issue.IID, issue.Title),
					SourceBranch: branch,
					TargetBranch: e.opts.BaseBranch,
					IssueIID:     issue.IID,
				})
			})
			if err != nil {
				return fmt.Errorf("failed to create merge request: %w", err)
			}
			e.logger.Printf("created merge request !%d for issue #%d", open.IID, issue.IID)
		}

		if err := retry.Do(ctx, e.opts.Transport, func() error {
			return e.client.MergeMergeRequest(ctx, open.IID)
		}); err != nil {
			return fmt.Errorf("failed to merge !%d: %w", open.IID, err)
		}
		e.logger.Printf("merged !%d", open.IID)
	}

	if !issue.Closed() {
		if err := retry.Do(ctx, e.opts.Transport, func() error {
			return e.client.CloseIssue(ctx, issue.IID)
		}); err != nil {
			return fmt.Errorf("failed to close issue #%d: %w", issue.IID, err)
		}
	}

	if err := e.client.DeleteBranch(ctx, branch); err != nil && !remote.IsNotFound(err) {
		// The merge landed; a lingering branch is not worth failing the issue
		e.logger.Printf("failed to delete branch %s: %v", branch, err)
	}
	return nil
}
