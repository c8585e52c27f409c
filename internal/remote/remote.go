package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the requested object does not exist on the remote.
// Callers branch on this: a missing plan file means "create it", a missing
// pipeline means "not started yet". Transport failures are returned as
// ordinary wrapped errors and must never be conflated with ErrNotFound.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err represents a missing remote object
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Issue represents a tracked work item
type Issue struct {
	IID         int
	Title       string
	Description string
	State       string // "opened" or "closed"
	Author      string
	Labels      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Closed reports whether the issue has been closed on the remote
func (i *Issue) Closed() bool {
	return i.State == "closed"
}

// Branch represents a repository branch
type Branch struct {
	Name string
	SHA  string
}

// MergeRequest represents a merge request
type MergeRequest struct {
	IID          int
	Title        string
	State        string // "opened", "merged", "closed"
	SourceBranch string
	TargetBranch string
	WebURL       string
}

// Merged reports whether the merge request has been merged
func (m *MergeRequest) Merged() bool {
	return m.State == "merged"
}

// Pipeline statuses as reported by the CI system
const (
	PipelineCreated  = "created"
	PipelinePending  = "pending"
	PipelineRunning  = "running"
	PipelineSuccess  = "success"
	PipelineFailed   = "failed"
	PipelineCanceled = "canceled"
	PipelineSkipped  = "skipped"
)

// Pipeline represents one CI execution run for a branch/commit
type Pipeline struct {
	ID     int
	Ref    string
	SHA    string
	Status string
	WebURL string
}

// Terminal reports whether the pipeline has reached a final status
func (p *Pipeline) Terminal() bool {
	switch p.Status {
	case PipelineSuccess, PipelineFailed, PipelineCanceled, PipelineSkipped:
		return true
	}
	return false
}

// Job represents a single job within a pipeline
type Job struct {
	ID     int
	Name   string
	Stage  string
	Status string
}

// MergeRequestCreate contains fields for creating a merge request
type MergeRequestCreate struct {
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	IssueIID     int // referenced in the description ("Closes #N")
}

// Client is the capability set the orchestrator needs from the remote
// forge/CI system. All methods are fallible; implementations return
// ErrNotFound (possibly wrapped) for missing objects.
type Client interface {
	// Issues
	FetchOpenIssues(ctx context.Context) ([]*Issue, error)
	GetIssue(ctx context.Context, iid int) (*Issue, error)
	CloseIssue(ctx context.Context, iid int) error
	CreateIssueNote(ctx context.Context, iid int, body string) (int, error)
	UpdateIssueNote(ctx context.Context, iid, noteID int, body string) error

	// Branches
	ListBranches(ctx context.Context) ([]*Branch, error)
	CreateBranch(ctx context.Context, name, fromRef string) (*Branch, error)
	DeleteBranch(ctx context.Context, name string) error

	// Merge requests
	ListMergeRequests(ctx context.Context, sourceBranch string) ([]*MergeRequest, error)
	CreateMergeRequest(ctx context.Context, mr MergeRequestCreate) (*MergeRequest, error)
	MergeMergeRequest(ctx context.Context, iid int) error

	// Pipelines
	GetLatestPipeline(ctx context.Context, ref string) (*Pipeline, error)
	GetPipeline(ctx context.Context, id int) (*Pipeline, error)
	GetPipelineJobs(ctx context.Context, id int) ([]*Job, error)
	GetJobTrace(ctx context.Context, jobID int) (string, error)

	// Repository files
	GetFile(ctx context.Context, path, ref string) ([]byte, error)
	CreateOrUpdateFile(ctx context.Context, path, branch, content, message string) error

	// Name identifies the client implementation
	Name() string
}
