package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// GitLabClient implements Client using the glab CLI.
// Authentication is handled by glab itself (GITLAB_TOKEN or glab auth login).
type GitLabClient struct {
	project string // group/project path
}

// NewGitLabClient creates a client for the given project path
func NewGitLabClient(project string) *GitLabClient {
	return &GitLabClient{project: project}
}

func (g *GitLabClient) Name() string {
	return "gitlab"
}

// api executes `glab api` against the given endpoint and returns stdout
func (g *GitLabClient) api(ctx context.Context, method, endpoint string, fields ...string) ([]byte, error) {
	args := []string{"api"}
	if method != "" {
		args = append(args, "-X", method)
	}
	args = append(args, endpoint)
	for _, f := range fields {
		args = append(args, "-f", f)
	}

	cmd := exec.CommandContext(ctx, "glab", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := string(exitErr.Stderr)
			if strings.Contains(stderr, "404") {
				return nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
			}
			return nil, fmt.Errorf("glab api %s failed: %s: %s", endpoint, err, stderr)
		}
		return nil, fmt.Errorf("glab api %s failed: %w", endpoint, err)
	}
	return out, nil
}

func (g *GitLabClient) projectPath() string {
	return url.PathEscape(g.project)
}

// glIssue mirrors the fields we care about from the issues API
type glIssue struct {
	IID         int       `json:"iid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Labels      []string  `json:"labels"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Author      struct {
		Username string `json:"username"`
	} `json:"author"`
}

func (gi *glIssue) toIssue() *Issue {
	return &Issue{
		IID:         gi.IID,
		Title:       gi.Title,
		Description: gi.Description,
		State:       gi.State,
		Author:      gi.Author.Username,
		Labels:      gi.Labels,
		CreatedAt:   gi.CreatedAt,
		UpdatedAt:   gi.UpdatedAt,
	}
}

type glBranch struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

type glMR struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	WebURL       string `json:"web_url"`
}

func (gm *glMR) toMR() *MergeRequest {
	return &MergeRequest{
		IID:          gm.IID,
		Title:        gm.Title,
		State:        gm.State,
		SourceBranch: gm.SourceBranch,
		TargetBranch: gm.TargetBranch,
		WebURL:       gm.WebURL,
	}
}

type glPipeline struct {
	ID     int    `json:"id"`
	Ref    string `json:"ref"`
	SHA    string `json:"sha"`
	Status string `json:"status"`
	WebURL string `json:"web_url"`
}

func (gp *glPipeline) toPipeline() *Pipeline {
	return &Pipeline{ID: gp.ID, Ref: gp.Ref, SHA: gp.SHA, Status: gp.Status, WebURL: gp.WebURL}
}

type glJob struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

func (g *GitLabClient) FetchOpenIssues(ctx context.Context) ([]*Issue, error) {
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/issues?state=opened&per_page=100", g.projectPath()))
	if err != nil {
		return nil, err
	}

	var issues []glIssue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("failed to parse issues: %w", err)
	}

	result := make([]*Issue, len(issues))
	for i := range issues {
		result[i] = issues[i].toIssue()
	}
	return result, nil
}

func (g *GitLabClient) GetIssue(ctx context.Context, iid int) (*Issue, error) {
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/issues/%d", g.projectPath(), iid))
	if err != nil {
		return nil, err
	}

	var gi glIssue
	if err := json.Unmarshal(out, &gi); err != nil {
		return nil, fmt.Errorf("failed to parse issue: %w", err)
	}
	return gi.toIssue(), nil
}

func (g *GitLabClient) CloseIssue(ctx context.Context, iid int) error {
	_, err := g.api(ctx, "PUT", fmt.Sprintf("projects/%s/issues/%d", g.projectPath(), iid),
		"state_event=close")
	return err
}

func (g *GitLabClient) CreateIssueNote(ctx context.Context, iid int, body string) (int, error) {
	out, err := g.api(ctx, "POST", fmt.Sprintf("projects/%s/issues/%d/notes", g.projectPath(), iid),
		"body="+body)
	if err != nil {
		return 0, err
	}

	var note struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(out, &note); err != nil {
		return 0, fmt.Errorf("failed to parse note: %w", err)
	}
	return note.ID, nil
}

func (g *GitLabClient) UpdateIssueNote(ctx context.Context, iid, noteID int, body string) error {
	_, err := g.api(ctx, "PUT", fmt.Sprintf("projects/%s/issues/%d/notes/%d", g.projectPath(), iid, noteID),
		"body="+body)
	return err
}

func (g *GitLabClient) ListBranches(ctx context.Context) ([]*Branch, error) {
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/repository/branches?per_page=100", g.projectPath()))
	if err != nil {
		return nil, err
	}

	var branches []glBranch
	if err := json.Unmarshal(out, &branches); err != nil {
		return nil, fmt.Errorf("failed to parse branches: %w", err)
	}

	result := make([]*Branch, len(branches))
	for i, b := range branches {
		result[i] = &Branch{Name: b.Name, SHA: b.Commit.ID}
	}
	return result, nil
}

func (g *GitLabClient) CreateBranch(ctx context.Context, name, fromRef string) (*Branch, error) {
	out, err := g.api(ctx, "POST", fmt.Sprintf("projects/%s/repository/branches", g.projectPath()),
		"branch="+name, "ref="+fromRef)
	if err != nil {
		return nil, err
	}

	var b glBranch
	if err := json.Unmarshal(out, &b); err != nil {
		return nil, fmt.Errorf("failed to parse branch: %w", err)
	}
	return &Branch{Name: b.Name, SHA: b.Commit.ID}, nil
}

func (g *GitLabClient) DeleteBranch(ctx context.Context, name string) error {
	_, err := g.api(ctx, "DELETE", fmt.Sprintf("projects/%s/repository/branches/%s",
		g.projectPath(), url.PathEscape(name)))
	return err
}

func (g *GitLabClient) ListMergeRequests(ctx context.Context, sourceBranch string) ([]*MergeRequest, error) {
	endpoint := fmt.Sprintf("projects/%s/merge_requests?state=all&per_page=100", g.projectPath())
	if sourceBranch != "" {
		endpoint += "&source_branch=" + url.QueryEscape(sourceBranch)
	}

	out, err := g.api(ctx, "", endpoint)
	if err != nil {
		return nil, err
	}

	var mrs []glMR
	if err := json.Unmarshal(out, &mrs); err != nil {
		return nil, fmt.Errorf("failed to parse merge requests: %w", err)
	}

	result := make([]*MergeRequest, len(mrs))
	for i := range mrs {
		result[i] = mrs[i].toMR()
	}
	return result, nil
}

func (g *GitLabClient) CreateMergeRequest(ctx context.Context, mr MergeRequestCreate) (*MergeRequest, error) {
	description := mr.Description
	if mr.IssueIID != 0 {
		description += fmt.Sprintf("\n\nCloses #%d", mr.IssueIID)
	}

	out, err := g.api(ctx, "POST", fmt.Sprintf("projects/%s/merge_requests", g.projectPath()),
		"title="+mr.Title,
		"description="+description,
		"source_branch="+mr.SourceBranch,
		"target_branch="+mr.TargetBranch)
	if err != nil {
		return nil, err
	}

	var gm glMR
	if err := json.Unmarshal(out, &gm); err != nil {
		return nil, fmt.Errorf("failed to parse merge request: %w", err)
	}
	return gm.toMR(), nil
}

func (g *GitLabClient) MergeMergeRequest(ctx context.Context, iid int) error {
	_, err := g.api(ctx, "PUT", fmt.Sprintf("projects/%s/merge_requests/%d/merge", g.projectPath(), iid))
	return err
}

func (g *GitLabClient) GetLatestPipeline(ctx context.Context, ref string) (*Pipeline, error) {
	endpoint := fmt.Sprintf("projects/%s/pipelines?ref=%s&per_page=1&order_by=id&sort=desc",
		g.projectPath(), url.QueryEscape(ref))

	out, err := g.api(ctx, "", endpoint)
	if err != nil {
		return nil, err
	}

	var pipelines []glPipeline
	if err := json.Unmarshal(out, &pipelines); err != nil {
		return nil, fmt.Errorf("failed to parse pipelines: %w", err)
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("no pipeline for ref %s: %w", ref, ErrNotFound)
	}
	return pipelines[0].toPipeline(), nil
}

func (g *GitLabClient) GetPipeline(ctx context.Context, id int) (*Pipeline, error) {
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/pipelines/%d", g.projectPath(), id))
	if err != nil {
		return nil, err
	}

	var gp glPipeline
	if err := json.Unmarshal(out, &gp); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	return gp.toPipeline(), nil
}

func (g *GitLabClient) GetPipelineJobs(ctx context.Context, id int) ([]*Job, error) {
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/pipelines/%d/jobs", g.projectPath(), id))
	if err != nil {
		return nil, err
	}

	var jobs []glJob
	if err := json.Unmarshal(out, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse jobs: %w", err)
	}

	result := make([]*Job, len(jobs))
	for i, j := range jobs {
		result[i] = &Job{ID: j.ID, Name: j.Name, Stage: j.Stage, Status: j.Status}
	}
	return result, nil
}

func (g *GitLabClient) GetJobTrace(ctx context.Context, jobID int) (string, error) {
	// The trace endpoint returns raw text, not JSON
	out, err := g.api(ctx, "", fmt.Sprintf("projects/%s/jobs/%d/trace", g.projectPath(), jobID))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (g *GitLabClient) GetFile(ctx context.Context, path, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf("projects/%s/repository/files/%s/raw?ref=%s",
		g.projectPath(), url.PathEscape(path), url.QueryEscape(ref))
	return g.api(ctx, "", endpoint)
}

func (g *GitLabClient) CreateOrUpdateFile(ctx context.Context, path, branch, content, message string) error {
	endpoint := fmt.Sprintf("projects/%s/repository/files/%s", g.projectPath(), url.PathEscape(path))
	fields := []string{
		"branch=" + branch,
		"content=" + content,
		"commit_message=" + message,
	}

	// Existing file needs PUT, new file needs POST
	method := "PUT"
	if _, err := g.GetFile(ctx, path, branch); IsNotFound(err) {
		method = "POST"
	}

	_, err := g.api(ctx, method, endpoint, fields...)
	return err
}

var _ Client = (*GitLabClient)(nil)
