package remote

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory implementation of Client for testing
type MockClient struct {
	mu sync.RWMutex

	IssuesByIID map[int]*Issue
	Branches    map[string]*Branch
	MRs         map[int]*MergeRequest
	Files       map[string]string // "branch:path" -> content
	Notes       map[int][]string  // issue iid -> note bodies

	// Pipelines per ref, newest last; GetLatestPipeline returns the last one
	Pipelines map[string][]*Pipeline
	Jobs      map[int][]*Job   // pipeline id -> jobs
	Traces    map[int]string   // job id -> trace

	// Tracking for assertions
	ClosedIssues    []int
	DeletedBranches []string
	MergedMRs       []int

	// Configurable behavior
	FetchError error
	MergeError error

	nextMR   int
	nextNote int
}

// NewMockClient creates an empty mock client
func NewMockClient() *MockClient {
	return &MockClient{
		IssuesByIID: make(map[int]*Issue),
		Branches:    make(map[string]*Branch),
		MRs:         make(map[int]*MergeRequest),
		Files:       make(map[string]string),
		Notes:       make(map[int][]string),
		Pipelines:   make(map[string][]*Pipeline),
		Jobs:        make(map[int][]*Job),
		Traces:      make(map[int]string),
	}
}

func (m *MockClient) Name() string { return "mock" }

// AddIssue registers an issue
func (m *MockClient) AddIssue(issue *Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IssuesByIID[issue.IID] = issue
}

// AddPipeline appends a pipeline for its ref, becoming the latest
func (m *MockClient) AddPipeline(p *Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pipelines[p.Ref] = append(m.Pipelines[p.Ref], p)
}

// SetPipelineStatus updates a pipeline's status in place
func (m *MockClient) SetPipelineStatus(id int, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pipelines := range m.Pipelines {
		for _, p := range pipelines {
			if p.ID == id {
				p.Status = status
			}
		}
	}
}

// SetJobs registers jobs for a pipeline
func (m *MockClient) SetJobs(pipelineID int, jobs ...*Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[pipelineID] = jobs
}

// SetTrace registers a job trace
func (m *MockClient) SetTrace(jobID int, trace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Traces[jobID] = trace
}

func (m *MockClient) FetchOpenIssues(ctx context.Context) ([]*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FetchError != nil {
		return nil, m.FetchError
	}

	var result []*Issue
	for _, issue := range m.IssuesByIID {
		if !issue.Closed() {
			result = append(result, issue)
		}
	}
	return result, nil
}

func (m *MockClient) GetIssue(ctx context.Context, iid int) (*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if issue, ok := m.IssuesByIID[iid]; ok {
		return issue, nil
	}
	return nil, fmt.Errorf("issue %d: %w", iid, ErrNotFound)
}

func (m *MockClient) CloseIssue(ctx context.Context, iid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.IssuesByIID[iid]
	if !ok {
		return fmt.Errorf("issue %d: %w", iid, ErrNotFound)
	}
	issue.State = "closed"
	m.ClosedIssues = append(m.ClosedIssues, iid)
	return nil
}

func (m *MockClient) CreateIssueNote(ctx context.Context, iid int, body string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextNote++
	m.Notes[iid] = append(m.Notes[iid], body)
	return m.nextNote, nil
}

func (m *MockClient) UpdateIssueNote(ctx context.Context, iid, noteID int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	notes := m.Notes[iid]
	if len(notes) == 0 {
		return fmt.Errorf("note %d: %w", noteID, ErrNotFound)
	}
	notes[len(notes)-1] = body
	return nil
}

func (m *MockClient) ListBranches(ctx context.Context) ([]*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Branch
	for _, b := range m.Branches {
		result = append(result, b)
	}
	return result, nil
}

func (m *MockClient) CreateBranch(ctx context.Context, name, fromRef string) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.Branches[name]; ok {
		return b, nil
	}
	b := &Branch{Name: name, SHA: fmt.Sprintf("sha-%s", name)}
	m.Branches[name] = b
	return b, nil
}

func (m *MockClient) DeleteBranch(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Branches[name]; !ok {
		return fmt.Errorf("branch %s: %w", name, ErrNotFound)
	}
	delete(m.Branches, name)
	m.DeletedBranches = append(m.DeletedBranches, name)
	return nil
}

func (m *MockClient) ListMergeRequests(ctx context.Context, sourceBranch string) ([]*MergeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*MergeRequest
	for _, mr := range m.MRs {
		if sourceBranch == "" || mr.SourceBranch == sourceBranch {
			result = append(result, mr)
		}
	}
	return result, nil
}

func (m *MockClient) CreateMergeRequest(ctx context.Context, mr MergeRequestCreate) (*MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMR++
	description := mr.Description
	if mr.IssueIID != 0 {
		description += fmt.Sprintf("\n\nCloses #%d", mr.IssueIID)
	}
	created := &MergeRequest{
		IID:          m.nextMR,
		Title:        mr.Title,
		State:        "opened",
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		WebURL:       fmt.Sprintf("https://example.com/mr/%d", m.nextMR),
	}
	m.MRs[created.IID] = created
	return created, nil
}

func (m *MockClient) MergeMergeRequest(ctx context.Context, iid int) error {
	if m.MergeError != nil {
		return m.MergeError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mr, ok := m.MRs[iid]
	if !ok {
		return fmt.Errorf("merge request %d: %w", iid, ErrNotFound)
	}
	mr.State = "merged"
	m.MergedMRs = append(m.MergedMRs, iid)
	return nil
}

func (m *MockClient) GetLatestPipeline(ctx context.Context, ref string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pipelines := m.Pipelines[ref]
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("no pipeline for ref %s: %w", ref, ErrNotFound)
	}
	latest := *pipelines[len(pipelines)-1]
	return &latest, nil
}

func (m *MockClient) GetPipeline(ctx context.Context, id int) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pipelines := range m.Pipelines {
		for _, p := range pipelines {
			if p.ID == id {
				copied := *p
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("pipeline %d: %w", id, ErrNotFound)
}

func (m *MockClient) GetPipelineJobs(ctx context.Context, id int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Jobs[id], nil
}

func (m *MockClient) GetJobTrace(ctx context.Context, jobID int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trace, ok := m.Traces[jobID]
	if !ok {
		return "", fmt.Errorf("job %d trace: %w", jobID, ErrNotFound)
	}
	return trace, nil
}

func (m *MockClient) GetFile(ctx context.Context, path, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if content, ok := m.Files[ref+":"+path]; ok {
		return []byte(content), nil
	}
	return nil, fmt.Errorf("file %s@%s: %w", path, ref, ErrNotFound)
}

func (m *MockClient) CreateOrUpdateFile(ctx context.Context, path, branch, content, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[branch+":"+path] = content
	return nil
}

var _ Client = (*MockClient)(nil)
