package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IssueStatus is the terminal status of one issue within a run
type IssueStatus string

const (
	StatusCompleted IssueStatus = "completed"
	StatusFailed    IssueStatus = "failed"
	StatusSkipped   IssueStatus = "skipped-already-done"
)

// PhaseAttempt records one phase execution within an issue attempt
type PhaseAttempt struct {
	Phase      string    `json:"phase"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	PipelineID int       `json:"pipeline_id,omitempty"`
	Category   string    `json:"failure_category,omitempty"`
	At         time.Time `json:"at"`
}

// IssueReport is the persisted per-issue outcome
type IssueReport struct {
	IssueIID      int            `json:"issue_iid"`
	Title         string         `json:"title"`
	Branch        string         `json:"branch,omitempty"`
	Status        IssueStatus    `json:"status"`
	Attempts      int            `json:"attempts"`
	PhaseAttempts []PhaseAttempt `json:"phase_attempts,omitempty"`
	LastFailure   string         `json:"last_failure,omitempty"`
	LastCategory  string         `json:"last_failure_category,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// RunSummary aggregates a whole run
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Project     string    `json:"project"`
	Completed   []int     `json:"completed"`
	Failed      []int     `json:"failed"`
	Skipped     []int     `json:"skipped"`
	SuccessRate float64   `json:"success_rate"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Total returns the number of issues the run touched
func (s *RunSummary) Total() int {
	return len(s.Completed) + len(s.Failed) + len(s.Skipped)
}

// Writer persists reports as JSON files in a directory
type Writer struct {
	dir string
}

// NewWriter creates a report writer, creating the directory if needed
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// WriteIssue persists a per-issue report
func (w *Writer) WriteIssue(r *IssueReport) error {
	return w.write(fmt.Sprintf("issue-%d.json", r.IssueIID), r)
}

// WriteSummary persists the run summary, both under the run id and as the
// latest summary for the status command
func (w *Writer) WriteSummary(s *RunSummary) error {
	if err := w.write(fmt.Sprintf("run-%s.json", s.RunID), s); err != nil {
		return err
	}
	return w.write("latest.json", s)
}

func (w *Writer) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// LoadLatestSummary reads the most recent run summary from a report directory
func LoadLatestSummary(dir string) (*RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "latest.json"))
	if err != nil {
		return nil, err
	}

	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse run summary: %w", err)
	}
	return &summary, nil
}

// LoadIssueReport reads a persisted per-issue report
func LoadIssueReport(dir string, iid int) (*IssueReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("issue-%d.json", iid)))
	if err != nil {
		return nil, err
	}

	var r IssueReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse issue report: %w", err)
	}
	return &r, nil
}
