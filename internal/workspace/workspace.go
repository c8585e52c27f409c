package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Workspace is an isolated working directory one issue's worker
// invocations run in. The same directory is reused across retries of
// the same issue so the agent keeps its local clone and branch.
type Workspace struct {
	Root    string
	RepoDir string
}

// Manager creates and tracks per-issue workspaces under a base directory
type Manager struct {
	baseDir string
}

// NewManager creates a workspace manager
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "forgeflow")
	}
	return &Manager{baseDir: baseDir}
}

// Get returns the workspace for an issue, creating the directory if needed
func (m *Manager) Get(issueIID int) (*Workspace, error) {
	root := filepath.Join(m.baseDir, fmt.Sprintf("issue-%d", issueIID))
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &Workspace{
		Root:    root,
		RepoDir: filepath.Join(root, "repo"),
	}, nil
}

// Prepare returns the issue's workspace with the repository cloned and
// the given branch checked out. An existing clone is refreshed from the
// remote first, so a re-run over the same backlog sees current state.
func (m *Manager) Prepare(ctx context.Context, issueIID int, cloneURL, branch string) (*Workspace, error) {
	ws, err := m.Get(issueIID)
	if err != nil {
		return nil, err
	}
	if !ws.Cloned() {
		if err := ws.Clone(ctx, cloneURL); err != nil {
			return nil, err
		}
	} else if err := ws.Fetch(ctx); err != nil {
		return nil, err
	}
	if err := ws.Checkout(ctx, branch); err != nil {
		return nil, err
	}
	return ws, nil
}

// Cloned reports whether the repository has been cloned into the workspace
func (w *Workspace) Cloned() bool {
	_, err := os.Stat(filepath.Join(w.RepoDir, ".git"))
	return err == nil
}

// Clone clones the repository into the workspace
func (w *Workspace) Clone(ctx context.Context, cloneURL string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", cloneURL, w.RepoDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to clone repository: %w: %s", err, string(output))
	}
	return nil
}

// Checkout switches the clone to the given branch, creating it if needed
func (w *Workspace) Checkout(ctx context.Context, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "checkout", branch)
	cmd.Dir = w.RepoDir
	if err := cmd.Run(); err == nil {
		return nil
	}

	cmd = exec.CommandContext(ctx, "git", "checkout", "-b", branch)
	cmd.Dir = w.RepoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create branch %s: %w: %s", branch, err, string(output))
	}
	return nil
}

// Fetch updates the clone from the remote
func (w *Workspace) Fetch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "fetch", "origin")
	cmd.Dir = w.RepoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to fetch: %w: %s", err, string(output))
	}
	return nil
}

// Cleanup removes the workspace directory
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Root)
}
