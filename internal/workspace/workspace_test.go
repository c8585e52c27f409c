package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubGit puts a fake git executable first on PATH that records its
// arguments, one invocation per line, and returns the log path.
func stubGit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\necho \"$@\" >> " + logPath + "\n" +
		"[ \"$1\" = clone ] && mkdir -p \"$3\"\nexit 0\n"
	if err := os.WriteFile(filepath.Join(dir, "git"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return logPath
}

func gitCalls(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("no git invocations recorded: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestManagerGet_CreatesPerIssueDirectories(t *testing.T) {
	m := NewManager(t.TempDir())

	ws1, err := m.Get(1)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	ws2, err := m.Get(2)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	if ws1.Root == ws2.Root {
		t.Error("different issues must get different workspace roots")
	}
	if _, err := os.Stat(ws1.Root); err != nil {
		t.Errorf("workspace root not created: %v", err)
	}
}

func TestManagerGet_StableAcrossCalls(t *testing.T) {
	m := NewManager(t.TempDir())

	first, err := m.Get(7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Get(7)
	if err != nil {
		t.Fatal(err)
	}
	if first.Root != second.Root {
		t.Errorf("workspace must be reused across retries: %q vs %q", first.Root, second.Root)
	}
}

func TestCloned(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Get(1)
	if err != nil {
		t.Fatal(err)
	}

	if ws.Cloned() {
		t.Error("fresh workspace should not report cloned")
	}

	if err := os.MkdirAll(filepath.Join(ws.RepoDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !ws.Cloned() {
		t.Error("workspace with a .git directory should report cloned")
	}
}

func TestPrepare_ClonesFreshWorkspace(t *testing.T) {
	logPath := stubGit(t)
	m := NewManager(t.TempDir())

	ws, err := m.Prepare(context.Background(), 4, "https://example.com/repo.git", "feature")
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	calls := gitCalls(t, logPath)
	if len(calls) != 2 {
		t.Fatalf("expected clone then checkout, got %v", calls)
	}
	if !strings.HasPrefix(calls[0], "clone https://example.com/repo.git") {
		t.Errorf("first call should clone, got %q", calls[0])
	}
	if calls[1] != "checkout feature" {
		t.Errorf("second call should checkout, got %q", calls[1])
	}
	if ws.RepoDir == "" {
		t.Error("prepared workspace must carry a repo directory")
	}
}

func TestPrepare_RefreshesExistingClone(t *testing.T) {
	logPath := stubGit(t)
	m := NewManager(t.TempDir())

	ws, err := m.Get(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(ws.RepoDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Prepare(context.Background(), 4, "https://example.com/repo.git", "feature"); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}

	calls := gitCalls(t, logPath)
	if len(calls) != 2 || calls[0] != "fetch origin" || calls[1] != "checkout feature" {
		t.Errorf("existing clone should fetch then checkout, got %v", calls)
	}
	for _, call := range calls {
		if strings.HasPrefix(call, "clone") {
			t.Errorf("existing clone must not be re-cloned, got %v", calls)
		}
	}
}

func TestCleanup(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Get(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Error("workspace root should be removed")
	}
}
