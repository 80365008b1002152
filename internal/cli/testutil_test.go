package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRepo(t *testing.T, dir string) string {
	t.Helper()
	mustRunGit(t, dir, "init")
	mustRunGit(t, dir, "config", "user.name", "Test User")
	mustRunGit(t, dir, "config", "user.email", "test@example.com")
	mustRunGit(t, dir, "config", "commit.gpgsign", "false")
	mustRunGit(t, dir, "config", "tag.gpgsign", "false")
	commitFile(t, dir, "README.md", "initial\n", "initial commit")
	mustRunGit(t, dir, "branch", "-M", "main")
	return dir
}

// newDivergedRepo returns a clone on branch feature with two commits of its
// own while origin/main has moved ahead by one commit.
func newDivergedRepo(t *testing.T) (work, remote string) {
	t.Helper()
	tmp := t.TempDir()
	work = newTestRepo(t, filepath.Join(tmp, "work"))
	remote = filepath.Join(tmp, "remote.git")

	mustRunGit(t, tmp, "init", "--bare", remote)
	mustRunGit(t, work, "remote", "add", "origin", remote)
	mustRunGit(t, work, "push", "origin", "main")

	mustRunGit(t, work, "checkout", "-b", "feature")
	commitFile(t, work, "one.txt", "one\n", "feature one")
	commitFile(t, work, "two.txt", "two\n", "feature two")
	mustRunGit(t, work, "push", "-u", "origin", "feature")

	mustRunGit(t, work, "checkout", "main")
	commitFile(t, work, "upstream.txt", "upstream\n", "upstream change")
	mustRunGit(t, work, "push", "origin", "main")
	mustRunGit(t, work, "reset", "--hard", "HEAD~1")
	mustRunGit(t, work, "checkout", "feature")
	return work, remote
}

func commitFile(t *testing.T, dir, name, contents, message string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, name), contents)
	mustRunGit(t, dir, "add", name)
	mustRunGit(t, dir, "commit", "-m", message)
}

func mustRunGit(t *testing.T, dir string, args ...string) {
	mustCaptureGit(t, dir, args...)
}

func mustCaptureGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	cmdArgs := append([]string{"-C", dir}, args...)
	cmd := exec.Command("git", cmdArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(cmdArgs, " "), err, string(output))
	}
	return strings.TrimSpace(string(output))
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file failed: %v", err)
	}
}

// newConflictRepo is newDivergedRepo where feature and origin/main both edit
// README.md.
func newConflictRepo(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	work := newTestRepo(t, filepath.Join(tmp, "work"))
	remote := filepath.Join(tmp, "remote.git")

	mustRunGit(t, tmp, "init", "--bare", remote)
	mustRunGit(t, work, "remote", "add", "origin", remote)
	mustRunGit(t, work, "push", "origin", "main")

	mustRunGit(t, work, "checkout", "-b", "feature")
	commitFile(t, work, "README.md", "feature\n", "feature readme")

	mustRunGit(t, work, "checkout", "main")
	commitFile(t, work, "README.md", "upstream\n", "upstream readme")
	mustRunGit(t, work, "push", "origin", "main")
	mustRunGit(t, work, "reset", "--hard", "HEAD~1")
	mustRunGit(t, work, "checkout", "feature")
	return work
}
