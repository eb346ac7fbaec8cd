package sshtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// DefaultBranch is the branch fixtures commit to.
const DefaultBranch = "main"

// Commit describes the files written by one fixture commit.
type Commit struct {
	Files   map[string]string
	Message string
}

// RequireGit skips the test when the git binary is not installed. The in-process SSH server
// delegates upload-pack and receive-pack to it.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// CreateBareRepo builds a bare repository under t.TempDir() holding the given commits on
// DefaultBranch and returns its absolute path.
func CreateBareRepo(t *testing.T, commits []Commit) string {
	t.Helper()
	RequireGit(t)

	workDir := filepath.Join(t.TempDir(), "work")
	repo, err := git.PlainInitWithOptions(workDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch)},
	})
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}

	workTree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	author := &object.Signature{Name: "Test Author", Email: "test@example.com"}
	for i, c := range commits {
		for filename, content := range c.Files {
			filePath := filepath.Join(workDir, filename)
			if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
				t.Fatalf("Failed to create directory for %s: %v", filename, err)
			}
			if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
				t.Fatalf("Failed to write file %s: %v", filename, err)
			}
			if _, err := workTree.Add(filename); err != nil {
				t.Fatalf("Failed to add file %s: %v", filename, err)
			}
		}

		msg := c.Message
		if msg == "" {
			msg = "Commit " + string(rune('A'+i))
		}
		if _, err := workTree.Commit(msg, &git.CommitOptions{Author: author}); err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
	}

	bareDir := filepath.Join(t.TempDir(), "origin.git")
	out, err := exec.Command("git", "clone", "--quiet", "--bare", workDir, bareDir).CombinedOutput()
	if err != nil {
		t.Fatalf("Failed to create bare repository: %v: %s", err, out)
	}
	return bareDir
}

// HeadMessage returns the message of the commit DefaultBranch points to in a repository.
func HeadMessage(t *testing.T, repoPath string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(DefaultBranch), true)
	if err != nil {
		t.Fatalf("Failed to resolve %s: %v", DefaultBranch, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("Failed to read commit: %v", err)
	}
	return commit.Message
}
