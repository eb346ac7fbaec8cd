package git

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	opClone = "clone"
	opPush  = "push"

	originRemote = "origin"
)

// Client defines the interface for Git transport operations
type Client interface {
	// CloneShallow clones a single branch at depth 1 into an empty directory
	CloneShallow(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error)

	// CommitAndPush stages every change in a clone, commits it and pushes to origin
	CommitAndPush(ctx context.Context, config *PushConfig) (*CommitInfo, error)

	// RemoteURL returns the origin URL of a clone
	RemoteURL(dir string) (string, error)

	// GetFileContent retrieves the content of a file at HEAD
	GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error)
}

// defaultGitClient implements Client using go-git
type defaultGitClient struct{}

// NewDefaultGitClient creates a new defaultGitClient
func NewDefaultGitClient() Client {
	return &defaultGitClient{}
}

var isolateOnce sync.Once

// IsolateUserSSHConfig stops go-git from resolving host names and ports through the user's
// ~/.ssh/config. Call it once at process start before any transport runs.
func IsolateUserSSHConfig() {
	isolateOnce.Do(func() {
		gitssh.DefaultSSHConfig = nil
	})
}

// CloneShallow clones config.URL at depth 1 into config.Directory. When the clone fails the
// directory is left as it was found: absent or empty.
func (*defaultGitClient) CloneShallow(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error) {
	if config == nil || strings.TrimSpace(config.URL) == "" {
		return nil, errs.Validation(opClone, "repository URL is required")
	}
	if strings.TrimSpace(config.Directory) == "" {
		return nil, errs.Validation(opClone, "target directory is required")
	}
	if err := requireAuth(opClone, config.URL, config.Auth); err != nil {
		return nil, err
	}

	existed, err := checkCloneTarget(config.Directory)
	if err != nil {
		return nil, err
	}

	cloneOptions := &git.CloneOptions{
		URL:          config.URL,
		Auth:         config.Auth,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if config.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(config.Branch)
	}

	host := hostOf(config.URL)
	slog.Debug("Cloning repository", "host", host, "branch", config.Branch, "directory", config.Directory)

	repo, err := git.PlainCloneContext(ctx, config.Directory, false, cloneOptions)
	if err != nil {
		restoreCloneTarget(config.Directory, existed)
		return nil, transportError(opClone, host, fmt.Errorf("failed to clone repository: %w", err))
	}

	repoInfo := &RepositoryInfo{
		Repository: repo,
		Directory:  config.Directory,
		RemoteURL:  config.URL,
	}
	if err := updateRepositoryInfo(repoInfo); err != nil {
		return nil, errs.IO(opClone, fmt.Errorf("failed to update repository info: %w", err))
	}

	slog.Info("Cloned repository", "host", host, "branch", repoInfo.Branch, "head", repoInfo.Head)
	return repoInfo, nil
}

// CommitAndPush stages all changes, commits them with the given author and pushes the current
// branch to origin. A commit is created even when nothing changed.
func (*defaultGitClient) CommitAndPush(ctx context.Context, config *PushConfig) (*CommitInfo, error) {
	if config == nil || strings.TrimSpace(config.Directory) == "" {
		return nil, errs.Validation(opPush, "repository directory is required")
	}
	if strings.TrimSpace(config.AuthorName) == "" || strings.TrimSpace(config.AuthorEmail) == "" {
		return nil, errs.Validation(opPush, "author name and email are required")
	}
	if strings.TrimSpace(config.Message) == "" {
		return nil, errs.Validation(opPush, "commit message is required")
	}

	repo, remoteURL, err := openClone(opPush, config.Directory)
	if err != nil {
		return nil, err
	}
	if err := requireAuth(opPush, remoteURL, config.Auth); err != nil {
		return nil, err
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return nil, errs.IO(opPush, fmt.Errorf("failed to get worktree: %w", err))
	}
	if err := workTree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, errs.IO(opPush, fmt.Errorf("failed to stage changes: %w", err))
	}

	hash, err := workTree.Commit(config.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  config.AuthorName,
			Email: config.AuthorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, errs.IO(opPush, fmt.Errorf("failed to commit: %w", err))
	}

	info := &CommitInfo{Hash: hash.String()}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	host := hostOf(remoteURL)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: originRemote,
		Auth:       config.Auth,
	})
	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		slog.Info("Remote already up to date", "host", host, "branch", info.Branch)
		return info, nil
	case err != nil:
		return nil, transportError(opPush, host, fmt.Errorf("failed to push: %w", err))
	}

	info.Pushed = true
	slog.Info("Pushed commit", "host", host, "branch", info.Branch, "commit", info.Hash)
	return info, nil
}

// RemoteURL returns the first origin URL of the clone in dir.
func (*defaultGitClient) RemoteURL(dir string) (string, error) {
	_, url, err := openClone(opPush, dir)
	return url, err
}

// GetFileContent retrieves the content of a file from the repository
func (*defaultGitClient) GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	ref, err := repoInfo.Repository.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	commit, err := repoInfo.Repository.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	file, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}

	return []byte(content), nil
}

// updateRepositoryInfo fills in the checked out branch and commit
func updateRepositoryInfo(repoInfo *RepositoryInfo) error {
	ref, err := repoInfo.Repository.Head()
	if err != nil {
		return fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	if ref.Name().IsBranch() {
		repoInfo.Branch = ref.Name().Short()
	}
	repoInfo.Head = ref.Hash().String()
	return nil
}

// openClone opens an existing clone and returns it with its origin URL.
func openClone(op, dir string) (*git.Repository, string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, "", errs.Validation(op, "%s is not a git repository", dir)
		}
		return nil, "", errs.IO(op, fmt.Errorf("failed to open repository: %w", err))
	}

	remote, err := repo.Remote(originRemote)
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil, "", errs.Validation(op, "repository in %s has no %s remote", dir, originRemote)
		}
		return nil, "", errs.IO(op, fmt.Errorf("failed to read remote: %w", err))
	}
	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] == "" {
		return nil, "", errs.Validation(op, "%s remote has no URL", originRemote)
	}
	return repo, urls[0], nil
}

// requireAuth rejects SSH operations without an explicit auth method; go-git would otherwise
// fall back to the SSH agent and the user's known_hosts.
func requireAuth(op, url string, auth transport.AuthMethod) error {
	if auth != nil {
		return nil
	}
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return errs.Validation(op, "invalid repository URL: %v", err)
	}
	if ep.Protocol == "ssh" {
		return errs.Validation(op, "an SSH identity is required for %s", ep.Host)
	}
	return nil
}

// checkCloneTarget reports whether dir already exists. It fails when dir is a file or a
// non-empty directory.
func checkCloneTarget(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, errs.Validation(opClone, "target %s is not a usable directory: %v", dir, err)
	case len(entries) > 0:
		return false, errs.Validation(opClone, "target directory %s is not empty", dir)
	}
	return true, nil
}

// restoreCloneTarget removes whatever a failed clone left behind.
func restoreCloneTarget(dir string, existed bool) {
	if !existed {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove partial clone", "directory", dir, "error", err)
		}
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			slog.Warn("Failed to remove partial clone", "path", filepath.Join(dir, e.Name()), "error", err)
		}
	}
}
