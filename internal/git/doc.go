// Package git provides the Git transport operations used over SSH.
//
// This package is a thin wrapper around go-git. Callers supply an SSH auth method, normally
// from sshident.Identity, so host key verification and key material are decided outside this
// package.
//
// # Client Interface
//
// The Client interface defines the operations:
//   - CloneShallow: single-branch, depth-1 clone into an absent or empty directory
//   - CommitAndPush: stage everything, commit with the given author, push to origin
//   - RemoteURL: origin URL of an existing clone, used to pick the identity for a push
//   - GetFileContent: read a file at HEAD of a clone
//
// # Example Usage
//
//	client := git.NewDefaultGitClient()
//	repoInfo, err := client.CloneShallow(ctx, &git.CloneConfig{
//	    URL:       "git@github.com:acme/tasks.git",
//	    Branch:    "main",
//	    Directory: dir,
//	    Auth:      auth,
//	})
//	if err != nil {
//	    return err
//	}
//
//	content, err := client.GetFileContent(repoInfo, "outcomes.yml")
//
// # Failure Semantics
//
// Every failure is an errs.Error. Missing inputs, non-empty targets and clones without an
// origin remote are validation errors raised before any network I/O. Network and remote
// failures are transport errors carrying the host and operation; a rejected host key is a
// transport error for which errs.IsHostKeyMismatch reports true. A failed clone leaves its
// target directory absent or empty. Nothing is retried.
//
// # SSH Configuration
//
// go-git reads ~/.ssh/config through a package-level variable to rewrite host names and
// ports. IsolateUserSSHConfig disables that lookup and should be called once at startup.
package git
