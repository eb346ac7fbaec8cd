package git

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// CloneConfig contains configuration for a shallow clone
type CloneConfig struct {
	// URL is the repository URL, either git@host:owner/repo.git or ssh://user@host[:port]/path
	URL string

	// Branch is the branch to clone. The remote HEAD is used when empty.
	Branch string

	// Directory is the clone target. It must not exist or be empty.
	Directory string

	// Auth authenticates the transport. It is required for SSH URLs.
	Auth transport.AuthMethod
}

// PushConfig contains configuration for committing every change in a clone and pushing it
type PushConfig struct {
	// Directory is an existing clone with an origin remote
	Directory string

	// AuthorName and AuthorEmail sign the commit
	AuthorName  string
	AuthorEmail string

	// Message is the commit message
	Message string

	// Auth authenticates the push. It is required when origin is an SSH URL.
	Auth transport.AuthMethod
}

// RepositoryInfo contains information about a cloned repository
type RepositoryInfo struct {
	// Repository is the go-git repository instance
	Repository *git.Repository

	// Directory is the working tree on disk
	Directory string

	// Branch is the checked out branch name
	Branch string

	// Head is the hash of the checked out commit
	Head string

	// RemoteURL is the origin URL
	RemoteURL string
}

// CommitInfo describes a commit created by CommitAndPush
type CommitInfo struct {
	// Hash is the new commit hash
	Hash string

	// Branch is the branch that was pushed
	Branch string

	// Pushed is false when the remote already had the commit
	Pushed bool
}
