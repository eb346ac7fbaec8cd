package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/skeema/knownhosts"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

// hostOf returns the host of a repository URL for error context, or "" if it has none.
func hostOf(url string) string {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return ""
	}
	return strings.Trim(ep.Host, "[]")
}

// transportError tags a failed network operation. Host key mismatches stay distinguishable
// from other transport failures.
func transportError(op, host string, err error) error {
	if isHostKeyMismatch(err) {
		return errs.HostKeyMismatchError(op, host, fmt.Errorf("host key verification failed: %w", err))
	}

	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		err = fmt.Errorf("repository not found: %w", err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		err = fmt.Errorf("authentication failed: %w", err)
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		err = fmt.Errorf("remote repository is empty: %w", err)
	}
	return errs.Transport(op, host, err)
}

// isHostKeyMismatch reports whether err came from a known_hosts callback rejecting a key
// that differs from the trusted one. Some transport layers flatten the error chain, so the
// knownhosts message is matched as a fallback.
func isHostKeyMismatch(err error) bool {
	if err == nil {
		return false
	}
	return knownhosts.IsHostKeyChanged(err) || strings.Contains(err.Error(), "knownhosts: key mismatch")
}
