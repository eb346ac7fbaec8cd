package sshident

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	// DefaultUser is used when neither the endpoint nor the factory names one.
	DefaultUser = "git"
	// DefaultPort is the SSH port assumed when the endpoint carries none.
	DefaultPort = 22
)

// Endpoint is the SSH server a single identity is scoped to.
type Endpoint struct {
	Host string
	Port int
	User string
}

// ParseEndpoint extracts the SSH endpoint from a repository URI. Both the scp-like form
// git@host:owner/repo.git and ssh://user@host[:port]/path are accepted.
func ParseEndpoint(uri string) (Endpoint, error) {
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return Endpoint{}, errs.Validation(opIdentity, "repository URI is required")
	}

	ep, err := transport.NewEndpoint(raw)
	if err != nil {
		return Endpoint{}, errs.Validation(opIdentity, "invalid repository URI: %v", err)
	}
	if ep.Protocol != "ssh" {
		return Endpoint{}, errs.Validation(opIdentity, "unsupported protocol %q, only ssh is supported", ep.Protocol)
	}
	if ep.Host == "" {
		return Endpoint{}, errs.Validation(opIdentity, "repository URI has no host")
	}

	port := ep.Port
	if port <= 0 {
		port = DefaultPort
	}
	return Endpoint{
		Host: strings.Trim(ep.Host, "[]"),
		Port: port,
		User: ep.User,
	}, nil
}

// Address returns host:port for dialing.
func (e Endpoint) Address() string {
	port := e.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}
