package sshident

import (
	"fmt"
	"slices"
	"time"

	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
)

// publicKeyAuth is a go-git SSH auth method whose host key handling is fully decided by the
// identity. go-git only consults the user's known_hosts when HostKeyCallback is nil, so it
// is always set.
type publicKeyAuth struct {
	user              string
	signer            ssh.Signer
	hostKeyCallback   ssh.HostKeyCallback
	hostKeyAlgorithms []string
	timeout           time.Duration
}

var _ gitssh.AuthMethod = (*publicKeyAuth)(nil)

func (*publicKeyAuth) Name() string {
	return gitssh.PublicKeysName
}

func (a *publicKeyAuth) String() string {
	return fmt.Sprintf("user: %s, name: %s", a.user, a.Name())
}

func (a *publicKeyAuth) ClientConfig() (*ssh.ClientConfig, error) {
	return &ssh.ClientConfig{
		User:              a.user,
		Auth:              []ssh.AuthMethod{ssh.PublicKeys(a.signer)},
		HostKeyCallback:   a.hostKeyCallback,
		HostKeyAlgorithms: slices.Clone(a.hostKeyAlgorithms),
		Timeout:           a.timeout,
	}, nil
}
