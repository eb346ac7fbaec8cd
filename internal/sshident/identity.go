package sshident

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/kevinburke/ssh_config"
	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

var (
	// ErrIdentityConsumed is returned when AuthMethod is called a second time.
	ErrIdentityConsumed = errors.New("SSH identity has already been used")
	// ErrIdentityClosed is returned when a closed identity is used.
	ErrIdentityClosed = errors.New("SSH identity has been closed")
)

// Identity is an SSH client identity plus host key trust store for one operation against
// one endpoint. Its material lives in a private directory until Close.
type Identity struct {
	dir      string
	fs       billy.Filesystem
	endpoint Endpoint
	user     string
	policy   HostKeyPolicy

	mu       sync.Mutex
	material sshkey.Material
	used     bool
	closed   bool
}

// Dir returns the scratch directory holding the identity files.
func (i *Identity) Dir() string {
	return i.dir
}

// Endpoint returns the endpoint the identity is scoped to.
func (i *Identity) Endpoint() Endpoint {
	return i.endpoint
}

// ConfigPath returns the path of the scoped ssh_config.
func (i *Identity) ConfigPath() string {
	return filepath.Join(i.dir, configFile)
}

// SSHCommand returns an ssh invocation bound to the scoped ssh_config, suitable for
// GIT_SSH_COMMAND. BatchMode is on, so passphrase-protected keys cannot be used this way.
func (i *Identity) SSHCommand() string {
	return "ssh -F " + i.ConfigPath()
}

// AuthMethod returns the go-git auth method for this identity. It may be called once.
func (i *Identity) AuthMethod() (gitssh.AuthMethod, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, errs.New(errs.KindValidation, opIdentity, i.endpoint.Host, ErrIdentityClosed)
	}
	if i.used {
		return nil, errs.New(errs.KindValidation, opIdentity, i.endpoint.Host, ErrIdentityConsumed)
	}
	i.used = true

	raw, err := util.ReadFile(i.fs, configFile)
	if err != nil {
		return nil, errs.IO(opIdentity, fmt.Errorf("failed to read ssh_config: %w", err))
	}
	cfg, err := ssh_config.DecodeBytes(raw)
	if err != nil {
		return nil, errs.IO(opIdentity, fmt.Errorf("failed to parse ssh_config: %w", err))
	}
	get := func(key string) string {
		v, _ := cfg.Get(i.endpoint.Host, key)
		return v
	}

	signer, err := i.signer(get("IdentityFile"))
	if err != nil {
		return nil, err
	}

	auth := &publicKeyAuth{
		user:    get("User"),
		signer:  signer,
		timeout: DefaultConnectTimeout,
	}
	if auth.user == "" {
		auth.user = i.user
	}
	if secs, err := strconv.Atoi(get("ConnectTimeout")); err == nil && secs > 0 {
		auth.timeout = time.Duration(secs) * time.Second
	}

	if strings.EqualFold(get("StrictHostKeyChecking"), "no") {
		slog.Warn("Accepting any host key", "host", i.endpoint.Host, "port", i.endpoint.Port)
		auth.hostKeyCallback = ssh.InsecureIgnoreHostKey()
		return auth, nil
	}

	db, err := knownhosts.NewDB(get("UserKnownHostsFile"))
	if err != nil {
		return nil, errs.IO(opIdentity, fmt.Errorf("failed to load known_hosts: %w", err))
	}
	addr := i.endpoint.Address()
	auth.hostKeyAlgorithms = db.HostKeyAlgorithms(addr)
	if len(auth.hostKeyAlgorithms) == 0 {
		return nil, errs.NotFound(opIdentity,
			fmt.Errorf("known_hosts has no entry for %s", knownhosts.Normalize(addr)))
	}
	auth.hostKeyCallback = db.HostKeyCallback()
	return auth, nil
}

// Close wipes the in-memory material and removes the scratch directory. It is safe to call
// more than once.
func (i *Identity) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.material.Wipe()

	if err := os.RemoveAll(i.dir); err != nil {
		return errs.IO(opIdentity, fmt.Errorf("failed to remove identity directory %s: %w", i.dir, err))
	}
	slog.Debug("Discarded SSH identity", "dir", i.dir)
	return nil
}

func (i *Identity) materialize(knownHosts []byte, connectTimeout time.Duration) error {
	if err := writeFile(i, keyFile, i.material.PrivateKey); err != nil {
		return err
	}
	if err := writeFile(i, knownHostsFile, knownHosts); err != nil {
		return err
	}
	return writeFile(i, configFile, []byte(i.renderConfig(connectTimeout)))
}

// renderConfig writes an ssh_config that pins every lookup to the scratch directory so
// neither go-git nor a spawned ssh reads the user's configuration or known hosts.
func (i *Identity) renderConfig(connectTimeout time.Duration) string {
	strict := "yes"
	if i.policy == HostKeyPolicyAcceptAny {
		strict = "no"
	}

	var b strings.Builder
	b.WriteString("Host *\n")
	fmt.Fprintf(&b, "  User %s\n", i.user)
	fmt.Fprintf(&b, "  Port %d\n", i.endpoint.Port)
	fmt.Fprintf(&b, "  IdentityFile %s\n", filepath.Join(i.dir, keyFile))
	b.WriteString("  IdentitiesOnly yes\n")
	fmt.Fprintf(&b, "  UserKnownHostsFile %s\n", filepath.Join(i.dir, knownHostsFile))
	b.WriteString("  GlobalKnownHostsFile /dev/null\n")
	fmt.Fprintf(&b, "  StrictHostKeyChecking %s\n", strict)
	fmt.Fprintf(&b, "  ConnectTimeout %d\n", int(connectTimeout.Seconds()))
	b.WriteString("  BatchMode yes\n")
	return b.String()
}

// signer loads the private key named by the ssh_config IdentityFile from the scratch
// directory.
func (i *Identity) signer(identityFile string) (ssh.Signer, error) {
	rel, err := filepath.Rel(i.dir, identityFile)
	if err != nil || identityFile == "" || strings.HasPrefix(rel, "..") {
		return nil, errs.IO(opIdentity, fmt.Errorf("identity file %q is outside the identity directory", identityFile))
	}

	key, err := util.ReadFile(i.fs, rel)
	if err != nil {
		return nil, errs.IO(opIdentity, fmt.Errorf("failed to read identity file: %w", err))
	}
	defer sshkey.Wipe(key)

	signer, err := sshkey.ParseSigner(key, i.material.Passphrase)
	if err != nil {
		return nil, errs.Validation(opIdentity, "unusable private key: %v", err)
	}
	return signer, nil
}
