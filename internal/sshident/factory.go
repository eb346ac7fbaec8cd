package sshident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/skeema/knownhosts"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/keyscan"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

const (
	// DefaultConnectTimeout bounds the SSH connect of transports using an identity.
	DefaultConnectTimeout = 10 * time.Second

	dirPattern     = "tasktally-ssh-*"
	keyFile        = "id_key"
	knownHostsFile = "known_hosts"
	configFile     = "ssh_config"
	filePerm       = 0o600

	opIdentity = "identity"
)

// HostKeyPolicy decides how server host keys are verified.
type HostKeyPolicy int

const (
	// HostKeyPolicyStrict only accepts host keys present in the identity's known_hosts.
	HostKeyPolicyStrict HostKeyPolicy = iota
	// HostKeyPolicyAcceptAny accepts any host key. It must be opted into explicitly and is
	// logged every time an identity is built with it.
	HostKeyPolicyAcceptAny
)

// String returns the configuration name of p.
func (p HostKeyPolicy) String() string {
	switch p {
	case HostKeyPolicyStrict:
		return "strict"
	case HostKeyPolicyAcceptAny:
		return "accept-any"
	default:
		return "unknown"
	}
}

// ParseHostKeyPolicy parses "strict" or "accept-any". An empty string is strict.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return HostKeyPolicyStrict, nil
	case "accept-any":
		return HostKeyPolicyAcceptAny, nil
	default:
		return HostKeyPolicyStrict, fmt.Errorf("unknown host key policy %q", s)
	}
}

// Factory builds single-use SSH identities from raw credential material.
type Factory struct {
	baseDir        string
	source         HostKeySource
	policy         HostKeyPolicy
	connectTimeout time.Duration
	user           string
}

// Option configures a Factory.
type Option func(*Factory)

// WithBaseDir sets the directory identity scratch directories are created in. The default is
// os.TempDir().
func WithBaseDir(dir string) Option {
	return func(f *Factory) {
		f.baseDir = dir
	}
}

// WithHostKeySource sets where host keys come from when material has no known_hosts.
func WithHostKeySource(src HostKeySource) Option {
	return func(f *Factory) {
		f.source = src
	}
}

// WithHostKeyPolicy sets the host key policy.
func WithHostKeyPolicy(p HostKeyPolicy) Option {
	return func(f *Factory) {
		f.policy = p
	}
}

// WithConnectTimeout sets the SSH connect timeout written into each identity.
func WithConnectTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.connectTimeout = d
		}
	}
}

// WithUser sets the SSH user, overriding the one in the repository URI.
func WithUser(user string) Option {
	return func(f *Factory) {
		f.user = strings.TrimSpace(user)
	}
}

// NewFactory creates a Factory. Without options it verifies host keys strictly and has no
// fallback host key source.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		policy:         HostKeyPolicyStrict,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the host key policy of f.
func (f *Factory) Policy() HostKeyPolicy {
	return f.policy
}

// New validates material and materializes it in a private scratch directory scoped to
// endpoint. The caller owns the returned identity and must Close it.
func (f *Factory) New(ctx context.Context, material sshkey.Material, endpoint Endpoint) (*Identity, error) {
	if err := sshkey.ValidateMaterial(material); err != nil {
		return nil, err
	}
	if strings.TrimSpace(endpoint.Host) == "" {
		return nil, errs.Validation(opIdentity, "endpoint host is required")
	}
	if endpoint.Port <= 0 {
		endpoint.Port = DefaultPort
	}

	knownHosts, err := f.trustedHostKeys(ctx, material.KnownHosts, endpoint)
	if err != nil {
		return nil, err
	}

	if f.policy == HostKeyPolicyAcceptAny {
		slog.Warn("Host key verification disabled for SSH identity", "host", endpoint.Host, "port", endpoint.Port)
	}

	dir, err := os.MkdirTemp(f.baseDir, dirPattern)
	if err != nil {
		return nil, errs.IO(opIdentity, fmt.Errorf("failed to create identity directory: %w", err))
	}

	id := &Identity{
		dir:      dir,
		fs:       osfs.New(dir),
		endpoint: endpoint,
		user:     f.userFor(endpoint),
		policy:   f.policy,
		material: material.Clone(),
	}
	if err := id.materialize(knownHosts, f.connectTimeout); err != nil {
		_ = id.Close()
		return nil, err
	}

	slog.Debug("Created SSH identity", "dir", dir, "host", endpoint.Host, "port", endpoint.Port, "policy", f.policy)
	return id, nil
}

// With builds an identity, passes it to fn and closes it on every exit path.
func (f *Factory) With(ctx context.Context, material sshkey.Material, endpoint Endpoint, fn func(*Identity) error) (err error) {
	id, err := f.New(ctx, material, endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := id.Close(); closeErr != nil {
			slog.Warn("Failed to discard SSH identity", "dir", id.Dir(), "error", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}()

	return fn(id)
}

// trustedHostKeys returns the known_hosts content for the identity. Supplied content wins;
// otherwise the host key source is asked. Under the accept-any policy nothing is required.
func (f *Factory) trustedHostKeys(ctx context.Context, supplied []byte, endpoint Endpoint) ([]byte, error) {
	if len(strings.TrimSpace(string(supplied))) > 0 {
		if err := sshkey.ValidateKnownHostsFormat(supplied); err != nil {
			return nil, err
		}
		return supplied, nil
	}
	if f.policy == HostKeyPolicyAcceptAny {
		return nil, nil
	}
	if f.source == nil {
		return nil, errs.NotFound(opIdentity,
			fmt.Errorf("no known_hosts supplied for %s and no host key source configured", endpoint.Host))
	}

	entries, err := f.source.HostKeys(ctx, endpoint.Host, endpoint.Port)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.NotFound(opIdentity, errors.New("host key source returned no keys for "+endpoint.Host))
	}

	// Scanned entries are keyed by bare hostname; rewrite them to the form known_hosts
	// uses for the endpoint's port.
	name := knownhosts.Normalize(net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port)))
	scoped := make([]keyscan.HostKeyEntry, len(entries))
	for i, e := range entries {
		e.Hostname = name
		scoped[i] = e
	}
	content := []byte(keyscan.KnownHosts(scoped))
	if err := sshkey.ValidateKnownHostsFormat(content); err != nil {
		return nil, err
	}
	slog.Info("Using scanned host keys for SSH identity", "host", endpoint.Host, "count", len(scoped))
	return content, nil
}

func (f *Factory) userFor(endpoint Endpoint) string {
	switch {
	case f.user != "":
		return f.user
	case endpoint.User != "":
		return endpoint.User
	default:
		return DefaultUser
	}
}

func writeFile(id *Identity, name string, data []byte) error {
	if err := util.WriteFile(id.fs, name, data, filePerm); err != nil {
		return errs.IO(opIdentity, fmt.Errorf("failed to write %s: %w", name, err))
	}
	return nil
}
