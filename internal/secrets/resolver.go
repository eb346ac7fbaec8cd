package secrets

//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=resolver.go Resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	// RefScheme prefixes every reference understood by the mounted backends.
	RefScheme = "k8s:secret/"

	// DefaultBasePath is where mounted secrets are looked up when no base path is configured.
	DefaultBasePath = "/var/run/secrets/tasktally"

	opResolve = "resolve"
)

var refPattern = regexp.MustCompile(`^k8s:secret/([^#]+)#(.+)$`)

// ErrVaultNotImplemented is returned by VaultResolver for every reference.
var ErrVaultNotImplemented = errors.New("vault secret resolver is not implemented")

// Resolver turns an opaque secret reference into raw bytes.
type Resolver interface {
	// Resolve returns the secret value for ref.
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// Ref is a parsed "k8s:secret/<name>#<key>" reference.
type Ref struct {
	Name string
	Key  string
}

// String formats r back into its wire form.
func (r Ref) String() string {
	return RefScheme + r.Name + "#" + r.Key
}

// ParseRef parses a "k8s:secret/<name>#<key>" reference.
func ParseRef(ref string) (Ref, error) {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil {
		return Ref{}, errs.Validation(opResolve, "unsupported secret reference %q", ref)
	}
	if strings.Contains(m[1], "..") || strings.ContainsRune(m[1], filepath.Separator) ||
		strings.Contains(m[2], "..") || strings.ContainsRune(m[2], filepath.Separator) {
		return Ref{}, errs.Validation(opResolve, "secret reference %q contains path traversal", ref)
	}
	return Ref{Name: m[1], Key: m[2]}, nil
}

// EnvName is the environment variable consulted when a mounted secret file is absent.
func (r Ref) EnvName() string {
	name := strings.ToUpper(r.Name + "_" + r.Key)
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// MountedResolver reads secrets from a mounted secret directory laid out as
// <base>/<name>/<key>, falling back to environment variables.
type MountedResolver struct {
	basePath  string
	lookupEnv func(string) (string, bool)
}

// ResolverOption configures a MountedResolver.
type ResolverOption func(*MountedResolver)

// WithBasePath overrides the mounted secret directory.
func WithBasePath(path string) ResolverOption {
	return func(r *MountedResolver) {
		if path != "" {
			r.basePath = path
		}
	}
}

// WithEnvLookup overrides the environment lookup, mostly for tests.
func WithEnvLookup(lookup func(string) (string, bool)) ResolverOption {
	return func(r *MountedResolver) {
		r.lookupEnv = lookup
	}
}

// NewMountedResolver creates a resolver for mounted secrets.
func NewMountedResolver(opts ...ResolverOption) *MountedResolver {
	r := &MountedResolver{
		basePath:  DefaultBasePath,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BasePath returns the mounted secret directory.
func (r *MountedResolver) BasePath() string {
	return r.basePath
}

// Resolve implements Resolver.
func (r *MountedResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(r.basePath, parsed.Name, parsed.Key)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, errs.IO(opResolve, fmt.Errorf("failed to read secret file for %s: %w", ref, err))
	}

	if val, ok := r.lookupEnv(parsed.EnvName()); ok {
		return []byte(val), nil
	}
	return nil, errs.NotFound(opResolve, fmt.Errorf("secret not found: %s", ref))
}

// VaultResolver is a placeholder backend for Vault-stored secrets.
type VaultResolver struct{}

// Resolve implements Resolver and always fails.
func (VaultResolver) Resolve(_ context.Context, ref string) ([]byte, error) {
	return nil, errs.NotFound(opResolve, fmt.Errorf("%s: %w", ref, ErrVaultNotImplemented))
}

// ResolveOptional resolves ref unless it is empty, in which case it returns nil.
func ResolveOptional(ctx context.Context, r Resolver, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	return r.Resolve(ctx, ref)
}
