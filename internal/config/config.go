// Package config provides configuration loading for the tasktally SSH transport.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tasktally/tasktally-ssh/internal/filtering"
	"github.com/tasktally/tasktally-ssh/internal/keyscan"
	"github.com/tasktally/tasktally-ssh/internal/secrets"
	"github.com/tasktally/tasktally-ssh/internal/sshident"
	"github.com/tasktally/tasktally-ssh/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the CLI.
const EnvPrefix = "TASKTALLY"

const (
	// SecretsBackendMounted reads secrets from files under a base path.
	SecretsBackendMounted = "mounted"

	// SecretsBackendKubernetes reads and writes Kubernetes Secrets through the API server.
	SecretsBackendKubernetes = "kubernetes"
)

const (
	defaultStoreDir  = ".tasktally-ssh"
	defaultStoreFile = "credentials.yaml"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks so the checks below apply to the real file.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Secrets     SecretsConfig     `yaml:"secrets"`
	Identity    IdentityConfig    `yaml:"identity"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Probe       ProbeConfig       `yaml:"probe"`
	Hosts       HostsConfig       `yaml:"hosts"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Telemetry   *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SecretsConfig selects where credential material lives.
type SecretsConfig struct {
	// Backend is "mounted" or "kubernetes". Empty means mounted.
	Backend string `yaml:"backend,omitempty"`

	// BasePath is the root of mounted secrets, laid out as <basePath>/<secret>/<key>.
	BasePath string `yaml:"basePath,omitempty"`

	Kubernetes *KubernetesConfig `yaml:"kubernetes,omitempty"`
}

// KubernetesConfig locates the Secrets of the kubernetes backend.
type KubernetesConfig struct {
	Namespace string `yaml:"namespace"`

	// Kubeconfig is used when not running in a cluster. Empty uses the default loading rules.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
}

// IdentityConfig controls the ephemeral identities built for every operation.
type IdentityConfig struct {
	// BaseDir holds the per-operation scratch directories. Empty uses the system temp dir.
	BaseDir string `yaml:"baseDir,omitempty"`

	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`

	// User overrides the SSH user of repository URIs.
	User string `yaml:"user,omitempty"`

	// HostKeyPolicy is "strict" (default) or "accept-any".
	HostKeyPolicy string `yaml:"hostKeyPolicy,omitempty"`

	// ScanUnknownHosts scans the remote for host keys when a credential has no known_hosts.
	ScanUnknownHosts bool `yaml:"scanUnknownHosts,omitempty"`
}

// ScannerConfig controls host key scans.
type ScannerConfig struct {
	Port             int           `yaml:"port,omitempty"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout,omitempty"`
	ReadTimeout      time.Duration `yaml:"readTimeout,omitempty"`
	MaxLines         int           `yaml:"maxLines,omitempty"`
	KeyExchangeProbe bool          `yaml:"keyExchangeProbe,omitempty"`
}

// ProbeConfig controls host availability probes.
type ProbeConfig struct {
	Port    int           `yaml:"port,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// HostsConfig restricts the hosts the transport connects to. Patterns are globs where "*"
// matches within one DNS label and "**" across labels.
type HostsConfig struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// CredentialsConfig locates the credential records used by the CLI.
type CredentialsConfig struct {
	// StorePath is the YAML file holding credential records.
	StorePath string `yaml:"storePath,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	switch c.Secrets.GetBackend() {
	case SecretsBackendMounted:
	case SecretsBackendKubernetes:
		if c.Secrets.Kubernetes == nil || c.Secrets.Kubernetes.Namespace == "" {
			errs = append(errs, fmt.Errorf("secrets.kubernetes.namespace is required for the kubernetes backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("secrets.backend must be %q or %q, got %q",
			SecretsBackendMounted, SecretsBackendKubernetes, c.Secrets.Backend))
	}

	if _, err := sshident.ParseHostKeyPolicy(c.Identity.HostKeyPolicy); err != nil {
		errs = append(errs, fmt.Errorf("identity.hostKeyPolicy: %w", err))
	}

	errs = append(errs,
		nonNegative("identity.connectTimeout", c.Identity.ConnectTimeout),
		nonNegative("scanner.connectTimeout", c.Scanner.ConnectTimeout),
		nonNegative("scanner.readTimeout", c.Scanner.ReadTimeout),
		nonNegative("probe.timeout", c.Probe.Timeout),
		validPort("scanner.port", c.Scanner.Port),
		validPort("probe.port", c.Probe.Port),
	)
	if c.Scanner.MaxLines < 0 {
		errs = append(errs, fmt.Errorf("scanner.maxLines must not be negative, got %d", c.Scanner.MaxLines))
	}

	if _, err := c.HostFilter(); err != nil {
		errs = append(errs, fmt.Errorf("hosts: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func nonNegative(field string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", field, d)
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be a TCP port, got %d", field, port)
	}
	return nil
}

// GetBackend returns the secrets backend, using "mounted" if not specified
func (s *SecretsConfig) GetBackend() string {
	if s.Backend == "" {
		return SecretsBackendMounted
	}
	return s.Backend
}

// GetBasePath returns the mounted secrets root, using the default if not specified
func (s *SecretsConfig) GetBasePath() string {
	if s.BasePath == "" {
		return secrets.DefaultBasePath
	}
	return s.BasePath
}

// GetStorePath returns the credential store path, defaulting to
// ~/.tasktally-ssh/credentials.yaml.
func (c *CredentialsConfig) GetStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, defaultStoreDir, defaultStoreFile), nil
}

// HostKeyPolicy returns the parsed host key policy. Validate reports unknown values; here they
// fall back to strict.
func (c *Config) HostKeyPolicy() sshident.HostKeyPolicy {
	policy, err := sshident.ParseHostKeyPolicy(c.Identity.HostKeyPolicy)
	if err != nil {
		return sshident.HostKeyPolicyStrict
	}
	return policy
}

// HostFilter compiles the host patterns. It returns nil when no pattern is configured.
func (c *Config) HostFilter() (*filtering.HostFilter, error) {
	if len(c.Hosts.Include) == 0 && len(c.Hosts.Exclude) == 0 {
		return nil, nil
	}
	return filtering.NewHostFilter(c.Hosts.Include, c.Hosts.Exclude)
}

// ScannerOptions returns the keyscan options for the scanner settings. Zero values keep the
// scanner defaults.
func (c *Config) ScannerOptions() []keyscan.ScannerOption {
	opts := []keyscan.ScannerOption{
		keyscan.WithKeyExchangeProbe(c.Scanner.KeyExchangeProbe),
	}
	if c.Scanner.Port > 0 {
		opts = append(opts, keyscan.WithPort(c.Scanner.Port))
	}
	if c.Scanner.ConnectTimeout > 0 {
		opts = append(opts, keyscan.WithConnectTimeout(c.Scanner.ConnectTimeout))
	}
	if c.Scanner.ReadTimeout > 0 {
		opts = append(opts, keyscan.WithReadTimeout(c.Scanner.ReadTimeout))
	}
	if c.Scanner.MaxLines > 0 {
		opts = append(opts, keyscan.WithMaxLines(c.Scanner.MaxLines))
	}
	return opts
}

// ProberOptions returns the keyscan options for availability probes.
func (c *Config) ProberOptions() []keyscan.ProberOption {
	return []keyscan.ProberOption{
		keyscan.WithProbePort(c.Probe.Port),
		keyscan.WithProbeTimeout(c.Probe.Timeout),
	}
}

// FactoryOptions returns the identity factory options. When ScanUnknownHosts is set, the
// factory scans remotes with the scanner settings for credentials without known_hosts.
func (c *Config) FactoryOptions() []sshident.Option {
	opts := []sshident.Option{
		sshident.WithHostKeyPolicy(c.HostKeyPolicy()),
		sshident.WithConnectTimeout(c.Identity.ConnectTimeout),
	}
	if c.Identity.BaseDir != "" {
		opts = append(opts, sshident.WithBaseDir(c.Identity.BaseDir))
	}
	if c.Identity.User != "" {
		opts = append(opts, sshident.WithUser(c.Identity.User))
	}
	if c.Identity.ScanUnknownHosts {
		opts = append(opts, sshident.WithHostKeySource(sshident.ScannerSource{Options: c.ScannerOptions()}))
	}
	return opts
}
