package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/tasktally/tasktally-ssh/internal/config"
	"github.com/tasktally/tasktally-ssh/internal/credentials"
	"github.com/tasktally/tasktally-ssh/internal/git"
	"github.com/tasktally/tasktally-ssh/internal/gitssh"
	"github.com/tasktally/tasktally-ssh/internal/secrets"
	"github.com/tasktally/tasktally-ssh/internal/sshident"
	"github.com/tasktally/tasktally-ssh/internal/telemetry"
	"github.com/tasktally/tasktally-ssh/internal/versions"
)

// environment holds the services a command runs against.
type environment struct {
	cfg         *config.Config
	telemetry   *telemetry.Telemetry
	credentials *credentials.Service
	transport   *gitssh.Service
}

// loadConfig reads the file named by --config. Without one the defaults apply.
func loadConfig() (*config.Config, error) {
	path := viper.GetString(flagConfig)
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Debug("Loaded configuration", "path", path, "secrets_backend", cfg.Secrets.GetBackend())
	return cfg, nil
}

// setupEnvironment loads the configuration and builds the services from it.
func setupEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newEnvironment(ctx, cfg)
}

func newEnvironment(ctx context.Context, cfg *config.Config) (*environment, error) {
	git.IsolateUserSSHConfig()

	resolver, writer, err := secretBackend(cfg)
	if err != nil {
		return nil, err
	}

	storePath, err := cfg.Credentials.GetStorePath()
	if err != nil {
		return nil, err
	}

	hosts, err := cfg.HostFilter()
	if err != nil {
		return nil, fmt.Errorf("invalid host patterns: %w", err)
	}

	telemetryCfg := cfg.Telemetry
	if telemetryCfg != nil && telemetryCfg.ServiceVersion == "" {
		withVersion := *telemetryCfg
		withVersion.ServiceVersion = versions.GetVersionInfo().Version
		telemetryCfg = &withVersion
	}
	tel, err := telemetry.New(ctx, telemetryCfg)
	if err != nil {
		return nil, err
	}

	factory := sshident.NewFactory(cfg.FactoryOptions()...)
	transport := gitssh.NewService(resolver, factory,
		gitssh.WithScannerOptions(cfg.ScannerOptions()...),
		gitssh.WithHostFilter(hosts),
		gitssh.WithTracer(tel.Tracer()),
		gitssh.WithMetrics(tel.Metrics()),
	)

	return &environment{
		cfg:         cfg,
		telemetry:   tel,
		credentials: credentials.NewService(credentials.NewFileStore(storePath), writer, resolver,
			credentials.WithHostKeySource(sshident.HostKeySourceFunc(transport.ScanHostKeys))),
		transport:   transport,
	}, nil
}

// close flushes telemetry. Errors are logged only.
func (e *environment) close(ctx context.Context) {
	if err := e.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}

// secretBackend builds the resolver and writer selected by the configuration.
func secretBackend(cfg *config.Config) (secrets.Resolver, secrets.Writer, error) {
	switch cfg.Secrets.GetBackend() {
	case config.SecretsBackendKubernetes:
		k8s := cfg.Secrets.Kubernetes
		if k8s == nil || k8s.Namespace == "" {
			return nil, nil, fmt.Errorf("secrets.kubernetes.namespace is required for the kubernetes backend")
		}
		client, err := secrets.KubernetesClient(k8s.Kubeconfig)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("Using kubernetes secrets backend", "namespace", k8s.Namespace)
		return secrets.NewKubernetesResolver(client, k8s.Namespace), secrets.NewKubernetesWriter(client, k8s.Namespace), nil
	case config.SecretsBackendMounted:
		base := cfg.Secrets.GetBasePath()
		slog.Debug("Using mounted secrets backend", "base_path", base)
		return secrets.NewMountedResolver(secrets.WithBasePath(base)), secrets.NewMountedWriter(base), nil
	default:
		return nil, nil, fmt.Errorf("unsupported secrets backend %q", cfg.Secrets.Backend)
	}
}

// currentUser returns --user or TASKTALLY_USER.
func currentUser() (string, error) {
	user := strings.TrimSpace(viper.GetString(flagUser))
	if user == "" {
		return "", fmt.Errorf("a user is required: set --user or %s_USER", config.EnvPrefix)
	}
	return user, nil
}
