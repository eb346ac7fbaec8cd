package gitssh

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tasktally/tasktally-ssh/internal/credentials"
	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/filtering"
	"github.com/tasktally/tasktally-ssh/internal/git"
	"github.com/tasktally/tasktally-ssh/internal/keyscan"
	"github.com/tasktally/tasktally-ssh/internal/otel"
	"github.com/tasktally/tasktally-ssh/internal/secrets"
	"github.com/tasktally/tasktally-ssh/internal/sshident"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
	"github.com/tasktally/tasktally-ssh/internal/telemetry"
)

const (
	opClone = "clone"
	opPush  = "push"
	opScan  = "scan"
)

// Service runs Git operations over SSH for a stored credential. Every call resolves the
// credential's material, builds a fresh identity for the remote, runs the operation and
// discards the identity.
type Service struct {
	resolver secrets.Resolver
	factory  *sshident.Factory
	git      git.Client
	scanOpts []keyscan.ScannerOption
	hosts    *filtering.HostFilter
	tracer   trace.Tracer
	metrics  *telemetry.TransportMetrics
}

// Option configures a Service.
type Option func(*Service)

// WithGitClient replaces the go-git backed client.
func WithGitClient(c git.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.git = c
		}
	}
}

// WithScannerOptions configures the scanner used by ScanHostKeys.
func WithScannerOptions(opts ...keyscan.ScannerOption) Option {
	return func(s *Service) {
		s.scanOpts = append(s.scanOpts, opts...)
	}
}

// WithHostFilter restricts the hosts the service connects to.
func WithHostFilter(f *filtering.HostFilter) Option {
	return func(s *Service) {
		s.hosts = f
	}
}

// WithTracer records a span per operation.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithMetrics records operation durations.
func WithMetrics(m *telemetry.TransportMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service resolving material through resolver and building identities
// with factory.
func NewService(resolver secrets.Resolver, factory *sshident.Factory, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		factory:  factory,
		git:      git.NewDefaultGitClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clone shallow-clones branch of uri into dir using cred. An empty branch clones the
// remote's default branch.
func (s *Service) Clone(
	ctx context.Context, cred credentials.CredentialRef, uri, branch, dir string,
) (info *git.RepositoryInfo, err error) {
	ctx, done := s.begin(ctx, opClone, cred, &err)
	defer func() { done(uri) }()

	err = s.withIdentity(ctx, opClone, cred, uri, func(id *sshident.Identity) error {
		method, authErr := id.AuthMethod()
		if authErr != nil {
			return authErr
		}
		info, err = s.git.CloneShallow(ctx, &git.CloneConfig{
			URL:       uri,
			Branch:    branch,
			Directory: dir,
			Auth:      method,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(otel.AttrBranch.String(info.Branch))
	return info, nil
}

// CommitAndPush commits every change in the clone at dir and pushes it to origin using cred.
func (s *Service) CommitAndPush(
	ctx context.Context, cred credentials.CredentialRef, dir, authorName, authorEmail, message string,
) (commit *git.CommitInfo, err error) {
	ctx, done := s.begin(ctx, opPush, cred, &err)

	uri, err := s.git.RemoteURL(dir)
	defer func() { done(uri) }()
	if err != nil {
		return nil, err
	}

	err = s.withIdentity(ctx, opPush, cred, uri, func(id *sshident.Identity) error {
		method, authErr := id.AuthMethod()
		if authErr != nil {
			return authErr
		}
		commit, err = s.git.CommitAndPush(ctx, &git.PushConfig{
			Directory:   dir,
			AuthorName:  authorName,
			AuthorEmail: authorEmail,
			Message:     message,
			Auth:        method,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		otel.AttrBranch.String(commit.Branch),
		otel.AttrPushed.Bool(commit.Pushed),
	)
	return commit, nil
}

// ScanHostKeys returns the host keys advertised by host on port. A zero port uses the
// configured scanner port.
func (s *Service) ScanHostKeys(ctx context.Context, host string, port int) (entries []keyscan.HostKeyEntry, err error) {
	if ok, reason := s.hosts.Allows(host); !ok {
		return nil, errs.Validation(opScan, "host %s is not allowed: %s", host, reason)
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "gitssh.ScanHostKeys",
		trace.WithAttributes(otel.AttrHost.String(host), otel.AttrPort.Int(port)))
	start := time.Now()
	defer func() {
		otel.RecordError(span, err)
		span.SetAttributes(otel.AttrHostKeyCount.Int(len(entries)))
		span.End()
		s.metrics.RecordOperation(ctx, telemetry.OperationScan, host, time.Since(start), err)
		if err == nil {
			s.metrics.RecordScannedKeys(ctx, host, len(entries))
		}
	}()

	opts := slices.Clone(s.scanOpts)
	if port > 0 {
		opts = append(opts, keyscan.WithPort(port))
	}
	return keyscan.NewScanner(opts...).FetchHostKeys(ctx, host)
}

// begin starts the span and returns a function that records the outcome of the operation.
func (s *Service) begin(
	ctx context.Context, op string, cred credentials.CredentialRef, errp *error,
) (context.Context, func(uri string)) {
	opID := uuid.NewString()
	ctx, span := otel.StartSpan(ctx, s.tracer, "gitssh."+op, trace.WithAttributes(
		otel.AttrOperationID.String(opID),
		otel.AttrOperation.String(op),
		otel.AttrCredential.String(cred.Name),
		otel.AttrHostKeyPolicy.String(s.factory.Policy().String()),
	))
	logger := slog.With("operation_id", opID, "operation", op, "credential", cred.Name)
	logger.Debug("Starting git operation")
	start := time.Now()

	return ctx, func(uri string) {
		err := *errp
		elapsed := time.Since(start)
		host := hostOf(uri)
		span.SetAttributes(otel.AttrHost.String(host))
		otel.RecordError(span, err)
		span.End()
		s.metrics.RecordOperation(ctx, metricOperation(op), host, elapsed, err)

		if err != nil {
			logger.Warn("Git operation failed",
				"host", host, "kind", errs.KindOf(err).String(), "duration", elapsed, "error", err)
			return
		}
		logger.Info("Git operation completed", "host", host, "duration", elapsed)
	}
}

// withIdentity resolves cred, checks the host and runs fn with an identity for uri.
func (s *Service) withIdentity(
	ctx context.Context, op string, cred credentials.CredentialRef, uri string, fn func(*sshident.Identity) error,
) error {
	endpoint, err := sshident.ParseEndpoint(uri)
	if err != nil {
		return err
	}
	if ok, reason := s.hosts.Allows(endpoint.Host); !ok {
		return errs.Validation(op, "host %s is not allowed: %s", endpoint.Host, reason)
	}

	material, err := s.resolve(ctx, op, cred)
	if err != nil {
		return err
	}
	defer material.Wipe()

	return s.factory.With(ctx, material, endpoint, fn)
}

// resolve loads the credential's material. Any failure is reported as not found.
func (s *Service) resolve(ctx context.Context, op string, cred credentials.CredentialRef) (sshkey.Material, error) {
	if cred.SecretRef == "" {
		return sshkey.Material{}, errs.NotFound(op, fmt.Errorf("credential %q has no secret reference", cred.Name))
	}

	key, err := s.resolver.Resolve(ctx, cred.SecretRef)
	if err != nil {
		return sshkey.Material{}, notFound(op, cred.Name, "private key", err)
	}
	knownHosts, err := secrets.ResolveOptional(ctx, s.resolver, cred.KnownHostsRef)
	if err != nil {
		sshkey.Wipe(key)
		return sshkey.Material{}, notFound(op, cred.Name, "known_hosts", err)
	}
	passphrase, err := secrets.ResolveOptional(ctx, s.resolver, cred.PassphraseRef)
	if err != nil {
		sshkey.Wipe(key)
		return sshkey.Material{}, notFound(op, cred.Name, "passphrase", err)
	}

	return sshkey.Material{PrivateKey: key, KnownHosts: knownHosts, Passphrase: passphrase}, nil
}

func notFound(op, name, what string, err error) error {
	if errs.Is(err, errs.KindNotFound) {
		return err
	}
	return errs.NotFound(op, fmt.Errorf("failed to resolve %s for credential %q: %w", what, name, err))
}

func metricOperation(op string) string {
	if op == opPush {
		return telemetry.OperationPush
	}
	return telemetry.OperationClone
}

func hostOf(uri string) string {
	if uri == "" {
		return ""
	}
	endpoint, err := sshident.ParseEndpoint(uri)
	if err != nil {
		return ""
	}
	return endpoint.Host
}
