package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/keyscan"
	"github.com/tasktally/tasktally-ssh/internal/secrets"
	"github.com/tasktally/tasktally-ssh/internal/sshident"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

const (
	opCreate    = "create_credential"
	opGenerate  = "generate_credential"
	opGet       = "get_credential"
	opDelete    = "delete_credential"
	opPublicKey = "public_key"

	defaultCommentPrefix = "task-tally@"
)

// Service manages SSH credentials: it validates material, writes it through a secrets.Writer
// and records the resulting references in a Store.
type Service struct {
	store    Store
	writer   secrets.Writer
	resolver secrets.Resolver
	hostKeys sshident.HostKeySource
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHostKeySource sets where host keys are fetched from when a request names a hostname
// instead of supplying known_hosts. It defaults to a keyscan.Scanner with default options.
func WithHostKeySource(src sshident.HostKeySource) ServiceOption {
	return func(s *Service) {
		if src != nil {
			s.hostKeys = src
		}
	}
}

// NewService creates a Service.
func NewService(store Store, writer secrets.Writer, resolver secrets.Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		writer:   writer,
		resolver: resolver,
		hostKeys: sshident.ScannerSource{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores an imported private key.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*CredentialRef, error) {
	name, provider, err := s.checkNew(ctx, opCreate, userID, req.Name, req.Provider)
	if err != nil {
		return nil, err
	}

	if err := sshkey.ValidatePrivateKey(req.PrivateKey); err != nil {
		return nil, err
	}
	if err := sshkey.ValidatePassphrase(req.Passphrase); err != nil {
		return nil, err
	}
	if _, err := sshkey.ParseSigner(req.PrivateKey, req.Passphrase); err != nil {
		return nil, errs.New(errs.KindValidation, opCreate, "", err)
	}
	knownHosts, err := s.knownHosts(ctx, opCreate, req.KnownHosts, req.Hostname)
	if err != nil {
		return nil, err
	}

	material := sshkey.Material{
		PrivateKey: req.PrivateKey,
		KnownHosts: knownHosts,
		Passphrase: req.Passphrase,
	}
	if err := sshkey.ValidateMaterial(material); err != nil {
		return nil, err
	}

	return s.persist(ctx, opCreate, userID, name, provider, secrets.KeyMaterial{Material: material})
}

// Generate creates an ED25519 key pair and stores it. The public key is stored alongside the
// private key and can be read back with PublicKey.
func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (*CredentialRef, error) {
	name, provider, err := s.checkNew(ctx, opGenerate, userID, req.Name, req.Provider)
	if err != nil {
		return nil, err
	}
	if err := sshkey.ValidatePassphrase(req.Passphrase); err != nil {
		return nil, err
	}
	knownHosts, err := s.knownHosts(ctx, opGenerate, req.KnownHosts, req.Hostname)
	if err != nil {
		return nil, err
	}
	if err := sshkey.ValidateKnownHostsFormat(knownHosts); err != nil {
		return nil, err
	}

	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		comment = defaultCommentPrefix + userID
	}
	pair, err := sshkey.GenerateKeyPair(comment, req.Passphrase)
	if err != nil {
		return nil, errs.IO(opGenerate, err)
	}
	defer sshkey.Wipe(pair.PrivateKey)

	return s.persist(ctx, opGenerate, userID, name, provider, secrets.KeyMaterial{
		Material: sshkey.Material{
			PrivateKey: pair.PrivateKey,
			KnownHosts: knownHosts,
			Passphrase: req.Passphrase,
		},
		PublicKey: pair.PublicKey,
	})
}

// Get returns the user's named credential.
func (s *Service) Get(ctx context.Context, userID, name string) (*CredentialRef, error) {
	name = strings.TrimSpace(name)
	cred, found, err := s.store.Find(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound(opGet, fmt.Errorf("credential %q not found", name))
	}
	return &cred, nil
}

// List returns the user's credentials sorted by name.
func (s *Service) List(ctx context.Context, userID string) ([]CredentialRef, error) {
	return s.store.List(ctx, userID)
}

// Delete removes the credential and the secrets it references. Failures to delete individual
// secrets are logged and do not keep the record alive.
func (s *Service) Delete(ctx context.Context, userID, name string) error {
	cred, err := s.Get(ctx, userID, name)
	if err != nil {
		return err
	}

	refs := []string{cred.SecretRef, cred.KnownHostsRef, cred.PassphraseRef}
	if pub, ok := secrets.PublicKeyRef(cred.SecretRef); ok {
		refs = append(refs, pub)
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.writer.DeleteByRef(ctx, ref); err != nil {
			slog.Warn("Failed to delete credential secret",
				"user", userID, "name", cred.Name, "ref", ref, "error", err)
		}
	}

	if err := s.store.Remove(ctx, userID, cred.Name); err != nil {
		return err
	}
	slog.Info("Deleted SSH credential", "user", userID, "name", cred.Name)
	return nil
}

// PublicKey returns the authorized_keys line for the credential. Stored public keys are
// preferred; otherwise the key is derived from the private key.
func (s *Service) PublicKey(ctx context.Context, userID, name string) ([]byte, error) {
	cred, err := s.Get(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	if ref, ok := secrets.PublicKeyRef(cred.SecretRef); ok {
		if pub, err := s.resolver.Resolve(ctx, ref); err == nil && len(pub) > 0 {
			return pub, nil
		}
	}

	priv, err := s.resolver.Resolve(ctx, cred.SecretRef)
	if err != nil {
		return nil, errs.NotFound(opPublicKey, err)
	}
	defer sshkey.Wipe(priv)

	pass, err := secrets.ResolveOptional(ctx, s.resolver, cred.PassphraseRef)
	if err != nil {
		return nil, errs.NotFound(opPublicKey, err)
	}
	defer sshkey.Wipe(pass)

	pub, err := sshkey.PublicKeyFromPrivate(priv, pass)
	if err != nil {
		return nil, errs.New(errs.KindValidation, opPublicKey, "", err)
	}
	return pub, nil
}

// knownHosts returns supplied when it has content. Otherwise a non-empty hostname is scanned
// for host keys on the default SSH port.
func (s *Service) knownHosts(ctx context.Context, op string, supplied []byte, hostname string) ([]byte, error) {
	if len(strings.TrimSpace(string(supplied))) > 0 {
		return supplied, nil
	}
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return supplied, nil
	}

	entries, err := s.hostKeys.HostKeys(ctx, hostname, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch host keys from %s: %w", hostname, err)
	}
	if len(entries) == 0 {
		return nil, errs.NotFound(op, fmt.Errorf("no host keys found for %s", hostname))
	}
	slog.Debug("Fetched host keys for credential", "host", hostname, "keys", len(entries))
	return []byte(keyscan.KnownHosts(entries)), nil
}

func (s *Service) checkNew(ctx context.Context, op, userID, rawName, rawProvider string) (string, string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", "", errs.Validation(op, "user id is required")
	}
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", "", errs.Validation(op, "credential name is required")
	}
	provider, ok := normalizeProvider(rawProvider)
	if !ok {
		return "", "", errs.Validation(op, "unsupported provider %q", rawProvider)
	}

	_, exists, err := s.store.Find(ctx, userID, name)
	if err != nil {
		return "", "", err
	}
	if exists {
		return "", "", errs.Validation(op, "credential %q already exists", name)
	}
	return name, provider, nil
}

func (s *Service) persist(
	ctx context.Context, op, userID, name, provider string, material secrets.KeyMaterial,
) (*CredentialRef, error) {
	refs, err := s.writer.WriteSSHKey(ctx, userID, name, material)
	if err != nil {
		return nil, err
	}

	cred := CredentialRef{
		Name:          name,
		Provider:      provider,
		Scope:         ScopeWrite,
		SecretRef:     refs.PrivateKey,
		KnownHostsRef: refs.KnownHosts,
		PassphraseRef: refs.Passphrase,
		CreatedAt:     s.now(),
	}
	if err := s.store.Put(ctx, userID, cred); err != nil {
		for _, ref := range []string{refs.PrivateKey, refs.PublicKey, refs.KnownHosts, refs.Passphrase} {
			if ref == "" {
				continue
			}
			if delErr := s.writer.DeleteByRef(ctx, ref); delErr != nil {
				slog.Warn("Failed to remove credential secret after store failure",
					"user", userID, "name", name, "ref", ref, "error", delErr)
			}
		}
		return nil, err
	}

	slog.Info("Stored SSH credential", "op", op, "user", userID, "name", name, "provider", provider)
	return &cred, nil
}
