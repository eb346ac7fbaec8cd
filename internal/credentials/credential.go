package credentials

import (
	"strings"
	"time"
)

// Supported providers.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// ScopeWrite is the only scope credentials are created with.
const ScopeWrite = "write"

// CredentialRef names a user's SSH credential. It holds secret references only, never
// material. Records are immutable once created; they can only be deleted.
type CredentialRef struct {
	Name          string    `json:"name" yaml:"name"`
	Provider      string    `json:"provider" yaml:"provider"`
	Scope         string    `json:"scope" yaml:"scope"`
	SecretRef     string    `json:"secretRef" yaml:"secretRef"`
	KnownHostsRef string    `json:"knownHostsRef,omitempty" yaml:"knownHostsRef,omitempty"`
	PassphraseRef string    `json:"passphraseRef,omitempty" yaml:"passphraseRef,omitempty"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
}

// CreateRequest imports an existing private key.
type CreateRequest struct {
	Name       string
	Provider   string
	PrivateKey []byte
	KnownHosts []byte
	Passphrase []byte
	// Hostname is scanned for host keys when KnownHosts is empty.
	Hostname string
}

// GenerateRequest creates a new ED25519 key pair.
type GenerateRequest struct {
	Name       string
	Provider   string
	KnownHosts []byte
	Passphrase []byte
	// Hostname is scanned for host keys when KnownHosts is empty.
	Hostname string
	// Comment is appended to the public key. It defaults to task-tally@<user>.
	Comment string
}

// normalizeProvider lower-cases p and reports whether it is supported.
func normalizeProvider(p string) (string, bool) {
	provider := strings.ToLower(strings.TrimSpace(p))
	switch provider {
	case ProviderGitHub, ProviderGitLab:
		return provider, true
	default:
		return provider, false
	}
}
