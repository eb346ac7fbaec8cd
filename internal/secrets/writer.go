package secrets

//go:generate mockgen -destination=mocks/mock_writer.go -package=mocks -source=writer.go Writer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

const (
	secretNamePrefix = "tasktally-ssh-"

	keyPrivate    = "id_ed25519"
	keyPublic     = "id_ed25519.pub"
	keyPassphrase = "passphrase"
	keyKnownHosts = "known_hosts"

	opWrite = "write_secret"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// KeyMaterial is the SSH material persisted for one credential.
type KeyMaterial struct {
	sshkey.Material
	// PublicKey is optional; generated keys carry it so it never has to be re-derived.
	PublicKey []byte
}

// Refs are the references returned after writing KeyMaterial.
type Refs struct {
	PrivateKey string
	PublicKey  string
	KnownHosts string
	Passphrase string
}

// Writer persists SSH material and hands back references to it.
type Writer interface {
	// WriteSSHKey stores material for the user's named credential.
	WriteSSHKey(ctx context.Context, userID, name string, material KeyMaterial) (Refs, error)

	// DeleteByRef removes the material behind a single reference. Unknown schemes are ignored.
	DeleteByRef(ctx context.Context, ref string) error
}

// MountedWriter writes secrets into the directory layout read by MountedResolver.
type MountedWriter struct {
	basePath string
}

// NewMountedWriter creates a writer rooted at basePath.
func NewMountedWriter(basePath string) *MountedWriter {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &MountedWriter{basePath: basePath}
}

// WriteSSHKey implements Writer.
func (w *MountedWriter) WriteSSHKey(ctx context.Context, userID, name string, material KeyMaterial) (Refs, error) {
	if err := ctx.Err(); err != nil {
		return Refs{}, err
	}
	if len(material.PrivateKey) == 0 {
		return Refs{}, errs.Validation(opWrite, "private key is required")
	}

	secretName := secretNamePrefix + Slug(userID) + "-" + Slug(name)
	dir := filepath.Join(w.basePath, secretName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Refs{}, errs.IO(opWrite, fmt.Errorf("failed to create secret directory: %w", err))
	}

	refs := Refs{}
	files := []struct {
		key  string
		data []byte
		ref  *string
	}{
		{key: keyPrivate, data: material.PrivateKey, ref: &refs.PrivateKey},
		{key: keyPublic, data: ensureNewline(material.PublicKey), ref: &refs.PublicKey},
		{key: keyPassphrase, data: material.Passphrase, ref: &refs.Passphrase},
		{key: keyKnownHosts, data: ensureNewline(material.KnownHosts), ref: &refs.KnownHosts},
	}
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.key), f.data, 0600); err != nil {
			return Refs{}, errs.IO(opWrite, fmt.Errorf("failed to write secret %s: %w", f.key, err))
		}
		*f.ref = Ref{Name: secretName, Key: f.key}.String()
	}

	slog.Debug("Wrote SSH key material", "secret", secretName)
	return refs, nil
}

// DeleteByRef implements Writer.
func (w *MountedWriter) DeleteByRef(_ context.Context, ref string) error {
	if ref == "" || !strings.HasPrefix(ref, RefScheme) {
		return nil
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil
	}
	path := filepath.Join(w.basePath, parsed.Name, parsed.Key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.IO(opWrite, fmt.Errorf("failed to delete secret %s: %w", ref, err))
	}
	// Drop the secret directory once its last key is gone.
	_ = os.Remove(filepath.Join(w.basePath, parsed.Name))
	return nil
}

// PublicKeyRef derives the public key reference stored next to a private key reference.
func PublicKeyRef(privateRef string) (string, bool) {
	parsed, err := ParseRef(privateRef)
	if err != nil || parsed.Key != keyPrivate {
		return "", false
	}
	parsed.Key = keyPublic
	return parsed.String(), true
}

// Slug lower-cases s, strips diacritics and collapses every other non-alphanumeric run to "-".
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(nonAlnum.ReplaceAllString(folded, "-"))
}

func ensureNewline(data []byte) []byte {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return data
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'
	return out
}
