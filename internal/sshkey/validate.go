package sshkey

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/ssh"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	// MaxPrivateKeySize is the largest accepted private key, in bytes.
	MaxPrivateKeySize = 10 * 1024
	// MaxKnownHostsSize is the largest accepted known_hosts payload, in bytes.
	MaxKnownHostsSize = 64 * 1024
	// MaxPassphraseLength is the longest accepted passphrase, in characters.
	MaxPassphraseLength = 256

	opValidate = "validate"
)

var (
	beginMarker = []byte("BEGIN")
	endMarker   = []byte("END")
)

// Material is the raw credential material for one SSH identity.
type Material struct {
	PrivateKey []byte
	// KnownHosts is optional. When empty the caller must provide another trust source.
	KnownHosts []byte
	// Passphrase is optional and decrypts PrivateKey.
	Passphrase []byte
}

// ValidatePrivateKey rejects empty or oversized keys and keys without PEM/OpenSSH markers.
func ValidatePrivateKey(key []byte) error {
	if len(key) == 0 {
		return errs.Validation(opValidate, "private key is required")
	}
	if len(key) > MaxPrivateKeySize {
		return errs.Validation(opValidate, "private key exceeds size limit of %d bytes", MaxPrivateKeySize)
	}
	if !bytes.Contains(key, beginMarker) || !bytes.Contains(key, endMarker) {
		return errs.Validation(opValidate, "private key is not in PEM or OpenSSH format")
	}
	return nil
}

// ValidateKnownHosts rejects known_hosts content over the size limit. Absent content is valid.
func ValidateKnownHosts(knownHosts []byte) error {
	if len(knownHosts) > MaxKnownHostsSize {
		return errs.Validation(opValidate, "known_hosts exceeds size limit of %d bytes", MaxKnownHostsSize)
	}
	return nil
}

// ValidateKnownHostsFormat checks that every non-comment line parses as a known_hosts entry.
func ValidateKnownHostsFormat(knownHosts []byte) error {
	if err := ValidateKnownHosts(knownHosts); err != nil {
		return err
	}
	rest := knownHosts
	for {
		var err error
		_, _, _, _, rest, err = ssh.ParseKnownHosts(rest)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errs.Validation(opValidate, "malformed known_hosts: %v", err)
		}
	}
}

// ValidatePassphrase rejects passphrases longer than MaxPassphraseLength characters.
// Absent passphrases are valid.
func ValidatePassphrase(passphrase []byte) error {
	if utf8.RuneCount(passphrase) > MaxPassphraseLength {
		return errs.Validation(opValidate, "passphrase exceeds %d characters", MaxPassphraseLength)
	}
	return nil
}

// ValidateMaterial runs every size and format check on m.
func ValidateMaterial(m Material) error {
	if err := ValidatePrivateKey(m.PrivateKey); err != nil {
		return err
	}
	if err := ValidateKnownHosts(m.KnownHosts); err != nil {
		return err
	}
	return ValidatePassphrase(m.Passphrase)
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	clear(b)
}

// Wipe zeroes every buffer held by m.
func (m *Material) Wipe() {
	Wipe(m.PrivateKey)
	Wipe(m.KnownHosts)
	Wipe(m.Passphrase)
}

// Clone returns a deep copy of m so the copy can be wiped independently.
func (m Material) Clone() Material {
	return Material{
		PrivateKey: bytes.Clone(m.PrivateKey),
		KnownHosts: bytes.Clone(m.KnownHosts),
		Passphrase: bytes.Clone(m.Passphrase),
	}
}
