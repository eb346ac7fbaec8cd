package sshkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a freshly generated SSH key pair.
type KeyPair struct {
	// PrivateKey is an OpenSSH-format PEM block, encrypted when a passphrase was supplied.
	PrivateKey []byte
	// PublicKey is a single authorized_keys line including the comment and trailing newline.
	PublicKey []byte
}

// GenerateKeyPair generates an ED25519 key pair. The private key is encrypted with passphrase
// when it is non-empty.
func GenerateKeyPair(comment string, passphrase []byte) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	defer Wipe(priv)

	var block *pem.Block
	if len(passphrase) > 0 {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, comment, passphrase)
	} else {
		block, err = ssh.MarshalPrivateKey(priv, comment)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("create ssh public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: pem.EncodeToMemory(block),
		PublicKey:  authorizedKeyWithComment(sshPub, comment),
	}, nil
}

// ParseSigner parses a private key, decrypting it with passphrase when one is given.
func ParseSigner(privateKey, passphrase []byte) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// PublicKeyFromPrivate derives the authorized_keys line for privateKey. Encrypted OpenSSH keys
// expose their public half without the passphrase, so passphrase may be nil for those.
func PublicKeyFromPrivate(privateKey, passphrase []byte) ([]byte, error) {
	signer, err := ParseSigner(privateKey, passphrase)
	if err == nil {
		return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
	}

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && missing.PublicKey != nil {
		return ssh.MarshalAuthorizedKey(missing.PublicKey), nil
	}
	return nil, err
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys formatted public key.
func Fingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}

func authorizedKeyWithComment(key ssh.PublicKey, comment string) []byte {
	line := bytes.TrimRight(ssh.MarshalAuthorizedKey(key), "\n")
	if comment != "" {
		line = append(line, ' ')
		line = append(line, comment...)
	}
	return append(line, '\n')
}
