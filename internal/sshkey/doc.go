// Package sshkey validates and produces raw SSH credential material.
//
// Validation is pure and runs before any identity is built or any socket is opened:
//
//   - [ValidatePrivateKey] requires 1..10 KiB containing both a BEGIN and an END marker.
//   - [ValidateKnownHosts] caps known_hosts content at 64 KiB; absence is valid.
//   - [ValidatePassphrase] caps passphrases at 256 characters; absence is valid.
//
// All failures are errs.KindValidation.
//
// [GenerateKeyPair] creates ED25519 keys in OpenSSH format, optionally encrypted, and
// [PublicKeyFromPrivate] recovers the authorized_keys line of a stored key.
package sshkey
