// Package secrets resolves and writes SSH credential material referenced by opaque strings.
//
// References have the form
//
//	k8s:secret/<name>#<key>
//
// and are never interpreted by the transport packages; they are handed to a [Resolver].
//
// [MountedResolver] reads <base>/<name>/<key> from a mounted secret volume and falls back to the
// environment variable NAME_KEY (upper-cased, "-" and "." replaced by "_").
// [VaultResolver] is a placeholder that always reports ErrVaultNotImplemented.
//
// [MountedWriter] is the write side of the same layout. Each credential gets its own
// tasktally-ssh-<user>-<name> directory holding id_ed25519, id_ed25519.pub, passphrase and
// known_hosts, all written 0600.
//
// [KubernetesResolver] and [KubernetesWriter] keep the same references in Kubernetes Secrets of
// one namespace: the Secret is named after the reference and the key selects a data entry.
package secrets
