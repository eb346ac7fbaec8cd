// Package sshident turns validated SSH credential material into short-lived client identities.
//
// Each [Identity] owns a private scratch directory created with os.MkdirTemp (mode 0700) that
// holds three 0600 files:
//
//	id_key       the private key
//	known_hosts  the host keys trusted for this endpoint
//	ssh_config   a config pinning IdentityFile, UserKnownHostsFile and StrictHostKeyChecking
//
// The go-git auth method returned by [Identity.AuthMethod] is derived from that ssh_config, so
// the same policy applies whether a transport runs in-process or shells out with
// [Identity.SSHCommand]. Nothing under the user's ~/.ssh is consulted.
//
// Host keys are verified strictly by default. When the material carries no known_hosts the
// factory asks its [HostKeySource] (normally a keyscan.Scanner) for keys and fails with a
// not-found error when none is configured. Accepting any host key requires
// [WithHostKeyPolicy]([HostKeyPolicyAcceptAny]) and is logged at WARN level.
//
// Identities are single use: AuthMethod may be called once and Close wipes the in-memory
// buffers and removes the directory. [Factory.With] closes the identity on every exit path.
package sshident
