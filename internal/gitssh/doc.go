// Package gitssh runs Git operations over SSH on behalf of a stored credential.
//
// A call to Clone or CommitAndPush goes through the same steps:
//
//  1. the remote URL is parsed and checked against the host filter
//  2. the credential's secret references are resolved; failures are not-found errors
//  3. sshident builds a single-use identity, validating the material and the host keys
//  4. the git operation runs with the identity's auth method
//  5. the identity is closed, wiping key material and removing its scratch directory
//
// Each call gets an operation id that is attached to its log lines and span. Durations are
// recorded through telemetry.TransportMetrics when metrics are configured.
package gitssh
