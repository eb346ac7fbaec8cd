// Package credentials manages per-user SSH credential records.
//
// A CredentialRef holds only secret references. Key material is validated, written through a
// secrets.Writer and never kept in the record itself. Records are stored in a Store:
// MemoryStore for tests and services, FileStore for the CLI, where a YAML file guarded by an
// advisory lock is shared between invocations.
package credentials
