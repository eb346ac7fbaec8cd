// Package errs defines the tagged error type shared by the SSH and Git transport packages.
//
// Every failure that crosses a component boundary is an *Error carrying a Kind, so callers
// can decide between retrying, surfacing, or failing hard without matching on messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were never tagged.
	KindUnknown Kind = iota
	// KindValidation marks malformed or oversized input. Never retried.
	KindValidation
	// KindNotFound marks a credential, secret or host key that cannot be resolved.
	KindNotFound
	// KindTransport marks connect timeouts, authentication failures, host key
	// verification failures and rejected pushes.
	KindTransport
	// KindProtocol marks a remote that did not speak a recognizable SSH banner.
	KindProtocol
	// KindIO marks local filesystem failures and scans that yielded nothing usable.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is a failure tagged with its Kind and the operation and host it happened on.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "clone" or "keyscan".
	Op string
	// Host is the remote host involved, if any.
	Host string
	Err  error

	hostKeyMismatch bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Host != "" {
		b.WriteString(" (host ")
		b.WriteString(e.Host)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HostKeyMismatch reports whether the remote presented a host key that contradicts the
// trusted known_hosts content.
func (e *Error) HostKeyMismatch() bool {
	return e.hostKeyMismatch
}

// New returns an *Error of the given kind.
func New(kind Kind, op, host string, err error) *Error {
	return &Error{Kind: kind, Op: op, Host: host, Err: err}
}

// Validation returns a KindValidation error with a formatted message.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, "", fmt.Errorf(format, args...))
}

// NotFound wraps err as KindNotFound.
func NotFound(op string, err error) *Error {
	return New(KindNotFound, op, "", err)
}

// Transport wraps err as KindTransport for the given host.
func Transport(op, host string, err error) *Error {
	return New(KindTransport, op, host, err)
}

// HostKeyMismatchError wraps err as a KindTransport error flagged as a host key mismatch.
func HostKeyMismatchError(op, host string, err error) *Error {
	e := New(KindTransport, op, host, err)
	e.hostKeyMismatch = true
	return e
}

// Protocol wraps err as KindProtocol for the given host.
func Protocol(op, host string, err error) *Error {
	return New(KindProtocol, op, host, err)
}

// IO wraps err as KindIO.
func IO(op string, err error) *Error {
	return New(KindIO, op, "", err)
}

// KindOf returns the Kind of the outermost *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsHostKeyMismatch reports whether any *Error in err's chain is flagged as a host key mismatch.
func IsHostKeyMismatch(err error) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.hostKeyMismatch {
			return true
		}
		err = e.Err
	}
	return false
}
