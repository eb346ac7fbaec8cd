package sshident

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=source.go HostKeySource

import (
	"context"
	"slices"

	"github.com/tasktally/tasktally-ssh/internal/keyscan"
)

// HostKeySource supplies host keys for endpoints whose credentials carry no known_hosts.
type HostKeySource interface {
	// HostKeys returns the keys presented by host on port.
	HostKeys(ctx context.Context, host string, port int) ([]keyscan.HostKeyEntry, error)
}

// HostKeySourceFunc adapts a function to HostKeySource.
type HostKeySourceFunc func(ctx context.Context, host string, port int) ([]keyscan.HostKeyEntry, error)

// HostKeys implements HostKeySource.
func (f HostKeySourceFunc) HostKeys(ctx context.Context, host string, port int) ([]keyscan.HostKeyEntry, error) {
	return f(ctx, host, port)
}

// ScannerSource scans the endpoint with a keyscan.Scanner built from Options.
type ScannerSource struct {
	Options []keyscan.ScannerOption
}

// HostKeys implements HostKeySource.
func (s ScannerSource) HostKeys(ctx context.Context, host string, port int) ([]keyscan.HostKeyEntry, error) {
	opts := append(slices.Clone(s.Options), keyscan.WithPort(port))
	return keyscan.NewScanner(opts...).FetchHostKeys(ctx, host)
}
