package keyscan

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds the TCP connect of an availability probe.
const DefaultProbeTimeout = 5 * time.Second

// Prober answers whether a host accepts TCP connections on its SSH port.
type Prober struct {
	port    int
	timeout time.Duration
	dial    DialFunc
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbePort overrides the probed port.
func WithProbePort(port int) ProberOption {
	return func(p *Prober) {
		if port > 0 {
			p.port = port
		}
	}
}

// WithProbeTimeout overrides the connect timeout.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProbeDialer overrides how connections are opened.
func WithProbeDialer(dial DialFunc) ProberOption {
	return func(p *Prober) {
		if dial != nil {
			p.dial = dial
		}
	}
}

// NewProber creates a Prober for port 22 with a 5 second timeout.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		port:    DefaultPort,
		timeout: DefaultProbeTimeout,
		dial:    (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsAvailable reports whether hostname accepted a TCP connection within the timeout. It is a
// reachability hint only; it does not check that the listener speaks SSH.
func (p *Prober) IsAvailable(ctx context.Context, hostname string) bool {
	host := strings.TrimSpace(hostname)
	if host == "" {
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.port)))
	if err != nil {
		slog.Debug("SSH service not available", "host", host, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}
