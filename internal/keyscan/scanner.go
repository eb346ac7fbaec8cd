package keyscan

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/logutil"
)

const (
	// DefaultPort is the SSH port scanned when no other port is configured.
	DefaultPort = 22
	// DefaultConnectTimeout bounds the TCP connect of a scan.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadTimeout bounds every line read during a scan.
	DefaultReadTimeout = 5 * time.Second
	// DefaultMaxLines caps the lines read after the server identification.
	DefaultMaxLines = 50
	// DefaultClientVersion is the identification string sent to the server.
	DefaultClientVersion = "SSH-2.0-OpenSSH_8.9p1"

	// earlyStopLines is how many lines are read before returning once a key has been found.
	earlyStopLines = 10
	// maxLineLength bounds a single line so a peer cannot stream an endless line.
	maxLineLength = 8 * 1024

	opScan = "keyscan"
)

// Recognized host key algorithms.
const (
	KeyTypeRSA       = "ssh-rsa"
	KeyTypeED25519   = "ssh-ed25519"
	KeyTypeECDSA256  = "ecdsa-sha2-nistp256"
	KeyTypeECDSA384  = "ecdsa-sha2-nistp384"
	KeyTypeECDSA521  = "ecdsa-sha2-nistp521"
	KeyTypeDSS       = "ssh-dss"
	keyTypeAlternate = KeyTypeRSA + "|" + KeyTypeED25519 + "|" + KeyTypeECDSA256 + "|" +
		KeyTypeECDSA384 + "|" + KeyTypeECDSA521 + "|" + KeyTypeDSS
)

var (
	hostKeyPattern = regexp.MustCompile(`^(\S+)\s+(` + keyTypeAlternate + `)\s+([A-Za-z0-9+/=]+)\s*$`)

	errBinaryData  = errors.New("binary transport data")
	errLineTooLong = errors.New("line exceeds maximum length")
)

// HostKeyEntry is one public host key advertised by a server.
type HostKeyEntry struct {
	Hostname string
	KeyType  string
	// Key is the base64-encoded wire form of the public key.
	Key string
}

// String formats the entry as a known_hosts line without the trailing newline.
func (e HostKeyEntry) String() string {
	return e.Hostname + " " + e.KeyType + " " + e.Key
}

// PublicKey decodes the entry into an ssh.PublicKey.
func (e HostKeyEntry) PublicKey() (ssh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode host key: %w", err)
	}
	return ssh.ParsePublicKey(raw)
}

// KnownHosts joins entries into known_hosts content with a trailing newline.
func KnownHosts(entries []HostKeyEntry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n") + "\n"
}

// DialFunc opens a network connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Scanner discovers the public host keys of SSH servers.
//
// It reads the unauthenticated identification exchange only and never authenticates. All
// reads are bounded by line count, line length and timeouts.
type Scanner struct {
	port           int
	connectTimeout time.Duration
	readTimeout    time.Duration
	maxLines       int
	clientVersion  string
	kexProbe       bool
	dial           DialFunc
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithPort overrides the scanned port.
func WithPort(port int) ScannerOption {
	return func(s *Scanner) {
		if port > 0 {
			s.port = port
		}
	}
}

// WithConnectTimeout overrides the connect timeout.
func WithConnectTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithReadTimeout overrides the per-line read timeout.
func WithReadTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithMaxLines overrides the line cap.
func WithMaxLines(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.maxLines = n
		}
	}
}

// WithClientVersion overrides the identification string. It must start with "SSH-2.0-".
func WithClientVersion(v string) ScannerOption {
	return func(s *Scanner) {
		if strings.HasPrefix(v, "SSH-2.0-") {
			s.clientVersion = v
		}
	}
}

// WithKeyExchangeProbe enables harvesting keys by starting and aborting a key exchange when the
// server advertises no keys in clear text. Servers that implement the SSH transport protocol
// only reveal their host keys this way.
func WithKeyExchangeProbe(enabled bool) ScannerOption {
	return func(s *Scanner) {
		s.kexProbe = enabled
	}
}

// WithDialer overrides how connections are opened.
func WithDialer(dial DialFunc) ScannerOption {
	return func(s *Scanner) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// NewScanner creates a Scanner with the default bounds.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		port:           DefaultPort,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		maxLines:       DefaultMaxLines,
		clientVersion:  DefaultClientVersion,
		dial:           (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Port returns the port this scanner connects to.
func (s *Scanner) Port() int {
	return s.port
}

// FetchHostKeys returns the host keys advertised by hostname.
func (s *Scanner) FetchHostKeys(ctx context.Context, hostname string) ([]HostKeyEntry, error) {
	host := strings.TrimSpace(hostname)
	if host == "" {
		return nil, errs.Validation(opScan, "hostname is required")
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.port))
	slog.Debug("Fetching SSH host keys", "host", host, "port", s.port)

	entries, err := s.scanAdvertised(ctx, host, addr)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 && s.kexProbe {
		entries = s.probeKeyExchange(ctx, host, addr)
	}
	if len(entries) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, errs.Transport(opScan, host, err)
		}
		return nil, errs.New(errs.KindIO, opScan, host, errors.New("no valid SSH host keys found"))
	}

	slog.Info("Fetched SSH host keys", "host", host, "count", len(entries))
	return entries, nil
}

// FetchKnownHosts returns the host keys of hostname in known_hosts format.
func (s *Scanner) FetchKnownHosts(ctx context.Context, hostname string) (string, error) {
	entries, err := s.FetchHostKeys(ctx, hostname)
	if err != nil {
		return "", err
	}
	return KnownHosts(entries), nil
}

func (s *Scanner) scanAdvertised(ctx context.Context, host, addr string) ([]HostKeyEntry, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, errs.Transport(opScan, host, fmt.Errorf("failed to connect to %s: %w", addr, err))
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(s.readTimeout))
	if _, err := io.WriteString(conn, s.clientVersion+"\r\n"); err != nil {
		return nil, errs.Transport(opScan, host, fmt.Errorf("failed to send identification: %w", err))
	}

	reader := bufio.NewReader(conn)
	banner, err := s.readLine(conn, reader)
	switch {
	case errors.Is(err, errBinaryData), errors.Is(err, errLineTooLong), errors.Is(err, io.EOF):
		return nil, errs.Protocol(opScan, host, fmt.Errorf("invalid SSH server identification: %w", err))
	case err != nil:
		return nil, s.readError(ctx, host, err)
	case !strings.HasPrefix(banner, "SSH-"):
		return nil, errs.Protocol(opScan, host,
			fmt.Errorf("invalid SSH server response: %q", logutil.SanitizeForLog(banner)))
	}
	slog.Debug("Connected to SSH server", "host", host, "banner", logutil.SanitizeForLog(banner))

	var entries []HostKeyEntry
	for lines := 0; lines < s.maxLines; {
		line, err := s.readLine(conn, reader)
		if err != nil {
			if errors.Is(err, errBinaryData) || errors.Is(err, errLineTooLong) {
				slog.Debug("SSH server switched to binary transport", "host", host)
				break
			}
			// Keys already collected survive a later timeout or close.
			if errors.Is(err, io.EOF) || len(entries) > 0 {
				break
			}
			return nil, s.readError(ctx, host, err)
		}
		lines++

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "SSH-") {
			continue
		}

		if m := hostKeyPattern.FindStringSubmatch(trimmed); m != nil {
			if _, err := base64.StdEncoding.DecodeString(m[3]); err != nil {
				slog.Debug("Discarding host key with invalid base64", "host", host, "type", m[2])
			} else {
				entries = append(entries, HostKeyEntry{Hostname: host, KeyType: m[2], Key: m[3]})
				slog.Debug("Found host key", "host", host, "type", m[2])
			}
		}

		if len(entries) > 0 && lines > earlyStopLines {
			break
		}
	}
	return entries, nil
}

// readLine reads one LF-terminated text line under the read timeout. It fails with
// errBinaryData as soon as a byte that cannot appear in a text line arrives.
func (s *Scanner) readLine(conn net.Conn, r *bufio.Reader) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var b strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		switch {
		case c == '\n':
			return strings.TrimSuffix(b.String(), "\r"), nil
		case c < 0x20 && c != '\r' && c != '\t', c == 0x7f:
			return "", errBinaryData
		}
		if b.Len() >= maxLineLength {
			return "", errLineTooLong
		}
		b.WriteByte(c)
	}
}

func (*Scanner) readError(ctx context.Context, host string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.Transport(opScan, host, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Transport(opScan, host, fmt.Errorf("connection timeout: %w", err))
	}
	return errs.Transport(opScan, host, fmt.Errorf("failed to read from server: %w", err))
}
