package keyscan

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// probeAlgorithms are requested one at a time so each host key type the server holds is seen.
var probeAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoRSASHA512,
}

var errHostKeyCaptured = errors.New("host key captured")

// probeKeyExchange starts a key exchange per algorithm and aborts it from the host key
// callback, before any user authentication or session is attempted.
func (s *Scanner) probeKeyExchange(ctx context.Context, host, addr string) []HostKeyEntry {
	var entries []HostKeyEntry
	seen := make(map[string]bool)

	for _, algo := range probeAlgorithms {
		if ctx.Err() != nil {
			break
		}
		key, err := s.captureHostKey(ctx, addr, algo)
		if err != nil {
			slog.Debug("Key exchange probe yielded no key", "host", host, "algorithm", algo, "error", err)
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(key.Marshal())
		if seen[encoded] {
			continue
		}
		seen[encoded] = true
		entries = append(entries, HostKeyEntry{Hostname: host, KeyType: key.Type(), Key: encoded})
		slog.Debug("Found host key via key exchange", "host", host, "type", key.Type())
	}
	return entries
}

func (s *Scanner) captureHostKey(ctx context.Context, addr, algo string) (ssh.PublicKey, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// The whole exchange shares one read budget.
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))

	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User:              "keyscan",
		ClientVersion:     s.clientVersion,
		HostKeyAlgorithms: []string{algo},
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errHostKeyCaptured
		},
	}

	_, _, _, err = ssh.NewClientConn(conn, addr, config)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("handshake completed without a host key")
	}
	return nil, err
}
