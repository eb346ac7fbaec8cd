// Package sshtest provides in-process SSH servers and Git fixtures for tests.
package sshtest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewSigner generates an ED25519 signer for use as a host or client key.
func NewSigner(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return signer
}

// NewClientKey generates an ED25519 key and returns its signer and OpenSSH PEM encoding.
func NewClientKey(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return signer, pem.EncodeToMemory(block)
}

// ServerConfig configures an in-process SSH server.
type ServerConfig struct {
	// HostKeys are presented to clients. One ED25519 key is generated when empty.
	HostKeys []ssh.Signer
	// AuthorizedKeys may authenticate. Any key is accepted when empty.
	AuthorizedKeys []ssh.PublicKey
	// ServeGit enables git-upload-pack and git-receive-pack exec requests backed by the
	// git binary.
	ServeGit bool
}

// Server is an in-process SSH server listening on 127.0.0.1.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKeys []ssh.Signer
	serveGit bool

	mu    sync.Mutex
	conns []net.Conn
	execs []string
	done  chan struct{}
}

// StartServer starts an SSH server and stops it when the test ends.
func StartServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	hostKeys := cfg.HostKeys
	if len(hostKeys) == 0 {
		hostKeys = []ssh.Signer{NewSigner(t)}
	}

	authorized := make(map[string]bool, len(cfg.AuthorizedKeys))
	for _, k := range cfg.AuthorizedKeys {
		authorized[ssh.FingerprintSHA256(k)] = true
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if len(authorized) == 0 || authorized[ssh.FingerprintSHA256(key)] {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	for _, k := range hostKeys {
		config.AddHostKey(k)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	s := &Server{
		listener: listener,
		config:   config,
		hostKeys: hostKeys,
		serveGit: cfg.ServeGit,
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP.
func (*Server) Host() string {
	return "127.0.0.1"
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostKeys returns the public host keys.
func (s *Server) HostKeys() []ssh.PublicKey {
	keys := make([]ssh.PublicKey, len(s.hostKeys))
	for i, k := range s.hostKeys {
		keys[i] = k.PublicKey()
	}
	return keys
}

// KnownHosts returns known_hosts content trusting this server's host keys.
func (s *Server) KnownHosts() []byte {
	var b strings.Builder
	for _, k := range s.HostKeys() {
		b.WriteString(knownhosts.Line([]string{s.Addr()}, k))
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// RepoURL returns an ssh:// URL for a repository path served by this server.
func (s *Server) RepoURL(path string) string {
	return "ssh://git@" + net.JoinHostPort(s.Host(), strconv.Itoa(s.Port())) + path
}

// Execs returns the exec commands received so far.
func (s *Server) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

// Close stops the listener and drops open connections.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Server) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		_ = netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		s.mu.Lock()
		s.execs = append(s.execs, payload.Command)
		s.mu.Unlock()

		if req.WantReply {
			_ = req.Reply(true, nil)
		}
		code := s.runExec(ch, payload.Command)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
		return
	}
}

func (s *Server) runExec(ch ssh.Channel, command string) int {
	if !s.serveGit {
		_, _ = fmt.Fprintf(ch.Stderr(), "exec not supported: %s\n", command)
		return 127
	}

	service, path, ok := strings.Cut(command, " ")
	if !ok {
		return 128
	}
	path = strings.Trim(path, "'\"")

	var sub string
	switch service {
	case "git-upload-pack":
		sub = "upload-pack"
	case "git-receive-pack":
		sub = "receive-pack"
	default:
		_, _ = fmt.Fprintf(ch.Stderr(), "unsupported command: %s\n", service)
		return 127
	}

	cmd := exec.CommandContext(context.Background(), "git", sub, path)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 1
	}
	if err := cmd.Start(); err != nil {
		_, _ = fmt.Fprintf(ch.Stderr(), "start %s: %v\n", sub, err)
		return 1
	}
	go func() {
		_, _ = io.Copy(stdin, ch)
		_ = stdin.Close()
	}()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}
