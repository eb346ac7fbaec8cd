package keyscan

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/sshtest"
)

// lineServer accepts one connection, waits for the client identification and then writes the
// given lines. When hold is set the connection stays open after the lines are written.
func lineServer(t *testing.T, lines []string, hold bool) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = bufio.NewReader(conn).ReadString('\n')
		for _, l := range lines {
			if _, err := fmt.Fprint(conn, l+"\r\n"); err != nil {
				return
			}
		}
		if hold {
			<-done
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port
}

func testKeyBase64(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(sshtest.NewSigner(t).PublicKey().Marshal())
}

func TestFetchHostKeys_AdvertisedLines(t *testing.T) {
	t.Parallel()

	key := testKeyBase64(t)
	port := lineServer(t, []string{
		"SSH-2.0-TestServer",
		"",
		"ignored free text",
		"127.0.0.1 ssh-ed25519 " + key,
		"127.0.0.1 ssh-rsa AAA",
		"127.0.0.1 ssh-unknown " + key,
	}, false)

	scanner := NewScanner(WithPort(port), WithReadTimeout(2*time.Second))
	entries, err := scanner.FetchHostKeys(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "127.0.0.1", entries[0].Hostname)
	assert.Equal(t, KeyTypeED25519, entries[0].KeyType)
	assert.Equal(t, key, entries[0].Key)

	pub, err := entries[0].PublicKey()
	require.NoError(t, err)
	assert.Equal(t, ssh.KeyAlgoED25519, pub.Type())
}

func TestFetchHostKeys_EarlyStop(t *testing.T) {
	t.Parallel()

	key := testKeyBase64(t)
	lines := []string{"SSH-2.0-TestServer"}
	for i := 0; i < 12; i++ {
		lines = append(lines, "127.0.0.1 ssh-ed25519 "+key)
	}
	// Reading past the early stop would block on the held connection.
	port := lineServer(t, lines, true)

	scanner := NewScanner(WithPort(port), WithReadTimeout(5*time.Second))
	start := time.Now()
	entries, err := scanner.FetchHostKeys(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	assert.Len(t, entries, earlyStopLines+1)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestFetchHostKeys_TimeoutAfterKeyKeepsKeys(t *testing.T) {
	t.Parallel()

	key := testKeyBase64(t)
	port := lineServer(t, []string{"SSH-2.0-TestServer", "127.0.0.1 ssh-ed25519 " + key}, true)

	scanner := NewScanner(WithPort(port), WithReadTimeout(200*time.Millisecond))
	start := time.Now()
	entries, err := scanner.FetchHostKeys(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFetchHostKeys_LineCap(t *testing.T) {
	t.Parallel()

	key := testKeyBase64(t)
	lines := []string{"SSH-2.0-TestServer"}
	for i := 0; i < 5; i++ {
		lines = append(lines, "noise")
	}
	lines = append(lines, "127.0.0.1 ssh-ed25519 "+key)
	port := lineServer(t, lines, true)

	scanner := NewScanner(WithPort(port), WithMaxLines(5), WithReadTimeout(5*time.Second))
	_, err := scanner.FetchHostKeys(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIO))
	assert.Contains(t, err.Error(), "no valid SSH host keys found")
}

func TestFetchHostKeys_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lines    []string
		hold     bool
		wantKind errs.Kind
	}{
		{
			name:     "non-SSH banner",
			lines:    []string{"HTTP/1.1 400 Bad Request"},
			wantKind: errs.KindProtocol,
		},
		{
			name:     "closed before banner",
			lines:    nil,
			wantKind: errs.KindProtocol,
		},
		{
			name:     "silent after banner",
			lines:    []string{"SSH-2.0-TestServer"},
			hold:     true,
			wantKind: errs.KindTransport,
		},
		{
			name:     "silent server",
			lines:    nil,
			hold:     true,
			wantKind: errs.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			port := lineServer(t, tt.lines, tt.hold)
			scanner := NewScanner(WithPort(port), WithReadTimeout(200*time.Millisecond))

			start := time.Now()
			_, err := scanner.FetchHostKeys(context.Background(), "127.0.0.1")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}
}

func TestFetchHostKeys_BlankHostname(t *testing.T) {
	t.Parallel()

	_, err := NewScanner().FetchHostKeys(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestFetchHostKeys_ConnectionRefused(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	_, err = NewScanner(WithPort(port)).FetchHostKeys(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransport))
	assert.Contains(t, err.Error(), "127.0.0.1")
}

func TestFetchHostKeys_CancelledContext(t *testing.T) {
	t.Parallel()

	port := lineServer(t, []string{"SSH-2.0-TestServer"}, true)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewScanner(WithPort(port)).FetchHostKeys(ctx, "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransport))
}

func TestFetchHostKeys_SSHServer(t *testing.T) {
	t.Parallel()

	server := sshtest.StartServer(t, sshtest.ServerConfig{})

	t.Run("binary transport without probe", func(t *testing.T) {
		t.Parallel()

		_, err := NewScanner(WithPort(server.Port())).FetchHostKeys(context.Background(), server.Host())
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindIO))
	})

	t.Run("key exchange probe", func(t *testing.T) {
		t.Parallel()

		scanner := NewScanner(WithPort(server.Port()), WithKeyExchangeProbe(true))
		entries, err := scanner.FetchHostKeys(context.Background(), server.Host())
		require.NoError(t, err)
		require.Len(t, entries, 1)

		pub, err := entries[0].PublicKey()
		require.NoError(t, err)
		assert.Equal(t, server.HostKeys()[0].Marshal(), pub.Marshal())
		assert.Equal(t, KeyTypeED25519, entries[0].KeyType)
		assert.Empty(t, server.Execs())
	})
}

func TestFetchKnownHosts(t *testing.T) {
	t.Parallel()

	key := testKeyBase64(t)
	port := lineServer(t, []string{
		"SSH-2.0-TestServer",
		"127.0.0.1 ssh-ed25519 " + key,
		"127.0.0.1 ecdsa-sha2-nistp256 " + key,
	}, false)

	content, err := NewScanner(WithPort(port)).FetchKnownHosts(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t,
		"127.0.0.1 ssh-ed25519 "+key+"\n127.0.0.1 ecdsa-sha2-nistp256 "+key+"\n",
		content)
}

func TestKnownHosts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []HostKeyEntry
		want    string
	}{
		{name: "empty", entries: nil, want: ""},
		{
			name:    "single",
			entries: []HostKeyEntry{{Hostname: "h", KeyType: KeyTypeRSA, Key: "AAAA"}},
			want:    "h ssh-rsa AAAA\n",
		},
		{
			name: "multiple",
			entries: []HostKeyEntry{
				{Hostname: "h", KeyType: KeyTypeRSA, Key: "AAAA"},
				{Hostname: "h", KeyType: KeyTypeED25519, Key: "BBBB"},
			},
			want: "h ssh-rsa AAAA\nh ssh-ed25519 BBBB\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KnownHosts(tt.entries))
			assert.False(t, strings.HasSuffix(tt.want, "\n\n"))
		})
	}
}

func TestNewScanner_IgnoresInvalidOptions(t *testing.T) {
	t.Parallel()

	s := NewScanner(WithPort(-1), WithMaxLines(0), WithReadTimeout(0), WithClientVersion("bogus"), WithDialer(nil))
	assert.Equal(t, DefaultPort, s.Port())
	assert.Equal(t, DefaultMaxLines, s.maxLines)
	assert.Equal(t, DefaultReadTimeout, s.readTimeout)
	assert.Equal(t, DefaultClientVersion, s.clientVersion)
	assert.NotNil(t, s.dial)
}
