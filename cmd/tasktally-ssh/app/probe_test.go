package app

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktally/tasktally-ssh/internal/keyscan"
)

func listeningPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestWaitForHost(t *testing.T) {
	t.Parallel()

	open := listeningPort(t)
	closed := closedPort(t)

	tests := []struct {
		name    string
		port    int
		wait    time.Duration
		wantErr bool
	}{
		{name: "available without wait", port: open},
		{name: "available with wait", port: open, wait: time.Second},
		{name: "unavailable without wait", port: closed, wantErr: true},
		{name: "unavailable after wait", port: closed, wait: 500 * time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prober := keyscan.NewProber(keyscan.WithProbePort(tt.port), keyscan.WithProbeTimeout(time.Second))
			start := time.Now()
			err := waitForHost(context.Background(), prober, "127.0.0.1", tt.wait)

			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errHostUnavailable))
			if tt.wait > 0 {
				assert.Less(t, time.Since(start), tt.wait+5*time.Second)
			}
		})
	}
}

func TestWaitForHost_BecomesAvailable(t *testing.T) {
	t.Parallel()

	port := closedPort(t)
	ready := make(chan net.Listener, 1)
	go func() {
		time.Sleep(300 * time.Millisecond)
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			close(ready)
			return
		}
		ready <- listener
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	prober := keyscan.NewProber(keyscan.WithProbePort(port), keyscan.WithProbeTimeout(time.Second))
	err := waitForHost(context.Background(), prober, "127.0.0.1", 10*time.Second)

	listener, ok := <-ready
	if !ok {
		t.Skip("port was taken before the listener started")
	}
	_ = listener.Close()
	require.NoError(t, err)
}
