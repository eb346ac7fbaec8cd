package app

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktally/tasktally-ssh/internal/keyscan"
)

func entryFor(host string) keyscan.HostKeyEntry {
	return keyscan.HostKeyEntry{Hostname: host, KeyType: keyscan.KeyTypeED25519, Key: "AAAA" + host}
}

func TestScanAll(t *testing.T) {
	t.Parallel()

	scan := func(_ context.Context, host string) ([]keyscan.HostKeyEntry, error) {
		if host == "down.example.com" {
			return nil, errors.New("connection refused")
		}
		return []keyscan.HostKeyEntry{entryFor(host)}, nil
	}
	hosts := []string{"a.example.com", "down.example.com", "b.example.com"}

	results, err := scanAll(context.Background(), scan, hosts, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down.example.com: connection refused")

	require.Len(t, results, 3)
	assert.Equal(t, []keyscan.HostKeyEntry{entryFor("a.example.com")}, results[0])
	assert.Nil(t, results[1])
	assert.Equal(t, []keyscan.HostKeyEntry{entryFor("b.example.com")}, results[2])

	var buf bytes.Buffer
	require.NoError(t, writeKnownHosts(&buf, results))
	assert.Equal(t,
		"a.example.com ssh-ed25519 AAAAa.example.com\nb.example.com ssh-ed25519 AAAAb.example.com\n",
		buf.String())
}

func TestScanAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	scan := func(_ context.Context, host string) ([]keyscan.HostKeyEntry, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return []keyscan.HostKeyEntry{entryFor(host)}, nil
	}

	hosts := []string{"h1", "h2", "h3", "h4", "h5", "h6"}
	results, err := scanAll(context.Background(), scan, hosts, 2)
	require.NoError(t, err)
	assert.Len(t, results, len(hosts))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestScanAll_NonPositiveConcurrency(t *testing.T) {
	t.Parallel()

	scan := func(_ context.Context, host string) ([]keyscan.HostKeyEntry, error) {
		return []keyscan.HostKeyEntry{entryFor(host)}, nil
	}
	results, err := scanAll(context.Background(), scan, []string{"only"}, 0)
	require.NoError(t, err)
	assert.Len(t, results[0], 1)
}
