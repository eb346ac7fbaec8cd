package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

func TestStores(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "state", "credentials.yaml"))
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := newStore(t)
			ctx := context.Background()
			created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			_, found, err := store.Find(ctx, "alice", "work")
			require.NoError(t, err)
			assert.False(t, found)

			for _, n := range []string{"work", "home"} {
				require.NoError(t, store.Put(ctx, "alice", CredentialRef{
					Name: n, Provider: ProviderGitHub, Scope: ScopeWrite,
					SecretRef: "k8s:secret/" + n + "#id_ed25519", CreatedAt: created,
				}))
			}

			got, found, err := store.Find(ctx, "alice", "work")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "k8s:secret/work#id_ed25519", got.SecretRef)
			assert.True(t, created.Equal(got.CreatedAt))

			list, err := store.List(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "home", list[0].Name)

			require.NoError(t, store.Remove(ctx, "alice", "home"))
			require.NoError(t, store.Remove(ctx, "alice", "missing"))

			list, err = store.List(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestFileStore_SharedBetweenInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := NewFileStore(path)
			assert.NoError(t, store.Put(ctx, "alice", CredentialRef{Name: fmt.Sprintf("key-%d", i)}))
		}()
	}
	wg.Wait()

	list, err := NewFileStore(path).List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 8, "no concurrent write is lost")
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alice: [not, a, map"), 0o600))

	_, err := NewFileStore(path).List(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIO))
}

func TestFileStore_CancelledContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	holder := NewFileStore(path)
	require.NoError(t, holder.lock.Lock())
	t.Cleanup(func() { _ = holder.lock.Unlock() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewFileStore(path).Put(ctx, "alice", CredentialRef{Name: "work"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIO))
}
