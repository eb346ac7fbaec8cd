package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ref     string
		want    Ref
		wantErr bool
	}{
		{name: "valid", ref: "k8s:secret/my-secret#id_ed25519", want: Ref{Name: "my-secret", Key: "id_ed25519"}},
		{name: "key with dot", ref: "k8s:secret/s#id_ed25519.pub", want: Ref{Name: "s", Key: "id_ed25519.pub"}},
		{name: "missing key", ref: "k8s:secret/my-secret", wantErr: true},
		{name: "wrong scheme", ref: "vault:secret/x#y", wantErr: true},
		{name: "empty", ref: "", wantErr: true},
		{name: "traversal in name", ref: "k8s:secret/../etc#passwd", wantErr: true},
		{name: "traversal in key", ref: "k8s:secret/x#../../passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ref, got.String())
		})
	}
}

func TestRef_EnvName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MY_SECRET_ID_ED25519", Ref{Name: "my-secret", Key: "id_ed25519"}.EnvName())
	assert.Equal(t, "S_ID_ED25519_PUB", Ref{Name: "s", Key: "id_ed25519.pub"}.EnvName())
}

func TestMountedResolver_File(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "creds"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "creds", "id_ed25519"), []byte("KEY\n"), 0600))

	r := NewMountedResolver(WithBasePath(base), WithEnvLookup(noEnv))
	assert.Equal(t, base, r.BasePath())

	got, err := r.Resolve(context.Background(), "k8s:secret/creds#id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, "KEY\n", string(got), "file content is returned untrimmed")
}

func TestMountedResolver_EnvFallback(t *testing.T) {
	t.Parallel()

	env := map[string]string{"CREDS_PASSPHRASE": "hunter2"}
	r := NewMountedResolver(
		WithBasePath(t.TempDir()),
		WithEnvLookup(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}),
	)

	got, err := r.Resolve(context.Background(), "k8s:secret/creds#passphrase")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))
}

func TestMountedResolver_Errors(t *testing.T) {
	t.Parallel()

	r := NewMountedResolver(WithBasePath(t.TempDir()), WithEnvLookup(noEnv))

	_, err := r.Resolve(context.Background(), "k8s:secret/missing#key")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = r.Resolve(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "k8s:secret/missing#key")
	require.ErrorIs(t, err, context.Canceled)
}

func TestVaultResolver(t *testing.T) {
	t.Parallel()

	_, err := VaultResolver{}.Resolve(context.Background(), "vault:kv/x#y")
	require.ErrorIs(t, err, ErrVaultNotImplemented)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestResolveOptional(t *testing.T) {
	t.Parallel()

	r := NewMountedResolver(WithBasePath(t.TempDir()), WithEnvLookup(noEnv))

	got, err := ResolveOptional(context.Background(), r, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ResolveOptional(context.Background(), r, "k8s:secret/x#y")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
