package sshident

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skeema/knownhosts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/keyscan"
	"github.com/tasktally/tasktally-ssh/internal/sshident/mocks"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
	"github.com/tasktally/tasktally-ssh/internal/sshtest"
)

var testEndpoint = Endpoint{Host: "127.0.0.1", Port: 2222}

// fixture returns material trusting hostKey for testEndpoint.
func fixture(t *testing.T, hostKey ssh.PublicKey) sshkey.Material {
	t.Helper()
	_, priv := sshtest.NewClientKey(t)
	return sshkey.Material{
		PrivateKey: priv,
		KnownHosts: []byte(knownhosts.Line([]string{testEndpoint.Address()}, hostKey) + "\n"),
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expected no residue in %s", dir)
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		want    Endpoint
		wantErr bool
	}{
		{name: "scp-like", uri: "git@github.com:acme/tasks.git", want: Endpoint{Host: "github.com", Port: 22, User: "git"}},
		{name: "ssh url with port", uri: "ssh://deploy@git.example.com:2222/acme/tasks.git", want: Endpoint{Host: "git.example.com", Port: 2222, User: "deploy"}},
		{name: "ssh url without user", uri: "ssh://git.example.com/acme/tasks.git", want: Endpoint{Host: "git.example.com", Port: 22}},
		{name: "ipv6", uri: "ssh://git@[::1]:2222/repo.git", want: Endpoint{Host: "::1", Port: 2222, User: "git"}},
		{name: "https rejected", uri: "https://github.com/acme/tasks.git", wantErr: true},
		{name: "local path rejected", uri: "/srv/git/tasks.git", wantErr: true},
		{name: "blank", uri: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseEndpoint(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHostKeyPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    HostKeyPolicy
		wantErr bool
	}{
		{in: "", want: HostKeyPolicyStrict},
		{in: "strict", want: HostKeyPolicyStrict},
		{in: "Accept-Any", want: HostKeyPolicyAcceptAny},
		{in: "yolo", want: HostKeyPolicyStrict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseHostKeyPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactory_New_WritesScopedFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	hostKey := sshtest.NewSigner(t).PublicKey()
	material := fixture(t, hostKey)

	id, err := NewFactory(WithBaseDir(base)).New(context.Background(), material, testEndpoint)
	require.NoError(t, err)

	assert.Equal(t, base, filepath.Dir(id.Dir()))
	assert.True(t, strings.HasPrefix(filepath.Base(id.Dir()), "tasktally-ssh-"))

	info, err := os.Stat(id.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	for _, name := range []string{keyFile, knownHostsFile, configFile} {
		info, err := os.Stat(filepath.Join(id.Dir(), name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
	}

	key, err := os.ReadFile(filepath.Join(id.Dir(), keyFile))
	require.NoError(t, err)
	assert.Equal(t, material.PrivateKey, key)

	config, err := os.ReadFile(id.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(config), "StrictHostKeyChecking yes")
	assert.Contains(t, string(config), "UserKnownHostsFile "+filepath.Join(id.Dir(), knownHostsFile))
	assert.Contains(t, string(config), "User git")
	assert.Equal(t, "ssh -F "+id.ConfigPath(), id.SSHCommand())

	require.NoError(t, id.Close())
	assertEmptyDir(t, base)
	require.NoError(t, id.Close())

	// The caller's buffers are not wiped by Close.
	assert.True(t, strings.Contains(string(material.PrivateKey), "BEGIN"))
}

func TestFactory_New_RejectsInvalidMaterial(t *testing.T) {
	t.Parallel()

	_, priv := sshtest.NewClientKey(t)

	tests := []struct {
		name     string
		material sshkey.Material
		endpoint Endpoint
		wantKind errs.Kind
	}{
		{name: "empty key", material: sshkey.Material{}, endpoint: testEndpoint, wantKind: errs.KindValidation},
		{name: "not a key", material: sshkey.Material{PrivateKey: []byte("hello")}, endpoint: testEndpoint, wantKind: errs.KindValidation},
		{
			name:     "oversized known_hosts",
			material: sshkey.Material{PrivateKey: priv, KnownHosts: make([]byte, sshkey.MaxKnownHostsSize+1)},
			endpoint: testEndpoint,
			wantKind: errs.KindValidation,
		},
		{
			name:     "malformed known_hosts",
			material: sshkey.Material{PrivateKey: priv, KnownHosts: []byte("github.com ssh-ed25519 !!!\n")},
			endpoint: testEndpoint,
			wantKind: errs.KindValidation,
		},
		{name: "blank host", material: sshkey.Material{PrivateKey: priv, KnownHosts: []byte("# none\n")}, endpoint: Endpoint{}, wantKind: errs.KindValidation},
		{name: "no trust source", material: sshkey.Material{PrivateKey: priv}, endpoint: testEndpoint, wantKind: errs.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := t.TempDir()
			_, err := NewFactory(WithBaseDir(base)).New(context.Background(), tt.material, tt.endpoint)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assertEmptyDir(t, base)
		})
	}
}

func TestFactory_New_BaseDirFailure(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	material := fixture(t, sshtest.NewSigner(t).PublicKey())

	_, err := NewFactory(WithBaseDir(missing)).New(context.Background(), material, testEndpoint)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIO))
}

func TestFactory_New_ScannedHostKeys(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	source := mocks.NewMockHostKeySource(ctrl)

	hostKey := sshtest.NewSigner(t).PublicKey()
	entry := keyscan.HostKeyEntry{
		Hostname: "127.0.0.1",
		KeyType:  hostKey.Type(),
		Key:      strings.Fields(knownhosts.Line([]string{"127.0.0.1"}, hostKey))[2],
	}
	source.EXPECT().HostKeys(gomock.Any(), "127.0.0.1", 2222).Return([]keyscan.HostKeyEntry{entry}, nil)

	_, priv := sshtest.NewClientKey(t)
	base := t.TempDir()
	id, err := NewFactory(WithBaseDir(base), WithHostKeySource(source)).
		New(context.Background(), sshkey.Material{PrivateKey: priv}, testEndpoint)
	require.NoError(t, err)
	defer id.Close()

	content, err := os.ReadFile(filepath.Join(id.Dir(), knownHostsFile))
	require.NoError(t, err)
	assert.Equal(t, "[127.0.0.1]:2222 "+entry.KeyType+" "+entry.Key+"\n", string(content))

	auth, err := id.AuthMethod()
	require.NoError(t, err)
	cfg, err := auth.ClientConfig()
	require.NoError(t, err)
	assert.Contains(t, cfg.HostKeyAlgorithms, ssh.KeyAlgoED25519)
}

func TestFactory_New_HostKeySourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entries  []keyscan.HostKeyEntry
		err      error
		wantKind errs.Kind
	}{
		{name: "scan failed", err: errs.Transport("keyscan", "127.0.0.1", errors.New("refused")), wantKind: errs.KindTransport},
		{name: "no keys", entries: nil, wantKind: errs.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			source := mocks.NewMockHostKeySource(ctrl)
			source.EXPECT().HostKeys(gomock.Any(), "127.0.0.1", 2222).Return(tt.entries, tt.err)

			_, priv := sshtest.NewClientKey(t)
			base := t.TempDir()
			_, err := NewFactory(WithBaseDir(base), WithHostKeySource(source)).
				New(context.Background(), sshkey.Material{PrivateKey: priv}, testEndpoint)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assertEmptyDir(t, base)
		})
	}
}

func TestIdentity_AuthMethod_Strict(t *testing.T) {
	t.Parallel()

	hostKey := sshtest.NewSigner(t).PublicKey()
	otherKey := sshtest.NewSigner(t).PublicKey()

	id, err := NewFactory(WithBaseDir(t.TempDir()), WithUser("deploy")).
		New(context.Background(), fixture(t, hostKey), testEndpoint)
	require.NoError(t, err)
	defer id.Close()

	auth, err := id.AuthMethod()
	require.NoError(t, err)
	assert.Equal(t, "ssh-public-keys", auth.Name())
	assert.NotContains(t, auth.String(), "BEGIN")

	cfg, err := auth.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.User)
	assert.Equal(t, DefaultConnectTimeout, cfg.Timeout)
	assert.Equal(t, []string{ssh.KeyAlgoED25519}, cfg.HostKeyAlgorithms)
	require.NotNil(t, cfg.HostKeyCallback)

	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	require.NoError(t, cfg.HostKeyCallback(testEndpoint.Address(), remote, hostKey))

	err = cfg.HostKeyCallback(testEndpoint.Address(), remote, otherKey)
	require.Error(t, err)
	assert.True(t, knownhosts.IsHostKeyChanged(err))
}

func TestIdentity_AuthMethod_UnlistedHost(t *testing.T) {
	t.Parallel()

	material := fixture(t, sshtest.NewSigner(t).PublicKey())
	id, err := NewFactory(WithBaseDir(t.TempDir())).
		New(context.Background(), material, Endpoint{Host: "git.example.com", Port: 22})
	require.NoError(t, err)
	defer id.Close()

	_, err = id.AuthMethod()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestIdentity_AuthMethod_AcceptAny(t *testing.T) {
	t.Parallel()

	_, priv := sshtest.NewClientKey(t)
	id, err := NewFactory(WithBaseDir(t.TempDir()), WithHostKeyPolicy(HostKeyPolicyAcceptAny)).
		New(context.Background(), sshkey.Material{PrivateKey: priv}, testEndpoint)
	require.NoError(t, err)
	defer id.Close()

	config, err := os.ReadFile(id.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(config), "StrictHostKeyChecking no")

	auth, err := id.AuthMethod()
	require.NoError(t, err)
	cfg, err := auth.ClientConfig()
	require.NoError(t, err)

	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	assert.NoError(t, cfg.HostKeyCallback(testEndpoint.Address(), remote, sshtest.NewSigner(t).PublicKey()))
}

func TestIdentity_AuthMethod_Passphrase(t *testing.T) {
	t.Parallel()

	hostKey := sshtest.NewSigner(t).PublicKey()
	pair, err := sshkey.GenerateKeyPair("tasktally", []byte("correct horse"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{name: "correct passphrase", passphrase: "correct horse"},
		{name: "wrong passphrase", passphrase: "battery staple", wantErr: true},
		{name: "missing passphrase", passphrase: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			material := sshkey.Material{
				PrivateKey: pair.PrivateKey,
				KnownHosts: []byte(knownhosts.Line([]string{testEndpoint.Address()}, hostKey)),
				Passphrase: []byte(tt.passphrase),
			}
			id, err := NewFactory(WithBaseDir(t.TempDir())).New(context.Background(), material, testEndpoint)
			require.NoError(t, err)
			defer id.Close()

			_, err = id.AuthMethod()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.KindValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIdentity_SingleUse(t *testing.T) {
	t.Parallel()

	id, err := NewFactory(WithBaseDir(t.TempDir())).
		New(context.Background(), fixture(t, sshtest.NewSigner(t).PublicKey()), testEndpoint)
	require.NoError(t, err)

	_, err = id.AuthMethod()
	require.NoError(t, err)

	_, err = id.AuthMethod()
	require.ErrorIs(t, err, ErrIdentityConsumed)

	require.NoError(t, id.Close())
	_, err = id.AuthMethod()
	require.ErrorIs(t, err, ErrIdentityClosed)
}

func TestFactory_With_ClosesOnEveryPath(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name      string
		fn        func(*Identity) error
		want      error
		wantPanic bool
	}{
		{name: "success", fn: func(*Identity) error { return nil }},
		{name: "failure", fn: func(*Identity) error { return boom }, want: boom},
		{name: "panic", fn: func(*Identity) error { panic("boom") }, wantPanic: true},
		{
			name: "auth method used",
			fn: func(id *Identity) error {
				_, err := id.AuthMethod()
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := t.TempDir()
			material := fixture(t, sshtest.NewSigner(t).PublicKey())
			var seen string
			var recovered any
			err := func() (err error) {
				defer func() { recovered = recover() }()
				return NewFactory(WithBaseDir(base)).With(context.Background(), material, testEndpoint,
					func(id *Identity) error {
						seen = id.Dir()
						_, statErr := os.Stat(seen)
						require.NoError(t, statErr)
						return tt.fn(id)
					})
			}()
			assert.Equal(t, tt.wantPanic, recovered != nil)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
			} else {
				require.NoError(t, err)
			}
			assert.NotEmpty(t, seen)
			assertEmptyDir(t, base)
		})
	}
}

func TestFactory_ConcurrentIdentities(t *testing.T) {
	t.Parallel()

	const n = 16
	base := t.TempDir()
	factory := NewFactory(WithBaseDir(base))

	dirs := make([]string, n)
	materials := make([]sshkey.Material, n)
	for i := range materials {
		materials[i] = fixture(t, sshtest.NewSigner(t).PublicKey())
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return factory.With(context.Background(), materials[i], testEndpoint, func(id *Identity) error {
				dirs[i] = id.Dir()
				key, err := os.ReadFile(filepath.Join(id.Dir(), keyFile))
				if err != nil {
					return err
				}
				if string(key) != string(materials[i].PrivateKey) {
					return errors.New("identity holds another caller's key")
				}
				_, err = id.AuthMethod()
				return err
			})
		})
	}
	require.NoError(t, g.Wait())

	unique := make(map[string]bool, n)
	for _, d := range dirs {
		unique[d] = true
	}
	assert.Len(t, unique, n)
	assertEmptyDir(t, base)
}
