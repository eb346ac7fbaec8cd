package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/tasktally/tasktally-ssh/internal/errs"
	"github.com/tasktally/tasktally-ssh/internal/sshkey"
)

const testNamespace = "tasktally"

func TestKubernetesResolver_Resolve(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "tasktally-ssh-alice-work", Namespace: testNamespace},
		Data:       map[string][]byte{"id_ed25519": []byte("PRIVATE")},
	})
	r := NewKubernetesResolver(client, testNamespace)
	ctx := context.Background()

	tests := []struct {
		name     string
		ref      string
		want     string
		wantKind errs.Kind
	}{
		{name: "present key", ref: "k8s:secret/tasktally-ssh-alice-work#id_ed25519", want: "PRIVATE"},
		{name: "missing key", ref: "k8s:secret/tasktally-ssh-alice-work#passphrase", wantKind: errs.KindNotFound},
		{name: "missing secret", ref: "k8s:secret/nope#id_ed25519", wantKind: errs.KindNotFound},
		{name: "bad scheme", ref: "vault:secret/x#y", wantKind: errs.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.Resolve(ctx, tt.ref)
			if tt.wantKind != errs.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestKubernetesResolver_APIError(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset()
	client.PrependReactor("get", "secrets", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})

	_, err := NewKubernetesResolver(client, testNamespace).Resolve(context.Background(), "k8s:secret/s#k")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIO))
}

func TestKubernetesWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset()
	w := NewKubernetesWriter(client, testNamespace)
	r := NewKubernetesResolver(client, testNamespace)
	ctx := context.Background()

	refs, err := w.WriteSSHKey(ctx, "Alice", "Work Laptop", KeyMaterial{
		Material: sshkey.Material{
			PrivateKey: []byte("PRIVATE"),
			KnownHosts: []byte("github.com ssh-ed25519 AAAA"),
		},
		PublicKey: []byte("ssh-ed25519 AAAA alice"),
	})
	require.NoError(t, err)
	assert.Equal(t, "k8s:secret/tasktally-ssh-alice-work-laptop#id_ed25519", refs.PrivateKey)
	assert.Empty(t, refs.Passphrase)

	secret, err := client.CoreV1().Secrets(testNamespace).Get(ctx, "tasktally-ssh-alice-work-laptop", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.SecretTypeOpaque, secret.Type)
	assert.Equal(t, "tasktally-ssh", secret.Labels[LabelManagedBy])
	assert.Equal(t, "alice", secret.Labels[LabelUser])
	assert.Len(t, secret.Data, 3)

	kh, err := r.Resolve(ctx, refs.KnownHosts)
	require.NoError(t, err)
	assert.Equal(t, "github.com ssh-ed25519 AAAA\n", string(kh))

	// A second write replaces the Secret.
	refs, err = w.WriteSSHKey(ctx, "Alice", "Work Laptop", KeyMaterial{
		Material: sshkey.Material{PrivateKey: []byte("ROTATED")},
	})
	require.NoError(t, err)
	priv, err := r.Resolve(ctx, refs.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "ROTATED", string(priv))

	require.NoError(t, w.DeleteByRef(ctx, refs.PrivateKey))
	_, err = client.CoreV1().Secrets(testNamespace).Get(ctx, "tasktally-ssh-alice-work-laptop", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err), "secret is deleted with its last key")

	assert.NoError(t, w.DeleteByRef(ctx, refs.PrivateKey), "deleting twice is a no-op")
	assert.NoError(t, w.DeleteByRef(ctx, "file:///etc/passwd"), "foreign schemes are ignored")
}

func TestKubernetesWriter_DeleteKeepsOtherKeys(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset()
	w := NewKubernetesWriter(client, testNamespace)
	ctx := context.Background()

	refs, err := w.WriteSSHKey(ctx, "bob", "ci", KeyMaterial{
		Material: sshkey.Material{PrivateKey: []byte("PRIVATE"), Passphrase: []byte("pw")},
	})
	require.NoError(t, err)

	require.NoError(t, w.DeleteByRef(ctx, refs.Passphrase))

	secret, err := client.CoreV1().Secrets(testNamespace).Get(ctx, "tasktally-ssh-bob-ci", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Contains(t, secret.Data, "id_ed25519")
	assert.NotContains(t, secret.Data, "passphrase")
}

func TestKubernetesWriter_RequiresPrivateKey(t *testing.T) {
	t.Parallel()

	_, err := NewKubernetesWriter(fake.NewSimpleClientset(), testNamespace).
		WriteSSHKey(context.Background(), "bob", "ci", KeyMaterial{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}
