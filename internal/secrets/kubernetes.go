package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	// LabelManagedBy marks Secrets written by KubernetesWriter.
	LabelManagedBy = "app.kubernetes.io/managed-by"
	// LabelUser carries the slug of the owning user.
	LabelUser = "tasktally.io/user"

	managedByValue = "tasktally-ssh"
)

// KubernetesResolver reads "k8s:secret/<name>#<key>" references from Secrets in one namespace.
type KubernetesResolver struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubernetesResolver creates a resolver reading Secrets from namespace.
func NewKubernetesResolver(client kubernetes.Interface, namespace string) *KubernetesResolver {
	return &KubernetesResolver{client: client, namespace: namespace}
}

// Resolve implements Resolver.
func (r *KubernetesResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if r.client == nil {
		return nil, errs.IO(opResolve, fmt.Errorf("kubernetes client not initialized"))
	}

	secret, err := r.client.CoreV1().Secrets(r.namespace).Get(ctx, parsed.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, errs.NotFound(opResolve, fmt.Errorf("secret %s/%s not found", r.namespace, parsed.Name))
	}
	if err != nil {
		return nil, errs.IO(opResolve, fmt.Errorf("failed to get secret %s/%s: %w", r.namespace, parsed.Name, err))
	}

	value, ok := secret.Data[parsed.Key]
	if !ok {
		return nil, errs.NotFound(opResolve, fmt.Errorf("key %q not found in secret %s/%s", parsed.Key, r.namespace, parsed.Name))
	}
	return value, nil
}

// KubernetesWriter stores SSH material as one Opaque Secret per credential.
type KubernetesWriter struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubernetesWriter creates a writer storing Secrets in namespace.
func NewKubernetesWriter(client kubernetes.Interface, namespace string) *KubernetesWriter {
	return &KubernetesWriter{client: client, namespace: namespace}
}

// WriteSSHKey implements Writer. An existing Secret with the same name is replaced.
func (w *KubernetesWriter) WriteSSHKey(ctx context.Context, userID, name string, material KeyMaterial) (Refs, error) {
	if len(material.PrivateKey) == 0 {
		return Refs{}, errs.Validation(opWrite, "private key is required")
	}

	secretName := secretNamePrefix + Slug(userID) + "-" + Slug(name)
	secretName = strings.Trim(secretName, "-")

	refs := Refs{}
	data := make(map[string][]byte)
	entries := []struct {
		key   string
		value []byte
		ref   *string
	}{
		{key: keyPrivate, value: material.PrivateKey, ref: &refs.PrivateKey},
		{key: keyPublic, value: ensureNewline(material.PublicKey), ref: &refs.PublicKey},
		{key: keyPassphrase, value: material.Passphrase, ref: &refs.Passphrase},
		{key: keyKnownHosts, value: ensureNewline(material.KnownHosts), ref: &refs.KnownHosts},
	}
	for _, e := range entries {
		if len(e.value) == 0 {
			continue
		}
		data[e.key] = append([]byte(nil), e.value...)
		*e.ref = Ref{Name: secretName, Key: e.key}.String()
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      secretName,
			Namespace: w.namespace,
			Labels: map[string]string{
				LabelManagedBy: managedByValue,
				LabelUser:      Slug(userID),
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}

	secrets := w.client.CoreV1().Secrets(w.namespace)
	_, err := secrets.Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil {
		return Refs{}, errs.IO(opWrite, fmt.Errorf("failed to write secret %s/%s: %w", w.namespace, secretName, err))
	}

	slog.Debug("Wrote SSH key secret", "namespace", w.namespace, "secret", secretName)
	return refs, nil
}

// DeleteByRef implements Writer. The key is removed from its Secret and the Secret is deleted
// once it holds no keys.
func (w *KubernetesWriter) DeleteByRef(ctx context.Context, ref string) error {
	if ref == "" || !strings.HasPrefix(ref, RefScheme) {
		return nil
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil
	}

	secrets := w.client.CoreV1().Secrets(w.namespace)
	secret, err := secrets.Get(ctx, parsed.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errs.IO(opWrite, fmt.Errorf("failed to get secret %s/%s: %w", w.namespace, parsed.Name, err))
	}
	if _, ok := secret.Data[parsed.Key]; !ok {
		return nil
	}

	delete(secret.Data, parsed.Key)
	if len(secret.Data) == 0 {
		err = secrets.Delete(ctx, parsed.Name, metav1.DeleteOptions{})
	} else {
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil && !apierrors.IsNotFound(err) {
		return errs.IO(opWrite, fmt.Errorf("failed to delete secret %s: %w", ref, err))
	}
	return nil
}

// KubernetesClient builds a clientset, preferring in-cluster configuration and falling back
// to kubeconfig. A non-empty kubeconfig path overrides the default loading rules.
func KubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	config, err := kubernetesConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(config)
}

func kubernetesConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	return kubeConfig.ClientConfig()
}
