package config

import (
	"context"
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/client-go/kubernetes"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// LoadFromConfigMap reads key out of the named ConfigMap and parses it
// exactly as Load does. Each call returns an independent, immutable
// Config snapshot consumed by whatever requests come after it; the
// engine itself never watches for changes, so repeated calls are a
// second transport for the same static load, not the dynamic hot-reload
// the specification excludes.
func LoadFromConfigMap(ctx context.Context, client kubernetes.Interface, namespace, name, key string) (policy.Config, error) {
	cm, err := client.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return policy.Config{}, errors.Join(fmt.Errorf("fetching configmap %s/%s", namespace, name), err)
	}
	raw, ok := cm.Data[key]
	if !ok {
		errs := field.ErrorList{field.NotFound(field.NewPath("data").Key(key), key)}
		return policy.Config{}, fmt.Errorf("configmap %s/%s: %w", namespace, name, errs.ToAggregate())
	}
	return Load([]byte(raw))
}
