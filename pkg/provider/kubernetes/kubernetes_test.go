package kubernetes_test

import (
	"context"
	"errors"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/google/go-cmp/cmp"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	provk8s "github.com/elderproject/elder-worker/pkg/provider/kubernetes"
)

func meta(ns, name, uid string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Namespace: ns, Name: name, UID: types.UID(uid), Labels: map[string]string{"app": name}}
}

func objects() []runtime.Object {
	return []runtime.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "shop"}},
		&corev1.Node{ObjectMeta: meta("", "node-1", "uid-node-1")},
		&corev1.Service{ObjectMeta: meta("shop", "web", "uid-svc-web"), Spec: corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP}},
		&appsv1.Deployment{ObjectMeta: meta("shop", "web", "uid-deploy-web")},
		&corev1.PersistentVolumeClaim{ObjectMeta: meta("default", "data", "uid-pvc-data")},
	}
}

func factory(cs k8s.Interface) provk8s.ClientFactory {
	return func(*credential.Kubernetes) (k8s.Interface, error) { return cs, nil }
}

var cred = &credential.Kubernetes{Kubeconfig: "unused"}

func TestDiscover(t *testing.T) {
	t.Run("every namespace is listed when scope has none", func(t *testing.T) {
		testee := provk8s.New(provk8s.WithClientFactory(factory(fake.NewSimpleClientset(objects()...))))

		got := map[string]string{}
		for r, err := range testee.Discover(context.Background(), cred, domain.ScopeConfig{}) {
			if err != nil {
				t.Fatal(err)
			}
			got[r.ExternalID] = string(r.Kind) + "@" + r.Scope
		}
		want := map[string]string{
			"uid-node-1":     "entity@cluster",
			"uid-svc-web":    "service@shop",
			"uid-deploy-web": "service@shop",
			"uid-pvc-data":   "datastore@default",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("resources (-want +got):\n%s", diff)
		}
	})

	t.Run("forbidden namespace is a scope error", func(t *testing.T) {
		cs := fake.NewSimpleClientset(objects()...)
		cs.PrependReactor("list", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
			if action.GetNamespace() != "shop" {
				return false, nil, nil
			}
			return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "services"}, "", errors.New("rbac"))
		})
		testee := provk8s.New(provk8s.WithClientFactory(factory(cs)))

		scopeErrs := []string{}
		ids := []string{}
		for r, err := range testee.Discover(context.Background(), cred, domain.ScopeConfig{Namespaces: []string{"shop", "default"}}) {
			var se *domain.ScopeError
			switch {
			case errors.As(err, &se):
				scopeErrs = append(scopeErrs, se.Scope)
			case err != nil:
				t.Fatal(err)
			default:
				ids = append(ids, r.ExternalID)
			}
		}
		if diff := cmp.Diff([]string{"shop"}, scopeErrs); diff != "" {
			t.Errorf("scope errors (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"uid-node-1", "uid-pvc-data"}, ids); diff != "" {
			t.Errorf("resources (-want +got):\n%s", diff)
		}
	})

	t.Run("unauthorized is terminal", func(t *testing.T) {
		cs := fake.NewSimpleClientset(objects()...)
		cs.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewUnauthorized("token expired")
		})
		testee := provk8s.New(provk8s.WithClientFactory(factory(cs)))

		errs := []error{}
		for _, err := range testee.Discover(context.Background(), cred, domain.ScopeConfig{Namespaces: []string{"shop"}}) {
			errs = append(errs, err)
		}
		var apiErr *domain.ProviderAPIError
		if len(errs) != 1 || !errors.As(errs[0], &apiErr) || !apiErr.Auth {
			t.Errorf("errors = %v", errs)
		}
	})

	t.Run("malformed kubeconfig does not leak its content", func(t *testing.T) {
		_, err := provk8s.KubeconfigClient(&credential.Kubernetes{Kubeconfig: "token: s3cr3t\n\tbroken"})
		if err == nil || err.Error() != "kubeconfig is malformed" {
			t.Errorf("error = %v", err)
		}
	})
}
