// Package kubernetes discovers nodes, services, deployments and persistent volume claims.
package kubernetes

import (
	"context"
	"errors"
	"iter"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/provider"
)

// ClusterScope is the scope of cluster-wide resources (nodes).
const ClusterScope = "cluster"

const pageSize = 500

// ClientFactory makes a clientset from a credential.
type ClientFactory func(cred *credential.Kubernetes) (kubernetes.Interface, error)

// KubeconfigClient is the ClientFactory reading the kubeconfig in the credential.
func KubeconfigClient(cred *credential.Kubernetes) (kubernetes.Interface, error) {
	conf, err := clientcmd.Load([]byte(cred.Kubeconfig.Reveal()))
	if err != nil {
		// parse errors of kubeconfig may quote it.
		return nil, errors.New("kubeconfig is malformed")
	}
	rest, err := clientcmd.NewDefaultClientConfig(
		*conf, &clientcmd.ConfigOverrides{CurrentContext: cred.Context},
	).ClientConfig()
	if err != nil {
		return nil, err
	}
	rest.UserAgent = "elder-worker"
	return kubernetes.NewForConfig(rest)
}

type Provider struct {
	clients ClientFactory
}

type Option func(*Provider) *Provider

func WithClientFactory(f ClientFactory) Option {
	return func(p *Provider) *Provider {
		p.clients = f
		return p
	}
}

func New(options ...Option) *Provider {
	p := &Provider{clients: KubeconfigClient}
	for _, o := range options {
		p = o(p)
	}
	return p
}

var _ provider.Provider = &Provider{}

func (*Provider) Kind() domain.ProviderKind       { return domain.ProviderKubernetes }
func (*Provider) CredentialKind() credential.Kind { return credential.KindKubernetes }

// Discover lists nodes of the cluster, then namespaced resources of each namespace in scope.
// Without namespaces in scope, every namespace of the cluster is.
func (p *Provider) Discover(ctx context.Context, cred credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	c, err := provider.Typed[*credential.Kubernetes](domain.ProviderKubernetes, cred)
	if err != nil {
		return provider.Failed(err)
	}
	namespaces := scope.Namespaces

	return func(yield func(domain.Resource, error) bool) {
		clientset, err := p.clients(c)
		if err != nil {
			yield(domain.Resource{}, &domain.ProviderAPIError{
				Provider: string(domain.ProviderKubernetes), Op: "create client", Err: err,
			})
			return
		}

		d := &discoverer{clientset: clientset, yield: yield}

		names := namespaces
		if len(names) == 0 {
			if names, err = d.namespaceNames(ctx); err != nil {
				yield(domain.Resource{}, err)
				return
			}
		}

		units := []unit{{scope: ClusterScope, run: d.nodes}}
		for _, ns := range names {
			units = append(units, unit{
				scope: ns,
				run:   func(ctx context.Context) error { return d.namespaced(ctx, ns) },
			})
		}

		for _, u := range units {
			if err := ctx.Err(); err != nil {
				yield(domain.Resource{}, err)
				return
			}
			err := u.run(ctx)
			if d.stopped {
				return
			}
			if err == nil {
				continue
			}
			var apiErr *domain.ProviderAPIError
			if (errors.As(err, &apiErr) && apiErr.Auth) || ctx.Err() != nil {
				yield(domain.Resource{}, err)
				return
			}
			if !yield(domain.Resource{}, &domain.ScopeError{Scope: u.scope, Err: err}) {
				return
			}
		}
	}
}

// unit is a part of discovery which fails on its own.
type unit struct {
	scope string
	run   func(context.Context) error
}

type discoverer struct {
	clientset kubernetes.Interface
	yield     func(domain.Resource, error) bool
	stopped   bool
}

var errStopped = errors.New("consumer stopped")

func (d *discoverer) emit(r domain.Resource) error {
	if !d.yield(r, nil) {
		d.stopped = true
		return errStopped
	}
	return nil
}

func (d *discoverer) namespaceNames(ctx context.Context) ([]string, error) {
	names := []string{}
	opts := metav1.ListOptions{Limit: pageSize}
	for {
		list, err := d.clientset.CoreV1().Namespaces().List(ctx, opts)
		if err != nil {
			return nil, apiError("namespaces.list", err)
		}
		for _, ns := range list.Items {
			names = append(names, ns.Name)
		}
		if list.Continue == "" {
			return names, nil
		}
		opts.Continue = list.Continue
	}
}

func (d *discoverer) nodes(ctx context.Context) error {
	opts := metav1.ListOptions{Limit: pageSize}
	for {
		list, err := d.clientset.CoreV1().Nodes().List(ctx, opts)
		if err != nil {
			return apiError("nodes.list", err)
		}
		for _, n := range list.Items {
			if err := d.emit(domain.Resource{
				ExternalID: string(n.UID),
				Kind:       domain.KindEntity,
				Type:       "kubernetes_node",
				Name:       n.Name,
				Scope:      ClusterScope,
				Attributes: map[string]any{
					"kubelet_version":   n.Status.NodeInfo.KubeletVersion,
					"os_image":          n.Status.NodeInfo.OSImage,
					"architecture":      n.Status.NodeInfo.Architecture,
					"provider_id":       n.Spec.ProviderID,
					"unschedulable":     n.Spec.Unschedulable,
					"creation_time_utc": n.CreationTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
				},
				Tags: copyLabels(n.Labels),
			}); err != nil {
				return err
			}
		}
		if list.Continue == "" {
			return nil
		}
		opts.Continue = list.Continue
	}
}

func (d *discoverer) namespaced(ctx context.Context, ns string) error {
	core := d.clientset.CoreV1()

	opts := metav1.ListOptions{Limit: pageSize}
	for {
		list, err := core.Services(ns).List(ctx, opts)
		if err != nil {
			return apiError("services.list", err)
		}
		for _, s := range list.Items {
			if err := d.emit(domain.Resource{
				ExternalID: string(s.UID),
				Kind:       domain.KindService,
				Type:       "kubernetes_service",
				Name:       s.Namespace + "/" + s.Name,
				Scope:      s.Namespace,
				Attributes: map[string]any{
					"type":       string(s.Spec.Type),
					"cluster_ip": s.Spec.ClusterIP,
				},
				Tags: copyLabels(s.Labels),
			}); err != nil {
				return err
			}
		}
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}

	opts = metav1.ListOptions{Limit: pageSize}
	for {
		list, err := d.clientset.AppsV1().Deployments(ns).List(ctx, opts)
		if err != nil {
			return apiError("deployments.list", err)
		}
		for _, dep := range list.Items {
			replicas := int32(1)
			if dep.Spec.Replicas != nil {
				replicas = *dep.Spec.Replicas
			}
			if err := d.emit(domain.Resource{
				ExternalID: string(dep.UID),
				Kind:       domain.KindService,
				Type:       "kubernetes_deployment",
				Name:       dep.Namespace + "/" + dep.Name,
				Scope:      dep.Namespace,
				Attributes: map[string]any{
					"replicas":       replicas,
					"ready_replicas": dep.Status.ReadyReplicas,
				},
				Tags: copyLabels(dep.Labels),
			}); err != nil {
				return err
			}
		}
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}

	opts = metav1.ListOptions{Limit: pageSize}
	for {
		list, err := core.PersistentVolumeClaims(ns).List(ctx, opts)
		if err != nil {
			return apiError("persistentvolumeclaims.list", err)
		}
		for _, pvc := range list.Items {
			attrs := map[string]any{
				"phase":       string(pvc.Status.Phase),
				"volume_name": pvc.Spec.VolumeName,
			}
			if pvc.Spec.StorageClassName != nil {
				attrs["storage_class"] = *pvc.Spec.StorageClassName
			}
			if q, ok := pvc.Status.Capacity["storage"]; ok {
				attrs["capacity"] = q.String()
			}
			if err := d.emit(domain.Resource{
				ExternalID: string(pvc.UID),
				Kind:       domain.KindDataStore,
				Type:       "kubernetes_persistent_volume_claim",
				Name:       pvc.Namespace + "/" + pvc.Name,
				Scope:      pvc.Namespace,
				Attributes: attrs,
				Tags:       copyLabels(pvc.Labels),
			}); err != nil {
				return err
			}
		}
		if list.Continue == "" {
			return nil
		}
		opts.Continue = list.Continue
	}
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.ProviderAPIError{
		Provider: string(domain.ProviderKubernetes),
		Op:       op,
		Auth:     apierrors.IsUnauthorized(err),
		Err:      err,
	}
}

func copyLabels(labels map[string]string) map[string]string {
	m := make(map[string]string, len(labels))
	for k, v := range labels {
		m[k] = v
	}
	return m
}
