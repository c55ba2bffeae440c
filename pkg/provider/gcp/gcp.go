// Package gcp discovers Compute Engine instances, VPC networks and Cloud Storage buckets.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"path"
	"strconv"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/provider"
)

type Provider struct {
	api APIFactory
}

type Option func(*Provider) *Provider

func WithAPIFactory(f APIFactory) Option {
	return func(p *Provider) *Provider {
		p.api = f
		return p
	}
}

func New(options ...Option) *Provider {
	p := &Provider{api: SDKAPI}
	for _, o := range options {
		p = o(p)
	}
	return p
}

var _ provider.Provider = &Provider{}

func (*Provider) Kind() domain.ProviderKind       { return domain.ProviderGCP }
func (*Provider) CredentialKind() credential.Kind { return credential.KindGCP }

// Discover lists resources per project. Without projects in scope, the project of the service account is used.
func (p *Provider) Discover(ctx context.Context, cred credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	c, err := provider.Typed[*credential.GCP](domain.ProviderGCP, cred)
	if err != nil {
		return provider.Failed(err)
	}
	projects := scope.Projects
	if len(projects) == 0 {
		if c.ProjectID == "" {
			return provider.Failed(&domain.ProviderAPIError{
				Provider: string(domain.ProviderGCP), Op: "resolve projects",
				Err: errors.New("no projects in scope, and the service account has no project_id"),
			})
		}
		projects = []string{c.ProjectID}
	}

	return func(yield func(domain.Resource, error) bool) {
		api, err := p.api(ctx, c)
		if err != nil {
			yield(domain.Resource{}, apiError("create clients", err))
			return
		}
		defer api.Close()

		for _, project := range projects {
			if err := ctx.Err(); err != nil {
				yield(domain.Resource{}, err)
				return
			}
			stop, err := discoverProject(ctx, api, project, yield)
			if stop {
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
			if !yield(domain.Resource{}, &domain.ScopeError{Scope: project, Err: err}) {
				return
			}
		}
	}
}

// discoverProject yields resources of a project. stop is true when the consumer stopped.
func discoverProject(ctx context.Context, api API, project string, yield func(domain.Resource, error) bool) (stop bool, err error) {
	for i, err := range api.Instances(ctx, project) {
		if err != nil {
			return false, apiError("compute.instances.aggregatedList", err)
		}
		zone := path.Base(i.GetZone())
		if !yield(domain.Resource{
			ExternalID: strconv.FormatUint(i.GetId(), 10),
			Kind:       domain.KindEntity,
			Type:       "google_compute_instance",
			Name:       i.GetName(),
			Scope:      project,
			Attributes: map[string]any{
				"zone":         zone,
				"machine_type": path.Base(i.GetMachineType()),
				"status":       i.GetStatus(),
				"self_link":    i.GetSelfLink(),
			},
			Tags: copyLabels(i.GetLabels()),
		}, nil) {
			return true, nil
		}
	}

	for n, err := range api.Networks(ctx, project) {
		if err != nil {
			return false, apiError("compute.networks.list", err)
		}
		if !yield(domain.Resource{
			ExternalID: strconv.FormatUint(n.GetId(), 10),
			Kind:       domain.KindNetworking,
			Type:       "google_compute_network",
			Name:       n.GetName(),
			Scope:      project,
			Attributes: map[string]any{
				"auto_create_subnetworks": n.GetAutoCreateSubnetworks(),
				"routing_mode":            n.GetRoutingConfig().GetRoutingMode(),
				"self_link":               n.GetSelfLink(),
			},
			Tags: map[string]string{},
		}, nil) {
			return true, nil
		}
	}

	for b, err := range api.Buckets(ctx, project) {
		if err != nil {
			return false, apiError("storage.buckets.list", err)
		}
		if !yield(domain.Resource{
			ExternalID: fmt.Sprintf("projects/%s/buckets/%s", project, b.Name),
			Kind:       domain.KindDataStore,
			Type:       "google_storage_bucket",
			Name:       b.Name,
			Scope:      project,
			Attributes: map[string]any{
				"location":      b.Location,
				"storage_class": b.StorageClass,
			},
			Tags: copyLabels(b.Labels),
		}, nil) {
			return true, nil
		}
	}
	return false, nil
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	auth := false
	var gerr *googleapi.Error
	var rerr *oauth2.RetrieveError
	switch {
	case errors.As(err, &gerr):
		auth = gerr.Code == http.StatusUnauthorized
	case errors.As(err, &rerr):
		auth = true
	}
	return &domain.ProviderAPIError{Provider: string(domain.ProviderGCP), Op: op, Auth: auth, Err: err}
}

func copyLabels(labels map[string]string) map[string]string {
	m := make(map[string]string, len(labels))
	for k, v := range labels {
		m[k] = v
	}
	return m
}
