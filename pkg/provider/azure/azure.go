// Package azure discovers resources of Azure subscriptions with Azure Resource Manager.
package azure

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/provider"
)

// Lister lists generic resources of a subscription.
type Lister func(ctx context.Context, subscription string) iter.Seq2[*armresources.GenericResourceExpanded, error]

// ListerFactory makes a Lister authenticated with cred.
type ListerFactory func(cred *credential.Azure) (Lister, error)

// SDKLister is the ListerFactory with the Azure SDK.
func SDKLister(cred *credential.Azure) (Lister, error) {
	tc, err := azidentity.NewClientSecretCredential(cred.TenantID, cred.ClientID, cred.ClientSecret.Reveal(), nil)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, subscription string) iter.Seq2[*armresources.GenericResourceExpanded, error] {
		return func(yield func(*armresources.GenericResourceExpanded, error) bool) {
			client, err := armresources.NewClient(subscription, tc, nil)
			if err != nil {
				yield(nil, err)
				return
			}
			pager := client.NewListPager(nil)
			for pager.More() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					yield(nil, err)
					return
				}
				for _, r := range page.Value {
					if !yield(r, nil) {
						return
					}
				}
			}
		}
	}, nil
}

type Provider struct {
	lister ListerFactory
}

type Option func(*Provider) *Provider

func WithListerFactory(f ListerFactory) Option {
	return func(p *Provider) *Provider {
		p.lister = f
		return p
	}
}

func New(options ...Option) *Provider {
	p := &Provider{lister: SDKLister}
	for _, o := range options {
		p = o(p)
	}
	return p
}

var _ provider.Provider = &Provider{}

func (*Provider) Kind() domain.ProviderKind       { return domain.ProviderAzure }
func (*Provider) CredentialKind() credential.Kind { return credential.KindAzure }

// Discover lists resources of each subscription in scope. Subscriptions are required.
func (p *Provider) Discover(ctx context.Context, cred credential.Credential, scope domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	c, err := provider.Typed[*credential.Azure](domain.ProviderAzure, cred)
	if err != nil {
		return provider.Failed(err)
	}
	if len(scope.Subscriptions) == 0 {
		return provider.Failed(&domain.ProviderAPIError{
			Provider: string(domain.ProviderAzure), Op: "resolve subscriptions",
			Err: errors.New("scope has no subscriptions"),
		})
	}

	return func(yield func(domain.Resource, error) bool) {
		list, err := p.lister(c)
		if err != nil {
			yield(domain.Resource{}, apiError("create credential", err))
			return
		}

		for _, sub := range scope.Subscriptions {
			if err := ctx.Err(); err != nil {
				yield(domain.Resource{}, err)
				return
			}

			var failure error
			for r, err := range list(ctx, sub) {
				if err != nil {
					failure = apiError("resources.list", err)
					break
				}
				if !yield(convert(sub, r), nil) {
					return
				}
			}
			if failure == nil {
				continue
			}

			var apiErr *domain.ProviderAPIError
			if (errors.As(failure, &apiErr) && apiErr.Auth) || ctx.Err() != nil {
				yield(domain.Resource{}, failure)
				return
			}
			if !yield(domain.Resource{}, &domain.ScopeError{Scope: sub, Err: failure}) {
				return
			}
		}
	}
}

func convert(subscription string, r *armresources.GenericResourceExpanded) domain.Resource {
	typ := deref(r.Type)
	tags := make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = deref(v)
	}
	attrs := map[string]any{
		"location": deref(r.Location),
		"kind":     deref(r.Kind),
	}
	if r.SKU != nil {
		attrs["sku"] = deref(r.SKU.Name)
	}
	return domain.Resource{
		// resource ids of ARM are case insensitive.
		ExternalID: strings.ToLower(deref(r.ID)),
		Kind:       kindOf(typ),
		Type:       typ,
		Name:       deref(r.Name),
		Scope:      subscription,
		Attributes: attrs,
		Tags:       tags,
	}
}

var kindsByNamespace = map[string]domain.ResourceKind{
	"microsoft.network":           domain.KindNetworking,
	"microsoft.storage":           domain.KindDataStore,
	"microsoft.sql":               domain.KindDataStore,
	"microsoft.dbforpostgresql":   domain.KindDataStore,
	"microsoft.dbformysql":        domain.KindDataStore,
	"microsoft.documentdb":        domain.KindDataStore,
	"microsoft.cache":             domain.KindDataStore,
	"microsoft.web":               domain.KindService,
	"microsoft.containerservice":  domain.KindService,
	"microsoft.app":               domain.KindService,
	"microsoft.apimanagement":     domain.KindService,
	"microsoft.servicebus":        domain.KindService,
	"microsoft.eventhub":          domain.KindService,
	"microsoft.containerinstance": domain.KindService,
	"microsoft.cognitiveservices": domain.KindService,
	"microsoft.logic":             domain.KindService,
}

// kindOf maps "Namespace/type" to a resource kind. Others (virtual machines, disks, ...) are entities.
func kindOf(typ string) domain.ResourceKind {
	ns, _, _ := strings.Cut(strings.ToLower(typ), "/")
	if k, ok := kindsByNamespace[ns]; ok {
		return k
	}
	return domain.KindEntity
}

func apiError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	auth := false
	var respErr *azcore.ResponseError
	var authErr *azidentity.AuthenticationFailedError
	switch {
	case errors.As(err, &authErr):
		auth = true
	case errors.As(err, &respErr):
		auth = respErr.StatusCode == http.StatusUnauthorized
	}
	return &domain.ProviderAPIError{Provider: string(domain.ProviderAzure), Op: op, Auth: auth, Err: err}
}

func deref[T any](p *T) T {
	if p == nil {
		return *new(T)
	}
	return *p
}
